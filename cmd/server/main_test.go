package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookPattern(t *testing.T) {
	got := webhookPattern("https://hooks.example.com")
	assert.Equal(t, "https://hooks.example.com/webhook/evolution/:instanceName", got)
	assert.NotContains(t, got, "%7B")
}
