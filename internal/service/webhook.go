package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/monitoring"
)

const EventConnectionUpdate = "connection.update"

// WebhookEvent is the envelope the provider posts for every event.
type WebhookEvent struct {
	Event        string          `json:"event"`
	Instance     string          `json:"instance,omitempty"`
	InstanceName string          `json:"instanceName,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ConnectionData is the data section of a connection.update event.
type ConnectionData struct {
	Instance     string `json:"instance,omitempty"`
	State        string `json:"state"`
	StatusReason int    `json:"statusReason,omitempty"`
	Wuid         string `json:"wuid,omitempty"`
}

// WebhookResult tells the transport what happened to an event. It is
// always acknowledged to the provider.
type WebhookResult struct {
	InstanceName string       `json:"instanceName,omitempty"`
	Applied      bool         `json:"applied"`
	Status       model.Status `json:"status,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// StatusApplier is implemented by Orchestrator.
type StatusApplier interface {
	ApplyConnectionUpdate(ctx context.Context, instanceName, providerState, wuid string) (*model.Instance, error)
}

// WebhookIngestor validates provider events and forwards connection state
// changes. It never asks the provider to retry: unknown instances, invalid
// transitions and store failures are logged and acknowledged.
type WebhookIngestor struct {
	applier StatusApplier
}

// NewWebhookIngestor creates a new WebhookIngestor
func NewWebhookIngestor(applier StatusApplier) *WebhookIngestor {
	return &WebhookIngestor{applier: applier}
}

// Handle processes one event. instanceName comes from the callback URL and
// takes precedence over the name carried in the body.
func (w *WebhookIngestor) Handle(ctx context.Context, instanceName string, ev WebhookEvent) WebhookResult {
	bodyName := strings.TrimSpace(ev.Instance)
	if bodyName == "" {
		bodyName = strings.TrimSpace(ev.InstanceName)
	}
	name := strings.TrimSpace(instanceName)
	if name == "" {
		name = bodyName
	} else if bodyName != "" && bodyName != name {
		log.Warn().Str("instance_name", name).Str("body_instance", bodyName).Msg("Webhook instance mismatch, using callback URL")
	}
	event := normalizeEvent(ev.Event)
	logger := log.With().Str("instance_name", name).Str("event", event).Logger()
	logger.Debug().Msg("Webhook received")

	result := WebhookResult{InstanceName: name}
	if event != EventConnectionUpdate {
		return w.finish(event, result, "ignored", "event not handled")
	}
	if name == "" {
		return w.finish(event, result, "invalid", "missing instance name")
	}

	var data ConnectionData
	if err := json.Unmarshal(ev.Data, &data); err != nil || strings.TrimSpace(data.State) == "" {
		logger.Warn().Err(err).Msg("Malformed connection.update payload")
		return w.finish(event, result, "invalid", "missing connection state")
	}

	inst, err := w.applier.ApplyConnectionUpdate(ctx, name, data.State, data.Wuid)
	switch {
	case errors.Is(err, model.ErrUnknownInstance):
		logger.Warn().Msg("Webhook for unknown instance")
		return w.finish(event, result, "unknown_instance", "unknown instance")
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrStatusConflict):
		logger.Warn().Err(err).Msg("Rejected status transition")
		return w.finish(event, result, "rejected", err.Error())
	case err != nil:
		logger.Error().Err(err).Msg("Failed to apply webhook status")
		return w.finish(event, result, "store_error", "status not persisted")
	}

	logger.Info().Str("status", string(inst.Status)).Msg("Instance status from webhook")
	result.Applied = true
	result.Status = inst.Status
	monitoring.WebhookEvents.WithLabelValues(event, "applied").Inc()
	return result
}

func (w *WebhookIngestor) finish(event string, result WebhookResult, label, reason string) WebhookResult {
	if event != EventConnectionUpdate {
		event = "other"
	}
	monitoring.WebhookEvents.WithLabelValues(event, label).Inc()
	result.Reason = reason
	return result
}

// normalizeEvent maps "CONNECTION_UPDATE" and "connection.update" to the same name.
func normalizeEvent(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), "_", ".")
}
