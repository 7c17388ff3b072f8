// Package provider talks to the Evolution API gateway that owns the actual
// WhatsApp sessions. The client is stateless apart from its circuit breaker.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

// DefaultWebhookEvents are the events every instance subscribes to on creation.
var DefaultWebhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}

// Config holds the gateway location and credentials.
type Config struct {
	BaseURL string
	APIKey  string
	// WebhookBaseURL is the public URL of this service; instances post events
	// to {WebhookBaseURL}/webhook/evolution/{instanceName}.
	WebhookBaseURL string
	Timeout        time.Duration
	Events         []string
}

// QRPayload is the QR portion of a connect or connection-state response.
type QRPayload struct {
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// InstanceState describes one instance inside a connection-state response.
type InstanceState struct {
	InstanceName string     `json:"instanceName,omitempty"`
	State        string     `json:"state,omitempty"`
	QRCode       *QRPayload `json:"qrcode,omitempty"`
}

// ConnectionState is the connection-state response.
type ConnectionState struct {
	Instance InstanceState `json:"instance"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type webhookSettings struct {
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events"`
}

type createInstanceRequest struct {
	InstanceName  string          `json:"instanceName"`
	Integration   string          `json:"integration"`
	QRCode        bool            `json:"qrcode"`
	Webhook       webhookSettings `json:"webhook"`
	WebhookURL    string          `json:"webhookUrl"`
	WebhookEvents []string        `json:"webhookEvents"`
}

// Client issues create-instance, connect and connection-state calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient builds a Client. Calls fail fast once the gateway has produced
// five consecutive server-side failures, until the breaker half-opens.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultWebhookEvents
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "evolution-api",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
		// Client errors mean the gateway is up, so they don't count against it.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}
}

// BaseURL returns the configured gateway URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// WebhookURL returns the callback URL registered for an instance.
func (c *Client) WebhookURL(instanceName string) string {
	return fmt.Sprintf("%s/webhook/evolution/%s", c.cfg.WebhookBaseURL, url.PathEscape(instanceName))
}

// CreateInstance registers a new instance on the gateway.
func (c *Client) CreateInstance(ctx context.Context, instanceName string) error {
	webhookURL := c.WebhookURL(instanceName)
	body := createInstanceRequest{
		InstanceName: instanceName,
		Integration:  "WHATSAPP-BAILEYS",
		Webhook: webhookSettings{
			URL:    webhookURL,
			Events: c.cfg.Events,
		},
		WebhookURL:    webhookURL,
		WebhookEvents: c.cfg.Events,
	}
	return c.do(ctx, http.MethodPost, "/instance/create", body, nil)
}

// Connect asks the gateway to start a session and return its QR code.
func (c *Client) Connect(ctx context.Context, instanceName string) (*QRPayload, error) {
	var out QRPayload
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(instanceName), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectionState polls the gateway for the instance's current state.
func (c *Client) ConnectionState(ctx context.Context, instanceName string) (*ConnectionState, error) {
	var out ConnectionState
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instanceName), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request through the breaker. Every failure, including a
// malformed body, is reported as model.ErrProviderUnavailable.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var reqBody io.Reader
		if in != nil {
			data, err := json.Marshal(in)
			if err != nil {
				return nil, err
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		}
		if out != nil && len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("malformed response from %s: %w", path, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
