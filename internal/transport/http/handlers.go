package http

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/service"
)

var validate = validator.New()

// Lifecycle is implemented by service.Orchestrator.
type Lifecycle interface {
	Provision(ctx context.Context, req service.ProvisionRequest) (*service.ProvisionResult, error)
	ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error)
	RequestQR(ctx context.Context, locationID string, instanceNumber int) (*service.QRResult, error)
	GetTenant(ctx context.Context, locationID string) (*model.Tenant, error)
}

// Webhooks is implemented by service.WebhookIngestor.
type Webhooks interface {
	Handle(ctx context.Context, instanceName string, ev service.WebhookEvent) service.WebhookResult
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InstanceHandler serves registration, listing and QR requests.
type InstanceHandler struct {
	lifecycle Lifecycle
}

// NewInstanceHandler builds the handler.
func NewInstanceHandler(l Lifecycle) *InstanceHandler {
	return &InstanceHandler{lifecycle: l}
}

// Register handles POST /api/register.
func (h *InstanceHandler) Register(c *fiber.Ctx) error {
	var in RegisterRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "INVALID_BODY", Message: "invalid request body"})
	}
	if err := validate.Struct(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}

	res, err := h.lifecycle.Provision(c.UserContext(), service.ProvisionRequest{
		LocationID:  in.LocationID,
		CompanyName: in.CompanyName,
		Email:       in.Email,
		Count:       in.Instances,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(RegisterResponse{
		Success:    true,
		ClientID:   res.ClientID,
		LocationID: res.LocationID,
		Instances:  res.Instances,
	})
}

// List handles GET /api/instances/:locationId.
func (h *InstanceHandler) List(c *fiber.Ctx) error {
	locationID := c.Params("locationId")
	instances, err := h.lifecycle.ListInstances(c.UserContext(), locationID)
	if err != nil {
		return writeError(c, err)
	}
	tenant, err := h.lifecycle.GetTenant(c.UserContext(), locationID)
	if err != nil {
		return writeError(c, err)
	}
	out := InstancesResponse{Success: true, LocationID: locationID, Instances: make([]InstanceResponse, 0, len(instances))}
	if tenant != nil {
		out.CompanyName = tenant.CompanyName
		out.Email = tenant.Email
	}
	for _, inst := range instances {
		out.Instances = append(out.Instances, toInstanceResponse(inst))
	}
	return c.JSON(out)
}

// RequestQR handles POST /api/instances/:locationId/:number/qr.
func (h *InstanceHandler) RequestQR(c *fiber.Ctx) error {
	number, err := c.ParamsInt("number")
	if err != nil || number < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "VALIDATION", Message: "number must be a positive integer"})
	}
	res, err := h.lifecycle.RequestQR(c.UserContext(), c.Params("locationId"), number)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(QRResponse{
		Success:      true,
		InstanceName: res.InstanceName,
		QRCode:       res.QRCode,
		Status:       res.Status,
	})
}

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	webhooks Webhooks
}

// NewWebhookHandler builds the handler.
func NewWebhookHandler(w Webhooks) *WebhookHandler {
	return &WebhookHandler{webhooks: w}
}

// Evolution handles POST /webhook/evolution/:instanceName. Every well-formed
// event is acknowledged with 200 so the provider does not retry it.
func (h *WebhookHandler) Evolution(c *fiber.Ctx) error {
	var ev service.WebhookEvent
	if err := json.Unmarshal(c.Body(), &ev); err != nil {
		log.Warn().Err(err).Str("instance_name", c.Params("instanceName")).Msg("Malformed webhook body")
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "INVALID_BODY", Message: "invalid webhook body"})
	}
	res := h.webhooks.Handle(c.UserContext(), c.Params("instanceName"), ev)
	return c.JSON(WebhookResponse{Received: true, WebhookResult: res})
}

// HealthHandler reports store connectivity.
type HealthHandler struct {
	store       Pinger
	providerURL string
}

// NewHealthHandler builds the handler.
func NewHealthHandler(store Pinger, providerURL string) *HealthHandler {
	return &HealthHandler{store: store, providerURL: providerURL}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	out := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Evolution: h.providerURL}
	if err := h.store.Ping(ctx); err != nil {
		out.Status = "unhealthy"
		out.Error = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(out)
	}
	return c.JSON(out)
}
