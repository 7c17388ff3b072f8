package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/service"
)

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	LocationID  string `json:"locationId" validate:"required"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email" validate:"omitempty,email"`
	// Instances overrides the configured number of instances per tenant.
	Instances int `json:"instances" validate:"omitempty,min=1,max=20"`
}

// RegisterResponse is returned by POST /api/register.
type RegisterResponse struct {
	Success    bool                          `json:"success"`
	ClientID   uuid.UUID                     `json:"clientId"`
	LocationID string                        `json:"locationId"`
	Instances  []service.ProvisionedInstance `json:"instances"`
}

// InstanceResponse is one row of GET /api/instances/:locationId.
type InstanceResponse struct {
	InstanceName     string       `json:"instanceName"`
	InstanceNumber   int          `json:"instanceNumber"`
	Status           model.Status `json:"status"`
	QRCode           *string      `json:"qrCode,omitempty"`
	PhoneNumber      *string      `json:"phoneNumber,omitempty"`
	EvolutionCreated bool         `json:"evolutionCreated"`
	Error            *string      `json:"error,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// InstancesResponse is returned by GET /api/instances/:locationId.
type InstancesResponse struct {
	Success     bool               `json:"success"`
	LocationID  string             `json:"locationId"`
	CompanyName string             `json:"companyName,omitempty"`
	Email       string             `json:"email,omitempty"`
	Instances   []InstanceResponse `json:"instances"`
}

// QRResponse is returned by POST /api/instances/:locationId/:number/qr.
type QRResponse struct {
	Success      bool         `json:"success"`
	InstanceName string       `json:"instanceName"`
	QRCode       string       `json:"qrCode"`
	Status       model.Status `json:"status"`
}

// WebhookResponse acknowledges every provider event.
type WebhookResponse struct {
	Received bool `json:"received"`
	service.WebhookResult
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Evolution string    `json:"evolution,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func toInstanceResponse(inst *model.Instance) InstanceResponse {
	return InstanceResponse{
		InstanceName:     inst.InstanceName,
		InstanceNumber:   inst.InstanceNumber,
		Status:           inst.Status,
		QRCode:           inst.QRCode,
		PhoneNumber:      inst.PhoneNumber,
		EvolutionCreated: inst.ProviderCreated,
		Error:            inst.ProviderError,
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
	}
}
