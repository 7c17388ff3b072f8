package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

// Store is the persistence port for tenants and their instances. Every
// backend must report the same error conditions: model.ErrDuplicateInstance
// on a second insert of the same name or (location, number) pair,
// model.ErrUnknownInstance when an update matches no row,
// model.ErrStatusConflict when a conditional status write finds another
// status than the one expected, and a *model.StoreError for anything
// backend-specific. Inserting an instance for a tenant that was never
// upserted is a *model.StoreError.
type Store interface {
	UpsertTenant(ctx context.Context, locationID, companyName, email string) (uuid.UUID, error)
	GetTenant(ctx context.Context, locationID string) (*model.Tenant, error)

	InsertInstance(ctx context.Context, inst *model.Instance) error
	GetInstance(ctx context.Context, instanceName string) (*model.Instance, error)
	// ListInstances returns the tenant's instances ordered by number; never nil.
	ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error)

	// UpdateQR and UpdateStatus only write when the stored status still equals from.
	UpdateQR(ctx context.Context, locationID string, instanceNumber int, qrCode string, from, to model.Status) error
	UpdateStatus(ctx context.Context, instanceName string, from, to model.Status) error
	SetPhoneNumber(ctx context.Context, instanceName, phoneNumber string) error

	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)
