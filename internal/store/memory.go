package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

var _ Store = (*MemoryStore)(nil)

type locationSlot struct {
	location string
	number   int
}

// MemoryStore keeps tenants and instances for the lifetime of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]*model.Tenant   // by location id
	instances map[string]*model.Instance // by instance name
	slots     map[locationSlot]string    // (location, number) -> instance name
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*model.Tenant),
		instances: make(map[string]*model.Instance),
		slots:     make(map[locationSlot]string),
		now:       time.Now,
	}
}

func (s *MemoryStore) UpsertTenant(ctx context.Context, locationID, companyName, email string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if t, ok := s.tenants[locationID]; ok {
		t.CompanyName = companyName
		t.Email = email
		t.UpdatedAt = now
		return t.ID, nil
	}

	t := &model.Tenant{
		ID:          uuid.New(),
		LocationID:  locationID,
		CompanyName: companyName,
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tenants[locationID] = t
	return t.ID, nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, locationID string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[locationID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) InsertInstance(ctx context.Context, inst *model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasTenant(inst.TenantID) {
		return model.NewStoreError("insert instance", fmt.Errorf("tenant %s does not exist", inst.TenantID))
	}
	slot := locationSlot{inst.LocationID, inst.InstanceNumber}
	if _, ok := s.instances[inst.InstanceName]; ok {
		return model.ErrDuplicateInstance
	}
	if _, ok := s.slots[slot]; ok {
		return model.ErrDuplicateInstance
	}

	now := s.now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.Status == "" {
		inst.Status = model.StatusCreated
	}
	s.instances[inst.InstanceName] = inst.Clone()
	s.slots[slot] = inst.InstanceName
	return nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, instanceName string) (*model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.instances[instanceName].Clone(), nil
}

func (s *MemoryStore) ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*model.Instance, 0)
	for _, inst := range s.instances {
		if inst.LocationID == locationID {
			list = append(list, inst.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].InstanceNumber < list[j].InstanceNumber
	})
	return list, nil
}

func (s *MemoryStore) UpdateQR(ctx context.Context, locationID string, instanceNumber int, qrCode string, from, to model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.slots[locationSlot{locationID, instanceNumber}]
	if !ok {
		return model.ErrUnknownInstance
	}
	inst := s.instances[name]
	if inst.Status != from {
		return model.ErrStatusConflict
	}
	inst.QRCode = model.StringPtr(qrCode)
	inst.Status = to
	inst.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, instanceName string, from, to model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceName]
	if !ok {
		return model.ErrUnknownInstance
	}
	if inst.Status != from {
		return model.ErrStatusConflict
	}
	inst.Status = to
	inst.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetPhoneNumber(ctx context.Context, instanceName, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceName]
	if !ok {
		return model.ErrUnknownInstance
	}
	inst.PhoneNumber = model.StringPtr(phoneNumber)
	inst.UpdatedAt = s.now()
	return nil
}

// hasTenant mirrors the tenant foreign key of the durable schema. Callers hold mu.
func (s *MemoryStore) hasTenant(id uuid.UUID) bool {
	for _, t := range s.tenants {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
