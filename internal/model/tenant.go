package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant represents the tenants table
type Tenant struct {
	ID             uuid.UUID `json:"id"`
	LocationID     string    `json:"locationId"`
	CompanyName    string    `json:"companyName"`
	Email          string    `json:"email"` // Plaintext (transient in the durable store)
	EncryptedEmail []byte    `json:"-"`     // Stored in DB
	EmailIV        []byte    `json:"-"`     // Stored in DB
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Instance represents the instances table
type Instance struct {
	TenantID        uuid.UUID `json:"tenantId"`
	LocationID      string    `json:"locationId"`
	InstanceName    string    `json:"instanceName"`
	InstanceNumber  int       `json:"instanceNumber"`
	Status          Status    `json:"status"`
	QRCode          *string   `json:"qrCode"`
	PhoneNumber     *string   `json:"phoneNumber"`
	ProviderCreated bool      `json:"providerCreated"`
	ProviderError   *string   `json:"providerError,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share nullable fields with a store.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.QRCode = cloneString(i.QRCode)
	c.PhoneNumber = cloneString(i.PhoneNumber)
	c.ProviderError = cloneString(i.ProviderError)
	return &c
}

const instanceNameSeparator = "_wa_"

// InstanceName derives the provider-side name of the n-th instance of a tenant.
func InstanceName(locationID string, number int) string {
	return fmt.Sprintf("%s%s%d", locationID, instanceNameSeparator, number)
}

// ParseInstanceName splits an instance name back into location id and number.
func ParseInstanceName(name string) (string, int, bool) {
	idx := strings.LastIndex(name, instanceNameSeparator)
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(name[idx+len(instanceNameSeparator):])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return name[:idx], n, true
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
