package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/monitoring"
	"github.com/teresa-solution/whatsapp-instance-service/internal/provider"
	"github.com/teresa-solution/whatsapp-instance-service/internal/qr"
	"github.com/teresa-solution/whatsapp-instance-service/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInstancesPerTenant = 5
	MaxInstancesPerTenant     = 20
	DefaultQRGraceInterval    = 2 * time.Second

	// statusWriteAttempts bounds re-reads after a conditional status write
	// lost a race.
	statusWriteAttempts = 3
)

var validate = validator.New()

// Provider is the subset of the gateway client the orchestrator drives.
type Provider interface {
	CreateInstance(ctx context.Context, instanceName string) error
	Connect(ctx context.Context, instanceName string) (*provider.QRPayload, error)
	ConnectionState(ctx context.Context, instanceName string) (*provider.ConnectionState, error)
}

// Config tunes the orchestrator.
type Config struct {
	InstancesPerTenant int
	QRGraceInterval    time.Duration
}

// ProvisionRequest carries a tenant registration.
type ProvisionRequest struct {
	LocationID  string
	CompanyName string
	Email       string
	// Count overrides Config.InstancesPerTenant when positive.
	Count int
}

// ProvisionedInstance is the per-instance outcome of Provision.
type ProvisionedInstance struct {
	Name            string       `json:"name"`
	Number          int          `json:"number"`
	Status          model.Status `json:"status"`
	ProviderCreated bool         `json:"evolutionCreated"`
	ProviderError   string       `json:"error,omitempty"`
	// Existing is set for instances that were already provisioned.
	Existing bool `json:"existing"`
}

// ProvisionResult is returned by Provision.
type ProvisionResult struct {
	ClientID   uuid.UUID             `json:"clientId"`
	LocationID string                `json:"locationId"`
	Instances  []ProvisionedInstance `json:"instances"`
}

// QRResult is returned by RequestQR.
type QRResult struct {
	InstanceName string       `json:"instanceName"`
	QRCode       string       `json:"qrCode"`
	Status       model.Status `json:"status"`
}

// Orchestrator owns the instance state machine.
type Orchestrator struct {
	store      store.Store
	provider   Provider
	normalizer *qr.Normalizer
	cfg        Config
	locks      *tenantLocks
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(st store.Store, p Provider, n *qr.Normalizer, cfg Config) *Orchestrator {
	if cfg.InstancesPerTenant <= 0 {
		cfg.InstancesPerTenant = DefaultInstancesPerTenant
	}
	if cfg.QRGraceInterval <= 0 {
		cfg.QRGraceInterval = DefaultQRGraceInterval
	}
	if n == nil {
		n = qr.NewNormalizer(qr.DefaultSize)
	}
	return &Orchestrator{
		store:      st,
		provider:   p,
		normalizer: n,
		cfg:        cfg,
		locks:      newTenantLocks(),
		sleep:      sleepContext,
	}
}

// Provision registers a tenant and creates whichever of its instances do not
// exist yet. Provider failures are recorded per instance and never abort the
// batch; only store failures are returned as errors.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	count := req.Count
	if count <= 0 {
		count = o.cfg.InstancesPerTenant
	}
	if err := validateProvisionRequest(req, count); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { monitoring.ProvisioningDuration.Observe(time.Since(start).Seconds()) }()

	unlock := o.locks.lock(req.LocationID)
	defer unlock()

	logger := log.With().Str("location_id", req.LocationID).Logger()
	logger.Info().Int("instances", count).Msg("Registering client")

	tenantID, err := o.store.UpsertTenant(ctx, req.LocationID, req.CompanyName, req.Email)
	if err != nil {
		return nil, fmt.Errorf("upsert tenant: %w", err)
	}

	// Existence is checked row by row against the store itself; listings may
	// be served from a cache that lags behind recent writes.
	var missing []int
	for n := 1; n <= count; n++ {
		inst, err := o.store.GetInstance(ctx, model.InstanceName(req.LocationID, n))
		if err != nil {
			return nil, fmt.Errorf("get instance: %w", err)
		}
		if inst == nil {
			missing = append(missing, n)
		}
	}

	providerErrs := o.createRemote(ctx, req.LocationID, missing)

	// Inserts run one at a time, in number order, under the tenant lock.
	created := make(map[int]bool, len(missing))
	for i, n := range missing {
		inst := &model.Instance{
			TenantID:        tenantID,
			LocationID:      req.LocationID,
			InstanceName:    model.InstanceName(req.LocationID, n),
			InstanceNumber:  n,
			Status:          model.StatusCreated,
			ProviderCreated: providerErrs[i] == nil,
		}
		if providerErrs[i] != nil {
			inst.ProviderError = model.StringPtr(providerErrs[i].Error())
		}
		err := o.store.InsertInstance(ctx, inst)
		if errors.Is(err, model.ErrDuplicateInstance) {
			logger.Warn().Str("instance_name", inst.InstanceName).Msg("Instance appeared concurrently, keeping existing row")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert instance %s: %w", inst.InstanceName, err)
		}
		created[n] = true
	}

	// The result covers instances 1..count only, even when the tenant was
	// provisioned with a larger count before.
	result := &ProvisionResult{ClientID: tenantID, LocationID: req.LocationID, Instances: make([]ProvisionedInstance, 0, count)}
	failed := 0
	for n := 1; n <= count; n++ {
		inst, err := o.store.GetInstance(ctx, model.InstanceName(req.LocationID, n))
		if err != nil {
			return nil, fmt.Errorf("get instance: %w", err)
		}
		if inst == nil {
			return nil, model.NewStoreError("read back instance", fmt.Errorf("%w: %s", model.ErrUnknownInstance, model.InstanceName(req.LocationID, n)))
		}
		pi := ProvisionedInstance{
			Name:            inst.InstanceName,
			Number:          inst.InstanceNumber,
			Status:          inst.Status,
			ProviderCreated: inst.ProviderCreated,
			Existing:        !created[n],
		}
		if inst.ProviderError != nil {
			pi.ProviderError = *inst.ProviderError
		}
		if created[n] && !inst.ProviderCreated {
			failed++
		}
		result.Instances = append(result.Instances, pi)
	}

	if failed > 0 {
		monitoring.Alert("instances created without provider registration", map[string]string{
			"location_id": req.LocationID,
			"failed":      strconv.Itoa(failed),
		})
	}
	logger.Info().Int("created", len(created)).Int("provider_failures", failed).Msg("Client registered")
	return result, nil
}

// createRemote calls create-instance for each number concurrently and
// returns the per-call errors in the same order.
func (o *Orchestrator) createRemote(ctx context.Context, locationID string, numbers []int) []error {
	errs := make([]error, len(numbers))
	if len(numbers) == 0 {
		return errs
	}

	var g errgroup.Group
	g.SetLimit(len(numbers))
	for i, n := range numbers {
		i, n := i, n
		g.Go(func() error {
			name := model.InstanceName(locationID, n)
			if err := o.provider.CreateInstance(ctx, name); err != nil {
				log.Error().Err(err).Str("instance_name", name).Msg("Error creating instance on provider")
				monitoring.InstancesProvisioned.WithLabelValues("provider_failed").Inc()
				errs[i] = err
				return nil
			}
			log.Info().Str("instance_name", name).Msg("Instance created on provider")
			monitoring.InstancesProvisioned.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ListInstances returns a tenant's instances ordered by number. Unknown
// tenants yield an empty list.
func (o *Orchestrator) ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error) {
	return o.store.ListInstances(ctx, locationID)
}

// GetTenant returns the registration details of a tenant, or nil when the
// location was never registered.
func (o *Orchestrator) GetTenant(ctx context.Context, locationID string) (*model.Tenant, error) {
	return o.store.GetTenant(ctx, locationID)
}

// RequestQR obtains a QR code for an instance and moves it to qr_ready. On
// any failure the stored instance is left untouched, so retrying is safe.
func (o *Orchestrator) RequestQR(ctx context.Context, locationID string, instanceNumber int) (*QRResult, error) {
	name := model.InstanceName(locationID, instanceNumber)
	logger := log.With().Str("instance_name", name).Logger()

	inst, err := o.store.GetInstance(ctx, name)
	if err != nil {
		return nil, err
	}
	if inst == nil || inst.LocationID != locationID {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownInstance, name)
	}
	if !model.CanTransition(inst.Status, model.StatusQRReady) {
		return nil, fmt.Errorf("%w: instance %s is %s", model.ErrInvalidTransition, name, inst.Status)
	}

	logger.Info().Msg("Generating QR")
	code, source, err := o.acquireQR(ctx, name)
	if err != nil {
		monitoring.QRRequests.WithLabelValues("failed", source).Inc()
		logger.Error().Err(err).Msg("Error getting QR")
		return nil, err
	}

	if err := o.persistQR(ctx, inst, code); err != nil {
		outcome := "store_failed"
		if errors.Is(err, model.ErrInvalidTransition) {
			outcome = "rejected"
		}
		monitoring.QRRequests.WithLabelValues(outcome, source).Inc()
		logger.Warn().Err(err).Msg("QR not stored")
		return nil, err
	}
	monitoring.QRRequests.WithLabelValues("success", source).Inc()
	logger.Info().Str("source", source).Msg("QR ready")

	return &QRResult{InstanceName: name, QRCode: code, Status: model.StatusQRReady}, nil
}

// persistQR stores code and moves the instance to qr_ready, provided nobody
// changed its status since it was read. When the status did change, the
// transition is checked again against the fresh row.
func (o *Orchestrator) persistQR(ctx context.Context, inst *model.Instance, code string) error {
	var err error
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		err = o.store.UpdateQR(ctx, inst.LocationID, inst.InstanceNumber, code, inst.Status, model.StatusQRReady)
		if !errors.Is(err, model.ErrStatusConflict) {
			break
		}
		fresh, gerr := o.store.GetInstance(ctx, inst.InstanceName)
		if gerr != nil {
			return fmt.Errorf("persist qr: %w", gerr)
		}
		if fresh == nil {
			return fmt.Errorf("%w: %s", model.ErrUnknownInstance, inst.InstanceName)
		}
		if !model.CanTransition(fresh.Status, model.StatusQRReady) {
			return fmt.Errorf("%w: instance %s became %s", model.ErrInvalidTransition, inst.InstanceName, fresh.Status)
		}
		inst = fresh
	}
	if err != nil {
		return fmt.Errorf("persist qr: %w", err)
	}
	return nil
}

// ApplyStatus maps a provider connection state onto the instance. Unmapped
// states are stored verbatim and logged rather than rejected.
func (o *Orchestrator) ApplyStatus(ctx context.Context, instanceName, providerState string) (*model.Instance, error) {
	logger := log.With().Str("instance_name", instanceName).Str("provider_state", providerState).Logger()

	var err error
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		var inst *model.Instance
		inst, err = o.store.GetInstance(ctx, instanceName)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownInstance, instanceName)
		}

		target, mapped := model.MapProviderState(providerState)
		if !mapped {
			logger.Warn().Str("status", string(inst.Status)).Msg("Unmapped provider state, storing as received")
			target = model.Status(providerState)
		} else {
			// A pending report while a QR is on screen changes nothing.
			if inst.Status == model.StatusQRReady && target == model.StatusConnecting {
				return inst, nil
			}
			if target == inst.Status {
				return inst, nil
			}
			if !model.CanTransition(inst.Status, target) {
				return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, inst.Status, target)
			}
		}

		err = o.store.UpdateStatus(ctx, instanceName, inst.Status, target)
		if errors.Is(err, model.ErrStatusConflict) {
			logger.Debug().Int("attempt", attempt+1).Msg("Status changed concurrently, re-reading")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		logger.Info().Str("from", string(inst.Status)).Str("to", string(target)).Msg("Instance status updated")
		inst.Status = target
		return inst, nil
	}
	return nil, fmt.Errorf("update status: %w", err)
}

// ApplyConnectionUpdate applies a connection state and, once the instance is
// open, records the WhatsApp number it connected with.
func (o *Orchestrator) ApplyConnectionUpdate(ctx context.Context, instanceName, providerState, wuid string) (*model.Instance, error) {
	inst, err := o.ApplyStatus(ctx, instanceName, providerState)
	if err != nil {
		return nil, err
	}
	phone := phoneFromJID(wuid)
	if inst.Status != model.StatusOpen || phone == "" {
		return inst, nil
	}
	if err := o.store.SetPhoneNumber(ctx, instanceName, phone); err != nil {
		return nil, fmt.Errorf("set phone number: %w", err)
	}
	inst.PhoneNumber = model.StringPtr(phone)
	return inst, nil
}

// phoneFromJID turns "5511999999999:12@s.whatsapp.net" into "5511999999999".
func phoneFromJID(jid string) string {
	jid = strings.TrimSpace(jid)
	if idx := strings.IndexAny(jid, "@:"); idx >= 0 {
		jid = jid[:idx]
	}
	return jid
}

func validateProvisionRequest(req ProvisionRequest, count int) error {
	if strings.TrimSpace(req.LocationID) == "" {
		return fmt.Errorf("%w: locationId is required", model.ErrInvalidInput)
	}
	if strings.ContainsAny(req.LocationID, "/ \t\r\n") {
		return fmt.Errorf("%w: locationId must not contain whitespace or '/'", model.ErrInvalidInput)
	}
	if req.Email != "" {
		if err := validate.Var(req.Email, "email"); err != nil {
			return fmt.Errorf("%w: invalid email format", model.ErrInvalidInput)
		}
	}
	if count > MaxInstancesPerTenant {
		return fmt.Errorf("%w: at most %d instances per tenant", model.ErrInvalidInput, MaxInstancesPerTenant)
	}
	return nil
}

// tenantLocks hands out one mutex per location id, dropping it once unused.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[string]*tenantLock)}
}

func (t *tenantLocks) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &tenantLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
