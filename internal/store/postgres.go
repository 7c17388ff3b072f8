package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teresa-solution/whatsapp-instance-service/internal/crypto"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

var _ Store = (*PostgresStore)(nil)

const instanceColumns = `tenant_id, location_id, instance_name, instance_number, status, qr_code,
	phone_number, provider_created, provider_error, created_at, updated_at`

// PostgresStore handles database operations for tenants and instances
type PostgresStore struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
// A nil cipher stores contact emails unencrypted.
func NewPostgresStore(ctx context.Context, dsn string, cipher *crypto.Cipher) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, cipher: cipher}, nil
}

// Close closes the database connection pool
func (r *PostgresStore) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return model.NewStoreError("ping", r.pool.Ping(ctx))
}

func (r *PostgresStore) UpsertTenant(ctx context.Context, locationID, companyName, email string) (uuid.UUID, error) {
	var encryptedEmail, emailIV []byte
	plainEmail := email
	if r.cipher != nil && email != "" {
		var err error
		encryptedEmail, emailIV, err = r.cipher.Encrypt(email)
		if err != nil {
			return uuid.Nil, model.NewStoreError("encrypt email", err)
		}
		plainEmail = ""
	}

	query := `
		INSERT INTO tenants (id, location_id, company_name, email, encrypted_email, email_iv, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (location_id) DO UPDATE
		SET company_name = EXCLUDED.company_name,
		    email = EXCLUDED.email,
		    encrypted_email = EXCLUDED.encrypted_email,
		    email_iv = EXCLUDED.email_iv,
		    updated_at = EXCLUDED.updated_at
		RETURNING id`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		uuid.New(), locationID, companyName, plainEmail, encryptedEmail, emailIV, time.Now(),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, model.NewStoreError("upsert tenant", err)
	}
	return id, nil
}

func (r *PostgresStore) GetTenant(ctx context.Context, locationID string) (*model.Tenant, error) {
	query := `
		SELECT id, location_id, company_name, email, encrypted_email, email_iv, created_at, updated_at
		FROM tenants WHERE location_id = $1`
	t := &model.Tenant{}
	err := r.pool.QueryRow(ctx, query, locationID).Scan(
		&t.ID, &t.LocationID, &t.CompanyName, &t.Email, &t.EncryptedEmail, &t.EmailIV, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("get tenant", err)
	}

	// Decrypt email if encrypted
	if r.cipher != nil && len(t.EncryptedEmail) > 0 && len(t.EmailIV) > 0 {
		email, err := r.cipher.Decrypt(t.EncryptedEmail, t.EmailIV)
		if err != nil {
			return nil, model.NewStoreError("decrypt email", err)
		}
		t.Email = email
	}
	return t, nil
}

func (r *PostgresStore) InsertInstance(ctx context.Context, inst *model.Instance) error {
	if inst.Status == "" {
		inst.Status = model.StatusCreated
	}
	query := `
		INSERT INTO instances (tenant_id, location_id, instance_name, instance_number, status,
			provider_created, provider_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		inst.TenantID, inst.LocationID, inst.InstanceName, inst.InstanceNumber, string(inst.Status),
		inst.ProviderCreated, inst.ProviderError, time.Now(),
	).Scan(&inst.CreatedAt, &inst.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrDuplicateInstance
	}
	return model.NewStoreError("insert instance", err)
}

func (r *PostgresStore) GetInstance(ctx context.Context, instanceName string) (*model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE instance_name = $1`
	inst, err := scanInstance(r.pool.QueryRow(ctx, query, instanceName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("get instance", err)
	}
	return inst, nil
}

func (r *PostgresStore) ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE location_id = $1 ORDER BY instance_number`
	rows, err := r.pool.Query(ctx, query, locationID)
	if err != nil {
		return nil, model.NewStoreError("list instances", err)
	}
	defer rows.Close()

	list := make([]*model.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, model.NewStoreError("scan instance", err)
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("list instances", err)
	}
	return list, nil
}

func (r *PostgresStore) UpdateQR(ctx context.Context, locationID string, instanceNumber int, qrCode string, from, to model.Status) error {
	query := `
		UPDATE instances SET qr_code = $1, status = $2, updated_at = now()
		WHERE location_id = $3 AND instance_number = $4 AND status = $5`
	cmd, err := r.pool.Exec(ctx, query, qrCode, string(to), locationID, instanceNumber, string(from))
	if err == nil && cmd.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "update qr",
			`SELECT EXISTS(SELECT 1 FROM instances WHERE location_id = $1 AND instance_number = $2)`,
			locationID, instanceNumber)
	}
	return affectedOne("update qr", cmd, err)
}

func (r *PostgresStore) UpdateStatus(ctx context.Context, instanceName string, from, to model.Status) error {
	query := `UPDATE instances SET status = $1, updated_at = now() WHERE instance_name = $2 AND status = $3`
	cmd, err := r.pool.Exec(ctx, query, string(to), instanceName, string(from))
	if err == nil && cmd.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "update status",
			`SELECT EXISTS(SELECT 1 FROM instances WHERE instance_name = $1)`, instanceName)
	}
	return affectedOne("update status", cmd, err)
}

// missOrConflict tells a missing row from a row whose status moved on.
func (r *PostgresStore) missOrConflict(ctx context.Context, op, query string, args ...interface{}) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return model.NewStoreError(op, err)
	}
	if exists {
		return model.ErrStatusConflict
	}
	return model.ErrUnknownInstance
}

func (r *PostgresStore) SetPhoneNumber(ctx context.Context, instanceName, phoneNumber string) error {
	query := `UPDATE instances SET phone_number = $1, updated_at = now() WHERE instance_name = $2`
	cmd, err := r.pool.Exec(ctx, query, model.StringPtr(phoneNumber), instanceName)
	return affectedOne("set phone number", cmd, err)
}

func scanInstance(row pgx.Row) (*model.Instance, error) {
	inst := &model.Instance{}
	var status string
	err := row.Scan(
		&inst.TenantID, &inst.LocationID, &inst.InstanceName, &inst.InstanceNumber, &status, &inst.QRCode,
		&inst.PhoneNumber, &inst.ProviderCreated, &inst.ProviderError, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = model.Status(status)
	return inst, nil
}

func affectedOne(op string, cmd pgconn.CommandTag, err error) error {
	if err != nil {
		return model.NewStoreError(op, err)
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrUnknownInstance
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
