package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/crypto"
)

// OpenConfig selects a backend at startup.
type OpenConfig struct {
	// Backend is BackendPostgres, BackendMemory or empty. Empty picks
	// PostgreSQL when DatabaseURL is set and falls back to memory if it
	// cannot be reached.
	Backend     string
	DatabaseURL string
	Cipher      *crypto.Cipher
	DialTimeout time.Duration
}

// Open returns the configured store and the name of the backend in use.
func Open(ctx context.Context, cfg OpenConfig) (Store, string, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), BackendMemory, nil
	case BackendPostgres:
		st, err := dialPostgres(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return st, BackendPostgres, nil
	case "":
		if cfg.DatabaseURL == "" {
			log.Warn().Msg("No database configured, instances will not survive a restart")
			return NewMemoryStore(), BackendMemory, nil
		}
		st, err := dialPostgres(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("PostgreSQL unavailable, falling back to in-memory store")
			return NewMemoryStore(), BackendMemory, nil
		}
		return st, BackendPostgres, nil
	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func dialPostgres(ctx context.Context, cfg OpenConfig) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Cipher)
}
