package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/config"
	"github.com/teresa-solution/whatsapp-instance-service/internal/crypto"
	"github.com/teresa-solution/whatsapp-instance-service/internal/monitoring"
	"github.com/teresa-solution/whatsapp-instance-service/internal/provider"
	"github.com/teresa-solution/whatsapp-instance-service/internal/qr"
	"github.com/teresa-solution/whatsapp-instance-service/internal/service"
	"github.com/teresa-solution/whatsapp-instance-service/internal/store"
	httpapi "github.com/teresa-solution/whatsapp-instance-service/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.App)

	log.Info().Str("env", cfg.App.Env).Str("app", cfg.App.Name).Msg("Starting WhatsApp instance service")

	// Initialize metrics
	monitoring.InitMetrics()

	var cipher *crypto.Cipher
	if cfg.Store.EncryptionKey != "" {
		cipher, err = crypto.NewCipher(cfg.Store.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize email cipher")
		}
	}

	ctx := context.Background()
	st, backend, err := store.Open(ctx, store.OpenConfig{
		Backend:     cfg.Store.Backend,
		DatabaseURL: cfg.Store.DatabaseURL,
		Cipher:      cipher,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Str("backend", backend).Msg("Instance store ready")

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, instance cache disabled")
			_ = rdb.Close()
		} else {
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("Instance cache enabled")
		}
	}
	defer st.Close()

	client := provider.NewClient(provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		WebhookBaseURL: cfg.App.PublicURL,
		Timeout:        cfg.Provider.Timeout,
	})

	orchestrator := service.NewOrchestrator(st, client, qr.NewNormalizer(qr.DefaultSize), service.Config{
		InstancesPerTenant: cfg.Lifecycle.InstancesPerTenant,
		QRGraceInterval:    cfg.Lifecycle.QRGraceInterval,
	})
	ingestor := service.NewWebhookIngestor(orchestrator)

	app := httpapi.NewApp(cfg.App.Name, httpapi.RouterDeps{
		Lifecycle:   orchestrator,
		Webhooks:    ingestor,
		Store:       st,
		ProviderURL: client.BaseURL(),
	})

	go func() {
		log.Info().Msgf("HTTP server listening on %s", cfg.HTTP.Addr())
		log.Info().Msgf("Webhook URL %s", webhookPattern(cfg.App.PublicURL))
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown")
	}
	log.Info().Msg("Server exiting")
}

// webhookPattern is the callback URL template registered with the gateway.
func webhookPattern(publicURL string) string {
	return publicURL + httpapi.WebhookRoute
}

func setupLogger(cfg config.AppConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
