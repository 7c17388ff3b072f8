package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// RouterDeps are the router dependencies.
type RouterDeps struct {
	Lifecycle   Lifecycle
	Webhooks    Webhooks
	Store       Pinger
	ProviderURL string
}

// NewApp builds the fiber application with every route registered.
func NewApp(name string, deps RouterDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           60 * time.Second,
		BodyLimit:             10 * 1024 * 1024,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger)

	Router(app, deps)
	return app
}

// WebhookRoute is the path the gateway posts instance events to.
const WebhookRoute = "/webhook/evolution/:instanceName"

// Router registers the API routes.
func Router(app *fiber.App, deps RouterDeps) {
	health := NewHealthHandler(deps.Store, deps.ProviderURL)
	app.Get("/health", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	instances := NewInstanceHandler(deps.Lifecycle)
	api.Post("/register", instances.Register)
	api.Get("/instances/:locationId", instances.List)
	api.Post("/instances/:locationId/:number/qr", instances.RequestQR)

	webhooks := NewWebhookHandler(deps.Webhooks)
	app.Post(WebhookRoute, webhooks.Evolution)
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("HTTP request")
	return err
}
