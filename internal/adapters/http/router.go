package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
)

const (
	apiVersion     = "1.0.0"
	requestTimeout = 15 * time.Second
	// sampleTimeout leaves room for a device that takes the full default
	// acquisition timeout to answer.
	sampleTimeout = 20 * time.Second
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Devices report often; 600 requests per minute per IP.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", apiVersion)
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Post("/fixes", timeout.NewWithContext(IngestFixHandler(deps), requestTimeout))

	entities := v1.Group("/entities/:id")
	entities.Post("/sample", timeout.NewWithContext(SampleHandler(deps), sampleTimeout))
	entities.Post("/pin", timeout.NewWithContext(PinFixHandler(deps), requestTimeout))
	entities.Post("/observe", StartObservingHandler(deps))
	entities.Delete("/observe", StopObservingHandler(deps))
	entities.Get("/path", CurrentPathHandler(deps))
	entities.Get("/fixes", timeout.NewWithContext(FixesHandler(deps), requestTimeout))
	entities.Get("/fixes/latest", timeout.NewWithContext(LatestFixHandler(deps), requestTimeout))
	entities.Get("/dates", timeout.NewWithContext(AvailableDatesHandler(deps), requestTimeout))
	entities.Get("/summary", timeout.NewWithContext(SummaryHandler(deps), requestTimeout))
	entities.Get("/status", StatusHandler(deps))
	entities.Delete("", timeout.NewWithContext(PurgeEntityHandler(deps), requestTimeout))

	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	SetupDocs(app)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
