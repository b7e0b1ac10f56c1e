package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	boltcache "github.com/samirrijal/pathkeeper/internal/adapters/bolt"
	"github.com/samirrijal/pathkeeper/internal/adapters/geocoding"
	"github.com/samirrijal/pathkeeper/internal/adapters/http"
	mqttsource "github.com/samirrijal/pathkeeper/internal/adapters/mqtt"
	natsadapter "github.com/samirrijal/pathkeeper/internal/adapters/nats"
	"github.com/samirrijal/pathkeeper/internal/adapters/postgres"
	"github.com/samirrijal/pathkeeper/internal/adapters/remote"
	"github.com/samirrijal/pathkeeper/internal/adapters/valkey"
	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
	"github.com/samirrijal/pathkeeper/internal/pkg/config"
	"github.com/samirrijal/pathkeeper/internal/pkg/logging"
	"github.com/samirrijal/pathkeeper/internal/pkg/telemetry"
	"github.com/samirrijal/pathkeeper/internal/workflows"
)

func main() {
	cfg, err := config.Load("pathkeeper-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Path store: Postgres, or another deployment's API when remote.base_url is set.
	var (
		db     *postgres.DB
		store  ports.PathStore
		index  ports.AvailabilityIndex
		purger ports.PathPurger
		addrs  ports.AddressWriter
	)
	if cfg.Remote.BaseURL != "" {
		rc := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout())
		store, index, purger = rc, rc, rc
		slog.Info("using remote path store", "base_url", cfg.Remote.BaseURL)
	} else {
		db, err = postgres.New(ctx, cfg.Database, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportPoolMetrics(ctx, 15*time.Second)

		repo := postgres.NewFixRepo(db)
		store, index, purger, addrs = repo, repo, repo, repo
	}

	// Shared cache
	var shared ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		shared = cache
	}

	// Local snapshot cache
	var local ports.LocalCache
	if cfg.Cache.BoltPath != "" {
		bc, err := boltcache.Open(cfg.Cache.BoltPath)
		if err != nil {
			slog.Warn("local cache unavailable", "path", cfg.Cache.BoltPath, "error", err)
		} else {
			defer bc.Close()
			local = bc
		}
	}

	// NATS
	var publisher ports.FixPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	var live ports.LiveFeed
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats live feed unavailable", "error", err)
	} else {
		defer sub.Close()
		live = sub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
	}

	// Reverse geocoding, with Temporal backfill when the fix lives in Postgres
	var geocoder ports.ReverseGeocoder
	if cfg.Geocoder.APIKey != "" {
		g, err := geocoding.NewGoogle(cfg.Geocoder.APIKey, geocoding.Options{
			RatePerSecond: cfg.Geocoder.RatePerSecond,
			Burst:         cfg.Geocoder.Burst,
			CacheTTL:      cfg.Geocoder.CacheTTL,
		}, shared)
		if err != nil {
			slog.Warn("geocoder unavailable", "error", err)
		} else {
			geocoder = g
		}
	}

	var queue ports.EnrichmentQueue
	if geocoder != nil && addrs != nil {
		tc, err := client.Dial(client.Options{
			HostPort: cfg.Temporal.HostPort,
			Logger:   tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			slog.Warn("temporal unavailable, enrichment backfill disabled", "error", err)
		} else {
			defer tc.Close()
			queue = workflows.NewQueue(tc, cfg.Temporal.TaskQueue)
		}
	}
	enricher := usecases.NewEnricher(geocoder, queue, cfg.Geocoder.Timeout())

	// Device positioning over MQTT
	var sampler *usecases.Sampler
	if cfg.MQTT.Broker != "" {
		src, err := mqttsource.New(mqttsource.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			slog.Warn("mqtt unavailable, sampling disabled", "error", err)
		} else {
			defer src.Close()
			sampler = usecases.NewSampler(src)
		}
	}

	// Use cases
	policy := domain.AccuracyPolicy{
		MaxAccuracyMeters:   cfg.Policy.MaxAccuracyMeters,
		AllowDegraded:       cfg.Policy.AllowDegraded,
		DuplicateEpsilonDeg: cfg.Policy.DuplicateEpsilonDeg,
	}
	engine := usecases.NewPathEngine(policy.DuplicateEpsilonDeg)
	status := usecases.NewStatusTracker()

	trackingSvc := usecases.NewTrackingService(sampler, enricher, store, publisher, shared, status, policy)
	scheduler := usecases.NewScheduler(store, local, live, engine, status, usecases.SchedulerConfig{
		Interval:           cfg.Sync.Interval(),
		BackgroundInterval: cfg.Sync.BackgroundInterval(),
		FetchTimeout:       cfg.Sync.FetchTimeout(),
		SeedWindow:         cfg.Sync.SeedWindow(),
	})
	defer scheduler.Close()
	querySvc := usecases.NewQueryService(store, index, purger, engine, local, shared)

	deps := &http.Dependencies{
		Tracking:        trackingSvc,
		Queries:         querySvc,
		Scheduler:       scheduler,
		NATS:            natsConn,
		DB:              db,
		Cache:           cache,
		DefaultTimezone: cfg.Query.DefaultTimezone,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    256 * 1024, // fixes are small
		AppName:      "Pathkeeper API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
