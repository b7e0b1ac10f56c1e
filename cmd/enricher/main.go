package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/pathkeeper/internal/adapters/geocoding"
	"github.com/samirrijal/pathkeeper/internal/adapters/postgres"
	"github.com/samirrijal/pathkeeper/internal/adapters/valkey"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/config"
	"github.com/samirrijal/pathkeeper/internal/pkg/logging"
	"github.com/samirrijal/pathkeeper/internal/workflows"
)

// enricher runs the Temporal worker that backfills addresses of stored fixes.
func main() {
	cfg, err := config.Load("pathkeeper-enricher")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	if cfg.Geocoder.APIKey == "" {
		log.Fatal("geocoder.api_key is required")
	}

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database, cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	var shared ports.CacheService
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, geocoder results will not be memoised", "error", err)
	} else {
		defer cache.Close()
		shared = cache
	}

	geocoder, err := geocoding.NewGoogle(cfg.Geocoder.APIKey, geocoding.Options{
		RatePerSecond: cfg.Geocoder.RatePerSecond,
		Burst:         cfg.Geocoder.Burst,
		CacheTTL:      cfg.Geocoder.CacheTTL,
	}, shared)
	if err != nil {
		log.Fatalf("geocoder: %v", err)
	}

	c, err := client.Dial(client.Options{
		HostPort: cfg.Temporal.HostPort,
		Logger:   tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.EnrichFixWorkflow)
	w.RegisterActivity(&workflows.EnrichmentActivities{
		Geocoder:  geocoder,
		Addresses: postgres.NewFixRepo(db),
	})

	slog.Info("enricher worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
