package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/samirrijal/pathkeeper/internal/adapters/geocoding"
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
)

// tracker streams fixes from MQTT devices into the path store.
// Entities come from mqtt.entities or the command line.
func main() {
	cfg, err := config.Load("pathkeeper-tracker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	entities := cfg.MQTT.Entities
	if len(os.Args) > 1 {
		entities = strings.Split(os.Args[1], ",")
	}
	if len(entities) == 0 {
		log.Fatal("usage: tracker <entity,entity,...> (or set mqtt.entities)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	var store ports.PathStore
	if cfg.Remote.BaseURL != "" {
		store = remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout())
	} else {
		db, err := postgres.New(ctx, cfg.Database, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer db.Close()
		store = postgres.NewFixRepo(db)
	}

	var shared ports.CacheService
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		shared = cache
	}

	var publisher ports.FixPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, fixes will not be broadcast", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

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

	src, err := mqttsource.New(mqttsource.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      byte(cfg.MQTT.QoS),
	})
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer src.Close()

	policy := domain.AccuracyPolicy{
		MaxAccuracyMeters:   cfg.Policy.MaxAccuracyMeters,
		AllowDegraded:       cfg.Policy.AllowDegraded,
		DuplicateEpsilonDeg: cfg.Policy.DuplicateEpsilonDeg,
	}
	tracking := usecases.NewTrackingService(
		usecases.NewSampler(src),
		usecases.NewEnricher(geocoder, nil, cfg.Geocoder.Timeout()),
		store, publisher, shared, nil, policy,
	)

	slog.Info("tracker starting", "entities", len(entities), "broker", cfg.MQTT.Broker)

	opts := domain.DefaultSampleOptions()
	opts.Timeout = 0 // watch indefinitely

	var wg sync.WaitGroup
	for _, id := range entities {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		wg.Add(1)
		go func(entityID string) {
			defer wg.Done()
			trackUntilDone(ctx, tracking, entityID, opts)
		}(id)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down tracker", "signal", sig.String())
	cancel()
	wg.Wait()
}

// trackUntilDone restarts the stream with a backoff when the device
// subscription fails, until ctx ends.
func trackUntilDone(ctx context.Context, tracking *usecases.TrackingService, entityID string, opts domain.SampleOptions) {
	backoff := time.Second
	for {
		err := tracking.Track(ctx, entityID, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("tracking interrupted", "entity_id", entityID, "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
