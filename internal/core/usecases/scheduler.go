package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
	"github.com/samirrijal/pathkeeper/internal/pkg/telemetry"
)

// SchedulerConfig tunes the sync loop.
type SchedulerConfig struct {
	Interval           time.Duration // foreground observation
	BackgroundInterval time.Duration // background polling
	FetchTimeout       time.Duration // per-tick bound on the store call
	SeedWindow         time.Duration // history fetched on the first tick
	CacheLimit         int           // most recent fixes mirrored to the local cache
}

// DefaultSchedulerConfig returns near-real-time defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:           5 * time.Second,
		BackgroundInterval: 30 * time.Second,
		FetchTimeout:       4 * time.Second,
		SeedWindow:         24 * time.Hour,
		CacheLimit:         1000,
	}
}

// Scheduler keeps the observed entity's path fresh. At most one entity is
// observed at a time; observing another entity stops the current one.
type Scheduler struct {
	store  ports.PathStore
	cache  ports.LocalCache
	live   ports.LiveFeed
	engine *PathEngine
	status *StatusTracker
	cfg    SchedulerConfig
	now    func() time.Time

	mu     sync.Mutex
	active *observation
	wg     sync.WaitGroup
}

// observation is one Observing period. Its pointer identity is the
// generation: results are applied only while it is still the live one.
type observation struct {
	entityID   string
	background bool
	cancel     context.CancelFunc
	unsubLive  func()

	mu        sync.Mutex
	stopped   bool
	lastKnown time.Time
}

// NewScheduler creates a Scheduler. cache and live may be nil.
func NewScheduler(
	store ports.PathStore,
	cache ports.LocalCache,
	live ports.LiveFeed,
	engine *PathEngine,
	status *StatusTracker,
	cfg SchedulerConfig,
) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BackgroundInterval <= 0 {
		cfg.BackgroundInterval = def.BackgroundInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.SeedWindow <= 0 {
		cfg.SeedWindow = def.SeedWindow
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = def.CacheLimit
	}
	if status == nil {
		status = NewStatusTracker()
	}
	return &Scheduler{
		store:  store,
		cache:  cache,
		live:   live,
		engine: engine,
		status: status,
		cfg:    cfg,
		now:    time.Now,
	}
}

// StartObserving moves entityID from Idle to Observing.
// Any other active observation is stopped first.
func (s *Scheduler) StartObserving(entityID string) error {
	return s.start(entityID, false)
}

// StartObservingBackground observes entityID at the background interval.
func (s *Scheduler) StartObservingBackground(entityID string) error {
	return s.start(entityID, true)
}

func (s *Scheduler) start(entityID string, background bool) error {
	if entityID == "" {
		return domain.ErrEntityRequired
	}

	s.mu.Lock()
	prev := s.active
	if prev != nil && prev.entityID == entityID && prev.background == background {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	obs := &observation{entityID: entityID, background: background, cancel: cancel}
	s.active = obs
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		s.halt(prev)
	}

	s.status.SetObserving(entityID, true)
	metrics.ActiveObservations.Inc()
	slog.Info("observation started", "entity_id", entityID, "background", background)

	s.seedFromCache(obs)

	if s.live != nil {
		unsub, err := s.live.SubscribeEntity(ctx, entityID, func(_ context.Context, fix domain.Fix) {
			s.apply(obs, []domain.Fix{fix}, "live")
		})
		if err != nil {
			slog.Warn("live feed unavailable, polling only", "entity_id", entityID, "error", err)
		} else {
			obs.mu.Lock()
			stopped := obs.stopped
			if !stopped {
				obs.unsubLive = unsub
			}
			obs.mu.Unlock()
			if stopped {
				unsub()
			}
		}
	}

	go s.run(ctx, obs)
	return nil
}

// StopObserving moves entityID to Idle. Late results of an in-flight tick
// are discarded. It reports whether entityID was being observed.
func (s *Scheduler) StopObserving(entityID string) bool {
	s.mu.Lock()
	obs := s.active
	if obs == nil || obs.entityID != entityID {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.mu.Unlock()

	s.halt(obs)
	return true
}

func (s *Scheduler) halt(obs *observation) {
	obs.mu.Lock()
	obs.stopped = true
	unsub := obs.unsubLive
	obs.unsubLive = nil
	obs.mu.Unlock()

	obs.cancel()
	if unsub != nil {
		unsub()
	}

	s.status.SetObserving(obs.entityID, false)
	metrics.ActiveObservations.Dec()
	slog.Info("observation stopped", "entity_id", obs.entityID)
}

// Observed returns the entity currently being observed, if any.
func (s *Scheduler) Observed() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.entityID, true
}

// CurrentPath returns the reconciled in-memory path for entityID.
func (s *Scheduler) CurrentPath(entityID string) *domain.Path {
	return s.engine.Current(entityID)
}

// Close stops any observation and waits for its loop to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	obs := s.active
	s.active = nil
	s.mu.Unlock()
	if obs != nil {
		s.halt(obs)
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, obs *observation) {
	defer s.wg.Done()

	interval := s.cfg.Interval
	if obs.background {
		interval = s.cfg.BackgroundInterval
	}

	s.tick(ctx, obs)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, obs)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, obs *observation) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanSyncTick)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrEntityID, obs.entityID))

	since := obs.since()
	if since.IsZero() {
		since = s.now().Add(-s.cfg.SeedWindow)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	fixes, err := s.store.FetchSince(fetchCtx, obs.entityID, since)
	cancel()

	if ctx.Err() != nil {
		metrics.SyncTicks.WithLabelValues("cancelled").Inc()
		return
	}
	if err != nil {
		failure := &domain.SyncFailed{EntityID: obs.entityID, At: s.now(), Err: err}
		span.RecordError(failure)
		slog.Warn("sync tick failed", "entity_id", obs.entityID, "error", failure)
		s.status.RecordSync(obs.entityID, failure)
		metrics.SyncTicks.WithLabelValues("failed").Inc()
		return
	}

	span.SetAttributes(attribute.Int(telemetry.AttrFixCount, len(fixes)))
	s.status.RecordSync(obs.entityID, nil)
	if s.apply(obs, fixes, "remote") {
		metrics.SyncTicks.WithLabelValues("ok").Inc()
	}
}

// apply merges fixes into the engine while obs is still current.
func (s *Scheduler) apply(obs *observation, fixes []domain.Fix, source string) bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()

	if obs.stopped {
		metrics.SyncTicks.WithLabelValues("discarded").Inc()
		return false
	}

	// The cursor never passes the server clock.
	now := s.now()
	future := 0
	for _, f := range fixes {
		at := f.CapturedAt
		if at.After(now) {
			future++
			at = now
		}
		if at.After(obs.lastKnown) {
			obs.lastKnown = at
		}
	}
	if future > 0 {
		slog.Warn("fixes stamped ahead of server clock", "entity_id", obs.entityID, "count", future)
		s.status.RecordFutureFixes(obs.entityID, future)
	}

	path, added := s.engine.Apply(obs.entityID, fixes)
	if added > 0 {
		slog.Debug("path updated", "entity_id", obs.entityID, "source", source, "added", added, "total", path.Len())
		s.mirror(path)
	}
	return true
}

func (obs *observation) since() time.Time {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	return obs.lastKnown
}

func (s *Scheduler) seedFromCache(obs *observation) {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.Load(obs.entityID)
	if err != nil {
		slog.Warn("local cache read failed", "entity_id", obs.entityID, "error", err)
		return
	}
	if len(cached) > 0 {
		s.apply(obs, cached, "cache")
	}
}

func (s *Scheduler) mirror(path *domain.Path) {
	if s.cache == nil || path == nil {
		return
	}
	fixes := path.Fixes
	if len(fixes) > s.cfg.CacheLimit {
		fixes = fixes[len(fixes)-s.cfg.CacheLimit:]
	}
	if err := s.cache.Put(path.EntityID, fixes); err != nil {
		slog.Warn("local cache write failed", "entity_id", path.EntityID, "error", err)
	}
}
