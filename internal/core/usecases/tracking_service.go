package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/logging"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
)

// TrackingService runs the write pipeline:
// sample -> classify -> enrich -> persist -> publish.
type TrackingService struct {
	sampler   *Sampler
	enricher  *Enricher
	store     ports.PathStore
	publisher ports.FixPublisher
	cache     ports.CacheService
	status    *StatusTracker
	policy    domain.AccuracyPolicy
	now       func() time.Time
}

// NewTrackingService creates a new TrackingService. sampler, publisher and
// cache may be nil.
func NewTrackingService(
	sampler *Sampler,
	enricher *Enricher,
	store ports.PathStore,
	publisher ports.FixPublisher,
	cache ports.CacheService,
	status *StatusTracker,
	policy domain.AccuracyPolicy,
) *TrackingService {
	if status == nil {
		status = NewStatusTracker()
	}
	return &TrackingService{
		sampler:   sampler,
		enricher:  enricher,
		store:     store,
		publisher: publisher,
		cache:     cache,
		status:    status,
		policy:    policy,
		now:       time.Now,
	}
}

// Policy returns the default accuracy policy.
func (s *TrackingService) Policy() domain.AccuracyPolicy { return s.policy }

// Ingest classifies, enriches and persists a raw fix.
// Classification errors are returned to the caller; enrichment errors are not.
func (s *TrackingService) Ingest(ctx context.Context, raw domain.RawFix, allowDegraded bool) (*domain.Fix, error) {
	policy := s.policy
	if allowDegraded {
		policy = policy.WithDegraded()
	}

	fix, err := Classify(raw, policy)
	if err != nil {
		var rejected *domain.AccuracyRejected
		if errors.As(err, &rejected) {
			s.status.RecordRejected(raw.EntityID, s.now(), rejected.Error())
			metrics.FixesRejected.WithLabelValues("accuracy").Inc()
		} else {
			metrics.FixesRejected.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	enriched, err := s.enricher.Enrich(ctx, fix)
	if err != nil {
		slog.Warn("fix stored without address", "entity_id", fix.EntityID, "error", err)
	}
	fix = enriched

	if fix.ID == "" {
		fix.ID = uuid.NewString()
	}
	fix.ReceivedAt = s.now().UTC()

	if err := s.store.Append(ctx, &fix); err != nil {
		return nil, fmt.Errorf("append fix: %w", err)
	}
	s.status.RecordAccepted(fix.EntityID, fix.ReceivedAt)
	metrics.FixesIngested.WithLabelValues(string(fix.SourceKind)).Inc()

	if fix.Address == "" {
		s.enricher.Backfill(ctx, fix)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, availabilityPrefix+fix.EntityID)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishFix(ctx, &fix); err != nil {
			slog.Warn("publish fix", "entity_id", fix.EntityID, "error", err)
		}
	}

	return &fix, nil
}

// Sample acquires one fix from the device and ingests it.
func (s *TrackingService) Sample(ctx context.Context, entityID string, opts domain.SampleOptions, role domain.Role, allowDegraded bool) (*domain.Fix, error) {
	if s.sampler == nil {
		return nil, &domain.AcquisitionError{Kind: domain.Unavailable, EntityID: entityID, Err: errors.New("no position source configured")}
	}
	raw, err := s.sampler.AcquireOnce(ctx, entityID, opts)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleNone {
		raw.Role = role
	}
	return s.Ingest(ctx, raw, allowDegraded)
}

// Track streams fixes from the device into the pipeline until ctx ends.
// Per-fix failures are logged and recorded; they do not end the stream.
func (s *TrackingService) Track(ctx context.Context, entityID string, opts domain.SampleOptions) error {
	if s.sampler == nil {
		return errors.New("no position source configured")
	}
	sub, err := s.sampler.AcquireStream(ctx, entityID, opts)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	log := logging.ForEntity(nil, entityID)
	log.Info("tracking started")
	defer log.Info("tracking stopped")

	errs := sub.Err()
	for {
		select {
		case raw, ok := <-sub.C():
			if !ok {
				return ctx.Err()
			}
			if _, err := s.Ingest(ctx, raw, false); err != nil {
				log.Info("fix not ingested", "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			var acq *domain.AcquisitionError
			if errors.As(err, &acq) {
				s.status.RecordRejected(entityID, s.now(), string(acq.Kind))
				log.Warn("acquisition failed", "kind", acq.Kind, "hint", acq.Hint())
			}
		}
	}
}

// Status returns tracking diagnostics for an entity.
func (s *TrackingService) Status(entityID string) domain.TrackingStatus {
	return s.status.Status(entityID)
}
