package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
)

// clockSlack tolerates small device/server clock differences when judging
// whether a fix was served from a cache.
const clockSlack = 2 * time.Second

// Sampler obtains fixes from the positioning subsystem.
type Sampler struct {
	source ports.PositionSource
	now    func() time.Time
}

// NewSampler creates a Sampler over source.
func NewSampler(source ports.PositionSource) *Sampler {
	return &Sampler{source: source, now: time.Now}
}

// AcquireOnce returns a single fresh fix or an *AcquisitionError.
// Fixes older than opts.MaxCacheAge are discarded and requested again
// until the timeout expires; they are never returned in place of a fresh one.
func (s *Sampler) AcquireOnce(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
	if entityID == "" {
		return domain.RawFix{}, domain.ErrEntityRequired
	}
	if opts.Timeout <= 0 {
		opts.Timeout = domain.DefaultSampleOptions().Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	requestedAt := s.now()
	for {
		raw, err := s.source.RequestFix(ctx, entityID, opts)
		if err != nil {
			return domain.RawFix{}, acquisitionError(ctx, entityID, err)
		}
		if raw.EntityID == "" {
			raw.EntityID = entityID
		}
		if s.fresh(raw, requestedAt, opts) {
			return raw, nil
		}
		slog.Debug("discarding cached fix", "entity_id", entityID, "captured_at", raw.CapturedAt)
	}
}

func (s *Sampler) fresh(raw domain.RawFix, requestedAt time.Time, opts domain.SampleOptions) bool {
	if raw.CapturedAt.IsZero() {
		return true
	}
	oldest := requestedAt.Add(-opts.MaxCacheAge - clockSlack)
	return !raw.CapturedAt.Before(oldest)
}

// acquisitionError maps a source failure onto the typed taxonomy.
func acquisitionError(ctx context.Context, entityID string, err error) error {
	var acqErr *domain.AcquisitionError
	if errors.As(err, &acqErr) {
		if acqErr.EntityID == "" {
			acqErr.EntityID = entityID
		}
		return acqErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.AcquisitionError{Kind: domain.Timeout, EntityID: entityID, Err: err}
	}
	return &domain.AcquisitionError{Kind: domain.Unavailable, EntityID: entityID, Err: err}
}

// Subscription is a cancellable continuous stream of fixes for one entity.
type Subscription struct {
	EntityID string

	fixes  chan domain.RawFix
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// C delivers fresh fixes until the subscription ends.
func (s *Subscription) C() <-chan domain.RawFix { return s.fixes }

// Err delivers typed acquisition errors. It is closed with C.
func (s *Subscription) Err() <-chan error { return s.errs }

// Done is closed once the stream has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the stream and waits for it to wind down.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// AcquireStream starts a continuous stream of fixes. The stream ends when
// ctx is cancelled, Cancel is called, or the source gives up.
func (s *Sampler) AcquireStream(ctx context.Context, entityID string, opts domain.SampleOptions) (*Subscription, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		EntityID: entityID,
		fixes:    make(chan domain.RawFix, 16),
		errs:     make(chan error, 4),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	startedAt := s.now()
	raw := make(chan domain.RawFix, 16)
	rawErrs := make(chan error, 4)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- s.source.Watch(ctx, entityID, opts, raw, rawErrs)
	}()

	go func() {
		defer close(sub.done)
		defer close(sub.errs)
		defer close(sub.fixes)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case f := <-raw:
				if f.EntityID == "" {
					f.EntityID = entityID
				}
				if !s.fresh(f, startedAt, opts) {
					continue
				}
				select {
				case sub.fixes <- f:
				case <-ctx.Done():
					return
				}
			case err := <-rawErrs:
				sub.sendErr(ctx, acquisitionError(ctx, entityID, err))
			case err := <-watchDone:
				if err != nil && ctx.Err() == nil {
					sub.sendErr(ctx, acquisitionError(ctx, entityID, err))
				}
				return
			}
		}
	}()

	return sub, nil
}

func (s *Subscription) sendErr(ctx context.Context, err error) {
	select {
	case s.errs <- err:
	case <-ctx.Done():
	default:
		slog.Warn("acquisition error dropped, consumer not reading", "entity_id", s.EntityID, "error", err)
	}
}
