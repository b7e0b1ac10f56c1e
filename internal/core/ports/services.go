package ports

import (
	"context"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// PositionSource is the platform positioning subsystem for one device.
type PositionSource interface {
	// RequestFix asks the device for a fresh fix and waits for it (or ctx).
	RequestFix(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error)
	// Watch delivers fixes until ctx is cancelled. Typed failures go to errs.
	Watch(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error
}

// ReverseGeocoder resolves a coordinate to a human-readable address.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// EnrichmentQueue schedules an asynchronous address backfill for a stored fix.
type EnrichmentQueue interface {
	EnqueueEnrichment(ctx context.Context, fix domain.Fix) error
}

// FixPublisher publishes accepted fixes to live consumers.
type FixPublisher interface {
	PublishFix(ctx context.Context, fix *domain.Fix) error
}

// LiveFeed subscribes to live fixes for one entity.
// The returned cancel func ends the subscription.
type LiveFeed interface {
	SubscribeEntity(ctx context.Context, entityID string, handler func(ctx context.Context, fix domain.Fix)) (cancel func(), err error)
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
