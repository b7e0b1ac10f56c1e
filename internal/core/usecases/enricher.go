package usecases

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
	"github.com/samirrijal/pathkeeper/internal/pkg/telemetry"
)

const defaultEnrichTimeout = 3 * time.Second

// Enricher attaches addresses to fixes. Failures never block persistence.
type Enricher struct {
	geocoder ports.ReverseGeocoder
	queue    ports.EnrichmentQueue
	timeout  time.Duration
}

// NewEnricher creates an Enricher. queue may be nil, in which case failed
// lookups are simply left for a later natural cycle.
func NewEnricher(geocoder ports.ReverseGeocoder, queue ports.EnrichmentQueue, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	return &Enricher{geocoder: geocoder, queue: queue, timeout: timeout}
}

// Enrich returns fix with Address set when the lookup succeeds.
// On failure the fix is returned unchanged alongside an *EnrichmentFailed
// that callers may log; it must not be treated as fatal.
func (e *Enricher) Enrich(ctx context.Context, fix domain.Fix) (domain.Fix, error) {
	if e == nil || e.geocoder == nil || fix.Address != "" {
		return fix, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanEnrich)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrEntityID, fix.EntityID))

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	address, err := e.geocoder.ReverseGeocode(lookupCtx, fix.Latitude, fix.Longitude)
	if err != nil || address == "" {
		if err == nil {
			err = domain.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverse geocode failed")
		metrics.EnrichmentsTotal.WithLabelValues("failed").Inc()
		return fix, &domain.EnrichmentFailed{Err: err}
	}

	metrics.EnrichmentsTotal.WithLabelValues("ok").Inc()
	fix.Address = address
	return fix, nil
}

// Backfill queues an asynchronous retry for a stored fix that has no address.
func (e *Enricher) Backfill(ctx context.Context, fix domain.Fix) {
	if e == nil || e.queue == nil || fix.Address != "" || fix.ID == "" {
		return
	}
	if err := e.queue.EnqueueEnrichment(ctx, fix); err != nil {
		slog.Warn("enrichment backfill not queued", "entity_id", fix.EntityID, "fix_id", fix.ID, "error", err)
		return
	}
	metrics.EnrichmentsTotal.WithLabelValues("queued").Inc()
}
