package geocoding

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
	"github.com/samirrijal/pathkeeper/internal/pkg/resilience"
	"github.com/samirrijal/pathkeeper/internal/pkg/telemetry"
)

// Reverser is the subset of *maps.Client the geocoder needs.
type Reverser interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Options tunes quota and memoisation.
type Options struct {
	RatePerSecond float64
	Burst         int
	CacheTTL      int // seconds
}

// Google implements ports.ReverseGeocoder with the Google Geocoding API.
// Calls are rate limited, guarded by a circuit breaker and memoised by
// coordinate rounded to about a metre.
type Google struct {
	client  Reverser
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	cache   ports.CacheService
	ttl     int
}

// NewGoogle creates a geocoder for apiKey. cache may be nil.
func NewGoogle(apiKey string, opts Options, cache ports.CacheService) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return NewWithClient(client, opts, cache), nil
}

// NewWithClient creates a geocoder over an existing client.
func NewWithClient(client Reverser, opts Options, cache ports.CacheService) *Google {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * 60 * 60
	}

	cfg := resilience.DefaultBreakerConfig("geocoder")
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, domain.ErrNotFound)
	}

	return &Google{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		breaker: resilience.NewBreaker[string](cfg),
		cache:   cache,
		ttl:     opts.CacheTTL,
	}
}

// CacheKey returns the memo key for a coordinate.
func CacheKey(lat, lon float64) string {
	return fmt.Sprintf("geo:rev:%.5f:%.5f", lat, lon)
}

// ReverseGeocode returns the formatted address of the best match, or
// domain.ErrNotFound when the coordinate has none.
func (g *Google) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	key := CacheKey(lat, lon)
	if g.cache != nil {
		if data, err := g.cache.Get(ctx, key); err == nil && len(data) > 0 {
			metrics.CacheHits.WithLabelValues("geocode").Inc()
			return string(data), nil
		}
		metrics.CacheMisses.WithLabelValues("geocode").Inc()
	}

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanGeocode)
	defer span.End()
	span.SetAttributes(attribute.Float64("lat", lat), attribute.Float64("lon", lon))

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("geocoder rate limit: %w", err)
	}

	start := time.Now()
	address, err := g.breaker.Execute(func() (string, error) {
		results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
			LatLng: &maps.LatLng{Lat: lat, Lng: lon},
		})
		if err != nil {
			return "", err
		}
		for _, r := range results {
			if r.FormattedAddress != "" {
				return r.FormattedAddress, nil
			}
		}
		return "", domain.ErrNotFound
	})
	metrics.GeocodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		if resilience.IsOpen(err) {
			return "", fmt.Errorf("geocoder unavailable: %w", err)
		}
		return "", err
	}

	if g.cache != nil {
		_ = g.cache.Set(ctx, key, []byte(address), g.ttl)
	}
	return address, nil
}
