package geocoding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

type fakeReverser struct {
	mu      sync.Mutex
	calls   int
	results []maps.GeocodingResult
	err     error
}

func (f *fakeReverser) ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results, f.err
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("miss")
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestGoogle_ReverseGeocodeMemoises(t *testing.T) {
	client := &fakeReverser{results: []maps.GeocodingResult{
		{FormattedAddress: ""},
		{FormattedAddress: "Charminar, Hyderabad, Telangana 500002, India"},
	}}
	cache := &memCache{data: map[string][]byte{}}
	g := NewWithClient(client, Options{RatePerSecond: 1000, Burst: 10}, cache)

	for i := 0; i < 3; i++ {
		addr, err := g.ReverseGeocode(context.Background(), 17.3616, 78.4747)
		require.NoError(t, err)
		assert.Equal(t, "Charminar, Hyderabad, Telangana 500002, India", addr)
	}
	assert.Equal(t, 1, client.calls)
	assert.Contains(t, cache.data, CacheKey(17.3616, 78.4747))
}

func TestGoogle_ReverseGeocodeNotFound(t *testing.T) {
	client := &fakeReverser{}
	g := NewWithClient(client, Options{RatePerSecond: 1000, Burst: 10}, nil)

	_, err := g.ReverseGeocode(context.Background(), 0, -160)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGoogle_NotFoundDoesNotTripBreaker(t *testing.T) {
	client := &fakeReverser{}
	g := NewWithClient(client, Options{RatePerSecond: 1000, Burst: 10}, nil)

	for i := 0; i < 10; i++ {
		_, err := g.ReverseGeocode(context.Background(), 0, -160)
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 10, client.calls)
}

func TestGoogle_BreakerOpensOnRepeatedFailure(t *testing.T) {
	client := &fakeReverser{err: errors.New("OVER_QUERY_LIMIT")}
	g := NewWithClient(client, Options{RatePerSecond: 1000, Burst: 10}, nil)

	for i := 0; i < 5; i++ {
		_, err := g.ReverseGeocode(context.Background(), 1, 1)
		require.Error(t, err)
	}
	_, err := g.ReverseGeocode(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocoder unavailable")
	assert.Equal(t, 5, client.calls, "an open breaker short-circuits the API")
}

func TestGoogle_RateLimitHonoursContext(t *testing.T) {
	client := &fakeReverser{results: []maps.GeocodingResult{{FormattedAddress: "somewhere"}}}
	g := NewWithClient(client, Options{RatePerSecond: 0.001, Burst: 1}, nil)

	_, err := g.ReverseGeocode(context.Background(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.ReverseGeocode(ctx, 2, 2)
	assert.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "geo:rev:17.36160:78.47470", CacheKey(17.3616, 78.4747))
	assert.Equal(t, CacheKey(17.361600001, 78.4747), CacheKey(17.3616, 78.4747))
}
