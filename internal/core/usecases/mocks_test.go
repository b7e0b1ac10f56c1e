package usecases_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// --- Mock PathStore / AvailabilityIndex / PathPurger ---

type mockStore struct {
	mu       sync.Mutex
	appended []domain.Fix

	appendFn     func(ctx context.Context, fix *domain.Fix) error
	fetchRangeFn func(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error)
	fetchSinceFn func(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error)
	latestFn     func(ctx context.Context, entityID string) (*domain.Fix, error)
	countFn      func(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error)
	purgeFn      func(ctx context.Context, entityID string) error
}

func (m *mockStore) Append(ctx context.Context, fix *domain.Fix) error {
	if m.appendFn != nil {
		if err := m.appendFn(ctx, fix); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.appended = append(m.appended, *fix)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) FetchRange(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error) {
	if m.fetchRangeFn != nil {
		return m.fetchRangeFn(ctx, entityID, from, to)
	}
	return nil, nil
}

func (m *mockStore) FetchSince(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error) {
	if m.fetchSinceFn != nil {
		return m.fetchSinceFn(ctx, entityID, since)
	}
	return nil, nil
}

func (m *mockStore) Latest(ctx context.Context, entityID string) (*domain.Fix, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, entityID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CountByDate(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error) {
	if m.countFn != nil {
		return m.countFn(ctx, entityID, loc)
	}
	return nil, nil
}

func (m *mockStore) PurgeEntity(ctx context.Context, entityID string) error {
	if m.purgeFn != nil {
		return m.purgeFn(ctx, entityID)
	}
	return nil
}

func (m *mockStore) stored() []domain.Fix {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Fix(nil), m.appended...)
}

// --- Mock PositionSource ---

type mockSource struct {
	requestFn func(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error)
	watchFn   func(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error
}

func (m *mockSource) RequestFix(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, entityID, opts)
	}
	return domain.RawFix{}, errors.New("no fix")
}

func (m *mockSource) Watch(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error {
	if m.watchFn != nil {
		return m.watchFn(ctx, entityID, opts, fixes, errs)
	}
	<-ctx.Done()
	return nil
}

// --- Mock ReverseGeocoder / EnrichmentQueue ---

type mockGeocoder struct {
	reverseFn func(ctx context.Context, lat, lon float64) (string, error)
}

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	return m.reverseFn(ctx, lat, lon)
}

type mockQueue struct {
	mu     sync.Mutex
	queued []domain.Fix
	err    error
}

func (m *mockQueue) EnqueueEnrichment(ctx context.Context, fix domain.Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.queued = append(m.queued, fix)
	return nil
}

// --- Mock FixPublisher ---

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Fix
}

func (m *mockPublisher) PublishFix(ctx context.Context, fix *domain.Fix) error {
	m.mu.Lock()
	m.published = append(m.published, *fix)
	m.mu.Unlock()
	return nil
}

// --- Mock LocalCache ---

type mockLocalCache struct {
	mu      sync.Mutex
	entries map[string][]domain.Fix
	purged  []string
}

func newMockLocalCache() *mockLocalCache {
	return &mockLocalCache{entries: map[string][]domain.Fix{}}
}

func (m *mockLocalCache) Put(entityID string, fixes []domain.Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entityID] = append([]domain.Fix(nil), fixes...)
	return nil
}

func (m *mockLocalCache) Load(entityID string) ([]domain.Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[entityID], nil
}

func (m *mockLocalCache) Purge(entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entityID)
	m.purged = append(m.purged, entityID)
	return nil
}

func (m *mockLocalCache) get(entityID string) []domain.Fix {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[entityID]
}

// --- Mock LiveFeed ---

type mockLiveFeed struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, fix domain.Fix)
	cancels  int
}

func newMockLiveFeed() *mockLiveFeed {
	return &mockLiveFeed{handlers: map[string]func(ctx context.Context, fix domain.Fix){}}
}

func (m *mockLiveFeed) SubscribeEntity(ctx context.Context, entityID string, handler func(ctx context.Context, fix domain.Fix)) (func(), error) {
	m.mu.Lock()
	m.handlers[entityID] = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.handlers, entityID)
		m.cancels++
		m.mu.Unlock()
	}, nil
}

func (m *mockLiveFeed) push(entityID string, fix domain.Fix) bool {
	m.mu.Lock()
	h := m.handlers[entityID]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(context.Background(), fix)
	return true
}

// --- Mock CacheService ---

type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// --- Fixtures ---

func ptr(v float64) *float64 { return &v }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mkFix(entityID string, lat, lon float64, capturedAt string) domain.Fix {
	f := domain.Fix{
		EntityID:       entityID,
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: 10,
		SourceKind:     domain.SourceSatellite,
	}
	if capturedAt != "" {
		f.CapturedAt = at(capturedAt)
	}
	return f
}

func rawFix(entityID string, lat, lon, acc float64, capturedAt time.Time) domain.RawFix {
	return domain.RawFix{
		EntityID:       entityID,
		Latitude:       ptr(lat),
		Longitude:      ptr(lon),
		AccuracyMeters: ptr(acc),
		CapturedAt:     capturedAt,
	}
}
