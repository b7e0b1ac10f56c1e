package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
	"github.com/samirrijal/pathkeeper/internal/pkg/geospatial"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
)

const (
	// availabilityPrefix keys the cached date index of one entity. The value
	// holds one entry per timezone so a single delete invalidates all of them.
	availabilityPrefix = "dates:"
	availabilityTTL    = 60

	dateLayout = "2006-01-02"
)

// QueryService answers historical questions about stored paths.
type QueryService struct {
	store      ports.PathStore
	index      ports.AvailabilityIndex
	purger     ports.PathPurger
	engine     *PathEngine
	localCache ports.LocalCache
	cache      ports.CacheService
}

// NewQueryService creates a new QueryService. purger, localCache and cache may be nil.
func NewQueryService(
	store ports.PathStore,
	index ports.AvailabilityIndex,
	purger ports.PathPurger,
	engine *PathEngine,
	localCache ports.LocalCache,
	cache ports.CacheService,
) *QueryService {
	return &QueryService{
		store:      store,
		index:      index,
		purger:     purger,
		engine:     engine,
		localCache: localCache,
		cache:      cache,
	}
}

// ParseDate parses a YYYY-MM-DD calendar date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// LoadLocation resolves an IANA zone name, falling back to fallback when empty.
func LoadLocation(name, fallback string) (*time.Location, error) {
	if name == "" {
		name = fallback
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// DayWindow returns the instants covering the calendar days of start..end
// inclusive, as read in loc.
func DayWindow(start, end time.Time, loc *time.Location) (from, to time.Time) {
	if loc == nil {
		loc = start.Location()
	}
	start, end = start.In(loc), end.In(loc)
	from = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	to = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return from, to
}

// QueryRange returns the fixes captured on the calendar days start..end
// inclusive in loc, ordered by capture time. Fixes already reconciled in
// memory but not yet visible in the store are included. An empty range
// yields an empty slice.
func (s *QueryService) QueryRange(ctx context.Context, entityID string, start, end time.Time, loc *time.Location) ([]domain.Fix, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}
	from, to := DayWindow(start, end, loc)
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}

	stored, err := s.store.FetchRange(ctx, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch range: %w", err)
	}

	fixes := Merge(nil, stored, s.engine.Epsilon())
	if p := s.engine.Current(entityID); p != nil {
		fixes = Merge(fixes, InWindow(p.Fixes, from, to), s.engine.Epsilon())
	}
	if fixes == nil {
		fixes = []domain.Fix{}
	}
	return fixes, nil
}

// Between returns the stored fixes with from <= CapturedAt <= to.
func (s *QueryService) Between(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}
	fixes, err := s.store.FetchRange(ctx, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch range: %w", err)
	}
	if fixes == nil {
		fixes = []domain.Fix{}
	}
	return fixes, nil
}

// Since returns the stored fixes captured (or, if untimed, received) after
// since; a zero since returns the whole path.
func (s *QueryService) Since(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}
	fixes, err := s.store.FetchSince(ctx, entityID, since)
	if err != nil {
		return nil, fmt.Errorf("fetch since: %w", err)
	}
	if fixes == nil {
		fixes = []domain.Fix{}
	}
	return fixes, nil
}

// InWindow returns the timestamped fixes with from <= CapturedAt <= to.
func InWindow(fixes []domain.Fix, from, to time.Time) []domain.Fix {
	var out []domain.Fix
	for _, f := range fixes {
		if !f.HasTimestamp() || f.CapturedAt.Before(from) || f.CapturedAt.After(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ListAvailableDates returns the days, in loc, on which entityID has fixes.
func (s *QueryService) ListAvailableDates(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}
	if loc == nil {
		loc = time.UTC
	}

	cacheKey := availabilityPrefix + entityID
	byZone := map[string][]domain.DateCount{}
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			if err := json.Unmarshal(data, &byZone); err == nil {
				if dates, ok := byZone[loc.String()]; ok {
					metrics.CacheHits.WithLabelValues("dates").Inc()
					return dates, nil
				}
			}
		}
		metrics.CacheMisses.WithLabelValues("dates").Inc()
	}

	dates, err := s.index.CountByDate(ctx, entityID, loc)
	if err != nil {
		return nil, fmt.Errorf("count by date: %w", err)
	}
	if dates == nil {
		dates = []domain.DateCount{}
	}

	if s.cache != nil {
		byZone[loc.String()] = dates
		if data, err := json.Marshal(byZone); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, availabilityTTL)
		}
	}
	return dates, nil
}

// CurrentPath returns the reconciled in-memory path of an observed entity.
// Entities that were never observed yield an empty path.
func (s *QueryService) CurrentPath(entityID string) *domain.Path {
	if p := s.engine.Current(entityID); p != nil {
		return p
	}
	return &domain.Path{EntityID: entityID, Fixes: []domain.Fix{}}
}

// Latest returns the most recent stored fix.
func (s *QueryService) Latest(ctx context.Context, entityID string) (*domain.Fix, error) {
	if entityID == "" {
		return nil, domain.ErrEntityRequired
	}
	return s.store.Latest(ctx, entityID)
}

// Summary aggregates the fixes captured on the days start..end.
func (s *QueryService) Summary(ctx context.Context, entityID string, start, end time.Time, loc *time.Location) (*domain.PathSummary, error) {
	fixes, err := s.QueryRange(ctx, entityID, start, end, loc)
	if err != nil {
		return nil, err
	}
	summary := Summarize(entityID, fixes)
	return &summary, nil
}

// Summarize computes counts, time span and travelled distance of an ordered path.
func Summarize(entityID string, fixes []domain.Fix) domain.PathSummary {
	sum := domain.PathSummary{EntityID: entityID, FixCount: len(fixes)}
	coords := make([]geospatial.Coord, 0, len(fixes))
	for _, f := range fixes {
		coords = append(coords, geospatial.Coord{Lat: f.Latitude, Lon: f.Longitude})
		if f.Degraded {
			sum.DegradedCount++
		}
		if f.HasTimestamp() {
			t := f.CapturedAt
			if sum.First == nil {
				sum.First = &t
			}
			sum.Last = &t
		}
	}
	sum.DistanceMeters = geospatial.PathLength(coords)
	if b, ok := domain.BoundsOf(fixes); ok {
		sum.Bounds = &b
	}
	return sum
}

// Purge removes every trace of a deregistered entity.
func (s *QueryService) Purge(ctx context.Context, entityID string) error {
	if entityID == "" {
		return domain.ErrEntityRequired
	}
	if s.purger == nil {
		return fmt.Errorf("purge %s: store does not support purging", entityID)
	}
	if err := s.purger.PurgeEntity(ctx, entityID); err != nil {
		return fmt.Errorf("purge entity: %w", err)
	}
	s.engine.Drop(entityID)
	if s.localCache != nil {
		if err := s.localCache.Purge(entityID); err != nil {
			return fmt.Errorf("purge local cache: %w", err)
		}
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, availabilityPrefix+entityID)
	}
	return nil
}
