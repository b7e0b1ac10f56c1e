package usecases

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// IsDuplicate reports whether a and b describe the same sample.
// Coordinates must agree within eps; timestamps must be equal unless
// either side has none, in which case coordinates alone decide.
func IsDuplicate(a, b domain.Fix, eps float64) bool {
	if math.Abs(a.Latitude-b.Latitude) >= eps || math.Abs(a.Longitude-b.Longitude) >= eps {
		return false
	}
	if !a.HasTimestamp() || !b.HasTimestamp() {
		return true
	}
	return a.CapturedAt.Equal(b.CapturedAt)
}

// Merge reconciles an existing path with incoming fixes into a new path.
// Neither input is modified. Earlier fixes win over later duplicates; a
// surviving fix adopts the address of a duplicate when it has none.
func Merge(existing []domain.Fix, incoming []domain.Fix, eps float64) []domain.Fix {
	if eps <= 0 {
		eps = domain.DefaultDuplicateEpsilonDeg
	}

	out := make([]domain.Fix, 0, len(existing)+len(incoming))
	byTime := make(map[int64][]int, len(existing)+len(incoming))
	var untimed []int

	add := func(f domain.Fix) {
		if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) {
			slog.Warn("dropping fix without coordinates",
				"entity_id", f.EntityID, "captured_at", f.CapturedAt, "id", f.ID)
			return
		}

		if dup := findDuplicate(out, byTime, untimed, f, eps); dup >= 0 {
			kept := &out[dup]
			if kept.Address == "" && f.Address != "" {
				kept.Address = f.Address
			}
			if kept.ID == "" && f.ID != "" {
				kept.ID = f.ID
			}
			return
		}

		idx := len(out)
		out = append(out, f)
		if f.HasTimestamp() {
			key := f.CapturedAt.UnixNano()
			byTime[key] = append(byTime[key], idx)
		} else {
			untimed = append(untimed, idx)
		}
	}

	for _, f := range existing {
		add(f)
	}
	for _, f := range incoming {
		add(f)
	}

	slices.SortStableFunc(out, func(a, b domain.Fix) int {
		return a.CapturedAt.Compare(b.CapturedAt)
	})
	return out
}

// findDuplicate returns the index in out of a fix that duplicates f, or -1.
func findDuplicate(out []domain.Fix, byTime map[int64][]int, untimed []int, f domain.Fix, eps float64) int {
	if !f.HasTimestamp() {
		for i := range out {
			if IsDuplicate(out[i], f, eps) {
				return i
			}
		}
		return -1
	}
	for _, i := range byTime[f.CapturedAt.UnixNano()] {
		if IsDuplicate(out[i], f, eps) {
			return i
		}
	}
	for _, i := range untimed {
		if IsDuplicate(out[i], f, eps) {
			return i
		}
	}
	return -1
}

// PathEngine owns the in-memory reconciled path of every known entity.
// Each entity has a single writer; readers see whole snapshots only.
type PathEngine struct {
	eps float64

	mu    sync.Mutex
	paths map[string]*entityPath
}

type entityPath struct {
	writeMu sync.Mutex
	current atomic.Pointer[domain.Path]
}

// NewPathEngine creates an engine using eps as the duplicate epsilon in degrees.
func NewPathEngine(eps float64) *PathEngine {
	if eps <= 0 {
		eps = domain.DefaultDuplicateEpsilonDeg
	}
	return &PathEngine{eps: eps, paths: make(map[string]*entityPath)}
}

// Epsilon returns the configured duplicate epsilon.
func (e *PathEngine) Epsilon() float64 { return e.eps }

func (e *PathEngine) slot(entityID string) *entityPath {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.paths[entityID]
	if !ok {
		p = &entityPath{}
		e.paths[entityID] = p
	}
	return p
}

// Apply merges fixes into the entity's path and publishes the result.
// It returns the new snapshot and how many fixes it gained.
func (e *PathEngine) Apply(entityID string, fixes []domain.Fix) (*domain.Path, int) {
	slot := e.slot(entityID)
	slot.writeMu.Lock()
	defer slot.writeMu.Unlock()

	var existing []domain.Fix
	if cur := slot.current.Load(); cur != nil {
		existing = cur.Fixes
	}
	if len(fixes) == 0 && slot.current.Load() != nil {
		return slot.current.Load(), 0
	}

	merged := Merge(existing, fixes, e.eps)
	next := &domain.Path{EntityID: entityID, Fixes: merged}
	slot.current.Store(next)
	return next, len(merged) - len(existing)
}

// Current returns the latest snapshot for entityID, or nil if none.
// The returned path must be treated as read-only.
func (e *PathEngine) Current(entityID string) *domain.Path {
	e.mu.Lock()
	slot, ok := e.paths[entityID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return slot.current.Load()
}

// Drop forgets an entity's in-memory path.
func (e *PathEngine) Drop(entityID string) {
	e.mu.Lock()
	delete(e.paths, entityID)
	e.mu.Unlock()
}
