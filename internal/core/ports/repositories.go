package ports

import (
	"context"
	"time"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// PathStore is the canonical, append-only store of accepted fixes.
// Implemented by the Postgres adapter and by the REST client of a remote store.
type PathStore interface {
	Append(ctx context.Context, fix *domain.Fix) error
	// FetchRange returns fixes with from <= captured_at <= to, ordered by captured_at.
	FetchRange(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error)
	// FetchSince returns fixes captured strictly after since, plus untimed fixes
	// received after it. A zero since returns the full path.
	FetchSince(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error)
	Latest(ctx context.Context, entityID string) (*domain.Fix, error)
}

// AvailabilityIndex answers "which days have data" with a grouped read.
type AvailabilityIndex interface {
	CountByDate(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error)
}

// AddressWriter fills the address of an already stored fix that has none.
type AddressWriter interface {
	SetAddress(ctx context.Context, fixID, address string) error
}

// PathPurger removes a deregistered entity's entire path.
type PathPurger interface {
	PurgeEntity(ctx context.Context, entityID string) error
}

// LocalCache mirrors recently seen fixes on local disk so an observation
// can start from cached state before the remote store answers.
type LocalCache interface {
	Put(entityID string, fixes []domain.Fix) error
	Load(entityID string) ([]domain.Fix, error)
	Purge(entityID string) error
}
