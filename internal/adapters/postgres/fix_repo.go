package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

const fixColumns = `id, entity_id, latitude, longitude, accuracy_meters, captured_at,
	source_kind, degraded, address, role, speed, heading, received_at`

// FixRepo implements ports.PathStore, ports.AvailabilityIndex,
// ports.AddressWriter and ports.PathPurger.
type FixRepo struct {
	db *DB
}

func NewFixRepo(db *DB) *FixRepo {
	return &FixRepo{db: db}
}

func (r *FixRepo) Append(ctx context.Context, fix *domain.Fix) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO fixes (`+fixColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, fix.ID, fix.EntityID, fix.Latitude, fix.Longitude, fix.AccuracyMeters,
		nilIfZeroTime(fix.CapturedAt), string(fix.SourceKind), fix.Degraded,
		nilIfEmpty(fix.Address), nilIfEmpty(string(fix.Role)),
		fix.Speed, fix.Heading, fix.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	return nil
}

func (r *FixRepo) FetchRange(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fixColumns+`
		FROM fixes
		WHERE entity_id = $1 AND captured_at BETWEEN $2 AND $3
		ORDER BY captured_at, received_at
	`, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	return collectFixes(rows)
}

func (r *FixRepo) FetchSince(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if since.IsZero() {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+fixColumns+`
			FROM fixes
			WHERE entity_id = $1
			ORDER BY captured_at NULLS FIRST, received_at
		`, entityID)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+fixColumns+`
			FROM fixes
			WHERE entity_id = $1
			  AND (captured_at > $2 OR (captured_at IS NULL AND received_at > $2))
			ORDER BY captured_at NULLS FIRST, received_at
		`, entityID, since)
	}
	if err != nil {
		return nil, fmt.Errorf("query since: %w", err)
	}
	return collectFixes(rows)
}

func (r *FixRepo) Latest(ctx context.Context, entityID string) (*domain.Fix, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fixColumns+`
		FROM fixes
		WHERE entity_id = $1
		ORDER BY captured_at DESC NULLS LAST, received_at DESC
		LIMIT 1
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	fixes, err := collectFixes(rows)
	if err != nil {
		return nil, err
	}
	if len(fixes) == 0 {
		return nil, domain.ErrNotFound
	}
	return &fixes[0], nil
}

// CountByDate groups fixes by calendar day in loc without loading them.
func (r *FixRepo) CountByDate(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT to_char(captured_at AT TIME ZONE $2, 'YYYY-MM-DD') AS day, count(*)
		FROM fixes
		WHERE entity_id = $1 AND captured_at IS NOT NULL
		GROUP BY day
		ORDER BY day
	`, entityID, loc.String())
	if err != nil {
		return nil, fmt.Errorf("count by date: %w", err)
	}
	defer rows.Close()

	dates := []domain.DateCount{}
	for rows.Next() {
		dc := domain.DateCount{EntityID: entityID}
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		dates = append(dates, dc)
	}
	return dates, rows.Err()
}

// SetAddress fills the address of a stored fix. Existing addresses are kept.
func (r *FixRepo) SetAddress(ctx context.Context, fixID, address string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE fixes SET address = $2
		WHERE id = $1 AND (address IS NULL OR address = '')
	`, fixID, address)
	if err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fixes WHERE id = $1)`, fixID).Scan(&exists); err != nil {
			return fmt.Errorf("set address: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *FixRepo) PurgeEntity(ctx context.Context, entityID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM fixes WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("purge entity: %w", err)
	}
	return nil
}

func collectFixes(rows pgx.Rows) ([]domain.Fix, error) {
	defer rows.Close()

	var fixes []domain.Fix
	for rows.Next() {
		var (
			f          domain.Fix
			capturedAt *time.Time
			sourceKind string
			address    sql.NullString
			role       sql.NullString
		)
		if err := rows.Scan(
			&f.ID, &f.EntityID, &f.Latitude, &f.Longitude, &f.AccuracyMeters, &capturedAt,
			&sourceKind, &f.Degraded, &address, &role, &f.Speed, &f.Heading, &f.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		if capturedAt != nil {
			f.CapturedAt = capturedAt.UTC()
		}
		f.SourceKind = domain.SourceKind(sourceKind)
		f.Address = address.String
		f.Role = domain.Role(role.String)
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
