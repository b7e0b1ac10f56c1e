package usecases

import (
	"math"
	"strings"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// Classify applies the accuracy policy to a raw fix.
// It is pure: the source kind is derived here and nowhere else.
func Classify(raw domain.RawFix, policy domain.AccuracyPolicy) (domain.Fix, error) {
	entityID := strings.TrimSpace(raw.EntityID)
	if entityID == "" {
		return domain.Fix{}, domain.ErrEntityRequired
	}
	if raw.Latitude == nil || raw.Longitude == nil ||
		math.IsNaN(*raw.Latitude) || math.IsNaN(*raw.Longitude) {
		return domain.Fix{}, domain.ErrMissingCoordinates
	}
	lat, lon := *raw.Latitude, *raw.Longitude
	if !domain.ValidCoordinates(lat, lon) {
		return domain.Fix{}, domain.ErrInvalidCoordinates
	}

	threshold := policy.MaxAccuracyMeters
	if threshold <= 0 {
		threshold = domain.DefaultMaxAccuracyMeters
	}

	fix := domain.Fix{
		ID:         raw.ID,
		EntityID:   entityID,
		Latitude:   lat,
		Longitude:  lon,
		CapturedAt: raw.CapturedAt,
		Role:       raw.Role,
		Speed:      raw.Speed,
		Heading:    raw.Heading,
		Address:    strings.TrimSpace(raw.Address),
	}
	if !fix.Role.Valid() {
		fix.Role = domain.RoleNone
	}

	if raw.Manual {
		if raw.AccuracyMeters != nil && *raw.AccuracyMeters >= 0 {
			fix.AccuracyMeters = *raw.AccuracyMeters
		}
		fix.SourceKind = domain.SourceManual
		return fix, nil
	}

	if raw.AccuracyMeters == nil {
		return domain.Fix{}, &domain.AccuracyRejected{AccuracyMeters: math.Inf(1), ThresholdM: threshold}
	}
	acc := *raw.AccuracyMeters
	if math.IsNaN(acc) || acc < 0 {
		return domain.Fix{}, &domain.AccuracyRejected{AccuracyMeters: acc, ThresholdM: threshold}
	}
	fix.AccuracyMeters = acc

	if acc <= threshold {
		fix.SourceKind = domain.SourceSatellite
		return fix, nil
	}
	if !policy.AllowDegraded {
		return domain.Fix{}, &domain.AccuracyRejected{AccuracyMeters: acc, ThresholdM: threshold}
	}
	fix.SourceKind = domain.SourceNetwork
	fix.Degraded = true
	return fix, nil
}
