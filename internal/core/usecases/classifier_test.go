package usecases_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
)

func TestClassify_AccuracyGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	fix, err := usecases.Classify(rawFix("e1", 17.385, 78.486, 12, now), domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSatellite, fix.SourceKind)
	assert.False(t, fix.Degraded)
	assert.Equal(t, 12.0, fix.AccuracyMeters)

	_, err = usecases.Classify(rawFix("e1", 17.385, 78.486, 120, now), domain.DefaultPolicy())
	var rejected *domain.AccuracyRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 120.0, rejected.AccuracyMeters)
	assert.Equal(t, domain.DefaultMaxAccuracyMeters, rejected.ThresholdM)
	assert.NotEmpty(t, rejected.Hint())
}

func TestClassify_ThresholdIsInclusive(t *testing.T) {
	fix, err := usecases.Classify(rawFix("e1", 1, 2, 50, time.Time{}), domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSatellite, fix.SourceKind)

	_, err = usecases.Classify(rawFix("e1", 1, 2, 50.1, time.Time{}), domain.DefaultPolicy())
	var rejected *domain.AccuracyRejected
	assert.ErrorAs(t, err, &rejected)
}

func TestClassify_DegradedMode(t *testing.T) {
	fix, err := usecases.Classify(rawFix("e1", 1, 2, 120, time.Time{}), domain.DefaultPolicy().WithDegraded())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNetwork, fix.SourceKind)
	assert.True(t, fix.Degraded)
}

func TestClassify_CustomThreshold(t *testing.T) {
	policy := domain.AccuracyPolicy{MaxAccuracyMeters: 150}
	fix, err := usecases.Classify(rawFix("e1", 1, 2, 120, time.Time{}), policy)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSatellite, fix.SourceKind)
}

func TestClassify_MissingAccuracyIsRejected(t *testing.T) {
	raw := rawFix("e1", 1, 2, 0, time.Time{})
	raw.AccuracyMeters = nil

	_, err := usecases.Classify(raw, domain.DefaultPolicy())
	var rejected *domain.AccuracyRejected
	require.ErrorAs(t, err, &rejected)
	assert.True(t, math.IsInf(rejected.AccuracyMeters, 1))
}

func TestClassify_Manual(t *testing.T) {
	raw := domain.RawFix{EntityID: "e1", Latitude: ptr(1), Longitude: ptr(2), Manual: true}

	fix, err := usecases.Classify(raw, domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceManual, fix.SourceKind)
	assert.False(t, fix.Degraded)
}

func TestClassify_ManualIsNotDecodedFromPayload(t *testing.T) {
	var raw domain.RawFix
	require.NoError(t, json.Unmarshal([]byte(`{"entity_id":"e1","latitude":17.385,"longitude":78.486,"accuracy_meters":120,"manual":true}`), &raw))
	assert.False(t, raw.Manual)

	_, err := usecases.Classify(raw, domain.DefaultPolicy())
	var rejected *domain.AccuracyRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 120.0, rejected.AccuracyMeters)
}

func TestClassify_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		raw  domain.RawFix
		want error
	}{
		{"blank entity", rawFix("  ", 1, 2, 5, time.Time{}), domain.ErrEntityRequired},
		{"no latitude", domain.RawFix{EntityID: "e1", Longitude: ptr(2), AccuracyMeters: ptr(5)}, domain.ErrMissingCoordinates},
		{"no longitude", domain.RawFix{EntityID: "e1", Latitude: ptr(1), AccuracyMeters: ptr(5)}, domain.ErrMissingCoordinates},
		{"nan", rawFix("e1", math.NaN(), 2, 5, time.Time{}), domain.ErrMissingCoordinates},
		{"latitude out of range", rawFix("e1", 91, 2, 5, time.Time{}), domain.ErrInvalidCoordinates},
		{"longitude out of range", rawFix("e1", 1, -181, 5, time.Time{}), domain.ErrInvalidCoordinates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usecases.Classify(tt.raw, domain.DefaultPolicy())
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClassify_ZeroZeroIsAValidCoordinate(t *testing.T) {
	fix, err := usecases.Classify(rawFix("e1", 0, 0, 5, time.Time{}), domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 0.0, fix.Latitude)
}

func TestClassify_CopiesMetadata(t *testing.T) {
	raw := rawFix(" e1 ", 1, 2, 5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	raw.Role = domain.RoleStart
	raw.Speed = ptr(3.5)
	raw.Address = "  Main St  "
	raw.ID = "abc"

	fix, err := usecases.Classify(raw, domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "e1", fix.EntityID)
	assert.Equal(t, domain.RoleStart, fix.Role)
	assert.Equal(t, 3.5, *fix.Speed)
	assert.Equal(t, "Main St", fix.Address)
	assert.Equal(t, "abc", fix.ID)
	assert.Equal(t, raw.CapturedAt, fix.CapturedAt)
}

func TestClassify_UnknownRoleIsDropped(t *testing.T) {
	raw := rawFix("e1", 1, 2, 5, time.Time{})
	raw.Role = "finish"

	fix, err := usecases.Classify(raw, domain.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNone, fix.Role)
}
