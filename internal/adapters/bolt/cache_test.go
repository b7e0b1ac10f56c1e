package boltcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

func TestCache_PutLoadPurge(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "nested", "paths.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	missing, err := c.Load("e1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fixes := []domain.Fix{
		{ID: "a", EntityID: "e1", Latitude: 17.385, Longitude: 78.486, AccuracyMeters: 8, CapturedAt: ts, SourceKind: domain.SourceSatellite},
		{ID: "b", EntityID: "e1", Latitude: 17.386, Longitude: 78.487, AccuracyMeters: 15, CapturedAt: ts.Add(5 * time.Second), Address: "Charminar"},
	}
	require.NoError(t, c.Put("e1", fixes))

	got, err := c.Load("e1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "Charminar", got[1].Address)
	assert.True(t, ts.Equal(got[0].CapturedAt))

	require.NoError(t, c.Put("e1", fixes[:1]))
	got, err = c.Load("e1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "Put replaces the previous entry")

	require.NoError(t, c.Purge("e1"))
	got, err = c.Load("e1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paths.db")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Put("e1", []domain.Fix{{EntityID: "e1", Latitude: 1, Longitude: 2}}))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	got, err := c.Load("e1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Longitude)
}
