package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, env map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestClient_FetchSince(t *testing.T) {
	since := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/entities/e1/fixes", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "a", "entity_id": "e1", "latitude": 17.385, "longitude": 78.486, "accuracy_meters": 8, "captured_at": "2024-01-01T10:00:05Z"},
			},
		})
	}))
	defer srv.Close()

	fixes, err := New(srv.URL, time.Second).FetchSince(t.Context(), "e1", since)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "a", fixes[0].ID)
	assert.Equal(t, 17.385, fixes[0].Latitude)
}

func TestClient_FetchRangeQuery(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	to := from.Add(24*time.Hour - time.Nanosecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2023-12-31T18:30:00Z", q.Get("from"))
		assert.Equal(t, to.UTC().Format(time.RFC3339Nano), q.Get("to"))
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	defer srv.Close()

	fixes, err := New(srv.URL, time.Second).FetchRange(t.Context(), "e1", from, to)
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestClient_AppendSendsFix(t *testing.T) {
	var got fixBody
	var degraded string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		degraded = r.URL.Query().Get("allow_degraded")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"id": got.ID}})
	}))
	defer srv.Close()

	fix := &domain.Fix{
		ID:             "6f1c1c0e-8a59-4a8e-9d55-1f0c3b8a2d10",
		EntityID:       "e1",
		Latitude:       1,
		Longitude:      2,
		AccuracyMeters: 120,
		SourceKind:     domain.SourceNetwork,
		Degraded:       true,
		Role:           domain.RoleStart,
	}
	require.NoError(t, New(srv.URL, time.Second).Append(t.Context(), fix))

	assert.Equal(t, fix.ID, got.ID)
	assert.Equal(t, "e1", got.EntityID)
	assert.Equal(t, domain.RoleStart, got.Role)
	assert.Nil(t, got.CapturedAt, "untimed fixes are sent without a timestamp")
	assert.Equal(t, "true", degraded)
}

func TestClient_AppendManualUsesPinEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		writeEnvelope(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	fix := &domain.Fix{EntityID: "e1", Latitude: 1, Longitude: 2, SourceKind: domain.SourceManual}
	require.NoError(t, New(srv.URL, time.Second).Append(t.Context(), fix))
	assert.Equal(t, "/v1/entities/e1/pin", path)
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, map[string]any{"success": false, "code": "NOT_FOUND", "message": "no fixes"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Latest(t.Context(), "e1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"code":    "ACCURACY_REJECTED",
			"message": "accuracy 120.0m exceeds 50.0m threshold",
		})
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).Append(t.Context(), &domain.Fix{EntityID: "e1", Latitude: 1, Longitude: 2})
	require.Error(t, err)
	assert.True(t, IsRejected(err))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.Status)
	assert.Equal(t, "ACCURACY_REJECTED", rejected.Code)
}

func TestClient_ServerErrorIsRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    []map[string]any{{"entity_id": "e1", "date": "2024-01-01", "count": 4}},
		})
	}))
	defer srv.Close()

	dates, err := New(srv.URL, time.Second).CountByDate(t.Context(), "e1", nil)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.Equal(t, 4, dates[0].Count)
	assert.Equal(t, 2, calls)
}
