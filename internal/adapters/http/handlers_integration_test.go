//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samirrijal/pathkeeper/internal/adapters/http"
	"github.com/samirrijal/pathkeeper/internal/adapters/postgres"
	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
	"github.com/samirrijal/pathkeeper/internal/pkg/config"
)

// setupTestDB connects to the test database. The schema in migrations/
// must already be applied.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("pathkeeper-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database, "pathkeeper-test")
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// setupTestDeps creates dependencies with the real fix repository, no cache.
func setupTestDeps(db *postgres.DB) *http.Dependencies {
	repo := postgres.NewFixRepo(db)
	engine := usecases.NewPathEngine(domain.DefaultDuplicateEpsilonDeg)
	status := usecases.NewStatusTracker()

	return &http.Dependencies{
		Tracking:        usecases.NewTrackingService(nil, nil, repo, nil, nil, status, domain.DefaultPolicy()),
		Queries:         usecases.NewQueryService(repo, repo, repo, engine, nil, nil),
		DB:              db,
		DefaultTimezone: "UTC",
	}
}

func uniqueEntity(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// TestIngestAndQueryDay_Integration stores fixes on both sides of midnight
// and reads one calendar day back.
func TestIngestAndQueryDay_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db))
	entity := uniqueEntity("integ")
	t.Cleanup(func() {
		_ = postgres.NewFixRepo(db).PurgeEntity(context.Background(), entity)
	})

	for _, ts := range []string{"2024-03-01T23:59:59Z", "2024-03-02T00:00:01Z"} {
		body := fmt.Sprintf(`{"entity_id":%q,"latitude":17.385,"longitude":78.486,"accuracy_meters":10,"captured_at":%q}`, entity, ts)
		resp, err := app.Test(postJSON("/v1/fixes", body), -1)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if resp.StatusCode != 201 {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/entities/"+entity+"/fixes?start=2024-03-01&end=2024-03-01&tz=UTC", nil), -1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var fixes struct {
		Data []domain.Fix `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fixes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fixes.Data) != 1 {
		t.Fatalf("expected 1 fix on 2024-03-01, got %d", len(fixes.Data))
	}
	if fixes.Data[0].SourceKind != domain.SourceSatellite {
		t.Errorf("expected satellite, got %s", fixes.Data[0].SourceKind)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/entities/"+entity+"/dates?tz=UTC", nil), -1)
	var dates struct {
		Data []domain.DateCount `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&dates)
	if len(dates.Data) != 2 {
		t.Errorf("expected 2 dates, got %+v", dates.Data)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/entities/"+entity+"/fixes/latest", nil), -1)
	var latest struct {
		Data domain.Fix `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&latest)
	if !latest.Data.CapturedAt.Equal(time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC)) {
		t.Errorf("unexpected latest %v", latest.Data.CapturedAt)
	}
}

// TestRelayedIngestIsIdempotent_Integration posts the same relayed fix twice.
func TestRelayedIngestIsIdempotent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db))
	entity := uniqueEntity("relay")
	t.Cleanup(func() {
		_ = postgres.NewFixRepo(db).PurgeEntity(context.Background(), entity)
	})

	body := fmt.Sprintf(`{"id":"6f1c1c0e-8a59-4a8e-9d55-1f0c3b8a2d10","entity_id":%q,"latitude":1,"longitude":2,"accuracy_meters":5,"captured_at":"2024-03-01T10:00:00Z"}`, entity)
	for i := 0; i < 2; i++ {
		resp, _ := app.Test(postJSON("/v1/fixes", body), -1)
		if resp.StatusCode != 201 {
			t.Fatalf("attempt %d: expected 201, got %d", i, resp.StatusCode)
		}
	}

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/entities/"+entity+"/fixes?since=1970-01-01T00:00:00Z", nil), -1)
	var fixes struct {
		Data []domain.Fix `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&fixes)
	if len(fixes.Data) != 1 {
		t.Errorf("expected 1 stored fix, got %d", len(fixes.Data))
	}
}

// TestUntimedFixReachesSync_Integration checks that a fix stored without a
// capture time is returned by FetchSince through its receive time.
func TestUntimedFixReachesSync_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	repo := postgres.NewFixRepo(db)
	app := setupApp(setupTestDeps(db))
	entity := uniqueEntity("untimed")
	t.Cleanup(func() {
		_ = repo.PurgeEntity(context.Background(), entity)
	})

	since := time.Now().Add(-time.Hour)
	body := fmt.Sprintf(`{"entity_id":%q,"latitude":1,"longitude":2,"accuracy_meters":5}`, entity)
	resp, _ := app.Test(postJSON("/v1/fixes", body), -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	fixes, err := repo.FetchSince(context.Background(), entity, since)
	if err != nil {
		t.Fatalf("fetch since: %v", err)
	}
	if len(fixes) != 1 || fixes[0].HasTimestamp() {
		t.Fatalf("expected the untimed fix, got %+v", fixes)
	}
}
