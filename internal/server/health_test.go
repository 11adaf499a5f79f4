package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kon-rad/agent-tracker/internal/db"
	"github.com/kon-rad/agent-tracker/internal/storage/storagetest"
)

func TestHealthAlwaysReturnsContract(t *testing.T) {
	t.Parallel()

	dbm, err := db.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		_ = dbm.Close()
	}()

	handler := NewHealthHandler(dbm, "sqlite", nil, "none", time.Now().Add(-5*time.Second), "test-version")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode error = %v", err)
	}

	required := []string{
		"status",
		"uptime_seconds",
		"version",
		"kv_backend",
		"kv_status",
		"search_backend",
		"search_status",
		"db_size_bytes",
		"wal_size_bytes",
		"disk_used_pct",
	}
	for _, key := range required {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing health field %q", key)
		}
	}
	if body["status"] != "healthy" || body["search_status"] != "disabled" {
		t.Fatalf("status = %v/%v, want healthy/disabled", body["status"], body["search_status"])
	}
}

type downSearch struct {
	*storagetest.Search
}

func (downSearch) Ping(context.Context) error { return errors.New("no route to host") }

func TestHealthDegradedWhenSearchDown(t *testing.T) {
	t.Parallel()

	dbm, err := db.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = dbm.Close() }()

	handler := NewHealthHandler(dbm, "sqlite", downSearch{storagetest.NewSearch()}, "mongo", time.Now(), "v")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode error = %v", err)
	}
	if rec.Code != http.StatusOK || body.Status != "degraded" || body.SearchStatus != "error" {
		t.Fatalf("health = %d %+v, want 200 degraded", rec.Code, body)
	}
	if len(body.Warnings) != 1 || body.Warnings[0] != "search_unreachable" {
		t.Fatalf("warnings = %v", body.Warnings)
	}
}
