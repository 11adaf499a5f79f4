package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kon-rad/agent-tracker/internal/db"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

type HealthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Version       string   `json:"version"`
	KVBackend     string   `json:"kv_backend"`
	KVStatus      string   `json:"kv_status"`
	SearchBackend string   `json:"search_backend"`
	SearchStatus  string   `json:"search_status"`
	DBSizeBytes   int64    `json:"db_size_bytes"`
	WALSizeBytes  int64    `json:"wal_size_bytes"`
	DiskUsedPct   float64  `json:"disk_used_pct"`
	GeneratedAt   string   `json:"generated_at"`
	Warnings      []string `json:"warnings,omitempty"`
}

// statsProvider is implemented by the sqlite backend.
type statsProvider interface {
	Health(ctx context.Context) db.HealthStats
}

type HealthHandler struct {
	kv         storage.KeyValueBackend
	kvName     string
	search     storage.SearchBackend
	searchName string
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewHealthHandler reports on both backends. search may be nil.
func NewHealthHandler(kv storage.KeyValueBackend, kvName string, search storage.SearchBackend, searchName string, start time.Time, version string) *HealthHandler {
	return &HealthHandler{
		kv:         kv,
		kvName:     kvName,
		search:     search,
		searchName: searchName,
		startTime:  start,
		version:    version,
		timeout:    2 * time.Second,
	}
}

// ServeHTTP always answers 200; a failing backend only degrades the status.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Version:       h.version,
		KVBackend:     h.kvName,
		KVStatus:      "ok",
		SearchBackend: h.searchName,
		SearchStatus:  "disabled",
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if sp, ok := h.kv.(statsProvider); ok {
		stats := sp.Health(ctx)
		resp.KVStatus = stats.Status
		resp.DBSizeBytes = stats.SizeBytes
		resp.WALSizeBytes = stats.WALSizeBytes
		resp.DiskUsedPct = stats.DiskUsedPct
	} else if err := h.kv.Ping(ctx); err != nil {
		resp.KVStatus = "error"
	}
	if resp.KVStatus != "ok" {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "kv_unreachable")
	}

	if h.search != nil {
		resp.SearchStatus = "ok"
		if err := h.search.Ping(ctx); err != nil {
			resp.SearchStatus = "error"
			resp.Status = "degraded"
			resp.Warnings = append(resp.Warnings, "search_unreachable")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
