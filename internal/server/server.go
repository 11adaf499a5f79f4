// Package server is the HTTP surface: a thin chi router over query.Service.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/query"
)

const requestTimeout = 30 * time.Second

type Deps struct {
	Logger  *slog.Logger
	Service *query.Service
	Health  http.Handler
	Metrics *metrics.Recorder
}

// NewRouter mounts every route. Metrics is optional; /metrics is only
// served when it is set.
func NewRouter(deps Deps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{svc: deps.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", api.Root)
	if deps.Health != nil {
		r.Method(http.MethodGet, "/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/agents/{agent_id}/events", api.RecordEvent)
		r.Get("/agents/{agent_id}/metrics", api.AgentMetrics)
		r.Get("/agents", api.ListAgents)
		r.Get("/events", api.ListEvents)
		r.Get("/dashboard/kpis", api.DashboardKPIs)
		r.Get("/metrics/series", api.MetricsSeries)
		r.Get("/conversations", api.ListConversations)
		r.Post("/traces/spans", api.IngestSpans)
		r.Get("/traces/{trace_id}", api.GetTrace)
	})
	return r
}

func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
