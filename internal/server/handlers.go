package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/query"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

const maxBodyBytes = 4 << 20

type API struct {
	svc    *query.Service
	logger *slog.Logger
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps the error taxonomy onto status codes: invalid input is the
// caller's fault, anything else is ours.
func (a *API) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrInvalidInput) {
		status = http.StatusBadRequest
	} else {
		a.logger.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Detail: fmt.Sprintf("Failed to %s: %v", action, err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", storage.ErrInvalidInput, name)
	}
	return n, nil
}

// agentsParam splits a comma-separated list, dropping empty entries.
func agentsParam(r *http.Request) []string {
	var out []string
	for _, a := range strings.Split(r.URL.Query().Get("agents"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (a *API) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "AI Agent Tracking API"})
}

func (a *API) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := decodeBody(w, r, &ev); err != nil {
		a.fail(w, r, "record event", err)
		return
	}
	resp, err := a.svc.RecordEvent(r.Context(), chi.URLParam(r, "agent_id"), ev)
	if err != nil {
		a.fail(w, r, "record event", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) AgentMetrics(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days")
	if err != nil {
		a.fail(w, r, "retrieve metrics", err)
		return
	}
	q := r.URL.Query()
	resp, err := a.svc.AgentMetrics(r.Context(), chi.URLParam(r, "agent_id"), query.MetricsParams{
		Days:      days,
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	})
	if err != nil {
		a.fail(w, r, "retrieve metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.svc.ListAgents(r.Context())
	if err != nil {
		a.fail(w, r, "list agents", err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		a.fail(w, r, "list events", err)
		return
	}
	q := r.URL.Query()
	resp, err := a.svc.ListEvents(r.Context(), query.EventsParams{
		AgentID:     q.Get("agent_id"),
		MessageType: q.Get("message_type"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
		Limit:       limit,
	})
	if err != nil {
		a.fail(w, r, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func rangeParams(r *http.Request) query.RangeParams {
	q := r.URL.Query()
	return query.RangeParams{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Agents:    agentsParam(r),
	}
}

func (a *API) DashboardKPIs(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.DashboardKPIs(r.Context(), rangeParams(r))
	if err != nil {
		a.fail(w, r, "compute KPIs", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) MetricsSeries(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.MetricsSeries(r.Context(), rangeParams(r))
	if err != nil {
		a.fail(w, r, "compute series", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		a.fail(w, r, "list conversations", err)
		return
	}
	q := r.URL.Query()
	resp, err := a.svc.ListConversations(r.Context(), query.ConversationParams{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		AgentID:   q.Get("agent_id"),
		Limit:     limit,
	})
	if err != nil {
		a.fail(w, r, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) IngestSpans(w http.ResponseWriter, r *http.Request) {
	var req model.SpanIngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, "ingest spans", err)
		return
	}
	resp, err := a.svc.IngestSpans(r.Context(), req)
	if err != nil {
		a.fail(w, r, "ingest spans", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) GetTrace(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.GetTrace(r.Context(), chi.URLParam(r, "trace_id"))
	if err != nil {
		a.fail(w, r, "get trace", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
