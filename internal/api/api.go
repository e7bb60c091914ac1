// Package api serves the read-only audit console over HTTP: trails,
// per-agent actions, aggregate statistics, task explanations, and the
// runtime audit level. Nothing here writes records; ingestion happens in
// the process embedding the audit engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
	"github.com/hazyhaar/agenttrace/internal/auth"
	"github.com/hazyhaar/agenttrace/internal/explain"
	"github.com/hazyhaar/agenttrace/internal/store"
)

// ExplainRateLimiter bounds explanation generation (expensive reads) per
// client IP.
var ExplainRateLimiter = NewRateLimiter(30, 60*time.Second)

type API struct {
	store     store.Store
	explainer *explain.Service
	auditor   *audit.Auditor
	auth      *auth.Auth
	adminHash string
}

// New builds the console API. An empty adminHash disables authentication
// (all endpoints public); otherwise every endpoint except login and
// health requires a bearer token obtained from POST /api/login.
func New(st store.Store, auditor *audit.Auditor, a *auth.Auth, adminHash string) *API {
	return &API{
		store:     st,
		explainer: explain.NewService(st),
		auditor:   auditor,
		auth:      a,
		adminHash: adminHash,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/login", a.handleLogin)

	mux.HandleFunc("GET /api/tasks/{id}/trail", a.requireAuth(a.handleTrail))
	mux.HandleFunc("GET /api/tasks/{id}/explanation",
		a.requireAuth(RateLimitMiddleware(ExplainRateLimiter, a.handleExplanation)))
	mux.HandleFunc("GET /api/agents/{id}/actions", a.requireAuth(a.handleAgentActions))
	mux.HandleFunc("GET /api/records/{id}", a.requireAuth(a.handleGetRecord))
	mux.HandleFunc("GET /api/statistics", a.requireAuth(a.handleStatistics))

	mux.HandleFunc("GET /api/level", a.requireAuth(a.handleGetLevel))
	mux.HandleFunc("PUT /api/level", a.requireAuth(a.handleSetLevel))
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.adminHash != "" && a.auth.ExtractClaims(r) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.adminHash == "" {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !auth.CheckPassword(a.adminHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := a.auth.GenerateToken("admin")
	if err != nil {
		slog.Error("generating token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleTrail(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	recs, err := a.store.ListByTask(r.Context(), taskID)
	if err != nil {
		slog.Error("listing task records", "error", err, "task_id", taskID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"records": recs,
		"count":   len(recs),
	})
}

func (a *API) handleExplanation(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	report, err := a.explainer.GenerateTaskExplanation(r.Context(), taskID)
	if errors.Is(err, explain.ErrNoRecords) {
		writeError(w, http.StatusNotFound, "no audit records for task "+taskID)
		return
	}
	if err != nil {
		slog.Error("generating explanation", "error", err, "task_id", taskID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAgentActions(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := a.store.ListByAgent(r.Context(), agentID, limit)
	if err != nil {
		slog.Error("listing agent records", "error", err, "agent_id", agentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"records":  recs,
		"count":    len(recs),
	})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")
	rec, err := a.store.Get(r.Context(), recordID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		slog.Error("reading record", "error", err, "record_id", recordID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	since, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start time, want RFC 3339")
		return
	}
	until, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end time, want RFC 3339")
		return
	}
	stats, err := a.store.Statistics(r.Context(), since, until)
	if err != nil {
		slog.Error("aggregating statistics", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"level": string(a.auditor.Level())})
}

func (a *API) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	level, err := audit.ParseLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.auditor.SetLevel(level)
	writeJSON(w, http.StatusOK, map[string]string{"level": string(level)})
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
