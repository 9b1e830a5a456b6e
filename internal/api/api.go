// Package api serves a read-mostly HTTP view of workflow instances.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gateflow/internal/store"
	"gateflow/internal/workflow"
	"gateflow/pkg/agent"
	"gateflow/pkg/coordinator"
	"gateflow/pkg/types"
)

// Handlers holds the engine behind the HTTP routes.
type Handlers struct {
	Engine *coordinator.Engine
	Logger *slog.Logger
}

// NewRouter builds the chi router.
func NewRouter(engine *coordinator.Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{Engine: engine, Logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/phases", h.ListPhases)
		r.Get("/instances", h.ListInstances)
		r.Post("/instances", h.CreateInstance)
		r.Get("/instances/{id}", h.GetInstance)
		r.Get("/instances/{id}/snapshot", h.GetSnapshot)
		r.Get("/instances/{id}/history", h.GetHistory)
		r.Post("/instances/{id}/reset", h.ResetInstance)
	})
	return r
}

// Health reports whether the snapshot store is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := store.Ping(r.Context(), h.Engine.Store()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PhaseInfo describes one row of the gate table.
type PhaseInfo struct {
	Phase        types.Phase         `json:"phase"`
	Prerequisite types.Phase         `json:"prerequisite,omitempty"`
	Roles        []types.AgentRole   `json:"roles"`
	Conditional  map[string][]string `json:"conditional,omitempty"`
	Conditions   []string            `json:"conditions,omitempty"`
}

// ListPhases returns the gate table in phase order.
func (h *Handlers) ListPhases(w http.ResponseWriter, _ *http.Request) {
	gates := h.Engine.Gates()
	out := make([]PhaseInfo, 0, len(gates.Order()))
	for _, p := range gates.Order() {
		info := PhaseInfo{Phase: p, Roles: gates.Roles(p), Conditions: gates.Conditions(p)}
		info.Prerequisite, _ = gates.Prerequisite(p)
		for _, req := range gates.RequiredAgents(p) {
			if c, ok := req.(agent.Conditional); ok {
				if info.Conditional == nil {
					info.Conditional = make(map[string][]string)
				}
				info.Conditional[string(c.Role)] = c.Triggers
			}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// ListInstances returns the ids of persisted instances.
func (h *Handlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Engine.Store().List(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"instances": ids})
}

// CreateInstance starts a new instance at idle.
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	id, err := h.Engine.Create(r.Context())
	if err != nil && id == "" {
		h.writeEngineError(w, err)
		return
	}
	status, statusErr := h.Engine.Status(r.Context(), id)
	if statusErr != nil {
		h.writeEngineError(w, statusErr)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// GetInstance returns the status of one instance.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	status, err := h.Engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetSnapshot returns the full persisted form of one instance.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetHistory returns the archived pre-reset snapshots of one instance.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ResetInstance archives an instance and returns it to idle.
func (h *Handlers) ResetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.Reset(r.Context(), id); err != nil {
		h.writeEngineError(w, err)
		return
	}
	status, err := h.Engine.Status(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: workflow.Describe(err), Kind: workflow.Kind(err)}
	switch {
	case errors.Is(err, store.ErrNotFound):
		resp.Error = err.Error()
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrBlocked):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, workflow.ErrPersistence):
		h.Logger.Error("Snapshot store error", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		h.Logger.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
