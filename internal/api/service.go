// Package api provides the HTTP handlers around the allocation protocol:
// the current problem, an on-demand solver, and result history.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/flow-engine/internal/curve"
	"github.com/atmx/flow-engine/internal/metrics"
	"github.com/atmx/flow-engine/internal/model"
	"github.com/atmx/flow-engine/internal/optimizer"
	"github.com/atmx/flow-engine/internal/store"
)

const (
	ModeOptimal = "optimal"
	ModeEven    = "even"
)

// maxProblemBytes bounds a problem posted to the solver.
const maxProblemBytes = 1 << 20

// Source yields the latest published problem.
type Source interface {
	Current() *model.Problem
}

// Service serves the HTTP surface. The store is optional; without one the
// history endpoint answers 404.
type Service struct {
	source  Source
	store   store.Store
	opt     *optimizer.Optimizer
	started time.Time
}

// NewService creates a new API service.
func NewService(src Source, st store.Store, opt *optimizer.Optimizer) *Service {
	if opt == nil {
		opt = optimizer.New()
	}
	return &Service{source: src, store: st, opt: opt, started: time.Now()}
}

// SolveResponse is the JSON body returned from POST /solve.
type SolveResponse struct {
	Tick        int64                   `json:"tick"`
	Mode        string                  `json:"mode"`
	Allocations []model.AllocationEntry `json:"allocations"`
	TotalValue  float64                 `json:"totalValue"`
	FlowOut     float64                 `json:"totalFlowOut"`
}

// Routes mounts the handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/problem", s.GetProblem)
	r.Post("/solve", s.Solve)
	r.Get("/sessions/{sessionID}/results", s.ListResults)
}

// Ping handles GET /ping
func (s *Service) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"started": s.started.UnixMilli()})
}

// GetProblem handles GET /api/v1/problem
func (s *Service) GetProblem(w http.ResponseWriter, r *http.Request) {
	p := s.source.Current()
	if p == nil {
		writeError(w, "no problem published yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Solve handles POST /api/v1/solve?mode=optimal|even
//
// With an empty body the current problem is solved; otherwise the body must
// be a problem in the wire format.
func (s *Service) Solve(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = ModeOptimal
	}
	if mode != ModeOptimal && mode != ModeEven {
		writeError(w, "mode must be optimal or even", http.StatusBadRequest)
		return
	}

	p, err := s.problemFrom(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p == nil {
		writeError(w, "no problem published yet", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	var entries []model.AllocationEntry
	if mode == ModeEven {
		entries = optimizer.AllocateEven(p)
	} else {
		entries, err = s.opt.Allocate(p)
	}
	metrics.SolveLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("solve failed", "tick", p.Tick, "mode", mode, "err", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := SolveResponse{Tick: p.Tick, Mode: mode, Allocations: entries}
	for i, e := range entries {
		resp.TotalValue += curve.Evaluate(p.Consumers[i].Curve, e.Flow)
		resp.FlowOut += e.Flow
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) problemFrom(r *http.Request) (*model.Problem, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProblemBytes))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return s.source.Current(), nil
	}

	var p model.Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.New("invalid request body")
	}
	if len(p.Consumers) == 0 {
		return nil, errors.New("problem has no consumers")
	}
	for _, c := range p.Consumers {
		if err := curve.Validate(c.Curve); err != nil {
			return nil, errors.New("consumer " + c.ID + ": " + err.Error())
		}
	}
	return &p, nil
}

// ListResults handles GET /api/v1/sessions/{sessionID}/results?limit=N
func (s *Service) ListResults(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "result history is disabled", http.StatusNotFound)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.store.ListResults(r.Context(), sessionID, limit)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("list results failed", "session", sessionID, "err", err)
		writeError(w, "failed to list results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
