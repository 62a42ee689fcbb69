// Package api exposes the operation service over JSON/HTTP: the agent
// heartbeat and acknowledgement endpoints plus operation administration.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgefleet/c2d/internal/ctxlog"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/types"
)

// Service is the subset of *scheduler.Service the handlers call.
type Service interface {
	CreateOperation(ctx context.Context, op *types.Operation, actor string) (*types.Operation, error)
	CreateOperations(ctx context.Context, reqs []scheduler.CreateRequest, actor string) ([]*types.Operation, error)
	GetOperation(ctx context.Context, id string) (*types.Operation, error)
	GetOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error)
	UpdateOperationState(ctx context.Context, id string, state types.OperationState, actor string) (*types.Operation, error)
	DeleteOperation(ctx context.Context, id string, actor string) error
	SelectBatch(ctx context.Context, agentID string, maxCandidates int) ([]types.C2Operation, error)
	Events(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
	Stats(ctx context.Context) (map[types.OperationState]int, error)
}

var _ Service = (*scheduler.Service)(nil)

// Config captures the inputs required to build the HTTP handler.
type Config struct {
	Service Service
	Logger  *slog.Logger
	// Actor is recorded on operations created and changed through the API.
	// Agents acknowledging their own operations are recorded as
	// "agent:<id>" instead.
	Actor string
	// Now is the clock used for relative event filters. Defaults to time.Now.
	Now func() time.Time
}

type server struct {
	svc    Service
	logger *slog.Logger
	actor  string
	now    func() time.Time
}

// NewHandler constructs the HTTP handler.
func NewHandler(cfg Config) http.Handler {
	s := &server{
		svc:    cfg.Service,
		logger: cfg.Logger,
		actor:  cfg.Actor,
		now:    cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.actor == "" {
		s.actor = "api"
	}
	if s.now == nil {
		s.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("GET /api/operations", s.handleListOperations)
	mux.HandleFunc("POST /api/operations", s.handleCreateOperation)
	mux.HandleFunc("GET /api/operations/{id}", s.handleGetOperation)
	mux.HandleFunc("PUT /api/operations/{id}/state", s.handleUpdateState)
	mux.HandleFunc("DELETE /api/operations/{id}", s.handleDeleteOperation)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return s.withLogging(mux)
}

// withLogging attaches a request-scoped logger to the context and logs each
// request at debug.
func (s *server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.logger.With("method", r.Method, "path", r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctxlog.WithLogger(r.Context(), log)))
		log.Debug("request", "status", rec.status, "elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) log(r *http.Request) *slog.Logger {
	return ctxlog.FromContext(r.Context(), s.logger)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, s.log(r), "stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": counts})
}
