// Package scheduler implements the operation service: creation, lookup,
// heartbeat batch selection and state transitions with cascading
// cancellation.
//
// Every public call runs inside one storage transaction, so the reads used to
// decide and the writes that follow are consistent with each other.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/edgefleet/c2d/internal/ctxlog"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// Defaults for Limits fields left at zero.
const (
	DefaultMaxCandidates = 100
	DefaultMaxGraphNodes = 5000
)

// Limits are the tunables that may change while the server runs.
type Limits struct {
	// MaxCandidates is the default number of sorted candidates SelectBatch
	// inspects when the caller does not pass one.
	MaxCandidates int
	// MaxGraphNodes caps the dependency graph built by SelectBatch. Zero
	// means unlimited.
	MaxGraphNodes int
	// InitialState is assigned to new operations that do not request one.
	InitialState types.OperationState
}

func (l Limits) withDefaults() Limits {
	if l.MaxCandidates <= 0 {
		l.MaxCandidates = DefaultMaxCandidates
	}
	if l.MaxGraphNodes < 0 {
		l.MaxGraphNodes = 0
	}
	if l.InitialState == "" {
		l.InitialState = types.StateQueued
	}
	return l
}

// Validate rejects limits the service cannot run with.
func (l Limits) Validate() error {
	switch l.InitialState {
	case "", types.StateNew, types.StateReady, types.StateQueued:
		return nil
	}
	return fmt.Errorf("%w: initial state must be NEW, READY or QUEUED, got %s", types.ErrValidation, l.InitialState)
}

// Service is the operation service. It is safe for concurrent use.
type Service struct {
	store  storage.Storage
	logger *slog.Logger
	limits atomic.Pointer[Limits]
	flight singleflight.Group

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides operation id assignment. Used by tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New returns a Service over store.
func New(store storage.Storage, logger *slog.Logger, limits Limits, opts ...Option) (*Service, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  newOperationID,
	}
	l := limits.withDefaults()
	s.limits.Store(&l)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// newOperationID returns a UUIDv7. They sort by creation time, so operations
// created in the same millisecond still order the way they were submitted.
func newOperationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Limits returns the limits currently in effect.
func (s *Service) Limits() Limits {
	return *s.limits.Load()
}

// SetLimits replaces the limits for subsequent calls.
func (s *Service) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	l = l.withDefaults()
	s.limits.Store(&l)
	s.logger.Info("scheduler limits updated",
		"max_candidates", l.MaxCandidates,
		"max_graph_nodes", l.MaxGraphNodes,
		"initial_state", l.InitialState)
	return nil
}

// Store returns the underlying storage.
func (s *Service) Store() storage.Storage {
	return s.store
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return ctxlog.FromContext(ctx, s.logger)
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// GetOperation returns the operation with id.
func (s *Service) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: operation id is required", types.ErrValidation)
	}
	return s.store.GetOperation(ctx, id)
}

// GetOperations lists operations matching filter, oldest first.
func (s *Service) GetOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error) {
	if filter.State != "" && !filter.State.IsValid() {
		return nil, fmt.Errorf("%w: invalid state: %q", types.ErrValidation, filter.State)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", types.ErrValidation)
	}
	return s.store.ListOperations(ctx, filter)
}

// Events returns the audit trail matching filter.
func (s *Service) Events(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", types.ErrValidation)
	}
	return s.store.ListEvents(ctx, filter)
}

// Stats returns the number of operations per state.
func (s *Service) Stats(ctx context.Context) (map[types.OperationState]int, error) {
	return s.store.CountByState(ctx)
}
