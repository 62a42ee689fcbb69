// Package c2d provides a minimal public API for embedding the c2d operation
// scheduler in another Go program.
//
// Most integrations should talk to a running server over HTTP. This package
// exports only the types and constructors needed to run the scheduler
// in-process against either storage backend.
package c2d

import (
	"context"
	"log/slog"

	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/dolt"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/types"
)

// Core types for working with operations
type (
	Operation       = types.Operation
	C2Operation     = types.C2Operation
	OperationType   = types.OperationType
	OperationState  = types.OperationState
	OperationFilter = types.OperationFilter
	Event           = types.Event
	EventFilter     = types.EventFilter
)

// OperationState constants
const (
	StateNew       = types.StateNew
	StateReady     = types.StateReady
	StateQueued    = types.StateQueued
	StateDone      = types.StateDone
	StateFailed    = types.StateFailed
	StateCancelled = types.StateCancelled
)

// OperationType constants
const (
	OpDescribe    = types.OpDescribe
	OpUpdate      = types.OpUpdate
	OpClear       = types.OpClear
	OpStart       = types.OpStart
	OpStop        = types.OpStop
	OpRestart     = types.OpRestart
	OpTransfer    = types.OpTransfer
	OpSync        = types.OpSync
	OpAcknowledge = types.OpAcknowledge
)

// Storage is the persistence interface the scheduler runs on.
type Storage = storage.Storage

// Scheduler owns operation creation, state transitions and batch selection.
type Scheduler = scheduler.Service

// Limits are the scheduler tunables.
type Limits = scheduler.Limits

// CreateRequest is one entry of an atomic multi-operation create.
type CreateRequest = scheduler.CreateRequest

// DoltConfig configures OpenDolt.
type DoltConfig = dolt.Config

// OpenMemory returns an empty in-memory store. Nothing survives the process.
func OpenMemory() Storage {
	return memory.New()
}

// OpenDolt opens (creating if needed) a Dolt-backed store.
func OpenDolt(ctx context.Context, cfg *DoltConfig) (Storage, error) {
	return dolt.New(ctx, cfg)
}

// NewScheduler returns a scheduler over store. A nil logger uses slog.Default.
func NewScheduler(store Storage, logger *slog.Logger, limits Limits) (*Scheduler, error) {
	return scheduler.New(store, logger, limits)
}
