// Package teststore provides Dolt-backed stores for tests.
//
// New opens an isolated embedded Dolt store per test; it needs a cgo build.
// NewServer starts a dolt sql-server container through testcontainers and
// needs a reachable container runtime. Both skip the test when their
// prerequisite is missing, and both register cleanup with t.Cleanup.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    op := env.CreateOp("agent-1")
//	    env.SetState(op, types.StateDone)
//	}
package teststore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	doltcontainer "github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/dolt"
	"github.com/edgefleet/c2d/internal/types"
)

// DoltImage is the dolt sql-server image used by NewServer.
const DoltImage = "dolthub/dolt-sql-server:1.43.0"

// doltInitMu serializes embedded engine creation; go-mysql-server initializes
// global status variables racily.
var doltInitMu sync.Mutex

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// New creates an isolated embedded Dolt store for a single test or benchmark.
func New(t testing.TB) *dolt.DoltStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Dolt store in -short mode")
	}

	cfg := &dolt.Config{
		Path:           t.TempDir(),
		CommitterName:  "test",
		CommitterEmail: "test@example.com",
		Database:       "testdb",
		Logger:         quietLogger,
	}

	doltInitMu.Lock()
	store, err := dolt.New(context.Background(), cfg)
	doltInitMu.Unlock()
	if errors.Is(err, dolt.ErrNoCGO) {
		t.Skip("embedded Dolt needs a cgo build, skipping test")
	}
	if err != nil {
		t.Fatalf("teststore: failed to create Dolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var (
	serverOnce sync.Once
	serverDSN  string
	serverErr  error
)

// NewServer returns a server-mode store on emptied tables inside a shared
// dolt sql-server container, so tests using it must not run in parallel.
// The container lives for the rest of the test binary; testcontainers'
// reaper removes it afterwards.
func NewServer(t *testing.T) *dolt.DoltStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Dolt container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	serverOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		var ctr *doltcontainer.DoltContainer
		ctr, serverErr = doltcontainer.Run(ctx, DoltImage,
			doltcontainer.WithDatabase("c2d"),
			doltcontainer.WithUsername("c2d"),
			doltcontainer.WithPassword("c2d"),
		)
		if serverErr != nil {
			return
		}
		serverDSN, serverErr = ctr.ConnectionString(ctx)
	})
	if serverErr != nil {
		t.Fatalf("teststore: failed to start dolt container: %v", serverErr)
	}

	store, err := dolt.New(context.Background(), &dolt.Config{DSN: serverDSN, Logger: quietLogger})
	if err != nil {
		t.Fatalf("teststore: failed to connect to dolt container: %v", err)
	}
	// Tests share the container database, so each one starts from empty tables.
	for _, table := range []string{"operation_dependencies", "operations", "events"} {
		if _, err := store.UnderlyingDB().Exec("DELETE FROM " + table); err != nil {
			_ = store.Close()
			t.Fatalf("teststore: failed to clear %s: %v", table, err)
		}
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Env provides a test environment with helpers that go through the
// storage.Storage interface.
type Env struct {
	t     *testing.T
	Store storage.Storage
	Ctx   context.Context
	seq   int
}

// NewEnv creates a test environment backed by an isolated embedded Dolt store.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	return &Env{t: t, Store: New(t), Ctx: context.Background()}
}

// CreateOp stores a QUEUED start operation for agent that depends on deps.
func (e *Env) CreateOp(agent string, deps ...*types.Operation) *types.Operation {
	e.t.Helper()
	e.seq++
	op := &types.Operation{
		ID:            fmt.Sprintf("op-%04d", e.seq),
		Operation:     types.OpStart,
		Operand:       fmt.Sprintf("svc-%d", e.seq),
		TargetAgentID: agent,
		State:         types.StateQueued,
		Created:       int64(e.seq),
		Updated:       int64(e.seq),
	}
	for _, d := range deps {
		op.Dependencies = append(op.Dependencies, d.ID)
	}
	op.Dependencies = types.NormalizeIDs(op.Dependencies)
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.CreateOperation(e.Ctx, op)
	})
	if err != nil {
		e.t.Fatalf("CreateOperation(%s) failed: %v", op.ID, err)
	}
	return op
}

// SetState overwrites the stored state of op.
func (e *Env) SetState(op *types.Operation, state types.OperationState) {
	e.t.Helper()
	op.State = state
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.SaveOperations(e.Ctx, []*types.Operation{op})
	})
	if err != nil {
		e.t.Fatalf("SaveOperations(%s) failed: %v", op.ID, err)
	}
}

// State returns the stored state of the operation with id.
func (e *Env) State(id string) types.OperationState {
	e.t.Helper()
	op, err := e.Store.GetOperation(e.Ctx, id)
	if err != nil {
		e.t.Fatalf("GetOperation(%s) failed: %v", id, err)
	}
	return op.State
}
