// Package storagetest is a behavioral test suite shared by every
// storage.Storage implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// Factory returns an empty store. It owns cleanup through t.Cleanup.
type Factory func(t *testing.T) storage.Storage

// Run executes the suite, calling newStore once per subtest.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRejectsDuplicateAndMissingDependency", testCreateRejects},
		{"RollbackOnError", testRollbackOnError},
		{"RollbackOnPanic", testRollbackOnPanic},
		{"SaveOperations", testSaveOperations},
		{"DeleteReferenced", testDeleteReferenced},
		{"ListOperationsOrderAndFilter", testListOperations},
		{"ListEvents", testListEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewOp returns a QUEUED start operation for agent-1.
func NewOp(id string, created int64, deps ...string) *types.Operation {
	return &types.Operation{
		ID:            id,
		Operation:     types.OpStart,
		Operand:       "svc-" + id,
		TargetAgentID: "agent-1",
		State:         types.StateQueued,
		Dependencies:  types.NormalizeIDs(deps),
		Created:       created,
		Updated:       created,
	}
}

// Create stores ops in one transaction and fails the test on error.
func Create(t *testing.T, s storage.Storage, ops ...*types.Operation) {
	t.Helper()
	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, op := range ops {
			if err := tx.CreateOperation(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func ids(ops []*types.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func testCreateAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	b := NewOp("b", 2, "a")
	b.Args = map[string]string{"version": "1.2.3"}
	Create(t, s, NewOp("a", 1), b)

	got, err := s.GetOperation(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Dependencies)
	assert.Equal(t, "svc-b", got.Operand)
	assert.Equal(t, map[string]string{"version": "1.2.3"}, got.Args)
	assert.Equal(t, types.StateQueued, got.State)
	assert.Equal(t, int64(2), got.Created)

	_, err = s.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := s.ExistsOperation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ExistsOperation(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	deps, err := s.GetDependents(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(deps))
}

func testCreateRejects(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, NewOp("a", 1))

	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateOperation(ctx, NewOp("a", 2))
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateOperation(ctx, NewOp("b", 2, "nope"))
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRollbackOnError(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, NewOp("a", 1))

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateOperation(ctx, NewOp("b", 2, "a")); err != nil {
			return err
		}
		op, err := tx.GetOperation(ctx, "a")
		if err != nil {
			return err
		}
		op.State = types.StateCancelled
		if err := tx.SaveOperations(ctx, []*types.Operation{op}); err != nil {
			return err
		}
		if err := tx.RecordEvent(ctx, &types.Event{Severity: types.SeverityInfo, Message: "x"}); err != nil {
			return err
		}
		// Reads see the transaction's own writes.
		deps, err := tx.GetDependents(ctx, "a")
		if err != nil {
			return err
		}
		if len(deps) != 1 {
			return errors.New("expected dependent inside tx")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.ExistsOperation(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := s.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StateQueued, a.State)

	deps, err := s.GetDependents(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, deps)

	events, err := s.ListEvents(ctx, types.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testRollbackOnPanic(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
			_ = tx.CreateOperation(ctx, NewOp("a", 1))
			panic("boom")
		})
	})

	ok, err := s.ExistsOperation(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// The store is still usable.
	Create(t, s, NewOp("b", 2))
}

func testSaveOperations(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, NewOp("a", 1), NewOp("b", 2, "a"))

	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		a, err := tx.GetOperation(ctx, "a")
		if err != nil {
			return err
		}
		a.State = types.StateDone
		a.Updated = 10
		// Unchanged values are still a successful save.
		b, err := tx.GetOperation(ctx, "b")
		if err != nil {
			return err
		}
		return tx.SaveOperations(ctx, []*types.Operation{a, b})
	})
	require.NoError(t, err)

	a, err := s.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StateDone, a.State)
	assert.Equal(t, int64(10), a.Updated)
	assert.Equal(t, int64(1), a.Created)

	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.SaveOperations(ctx, []*types.Operation{NewOp("ghost", 1)})
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteReferenced(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, NewOp("a", 1), NewOp("b", 2, "a"))

	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.DeleteOperation(ctx, "a")
	})
	assert.ErrorIs(t, err, storage.ErrReferenced)

	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.DeleteOperation(ctx, "b"); err != nil {
			return err
		}
		return tx.DeleteOperation(ctx, "a")
	})
	require.NoError(t, err)

	ops, err := s.ListOperations(ctx, types.OperationFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)

	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.DeleteOperation(ctx, "a")
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListOperations(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	other := NewOp("z", 1)
	other.TargetAgentID = "agent-2"
	done := NewOp("d", 3)
	done.State = types.StateDone
	Create(t, s, NewOp("c", 2), NewOp("b", 2), other, done)

	ops, err := s.ListOperations(ctx, types.OperationFilter{TargetAgentID: "agent-1", State: types.StateQueued})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(ops))

	ops, err = s.ListOperations(ctx, types.OperationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "b"}, ids(ops))

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[types.StateQueued])
	assert.Equal(t, 1, counts[types.StateDone])
}

func testListEvents(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var recorded []int64
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		recorded = recorded[:0]
		for i, ref := range []string{"a", "b", "a", "a"} {
			ev := &types.Event{
				Severity:  types.SeverityInfo,
				EventType: types.EventOperationCreated,
				Message:   "event",
				DetailRef: ref,
				Created:   base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			}
			if err := tx.RecordEvent(ctx, ev); err != nil {
				return err
			}
			recorded = append(recorded, ev.ID)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recorded, 4)
	for i := 1; i < len(recorded); i++ {
		assert.Greater(t, recorded[i], recorded[i-1], "event ids increase")
	}

	all, err := s.ListEvents(ctx, types.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, recorded[0], all[0].ID)
	assert.Equal(t, recorded[3], all[3].ID)

	forA, err := s.ListEvents(ctx, types.EventFilter{DetailRef: "a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, recorded[2], forA[0].ID)
	assert.Equal(t, recorded[3], forA[1].ID)

	recent, err := s.ListEvents(ctx, types.EventFilter{Since: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
