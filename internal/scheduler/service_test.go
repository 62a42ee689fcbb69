package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/logging"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/types"
)

const agentX = "agent-x"

type fixture struct {
	svc   *Service
	store storage.Storage
	tick  atomic.Int64
	seq   atomic.Int64
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), limits)
}

func newFixtureWithStore(t *testing.T, store storage.Storage, limits Limits) *fixture {
	t.Helper()
	f := &fixture{store: store}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := New(store, logging.Discard(), limits,
		WithClock(func() time.Time {
			return base.Add(time.Duration(f.tick.Add(1)) * time.Millisecond)
		}),
		WithIDGenerator(func() string {
			return fmt.Sprintf("op-%04d", f.seq.Add(1))
		}),
	)
	require.NoError(t, err)
	f.svc = svc
	t.Cleanup(func() { _ = store.Close() })
	return f
}

func (f *fixture) create(t *testing.T, agent string, deps ...string) *types.Operation {
	t.Helper()
	op, err := f.svc.CreateOperation(context.Background(), &types.Operation{
		Operation:     types.OpStart,
		Operand:       "flow",
		TargetAgentID: agent,
		Dependencies:  deps,
	}, "tester")
	require.NoError(t, err)
	return op
}

func (f *fixture) setState(t *testing.T, id string, state types.OperationState) {
	t.Helper()
	_, err := f.svc.UpdateOperationState(context.Background(), id, state, "tester")
	require.NoError(t, err)
}

func (f *fixture) state(t *testing.T, id string) types.OperationState {
	t.Helper()
	op, err := f.svc.GetOperation(context.Background(), id)
	require.NoError(t, err)
	return op.State
}

func batchIDs(batch []types.C2Operation) []string {
	ids := make([]string, len(batch))
	for i, op := range batch {
		ids[i] = op.Identifier
	}
	return ids
}

func TestNewRejectsTerminalInitialState(t *testing.T) {
	_, err := New(memory.New(), nil, Limits{InitialState: types.StateDone})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestLimitsDefaultsAndReload(t *testing.T) {
	f := newFixture(t, Limits{})
	l := f.svc.Limits()
	assert.Equal(t, DefaultMaxCandidates, l.MaxCandidates)
	assert.Equal(t, types.StateQueued, l.InitialState)

	require.NoError(t, f.svc.SetLimits(Limits{MaxCandidates: 7, InitialState: types.StateNew}))
	assert.Equal(t, 7, f.svc.Limits().MaxCandidates)
	assert.Equal(t, types.StateNew, f.create(t, agentX).State)

	assert.Error(t, f.svc.SetLimits(Limits{InitialState: types.StateFailed}))
	assert.Equal(t, 7, f.svc.Limits().MaxCandidates)
}

func TestStats(t *testing.T) {
	f := newFixture(t, Limits{})
	a := f.create(t, agentX)
	f.create(t, agentX)
	f.setState(t, a.ID, types.StateDone)

	counts, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.StateDone])
	assert.Equal(t, 1, counts[types.StateQueued])
}

func TestGetOperationsValidation(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.svc.GetOperations(context.Background(), types.OperationFilter{State: "BOGUS"})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.svc.GetOperations(context.Background(), types.OperationFilter{Limit: -1})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.svc.GetOperation(context.Background(), " ")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		client   bool
		notFound bool
	}{
		{"validation", fmt.Errorf("x: %w", types.ErrValidation), true, false},
		{"transition", ErrInvalidTransition, true, false},
		{"unknown dependency", ErrUnknownDependency, true, false},
		{"referenced", fmt.Errorf("x: %w", storage.ErrReferenced), true, false},
		{"not found", fmt.Errorf("x: %w", storage.ErrNotFound), false, true},
		{"other", errors.New("connection refused"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.client, IsClientError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, !tt.client && !tt.notFound, IsInternal(tt.err))
		})
	}
	assert.False(t, IsInternal(nil))
}
