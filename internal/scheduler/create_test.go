package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/types"
)

func TestCreateOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})
	a := f.create(t, agentX)

	op, err := f.svc.CreateOperation(ctx, &types.Operation{
		ID:            "client-chosen",
		Operation:     "restart",
		TargetAgentID: " " + agentX + " ",
		Args:          map[string]string{"flow": "ingest"},
		Dependencies:  []string{a.ID, a.ID},
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, "op-0002", op.ID)
	assert.Equal(t, types.OpRestart, op.Operation)
	assert.Equal(t, agentX, op.TargetAgentID)
	assert.Equal(t, []string{a.ID}, op.Dependencies)
	assert.Equal(t, types.StateQueued, op.State)
	assert.Equal(t, "alice", op.CreatedBy)
	assert.NotZero(t, op.Created)
	assert.Equal(t, op.Created, op.Updated)

	stored, err := f.svc.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op, stored)

	events, err := f.svc.Events(ctx, types.EventFilter{DetailRef: op.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventOperationCreated, events[0].EventType)
	assert.Equal(t, "alice", events[0].Actor)
}

func TestCreateOperationValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})

	tests := []struct {
		name string
		op   *types.Operation
	}{
		{"nil", nil},
		{"missing agent", &types.Operation{Operation: types.OpStart}},
		{"missing type", &types.Operation{TargetAgentID: agentX}},
		{"bad type", &types.Operation{Operation: "REBOOT", TargetAgentID: agentX}},
		{"terminal state", &types.Operation{Operation: types.OpStart, TargetAgentID: agentX, State: types.StateDone}},
		{"unknown state", &types.Operation{Operation: types.OpStart, TargetAgentID: agentX, State: "PAUSED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOperation(ctx, tt.op, "tester")
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.True(t, IsClientError(err))
		})
	}

	ops, err := f.svc.GetOperations(ctx, types.OperationFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestCreateOperationUnknownDependency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})
	a := f.create(t, agentX)

	_, err := f.svc.CreateOperation(ctx, &types.Operation{
		Operation:     types.OpStart,
		TargetAgentID: agentX,
		Dependencies:  []string{a.ID, "does-not-exist"},
	}, "tester")
	require.ErrorIs(t, err, ErrUnknownDependency)
	assert.True(t, IsClientError(err))
	assert.False(t, IsNotFound(err))

	ops, err := f.svc.GetOperations(ctx, types.OperationFilter{})
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestCreateOperationsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})
	existing := f.create(t, agentX)

	ops, err := f.svc.CreateOperations(ctx, []CreateRequest{
		{Operation: &types.Operation{Operation: types.OpStop, TargetAgentID: agentX}},
		{Operation: &types.Operation{Operation: types.OpUpdate, TargetAgentID: agentX, Dependencies: []string{existing.ID}}, After: []int{0}},
		{Operation: &types.Operation{Operation: types.OpStart, TargetAgentID: agentX, State: types.StateNew}, After: []int{0, 1}},
	}, "tester")
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Empty(t, ops[0].Dependencies)
	assert.Equal(t, []string{existing.ID, ops[0].ID}, ops[1].Dependencies)
	assert.Equal(t, []string{ops[0].ID, ops[1].ID}, ops[2].Dependencies)
	assert.Equal(t, types.StateNew, ops[2].State)

	batch, err := f.svc.SelectBatch(ctx, agentX, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{existing.ID, ops[0].ID, ops[1].ID}, batchIDs(batch))
}

func TestCreateOperationsRejectsForwardReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})

	for _, after := range [][]int{{1}, {0}, {-1}} {
		_, err := f.svc.CreateOperations(ctx, []CreateRequest{
			{Operation: &types.Operation{Operation: types.OpStop, TargetAgentID: agentX}, After: after},
			{Operation: &types.Operation{Operation: types.OpStart, TargetAgentID: agentX}},
		}, "tester")
		assert.ErrorIs(t, err, types.ErrValidation, "after=%v", after)
	}

	_, err := f.svc.CreateOperations(ctx, nil, "tester")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCreateOperationsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Limits{})

	_, err := f.svc.CreateOperations(ctx, []CreateRequest{
		{Operation: &types.Operation{Operation: types.OpStop, TargetAgentID: agentX}},
		{Operation: &types.Operation{Operation: types.OpStart, TargetAgentID: agentX, Dependencies: []string{"ghost"}}},
	}, "tester")
	require.ErrorIs(t, err, ErrUnknownDependency)

	ops, err := f.svc.GetOperations(ctx, types.OperationFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)
	events, err := f.svc.Events(ctx, types.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
