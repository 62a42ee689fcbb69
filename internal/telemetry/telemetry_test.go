package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/types"
)

func TestWrapStorageDisabledReturnsInner(t *testing.T) {
	require.NoError(t, Init(context.Background(), Options{}))
	assert.False(t, Enabled())

	s := memory.New()
	assert.Same(t, s, WrapStorage(s))
}

func TestWrapStorageEnabledDelegates(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	ctx := context.Background()

	require.NoError(t, Init(ctx, Options{ServiceName: "c2d-test", Version: "dev", Enabled: true}))
	t.Cleanup(func() { Shutdown(context.Background()) })
	require.True(t, Enabled())

	wrapped := WrapStorage(memory.New())
	_, ok := wrapped.(*InstrumentedStorage)
	require.True(t, ok)

	err := wrapped.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateOperation(ctx, &types.Operation{
			ID:            "a",
			Operation:     types.OpStart,
			TargetAgentID: "agent-1",
			State:         types.StateQueued,
			Created:       1,
			Updated:       1,
		})
	})
	require.NoError(t, err)

	op, err := wrapped.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StateQueued, op.State)

	counts, err := wrapped.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.StateQueued])

	_, err = wrapped.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sentinel := errors.New("boom")
	err = wrapped.RunInTransaction(ctx, func(storage.Transaction) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	require.NoError(t, wrapped.Close())
}

func TestShutdownDisables(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	require.NoError(t, Init(context.Background(), Options{Enabled: true}))
	Shutdown(context.Background())
	assert.False(t, Enabled())
}
