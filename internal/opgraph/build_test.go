package opgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

type fakeSource struct {
	ops   map[string]*types.Operation
	calls int
	err   error
}

func newFakeSource(ops ...*types.Operation) *fakeSource {
	s := &fakeSource{ops: make(map[string]*types.Operation)}
	for _, o := range ops {
		s.ops[o.ID] = o
	}
	return s
}

func (s *fakeSource) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, storage.ErrNotFound)
	}
	return o, nil
}

func (s *fakeSource) GetDependents(ctx context.Context, id string) ([]*types.Operation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []*types.Operation
	for _, o := range s.ops {
		if o.DependsOn(id) {
			out = append(out, o)
		}
	}
	return out, nil
}

func withDeps(id string, created int64, state types.OperationState, deps ...string) *types.Operation {
	return &types.Operation{ID: id, Created: created, State: state, Dependencies: types.NormalizeIDs(deps)}
}

func TestBuildDependencyGraph(t *testing.T) {
	ctx := context.Background()
	root := withDeps("root", 1, types.StateDone)
	a := withDeps("a", 2, types.StateDone, "root")
	b := withDeps("b", 3, types.StateQueued, "a")
	c := withDeps("c", 4, types.StateQueued, "a", "b")
	lone := withDeps("lone", 5, types.StateQueued)
	src := newFakeSource(root, a, b, c, lone)

	g, err := NewBuilder(src, 0).BuildDependencyGraph(ctx, []*types.Operation{c, lone}, false)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())
	assert.True(t, g.HasEdge("c", "a"))
	assert.True(t, g.HasEdge("c", "b"))
	assert.True(t, g.HasEdge("b", "a"))
	assert.True(t, g.HasEdge("a", "root"))
	assert.Equal(t, 4, g.EdgeCount())
	assert.Equal(t, []string{"a", "b"}, g.Successors("c"))
	assert.Equal(t, []string{"b", "c"}, g.Predecessors("a"))

	// A satisfied dependency stays a leaf.
	g, err = NewBuilder(src, 0).BuildDependencyGraph(ctx, []*types.Operation{c}, true)
	require.NoError(t, err)
	assert.True(t, g.Contains("a"))
	assert.False(t, g.Contains("root"))
	assert.Equal(t, 3, g.Len())
}

func TestBuildDependencyGraphDangling(t *testing.T) {
	b := withDeps("b", 2, types.StateQueued, "gone")
	_, err := NewBuilder(newFakeSource(b), 0).BuildDependencyGraph(context.Background(), []*types.Operation{b}, false)
	assert.ErrorIs(t, err, ErrDanglingDependency)
	assert.True(t, IsInvariantViolation(err))
}

func TestBuildDependencyGraphSourceError(t *testing.T) {
	b := withDeps("b", 2, types.StateQueued, "a")
	src := newFakeSource(b)
	src.err = errors.New("connection reset")
	_, err := NewBuilder(src, 0).BuildDependencyGraph(context.Background(), []*types.Operation{b}, false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDanglingDependency))
	assert.ErrorIs(t, err, src.err)
}

func TestBuildDependencyGraphNodeCap(t *testing.T) {
	ctx := context.Background()
	a := withDeps("a", 1, types.StateQueued)
	b := withDeps("b", 2, types.StateQueued, "a")
	c := withDeps("c", 3, types.StateQueued, "b")
	src := newFakeSource(a, b, c)

	_, err := NewBuilder(src, 2).BuildDependencyGraph(ctx, []*types.Operation{c}, false)
	assert.ErrorIs(t, err, ErrGraphTooLarge)

	_, err = NewBuilder(src, 2).BuildDependencyGraph(ctx, []*types.Operation{a, b, c}, false)
	assert.ErrorIs(t, err, ErrGraphTooLarge)

	g, err := NewBuilder(src, 3).BuildDependencyGraph(ctx, []*types.Operation{c}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestBuildDependencyGraphSharedAncestorsResolvedOnce(t *testing.T) {
	ctx := context.Background()
	base := withDeps("base", 1, types.StateQueued)
	var seeds []*types.Operation
	all := []*types.Operation{base}
	for i := range 50 {
		o := withDeps(fmt.Sprintf("leaf-%02d", i), int64(10+i), types.StateQueued, "base")
		seeds = append(seeds, o)
		all = append(all, o)
	}
	src := newFakeSource(all...)
	g, err := NewBuilder(src, 0).BuildDependencyGraph(ctx, seeds, false)
	require.NoError(t, err)
	assert.Equal(t, 51, g.Len())
	assert.Equal(t, 1, src.calls)
}

func TestBuildDependencyGraphCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := withDeps("a", 1, types.StateQueued)
	_, err := NewBuilder(newFakeSource(a), 0).BuildDependencyGraph(ctx, []*types.Operation{a}, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildDependentGraph(t *testing.T) {
	ctx := context.Background()
	a := withDeps("a", 1, types.StateQueued)
	b := withDeps("b", 2, types.StateCancelled, "a")
	c := withDeps("c", 3, types.StateDone, "b")
	d := withDeps("d", 4, types.StateQueued, "a", "c")
	other := withDeps("other", 5, types.StateQueued)
	src := newFakeSource(a, b, c, d, other)

	// MaxNodes does not apply to dependent graphs.
	g, err := NewBuilder(src, 1).BuildDependentGraph(ctx, []*types.Operation{a})
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.False(t, g.Contains("other"))
	assert.True(t, g.HasEdge("a", "b"))
	assert.True(t, g.HasEdge("b", "c"))
	assert.True(t, g.HasEdge("c", "d"))
	assert.True(t, g.HasEdge("a", "d"))

	order, err := TopologicalSort(g, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(order))
}
