package opgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// Source resolves operations while a graph is built. storage.Transaction
// satisfies it, so a build reads from the same unit of work that later writes.
type Source interface {
	GetOperation(ctx context.Context, id string) (*types.Operation, error)
	GetDependents(ctx context.Context, id string) ([]*types.Operation, error)
}

// Builder walks a Source into a Graph with an explicit work stack.
type Builder struct {
	Source Source

	// MaxNodes caps BuildDependencyGraph. Zero means unlimited. The dependent
	// graph is never capped since cascades must reach every dependent.
	MaxNodes int
}

// NewBuilder returns a Builder reading from src.
func NewBuilder(src Source, maxNodes int) *Builder {
	return &Builder{Source: src, MaxNodes: maxNodes}
}

// BuildDependencyGraph resolves the transitive dependencies of seeds. Every
// seed becomes a node. Each dependency gets an edge from its dependent and is
// expanded in turn, unless stopAtSatisfied is set and it is already DONE, in
// which case it stays a leaf.
//
// A dependency id that does not resolve is ErrDanglingDependency.
func (b *Builder) BuildDependencyGraph(ctx context.Context, seeds []*types.Operation, stopAtSatisfied bool) (*Graph, error) {
	g := New()
	stack := make([]*types.Operation, 0, len(seeds))
	for _, op := range seeds {
		g.AddNode(op)
		stack = append(stack, op)
	}
	if err := b.checkSize(g); err != nil {
		return nil, err
	}

	expanded := make(map[string]bool, len(seeds))
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if expanded[op.ID] {
			continue
		}
		expanded[op.ID] = true

		for _, depID := range op.Dependencies {
			dep, err := b.resolve(ctx, g, op.ID, depID)
			if err != nil {
				return nil, err
			}
			g.AddEdge(op, dep)
			if err := b.checkSize(g); err != nil {
				return nil, err
			}
			if stopAtSatisfied && dep.State == types.StateDone {
				continue
			}
			stack = append(stack, dep)
		}
	}
	return g, nil
}

// BuildDependentGraph resolves every operation that transitively depends on
// seeds, with edges pointing from an operation to its dependents. No node is
// pruned by state.
func (b *Builder) BuildDependentGraph(ctx context.Context, seeds []*types.Operation) (*Graph, error) {
	g := New()
	stack := make([]*types.Operation, 0, len(seeds))
	for _, op := range seeds {
		g.AddNode(op)
		stack = append(stack, op)
	}

	expanded := make(map[string]bool, len(seeds))
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if expanded[op.ID] {
			continue
		}
		expanded[op.ID] = true

		dependents, err := b.Source.GetDependents(ctx, op.ID)
		if err != nil {
			return nil, fmt.Errorf("get dependents of %s: %w", op.ID, err)
		}
		for _, d := range dependents {
			if existing, ok := g.Lookup(d.ID); ok {
				d = existing
			}
			g.AddEdge(op, d)
			stack = append(stack, d)
		}
	}
	return g, nil
}

func (b *Builder) resolve(ctx context.Context, g *Graph, fromID, depID string) (*types.Operation, error) {
	if dep, ok := g.Lookup(depID); ok {
		return dep, nil
	}
	dep, err := b.Source.GetOperation(ctx, depID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s depends on %s", ErrDanglingDependency, fromID, depID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve dependency %s of %s: %w", depID, fromID, err)
	}
	return dep, nil
}

func (b *Builder) checkSize(g *Graph) error {
	if b.MaxNodes > 0 && g.Len() > b.MaxNodes {
		return fmt.Errorf("%w: more than %d nodes", ErrGraphTooLarge, b.MaxNodes)
	}
	return nil
}
