package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/edgefleet/c2d/internal/opgraph"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

type selection struct {
	batch      []types.C2Operation
	seeds      int
	graphNodes int
	inspected  int
	overflow   bool
}

// SelectBatch returns the operations to send to agentID on this heartbeat,
// in an order where every operation follows the batch members it depends on.
//
// At most maxCandidates entries of the dependency-first order are inspected,
// so at most maxCandidates operations are returned. maxCandidates <= 0 uses
// the configured default. Each returned operation's dependencies are reduced
// to ids present in the same batch. Nothing is written.
//
// Concurrent calls for the same agent and bound share one computation; the
// returned slice is a fresh copy but its elements must be treated as read-only.
// The shared computation is not cancelled by any single caller; each caller
// stops waiting when its own ctx ends.
func (s *Service) SelectBatch(ctx context.Context, agentID string, maxCandidates int) ([]types.C2Operation, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("%w: agentId is required", types.ErrValidation)
	}
	limits := s.Limits()
	if maxCandidates <= 0 {
		maxCandidates = limits.MaxCandidates
	}

	key := agentID + "\x00" + strconv.Itoa(maxCandidates)
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.selectBatch(shared, agentID, maxCandidates, limits.MaxGraphNodes)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("select batch for agent %s: %w", agentID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]types.C2Operation)), nil
	}
}

func (s *Service) selectBatch(ctx context.Context, agentID string, maxCandidates, maxNodes int) ([]types.C2Operation, error) {
	start := time.Now()
	log := s.log(ctx).With("agent", agentID)

	var sel selection
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		sel, err = selectInTx(ctx, tx, agentID, maxCandidates, maxNodes)
		return err
	})

	m := schedulerMetrics()
	attrs := metric.WithAttributes(attribute.String("c2d.agent.id", agentID))
	m.selectDur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		return nil, fmt.Errorf("select batch for agent %s: %w", agentID, err)
	}
	if sel.overflow {
		m.graphOverflow.Add(ctx, 1, attrs)
		log.Warn("dependency graph exceeds node cap, sending empty batch",
			"max_graph_nodes", maxNodes,
			"queued", sel.seeds)
		return []types.C2Operation{}, nil
	}
	m.batches.Add(ctx, 1, attrs)
	m.selected.Add(ctx, int64(len(sel.batch)), attrs)
	m.inspected.Record(ctx, int64(sel.inspected), attrs)
	m.graphNodes.Record(ctx, int64(sel.graphNodes), attrs)
	log.Debug("batch selected",
		"queued", sel.seeds,
		"graph_nodes", sel.graphNodes,
		"inspected", sel.inspected,
		"accepted", len(sel.batch),
		"elapsed", time.Since(start))
	return sel.batch, nil
}

func selectInTx(ctx context.Context, tx storage.Transaction, agentID string, maxCandidates, maxNodes int) (selection, error) {
	sel := selection{batch: []types.C2Operation{}}

	seeds, err := tx.ListOperations(ctx, types.OperationFilter{TargetAgentID: agentID, State: types.StateQueued})
	if err != nil {
		return sel, fmt.Errorf("list queued operations: %w", err)
	}
	sel.seeds = len(seeds)
	if len(seeds) == 0 {
		return sel, nil
	}

	// The whole closure is needed: ancestors owned by other agents, or not
	// queued yet, still decide eligibility.
	g, err := opgraph.NewBuilder(tx, maxNodes).BuildDependencyGraph(ctx, seeds, false)
	if errors.Is(err, opgraph.ErrGraphTooLarge) {
		sel.overflow = true
		return sel, nil
	}
	if err != nil {
		return sel, fmt.Errorf("build dependency graph: %w", err)
	}
	sel.graphNodes = g.Len()

	sorted, err := opgraph.TopologicalSort(g, true)
	if err != nil {
		return sel, fmt.Errorf("sort dependency graph: %w", err)
	}

	accepted := make(map[string]bool)
	for _, op := range sorted {
		if sel.inspected >= maxCandidates {
			break
		}
		sel.inspected++
		if op.TargetAgentID != agentID || op.State != types.StateQueued {
			continue
		}
		deps, ok := satisfiedDependencies(g, op, accepted)
		if !ok {
			continue
		}
		accepted[op.ID] = true
		sel.batch = append(sel.batch, op.ToC2Operation(deps))
	}
	return sel, nil
}

// satisfiedDependencies reports whether every direct dependency of op is
// either accepted into the batch or DONE, and returns the accepted ones.
// DONE dependencies are dropped: the agent cannot observe their completion.
func satisfiedDependencies(g *opgraph.Graph, op *types.Operation, accepted map[string]bool) ([]string, bool) {
	deps := make([]string, 0, len(op.Dependencies))
	for _, id := range op.Dependencies {
		if accepted[id] {
			deps = append(deps, id)
			continue
		}
		dep, found := g.Lookup(id)
		if !found || dep.State != types.StateDone {
			return nil, false
		}
	}
	return deps, true
}
