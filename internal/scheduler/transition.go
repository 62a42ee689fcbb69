package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/edgefleet/c2d/internal/opgraph"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// UpdateOperationState moves operation id to state and returns the result.
//
// Entering FAILED or CANCELLED forces every transitive dependent into
// CANCELLED. The operation, the cascaded dependents and one audit event are
// written in a single transaction; any failure rolls all of it back.
//
// Re-applying the current state of a terminal operation is a no-op. Other
// transitions not allowed by the state machine fail with ErrInvalidTransition;
// cancelling an operation that already FAILED is one of them, not a no-op.
func (s *Service) UpdateOperationState(ctx context.Context, id string, state types.OperationState, actor string) (*types.Operation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: operation id is required", types.ErrValidation)
	}
	if state == "" {
		return nil, fmt.Errorf("%w: state is required", types.ErrValidation)
	}
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: invalid state: %q", types.ErrValidation, state)
	}

	var (
		updated  *types.Operation
		previous types.OperationState
		cascaded []string
		noop     bool
	)
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cascaded, noop = nil, false

		op, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		previous = op.State
		if previous == state && previous.IsTerminal() {
			updated, noop = op, true
			return nil
		}
		if !types.CanTransition(previous, state) {
			return fmt.Errorf("%w: operation %s is %s, cannot move to %s", ErrInvalidTransition, id, previous, state)
		}

		now := s.nowMillis()
		op.State = state
		op.Updated = now
		changes := []*types.Operation{op}

		if state.CascadesCancellation() {
			forced, err := cancelDependents(ctx, tx, op, now)
			if err != nil {
				return err
			}
			for _, d := range forced {
				cascaded = append(cascaded, d.ID)
			}
			changes = append(changes, forced...)
		}

		if err := tx.SaveOperations(ctx, changes); err != nil {
			return fmt.Errorf("save operations: %w", err)
		}
		if err := tx.RecordEvent(ctx, transitionEvent(op, previous, len(cascaded), actor, now)); err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		updated = op
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return updated, nil
	}

	m := schedulerMetrics()
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(previous)),
		attribute.String("to", string(state)),
	))
	if len(cascaded) > 0 {
		m.cascaded.Add(ctx, int64(len(cascaded)))
	}
	s.log(ctx).Info("operation state changed",
		"id", id,
		"from", previous,
		"to", state,
		"cascaded", len(cascaded),
		"actor", actor)
	return updated, nil
}

// cancelDependents builds the dependent graph of op and returns every
// transitive dependent not already CANCELLED, set to CANCELLED, in
// dependency-first order.
func cancelDependents(ctx context.Context, tx storage.Transaction, op *types.Operation, now int64) ([]*types.Operation, error) {
	g, err := opgraph.NewBuilder(tx, 0).BuildDependentGraph(ctx, []*types.Operation{op})
	if err != nil {
		return nil, fmt.Errorf("build dependent graph of %s: %w", op.ID, err)
	}
	order, err := opgraph.TopologicalSort(g, false)
	if err != nil {
		return nil, fmt.Errorf("sort dependent graph of %s: %w", op.ID, err)
	}
	var forced []*types.Operation
	for _, d := range order {
		if d.ID == op.ID || d.State == types.StateCancelled {
			continue
		}
		d.State = types.StateCancelled
		d.Updated = now
		forced = append(forced, d)
	}
	return forced, nil
}

func transitionEvent(op *types.Operation, previous types.OperationState, cascaded int, actor string, now int64) *types.Event {
	msg := fmt.Sprintf("%s -> %s: %s", previous, op.State, op.Summary())
	if cascaded > 0 {
		msg += fmt.Sprintf(" (cancelled %d dependent operations)", cascaded)
	}
	severity := types.SeverityInfo
	switch op.State {
	case types.StateFailed:
		severity = types.SeverityError
	case types.StateCancelled:
		severity = types.SeverityWarn
	}
	return &types.Event{
		Severity:  severity,
		EventType: types.EventOperationStateChanged,
		Message:   msg,
		DetailRef: op.ID,
		Actor:     actor,
		Created:   now,
	}
}
