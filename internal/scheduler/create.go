package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// CreateRequest is one entry of a CreateOperations batch.
type CreateRequest struct {
	Operation *types.Operation
	// After holds indices of earlier requests in the same batch that this
	// operation depends on. They are resolved to ids once those are assigned.
	After []int
}

// CreateOperation validates op, assigns its id and audit fields and stores it.
// Every dependency must already exist. Any client-supplied id is replaced.
func (s *Service) CreateOperation(ctx context.Context, op *types.Operation, actor string) (*types.Operation, error) {
	ops, err := s.CreateOperations(ctx, []CreateRequest{{Operation: op}}, actor)
	if err != nil {
		return nil, err
	}
	return ops[0], nil
}

// CreateOperations stores a batch atomically. A request may depend on
// existing operations and on earlier requests of the same batch, never on
// later ones, so the dependency relation stays acyclic.
func (s *Service) CreateOperations(ctx context.Context, reqs []CreateRequest, actor string) ([]*types.Operation, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no operations to create", types.ErrValidation)
	}
	limits := s.Limits()
	now := s.nowMillis()

	prepared := make([]*types.Operation, len(reqs))
	local := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		if req.Operation == nil {
			return nil, fmt.Errorf("%w: operation %d is empty", types.ErrValidation, i)
		}
		op := req.Operation.Clone()
		op.ID = s.newID()
		deps := slices.Clone(op.Dependencies)
		for _, j := range req.After {
			if j < 0 || j >= i {
				return nil, fmt.Errorf("%w: operation %d: after index %d must refer to an earlier operation", types.ErrValidation, i, j)
			}
			deps = append(deps, prepared[j].ID)
		}
		op.Dependencies = deps
		op.Normalize()
		if op.State == "" {
			op.State = limits.InitialState
		}
		switch op.State {
		case types.StateNew, types.StateReady, types.StateQueued:
		default:
			return nil, fmt.Errorf("%w: operation %d: cannot create an operation in state %s", types.ErrValidation, i, op.State)
		}
		op.CreatedBy = actor
		op.Created = now
		op.Updated = now
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		prepared[i] = op
		local[op.ID] = true
	}

	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for i, op := range prepared {
			for _, dep := range op.Dependencies {
				if local[dep] {
					continue
				}
				ok, err := tx.ExistsOperation(ctx, dep)
				if err != nil {
					return fmt.Errorf("check dependency %s: %w", dep, err)
				}
				if !ok {
					return fmt.Errorf("%w: operation %d depends on %s", ErrUnknownDependency, i, dep)
				}
			}
			if err := tx.CreateOperation(ctx, op); err != nil {
				// The existence check above ran in this transaction, so a
				// missing dependency here means it vanished concurrently.
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: %w", ErrUnknownDependency, err)
				}
				return fmt.Errorf("create operation %s: %w", op.ID, err)
			}
			if err := tx.RecordEvent(ctx, &types.Event{
				Severity:  types.SeverityInfo,
				EventType: types.EventOperationCreated,
				Message:   fmt.Sprintf("created %s in state %s", op.Summary(), op.State),
				DetailRef: op.ID,
				Actor:     actor,
				Created:   now,
			}); err != nil {
				return fmt.Errorf("record event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.log(ctx)
	for _, op := range prepared {
		log.Info("operation created",
			"id", op.ID,
			"operation", op.Operation,
			"agent", op.TargetAgentID,
			"state", op.State,
			"dependencies", len(op.Dependencies))
	}
	out := make([]*types.Operation, len(prepared))
	for i, op := range prepared {
		out[i] = op.Clone()
	}
	return out, nil
}
