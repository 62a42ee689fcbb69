package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// DeleteOperation removes operation id. It fails with storage.ErrReferenced
// while any operation lists id as a dependency; the check and the delete run
// in the same transaction, so a concurrent create cannot slip in between.
func (s *Service) DeleteOperation(ctx context.Context, id string, actor string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: operation id is required", types.ErrValidation)
	}

	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		op, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		dependents, err := tx.GetDependents(ctx, id)
		if err != nil {
			return fmt.Errorf("get dependents: %w", err)
		}
		if len(dependents) > 0 {
			ids := make([]string, len(dependents))
			for i, d := range dependents {
				ids[i] = d.ID
			}
			return fmt.Errorf("%w: %s is a dependency of %s", storage.ErrReferenced, id, strings.Join(ids, ", "))
		}
		if err := tx.DeleteOperation(ctx, id); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, &types.Event{
			Severity:  types.SeverityWarn,
			EventType: types.EventOperationDeleted,
			Message:   fmt.Sprintf("deleted %s (was %s)", op.Summary(), op.State),
			DetailRef: id,
			Actor:     actor,
			Created:   s.nowMillis(),
		})
	})
	if err != nil {
		return err
	}
	s.log(ctx).Info("operation deleted", "id", id, "actor", actor)
	return nil
}
