package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

const (
	// maxTransactionRetries bounds replays after serialization conflicts.
	maxTransactionRetries = 5
	initialRetryDelay     = 50 * time.Millisecond
	maxRetryDelay         = 2 * time.Second
)

// doltTransaction implements storage.Transaction for Dolt.
type doltTransaction struct {
	tx *sql.Tx
	// wrote is set by every mutating method; read-only transactions skip the auto-commit.
	wrote bool
}

var _ storage.Transaction = (*doltTransaction)(nil)

// RunInTransaction executes fn within a database transaction. A commit that
// fails with a serialization conflict (Error 1213, 1205) replays fn with
// exponential backoff, so fn must not depend on state from a prior attempt.
// With auto-commit on, a Dolt commit follows only transactions that wrote.
func (s *DoltStore) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.readOnly {
		return fmt.Errorf("dolt store is read-only")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bo := backoff.WithMaxRetries(newExponentialBackOff(initialRetryDelay, maxRetryDelay, 0), maxTransactionRetries)
	attempt := 0
	wrote := false
	err := retry(ctx, bo, func() error {
		attempt++
		var err error
		wrote, err = s.runTransactionOnce(ctx, fn)
		return err
	}, isSerializationError, func(err error, wait time.Duration) {
		s.log(ctx).Warn("dolt: transaction conflict, retrying",
			"attempt", attempt, "max", maxTransactionRetries, "wait", wait, "error", err)
	})
	if err != nil {
		if isSerializationError(err) {
			return fmt.Errorf("transaction failed after %d attempts: %w", attempt, err)
		}
		return err
	}
	if s.autoCommit && wrote {
		if err := s.Commit(ctx, "c2d: update operations"); err != nil && !isNothingToCommit(err) {
			s.log(ctx).Warn("dolt: auto-commit failed", "error", err)
		}
	}
	return nil
}

func (s *DoltStore) runTransactionOnce(ctx context.Context, fn func(tx storage.Transaction) error) (wrote bool, err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	tx := &doltTransaction{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return false, err
	}
	return tx.wrote, sqlTx.Commit()
}

func (t *doltTransaction) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	return getOperation(ctx, t.tx, id)
}

func (t *doltTransaction) ListOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error) {
	return listOperations(ctx, t.tx, filter)
}

func (t *doltTransaction) GetDependents(ctx context.Context, id string) ([]*types.Operation, error) {
	return getDependents(ctx, t.tx, id)
}

func (t *doltTransaction) ExistsOperation(ctx context.Context, id string) (bool, error) {
	return existsOperation(ctx, t.tx, id)
}

func (t *doltTransaction) ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	return listEvents(ctx, t.tx, filter)
}

// CreateOperation inserts op and its dependency rows.
func (t *doltTransaction) CreateOperation(ctx context.Context, op *types.Operation) error {
	if op.ID == "" {
		return fmt.Errorf("create operation: empty id")
	}
	exists, err := existsOperation(ctx, t.tx, op.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create operation %s: %w", op.ID, storage.ErrAlreadyExists)
	}
	for _, dep := range op.Dependencies {
		ok, err := existsOperation(ctx, t.tx, dep)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("create operation %s: dependency %s: %w", op.ID, dep, storage.ErrNotFound)
		}
	}
	t.wrote = true
	if err := insertOperation(ctx, t.tx, op); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("create operation %s: %w", op.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert operation %s: %w", op.ID, err)
	}
	return nil
}

// SaveOperations writes state and updated of existing operations.
func (t *doltTransaction) SaveOperations(ctx context.Context, ops []*types.Operation) error {
	for _, op := range ops {
		t.wrote = true
		res, err := t.tx.ExecContext(ctx,
			"UPDATE operations SET state = ?, updated = ? WHERE id = ?",
			string(op.State), op.Updated, op.ID)
		if err != nil {
			return fmt.Errorf("failed to update operation %s: %w", op.ID, err)
		}
		// Unchanged rows report zero affected rows, so confirm before failing.
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			ok, err := existsOperation(ctx, t.tx, op.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("save operation %s: %w", op.ID, storage.ErrNotFound)
			}
		}
	}
	return nil
}

// DeleteOperation removes an operation that nothing depends on.
func (t *doltTransaction) DeleteOperation(ctx context.Context, id string) error {
	ok, err := existsOperation(ctx, t.tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete operation %s: %w", id, storage.ErrNotFound)
	}
	var refs int
	if err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM operation_dependencies WHERE depends_on_id = ?", id).Scan(&refs); err != nil {
		return fmt.Errorf("failed to count dependents of %s: %w", id, err)
	}
	if refs > 0 {
		return fmt.Errorf("delete operation %s: %w", id, storage.ErrReferenced)
	}
	t.wrote = true
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM operation_dependencies WHERE operation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete dependencies of %s: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	return nil
}

// RecordEvent appends an audit event and assigns its ID.
func (t *doltTransaction) RecordEvent(ctx context.Context, event *types.Event) error {
	t.wrote = true
	return insertEvent(ctx, t.tx, event)
}
