// Package storage provides shared types for operation storage.
//
// Concrete implementations live in the memory and dolt sub-packages. This
// package holds the interfaces and sentinel errors referenced by both the
// implementations and their consumers (scheduler, cmd/c2d, etc.).
package storage

import (
	"context"
	"errors"

	"github.com/edgefleet/c2d/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating an operation whose id is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrReferenced is returned when deleting an operation that another operation
// lists as a dependency.
var ErrReferenced = errors.New("operation is referenced as a dependency")

// Reader is the read side shared by Storage and Transaction.
type Reader interface {
	GetOperation(ctx context.Context, id string) (*types.Operation, error)
	// ListOperations returns matching operations ordered by creation time, then id.
	ListOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error)
	// GetDependents returns the operations that list id as a direct dependency.
	GetDependents(ctx context.Context, id string) ([]*types.Operation, error)
	ExistsOperation(ctx context.Context, id string) (bool, error)
	// ListEvents returns the newest matching events in chronological order.
	ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
}

// Storage is the interface satisfied by *dolt.DoltStore and *memory.Store.
// Consumers depend on this interface rather than on a concrete type so that
// alternative implementations (instrumented wrappers, fakes) can be substituted.
type Storage interface {
	Reader

	// CountByState returns the number of operations in each state.
	CountByState(ctx context.Context) (map[types.OperationState]int, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
}

// Transaction provides atomic multi-operation support within a single unit of work.
//
// # Transaction Semantics
//
//   - Reads see the transaction's own uncommitted writes
//   - Changes are not visible to other connections until commit
//   - If the callback returns an error, the transaction is rolled back
//   - If the callback panics, the transaction is rolled back
//   - On successful return from the callback, the transaction is committed
//
// # Example Usage
//
//	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
//	    op, err := tx.GetOperation(ctx, id)
//	    if err != nil {
//	        return err // Triggers rollback
//	    }
//	    op.State = types.StateCancelled
//	    return tx.SaveOperations(ctx, []*types.Operation{op})
//	})
type Transaction interface {
	Reader

	// CreateOperation inserts op with its dependency set. It fails with
	// ErrAlreadyExists for a duplicate id and ErrNotFound for a missing dependency.
	CreateOperation(ctx context.Context, op *types.Operation) error
	// SaveOperations writes the mutable fields (state, updated) of existing operations.
	SaveOperations(ctx context.Context, ops []*types.Operation) error
	// DeleteOperation removes an operation. It fails with ErrReferenced while
	// any other operation depends on it.
	DeleteOperation(ctx context.Context, id string) error
	// RecordEvent appends an audit event and assigns its ID.
	RecordEvent(ctx context.Context, event *types.Event) error
}
