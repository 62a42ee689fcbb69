// Package memory implements storage.Storage in process memory. It backs unit
// tests and the "memory" storage backend used for local development.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// Store keeps committed state behind a mutex. Transactions run one at a time
// against a copy of that state and swap it in on commit.
type Store struct {
	mu     sync.RWMutex
	state  *snapshot
	closed bool
}

// Compile-time interface checks.
var (
	_ storage.Storage     = (*Store)(nil)
	_ storage.Transaction = (*memoryTx)(nil)
)

type snapshot struct {
	ops         map[string]*types.Operation
	dependents  map[string][]string // dependency id -> sorted dependent ids
	events      []*types.Event
	nextEventID int64
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		ops:         maps.Clone(s.ops),
		dependents:  maps.Clone(s.dependents),
		events:      slices.Clip(s.events),
		nextEventID: s.nextEventID,
	}
}

// New returns an empty store.
func New() *Store {
	return &Store{state: &snapshot{
		ops:         make(map[string]*types.Operation),
		dependents:  make(map[string][]string),
		nextEventID: 1,
	}}
}

func (s *Store) read(fn func(*snapshot) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return fn(s.state)
}

// GetOperation retrieves an operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (op *types.Operation, err error) {
	err = s.read(func(st *snapshot) error {
		op, err = getOperation(st, id)
		return err
	})
	return op, err
}

// ListOperations returns operations matching filter ordered by creation.
func (s *Store) ListOperations(ctx context.Context, filter types.OperationFilter) (ops []*types.Operation, err error) {
	err = s.read(func(st *snapshot) error {
		ops = listOperations(st, filter)
		return nil
	})
	return ops, err
}

// GetDependents returns the operations that directly depend on id.
func (s *Store) GetDependents(ctx context.Context, id string) (ops []*types.Operation, err error) {
	err = s.read(func(st *snapshot) error {
		ops = getDependents(st, id)
		return nil
	})
	return ops, err
}

// ExistsOperation reports whether an operation with id exists.
func (s *Store) ExistsOperation(ctx context.Context, id string) (ok bool, err error) {
	err = s.read(func(st *snapshot) error {
		_, ok = st.ops[id]
		return nil
	})
	return ok, err
}

// ListEvents returns audit events matching filter.
func (s *Store) ListEvents(ctx context.Context, filter types.EventFilter) (events []*types.Event, err error) {
	err = s.read(func(st *snapshot) error {
		events = listEvents(st, filter)
		return nil
	})
	return events, err
}

// CountByState returns the number of operations per state.
func (s *Store) CountByState(ctx context.Context) (counts map[types.OperationState]int, err error) {
	err = s.read(func(st *snapshot) error {
		counts = make(map[types.OperationState]int)
		for _, op := range st.ops {
			counts[op.State]++
		}
		return nil
	})
	return counts, err
}

// RunInTransaction executes fn against a private copy of the store state and
// commits it only if fn returns nil without panicking.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}

	tx := &memoryTx{st: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	s.state = tx.st
	return nil
}

// Close marks the store closed. Further calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryTx struct {
	st *snapshot
}

func (t *memoryTx) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	return getOperation(t.st, id)
}

func (t *memoryTx) ListOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error) {
	return listOperations(t.st, filter), nil
}

func (t *memoryTx) GetDependents(ctx context.Context, id string) ([]*types.Operation, error) {
	return getDependents(t.st, id), nil
}

func (t *memoryTx) ExistsOperation(ctx context.Context, id string) (bool, error) {
	_, ok := t.st.ops[id]
	return ok, nil
}

func (t *memoryTx) ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	return listEvents(t.st, filter), nil
}

func (t *memoryTx) CreateOperation(ctx context.Context, op *types.Operation) error {
	if op.ID == "" {
		return fmt.Errorf("create operation: empty id")
	}
	if _, ok := t.st.ops[op.ID]; ok {
		return fmt.Errorf("create operation %s: %w", op.ID, storage.ErrAlreadyExists)
	}
	for _, dep := range op.Dependencies {
		if _, ok := t.st.ops[dep]; !ok {
			return fmt.Errorf("create operation %s: dependency %s: %w", op.ID, dep, storage.ErrNotFound)
		}
	}
	t.st.ops[op.ID] = op.Clone()
	for _, dep := range op.Dependencies {
		ids := slices.Clone(t.st.dependents[dep])
		i, _ := slices.BinarySearch(ids, op.ID)
		t.st.dependents[dep] = slices.Insert(ids, i, op.ID)
	}
	return nil
}

func (t *memoryTx) SaveOperations(ctx context.Context, ops []*types.Operation) error {
	for _, op := range ops {
		cur, ok := t.st.ops[op.ID]
		if !ok {
			return fmt.Errorf("save operation %s: %w", op.ID, storage.ErrNotFound)
		}
		next := cur.Clone()
		next.State = op.State
		next.Updated = op.Updated
		t.st.ops[op.ID] = next
	}
	return nil
}

func (t *memoryTx) DeleteOperation(ctx context.Context, id string) error {
	op, ok := t.st.ops[id]
	if !ok {
		return fmt.Errorf("delete operation %s: %w", id, storage.ErrNotFound)
	}
	if len(t.st.dependents[id]) > 0 {
		return fmt.Errorf("delete operation %s: %w", id, storage.ErrReferenced)
	}
	delete(t.st.ops, id)
	delete(t.st.dependents, id)
	for _, dep := range op.Dependencies {
		ids := slices.DeleteFunc(slices.Clone(t.st.dependents[dep]), func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(t.st.dependents, dep)
		} else {
			t.st.dependents[dep] = ids
		}
	}
	return nil
}

func (t *memoryTx) RecordEvent(ctx context.Context, event *types.Event) error {
	event.ID = t.st.nextEventID
	t.st.nextEventID++
	if event.Created == 0 {
		event.Created = types.NowMillis()
	}
	e := *event
	t.st.events = append(t.st.events, &e)
	return nil
}

func getOperation(st *snapshot, id string) (*types.Operation, error) {
	op, ok := st.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, storage.ErrNotFound)
	}
	return op.Clone(), nil
}

func listOperations(st *snapshot, filter types.OperationFilter) []*types.Operation {
	var out []*types.Operation
	for _, op := range st.ops {
		if filter.Matches(op) {
			out = append(out, op.Clone())
		}
	}
	sortOperations(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func getDependents(st *snapshot, id string) []*types.Operation {
	ids := st.dependents[id]
	out := make([]*types.Operation, 0, len(ids))
	for _, d := range ids {
		if op, ok := st.ops[d]; ok {
			out = append(out, op.Clone())
		}
	}
	sortOperations(out)
	return out
}

func listEvents(st *snapshot, filter types.EventFilter) []*types.Event {
	var since int64
	if !filter.Since.IsZero() {
		since = filter.Since.UnixMilli()
	}
	var out []*types.Event
	for _, e := range st.events {
		if filter.DetailRef != "" && e.DetailRef != filter.DetailRef {
			continue
		}
		if e.Created < since {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

func sortOperations(ops []*types.Operation) {
	slices.SortFunc(ops, func(a, b *types.Operation) int {
		if c := cmp.Compare(a.Created, b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
