package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

// querier is the subset of *sql.DB and *sql.Tx the read paths need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const operationColumns = "o.id, o.operation, o.operand, o.args, o.target_agent_id, o.state, o.created_by, o.created, o.updated"

// dependencyChunk bounds the IN list used to load dependency rows.
const dependencyChunk = 500

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*types.Operation, error) {
	var op types.Operation
	var args sql.NullString
	if err := row.Scan(&op.ID, &op.Operation, &op.Operand, &args, &op.TargetAgentID,
		&op.State, &op.CreatedBy, &op.Created, &op.Updated); err != nil {
		return nil, err
	}
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &op.Args); err != nil {
			return nil, fmt.Errorf("operation %s: decode args: %w", op.ID, err)
		}
	}
	return &op, nil
}

func encodeArgs(args map[string]string) (sql.NullString, error) {
	if len(args) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func queryOperations(ctx context.Context, q querier, query string, args ...any) ([]*types.Operation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*types.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadDependencies(ctx, q, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// loadDependencies fills in the sorted dependency set of each operation.
func loadDependencies(ctx context.Context, q querier, ops []*types.Operation) error {
	byID := make(map[string]*types.Operation, len(ops))
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
		ids = append(ids, op.ID)
	}
	for chunk := range slices.Chunk(ids, dependencyChunk) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		// #nosec G202 - only placeholders are concatenated
		rows, err := q.QueryContext(ctx,
			"SELECT operation_id, depends_on_id FROM operation_dependencies WHERE operation_id IN ("+placeholders+") ORDER BY operation_id, depends_on_id",
			args...)
		if err != nil {
			return fmt.Errorf("failed to load dependencies: %w", err)
		}
		for rows.Next() {
			var opID, depID string
			if err := rows.Scan(&opID, &depID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan dependency: %w", err)
			}
			if op := byID[opID]; op != nil {
				op.Dependencies = append(op.Dependencies, depID)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func getOperation(ctx context.Context, q querier, id string) (*types.Operation, error) {
	ops, err := queryOperations(ctx, q, "SELECT "+operationColumns+" FROM operations o WHERE o.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation %s: %w", id, err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("operation %s: %w", id, storage.ErrNotFound)
	}
	return ops[0], nil
}

func listOperations(ctx context.Context, q querier, filter types.OperationFilter) ([]*types.Operation, error) {
	var where []string
	var args []any
	if filter.TargetAgentID != "" {
		where = append(where, "o.target_agent_id = ?")
		args = append(args, filter.TargetAgentID)
	}
	if filter.State != "" {
		where = append(where, "o.state = ?")
		args = append(args, string(filter.State))
	}
	query := "SELECT " + operationColumns + " FROM operations o"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.created, o.id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	ops, err := queryOperations(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

func getDependents(ctx context.Context, q querier, id string) ([]*types.Operation, error) {
	ops, err := queryOperations(ctx, q, `
		SELECT `+operationColumns+`
		FROM operations o
		JOIN operation_dependencies d ON d.operation_id = o.id
		WHERE d.depends_on_id = ?
		ORDER BY o.created, o.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependents of %s: %w", id, err)
	}
	return ops, nil
}

func existsOperation(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM operations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check operation %s: %w", id, err)
	}
	return true, nil
}

func countByState(ctx context.Context, q querier) (map[types.OperationState]int, error) {
	rows, err := q.QueryContext(ctx, "SELECT state, COUNT(*) FROM operations GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.OperationState]int)
	for rows.Next() {
		var state types.OperationState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func insertOperation(ctx context.Context, q querier, op *types.Operation) error {
	args, err := encodeArgs(op.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO operations (id, operation, operand, args, target_agent_id, state, created_by, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, string(op.Operation), op.Operand, args, op.TargetAgentID, string(op.State), op.CreatedBy, op.Created, op.Updated)
	if err != nil {
		return err
	}
	for _, dep := range op.Dependencies {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO operation_dependencies (operation_id, depends_on_id) VALUES (?, ?)",
			op.ID, dep); err != nil {
			return fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	return nil
}

// GetOperation retrieves an operation by id.
func (s *DoltStore) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	var op *types.Operation
	err := s.read(ctx, func(q querier) (err error) {
		op, err = getOperation(ctx, q, id)
		return err
	})
	return op, err
}

// ListOperations returns matching operations ordered by creation time, then id.
func (s *DoltStore) ListOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error) {
	var ops []*types.Operation
	err := s.read(ctx, func(q querier) (err error) {
		ops, err = listOperations(ctx, q, filter)
		return err
	})
	return ops, err
}

// GetDependents returns the operations that list id as a direct dependency.
func (s *DoltStore) GetDependents(ctx context.Context, id string) ([]*types.Operation, error) {
	var ops []*types.Operation
	err := s.read(ctx, func(q querier) (err error) {
		ops, err = getDependents(ctx, q, id)
		return err
	})
	return ops, err
}

// ExistsOperation reports whether an operation with id is stored.
func (s *DoltStore) ExistsOperation(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.read(ctx, func(q querier) (err error) {
		ok, err = existsOperation(ctx, q, id)
		return err
	})
	return ok, err
}

// CountByState returns the number of operations in each state.
func (s *DoltStore) CountByState(ctx context.Context) (map[types.OperationState]int, error) {
	var counts map[types.OperationState]int
	err := s.read(ctx, func(q querier) (err error) {
		counts, err = countByState(ctx, q)
		return err
	})
	return counts, err
}

// read runs fn against the pool under the store's read lock, retrying
// transient server errors. Not-found results are not retried.
func (s *DoltStore) read(ctx context.Context, fn func(q querier) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.withRetry(ctx, func() error { return fn(s.db) })
}
