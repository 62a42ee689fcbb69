package dolt

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/edgefleet/c2d/internal/types"
)

func listEvents(ctx context.Context, q querier, filter types.EventFilter) ([]*types.Event, error) {
	var where []string
	var args []any
	if filter.DetailRef != "" {
		where = append(where, "detail_ref = ?")
		args = append(args, filter.DetailRef)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	query := "SELECT id, severity, event_type, message, detail_ref, actor, created FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// With a limit, take the newest rows and flip them back to chronological order.
	newestFirst := filter.Limit > 0
	if newestFirst {
		query += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", filter.Limit)
	} else {
		query += " ORDER BY id"
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.Severity, &e.EventType, &e.Message, &e.DetailRef, &e.Actor, &e.Created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if newestFirst {
		slices.Reverse(events)
	}
	return events, nil
}

func insertEvent(ctx context.Context, q querier, e *types.Event) error {
	if e.Created == 0 {
		e.Created = types.NowMillis()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (severity, event_type, message, detail_ref, actor, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Severity), string(e.EventType), e.Message, e.DetailRef, e.Actor, e.Created)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}
	e.ID = id
	return nil
}

// ListEvents returns the newest matching events in chronological order.
func (s *DoltStore) ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	var events []*types.Event
	err := s.read(ctx, func(q querier) (err error) {
		events, err = listEvents(ctx, q, filter)
		return err
	})
	return events, err
}
