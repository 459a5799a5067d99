package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts an event into execution_events. Duplicates are ignored.
func (s *EventStore) Append(ctx context.Context, executionID string, ev event.Event) error {
	data, err := ev.Data()
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_events (execution_id, sequence, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (execution_id, sequence) DO NOTHING`,
		executionID, ev.Sequence, string(ev.Kind()), data, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", executionID, ev.Sequence, err)
	}
	return nil
}

// UpsertExecution records the latest snapshot of an execution. Once the
// execution has expired, final_status keeps the outcome it ended with.
func (s *EventStore) UpsertExecution(ctx context.Context, info execution.Info) error {
	final := info.FinalStatus
	if final == "" && info.Status.Terminal() && info.Status != execution.StatusExpired {
		final = info.Status
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, kind, status, final_status, last_sequence, created_at, last_activity, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   final_status = COALESCE(NULLIF(EXCLUDED.final_status, ''), executions.final_status),
		   last_sequence = GREATEST(executions.last_sequence, EXCLUDED.last_sequence),
		   last_activity = EXCLUDED.last_activity,
		   finished_at = COALESCE(EXCLUDED.finished_at, executions.finished_at)`,
		info.ID, string(info.Type), string(info.Status), string(final), info.LastSequence,
		info.CreatedAt, info.LastActivityAt, nullTime(info.FinishedAt))
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", info.ID, err)
	}
	return nil
}

// GetExecution returns the archived execution snapshot.
func (s *EventStore) GetExecution(ctx context.Context, executionID string) (*execution.Info, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, status, final_status, last_sequence, created_at, last_activity, finished_at
		 FROM executions WHERE id = $1`, executionID)

	info, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution %s", executionID)
	}
	return info, nil
}

func scanExecution(row scannable) (*execution.Info, error) {
	var (
		info       execution.Info
		typ, st    string
		final      string
		finishedAt *time.Time
	)
	if err := row.Scan(&info.ID, &typ, &st, &final, &info.LastSequence, &info.CreatedAt, &info.LastActivityAt, &finishedAt); err != nil {
		return nil, err
	}
	info.Type = execution.Type(typ)
	info.Status = execution.Status(st)
	info.FinalStatus = execution.Status(final)
	info.FinishedAt = finishedAt
	return &info, nil
}

// LoadAfter returns a page of events with sequence > after, ordered ascending.
func (s *EventStore) LoadAfter(ctx context.Context, executionID string, after int64, limit int) (*eventstore.Page, error) {
	limit = eventstore.ClampLimit(limit)

	// Fetch one extra row to detect whether another page exists.
	rows, err := s.pool.Query(ctx,
		`SELECT sequence, kind, payload, created_at
		 FROM execution_events
		 WHERE execution_id = $1 AND sequence > $2
		 ORDER BY sequence ASC
		 LIMIT $3`, executionID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", executionID, err)
	}
	defer rows.Close()

	page := &eventstore.Page{ExecutionID: executionID, Events: []event.Event{}, NextAfter: after}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		page.Events = append(page.Events, ev)
		page.NextAfter = ev.Sequence
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events %s: %w", executionID, err)
	}
	return page, nil
}

func scanEvent(row scannable) (event.Event, error) {
	var (
		ev   event.Event
		kind string
		data []byte
	)
	if err := row.Scan(&ev.Sequence, &kind, &data, &ev.CreatedAt); err != nil {
		return ev, err
	}
	p, err := event.Decode(event.Kind(kind), data)
	if err != nil {
		return ev, err
	}
	ev.Payload = p
	return ev, nil
}
