package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventsTable defines the fully-qualified table for the audit trail.
const EventsTable = "orchestrator.events"

// EventRecord represents one append-only audit row. Payload holds a JSON
// snapshot captured at append time.
type EventRecord struct {
	EventID    int64     `db:"event_id"`
	PodID      uuid.UUID `db:"pod_id"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"`
	Actor      string    `db:"actor"`
	OccurredAt time.Time `db:"occurred_at"`
}

// EventStore provides append and read access to the audit trail. There is no
// update or delete: the table is the audit source of truth.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a store; assumes migrations already created the table.
func NewEventStore(pool *pgxpool.Pool) (*EventStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &EventStore{pool: pool}, nil
}

const eventColumns = "event_id, pod_id, event_type, payload, actor, occurred_at"

// Append writes a standalone audit row (administrative annotations). Lifecycle
// events ride inside the pod mutation transaction via insertEventTx.
func (s *EventStore) Append(ctx context.Context, rec EventRecord) (EventRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return EventRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := insertEventTx(ctx, tx, rec)
	if err != nil {
		return EventRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return EventRecord{}, err
	}
	return out, nil
}

// ListByPod returns audit rows for one pod, most recent first, optionally
// filtered by event type.
func (s *EventStore) ListByPod(ctx context.Context, podID uuid.UUID, eventType *string, limit, offset int) ([]EventRecord, int, error) {
	where := "WHERE pod_id = $1"
	args := []any{podID}
	if eventType != nil {
		where += " AND event_type = $2"
		args = append(args, *eventType)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", EventsTable, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY occurred_at DESC, event_id DESC
        LIMIT %d OFFSET %d`, eventColumns, EventsTable, where, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		rec, err := scanEventRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// insertEventTx appends an audit row inside the caller's transaction so the
// event commits atomically with the mutation that caused it.
func insertEventTx(ctx context.Context, tx pgx.Tx, rec EventRecord) (EventRecord, error) {
	if rec.PodID == uuid.Nil {
		return EventRecord{}, errors.New("event pod id is required")
	}
	if rec.EventType == "" {
		return EventRecord{}, errors.New("event type is required")
	}
	if rec.Actor == "" {
		rec.Actor = "system"
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (pod_id, event_type, payload, actor)
        VALUES ($1,$2,$3,$4)
        RETURNING %s
    `, EventsTable, eventColumns)

	return scanEventRecord(tx.QueryRow(ctx, query, rec.PodID, rec.EventType, rec.Payload, rec.Actor))
}

func scanEventRecord(row pgx.Row) (EventRecord, error) {
	var rec EventRecord
	if err := row.Scan(&rec.EventID, &rec.PodID, &rec.EventType, &rec.Payload, &rec.Actor, &rec.OccurredAt); err != nil {
		return EventRecord{}, err
	}
	return rec, nil
}
