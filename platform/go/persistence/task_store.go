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

// TasksTable defines the fully-qualified table for the pull task queue.
const TasksTable = "orchestrator.tasks"

// Errors returned by the task store.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskNotClaimed = errors.New("task is not claimed")
)

// TaskRecord represents a pull-queue work item serviced by external polling
// workers.
type TaskRecord struct {
	TaskID         uuid.UUID  `db:"task_id"`
	Kind           string     `db:"kind"`
	Payload        []byte     `db:"payload"`
	Status         string     `db:"status"`
	PodID          *uuid.UUID `db:"pod_id"`
	SubscriptionID *uuid.UUID `db:"subscription_id"`
	ClaimedBy      *string    `db:"claimed_by"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	Attempts       int        `db:"attempts"`
	ErrorMessage   *string    `db:"error_message"`
	Result         []byte     `db:"result"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Settled reports whether the task reached a terminal status.
func (r TaskRecord) Settled() bool {
	return r.Status == "success" || r.Status == "failed"
}

// TaskStore provides access to the pull task queue.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a store; assumes migrations already created the table.
func NewTaskStore(pool *pgxpool.Pool) (*TaskStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

const taskColumns = `task_id, kind, payload, status, pod_id, subscription_id, claimed_by,
    lease_expires_at, attempts, error_message, result, created_at, updated_at`

// Insert enqueues a task in status pending.
func (s *TaskStore) Insert(ctx context.Context, rec TaskRecord) (TaskRecord, error) {
	if rec.TaskID == uuid.Nil {
		return TaskRecord{}, errors.New("task id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (task_id, kind, payload, status, pod_id, subscription_id)
        VALUES ($1,$2,$3,'pending',$4,$5)
        RETURNING %s
    `, TasksTable, taskColumns)

	return scanTaskRecord(s.pool.QueryRow(ctx, query,
		rec.TaskID, rec.Kind, rec.Payload, rec.PodID, rec.SubscriptionID,
	))
}

// ClaimOldestPending atomically claims the oldest pending task for workerID,
// stamping the lease expiry, or returns nil when nothing is pending. The inner
// SELECT takes a row lock with SKIP LOCKED so only one concurrent caller can
// win a given task and losers move on without blocking.
func (s *TaskStore) ClaimOldestPending(ctx context.Context, workerID string, leaseUntil time.Time) (*TaskRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %[1]s SET status = 'in_progress', claimed_by = $1, lease_expires_at = $2,
            attempts = attempts + 1, updated_at = now()
        WHERE task_id = (
            SELECT task_id FROM %[1]s
            WHERE status = 'pending'
            ORDER BY created_at
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING %[2]s
    `, TasksTable, taskColumns)

	rec, err := scanTaskRecord(s.pool.QueryRow(ctx, query, workerID, leaseUntil))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Complete settles an in-progress task. Already-settled tasks are returned with
// alreadySettled = true so a worker retrying a lost response is harmless.
func (s *TaskStore) Complete(ctx context.Context, taskID uuid.UUID, status string, errMsg *string, result []byte) (TaskRecord, bool, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, error_message = $3, result = $4,
            lease_expires_at = NULL, updated_at = now()
        WHERE task_id = $1 AND status = 'in_progress'
        RETURNING %s
    `, TasksTable, taskColumns)

	rec, err := scanTaskRecord(s.pool.QueryRow(ctx, query, taskID, status, errMsg, result))
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return TaskRecord{}, false, err
	}

	current, err := s.Get(ctx, taskID)
	if err != nil {
		return TaskRecord{}, false, err
	}
	if current.Settled() {
		return current, true, nil
	}
	return TaskRecord{}, false, fmt.Errorf("%w: task %s is %s", ErrTaskNotClaimed, taskID, current.Status)
}

// ReleaseExpired returns abandoned in-progress tasks whose lease has lapsed to
// pending, making them claimable again. Returns the number of tasks released.
func (s *TaskStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = 'pending', claimed_by = NULL, lease_expires_at = NULL, updated_at = now()
        WHERE status = 'in_progress' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
    `, TasksTable)

	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(ctx context.Context, taskID uuid.UUID) (TaskRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE task_id = $1", taskColumns, TasksTable)
	rec, err := scanTaskRecord(s.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskRecord{}, ErrTaskNotFound
		}
		return TaskRecord{}, err
	}
	return rec, nil
}

func scanTaskRecord(row pgx.Row) (TaskRecord, error) {
	var rec TaskRecord
	if err := row.Scan(&rec.TaskID, &rec.Kind, &rec.Payload, &rec.Status, &rec.PodID, &rec.SubscriptionID,
		&rec.ClaimedBy, &rec.LeaseExpiresAt, &rec.Attempts, &rec.ErrorMessage, &rec.Result,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return TaskRecord{}, err
	}
	return rec, nil
}
