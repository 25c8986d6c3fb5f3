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

// JobsTable defines the fully-qualified table for the push job queue.
const JobsTable = "orchestrator.jobs"

// Errors returned by the job store.
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotRunning = errors.New("job is not running")
)

// JobRecord represents a push-queue work item. Payload is captured at enqueue
// time and never mutated; only status, attempts, and outcome columns change.
type JobRecord struct {
	JobID       uuid.UUID `db:"job_id"`
	TenantID    uuid.UUID `db:"tenant_id"`
	PodID       uuid.UUID `db:"pod_id"`
	Kind        string    `db:"kind"`
	Payload     []byte    `db:"payload"`
	Status      string    `db:"status"`
	Attempts    int       `db:"attempts"`
	MaxAttempts int       `db:"max_attempts"`
	QueueHandle *string   `db:"queue_handle"`
	LastError   *string   `db:"last_error"`
	Result      []byte    `db:"result"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Settled reports whether the job reached a terminal status.
func (r JobRecord) Settled() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// JobStore provides access to the push job queue.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a store; assumes migrations already created the table.
func NewJobStore(pool *pgxpool.Pool) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

const jobColumns = `job_id, tenant_id, pod_id, kind, payload, status, attempts, max_attempts,
    queue_handle, last_error, result, created_at, updated_at`

// Insert enqueues a job in status queued.
func (s *JobStore) Insert(ctx context.Context, rec JobRecord) (JobRecord, error) {
	if rec.JobID == uuid.Nil {
		return JobRecord{}, errors.New("job id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (job_id, tenant_id, pod_id, kind, payload, status, max_attempts, queue_handle)
        VALUES ($1,$2,$3,$4,$5,'queued',$6,$7)
        RETURNING %s
    `, JobsTable, jobColumns)

	return scanJobRecord(s.pool.QueryRow(ctx, query,
		rec.JobID, rec.TenantID, rec.PodID, rec.Kind, rec.Payload, rec.MaxAttempts, rec.QueueHandle,
	))
}

// ClaimOldestQueued atomically flips the oldest queued job to running and
// returns it, or nil when the queue is empty. FOR UPDATE SKIP LOCKED guarantees
// no two workers ever claim the same job and losers do not block.
func (s *JobStore) ClaimOldestQueued(ctx context.Context) (*JobRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %[1]s SET status = 'running', attempts = attempts + 1, updated_at = now()
        WHERE job_id = (
            SELECT job_id FROM %[1]s
            WHERE status = 'queued'
            ORDER BY created_at
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING %[2]s
    `, JobsTable, jobColumns)

	rec, err := scanJobRecord(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// IncrementAttempts bumps the attempt counter for an in-flight retry.
func (s *JobStore) IncrementAttempts(ctx context.Context, jobID uuid.UUID) (int, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET attempts = attempts + 1, updated_at = now()
        WHERE job_id = $1 AND status = 'running'
        RETURNING attempts
    `, JobsTable)

	var attempts int
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrJobNotRunning
		}
		return 0, err
	}
	return attempts, nil
}

// MarkOutcome settles a running job. Already-settled jobs are returned with
// alreadySettled = true and left untouched so outcome reporting is idempotent.
func (s *JobStore) MarkOutcome(ctx context.Context, jobID uuid.UUID, succeeded bool, result []byte, errMsg *string) (JobRecord, bool, error) {
	status := "succeeded"
	if !succeeded {
		status = "failed"
	}

	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, result = $3, last_error = $4, updated_at = now()
        WHERE job_id = $1 AND status = 'running'
        RETURNING %s
    `, JobsTable, jobColumns)

	rec, err := scanJobRecord(s.pool.QueryRow(ctx, query, jobID, status, result, errMsg))
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return JobRecord{}, false, err
	}

	current, err := s.Get(ctx, jobID)
	if err != nil {
		return JobRecord{}, false, err
	}
	if current.Settled() {
		return current, true, nil
	}
	return JobRecord{}, false, fmt.Errorf("%w: job %s is %s", ErrJobNotRunning, jobID, current.Status)
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE job_id = $1", jobColumns, JobsTable)
	rec, err := scanJobRecord(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobRecord{}, ErrJobNotFound
		}
		return JobRecord{}, err
	}
	return rec, nil
}

// ListForPod returns a pod's jobs, most recent first.
func (s *JobStore) ListForPod(ctx context.Context, podID uuid.UUID) ([]JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE pod_id = $1 ORDER BY created_at DESC", jobColumns, JobsTable)
	rows, err := s.pool.Query(ctx, query, podID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RequeueStuck returns running jobs untouched since olderThan to queued.
// Intended for operator use after a worker crash orphaned its claims.
func (s *JobStore) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = 'queued', updated_at = now()
        WHERE status = 'running' AND updated_at < $1
    `, JobsTable)

	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJobRecord(row pgx.Row) (JobRecord, error) {
	var rec JobRecord
	if err := row.Scan(&rec.JobID, &rec.TenantID, &rec.PodID, &rec.Kind, &rec.Payload, &rec.Status,
		&rec.Attempts, &rec.MaxAttempts, &rec.QueueHandle, &rec.LastError, &rec.Result,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return JobRecord{}, err
	}
	return rec, nil
}
