package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by the service layer.
var (
	ErrNotFound    = errors.New("job not found")
	ErrNotRunning  = errors.New("job is not running")
	ErrUnknownKind = errors.New("unknown job kind")
)

// Kind is the closed set of push-queue job kinds. Each kind maps to one
// executor operation; dispatch is an exhaustive switch, never a string lookup.
type Kind string

const (
	KindCreate  Kind = "create"
	KindDestroy Kind = "destroy"
	KindBackup  Kind = "backup"
	KindScale   Kind = "scale"
	KindHealth  Kind = "health"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindDestroy, KindBackup, KindScale, KindHealth:
		return true
	}
	return false
}

// Status is the push-queue job lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one push-queue work item. Payload is captured at enqueue time and
// never mutates; only status, attempts, and outcome fields change.
type Job struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PodID       uuid.UUID
	Kind        Kind
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	MaxAttempts int
	QueueHandle *string
	LastError   *string
	Result      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Settled reports whether the job reached a terminal status.
func (j Job) Settled() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Outcome is the structured result of executing a job.
type Outcome struct {
	Success bool
	Result  json.RawMessage
	Error   string
}

// Repository abstracts push-queue persistence. ClaimOldestQueued must be
// atomic: no two workers may ever receive the same job.
type Repository interface {
	Insert(ctx context.Context, job Job) (Job, error)
	ClaimOldestQueued(ctx context.Context) (*Job, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) (Job, bool, error)
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	ListForPod(ctx context.Context, podID uuid.UUID) ([]Job, error)
	RequeueStuck(ctx context.Context, olderThan time.Time) (int, error)
}

// Queue provides the push job queue: asynchronous, retryable work items
// consumed by the background worker pool.
type Queue struct {
	repo        Repository
	maxAttempts int
	logger      *zap.Logger
}

// NewQueue constructs a Queue with required dependencies.
func NewQueue(repo Repository, maxAttempts int, logger *zap.Logger) *Queue {
	if repo == nil {
		panic("jobs repo is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the bounded attempt count applied to new jobs.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue validates and persists a new job in status queued. The payload is
// marshaled once here and is immutable afterwards.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, tenantID, podID uuid.UUID, payload any) (Job, error) {
	if !kind.Valid() {
		return Job{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job payload: %w", err)
	}

	job, err := q.repo.Insert(ctx, Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PodID:       podID,
		Kind:        kind,
		Payload:     raw,
		Status:      StatusQueued,
		MaxAttempts: q.maxAttempts,
	})
	if err != nil {
		return Job{}, err
	}

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("pod_id", job.PodID.String()),
	)
	return job, nil
}

// Dequeue atomically claims the oldest queued job for a worker, or returns nil
// when the queue is empty. Not exposed outside the worker pool.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	return q.repo.ClaimOldestQueued(ctx)
}

// NoteAttempt records one more executor attempt for a running job.
func (q *Queue) NoteAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	return q.repo.IncrementAttempts(ctx, id)
}

// ReportOutcome settles a running job. Re-reporting an already-settled job
// returns alreadySettled = true and changes nothing, which keeps downstream
// reconciliation idempotent.
func (q *Queue) ReportOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) (Job, bool, error) {
	job, already, err := q.repo.MarkOutcome(ctx, id, outcome)
	if err != nil {
		return Job{}, false, err
	}
	if already {
		q.logger.Debug("outcome re-reported for settled job", zap.String("job_id", id.String()))
	}
	return job, already, nil
}

// Get fetches a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	return q.repo.Get(ctx, id)
}

// ListForPod returns a pod's jobs, most recent first.
func (q *Queue) ListForPod(ctx context.Context, podID uuid.UUID) ([]Job, error) {
	return q.repo.ListForPod(ctx, podID)
}

// RequeueStuck returns running jobs untouched since olderThan to queued so a
// worker can pick them up again. Used after a worker crash orphaned claims.
func (q *Queue) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	requeued, err := q.repo.RequeueStuck(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		q.logger.Warn("requeued stuck jobs", zap.Int("count", requeued))
	}
	return requeued, nil
}
