package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// PostgresRepository adapts the persistence job store to the service contract.
type PostgresRepository struct {
	store *persistence.JobStore
}

// NewPostgresRepository constructs the adapter.
func NewPostgresRepository(store *persistence.JobStore) *PostgresRepository {
	if store == nil {
		panic("job store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Insert(ctx context.Context, job service.Job) (service.Job, error) {
	rec, err := r.store.Insert(ctx, persistence.JobRecord{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		PodID:       job.PodID,
		Kind:        string(job.Kind),
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
		QueueHandle: job.QueueHandle,
	})
	if err != nil {
		return service.Job{}, err
	}
	return toJob(rec), nil
}

func (r *PostgresRepository) ClaimOldestQueued(ctx context.Context) (*service.Job, error) {
	rec, err := r.store.ClaimOldestQueued(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	job := toJob(*rec)
	return &job, nil
}

func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	attempts, err := r.store.IncrementAttempts(ctx, id)
	if err != nil {
		return 0, mapJobErr(err)
	}
	return attempts, nil
}

func (r *PostgresRepository) MarkOutcome(ctx context.Context, id uuid.UUID, outcome service.Outcome) (service.Job, bool, error) {
	var errMsg *string
	if !outcome.Success && outcome.Error != "" {
		errMsg = &outcome.Error
	}
	rec, already, err := r.store.MarkOutcome(ctx, id, outcome.Success, outcome.Result, errMsg)
	if err != nil {
		return service.Job{}, false, mapJobErr(err)
	}
	return toJob(rec), already, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Job, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Job{}, mapJobErr(err)
	}
	return toJob(rec), nil
}

func (r *PostgresRepository) ListForPod(ctx context.Context, podID uuid.UUID) ([]service.Job, error) {
	records, err := r.store.ListForPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	jobs := make([]service.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, toJob(rec))
	}
	return jobs, nil
}

func (r *PostgresRepository) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	return r.store.RequeueStuck(ctx, olderThan)
}

func mapJobErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrJobNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrJobNotRunning):
		return service.ErrNotRunning
	}
	return err
}

func toJob(rec persistence.JobRecord) service.Job {
	return service.Job{
		ID:          rec.JobID,
		TenantID:    rec.TenantID,
		PodID:       rec.PodID,
		Kind:        service.Kind(rec.Kind),
		Payload:     rec.Payload,
		Status:      service.Status(rec.Status),
		Attempts:    rec.Attempts,
		MaxAttempts: rec.MaxAttempts,
		QueueHandle: rec.QueueHandle,
		LastError:   rec.LastError,
		Result:      rec.Result,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
