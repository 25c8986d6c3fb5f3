package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/jobs/be/service"
)

// MemoryRepository is an in-memory push queue suitable for tests and early development.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]service.Job
	fifo []uuid.UUID
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[uuid.UUID]service.Job)}
}

func (r *MemoryRepository) Insert(ctx context.Context, job service.Job) (service.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = service.StatusQueued
	r.jobs[job.ID] = job
	r.fifo = append(r.fifo, job.ID)
	return job, nil
}

func (r *MemoryRepository) ClaimOldestQueued(ctx context.Context) (*service.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.fifo {
		job := r.jobs[id]
		if job.Status != service.StatusQueued {
			continue
		}
		job.Status = service.StatusRunning
		job.Attempts++
		job.UpdatedAt = time.Now().UTC()
		r.jobs[id] = job
		return &job, nil
	}
	return nil, nil
}

func (r *MemoryRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return 0, service.ErrNotFound
	}
	if job.Status != service.StatusRunning {
		return 0, service.ErrNotRunning
	}
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return job.Attempts, nil
}

func (r *MemoryRepository) MarkOutcome(ctx context.Context, id uuid.UUID, outcome service.Outcome) (service.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return service.Job{}, false, service.ErrNotFound
	}
	if job.Settled() {
		return job, true, nil
	}
	if job.Status != service.StatusRunning {
		return service.Job{}, false, fmt.Errorf("%w: job %s is %s", service.ErrNotRunning, id, job.Status)
	}

	if outcome.Success {
		job.Status = service.StatusSucceeded
		job.Result = outcome.Result
		job.LastError = nil
	} else {
		job.Status = service.StatusFailed
		msg := outcome.Error
		job.LastError = &msg
	}
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return job, false, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return service.Job{}, service.ErrNotFound
	}
	return job, nil
}

func (r *MemoryRepository) ListForPod(ctx context.Context, podID uuid.UUID) ([]service.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []service.Job
	for i := len(r.fifo) - 1; i >= 0; i-- {
		if job := r.jobs[r.fifo[i]]; job.PodID == podID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *MemoryRepository) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	requeued := 0
	for id, job := range r.jobs {
		if job.Status != service.StatusRunning || !job.UpdatedAt.Before(olderThan) {
			continue
		}
		job.Status = service.StatusQueued
		job.UpdatedAt = time.Now().UTC()
		r.jobs[id] = job
		requeued++
	}
	return requeued, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
