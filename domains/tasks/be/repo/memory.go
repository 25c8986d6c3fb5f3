package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/tasks/be/service"
)

// MemoryRepository is an in-memory pull queue for tests and early development.
type MemoryRepository struct {
	mu    sync.Mutex
	order []uuid.UUID
	tasks map[uuid.UUID]service.Task
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[uuid.UUID]service.Task)}
}

func (r *MemoryRepository) Insert(ctx context.Context, task service.Task) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	task.Status = service.StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now
	r.tasks[task.ID] = task
	r.order = append(r.order, task.ID)
	return task, nil
}

func (r *MemoryRepository) ClaimOldestPending(ctx context.Context, workerID string, leaseUntil time.Time) (*service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		task := r.tasks[id]
		if task.Status != service.StatusPending {
			continue
		}
		task.Status = service.StatusInProgress
		task.ClaimedBy = &workerID
		task.LeaseExpiresAt = &leaseUntil
		task.Attempts++
		task.UpdatedAt = time.Now().UTC()
		r.tasks[id] = task
		return &task, nil
	}
	return nil, nil
}

func (r *MemoryRepository) Complete(ctx context.Context, id uuid.UUID, status service.Status, errMsg *string, result json.RawMessage) (service.Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return service.Task{}, false, service.ErrNotFound
	}
	if task.Settled() {
		return task, true, nil
	}
	if task.Status != service.StatusInProgress {
		return service.Task{}, false, fmt.Errorf("%w: task %s is %q", service.ErrNotClaimed, id, task.Status)
	}

	task.Status = status
	task.Error = errMsg
	task.Result = result
	task.LeaseExpiresAt = nil
	task.UpdatedAt = time.Now().UTC()
	r.tasks[id] = task
	return task, false, nil
}

func (r *MemoryRepository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for id, task := range r.tasks {
		if task.Status != service.StatusInProgress || task.LeaseExpiresAt == nil || !task.LeaseExpiresAt.Before(now) {
			continue
		}
		task.Status = service.StatusPending
		task.ClaimedBy = nil
		task.LeaseExpiresAt = nil
		task.UpdatedAt = time.Now().UTC()
		r.tasks[id] = task
		released++
	}
	return released, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return service.Task{}, service.ErrNotFound
	}
	return task, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
