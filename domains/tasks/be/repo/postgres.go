package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/tasks/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// PostgresRepository adapts the task store to the service types.
type PostgresRepository struct {
	store *persistence.TaskStore
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(store *persistence.TaskStore) *PostgresRepository {
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Insert(ctx context.Context, task service.Task) (service.Task, error) {
	rec, err := r.store.Insert(ctx, persistence.TaskRecord{
		TaskID:         task.ID,
		Kind:           task.Kind,
		Payload:        task.Payload,
		PodID:          task.PodID,
		SubscriptionID: task.SubscriptionID,
	})
	if err != nil {
		return service.Task{}, mapTaskErr(err)
	}
	return toTask(rec), nil
}

func (r *PostgresRepository) ClaimOldestPending(ctx context.Context, workerID string, leaseUntil time.Time) (*service.Task, error) {
	rec, err := r.store.ClaimOldestPending(ctx, workerID, leaseUntil)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	task := toTask(*rec)
	return &task, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id uuid.UUID, status service.Status, errMsg *string, result json.RawMessage) (service.Task, bool, error) {
	rec, alreadySettled, err := r.store.Complete(ctx, id, string(status), errMsg, result)
	if err != nil {
		return service.Task{}, false, mapTaskErr(err)
	}
	return toTask(rec), alreadySettled, nil
}

func (r *PostgresRepository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	return r.store.ReleaseExpired(ctx, now)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Task, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Task{}, mapTaskErr(err)
	}
	return toTask(rec), nil
}

func mapTaskErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrTaskNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrTaskNotClaimed):
		return service.ErrNotClaimed
	}
	return err
}

func toTask(rec persistence.TaskRecord) service.Task {
	return service.Task{
		ID:             rec.TaskID,
		Kind:           rec.Kind,
		Payload:        rec.Payload,
		Status:         service.Status(rec.Status),
		PodID:          rec.PodID,
		SubscriptionID: rec.SubscriptionID,
		ClaimedBy:      rec.ClaimedBy,
		LeaseExpiresAt: rec.LeaseExpiresAt,
		Attempts:       rec.Attempts,
		Error:          rec.ErrorMessage,
		Result:         rec.Result,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
