package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/events/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// PostgresRepository adapts the persistence event store to the service contract.
type PostgresRepository struct {
	store *persistence.EventStore
}

// NewPostgresRepository constructs the adapter.
func NewPostgresRepository(store *persistence.EventStore) *PostgresRepository {
	if store == nil {
		panic("event store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Append(ctx context.Context, e service.Event) (service.Event, error) {
	rec, err := r.store.Append(ctx, persistence.EventRecord{
		PodID:     e.PodID,
		EventType: e.Type,
		Payload:   e.Payload,
		Actor:     e.Actor,
	})
	if err != nil {
		return service.Event{}, err
	}
	return toEvent(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, podID uuid.UUID, opts service.ListOptions) (service.ListResult, error) {
	limit := opts.PageSize
	offset := (opts.Page - 1) * opts.PageSize

	records, total, err := r.store.ListByPod(ctx, podID, opts.Type, limit, offset)
	if err != nil {
		return service.ListResult{}, err
	}

	events := make([]service.Event, 0, len(records))
	for _, rec := range records {
		events = append(events, toEvent(rec))
	}

	totalPages := (total + opts.PageSize - 1) / opts.PageSize
	return service.ListResult{
		Events:     events,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func toEvent(rec persistence.EventRecord) service.Event {
	return service.Event{
		ID:         rec.EventID,
		PodID:      rec.PodID,
		Type:       rec.EventType,
		Payload:    rec.Payload,
		Actor:      rec.Actor,
		OccurredAt: rec.OccurredAt,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
