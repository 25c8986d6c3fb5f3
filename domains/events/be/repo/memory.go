package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/events/be/service"
)

// MemoryRepository is an in-memory audit log suitable for tests and early development.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	events []service.Event
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, e service.Event) (service.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
	r.events = append(r.events, e)
	return e, nil
}

func (r *MemoryRepository) List(ctx context.Context, podID uuid.UUID, opts service.ListOptions) (service.ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []service.Event
	for _, e := range r.events {
		if e.PodID != podID {
			continue
		}
		if opts.Type != nil && e.Type != *opts.Type {
			continue
		}
		items = append(items, e)
	}

	// Most recent first; the append id breaks timestamp ties.
	sort.Slice(items, func(i, j int) bool {
		if items[i].OccurredAt.Equal(items[j].OccurredAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	totalPages := (len(items) + pageSize - 1) / pageSize
	return service.ListResult{
		Events:     items[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: totalPages,
	}, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
