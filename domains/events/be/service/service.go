package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known lifecycle event types appended by the orchestrator.
const (
	TypePodCreated           = "pod_created"
	TypePodProvisioned       = "pod_provisioned"
	TypePodDeleting          = "pod_deleting"
	TypePodScaling           = "pod_scaling"
	TypePodScaled            = "pod_scaled"
	TypePodBackingUp         = "pod_backing_up"
	TypePodBackedUp          = "pod_backed_up"
	TypePodDeleted           = "pod_deleted"
	TypePodSuspended         = "pod_suspended"
	TypePodResumed           = "pod_resumed"
	TypePodHealthRefreshed   = "pod_health_refreshed"
	TypeCreateSuperseded     = "create_superseded"
	TypeJobFailedPermanently = "job_failed_permanently"
	TypeFleetProvisioned     = "fleet_provisioned"
	TypeFleetTaskFailed      = "fleet_task_failed"
)

// Event is one append-only audit record for a pod.
type Event struct {
	ID         int64
	PodID      uuid.UUID
	Type       string
	Payload    json.RawMessage
	Actor      string
	OccurredAt time.Time
}

// ListOptions captures filters and pagination for per-pod history queries.
type ListOptions struct {
	Page     int
	PageSize int
	Type     *string
}

// ListResult wraps paginated events, most recent first.
type ListResult struct {
	Events     []Event
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts the append-only audit store.
type Repository interface {
	Append(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, podID uuid.UUID, opts ListOptions) (ListResult, error)
}

// Service provides the audit trail surface. Lifecycle events are appended by
// the orchestrator inside its own transactions; this service covers
// administrative annotations and tenant-visible history reads.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("events repo is required")
	}
	return &Service{repo: repo}
}

// Append writes one audit record. There is no update or delete.
func (s *Service) Append(ctx context.Context, podID uuid.UUID, eventType string, payload json.RawMessage, actor string) (Event, error) {
	return s.repo.Append(ctx, Event{PodID: podID, Type: eventType, Payload: payload, Actor: actor})
}

// List returns a pod's history, paginated, optionally filtered by type.
func (s *Service) List(ctx context.Context, podID uuid.UUID, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	return s.repo.List(ctx, podID, opts)
}
