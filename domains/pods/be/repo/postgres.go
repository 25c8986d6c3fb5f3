package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	"github.com/hostwerk/cloudpod/domains/pods/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// PostgresRepository adapts the pod store's composite transactions to the
// service types.
type PostgresRepository struct {
	store *persistence.PodStore
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(store *persistence.PodStore) *PostgresRepository {
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) CreateReserving(ctx context.Context, pod service.Pod, delta capacityservice.Delta, eventPayload json.RawMessage, actor string) (service.Pod, capacityservice.Admission, error) {
	rec, admission, err := r.store.CreateReserving(ctx, toRecord(pod), toStoreDelta(delta), persistence.EventRecord{
		EventType: eventsservice.TypePodCreated,
		Payload:   eventPayload,
		Actor:     actor,
	})
	if err != nil {
		return service.Pod{}, capacityservice.Admission{}, mapPodErr(err)
	}
	if !admission.Allowed {
		return service.Pod{}, toAdmission(admission), nil
	}
	return toPod(rec), toAdmission(admission), nil
}

func (r *PostgresRepository) Transition(ctx context.Context, m service.Mutation) (service.Pod, error) {
	sm := persistence.PodMutation{
		PodID:        m.PodID,
		ToStatus:     string(m.To),
		Handle:       m.Handle,
		SuspendedAt:  m.SuspendedAt,
		ClearSuspend: m.ClearSuspend,
		Event: persistence.EventRecord{
			EventType: m.EventType,
			Payload:   m.EventPayload,
			Actor:     m.Actor,
		},
	}
	for _, from := range m.From {
		sm.FromStatus = append(sm.FromStatus, string(from))
	}
	if m.ReleaseDelta != nil {
		d := toStoreDelta(*m.ReleaseDelta)
		sm.ReleaseDelta = &d
	}
	if m.Spec != nil {
		sm.Spec = &persistence.PodSpecUpdate{Cores: m.Spec.Cores, MemoryMB: m.Spec.MemoryMB, DiskGB: m.Spec.DiskGB}
	}
	if m.Health != nil {
		sm.Health = &persistence.PodHealthUpdate{State: m.Health.State, CheckedAt: m.Health.CheckedAt}
	}

	rec, err := r.store.Transition(ctx, sm)
	if err != nil {
		return service.Pod{}, mapPodErr(err)
	}
	return toPod(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Pod, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Pod{}, mapPodErr(err)
	}
	return toPod(rec), nil
}

func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]service.Pod, error) {
	records, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pods := make([]service.Pod, 0, len(records))
	for _, rec := range records {
		pods = append(pods, toPod(rec))
	}
	return pods, nil
}

func mapPodErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrPodNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrStatusConflict):
		return service.ErrConflict
	}
	return err
}

func toRecord(pod service.Pod) persistence.PodRecord {
	return persistence.PodRecord{
		PodID:     pod.ID,
		NumericID: pod.NumericID,
		TenantID:  pod.TenantID,
		Cores:     pod.Spec.Cores,
		MemoryMB:  pod.Spec.MemoryMB,
		DiskGB:    pod.Spec.DiskGB,
		Status:    string(pod.Status),
		Handle:    pod.Handle,
	}
}

func toPod(rec persistence.PodRecord) service.Pod {
	pod := service.Pod{
		ID:        rec.PodID,
		NumericID: rec.NumericID,
		TenantID:  rec.TenantID,
		Status:    service.Status(rec.Status),
		Spec:      service.ResourceSpec{Cores: rec.Cores, MemoryMB: rec.MemoryMB, DiskGB: rec.DiskGB},
		Handle:    rec.Handle,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.HealthState != nil && rec.HealthCheckedAt != nil {
		pod.Health = &service.HealthSnapshot{State: *rec.HealthState, CheckedAt: *rec.HealthCheckedAt}
	}
	pod.SuspendedAt = rec.SuspendedAt
	return pod
}

func toStoreDelta(d capacityservice.Delta) persistence.QuotaDelta {
	return persistence.QuotaDelta{Pods: d.Pods, Cores: d.Cores, MemoryMB: d.MemoryMB, DiskGB: d.DiskGB}
}

func toAdmission(a persistence.AdmissionResult) capacityservice.Admission {
	return capacityservice.Admission{
		Allowed: a.Allowed,
		Reason:  a.Reason,
		Detail:  a.Detail,
		Current: capacityservice.Dimensions{
			Pods:     a.Record.UsedPods,
			Cores:    a.Record.UsedCores,
			MemoryMB: a.Record.UsedMemoryMB,
			DiskGB:   a.Record.UsedDiskGB,
		},
		Limits: capacityservice.Dimensions{
			Pods:     a.Record.MaxPods,
			Cores:    a.Record.MaxCores,
			MemoryMB: a.Record.MaxMemoryMB,
			DiskGB:   a.Record.MaxDiskGB,
		},
	}
}

// PostgresAllocator adapts the sequence-backed identifier allocator.
type PostgresAllocator struct {
	alloc *persistence.PodIDAllocator
}

// NewPostgresAllocator constructs a PostgresAllocator.
func NewPostgresAllocator(alloc *persistence.PodIDAllocator) *PostgresAllocator {
	return &PostgresAllocator{alloc: alloc}
}

func (a *PostgresAllocator) NextID(ctx context.Context) (int64, error) {
	return a.alloc.NextID(ctx)
}

// Ensure interface compliance.
var (
	_ service.Repository = (*PostgresRepository)(nil)
	_ service.Allocator  = (*PostgresAllocator)(nil)
)
