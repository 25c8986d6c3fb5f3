package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsrepo "github.com/hostwerk/cloudpod/domains/events/be/repo"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	"github.com/hostwerk/cloudpod/domains/pods/be/service"
)

// MemoryRepository is an in-memory pod store for tests and early development.
// It composes the capacity and events memory repositories so composite
// mutations behave like their transactional counterparts: a denied admission
// inserts nothing, and a rejected transition releases nothing.
type MemoryRepository struct {
	mu     sync.Mutex
	pods   map[uuid.UUID]service.Pod
	ledger *capacityrepo.MemoryRepository
	events *eventsrepo.MemoryRepository
}

// NewMemoryRepository constructs a MemoryRepository and wires the ledger's
// recalculation hook to derive usage from the held pod set.
func NewMemoryRepository(ledger *capacityrepo.MemoryRepository, events *eventsrepo.MemoryRepository) *MemoryRepository {
	r := &MemoryRepository{
		pods:   make(map[uuid.UUID]service.Pod),
		ledger: ledger,
		events: events,
	}
	ledger.SetUsageSource(r.usageFor)
	return r
}

func (r *MemoryRepository) usageFor(ctx context.Context, tenantID uuid.UUID) (capacityservice.Dimensions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var used capacityservice.Dimensions
	for _, pod := range r.pods {
		if pod.TenantID != tenantID || !pod.HoldsCapacity() {
			continue
		}
		used.Pods++
		used.Cores += pod.Spec.Cores
		used.MemoryMB += pod.Spec.MemoryMB
		used.DiskGB += pod.Spec.DiskGB
	}
	return used, nil
}

func (r *MemoryRepository) CreateReserving(ctx context.Context, pod service.Pod, delta capacityservice.Delta, eventPayload json.RawMessage, actor string) (service.Pod, capacityservice.Admission, error) {
	admission, err := r.ledger.Reserve(ctx, pod.TenantID, delta)
	if err != nil {
		return service.Pod{}, capacityservice.Admission{}, err
	}
	if !admission.Allowed {
		return service.Pod{}, admission, nil
	}

	r.mu.Lock()
	now := time.Now().UTC()
	pod.CreatedAt = now
	pod.UpdatedAt = now
	r.pods[pod.ID] = pod
	r.mu.Unlock()

	if _, err := r.events.Append(ctx, eventsservice.Event{
		PodID:   pod.ID,
		Type:    eventsservice.TypePodCreated,
		Payload: eventPayload,
		Actor:   actor,
	}); err != nil {
		return service.Pod{}, capacityservice.Admission{}, err
	}
	return pod, admission, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, m service.Mutation) (service.Pod, error) {
	r.mu.Lock()
	pod, ok := r.pods[m.PodID]
	if !ok {
		r.mu.Unlock()
		return service.Pod{}, service.ErrNotFound
	}
	if len(m.From) > 0 {
		allowed := false
		for _, from := range m.From {
			if pod.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			r.mu.Unlock()
			return service.Pod{}, fmt.Errorf("%w: pod %s is %q", service.ErrConflict, m.PodID, pod.Status)
		}
	}

	if m.To != "" {
		pod.Status = m.To
	}
	if m.Handle != nil {
		h := *m.Handle
		pod.Handle = &h
	}
	if m.Spec != nil {
		pod.Spec = *m.Spec
	}
	if m.Health != nil {
		h := *m.Health
		pod.Health = &h
	}
	if m.SuspendedAt != nil {
		t := *m.SuspendedAt
		pod.SuspendedAt = &t
	}
	if m.ClearSuspend {
		pod.SuspendedAt = nil
	}
	pod.UpdatedAt = time.Now().UTC()
	r.pods[m.PodID] = pod
	r.mu.Unlock()

	if m.ReleaseDelta != nil && !m.ReleaseDelta.IsZero() {
		if _, err := r.ledger.Release(ctx, pod.TenantID, *m.ReleaseDelta); err != nil {
			return service.Pod{}, err
		}
	}
	if m.EventType != "" {
		if _, err := r.events.Append(ctx, eventsservice.Event{
			PodID:   m.PodID,
			Type:    m.EventType,
			Payload: m.EventPayload,
			Actor:   m.Actor,
		}); err != nil {
			return service.Pod{}, err
		}
	}
	return pod, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pod, ok := r.pods[id]
	if !ok {
		return service.Pod{}, service.ErrNotFound
	}
	return pod, nil
}

func (r *MemoryRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]service.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pods []service.Pod
	for _, pod := range r.pods {
		if pod.TenantID == tenantID {
			pods = append(pods, pod)
		}
	}
	return pods, nil
}

// MemoryAllocator hands out monotonically increasing numeric identifiers.
type MemoryAllocator struct {
	next atomic.Int64
}

// NewMemoryAllocator constructs a MemoryAllocator starting at start.
func NewMemoryAllocator(start int64) *MemoryAllocator {
	a := &MemoryAllocator{}
	a.next.Store(start - 1)
	return a
}

func (a *MemoryAllocator) NextID(ctx context.Context) (int64, error) {
	return a.next.Add(1), nil
}

// Ensure interface compliance.
var (
	_ service.Repository = (*MemoryRepository)(nil)
	_ service.Allocator  = (*MemoryAllocator)(nil)
)
