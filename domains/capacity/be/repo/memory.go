package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/capacity/be/service"
)

// MemoryRepository is an in-memory ledger suitable for tests and early development.
type MemoryRepository struct {
	mu     sync.Mutex
	quotas map[uuid.UUID]service.Quota

	// usageSource, when set, backs Recalculate by deriving usage from the
	// authoritative pod set (wired to the pods memory repository in tests).
	usageSource func(ctx context.Context, tenantID uuid.UUID) (service.Dimensions, error)
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{quotas: make(map[uuid.UUID]service.Quota)}
}

// SetUsageSource wires the derivation hook used by Recalculate.
func (r *MemoryRepository) SetUsageSource(fn func(ctx context.Context, tenantID uuid.UUID) (service.Dimensions, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usageSource = fn
}

func (r *MemoryRepository) Reserve(ctx context.Context, tenantID uuid.UUID, delta service.Delta) (service.Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked(tenantID, delta)
}

// reserveLocked applies the admission check while the repository mutex is held.
func (r *MemoryRepository) reserveLocked(tenantID uuid.UUID, delta service.Delta) (service.Admission, error) {
	quota, ok := r.quotas[tenantID]
	if !ok {
		return service.Admission{
			Allowed: false,
			Reason:  service.ReasonQuotaExceeded,
			Detail:  "no quota configured for tenant",
		}, nil
	}

	next := service.Dimensions{
		Pods:     quota.Used.Pods + delta.Pods,
		Cores:    quota.Used.Cores + delta.Cores,
		MemoryMB: quota.Used.MemoryMB + delta.MemoryMB,
		DiskGB:   quota.Used.DiskGB + delta.DiskGB,
	}

	var detail string
	switch {
	case next.Pods > quota.Limits.Pods:
		detail = fmt.Sprintf("pods: %d used + %d requested exceeds limit %d", quota.Used.Pods, delta.Pods, quota.Limits.Pods)
	case next.Cores > quota.Limits.Cores:
		detail = fmt.Sprintf("cores: %d used + %d requested exceeds limit %d", quota.Used.Cores, delta.Cores, quota.Limits.Cores)
	case next.MemoryMB > quota.Limits.MemoryMB:
		detail = fmt.Sprintf("memory_mb: %d used + %d requested exceeds limit %d", quota.Used.MemoryMB, delta.MemoryMB, quota.Limits.MemoryMB)
	case next.DiskGB > quota.Limits.DiskGB:
		detail = fmt.Sprintf("disk_gb: %d used + %d requested exceeds limit %d", quota.Used.DiskGB, delta.DiskGB, quota.Limits.DiskGB)
	}
	if detail != "" {
		return service.Admission{
			Allowed: false,
			Reason:  service.ReasonQuotaExceeded,
			Detail:  detail,
			Current: quota.Used,
			Limits:  quota.Limits,
		}, nil
	}

	quota.Used = next
	r.quotas[tenantID] = quota
	return service.Admission{Allowed: true, Current: quota.Used, Limits: quota.Limits}, nil
}

func (r *MemoryRepository) Release(ctx context.Context, tenantID uuid.UUID, delta service.Delta) (service.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(tenantID, delta)
}

func (r *MemoryRepository) releaseLocked(tenantID uuid.UUID, delta service.Delta) (service.Quota, error) {
	quota, ok := r.quotas[tenantID]
	if !ok {
		return service.Quota{}, service.ErrNoQuota
	}

	quota.Used.Pods = max(0, quota.Used.Pods-delta.Pods)
	quota.Used.Cores = max(0, quota.Used.Cores-delta.Cores)
	quota.Used.MemoryMB = max(0, quota.Used.MemoryMB-delta.MemoryMB)
	quota.Used.DiskGB = max(0, quota.Used.DiskGB-delta.DiskGB)
	r.quotas[tenantID] = quota
	return quota, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID uuid.UUID) (service.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	quota, ok := r.quotas[tenantID]
	if !ok {
		return service.Quota{}, service.ErrNoQuota
	}
	return quota, nil
}

func (r *MemoryRepository) SetLimits(ctx context.Context, tenantID uuid.UUID, limits service.Dimensions) (service.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	quota, ok := r.quotas[tenantID]
	if !ok {
		quota = service.Quota{TenantID: tenantID}
	}
	quota.Limits = limits
	r.quotas[tenantID] = quota
	return quota, nil
}

func (r *MemoryRepository) Recalculate(ctx context.Context, tenantID uuid.UUID) (service.Quota, error) {
	r.mu.Lock()
	source := r.usageSource
	r.mu.Unlock()

	if source == nil {
		return r.Get(ctx, tenantID)
	}

	used, err := source(ctx, tenantID)
	if err != nil {
		return service.Quota{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	quota, ok := r.quotas[tenantID]
	if !ok {
		return service.Quota{}, service.ErrNoQuota
	}
	quota.Used = used
	r.quotas[tenantID] = quota
	return quota, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
