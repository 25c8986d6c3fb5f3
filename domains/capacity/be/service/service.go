package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Errors returned by the service layer.
var (
	ErrNoQuota = errors.New("no quota configured for tenant")
)

// ReasonQuotaExceeded is the machine-readable reason carried by denied admissions.
const ReasonQuotaExceeded = "QUOTA_EXCEEDED"

// Dimensions holds one value per quota dimension.
type Dimensions struct {
	Pods     int
	Cores    int
	MemoryMB int64
	DiskGB   int64
}

// Delta is a relative change to a tenant's usage counters. Scale operations
// pass the difference between current and requested levels, so components may
// be negative.
type Delta struct {
	Pods     int
	Cores    int
	MemoryMB int64
	DiskGB   int64
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Negate returns the delta with all components flipped.
func (d Delta) Negate() Delta {
	return Delta{Pods: -d.Pods, Cores: -d.Cores, MemoryMB: -d.MemoryMB, DiskGB: -d.DiskGB}
}

// Quota is a tenant's ledger entry.
type Quota struct {
	TenantID uuid.UUID
	Limits   Dimensions
	Used     Dimensions
}

// Remaining returns capacity still available per dimension.
func (q Quota) Remaining() Dimensions {
	return Dimensions{
		Pods:     q.Limits.Pods - q.Used.Pods,
		Cores:    q.Limits.Cores - q.Used.Cores,
		MemoryMB: q.Limits.MemoryMB - q.Used.MemoryMB,
		DiskGB:   q.Limits.DiskGB - q.Used.DiskGB,
	}
}

// Admission is the structured outcome of a reservation attempt. A denial is a
// result, not an error: callers present current vs limit to the tenant.
type Admission struct {
	Allowed bool
	Reason  string
	Detail  string
	Current Dimensions
	Limits  Dimensions
}

// Repository abstracts the capacity ledger. Reserve must be atomic with
// respect to concurrent reservations for the same tenant.
type Repository interface {
	Reserve(ctx context.Context, tenantID uuid.UUID, delta Delta) (Admission, error)
	Release(ctx context.Context, tenantID uuid.UUID, delta Delta) (Quota, error)
	Get(ctx context.Context, tenantID uuid.UUID) (Quota, error)
	SetLimits(ctx context.Context, tenantID uuid.UUID, limits Dimensions) (Quota, error)
	Recalculate(ctx context.Context, tenantID uuid.UUID) (Quota, error)
}

// Service provides admission control over tenant capacity.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("capacity repo is required")
	}
	return &Service{repo: repo}
}

// CheckAndReserve atomically admits or denies a usage delta for the tenant.
func (s *Service) CheckAndReserve(ctx context.Context, tenantID uuid.UUID, delta Delta) (Admission, error) {
	return s.repo.Reserve(ctx, tenantID, delta)
}

// Release returns previously reserved capacity, used on destroy, downscale,
// and compensating rollback of a failed create.
func (s *Service) Release(ctx context.Context, tenantID uuid.UUID, delta Delta) (Quota, error) {
	return s.repo.Release(ctx, tenantID, delta)
}

// Recalculate re-derives usage from the pods currently holding capacity,
// repairing ledger drift.
func (s *Service) Recalculate(ctx context.Context, tenantID uuid.UUID) (Quota, error) {
	return s.repo.Recalculate(ctx, tenantID)
}

// SetLimits provisions or updates a tenant's limits without touching usage.
func (s *Service) SetLimits(ctx context.Context, tenantID uuid.UUID, limits Dimensions) (Quota, error) {
	return s.repo.SetLimits(ctx, tenantID, limits)
}

// Summary wraps used, limits, and remaining capacity for a tenant.
type Summary struct {
	TenantID  uuid.UUID
	Used      Dimensions
	Limits    Dimensions
	Remaining Dimensions
}

// Summary returns the tenant's quota snapshot.
func (s *Service) Summary(ctx context.Context, tenantID uuid.UUID) (Summary, error) {
	quota, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		TenantID:  quota.TenantID,
		Used:      quota.Used,
		Limits:    quota.Limits,
		Remaining: quota.Remaining(),
	}, nil
}
