package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/capacity/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// PostgresRepository adapts the persistence quota store to the service contract.
type PostgresRepository struct {
	store *persistence.QuotaStore
}

// NewPostgresRepository constructs the adapter.
func NewPostgresRepository(store *persistence.QuotaStore) *PostgresRepository {
	if store == nil {
		panic("quota store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Reserve(ctx context.Context, tenantID uuid.UUID, delta service.Delta) (service.Admission, error) {
	admission, err := r.store.Reserve(ctx, tenantID, toStoreDelta(delta))
	if err != nil {
		return service.Admission{}, err
	}
	return toAdmission(admission), nil
}

func (r *PostgresRepository) Release(ctx context.Context, tenantID uuid.UUID, delta service.Delta) (service.Quota, error) {
	rec, err := r.store.Release(ctx, tenantID, toStoreDelta(delta))
	if err != nil {
		return service.Quota{}, mapQuotaErr(err)
	}
	return toQuota(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID uuid.UUID) (service.Quota, error) {
	rec, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return service.Quota{}, mapQuotaErr(err)
	}
	return toQuota(rec), nil
}

func (r *PostgresRepository) SetLimits(ctx context.Context, tenantID uuid.UUID, limits service.Dimensions) (service.Quota, error) {
	rec, err := r.store.SetLimits(ctx, tenantID, limits.Pods, limits.Cores, limits.MemoryMB, limits.DiskGB)
	if err != nil {
		return service.Quota{}, err
	}
	return toQuota(rec), nil
}

func (r *PostgresRepository) Recalculate(ctx context.Context, tenantID uuid.UUID) (service.Quota, error) {
	rec, err := r.store.Recalculate(ctx, tenantID)
	if err != nil {
		return service.Quota{}, mapQuotaErr(err)
	}
	return toQuota(rec), nil
}

func mapQuotaErr(err error) error {
	if errors.Is(err, persistence.ErrNoQuota) {
		return service.ErrNoQuota
	}
	return err
}

func toStoreDelta(d service.Delta) persistence.QuotaDelta {
	return persistence.QuotaDelta{Pods: d.Pods, Cores: d.Cores, MemoryMB: d.MemoryMB, DiskGB: d.DiskGB}
}

func toQuota(rec persistence.QuotaRecord) service.Quota {
	return service.Quota{
		TenantID: rec.TenantID,
		Limits:   service.Dimensions{Pods: rec.MaxPods, Cores: rec.MaxCores, MemoryMB: rec.MaxMemoryMB, DiskGB: rec.MaxDiskGB},
		Used:     service.Dimensions{Pods: rec.UsedPods, Cores: rec.UsedCores, MemoryMB: rec.UsedMemoryMB, DiskGB: rec.UsedDiskGB},
	}
}

func toAdmission(rec persistence.AdmissionResult) service.Admission {
	quota := toQuota(rec.Record)
	return service.Admission{
		Allowed: rec.Allowed,
		Reason:  rec.Reason,
		Detail:  rec.Detail,
		Current: quota.Used,
		Limits:  quota.Limits,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
