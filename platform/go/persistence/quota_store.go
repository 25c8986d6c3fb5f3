package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuotaTable defines the fully-qualified table for the capacity ledger.
const QuotaTable = "orchestrator.tenant_quotas"

// ReasonQuotaExceeded is the machine-readable reason on denied admissions.
const ReasonQuotaExceeded = "QUOTA_EXCEEDED"

// ErrNoQuota is returned when a tenant has no ledger row.
var ErrNoQuota = errors.New("no quota configured for tenant")

// QuotaDelta is a relative change applied to a tenant's usage counters.
type QuotaDelta struct {
	Pods     int
	Cores    int
	MemoryMB int64
	DiskGB   int64
}

// Negate returns the delta with all components flipped.
func (d QuotaDelta) Negate() QuotaDelta {
	return QuotaDelta{Pods: -d.Pods, Cores: -d.Cores, MemoryMB: -d.MemoryMB, DiskGB: -d.DiskGB}
}

// IsZero reports whether the delta changes nothing.
func (d QuotaDelta) IsZero() bool {
	return d == QuotaDelta{}
}

// QuotaRecord represents a tenant's ledger row.
type QuotaRecord struct {
	TenantID     uuid.UUID `db:"tenant_id"`
	MaxPods      int       `db:"max_pods"`
	UsedPods     int       `db:"used_pods"`
	MaxCores     int       `db:"max_cores"`
	UsedCores    int       `db:"used_cores"`
	MaxMemoryMB  int64     `db:"max_memory_mb"`
	UsedMemoryMB int64     `db:"used_memory_mb"`
	MaxDiskGB    int64     `db:"max_disk_gb"`
	UsedDiskGB   int64     `db:"used_disk_gb"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// AdmissionResult is the structured outcome of a reservation attempt. Denied
// admissions carry the ledger snapshot so callers can present current vs limit.
type AdmissionResult struct {
	Allowed bool
	Reason  string
	Detail  string
	Record  QuotaRecord
}

// QuotaStore provides access to the capacity ledger.
type QuotaStore struct {
	pool *pgxpool.Pool
}

// NewQuotaStore creates a store; assumes migrations already created the table.
func NewQuotaStore(pool *pgxpool.Pool) (*QuotaStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &QuotaStore{pool: pool}, nil
}

const quotaColumns = `tenant_id, max_pods, used_pods, max_cores, used_cores,
    max_memory_mb, used_memory_mb, max_disk_gb, used_disk_gb, updated_at`

// SetLimits upserts the limit columns for a tenant, preserving usage counters.
func (s *QuotaStore) SetLimits(ctx context.Context, tenantID uuid.UUID, maxPods, maxCores int, maxMemoryMB, maxDiskGB int64) (QuotaRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (tenant_id, max_pods, max_cores, max_memory_mb, max_disk_gb)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tenant_id) DO UPDATE SET
            max_pods = EXCLUDED.max_pods,
            max_cores = EXCLUDED.max_cores,
            max_memory_mb = EXCLUDED.max_memory_mb,
            max_disk_gb = EXCLUDED.max_disk_gb,
            updated_at = now()
        RETURNING %s
    `, QuotaTable, quotaColumns)

	return scanQuotaRecord(s.pool.QueryRow(ctx, query, tenantID, maxPods, maxCores, maxMemoryMB, maxDiskGB))
}

// Get fetches a tenant's ledger row.
func (s *QuotaStore) Get(ctx context.Context, tenantID uuid.UUID) (QuotaRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = $1", quotaColumns, QuotaTable)
	rec, err := scanQuotaRecord(s.pool.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotaRecord{}, ErrNoQuota
		}
		return QuotaRecord{}, err
	}
	return rec, nil
}

// Reserve atomically checks and applies a usage delta. Two concurrent
// reservations that would jointly exceed a limit cannot both succeed: the
// ledger row is locked for the duration of the check-and-update.
func (s *QuotaStore) Reserve(ctx context.Context, tenantID uuid.UUID, delta QuotaDelta) (AdmissionResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AdmissionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	admission, err := reserveQuotaDelta(ctx, tx, tenantID, delta)
	if err != nil {
		return AdmissionResult{}, err
	}
	if !admission.Allowed {
		return admission, nil
	}

	if err = tx.Commit(ctx); err != nil {
		return AdmissionResult{}, err
	}
	return admission, nil
}

// Release subtracts a previously reserved delta, flooring counters at zero.
func (s *QuotaStore) Release(ctx context.Context, tenantID uuid.UUID, delta QuotaDelta) (QuotaRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return QuotaRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := releaseQuotaDelta(ctx, tx, tenantID, delta)
	if err != nil {
		return QuotaRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return QuotaRecord{}, err
	}
	return rec, nil
}

// Recalculate re-derives usage counters from the pods currently holding
// capacity, repairing any drift between the ledger and the pod table.
func (s *QuotaStore) Recalculate(ctx context.Context, tenantID uuid.UUID) (QuotaRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return QuotaRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = lockQuotaRow(ctx, tx, tenantID); err != nil {
		return QuotaRecord{}, err
	}

	// Errored pods keep holding capacity while a node handle is still bound;
	// only an error without a node ever released its reservation.
	derive := fmt.Sprintf(`
        SELECT COUNT(*), COALESCE(SUM(cores), 0), COALESCE(SUM(memory_mb), 0), COALESCE(SUM(disk_gb), 0)
        FROM %s
        WHERE tenant_id = $1
          AND (status = ANY($2) OR (status = 'error' AND handle IS NOT NULL AND handle <> ''))
    `, PodsTable)

	var pods, cores int
	var memoryMB, diskGB int64
	holding := []string{"provisioning", "active", "scaling", "backing-up", "deleting", "suspended"}
	if err = tx.QueryRow(ctx, derive, tenantID, holding).Scan(&pods, &cores, &memoryMB, &diskGB); err != nil {
		return QuotaRecord{}, fmt.Errorf("derive usage: %w", err)
	}

	update := fmt.Sprintf(`
        UPDATE %s SET used_pods = $2, used_cores = $3, used_memory_mb = $4, used_disk_gb = $5, updated_at = now()
        WHERE tenant_id = $1
        RETURNING %s
    `, QuotaTable, quotaColumns)

	rec, err := scanQuotaRecord(tx.QueryRow(ctx, update, tenantID, pods, cores, memoryMB, diskGB))
	if err != nil {
		return QuotaRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return QuotaRecord{}, err
	}
	return rec, nil
}

// lockQuotaRow acquires the row lock serializing all ledger mutations for one tenant.
func lockQuotaRow(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (QuotaRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = $1 FOR UPDATE", quotaColumns, QuotaTable)
	rec, err := scanQuotaRecord(tx.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotaRecord{}, ErrNoQuota
		}
		return QuotaRecord{}, err
	}
	return rec, nil
}

// reserveQuotaDelta locks the ledger row, checks every dimension against its
// limit, and applies the delta when admitted. Callers own the transaction.
func reserveQuotaDelta(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, delta QuotaDelta) (AdmissionResult, error) {
	rec, err := lockQuotaRow(ctx, tx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNoQuota) {
			return AdmissionResult{
				Allowed: false,
				Reason:  ReasonQuotaExceeded,
				Detail:  "no quota configured for tenant",
				Record:  QuotaRecord{TenantID: tenantID},
			}, nil
		}
		return AdmissionResult{}, err
	}

	if detail := overLimitDetail(rec, delta); detail != "" {
		return AdmissionResult{Allowed: false, Reason: ReasonQuotaExceeded, Detail: detail, Record: rec}, nil
	}

	update := fmt.Sprintf(`
        UPDATE %s SET
            used_pods = used_pods + $2,
            used_cores = used_cores + $3,
            used_memory_mb = used_memory_mb + $4,
            used_disk_gb = used_disk_gb + $5,
            updated_at = now()
        WHERE tenant_id = $1
        RETURNING %s
    `, QuotaTable, quotaColumns)

	updated, err := scanQuotaRecord(tx.QueryRow(ctx, update, tenantID, delta.Pods, delta.Cores, delta.MemoryMB, delta.DiskGB))
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("apply quota delta: %w", err)
	}
	return AdmissionResult{Allowed: true, Record: updated}, nil
}

// releaseQuotaDelta subtracts a delta inside the caller's transaction, flooring
// every counter at zero so a double release cannot corrupt the ledger.
func releaseQuotaDelta(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, delta QuotaDelta) (QuotaRecord, error) {
	if _, err := lockQuotaRow(ctx, tx, tenantID); err != nil {
		return QuotaRecord{}, err
	}

	update := fmt.Sprintf(`
        UPDATE %s SET
            used_pods = GREATEST(0, used_pods - $2),
            used_cores = GREATEST(0, used_cores - $3),
            used_memory_mb = GREATEST(0, used_memory_mb - $4),
            used_disk_gb = GREATEST(0, used_disk_gb - $5),
            updated_at = now()
        WHERE tenant_id = $1
        RETURNING %s
    `, QuotaTable, quotaColumns)

	rec, err := scanQuotaRecord(tx.QueryRow(ctx, update, tenantID, delta.Pods, delta.Cores, delta.MemoryMB, delta.DiskGB))
	if err != nil {
		return QuotaRecord{}, fmt.Errorf("release quota delta: %w", err)
	}
	return rec, nil
}

func overLimitDetail(rec QuotaRecord, delta QuotaDelta) string {
	switch {
	case rec.UsedPods+delta.Pods > rec.MaxPods:
		return fmt.Sprintf("pods: %d used + %d requested exceeds limit %d", rec.UsedPods, delta.Pods, rec.MaxPods)
	case rec.UsedCores+delta.Cores > rec.MaxCores:
		return fmt.Sprintf("cores: %d used + %d requested exceeds limit %d", rec.UsedCores, delta.Cores, rec.MaxCores)
	case rec.UsedMemoryMB+delta.MemoryMB > rec.MaxMemoryMB:
		return fmt.Sprintf("memory_mb: %d used + %d requested exceeds limit %d", rec.UsedMemoryMB, delta.MemoryMB, rec.MaxMemoryMB)
	case rec.UsedDiskGB+delta.DiskGB > rec.MaxDiskGB:
		return fmt.Sprintf("disk_gb: %d used + %d requested exceeds limit %d", rec.UsedDiskGB, delta.DiskGB, rec.MaxDiskGB)
	}
	return ""
}

func scanQuotaRecord(row pgx.Row) (QuotaRecord, error) {
	var rec QuotaRecord
	if err := row.Scan(&rec.TenantID, &rec.MaxPods, &rec.UsedPods, &rec.MaxCores, &rec.UsedCores,
		&rec.MaxMemoryMB, &rec.UsedMemoryMB, &rec.MaxDiskGB, &rec.UsedDiskGB, &rec.UpdatedAt); err != nil {
		return QuotaRecord{}, err
	}
	return rec, nil
}
