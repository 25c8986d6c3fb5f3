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

// PodsTable defines the fully-qualified table for managed units.
const PodsTable = "orchestrator.pods"

// Errors returned by the pod store.
var (
	ErrPodNotFound    = errors.New("pod not found")
	ErrStatusConflict = errors.New("pod status conflicts with requested mutation")
)

// PodRecord represents a managed unit row.
type PodRecord struct {
	PodID           uuid.UUID  `db:"pod_id"`
	NumericID       int64      `db:"numeric_id"`
	TenantID        uuid.UUID  `db:"tenant_id"`
	Cores           int        `db:"cores"`
	MemoryMB        int64      `db:"memory_mb"`
	DiskGB          int64      `db:"disk_gb"`
	Status          string     `db:"status"`
	Handle          *string    `db:"handle"`
	HealthState     *string    `db:"health_state"`
	HealthCheckedAt *time.Time `db:"health_checked_at"`
	CreatedAt       time.Time  `db:"created_at"`
	SuspendedAt     *time.Time `db:"suspended_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// PodSpecUpdate replaces the resource spec columns during a transition.
type PodSpecUpdate struct {
	Cores    int
	MemoryMB int64
	DiskGB   int64
}

// PodHealthUpdate replaces the last-health snapshot during a transition.
type PodHealthUpdate struct {
	State     string
	CheckedAt time.Time
}

// PodMutation describes one atomic unit of work: a guarded status change plus
// the ledger adjustment and audit row that must commit with it.
type PodMutation struct {
	PodID        uuid.UUID
	FromStatus   []string    // allowed current statuses; the mutation fails with ErrStatusConflict otherwise
	ToStatus     string      // empty keeps the current status (health refresh, handle reconcile)
	ReleaseDelta *QuotaDelta // optional ledger release applied in the same transaction
	Handle       *string
	Spec         *PodSpecUpdate
	Health       *PodHealthUpdate
	SuspendedAt  *time.Time
	ClearSuspend bool
	Event        EventRecord
}

// PodStore provides access to managed units plus the composite transactions
// that keep unit status, ledger, and audit trail consistent.
type PodStore struct {
	pool *pgxpool.Pool
}

// NewPodStore creates a store; assumes migrations already created the table.
func NewPodStore(pool *pgxpool.Pool) (*PodStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PodStore{pool: pool}, nil
}

const podColumns = `pod_id, numeric_id, tenant_id, cores, memory_mb, disk_gb, status, handle,
    health_state, health_checked_at, created_at, suspended_at, updated_at`

// CreateReserving inserts a pod, reserves its capacity, and appends the
// creation event in one transaction. A denied admission rolls everything back
// and is returned as a structured result, not an error.
func (s *PodStore) CreateReserving(ctx context.Context, rec PodRecord, delta QuotaDelta, evt EventRecord) (PodRecord, AdmissionResult, error) {
	if rec.PodID == uuid.Nil {
		return PodRecord{}, AdmissionResult{}, errors.New("pod id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PodRecord{}, AdmissionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	admission, err := reserveQuotaDelta(ctx, tx, rec.TenantID, delta)
	if err != nil {
		return PodRecord{}, AdmissionResult{}, err
	}
	if !admission.Allowed {
		return PodRecord{}, admission, nil
	}

	insert := fmt.Sprintf(`
        INSERT INTO %s (pod_id, numeric_id, tenant_id, cores, memory_mb, disk_gb, status, handle)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING %s
    `, PodsTable, podColumns)

	out, err := scanPodRecord(tx.QueryRow(ctx, insert,
		rec.PodID, rec.NumericID, rec.TenantID, rec.Cores, rec.MemoryMB, rec.DiskGB, rec.Status, rec.Handle,
	))
	if err != nil {
		return PodRecord{}, AdmissionResult{}, fmt.Errorf("insert pod: %w", err)
	}

	evt.PodID = out.PodID
	if _, err = insertEventTx(ctx, tx, evt); err != nil {
		return PodRecord{}, AdmissionResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return PodRecord{}, AdmissionResult{}, err
	}
	return out, admission, nil
}

// Transition applies a PodMutation atomically. The pod row is locked first so
// concurrent conflicting operations serialize; a status outside FromStatus
// fails with ErrStatusConflict and leaves every table untouched.
func (s *PodStore) Transition(ctx context.Context, m PodMutation) (PodRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PodRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lock := fmt.Sprintf("SELECT %s FROM %s WHERE pod_id = $1 FOR UPDATE", podColumns, PodsTable)
	current, err := scanPodRecord(tx.QueryRow(ctx, lock, m.PodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PodRecord{}, ErrPodNotFound
		}
		return PodRecord{}, err
	}

	if len(m.FromStatus) > 0 && !containsStatus(m.FromStatus, current.Status) {
		return PodRecord{}, fmt.Errorf("%w: pod %s is %s", ErrStatusConflict, m.PodID, current.Status)
	}

	if m.ReleaseDelta != nil && !m.ReleaseDelta.IsZero() {
		if _, err = releaseQuotaDelta(ctx, tx, current.TenantID, *m.ReleaseDelta); err != nil {
			return PodRecord{}, err
		}
	}

	set := "updated_at = now()"
	args := []any{m.PodID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if m.ToStatus != "" {
		set += ", status = " + arg(m.ToStatus)
	}
	if m.Handle != nil {
		set += ", handle = " + arg(*m.Handle)
	}
	if m.Spec != nil {
		set += ", cores = " + arg(m.Spec.Cores)
		set += ", memory_mb = " + arg(m.Spec.MemoryMB)
		set += ", disk_gb = " + arg(m.Spec.DiskGB)
	}
	if m.Health != nil {
		set += ", health_state = " + arg(m.Health.State)
		set += ", health_checked_at = " + arg(m.Health.CheckedAt)
	}
	if m.SuspendedAt != nil {
		set += ", suspended_at = " + arg(*m.SuspendedAt)
	} else if m.ClearSuspend {
		set += ", suspended_at = NULL"
	}

	update := fmt.Sprintf("UPDATE %s SET %s WHERE pod_id = $1 RETURNING %s", PodsTable, set, podColumns)
	out, err := scanPodRecord(tx.QueryRow(ctx, update, args...))
	if err != nil {
		return PodRecord{}, fmt.Errorf("update pod: %w", err)
	}

	m.Event.PodID = m.PodID
	if _, err = insertEventTx(ctx, tx, m.Event); err != nil {
		return PodRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return PodRecord{}, err
	}
	return out, nil
}

// Get fetches a pod by external id.
func (s *PodStore) Get(ctx context.Context, podID uuid.UUID) (PodRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE pod_id = $1", podColumns, PodsTable)
	rec, err := scanPodRecord(s.pool.QueryRow(ctx, query, podID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PodRecord{}, ErrPodNotFound
		}
		return PodRecord{}, err
	}
	return rec, nil
}

// ListByTenant returns a tenant's pods ordered by creation time.
func (s *PodStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]PodRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = $1 ORDER BY created_at", podColumns, PodsTable)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PodRecord
	for rows.Next() {
		rec, err := scanPodRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// NumericIDExists reports whether the internal identifier is already bound.
func (s *PodStore) NumericIDExists(ctx context.Context, numericID int64) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE numeric_id = $1)", PodsTable)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, numericID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func containsStatus(statuses []string, s string) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func scanPodRecord(row pgx.Row) (PodRecord, error) {
	var rec PodRecord
	if err := row.Scan(&rec.PodID, &rec.NumericID, &rec.TenantID, &rec.Cores, &rec.MemoryMB, &rec.DiskGB,
		&rec.Status, &rec.Handle, &rec.HealthState, &rec.HealthCheckedAt,
		&rec.CreatedAt, &rec.SuspendedAt, &rec.UpdatedAt); err != nil {
		return PodRecord{}, err
	}
	return rec, nil
}
