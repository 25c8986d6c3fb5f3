package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/platform/go/metrics"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

var (
	ErrNotFound      = errors.New("pod not found")
	ErrConflict      = errors.New("pod status conflict")
	ErrQuotaExceeded = errors.New("tenant quota exceeded")
	ErrInvalidSpec   = errors.New("invalid resource spec")
	ErrNoChange      = errors.New("requested spec equals current spec")
)

// Status is the managed-unit lifecycle state.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusScaling      Status = "scaling"
	StatusBackingUp    Status = "backing-up"
	StatusDeleting     Status = "deleting"
	StatusDeleted      Status = "deleted"
	StatusSuspended    Status = "suspended"
	StatusError        Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDeleted
}

// transitions is the forward edge set of the lifecycle graph. Error is
// reachable from every non-terminal state and is handled separately in
// CanTransition.
var transitions = map[Status][]Status{
	StatusProvisioning: {StatusActive, StatusDeleting},
	StatusActive:       {StatusScaling, StatusBackingUp, StatusDeleting, StatusSuspended},
	StatusScaling:      {StatusActive},
	StatusBackingUp:    {StatusActive},
	StatusDeleting:     {StatusDeleted},
	StatusSuspended:    {StatusActive, StatusDeleting},
}

// CanTransition reports whether the lifecycle graph allows from -> to.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResourceSpec is the sizing of a pod.
type ResourceSpec struct {
	Cores    int   `json:"cores"`
	MemoryMB int64 `json:"memory_mb"`
	DiskGB   int64 `json:"disk_gb"`
}

// Validate rejects non-positive dimensions.
func (r ResourceSpec) Validate() error {
	if r.Cores <= 0 || r.MemoryMB <= 0 || r.DiskGB <= 0 {
		return fmt.Errorf("%w: cores=%d memory_mb=%d disk_gb=%d", ErrInvalidSpec, r.Cores, r.MemoryMB, r.DiskGB)
	}
	return nil
}

// Delta is the ledger reservation for creating a pod with this spec.
func (r ResourceSpec) Delta() capacityservice.Delta {
	return capacityservice.Delta{Pods: 1, Cores: r.Cores, MemoryMB: r.MemoryMB, DiskGB: r.DiskGB}
}

// Diff is the ledger change when resizing from old to r. The pod count is
// unchanged, so components may be negative on a downscale.
func (r ResourceSpec) Diff(old ResourceSpec) capacityservice.Delta {
	return capacityservice.Delta{
		Cores:    r.Cores - old.Cores,
		MemoryMB: r.MemoryMB - old.MemoryMB,
		DiskGB:   r.DiskGB - old.DiskGB,
	}
}

// HealthSnapshot is the last observed health of a pod's backing node.
type HealthSnapshot struct {
	State     string    `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pod is one managed unit.
type Pod struct {
	ID          uuid.UUID
	NumericID   int64
	TenantID    uuid.UUID
	Status      Status
	Spec        ResourceSpec
	Handle      *string
	Health      *HealthSnapshot
	SuspendedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HoldsCapacity reports whether the pod counts against the tenant's ledger.
// Deleted pods released their reservation on the way out. Errored pods
// released theirs only when no node was ever produced; an error with a live
// handle keeps its reservation until the node is actually destroyed.
func (p Pod) HoldsCapacity() bool {
	switch p.Status {
	case StatusDeleted:
		return false
	case StatusError:
		return p.Handle != nil && *p.Handle != ""
	}
	return true
}

// Mutation is one guarded pod update. The repository must apply the status
// check, the field updates, the optional ledger release, and the event append
// atomically, and return ErrConflict when the pod's current status is not in
// From.
type Mutation struct {
	PodID        uuid.UUID
	From         []Status
	To           Status // zero value keeps the current status
	ReleaseDelta *capacityservice.Delta
	Handle       *string
	Spec         *ResourceSpec
	Health       *HealthSnapshot
	SuspendedAt  *time.Time
	ClearSuspend bool
	EventType    string
	EventPayload json.RawMessage
	Actor        string
}

// Repository abstracts pod persistence. CreateReserving must insert the pod,
// reserve the delta against the tenant's ledger, and append the creation event
// in one atomic step; a denied admission must leave no trace.
type Repository interface {
	CreateReserving(ctx context.Context, pod Pod, delta capacityservice.Delta, eventPayload json.RawMessage, actor string) (Pod, capacityservice.Admission, error)
	Transition(ctx context.Context, m Mutation) (Pod, error)
	Get(ctx context.Context, id uuid.UUID) (Pod, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Pod, error)
}

// Allocator hands out cluster-unique numeric identifiers.
type Allocator interface {
	NextID(ctx context.Context) (int64, error)
}

// JobQueue is the slice of the push queue the orchestrator drives.
type JobQueue interface {
	Enqueue(ctx context.Context, kind jobsservice.Kind, tenantID, podID uuid.UUID, payload any) (jobsservice.Job, error)
	ReportOutcome(ctx context.Context, id uuid.UUID, outcome jobsservice.Outcome) (jobsservice.Job, bool, error)
}

// Service orchestrates the pod lifecycle: admission, identifier allocation,
// state transitions, job enqueueing, and outcome reconciliation.
type Service struct {
	repo     Repository
	alloc    Allocator
	jobs     JobQueue
	capacity *capacityservice.Service
	logger   *zap.Logger
}

func New(repo Repository, alloc Allocator, jobs JobQueue, capacity *capacityservice.Service, logger *zap.Logger) *Service {
	if repo == nil {
		panic("pods service: repo is nil")
	}
	if alloc == nil {
		panic("pods service: allocator is nil")
	}
	if jobs == nil {
		panic("pods service: job queue is nil")
	}
	if capacity == nil {
		panic("pods service: capacity service is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, alloc: alloc, jobs: jobs, capacity: capacity, logger: logger}
}

// CreateResult reports what CreatePod did. On a quota denial Admission carries
// the current-vs-limit detail and Job is nil.
type CreateResult struct {
	Pod       Pod
	Job       *jobsservice.Job
	Admission capacityservice.Admission
}

// CreatePod admits the spec against the tenant ledger, allocates a numeric
// identifier, records the pod in provisioning, and enqueues the create job.
// Admission, insert, and the creation event are one atomic step; a denial
// leaves nothing behind and returns ErrQuotaExceeded.
func (s *Service) CreatePod(ctx context.Context, tenantID uuid.UUID, spec ResourceSpec) (CreateResult, error) {
	if err := spec.Validate(); err != nil {
		return CreateResult{}, err
	}

	numericID, err := s.alloc.NextID(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("allocate numeric id: %w", err)
	}

	pod := Pod{
		ID:        uuid.New(),
		NumericID: numericID,
		TenantID:  tenantID,
		Status:    StatusProvisioning,
		Spec:      spec,
	}
	payload, err := json.Marshal(CreatePayload{Spec: spec})
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal create event payload: %w", err)
	}

	actor := requesttrace.FromContextOrSystem(ctx).String()
	created, admission, err := s.repo.CreateReserving(ctx, pod, spec.Delta(), payload, actor)
	if err != nil {
		return CreateResult{}, err
	}
	if !admission.Allowed {
		metrics.AdmissionDeniedTotal.Inc()
		s.logger.Info("pod creation denied by quota",
			zap.String("tenantId", tenantID.String()),
			zap.String("detail", admission.Detail))
		return CreateResult{Admission: admission}, ErrQuotaExceeded
	}

	job, err := s.jobs.Enqueue(ctx, jobsservice.KindCreate, tenantID, created.ID, CreatePayload{Spec: spec})
	if err != nil {
		return CreateResult{}, fmt.Errorf("enqueue create job: %w", err)
	}

	s.logger.Info("pod created",
		zap.String("podId", created.ID.String()),
		zap.Int64("numericId", created.NumericID),
		zap.String("tenantId", tenantID.String()))
	return CreateResult{Pod: created, Job: &job, Admission: admission}, nil
}

// DestroyPod moves the pod to deleting and enqueues the destroy job. It is
// legal from active, suspended, and provisioning; a destroy issued while the
// create job is still in flight supersedes it, and the late create outcome is
// reconciled by ApplyJobOutcome.
func (s *Service) DestroyPod(ctx context.Context, podID uuid.UUID) (Pod, jobsservice.Job, error) {
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return Pod{}, jobsservice.Job{}, err
	}

	updated, err := s.repo.Transition(ctx, Mutation{
		PodID:     podID,
		From:      []Status{StatusActive, StatusSuspended, StatusProvisioning},
		To:        StatusDeleting,
		EventType: eventsservice.TypePodDeleting,
		Actor:     requesttrace.FromContextOrSystem(ctx).String(),
	})
	if err != nil {
		return Pod{}, jobsservice.Job{}, err
	}

	handle := ""
	if pod.Handle != nil {
		handle = *pod.Handle
	}
	job, err := s.jobs.Enqueue(ctx, jobsservice.KindDestroy, pod.TenantID, podID, DestroyPayload{Handle: handle})
	if err != nil {
		return Pod{}, jobsservice.Job{}, fmt.Errorf("enqueue destroy job: %w", err)
	}

	s.logger.Info("pod destroy requested", zap.String("podId", podID.String()))
	return updated, job, nil
}

// ScaleResult reports what ScalePod did.
type ScaleResult struct {
	Pod       Pod
	Job       *jobsservice.Job
	Admission capacityservice.Admission
}

// ScalePod reserves the resource difference, moves the pod to scaling, and
// enqueues the scale job. Only active pods may scale; an upscale beyond the
// tenant's remaining capacity is denied with ErrQuotaExceeded before any
// state changes.
func (s *Service) ScalePod(ctx context.Context, podID uuid.UUID, newSpec ResourceSpec) (ScaleResult, error) {
	if err := newSpec.Validate(); err != nil {
		return ScaleResult{}, err
	}
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return ScaleResult{}, err
	}
	if pod.Status != StatusActive {
		return ScaleResult{}, fmt.Errorf("%w: cannot scale pod in status %q", ErrConflict, pod.Status)
	}
	diff := newSpec.Diff(pod.Spec)
	if diff.IsZero() {
		return ScaleResult{}, ErrNoChange
	}

	admission, err := s.capacity.CheckAndReserve(ctx, pod.TenantID, diff)
	if err != nil {
		return ScaleResult{}, err
	}
	if !admission.Allowed {
		metrics.AdmissionDeniedTotal.Inc()
		return ScaleResult{Admission: admission}, ErrQuotaExceeded
	}

	payload := ScalePayload{OldSpec: pod.Spec, NewSpec: newSpec}
	eventPayload, err := json.Marshal(payload)
	if err != nil {
		return ScaleResult{}, fmt.Errorf("marshal scale event payload: %w", err)
	}
	updated, err := s.repo.Transition(ctx, Mutation{
		PodID:        podID,
		From:         []Status{StatusActive},
		To:           StatusScaling,
		EventType:    eventsservice.TypePodScaling,
		EventPayload: eventPayload,
		Actor:        requesttrace.FromContextOrSystem(ctx).String(),
	})
	if err != nil {
		// The reservation went through but the pod moved under us. Hand the
		// difference back before surfacing the conflict.
		if _, relErr := s.capacity.Release(ctx, pod.TenantID, diff); relErr != nil {
			s.logger.Error("failed to release scale reservation after conflict",
				zap.String("podId", podID.String()), zap.Error(relErr))
		}
		return ScaleResult{}, err
	}

	job, err := s.jobs.Enqueue(ctx, jobsservice.KindScale, pod.TenantID, podID, payload)
	if err != nil {
		return ScaleResult{}, fmt.Errorf("enqueue scale job: %w", err)
	}

	s.logger.Info("pod scale requested",
		zap.String("podId", podID.String()),
		zap.Int("cores", newSpec.Cores),
		zap.Int64("memoryMb", newSpec.MemoryMB),
		zap.Int64("diskGb", newSpec.DiskGB))
	return ScaleResult{Pod: updated, Job: &job, Admission: admission}, nil
}

// BackupPod moves an active pod to backing-up and enqueues the backup job.
func (s *Service) BackupPod(ctx context.Context, podID uuid.UUID, mode string) (Pod, jobsservice.Job, error) {
	if mode == "" {
		mode = "full"
	}
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return Pod{}, jobsservice.Job{}, err
	}

	updated, err := s.repo.Transition(ctx, Mutation{
		PodID:     podID,
		From:      []Status{StatusActive},
		To:        StatusBackingUp,
		EventType: eventsservice.TypePodBackingUp,
		Actor:     requesttrace.FromContextOrSystem(ctx).String(),
	})
	if err != nil {
		return Pod{}, jobsservice.Job{}, err
	}

	job, err := s.jobs.Enqueue(ctx, jobsservice.KindBackup, pod.TenantID, podID, BackupPayload{Mode: mode})
	if err != nil {
		return Pod{}, jobsservice.Job{}, fmt.Errorf("enqueue backup job: %w", err)
	}

	s.logger.Info("pod backup requested", zap.String("podId", podID.String()), zap.String("mode", mode))
	return updated, job, nil
}

// RefreshHealth enqueues a health probe for an active pod. The pod's status is
// untouched; the snapshot lands when the job outcome is reconciled.
func (s *Service) RefreshHealth(ctx context.Context, podID uuid.UUID) (jobsservice.Job, error) {
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return jobsservice.Job{}, err
	}
	if pod.Status != StatusActive {
		return jobsservice.Job{}, fmt.Errorf("%w: cannot probe pod in status %q", ErrConflict, pod.Status)
	}
	return s.jobs.Enqueue(ctx, jobsservice.KindHealth, pod.TenantID, podID, HealthPayload{})
}

// Suspend is an administrative transition: no executor work is involved, the
// pod keeps its ledger reservation while suspended.
func (s *Service) Suspend(ctx context.Context, podID uuid.UUID) (Pod, error) {
	now := time.Now().UTC()
	return s.repo.Transition(ctx, Mutation{
		PodID:       podID,
		From:        []Status{StatusActive},
		To:          StatusSuspended,
		SuspendedAt: &now,
		EventType:   eventsservice.TypePodSuspended,
		Actor:       requesttrace.FromContextOrSystem(ctx).String(),
	})
}

// Resume reverses Suspend.
func (s *Service) Resume(ctx context.Context, podID uuid.UUID) (Pod, error) {
	return s.repo.Transition(ctx, Mutation{
		PodID:        podID,
		From:         []Status{StatusSuspended},
		To:           StatusActive,
		ClearSuspend: true,
		EventType:    eventsservice.TypePodResumed,
		Actor:        requesttrace.FromContextOrSystem(ctx).String(),
	})
}

// Get returns one pod.
func (s *Service) Get(ctx context.Context, podID uuid.UUID) (Pod, error) {
	return s.repo.Get(ctx, podID)
}

// ListByTenant returns all pods of a tenant, including deleted ones.
func (s *Service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Pod, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}
