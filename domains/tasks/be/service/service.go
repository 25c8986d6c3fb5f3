package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/hostwerk/cloudpod/platform/go/metrics"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrNotClaimed     = errors.New("task is not claimed")
	ErrUnknownKind    = errors.New("unknown task kind")
	ErrInvalidPayload = errors.New("task payload failed validation")
	ErrWorkerRequired = errors.New("worker id is required")
)

// Task kinds serviced by external fleet pollers.
const (
	KindFleetProvision   = "fleet_provision"
	KindFleetDeprovision = "fleet_deprovision"
)

// Status is the pull-queue task lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Task is one pull-queue work item. Workers poll for pending tasks, claim one
// exclusively under a lease, do the work off-process, and report completion.
type Task struct {
	ID             uuid.UUID
	Kind           string
	Payload        json.RawMessage
	Status         Status
	PodID          *uuid.UUID
	SubscriptionID *uuid.UUID
	ClaimedBy      *string
	LeaseExpiresAt *time.Time
	Attempts       int
	Error          *string
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settled reports whether the task reached a terminal status.
func (t Task) Settled() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// Repository abstracts pull-queue persistence. ClaimOldestPending must be
// exclusive: concurrent claims for the same task have exactly one winner.
type Repository interface {
	Insert(ctx context.Context, task Task) (Task, error)
	ClaimOldestPending(ctx context.Context, workerID string, leaseUntil time.Time) (*Task, error)
	Complete(ctx context.Context, id uuid.UUID, status Status, errMsg *string, result json.RawMessage) (Task, bool, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, id uuid.UUID) (Task, error)
}

// Activator is the slice of the pod orchestrator that fleet task completions
// feed back into.
type Activator interface {
	Activate(ctx context.Context, podID uuid.UUID, handle string) error
	Deactivate(ctx context.Context, podID uuid.UUID) error
	Fail(ctx context.Context, podID uuid.UUID, reason string) error
}

// Per-kind payload contracts, enforced at enqueue time so a malformed task
// never reaches a worker.
const fleetProvisionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pod_id", "spec"],
  "properties": {
    "pod_id": {"type": "string", "minLength": 36, "maxLength": 36},
    "spec": {
      "type": "object",
      "required": ["cores", "memory_mb", "disk_gb"],
      "properties": {
        "cores": {"type": "integer", "minimum": 1},
        "memory_mb": {"type": "integer", "minimum": 1},
        "disk_gb": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

const fleetDeprovisionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pod_id"],
  "properties": {
    "pod_id": {"type": "string", "minLength": 36, "maxLength": 36},
    "handle": {"type": "string"}
  }
}`

// Service is the generic pull task queue.
type Service struct {
	repo      Repository
	activator Activator
	leaseTTL  time.Duration
	logger    *zap.Logger
	schemas   map[string]*jsonschema.Schema
}

func New(repo Repository, activator Activator, leaseTTL time.Duration, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tasks service: repo is nil")
	}
	if activator == nil {
		panic("tasks service: activator is nil")
	}
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		activator: activator,
		leaseTTL:  leaseTTL,
		logger:    logger,
		schemas: map[string]*jsonschema.Schema{
			KindFleetProvision:   jsonschema.MustCompileString("fleet_provision.json", fleetProvisionSchema),
			KindFleetDeprovision: jsonschema.MustCompileString("fleet_deprovision.json", fleetDeprovisionSchema),
		},
	}
}

// LeaseTTL returns the claim lease duration.
func (s *Service) LeaseTTL() time.Duration {
	return s.leaseTTL
}

// Enqueue validates the payload against the kind's schema and records the
// task as pending.
func (s *Service) Enqueue(ctx context.Context, kind string, payload json.RawMessage, podID, subscriptionID *uuid.UUID) (Task, error) {
	schema, ok := s.schemas[kind]
	if !ok {
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	task, err := s.repo.Insert(ctx, Task{
		ID:             uuid.New(),
		Kind:           kind,
		Payload:        payload,
		Status:         StatusPending,
		PodID:          podID,
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("task enqueued", zap.String("taskId", task.ID.String()), zap.String("kind", kind))
	return task, nil
}

// Claim hands the oldest pending task to workerID under a lease, or nil when
// the queue is empty. Losers of a concurrent claim skip to the next task, so
// an empty result only means nothing was claimable right now.
func (s *Service) Claim(ctx context.Context, workerID string) (*Task, error) {
	if workerID == "" {
		return nil, ErrWorkerRequired
	}
	task, err := s.repo.ClaimOldestPending(ctx, workerID, time.Now().UTC().Add(s.leaseTTL))
	if err != nil {
		return nil, err
	}
	if task == nil {
		metrics.TasksClaimedTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}
	metrics.TasksClaimedTotal.WithLabelValues("claimed").Inc()
	s.logger.Info("task claimed",
		zap.String("taskId", task.ID.String()),
		zap.String("kind", task.Kind),
		zap.String("worker", workerID))
	return task, nil
}

// Complete settles a claimed task and applies its pod side effect. Settling is
// idempotent: a worker retrying a lost response gets the settled task back and
// no side effect runs twice.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, success bool, errMsg string, result json.RawMessage) (Task, error) {
	status := StatusSuccess
	var msg *string
	if !success {
		status = StatusFailed
		if errMsg == "" {
			errMsg = "task failed"
		}
		msg = &errMsg
	}

	task, alreadySettled, err := s.repo.Complete(ctx, id, status, msg, result)
	if err != nil {
		return Task{}, err
	}
	if alreadySettled {
		s.logger.Debug("dropping completion for settled task", zap.String("taskId", id.String()))
		return task, nil
	}

	if err := s.applySideEffect(ctx, task, success, errMsg, result); err != nil {
		// The task is settled either way; the reconciliation failure is
		// surfaced so the caller can alert on it.
		return task, fmt.Errorf("apply completion of task %s: %w", id, err)
	}
	return task, nil
}

func (s *Service) applySideEffect(ctx context.Context, task Task, success bool, errMsg string, result json.RawMessage) error {
	if task.PodID == nil {
		return nil
	}

	switch task.Kind {
	case KindFleetProvision:
		if !success {
			return s.activator.Fail(ctx, *task.PodID, errMsg)
		}
		var res struct {
			Handle string `json:"handle"`
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &res); err != nil {
				return fmt.Errorf("decode provision result: %w", err)
			}
		}
		return s.activator.Activate(ctx, *task.PodID, res.Handle)

	case KindFleetDeprovision:
		if !success {
			return s.activator.Fail(ctx, *task.PodID, errMsg)
		}
		return s.activator.Deactivate(ctx, *task.PodID)
	}
	return nil
}

// ReleaseExpired returns abandoned claims whose lease lapsed to pending.
// Intended to run on a timer and from the operations CLI.
func (s *Service) ReleaseExpired(ctx context.Context) (int, error) {
	released, err := s.repo.ReleaseExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		metrics.TasksReleasedTotal.Add(float64(released))
		s.logger.Info("released expired task leases", zap.Int("count", released))
	}
	return released, nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	return s.repo.Get(ctx, id)
}
