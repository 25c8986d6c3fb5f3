package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

// ApplyJobOutcome settles the job and reconciles the pod. The settle step is
// idempotent: a redelivered outcome for an already-settled job is dropped
// without touching the pod, so the state machine and ledger see each outcome
// at most once.
func (s *Service) ApplyJobOutcome(ctx context.Context, jobID uuid.UUID, outcome jobsservice.Outcome) error {
	job, alreadySettled, err := s.jobs.ReportOutcome(ctx, jobID, outcome)
	if err != nil {
		return fmt.Errorf("settle job %s: %w", jobID, err)
	}
	if alreadySettled {
		s.logger.Debug("dropping outcome for settled job", zap.String("jobId", jobID.String()))
		return nil
	}

	switch job.Kind {
	case jobsservice.KindCreate:
		return s.applyCreateOutcome(ctx, job, outcome)
	case jobsservice.KindDestroy:
		return s.applyDestroyOutcome(ctx, job, outcome)
	case jobsservice.KindScale:
		return s.applyScaleOutcome(ctx, job, outcome)
	case jobsservice.KindBackup:
		return s.applyBackupOutcome(ctx, job, outcome)
	case jobsservice.KindHealth:
		return s.applyHealthOutcome(ctx, job, outcome)
	}
	return fmt.Errorf("%w: %q", jobsservice.ErrUnknownKind, job.Kind)
}

func (s *Service) applyCreateOutcome(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome) error {
	actor := requesttrace.FromContextOrSystem(ctx).String()

	if !outcome.Success {
		return s.failCreate(ctx, job, outcome, actor)
	}

	var res CreateResultPayload
	if err := json.Unmarshal(outcome.Result, &res); err != nil {
		return fmt.Errorf("decode create result for job %s: %w", job.ID, err)
	}
	_, err := s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusProvisioning},
		To:           StatusActive,
		Handle:       &res.Handle,
		EventType:    eventsservice.TypePodProvisioned,
		EventPayload: rawPayload(CreateResultPayload{Handle: res.Handle}),
		Actor:        actor,
	})
	if err == nil {
		s.logger.Info("pod provisioned", zap.String("podId", job.PodID.String()), zap.String("handle", res.Handle))
		return nil
	}
	if !errors.Is(err, ErrConflict) {
		return err
	}

	// The pod moved while the create job was running. A destroy issued during
	// provisioning wins: record the handle on the deleting pod and send a
	// compensating destroy so the node the late create produced gets torn
	// down. The original destroy job carried an empty handle and did nothing.
	pod, getErr := s.repo.Get(ctx, job.PodID)
	if getErr != nil {
		return getErr
	}
	if pod.Status != StatusDeleting {
		s.logger.Warn("create outcome for pod in unexpected status",
			zap.String("podId", job.PodID.String()), zap.String("status", string(pod.Status)))
		return nil
	}
	if _, err := s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusDeleting},
		Handle:       &res.Handle,
		EventType:    eventsservice.TypeCreateSuperseded,
		EventPayload: rawPayload(CreateResultPayload{Handle: res.Handle}),
		Actor:        actor,
	}); err != nil {
		return err
	}
	if _, err := s.jobs.Enqueue(ctx, jobsservice.KindDestroy, job.TenantID, job.PodID, DestroyPayload{Handle: res.Handle}); err != nil {
		return fmt.Errorf("enqueue compensating destroy for pod %s: %w", job.PodID, err)
	}
	s.logger.Info("late create superseded by destroy", zap.String("podId", job.PodID.String()))
	return nil
}

func (s *Service) failCreate(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome, actor string) error {
	pod, err := s.repo.Get(ctx, job.PodID)
	if err != nil {
		return err
	}
	release := pod.Spec.Delta()

	// A create that failed while the pod was already being destroyed never
	// produced a node, so the pod can settle as deleted directly.
	if pod.Status == StatusDeleting {
		_, err := s.repo.Transition(ctx, Mutation{
			PodID:        job.PodID,
			From:         []Status{StatusDeleting},
			To:           StatusDeleted,
			ReleaseDelta: &release,
			EventType:    eventsservice.TypePodDeleted,
			EventPayload: failurePayload(job, outcome),
			Actor:        actor,
		})
		return err
	}

	_, err = s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusProvisioning},
		To:           StatusError,
		ReleaseDelta: &release,
		EventType:    eventsservice.TypeJobFailedPermanently,
		EventPayload: failurePayload(job, outcome),
		Actor:        actor,
	})
	if errors.Is(err, ErrConflict) {
		s.logger.Warn("create failure for pod in unexpected status", zap.String("podId", job.PodID.String()))
		return nil
	}
	if err == nil {
		s.logger.Warn("pod moved to error after create retries exhausted",
			zap.String("podId", job.PodID.String()), zap.String("error", outcome.Error))
	}
	return err
}

func (s *Service) applyDestroyOutcome(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome) error {
	actor := requesttrace.FromContextOrSystem(ctx).String()

	if !outcome.Success {
		_, err := s.repo.Transition(ctx, Mutation{
			PodID:        job.PodID,
			From:         []Status{StatusDeleting},
			To:           StatusError,
			EventType:    eventsservice.TypeJobFailedPermanently,
			EventPayload: failurePayload(job, outcome),
			Actor:        actor,
		})
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}

	pod, err := s.repo.Get(ctx, job.PodID)
	if err != nil {
		return err
	}
	if pod.Status == StatusDeleted {
		return nil
	}
	release := pod.Spec.Delta()
	_, err = s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusDeleting},
		To:           StatusDeleted,
		ReleaseDelta: &release,
		EventType:    eventsservice.TypePodDeleted,
		Actor:        actor,
	})
	if errors.Is(err, ErrConflict) {
		s.logger.Warn("destroy outcome for pod in unexpected status",
			zap.String("podId", job.PodID.String()), zap.String("status", string(pod.Status)))
		return nil
	}
	if err == nil {
		s.logger.Info("pod deleted", zap.String("podId", job.PodID.String()))
	}
	return err
}

func (s *Service) applyScaleOutcome(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome) error {
	actor := requesttrace.FromContextOrSystem(ctx).String()

	var payload ScalePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode scale payload for job %s: %w", job.ID, err)
	}

	if outcome.Success {
		_, err := s.repo.Transition(ctx, Mutation{
			PodID:        job.PodID,
			From:         []Status{StatusScaling},
			To:           StatusActive,
			Spec:         &payload.NewSpec,
			EventType:    eventsservice.TypePodScaled,
			EventPayload: rawPayload(payload),
			Actor:        actor,
		})
		if errors.Is(err, ErrConflict) {
			return nil
		}
		if err == nil {
			s.logger.Info("pod scaled", zap.String("podId", job.PodID.String()))
		}
		return err
	}

	// The difference was reserved when the scale was admitted; hand it back
	// since the resize never happened.
	diff := payload.NewSpec.Diff(payload.OldSpec)
	_, err := s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusScaling},
		To:           StatusError,
		ReleaseDelta: &diff,
		EventType:    eventsservice.TypeJobFailedPermanently,
		EventPayload: failurePayload(job, outcome),
		Actor:        actor,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (s *Service) applyBackupOutcome(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome) error {
	actor := requesttrace.FromContextOrSystem(ctx).String()

	if outcome.Success {
		var res BackupResultPayload
		if err := json.Unmarshal(outcome.Result, &res); err != nil {
			return fmt.Errorf("decode backup result for job %s: %w", job.ID, err)
		}
		_, err := s.repo.Transition(ctx, Mutation{
			PodID:        job.PodID,
			From:         []Status{StatusBackingUp},
			To:           StatusActive,
			EventType:    eventsservice.TypePodBackedUp,
			EventPayload: rawPayload(res),
			Actor:        actor,
		})
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}

	_, err := s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusBackingUp},
		To:           StatusError,
		EventType:    eventsservice.TypeJobFailedPermanently,
		EventPayload: failurePayload(job, outcome),
		Actor:        actor,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (s *Service) applyHealthOutcome(ctx context.Context, job jobsservice.Job, outcome jobsservice.Outcome) error {
	actor := requesttrace.FromContextOrSystem(ctx).String()

	if outcome.Success {
		var res HealthResultPayload
		if err := json.Unmarshal(outcome.Result, &res); err != nil {
			return fmt.Errorf("decode health result for job %s: %w", job.ID, err)
		}
		snapshot := HealthSnapshot{State: res.State, CheckedAt: res.CheckedAt}
		_, err := s.repo.Transition(ctx, Mutation{
			PodID:        job.PodID,
			From:         []Status{StatusActive},
			Health:       &snapshot,
			EventType:    eventsservice.TypePodHealthRefreshed,
			EventPayload: rawPayload(res),
			Actor:        actor,
		})
		if errors.Is(err, ErrConflict) {
			// Pod left active while the probe ran; the snapshot is stale.
			return nil
		}
		return err
	}

	_, err := s.repo.Transition(ctx, Mutation{
		PodID:        job.PodID,
		From:         []Status{StatusActive},
		To:           StatusError,
		EventType:    eventsservice.TypeJobFailedPermanently,
		EventPayload: failurePayload(job, outcome),
		Actor:        actor,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// ActivateFromFleet is the pull-queue counterpart of a successful create
// outcome: a fleet provisioning task finished and the pod goes live.
func (s *Service) ActivateFromFleet(ctx context.Context, podID uuid.UUID, handle string) (Pod, error) {
	m := Mutation{
		PodID:     podID,
		From:      []Status{StatusProvisioning},
		To:        StatusActive,
		EventType: eventsservice.TypeFleetProvisioned,
		Actor:     requesttrace.FromContextOrSystem(ctx).String(),
	}
	if handle != "" {
		m.Handle = &handle
		m.EventPayload = rawPayload(CreateResultPayload{Handle: handle})
	}
	return s.repo.Transition(ctx, m)
}

// DeleteFromFleet settles a pod whose fleet deprovisioning task finished,
// releasing its reserved capacity.
func (s *Service) DeleteFromFleet(ctx context.Context, podID uuid.UUID) (Pod, error) {
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return Pod{}, err
	}
	release := pod.Spec.Delta()
	return s.repo.Transition(ctx, Mutation{
		PodID:        podID,
		From:         []Status{StatusDeleting},
		To:           StatusDeleted,
		ReleaseDelta: &release,
		EventType:    eventsservice.TypePodDeleted,
		Actor:        requesttrace.FromContextOrSystem(ctx).String(),
	})
}

// FailFromFleet marks a pod whose fleet task failed permanently. The
// reservation is released only when no node was ever produced; a pod that
// still has a handle keeps holding capacity until that node is torn down.
func (s *Service) FailFromFleet(ctx context.Context, podID uuid.UUID, reason string) (Pod, error) {
	pod, err := s.repo.Get(ctx, podID)
	if err != nil {
		return Pod{}, err
	}
	m := Mutation{
		PodID:        podID,
		From:         []Status{StatusProvisioning, StatusDeleting},
		To:           StatusError,
		EventType:    eventsservice.TypeFleetTaskFailed,
		EventPayload: rawPayload(map[string]string{"reason": reason}),
		Actor:        requesttrace.FromContextOrSystem(ctx).String(),
	}
	if pod.Handle == nil || *pod.Handle == "" {
		release := pod.Spec.Delta()
		m.ReleaseDelta = &release
	}
	return s.repo.Transition(ctx, m)
}

// rawPayload marshals a known-safe payload struct. The inputs are plain
// structs and maps of strings, which cannot fail to encode.
func rawPayload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func failurePayload(job jobsservice.Job, outcome jobsservice.Outcome) json.RawMessage {
	return rawPayload(map[string]any{
		"job_id":   job.ID.String(),
		"job_kind": string(job.Kind),
		"attempts": job.Attempts,
		"error":    outcome.Error,
	})
}
