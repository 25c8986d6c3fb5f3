// Package worker runs the push-queue consumers. Each worker polls for the
// oldest queued job, executes it against the infrastructure executor with
// bounded retries, and hands the final outcome to the orchestrator for
// reconciliation.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	podsservice "github.com/hostwerk/cloudpod/domains/pods/be/service"
	"github.com/hostwerk/cloudpod/platform/go/metrics"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

// Config sizes the pool and its retry behavior.
type Config struct {
	Workers        int
	PollInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Pool consumes the push queue.
type Pool struct {
	queue  *jobsservice.Queue
	orch   *podsservice.Service
	exec   podsservice.Executor
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pool.
func New(queue *jobsservice.Queue, orch *podsservice.Service, exec podsservice.Executor, cfg Config, logger *zap.Logger) *Pool {
	if queue == nil {
		panic("worker pool: queue is nil")
	}
	if orch == nil {
		panic("worker pool: orchestrator is nil")
	}
	if exec == nil {
		panic("worker pool: executor is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{queue: queue, orch: orch, exec: exec, cfg: cfg.withDefaults(), logger: logger}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has drained its in-flight job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	workerID := fmt.Sprintf("worker-%d", id)
	ctx = requesttrace.IntoContext(ctx, requesttrace.Worker(workerID))
	logger := p.logger.With(zap.String("worker", workerID))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before going back to sleep.
		for {
			job, err := p.queue.Dequeue(ctx)
			if err != nil {
				logger.Error("dequeue failed", zap.Error(err))
				break
			}
			if job == nil {
				break
			}
			p.process(ctx, logger, *job)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// process executes the job with in-process retries. Every attempt is recorded
// against the job row so operators can see retry progress; when attempts are
// exhausted the failure is final and the orchestrator settles the pod.
func (p *Pool) process(ctx context.Context, logger *zap.Logger, job jobsservice.Job) {
	logger = logger.With(
		zap.String("jobId", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("podId", job.PodID.String()))
	started := time.Now()

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = p.cfg.InitialBackoff
	wait.MaxInterval = p.cfg.MaxBackoff
	wait.MaxElapsedTime = 0 // attempts, not time, bound the retries

	attempts := job.Attempts // claiming counted the first attempt
	var outcome jobsservice.Outcome
	for {
		result, err := p.executeOnce(ctx, job)
		if err == nil {
			outcome = jobsservice.Outcome{Success: true, Result: result}
			break
		}
		if ctx.Err() != nil {
			// Shutdown, not a real failure. The job stays running and can be
			// requeued by the operations CLI.
			logger.Warn("abandoning job on shutdown", zap.Int("attempt", attempts))
			return
		}
		logger.Warn("job attempt failed", zap.Int("attempt", attempts), zap.Error(err))

		if attempts >= job.MaxAttempts {
			outcome = jobsservice.Outcome{Success: false, Error: err.Error()}
			break
		}
		metrics.JobRetriesTotal.WithLabelValues(string(job.Kind)).Inc()

		select {
		case <-ctx.Done():
			logger.Warn("abandoning job on shutdown", zap.Int("attempt", attempts))
			return
		case <-time.After(wait.NextBackOff()):
		}

		attempts, err = p.queue.NoteAttempt(ctx, job.ID)
		if err != nil {
			logger.Error("recording attempt failed", zap.Error(err))
			attempts = job.MaxAttempts // stop retrying if the queue is unreachable
		}
	}

	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(started).Seconds())
	label := "succeeded"
	if !outcome.Success {
		label = "failed"
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), label).Inc()

	if err := p.orch.ApplyJobOutcome(ctx, job.ID, outcome); err != nil {
		logger.Error("applying job outcome failed", zap.Error(err))
		return
	}
	if outcome.Success {
		logger.Info("job succeeded", zap.Int("attempts", attempts))
	} else {
		logger.Warn("job failed permanently", zap.Int("attempts", attempts), zap.String("error", outcome.Error))
	}
}

// executeOnce dispatches a single attempt to the executor.
func (p *Pool) executeOnce(ctx context.Context, job jobsservice.Job) (json.RawMessage, error) {
	switch job.Kind {
	case jobsservice.KindCreate:
		var payload podsservice.CreatePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode create payload: %w", err)
		}
		handle, err := p.exec.Create(ctx, payload.Spec)
		if err != nil {
			return nil, err
		}
		return marshalResult(podsservice.CreateResultPayload{Handle: handle})

	case jobsservice.KindDestroy:
		var payload podsservice.DestroyPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode destroy payload: %w", err)
		}
		if payload.Handle == "" {
			// Nothing was provisioned before the destroy was issued.
			return nil, nil
		}
		return nil, p.exec.Destroy(ctx, payload.Handle)

	case jobsservice.KindScale:
		var payload podsservice.ScalePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode scale payload: %w", err)
		}
		handle, err := p.podHandle(ctx, job)
		if err != nil {
			return nil, err
		}
		return nil, p.exec.Scale(ctx, handle, payload.NewSpec)

	case jobsservice.KindBackup:
		var payload podsservice.BackupPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode backup payload: %w", err)
		}
		handle, err := p.podHandle(ctx, job)
		if err != nil {
			return nil, err
		}
		ref, err := p.exec.Backup(ctx, handle, payload.Mode)
		if err != nil {
			return nil, err
		}
		return marshalResult(podsservice.BackupResultPayload{ArtifactRef: ref})

	case jobsservice.KindHealth:
		handle, err := p.podHandle(ctx, job)
		if err != nil {
			return nil, err
		}
		snapshot, err := p.exec.Health(ctx, handle)
		if err != nil {
			return nil, err
		}
		return marshalResult(podsservice.HealthResultPayload{State: snapshot.State, CheckedAt: snapshot.CheckedAt})
	}
	return nil, fmt.Errorf("%w: %q", jobsservice.ErrUnknownKind, job.Kind)
}

func (p *Pool) podHandle(ctx context.Context, job jobsservice.Job) (string, error) {
	pod, err := p.orch.Get(ctx, job.PodID)
	if err != nil {
		return "", fmt.Errorf("load pod %s: %w", job.PodID, err)
	}
	if pod.Handle == nil || *pod.Handle == "" {
		return "", fmt.Errorf("pod %s has no infrastructure handle", job.PodID)
	}
	return *pod.Handle, nil
}

func marshalResult(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal job result: %w", err)
	}
	return b, nil
}
