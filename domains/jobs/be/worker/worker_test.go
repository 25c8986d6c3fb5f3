package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsrepo "github.com/hostwerk/cloudpod/domains/events/be/repo"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsrepo "github.com/hostwerk/cloudpod/domains/jobs/be/repo"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/domains/jobs/be/worker"
	"github.com/hostwerk/cloudpod/domains/pods/be/executor"
	podsrepo "github.com/hostwerk/cloudpod/domains/pods/be/repo"
	podsservice "github.com/hostwerk/cloudpod/domains/pods/be/service"
)

type harness struct {
	orch   *podsservice.Service
	events *eventsservice.Service
	queue  *jobsservice.Queue
	exec   *executor.Stub
	pool   *worker.Pool
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()

	ledger := capacityrepo.NewMemoryRepository()
	eventLog := eventsrepo.NewMemoryRepository()
	queue := jobsservice.NewQueue(jobsrepo.NewMemoryRepository(), maxAttempts, zap.NewNop())
	repo := podsrepo.NewMemoryRepository(ledger, eventLog)
	capacitySvc := capacityservice.New(ledger)
	orch := podsservice.New(repo, podsrepo.NewMemoryAllocator(1), queue, capacitySvc, zap.NewNop())
	exec := executor.NewStub()

	pool := worker.New(queue, orch, exec, worker.Config{
		Workers:        2,
		PollInterval:   5 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, zap.NewNop())

	_, err := capacitySvc.SetLimits(context.Background(), testTenantID, capacityservice.Dimensions{
		Pods: 10, Cores: 64, MemoryMB: 131072, DiskGB: 2000,
	})
	require.NoError(t, err)

	return &harness{orch: orch, events: eventsservice.New(eventLog), queue: queue, exec: exec, pool: pool}
}

var testTenantID = uuid.New()

// run starts the pool and returns a stop function that blocks until every
// worker has drained.
func (h *harness) run() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pool.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (h *harness) waitForStatus(t *testing.T, podID uuid.UUID, want podsservice.Status) podsservice.Pod {
	t.Helper()
	var pod podsservice.Pod
	require.Eventually(t, func() bool {
		var err error
		pod, err = h.orch.Get(context.Background(), podID)
		return err == nil && pod.Status == want
	}, 2*time.Second, 5*time.Millisecond, "pod never reached %s", want)
	return pod
}

func spec() podsservice.ResourceSpec {
	return podsservice.ResourceSpec{Cores: 2, MemoryMB: 2048, DiskGB: 20}
}

func TestPoolProvisionsPod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	stop := h.run()
	defer stop()

	created, err := h.orch.CreatePod(ctx, testTenantID, spec())
	require.NoError(t, err)

	pod := h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)
	require.NotNil(t, pod.Handle)
	require.True(t, h.exec.HasNode(*pod.Handle))

	job, err := h.queue.Get(ctx, created.Job.ID)
	require.NoError(t, err)
	require.Equal(t, jobsservice.StatusSucceeded, job.Status)
	require.Equal(t, 1, job.Attempts)
}

func TestPoolRetriesThenFailsPermanently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	h.exec.FailCreate = errors.New("hypervisor unreachable")
	stop := h.run()
	defer stop()

	created, err := h.orch.CreatePod(ctx, testTenantID, spec())
	require.NoError(t, err)

	h.waitForStatus(t, created.Pod.ID, podsservice.StatusError)

	job, err := h.queue.Get(ctx, created.Job.ID)
	require.NoError(t, err)
	require.Equal(t, jobsservice.StatusFailed, job.Status)
	require.Equal(t, 3, job.Attempts)
	require.NotNil(t, job.LastError)
	require.Contains(t, *job.LastError, "hypervisor unreachable")

	result, err := h.events.List(ctx, created.Pod.ID, eventsservice.ListOptions{Page: 1, PageSize: 100})
	require.NoError(t, err)
	failures := 0
	for _, e := range result.Events {
		if e.Type == eventsservice.TypeJobFailedPermanently {
			failures++
		}
	}
	require.Equal(t, 1, failures)
}

func TestPoolDestroyTearsDownNode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	stop := h.run()
	defer stop()

	created, err := h.orch.CreatePod(ctx, testTenantID, spec())
	require.NoError(t, err)
	pod := h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)
	handle := *pod.Handle

	_, _, err = h.orch.DestroyPod(ctx, created.Pod.ID)
	require.NoError(t, err)

	h.waitForStatus(t, created.Pod.ID, podsservice.StatusDeleted)
	require.False(t, h.exec.HasNode(handle))
}

func TestPoolScaleAndBackup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	stop := h.run()
	defer stop()

	created, err := h.orch.CreatePod(ctx, testTenantID, spec())
	require.NoError(t, err)
	h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)

	newSpec := podsservice.ResourceSpec{Cores: 4, MemoryMB: 4096, DiskGB: 40}
	_, err = h.orch.ScalePod(ctx, created.Pod.ID, newSpec)
	require.NoError(t, err)
	pod := h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)
	require.Equal(t, newSpec, pod.Spec)

	_, backupJob, err := h.orch.BackupPod(ctx, created.Pod.ID, "full")
	require.NoError(t, err)
	h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)

	job, err := h.queue.Get(ctx, backupJob.ID)
	require.NoError(t, err)
	require.Equal(t, jobsservice.StatusSucceeded, job.Status)
	require.NotNil(t, job.Result)
}

func TestPoolHealthRefresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	stop := h.run()
	defer stop()

	created, err := h.orch.CreatePod(ctx, testTenantID, spec())
	require.NoError(t, err)
	h.waitForStatus(t, created.Pod.ID, podsservice.StatusActive)

	_, err = h.orch.RefreshHealth(ctx, created.Pod.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pod, err := h.orch.Get(ctx, created.Pod.ID)
		return err == nil && pod.Health != nil && pod.Health.State == "healthy"
	}, 2*time.Second, 5*time.Millisecond)
}
