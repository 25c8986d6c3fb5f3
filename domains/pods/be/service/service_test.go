package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsrepo "github.com/hostwerk/cloudpod/domains/events/be/repo"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsrepo "github.com/hostwerk/cloudpod/domains/jobs/be/repo"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	podsrepo "github.com/hostwerk/cloudpod/domains/pods/be/repo"
	"github.com/hostwerk/cloudpod/domains/pods/be/service"
	"github.com/hostwerk/cloudpod/platform/go/metrics"
)

type fixture struct {
	orch     *service.Service
	capacity *capacityservice.Service
	events   *eventsservice.Service
	queue    *jobsservice.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := capacityrepo.NewMemoryRepository()
	eventLog := eventsrepo.NewMemoryRepository()
	capacitySvc := capacityservice.New(ledger)
	eventsSvc := eventsservice.New(eventLog)
	queue := jobsservice.NewQueue(jobsrepo.NewMemoryRepository(), 3, zap.NewNop())
	repo := podsrepo.NewMemoryRepository(ledger, eventLog)
	orch := service.New(repo, podsrepo.NewMemoryAllocator(1000), queue, capacitySvc, zap.NewNop())

	return &fixture{orch: orch, capacity: capacitySvc, events: eventsSvc, queue: queue}
}

func (f *fixture) seedTenant(t *testing.T, limits capacityservice.Dimensions) uuid.UUID {
	t.Helper()
	tenantID := uuid.New()
	_, err := f.capacity.SetLimits(context.Background(), tenantID, limits)
	require.NoError(t, err)
	return tenantID
}

// dequeue makes the next queued job running, mirroring a worker claim.
func (f *fixture) dequeue(t *testing.T) jobsservice.Job {
	t.Helper()
	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	return *job
}

func (f *fixture) eventTypes(t *testing.T, podID uuid.UUID) []string {
	t.Helper()
	result, err := f.events.List(context.Background(), podID, eventsservice.ListOptions{Page: 1, PageSize: 100})
	require.NoError(t, err)
	types := make([]string, 0, len(result.Events))
	for _, e := range result.Events {
		types = append(types, e.Type)
	}
	return types
}

func defaultLimits() capacityservice.Dimensions {
	return capacityservice.Dimensions{Pods: 5, Cores: 32, MemoryMB: 65536, DiskGB: 1000}
}

func smallSpec() service.ResourceSpec {
	return service.ResourceSpec{Cores: 2, MemoryMB: 2048, DiskGB: 20}
}

func createResult(t *testing.T, handle string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(service.CreateResultPayload{Handle: handle})
	require.NoError(t, err)
	return raw
}

func TestCreatePodReservesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	result, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	require.Equal(t, service.StatusProvisioning, result.Pod.Status)
	require.GreaterOrEqual(t, result.Pod.NumericID, int64(1000))
	require.NotNil(t, result.Job)
	require.Equal(t, jobsservice.KindCreate, result.Job.Kind)
	require.True(t, result.Admission.Allowed)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Used.Pods)
	require.Equal(t, 2, summary.Used.Cores)

	require.Equal(t, []string{eventsservice.TypePodCreated}, f.eventTypes(t, result.Pod.ID))
}

func TestCreatePodRejectsInvalidSpec(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	_, err := f.orch.CreatePod(context.Background(), tenantID, service.ResourceSpec{Cores: 0, MemoryMB: 1024, DiskGB: 10})
	require.ErrorIs(t, err, service.ErrInvalidSpec)
}

func TestCreatePodDeniedLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, capacityservice.Dimensions{Pods: 1, Cores: 32, MemoryMB: 65536, DiskGB: 1000})

	first, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)

	deniedBefore := testutil.ToFloat64(metrics.AdmissionDeniedTotal)
	denied, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.ErrorIs(t, err, service.ErrQuotaExceeded)
	require.Equal(t, deniedBefore+1, testutil.ToFloat64(metrics.AdmissionDeniedTotal))
	require.False(t, denied.Admission.Allowed)
	require.NotEmpty(t, denied.Admission.Detail)
	require.Nil(t, denied.Job)

	pods, err := f.orch.ListByTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, pods, 1)
	require.Equal(t, first.Pod.ID, pods[0].ID)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Used.Pods)
}

func TestCreateOutcomeActivatesPod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	job := f.dequeue(t)

	err = f.orch.ApplyJobOutcome(ctx, job.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")})
	require.NoError(t, err)

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.NotNil(t, pod.Handle)
	require.Equal(t, "node-1", *pod.Handle)
	require.Contains(t, f.eventTypes(t, pod.ID), eventsservice.TypePodProvisioned)
}

func TestApplyOutcomeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	job := f.dequeue(t)

	outcome := jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, job.ID, outcome))
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, job.ID, outcome))

	types := f.eventTypes(t, created.Pod.ID)
	provisioned := 0
	for _, typ := range types {
		if typ == eventsservice.TypePodProvisioned {
			provisioned++
		}
	}
	require.Equal(t, 1, provisioned)
}

func TestCreateFailureMovesPodToErrorAndReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	job := f.dequeue(t)

	err = f.orch.ApplyJobOutcome(ctx, job.ID, jobsservice.Outcome{Success: false, Error: "hypervisor unreachable"})
	require.NoError(t, err)

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusError, pod.Status)
	require.Contains(t, f.eventTypes(t, pod.ID), eventsservice.TypeJobFailedPermanently)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Used.Pods)
	require.Equal(t, 0, summary.Used.Cores)
}

func TestDestroySupersedesInFlightCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)

	pod, destroyJob, err := f.orch.DestroyPod(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusDeleting, pod.Status)
	require.Equal(t, jobsservice.KindDestroy, destroyJob.Kind)

	// The create finishes late: the pod stays deleting, the produced handle is
	// recorded, and a compensating destroy is enqueued for it.
	err = f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-late")})
	require.NoError(t, err)

	pod, err = f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusDeleting, pod.Status)
	require.NotNil(t, pod.Handle)
	require.Equal(t, "node-late", *pod.Handle)
	require.Contains(t, f.eventTypes(t, pod.ID), eventsservice.TypeCreateSuperseded)

	// First destroy (empty handle) succeeds as a no-op.
	first := f.dequeue(t)
	require.Equal(t, destroyJob.ID, first.ID)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, first.ID, jobsservice.Outcome{Success: true}))

	pod, err = f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusDeleted, pod.Status)

	// The compensating destroy for the late node settles idempotently even
	// though the pod is already deleted.
	second := f.dequeue(t)
	var payload service.DestroyPayload
	require.NoError(t, json.Unmarshal(second.Payload, &payload))
	require.Equal(t, "node-late", payload.Handle)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, second.ID, jobsservice.Outcome{Success: true}))

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Used.Pods)
}

func TestDestroyReleasesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	_, _, err = f.orch.DestroyPod(ctx, created.Pod.ID)
	require.NoError(t, err)
	destroyJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, destroyJob.ID, jobsservice.Outcome{Success: true}))

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusDeleted, pod.Status)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, capacityservice.Dimensions{}, summary.Used)
}

func TestDestroyRejectedFromDeletedPod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	_, _, err = f.orch.DestroyPod(ctx, created.Pod.ID)
	require.NoError(t, err)
	destroyJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, destroyJob.ID, jobsservice.Outcome{Success: true}))

	_, _, err = f.orch.DestroyPod(ctx, created.Pod.ID)
	require.ErrorIs(t, err, service.ErrConflict)
}

func TestScalePodReservesDifference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	newSpec := service.ResourceSpec{Cores: 4, MemoryMB: 4096, DiskGB: 40}
	result, err := f.orch.ScalePod(ctx, created.Pod.ID, newSpec)
	require.NoError(t, err)
	require.Equal(t, service.StatusScaling, result.Pod.Status)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Used.Cores)
	require.Equal(t, int64(4096), summary.Used.MemoryMB)

	scaleJob := f.dequeue(t)
	require.Equal(t, jobsservice.KindScale, scaleJob.Kind)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, scaleJob.ID, jobsservice.Outcome{Success: true}))

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.Equal(t, newSpec, pod.Spec)
}

func TestScaleFailureReleasesDifference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	_, err = f.orch.ScalePod(ctx, created.Pod.ID, service.ResourceSpec{Cores: 4, MemoryMB: 4096, DiskGB: 40})
	require.NoError(t, err)

	scaleJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, scaleJob.ID, jobsservice.Outcome{Success: false, Error: "resize rejected"}))

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusError, pod.Status)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Used.Cores)
	require.Equal(t, int64(2048), summary.Used.MemoryMB)
}

func TestScaleDeniedByQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, capacityservice.Dimensions{Pods: 5, Cores: 3, MemoryMB: 65536, DiskGB: 1000})

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	deniedBefore := testutil.ToFloat64(metrics.AdmissionDeniedTotal)
	result, err := f.orch.ScalePod(ctx, created.Pod.ID, service.ResourceSpec{Cores: 8, MemoryMB: 2048, DiskGB: 20})
	require.ErrorIs(t, err, service.ErrQuotaExceeded)
	require.False(t, result.Admission.Allowed)
	require.Equal(t, deniedBefore+1, testutil.ToFloat64(metrics.AdmissionDeniedTotal))

	// Denied scale leaves the pod and the ledger untouched.
	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Used.Cores)
}

func TestScaleRequiresActivePod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)

	_, err = f.orch.ScalePod(ctx, created.Pod.ID, service.ResourceSpec{Cores: 4, MemoryMB: 4096, DiskGB: 40})
	require.ErrorIs(t, err, service.ErrConflict)
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	pod, backupJob, err := f.orch.BackupPod(ctx, created.Pod.ID, "full")
	require.NoError(t, err)
	require.Equal(t, service.StatusBackingUp, pod.Status)

	claimed := f.dequeue(t)
	require.Equal(t, backupJob.ID, claimed.ID)
	result, err := json.Marshal(service.BackupResultPayload{ArtifactRef: "backup/node-1/full-1"})
	require.NoError(t, err)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, claimed.ID, jobsservice.Outcome{Success: true, Result: result}))

	pod, err = f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.Contains(t, f.eventTypes(t, pod.ID), eventsservice.TypePodBackedUp)
}

func TestHealthRefreshKeepsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	_, err = f.orch.RefreshHealth(ctx, created.Pod.ID)
	require.NoError(t, err)

	healthJob := f.dequeue(t)
	result, err := json.Marshal(service.HealthResultPayload{State: "healthy"})
	require.NoError(t, err)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, healthJob.ID, jobsservice.Outcome{Success: true, Result: result}))

	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.NotNil(t, pod.Health)
	require.Equal(t, "healthy", pod.Health.State)
}

func TestSuspendResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	pod, err := f.orch.Suspend(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, pod.Status)
	require.NotNil(t, pod.SuspendedAt)

	// Suspended pods keep their reservation.
	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Used.Pods)

	pod, err = f.orch.Resume(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.Nil(t, pod.SuspendedAt)

	_, err = f.orch.Resume(ctx, created.Pod.ID)
	require.ErrorIs(t, err, service.ErrConflict)
}

func TestFleetActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)

	pod, err := f.orch.ActivateFromFleet(ctx, created.Pod.ID, "fleet-7")
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, pod.Status)
	require.NotNil(t, pod.Handle)
	require.Equal(t, "fleet-7", *pod.Handle)
	require.Contains(t, f.eventTypes(t, pod.ID), eventsservice.TypeFleetProvisioned)
}

func TestFleetFailureReleasesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)

	pod, err := f.orch.FailFromFleet(ctx, created.Pod.ID, "no capacity in fleet")
	require.NoError(t, err)
	require.Equal(t, service.StatusError, pod.Status)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Used.Pods)
}

func TestBackupFailureKeepsCapacityThroughRecalculate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	createJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, createJob.ID, jobsservice.Outcome{Success: true, Result: createResult(t, "node-1")}))

	_, _, err = f.orch.BackupPod(ctx, created.Pod.ID, "full")
	require.NoError(t, err)
	backupJob := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, backupJob.ID, jobsservice.Outcome{Success: false, Error: "snapshot failed"}))

	// Errored with a live node: the reservation stays.
	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusError, pod.Status)
	require.NotNil(t, pod.Handle)
	require.True(t, pod.HoldsCapacity())

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Used.Pods)

	// Recalculate derives the same usage, so repair never frees capacity
	// still backed by a node.
	_, err = f.capacity.Recalculate(ctx, tenantID)
	require.NoError(t, err)

	summary, err = f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Used.Pods)
	require.Equal(t, 2, summary.Used.Cores)
}

func TestCreateFailureRecalculateStaysReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.seedTenant(t, defaultLimits())

	created, err := f.orch.CreatePod(ctx, tenantID, smallSpec())
	require.NoError(t, err)
	job := f.dequeue(t)
	require.NoError(t, f.orch.ApplyJobOutcome(ctx, job.ID, jobsservice.Outcome{Success: false, Error: "hypervisor unreachable"}))

	// Errored without a node: released at failure time, and recalculate
	// agrees.
	pod, err := f.orch.Get(ctx, created.Pod.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusError, pod.Status)
	require.False(t, pod.HoldsCapacity())

	_, err = f.capacity.Recalculate(ctx, tenantID)
	require.NoError(t, err)

	summary, err := f.capacity.Summary(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, capacityservice.Dimensions{}, summary.Used)
}

func TestCanTransitionGraph(t *testing.T) {
	cases := []struct {
		from, to service.Status
		want     bool
	}{
		{service.StatusProvisioning, service.StatusActive, true},
		{service.StatusProvisioning, service.StatusDeleting, true},
		{service.StatusProvisioning, service.StatusScaling, false},
		{service.StatusActive, service.StatusScaling, true},
		{service.StatusActive, service.StatusBackingUp, true},
		{service.StatusActive, service.StatusSuspended, true},
		{service.StatusScaling, service.StatusActive, true},
		{service.StatusScaling, service.StatusSuspended, false},
		{service.StatusSuspended, service.StatusActive, true},
		{service.StatusSuspended, service.StatusDeleting, true},
		{service.StatusDeleting, service.StatusDeleted, true},
		{service.StatusDeleted, service.StatusActive, false},
		{service.StatusDeleted, service.StatusError, false},
		{service.StatusBackingUp, service.StatusError, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, service.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
