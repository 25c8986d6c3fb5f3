package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedQuota(t *testing.T, store *QuotaStore, tenantID uuid.UUID) {
	t.Helper()
	_, err := store.SetLimits(context.Background(), tenantID, 5, 20, 40960, 500)
	require.NoError(t, err)
}

func TestPodStoreCreateReservingAndTransition(t *testing.T) {
	ctx := context.Background()
	pool := mustTestPool(t)

	quotas, err := NewQuotaStore(pool)
	require.NoError(t, err)
	pods, err := NewPodStore(pool)
	require.NoError(t, err)
	events, err := NewEventStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	seedQuota(t, quotas, tenantID)

	rec := PodRecord{
		PodID:     uuid.New(),
		NumericID: 1001,
		TenantID:  tenantID,
		Cores:     2,
		MemoryMB:  4096,
		DiskGB:    50,
		Status:    "provisioning",
	}
	delta := QuotaDelta{Pods: 1, Cores: 2, MemoryMB: 4096, DiskGB: 50}

	created, admission, err := pods.CreateReserving(ctx, rec, delta, EventRecord{
		EventType: "pod_created",
		Actor:     "operator:jane",
		Payload:   []byte(`{"cores":2}`),
	})
	require.NoError(t, err)
	require.True(t, admission.Allowed)
	require.Equal(t, "provisioning", created.Status)

	quota, err := quotas.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, quota.UsedPods)
	require.Equal(t, 2, quota.UsedCores)

	// Event committed with the creation.
	list, total, err := events.ListByPod(ctx, created.PodID, nil, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "pod_created", list[0].EventType)

	handle := "hv-node3/vm-1001"
	active, err := pods.Transition(ctx, PodMutation{
		PodID:      created.PodID,
		FromStatus: []string{"provisioning"},
		ToStatus:   "active",
		Handle:     &handle,
		Event:      EventRecord{EventType: "pod_provisioned", Actor: "system"},
	})
	require.NoError(t, err)
	require.Equal(t, "active", active.Status)
	require.Equal(t, handle, *active.Handle)

	// A transition guarded on the wrong status is rejected and writes nothing.
	_, err = pods.Transition(ctx, PodMutation{
		PodID:      created.PodID,
		FromStatus: []string{"provisioning"},
		ToStatus:   "active",
		Event:      EventRecord{EventType: "pod_provisioned", Actor: "system"},
	})
	require.ErrorIs(t, err, ErrStatusConflict)

	_, total, err = events.ListByPod(ctx, created.PodID, nil, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestPodStoreTransitionReleasesQuota(t *testing.T) {
	ctx := context.Background()
	pool := mustTestPool(t)

	quotas, err := NewQuotaStore(pool)
	require.NoError(t, err)
	pods, err := NewPodStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	seedQuota(t, quotas, tenantID)

	delta := QuotaDelta{Pods: 1, Cores: 2, MemoryMB: 4096, DiskGB: 50}
	created, _, err := pods.CreateReserving(ctx, PodRecord{
		PodID: uuid.New(), NumericID: 1002, TenantID: tenantID,
		Cores: 2, MemoryMB: 4096, DiskGB: 50, Status: "deleting",
	}, delta, EventRecord{EventType: "pod_created", Actor: "system"})
	require.NoError(t, err)

	_, err = pods.Transition(ctx, PodMutation{
		PodID:        created.PodID,
		FromStatus:   []string{"deleting"},
		ToStatus:     "deleted",
		ReleaseDelta: &delta,
		Event:        EventRecord{EventType: "pod_deleted", Actor: "system"},
	})
	require.NoError(t, err)

	quota, err := quotas.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, quota.UsedPods)
	require.Equal(t, 0, quota.UsedCores)
}

func TestPodIDAllocatorSkipsBoundIdentifiers(t *testing.T) {
	ctx := context.Background()
	pool := mustTestPool(t)

	quotas, err := NewQuotaStore(pool)
	require.NoError(t, err)
	pods, err := NewPodStore(pool)
	require.NoError(t, err)
	alloc, err := NewPodIDAllocator(pool, pods)
	require.NoError(t, err)

	first, err := alloc.NextID(ctx)
	require.NoError(t, err)

	tenantID := uuid.New()
	seedQuota(t, quotas, tenantID)

	// Bind the next sequence value out-of-band, simulating an explicit import.
	_, _, err = pods.CreateReserving(ctx, PodRecord{
		PodID: uuid.New(), NumericID: first + 1, TenantID: tenantID,
		Cores: 1, MemoryMB: 1024, DiskGB: 10, Status: "provisioning",
	}, QuotaDelta{Pods: 1, Cores: 1, MemoryMB: 1024, DiskGB: 10},
		EventRecord{EventType: "pod_created", Actor: "system"})
	require.NoError(t, err)

	next, err := alloc.NextID(ctx)
	require.NoError(t, err)
	require.Greater(t, next, first+1, "bound identifier must be skipped")
}
