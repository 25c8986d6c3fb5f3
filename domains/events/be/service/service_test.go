package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hostwerk/cloudpod/domains/events/be/repo"
	"github.com/hostwerk/cloudpod/domains/events/be/service"
)

func seed(t *testing.T, svc *service.Service, podID uuid.UUID, types ...string) {
	t.Helper()
	for i, typ := range types {
		payload := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		_, err := svc.Append(context.Background(), podID, typ, payload, "tester")
		require.NoError(t, err)
	}
}

func TestAppendAssignsIdentityAndActor(t *testing.T) {
	ctx := context.Background()
	svc := service.New(repo.NewMemoryRepository())
	podID := uuid.New()

	event, err := svc.Append(ctx, podID, service.TypePodCreated, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	require.Equal(t, int64(1), event.ID)
	require.Equal(t, "system", event.Actor)
	require.False(t, event.OccurredAt.IsZero())

	second, err := svc.Append(ctx, podID, service.TypePodProvisioned, json.RawMessage(`{}`), "worker-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), second.ID)
	require.Equal(t, "worker-1", second.Actor)
}

func TestListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	svc := service.New(repo.NewMemoryRepository())
	podID := uuid.New()
	seed(t, svc, podID,
		service.TypePodCreated,
		service.TypePodProvisioned,
		service.TypePodBackedUp)

	result, err := svc.List(ctx, podID, service.ListOptions{})
	require.NoError(t, err)
	require.Len(t, result.Events, 3)
	require.Equal(t, service.TypePodBackedUp, result.Events[0].Type)
	require.Equal(t, service.TypePodCreated, result.Events[2].Type)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	svc := service.New(repo.NewMemoryRepository())
	podID := uuid.New()
	types := make([]string, 7)
	for i := range types {
		types[i] = service.TypePodHealthRefreshed
	}
	seed(t, svc, podID, types...)

	first, err := svc.List(ctx, podID, service.ListOptions{Page: 1, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Events, 3)
	require.Equal(t, 7, first.TotalItems)
	require.Equal(t, 3, first.TotalPages)

	last, err := svc.List(ctx, podID, service.ListOptions{Page: 3, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, last.Events, 1)

	beyond, err := svc.List(ctx, podID, service.ListOptions{Page: 9, PageSize: 3})
	require.NoError(t, err)
	require.Empty(t, beyond.Events)
}

func TestListFiltersByType(t *testing.T) {
	ctx := context.Background()
	svc := service.New(repo.NewMemoryRepository())
	podID := uuid.New()
	seed(t, svc, podID,
		service.TypePodCreated,
		service.TypePodBackedUp,
		service.TypePodBackedUp,
		service.TypePodDeleted)

	filter := service.TypePodBackedUp
	result, err := svc.List(ctx, podID, service.ListOptions{Type: &filter})
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	for _, e := range result.Events {
		require.Equal(t, service.TypePodBackedUp, e.Type)
	}
}

func TestListScopedToPod(t *testing.T) {
	ctx := context.Background()
	svc := service.New(repo.NewMemoryRepository())
	podA := uuid.New()
	podB := uuid.New()
	seed(t, svc, podA, service.TypePodCreated)
	seed(t, svc, podB, service.TypePodCreated, service.TypePodDeleted)

	result, err := svc.List(ctx, podA, service.ListOptions{})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	require.Equal(t, podA, result.Events[0].PodID)
}
