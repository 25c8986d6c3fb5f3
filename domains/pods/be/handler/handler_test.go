package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsrepo "github.com/hostwerk/cloudpod/domains/events/be/repo"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsrepo "github.com/hostwerk/cloudpod/domains/jobs/be/repo"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/domains/pods/be/handler"
	podsrepo "github.com/hostwerk/cloudpod/domains/pods/be/repo"
	podsservice "github.com/hostwerk/cloudpod/domains/pods/be/service"
)

type env struct {
	router   chi.Router
	pods     *podsservice.Service
	capacity *capacityservice.Service
	queue    *jobsservice.Queue
	tenantID uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ledger := capacityrepo.NewMemoryRepository()
	eventLog := eventsrepo.NewMemoryRepository()
	queue := jobsservice.NewQueue(jobsrepo.NewMemoryRepository(), 3, zap.NewNop())
	repo := podsrepo.NewMemoryRepository(ledger, eventLog)
	capacitySvc := capacityservice.New(ledger)
	pods := podsservice.New(repo, podsrepo.NewMemoryAllocator(1), queue, capacitySvc, zap.NewNop())

	h := handler.New(pods, capacitySvc, eventsservice.New(eventLog), queue, zap.NewNop())
	router := chi.NewRouter()
	h.Mount(router)

	tenantID := uuid.New()
	_, err := capacitySvc.SetLimits(context.Background(), tenantID, capacityservice.Dimensions{
		Pods: 2, Cores: 16, MemoryMB: 32768, DiskGB: 500,
	})
	require.NoError(t, err)

	return &env{router: router, pods: pods, capacity: capacitySvc, queue: queue, tenantID: tenantID}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createBody() map[string]any {
	return map[string]any{"spec": map[string]any{"cores": 2, "memory_mb": 2048, "disk_gb": 20}}
}

func (e *env) createActivePod(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	result, err := e.pods.CreatePod(ctx, e.tenantID, podsservice.ResourceSpec{Cores: 2, MemoryMB: 2048, DiskGB: 20})
	require.NoError(t, err)
	_, err = e.queue.Dequeue(ctx)
	require.NoError(t, err)
	raw, err := json.Marshal(podsservice.CreateResultPayload{Handle: "node-1"})
	require.NoError(t, err)
	require.NoError(t, e.pods.ApplyJobOutcome(ctx, result.Job.ID, jobsservice.Outcome{Success: true, Result: raw}))
	return result.Pod.ID
}

func TestCreatePodReturns201(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/tenants/"+e.tenantID.String()+"/pods", createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Pod struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"pod"`
		Job struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"job"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "provisioning", body.Pod.Status)
	require.Equal(t, "create", body.Job.Kind)
	require.Equal(t, "queued", body.Job.Status)
}

func TestCreatePodInvalidSpecReturns400(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/tenants/"+e.tenantID.String()+"/pods",
		map[string]any{"spec": map[string]any{"cores": 0, "memory_mb": 2048, "disk_gb": 20}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestCreatePodQuotaDenialReturns403Problem(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/tenants/"+e.tenantID.String()+"/pods", createBody())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/tenants/"+e.tenantID.String()+"/pods", createBody())
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
		Extra  struct {
			Reason string `json:"reason"`
		} `json:"extra"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "https://hostwerk.io/problems/quota-exceeded", body.Type)
	require.NotEmpty(t, body.Detail)
	require.NotEmpty(t, body.Extra.Reason)
}

func TestGetPodNotFoundReturns404(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/pods/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathMustBeUUID(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/pods/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScaleConflictReturns409(t *testing.T) {
	e := newEnv(t)

	// Pod is still provisioning, so scaling is rejected.
	result, err := e.pods.CreatePod(context.Background(), e.tenantID, podsservice.ResourceSpec{Cores: 2, MemoryMB: 2048, DiskGB: 20})
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/pods/"+result.Pod.ID.String()+"/scale",
		map[string]any{"spec": map[string]any{"cores": 4, "memory_mb": 4096, "disk_gb": 40}})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestScaleAcceptedReturns202(t *testing.T) {
	e := newEnv(t)
	podID := e.createActivePod(t)

	rec := e.do(t, http.MethodPost, "/pods/"+podID.String()+"/scale",
		map[string]any{"spec": map[string]any{"cores": 4, "memory_mb": 4096, "disk_gb": 40}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode[struct {
		Pod struct {
			Status string `json:"status"`
		} `json:"pod"`
	}](t, rec)
	require.Equal(t, "scaling", body.Pod.Status)
}

func TestScaleNoChangeReturns400(t *testing.T) {
	e := newEnv(t)
	podID := e.createActivePod(t)

	rec := e.do(t, http.MethodPost, "/pods/"+podID.String()+"/scale", createBody())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDestroyReturns202(t *testing.T) {
	e := newEnv(t)
	podID := e.createActivePod(t)

	rec := e.do(t, http.MethodDelete, "/pods/"+podID.String(), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode[struct {
		Pod struct {
			Status string `json:"status"`
		} `json:"pod"`
		Job struct {
			Kind string `json:"kind"`
		} `json:"job"`
	}](t, rec)
	require.Equal(t, "deleting", body.Pod.Status)
	require.Equal(t, "destroy", body.Job.Kind)
}

func TestQuotaRoundTrip(t *testing.T) {
	e := newEnv(t)
	tenantID := uuid.New()

	rec := e.do(t, http.MethodPut, "/tenants/"+tenantID.String()+"/quota",
		map[string]any{"Pods": 3, "Cores": 12, "MemoryMB": 16384, "DiskGB": 200})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/tenants/"+tenantID.String()+"/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/tenants/"+uuid.NewString()+"/quota", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsPaginated(t *testing.T) {
	e := newEnv(t)
	podID := e.createActivePod(t)

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/pods/%s/events?page=1&page_size=1", podID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Items      []map[string]any `json:"items"`
		TotalItems int              `json:"total_items"`
	}](t, rec)
	require.Len(t, body.Items, 1)
	require.Equal(t, 2, body.TotalItems) // pod_created + pod_provisioned
}

func TestListJobsForPod(t *testing.T) {
	e := newEnv(t)
	podID := e.createActivePod(t)

	rec := e.do(t, http.MethodGet, "/pods/"+podID.String()+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Items []struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"items"`
	}](t, rec)
	require.Len(t, body.Items, 1)
	require.Equal(t, "create", body.Items[0].Kind)
	require.Equal(t, "succeeded", body.Items[0].Status)
}
