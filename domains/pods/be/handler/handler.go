// Package handler exposes the pod orchestration HTTP surface.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/domains/pods/be/service"
	"github.com/hostwerk/cloudpod/platform/go/problem"
)

// Handler wires the orchestrator services to the HTTP router.
type Handler struct {
	pods     *service.Service
	capacity *capacityservice.Service
	events   *eventsservice.Service
	jobs     *jobsservice.Queue
	logger   *zap.Logger
}

// New constructs a Handler instance.
func New(pods *service.Service, capacity *capacityservice.Service, events *eventsservice.Service, jobs *jobsservice.Queue, logger *zap.Logger) *Handler {
	if pods == nil {
		panic("pods service is required")
	}
	if capacity == nil {
		panic("capacity service is required")
	}
	if events == nil {
		panic("events service is required")
	}
	if jobs == nil {
		panic("jobs queue is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{pods: pods, capacity: capacity, events: events, jobs: jobs, logger: logger}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/pods", h.createPod)
		r.Get("/pods", h.listPods)
		r.Get("/quota", h.getQuota)
		r.Put("/quota", h.setQuota)
		r.Post("/quota/recalculate", h.recalculateQuota)
	})
	r.Route("/pods/{podID}", func(r chi.Router) {
		r.Get("/", h.getPod)
		r.Delete("/", h.destroyPod)
		r.Post("/scale", h.scalePod)
		r.Post("/backup", h.backupPod)
		r.Post("/health", h.refreshHealth)
		r.Post("/suspend", h.suspendPod)
		r.Post("/resume", h.resumePod)
		r.Get("/events", h.listEvents)
		r.Get("/jobs", h.listJobs)
	})
	r.Get("/jobs/{jobID}", h.getJob)
}

type podResponse struct {
	ID          uuid.UUID               `json:"id"`
	NumericID   int64                   `json:"numeric_id"`
	TenantID    uuid.UUID               `json:"tenant_id"`
	Status      string                  `json:"status"`
	Spec        service.ResourceSpec    `json:"spec"`
	Handle      *string                 `json:"handle,omitempty"`
	Health      *service.HealthSnapshot `json:"health,omitempty"`
	SuspendedAt *time.Time              `json:"suspended_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func toPodResponse(p service.Pod) podResponse {
	return podResponse{
		ID:          p.ID,
		NumericID:   p.NumericID,
		TenantID:    p.TenantID,
		Status:      string(p.Status),
		Spec:        p.Spec,
		Handle:      p.Handle,
		Health:      p.Health,
		SuspendedAt: p.SuspendedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type jobResponse struct {
	ID        uuid.UUID       `json:"id"`
	PodID     uuid.UUID       `json:"pod_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toJobResponse(j jobsservice.Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		PodID:     j.PodID,
		Kind:      string(j.Kind),
		Status:    string(j.Status),
		Attempts:  j.Attempts,
		LastError: j.LastError,
		Result:    j.Result,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func (h *Handler) createPod(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	var body struct {
		Spec service.ResourceSpec `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problem.Validation(w, "invalid request body")
		return
	}

	result, err := h.pods.CreatePod(r.Context(), tenantID, body.Spec)
	if errors.Is(err, service.ErrQuotaExceeded) {
		problem.Write(w, problem.Details{
			Type:   problem.TypeQuotaExceeded,
			Title:  "Quota exceeded",
			Detail: result.Admission.Detail,
			Status: http.StatusForbidden,
			Extra: map[string]any{
				"reason":  result.Admission.Reason,
				"current": result.Admission.Current,
				"limits":  result.Admission.Limits,
			},
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"pod": toPodResponse(result.Pod),
		"job": toJobResponse(*result.Job),
	})
}

func (h *Handler) listPods(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	pods, err := h.pods.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]podResponse, 0, len(pods))
	for _, p := range pods {
		items = append(items, toPodResponse(p))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getPod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	pod, err := h.pods.Get(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPodResponse(pod))
}

func (h *Handler) destroyPod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	pod, job, err := h.pods.DestroyPod(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"pod": toPodResponse(pod),
		"job": toJobResponse(job),
	})
}

func (h *Handler) scalePod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	var body struct {
		Spec service.ResourceSpec `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problem.Validation(w, "invalid request body")
		return
	}

	result, err := h.pods.ScalePod(r.Context(), podID, body.Spec)
	if errors.Is(err, service.ErrQuotaExceeded) {
		problem.Write(w, problem.Details{
			Type:   problem.TypeQuotaExceeded,
			Title:  "Quota exceeded",
			Detail: result.Admission.Detail,
			Status: http.StatusForbidden,
		})
		return
	}
	if errors.Is(err, service.ErrNoChange) {
		problem.Validation(w, "requested spec equals current spec")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"pod": toPodResponse(result.Pod),
		"job": toJobResponse(*result.Job),
	})
}

func (h *Handler) backupPod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			problem.Validation(w, "invalid request body")
			return
		}
	}

	pod, job, err := h.pods.BackupPod(r.Context(), podID, body.Mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"pod": toPodResponse(pod),
		"job": toJobResponse(job),
	})
}

func (h *Handler) refreshHealth(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	job, err := h.pods.RefreshHealth(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"job": toJobResponse(job)})
}

func (h *Handler) suspendPod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	pod, err := h.pods.Suspend(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPodResponse(pod))
}

func (h *Handler) resumePod(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	pod, err := h.pods.Resume(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPodResponse(pod))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	opts := eventsservice.ListOptions{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 50),
	}
	if t := r.URL.Query().Get("type"); t != "" {
		opts.Type = &t
	}

	result, err := h.events.List(r.Context(), podID, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"items":       result.Events,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total_items": result.TotalItems,
		"total_pages": result.TotalPages,
	})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	podID, ok := h.pathUUID(w, r, "podID")
	if !ok {
		return
	}
	jobs, err := h.jobs.ListForPod(r.Context(), podID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobResponse(j))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), jobID)
	if errors.Is(err, jobsservice.ErrNotFound) {
		problem.NotFound(w, "job not found")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	summary, err := h.capacity.Summary(r.Context(), tenantID)
	if errors.Is(err, capacityservice.ErrNoQuota) {
		problem.NotFound(w, "no quota configured for tenant")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) setQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	var body capacityservice.Dimensions
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problem.Validation(w, "invalid request body")
		return
	}
	quota, err := h.capacity.SetLimits(r.Context(), tenantID, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quota)
}

func (h *Handler) recalculateQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	quota, err := h.capacity.Recalculate(r.Context(), tenantID)
	if errors.Is(err, capacityservice.ErrNoQuota) {
		problem.NotFound(w, "no quota configured for tenant")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quota)
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		problem.Validation(w, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		problem.NotFound(w, "pod not found")
	case errors.Is(err, service.ErrConflict):
		problem.Conflict(w, err.Error())
	case errors.Is(err, service.ErrInvalidSpec):
		problem.Validation(w, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		problem.Internal(w)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response failed", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
