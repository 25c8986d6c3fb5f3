// Package handler exposes the pull task queue to external polling workers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostwerk/cloudpod/domains/tasks/be/service"
	"github.com/hostwerk/cloudpod/platform/go/problem"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

// Handler wires the tasks service to the HTTP router.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tasks service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Post("/claim", h.claim)
		r.Post("/release-expired", h.releaseExpired)
		r.Get("/{taskID}", h.get)
		r.Post("/{taskID}/complete", h.complete)
	})
}

type taskResponse struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	PodID          *uuid.UUID      `json:"pod_id,omitempty"`
	SubscriptionID *uuid.UUID      `json:"subscription_id,omitempty"`
	ClaimedBy      *string         `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Attempts       int             `json:"attempts"`
	Error          *string         `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toTaskResponse(t service.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Kind:           t.Kind,
		Payload:        t.Payload,
		Status:         string(t.Status),
		PodID:          t.PodID,
		SubscriptionID: t.SubscriptionID,
		ClaimedBy:      t.ClaimedBy,
		LeaseExpiresAt: t.LeaseExpiresAt,
		Attempts:       t.Attempts,
		Error:          t.Error,
		Result:         t.Result,
		CreatedAt:      t.CreatedAt,
	}
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind           string          `json:"kind"`
		Payload        json.RawMessage `json:"payload"`
		PodID          *uuid.UUID      `json:"pod_id,omitempty"`
		SubscriptionID *uuid.UUID      `json:"subscription_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problem.Validation(w, "invalid request body")
		return
	}

	task, err := h.svc.Enqueue(r.Context(), body.Kind, body.Payload, body.PodID, body.SubscriptionID)
	if errors.Is(err, service.ErrUnknownKind) || errors.Is(err, service.ErrInvalidPayload) {
		problem.Validation(w, err.Error())
		return
	}
	if err != nil {
		h.internal(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// claim hands out at most one pending task; 204 means the queue is empty and
// the worker should back off before polling again.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	workerID := workerFrom(r)
	task, err := h.svc.Claim(r.Context(), workerID)
	if errors.Is(err, service.ErrWorkerRequired) {
		problem.Validation(w, "X-Worker-ID header is required")
		return
	}
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskResponse(*task))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		problem.Validation(w, "taskID must be a UUID")
		return
	}
	var body struct {
		Success bool            `json:"success"`
		Error   string          `json:"error,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problem.Validation(w, "invalid request body")
		return
	}

	task, err := h.svc.Complete(r.Context(), taskID, body.Success, body.Error, body.Result)
	switch {
	case errors.Is(err, service.ErrNotFound):
		problem.NotFound(w, "task not found")
		return
	case errors.Is(err, service.ErrNotClaimed):
		problem.Conflict(w, err.Error())
		return
	case err != nil:
		h.internal(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) releaseExpired(w http.ResponseWriter, r *http.Request) {
	released, err := h.svc.ReleaseExpired(r.Context())
	if err != nil {
		h.internal(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"released": released})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		problem.Validation(w, "taskID must be a UUID")
		return
	}
	task, err := h.svc.Get(r.Context(), taskID)
	if errors.Is(err, service.ErrNotFound) {
		problem.NotFound(w, "task not found")
		return
	}
	if err != nil {
		h.internal(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func workerFrom(r *http.Request) string {
	actor := requesttrace.FromContextOrSystem(r.Context())
	if actor.Kind == requesttrace.ActorKindWorker {
		return actor.ID
	}
	return r.Header.Get("X-Worker-ID")
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	problem.Internal(w)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response failed", zap.Error(err))
	}
}
