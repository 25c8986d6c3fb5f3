package service

import (
	"context"
	"time"
)

// Executor is the external infrastructure driver that performs the actual
// create/destroy/backup/scale/health action on a physical node. The
// orchestrator treats it as an opaque, possibly slow, possibly-failing remote
// call and never holds a lock on the unit or ledger while one is in flight.
type Executor interface {
	Create(ctx context.Context, spec ResourceSpec) (handle string, err error)
	Destroy(ctx context.Context, handle string) error
	Backup(ctx context.Context, handle string, mode string) (artifactRef string, err error)
	Scale(ctx context.Context, handle string, spec ResourceSpec) error
	Health(ctx context.Context, handle string) (HealthSnapshot, error)
}

// Job payloads, captured immutably at enqueue time.

type CreatePayload struct {
	Spec ResourceSpec `json:"spec"`
}

type DestroyPayload struct {
	Handle string `json:"handle,omitempty"`
}

type ScalePayload struct {
	OldSpec ResourceSpec `json:"old_spec"`
	NewSpec ResourceSpec `json:"new_spec"`
}

type BackupPayload struct {
	Mode string `json:"mode"`
}

type HealthPayload struct{}

// Job results, produced by the worker and reconciled by the orchestrator.

type CreateResultPayload struct {
	Handle string `json:"handle"`
}

type BackupResultPayload struct {
	ArtifactRef string `json:"artifact_ref"`
}

type HealthResultPayload struct {
	State     string    `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
}
