package requesttrace

import (
	"context"
	"fmt"
)

type contextKey string

const ctxActor contextKey = "CLOUDPOD_REQUEST_ACTOR"

// ActorKind represents who initiated an orchestrator operation.
type ActorKind string

const (
	ActorKindOperator ActorKind = "operator"
	ActorKindWorker   ActorKind = "worker"
	ActorKindSystem   ActorKind = "system"
)

// Actor identifies the initiator of an operation for event attribution.
// ID is empty for system actors.
type Actor struct {
	Kind ActorKind
	ID   string
}

// String renders the actor as stored on event rows, e.g. "operator:jane" or "system".
func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}

// System is the actor for background orchestrator operations (workers, sweeps).
func System() Actor {
	return Actor{Kind: ActorKindSystem}
}

// Operator builds an actor for an administrative caller.
func Operator(id string) Actor {
	return Actor{Kind: ActorKindOperator, ID: id}
}

// Worker builds an actor for an external pull-queue worker.
func Worker(id string) Actor {
	return Actor{Kind: ActorKindWorker, ID: id}
}

// IntoContext stores the Actor on the provided context.
func IntoContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}

// FromContext extracts the Actor from context, returning false when not present.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(Actor)
	return actor, ok
}

// FromContextOrSystem returns the Actor stored on the context, or the system
// actor when absent (background jobs carry no request scope).
func FromContextOrSystem(ctx context.Context) Actor {
	if actor, ok := FromContext(ctx); ok {
		return actor
	}
	return System()
}
