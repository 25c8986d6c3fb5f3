package requesttrace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

func TestActorString(t *testing.T) {
	require.Equal(t, "system", requesttrace.System().String())
	require.Equal(t, "operator:jane", requesttrace.Operator("jane").String())
	require.Equal(t, "worker:poller-3", requesttrace.Worker("poller-3").String())
}

func TestContextRoundTrip(t *testing.T) {
	ctx := requesttrace.IntoContext(context.Background(), requesttrace.Operator("jane"))

	actor, ok := requesttrace.FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, requesttrace.ActorKindOperator, actor.Kind)
	require.Equal(t, "jane", actor.ID)
}

func TestFromContextAbsent(t *testing.T) {
	_, ok := requesttrace.FromContext(context.Background())
	require.False(t, ok)

	actor := requesttrace.FromContextOrSystem(context.Background())
	require.Equal(t, requesttrace.ActorKindSystem, actor.Kind)
}
