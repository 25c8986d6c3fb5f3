package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostwerk/cloudpod/platform/go/middleware"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

func traceActor(t *testing.T, headers map[string]string) requesttrace.Actor {
	t.Helper()
	var actor requesttrace.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requesttrace.FromContextOrSystem(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	middleware.RequestTrace(next).ServeHTTP(httptest.NewRecorder(), req)
	return actor
}

func TestRequestTraceOperator(t *testing.T) {
	actor := traceActor(t, map[string]string{middleware.OperatorIDHeader: "jane"})
	require.Equal(t, requesttrace.Operator("jane"), actor)
}

func TestRequestTraceWorker(t *testing.T) {
	actor := traceActor(t, map[string]string{middleware.WorkerIDHeader: "poller-9"})
	require.Equal(t, requesttrace.Worker("poller-9"), actor)
}

func TestRequestTraceOperatorWinsOverWorker(t *testing.T) {
	actor := traceActor(t, map[string]string{
		middleware.OperatorIDHeader: "jane",
		middleware.WorkerIDHeader:   "poller-9",
	})
	require.Equal(t, requesttrace.Operator("jane"), actor)
}

func TestRequestTraceDefaultsToSystem(t *testing.T) {
	actor := traceActor(t, nil)
	require.Equal(t, requesttrace.System(), actor)
}
