package middleware

import (
	"net/http"

	"go.uber.org/zap"

	platformlogging "github.com/hostwerk/cloudpod/platform/go/logging"
	"github.com/hostwerk/cloudpod/platform/go/requesttrace"
)

// Header names used to attribute requests to an actor. The panel frontend sets
// X-Operator-ID after its own authentication; pull-queue workers identify
// themselves with X-Worker-ID. Requests with neither are attributed to system.
const (
	OperatorIDHeader = "X-Operator-ID"
	WorkerIDHeader   = "X-Worker-ID"
)

// RequestTrace populates the context with the request actor so services can
// stamp event attribution, and enriches the request logger with actor fields.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := requesttrace.System()
		if operatorID := r.Header.Get(OperatorIDHeader); operatorID != "" {
			actor = requesttrace.Operator(operatorID)
		} else if workerID := r.Header.Get(WorkerIDHeader); workerID != "" {
			actor = requesttrace.Worker(workerID)
		}

		ctx := requesttrace.IntoContext(r.Context(), actor)
		if logger := platformlogging.FromContext(ctx, nil); logger != nil {
			ctx = platformlogging.WithLogger(ctx, logger.With(zap.String("actor", actor.String())))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
