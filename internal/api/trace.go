package api

import (
	"context"
	"crypto/rand"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

type traceKey struct{}
type clientIDKey struct{}

// traceIDFrom extracts the trace id threaded through the request context by
// traceMiddleware. Returns "" if called outside a request handled by it.
func traceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func clientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// newTraceID generates a fresh, valid otel trace id.
func newTraceID() trace.TraceID {
	var id trace.TraceID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			continue
		}
		if id.IsValid() {
			return id
		}
	}
}

// traceMiddleware propagates X-Trace-Id if the caller supplied a
// well-formed one (validated with otel's trace id parser), otherwise
// mints a fresh one. Every log line emitted while handling the request
// should carry this id.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if id, err := trace.TraceIDFromHex(traceID); err != nil || !id.IsValid() {
			traceID = newTraceID().String()
		}
		w.Header().Set("X-Trace-Id", traceID)

		ctx := context.WithValue(r.Context(), traceKey{}, traceID)
		if clientID := r.Header.Get("X-Sandbox-Client-Id"); clientID != "" {
			ctx = context.WithValue(ctx, clientIDKey{}, clientID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
