package api

import (
	"net/http"

	"github.com/felixge/httpsnoop"
)

// loggingMiddleware logs one line per request with the trace id threaded
// through by traceMiddleware and the status/byte-count httpsnoop captures,
// the same metrics the preview proxy logs for its own requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		if s.logger == nil {
			return
		}
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
			"trace_id", traceIDFrom(r.Context()),
			"client_id", clientIDFrom(r.Context()),
		)
	})
}
