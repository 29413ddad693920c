package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseStream wraps the boilerplate of server-sent-event framing: headers,
// flush-per-event, and a flusher capability check.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseStream{w: w, flusher: flusher}, true
}

// send writes one SSE event: a JSON-encoded data line followed by a blank
// line ("data: <json>\n\n"), with no other SSE fields.
func (s *sseStream) send(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}
