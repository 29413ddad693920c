package api

import (
	"net/http"
	"time"

	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/protocol"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"sandboxStatus": "ready"})
}

type executeRequest struct {
	Command   string   `json:"command"`
	SessionID string   `json:"sessionId,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	Env       []string `json:"env,omitempty"`
}

func (s *Server) resolveSession(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return s.sessions.GetOrCreateDefault()
	}
	if sess, ok := s.sessions.Get(sessionID); ok {
		return sess, nil
	}
	return s.sessions.Create(sessionID)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCommand(req.Command); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	sess, err := s.resolveSession(req.SessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := sess.Exec(r.Context(), session.ExecRequest{
		Command: req.Command,
		Cwd:     req.Cwd,
		Env:     req.Env,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"success":    result.ExitCode == 0,
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"exitCode":   result.ExitCode,
		"durationMs": result.Duration.Milliseconds(),
		"timestamp":  result.Timestamp.UnixMilli(),
	})
}

func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCommand(req.Command); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	sess, err := s.resolveSession(req.SessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		writeAPIError(w, errStreamingUnsupported)
		return
	}

	err = sess.ExecStream(r.Context(), session.ExecRequest{
		Command: req.Command,
		Cwd:     req.Cwd,
		Env:     req.Env,
	}, func(e session.Event) {
		switch e.Kind {
		case "start":
			stream.send(protocol.ExecEvent{Type: protocol.ExecEventStart, Timestamp: time.Now().UnixMilli()})
		case "stdout":
			stream.send(protocol.ExecEvent{Type: protocol.ExecEventStdout, Chunk: e.Chunk})
		case "stderr":
			stream.send(protocol.ExecEvent{Type: protocol.ExecEventStderr, Chunk: e.Chunk})
		case "complete":
			stream.send(protocol.ExecEvent{Type: protocol.ExecEventComplete, ExitCode: e.ExitCode, Timestamp: time.Now().UnixMilli()})
		case "error":
			stream.send(protocol.ExecEvent{Type: protocol.ExecEventError, Message: e.Message})
		}
	})
	if err != nil && s.logger != nil {
		s.logger.Error("execute stream", "error", err, "trace_id", traceIDFrom(r.Context()))
	}
}
