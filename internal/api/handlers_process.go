package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/protocol"
)

type processStartRequest struct {
	Command   string   `json:"command"`
	ProcessID string   `json:"processId,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	Env       []string `json:"env,omitempty"`
}

func processRecordJSON(s process.Snapshot) map[string]any {
	rec := map[string]any{
		"id":        s.ID,
		"sessionId": s.SessionID,
		"command":   s.Command,
		"status":    string(s.Status),
		"pid":       s.Pid,
		"startTime": s.StartTime.UnixMilli(),
	}
	if s.EndTime != nil {
		rec["endTime"] = s.EndTime.UnixMilli()
	}
	if s.ExitCode != nil {
		rec["exitCode"] = *s.ExitCode
	}
	if s.Error != "" {
		rec["error"] = s.Error
	}
	return rec
}

func (s *Server) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	var req processStartRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCommand(req.Command); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	snap, err := s.processes.StartProcess(r.Context(), process.StartRequest{
		Command:   req.Command,
		ProcessID: req.ProcessID,
		SessionID: req.SessionID,
		Cwd:       req.Cwd,
		Env:       req.Env,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, processRecordJSON(snap))
}

func (s *Server) handleProcessList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	snaps := s.processes.List(sessionID)
	records := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, processRecordJSON(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": records})
}

func (s *Server) handleProcessGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.processes.Get(id)
	if !ok {
		writeAPIError(w, process.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, processRecordJSON(snap))
}

// tailLines returns at most the last n lines of text, preserving order,
// per the additive GET /api/process/:id/logs?tail=N feature. Empty lines
// count as lines; n <= 0 returns text unchanged.
func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n") + "\n"
}

func (s *Server) handleProcessLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stdout, stderr, err := s.processes.Logs(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if tailParam := r.URL.Query().Get("tail"); tailParam != "" {
		n, perr := strconv.Atoi(tailParam)
		if perr != nil || n < 0 {
			writeValidationError(w, "tail must be a non-negative integer", nil)
			return
		}
		stdout = tailLines(stdout, n)
		stderr = tailLines(stderr, n)
	}

	writeJSON(w, http.StatusOK, map[string]any{"stdout": stdout, "stderr": stderr})
}

func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stream, ok := newSSEStream(w)
	if !ok {
		writeAPIError(w, errStreamingUnsupported)
		return
	}

	err := s.processes.StreamLogs(r.Context(), id, func(e protocol.LogEvent) {
		stream.send(e)
	})
	if err != nil && s.logger != nil {
		s.logger.Error("process stream", "process_id", id, "error", err, "trace_id", traceIDFrom(r.Context()))
	}
}

func (s *Server) handleProcessKill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.processes.Kill(id); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleProcessKillAll(w http.ResponseWriter, r *http.Request) {
	count := s.processes.KillAll()
	writeSuccess(w, http.StatusOK, map[string]any{"killedCount": count})
}
