package api

import (
	"net/http"

	"github.com/delacroix-m/sandrun/protocol"
)

type notebookSessionRequest struct {
	Language string `json:"language"`
	Cwd      string `json:"cwd,omitempty"`
}

func (s *Server) handleNotebookSession(w http.ResponseWriter, r *http.Request) {
	var req notebookSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Language == "" {
		writeValidationError(w, "language is required", nil)
		return
	}

	ctx, err := s.interpreter.CreateContext(req.Language, req.Cwd)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"contextId": ctx.ID,
		"language":  ctx.Language,
		"cwd":       ctx.Cwd,
		"createdAt": ctx.CreatedAt.UnixMilli(),
	})
}

type notebookExecuteRequest struct {
	ContextID string `json:"contextId"`
	Code      string `json:"code"`
}

func (s *Server) handleNotebookExecute(w http.ResponseWriter, r *http.Request) {
	var req notebookExecuteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.ContextID == "" {
		writeValidationError(w, "contextId is required", nil)
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		writeAPIError(w, errStreamingUnsupported)
		return
	}

	err := s.interpreter.RunCodeStream(r.Context(), req.ContextID, req.Code, func(e protocol.CodeEvent) {
		stream.send(e)
	})
	if err != nil && s.logger != nil {
		s.logger.Error("notebook execute", "context_id", req.ContextID, "error", err, "trace_id", traceIDFrom(r.Context()))
	}
}

type notebookSessionDeleteRequest struct {
	ContextID string `json:"contextId"`
}

func (s *Server) handleNotebookSessionDelete(w http.ResponseWriter, r *http.Request) {
	var req notebookSessionDeleteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.ContextID == "" {
		writeValidationError(w, "contextId is required", nil)
		return
	}
	if err := s.interpreter.DeleteContext(req.ContextID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}
