package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/delacroix-m/sandrun/internal/session"
)

type sessionCreateRequest struct {
	SessionID string   `json:"sessionId,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	Env       []string `json:"env,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := s.sessions.Create(id, session.CreateOpts{Cwd: req.Cwd, Env: req.Env})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sessionId": sess.ID})
}
