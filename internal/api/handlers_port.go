package api

import "net/http"

type exposePortRequest struct {
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

type unexposePortRequest struct {
	Port int `json:"port"`
}

func (s *Server) handleExposePort(w http.ResponseWriter, r *http.Request) {
	var req exposePortRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validatePortNumber(req.Port); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	entry, err := s.ports.Expose(req.Port, req.Name)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"port":      entry.Port,
		"name":      entry.Name,
		"status":    entry.Status,
		"exposedAt": entry.ExposedAt.UnixMilli(),
	})
}

func (s *Server) handleUnexposePort(w http.ResponseWriter, r *http.Request) {
	var req unexposePortRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}

	if err := s.ports.Unexpose(req.Port); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleExposedPorts(w http.ResponseWriter, r *http.Request) {
	listing, err := s.ports.List()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": listing})
}
