// Package api is the request surface: a router dispatching HTTP to the
// session, process, port, file-operations, and interpreter components,
// framing streaming responses as Server-Sent Events and translating
// component errors through a single error taxonomy.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Server wires every component into one HTTP handler. The preview-URL
// proxy runs ahead of the mux so exposed-port traffic can never be
// shadowed by a runtime endpoint.
type Server struct {
	sessions    sessionService
	processes   processService
	ports       portService
	files       fileopsService
	interpreter interpreterService
	proxy       proxyService
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewServer builds the request surface over already-constructed
// components; main wires concrete implementations.
func NewServer(sessions sessionService, processes processService, ports portService, files fileopsService, interp interpreterService, proxy proxyService, logger *slog.Logger) *Server {
	s := &Server{
		sessions:    sessions,
		processes:   processes,
		ports:       ports,
		files:       files,
		interpreter: interp,
		proxy:       proxy,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the complete handler chain: preview-URL proxy first,
// then trace/logging middleware wrapping the runtime's own routes.
func (s *Server) Handler() http.Handler {
	wrapped := s.traceMiddleware(s.loggingMiddleware(s.mux))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.proxy != nil {
			if _, ok := s.proxy.Match(r); ok {
				s.proxy.ServeHTTP(w, r)
				return
			}
		}
		wrapped.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/ping", s.handlePing)

	s.mux.HandleFunc("POST /api/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/execute/stream", s.handleExecuteStream)

	s.mux.HandleFunc("POST /api/process/start", s.handleProcessStart)
	s.mux.HandleFunc("GET /api/process/list", s.handleProcessList)
	s.mux.HandleFunc("DELETE /api/process/kill-all", s.handleProcessKillAll)
	s.mux.HandleFunc("GET /api/process/{id}", s.handleProcessGet)
	s.mux.HandleFunc("GET /api/process/{id}/logs", s.handleProcessLogs)
	s.mux.HandleFunc("GET /api/process/{id}/stream", s.handleProcessStream)
	s.mux.HandleFunc("DELETE /api/process/{id}", s.handleProcessKill)

	s.mux.HandleFunc("POST /api/expose-port", s.handleExposePort)
	s.mux.HandleFunc("POST /api/unexpose-port", s.handleUnexposePort)
	s.mux.HandleFunc("GET /api/exposed-ports", s.handleExposedPorts)

	s.mux.HandleFunc("POST /api/write", s.handleWrite)
	s.mux.HandleFunc("POST /api/read", s.handleRead)
	s.mux.HandleFunc("POST /api/delete", s.handleDelete)
	s.mux.HandleFunc("POST /api/rename", s.handleRename)
	s.mux.HandleFunc("POST /api/move", s.handleMove)
	s.mux.HandleFunc("POST /api/mkdir", s.handleMkdir)
	s.mux.HandleFunc("POST /api/list-files", s.handleListFiles)

	s.mux.HandleFunc("POST /api/session/create", s.handleSessionCreate)

	s.mux.HandleFunc("POST /api/notebook/session", s.handleNotebookSession)
	s.mux.HandleFunc("POST /api/notebook/execute", s.handleNotebookExecute)
	s.mux.HandleFunc("DELETE /api/notebook/session", s.handleNotebookSessionDelete)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}
