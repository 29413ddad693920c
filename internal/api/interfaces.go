package api

import (
	"context"
	"net/http"

	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/interpreter"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/internal/store"
	"github.com/delacroix-m/sandrun/protocol"
)

// sessionService abstracts session-engine operations needed by handlers.
type sessionService interface {
	GetOrCreateDefault() (*session.Session, error)
	Create(id string, opts ...session.CreateOpts) (*session.Session, error)
	Get(id string) (*session.Session, bool)
}

// processService abstracts process-registry operations needed by handlers.
type processService interface {
	StartProcess(ctx context.Context, req process.StartRequest) (process.Snapshot, error)
	List(sessionID string) []process.Snapshot
	Get(id string) (process.Snapshot, bool)
	Logs(id string) (string, string, error)
	StreamLogs(ctx context.Context, id string, emit func(protocol.LogEvent)) error
	Kill(id string) error
	KillAll() int
}

// portService abstracts port-manager operations needed by handlers.
type portService interface {
	Expose(p int, name string) (*store.PortEntry, error)
	Unexpose(p int) error
	List() ([]port.Listing, error)
}

// fileopsService abstracts file-operations needed by handlers.
type fileopsService interface {
	WriteFile(path, content, encoding string) (*fileops.WriteResult, error)
	ReadFile(path string, maxBytes int64) (*fileops.ReadResult, error)
	Mkdir(path string, recursive bool) error
	DeleteFile(path string) error
	RenameFile(oldPath, newPath string) error
	MoveFile(src, dst string) error
	ListFiles(path string, recursive, includeHidden bool) ([]fileops.FileInfo, error)
}

// interpreterService abstracts the interpreter bridge needed by handlers.
type interpreterService interface {
	CreateContext(language, cwd string) (interpreter.CodeContext, error)
	ListContexts() []interpreter.CodeContext
	DeleteContext(contextID string) error
	RunCodeStream(ctx context.Context, contextID, code string, emit func(protocol.CodeEvent)) error
}

// proxyService handles preview-URL requests, invoked ahead of routes.
type proxyService interface {
	Match(r *http.Request) (int, bool)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}
