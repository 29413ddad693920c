package api

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/interpreter"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/store"
	"github.com/delacroix-m/sandrun/protocol"
)

type mockProcessService struct{ mock.Mock }

func (m *mockProcessService) StartProcess(ctx context.Context, req process.StartRequest) (process.Snapshot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(process.Snapshot), args.Error(1)
}

func (m *mockProcessService) List(sessionID string) []process.Snapshot {
	args := m.Called(sessionID)
	if v := args.Get(0); v != nil {
		return v.([]process.Snapshot)
	}
	return nil
}

func (m *mockProcessService) Get(id string) (process.Snapshot, bool) {
	args := m.Called(id)
	return args.Get(0).(process.Snapshot), args.Bool(1)
}

func (m *mockProcessService) Logs(id string) (string, string, error) {
	args := m.Called(id)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockProcessService) StreamLogs(ctx context.Context, id string, emit func(protocol.LogEvent)) error {
	args := m.Called(ctx, id, emit)
	return args.Error(0)
}

func (m *mockProcessService) Kill(id string) error {
	return m.Called(id).Error(0)
}

func (m *mockProcessService) KillAll() int {
	return m.Called().Int(0)
}

type mockPortService struct{ mock.Mock }

func (m *mockPortService) Expose(p int, name string) (*store.PortEntry, error) {
	args := m.Called(p, name)
	if v := args.Get(0); v != nil {
		return v.(*store.PortEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPortService) Unexpose(p int) error {
	return m.Called(p).Error(0)
}

func (m *mockPortService) List() ([]port.Listing, error) {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]port.Listing), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockFileopsService struct{ mock.Mock }

func (m *mockFileopsService) WriteFile(path, content, encoding string) (*fileops.WriteResult, error) {
	args := m.Called(path, content, encoding)
	if v := args.Get(0); v != nil {
		return v.(*fileops.WriteResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFileopsService) ReadFile(path string, maxBytes int64) (*fileops.ReadResult, error) {
	args := m.Called(path, maxBytes)
	if v := args.Get(0); v != nil {
		return v.(*fileops.ReadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFileopsService) Mkdir(path string, recursive bool) error {
	return m.Called(path, recursive).Error(0)
}

func (m *mockFileopsService) DeleteFile(path string) error {
	return m.Called(path).Error(0)
}

func (m *mockFileopsService) RenameFile(oldPath, newPath string) error {
	return m.Called(oldPath, newPath).Error(0)
}

func (m *mockFileopsService) MoveFile(src, dst string) error {
	return m.Called(src, dst).Error(0)
}

func (m *mockFileopsService) ListFiles(path string, recursive, includeHidden bool) ([]fileops.FileInfo, error) {
	args := m.Called(path, recursive, includeHidden)
	if v := args.Get(0); v != nil {
		return v.([]fileops.FileInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInterpreterService struct{ mock.Mock }

func (m *mockInterpreterService) CreateContext(language, cwd string) (interpreter.CodeContext, error) {
	args := m.Called(language, cwd)
	return args.Get(0).(interpreter.CodeContext), args.Error(1)
}

func (m *mockInterpreterService) ListContexts() []interpreter.CodeContext {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]interpreter.CodeContext)
	}
	return nil
}

func (m *mockInterpreterService) DeleteContext(contextID string) error {
	return m.Called(contextID).Error(0)
}

func (m *mockInterpreterService) RunCodeStream(ctx context.Context, contextID, code string, emit func(protocol.CodeEvent)) error {
	args := m.Called(ctx, contextID, code, emit)
	return args.Error(0)
}

type mockProxyService struct{ mock.Mock }

func (m *mockProxyService) Match(r *http.Request) (int, bool) {
	args := m.Called(r)
	return args.Int(0), args.Bool(1)
}

func (m *mockProxyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.Called(w, r)
}

// testServer builds a Server with a nil sessionService; handlers that need
// one are exercised against a real session.Manager in their own test files.
func testServer(processes processService, ports portService, files fileopsService, interp interpreterService) *Server {
	return NewServer(nil, processes, ports, files, interp, nil, nil)
}
