// Package testutil builds fully-wired runtime fixtures for integration
// tests that need more than one component talking to each other.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/delacroix-m/sandrun/internal/config"
	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/interpreter"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/internal/store"
)

// Logger returns a quiet slog.Logger suitable for test fixtures.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestConfig returns a Config rooted at a fresh temp directory, with
// defaults narrow enough for deterministic tests.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Defaults.InitialCwd = os.TempDir()
	cfg.Preview.SandboxID = "test-sandbox"
	cfg.Preview.BaseDomain = "sandrun.test"
	return cfg
}

// NewTestStore opens a file-backed sqlite store under a fresh temp
// directory; modernc.org/sqlite needs a real path for WAL mode.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "ports.db"), store.DefaultMaxOpenConns)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Runtime bundles every component an end-to-end test needs, wired exactly
// the way cmd/runner/main.go wires them.
type Runtime struct {
	Config      *config.Config
	Store       *store.Store
	Sessions    *session.Manager
	Processes   *process.Registry
	Ports       *port.Manager
	Proxy       *port.Proxy
	Files       *fileops.Service
	Interpreter *interpreter.Bridge
}

// NewRuntime wires a complete, isolated runtime for integration tests.
func NewRuntime(t *testing.T) *Runtime {
	t.Helper()
	logger := Logger()
	cfg := TestConfig(t)
	st := NewTestStore(t)

	sessions, err := session.NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	t.Cleanup(sessions.DestroyAll)

	processes := process.NewRegistry(sessions, cfg.ProcessRetention, logger)
	ports := port.NewManager(st, cfg.Preview.SandboxID, cfg.Preview.BaseDomain)
	proxy := port.NewProxy(ports, cfg.Preview.BaseDomain, cfg.Preview.DialTimeout, logger)

	files, err := fileops.NewService(cfg.FileOps, logger)
	if err != nil {
		t.Fatalf("fileops.NewService: %v", err)
	}

	interp := interpreter.NewBridge(cfg.Interpreter, logger)

	return &Runtime{
		Config:      cfg,
		Store:       st,
		Sessions:    sessions,
		Processes:   processes,
		Ports:       ports,
		Proxy:       proxy,
		Files:       files,
		Interpreter: interp,
	}
}
