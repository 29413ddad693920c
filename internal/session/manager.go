package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/delacroix-m/sandrun/internal/config"
)

// DefaultSessionID names the implicit session created lazily by any
// operation that does not pass an explicit session id.
const DefaultSessionID = "default"

// Manager owns every live Session and the scratch directory tree backing
// them.
type Manager struct {
	cfg         *config.Config
	scratchRoot string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager prepares a Manager rooted at cfg.DataDir/sessions.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	root := filepath.Join(cfg.DataDir, "sessions")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session scratch root: %w", err)
	}
	return &Manager{
		cfg:         cfg,
		scratchRoot: root,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}, nil
}

// CreateOpts overrides the manager's default session configuration for one
// session, the way /api/session/create's optional cwd/env fields do.
type CreateOpts struct {
	Cwd string
	Env []string
}

func (m *Manager) sessionConfig(opts ...CreateOpts) Config {
	cfg := Config{
		InitialCwd:     m.cfg.Defaults.InitialCwd,
		EnvOverlay:     m.cfg.Defaults.EnvOverlay,
		OutputCapBytes: m.cfg.Defaults.OutputCapBytes,
		Timeout:        m.cfg.CommandTimeout(),
		PollInterval:   m.cfg.PollInterval(),
	}
	if len(opts) > 0 {
		o := opts[0]
		if o.Cwd != "" {
			cfg.InitialCwd = o.Cwd
		}
		if len(o.Env) > 0 {
			cfg.EnvOverlay = append(append([]string{}, cfg.EnvOverlay...), o.Env...)
		}
	}
	return cfg
}

// Create starts a brand new session under id, replacing and destroying any
// prior session with the same id. An optional CreateOpts overrides the
// session's initial cwd and/or adds to its env overlay.
func (m *Manager) Create(id string, opts ...CreateOpts) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		_ = old.Destroy()
	}

	s, err := New(id, m.sessionConfig(opts...), m.scratchRoot, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns the session for id, if one is live.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreateDefault returns the implicit default session, creating it on
// first use.
func (m *Manager) GetOrCreateDefault() (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[DefaultSessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()
	return m.Create(DefaultSessionID)
}

// Destroy tears down one session and forgets it.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.Destroy()
}

// DestroyAll tears down every live session, used on graceful shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Destroy()
	}
}
