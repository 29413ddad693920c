// Package port maintains the PortEntry table and reverse-proxies
// preview-URL traffic to the corresponding localhost port.
package port

import (
	"fmt"
	"time"

	"github.com/delacroix-m/sandrun/internal/store"
	"github.com/delacroix-m/sandrun/protocol"
)

// Listing is one composed preview-URL entry as returned by List.
type Listing struct {
	Port   int    `json:"port"`
	Name   string `json:"name,omitempty"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Manager owns the PortEntry table.
type Manager struct {
	store      *store.Store
	sandboxID  string
	baseDomain string
}

// NewManager wraps a store with the sandbox identity used to compose
// preview URLs.
func NewManager(s *store.Store, sandboxID, baseDomain string) *Manager {
	return &Manager{store: s, sandboxID: sandboxID, baseDomain: baseDomain}
}

func validatePort(p int) error {
	if p < protocol.MinExposablePort || p > protocol.MaxExposablePort || p == protocol.ReservedPort {
		return ErrInvalidPort
	}
	return nil
}

// Expose records port as actively exposed, failing if it already has an
// active entry.
func (m *Manager) Expose(p int, name string) (*store.PortEntry, error) {
	if err := validatePort(p); err != nil {
		return nil, err
	}
	if existing, err := m.store.Get(p); err == nil && existing.Status == store.StatusActive {
		return nil, ErrPortAlreadyExposed
	}

	entry := &store.PortEntry{Port: p, Name: name, Status: store.StatusActive, ExposedAt: time.Now()}
	if err := m.store.Upsert(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unexpose marks an active entry inactive.
func (m *Manager) Unexpose(p int) error {
	existing, err := m.store.Get(p)
	if err != nil || existing.Status != store.StatusActive {
		return ErrPortNotExposed
	}
	return m.store.MarkInactive(p)
}

// Get returns the entry for a port, if tracked.
func (m *Manager) Get(p int) (*store.PortEntry, bool) {
	entry, err := m.store.Get(p)
	if err != nil {
		return nil, false
	}
	return entry, true
}

// IsActive reports whether p has an active entry, the check the proxy
// performs before dialing upstream.
func (m *Manager) IsActive(p int) bool {
	entry, ok := m.Get(p)
	return ok && entry.Status == store.StatusActive
}

// List composes the preview URL for every tracked port.
func (m *Manager) List() ([]Listing, error) {
	entries, err := m.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(entries))
	for _, e := range entries {
		out = append(out, Listing{
			Port:   e.Port,
			Name:   e.Name,
			Status: e.Status,
			URL:    m.previewURL(e.Port),
		})
	}
	return out, nil
}

func (m *Manager) previewURL(p int) string {
	return fmt.Sprintf("https://%d-%s.%s", p, m.sandboxID, m.baseDomain)
}

// CleanupStale drops inactive entries older than protocol.StalePortThreshold.
func (m *Manager) CleanupStale() (int, error) {
	return m.store.DeleteStaleInactive(protocol.StalePortThreshold)
}
