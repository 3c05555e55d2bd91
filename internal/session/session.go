// Package session keeps per-visitor UI state in memory, keyed by a session
// id carried in a cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/opictutor/opictutor/internal/catalog"
	"github.com/opictutor/opictutor/internal/practice"
)

// State is everything the UI remembers for one visitor.
type State struct {
	Practice *practice.Session
	Catalog  catalog.View
	flash    *Flash
}

// Flash is a notice carried across a redirect and shown once.
type Flash struct {
	Kind string
	Text string
}

func (s *State) SetFlash(kind, text string) { s.flash = &Flash{Kind: kind, Text: text} }

// TakeFlash returns the pending flash, if any, and clears it.
func (s *State) TakeFlash() *Flash {
	f := s.flash
	s.flash = nil
	return f
}

type entry struct {
	mu       sync.Mutex
	state    *State
	lastSeen time.Time
}

// Manager owns the session states. Each state is created on first use,
// touched on every access and dropped by End or Expire.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	shuffle  bool
	opts     []practice.Option
	now      func() time.Time
}

func NewManager(shuffle bool, opts ...practice.Option) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		shuffle:  shuffle,
		opts:     opts,
		now:      time.Now,
	}
}

// NewID returns a random session id.
func NewID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (m *Manager) get(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{state: &State{Practice: practice.NewSession(m.shuffle, m.opts...)}}
		m.sessions[id] = e
		slog.Debug("session created", "sessions", len(m.sessions))
	}
	e.lastSeen = m.now()
	return e
}

// With runs fn with exclusive access to the state of session id, creating
// it if needed.
func (m *Manager) With(id string, fn func(*State) error) error {
	e := m.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// Has reports whether id names a live session. It does not count as use.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// End discards the state of session id.
func (m *Manager) End(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Expire drops sessions idle for longer than idle and returns how many
// were removed.
func (m *Manager) Expire(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	removed := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
