package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fragekonstruktoren/internal/model"
)

// FlashLevel classifies a one-shot user-visible message.
type FlashLevel string

const (
	FlashSuccess FlashLevel = "success"
	FlashWarning FlashLevel = "warning"
	FlashError   FlashLevel = "error"
)

// Flash is a message shown once on the next page render.
type Flash struct {
	Level FlashLevel
	Text  string
	// Raw carries model output attached to a decode error, for diagnosis.
	Raw string
}

// State holds everything a session owns: the credential, the fact base and
// the generated artifacts. A session serves one user; requests within it
// arrive one at a time.
type State struct {
	APIKey       string
	FactBase     string
	FactBaseName string
	Objectives   []model.LearningObjective
	// Questions maps an objective title to its MCQs. The title is the key,
	// so duplicate titles overwrite each other.
	Questions map[string][]model.MCQ

	flashes []Flash
}

// Reset erases the fact base and all generated artifacts. The API key is
// kept so the user can start over without re-entering it.
func (s *State) Reset() {
	s.FactBase = ""
	s.FactBaseName = ""
	s.Objectives = nil
	s.Questions = nil
}

// AddFlash queues a message for the next render.
func (s *State) AddFlash(level FlashLevel, text string) {
	s.flashes = append(s.flashes, Flash{Level: level, Text: text})
}

// AddFlashRaw queues a message together with raw model output.
func (s *State) AddFlashRaw(level FlashLevel, text, raw string) {
	s.flashes = append(s.flashes, Flash{Level: level, Text: text, Raw: raw})
}

// ConsumeFlashes returns the queued messages and clears the queue.
func (s *State) ConsumeFlashes() []Flash {
	f := s.flashes
	s.flashes = nil
	return f
}

type entry struct {
	state    *State
	lastSeen time.Time
}

// Manager keeps per-session state keyed by an opaque cookie token.
// Sessions are isolated from each other; idle ones are evicted after ttl.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
}

// NewManager creates a session manager with the given idle TTL.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
	}
}

// NewToken returns a fresh session token.
func (m *Manager) NewToken() string {
	return uuid.NewString()
}

// Get returns the state for a token, creating it on first use, and marks
// the session as recently seen.
func (m *Manager) Get(token string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[token]
	if !ok {
		e = &entry{state: &State{}}
		m.sessions[token] = e
	}
	e.lastSeen = time.Now()
	return e.state
}

// CleanupExpired evicts sessions idle longer than the TTL and returns the
// number removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.ttl)
	removed := 0
	for token, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, token)
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
