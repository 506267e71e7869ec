package entities

import (
	"sync"
	"time"
)

// Session holds the backend-assigned conversation continuity token. The
// identifier is absent until the first backend response that carries one and
// is never replaced afterwards.
type Session struct {
	mu        sync.RWMutex
	id        string
	startedAt time.Time
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{}
}

// Assign stores id if no identifier has been stored yet. It reports whether
// the session was started by this call.
func (s *Session) Assign(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		return false
	}
	s.id = id
	s.startedAt = time.Now()
	return true
}

// ID returns the session identifier, or an empty string when not started
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Started reports whether the backend assigned an identifier
func (s *Session) Started() bool {
	return s.ID() != ""
}

// StartedAt returns the moment the identifier was assigned
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}
