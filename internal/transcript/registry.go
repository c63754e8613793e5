package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/resultset"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID         string
	Transcript *Store

	turn      sync.Mutex
	mu        sync.Mutex
	lastTable *resultset.Table
	lastUsed  time.Time
}

// LockTurn serializes turns within one session.
func (s *Session) LockTurn() { s.turn.Lock() }
func (s *Session) UnlockTurn() { s.turn.Unlock() }

func (s *Session) SetLastTable(table resultset.Table) {
	s.mu.Lock()
	s.lastTable = &table
	s.mu.Unlock()
}

func (s *Session) LastTable() (resultset.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTable == nil {
		return resultset.Table{}, false
	}
	return *s.lastTable, true
}

// Reset clears the transcript back to the greeting and forgets the last
// table.
func (s *Session) Reset() {
	s.Transcript.Clear()
	s.mu.Lock()
	s.lastTable = nil
	s.mu.Unlock()
}

type RegistryConfig struct {
	Greeting string
	// IdleTTL evicts sessions unused for longer than this. Zero keeps
	// sessions forever.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Registry holds browser sessions in memory.
type Registry struct {
	mu       sync.Mutex
	cfg      RegistryConfig
	sessions map[string]*Session
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{cfg: cfg, sessions: map[string]*Session{}}
}

func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	session := &Session{
		ID:         uuid.NewString(),
		Transcript: newStore(r.cfg.Greeting, r.cfg.Now),
		lastUsed:   r.cfg.Now(),
	}
	r.sessions[session.ID] = session
	return session
}

func (r *Registry) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.lastUsed = r.cfg.Now()
	return session, nil
}

// Delete drops the session and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	id = strings.TrimSpace(id)
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	return len(r.sessions)
}

func (r *Registry) evictLocked() {
	if r.cfg.IdleTTL <= 0 {
		return
	}
	cutoff := r.cfg.Now().Add(-r.cfg.IdleTTL)
	for id, session := range r.sessions {
		if session.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
