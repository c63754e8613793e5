package transcript

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const DefaultGreeting = "Hello! Ask me anything about your database."

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is one conversation. It always starts with, and is cleared back
// to, a single assistant greeting.
type Store struct {
	mu       sync.RWMutex
	greeting string
	now      func() time.Time
	messages []Message
}

func NewStore(greeting string) *Store {
	return newStore(greeting, time.Now)
}

func newStore(greeting string, now func() time.Time) *Store {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	s := &Store{greeting: greeting, now: now}
	s.messages = []Message{s.greetingMessage()}
	return s
}

func (s *Store) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// All returns a copy of the transcript in order.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = []Message{s.greetingMessage()}
	s.mu.Unlock()
}

func (s *Store) greetingMessage() Message {
	return Message{Role: RoleAssistant, Content: s.greeting, CreatedAt: s.now().UTC()}
}
