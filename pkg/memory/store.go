// Package memory keeps a bounded, ordered window of messages per chat session.
package memory

import (
	"fmt"
	"sync"

	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
)

// DefaultMaxMessages is the window size used when none is configured.
const DefaultMaxMessages = 20

// Store holds per-session message windows. Append is the only mutator and is
// atomic per session; windows are ordered oldest to newest and never exceed
// the configured maximum.
type Store interface {
	Append(sessionID string, msgs ...protocol.Message) error
	Window(sessionID string) ([]protocol.Message, error)
	Close() error
}

func normalizeMax(max int) int {
	if max <= 0 {
		return DefaultMaxMessages
	}
	return max
}

// checkWindow panics when a store is about to hand out more messages than its
// window allows; that can only be a bug in the store.
func checkWindow(sessionID string, n, max int) {
	if n > max {
		panic(fmt.Sprintf("memory: session %q window has %d messages, max %d", sessionID, n, max))
	}
}

// InMemoryStore keeps windows in process memory.
type InMemoryStore struct {
	max int

	mu       sync.RWMutex
	sessions map[string][]protocol.Message
}

// NewInMemoryStore creates a store with the given window size. A non-positive
// size selects DefaultMaxMessages.
func NewInMemoryStore(maxMessages int) *InMemoryStore {
	return &InMemoryStore{
		max:      normalizeMax(maxMessages),
		sessions: map[string][]protocol.Message{},
	}
}

// MaxMessages returns the window size.
func (s *InMemoryStore) MaxMessages() int {
	return s.max
}

func (s *InMemoryStore) Append(sessionID string, msgs ...protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.sessions[sessionID], protocol.CloneMessages(msgs)...)
	if over := len(window) - s.max; over > 0 {
		window = append([]protocol.Message(nil), window[over:]...)
	}
	s.sessions[sessionID] = window
	return nil
}

func (s *InMemoryStore) Window(sessionID string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.sessions[sessionID]
	checkWindow(sessionID, len(window), s.max)
	return protocol.CloneMessages(window), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
