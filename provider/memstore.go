package provider

import (
	"context"
	"sync"

	"github.com/loopkit/loopkit/core"
)

// InMemoryStore is a TranscriptStore backed by process memory. It is the
// default store for local development and tests; production deployments
// supply a durable implementation.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]core.Message
	memory   map[string]map[string][]string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: map[string][]core.Message{},
		memory:   map[string]map[string][]string{},
	}
}

// Append implements TranscriptStore.
func (s *InMemoryStore) Append(ctx context.Context, conversationID string, messages ...core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], messages...)
	return nil
}

// Load implements TranscriptStore. The returned slices are copies.
func (s *InMemoryStore) Load(ctx context.Context, conversationID string) ([]core.Message, map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	messages := make([]core.Message, len(stored))
	copy(messages, stored)

	snapshot := map[string][]string{}
	for domain, facts := range s.memory[conversationID] {
		cp := make([]string, len(facts))
		copy(cp, facts)
		snapshot[domain] = cp
	}
	return messages, snapshot, nil
}

// SaveMemory implements TranscriptStore.
func (s *InMemoryStore) SaveMemory(ctx context.Context, conversationID string, snapshot map[string][]string) error {
	cp := make(map[string][]string, len(snapshot))
	for domain, facts := range snapshot {
		facts2 := make([]string, len(facts))
		copy(facts2, facts)
		cp[domain] = facts2
	}
	s.mu.Lock()
	s.memory[conversationID] = cp
	s.mu.Unlock()
	return nil
}
