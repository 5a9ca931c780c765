package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the identity in process memory only.
type MemoryStore struct {
	mu  sync.Mutex
	id  Identity
	set bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(_ context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.id.ConversationID == "" {
		return Identity{}, ErrNoIdentity
	}
	return s.id, nil
}

func (s *MemoryStore) Save(_ context.Context, id Identity) error {
	s.mu.Lock()
	s.id, s.set = id, true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.id, s.set = Identity{}, false
	s.mu.Unlock()
	return nil
}
