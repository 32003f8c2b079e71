package session

import (
	"context"
	"sync"

	"signoffws/pkg/types"
)

// MemoryStore is a map-backed Store for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*types.User
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*types.User)}
}

// Put registers a session.
func (s *MemoryStore) Put(sessionID string, user *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[sessionID] = user
}

// Delete removes a session.
func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, sessionID)
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[sessionID]
	if !ok || user == nil || user.ID <= 0 {
		return nil, ErrNoSession
	}
	return user, nil
}
