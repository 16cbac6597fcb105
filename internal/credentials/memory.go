package credentials

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// MemoryStore implements Store in memory.
// Tokens are lost on restart, which makes it suitable for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns a copy of the stored token.
func (s *MemoryStore) Get(ctx context.Context) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return nil, ErrNoToken
	}
	return clone(s.token), nil
}

// Set stores a copy of tok.
func (s *MemoryStore) Set(ctx context.Context, tok *oauth2.Token) error {
	if err := validate(tok); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = clone(tok)
	return nil
}

// Clear drops the stored token.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	return nil
}
