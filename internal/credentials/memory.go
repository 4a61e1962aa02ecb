package credentials

import (
	"context"
	"sync"
)

type memoryKey struct {
	userID   string
	provider Provider
}

// MemoryStore keeps credentials in a map. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[memoryKey]*Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[memoryKey]*Credential)}
}

func (s *MemoryStore) Get(_ context.Context, userID string, provider Provider) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[memoryKey{userID, provider}]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, cred *Credential) error {
	if err := cred.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[memoryKey{cred.UserID, cred.Provider}] = cred.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey{userID, provider}
	if _, ok := s.creds[k]; !ok {
		return ErrNotFound
	}
	delete(s.creds, k)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
