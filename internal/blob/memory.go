package blob

import (
	"context"
	"sync"
)

// MemoryStore is an in-process store used in tests and ephemeral setups.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, path string, content []byte, contentType string) error {
	_ = ctx
	_ = contentType
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(content))
	copy(copied, content)
	s.blobs[path] = copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(content))
	copy(copied, content)
	return copied, nil
}

func (s *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[path]
	return ok, nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
