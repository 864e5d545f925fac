package flagstore

import (
	"context"
	"sync"
)

type MemFlagStore struct {
	mu   sync.RWMutex
	Data map[uint64]bool
}

var _ FlagStore = (*MemFlagStore)(nil)

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		Data: make(map[uint64]bool),
	}
}

func (s *MemFlagStore) Contains(ctx context.Context, postID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Data[postID], nil
}

// does not error if already present
func (s *MemFlagStore) Add(ctx context.Context, postID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data[postID] = true
	return nil
}

func (s *MemFlagStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data = make(map[uint64]bool)
	return nil
}

func (s *MemFlagStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Data), nil
}
