// Durable storage for the poll cursor: the highest post id already handled.
//
// Without a store the agent re-baselines to the ledger's current post count on
// every restart, skipping anything posted while it was down.
package cursorstore

import (
	"context"
	"sync"
)

type CursorStore interface {
	// ok is false if no cursor has been written yet
	ReadCursor(ctx context.Context) (cursor uint64, ok bool, err error)
	WriteCursor(ctx context.Context, cursor uint64) error
}

type MemCursorStore struct {
	mu     sync.Mutex
	cursor uint64
	ok     bool
}

var _ CursorStore = (*MemCursorStore)(nil)

func NewMemCursorStore() *MemCursorStore {
	return &MemCursorStore{}
}

func (s *MemCursorStore) ReadCursor(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.ok, nil
}

func (s *MemCursorStore) WriteCursor(ctx context.Context, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.ok = true
	return nil
}
