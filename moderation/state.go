package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sol-ai/modagent/moderation/flagstore"
)

type Counters struct {
	Processed      uint64 `json:"processed"`
	Flagged        uint64 `json:"flagged"`
	AlreadyFlagged uint64 `json:"already_flagged"`
	Failed         uint64 `json:"failed"`
	Abandoned      uint64 `json:"abandoned"`
	CountFailures  uint64 `json:"count_failures"`
}

type Snapshot struct {
	Cursor      uint64    `json:"cursor"`
	Initialized bool      `json:"initialized"`
	LastCheck   time.Time `json:"last_check"`
	CacheSize   int       `json:"cache_size"`
	Counters
}

// Shared moderation state. Safe for concurrent use by the poll loop and the
// control plane.
type State struct {
	mu          sync.Mutex
	cursor      uint64
	initialized bool
	counters    Counters
	lastCheck   time.Time

	flags  flagstore.FlagStore
	logger *slog.Logger
}

func NewState(flags flagstore.FlagStore, logger *slog.Logger) *State {
	if flags == nil {
		flags = flagstore.NewMemFlagStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		flags:  flags,
		logger: logger,
	}
}

func (s *State) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Whether a cursor has been set, either from a baseline or by an operator.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Operator override. May move the cursor backwards (to re-process posts) or
// forwards (to skip them).
func (s *State) SetCursor(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = v
	s.initialized = true
	currentCursor.Set(float64(v))
}

// Sets the cursor only if nothing has set it yet. Reports whether it did.
func (s *State) InitCursor(v uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return false
	}
	s.cursor = v
	s.initialized = true
	currentCursor.Set(float64(v))
	return true
}

// Moves the cursor from 'from' to 'to' on behalf of a poll cycle which
// started at 'from'. Only moves forward, and does nothing if the cursor was
// changed in the meantime (an operator override wins over the cycle).
func (s *State) AdvanceCursor(from, to uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor != from || to <= from {
		return false
	}
	s.cursor = to
	currentCursor.Set(float64(to))
	return true
}

// Store errors are logged and treated as "not cached": the ledger check
// downstream still prevents duplicate flags.
func (s *State) IsFlagged(ctx context.Context, postID uint64) bool {
	ok, err := s.flags.Contains(ctx, postID)
	if err != nil {
		s.logger.Warn("flag cache read failed", "postID", postID, "err", err)
		return false
	}
	return ok
}

func (s *State) MarkFlagged(ctx context.Context, postID uint64) {
	if err := s.flags.Add(ctx, postID); err != nil {
		s.logger.Warn("flag cache write failed", "postID", postID, "err", err)
	}
}

func (s *State) ResetCache(ctx context.Context) error {
	return s.flags.Clear(ctx)
}

func (s *State) CacheSize(ctx context.Context) int {
	n, err := s.flags.Count(ctx)
	if err != nil {
		s.logger.Warn("flag cache count failed", "err", err)
		return 0
	}
	return n
}

func (s *State) update(f func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.counters)
}

func (s *State) IncProcessed() {
	postsProcessed.Inc()
	s.update(func(c *Counters) { c.Processed++ })
}

func (s *State) IncFlagged() {
	s.update(func(c *Counters) { c.Flagged++ })
}

func (s *State) IncAlreadyFlagged() {
	s.update(func(c *Counters) { c.AlreadyFlagged++ })
}

func (s *State) IncFailed() {
	postsFailed.Inc()
	s.update(func(c *Counters) { c.Failed++ })
}

func (s *State) IncAbandoned() {
	postsAbandoned.Inc()
	s.update(func(c *Counters) { c.Abandoned++ })
}

func (s *State) IncCountFailures() {
	countFailures.Inc()
	s.update(func(c *Counters) { c.CountFailures++ })
}

func (s *State) SetLastCheck(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = t
}

func (s *State) Snapshot(ctx context.Context) Snapshot {
	// outside the lock: the flag store may be remote
	size := s.CacheSize(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Cursor:      s.cursor,
		Initialized: s.initialized,
		LastCheck:   s.lastCheck,
		CacheSize:   size,
		Counters:    s.counters,
	}
}
