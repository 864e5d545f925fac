package moderation

import (
	"context"
	"testing"

	"github.com/sol-ai/modagent/moderation/flagstore"
	"github.com/sol-ai/modagent/moderation/toxicity"

	"github.com/stretchr/testify/assert"
)

func TestStateCursor(t *testing.T) {
	assert := assert.New(t)

	s := NewState(nil, nil)
	assert.False(s.Initialized())
	assert.Equal(uint64(0), s.Cursor())

	s.SetCursor(10)
	assert.True(s.Initialized())

	// cycle advance only moves forward
	assert.True(s.AdvanceCursor(10, 15))
	assert.Equal(uint64(15), s.Cursor())
	assert.False(s.AdvanceCursor(15, 15))
	assert.False(s.AdvanceCursor(15, 12))
	assert.Equal(uint64(15), s.Cursor())

	// operator override may move backwards, and wins over an in-flight cycle
	s.SetCursor(3)
	assert.False(s.AdvanceCursor(15, 20))
	assert.Equal(uint64(3), s.Cursor())
}

func TestStateInitCursor(t *testing.T) {
	assert := assert.New(t)

	s := NewState(nil, nil)
	assert.True(s.InitCursor(4))
	assert.Equal(uint64(4), s.Cursor())
	assert.False(s.InitCursor(9))
	assert.Equal(uint64(4), s.Cursor())

	s = NewState(nil, nil)
	s.SetCursor(7)
	assert.False(s.InitCursor(2))
	assert.Equal(uint64(7), s.Cursor())
}

func TestStateFlagCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewState(flagstore.NewMemFlagStore(), nil)
	assert.False(s.IsFlagged(ctx, 4))
	s.MarkFlagged(ctx, 4)
	s.MarkFlagged(ctx, 4)
	s.MarkFlagged(ctx, 9)
	assert.True(s.IsFlagged(ctx, 4))
	assert.Equal(2, s.CacheSize(ctx))

	assert.NoError(s.ResetCache(ctx))
	assert.False(s.IsFlagged(ctx, 4))
	assert.Equal(0, s.CacheSize(ctx))
}

func TestStateSnapshot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewState(nil, nil)
	s.SetCursor(7)
	s.IncProcessed()
	s.IncProcessed()
	s.IncFlagged()
	s.IncAlreadyFlagged()
	s.IncFailed()
	s.IncAbandoned()
	s.IncCountFailures()
	s.MarkFlagged(ctx, 1)

	snap := s.Snapshot(ctx)
	assert.Equal(uint64(7), snap.Cursor)
	assert.True(snap.Initialized)
	assert.Equal(1, snap.CacheSize)
	assert.Equal(Counters{
		Processed:      2,
		Flagged:        1,
		AlreadyFlagged: 1,
		Failed:         1,
		Abandoned:      1,
		CountFailures:  1,
	}, snap.Counters)
}

func TestDecide(t *testing.T) {
	assert := assert.New(t)

	dec := Decide(5, toxicity.Result{Score: 2500, Backend: "toxic-bert"}, DefaultThreshold)
	assert.True(dec.IsToxic)
	assert.Equal(uint64(5), dec.PostID)
	assert.Equal("toxic-bert", dec.Backend)

	dec = Decide(5, toxicity.Result{Score: 2499, Backend: "toxic-bert"}, DefaultThreshold)
	assert.False(dec.IsToxic)

	dec = Decide(5, toxicity.Result{Score: 0}, 1)
	assert.False(dec.IsToxic)
	dec = Decide(5, toxicity.Result{Score: 10000}, 10000)
	assert.True(dec.IsToxic)
}
