package toxicity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sol-ai/modagent/moderation/cachestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name  string
	score float64
	err   error
	panic bool

	mu    sync.Mutex
	calls int
	texts []string
}

func (f *fakeBackend) Name() string {
	return f.name
}

func (f *fakeBackend) Classify(ctx context.Context, text string) (*Classification, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Classification{Label: "toxic", Score: f.score}, nil
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScorerKeywordOnly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewScorer(ScorerConfig{Keyword: DefaultKeywordConfig()})
	res := s.Score(ctx, "you idiot")
	assert.Equal(1800, res.Score)
	assert.Equal(KeywordBackendName, res.Backend)
	assert.Equal([]string{KeywordBackendName}, s.Backends())
}

func TestScorerFallbackChain(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	limited := &fakeBackend{name: "limited", err: &RateLimitError{Backend: "limited"}}
	good := &fakeBackend{name: "good", score: 0.8123}
	s := NewScorer(ScorerConfig{Keyword: DefaultKeywordConfig()}, limited, good)

	res := s.Score(ctx, "whatever")
	assert.Equal(8123, res.Score)
	assert.Equal("good", res.Backend)
	assert.Equal(1, limited.Calls())

	broken := &fakeBackend{name: "broken", err: errors.New("connection refused")}
	panicky := &fakeBackend{name: "panicky", panic: true}
	s = NewScorer(ScorerConfig{Keyword: DefaultKeywordConfig()}, broken, panicky)
	res = s.Score(ctx, "you are stupid")
	assert.Equal(KeywordBackendName, res.Backend)
	assert.Equal(1800, res.Score)
	assert.Equal(1, broken.Calls())
	assert.Equal(1, panicky.Calls())
}

func TestScorerRoundRobin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	a := &fakeBackend{name: "a", score: 0.1}
	b := &fakeBackend{name: "b", score: 0.2}
	s := NewScorer(ScorerConfig{}, a, b)

	assert.Equal("a", s.Score(ctx, "one").Backend)
	assert.Equal("b", s.Score(ctx, "two").Backend)
	assert.Equal("a", s.Score(ctx, "three").Backend)
	assert.Equal(2, a.Calls())
	assert.Equal(1, b.Calls())
}

func TestScorerTruncatesRemoteInput(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	remote := &fakeBackend{name: "remote", err: errors.New("down")}
	s := NewScorer(ScorerConfig{Keyword: DefaultKeywordConfig()}, remote)

	// the keyword only appears past the remote truncation point
	text := strings.Repeat("a", 2500) + " stupid"
	res := s.Score(ctx, text)
	assert.Len(remote.texts[0], 2000)
	assert.Equal(KeywordBackendName, res.Backend)
	assert.Equal(1800, res.Score)
}

func TestScorerCircuitBreaker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	flaky := &fakeBackend{name: "flaky", err: errors.New("502 bad gateway")}
	s := NewScorer(ScorerConfig{BreakerFailures: 2, BreakerCooldown: time.Hour}, flaky)

	s.Score(ctx, "one")
	s.Score(ctx, "two")
	assert.Equal(2, flaky.Calls())
	avail := s.Availability()
	assert.Len(avail, 2)
	assert.Equal("flaky", avail[0].Name)
	assert.False(avail[0].Available)
	assert.Equal("open", avail[0].State)
	assert.True(avail[1].Available)

	// open breaker skips the backend entirely
	res := s.Score(ctx, "three")
	assert.Equal(2, flaky.Calls())
	assert.Equal(KeywordBackendName, res.Backend)

	// quota refusals never trip the breaker
	limited := &fakeBackend{name: "limited", err: errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")}
	s = NewScorer(ScorerConfig{BreakerFailures: 2, BreakerCooldown: time.Hour}, limited)
	for i := 0; i < 5; i++ {
		s.Score(ctx, "x")
	}
	assert.Equal(5, limited.Calls())
	assert.True(s.Availability()[0].Available)
}

func TestScorerLocalRateLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	remote := &fakeBackend{name: "remote", score: 0.9}
	s := NewScorer(ScorerConfig{RateLimit: 0.001, RateBurst: 1}, remote)

	assert.Equal("remote", s.Score(ctx, "one").Backend)
	assert.Equal(KeywordBackendName, s.Score(ctx, "two").Backend)
	assert.Equal(1, remote.Calls())
}

func TestScorerCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	remote := &fakeBackend{name: "remote", score: 0.42}
	cache := cachestore.NewMemCacheStore(100, time.Minute)
	s := NewScorer(ScorerConfig{Cache: cache}, remote)

	first := s.Score(ctx, "buy cheap tokens now")
	second := s.Score(ctx, "buy cheap tokens now")
	assert.Equal(first, second)
	assert.Equal(4200, second.Score)
	assert.Equal(1, remote.Calls())

	// keyword results are not cached
	remote.err = errors.New("down")
	s.Score(ctx, "different text")
	remote.err = nil
	res := s.Score(ctx, "different text")
	assert.Equal("remote", res.Backend)
}

func TestScorerDropsCorruptCacheEntry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	remote := &fakeBackend{name: "remote", err: errors.New("down")}
	cache := cachestore.NewMemCacheStore(100, time.Minute)
	s := NewScorer(ScorerConfig{Cache: cache, Keyword: DefaultKeywordConfig()}, remote)

	text := "you are a stupid idiot"
	require.NoError(cache.Set(ctx, scoreCacheName, textHash(text), "{not json"))

	res := s.Score(ctx, text)
	assert.Equal(KeywordBackendName, res.Backend)
	val, err := cache.Get(ctx, scoreCacheName, textHash(text))
	require.NoError(err)
	assert.Empty(val)
}

func TestScorerInvalidClassification(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	weird := &fakeBackend{name: "weird", score: 1.7}
	s := NewScorer(ScorerConfig{}, weird)
	res := s.Score(ctx, "hello")
	assert.Equal(KeywordBackendName, res.Backend)
	assert.GreaterOrEqual(res.Score, 0)
	assert.LessOrEqual(res.Score, 10000)
}

func TestIsRateLimited(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsRateLimited(&RateLimitError{Backend: "x", RetryAfter: time.Second}))
	assert.True(IsRateLimited(ErrRateLimited))
	assert.True(IsRateLimited(errors.New("Error 429: Resource has been exhausted (e.g. check quota).")))
	assert.True(IsRateLimited(errors.New("RESOURCE_EXHAUSTED")))
	assert.False(IsRateLimited(errors.New("500 internal error")))
	assert.False(IsRateLimited(nil))
}
