package toxicity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/sol-ai/modagent/moderation/cachestore"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const scoreCacheName = "score"

type ScorerConfig struct {
	Keyword KeywordConfig
	// remote backends only see this many characters; zero means 2000
	MaxRemoteChars int
	// per remote call; zero means 30s
	Timeout time.Duration
	// local per-backend request rate, per second. Zero disables.
	RateLimit float64
	RateBurst int
	// consecutive hard failures before a backend is skipped; zero means 5
	BreakerFailures uint32
	// how long a tripped backend is skipped before a trial call; zero means 1m
	BreakerCooldown time.Duration
	// optional; caches remote results by text hash
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

type Result struct {
	// basis points, 0-10000
	Score   int    `json:"score"`
	Label   string `json:"label"`
	Backend string `json:"backend"`
}

type BackendStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Available bool   `json:"available"`
}

type guardedBackend struct {
	backend Backend
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Scores text with a chain of remote classifiers, falling back to keywords.
//
// Successive calls start at successive remote backends (round-robin), to
// spread quota across providers and models. Score never fails: when every
// remote is unavailable, rate limited, or erroring, the KeywordScorer
// answers.
type Scorer struct {
	remotes  []*guardedBackend
	keyword  *KeywordScorer
	next     atomic.Uint64
	maxChars int
	timeout  time.Duration
	cache    cachestore.CacheStore
	logger   *slog.Logger
}

func NewScorer(config ScorerConfig, backends ...Backend) *Scorer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "scorer")
	if config.MaxRemoteChars <= 0 {
		config.MaxRemoteChars = 2000
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = time.Minute
	}

	s := &Scorer{
		keyword:  NewKeywordScorer(config.Keyword),
		maxChars: config.MaxRemoteChars,
		timeout:  config.Timeout,
		cache:    config.Cache,
		logger:   logger,
	}
	for _, b := range backends {
		if b == nil {
			continue
		}
		g := &guardedBackend{backend: b}
		if config.RateLimit > 0 {
			burst := config.RateBurst
			if burst <= 0 {
				burst = 1
			}
			g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
		}
		failures := config.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        b.Name(),
			MaxRequests: 1,
			Timeout:     config.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("classifier circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
			},
			// quota refusals and caller cancellation say nothing about backend health
			IsSuccessful: func(err error) bool {
				return err == nil || IsRateLimited(err) || errors.Is(err, context.Canceled)
			},
		})
		s.remotes = append(s.remotes, g)
	}
	return s
}

// Names of the remote backends, in configured order, followed by the keyword fallback.
func (s *Scorer) Backends() []string {
	out := make([]string, 0, len(s.remotes)+1)
	for _, g := range s.remotes {
		out = append(out, g.backend.Name())
	}
	return append(out, s.keyword.Name())
}

func (s *Scorer) Availability() []BackendStatus {
	out := make([]BackendStatus, 0, len(s.remotes)+1)
	for _, g := range s.remotes {
		st := g.breaker.State()
		out = append(out, BackendStatus{
			Name:      g.backend.Name(),
			State:     st.String(),
			Available: st != gobreaker.StateOpen,
		})
	}
	return append(out, BackendStatus{Name: s.keyword.Name(), State: "closed", Available: true})
}

func (s *Scorer) Score(ctx context.Context, text string) Result {
	if len(s.remotes) > 0 {
		key := textHash(text)
		if res, ok := s.cacheGet(ctx, key); ok {
			scoreCacheHits.Inc()
			return *res
		}
		if res, ok := s.scoreRemote(ctx, text); ok {
			s.cacheSet(ctx, key, res)
			return *res
		}
	}
	score := s.keyword.Score(text)
	classifierCalls.WithLabelValues(s.keyword.Name(), "ok").Inc()
	return Result{Score: score, Label: "toxic", Backend: s.keyword.Name()}
}

func (s *Scorer) scoreRemote(ctx context.Context, text string) (*Result, bool) {
	remoteText := truncate(text, s.maxChars)
	n := uint64(len(s.remotes))
	start := s.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		if ctx.Err() != nil {
			return nil, false
		}
		g := s.remotes[(start+i)%n]
		name := g.backend.Name()
		c, err := s.tryRemote(ctx, g, remoteText)
		switch {
		case err == nil:
			classifierCalls.WithLabelValues(name, "ok").Inc()
			return &Result{Score: toBasisPoints(c.Score), Label: c.Label, Backend: name}, true
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			classifierCalls.WithLabelValues(name, "open").Inc()
			s.logger.Debug("classifier circuit open, skipping", "backend", name)
		case IsRateLimited(err):
			classifierCalls.WithLabelValues(name, "rate_limited").Inc()
			s.logger.Info("classifier rate limited, trying next", "backend", name, "err", err)
		default:
			classifierCalls.WithLabelValues(name, "error").Inc()
			s.logger.Warn("classifier failed, trying next", "backend", name, "err", err)
		}
	}
	return nil, false
}

func (s *Scorer) tryRemote(ctx context.Context, g *guardedBackend, text string) (*Classification, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, &RateLimitError{Backend: g.backend.Name()}
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return s.invoke(ctx, g.backend, text)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Classification), nil
}

func (s *Scorer) invoke(ctx context.Context, b Backend, text string) (c *Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("classifier panic", "backend", b.Name(), "err", r)
			c = nil
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	c, err = b.Classify(ctx, text)
	classifierDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if c == nil || math.IsNaN(c.Score) || c.Score < 0 || c.Score > 1 {
		return nil, fmt.Errorf("invalid classification from %s: %+v", b.Name(), c)
	}
	return c, nil
}

func (s *Scorer) cacheGet(ctx context.Context, key string) (*Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	var res Result
	ok, err := cachestore.GetJSON(ctx, s.cache, scoreCacheName, key, &res)
	if err != nil {
		s.logger.Warn("score cache read failed, dropping entry", "err", err)
		// an undecodable entry would otherwise be served until it expires
		if err := s.cache.Purge(ctx, scoreCacheName, key); err != nil {
			s.logger.Warn("score cache purge failed", "err", err)
		}
		return nil, false
	}
	return &res, ok
}

func (s *Scorer) cacheSet(ctx context.Context, key string, res *Result) {
	if s.cache == nil {
		return
	}
	if err := cachestore.SetJSON(ctx, s.cache, scoreCacheName, key, res); err != nil {
		s.logger.Warn("score cache write failed", "err", err)
	}
}

func textHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
