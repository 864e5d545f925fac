package toxicity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Output of a single classifier call. Score is the probability of the
// toxic label, in [0,1].
type Classification struct {
	Label string
	Score float64
}

// A remote (or local) toxicity classifier.
//
// Implementations should respect context cancellation; the Scorer applies
// per-call timeouts through the context.
type Backend interface {
	// short stable label, recorded on-chain alongside flags
	Name() string
	Classify(ctx context.Context, text string) (*Classification, error)
}

var ErrRateLimited = errors.New("rate limited")

type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Backend, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Backend)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

var rateLimitPatterns = []string{"429", "rate limit", "quota", "resource_exhausted", "exhausted"}

// Reports whether the error means the backend refused the call for quota
// reasons. Client libraries don't all expose typed errors for this, so the
// message is checked as well.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Basis points (0-10000) from a [0,1] probability.
func toBasisPoints(score float64) int {
	if score <= 0 {
		return 0
	}
	if score >= 1 {
		return 10000
	}
	return int(score * 10000)
}
