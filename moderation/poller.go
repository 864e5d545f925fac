package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sol-ai/modagent/ledger"
	"github.com/sol-ai/modagent/moderation/toxicity"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Anything that turns text into a toxicity score; *toxicity.Scorer in production.
type TextScorer interface {
	Score(ctx context.Context, text string) toxicity.Result
}

type PollerConfig struct {
	// zero means 15s
	Interval time.Duration
	// basis points; zero means DefaultThreshold
	Threshold int
	// for post count and post reads
	ReadRetry RetryPolicy
	// how many cycles a failed post is retried for. Zero disables the retry queue.
	RetryAttempts int
	// zero means 1024
	RetryQueueSize int
	Logger         *slog.Logger
}

// Runs poll cycles: reads new posts since the cursor, scores them, and
// dispatches flags for toxic ones.
type Poller struct {
	client     ledger.Client
	scorer     TextScorer
	dispatcher *Dispatcher
	state      *State
	retries    *retryQueue

	interval  time.Duration
	threshold int
	readRetry RetryPolicy
	logger    *slog.Logger
}

func NewPoller(client ledger.Client, scorer TextScorer, dispatcher *Dispatcher, state *State, config PollerConfig) *Poller {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.ReadRetry.Attempts <= 0 {
		config.ReadRetry = DefaultReadRetry
	}
	if config.RetryQueueSize <= 0 {
		config.RetryQueueSize = 1024
	}
	return &Poller{
		client:     client,
		scorer:     scorer,
		dispatcher: dispatcher,
		state:      state,
		retries:    newRetryQueue(config.RetryQueueSize, config.RetryAttempts),
		interval:   config.Interval,
		threshold:  config.Threshold,
		readRetry:  config.ReadRetry,
		logger:     logger.With("system", "poller"),
	}
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

func (p *Poller) Threshold() int {
	return p.threshold
}

func (p *Poller) PendingRetries() int {
	return p.retries.Len()
}

func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Sets the cursor to the ledger's current post count, if nothing else has set
// it yet. Posts created before the agent first started are not moderated.
func (p *Poller) initCursor(ctx context.Context) error {
	if p.state.Initialized() {
		return nil
	}
	total, err := retryValue(ctx, p.readRetry, p.logger, "totalCount", func() (uint64, error) {
		return p.client.TotalCount(ctx)
	})
	if err != nil {
		return fmt.Errorf("reading post count for baseline: %w", err)
	}
	// an operator may have set the cursor while we were reading
	if p.state.InitCursor(total) {
		p.logger.Info("initialized cursor at current post count", "cursor", total)
	}
	return nil
}

// One poll cycle. Errors reading the post count are returned (after being
// counted); per-post failures are not, they go to the retry queue.
//
// The stop channel is checked between posts. A post already in progress,
// including any receipt wait, runs to completion.
func (p *Poller) RunCycle(ctx context.Context, stop <-chan struct{}) error {
	ctx, span := tracer.Start(ctx, "PollCycle")
	defer span.End()
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	p.state.SetLastCheck(start)

	if err := p.initCursor(ctx); err != nil {
		p.state.IncCountFailures()
		p.logger.Error("failed to initialize cursor", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cursor baseline failed")
		return err
	}

	p.processRetries(ctx, stop)
	if stopRequested(stop) {
		return nil
	}

	from := p.state.Cursor()
	total, err := retryValue(ctx, p.readRetry, p.logger, "totalCount", func() (uint64, error) {
		return p.client.TotalCount(ctx)
	})
	if err != nil {
		p.state.IncCountFailures()
		p.logger.Error("failed to read post count", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "post count failed")
		return fmt.Errorf("reading post count: %w", err)
	}
	span.SetAttributes(attribute.Int64("cursor", int64(from)), attribute.Int64("total", int64(total)))
	if total <= from {
		return nil
	}
	p.logger.Info("found new posts", "count", total-from, "from", from+1, "to", total)

	last := from
	for id := from + 1; id <= total; id++ {
		if stopRequested(stop) {
			p.logger.Info("stop requested, ending cycle early", "nextPostID", id)
			break
		}
		if err := p.processPost(ctx, id); err != nil {
			p.handleFailure(id, err)
		}
		last = id
	}

	if last > from && !p.state.AdvanceCursor(from, last) {
		p.logger.Info("cursor changed during cycle, keeping operator value", "cycleStart", from, "cycleEnd", last)
	}
	return nil
}

func (p *Poller) processRetries(ctx context.Context, stop <-chan struct{}) {
	for _, id := range p.retries.Due() {
		if stopRequested(stop) {
			return
		}
		if err := p.processPost(ctx, id); err != nil {
			p.handleFailure(id, err)
			continue
		}
		p.logger.Info("retried post succeeded", "postID", id)
		p.retries.Remove(id)
	}
}

func (p *Poller) handleFailure(id uint64, err error) {
	p.state.IncFailed()
	p.logger.Error("failed to process post", "postID", id, "err", err)
	queued, attempts := p.retries.Fail(id)
	if !queued {
		p.state.IncAbandoned()
		p.logger.Error("giving up on post", "postID", id, "attempts", attempts)
	}
	retryQueueLen.Set(float64(p.retries.Len()))
}

// Reads, scores, and (when toxic) flags a single post.
func (p *Poller) processPost(ctx context.Context, id uint64) (err error) {
	// similar to an HTTP server, we want to recover any panics from post processing
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("post processing exception", "err", r, "postID", id)
			err = fmt.Errorf("panic processing post %d: %v", id, r)
		}
	}()

	ctx, span := tracer.Start(ctx, "ProcessPost")
	defer span.End()
	span.SetAttributes(attribute.Int64("postID", int64(id)))

	post, err := retryValue(ctx, p.readRetry, p.logger, "getPost", func() (*ledger.Post, error) {
		return p.client.GetPost(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("reading post: %w", err)
	}

	res := p.scorer.Score(ctx, post.Content)
	dec := Decide(id, res, p.threshold)
	p.state.IncProcessed()
	p.logger.Info("post scored", "postID", id, "author", post.Author, "score", dec.Score, "backend", dec.Backend, "toxic", dec.IsToxic)
	if !dec.IsToxic {
		return nil
	}

	if post.Flagged {
		// flagged by someone else between creation and now
		p.state.MarkFlagged(ctx, id)
		p.state.IncAlreadyFlagged()
		p.logger.Info("toxic post already flagged on-chain", "postID", id)
		return nil
	}

	if _, err := p.dispatcher.Dispatch(ctx, dec); err != nil {
		return err
	}
	return nil
}

type retryEntry struct {
	attempts int
}

// Failed post ids waiting for another try on a later cycle.
type retryQueue struct {
	mu          sync.Mutex
	entries     map[uint64]*retryEntry
	capacity    int
	maxAttempts int
}

func newRetryQueue(capacity, maxAttempts int) *retryQueue {
	return &retryQueue{
		entries:     make(map[uint64]*retryEntry),
		capacity:    capacity,
		maxAttempts: maxAttempts,
	}
}

// Records a failure. Returns false if the post was dropped (attempts used
// up, queue full, or retries disabled), along with the retries used so far.
func (q *retryQueue) Fail(id uint64) (bool, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		if q.maxAttempts <= 0 || len(q.entries) >= q.capacity {
			return false, 0
		}
		q.entries[id] = &retryEntry{}
		return true, 0
	}
	e.attempts++
	if e.attempts >= q.maxAttempts {
		delete(q.entries, id)
		return false, e.attempts
	}
	return true, e.attempts
}

func (q *retryQueue) Remove(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	retryQueueLen.Set(float64(len(q.entries)))
}

// All queued ids, ascending.
func (q *retryQueue) Due() []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uint64, 0, len(q.entries))
	for id := range q.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (q *retryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
