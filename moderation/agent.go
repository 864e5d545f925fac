package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sol-ai/modagent/ledger"
	"github.com/sol-ai/modagent/moderation/cursorstore"
	"github.com/sol-ai/modagent/moderation/flaglog"
	"github.com/sol-ai/modagent/moderation/flagstore"
	"github.com/sol-ai/modagent/moderation/toxicity"
)

var (
	ErrNotConfigured  = errors.New("agent is not configured")
	ErrStopInProgress = errors.New("agent is still stopping")
	ErrEmptyText      = errors.New("text is required")
	ErrNoFlagLog      = errors.New("flag log is not configured")
)

// Start/Stop status strings
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopping       = "stopping"
	StatusNotRunning     = "not_running"
)

type ScoringService interface {
	TextScorer
	Availability() []toxicity.BackendStatus
}

type AgentConfig struct {
	Client ledger.Client
	// nil leaves the agent unable to start, but scoring and status still work
	Signer ledger.Signer
	Scorer ScoringService
	// optional; defaults to an in-memory store
	Flags flagstore.FlagStore
	// optional; without one the agent re-baselines on every restart
	Cursors    cursorstore.CursorStore
	Poller     PollerConfig
	Dispatcher DispatcherConfig
	// a setup problem found by the caller (bad key, unreachable RPC). Reported by Health.
	ConfigErr error
	Logger    *slog.Logger
}

// The moderation agent: owns the poll loop and the operator controls around it.
type Agent struct {
	client    ledger.Client
	scorer    ScoringService
	state     *State
	poller    *Poller
	cursors   cursorstore.CursorStore
	recorder  flaglog.Recorder
	threshold int
	configErr error
	logger    *slog.Logger
	started   time.Time

	// outlives individual Start/Stop runs; cancelled by Shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc

	lk       sync.Mutex
	running  bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}

	persistLk    sync.Mutex
	persisted    uint64
	hasPersisted bool
}

func NewAgent(config AgentConfig) *Agent {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Poller.Logger == nil {
		config.Poller.Logger = logger
	}
	if config.Dispatcher.Logger == nil {
		config.Dispatcher.Logger = logger
	}
	threshold := config.Poller.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	configErr := config.ConfigErr
	if configErr == nil && config.Client == nil {
		configErr = errors.New("no ledger client configured")
	}
	if configErr == nil && config.Signer == nil {
		configErr = errors.New("no signing key configured")
	}
	if configErr == nil && config.Scorer == nil {
		configErr = errors.New("no scorer configured")
	}

	state := NewState(config.Flags, logger)
	a := &Agent{
		client:    config.Client,
		scorer:    config.Scorer,
		state:     state,
		cursors:   config.Cursors,
		recorder:  config.Dispatcher.Recorder,
		threshold: threshold,
		configErr: configErr,
		logger:    logger.With("system", "agent"),
		started:   time.Now(),
	}
	a.rootCtx, a.rootCancel = context.WithCancel(context.Background())

	if configErr == nil {
		dispatcher := NewDispatcher(config.Client, config.Signer, state, config.Dispatcher)
		a.poller = NewPoller(config.Client, config.Scorer, dispatcher, state, config.Poller)
	} else {
		a.logger.Error("agent configuration incomplete, moderation loop disabled", "err", configErr)
	}
	return a
}

func (a *Agent) State() *State {
	return a.state
}

func (a *Agent) Threshold() int {
	return a.threshold
}

func (a *Agent) ConfigErr() error {
	return a.configErr
}

// Starts the poll loop in the background. Starting a running agent is a
// no-op; starting one which is still draining from Stop fails with
// ErrStopInProgress.
func (a *Agent) Start() (string, error) {
	if a.configErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConfigured, a.configErr)
	}
	a.lk.Lock()
	defer a.lk.Unlock()
	if a.stopping {
		return StatusStopping, ErrStopInProgress
	}
	if a.running {
		return StatusAlreadyRunning, nil
	}
	if a.rootCtx.Err() != nil {
		return "", fmt.Errorf("agent has been shut down")
	}
	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.runLoop(a.rootCtx, a.stop, a.done)
	a.logger.Info("moderation loop started")
	return StatusStarted, nil
}

// Requests the poll loop to stop, without waiting for it. The post in
// progress (including its receipt wait) completes first.
func (a *Agent) Stop() string {
	a.lk.Lock()
	defer a.lk.Unlock()
	if !a.running {
		return StatusNotRunning
	}
	if a.stopping {
		return StatusStopping
	}
	a.stopping = true
	close(a.stop)
	a.logger.Info("moderation loop stop requested")
	return StatusStopping
}

func (a *Agent) IsRunning() bool {
	a.lk.Lock()
	defer a.lk.Unlock()
	return a.running
}

func (a *Agent) isStopping() bool {
	a.lk.Lock()
	defer a.lk.Unlock()
	return a.stopping
}

// Blocks until the current loop, if any, has exited.
func (a *Agent) waitStopped(ctx context.Context) error {
	a.lk.Lock()
	done := a.done
	running := a.running
	a.lk.Unlock()
	if !running || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stops the loop, waits for it (bounded by ctx), and persists the final cursor.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.Stop()
	err := a.waitStopped(ctx)
	if err != nil {
		a.logger.Error("moderation loop did not stop in time", "err", err)
	}
	if perr := a.PersistCursor(context.WithoutCancel(ctx)); perr != nil {
		a.logger.Error("failed to persist final cursor", "err", perr)
	}
	a.rootCancel()
	return err
}

func (a *Agent) runLoop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		a.lk.Lock()
		a.running = false
		a.stopping = false
		a.lk.Unlock()
		close(done)
		a.logger.Info("moderation loop stopped")
	}()

	for {
		if stopRequested(stop) || ctx.Err() != nil {
			return
		}
		if err := a.restoreCursor(ctx); err != nil {
			a.logger.Error("failed to read persisted cursor, will retry", "err", err)
		} else if err := a.poller.RunCycle(ctx, stop); err != nil {
			a.logger.Warn("poll cycle failed", "err", err)
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(a.poller.Interval()):
		}
	}
}

// Loads the persisted cursor, once, before the first cycle baselines.
func (a *Agent) restoreCursor(ctx context.Context) error {
	if a.cursors == nil || a.state.Initialized() {
		return nil
	}
	cursor, ok, err := a.cursors.ReadCursor(ctx)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Info("no persisted cursor found")
		return nil
	}
	if !a.state.InitCursor(cursor) {
		a.logger.Info("cursor set while reading persisted cursor, keeping it", "persisted", cursor)
		return nil
	}
	a.markPersisted(cursor)
	a.logger.Info("restored persisted cursor", "cursor", cursor)
	return nil
}

func (a *Agent) markPersisted(cursor uint64) {
	a.persistLk.Lock()
	defer a.persistLk.Unlock()
	a.persisted = cursor
	a.hasPersisted = true
}

// Writes the current cursor to the cursor store, if it changed since the last write.
func (a *Agent) PersistCursor(ctx context.Context) error {
	if a.cursors == nil || !a.state.Initialized() {
		return nil
	}
	cursor := a.state.Cursor()
	a.persistLk.Lock()
	defer a.persistLk.Unlock()
	if a.hasPersisted && a.persisted == cursor {
		return nil
	}
	if err := a.cursors.WriteCursor(ctx, cursor); err != nil {
		return err
	}
	a.persisted = cursor
	a.hasPersisted = true
	return nil
}

// this method runs in a loop, persisting the current cursor every 5 seconds
func (a *Agent) RunPersistCursor(ctx context.Context) error {
	if a.cursors == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("persisting final cursor value", "cursor", a.state.Cursor())
			if err := a.PersistCursor(context.WithoutCancel(ctx)); err != nil {
				a.logger.Error("failed to persist cursor", "err", err)
			}
			return nil
		case <-ticker.C:
			if err := a.PersistCursor(ctx); err != nil {
				a.logger.Error("failed to persist cursor", "err", err, "cursor", a.state.Cursor())
			}
		}
	}
}

type AgentStats struct {
	Snapshot
	Running        bool                     `json:"running"`
	Stopping       bool                     `json:"stopping"`
	Threshold      int                      `json:"threshold"`
	PendingRetries int                      `json:"pending_retries"`
	Backends       []toxicity.BackendStatus `json:"backends"`
	UptimeSeconds  int64                    `json:"uptime_seconds"`
}

func (a *Agent) Stats(ctx context.Context) AgentStats {
	st := AgentStats{
		Snapshot:      a.state.Snapshot(ctx),
		Running:       a.IsRunning(),
		Stopping:      a.isStopping(),
		Threshold:     a.threshold,
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
	}
	if a.poller != nil {
		st.PendingRetries = a.poller.PendingRetries()
	}
	if a.scorer != nil {
		st.Backends = a.scorer.Availability()
	}
	return st
}

type HealthReport struct {
	Status          string                   `json:"status"`
	Running         bool                     `json:"running"`
	ConfigError     string                   `json:"config_error,omitempty"`
	LedgerReachable bool                     `json:"ledger_reachable"`
	LedgerError     string                   `json:"ledger_error,omitempty"`
	TotalPosts      uint64                   `json:"total_posts"`
	Backends        []toxicity.BackendStatus `json:"backends,omitempty"`
}

// Status is "ok", "degraded" (ledger unreachable) or "unconfigured".
func (a *Agent) Health(ctx context.Context) HealthReport {
	h := HealthReport{
		Status:  "ok",
		Running: a.IsRunning(),
	}
	if a.scorer != nil {
		h.Backends = a.scorer.Availability()
	}
	if a.configErr != nil {
		h.Status = "unconfigured"
		h.ConfigError = a.configErr.Error()
	}
	if a.client == nil {
		return h
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	total, err := a.client.TotalCount(ctx)
	if err != nil {
		h.LedgerError = err.Error()
		if h.Status == "ok" {
			h.Status = "degraded"
		}
		return h
	}
	h.LedgerReachable = true
	h.TotalPosts = total
	return h
}

// Clears the flagged-post cache and returns how many entries it held.
func (a *Agent) ResetCache(ctx context.Context) (int, error) {
	n := a.state.CacheSize(ctx)
	if err := a.state.ResetCache(ctx); err != nil {
		return 0, fmt.Errorf("clearing flag cache: %w", err)
	}
	a.logger.Info("flag cache reset", "entries", n)
	return n, nil
}

// Operator cursor override. A nil value means the ledger's current post
// count, ie "skip everything posted so far". The new value is persisted
// immediately.
func (a *Agent) SetCursor(ctx context.Context, value *uint64) (uint64, error) {
	var cursor uint64
	if value != nil {
		cursor = *value
	} else {
		if a.client == nil {
			return 0, ErrNotConfigured
		}
		total, err := a.client.TotalCount(ctx)
		if err != nil {
			return 0, fmt.Errorf("reading post count: %w", err)
		}
		cursor = total
	}
	prev := a.state.Cursor()
	a.state.SetCursor(cursor)
	a.logger.Info("cursor set by operator", "cursor", cursor, "previous", prev)
	if err := a.PersistCursor(ctx); err != nil {
		a.logger.Error("failed to persist cursor", "err", err, "cursor", cursor)
	}
	return cursor, nil
}

type ScoreReport struct {
	Text       string  `json:"text"`
	Score      int     `json:"score"`
	Percentage float64 `json:"percentage"`
	IsToxic    bool    `json:"is_toxic"`
	Threshold  int     `json:"threshold"`
	Backend    string  `json:"backend"`
}

// Scores arbitrary text through the same chain the poll loop uses. Nothing is
// flagged.
func (a *Agent) ScoreText(ctx context.Context, text string) (*ScoreReport, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if a.scorer == nil {
		return nil, ErrNotConfigured
	}
	res := a.scorer.Score(ctx, text)
	dec := Decide(0, res, a.threshold)
	return &ScoreReport{
		Text:       previewText(text, 100),
		Score:      dec.Score,
		Percentage: float64(dec.Score) / 100,
		IsToxic:    dec.IsToxic,
		Threshold:  a.threshold,
		Backend:    dec.Backend,
	}, nil
}

func previewText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (a *Agent) RecentFlags(ctx context.Context, limit int) ([]flaglog.FlagRecord, error) {
	if a.recorder == nil {
		return nil, ErrNoFlagLog
	}
	return a.recorder.Recent(ctx, limit)
}
