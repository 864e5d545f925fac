package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sol-ai/modagent/ledger"
	"github.com/sol-ai/modagent/moderation/flaglog"
)

var ErrNotToxic = errors.New("decision is not toxic")

// Dispatch stages, as reported in DispatchError
const (
	StageNonce    = "nonce"
	StageEstimate = "estimate"
	StageSign     = "sign"
	StageSubmit   = "submit"
	StageReceipt  = "receipt"
)

type DispatchError struct {
	PostID uint64
	Stage  string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("flagging post %d failed at %s: %v", e.PostID, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type DispatchResult struct {
	PostID  uint64
	Outcome string
	TxHash  string
}

type DispatcherConfig struct {
	// applied to the gas estimate, rounded up; zero means 1.2
	GasMultiplier float64
	// fixed gas price, in wei; nil means 10 gwei
	GasPrice *big.Int
	// ceiling on waiting for a receipt; zero means 2m
	ReceiptTimeout time.Duration
	// for nonce reads, gas estimates and submission
	StepRetry RetryPolicy
	Recorder  flaglog.Recorder
	Notifier  Notifier
	Logger    *slog.Logger
}

// Submits flag transactions, at most one per post.
type Dispatcher struct {
	client ledger.Client
	signer ledger.Signer
	state  *State

	gasMultiplier  float64
	gasPrice       *big.Int
	receiptTimeout time.Duration
	stepRetry      RetryPolicy
	recorder       flaglog.Recorder
	notifier       Notifier
	logger         *slog.Logger

	// serializes nonce read through submit, per signer
	signerMu sync.Mutex
}

func NewDispatcher(client ledger.Client, signer ledger.Signer, state *State, config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.GasMultiplier <= 0 {
		config.GasMultiplier = 1.2
	}
	if config.GasPrice == nil {
		config.GasPrice = big.NewInt(10_000_000_000)
	}
	if config.ReceiptTimeout <= 0 {
		config.ReceiptTimeout = 2 * time.Minute
	}
	if config.StepRetry.Attempts <= 0 {
		config.StepRetry = DefaultReadRetry
	}
	return &Dispatcher{
		client:         client,
		signer:         signer,
		state:          state,
		gasMultiplier:  config.GasMultiplier,
		gasPrice:       config.GasPrice,
		receiptTimeout: config.ReceiptTimeout,
		stepRetry:      config.StepRetry,
		recorder:       config.Recorder,
		notifier:       config.Notifier,
		logger:         logger.With("system", "dispatcher"),
	}
}

// Flags the decision's post on the ledger, unless it already is.
//
// An "already flagged" answer at any step counts as success, with outcome
// already_flagged. Other failures are returned as *DispatchError and leave
// the flag cache untouched. Once a transaction is submitted the receipt wait
// runs to completion (or ReceiptTimeout) even if ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision) (*DispatchResult, error) {
	if !dec.IsToxic {
		return nil, ErrNotToxic
	}
	logger := d.logger.With("postID", dec.PostID, "score", dec.Score, "backend", dec.Backend)

	if d.state.IsFlagged(ctx, dec.PostID) {
		logger.Debug("post already in flag cache, skipping")
		return d.alreadyFlagged(ctx, dec, "", false), nil
	}

	onChain, err := d.client.IsFlagged(ctx, dec.PostID)
	if err != nil {
		// not fatal: a duplicate flag reverts with "already flagged", which is handled below
		logger.Warn("could not read on-chain flag status", "err", err)
	} else if onChain {
		logger.Info("post already flagged on-chain")
		return d.alreadyFlagged(ctx, dec, "", true), nil
	}

	txHash, stage, err := d.submit(ctx, dec)
	if err != nil {
		if ledger.IsAlreadyFlagged(err) {
			logger.Info("ledger reports post already flagged", "stage", stage)
			return d.alreadyFlagged(ctx, dec, "", true), nil
		}
		return nil, d.fail(ctx, dec, stage, "", err)
	}
	logger = logger.With("txHash", txHash)
	logger.Info("flag transaction submitted")

	rctx := context.WithoutCancel(ctx)
	rcpt, err := d.client.WaitForReceipt(rctx, txHash, d.receiptTimeout)
	if err != nil {
		if ledger.IsAlreadyFlagged(err) {
			return d.alreadyFlagged(ctx, dec, txHash, true), nil
		}
		return nil, d.fail(ctx, dec, StageReceipt, txHash, err)
	}
	if !rcpt.Success {
		revert := fmt.Errorf("transaction reverted: %s", rcpt.ErrorMessage)
		if ledger.IsAlreadyFlagged(revert) {
			logger.Info("flag transaction reverted, post already flagged")
			return d.alreadyFlagged(ctx, dec, txHash, true), nil
		}
		return nil, d.fail(ctx, dec, StageReceipt, txHash, revert)
	}

	d.state.MarkFlagged(ctx, dec.PostID)
	d.state.IncFlagged()
	dispatchOutcomes.WithLabelValues(flaglog.OutcomeFlagged).Inc()
	logger.Info("post flagged", "block", rcpt.BlockRef, "gasUsed", rcpt.GasUsed)
	d.report(ctx, &flaglog.FlagRecord{
		PostID:  dec.PostID,
		Score:   dec.Score,
		Backend: dec.Backend,
		TxHash:  txHash,
		Outcome: flaglog.OutcomeFlagged,
	})
	return &DispatchResult{PostID: dec.PostID, Outcome: flaglog.OutcomeFlagged, TxHash: txHash}, nil
}

// Nonce read through submission, under the signer lock. Returns the failing
// stage along with any error.
func (d *Dispatcher) submit(ctx context.Context, dec Decision) (string, string, error) {
	d.signerMu.Lock()
	defer d.signerMu.Unlock()

	from := d.signer.Address()
	action := ledger.FlagAction{PostID: dec.PostID, Score: dec.Score, Backend: dec.Backend}

	nonce, err := retryValue(ctx, d.stepRetry, d.logger, "nonce", func() (uint64, error) {
		return d.client.CurrentNonce(ctx, from)
	})
	if err != nil {
		return "", StageNonce, err
	}

	estimate, err := retryValue(ctx, d.stepRetry, d.logger, "estimate", func() (uint64, error) {
		return d.client.EstimateCost(ctx, from, action)
	})
	if err != nil {
		return "", StageEstimate, err
	}

	stx, err := d.signer.SignFlag(ctx, &ledger.TxRequest{
		Action:   action,
		From:     from,
		Nonce:    nonce,
		GasLimit: gasLimit(estimate, d.gasMultiplier),
		GasPrice: d.gasPrice,
	})
	if err != nil {
		return "", StageSign, err
	}

	// re-sending identical signed bytes is idempotent: the node either already
	// has the transaction or has mined it
	attempt := 0
	txHash, err := retryValue(ctx, d.stepRetry, d.logger, "submit", func() (string, error) {
		attempt++
		h, err := d.client.Submit(ctx, stx)
		if err == nil {
			return h, nil
		}
		if ledger.IsKnownTransaction(err) {
			return stx.Hash, nil
		}
		if attempt > 1 && isNonceTooLow(err) {
			// an earlier attempt landed before its response got lost
			return stx.Hash, nil
		}
		return "", err
	})
	if err != nil {
		return "", StageSubmit, err
	}
	return txHash, "", nil
}

func gasLimit(estimate uint64, multiplier float64) uint64 {
	return uint64(math.Ceil(float64(estimate) * multiplier))
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func (d *Dispatcher) alreadyFlagged(ctx context.Context, dec Decision, txHash string, record bool) *DispatchResult {
	d.state.MarkFlagged(ctx, dec.PostID)
	d.state.IncAlreadyFlagged()
	dispatchOutcomes.WithLabelValues(flaglog.OutcomeAlreadyFlagged).Inc()
	if record {
		d.report(ctx, &flaglog.FlagRecord{
			PostID:  dec.PostID,
			Score:   dec.Score,
			Backend: dec.Backend,
			TxHash:  txHash,
			Outcome: flaglog.OutcomeAlreadyFlagged,
		})
	}
	return &DispatchResult{PostID: dec.PostID, Outcome: flaglog.OutcomeAlreadyFlagged, TxHash: txHash}
}

func (d *Dispatcher) fail(ctx context.Context, dec Decision, stage, txHash string, err error) error {
	dispatchOutcomes.WithLabelValues(flaglog.OutcomeFailed).Inc()
	dispatchFailures.WithLabelValues(stage).Inc()
	d.logger.Error("flag dispatch failed", "postID", dec.PostID, "stage", stage, "txHash", txHash, "err", err)
	d.report(ctx, &flaglog.FlagRecord{
		PostID:  dec.PostID,
		Score:   dec.Score,
		Backend: dec.Backend,
		TxHash:  txHash,
		Outcome: flaglog.OutcomeFailed,
		Error:   err.Error(),
	})
	return &DispatchError{PostID: dec.PostID, Stage: stage, Err: err}
}

// Audit log and notification failures never change the dispatch outcome.
func (d *Dispatcher) report(ctx context.Context, rec *flaglog.FlagRecord) {
	ctx = context.WithoutCancel(ctx)
	if d.recorder != nil {
		if err := d.recorder.Record(ctx, rec); err != nil {
			d.logger.Error("failed to record flag outcome", "postID", rec.PostID, "err", err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.SendFlag(ctx, rec); err != nil {
			d.logger.Error("failed to send flag notification", "postID", rec.PostID, "err", err)
		}
	}
}
