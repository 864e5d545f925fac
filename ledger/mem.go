package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// In-process ledger holding posts and flags in memory.
//
// Enforces at most one flag per post: a flag transaction for an already-flagged
// post reverts with an "already flagged" message, like the moderation contract
// does. Failure injection fields make it useful for exercising retry paths in
// tests.
type MemLedger struct {
	mu       sync.Mutex
	posts    []Post
	flags    map[uint64]FlagAction
	nonces   map[string]uint64
	pending  map[string]*FlagAction
	receipts map[string]*Receipt
	// every raw transaction accepted by Submit, in order
	submitted []SignedTx

	// number of upcoming TotalCount calls which will fail
	CountFailures int
	// per-post read errors, returned on every GetPost call for that id
	PostErrors map[uint64]error
	// returned by IsFlagged when set
	IsFlaggedErr error
	// returned by (and cleared after) the next Submit call
	SubmitErr error
	// the next Submit call accepts the transaction but reports this error, as
	// if the response got lost
	LoseSubmitResponse error
	// returned by EstimateCost when set
	EstimateErr error
	// when true, receipts are never produced
	Stall bool
	// gas units returned by EstimateCost
	GasEstimate uint64
}

var _ Client = (*MemLedger)(nil)

func NewMemLedger() *MemLedger {
	return &MemLedger{
		flags:       make(map[uint64]FlagAction),
		nonces:      make(map[string]uint64),
		pending:     make(map[string]*FlagAction),
		receipts:    make(map[string]*Receipt),
		PostErrors:  make(map[uint64]error),
		GasEstimate: 50_000,
	}
}

// Appends a post and returns its id. Ids start at 1.
func (l *MemLedger) AddPost(author, content string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uint64(len(l.posts) + 1)
	l.posts = append(l.posts, Post{
		ID:        id,
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return id
}

// Records a flag directly, as if some other moderator had flagged the post.
func (l *MemLedger) ForceFlag(id uint64, backend string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags[id] = FlagAction{PostID: id, Backend: backend}
}

func (l *MemLedger) Submitted() []SignedTx {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SignedTx, len(l.submitted))
	copy(out, l.submitted)
	return out
}

func (l *MemLedger) Flag(id uint64) (FlagAction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fa, ok := l.flags[id]
	return fa, ok
}

func (l *MemLedger) TotalCount(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CountFailures > 0 {
		l.CountFailures--
		return 0, fmt.Errorf("rpc unavailable")
	}
	return uint64(len(l.posts)), nil
}

func (l *MemLedger) GetPost(ctx context.Context, id uint64) (*Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.PostErrors[id]; ok {
		return nil, err
	}
	if id == 0 || id > uint64(len(l.posts)) {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, id)
	}
	p := l.posts[id-1]
	_, p.Flagged = l.flags[id]
	return &p, nil
}

func (l *MemLedger) IsFlagged(ctx context.Context, id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.IsFlaggedErr != nil {
		return false, l.IsFlaggedErr
	}
	_, ok := l.flags[id]
	return ok, nil
}

func (l *MemLedger) EstimateCost(ctx context.Context, from string, action FlagAction) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.EstimateErr != nil {
		return 0, l.EstimateErr
	}
	if _, ok := l.flags[action.PostID]; ok {
		return 0, fmt.Errorf("execution reverted: %w", ErrAlreadyFlagged)
	}
	return l.GasEstimate, nil
}

func (l *MemLedger) CurrentNonce(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[account], nil
}

func (l *MemLedger) Submit(ctx context.Context, tx *SignedTx) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SubmitErr != nil {
		err := l.SubmitErr
		l.SubmitErr = nil
		return "", err
	}
	if _, ok := l.pending[tx.Hash]; ok {
		return "", fmt.Errorf("already known")
	}
	if _, ok := l.receipts[tx.Hash]; ok {
		return "", fmt.Errorf("already known")
	}
	var req TxRequest
	if err := json.Unmarshal(tx.Raw, &req); err != nil {
		return "", fmt.Errorf("invalid argument: decoding raw transaction: %w", err)
	}
	if req.Nonce != l.nonces[req.From] {
		return "", fmt.Errorf("nonce too low: have %d, want %d", req.Nonce, l.nonces[req.From])
	}
	l.nonces[req.From]++
	l.submitted = append(l.submitted, *tx)
	l.pending[tx.Hash] = &req.Action
	if l.LoseSubmitResponse != nil {
		err := l.LoseSubmitResponse
		l.LoseSubmitResponse = nil
		return "", err
	}
	return tx.Hash, nil
}

// Mines the pending transaction (if any), then returns its receipt.
func (l *MemLedger) WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error) {
	l.mu.Lock()
	if l.Stall {
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txID)
		}
	}
	defer l.mu.Unlock()

	if rcpt, ok := l.receipts[txID]; ok {
		return rcpt, nil
	}
	action, ok := l.pending[txID]
	if !ok {
		return nil, fmt.Errorf("unknown transaction: %s", txID)
	}
	delete(l.pending, txID)
	rcpt := &Receipt{
		TxHash:   txID,
		BlockRef: fmt.Sprintf("%d", len(l.receipts)+1),
		GasUsed:  l.GasEstimate,
		Success:  true,
	}
	if _, exists := l.flags[action.PostID]; exists {
		rcpt.Success = false
		rcpt.ErrorMessage = "execution reverted: Post already flagged"
	} else if action.PostID == 0 || action.PostID > uint64(len(l.posts)) {
		rcpt.Success = false
		rcpt.ErrorMessage = "execution reverted: Post does not exist"
	} else {
		l.flags[action.PostID] = *action
	}
	l.receipts[txID] = rcpt
	return rcpt, nil
}

// Signs transactions by serializing the request as JSON; only meaningful
// together with MemLedger.
type MemSigner struct {
	Account string
}

var _ Signer = (*MemSigner)(nil)

func NewMemSigner(account string) *MemSigner {
	return &MemSigner{Account: account}
}

func (s *MemSigner) Address() string {
	return s.Account
}

func (s *MemSigner) SignFlag(ctx context.Context, req *TxRequest) (*SignedTx, error) {
	if req.From != s.Account {
		return nil, fmt.Errorf("signer %s cannot sign for %s", s.Account, req.From)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return &SignedTx{
		Hash:  "0x" + hex.EncodeToString(sum[:]),
		Nonce: req.Nonce,
		Raw:   raw,
	}, nil
}
