// Interfaces and types for the ledger which hosts the social feed and
// moderation contracts.
//
// The moderation pipeline only talks to the ledger through the Client and
// Signer interfaces in this package. A concrete EVM implementation lives in the
// evm sub-package; MemLedger is an in-process implementation for tests and dry
// runs.
package ledger

import (
	"context"
	"math/big"
	"time"
)

// A feed item as recorded on the ledger. The agent never mutates posts.
type Post struct {
	ID      uint64
	Author  string
	Content string
	// flag status as reported by the post read itself, if the ledger exposes it
	Flagged   bool
	CreatedAt time.Time
}

// The on-chain flag call: (postId, score, backendLabel)
type FlagAction struct {
	PostID uint64
	// toxicity score in basis points
	Score   int
	Backend string
}

type TxRequest struct {
	Action   FlagAction
	From     string
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
}

type SignedTx struct {
	Hash  string
	Nonce uint64
	Raw   []byte
}

type Receipt struct {
	TxHash       string
	Success      bool
	BlockRef     string
	GasUsed      uint64
	ErrorMessage string
}

// Read and write RPC access to the feed and moderation contracts.
//
// Implementations should respect context cancellation on every method;
// WaitForReceipt additionally takes an explicit ceiling, after which it returns
// ErrReceiptTimeout.
type Client interface {
	TotalCount(ctx context.Context) (uint64, error)
	GetPost(ctx context.Context, id uint64) (*Post, error)
	IsFlagged(ctx context.Context, id uint64) (bool, error)
	EstimateCost(ctx context.Context, from string, action FlagAction) (uint64, error)
	CurrentNonce(ctx context.Context, account string) (uint64, error)
	Submit(ctx context.Context, tx *SignedTx) (string, error)
	WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error)
}

// Holds the agent's key and produces signed flag transactions.
type Signer interface {
	Address() string
	SignFlag(ctx context.Context, req *TxRequest) (*SignedTx, error)
}
