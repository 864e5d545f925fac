package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/sol-ai/modagent/ledger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// The subset of *ethclient.Client used here
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

type Config struct {
	RPCURL             string
	SocialPostsAddress string
	ModeratorAddress   string
	// how often to poll for a receipt while waiting
	ReceiptPollInterval time.Duration
	// ceiling on each individual RPC call; zero means 15s
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Implements ledger.Client over JSON-RPC against the SocialPosts and Moderator contracts.
type Client struct {
	rpc          backend
	social       common.Address
	moderator    common.Address
	pollInterval time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
}

var _ ledger.Client = (*Client)(nil)

func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("ledger RPC URL is required")
	}
	rpc, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing ledger RPC: %w", err)
	}
	return newClient(rpc, config)
}

func newClient(rpc backend, config Config) (*Client, error) {
	if !common.IsHexAddress(config.SocialPostsAddress) {
		return nil, fmt.Errorf("invalid social posts contract address: %q", config.SocialPostsAddress)
	}
	if !common.IsHexAddress(config.ModeratorAddress) {
		return nil, fmt.Errorf("invalid moderator contract address: %q", config.ModeratorAddress)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := config.ReceiptPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	callTimeout := config.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Client{
		rpc:          rpc,
		social:       common.HexToAddress(config.SocialPostsAddress),
		moderator:    common.HexToAddress(config.ModeratorAddress),
		pollInterval: interval,
		callTimeout:  callTimeout,
		logger:       logger,
	}, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.rpc.ChainID(ctx)
}

func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s call: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return vals, nil
}

func (c *Client) TotalCount(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, c.social, socialPostsABI, "totalPosts")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("unexpected totalPosts result: %v", vals[0])
	}
	return n.Uint64(), nil
}

func (c *Client) GetPost(ctx context.Context, id uint64) (*ledger.Post, error) {
	vals, err := c.call(ctx, c.social, socialPostsABI, "getPost", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	pt := *abi.ConvertType(vals[0], new(postTuple)).(*postTuple)
	// missing posts decode as the zero tuple on contracts which don't revert
	if pt.Id == nil || pt.Id.Sign() == 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrPostNotFound, id)
	}
	post := &ledger.Post{
		ID:      pt.Id.Uint64(),
		Author:  pt.Author.Hex(),
		Content: pt.Content,
		Flagged: pt.Flagged,
	}
	if pt.Timestamp != nil && pt.Timestamp.IsInt64() {
		post.CreatedAt = time.Unix(pt.Timestamp.Int64(), 0).UTC()
	}
	return post, nil
}

// Asks the moderator contract first; deployments without isFlagged fall back to
// the flag field of the post itself.
func (c *Client) IsFlagged(ctx context.Context, id uint64) (bool, error) {
	vals, err := c.call(ctx, c.moderator, moderatorABI, "isFlagged", new(big.Int).SetUint64(id))
	if err == nil {
		if b, ok := vals[0].(bool); ok {
			return b, nil
		}
	}
	c.logger.Debug("isFlagged unavailable, reading post instead", "postID", id, "err", err)
	post, err := c.GetPost(ctx, id)
	if err != nil {
		return false, err
	}
	return post.Flagged, nil
}

func (c *Client) EstimateCost(ctx context.Context, from string, action ledger.FlagAction) (uint64, error) {
	if !common.IsHexAddress(from) {
		return 0, fmt.Errorf("invalid sender address: %q", from)
	}
	data, err := packFlagPost(action.PostID, action.Score, action.Backend)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From: common.HexToAddress(from),
		To:   &c.moderator,
		Data: data,
	})
	if ledger.IsAlreadyFlagged(err) {
		return 0, fmt.Errorf("estimating flagPost gas: %w (%v)", ledger.ErrAlreadyFlagged, err)
	}
	if err != nil {
		return 0, fmt.Errorf("estimating flagPost gas: %w", err)
	}
	return gas, nil
}

func (c *Client) CurrentNonce(ctx context.Context, account string) (uint64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("invalid account address: %q", account)
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.rpc.PendingNonceAt(ctx, common.HexToAddress(account))
}

func (c *Client) Submit(ctx context.Context, stx *ledger.SignedTx) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(stx.Raw); err != nil {
		return "", fmt.Errorf("invalid argument: decoding signed transaction: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*ledger.Receipt, error) {
	hash := common.HexToHash(txID)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		rcpt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return c.convertReceipt(ctx, rcpt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("receipt lookup failed, will retry", "txHash", txID, "err", err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ledger.ErrReceiptTimeout, txID, timeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) convertReceipt(ctx context.Context, rcpt *types.Receipt) *ledger.Receipt {
	out := &ledger.Receipt{
		TxHash:  rcpt.TxHash.Hex(),
		Success: rcpt.Status == types.ReceiptStatusSuccessful,
		GasUsed: rcpt.GasUsed,
	}
	if rcpt.BlockNumber != nil {
		out.BlockRef = rcpt.BlockNumber.String()
	}
	if !out.Success {
		out.ErrorMessage = c.revertReason(ctx, rcpt)
	}
	return out
}

// Receipts don't carry the revert reason; replaying the call at the receipt's
// block recovers it.
func (c *Client) revertReason(ctx context.Context, rcpt *types.Receipt) string {
	tx, _, err := c.rpc.TransactionByHash(ctx, rcpt.TxHash)
	if err != nil {
		return "execution reverted"
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "execution reverted"
	}
	_, err = c.rpc.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   tx.To(),
		Gas:  tx.Gas(),
		Data: tx.Data(),
	}, rcpt.BlockNumber)
	if err != nil {
		return err.Error()
	}
	return "execution reverted"
}
