package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/sol-ai/modagent/ledger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known development key (hardhat account #0)
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

var (
	socialAddr    = "0x543D67754A05c60035f57DA9Dc7FA6685dCe6A8B"
	moderatorAddr = "0x6F8234C0c0330193BaB7bc079AB74d109367C2ed"
)

type fakeBackend struct {
	callResults map[string][]byte
	callErr     map[string]error
	receipts    map[common.Hash]*types.Receipt
	txs         map[common.Hash]*types.Transaction
	sent        []*types.Transaction
	estimateErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		callResults: make(map[string][]byte),
		callErr:     make(map[string]error),
		receipts:    make(map[common.Hash]*types.Receipt),
		txs:         make(map[common.Hash]*types.Transaction),
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50312), nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sel := string(call.Data[:4])
	if err, ok := f.callErr[sel]; ok {
		return nil, err
	}
	return f.callResults[sel], nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 42_000, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	f.txs[tx.Hash()] = tx
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if tx, ok := f.txs[hash]; ok {
		return tx, false, nil
	}
	return nil, false, ethereum.NotFound
}

func selector(parsedName string, method string) string {
	if parsedName == "social" {
		return string(socialPostsABI.Methods[method].ID)
	}
	return string(moderatorABI.Methods[method].ID)
}

func testClient(t *testing.T, fb *fakeBackend) *Client {
	c, err := newClient(fb, Config{
		SocialPostsAddress:  socialAddr,
		ModeratorAddress:    moderatorAddr,
		ReceiptPollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestReadPosts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fb := newFakeBackend()
	total, err := socialPostsABI.Methods["totalPosts"].Outputs.Pack(big.NewInt(12))
	require.NoError(err)
	fb.callResults[selector("social", "totalPosts")] = total

	post, err := socialPostsABI.Methods["getPost"].Outputs.Pack(postTuple{
		Id:        big.NewInt(12),
		Author:    common.HexToAddress(testAddr),
		Content:   "you are stupid",
		Flagged:   true,
		Timestamp: big.NewInt(1_700_000_000),
		Likes:     big.NewInt(3),
		Replies:   big.NewInt(0),
	})
	require.NoError(err)
	fb.callResults[selector("social", "getPost")] = post

	c := testClient(t, fb)
	n, err := c.TotalCount(ctx)
	require.NoError(err)
	assert.Equal(uint64(12), n)

	p, err := c.GetPost(ctx, 12)
	require.NoError(err)
	assert.Equal(uint64(12), p.ID)
	assert.Equal("you are stupid", p.Content)
	assert.True(p.Flagged)
	assert.Equal(common.HexToAddress(testAddr).Hex(), p.Author)
	assert.Equal(int64(1_700_000_000), p.CreatedAt.Unix())

	// no isFlagged on this deployment: falls back to the post read
	fb.callErr[selector("moderator", "isFlagged")] = errors.New("execution reverted")
	flagged, err := c.IsFlagged(ctx, 12)
	require.NoError(err)
	assert.True(flagged)
}

func TestSignAndSubmit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fb := newFakeBackend()
	c := testClient(t, fb)
	signer, err := NewKeySigner(testKey, big.NewInt(50312), moderatorAddr)
	require.NoError(err)
	assert.Equal(common.HexToAddress(testAddr).Hex(), signer.Address())

	nonce, err := c.CurrentNonce(ctx, signer.Address())
	require.NoError(err)
	action := ledger.FlagAction{PostID: 5, Score: 8000, Backend: "toxic-bert"}
	gas, err := c.EstimateCost(ctx, signer.Address(), action)
	require.NoError(err)

	stx, err := signer.SignFlag(ctx, &ledger.TxRequest{
		Action:   action,
		From:     signer.Address(),
		Nonce:    nonce,
		GasLimit: gas,
		GasPrice: big.NewInt(10_000_000_000),
	})
	require.NoError(err)

	hash, err := c.Submit(ctx, stx)
	require.NoError(err)
	assert.Equal(stx.Hash, hash)
	require.Len(fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(uint64(7), tx.Nonce())
	assert.Equal(uint64(42_000), tx.Gas())
	assert.Equal(common.HexToAddress(moderatorAddr), *tx.To())
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(50312)), tx)
	require.NoError(err)
	assert.Equal(common.HexToAddress(testAddr), from)

	args, err := moderatorABI.Methods["flagPost"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(err)
	assert.Equal(big.NewInt(5), args[0])
	assert.Equal(big.NewInt(8000), args[1])
	assert.Equal("toxic-bert", args[2])

	_, err = signer.SignFlag(ctx, &ledger.TxRequest{Action: action, From: socialAddr, GasPrice: big.NewInt(1)})
	assert.Error(err)
}

func TestWaitForReceipt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fb := newFakeBackend()
	c := testClient(t, fb)

	_, err := c.WaitForReceipt(ctx, "0x01", 20*time.Millisecond)
	assert.ErrorIs(err, ledger.ErrReceiptTimeout)

	signer, err := NewKeySigner(testKey, big.NewInt(50312), moderatorAddr)
	require.NoError(err)
	stx, err := signer.SignFlag(ctx, &ledger.TxRequest{
		Action:   ledger.FlagAction{PostID: 3, Score: 9000, Backend: "keyword"},
		From:     signer.Address(),
		GasLimit: 60_000,
		GasPrice: big.NewInt(1),
	})
	require.NoError(err)
	_, err = c.Submit(ctx, stx)
	require.NoError(err)

	hash := common.HexToHash(stx.Hash)
	fb.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(100),
		GasUsed:     30_000,
	}
	fb.callErr[selector("moderator", "flagPost")] = errors.New("execution reverted: Post already flagged")

	rcpt, err := c.WaitForReceipt(ctx, stx.Hash, time.Second)
	require.NoError(err)
	assert.False(rcpt.Success)
	assert.Equal("100", rcpt.BlockRef)
	assert.True(ledger.IsAlreadyFlagged(errors.New(rcpt.ErrorMessage)))
}

func TestSignerConfig(t *testing.T) {
	assert := assert.New(t)

	_, err := NewKeySigner("", big.NewInt(1), moderatorAddr)
	assert.Error(err)
	_, err = NewKeySigner(testKey, nil, moderatorAddr)
	assert.Error(err)
	_, err = NewKeySigner(testKey, big.NewInt(1), "not-an-address")
	assert.Error(err)
	_, err = NewKeySigner("zz", big.NewInt(1), moderatorAddr)
	assert.Error(err)
}

// blocks every chain id lookup until the caller gives up
type hangingBackend struct {
	*fakeBackend
}

func (h hangingBackend) ChainID(ctx context.Context) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCallTimeout(t *testing.T) {
	assert := assert.New(t)

	c, err := newClient(hangingBackend{newFakeBackend()}, Config{
		SocialPostsAddress: socialAddr,
		ModeratorAddress:   moderatorAddr,
		CallTimeout:        20 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.ChainID(context.Background())
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.Less(time.Since(start), 2*time.Second)
}

func TestEstimateAlreadyFlagged(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fb := newFakeBackend()
	c := testClient(t, fb)
	action := ledger.FlagAction{PostID: 3, Score: 9000, Backend: "keyword"}

	fb.estimateErr = errors.New("execution reverted: Post already flagged")
	_, err := c.EstimateCost(ctx, testAddr, action)
	assert.ErrorIs(err, ledger.ErrAlreadyFlagged)

	fb.estimateErr = errors.New("execution reverted: not authorized")
	_, err = c.EstimateCost(ctx, testAddr, action)
	assert.Error(err)
	assert.NotErrorIs(err, ledger.ErrAlreadyFlagged)
	assert.True(ledger.IsPermanent(err))
}
