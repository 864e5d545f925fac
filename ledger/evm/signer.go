package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/sol-ai/modagent/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signs legacy (fixed gas price) flagPost transactions with a local private key.
type KeySigner struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	moderator common.Address
}

var _ ledger.Signer = (*KeySigner)(nil)

// hexKey may carry a "0x" prefix.
func NewKeySigner(hexKey string, chainID *big.Int, moderator string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("agent private key is required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %v", chainID)
	}
	if !common.IsHexAddress(moderator) {
		return nil, fmt.Errorf("invalid moderator contract address: %q", moderator)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing agent private key: %w", err)
	}
	return &KeySigner{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
		moderator: common.HexToAddress(moderator),
	}, nil
}

func (s *KeySigner) Address() string {
	return s.address.Hex()
}

func (s *KeySigner) SignFlag(ctx context.Context, req *ledger.TxRequest) (*ledger.SignedTx, error) {
	if !strings.EqualFold(req.From, s.address.Hex()) {
		return nil, fmt.Errorf("signer %s cannot sign for %s", s.address.Hex(), req.From)
	}
	if req.GasPrice == nil {
		return nil, fmt.Errorf("gas price is required")
	}
	data, err := packFlagPost(req.Action.PostID, req.Action.Score, req.Action.Backend)
	if err != nil {
		return nil, fmt.Errorf("packing flagPost call: %w", err)
	}
	to := s.moderator
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &ledger.SignedTx{
		Hash:  signed.Hash().Hex(),
		Nonce: req.Nonce,
		Raw:   raw,
	}, nil
}
