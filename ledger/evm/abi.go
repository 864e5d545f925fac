package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Only the subset of the contract interfaces the agent calls.
const socialPostsABIJSON = `[
  {"type":"function","name":"totalPosts","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getPost","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},
     {"name":"author","type":"address"},
     {"name":"content","type":"string"},
     {"name":"flagged","type":"bool"},
     {"name":"timestamp","type":"uint256"},
     {"name":"likes","type":"uint256"},
     {"name":"replies","type":"uint256"}]}]}
]`

const moderatorABIJSON = `[
  {"type":"function","name":"flagPost","stateMutability":"nonpayable",
   "inputs":[{"name":"postId","type":"uint256"},{"name":"scoreBp","type":"uint256"},{"name":"model","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"isFlagged","stateMutability":"view",
   "inputs":[{"name":"postId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	socialPostsABI = mustParseABI(socialPostsABIJSON)
	moderatorABI   = mustParseABI(moderatorABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Field names must line up with the ABI tuple components for abi.ConvertType.
type postTuple struct {
	Id        *big.Int
	Author    common.Address
	Content   string
	Flagged   bool
	Timestamp *big.Int
	Likes     *big.Int
	Replies   *big.Int
}

func packFlagPost(postID uint64, score int, backend string) ([]byte, error) {
	return moderatorABI.Pack("flagPost", new(big.Int).SetUint64(postID), big.NewInt(int64(score)), backend)
}
