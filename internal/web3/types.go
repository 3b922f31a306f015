package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for the startup banner.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Fees carries EIP-1559 fee parameters suggested by the node.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Client defines the read-only chain access the agent needs. Writes never go
// through the node: sponsored actions are handed to a bundler instead.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	SuggestFees(ctx context.Context) (Fees, error)
	Close()
}
