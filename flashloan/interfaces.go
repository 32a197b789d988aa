package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/arbengine/simulator"
	arbtypes "github.com/michaelpento.lv/arbengine/types"
)

// Backend is the node API used to submit and confirm executions
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

// Simulator dry-runs the execution call
type Simulator interface {
	SimulateCall(ctx context.Context, from, to common.Address, data []byte) (*simulator.SimulationResult, error)
}

// FeeSource prices EIP-1559 submissions
type FeeSource interface {
	FeeCaps() (feeCap, tipCap *big.Int)
}

// VenueLookup resolves the venue a quote came from
type VenueLookup interface {
	Venue(id string) (arbtypes.Venue, bool)
}
