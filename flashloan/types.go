package flashloan

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

// Hop is one swap step of the execution contract call
type Hop struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Fee      *big.Int
}

// ExecutionState is owned by the coordinator. The nonce is the next one to
// use and is resynchronized from the node after every failed attempt.
type ExecutionState struct {
	Nonce              uint64
	LastTrade          time.Time
	CumulativeProfit   *big.Int
	Scans              uint64
	OpportunitiesFound uint64
	Executed           uint64
	Failed             uint64
}

// Options configures a coordinator
type Options struct {
	// Contract is the flash loan arbitrage contract
	Contract common.Address
	ChainID  *big.Int
	// GasLimit overrides the simulated gas estimate when set
	GasLimit       uint64
	Cooldown       time.Duration
	ConfirmTimeout time.Duration
	Confirmations  uint64
	// SupportedKinds lists the venue kinds the contract can swap on
	SupportedKinds []types.VenueKind
	// DryRun simulates but never broadcasts
	DryRun bool
}

// DefaultSupportedKinds are the venue kinds the stock contract routes through
var DefaultSupportedKinds = []types.VenueKind{types.ConstantProduct, types.ConcentratedLiquidity}
