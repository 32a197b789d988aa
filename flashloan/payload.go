package flashloan

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

// ErrUnsupportedVenue is returned when a leg trades on a venue the contract
// cannot route through
var ErrUnsupportedVenue = errors.New("venue not supported by execution contract")

// executorABI is the entry point of the flash loan arbitrage contract
const executorABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{
				"components": [
					{"internalType": "address", "name": "router", "type": "address"},
					{"internalType": "address", "name": "tokenIn", "type": "address"},
					{"internalType": "address", "name": "tokenOut", "type": "address"},
					{"internalType": "uint24", "name": "fee", "type": "uint24"}
				],
				"internalType": "struct Step[]",
				"name": "steps",
				"type": "tuple[]"
			}
		],
		"name": "requestFlashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const requestFlashLoan = "requestFlashLoan"

func parseExecutorABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// BuildHops flattens the buy and sell legs into contract steps
func BuildHops(opp *types.Opportunity, venues VenueLookup, supported map[types.VenueKind]bool) ([]Hop, error) {
	if opp == nil || opp.Buy == nil || opp.Sell == nil {
		return nil, errors.New("incomplete opportunity")
	}

	var hops []Hop
	for _, leg := range []*types.Quote{opp.Buy, opp.Sell} {
		venue, ok := venues.Venue(leg.Venue)
		if !ok {
			return nil, fmt.Errorf("unknown venue %s", leg.Venue)
		}
		if !supported[venue.Kind] {
			return nil, fmt.Errorf("%s (%s): %w", venue.ID, venue.Kind, ErrUnsupportedVenue)
		}
		if venue.Router == (common.Address{}) {
			return nil, fmt.Errorf("venue %s has no router", venue.ID)
		}

		n := leg.Path.Hops()
		if n == 0 {
			return nil, fmt.Errorf("venue %s: empty path", venue.ID)
		}
		for i := 0; i < n; i++ {
			fee := new(big.Int)
			if len(leg.Path.Fees) == n {
				fee.SetUint64(uint64(leg.Path.Fees[i]))
			}
			hops = append(hops, Hop{
				Router:   venue.Router,
				TokenIn:  leg.Path.Tokens[i],
				TokenOut: leg.Path.Tokens[i+1],
				Fee:      fee,
			})
		}
	}
	return hops, nil
}

// EncodeCall packs the requestFlashLoan call for opp
func EncodeCall(parsed abi.ABI, opp *types.Opportunity, hops []Hop) ([]byte, error) {
	data, err := parsed.Pack(requestFlashLoan, opp.Base.Address, opp.LoanAmount, hops)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", requestFlashLoan, err)
	}
	return data, nil
}
