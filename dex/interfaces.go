package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

// ErrNoQuote is returned whenever a venue cannot price a swap. Callers treat
// it as "this venue has nothing to offer" and move on.
var ErrNoQuote = errors.New("no quote")

// Quoter prices swaps on one venue
type Quoter interface {
	// Venue returns the venue description the quoter was built from
	Venue() types.Venue

	// BestQuote returns the best output over every candidate route between
	// tokenIn and tokenOut
	BestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error)

	// QuotePath prices one exact route and returns the output amount
	QuotePath(ctx context.Context, path types.Path, amountIn *big.Int) (*big.Int, error)
}

// QuoteSource is what strategies consume: venue addressed, cached quotes
type QuoteSource interface {
	Quote(ctx context.Context, venueID string, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error)
	QuotePath(ctx context.Context, venueID string, path types.Path, amountIn *big.Int) (*types.Quote, error)
}
