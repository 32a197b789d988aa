package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/paths"
	"github.com/michaelpento.lv/arbengine/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const quoterABIJson = `[{
	"inputs": [
		{"name": "tokenIn", "type": "address"},
		{"name": "tokenOut", "type": "address"},
		{"name": "fee", "type": "uint24"},
		{"name": "amountIn", "type": "uint256"},
		{"name": "sqrtPriceLimitX96", "type": "uint160"}
	],
	"name": "quoteExactInputSingle",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"name": "path", "type": "bytes"},
		{"name": "amountIn", "type": "uint256"}
	],
	"name": "quoteExactInput",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// DefaultConcurrency bounds in-flight quoter calls per BestQuote
const DefaultConcurrency = 8

// Quoter prices concentrated-liquidity venues through the on-chain quoter
// contract, probing every fee tier combination of every candidate route.
type Quoter struct {
	venue       types.Venue
	quoter      *bind.BoundContract
	generator   *paths.Generator
	concurrency int
	logger      *zap.Logger
}

func NewQuoter(venue types.Venue, caller bind.ContractCaller, generator *paths.Generator, logger *zap.Logger) (*Quoter, error) {
	if venue.Kind != types.ConcentratedLiquidity {
		return nil, fmt.Errorf("venue %s is %s, not concentrated liquidity", venue.ID, venue.Kind)
	}
	parsed, err := abi.JSON(strings.NewReader(quoterABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}
	return &Quoter{
		venue:       venue,
		quoter:      bind.NewBoundContract(venue.Quoter, parsed, caller, nil, nil),
		generator:   generator,
		concurrency: DefaultConcurrency,
		logger:      logger.Named(venue.ID),
	}, nil
}

func (q *Quoter) Venue() types.Venue {
	return q.venue
}

// QuotePath prices a route whose fee tiers are fixed. Single hops use
// quoteExactInputSingle, longer routes the packed path form.
func (q *Quoter) QuotePath(ctx context.Context, p types.Path, amountIn *big.Int) (*big.Int, error) {
	if len(p.Fees) != p.Hops() || p.Hops() == 0 {
		return nil, fmt.Errorf("path %s needs one fee tier per hop", p.Signature())
	}

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	var err error
	if p.Hops() == 1 {
		err = q.quoter.Call(opts, &out, "quoteExactInputSingle",
			p.Tokens[0], p.Tokens[1], big.NewInt(int64(p.Fees[0])), amountIn, new(big.Int))
	} else {
		encoded, encErr := EncodePath(p)
		if encErr != nil {
			return nil, encErr
		}
		err = q.quoter.Call(opts, &out, "quoteExactInput", encoded, amountIn)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, dex.ErrNoQuote
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse quoter output")
	}
	return amountOut, nil
}

// BestQuote quotes every candidate route and fee combination concurrently
// and keeps the largest output. Reverts mean "no pool" and are not logged.
func (q *Quoter) BestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	candidates := q.generator.WithFeeTiers(q.generator.Paths(tokenIn, tokenOut), q.venue.FeeTiers)

	var (
		mu   sync.Mutex
		best *types.Quote
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for _, p := range candidates {
		p := p
		g.Go(func() error {
			out, err := q.QuotePath(gctx, p, amountIn)
			if err != nil {
				if !IsExpectedPoolError(err) && !errors.Is(err, context.Canceled) {
					q.logger.Debug("Quoter call failed", zap.String("path", p.Signature()), zap.Error(err))
				}
				return nil
			}
			if out.Sign() <= 0 {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if best == nil || out.Cmp(best.AmountOut) > 0 {
				best = &types.Quote{
					Venue:      q.venue.ID,
					Kind:       q.venue.Kind,
					Path:       p,
					AmountIn:   new(big.Int).Set(amountIn),
					AmountOut:  out,
					ObservedAt: time.Now(),
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if best == nil {
		return nil, dex.ErrNoQuote
	}
	return best, nil
}

// IsExpectedPoolError reports whether a quoter failure just means the pool
// for that fee tier does not exist or cannot fill the amount.
func IsExpectedPoolError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "revert") ||
		strings.Contains(msg, "CALL_EXCEPTION") ||
		strings.Contains(msg, "missing revert data")
}
