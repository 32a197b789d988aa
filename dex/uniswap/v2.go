package uniswap

import (
	"bytes"
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
	"github.com/michaelpento.lv/arbengine/cache"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/paths"
	"github.com/michaelpento.lv/arbengine/types"
	"go.uber.org/zap"
)

// RouterV2 quotes constant-product venues through the router's
// getAmountsOut, skipping routes whose pools do not exist.
type RouterV2 struct {
	venue     types.Venue
	caller    bind.ContractCaller
	router    *bind.BoundContract
	factory   *bind.BoundContract
	pairABI   abi.ABI
	pairs     *cache.PairCache
	generator *paths.Generator
	logger    *zap.Logger

	// pool addresses by sorted token pair
	pools sync.Map
}

// NewRouterV2 creates a quoter for a constant-product venue. The pair cache
// may be shared between venues.
func NewRouterV2(venue types.Venue, caller bind.ContractCaller, pairs *cache.PairCache, generator *paths.Generator, logger *zap.Logger) (*RouterV2, error) {
	if venue.Kind != types.ConstantProduct {
		return nil, fmt.Errorf("venue %s is %s, not constant product", venue.ID, venue.Kind)
	}

	routerABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	return &RouterV2{
		venue:     venue,
		caller:    caller,
		router:    bind.NewBoundContract(venue.Router, routerABI, caller, nil, nil),
		factory:   bind.NewBoundContract(venue.Factory, factoryABI, caller, nil, nil),
		pairABI:   pairABI,
		pairs:     pairs,
		generator: generator,
		logger:    logger.Named(venue.ID),
	}, nil
}

func (r *RouterV2) Venue() types.Venue {
	return r.venue
}

// PairExists reports whether the factory has a pool for the pair. Answers
// are memoised; lookup failures are not.
func (r *RouterV2) PairExists(ctx context.Context, a, b common.Address) (bool, error) {
	if exists, known := r.pairs.Lookup(r.venue.ID, a, b); known {
		return exists, nil
	}
	pair, err := r.pairAddress(ctx, a, b)
	if err != nil {
		return false, err
	}
	return pair != (common.Address{}), nil
}

func (r *RouterV2) pairAddress(ctx context.Context, a, b common.Address) (common.Address, error) {
	token0, token1 := sortTokens(a, b)
	key := [2]common.Address{token0, token1}
	if v, ok := r.pools.Load(key); ok {
		return v.(common.Address), nil
	}

	var out []interface{}
	if err := r.factory.Call(&bind.CallOpts{Context: ctx}, &out, "getPair", a, b); err != nil {
		return common.Address{}, fmt.Errorf("failed to get pair: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("failed to get pair: empty result")
	}
	pair, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to parse pair address")
	}

	exists := pair != (common.Address{})
	r.pairs.Store(r.venue.ID, a, b, exists)
	if exists {
		r.pools.Store(key, pair)
	}
	return pair, nil
}

// Reserves reads the pool reserves of a and b, returned in that order
func (r *RouterV2) Reserves(ctx context.Context, a, b common.Address) (reserveA, reserveB *big.Int, err error) {
	pair, err := r.pairAddress(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}
	if pair == (common.Address{}) {
		return nil, nil, fmt.Errorf("no %s pool for %s/%s: %w", r.venue.ID, a.Hex(), b.Hex(), dex.ErrNoQuote)
	}

	contract := bind.NewBoundContract(pair, r.pairABI, r.caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves"); err != nil {
		return nil, nil, fmt.Errorf("failed to get reserves: %w", err)
	}
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("failed to get reserves: short result")
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("failed to parse reserves")
	}

	if token0, _ := sortTokens(a, b); token0 == a {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// sortTokens orders a pair the way the factory assigns token0 and token1
func sortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a[:], b[:]) < 0 {
		return a, b
	}
	return b, a
}

// pathExists checks every hop of the path
func (r *RouterV2) pathExists(ctx context.Context, p types.Path) (bool, error) {
	for i := 0; i < p.Hops(); i++ {
		exists, err := r.PairExists(ctx, p.Tokens[i], p.Tokens[i+1])
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}

// QuotePath returns the router's output for an exact path
func (r *RouterV2) QuotePath(ctx context.Context, p types.Path, amountIn *big.Int) (*big.Int, error) {
	var out []interface{}
	if err := r.router.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, p.Tokens); err != nil {
		return nil, fmt.Errorf("failed to get amounts out: %w", err)
	}
	if len(out) == 0 {
		return nil, dex.ErrNoQuote
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(p.Tokens) {
		return nil, fmt.Errorf("failed to parse amounts out")
	}
	return amounts[len(amounts)-1], nil
}

// BestQuote tries the direct route and every bridged route and keeps the
// largest output
func (r *RouterV2) BestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	var best *types.Quote
	for _, p := range r.generator.Paths(tokenIn, tokenOut) {
		exists, err := r.pathExists(ctx, p)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			r.logger.Debug("Pair lookup failed", zap.String("path", p.Signature()), zap.Error(err))
			continue
		}
		if !exists {
			continue
		}

		out, err := r.QuotePath(ctx, p, amountIn)
		if err != nil {
			r.logger.Debug("Router quote failed", zap.String("path", p.Signature()), zap.Error(err))
			continue
		}
		if out.Sign() <= 0 {
			continue
		}
		if best == nil || out.Cmp(best.AmountOut) > 0 {
			best = &types.Quote{
				Venue:      r.venue.ID,
				Kind:       r.venue.Kind,
				Path:       p,
				AmountIn:   new(big.Int).Set(amountIn),
				AmountOut:  out,
				ObservedAt: time.Now(),
			}
		}
	}

	if best == nil {
		return nil, dex.ErrNoQuote
	}
	return best, nil
}
