package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/cache"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider routes quote requests to the venue quoters through the shared
// quote cache. Concurrent identical misses share one upstream request.
type Provider struct {
	quoters map[string]Quoter
	cache   *cache.QuoteCache
	group   singleflight.Group
	timeout time.Duration
	metrics *metrics.EngineMetrics
	logger  *zap.Logger
}

// NewProvider creates a provider. requestTimeout bounds each upstream call
// and keeps abandoned requests from outliving their cycle for long.
func NewProvider(quoters []Quoter, quoteCache *cache.QuoteCache, requestTimeout time.Duration, m *metrics.EngineMetrics, logger *zap.Logger) (*Provider, error) {
	p := &Provider{
		quoters: make(map[string]Quoter, len(quoters)),
		cache:   quoteCache,
		timeout: requestTimeout,
		metrics: m,
		logger:  logger.Named("quotes"),
	}
	for _, q := range quoters {
		id := q.Venue().ID
		if _, dup := p.quoters[id]; dup {
			return nil, fmt.Errorf("duplicate quoter for venue %s", id)
		}
		p.quoters[id] = q
	}
	return p, nil
}

// Cache exposes the quote cache so the scanner can clear it per cycle
func (p *Provider) Cache() *cache.QuoteCache {
	return p.cache
}

// Quote returns the venue's best quote for the pair
func (p *Provider) Quote(ctx context.Context, venueID string, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	key := cache.Key{Venue: venueID, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn.String()}
	return p.lookup(ctx, key, func(ctx context.Context, q Quoter) (*types.Quote, error) {
		return q.BestQuote(ctx, tokenIn, tokenOut, amountIn)
	})
}

// QuotePath prices one exact route on a venue
func (p *Provider) QuotePath(ctx context.Context, venueID string, path types.Path, amountIn *big.Int) (*types.Quote, error) {
	if path.Hops() == 0 {
		return nil, fmt.Errorf("empty path: %w", ErrNoQuote)
	}
	key := cache.Key{
		Venue:    venueID,
		TokenIn:  path.TokenIn(),
		TokenOut: path.TokenOut(),
		AmountIn: amountIn.String(),
		Route:    path.Signature(),
	}
	return p.lookup(ctx, key, func(ctx context.Context, q Quoter) (*types.Quote, error) {
		out, err := q.QuotePath(ctx, path, amountIn)
		if err != nil {
			return nil, err
		}
		return &types.Quote{
			Venue:      venueID,
			Kind:       q.Venue().Kind,
			Path:       path,
			AmountIn:   new(big.Int).Set(amountIn),
			AmountOut:  out,
			ObservedAt: time.Now(),
		}, nil
	})
}

func (p *Provider) lookup(ctx context.Context, key cache.Key, fetch func(context.Context, Quoter) (*types.Quote, error)) (*types.Quote, error) {
	q, ok := p.quoters[key.Venue]
	if !ok {
		return nil, fmt.Errorf("unknown venue %s: %w", key.Venue, ErrNoQuote)
	}

	if cached, ok := p.cache.Get(key); ok {
		p.metrics.ObserveQuote(key.Venue, metrics.QuoteCacheHit)
		return cached, nil
	}

	// requests started before a Clear must neither share with later ones
	// nor write into the cleared cache
	gen := p.cache.Generation()
	v, err, _ := p.group.Do(strconv.FormatUint(gen, 10)+"|"+key.String(), func() (interface{}, error) {
		// another caller may have filled the entry while we queued
		if cached, ok := p.cache.Get(key); ok {
			return cached, nil
		}

		reqCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		quote, err := fetch(reqCtx, q)
		if err != nil {
			return nil, err
		}
		if quote == nil || quote.AmountOut == nil || quote.AmountOut.Sign() <= 0 {
			return nil, ErrNoQuote
		}
		if !p.cache.PutAt(gen, key, quote) {
			p.logger.Debug("Dropped quote from a cleared cycle", zap.String("venue", key.Venue))
		}
		return quote, nil
	})
	if err != nil {
		p.metrics.ObserveQuote(key.Venue, metrics.QuoteNotFound)
		if !errors.Is(err, ErrNoQuote) {
			p.logger.Debug("Quote failed",
				zap.String("venue", key.Venue),
				zap.String("token_in", key.TokenIn.Hex()),
				zap.String("token_out", key.TokenOut.Hex()),
				zap.Error(err))
			err = fmt.Errorf("%s: %v: %w", key.Venue, err, ErrNoQuote)
		}
		return nil, err
	}

	p.metrics.ObserveQuote(key.Venue, metrics.QuoteFetched)
	return v.(*types.Quote), nil
}
