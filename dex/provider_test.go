package dex

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/cache"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type stubQuoter struct {
	venue types.Venue
	out   *big.Int
	err   error
	delay time.Duration
	calls atomic.Int32

	// when set, BestQuote signals entered and blocks until release is closed
	entered chan struct{}
	release chan struct{}
}

func (s *stubQuoter) Venue() types.Venue { return s.venue }

func (s *stubQuoter) BestQuote(ctx context.Context, in, out common.Address, amountIn *big.Int) (*types.Quote, error) {
	if s.calls.Add(1) == 1 && s.release != nil {
		close(s.entered)
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &types.Quote{
		Venue:     s.venue.ID,
		Path:      types.Path{Tokens: []common.Address{in, out}},
		AmountIn:  amountIn,
		AmountOut: s.out,
	}, nil
}

func (s *stubQuoter) QuotePath(ctx context.Context, p types.Path, amountIn *big.Int) (*big.Int, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func newTestProvider(t *testing.T, quoters ...Quoter) *Provider {
	qc, err := cache.NewQuoteCache(time.Minute, 256)
	require.NoError(t, err)
	p, err := NewProvider(quoters, qc, time.Second, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestProviderCachesQuotes(t *testing.T) {
	stub := &stubQuoter{venue: types.Venue{ID: "pancake"}, out: big.NewInt(1990)}
	p := newTestProvider(t, stub)
	ctx := context.Background()

	q, err := p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1990), q.AmountOut)

	_, err = p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())

	_, err = p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1001))
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load(), "amount is part of the key")

	p.Cache().Clear()
	_, err = p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestProviderDropsQuotesInFlightAcrossClear(t *testing.T) {
	stub := &stubQuoter{
		venue:   types.Venue{ID: "pancake"},
		out:     big.NewInt(1990),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := newTestProvider(t, stub)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1000))
		done <- err
	}()

	<-stub.entered
	p.Cache().Clear()
	close(stub.release)
	require.NoError(t, <-done)

	assert.Equal(t, 0, p.Cache().Len(), "stale quote must not land in the cleared cache")

	_, err := p.Quote(ctx, "pancake", tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestProviderCollapsesConcurrentMisses(t *testing.T) {
	stub := &stubQuoter{venue: types.Venue{ID: "pancake"}, out: big.NewInt(7), delay: 50 * time.Millisecond}
	p := newTestProvider(t, stub)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Quote(context.Background(), "pancake", tokenA, tokenB, big.NewInt(1000))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestProviderFailuresAreNoQuote(t *testing.T) {
	failing := &stubQuoter{venue: types.Venue{ID: "broken"}, err: errors.New("dial tcp: connection refused")}
	empty := &stubQuoter{venue: types.Venue{ID: "empty"}, out: big.NewInt(0)}
	p := newTestProvider(t, failing, empty)
	ctx := context.Background()

	_, err := p.Quote(ctx, "broken", tokenA, tokenB, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrNoQuote)

	_, err = p.Quote(ctx, "empty", tokenA, tokenB, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrNoQuote)

	_, err = p.Quote(ctx, "unknown", tokenA, tokenB, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrNoQuote)

	// failures are not cached
	_, _ = p.Quote(ctx, "broken", tokenA, tokenB, big.NewInt(1000))
	assert.Equal(t, int32(2), failing.calls.Load())
}

func TestProviderQuotePath(t *testing.T) {
	stub := &stubQuoter{venue: types.Venue{ID: "pancake", Kind: types.ConstantProduct}, out: big.NewInt(42)}
	p := newTestProvider(t, stub)
	path := types.Path{Tokens: []common.Address{tokenA, tokenB}}

	q, err := p.QuotePath(context.Background(), "pancake", path, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), q.AmountOut)
	assert.Equal(t, types.ConstantProduct, q.Kind)

	// exact-path entries do not satisfy best-route lookups
	_, err = p.Quote(context.Background(), "pancake", tokenA, tokenB, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load())

	_, err = p.QuotePath(context.Background(), "pancake", types.Path{}, big.NewInt(10))
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestNewProviderRejectsDuplicateVenues(t *testing.T) {
	qc, err := cache.NewQuoteCache(time.Minute, 16)
	require.NoError(t, err)
	a := &stubQuoter{venue: types.Venue{ID: "x"}}
	b := &stubQuoter{venue: types.Venue{ID: "x"}}
	_, err = NewProvider([]Quoter{a, b}, qc, 0, nil, zaptest.NewLogger(t))
	require.Error(t, err)
}
