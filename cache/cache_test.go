package cache

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testQuote(out int64) *types.Quote {
	return &types.Quote{
		Venue:     "pancake",
		Path:      types.Path{Tokens: []common.Address{tokenA, tokenB}},
		AmountIn:  big.NewInt(1000),
		AmountOut: big.NewInt(out),
	}
}

func TestQuoteCacheTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	ttl := 1500 * time.Millisecond
	c, err := NewQuoteCache(ttl, 128)
	require.NoError(t, err)
	c.WithClock(clock.Now)

	key := Key{Venue: "pancake", TokenIn: tokenA, TokenOut: tokenB, AmountIn: "1000"}
	c.Put(key, testQuote(1990))

	t.Run("HitAtInsert", func(t *testing.T) {
		q, ok := c.Get(key)
		require.True(t, ok)
		assert.Equal(t, big.NewInt(1990), q.AmountOut)
	})

	t.Run("HitJustBeforeExpiry", func(t *testing.T) {
		clock.Advance(ttl - time.Millisecond)
		_, ok := c.Get(key)
		assert.True(t, ok)
	})

	t.Run("MissAtExpiry", func(t *testing.T) {
		clock.Advance(time.Millisecond)
		_, ok := c.Get(key)
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("DifferentAmountIsDifferentKey", func(t *testing.T) {
		c.Put(key, testQuote(1990))
		other := key
		other.AmountIn = "1001"
		_, ok := c.Get(other)
		assert.False(t, ok)
	})

	t.Run("RouteQualifiedKey", func(t *testing.T) {
		routed := key
		routed.Route = "a>b"
		_, ok := c.Get(routed)
		assert.False(t, ok)
		assert.NotEqual(t, key.String(), routed.String())
	})
}

func TestQuoteCacheClear(t *testing.T) {
	c, err := NewQuoteCache(time.Minute, 16)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Put(Key{Venue: "v", TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(int64(i)).String()}, testQuote(1))
	}
	assert.Equal(t, 5, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(Key{Venue: "v", TokenIn: tokenA, TokenOut: tokenB, AmountIn: "0"})
	assert.False(t, ok)
}

func TestQuoteCacheDropsStaleGeneration(t *testing.T) {
	c, err := NewQuoteCache(time.Minute, 16)
	require.NoError(t, err)
	key := Key{Venue: "v", TokenIn: tokenA, TokenOut: tokenB, AmountIn: "1"}

	gen := c.Generation()
	c.Clear()
	assert.Equal(t, gen+1, c.Generation())

	assert.False(t, c.PutAt(gen, key, testQuote(1)), "write from before Clear is dropped")
	_, ok := c.Get(key)
	assert.False(t, ok)

	assert.True(t, c.PutAt(c.Generation(), key, testQuote(2)))
	q, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, testQuote(2).AmountOut, q.AmountOut)
}

func TestQuoteCacheRejectsZeroTTL(t *testing.T) {
	_, err := NewQuoteCache(0, 16)
	require.Error(t, err)
}

func TestPairCache(t *testing.T) {
	c := NewPairCache()

	_, known := c.Lookup("pancake", tokenA, tokenB)
	assert.False(t, known)

	c.Store("pancake", tokenA, tokenB, true)

	exists, known := c.Lookup("pancake", tokenB, tokenA)
	assert.True(t, known, "pair key must be unordered")
	assert.True(t, exists)

	_, known = c.Lookup("biswap", tokenA, tokenB)
	assert.False(t, known, "venues do not share entries")

	c.Store("biswap", tokenA, tokenB, false)
	exists, known = c.Lookup("biswap", tokenA, tokenB)
	assert.True(t, known)
	assert.False(t, exists)
	assert.Equal(t, 2, c.Len())
}
