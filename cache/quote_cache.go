package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/michaelpento.lv/arbengine/types"
)

// Key identifies a quote. Route is empty for best-path quotes and carries the
// path signature for exact-path quotes.
type Key struct {
	Venue    string
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn string
	Route    string
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Venue)
	b.WriteByte('|')
	b.WriteString(k.TokenIn.Hex())
	b.WriteByte('|')
	b.WriteString(k.TokenOut.Hex())
	b.WriteByte('|')
	b.WriteString(k.AmountIn)
	if k.Route != "" {
		b.WriteByte('|')
		b.WriteString(k.Route)
	}
	return b.String()
}

type entry struct {
	quote    *types.Quote
	storedAt time.Time
}

// QuoteCache memoises quotes for a short TTL. An entry stored at t is served
// for reads in [t, t+ttl) and treated as absent afterwards.
//
// Every Clear starts a new generation. Writers that captured an older
// generation before fetching are dropped, so a request that was in flight
// across a Clear never repopulates the cache.
type QuoteCache struct {
	ttl   time.Duration
	cache *lru.Cache
	now   func() time.Time

	mu  sync.RWMutex
	gen uint64
}

// NewQuoteCache creates a cache holding at most size entries
func NewQuoteCache(ttl time.Duration, size int) (*QuoteCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("quote cache ttl must be positive")
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote cache: %w", err)
	}
	return &QuoteCache{
		ttl:   ttl,
		cache: c,
		now:   time.Now,
	}, nil
}

// WithClock replaces the time source, used by tests
func (c *QuoteCache) WithClock(now func() time.Time) *QuoteCache {
	c.now = now
	return c
}

func (c *QuoteCache) TTL() time.Duration {
	return c.ttl
}

// Get returns a live entry for key
func (c *QuoteCache) Get(key Key) (*types.Quote, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.cache.Remove(key)
		return nil, false
	}
	return e.quote, true
}

// Generation returns the current generation. Capture it before fetching and
// hand it to PutAt.
func (c *QuoteCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Put stores q under key in the current generation
func (c *QuoteCache) Put(key Key, q *types.Quote) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.cache.Add(key, entry{quote: q, storedAt: c.now()})
}

// PutAt stores q only if no Clear happened since gen was captured. It
// reports whether the write was kept.
func (c *QuoteCache) PutAt(gen uint64, key Key, q *types.Quote) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.gen {
		return false
	}
	c.cache.Add(key, entry{quote: q, storedAt: c.now()})
	return true
}

// Clear drops every entry and starts a new generation
func (c *QuoteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Purge()
}

func (c *QuoteCache) Len() int {
	return c.cache.Len()
}
