package cache

import (
	"bytes"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

const numPairShards = 64

type pairKey struct {
	venue string
	a, b  common.Address
}

type pairShard struct {
	sync.RWMutex
	pairs map[pairKey]bool
}

// PairCache remembers whether a pool exists for an unordered token pair on a
// venue. Pools are never destroyed, so entries live for the whole process.
type PairCache struct {
	shards [numPairShards]*pairShard
}

func NewPairCache() *PairCache {
	c := &PairCache{}
	for i := range c.shards {
		c.shards[i] = &pairShard{pairs: make(map[pairKey]bool)}
	}
	return c
}

func newPairKey(venue string, a, b common.Address) pairKey {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return pairKey{venue: venue, a: a, b: b}
}

func (c *PairCache) shard(k pairKey) *pairShard {
	d := xxhash.New()
	_, _ = d.WriteString(k.venue)
	_, _ = d.Write(k.a[:])
	_, _ = d.Write(k.b[:])
	return c.shards[d.Sum64()%numPairShards]
}

// Lookup reports the memoised answer and whether one is known
func (c *PairCache) Lookup(venue string, a, b common.Address) (exists, known bool) {
	k := newPairKey(venue, a, b)
	s := c.shard(k)
	s.RLock()
	defer s.RUnlock()
	exists, known = s.pairs[k]
	return exists, known
}

// Store records the answer for a pair
func (c *PairCache) Store(venue string, a, b common.Address, exists bool) {
	k := newPairKey(venue, a, b)
	s := c.shard(k)
	s.Lock()
	s.pairs[k] = exists
	s.Unlock()
}

// Len returns the number of memoised pairs
func (c *PairCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.RLock()
		n += len(s.pairs)
		s.RUnlock()
	}
	return n
}
