package paths

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

// DefaultMultiHopCandidates bounds the widest index position when building
// round-trip cycles (positions are bounded by n-2, n-1 and n).
const DefaultMultiHopCandidates = 5

// Generator enumerates candidate routes between two tokens
type Generator struct {
	bridges    []common.Address
	universe   []common.Address
	candidates int
}

// NewGenerator creates a generator. universe feeds the multi-hop cycles and
// candidates caps how many of its tokens are considered; 0 selects the default.
func NewGenerator(bridges, universe []common.Address, candidates int) *Generator {
	if candidates <= 0 {
		candidates = DefaultMultiHopCandidates
	}
	return &Generator{
		bridges:    append([]common.Address(nil), bridges...),
		universe:   append([]common.Address(nil), universe...),
		candidates: candidates,
	}
}

// Paths returns the direct path followed by one path per usable bridge, in
// bridge order and without duplicates.
func (g *Generator) Paths(tokenIn, tokenOut common.Address) []types.Path {
	out := make([]types.Path, 0, 1+len(g.bridges))
	seen := make(map[string]struct{}, 1+len(g.bridges))

	add := func(p types.Path) {
		sig := p.Signature()
		if _, ok := seen[sig]; ok {
			return
		}
		seen[sig] = struct{}{}
		out = append(out, p)
	}

	add(types.Path{Tokens: []common.Address{tokenIn, tokenOut}})
	for _, b := range g.bridges {
		if b == tokenIn || b == tokenOut {
			continue
		}
		add(types.Path{Tokens: []common.Address{tokenIn, b, tokenOut}})
	}
	return out
}

// WithFeeTiers expands each token sequence into every fee-tier combination
func (g *Generator) WithFeeTiers(paths []types.Path, tiers []uint32) []types.Path {
	if len(tiers) == 0 {
		return nil
	}
	var out []types.Path
	for _, p := range paths {
		hops := p.Hops()
		if hops == 0 {
			continue
		}
		idx := make([]int, hops)
		for {
			fees := make([]uint32, hops)
			for i, j := range idx {
				fees[i] = tiers[j]
			}
			out = append(out, types.Path{Tokens: p.Tokens, Fees: fees})

			// odometer increment over tier indexes
			pos := hops - 1
			for pos >= 0 {
				idx[pos]++
				if idx[pos] < len(tiers) {
					break
				}
				idx[pos] = 0
				pos--
			}
			if pos < 0 {
				break
			}
		}
	}
	return out
}

// Cycles builds round trips that start and end at start and visit two or
// three distinct intermediate tokens from the universe.
func (g *Generator) Cycles(start common.Address) []types.Path {
	var pool []common.Address
	for _, t := range g.universe {
		if t != start {
			pool = append(pool, t)
		}
	}
	n := len(pool)
	capA, capB, capC := minInt(n, g.candidates-2), minInt(n, g.candidates-1), minInt(n, g.candidates)

	var out []types.Path
	for i := 0; i < capA; i++ {
		for j := i + 1; j < capB; j++ {
			out = append(out, types.Path{Tokens: []common.Address{start, pool[i], pool[j], start}})
		}
	}
	for i := 0; i < capA; i++ {
		for j := i + 1; j < capB; j++ {
			for k := j + 1; k < capC; k++ {
				out = append(out, types.Path{Tokens: []common.Address{start, pool[i], pool[j], pool[k], start}})
			}
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
