package paths

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	busd = common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56")
	wbnb = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	usdt = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	usdc = common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d")
	cake = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	btcb = common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c")
)

func TestPaths(t *testing.T) {
	g := NewGenerator([]common.Address{wbnb, usdt, usdc, usdt}, nil, 0)

	t.Run("DirectFirstThenBridges", func(t *testing.T) {
		got := g.Paths(busd, cake)
		require.Len(t, got, 4)
		assert.Equal(t, []common.Address{busd, cake}, got[0].Tokens)
		assert.Equal(t, []common.Address{busd, wbnb, cake}, got[1].Tokens)
		assert.Equal(t, []common.Address{busd, usdt, cake}, got[2].Tokens)
		assert.Equal(t, []common.Address{busd, usdc, cake}, got[3].Tokens)
	})

	t.Run("BridgeEqualToEndpointSkipped", func(t *testing.T) {
		got := g.Paths(busd, wbnb)
		require.Len(t, got, 3)
		for _, p := range got {
			for _, mid := range p.Tokens[1 : len(p.Tokens)-1] {
				assert.NotEqual(t, busd, mid)
				assert.NotEqual(t, wbnb, mid)
			}
		}
	})

	t.Run("NoDuplicates", func(t *testing.T) {
		seen := map[string]bool{}
		for _, p := range g.Paths(usdt, usdc) {
			assert.False(t, seen[p.Signature()], "duplicate path %s", p.Signature())
			seen[p.Signature()] = true
		}
		assert.Len(t, seen, 2) // direct + wbnb
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, g.Paths(busd, cake), g.Paths(busd, cake))
	})
}

func TestWithFeeTiers(t *testing.T) {
	g := NewGenerator([]common.Address{wbnb}, nil, 0)
	tiers := []uint32{100, 500, 2500}

	got := g.WithFeeTiers(g.Paths(busd, cake), tiers)
	// direct: 3 combinations, via wbnb: 3*3 combinations
	require.Len(t, got, 12)

	seen := map[string]bool{}
	for _, p := range got {
		assert.Len(t, p.Fees, p.Hops())
		assert.False(t, seen[p.Signature()])
		seen[p.Signature()] = true
	}
	assert.Equal(t, []uint32{100}, got[0].Fees)
	assert.Equal(t, []uint32{100, 100}, got[3].Fees)
	assert.Equal(t, []uint32{2500, 2500}, got[11].Fees)

	assert.Empty(t, g.WithFeeTiers(g.Paths(busd, cake), nil))
}

func TestCycles(t *testing.T) {
	universe := []common.Address{busd, wbnb, usdt, usdc, cake, btcb}
	g := NewGenerator(nil, universe, 5)

	got := g.Cycles(busd)
	require.NotEmpty(t, got)

	var three, four int
	for _, p := range got {
		assert.Equal(t, busd, p.TokenIn())
		assert.Equal(t, busd, p.TokenOut())

		mids := p.Tokens[1 : len(p.Tokens)-1]
		seen := map[common.Address]bool{}
		for _, m := range mids {
			assert.NotEqual(t, busd, m)
			assert.False(t, seen[m], "intermediate token repeated")
			seen[m] = true
		}
		switch p.Hops() {
		case 3:
			three++
		case 4:
			four++
		default:
			t.Fatalf("unexpected cycle length %d", p.Hops())
		}
	}
	// pool of 5 tokens, i<3, j<4, k<5
	assert.Equal(t, 6, three)
	assert.Equal(t, 10, four)
}
