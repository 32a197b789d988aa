package arbitrage

import (
	"math/big"
	"testing"
	"time"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opportunity(net int64, buyImpact, sellImpact uint64) *types.Opportunity {
	return &types.Opportunity{NetProfit: big.NewInt(net), BuyImpactBps: buyImpact, SellImpactBps: sellImpact}
}

func TestRank(t *testing.T) {
	a := opportunity(10, 5, 5)
	b := opportunity(30, 100, 100)
	c := opportunity(30, 20, 10)
	d := opportunity(30, 20, 10)

	ranked := Rank([]*types.Opportunity{a, b, nil, c, d})
	require.Len(t, ranked, 4)
	assert.Same(t, c, ranked[0], "lower impact wins a profit tie")
	assert.Same(t, d, ranked[1], "full ties keep input order")
	assert.Same(t, b, ranked[2])
	assert.Same(t, a, ranked[3])

	assert.Same(t, c, Best([]*types.Opportunity{a, b, c, d}))
	assert.Nil(t, Best(nil))
}

func TestLinearScorer(t *testing.T) {
	s := DefaultScorer()

	tests := []struct {
		name    string
		signals Signals
		want    float64
	}{
		{"Neutral", Signals{}, 50},
		{"Profit", Signals{NetProfit: 1.5}, 80},
		{"GasAndVolatility", Signals{NetProfit: 1, GasGwei: 3, Volatility: 2}, 59.7},
		{"StrongMomentumBonus", Signals{NetProfit: 1, Strong: true}, 76},
		{"StrongMomentumLoss", Signals{NetProfit: -1, Strong: true}, 24},
		{"ClampedHigh", Signals{NetProfit: 100}, 100},
		{"ClampedLow", Signals{Volatility: 100}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.signals), 1e-9)
		})
	}
}

func TestMomentumTracker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMomentumTracker(10, 0.5)
	m.now = func() time.Time { return now }

	// fewer than half a window of points reports nothing
	for i := 0; i < 4; i++ {
		assert.Zero(t, m.Observe("USDC/CAKE", 2).Velocity)
		now = now.Add(time.Second)
	}

	// 2.0 -> 2.1 over 4s is 1.25 %/s
	got := m.Observe("USDC/CAKE", 2.1)
	assert.InDelta(t, 1.25, got.Velocity, 1e-9)
	assert.True(t, got.Strong)

	other := m.Observe("USDC/BTCB", 1)
	assert.Zero(t, other.Velocity, "pairs are tracked separately")

	var nilTracker *MomentumTracker
	assert.Equal(t, Momentum{}, nilTracker.Observe("x", 1))
}

func TestMomentumWindowSlides(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMomentumTracker(4, 0.5)
	m.now = func() time.Time { return now }

	for _, r := range []float64{1, 1, 1, 1, 1.01, 1.01} {
		m.Observe("k", r)
		now = now.Add(time.Second)
	}
	// window now holds 1, 1.01, 1.01, 1.01 spanning 3s
	got := m.Observe("k", 1.01)
	assert.InDelta(t, 1.0/3, got.Velocity, 1e-9)
	assert.False(t, got.Strong)
}
