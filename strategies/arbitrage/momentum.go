package arbitrage

import (
	"math"
	"sync"
	"time"
)

// Momentum reading for one pair
type Momentum struct {
	// Velocity is the rate change over the window in percent per second
	Velocity float64
	Strong   bool
}

type ratePoint struct {
	rate float64
	at   time.Time
}

// MomentumTracker keeps a short rolling window of observed rates per pair
// and reports how fast the rate is moving.
type MomentumTracker struct {
	window    int
	minPoints int
	threshold float64
	now       func() time.Time

	mu      sync.Mutex
	history map[string][]ratePoint
}

// NewMomentumTracker creates a tracker. threshold is the |velocity| in %/s
// above which a move counts as strong.
func NewMomentumTracker(window int, threshold float64) *MomentumTracker {
	if window < 2 {
		window = 10
	}
	minPoints := window / 2
	if minPoints < 2 {
		minPoints = 2
	}
	return &MomentumTracker{
		window:    window,
		minPoints: minPoints,
		threshold: threshold,
		now:       time.Now,
		history:   make(map[string][]ratePoint),
	}
}

// Observe records rate for key and returns the current reading. Until the
// window holds enough points the velocity is zero.
func (m *MomentumTracker) Observe(key string, rate float64) Momentum {
	if m == nil || rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return Momentum{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := append(m.history[key], ratePoint{rate: rate, at: m.now()})
	if len(h) > m.window {
		h = h[len(h)-m.window:]
	}
	m.history[key] = h

	if len(h) < m.minPoints {
		return Momentum{}
	}
	first, last := h[0], h[len(h)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return Momentum{}
	}

	velocity := (last.rate - first.rate) / first.rate * 100 / elapsed
	return Momentum{
		Velocity: velocity,
		Strong:   math.Abs(velocity) > m.threshold,
	}
}
