package arbitrage

// Signals are the inputs of an opportunity score
type Signals struct {
	// NetProfit in whole base token units
	NetProfit float64
	GasGwei   float64
	// Volatility is the absolute buy-rate velocity in %/s
	Volatility float64
	// Strong is set when the buy rate moves faster than the momentum threshold
	Strong bool
}

// Scorer rates an opportunity between 0 and 100
type Scorer interface {
	Score(s Signals) float64
}

// LinearScorer is a weighted sum of the signals around a neutral offset
type LinearScorer struct {
	Offset           float64
	ProfitWeight     float64
	GasWeight        float64
	VolatilityWeight float64
	// MomentumBonusPct boosts the profit term of strong-momentum pairs
	MomentumBonusPct float64
}

// DefaultScorer returns the stock weights
func DefaultScorer() LinearScorer {
	return LinearScorer{
		Offset:           50,
		ProfitWeight:     20,
		GasWeight:        0.1,
		VolatilityWeight: 5,
		MomentumBonusPct: 30,
	}
}

func (l LinearScorer) Score(s Signals) float64 {
	profit := l.ProfitWeight * s.NetProfit
	if s.Strong {
		profit *= 1 + l.MomentumBonusPct/100
	}
	score := l.Offset +
		profit -
		l.GasWeight*s.GasGwei -
		l.VolatilityWeight*s.Volatility
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
