package arbitrage

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/types"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"
	"go.uber.org/zap"
)

// ReserveReader reads the reserves of a constant-product pool
type ReserveReader interface {
	Venue() types.Venue
	Reserves(ctx context.Context, a, b common.Address) (reserveA, reserveB *big.Int, err error)
}

// Imbalance is a pool whose invariant moved between two scans
type Imbalance struct {
	Venue    string
	DriftBps uint64
	// Size is the suggested loan in raw base units
	Size *big.Int
}

// ImbalanceDetector watches k = reserveBase * reserveTarget per pool across
// scans. A drift above the threshold flags the pool and suggests a loan size
// that stays within the price impact ceiling.
type ImbalanceDetector struct {
	readers       []ReserveReader
	thresholdBps  uint64
	maxImpactBps  uint64
	sampleDivisor int64
	logger        *zap.Logger

	mu sync.Mutex
	k  map[string]*big.Int
}

// NewImbalanceDetector creates a detector. thresholdBps defaults to 50 (0.5%).
func NewImbalanceDetector(readers []ReserveReader, thresholdBps, maxImpactBps uint64, sampleDivisor int64, logger *zap.Logger) *ImbalanceDetector {
	if thresholdBps == 0 {
		thresholdBps = 50
	}
	if sampleDivisor <= 0 {
		sampleDivisor = 20
	}
	return &ImbalanceDetector{
		readers:       readers,
		thresholdBps:  thresholdBps,
		maxImpactBps:  maxImpactBps,
		sampleDivisor: sampleDivisor,
		logger:        logger.Named("imbalance"),
		k:             make(map[string]*big.Int),
	}
}

// Detect reads every pool of base and target and returns the one with the
// largest drift above the threshold, or nil. The first reading of a pool
// only records it.
func (d *ImbalanceDetector) Detect(ctx context.Context, base, target types.Token) *Imbalance {
	var best *Imbalance
	for _, r := range d.readers {
		venue := r.Venue()
		reserveBase, reserveTarget, err := r.Reserves(ctx, base.Address, target.Address)
		if err != nil {
			d.logger.Debug("Reserves unavailable",
				zap.String("venue", venue.ID),
				zap.String("token", target.Symbol),
				zap.Error(err))
			continue
		}

		drift, ok := d.observe(venue.ID+"/"+base.Symbol+"/"+target.Symbol, reserveBase, reserveTarget)
		if !ok || drift <= d.thresholdBps {
			continue
		}
		size := d.suggestSize(reserveBase, reserveTarget, venue.FeeBps)
		if size == nil {
			continue
		}
		if best == nil || drift > best.DriftBps {
			best = &Imbalance{Venue: venue.ID, DriftBps: drift, Size: size}
		}
	}
	return best
}

// observe stores the new k and returns its drift from the previous reading
func (d *ImbalanceDetector) observe(key string, reserveA, reserveB *big.Int) (uint64, bool) {
	k := new(big.Int).Mul(reserveA, reserveB)

	d.mu.Lock()
	prev := d.k[key]
	d.k[key] = k
	d.mu.Unlock()

	if prev == nil || prev.Sign() == 0 {
		return 0, false
	}
	delta := new(big.Int).Sub(k, prev)
	delta.Abs(delta)
	delta.Mul(delta, big.NewInt(bigmath.BpsDenominator))
	delta.Quo(delta, prev)
	if !delta.IsUint64() {
		return bigmath.BpsDenominator, true
	}
	return delta.Uint64(), true
}

// suggestSize starts at 1% of the base reserve and halves until the local
// price impact is acceptable
func (d *ImbalanceDetector) suggestSize(reserveBase, reserveTarget *big.Int, feeBps uint32) *big.Int {
	size := new(big.Int).Quo(reserveBase, big.NewInt(100))
	for size.Sign() > 0 {
		sample := new(big.Int).Quo(size, big.NewInt(d.sampleDivisor))
		if sample.Sign() == 0 {
			return nil
		}
		out := uniswap.GetAmountOut(size, reserveBase, reserveTarget, feeBps)
		sampleOut := uniswap.GetAmountOut(sample, reserveBase, reserveTarget, feeBps)
		if bigmath.PriceImpactBps(size, out, sample, sampleOut) <= d.maxImpactBps {
			return size
		}
		size.Rsh(size, 1)
	}
	return nil
}
