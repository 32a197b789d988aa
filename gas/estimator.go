package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"go.uber.org/zap"
)

// Client is the node API the estimator reads from
type Client interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator caches the network gas price and refreshes it in the
// background so scan cycles never wait on it
type Estimator struct {
	client        Client
	logger        *zap.Logger
	metrics       *metrics.EngineMetrics
	gasPrice      *big.Int
	tipCap        *big.Int
	interval      time.Duration
	multiplierPct uint64
	mu            sync.RWMutex
	wg            sync.WaitGroup
}

// NewEstimator creates an estimator seeded with defaultGasPrice.
// multiplierPct scales fee caps for submitted transactions (130 = +30%).
func NewEstimator(client Client, defaultGasPrice *big.Int, interval time.Duration, multiplierPct uint64, logger *zap.Logger, m *metrics.EngineMetrics) *Estimator {
	if multiplierPct == 0 {
		multiplierPct = 100
	}
	seed := new(big.Int)
	if defaultGasPrice != nil {
		seed.Set(defaultGasPrice)
	}
	return &Estimator{
		client:        client,
		logger:        logger.Named("gas"),
		metrics:       m,
		gasPrice:      seed,
		tipCap:        new(big.Int).Set(seed),
		interval:      interval,
		multiplierPct: multiplierPct,
	}
}

// Start fetches the price once, then refreshes it in the background until
// ctx is done. It returns as soon as the first fetch completes.
func (e *Estimator) Start(ctx context.Context) {
	if err := e.Update(ctx); err != nil {
		e.logger.Warn("Failed to fetch initial gas price, using default", zap.Error(err))
	}
	if e.interval <= 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Update(ctx); err != nil {
					e.logger.Warn("Failed to update gas price", zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until the refresh loop has exited
func (e *Estimator) Wait() {
	e.wg.Wait()
}

// Update fetches the latest prices. The previous value is kept on error.
func (e *Estimator) Update(ctx context.Context) error {
	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		// legacy chains: the whole price is the tip
		tip = new(big.Int).Set(price)
	}

	e.mu.Lock()
	e.gasPrice = price
	e.tipCap = tip
	e.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(params.GWei)).Float64()
	e.metrics.SetGasPriceGwei(gwei)
	e.logger.Debug("Gas price updated", zap.String("gas_price", price.String()), zap.String("tip_cap", tip.String()))
	return nil
}

// GasPrice returns the cached gas price in wei
func (e *Estimator) GasPrice() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.gasPrice)
}

// EstimateGasCost returns gasUnits priced at the cached gas price
func (e *Estimator) EstimateGasCost(gasUnits uint64) *big.Int {
	cost := e.GasPrice()
	return cost.Mul(cost, new(big.Int).SetUint64(gasUnits))
}

// FeeCaps returns the EIP-1559 fee cap and tip cap for a submission, both
// scaled by the configured multiplier
func (e *Estimator) FeeCaps() (feeCap, tipCap *big.Int) {
	e.mu.RLock()
	price := new(big.Int).Set(e.gasPrice)
	tip := new(big.Int).Set(e.tipCap)
	e.mu.RUnlock()

	mult := new(big.Int).SetUint64(e.multiplierPct)
	hundred := big.NewInt(100)
	feeCap = price.Mul(price, mult)
	feeCap.Quo(feeCap, hundred)
	tipCap = tip.Mul(tip, mult)
	tipCap.Quo(tipCap, hundred)
	if feeCap.Cmp(tipCap) < 0 {
		feeCap = new(big.Int).Set(tipCap)
	}
	return feeCap, tipCap
}

// EstimateArbitrageGas estimates gas for a flash loan round trip with the
// given number of swaps
func EstimateArbitrageGas(numHops int) uint64 {
	// flash loan request, callback and repayment
	baseCost := uint64(180000)

	// Cost per DEX hop (approximate)
	// - Storage reads (~2000)
	// - Token transfers (~50000)
	// - Swap execution (~100000)
	costPerHop := uint64(152000)

	return baseCost + costPerHop*uint64(numHops)
}
