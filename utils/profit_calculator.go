package utils

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/types"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"
	"go.uber.org/zap"
)

// GasPricer supplies the cached network gas price in wei
type GasPricer interface {
	GasPrice() *big.Int
	EstimateGasCost(gasUnits uint64) *big.Int
}

// ProfitParams are the raw-unit thresholds of the profitability model.
// Amounts are denominated in the base token.
type ProfitParams struct {
	FlashLoanFeeBps uint64
	// GasUnits is the gas charged for every round trip. GasForHops, when
	// set, raises it for routes with many swaps.
	GasUnits            uint64
	GasForHops          func(hops int) uint64
	MinNetProfit        *big.Int
	MaxPriceImpactBps   uint64
	ImpactSampleDivisor int64
	// FallbackGasCost is charged when the native->base conversion fails
	FallbackGasCost *big.Int
	// ReferenceVenue converts gas cost from the native token to the base token
	ReferenceVenue string
	Native         common.Address
	Base           common.Address
}

// Breakdown is the profit decomposition of one round trip
type Breakdown struct {
	RawProfit    *big.Int
	FlashLoanFee *big.Int
	GasCost      *big.Int
	NetProfit    *big.Int
}

// Profitability computes
//
//	raw = sellOut - loan
//	fee = loan * feeBps / 10000
//	net = raw - fee - gasCost
func Profitability(loan, sellOut *big.Int, flashLoanFeeBps uint64, gasCost *big.Int) Breakdown {
	raw := new(big.Int).Sub(sellOut, loan)
	fee := bigmath.Bps(loan, flashLoanFeeBps)
	gas := new(big.Int)
	if gasCost != nil {
		gas.Set(gasCost)
	}
	net := new(big.Int).Sub(raw, fee)
	net.Sub(net, gas)
	return Breakdown{RawProfit: raw, FlashLoanFee: fee, GasCost: gas, NetProfit: net}
}

// ProfitCalculator evaluates round trips against the profitability model
type ProfitCalculator struct {
	params ProfitParams
	quotes dex.QuoteSource
	gas    GasPricer
	logger *zap.Logger
}

// NewProfitCalculator creates a new profit calculator
func NewProfitCalculator(params ProfitParams, quotes dex.QuoteSource, gas GasPricer, logger *zap.Logger) *ProfitCalculator {
	if params.ImpactSampleDivisor <= 0 {
		params.ImpactSampleDivisor = 20
	}
	if params.MinNetProfit == nil {
		params.MinNetProfit = new(big.Int)
	}
	return &ProfitCalculator{
		params: params,
		quotes: quotes,
		gas:    gas,
		logger: logger.Named("profit"),
	}
}

func (p *ProfitCalculator) Params() ProfitParams {
	return p.params
}

// GasPrice returns the gas price the model is currently charging, in wei
func (p *ProfitCalculator) GasPrice() *big.Int {
	return p.gas.GasPrice()
}

// GasUnits returns the gas charged for a round trip of hops swaps
func (p *ProfitCalculator) GasUnits(hops int) uint64 {
	units := p.params.GasUnits
	if p.params.GasForHops != nil && hops > 0 {
		if n := p.params.GasForHops(hops); n > units {
			units = n
		}
	}
	return units
}

// GasCostInBase prices the execution gas of a hops-swap round trip in base
// token units
func (p *ProfitCalculator) GasCostInBase(ctx context.Context, hops int) *big.Int {
	gasWei := p.gas.EstimateGasCost(p.GasUnits(hops))
	if gasWei.Sign() == 0 || p.params.Native == p.params.Base {
		return gasWei
	}

	q, err := p.quotes.Quote(ctx, p.params.ReferenceVenue, p.params.Native, p.params.Base, gasWei)
	if err != nil {
		p.logger.Debug("Gas conversion failed, using fallback", zap.Error(err))
		return p.fallbackGasCost()
	}
	return new(big.Int).Set(q.AmountOut)
}

func (p *ProfitCalculator) fallbackGasCost() *big.Int {
	if p.params.FallbackGasCost == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.params.FallbackGasCost)
}

// ImpactBps estimates slippage of a constant-product quote by re-quoting a
// fraction of the size through the same route. Other venue kinds are
// trusted and report zero. The sample size and pool outputs are truncated
// integers, so the estimate is monotone in the trade size only to within
// one basis point.
func (p *ProfitCalculator) ImpactBps(ctx context.Context, q *types.Quote) uint64 {
	if q == nil || q.Kind != types.ConstantProduct {
		return 0
	}
	sampleIn := new(big.Int).Quo(q.AmountIn, big.NewInt(p.params.ImpactSampleDivisor))
	if sampleIn.Sign() == 0 {
		return 0
	}

	sample, err := p.quotes.QuotePath(ctx, q.Venue, q.Path, sampleIn)
	if err != nil {
		// the full-size quote succeeded on the same route moments ago
		p.logger.Debug("Impact sample failed", zap.String("venue", q.Venue), zap.Error(err))
		return 0
	}
	return bigmath.PriceImpactBps(q.AmountIn, q.AmountOut, sampleIn, sample.AmountOut)
}

// ImpactAcceptable applies the slippage ceiling
func (p *ProfitCalculator) ImpactAcceptable(bps uint64) bool {
	return bps <= p.params.MaxPriceImpactBps
}

// Evaluate computes the profit breakdown of borrowing loan, buying through
// buy and selling back through sell
func (p *ProfitCalculator) Evaluate(ctx context.Context, loan *big.Int, buy, sell *types.Quote) Breakdown {
	hops := buy.Path.Hops() + sell.Path.Hops()
	return Profitability(loan, sell.AmountOut, p.params.FlashLoanFeeBps, p.GasCostInBase(ctx, hops))
}

// Profitable applies the minimum net profit gate
func (p *ProfitCalculator) Profitable(b Breakdown) bool {
	return b.NetProfit.Cmp(p.params.MinNetProfit) > 0
}
