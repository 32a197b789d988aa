package arbitrage

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/paths"
	"github.com/michaelpento.lv/arbengine/registry"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	usdc = types.Token{Address: common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"), Decimals: 6, Symbol: "USDC"}
	cake = types.Token{Address: common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"), Decimals: 6, Symbol: "CAKE"}
	btcb = types.Token{Address: common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c"), Decimals: 6, Symbol: "BTCB"}

	venueA = types.Venue{
		ID:      "venue_a",
		Kind:    types.ConstantProduct,
		Router:  common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
		Factory: common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"),
		FeeBps:  30,
	}
	venueB = types.Venue{
		ID:      "venue_b",
		Kind:    types.ConstantProduct,
		Router:  common.HexToAddress("0x3a6d8cA21D1CF76F653A67577FA0D27453350dD8"),
		Factory: common.HexToAddress("0x858E3312ed3A876947EA49d572A7C42DE08af7EE"),
		FeeBps:  30,
	}
)

type reserves struct {
	token, base int64
}

// poolQuotes prices swaps against fixed constant-product pools between the
// base token and each target
type poolQuotes struct {
	base  common.Address
	pools map[string]map[common.Address]reserves
}

func (p *poolQuotes) swap(venueID string, in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	venue, ok := p.pools[venueID]
	if !ok {
		return nil, dex.ErrNoQuote
	}
	switch {
	case in == p.base:
		r, ok := venue[out]
		if !ok {
			return nil, dex.ErrNoQuote
		}
		return uniswap.GetAmountOut(amountIn, big.NewInt(r.base), big.NewInt(r.token), 30), nil
	case out == p.base:
		r, ok := venue[in]
		if !ok {
			return nil, dex.ErrNoQuote
		}
		return uniswap.GetAmountOut(amountIn, big.NewInt(r.token), big.NewInt(r.base), 30), nil
	}
	return nil, dex.ErrNoQuote
}

func (p *poolQuotes) Quote(ctx context.Context, venueID string, in, out common.Address, amountIn *big.Int) (*types.Quote, error) {
	return p.QuotePath(ctx, venueID, types.Path{Tokens: []common.Address{in, out}}, amountIn)
}

func (p *poolQuotes) QuotePath(ctx context.Context, venueID string, path types.Path, amountIn *big.Int) (*types.Quote, error) {
	amount := amountIn
	for i := 0; i < path.Hops(); i++ {
		var err error
		amount, err = p.swap(venueID, path.Tokens[i], path.Tokens[i+1], amount)
		if err != nil {
			return nil, err
		}
	}
	return &types.Quote{
		Venue:     venueID,
		Kind:      types.ConstantProduct,
		Path:      path,
		AmountIn:  amountIn,
		AmountOut: amount,
	}, nil
}

// blockingQuotes holds every quote until release is closed
type blockingQuotes struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newBlockingQuotes() *blockingQuotes {
	return &blockingQuotes{release: make(chan struct{}), started: make(chan struct{})}
}

func (b *blockingQuotes) Quote(ctx context.Context, venueID string, in, out common.Address, amountIn *big.Int) (*types.Quote, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil, dex.ErrNoQuote
}

func (b *blockingQuotes) QuotePath(ctx context.Context, venueID string, path types.Path, amountIn *big.Int) (*types.Quote, error) {
	return b.Quote(ctx, venueID, path.TokenIn(), path.TokenOut(), amountIn)
}

type panickingQuotes struct{}

func (panickingQuotes) Quote(ctx context.Context, venueID string, in, out common.Address, amountIn *big.Int) (*types.Quote, error) {
	panic("boom")
}

func (panickingQuotes) QuotePath(ctx context.Context, venueID string, path types.Path, amountIn *big.Int) (*types.Quote, error) {
	panic("boom")
}

type fixedGas struct{}

func (fixedGas) GasPrice() *big.Int { return new(big.Int) }

func (fixedGas) EstimateGasCost(uint64) *big.Int { return new(big.Int) }

// units converts whole 6-decimal tokens to raw units
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type recordingExecutor struct {
	mu        sync.Mutex
	submitted []*types.Opportunity
	scans     int
}

func (r *recordingExecutor) Submit(ctx context.Context, opp *types.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, opp)
}

func (r *recordingExecutor) RecordScan(found int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans++
}

func testRegistry(t *testing.T, targets ...types.Token) *registry.Registry {
	t.Helper()
	tokens := append([]types.Token{usdc}, targets...)
	reg, err := registry.New(tokens, []types.Venue{venueA, venueB}, nil, usdc.Address, usdc.Address)
	require.NoError(t, err)
	return reg
}

func testScanner(t *testing.T, quotes dex.QuoteSource, minProfit *big.Int, cfg Config, targets ...types.Token) *Scanner {
	t.Helper()
	calc := utils.NewProfitCalculator(utils.ProfitParams{
		FlashLoanFeeBps:   9,
		GasUnits:          800_000,
		MinNetProfit:      minProfit,
		MaxPriceImpactBps: 400,
		Native:            usdc.Address,
		Base:              usdc.Address,
	}, quotes, fixedGas{}, zaptest.NewLogger(t))
	if cfg.LoanSizes == nil {
		cfg.LoanSizes = []*big.Int{units(1000)}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return NewScanner(cfg, testRegistry(t, targets...), quotes, nil, calc, zaptest.NewLogger(t))
}

func twoVenuePools() *poolQuotes {
	return &poolQuotes{
		base: usdc.Address,
		pools: map[string]map[common.Address]reserves{
			venueA.ID: {cake.Address: {token: 1_000_000_000_000, base: 2_000_000_000_000}},
			venueB.ID: {cake.Address: {token: 1_000_000_000_000, base: 2_050_000_000_000}},
		},
	}
}

func TestScanTwoVenueRoundTrip(t *testing.T) {
	ctx := context.Background()

	// buy 1000 USDC on A: 498.251621 CAKE (B would give 486.105050)
	// sell on B: 1017.845953 USDC
	// fee = 1000 * 9 / 10000 = 0.9 USDC
	// net = 17.845953 - 0.9 = 16.945953 USDC
	buyOut := uniswap.GetAmountOut(units(1000), units(2_000_000), units(1_000_000), 30)
	sellOut := uniswap.GetAmountOut(buyOut, units(1_000_000), units(2_050_000), 30)
	require.Equal(t, int64(498_251_621), buyOut.Int64())
	require.Equal(t, int64(1_017_845_953), sellOut.Int64())

	t.Run("AboveMinimum", func(t *testing.T) {
		exec := &recordingExecutor{}
		s := testScanner(t, twoVenuePools(), units(10), Config{}, cake).WithExecutor(exec)

		report, err := s.TryScan(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, Completed, report.State)
		assert.Equal(t, 1, report.Tasks)
		assert.Equal(t, 1, report.Settled)
		require.Len(t, report.Opportunities, 1)

		opp := report.Best
		assert.Equal(t, venueA.ID, opp.Buy.Venue)
		assert.Equal(t, venueB.ID, opp.Sell.Venue)
		assert.Equal(t, units(1000), opp.LoanAmount)
		assert.Equal(t, big.NewInt(17_845_953), opp.RawProfit)
		assert.Equal(t, big.NewInt(900_000), opp.FlashLoanFee)
		assert.Equal(t, 0, opp.GasCost.Sign())
		assert.Equal(t, big.NewInt(16_945_953), opp.NetProfit)
		assert.LessOrEqual(t, opp.CombinedImpactBps(), uint64(10))
		assert.Equal(t, cake, opp.Target)
		assert.True(t, report.Submitted)
		assert.Len(t, exec.submitted, 1)
		assert.Equal(t, 1, exec.scans)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		exec := &recordingExecutor{}
		// raw profit clears 17 USDC, the flash loan fee pulls net below it
		s := testScanner(t, twoVenuePools(), units(17), Config{}, cake).WithExecutor(exec)

		report, err := s.TryScan(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, report.Opportunities)
		assert.Nil(t, report.Best)
		assert.Empty(t, exec.submitted)
	})

	t.Run("NearMissNotExecuted", func(t *testing.T) {
		exec := &recordingExecutor{}
		s := testScanner(t, twoVenuePools(), units(10), Config{ExecuteThreshold: units(50)}, cake).WithExecutor(exec)

		report, err := s.TryScan(ctx, 100)
		require.NoError(t, err)
		require.NotNil(t, report.Best)
		assert.False(t, report.Submitted)
		assert.Empty(t, exec.submitted)
	})

	t.Run("ScoreGate", func(t *testing.T) {
		s := testScanner(t, twoVenuePools(), units(10), Config{MinScore: 101}, cake)
		report, err := s.TryScan(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, report.Opportunities)
	})
}

func TestScanNeedsTwoQuotingVenues(t *testing.T) {
	quotes := &poolQuotes{
		base: usdc.Address,
		pools: map[string]map[common.Address]reserves{
			venueA.ID: {cake.Address: {token: 1_000_000, base: 2_000_000}},
		},
	}
	s := testScanner(t, quotes, new(big.Int), Config{}, cake)

	report, err := s.TryScan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.State)
	assert.Empty(t, report.Opportunities)
}

func TestBestQuote(t *testing.T) {
	q := func(venue string, out int64) *types.Quote {
		return &types.Quote{Venue: venue, AmountOut: big.NewInt(out)}
	}

	tests := []struct {
		name      string
		quotes    []*types.Quote
		wantIdx   int
		wantCount int
	}{
		{"HigherOutputWins", []*types.Quote{q("a", 500), q("b", 480)}, 0, 2},
		{"LaterHigherOutputWins", []*types.Quote{q("a", 480), nil, q("c", 500)}, 2, 2},
		{"TieKeepsRegistryOrder", []*types.Quote{nil, q("b", 500), q("c", 500)}, 1, 2},
		{"NoQuotes", []*types.Quote{nil, nil}, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, count := bestQuote(tt.quotes)
			assert.Equal(t, tt.wantIdx, idx)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestTryScanDropsDuplicateBlocks(t *testing.T) {
	ctx := context.Background()
	s := testScanner(t, twoVenuePools(), units(10), Config{}, cake)

	_, err := s.TryScan(ctx, 5)
	require.NoError(t, err)

	_, err = s.TryScan(ctx, 5)
	assert.True(t, errors.Is(err, ErrStaleBlock))
	_, err = s.TryScan(ctx, 4)
	assert.True(t, errors.Is(err, ErrStaleBlock))

	_, err = s.TryScan(ctx, 6)
	assert.NoError(t, err)

	// timer ticks carry no block number
	_, err = s.TryScan(ctx, 0)
	assert.NoError(t, err)
}

func TestTryScanSingleFlight(t *testing.T) {
	ctx := context.Background()
	quotes := newBlockingQuotes()
	s := testScanner(t, quotes, new(big.Int), Config{Timeout: 5 * time.Second}, cake)

	done := make(chan *CycleReport)
	go func() {
		report, err := s.TryScan(ctx, 10)
		assert.NoError(t, err)
		done <- report
	}()

	<-quotes.started
	assert.Equal(t, Running, s.State())

	_, err := s.TryScan(ctx, 11)
	assert.True(t, errors.Is(err, ErrScanInProgress))

	close(quotes.release)
	report := <-done
	assert.Equal(t, Completed, report.State)

	// the dropped trigger was not queued; block 11 is still new
	_, err = s.TryScan(ctx, 11)
	assert.NoError(t, err)
}

func TestTryScanTimeout(t *testing.T) {
	quotes := newBlockingQuotes()
	defer close(quotes.release)

	s := testScanner(t, quotes, new(big.Int), Config{Timeout: 50 * time.Millisecond}, cake, btcb)

	start := time.Now()
	report, err := s.TryScan(context.Background(), 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, TimedOut, report.State)
	assert.Equal(t, TimedOut, s.State())
	assert.Equal(t, 2, report.Tasks)
	assert.Equal(t, 0, report.Settled)
	assert.Empty(t, report.Opportunities)

	// a timed out cycle does not block the next trigger
	_, err = s.TryScan(context.Background(), 2)
	assert.NoError(t, err)
}

func TestTryScanIsolatesPanics(t *testing.T) {
	s := testScanner(t, panickingQuotes{}, new(big.Int), Config{}, cake, btcb)

	report, err := s.TryScan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.State)
	assert.Equal(t, 2, report.Settled)
	assert.Empty(t, report.Opportunities)
}

func TestPlanAddsCyclesOnSchedule(t *testing.T) {
	s := testScanner(t, twoVenuePools(), new(big.Int), Config{MultiHopEvery: 3}, cake, btcb)
	s.WithPaths(paths.NewGenerator(nil, []common.Address{usdc.Address, cake.Address, btcb.Address}, 0))

	assert.Len(t, s.plan(1), 2)
	tasks := s.plan(3)
	require.Len(t, tasks, 3)

	cycle := tasks[2]
	require.NotNil(t, cycle.cycle)
	assert.Equal(t, []common.Address{usdc.Address, cake.Address, btcb.Address, usdc.Address}, cycle.cycle.Tokens)
	assert.Equal(t, btcb, cycle.target)
	assert.Equal(t, units(1000), cycle.loan)
}

func TestEvaluateCycleSplitsPath(t *testing.T) {
	// CAKE/BTCB has no pool, so the buy leg of the cycle is unquotable
	s := testScanner(t, twoVenuePools(), new(big.Int), Config{}, cake, btcb)
	c := types.Path{Tokens: []common.Address{usdc.Address, cake.Address, btcb.Address, usdc.Address}}
	assert.Nil(t, s.evaluateCycle(context.Background(), task{target: btcb, loan: units(1000), cycle: &c}))
}

func TestRunDropsTriggersDuringCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := testScanner(t, twoVenuePools(), units(10), Config{}, cake)
	triggers := make(chan uint64)

	var mu sync.Mutex
	var blocks []uint64
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, triggers, func(r *CycleReport) {
			mu.Lock()
			defer mu.Unlock()
			blocks = append(blocks, r.Block)
		})
	}()

	triggers <- 7
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocks) == 1
	}, time.Second, 5*time.Millisecond)

	triggers <- 7
	triggers <- 8
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocks) == 2
	}, time.Second, 5*time.Millisecond)

	close(triggers)
	require.NoError(t, <-errc)
	assert.Equal(t, []uint64{7, 8}, blocks)
}
