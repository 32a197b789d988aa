package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/paths"
	"github.com/michaelpento.lv/arbengine/registry"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrScanInProgress is returned when a trigger arrives while a cycle is running
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrStaleBlock is returned for a block that is not newer than the last one scanned
	ErrStaleBlock = errors.New("block already processed")
)

// CycleState is the state of the scanner's most recent cycle
type CycleState int

const (
	Idle CycleState = iota
	Running
	Completed
	TimedOut
)

func (s CycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Executor receives the winning opportunity of a cycle
type Executor interface {
	// Submit hands the opportunity over without waiting for the outcome
	Submit(ctx context.Context, opp *types.Opportunity)
	RecordScan(found int)
}

// Clearer empties a cache at the start of every cycle
type Clearer interface {
	Clear()
}

// Config tunes a scanner
type Config struct {
	// LoanSizes is the size ladder, in raw base token units
	LoanSizes []*big.Int
	// Timeout bounds a cycle. Tasks still running when it fires are abandoned.
	Timeout     time.Duration
	Concurrency int
	// ExecuteThreshold is the net profit above which the best opportunity
	// is executed. Nil executes anything that passes the gates.
	ExecuteThreshold *big.Int
	MinScore         float64
	// MultiHopEvery runs the round-trip cycle pass every N scans. 0 disables it.
	MultiHopEvery int
	MultiHopSize  *big.Int
}

// CycleReport summarizes one scan cycle
type CycleReport struct {
	ID            uuid.UUID
	Block         uint64
	Scan          uint64
	State         CycleState
	Tasks         int
	Settled       int
	Opportunities []*types.Opportunity
	Best          *types.Opportunity
	Submitted     bool
	StartedAt     time.Time
	Duration      time.Duration
}

// Scanner runs scan cycles: every (token, size) pair is priced on every
// venue and turned into at most one opportunity. Only one cycle runs at a time.
type Scanner struct {
	cfg       Config
	registry  *registry.Registry
	quotes    dex.QuoteSource
	clearer   Clearer
	calc      *utils.ProfitCalculator
	paths     *paths.Generator
	scorer    Scorer
	momentum  *MomentumTracker
	imbalance *ImbalanceDetector
	executor  Executor
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger

	mu        sync.Mutex
	state     CycleState
	lastBlock uint64
	scans     uint64
}

type task struct {
	target types.Token
	loan   *big.Int
	// cycle is set for round-trip tasks
	cycle *types.Path
	// sized tasks take their loan from the imbalance detector
	sized bool
}

// legQuoter quotes one leg of a round trip on a venue
type legQuoter func(ctx context.Context, venueID string, amountIn *big.Int) (*types.Quote, error)

// NewScanner creates a scanner. clearer may be nil.
func NewScanner(cfg Config, reg *registry.Registry, quotes dex.QuoteSource, clearer Clearer, calc *utils.ProfitCalculator, logger *zap.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2500 * time.Millisecond
	}
	return &Scanner{
		cfg:      cfg,
		registry: reg,
		quotes:   quotes,
		clearer:  clearer,
		calc:     calc,
		scorer:   DefaultScorer(),
		logger:   logger.Named("scanner"),
	}
}

// WithPaths enables the multi-hop pass
func (s *Scanner) WithPaths(g *paths.Generator) *Scanner {
	s.paths = g
	return s
}

func (s *Scanner) WithScorer(scorer Scorer) *Scanner {
	s.scorer = scorer
	return s
}

func (s *Scanner) WithMomentum(m *MomentumTracker) *Scanner {
	s.momentum = m
	return s
}

// WithImbalance adds one task per token sized from pool reserve drift
func (s *Scanner) WithImbalance(d *ImbalanceDetector) *Scanner {
	s.imbalance = d
	return s
}

func (s *Scanner) WithExecutor(e Executor) *Scanner {
	s.executor = e
	return s
}

func (s *Scanner) WithMetrics(m *metrics.EngineMetrics) *Scanner {
	s.metrics = m
	return s
}

// State returns the state of the latest cycle
func (s *Scanner) State() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TryScan runs one cycle for block. Block 0 means the trigger carries no
// block number and skips the staleness check. Triggers that arrive while a
// cycle is running are dropped, never queued.
func (s *Scanner) TryScan(ctx context.Context, block uint64) (*CycleReport, error) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		s.metrics.ObserveScan(metrics.ScanDropped, 0)
		return nil, ErrScanInProgress
	}
	if block != 0 && block <= s.lastBlock {
		s.mu.Unlock()
		s.metrics.ObserveScan(metrics.ScanDropped, 0)
		return nil, fmt.Errorf("block %d: %w", block, ErrStaleBlock)
	}
	if block != 0 {
		s.lastBlock = block
	}
	s.state = Running
	s.scans++
	scan := s.scans
	s.mu.Unlock()

	report := s.runCycle(ctx, block, scan)

	s.mu.Lock()
	s.state = report.State
	s.mu.Unlock()
	return report, nil
}

func (s *Scanner) runCycle(ctx context.Context, block, scan uint64) *CycleReport {
	report := &CycleReport{
		ID:        uuid.New(),
		Block:     block,
		Scan:      scan,
		StartedAt: time.Now(),
	}
	logger := s.logger.With(zap.String("cycle", report.ID.String()), zap.Uint64("block", block))

	if s.clearer != nil {
		s.clearer.Clear()
	}

	tasks := s.plan(scan)
	report.Tasks = len(tasks)

	// buffered so tasks finishing after the timeout never block
	results := make(chan *types.Opportunity, len(tasks))
	abandoned := make(chan struct{})

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	go func() {
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				select {
				case <-abandoned:
					return nil
				default:
				}
				results <- s.runTask(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	var found []*types.Opportunity
collect:
	for {
		select {
		case opp, ok := <-results:
			if !ok {
				report.State = Completed
				break collect
			}
			report.Settled++
			s.metrics.ObserveTask(metrics.TaskSettled)
			if opp != nil {
				found = append(found, opp)
			}
		case <-timer.C:
			report.State = TimedOut
			break collect
		case <-ctx.Done():
			report.State = TimedOut
			break collect
		}
	}
	close(abandoned)

	for i := report.Settled; i < report.Tasks; i++ {
		s.metrics.ObserveTask(metrics.TaskAbandoned)
	}

	report.Opportunities = Rank(found)
	report.Best = Best(report.Opportunities)
	report.Duration = time.Since(report.StartedAt)

	outcome := metrics.ScanCompleted
	if report.State == TimedOut {
		outcome = metrics.ScanTimedOut
		logger.Warn("Scan timed out",
			zap.Int("settled", report.Settled),
			zap.Int("tasks", report.Tasks),
			zap.Duration("timeout", s.cfg.Timeout))
	}
	s.metrics.ObserveScan(outcome, report.Duration)
	s.metrics.ObserveOpportunities(len(report.Opportunities))

	if report.Best != nil {
		report.Submitted = s.dispatch(ctx, logger, report.Best)
	} else {
		logger.Debug("No opportunity",
			zap.Int("settled", report.Settled),
			zap.Duration("took", report.Duration))
	}
	if s.executor != nil {
		s.executor.RecordScan(len(report.Opportunities))
	}
	return report
}

// dispatch hands best to the executor when it clears the execution threshold
func (s *Scanner) dispatch(ctx context.Context, logger *zap.Logger, best *types.Opportunity) bool {
	base := best.Base
	fields := []zap.Field{
		zap.String("route", best.Route()),
		zap.String("loan", bigmath.FormatUnits(best.LoanAmount, base.Decimals)),
		zap.String("net_profit", bigmath.FormatUnits(best.NetProfit, base.Decimals)),
		zap.Uint64("impact_bps", best.CombinedImpactBps()),
		zap.Float64("score", best.Score),
	}

	if s.cfg.ExecuteThreshold != nil && best.NetProfit.Cmp(s.cfg.ExecuteThreshold) < 0 {
		logger.Info("Near miss", fields...)
		return false
	}
	logger.Info("Opportunity found", fields...)
	if s.executor == nil {
		return false
	}
	s.executor.Submit(ctx, best)
	return true
}

func (s *Scanner) plan(scan uint64) []task {
	var tasks []task
	for _, tok := range s.registry.ScanTokens() {
		for _, size := range s.cfg.LoanSizes {
			tasks = append(tasks, task{target: tok, loan: size})
		}
		if s.imbalance != nil {
			tasks = append(tasks, task{target: tok, sized: true})
		}
	}

	if s.paths == nil || s.cfg.MultiHopEvery <= 0 || scan%uint64(s.cfg.MultiHopEvery) != 0 {
		return tasks
	}
	size := s.cfg.MultiHopSize
	if size == nil && len(s.cfg.LoanSizes) > 0 {
		size = s.cfg.LoanSizes[0]
	}
	if size == nil {
		return tasks
	}
	for _, c := range s.paths.Cycles(s.registry.Base().Address) {
		c := c
		target, ok := s.registry.Token(c.Tokens[len(c.Tokens)/2])
		if !ok {
			continue
		}
		tasks = append(tasks, task{target: target, loan: size, cycle: &c})
	}
	return tasks
}

// runTask never fails: errors and panics become "no opportunity"
func (s *Scanner) runTask(ctx context.Context, t task) (opp *types.Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scan task panicked",
				zap.String("token", t.target.Symbol),
				zap.String("loan", t.loan.String()),
				zap.Any("panic", r))
			s.metrics.ObserveTask(metrics.TaskPanicked)
			opp = nil
		}
	}()

	if t.cycle != nil {
		return s.evaluateCycle(ctx, t)
	}
	if t.sized {
		return s.evaluateImbalance(ctx, t.target)
	}
	return s.evaluatePair(ctx, t.target, t.loan)
}

// evaluateImbalance prices a round trip at the size suggested by a pool
// whose reserves moved since the previous scan
func (s *Scanner) evaluateImbalance(ctx context.Context, target types.Token) *types.Opportunity {
	base := s.registry.Base()
	imb := s.imbalance.Detect(ctx, base, target)
	if imb == nil {
		return nil
	}
	s.logger.Info("Pool imbalance",
		zap.String("venue", imb.Venue),
		zap.String("token", target.Symbol),
		zap.Uint64("drift_bps", imb.DriftBps),
		zap.String("size", bigmath.FormatUnits(imb.Size, base.Decimals)))
	return s.evaluatePair(ctx, target, imb.Size)
}

func (s *Scanner) evaluatePair(ctx context.Context, target types.Token, loan *big.Int) *types.Opportunity {
	base := s.registry.Base().Address
	buy := func(ctx context.Context, venueID string, amountIn *big.Int) (*types.Quote, error) {
		return s.quotes.Quote(ctx, venueID, base, target.Address, amountIn)
	}
	sell := func(ctx context.Context, venueID string, amountIn *big.Int) (*types.Quote, error) {
		return s.quotes.Quote(ctx, venueID, target.Address, base, amountIn)
	}
	return s.roundTrip(ctx, s.registry.Venues(), target, loan, buy, sell)
}

// evaluateCycle splits a round trip path in half: the first half is bought
// on one venue and the second half sold on another
func (s *Scanner) evaluateCycle(ctx context.Context, t task) *types.Opportunity {
	mid := len(t.cycle.Tokens) / 2
	buyPath := types.Path{Tokens: t.cycle.Tokens[:mid+1]}
	sellPath := types.Path{Tokens: t.cycle.Tokens[mid:]}

	var venues []types.Venue
	for _, v := range s.registry.Venues() {
		if v.Kind == types.ConstantProduct {
			venues = append(venues, v)
		}
	}

	buy := func(ctx context.Context, venueID string, amountIn *big.Int) (*types.Quote, error) {
		return s.quotes.QuotePath(ctx, venueID, buyPath, amountIn)
	}
	sell := func(ctx context.Context, venueID string, amountIn *big.Int) (*types.Quote, error) {
		return s.quotes.QuotePath(ctx, venueID, sellPath, amountIn)
	}
	return s.roundTrip(ctx, venues, t.target, t.loan, buy, sell)
}

func (s *Scanner) roundTrip(ctx context.Context, venues []types.Venue, target types.Token, loan *big.Int, buyLeg, sellLeg legQuoter) *types.Opportunity {
	buys := s.quoteVenues(ctx, venues, "", loan, buyLeg)
	buyIdx, count := bestQuote(buys)
	if count < 2 {
		return nil
	}
	buy := buys[buyIdx]

	sells := s.quoteVenues(ctx, venues, buy.Venue, buy.AmountOut, sellLeg)
	sellIdx, _ := bestQuote(sells)
	if sellIdx < 0 {
		return nil
	}
	sell := sells[sellIdx]

	base := s.registry.Base()
	momentum := s.momentum.Observe(momentumKey(base, target, loan), rate(buy, base, target))

	buyImpact := s.calc.ImpactBps(ctx, buy)
	if !s.calc.ImpactAcceptable(buyImpact) {
		s.logger.Debug("Buy impact too high",
			zap.String("token", target.Symbol),
			zap.String("venue", buy.Venue),
			zap.Uint64("impact_bps", buyImpact))
		return nil
	}
	sellImpact := s.calc.ImpactBps(ctx, sell)
	if !s.calc.ImpactAcceptable(sellImpact) {
		s.logger.Debug("Sell impact too high",
			zap.String("token", target.Symbol),
			zap.String("venue", sell.Venue),
			zap.Uint64("impact_bps", sellImpact))
		return nil
	}

	b := s.calc.Evaluate(ctx, loan, buy, sell)
	if !s.calc.Profitable(b) {
		return nil
	}

	opp := &types.Opportunity{
		Base:          base,
		Target:        target,
		LoanAmount:    loan,
		Buy:           buy,
		Sell:          sell,
		RawProfit:     b.RawProfit,
		FlashLoanFee:  b.FlashLoanFee,
		GasCost:       b.GasCost,
		NetProfit:     b.NetProfit,
		BuyImpactBps:  buyImpact,
		SellImpactBps: sellImpact,
		DetectedAt:    time.Now(),
	}
	if s.scorer != nil {
		opp.Score = s.scorer.Score(Signals{
			NetProfit:  bigmath.ToDecimal(b.NetProfit, base.Decimals).InexactFloat64(),
			GasGwei:    gwei(s.calc.GasPrice()),
			Volatility: abs(momentum.Velocity),
			Strong:     momentum.Strong,
		})
		if opp.Score < s.cfg.MinScore {
			s.logger.Debug("Score below minimum",
				zap.String("route", opp.Route()),
				zap.Float64("score", opp.Score))
			return nil
		}
	}
	return opp
}

// quoteVenues quotes a leg on every venue except skip, in parallel. The
// result is indexed like venues; a nil entry means the venue had no quote.
func (s *Scanner) quoteVenues(ctx context.Context, venues []types.Venue, skip string, amountIn *big.Int, leg legQuoter) []*types.Quote {
	quotes := make([]*types.Quote, len(venues))
	var wg sync.WaitGroup
	for i, v := range venues {
		if v.ID == skip {
			continue
		}
		wg.Add(1)
		go func(i int, venueID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Quote panicked", zap.String("venue", venueID), zap.Any("panic", r))
				}
			}()
			q, err := leg(ctx, venueID, amountIn)
			if err != nil || q == nil || q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
				return
			}
			quotes[i] = q
		}(i, v.ID)
	}
	wg.Wait()
	return quotes
}

// bestQuote returns the index of the largest output, earliest venue on
// ties, and how many venues quoted at all
func bestQuote(quotes []*types.Quote) (best, count int) {
	best = -1
	for i, q := range quotes {
		if q == nil {
			continue
		}
		count++
		if best < 0 || q.AmountOut.Cmp(quotes[best].AmountOut) > 0 {
			best = i
		}
	}
	return best, count
}

func momentumKey(base, target types.Token, loan *big.Int) string {
	return base.Symbol + "/" + target.Symbol + "/" + loan.String()
}

// rate is the buy price in whole units of target per base
func rate(q *types.Quote, base, target types.Token) float64 {
	in := bigmath.ToDecimal(q.AmountIn, base.Decimals)
	if in.IsZero() {
		return 0
	}
	return bigmath.ToDecimal(q.AmountOut, target.Decimals).Div(in).InexactFloat64()
}

func gwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.GWei)).Float64()
	return f
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
