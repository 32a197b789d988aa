package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/michaelpento.lv/arbengine/cache"
	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/dex/oneinch"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/dex/uniswapv3"
	"github.com/michaelpento.lv/arbengine/flashloan"
	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/paths"
	"github.com/michaelpento.lv/arbengine/registry"
	"github.com/michaelpento.lv/arbengine/simulator"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"github.com/michaelpento.lv/arbengine/utils/monitor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const metricsNamespace = "arbengine"

// Bot wires the scan engine to the chain
type Bot struct {
	cfg         *config.Config
	registry    *registry.Registry
	client      *chain.Client
	heads       *chain.Client
	provider    *dex.Provider
	estimator   *gas.Estimator
	calc        *utils.ProfitCalculator
	coordinator *flashloan.Coordinator
	scanner     *arbitrage.Scanner
	monitor     *monitor.SystemMonitor
	promReg     *prometheus.Registry
	metrics     *metrics.EngineMetrics
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// New dials the node and builds every component. It does not start any
// background work.
func New(ctx context.Context, cfg *config.Config, secrets *config.Secrets, logger *zap.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if secrets == nil {
		secrets = &config.Secrets{}
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	base := reg.Base()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewEngineMetrics(promReg, metricsNamespace)
	mon, err := monitor.NewSystemMonitor(promReg, metricsNamespace, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create system monitor: %w", err)
	}

	client, err := chain.Dial(ctx, cfg.RPCEndpoint, cfg.ChainID, rpcOptions(cfg.RPCRateLimit), logger)
	if err != nil {
		return nil, err
	}
	b := &Bot{
		cfg:      cfg,
		registry: reg,
		client:   client,
		monitor:  mon,
		promReg:  promReg,
		metrics:  m,
		logger:   logger,
	}

	if cfg.WSEndpoint != "" {
		heads, err := chain.Dial(ctx, cfg.WSEndpoint, cfg.ChainID, rpcOptions(cfg.RPCRateLimit), logger)
		if err != nil {
			logger.Warn("Websocket endpoint unavailable, polling for heads", zap.Error(err))
		} else {
			b.heads = heads
		}
	}

	universe, err := cfg.MultiHopUniverse(reg)
	if err != nil {
		b.Close()
		return nil, err
	}
	generator := paths.NewGenerator(reg.Bridges(), universe, cfg.MultiHop.Candidates)

	quoters, reserves, err := b.buildQuoters(generator, secrets.AggregatorAPIKey)
	if err != nil {
		b.Close()
		return nil, err
	}

	quoteCache, err := cache.NewQuoteCache(cfg.Scan.QuoteTTL, cfg.Scan.CacheSize)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.provider, err = dex.NewProvider(quoters, quoteCache, cfg.Scan.RequestTimeout, m, logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	defaultGasPrice, err := cfg.DefaultGasPrice()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.estimator = gas.NewEstimator(client, defaultGasPrice, cfg.Gas.RefreshInterval, cfg.Gas.FeeMultiplierPct, logger, m)

	params, err := cfg.ProfitParams(reg)
	if err != nil {
		b.Close()
		return nil, err
	}
	params.GasForHops = gas.EstimateArbitrageGas
	b.calc = utils.NewProfitCalculator(params, b.provider, b.estimator, logger)

	kinds, err := cfg.SupportedKinds()
	if err != nil {
		b.Close()
		return nil, err
	}
	key := secrets.PrivateKey
	if !cfg.Execution.Enabled {
		key = nil
	} else if key == nil {
		b.Close()
		return nil, fmt.Errorf("execution is enabled but %s is not set", config.EnvPrivateKey)
	}
	b.coordinator, err = flashloan.NewCoordinator(ctx, flashloan.Options{
		Contract:       common.HexToAddress(cfg.Execution.Contract),
		ChainID:        client.ChainID(),
		GasLimit:       cfg.Execution.GasLimit,
		Cooldown:       cfg.Execution.Cooldown,
		ConfirmTimeout: cfg.Execution.ConfirmTimeout,
		Confirmations:  cfg.Execution.Confirmations,
		SupportedKinds: kinds,
		DryRun:         !cfg.Execution.Enabled,
	}, client, simulator.NewSimulator(client, cfg.Execution.GasLimit), b.estimator, reg, key, m, logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	scanCfg, err := b.scannerConfig(base)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.scanner = arbitrage.NewScanner(scanCfg, reg, b.provider, quoteCache, b.calc, logger).
		WithPaths(generator).
		WithScorer(arbitrage.LinearScorer{
			Offset:           cfg.Scoring.Offset,
			ProfitWeight:     cfg.Scoring.ProfitWeight,
			GasWeight:        cfg.Scoring.GasWeight,
			VolatilityWeight: cfg.Scoring.VolatilityWeight,
			MomentumBonusPct: cfg.Scoring.MomentumBonusPct,
		}).
		WithMomentum(arbitrage.NewMomentumTracker(cfg.Momentum.Window, cfg.Momentum.Threshold)).
		WithExecutor(b.coordinator).
		WithMetrics(m)
	if cfg.Imbalance.Enabled {
		b.scanner.WithImbalance(arbitrage.NewImbalanceDetector(reserves, cfg.Imbalance.ThresholdBps,
			params.MaxPriceImpactBps, params.ImpactSampleDivisor, logger))
	}

	logger.Info("Engine ready",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Int("tokens", len(reg.Tokens())),
		zap.Int("venues", len(quoters)),
		zap.String("base", base.Symbol),
		zap.Bool("execution", cfg.Execution.Enabled && key != nil),
		zap.String("account", b.coordinator.Account().Hex()))

	return b, nil
}

func rpcOptions(rl config.RateLimitConfig) chain.Options {
	return chain.Options{
		RequestsPerSecond: rl.RequestsPerSecond,
		BurstSize:         rl.BurstSize,
		RetryAttempts:     rl.RetryAttempts,
		RetryDelay:        rl.RetryDelay,
	}
}

// buildQuoters creates one quoter per venue. Constant-product quoters also
// read pool reserves for the imbalance detector.
func (b *Bot) buildQuoters(generator *paths.Generator, apiKey string) ([]dex.Quoter, []arbitrage.ReserveReader, error) {
	pairs := cache.NewPairCache()
	aggLimiter := rate.NewLimiter(rate.Limit(b.cfg.AggregatorRateLimit.RequestsPerSecond), b.cfg.AggregatorRateLimit.BurstSize)

	var (
		quoters  []dex.Quoter
		reserves []arbitrage.ReserveReader
	)
	for _, v := range b.registry.Venues() {
		var (
			q   dex.Quoter
			err error
		)
		switch v.Kind {
		case types.ConstantProduct:
			var r *uniswap.RouterV2
			r, err = uniswap.NewRouterV2(v, b.client, pairs, generator, b.logger)
			if err == nil {
				q = r
				reserves = append(reserves, r)
			}
		case types.ConcentratedLiquidity:
			q, err = uniswapv3.NewQuoter(v, b.client, generator, b.logger)
		case types.Aggregator:
			if v.RequiresCredential && apiKey == "" {
				b.logger.Warn("No aggregator credential, venue will not quote", zap.String("venue", v.ID))
			}
			q, err = oneinch.NewClient(v, apiKey, aggLimiter, b.logger)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("venue %s: %w", v.ID, err)
		}
		quoters = append(quoters, q)
	}
	if len(quoters) < 2 {
		return nil, nil, errors.New("at least two venues must be able to quote")
	}
	return quoters, reserves, nil
}

func (b *Bot) scannerConfig(base types.Token) (arbitrage.Config, error) {
	sizes, err := b.cfg.LoanSizes(base)
	if err != nil {
		return arbitrage.Config{}, err
	}
	threshold, err := b.cfg.ExecuteThreshold(base)
	if err != nil {
		return arbitrage.Config{}, err
	}
	multiHopSize, err := b.cfg.MultiHopSize(base)
	if err != nil {
		return arbitrage.Config{}, err
	}
	every := 0
	if b.cfg.MultiHop.Enabled {
		every = b.cfg.MultiHop.Every
	}
	return arbitrage.Config{
		LoanSizes:        sizes,
		Timeout:          b.cfg.Scan.Timeout,
		Concurrency:      b.cfg.Scan.Concurrency,
		ExecuteThreshold: threshold,
		MinScore:         b.cfg.Scoring.MinScore,
		MultiHopEvery:    every,
		MultiHopSize:     multiHopSize,
	}, nil
}

// Registry exposes the token and venue catalogue
func (b *Bot) Registry() *registry.Registry {
	return b.registry
}

// Client exposes the rate limited node client
func (b *Bot) Client() *chain.Client {
	return b.client
}

// Quotes exposes the cached quote provider
func (b *Bot) Quotes() dex.QuoteSource {
	return b.provider
}

// Run scans on every trigger until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting arbitrage engine...")

	b.estimator.Start(ctx)
	b.monitor.Start(ctx)

	if b.cfg.PrometheusEnabled {
		b.serveMetrics(ctx)
	}

	err := b.scanner.Run(ctx, b.triggers(ctx), b.onReport)

	b.logger.Info("Stopping arbitrage engine...")
	b.coordinator.Wait()
	b.estimator.Wait()
	b.monitor.Wait()
	b.wg.Wait()
	b.coordinator.LogStats(b.registry.Base())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ScanOnce runs a single cycle against the latest block
func (b *Bot) ScanOnce(ctx context.Context) (*arbitrage.CycleReport, error) {
	if err := b.estimator.Update(ctx); err != nil {
		b.logger.Warn("Gas price fetch failed, using default", zap.Error(err))
	}
	block, err := b.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	report, err := b.scanner.TryScan(ctx, block)
	b.coordinator.Wait()
	return report, err
}

func (b *Bot) triggers(ctx context.Context) <-chan uint64 {
	if b.cfg.Scan.Mode == "interval" {
		return arbitrage.IntervalTriggers(ctx, b.cfg.Scan.Interval)
	}
	if b.heads != nil {
		return chain.NewWatcher(b.heads, b.cfg.Scan.PollInterval, true, b.logger).Start(ctx)
	}
	return chain.NewWatcher(b.client, b.cfg.Scan.PollInterval, false, b.logger).Start(ctx)
}

func (b *Bot) onReport(r *arbitrage.CycleReport) {
	b.logger.Debug("Scan finished",
		zap.String("id", r.ID.String()),
		zap.Uint64("block", r.Block),
		zap.Stringer("state", r.State),
		zap.Int("settled", r.Settled),
		zap.Int("tasks", r.Tasks),
		zap.Int("opportunities", len(r.Opportunities)),
		zap.Duration("duration", r.Duration))

	if b.cfg.StatsEvery > 0 && r.Scan%uint64(b.cfg.StatsEvery) == 0 {
		b.coordinator.LogStats(b.registry.Base())
		b.monitor.LogSnapshot()
		b.logger.Info("Quote cache", zap.Float64("hit_ratio", b.metrics.QuoteHitRatio()))
	}
}

func (b *Bot) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              b.cfg.PrometheusEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.logger.Info("Serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Close releases the node connections
func (b *Bot) Close() {
	if b.heads != nil {
		b.heads.Close()
	}
	if b.client != nil {
		b.client.Close()
	}
}
