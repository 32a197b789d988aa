package flashloan

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	arbtypes "github.com/michaelpento.lv/arbengine/types"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned while another execution is in flight
	ErrBusy = errors.New("execution in progress")
	// ErrCooldown is returned when the last trade is too recent
	ErrCooldown = errors.New("execution cooldown")
	// ErrSimulationFailed is returned when the dry run reverts
	ErrSimulationFailed = errors.New("simulation failed")
	// ErrReverted is returned for a mined but reverted transaction
	ErrReverted = errors.New("transaction reverted")
)

// Coordinator executes opportunities through the flash loan contract. At
// most one execution is in flight; the nonce is only touched here.
type Coordinator struct {
	opts      Options
	backend   Backend
	sim       Simulator
	fees      FeeSource
	venues    VenueLookup
	key       *ecdsa.PrivateKey
	from      common.Address
	signer    types.Signer
	abi       abi.ABI
	supported map[arbtypes.VenueKind]bool
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger
	now       func() time.Time

	busy  atomic.Bool
	mu    sync.Mutex
	state ExecutionState
	wg    sync.WaitGroup
}

// NewCoordinator creates a coordinator and loads the account nonce. A nil
// key forces dry-run mode.
func NewCoordinator(ctx context.Context, opts Options, backend Backend, sim Simulator, fees FeeSource, venues VenueLookup, key *ecdsa.PrivateKey, m *metrics.EngineMetrics, logger *zap.Logger) (*Coordinator, error) {
	if sim == nil {
		return nil, errors.New("simulator cannot be nil")
	}
	if venues == nil {
		return nil, errors.New("venue lookup cannot be nil")
	}
	if opts.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	parsed, err := parseExecutorABI()
	if err != nil {
		return nil, err
	}

	kinds := opts.SupportedKinds
	if len(kinds) == 0 {
		kinds = DefaultSupportedKinds
	}
	supported := make(map[arbtypes.VenueKind]bool, len(kinds))
	for _, k := range kinds {
		supported[k] = true
	}

	c := &Coordinator{
		opts:      opts,
		backend:   backend,
		sim:       sim,
		fees:      fees,
		venues:    venues,
		key:       key,
		signer:    types.LatestSignerForChainID(opts.ChainID),
		abi:       parsed,
		supported: supported,
		metrics:   m,
		logger:    logger.Named("executor"),
		now:       time.Now,
		state:     ExecutionState{CumulativeProfit: new(big.Int)},
	}

	if key == nil {
		c.opts.DryRun = true
		return c, nil
	}
	if backend == nil || fees == nil {
		return nil, errors.New("live execution needs a backend and a fee source")
	}
	c.from = crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	c.state.Nonce = nonce
	c.metrics.SetNonce(nonce)
	return c, nil
}

// Account is the sending address, zero in dry-run mode without a key
func (c *Coordinator) Account() common.Address {
	return c.from
}

// State returns a snapshot of the execution state
func (c *Coordinator) State() ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.CumulativeProfit = new(big.Int).Set(c.state.CumulativeProfit)
	return s
}

// RecordScan counts a finished scan cycle
func (c *Coordinator) RecordScan(found int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Scans++
	c.state.OpportunitiesFound += uint64(found)
}

// Submit executes opp in the background. Dropped requests are only logged.
func (c *Coordinator) Submit(ctx context.Context, opp *arbtypes.Opportunity) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.Execute(ctx, opp)
		switch {
		case err == nil:
		case errors.Is(err, ErrBusy), errors.Is(err, ErrCooldown):
			c.logger.Debug("Execution dropped", zap.Error(err))
		case errors.Is(err, ErrUnsupportedVenue):
			c.logger.Info("Skipping execution", zap.String("route", opp.Route()), zap.Error(err))
		default:
			c.logger.Error("Execution failed", zap.String("route", opp.Route()), zap.Error(err))
		}
	}()
}

// Wait blocks until background executions have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Execute simulates, signs, sends and confirms one opportunity
func (c *Coordinator) Execute(ctx context.Context, opp *arbtypes.Opportunity) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.metrics.ObserveExecution(metrics.ExecutionDropped)
		return ErrBusy
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	last := c.state.LastTrade
	c.mu.Unlock()
	if !last.IsZero() && c.now().Before(last.Add(c.opts.Cooldown)) {
		c.metrics.ObserveExecution(metrics.ExecutionDropped)
		return ErrCooldown
	}

	hops, err := BuildHops(opp, c.venues, c.supported)
	if err != nil {
		return err
	}
	data, err := EncodeCall(c.abi, opp, hops)
	if err != nil {
		return err
	}

	logger := c.logger.With(zap.String("route", opp.Route()))
	logger.Info("Attempting execution",
		zap.String("loan", bigmath.FormatUnits(opp.LoanAmount, opp.Base.Decimals)),
		zap.String("net_profit", bigmath.FormatUnits(opp.NetProfit, opp.Base.Decimals)),
		zap.Int("hops", len(hops)))

	sim, err := c.sim.SimulateCall(ctx, c.from, c.opts.Contract, data)
	if err != nil {
		c.metrics.ObserveExecution(metrics.ExecutionSimulationFailed)
		return fmt.Errorf("failed to simulate: %w", err)
	}
	if !sim.Success {
		c.metrics.ObserveExecution(metrics.ExecutionSimulationFailed)
		logger.Warn("Simulation failed, not broadcasting",
			zap.String("reason", sim.Reason),
			zap.Error(sim.Error))
		return fmt.Errorf("%w: %s", ErrSimulationFailed, sim.Reason)
	}
	if c.opts.DryRun {
		logger.Info("Simulation passed (dry run)", zap.Uint64("gas", sim.GasUsed))
		return nil
	}

	gasLimit := c.opts.GasLimit
	if gasLimit == 0 {
		gasLimit = sim.GasUsed + 100_000
	}
	feeCap, tipCap := c.fees.FeeCaps()

	c.mu.Lock()
	nonce := c.state.Nonce
	c.mu.Unlock()

	tx, err := types.SignNewTx(c.key, c.signer, &types.DynamicFeeTx{
		ChainID:   c.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &c.opts.Contract,
		Value:     new(big.Int),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return c.fail(ctx, fmt.Errorf("failed to send transaction: %w", err))
	}

	c.mu.Lock()
	c.state.Nonce = nonce + 1
	c.state.LastTrade = c.now()
	c.mu.Unlock()
	c.metrics.SetNonce(nonce + 1)
	logger.Info("Transaction sent", zap.String("tx", tx.Hash().Hex()), zap.Uint64("nonce", nonce))

	receipt, err := c.confirm(ctx, tx)
	if err != nil {
		return c.fail(ctx, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return c.fail(ctx, fmt.Errorf("%s: %w", tx.Hash().Hex(), ErrReverted))
	}

	c.mu.Lock()
	c.state.Executed++
	c.state.CumulativeProfit.Add(c.state.CumulativeProfit, opp.NetProfit)
	total := new(big.Int).Set(c.state.CumulativeProfit)
	c.mu.Unlock()

	c.metrics.ObserveExecution(metrics.ExecutionSucceeded)
	c.metrics.SetRealizedProfit(bigmath.ToDecimal(total, opp.Base.Decimals).InexactFloat64())
	logger.Info("Execution confirmed",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("cumulative_profit", bigmath.FormatUnits(total, opp.Base.Decimals)))
	return nil
}

// confirm waits for the receipt and the configured number of confirmations
func (c *Coordinator) confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm %s: %w", tx.Hash().Hex(), err)
	}
	if c.opts.Confirmations <= 1 || receipt.BlockNumber == nil {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + c.opts.Confirmations - 1
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		head, err := c.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to confirm %s: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// fail records a failed attempt and resynchronizes the nonce from the node
func (c *Coordinator) fail(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.state.Failed++
	c.mu.Unlock()
	c.metrics.ObserveExecution(metrics.ExecutionFailed)

	// the attempt's context may be what expired
	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	nonce, err := c.backend.PendingNonceAt(syncCtx, c.from)
	if err != nil {
		c.logger.Error("Failed to resync nonce", zap.Error(err))
		return cause
	}

	c.mu.Lock()
	c.state.Nonce = nonce
	c.mu.Unlock()
	c.metrics.SetNonce(nonce)
	c.logger.Info("Nonce resynchronized", zap.Uint64("nonce", nonce))
	return cause
}

// LogStats writes the running counters
func (c *Coordinator) LogStats(base arbtypes.Token) {
	s := c.State()
	c.logger.Info("Stats",
		zap.Uint64("scans", s.Scans),
		zap.Uint64("opportunities", s.OpportunitiesFound),
		zap.Uint64("executed", s.Executed),
		zap.Uint64("failed", s.Failed),
		zap.String("profit", bigmath.FormatUnits(s.CumulativeProfit, base.Decimals)),
		zap.Uint64("nonce", s.Nonce))
}
