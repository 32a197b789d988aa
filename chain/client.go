package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tune the RPC wrapper
type Options struct {
	RequestsPerSecond float64
	BurstSize         int
	RetryAttempts     int
	RetryDelay        time.Duration
	DialTimeout       time.Duration
}

// Client wraps ethclient with a shared rate limiter and retries for
// idempotent reads. Writes and eth_call are never retried.
type Client struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	opts    Options
	chainID *big.Int
	logger  *zap.Logger
}

// Dial connects to url and verifies the chain id. A zero expectedChainID
// skips the check.
func Dial(ctx context.Context, url string, expectedChainID uint64, opts Options, logger *zap.Logger) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if expectedChainID != 0 && chainID.Uint64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("connected to chain %s, expected %d", chainID, expectedChainID)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.BurstSize
	if burst <= 0 {
		burst = 1
	}

	logger.Info("Connected to node", zap.String("chain_id", chainID.String()))

	return &Client{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
		chainID: chainID,
		logger:  logger.Named("rpc"),
	}, nil
}

func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// retry runs fn up to RetryAttempts times
func retry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for i := 0; i < c.opts.RetryAttempts; i++ {
		if err = c.wait(ctx); err != nil {
			return res, err
		}
		res, err = fn(ctx)
		if err == nil {
			return res, nil
		}
		if i+1 < c.opts.RetryAttempts {
			c.logger.Warn("RPC call failed, retrying", zap.String("op", op), zap.Int("attempt", i+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}
	}
	return res, fmt.Errorf("failed to %s after %d attempts: %w", op, c.opts.RetryAttempts, err)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return retry(ctx, c, "get block number", c.client.BlockNumber)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return retry(ctx, c, "get header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, number)
	})
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "get gas price", c.client.SuggestGasPrice)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "get gas tip cap", c.client.SuggestGasTipCap)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return retry(ctx, c, "get pending nonce", func(ctx context.Context) (uint64, error) {
		return c.client.PendingNonceAt(ctx, account)
	})
}

func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.CodeAt(ctx, contract, blockNumber)
}

func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.CallContract(ctx, call, blockNumber)
}

func (c *Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.client.EstimateGas(ctx, call)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.client.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.TransactionReceipt(ctx, txHash)
}

// SubscribeNewHead is only available on websocket and IPC endpoints
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.client.SubscribeNewHead(ctx, ch)
}
