package oneinch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the v5.2 quote API on BNB Smart Chain
	DefaultEndpoint = "https://api.1inch.dev/swap/v5.2/56/quote"

	defaultTimeout = 3 * time.Second
	maxBodySize    = 1 << 20
)

// ErrMissingCredential is reported when the venue is configured without a key
var ErrMissingCredential = errors.New("aggregator api key not configured")

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
	// older API versions
	ToAmount string `json:"toAmount"`
}

// Client quotes an off-chain aggregator over HTTP
type Client struct {
	venue      types.Venue
	httpClient *http.Client
	apiKey     string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates an aggregator client. A nil limiter disables client side
// rate limiting.
func NewClient(venue types.Venue, apiKey string, limiter *rate.Limiter, logger *zap.Logger) (*Client, error) {
	if venue.Kind != types.Aggregator {
		return nil, fmt.Errorf("venue %s is %s, not an aggregator", venue.ID, venue.Kind)
	}
	if venue.Endpoint == "" {
		venue.Endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(venue.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid aggregator endpoint: %w", err)
	}
	return &Client{
		venue: venue,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		apiKey:  apiKey,
		limiter: limiter,
		logger:  logger.Named(venue.ID),
	}, nil
}

func (c *Client) Venue() types.Venue {
	return c.venue
}

// BestQuote asks the aggregator for its best route. The aggregator picks
// the route itself, so the quote path is always the direct pair.
func (c *Client) BestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	out, err := c.fetch(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	return &types.Quote{
		Venue:      c.venue.ID,
		Kind:       c.venue.Kind,
		Path:       types.Path{Tokens: []common.Address{tokenIn, tokenOut}},
		AmountIn:   new(big.Int).Set(amountIn),
		AmountOut:  out,
		ObservedAt: time.Now(),
	}, nil
}

// QuotePath only supports direct pairs
func (c *Client) QuotePath(ctx context.Context, p types.Path, amountIn *big.Int) (*big.Int, error) {
	if p.Hops() != 1 {
		return nil, dex.ErrNoQuote
	}
	return c.fetch(ctx, p.TokenIn(), p.TokenOut(), amountIn)
}

func (c *Client) fetch(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if c.apiKey == "" && c.venue.RequiresCredential {
		return nil, fmt.Errorf("%w: %w", ErrMissingCredential, dex.ErrNoQuote)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	params := url.Values{}
	params.Set("src", tokenIn.Hex())
	params.Set("dst", tokenOut.Hex())
	params.Set("amount", amountIn.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.venue.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusUnauthorized {
			c.logger.Warn("Aggregator refused request", zap.Int("status", resp.StatusCode))
		}
		return nil, fmt.Errorf("aggregator returned %d: %s: %w", resp.StatusCode, truncate(body, 200), dex.ErrNoQuote)
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	raw := result.DstAmount
	if raw == "" {
		raw = result.ToAmount
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, dex.ErrNoQuote
	}
	return amount, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
