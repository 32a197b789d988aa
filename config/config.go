package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/registry"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// DefaultConfigFile is read when no --config flag is given
const DefaultConfigFile = "config.yaml"

type Config struct {
	// Chain and network settings
	ChainID     uint64 `yaml:"chain_id"`
	RPCEndpoint string `yaml:"rpc_endpoint"`
	WSEndpoint  string `yaml:"ws_endpoint"`

	// Catalogue
	Tokens       []TokenConfig `yaml:"tokens"`
	Venues       []VenueConfig `yaml:"venues"`
	BaseToken    string        `yaml:"base_token"`
	NativeToken  string        `yaml:"native_token"`
	BridgeTokens []string      `yaml:"bridge_tokens"`

	Scan      ScanConfig      `yaml:"scan"`
	Profit    ProfitConfig    `yaml:"profit"`
	Gas       GasConfig       `yaml:"gas"`
	Execution ExecutionConfig `yaml:"execution"`
	MultiHop  MultiHopConfig  `yaml:"multi_hop"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Momentum  MomentumConfig  `yaml:"momentum"`
	Imbalance ImbalanceConfig `yaml:"imbalance"`

	RPCRateLimit        RateLimitConfig `yaml:"rpc_rate_limit"`
	AggregatorRateLimit RateLimitConfig `yaml:"aggregator_rate_limit"`

	// Feature flags
	PrometheusEnabled  bool   `yaml:"prometheus_enabled"`
	PrometheusEndpoint string `yaml:"prometheus_endpoint"`
	// StatsEvery logs the running counters every N scans
	StatsEvery int `yaml:"stats_every"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

type VenueConfig struct {
	ID                 string   `yaml:"id"`
	Kind               string   `yaml:"kind"`
	Router             string   `yaml:"router"`
	Factory            string   `yaml:"factory"`
	Quoter             string   `yaml:"quoter"`
	Endpoint           string   `yaml:"endpoint"`
	FeeBps             uint32   `yaml:"fee_bps"`
	FeeTiers           []uint32 `yaml:"fee_tiers,omitempty"`
	RequiresCredential bool     `yaml:"requires_credential"`
}

type ScanConfig struct {
	// Mode is "block" (new head) or "interval" (fixed timer)
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
	// BlockTime is the expected inter-block interval; TTL and timeout must stay below it
	BlockTime      time.Duration `yaml:"block_time"`
	Timeout        time.Duration `yaml:"timeout"`
	QuoteTTL       time.Duration `yaml:"quote_ttl"`
	CacheSize      int           `yaml:"cache_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Concurrency    int           `yaml:"concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// LoanSizes are human readable amounts of the base token
	LoanSizes []string `yaml:"loan_sizes"`
}

type ProfitConfig struct {
	// Amounts are human readable base token units
	MinNetProfit        string `yaml:"min_net_profit"`
	ExecuteThreshold    string `yaml:"execute_threshold"`
	FallbackGasCost     string `yaml:"fallback_gas_cost"`
	FlashLoanFeeBps     uint64 `yaml:"flash_loan_fee_bps"`
	MaxPriceImpactBps   uint64 `yaml:"max_price_impact_bps"`
	ImpactSampleDivisor int64  `yaml:"impact_sample_divisor"`
	// ReferenceVenue converts gas cost into the base token
	ReferenceVenue string `yaml:"reference_venue"`
}

type GasConfig struct {
	// DefaultGasPriceGwei seeds the gas cache until the first refresh
	DefaultGasPriceGwei string        `yaml:"default_gas_price_gwei"`
	GasUnits            uint64        `yaml:"gas_units"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	FeeMultiplierPct    uint64        `yaml:"fee_multiplier_pct"`
}

type ExecutionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Contract       string        `yaml:"contract"`
	Cooldown       time.Duration `yaml:"cooldown"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	Confirmations  uint64        `yaml:"confirmations"`
	GasLimit       uint64        `yaml:"gas_limit"`
	SupportedKinds []string      `yaml:"supported_kinds"`
}

type MultiHopConfig struct {
	Enabled bool `yaml:"enabled"`
	// Every runs the cycle pass on every Nth scan
	Every      int      `yaml:"every"`
	Candidates int      `yaml:"candidates"`
	Size       string   `yaml:"size"`
	Universe   []string `yaml:"universe,omitempty"`
}

type ScoringConfig struct {
	MinScore         float64 `yaml:"min_score"`
	Offset           float64 `yaml:"offset"`
	ProfitWeight     float64 `yaml:"profit_weight"`
	GasWeight        float64 `yaml:"gas_weight"`
	VolatilityWeight float64 `yaml:"volatility_weight"`
	// MomentumBonusPct scales the profit term when momentum is strong
	MomentumBonusPct float64 `yaml:"momentum_bonus_pct"`
}

type MomentumConfig struct {
	Window int `yaml:"window"`
	// Threshold in percent per second
	Threshold float64 `yaml:"threshold"`
}

// ImbalanceConfig adds a reserve-drift sized task per token to every scan
type ImbalanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// ThresholdBps is the k drift between scans that flags a pool
	ThresholdBps uint64 `yaml:"threshold_bps"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

func (c *Config) Validate() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if len(c.Tokens) == 0 {
		errors = append(errors, "tokens must not be empty")
	}
	if len(c.Venues) < 2 {
		errors = append(errors, "at least two venues are required")
	}
	for _, v := range c.Venues {
		if _, err := types.ParseVenueKind(v.Kind); err != nil {
			errors = append(errors, fmt.Sprintf("venue %s: %v", v.ID, err))
		}
	}

	if err := c.Scan.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("scan config error: %v", err))
	}
	if err := c.Profit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("profit config error: %v", err))
	}
	if c.Gas.GasUnits == 0 {
		errors = append(errors, "gas.gas_units must be positive")
	}
	if _, err := decimal.NewFromString(c.Gas.DefaultGasPriceGwei); err != nil {
		errors = append(errors, fmt.Sprintf("gas.default_gas_price_gwei: %v", err))
	}
	if err := c.Execution.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("execution config error: %v", err))
	}
	if c.MultiHop.Enabled && c.MultiHop.Every <= 0 {
		errors = append(errors, "multi_hop.every must be positive when multi-hop is enabled")
	}
	if c.Momentum.Window < 2 {
		errors = append(errors, "momentum.window must be at least 2")
	}
	if c.Imbalance.Enabled && (c.Imbalance.ThresholdBps == 0 || c.Imbalance.ThresholdBps >= bigmath.BpsDenominator) {
		errors = append(errors, "imbalance.threshold_bps must be in (0, 10000)")
	}

	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if err := c.AggregatorRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("aggregator rate limit error: %v", err))
	}

	if c.PrometheusEnabled && c.PrometheusEndpoint == "" {
		errors = append(errors, "prometheus_endpoint must be specified when prometheus is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *ScanConfig) Validate() error {
	switch s.Mode {
	case "block":
	case "interval":
		if s.Interval <= 0 {
			return fmt.Errorf("interval must be positive in interval mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.QuoteTTL <= 0 {
		return fmt.Errorf("quote_ttl must be positive")
	}
	trigger := s.BlockTime
	if s.Mode == "interval" {
		trigger = s.Interval
	}
	if trigger > 0 {
		if s.QuoteTTL >= trigger {
			return fmt.Errorf("quote_ttl %s must be shorter than the trigger interval %s", s.QuoteTTL, trigger)
		}
		if s.Timeout >= trigger {
			return fmt.Errorf("timeout %s must be shorter than the trigger interval %s", s.Timeout, trigger)
		}
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if len(s.LoanSizes) == 0 {
		return fmt.Errorf("loan_sizes must not be empty")
	}
	for _, size := range s.LoanSizes {
		d, err := decimal.NewFromString(size)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("invalid loan size %q", size)
		}
	}
	return nil
}

func (p *ProfitConfig) Validate() error {
	for name, v := range map[string]string{
		"min_net_profit":    p.MinNetProfit,
		"fallback_gas_cost": p.FallbackGasCost,
	} {
		if _, err := decimal.NewFromString(v); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
	}
	if p.ExecuteThreshold != "" {
		if _, err := decimal.NewFromString(p.ExecuteThreshold); err != nil {
			return fmt.Errorf("execute_threshold: %v", err)
		}
	}
	if p.MaxPriceImpactBps == 0 || p.MaxPriceImpactBps > bigmath.BpsDenominator {
		return fmt.Errorf("max_price_impact_bps must be in (0, 10000]")
	}
	if p.FlashLoanFeeBps >= bigmath.BpsDenominator {
		return fmt.Errorf("flash_loan_fee_bps out of range")
	}
	if p.ImpactSampleDivisor < 2 {
		return fmt.Errorf("impact_sample_divisor must be at least 2")
	}
	if p.ReferenceVenue == "" {
		return fmt.Errorf("reference_venue must be specified")
	}
	return nil
}

func (e *ExecutionConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	if !common.IsHexAddress(e.Contract) {
		return fmt.Errorf("contract must be a valid address")
	}
	if e.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	for _, k := range e.SupportedKinds {
		if _, err := types.ParseVenueKind(k); err != nil {
			return err
		}
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	return nil
}

// LoadConfig reads cfgFile over DefaultConfig. A missing default file is
// not an error: the built-in defaults are used.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := cfgFile != ""
	if !explicit {
		cfgFile = DefaultConfigFile
	}

	data, err := os.ReadFile(cfgFile)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg as YAML
func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = DefaultConfigFile
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

// Registry builds the token and venue registry
func (c *Config) Registry() (*registry.Registry, error) {
	tokens := make([]types.Token, 0, len(c.Tokens))
	bySymbol := make(map[string]common.Address, len(c.Tokens))
	for _, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
		}
		addr := common.HexToAddress(t.Address)
		tokens = append(tokens, types.Token{Address: addr, Decimals: t.Decimals, Symbol: t.Symbol})
		bySymbol[strings.ToUpper(t.Symbol)] = addr
	}

	venues := make([]types.Venue, 0, len(c.Venues))
	for _, v := range c.Venues {
		kind, err := types.ParseVenueKind(v.Kind)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", v.ID, err)
		}
		venues = append(venues, types.Venue{
			ID:                 v.ID,
			Kind:               kind,
			Router:             optionalAddress(v.Router),
			Factory:            optionalAddress(v.Factory),
			Quoter:             optionalAddress(v.Quoter),
			Endpoint:           v.Endpoint,
			FeeBps:             v.FeeBps,
			FeeTiers:           v.FeeTiers,
			RequiresCredential: v.RequiresCredential,
		})
	}

	bridges, err := resolveSymbols(bySymbol, c.BridgeTokens)
	if err != nil {
		return nil, fmt.Errorf("bridge_tokens: %w", err)
	}
	ends, err := resolveSymbols(bySymbol, []string{c.BaseToken, c.NativeToken})
	if err != nil {
		return nil, err
	}

	return registry.New(tokens, venues, bridges, ends[0], ends[1])
}

// MultiHopUniverse resolves the cycle token universe, all tokens by default
func (c *Config) MultiHopUniverse(reg *registry.Registry) ([]common.Address, error) {
	if len(c.MultiHop.Universe) == 0 {
		return reg.TokenAddresses(), nil
	}
	var out []common.Address
	for _, sym := range c.MultiHop.Universe {
		t, ok := reg.TokenBySymbol(sym)
		if !ok {
			return nil, fmt.Errorf("multi_hop.universe: unknown token %s", sym)
		}
		out = append(out, t.Address)
	}
	return out, nil
}

// LoanSizes converts the size ladder into raw base token amounts
func (c *Config) LoanSizes(base types.Token) ([]*big.Int, error) {
	sizes := make([]*big.Int, 0, len(c.Scan.LoanSizes))
	for _, s := range c.Scan.LoanSizes {
		v, err := bigmath.ParseUnits(s, base.Decimals)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, v)
	}
	return sizes, nil
}

// ProfitParams converts the thresholds into raw base token amounts
func (c *Config) ProfitParams(reg *registry.Registry) (utils.ProfitParams, error) {
	base := reg.Base()
	minProfit, err := bigmath.ParseUnits(c.Profit.MinNetProfit, base.Decimals)
	if err != nil {
		return utils.ProfitParams{}, fmt.Errorf("min_net_profit: %w", err)
	}
	fallback, err := bigmath.ParseUnits(c.Profit.FallbackGasCost, base.Decimals)
	if err != nil {
		return utils.ProfitParams{}, fmt.Errorf("fallback_gas_cost: %w", err)
	}
	if _, ok := reg.Venue(c.Profit.ReferenceVenue); !ok {
		return utils.ProfitParams{}, fmt.Errorf("reference_venue %s is not configured", c.Profit.ReferenceVenue)
	}

	return utils.ProfitParams{
		FlashLoanFeeBps:     c.Profit.FlashLoanFeeBps,
		GasUnits:            c.Gas.GasUnits,
		MinNetProfit:        minProfit,
		MaxPriceImpactBps:   c.Profit.MaxPriceImpactBps,
		ImpactSampleDivisor: c.Profit.ImpactSampleDivisor,
		FallbackGasCost:     fallback,
		ReferenceVenue:      c.Profit.ReferenceVenue,
		Native:              reg.Native().Address,
		Base:                base.Address,
	}, nil
}

// ExecuteThreshold is nil when every profitable opportunity should execute
func (c *Config) ExecuteThreshold(base types.Token) (*big.Int, error) {
	if c.Profit.ExecuteThreshold == "" {
		return nil, nil
	}
	return bigmath.ParseUnits(c.Profit.ExecuteThreshold, base.Decimals)
}

// MultiHopSize is the cycle pass loan size, nil for the smallest ladder size
func (c *Config) MultiHopSize(base types.Token) (*big.Int, error) {
	if c.MultiHop.Size == "" {
		return nil, nil
	}
	return bigmath.ParseUnits(c.MultiHop.Size, base.Decimals)
}

// DefaultGasPrice returns the seed gas price in wei
func (c *Config) DefaultGasPrice() (*big.Int, error) {
	return bigmath.ParseUnits(c.Gas.DefaultGasPriceGwei, 9)
}

// SupportedKinds parses the venue kinds the execution contract handles
func (c *Config) SupportedKinds() ([]types.VenueKind, error) {
	var kinds []types.VenueKind
	for _, k := range c.Execution.SupportedKinds {
		kind, err := types.ParseVenueKind(k)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func resolveSymbols(bySymbol map[string]common.Address, symbols []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(symbols))
	for _, sym := range symbols {
		addr, ok := bySymbol[strings.ToUpper(sym)]
		if !ok {
			return nil, fmt.Errorf("unknown token %s", sym)
		}
		out = append(out, addr)
	}
	return out, nil
}

func DefaultConfig() *Config {
	return &Config{
		ChainID:     56,
		RPCEndpoint: "https://bsc-dataseed.bnbchain.org",
		Tokens: []TokenConfig{
			{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
			{Symbol: "BUSD", Address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18},
			{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
			{Symbol: "USDC", Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
			{Symbol: "CAKE", Address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", Decimals: 18},
			{Symbol: "ETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
			{Symbol: "BTCB", Address: "0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c", Decimals: 18},
			{Symbol: "FLOKI", Address: "0xfb5b838b6cfeedc2873ab27866079ac55363d37e", Decimals: 9},
			{Symbol: "BABYDOGE", Address: "0xc748673057861a797275cd8a068abb95a902e8de", Decimals: 9},
		},
		Venues: []VenueConfig{
			{ID: "pancake_v2", Kind: "constant_product", Router: "0x10ED43C718714eb63d5aA57B78B54704E256024E", Factory: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73", FeeBps: 25},
			{ID: "biswap", Kind: "constant_product", Router: "0x3a6d8cA21D1CF76F653A67577FA0D27453350dD8", Factory: "0x858E3312ed3A876947EA49d572A7C42DE08af7EE", FeeBps: 10},
			{ID: "apeswap", Kind: "constant_product", Router: "0xcF0feBd3f17CEf5b47b0cD257aCf6025c5BFf3b7", Factory: "0x0841BD0B734E4F5853f0dD8d7Ea041c241fb0Da6", FeeBps: 20},
			{ID: "bakeryswap", Kind: "constant_product", Router: "0xCDe540d7eAFE93aC5fE6233Bee57E1270D3E330F", Factory: "0x01bF7C66c6BD861915CdaaE475042d3c4BaE16A7", FeeBps: 30},
			{ID: "mdex", Kind: "constant_product", Router: "0x7DAe51BD3E3376B8c7c4900E9107f12Be3AF1bA8", Factory: "0x3CD1C46068dAEa5Ebb0d3f55F6915B10648062B8", FeeBps: 30},
			{ID: "oneinch", Kind: "aggregator", Router: "0x1111111254EEB25477B68fb85Ed929f73A960582", Endpoint: "https://api.1inch.dev/swap/v5.2/56/quote", RequiresCredential: true},
			{ID: "pancake_v3", Kind: "concentrated_liquidity", Router: "0x1b81D678ffb9C0263b24A97847620C99d213eB14", Quoter: "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865", FeeTiers: []uint32{100, 500, 2500, 10000}},
		},
		BaseToken:    "BUSD",
		NativeToken:  "WBNB",
		BridgeTokens: []string{"WBNB", "USDT", "USDC"},
		Scan: ScanConfig{
			Mode:           "block",
			Interval:       3 * time.Second,
			BlockTime:      3 * time.Second,
			Timeout:        2500 * time.Millisecond,
			QuoteTTL:       1500 * time.Millisecond,
			CacheSize:      4096,
			RequestTimeout: 2 * time.Second,
			Concurrency:    16,
			PollInterval:   time.Second,
			LoanSizes:      []string{"500", "2500", "10000", "25000", "50000"},
		},
		Profit: ProfitConfig{
			MinNetProfit:        "2",
			FallbackGasCost:     "5",
			FlashLoanFeeBps:     9,
			MaxPriceImpactBps:   400,
			ImpactSampleDivisor: 20,
			ReferenceVenue:      "pancake_v2",
		},
		Gas: GasConfig{
			DefaultGasPriceGwei: "3",
			GasUnits:            800_000,
			RefreshInterval:     30 * time.Second,
			FeeMultiplierPct:    130,
		},
		Execution: ExecutionConfig{
			Enabled:        false,
			Contract:       "0xb1191353E296D072d5b616F7A37c96094f80F54A",
			Cooldown:       2 * time.Second,
			ConfirmTimeout: 10 * time.Second,
			Confirmations:  1,
			SupportedKinds: []string{"constant_product", "concentrated_liquidity"},
		},
		MultiHop: MultiHopConfig{
			Enabled:    false,
			Every:      5,
			Candidates: 5,
		},
		Scoring: ScoringConfig{
			MinScore:         0,
			Offset:           50,
			ProfitWeight:     20,
			GasWeight:        0.1,
			VolatilityWeight: 5,
			MomentumBonusPct: 30,
		},
		Momentum: MomentumConfig{
			Window:    10,
			Threshold: 0.5,
		},
		Imbalance: ImbalanceConfig{
			Enabled:      true,
			ThresholdBps: 50,
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			BurstSize:         100,
			RetryAttempts:     2,
			RetryDelay:        200 * time.Millisecond,
		},
		AggregatorRateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			BurstSize:         1,
		},
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
		StatsEvery:         10,
	}
}
