package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-20 asset known to the registry. Two tokens are the same
// token when their addresses are equal.
type Token struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
}

// VenueKind selects the quoting strategy used for a venue
type VenueKind int

const (
	ConstantProduct VenueKind = iota
	ConcentratedLiquidity
	Aggregator
)

func (k VenueKind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case ConcentratedLiquidity:
		return "concentrated_liquidity"
	case Aggregator:
		return "aggregator"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseVenueKind parses the textual form used in config files
func ParseVenueKind(s string) (VenueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant_product", "v2":
		return ConstantProduct, nil
	case "concentrated_liquidity", "v3":
		return ConcentratedLiquidity, nil
	case "aggregator":
		return Aggregator, nil
	}
	return 0, fmt.Errorf("unknown venue kind %q", s)
}

// Venue describes a place where a swap can be quoted
type Venue struct {
	ID       string
	Kind     VenueKind
	Router   common.Address
	Factory  common.Address
	Quoter   common.Address
	Endpoint string
	// FeeBps is the swap fee charged by constant-product pools
	FeeBps uint32
	// FeeTiers lists the pool fee tiers tried on concentrated-liquidity venues
	FeeTiers           []uint32
	RequiresCredential bool
}

// Path is an ordered token sequence. Fees is either empty or holds one
// fee tier per hop.
type Path struct {
	Tokens []common.Address
	Fees   []uint32
}

// Hops returns the number of swaps along the path
func (p Path) Hops() int {
	if len(p.Tokens) < 2 {
		return 0
	}
	return len(p.Tokens) - 1
}

func (p Path) TokenIn() common.Address {
	return p.Tokens[0]
}

func (p Path) TokenOut() common.Address {
	return p.Tokens[len(p.Tokens)-1]
}

// Signature is the dedup key of a path: lowercased addresses joined by ">"
// followed by the fee tiers, if any.
func (p Path) Signature() string {
	var b strings.Builder
	for i, t := range p.Tokens {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(strings.ToLower(t.Hex()))
	}
	if len(p.Fees) > 0 {
		b.WriteByte('@')
		for i, f := range p.Fees {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d", f)
		}
	}
	return b.String()
}

// Quote is a venue's answer for swapping AmountIn of the path's first token
type Quote struct {
	Venue      string
	Kind       VenueKind
	Path       Path
	AmountIn   *big.Int
	AmountOut  *big.Int
	ObservedAt time.Time
}

func (q *Quote) TokenIn() common.Address {
	return q.Path.TokenIn()
}

func (q *Quote) TokenOut() common.Address {
	return q.Path.TokenOut()
}

// Opportunity is a profitable round trip: borrow LoanAmount of the base
// token, buy TokenOut on Buy.Venue and sell it back on Sell.Venue.
type Opportunity struct {
	Base          Token
	Target        Token
	LoanAmount    *big.Int
	Buy           *Quote
	Sell          *Quote
	RawProfit     *big.Int
	FlashLoanFee  *big.Int
	GasCost       *big.Int
	NetProfit     *big.Int
	BuyImpactBps  uint64
	SellImpactBps uint64
	Score         float64
	DetectedAt    time.Time
}

// CombinedImpactBps is used to break ranking ties
func (o *Opportunity) CombinedImpactBps() uint64 {
	return o.BuyImpactBps + o.SellImpactBps
}

// Route renders the opportunity as "BASE -> venue -> TARGET -> venue -> BASE"
func (o *Opportunity) Route() string {
	return fmt.Sprintf("%s -[%s]-> %s -[%s]-> %s",
		o.Base.Symbol, o.Buy.Venue, o.Target.Symbol, o.Sell.Venue, o.Base.Symbol)
}
