package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

// Registry is the read-only catalogue of tokens and venues. It is built once
// at startup and shared by every component without locking.
type Registry struct {
	tokens   []types.Token
	byAddr   map[common.Address]types.Token
	bySymbol map[string]types.Token
	venues   []types.Venue
	byID     map[string]int
	bridges  []common.Address
	base     types.Token
	native   types.Token
}

// New validates the catalogue and builds the registry
func New(tokens []types.Token, venues []types.Venue, bridges []common.Address, base, native common.Address) (*Registry, error) {
	r := &Registry{
		byAddr:   make(map[common.Address]types.Token, len(tokens)),
		bySymbol: make(map[string]types.Token, len(tokens)),
		byID:     make(map[string]int, len(venues)),
	}

	var errs []string
	for _, t := range tokens {
		if t.Address == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("token %s has no address", t.Symbol))
			continue
		}
		if _, dup := r.byAddr[t.Address]; dup {
			errs = append(errs, fmt.Sprintf("duplicate token %s", t.Address.Hex()))
			continue
		}
		r.byAddr[t.Address] = t
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
		r.tokens = append(r.tokens, t)
	}

	for _, v := range venues {
		if v.ID == "" {
			errs = append(errs, "venue without id")
			continue
		}
		if _, dup := r.byID[v.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate venue %s", v.ID))
			continue
		}
		if err := validateVenue(v); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		r.byID[v.ID] = len(r.venues)
		r.venues = append(r.venues, v)
	}

	for _, b := range bridges {
		if _, ok := r.byAddr[b]; !ok {
			errs = append(errs, fmt.Sprintf("bridge token %s is not registered", b.Hex()))
			continue
		}
		r.bridges = append(r.bridges, b)
	}

	var ok bool
	if r.base, ok = r.byAddr[base]; !ok {
		errs = append(errs, fmt.Sprintf("base token %s is not registered", base.Hex()))
	}
	if r.native, ok = r.byAddr[native]; !ok {
		errs = append(errs, fmt.Sprintf("native token %s is not registered", native.Hex()))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid registry: %s", strings.Join(errs, "; "))
	}
	return r, nil
}

func validateVenue(v types.Venue) error {
	switch v.Kind {
	case types.ConstantProduct:
		if v.Router == (common.Address{}) || v.Factory == (common.Address{}) {
			return fmt.Errorf("venue %s: constant product venues need router and factory", v.ID)
		}
		if v.FeeBps >= 10000 {
			return fmt.Errorf("venue %s: fee_bps out of range", v.ID)
		}
	case types.ConcentratedLiquidity:
		if v.Quoter == (common.Address{}) {
			return fmt.Errorf("venue %s: concentrated liquidity venues need a quoter", v.ID)
		}
		if len(v.FeeTiers) == 0 {
			return fmt.Errorf("venue %s: no fee tiers", v.ID)
		}
	case types.Aggregator:
		if v.Endpoint == "" {
			return fmt.Errorf("venue %s: aggregator venues need an endpoint", v.ID)
		}
	default:
		return fmt.Errorf("venue %s: unknown kind %s", v.ID, v.Kind)
	}
	return nil
}

func (r *Registry) Token(addr common.Address) (types.Token, bool) {
	t, ok := r.byAddr[addr]
	return t, ok
}

func (r *Registry) TokenBySymbol(symbol string) (types.Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Tokens returns the catalogue in configuration order
func (r *Registry) Tokens() []types.Token {
	return append([]types.Token(nil), r.tokens...)
}

// TokenAddresses returns every registered address in configuration order
func (r *Registry) TokenAddresses() []common.Address {
	out := make([]common.Address, len(r.tokens))
	for i, t := range r.tokens {
		out[i] = t.Address
	}
	return out
}

// ScanTokens returns every token that can be paired with the base token
func (r *Registry) ScanTokens() []types.Token {
	out := make([]types.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		if t.Address != r.base.Address {
			out = append(out, t)
		}
	}
	return out
}

// Venues returns venues in configuration order, which is also the tie-break
// order for equal quotes.
func (r *Registry) Venues() []types.Venue {
	return append([]types.Venue(nil), r.venues...)
}

func (r *Registry) Venue(id string) (types.Venue, bool) {
	i, ok := r.byID[id]
	if !ok {
		return types.Venue{}, false
	}
	return r.venues[i], true
}

func (r *Registry) Bridges() []common.Address {
	return append([]common.Address(nil), r.bridges...)
}

func (r *Registry) Base() types.Token {
	return r.base
}

func (r *Registry) Native() types.Token {
	return r.native
}
