package uniswapv3

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/types"
)

const (
	addrSize = 20
	feeSize  = 3
	maxFee   = 1<<24 - 1
)

// EncodePath packs a route as token0 ‖ fee0 ‖ token1 ‖ fee1 ‖ … ‖ tokenN with
// 20-byte addresses and 3-byte big-endian fees, the layout quoteExactInput
// expects.
func EncodePath(p types.Path) ([]byte, error) {
	if p.Hops() == 0 || len(p.Fees) != p.Hops() {
		return nil, fmt.Errorf("path %s needs one fee tier per hop", p.Signature())
	}

	out := make([]byte, 0, len(p.Tokens)*addrSize+len(p.Fees)*feeSize)
	for i, token := range p.Tokens {
		out = append(out, token.Bytes()...)
		if i < len(p.Fees) {
			fee := p.Fees[i]
			if fee > maxFee {
				return nil, fmt.Errorf("fee tier %d does not fit in uint24", fee)
			}
			out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		}
	}
	return out, nil
}

// DecodePath is the inverse of EncodePath
func DecodePath(b []byte) (types.Path, error) {
	if len(b) < 2*addrSize+feeSize || (len(b)-addrSize)%(addrSize+feeSize) != 0 {
		return types.Path{}, fmt.Errorf("invalid encoded path length %d", len(b))
	}

	var p types.Path
	for len(b) > addrSize {
		p.Tokens = append(p.Tokens, common.BytesToAddress(b[:addrSize]))
		p.Fees = append(p.Fees, uint32(b[addrSize])<<16|uint32(b[addrSize+1])<<8|uint32(b[addrSize+2]))
		b = b[addrSize+feeSize:]
	}
	p.Tokens = append(p.Tokens, common.BytesToAddress(b))
	return p, nil
}
