package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// SimulationResult represents the result of a dry run
type SimulationResult struct {
	Success bool
	GasUsed uint64
	// Reason is the decoded revert string, if the node returned one
	Reason string
	Error  error
}

// Backend is the node API needed to dry-run a call
type Backend interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Simulator dry-runs contract calls against the latest state
type Simulator struct {
	client   Backend
	gasLimit uint64
}

// NewSimulator creates a new simulator. gasLimit caps the simulated call.
func NewSimulator(client Backend, gasLimit uint64) *Simulator {
	return &Simulator{
		client:   client,
		gasLimit: gasLimit,
	}
}

// SimulateCall estimates gas for the call and then executes it without
// broadcasting. A revert is reported through the result, not the error;
// the error is reserved for a simulator that cannot run at all.
func (s *Simulator) SimulateCall(ctx context.Context, from, to common.Address, data []byte) (*SimulationResult, error) {
	if s.client == nil {
		return nil, errors.New("simulator has no backend")
	}
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Gas:   s.gasLimit,
		Value: new(big.Int),
		Data:  data,
	}

	gasUsed, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		return failed(err, gasUsed), nil
	}

	if _, err := s.client.CallContract(ctx, msg, nil); err != nil {
		return failed(err, gasUsed), nil
	}

	return &SimulationResult{
		Success: true,
		GasUsed: gasUsed,
	}, nil
}

func failed(err error, gasUsed uint64) *SimulationResult {
	return &SimulationResult{
		Success: false,
		GasUsed: gasUsed,
		Reason:  RevertReason(err),
		Error:   err,
	}
}

// RevertReason extracts the Error(string) payload a node attaches to a
// reverted call, or "" when there is none
func RevertReason(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return ""
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return ""
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return fmt.Sprintf("custom error 0x%x", data[:min(4, len(data))])
	}
	return reason
}
