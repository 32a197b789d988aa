package testutils

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// MethodHandler answers one contract method with decoded arguments
type MethodHandler func(args []interface{}) ([]interface{}, error)

type fakeContract struct {
	abi      abi.ABI
	handlers map[string]MethodHandler
}

// FakeCaller is an in-memory contract backend. It decodes calldata against
// the registered ABI, dispatches to a handler and encodes the result, so
// code under test goes through the real ABI packing on both sides.
type FakeCaller struct {
	mu        sync.Mutex
	contracts map[common.Address]*fakeContract
	calls     map[string]int

	// Delay is applied to every call, honouring context cancellation
	Delay time.Duration
}

func NewFakeCaller() *FakeCaller {
	return &FakeCaller{
		contracts: make(map[common.Address]*fakeContract),
		calls:     make(map[string]int),
	}
}

// Register installs a contract at addr
func (f *FakeCaller) Register(t *testing.T, addr common.Address, abiJSON string, handlers map[string]MethodHandler) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[addr] = &fakeContract{abi: parsed, handlers: handlers}
}

// Calls returns how many times method was invoked on any contract
func (f *FakeCaller) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contracts[contract]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *FakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call.To == nil {
		return nil, fmt.Errorf("contract creation not supported")
	}
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}

	f.mu.Lock()
	c, ok := f.contracts[*call.To]
	f.mu.Unlock()
	if !ok {
		// empty return data from an account without code
		return nil, nil
	}

	method, err := c.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: unknown selector")
	}

	f.mu.Lock()
	f.calls[method.Name]++
	f.mu.Unlock()

	handler, ok := c.handlers[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s not implemented", method.Name)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}
	out, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// CreateTestKey returns a deterministic private key
func CreateTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key := make([]byte, 32)
	for i := 0; i < 32; i++ {
		key[i] = byte(i + 1)
	}
	privateKey, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	return privateKey
}
