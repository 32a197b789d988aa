package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigInt(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"TestBps", testBps},
		{"TestPriceImpactBounds", testPriceImpactBounds},
		{"TestPriceImpactZeroSample", testPriceImpactZeroSample},
		{"TestPriceImpactMonotone", testPriceImpactMonotone},
		{"TestParseUnits", testParseUnits},
		{"TestFormatUnits", testFormatUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testBps(t *testing.T) {
	assert.Equal(t, big.NewInt(9), Bps(big.NewInt(10000), 9))
	assert.Equal(t, big.NewInt(0), Bps(big.NewInt(1000), 9)) // 0.9 truncates
	assert.Equal(t, big.NewInt(0), Bps(nil, 9))
}

func testPriceImpactBounds(t *testing.T) {
	// linear route: full size gets the same rate as the sample
	assert.Equal(t, uint64(0), PriceImpactBps(big.NewInt(1000), big.NewInt(2000), big.NewInt(50), big.NewInt(100)))

	// full size gets half the sample rate
	assert.Equal(t, uint64(5000), PriceImpactBps(big.NewInt(1000), big.NewInt(1000), big.NewInt(50), big.NewInt(100)))

	// better than the sample clamps at zero
	assert.Equal(t, uint64(0), PriceImpactBps(big.NewInt(1000), big.NewInt(5000), big.NewInt(50), big.NewInt(100)))

	// no output at full size
	assert.Equal(t, uint64(10000), PriceImpactBps(big.NewInt(1000), big.NewInt(0), big.NewInt(50), big.NewInt(100)))

	// sample too small to quote
	assert.Equal(t, uint64(0), PriceImpactBps(big.NewInt(10), big.NewInt(10), big.NewInt(0), big.NewInt(0)))
}

func testPriceImpactZeroSample(t *testing.T) {
	assert.Equal(t, uint64(BpsDenominator), PriceImpactBps(big.NewInt(1000), big.NewInt(900), big.NewInt(50), big.NewInt(0)))
}

func testPriceImpactMonotone(t *testing.T) {
	amountIn := big.NewInt(1_000_000)
	sampleIn := big.NewInt(50_000)
	sampleOut := big.NewInt(99_000)

	prev := uint64(0)
	for out := int64(2_000_000); out >= 0; out -= 100_000 {
		got := PriceImpactBps(amountIn, big.NewInt(out), sampleIn, sampleOut)
		assert.LessOrEqual(t, got, uint64(BpsDenominator))
		assert.GreaterOrEqual(t, got, prev, "impact must not decrease as the full-size output shrinks")
		prev = got
	}
}

func testParseUnits(t *testing.T) {
	got, err := ParseUnits("2500", 18)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("2500000000000000000000", 10)
	assert.Equal(t, want, got)

	got, err = ParseUnits("1.2345678", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1234567), got)

	_, err = ParseUnits("-1", 6)
	require.Error(t, err)

	_, err = ParseUnits("abc", 6)
	require.Error(t, err)
}

func testFormatUnits(t *testing.T) {
	assert.Equal(t, "12.5", FormatUnits(big.NewInt(12_500_000), 6))
	assert.Equal(t, "0", FormatUnits(nil, 18))
}
