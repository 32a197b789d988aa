package oneinch

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	busd = common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56")
	cake = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
)

func newTestClient(t *testing.T, endpoint, key string) *Client {
	venue := types.Venue{ID: "oneinch", Kind: types.Aggregator, Endpoint: endpoint, RequiresCredential: true}
	c, err := NewClient(venue, key, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestBestQuote(t *testing.T) {
	var gotAuth, gotSrc, gotDst, gotAmount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSrc = r.URL.Query().Get("src")
		gotDst = r.URL.Query().Get("dst")
		gotAmount = r.URL.Query().Get("amount")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dstAmount":"123456789"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "secret")
	q, err := c.BestQuote(context.Background(), busd, cake, big.NewInt(1000))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(123456789), q.AmountOut)
	assert.Equal(t, "oneinch", q.Venue)
	assert.Equal(t, []common.Address{busd, cake}, q.Path.Tokens)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, busd.Hex(), gotSrc)
	assert.Equal(t, cake.Hex(), gotDst)
	assert.Equal(t, "1000", gotAmount)
}

func TestBestQuoteFailuresAreNoQuote(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"ServerError", http.StatusInternalServerError, `{"error":"boom"}`},
		{"RateLimited", http.StatusTooManyRequests, `{}`},
		{"MissingAmount", http.StatusOK, `{"foo":"bar"}`},
		{"ZeroAmount", http.StatusOK, `{"dstAmount":"0"}`},
		{"NotANumber", http.StatusOK, `{"dstAmount":"lots"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, "secret")
			_, err := c.BestQuote(context.Background(), busd, cake, big.NewInt(1000))
			assert.ErrorIs(t, err, dex.ErrNoQuote)
		})
	}
}

func TestMissingCredentialSkipsRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	_, err := c.BestQuote(context.Background(), busd, cake, big.NewInt(1000))
	assert.ErrorIs(t, err, dex.ErrNoQuote)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, called)
}

func TestQuotePathRejectsMultiHop(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", "secret")
	_, err := c.QuotePath(context.Background(), types.Path{Tokens: []common.Address{busd, cake, busd}}, big.NewInt(1))
	assert.ErrorIs(t, err, dex.ErrNoQuote)
}
