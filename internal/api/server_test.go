package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvewatch/curvewatch/internal/config"
	"github.com/curvewatch/curvewatch/internal/dashboard"
	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/predict"
	"github.com/curvewatch/curvewatch/internal/scanner"
)

const mintA = "MintA111111111111111111111111111111111111111"

// newTestServer builds an engine with one created token, three trades and
// one flagged mint, without touching the network.
func newTestServer(t *testing.T) (*scanner.Scanner, http.Handler) {
	t.Helper()

	cfg := config.Default()
	cfg.Prediction.Enabled = true
	cfg.Prediction.FlushIntervalMs = 10000

	stub := predict.NewStubClient([]predict.Prediction{{Probability: 0.9}})
	sc := scanner.New(cfg, stub)

	sc.OnTokenCreated(feed.TokenCreationEvent{
		Mint:                  mintA,
		TraderPublicKey:       "Creator1111111111111111111111111111111111111",
		TxType:                "create",
		InitialBuy:            1000,
		VTokensInBondingCurve: 1000000,
		VSolInBondingCurve:    10,
		MarketCapSol:          30,
		Name:                  "Test Token",
		Symbol:                "TEST",
	})
	for i := int64(0); i < 3; i++ {
		sc.OnTrade(feed.TradeEvent{
			Mint:                  mintA,
			TraderPublicKey:       "TraderB1111111111111111111111111111111111111",
			TxType:                feed.DirectionBuy,
			TokenAmount:           100,
			VSolInBondingCurve:    10.5,
			VTokensInBondingCurve: 1000500,
			MarketCapSol:          31,
			Timestamp:             1000 + i,
		})
	}
	sc.Gate().Flush(context.Background())
	require.True(t, sc.Gate().IsFlagged(mintA))

	return sc, NewServer(sc).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Tokens(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/tokens")
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens []dashboard.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.Len(t, tokens, 1)
	assert.Equal(t, mintA, tokens[0].Mint)
	assert.Equal(t, "Test Token", tokens[0].Name)
}

func TestServer_TokenDetail(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/tokens/"+mintA)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Contains(t, detail, "record")
	assert.Contains(t, detail, "metrics")
	assert.Contains(t, detail, "trades")
	assert.Contains(t, detail, "prediction")

	rec = get(t, h, "/api/tokens/UnknownMint111111111111111111111111111111111")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Flagged(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/flagged")
	require.Equal(t, http.StatusOK, rec.Code)

	var flagged []predict.FlaggedToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flagged))
	require.Len(t, flagged, 1)
	assert.Equal(t, mintA, flagged[0].Mint)
	assert.Equal(t, 0.9, flagged[0].Probability)
}

func TestServer_Status(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"disconnected"`)
	assert.Contains(t, rec.Body.String(), `"trades_applied":3`)
}

func TestServer_ExportCSV(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/export/tokens.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "mint,name,symbol"))

	rec = get(t, h, "/api/export/trades.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "mint,traderPublicKey,txType"))
}

func TestServer_Metrics(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "curvewatch_trades_total 3")
	assert.Contains(t, body, "curvewatch_token_creations_total 1")
	assert.Contains(t, body, "curvewatch_flags_total 1")
	assert.Contains(t, body, "curvewatch_tokens_tracked 1")
	assert.Contains(t, body, "curvewatch_feed_connected 0")
}

func TestServer_Health(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	// Feed is disconnected in tests: degraded, but not a hard failure.
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestServer_Clear(t *testing.T) {
	sc, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, sc.Store().Len())

	// Ledger history and scorecards survive a clear.
	_, ok := sc.Ledger().Snapshot(mintA)
	assert.True(t, ok)
	assert.True(t, sc.Gate().IsFlagged(mintA))
}

func TestServer_MethodGuards(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/connect")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tokens", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
