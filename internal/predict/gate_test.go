package predict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvewatch/curvewatch/internal/feed"
)

const mintA = "MintA111111111111111111111111111111111111111"

func testGateConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushIntervalMs = 10000 // flushed manually in tests
	return cfg
}

func nTrades(n int) []feed.TradeEvent {
	trades := make([]feed.TradeEvent, n)
	for i := range trades {
		trades[i] = feed.TradeEvent{Mint: mintA, TxType: feed.DirectionBuy, TokenAmount: 1}
	}
	return trades
}

func TestGate_OfferGuards(t *testing.T) {
	g := NewGate(testGateConfig(), NewStubClient(nil))
	defer g.Close()

	// Too few trades.
	assert.False(t, g.Offer(mintA, "T", time.Now(), TokenSummary{}, nTrades(2)))

	// Past the early-phase window.
	old := time.Now().Add(-11 * time.Minute)
	assert.False(t, g.Offer(mintA, "T", old, TokenSummary{}, nTrades(5)))

	// Inside the window with enough trades.
	assert.True(t, g.Offer(mintA, "T", time.Now(), TokenSummary{}, nTrades(3)))

	stats := g.Stats()
	assert.Equal(t, int64(2), stats.Rejected)
	assert.Equal(t, int64(1), stats.Offers)
	assert.Equal(t, 1, stats.Pending)
}

func TestGate_FlushScoresAndFlags(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.9, IsPromising: true}})
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	var flagged []FlaggedToken
	g.SetOnFlag(func(ft FlaggedToken) { flagged = append(flagged, ft) })

	require.True(t, g.Offer(mintA, "Moon", time.Now(), TokenSummary{Mint: mintA, MarketCap: 100}, nTrades(3)))
	g.Flush(context.Background())

	require.True(t, g.IsFlagged(mintA))
	require.Len(t, flagged, 1)
	assert.Equal(t, "Moon", flagged[0].Name)
	assert.Equal(t, 0.9, flagged[0].Probability)
	assert.Equal(t, 100.0, flagged[0].MarketCapAtFlag)

	p, ok := g.Prediction(mintA)
	require.True(t, ok)
	assert.Equal(t, 0.9, p.Probability)

	// The scorer saw the trade window and token features.
	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Trades, 3)
	assert.Equal(t, mintA, reqs[0].Token.Mint)
}

func TestGate_ThresholdIsStrict(t *testing.T) {
	// Exactly at the threshold must NOT flag.
	stub := NewStubClient([]Prediction{{Probability: 0.8}})
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	require.True(t, g.Offer(mintA, "Edge", time.Now(), TokenSummary{}, nTrades(3)))
	g.Flush(context.Background())

	assert.False(t, g.IsFlagged(mintA))
	_, ok := g.Prediction(mintA)
	assert.True(t, ok) // the score is still recorded
}

func TestGate_FlagsOnlyOnce(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.95}})
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	calls := 0
	g.SetOnFlag(func(FlaggedToken) { calls++ })

	require.True(t, g.Offer(mintA, "Once", time.Now(), TokenSummary{MarketCap: 50}, nTrades(3)))
	g.Flush(context.Background())
	require.True(t, g.IsFlagged(mintA))

	// Further offers for a flagged mint are skipped at flush time.
	require.True(t, g.Offer(mintA, "Once", time.Now(), TokenSummary{MarketCap: 60}, nTrades(4)))
	g.Flush(context.Background())

	assert.Equal(t, 1, calls)
	assert.Len(t, stub.Requests(), 1)
	assert.Len(t, g.Flagged(), 1)
}

func TestGate_ScorerFailureIsIsolated(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.9}})
	stub.SetHealthy(false)
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	require.True(t, g.Offer(mintA, "Flaky", time.Now(), TokenSummary{}, nTrades(3)))
	g.Flush(context.Background())

	// The failure is swallowed; no prediction, no flag, engine keeps going.
	assert.False(t, g.IsFlagged(mintA))
	_, ok := g.Prediction(mintA)
	assert.False(t, ok)
	assert.Equal(t, int64(1), g.Stats().ScoreErrors)

	// A later flush succeeds; there is no retry of the failed batch.
	stub.SetHealthy(true)
	g.Flush(context.Background())
	assert.False(t, g.IsFlagged(mintA))

	require.True(t, g.Offer(mintA, "Flaky", time.Now(), TokenSummary{}, nTrades(3)))
	g.Flush(context.Background())
	assert.True(t, g.IsFlagged(mintA))
}

func TestGate_NewestOfferWinsWithinBatch(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.1}})
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	require.True(t, g.Offer(mintA, "A", time.Now(), TokenSummary{MarketCap: 1}, nTrades(3)))
	require.True(t, g.Offer(mintA, "A", time.Now(), TokenSummary{MarketCap: 2}, nTrades(4)))
	g.Flush(context.Background())

	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 2.0, reqs[0].Token.MarketCap)
	assert.Len(t, reqs[0].Trades, 4)
}

func TestGate_ScorecardTracksPerformance(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.9}})
	g := NewGate(testGateConfig(), stub)
	defer g.Close()

	require.True(t, g.Offer(mintA, "Perf", time.Now(), TokenSummary{MarketCap: 100}, nTrades(3)))
	g.Flush(context.Background())
	require.True(t, g.IsFlagged(mintA))

	g.OnTrade(mintA, 150)
	flagged := g.Flagged()
	require.Len(t, flagged, 1)
	assert.Equal(t, 50.0, flagged[0].PercentageFromFlag)
	assert.Equal(t, 50.0, flagged[0].BestPercentage)

	g.OnTrade(mintA, 200)
	g.OnTrade(mintA, 150)
	flagged = g.Flagged()
	assert.Equal(t, 50.0, flagged[0].PercentageFromFlag)
	assert.Equal(t, 200.0, flagged[0].HighestMarketCap)
	// Best percentage never decreases.
	assert.Equal(t, 100.0, flagged[0].BestPercentage)

	// Trades for unflagged mints are ignored.
	g.OnTrade("OtherMint11111111111111111111111111111111111", 999)
	assert.Len(t, g.Flagged(), 1)
}

func TestGate_TimerFlush(t *testing.T) {
	cfg := testGateConfig()
	cfg.FlushIntervalMs = 30
	stub := NewStubClient([]Prediction{{Probability: 0.9}})
	g := NewGate(cfg, stub)
	defer g.Close()

	require.True(t, g.Offer(mintA, "Auto", time.Now(), TokenSummary{}, nTrades(3)))

	assert.Eventually(t, func() bool { return g.IsFlagged(mintA) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), g.Stats().Flushes)
}

func TestGate_CloseDropsPending(t *testing.T) {
	stub := NewStubClient([]Prediction{{Probability: 0.9}})
	g := NewGate(testGateConfig(), stub)

	require.True(t, g.Offer(mintA, "Gone", time.Now(), TokenSummary{}, nTrades(3)))
	g.Close()

	assert.False(t, g.Offer(mintA, "Gone", time.Now(), TokenSummary{}, nTrades(3)))
	assert.Equal(t, 0, g.Stats().Pending)
	assert.Empty(t, stub.Requests())
}
