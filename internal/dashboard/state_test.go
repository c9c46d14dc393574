package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvewatch/curvewatch/internal/buffer"
	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/ledger"
)

const (
	mintA = "MintA111111111111111111111111111111111111111"
	mintB = "MintB111111111111111111111111111111111111111"
)

func testStore() *Store {
	return NewStore(Config{MaxTokens: 3, MaxTradesPerToken: 2, SolPriceUSD: 160})
}

func snapshotFor(mint, name string) ledger.Snapshot {
	return ledger.Snapshot{
		Record: ledger.Record{
			Mint:      mint,
			Name:      name,
			Price:     0.00001,
			CreatedAt: time.Now(),
		},
		Metrics: ledger.Metrics{Holders: 1, TotalVolumeSol: 2},
	}
}

func ptrFloat(v float64) *float64 { return &v }

func TestStore_AddTokenNewestFirstAndCapped(t *testing.T) {
	s := testStore()

	for i, mint := range []string{mintA, mintB, "MintC111111111111111111111111111111111111111", "MintD111111111111111111111111111111111111111"} {
		s.AddToken(snapshotFor(mint, string(rune('A'+i))))
	}

	tokens := s.Tokens()
	require.Len(t, tokens, 3)
	assert.Equal(t, "D", tokens[0].Name)
	assert.Equal(t, "B", tokens[2].Name)

	// The oldest row fell off entirely.
	_, ok := s.Token(mintA)
	assert.False(t, ok)
	assert.Equal(t, 3, s.Len())
}

func TestStore_AddTokenRefreshesExistingRow(t *testing.T) {
	s := testStore()

	placeholder := snapshotFor(mintA, "")
	placeholder.Record.Placeholder = true
	s.AddToken(placeholder)
	s.AddToken(snapshotFor(mintB, "B"))
	s.ApplyBatch(buffer.Batch{Trades: map[string][]feed.TradeEvent{
		mintA: {{Mint: mintA, TokenAmount: 1}},
	}})

	// The creation event arrives late and upgrades the row in place.
	s.AddToken(snapshotFor(mintA, "A"))

	tok, ok := s.Token(mintA)
	require.True(t, ok)
	assert.False(t, tok.Placeholder)
	assert.Equal(t, "A", tok.Name)

	// Position and trade history survive the refresh.
	tokens := s.Tokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, "B", tokens[0].Name)
	assert.Equal(t, "A", tokens[1].Name)
	assert.Len(t, s.Trades(mintA), 1)
}

func TestStore_AddTokenDerivesUSD(t *testing.T) {
	s := testStore()
	s.AddToken(snapshotFor(mintA, "A"))

	tok, ok := s.Token(mintA)
	require.True(t, ok)
	assert.InDelta(t, 0.0016, tok.PriceUSD, 1e-9) // 0.00001 * 160
	assert.InDelta(t, 320.0, tok.VolumeUSD, 1e-9) // 2 * 160
}

func TestStore_ApplyBatchUpdatesKnownTokens(t *testing.T) {
	s := testStore()
	s.AddToken(snapshotFor(mintA, "A"))

	holders := 5
	s.ApplyBatch(buffer.Batch{
		Patches: map[string]ledger.Patch{
			mintA: {Price: ptrFloat(0.00002), VolumeSol: ptrFloat(9), Holders: &holders},
			mintB: {Price: ptrFloat(1)}, // never created: skipped
		},
		Trades: map[string][]feed.TradeEvent{
			mintA: {{Mint: mintA, TokenAmount: 3}, {Mint: mintA, TokenAmount: 2}},
			mintB: {{Mint: mintB, TokenAmount: 1}},
		},
	})

	tok, ok := s.Token(mintA)
	require.True(t, ok)
	assert.Equal(t, 0.00002, tok.Price)
	assert.InDelta(t, 0.0032, tok.PriceUSD, 1e-9)
	assert.Equal(t, 9.0, tok.VolumeSol)
	assert.Equal(t, 5, tok.Holders)

	assert.Len(t, s.Trades(mintA), 2)
	_, ok = s.Token(mintB)
	assert.False(t, ok)
	assert.Empty(t, s.Trades(mintB))
}

func TestStore_TradeHistoryCappedNewestFirst(t *testing.T) {
	s := testStore()
	s.AddToken(snapshotFor(mintA, "A"))

	s.ApplyBatch(buffer.Batch{Trades: map[string][]feed.TradeEvent{
		mintA: {{TokenAmount: 2}, {TokenAmount: 1}},
	}})
	s.ApplyBatch(buffer.Batch{Trades: map[string][]feed.TradeEvent{
		mintA: {{TokenAmount: 3}},
	}})

	trades := s.Trades(mintA)
	require.Len(t, trades, 2) // capped at MaxTradesPerToken
	assert.Equal(t, 3.0, trades[0].TokenAmount)
	assert.Equal(t, 2.0, trades[1].TokenAmount)
}

func TestStore_RemoveAndClear(t *testing.T) {
	s := testStore()
	s.AddToken(snapshotFor(mintA, "A"))
	s.AddToken(snapshotFor(mintB, "B"))

	s.Remove(mintA)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Token(mintA)
	assert.False(t, ok)

	// Removing twice is harmless.
	s.Remove(mintA)
	assert.Equal(t, int64(1), s.Stats().Evicted)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Tokens())
}
