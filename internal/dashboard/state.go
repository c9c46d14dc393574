package dashboard

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curvewatch/curvewatch/internal/buffer"
	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/ledger"
)

// ---------------------------------------------------------------------------
// Dashboard store: the consumer-visible token set. Fed by creation events
// and by coalesced buffer flushes, never directly by the trade stream.
// ---------------------------------------------------------------------------

// Config configures the store.
type Config struct {
	MaxTokens         int     `yaml:"max_tokens"`
	MaxTradesPerToken int     `yaml:"max_trades_per_token"`
	SolPriceUSD       float64 `yaml:"sol_price_usd"`
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         10000,
		MaxTradesPerToken: 50,
		SolPriceUSD:       160,
	}
}

// Token is the view model for one row of the token table.
type Token struct {
	Mint              string    `json:"mint"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	Creator           string    `json:"creator"`
	Price             float64   `json:"price"`
	PriceUSD          float64   `json:"priceUsd"`
	MarketCapSol      float64   `json:"marketCapSol"`
	InitialBuy        float64   `json:"initialBuy"`
	InitialBuySol     float64   `json:"initialBuySol"`
	InitialBuyPercent float64   `json:"initialBuyPercent"`
	TotalSupply       float64   `json:"totalSupply"`
	LiquiditySol      float64   `json:"liquiditySol"`
	VolumeSol         float64   `json:"volumeSol"`
	VolumeUSD         float64   `json:"volumeUsd"`
	Holders           int       `json:"holders"`
	CreatedAt         time.Time `json:"createdAt"`
	Placeholder       bool      `json:"placeholder"`
}

// Store holds the ordered token list and per-token trade history.
type Store struct {
	config   Config
	solPrice decimal.Decimal

	mu     sync.RWMutex
	order  []string // mints, newest first
	tokens map[string]*Token
	trades map[string][]feed.TradeEvent

	batchesApplied int64
	evicted        int64
}

// NewStore creates an empty store.
func NewStore(config Config) *Store {
	return &Store{
		config:   config,
		solPrice: decimal.NewFromFloat(config.SolPriceUSD),
		tokens:   make(map[string]*Token),
		trades:   make(map[string][]feed.TradeEvent),
	}
}

// AddToken inserts a freshly created token at the head of the list.
// The list is capped; the oldest rows fall off. Adding a mint that is
// already visible refreshes its row in place, keeping its position and
// trade history: that is how a placeholder row picks up its display
// fields when the creation event finally arrives.
func (s *Store) AddToken(snap ledger.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mint := snap.Record.Mint
	if _, ok := s.tokens[mint]; ok {
		s.tokens[mint] = s.tokenFromSnapshot(snap)
		return
	}

	s.tokens[mint] = s.tokenFromSnapshot(snap)
	s.order = append([]string{mint}, s.order...)
	s.trades[mint] = nil

	for len(s.order) > s.config.MaxTokens {
		last := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		delete(s.tokens, last)
		delete(s.trades, last)
	}
}

// ApplyBatch folds one buffer flush into the visible state. Patches for
// mints that never got a creation row are skipped, matching the table's
// create-driven membership.
func (s *Store) ApplyBatch(batch buffer.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for mint, patch := range batch.Patches {
		tok, ok := s.tokens[mint]
		if !ok {
			continue
		}
		if patch.Price != nil {
			tok.Price = *patch.Price
			tok.PriceUSD = s.toUSD(*patch.Price)
		}
		if patch.VolumeSol != nil {
			tok.VolumeSol = *patch.VolumeSol
			tok.VolumeUSD = s.toUSD(*patch.VolumeSol)
		}
		if patch.MarketCapSol != nil {
			tok.MarketCapSol = *patch.MarketCapSol
		}
		if patch.LiquiditySol != nil {
			tok.LiquiditySol = *patch.LiquiditySol
		}
		if patch.Holders != nil {
			tok.Holders = *patch.Holders
		}
	}

	for mint, newTrades := range batch.Trades {
		if _, ok := s.tokens[mint]; !ok {
			continue
		}
		merged := append(append([]feed.TradeEvent(nil), newTrades...), s.trades[mint]...)
		if len(merged) > s.config.MaxTradesPerToken {
			merged = merged[:s.config.MaxTradesPerToken]
		}
		s.trades[mint] = merged
	}

	s.batchesApplied++
}

// Remove drops a token from the visible set (eviction).
func (s *Store) Remove(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[mint]; !ok {
		return
	}
	delete(s.tokens, mint)
	delete(s.trades, mint)
	for i, m := range s.order {
		if m == mint {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.evicted++
}

// Clear empties the visible state without touching the ledger.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.tokens = make(map[string]*Token)
	s.trades = make(map[string][]feed.TradeEvent)
}

// Tokens returns the visible tokens, newest first.
func (s *Store) Tokens() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Token, 0, len(s.order))
	for _, mint := range s.order {
		if tok, ok := s.tokens[mint]; ok {
			out = append(out, *tok)
		}
	}
	return out
}

// Token returns one visible token.
func (s *Store) Token(mint string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[mint]
	if !ok {
		return Token{}, false
	}
	return *tok, true
}

// Trades returns the visible trade history for a mint, newest first.
func (s *Store) Trades(mint string) []feed.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]feed.TradeEvent(nil), s.trades[mint]...)
}

// AllTrades returns every visible trade, grouped by the token order.
func (s *Store) AllTrades() []feed.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []feed.TradeEvent
	for _, mint := range s.order {
		out = append(out, s.trades[mint]...)
	}
	return out
}

// Len returns the number of visible tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Stats reports store statistics.
type Stats struct {
	Tokens         int   `json:"tokens"`
	BatchesApplied int64 `json:"batches_applied"`
	Evicted        int64 `json:"evicted"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Tokens:         len(s.order),
		BatchesApplied: s.batchesApplied,
		Evicted:        s.evicted,
	}
}

func (s *Store) tokenFromSnapshot(snap ledger.Snapshot) *Token {
	rec := snap.Record
	return &Token{
		Mint:              rec.Mint,
		Name:              rec.Name,
		Symbol:            rec.Symbol,
		Creator:           rec.Creator,
		Price:             rec.Price,
		PriceUSD:          s.toUSD(rec.Price),
		MarketCapSol:      rec.MarketCapSol,
		InitialBuy:        rec.InitialBuy,
		InitialBuySol:     rec.InitialBuySol,
		InitialBuyPercent: rec.InitialBuyPercent,
		TotalSupply:       rec.TotalSupply,
		LiquiditySol:      rec.LiquiditySol,
		VolumeSol:         snap.Metrics.TotalVolumeSol,
		VolumeUSD:         s.toUSD(snap.Metrics.TotalVolumeSol),
		Holders:           snap.Metrics.Holders,
		CreatedAt:         rec.CreatedAt,
		Placeholder:       rec.Placeholder,
	}
}

// toUSD converts a SOL amount using the configured rate. Money math goes
// through decimal to keep USD columns stable for display and export.
func (s *Store) toUSD(sol float64) float64 {
	return decimal.NewFromFloat(sol).Mul(s.solPrice).InexactFloat64()
}
