package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/feed"
)

// ---------------------------------------------------------------------------
// Token ledger: the single source of truth for per-token state.
// Only the ledger mutates records and metrics; everything else reads
// snapshots. Mutations arrive from the single feed goroutine and are
// additionally serialized by the ledger's own lock.
// ---------------------------------------------------------------------------

// Config configures the ledger.
type Config struct {
	MaxRecentTrades int `yaml:"max_recent_trades"` // per-mint trade ring, newest first
}

// DefaultConfig returns defaults matching the dashboard's trade panel.
func DefaultConfig() Config {
	return Config{MaxRecentTrades: 50}
}

// tokenMetrics is the internal mutable counterpart of Metrics.
type tokenMetrics struct {
	holders          map[string]float64 // address -> balance, entries > 0 only
	holdersByTime    []TimePoint
	volumeByTime     []TimePoint
	totalVolumeSol   float64
	tradeCount       int64
	buyCount         int64
	sellCount        int64
	uniqueTraders    map[string]struct{}
	lastPrice        float64
	highPrice        float64
	lowPrice         float64 // starts at +Inf so the first trade sets a meaningful low
	lastMarketCapSol float64
	recentTrades     []feed.TradeEvent
}

// Ledger holds all tracked tokens.
type Ledger struct {
	config Config

	mu      sync.RWMutex
	records map[string]*Record
	metrics map[string]*tokenMetrics

	// onNewMint registers a freshly created mint for trade subscription.
	onNewMint func(mint string)

	tokensCreated    int64
	lazyCreates      int64
	duplicateCreates int64
	tradesApplied    int64
	evictions        int64
}

// NewLedger creates an empty ledger.
func NewLedger(config Config) *Ledger {
	return &Ledger{
		config:  config,
		records: make(map[string]*Record),
		metrics: make(map[string]*tokenMetrics),
	}
}

// SetOnNewMint sets the callback invoked once per newly created mint.
// Typically wired to feed.Conn.SubscribeTrade.
func (l *Ledger) SetOnNewMint(fn func(mint string)) {
	l.mu.Lock()
	l.onNewMint = fn
	l.mu.Unlock()
}

// OnTokenCreated records a token creation. A duplicate creation event for a
// fully-formed record is ignored and logged as anomalous; a creation event
// for a placeholder record (trade arrived first) upgrades it in place.
// Returns true when the event changed ledger state.
func (l *Ledger) OnTokenCreated(evt feed.TokenCreationEvent) bool {
	price := evt.Price()
	initialBuySol := evt.InitialBuy * price
	initialBuyPercent := 0.0
	if evt.VTokensInBondingCurve != 0 {
		initialBuyPercent = evt.InitialBuy / evt.VTokensInBondingCurve * 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[evt.Mint]; ok {
		if !rec.Placeholder {
			l.duplicateCreates++
			log.Warn().Str("mint", evt.Mint).Msg("ledger: duplicate creation event ignored")
			return false
		}
		// Trade beat the creation event here; fill in the display fields.
		rec.Name = evt.Name
		rec.Symbol = evt.Symbol
		rec.URI = evt.URI
		rec.Creator = evt.TraderPublicKey
		rec.InitialBuy = evt.InitialBuy
		rec.InitialBuySol = initialBuySol
		rec.InitialBuyPercent = initialBuyPercent
		rec.Placeholder = false

		m := l.metrics[evt.Mint]
		l.applyHolderDeltaLocked(m, evt.TraderPublicKey, evt.InitialBuy)
		m.uniqueTraders[evt.TraderPublicKey] = struct{}{}
		m.holdersByTime = append(m.holdersByTime, TimePoint{Ts: time.Now().UnixMilli(), Value: float64(len(m.holders))})
		log.Debug().Str("mint", evt.Mint).Msg("ledger: placeholder upgraded by late creation event")
		return true
	}

	now := time.Now()
	l.records[evt.Mint] = &Record{
		Mint:              evt.Mint,
		Name:              evt.Name,
		Symbol:            evt.Symbol,
		URI:               evt.URI,
		Creator:           evt.TraderPublicKey,
		InitialBuy:        evt.InitialBuy,
		InitialBuySol:     initialBuySol,
		InitialBuyPercent: initialBuyPercent,
		Price:             price,
		MarketCapSol:      evt.MarketCapSol,
		LiquiditySol:      evt.VSolInBondingCurve,
		TotalSupply:       evt.VTokensInBondingCurve,
		CreatedAt:         now,
	}

	m := newTokenMetrics()
	if evt.InitialBuy > 0 {
		m.holders[evt.TraderPublicKey] = evt.InitialBuy
	}
	m.uniqueTraders[evt.TraderPublicKey] = struct{}{}
	m.holdersByTime = append(m.holdersByTime, TimePoint{Ts: now.UnixMilli(), Value: float64(len(m.holders))})
	l.metrics[evt.Mint] = m

	l.tokensCreated++

	if l.onNewMint != nil {
		l.onNewMint(evt.Mint)
	}
	return true
}

// ApplyTrade folds a trade into the token's state and returns the resulting
// display patch. A trade for an unknown mint lazily creates a placeholder
// record: the feed is observed to deliver trades before their creation event,
// and dropping them would corrupt holder and volume history.
func (l *Ledger) ApplyTrade(evt feed.TradeEvent) Patch {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[evt.Mint]
	if !ok {
		rec = &Record{
			Mint:        evt.Mint,
			CreatedAt:   time.Now(),
			Placeholder: true,
		}
		l.records[evt.Mint] = rec
		l.metrics[evt.Mint] = newTokenMetrics()
		l.lazyCreates++
		log.Debug().Str("mint", evt.Mint).Msg("ledger: trade for unknown mint, placeholder created")
	}
	m := l.metrics[evt.Mint]

	delta := evt.TokenAmount
	if evt.TxType == feed.DirectionSell {
		delta = -evt.TokenAmount
	}
	l.applyHolderDeltaLocked(m, evt.TraderPublicKey, delta)

	m.tradeCount++
	if evt.TxType == feed.DirectionBuy {
		m.buyCount++
	} else {
		m.sellCount++
	}
	m.uniqueTraders[evt.TraderPublicKey] = struct{}{}

	price := evt.Price()
	m.totalVolumeSol += evt.SolValue()
	m.volumeByTime = append(m.volumeByTime, TimePoint{Ts: evt.Timestamp, Value: m.totalVolumeSol})
	m.holdersByTime = append(m.holdersByTime, TimePoint{Ts: evt.Timestamp, Value: float64(len(m.holders))})

	m.lastPrice = price
	if price > m.highPrice {
		m.highPrice = price
	}
	if price < m.lowPrice {
		m.lowPrice = price
	}
	m.lastMarketCapSol = evt.MarketCapSol

	rec.Price = price
	rec.MarketCapSol = evt.MarketCapSol
	rec.LiquiditySol = evt.VSolInBondingCurve
	rec.TotalSupply = evt.VTokensInBondingCurve

	m.recentTrades = append([]feed.TradeEvent{evt}, m.recentTrades...)
	if len(m.recentTrades) > l.config.MaxRecentTrades {
		m.recentTrades = m.recentTrades[:l.config.MaxRecentTrades]
	}

	l.tradesApplied++

	return Patch{
		Price:        ptrFloat(price),
		VolumeSol:    ptrFloat(m.totalVolumeSol),
		MarketCapSol: ptrFloat(evt.MarketCapSol),
		LiquiditySol: ptrFloat(evt.VSolInBondingCurve),
		Holders:      ptrInt(len(m.holders)),
	}
}

// Snapshot returns an immutable copy of a token's record and metrics.
func (l *Ledger) Snapshot(mint string) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[mint]
	if !ok {
		return Snapshot{}, false
	}
	m := l.metrics[mint]

	balances := make(map[string]float64, len(m.holders))
	for addr, bal := range m.holders {
		balances[addr] = bal
	}
	trades := make([]feed.TradeEvent, len(m.recentTrades))
	copy(trades, m.recentTrades)

	return Snapshot{
		Record: *rec,
		Metrics: Metrics{
			Holders:          len(m.holders),
			HolderBalances:   balances,
			TotalVolumeSol:   m.totalVolumeSol,
			TradeCount:       m.tradeCount,
			BuyCount:         m.buyCount,
			SellCount:        m.sellCount,
			UniqueTraders:    len(m.uniqueTraders),
			LastPrice:        m.lastPrice,
			HighPrice:        m.highPrice,
			LowPrice:         m.lowPrice,
			LastMarketCapSol: m.lastMarketCapSol,
			HoldersByTime:    append([]TimePoint(nil), m.holdersByTime...),
			VolumeByTime:     append([]TimePoint(nil), m.volumeByTime...),
		},
		RecentTrades: trades,
	}, true
}

// RecentTrades returns a copy of the token's recent trades, newest first.
func (l *Ledger) RecentTrades(mint string) []feed.TradeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.metrics[mint]
	if !ok {
		return nil
	}
	trades := make([]feed.TradeEvent, len(m.recentTrades))
	copy(trades, m.recentTrades)
	return trades
}

// HoldersAt returns the holder count at or before ts (unix milliseconds).
func (l *Ledger) HoldersAt(mint string, ts int64) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.metrics[mint]
	if !ok {
		return 0, false
	}
	v, ok := valueAt(m.holdersByTime, ts)
	return int(v), ok
}

// VolumeAt returns the cumulative volume in SOL at or before ts.
func (l *Ledger) VolumeAt(mint string, ts int64) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.metrics[mint]
	if !ok {
		return 0, false
	}
	return valueAt(m.volumeByTime, ts)
}

// Evict removes a token from the ledger. Idempotent.
func (l *Ledger) Evict(mint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[mint]; !ok {
		return
	}
	delete(l.records, mint)
	delete(l.metrics, mint)
	l.evictions++
}

// Mints returns all tracked mints.
func (l *Ledger) Mints() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mints := make([]string, 0, len(l.records))
	for mint := range l.records {
		mints = append(mints, mint)
	}
	return mints
}

// Len returns the number of tracked tokens.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Stats reports ledger statistics.
type Stats struct {
	Tokens           int   `json:"tokens"`
	TokensCreated    int64 `json:"tokens_created"`
	LazyCreates      int64 `json:"lazy_creates"`
	DuplicateCreates int64 `json:"duplicate_creates"`
	TradesApplied    int64 `json:"trades_applied"`
	Evictions        int64 `json:"evictions"`
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Tokens:           len(l.records),
		TokensCreated:    l.tokensCreated,
		LazyCreates:      l.lazyCreates,
		DuplicateCreates: l.duplicateCreates,
		TradesApplied:    l.tradesApplied,
		Evictions:        l.evictions,
	}
}

func newTokenMetrics() *tokenMetrics {
	return &tokenMetrics{
		holders:       make(map[string]float64),
		uniqueTraders: make(map[string]struct{}),
		lowPrice:      math.Inf(1),
	}
}

// applyHolderDeltaLocked accumulates a signed balance change and drops
// entries that are no longer strictly positive. Caller must hold l.mu.
func (l *Ledger) applyHolderDeltaLocked(m *tokenMetrics, addr string, delta float64) {
	bal := m.holders[addr] + delta
	if bal > 0 {
		m.holders[addr] = bal
	} else {
		delete(m.holders, addr)
	}
}

// valueAt returns the value of the latest point with Ts <= ts. Points are
// appended in arrival order; feed timestamps are not guaranteed monotonic,
// so the lookup scans rather than binary-searching.
func valueAt(points []TimePoint, ts int64) (float64, bool) {
	best := int64(math.MinInt64)
	var v float64
	found := false
	for _, p := range points {
		if p.Ts <= ts && p.Ts >= best {
			best = p.Ts
			v = p.Value
			found = true
		}
	}
	return v, found
}
