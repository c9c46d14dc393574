package ledger

import (
	"time"

	"github.com/curvewatch/curvewatch/internal/feed"
)

// Record is the per-mint display state. Owned exclusively by the Ledger;
// consumers only ever see copies inside a Snapshot.
type Record struct {
	Mint              string    `json:"mint"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	URI               string    `json:"uri"`
	Creator           string    `json:"creator"`
	InitialBuy        float64   `json:"initialBuy"`
	InitialBuySol     float64   `json:"initialBuySol"`
	InitialBuyPercent float64   `json:"initialBuyPercent"`
	Price             float64   `json:"price"`         // vSol/vTokens at last trade (or creation)
	MarketCapSol      float64   `json:"marketCapSol"`
	LiquiditySol      float64   `json:"liquiditySol"`  // vSol at last trade
	TotalSupply       float64   `json:"totalSupply"`   // vTokens at last trade
	CreatedAt         time.Time `json:"createdAt"`
	Placeholder       bool      `json:"placeholder"` // lazily created from an orphan trade
}

// TimePoint is one append-only (timestamp, value) observation.
// Timestamps are unix milliseconds as declared by the feed.
type TimePoint struct {
	Ts    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// Metrics is the read-only view of a token's running statistics.
type Metrics struct {
	Holders          int                `json:"holders"` // addresses with strictly positive balance
	HolderBalances   map[string]float64 `json:"holderBalances"`
	TotalVolumeSol   float64            `json:"totalVolumeSol"`
	TradeCount       int64              `json:"tradeCount"`
	BuyCount         int64              `json:"buyCount"`
	SellCount        int64              `json:"sellCount"`
	UniqueTraders    int                `json:"uniqueTraders"`
	LastPrice        float64            `json:"lastPrice"`
	HighPrice        float64            `json:"highPrice"`
	LowPrice         float64            `json:"lowPrice"` // +Inf until the first trade
	LastMarketCapSol float64            `json:"lastMarketCapSol"`
	HoldersByTime    []TimePoint        `json:"holdersByTime"`
	VolumeByTime     []TimePoint        `json:"volumeByTime"`
}

// Snapshot is an immutable copy of a token's record and metrics.
type Snapshot struct {
	Record       Record           `json:"record"`
	Metrics      Metrics          `json:"metrics"`
	RecentTrades []feed.TradeEvent `json:"recentTrades"` // newest first
}

// AgeMinutes returns the token's age relative to now.
func (s Snapshot) AgeMinutes(now time.Time) float64 {
	return now.Sub(s.Record.CreatedAt).Minutes()
}

// Patch is a partial display-field update produced by a trade. Nil fields
// were not touched; merging is last-writer-wins per field.
type Patch struct {
	Price        *float64 `json:"price,omitempty"`
	VolumeSol    *float64 `json:"volumeSol,omitempty"`
	MarketCapSol *float64 `json:"marketCapSol,omitempty"`
	LiquiditySol *float64 `json:"liquiditySol,omitempty"`
	Holders      *int     `json:"holders,omitempty"`
}

// Merge overlays o onto p, field by field.
func (p *Patch) Merge(o Patch) {
	if o.Price != nil {
		p.Price = o.Price
	}
	if o.VolumeSol != nil {
		p.VolumeSol = o.VolumeSol
	}
	if o.MarketCapSol != nil {
		p.MarketCapSol = o.MarketCapSol
	}
	if o.LiquiditySol != nil {
		p.LiquiditySol = o.LiquiditySol
	}
	if o.Holders != nil {
		p.Holders = o.Holders
	}
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
