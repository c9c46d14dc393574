package predict

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/feed"
)

// ---------------------------------------------------------------------------
// Prediction gate: batches trade history per token and calls the scorer at
// most once per flush interval per mint. A token crossing the confidence
// threshold is flagged exactly once; after that its market-cap performance
// is tracked relative to the flag baseline.
// ---------------------------------------------------------------------------

// Config configures the gate.
type Config struct {
	MinTrades       int     `yaml:"min_trades"`        // offers below this are rejected
	WindowMinutes   float64 `yaml:"window_minutes"`    // "early phase" age limit for scoring
	FlushIntervalMs int     `yaml:"flush_interval_ms"`
	FlagThreshold   float64 `yaml:"flag_threshold"`    // flag iff probability strictly above
}

// DefaultConfig returns the reference gating parameters.
func DefaultConfig() Config {
	return Config{
		MinTrades:       3,
		WindowMinutes:   10,
		FlushIntervalMs: 500,
		FlagThreshold:   0.8,
	}
}

// FlaggedToken is the permanent scorecard of one flag decision.
type FlaggedToken struct {
	Mint               string    `json:"mint"`
	Name               string    `json:"name"`
	Probability        float64   `json:"probability"`
	MarketCapAtFlag    float64   `json:"marketCapAtFlag"`
	CurrentMarketCap   float64   `json:"currentMarketCap"`
	HighestMarketCap   float64   `json:"highestMarketCap"`
	PercentageFromFlag float64   `json:"percentageFromFlag"`
	BestPercentage     float64   `json:"bestPercentage"` // never decreases once set
	FlaggedAt          time.Time `json:"flaggedAt"`
}

// pendingOffer is the most recent buffered scoring request for a mint.
type pendingOffer struct {
	name   string
	token  TokenSummary
	trades []feed.TradeEvent
}

// Gate buffers scoring offers and flushes them on a single coalescing timer.
type Gate struct {
	config Config
	client Client

	mu      sync.Mutex
	pending map[string]pendingOffer
	timer   *time.Timer
	closed  bool

	predictions map[string]Prediction
	flagged     map[string]*FlaggedToken

	onFlag func(ft FlaggedToken) // one-time notification per flagged mint

	offers      int64
	rejected    int64
	flushes     int64
	scoreCalls  int64
	scoreErrors int64
}

// NewGate creates a gate backed by the given scorer client.
func NewGate(config Config, client Client) *Gate {
	return &Gate{
		config:      config,
		client:      client,
		pending:     make(map[string]pendingOffer),
		predictions: make(map[string]Prediction),
		flagged:     make(map[string]*FlaggedToken),
	}
}

// SetOnFlag sets the callback invoked once when a token is flagged.
func (g *Gate) SetOnFlag(fn func(ft FlaggedToken)) {
	g.mu.Lock()
	g.onFlag = fn
	g.mu.Unlock()
}

// Offer buffers a scoring request for a mint. Accepted only when the trade
// window is large enough and the token is still in its early phase. The
// newest offer per mint wins; the flush timer is armed at most once.
// Returns whether the offer was accepted.
func (g *Gate) Offer(mint, name string, createdAt time.Time, token TokenSummary, trades []feed.TradeEvent) bool {
	if len(trades) < g.config.MinTrades {
		g.mu.Lock()
		g.rejected++
		g.mu.Unlock()
		return false
	}
	if time.Since(createdAt).Minutes() >= g.config.WindowMinutes {
		g.mu.Lock()
		g.rejected++
		g.mu.Unlock()
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}

	g.pending[mint] = pendingOffer{name: name, token: token, trades: trades}
	g.offers++

	if g.timer == nil {
		interval := time.Duration(g.config.FlushIntervalMs) * time.Millisecond
		g.timer = time.AfterFunc(interval, g.timerFlush)
	}
	return true
}

// Flush scores every buffered mint that is not already flagged. Each request
// is independent: a scorer failure for one mint is logged and does not block
// the rest, and there is no retry within the same flush.
func (g *Gate) Flush(ctx context.Context) {
	g.mu.Lock()
	if len(g.pending) == 0 {
		g.mu.Unlock()
		return
	}
	batch := g.pending
	g.pending = make(map[string]pendingOffer)
	g.flushes++
	g.mu.Unlock()

	for mint, offer := range batch {
		if g.IsFlagged(mint) {
			continue
		}

		g.mu.Lock()
		g.scoreCalls++
		g.mu.Unlock()

		prediction, err := g.client.Score(ctx, Request{Trades: offer.trades, Token: offer.token})
		if err != nil {
			g.mu.Lock()
			g.scoreErrors++
			g.mu.Unlock()
			log.Warn().Err(err).Str("mint", mint).Msg("predict: scoring failed")
			continue
		}

		g.recordPrediction(mint, offer, *prediction)
	}
}

// recordPrediction stores the score and flags the mint when the probability
// strictly exceeds the threshold and the mint is not flagged yet.
func (g *Gate) recordPrediction(mint string, offer pendingOffer, prediction Prediction) {
	g.mu.Lock()
	g.predictions[mint] = prediction

	var flaggedNow *FlaggedToken
	if prediction.Probability > g.config.FlagThreshold {
		if _, already := g.flagged[mint]; !already {
			ft := &FlaggedToken{
				Mint:             mint,
				Name:             offer.name,
				Probability:      prediction.Probability,
				MarketCapAtFlag:  offer.token.MarketCap,
				CurrentMarketCap: offer.token.MarketCap,
				HighestMarketCap: offer.token.MarketCap,
				FlaggedAt:        time.Now(),
			}
			g.flagged[mint] = ft
			copied := *ft
			flaggedNow = &copied
		}
	}
	onFlag := g.onFlag
	g.mu.Unlock()

	if flaggedNow != nil {
		log.Info().
			Str("mint", mint).
			Str("name", flaggedNow.Name).
			Float64("probability", flaggedNow.Probability).
			Float64("market_cap_sol", flaggedNow.MarketCapAtFlag).
			Msg("predict: high potential token flagged")
		if onFlag != nil {
			onFlag(*flaggedNow)
		}
	}
}

// OnTrade updates the scorecard of an already-flagged mint. No-op otherwise.
func (g *Gate) OnTrade(mint string, marketCapSol float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ft, ok := g.flagged[mint]
	if !ok {
		return
	}

	ft.CurrentMarketCap = marketCapSol
	if marketCapSol > ft.HighestMarketCap {
		ft.HighestMarketCap = marketCapSol
	}
	if ft.MarketCapAtFlag > 0 {
		ft.PercentageFromFlag = (ft.CurrentMarketCap - ft.MarketCapAtFlag) / ft.MarketCapAtFlag * 100
		ft.BestPercentage = (ft.HighestMarketCap - ft.MarketCapAtFlag) / ft.MarketCapAtFlag * 100
	}
}

// IsFlagged reports whether a mint has been flagged. Flagged mints are
// exempt from eviction so the scorecard stays intact.
func (g *Gate) IsFlagged(mint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flagged[mint]
	return ok
}

// Flagged returns all scorecards, newest flag first.
func (g *Gate) Flagged() []FlaggedToken {
	g.mu.Lock()
	out := make([]FlaggedToken, 0, len(g.flagged))
	for _, ft := range g.flagged {
		out = append(out, *ft)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FlaggedAt.After(out[j].FlaggedAt) })
	return out
}

// Prediction returns the last recorded score for a mint.
func (g *Gate) Prediction(mint string) (Prediction, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.predictions[mint]
	return p, ok
}

// Close cancels the pending flush timer. Offers after Close are dropped.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.closed = true
	g.pending = make(map[string]pendingOffer)
	g.mu.Unlock()
}

// Stats reports gate statistics.
type Stats struct {
	Pending     int   `json:"pending"`
	Flagged     int   `json:"flagged"`
	Offers      int64 `json:"offers"`
	Rejected    int64 `json:"rejected"`
	Flushes     int64 `json:"flushes"`
	ScoreCalls  int64 `json:"score_calls"`
	ScoreErrors int64 `json:"score_errors"`
}

func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Pending:     len(g.pending),
		Flagged:     len(g.flagged),
		Offers:      g.offers,
		Rejected:    g.rejected,
		Flushes:     g.flushes,
		ScoreCalls:  g.scoreCalls,
		ScoreErrors: g.scoreErrors,
	}
}

func (g *Gate) timerFlush() {
	g.mu.Lock()
	g.timer = nil
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}
	g.Flush(context.Background())
}
