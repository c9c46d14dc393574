package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/buffer"
	"github.com/curvewatch/curvewatch/internal/config"
	"github.com/curvewatch/curvewatch/internal/dashboard"
	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/ledger"
	"github.com/curvewatch/curvewatch/internal/observability"
	"github.com/curvewatch/curvewatch/internal/predict"
	"github.com/curvewatch/curvewatch/internal/sweeper"
)

// ---------------------------------------------------------------------------
// Scanner: wires the feed, ledger, buffer, prediction gate, sweeper and
// dashboard into one engine. It is the feed's handler: all event callbacks
// run on the single feed read goroutine.
// ---------------------------------------------------------------------------

// Scanner is the aggregation engine.
type Scanner struct {
	cfg *config.Config

	feed    *feed.Conn
	ledger  *ledger.Ledger
	buffer  *buffer.Buffer
	gate    *predict.Gate
	sweeper *sweeper.Sweeper
	store   *dashboard.Store

	registry     *observability.Registry
	creations    *observability.Counter
	trades       *observability.Counter
	flags        *observability.Counter
	evictions    *observability.Counter
	scoreLatency *observability.Histogram

	mu          sync.Mutex
	cancelSweep context.CancelFunc
	started     bool
}

// New builds a scanner from configuration. The scorer client defaults to
// the configured HTTP endpoint; pass a non-nil client to override (tests).
func New(cfg *config.Config, scorer predict.Client) *Scanner {
	s := &Scanner{cfg: cfg}

	s.registry = observability.NewRegistry()
	s.creations = s.registry.NewCounter("curvewatch_token_creations_total", "Token creation events applied")
	s.trades = s.registry.NewCounter("curvewatch_trades_total", "Trade events applied")
	s.flags = s.registry.NewCounter("curvewatch_flags_total", "Tokens flagged as high potential")
	s.evictions = s.registry.NewCounter("curvewatch_evictions_total", "Tokens evicted for irrelevance")
	s.scoreLatency = s.registry.NewHistogram("curvewatch_score_latency_ms",
		"Scorer round-trip latency in milliseconds", observability.DefaultLatencyBuckets)

	s.ledger = ledger.NewLedger(ledger.Config{
		MaxRecentTrades: cfg.Ledger.MaxRecentTrades,
	})

	s.store = dashboard.NewStore(dashboard.Config{
		MaxTokens:         cfg.Dashboard.MaxTokens,
		MaxTradesPerToken: cfg.Buffer.MaxTradesPerMint,
		SolPriceUSD:       cfg.Dashboard.SolPriceUSD,
	})

	s.buffer = buffer.NewBuffer(buffer.Config{
		FlushIntervalMs:  cfg.Buffer.FlushIntervalMs,
		MaxTradesPerMint: cfg.Buffer.MaxTradesPerMint,
	}, s.store.ApplyBatch)

	if scorer == nil {
		timeout := time.Duration(cfg.Prediction.RequestTimeoutS) * time.Second
		scorer = predict.NewHTTPClient(cfg.Prediction.ScorerURL, timeout)
	}
	s.gate = predict.NewGate(predict.Config{
		MinTrades:       cfg.Prediction.MinTrades,
		WindowMinutes:   cfg.Prediction.WindowMinutes,
		FlushIntervalMs: cfg.Prediction.FlushIntervalMs,
		FlagThreshold:   cfg.Prediction.FlagThreshold,
	}, s.timedScorer(scorer))
	s.gate.SetOnFlag(func(ft predict.FlaggedToken) {
		s.flags.Inc()
	})

	s.feed = feed.NewConn(feed.Config{
		Endpoint:          cfg.Feed.Endpoint,
		ReconnectDelayMs:  cfg.Feed.ReconnectDelayMs,
		PingIntervalS:     cfg.Feed.PingIntervalS,
		HandshakeTimeoutS: cfg.Feed.HandshakeTimeoutS,
		ReadTimeoutS:      cfg.Feed.ReadTimeoutS,
	}, s)

	// New mints get a trade subscription the moment they enter the ledger.
	s.ledger.SetOnNewMint(s.feed.SubscribeTrade)

	s.sweeper = sweeper.New(sweeper.Config{
		IntervalS:          cfg.Eviction.IntervalS,
		MaxYoungAgeMinutes: cfg.Eviction.MaxYoungAgeMinutes,
		MinHoldersToKeep:   cfg.Eviction.MinHoldersToKeep,
		MinMarketCapToKeep: cfg.Eviction.MinMarketCapToKeep,
	}, s.ledger, s.gate.IsFlagged, s.onEvict)

	return s
}

// Start connects the feed and starts the eviction loop. Idempotent.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelSweep = cancel
	s.mu.Unlock()

	go s.sweeper.Run(ctx)

	s.feed.Start()
	log.Info().Str("endpoint", s.cfg.Feed.Endpoint).Msg("scanner: started")
}

// Stop disconnects the feed and pauses the eviction loop. The engine can
// be started again; buffered state and scorecards survive.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancelSweep
	s.cancelSweep = nil
	s.mu.Unlock()

	s.feed.Stop()
	if cancel != nil {
		cancel()
	}
	log.Info().Msg("scanner: stopped")
}

// Shutdown stops the engine and cancels the coalescing timers for good.
// Used on process exit; the scanner cannot be restarted afterwards.
func (s *Scanner) Shutdown() {
	s.Stop()
	s.buffer.Close()
	s.gate.Close()
	log.Info().Msg("scanner: shut down")
}

// Clear empties the visible dashboard state. Ledger history and flagged
// scorecards are kept.
func (s *Scanner) Clear() {
	s.store.Clear()
	log.Info().Msg("scanner: dashboard cleared")
}

// OnTokenCreated implements feed.Handler.
func (s *Scanner) OnTokenCreated(evt feed.TokenCreationEvent) {
	if !s.ledger.OnTokenCreated(evt) {
		return
	}
	s.creations.Inc()

	if snap, ok := s.ledger.Snapshot(evt.Mint); ok {
		s.store.AddToken(snap)
	}
}

// OnTrade implements feed.Handler.
func (s *Scanner) OnTrade(evt feed.TradeEvent) {
	patch := s.ledger.ApplyTrade(evt)
	s.trades.Inc()

	// Trade beat the creation event: surface the placeholder row so the
	// token is visible before its display fields arrive.
	if _, ok := s.store.Token(evt.Mint); !ok {
		if snap, ok := s.ledger.Snapshot(evt.Mint); ok {
			s.store.AddToken(snap)
		}
	}

	s.buffer.Enqueue(evt.Mint, patch, &evt)
	s.gate.OnTrade(evt.Mint, evt.MarketCapSol)

	if !s.cfg.Prediction.Enabled || s.gate.IsFlagged(evt.Mint) {
		return
	}

	snap, ok := s.ledger.Snapshot(evt.Mint)
	if !ok {
		return
	}
	s.gate.Offer(evt.Mint, snap.Record.Name, snap.Record.CreatedAt, predict.TokenSummary{
		Mint:              evt.Mint,
		InitialBuySol:     snap.Record.InitialBuySol,
		InitialBuyPercent: snap.Record.InitialBuyPercent,
		Liquidity:         snap.Record.LiquiditySol,
		MarketCap:         snap.Record.MarketCapSol,
	}, snap.RecentTrades)
}

// onEvict propagates a ledger eviction to the rest of the engine.
func (s *Scanner) onEvict(mint string) {
	s.buffer.Drop(mint)
	s.store.Remove(mint)
	s.feed.UnsubscribeTrade(mint)
	s.evictions.Inc()
}

// timedScorer wraps a scorer client so every call feeds the latency histogram.
func (s *Scanner) timedScorer(inner predict.Client) predict.Client {
	return scorerFunc(func(ctx context.Context, req predict.Request) (*predict.Prediction, error) {
		start := time.Now()
		prediction, err := inner.Score(ctx, req)
		s.scoreLatency.Observe(float64(time.Since(start).Milliseconds()))
		return prediction, err
	})
}

type scorerFunc func(ctx context.Context, req predict.Request) (*predict.Prediction, error)

func (f scorerFunc) Score(ctx context.Context, req predict.Request) (*predict.Prediction, error) {
	return f(ctx, req)
}

// Accessors for the HTTP layer.

func (s *Scanner) Feed() *feed.Conn                  { return s.feed }
func (s *Scanner) Ledger() *ledger.Ledger            { return s.ledger }
func (s *Scanner) Gate() *predict.Gate               { return s.gate }
func (s *Scanner) Store() *dashboard.Store           { return s.store }
func (s *Scanner) Sweeper() *sweeper.Sweeper         { return s.sweeper }
func (s *Scanner) Registry() *observability.Registry { return s.registry }

// Stats aggregates per-component statistics for the status endpoint.
type Stats struct {
	Feed      feed.Stats      `json:"feed"`
	Ledger    ledger.Stats    `json:"ledger"`
	Buffer    buffer.Stats    `json:"buffer"`
	Gate      predict.Stats   `json:"prediction"`
	Sweeper   sweeper.Stats   `json:"eviction"`
	Dashboard dashboard.Stats `json:"dashboard"`
}

func (s *Scanner) Stats() Stats {
	return Stats{
		Feed:      s.feed.Stats(),
		Ledger:    s.ledger.Stats(),
		Buffer:    s.buffer.Stats(),
		Gate:      s.gate.Stats(),
		Sweeper:   s.sweeper.Stats(),
		Dashboard: s.store.Stats(),
	}
}
