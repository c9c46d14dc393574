package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/ledger"
)

// ---------------------------------------------------------------------------
// Eviction sweeper: periodically drops tokens that are past their grace
// period and never gained traction, so the tracked set stays bounded by
// relevance instead of arrival order.
// ---------------------------------------------------------------------------

// Config configures the sweeper.
type Config struct {
	IntervalS          int     `yaml:"interval_s"`
	MaxYoungAgeMinutes float64 `yaml:"max_young_age_minutes"` // grace period for new tokens
	MinHoldersToKeep   int     `yaml:"min_holders_to_keep"`
	MinMarketCapToKeep float64 `yaml:"min_market_cap_to_keep"` // in SOL
}

// DefaultConfig returns the reference eviction thresholds.
func DefaultConfig() Config {
	return Config{
		IntervalS:          30,
		MaxYoungAgeMinutes: 5,
		MinHoldersToKeep:   30,
		MinMarketCapToKeep: 70,
	}
}

// Sweeper walks the ledger on a fixed interval and evicts irrelevant tokens.
type Sweeper struct {
	config Config
	ledger *ledger.Ledger

	// isExempt shields a mint from eviction regardless of traction.
	// Wired to the prediction gate so flagged scorecards survive.
	isExempt func(mint string) bool

	// onEvict propagates the eviction to downstream state (dashboard,
	// buffered updates, feed subscription).
	onEvict func(mint string)

	mu        sync.Mutex
	sweeps    int64
	evictions int64
}

// New creates a sweeper over the given ledger.
func New(config Config, l *ledger.Ledger, isExempt func(string) bool, onEvict func(string)) *Sweeper {
	return &Sweeper{
		config:   config,
		ledger:   l,
		isExempt: isExempt,
		onEvict:  onEvict,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.config.IntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("sweeper: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep runs one eviction pass and returns the number of evicted tokens.
func (s *Sweeper) Sweep(now time.Time) int {
	evicted := 0
	for _, mint := range s.ledger.Mints() {
		snap, ok := s.ledger.Snapshot(mint)
		if !ok {
			continue
		}
		if s.shouldKeep(snap, now) {
			continue
		}
		if s.isExempt != nil && s.isExempt(mint) {
			continue
		}

		s.ledger.Evict(mint)
		if s.onEvict != nil {
			s.onEvict(mint)
		}
		evicted++
		log.Debug().
			Str("mint", mint).
			Float64("age_minutes", snap.AgeMinutes(now)).
			Int("holders", snap.Metrics.Holders).
			Float64("market_cap_sol", snap.Record.MarketCapSol).
			Msg("sweeper: token evicted")
	}

	s.mu.Lock()
	s.sweeps++
	s.evictions += int64(evicted)
	s.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("remaining", s.ledger.Len()).Msg("sweeper: pass complete")
	}
	return evicted
}

// shouldKeep reports whether a token has earned its place: still inside the
// grace period, or past any one of the traction thresholds.
func (s *Sweeper) shouldKeep(snap ledger.Snapshot, now time.Time) bool {
	if snap.AgeMinutes(now) < s.config.MaxYoungAgeMinutes {
		return true
	}
	if snap.Metrics.Holders >= s.config.MinHoldersToKeep {
		return true
	}
	if snap.Record.MarketCapSol >= s.config.MinMarketCapToKeep {
		return true
	}
	return false
}

// Stats reports sweeper statistics.
type Stats struct {
	Sweeps    int64 `json:"sweeps"`
	Evictions int64 `json:"evictions"`
}

func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Sweeps: s.sweeps, Evictions: s.evictions}
}
