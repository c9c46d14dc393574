package buffer

import (
	"sync"
	"time"

	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/ledger"
)

// ---------------------------------------------------------------------------
// Update buffer: coalesces rapid per-token mutations into one periodic
// batched emission, so consumers pay per interval instead of per event.
// ---------------------------------------------------------------------------

// Batch is one flush worth of accumulated updates.
type Batch struct {
	Patches map[string]ledger.Patch       // mint -> merged display patch
	Trades  map[string][]feed.TradeEvent  // mint -> new trades, newest first
}

// Sink consumes flushed batches. Called outside the buffer's lock.
type Sink func(batch Batch)

// Config configures the buffer.
type Config struct {
	FlushIntervalMs  int `yaml:"flush_interval_ms"`
	MaxTradesPerMint int `yaml:"max_trades_per_mint"`
}

// DefaultConfig returns the dashboard's coalescing defaults.
func DefaultConfig() Config {
	return Config{
		FlushIntervalMs:  500,
		MaxTradesPerMint: 50,
	}
}

// Buffer accumulates patches and trades and flushes them on a single timer.
// Only one timer is armed at a time: enqueues while it is pending coalesce
// into the same flush rather than re-arming it.
type Buffer struct {
	config Config
	sink   Sink

	mu      sync.Mutex
	patches map[string]ledger.Patch
	trades  map[string][]feed.TradeEvent
	timer   *time.Timer
	closed  bool

	enqueues int64
	flushes  int64
}

// NewBuffer creates a buffer delivering to sink.
func NewBuffer(config Config, sink Sink) *Buffer {
	return &Buffer{
		config:  config,
		sink:    sink,
		patches: make(map[string]ledger.Patch),
		trades:  make(map[string][]feed.TradeEvent),
	}
}

// Enqueue merges a patch (last-writer-wins per field) and appends a trade
// for the mint, arming the flush timer if none is pending. trade may be nil.
func (b *Buffer) Enqueue(mint string, patch ledger.Patch, trade *feed.TradeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	merged := b.patches[mint]
	merged.Merge(patch)
	b.patches[mint] = merged

	if trade != nil {
		pending := append([]feed.TradeEvent{*trade}, b.trades[mint]...)
		if len(pending) > b.config.MaxTradesPerMint {
			pending = pending[:b.config.MaxTradesPerMint]
		}
		b.trades[mint] = pending
	}

	b.enqueues++

	if b.timer == nil {
		interval := time.Duration(b.config.FlushIntervalMs) * time.Millisecond
		b.timer = time.AfterFunc(interval, b.timerFlush)
	}
}

// Drop discards any buffered state for a mint (used on eviction).
func (b *Buffer) Drop(mint string) {
	b.mu.Lock()
	delete(b.patches, mint)
	delete(b.trades, mint)
	b.mu.Unlock()
}

// Flush atomically hands the accumulated maps to the sink and clears them.
// A flush with nothing pending is a no-op.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.patches) == 0 && len(b.trades) == 0 {
		b.mu.Unlock()
		return
	}
	batch := Batch{Patches: b.patches, Trades: b.trades}
	b.patches = make(map[string]ledger.Patch)
	b.trades = make(map[string][]feed.TradeEvent)
	b.flushes++
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink(batch)
	}
}

// Close cancels the pending timer and discards buffered state. Enqueues
// after Close are ignored; nothing fires into torn-down consumers.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.closed = true
	b.patches = make(map[string]ledger.Patch)
	b.trades = make(map[string][]feed.TradeEvent)
	b.mu.Unlock()
}

// Stats reports buffer statistics.
type Stats struct {
	PendingMints int   `json:"pending_mints"`
	Enqueues     int64 `json:"enqueues"`
	Flushes      int64 `json:"flushes"`
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		PendingMints: len(b.patches),
		Enqueues:     b.enqueues,
		Flushes:      b.flushes,
	}
}

// timerFlush runs when the armed timer fires. The timer slot is cleared
// first so sink-driven enqueues can arm the next interval.
func (b *Buffer) timerFlush() {
	b.mu.Lock()
	b.timer = nil
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.Flush()
}
