package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/export"
	"github.com/curvewatch/curvewatch/internal/feed"
	"github.com/curvewatch/curvewatch/internal/observability"
	"github.com/curvewatch/curvewatch/internal/scanner"
)

// Server exposes the engine state over HTTP: the token table, flagged
// scorecards, CSV snapshots, connection control, health and metrics.
type Server struct {
	scanner *scanner.Scanner
	health  *observability.HealthMonitor
	mux     *http.ServeMux
}

// NewServer builds the HTTP surface around a scanner.
func NewServer(sc *scanner.Scanner) *Server {
	s := &Server{
		scanner: sc,
		health:  observability.NewHealthMonitor(),
		mux:     http.NewServeMux(),
	}

	s.health.Register("feed", func(ctx context.Context) observability.ComponentHealth {
		state := sc.Feed().State()
		status := observability.StatusHealthy
		if state != feed.StateConnected {
			status = observability.StatusDegraded
		}
		return observability.ComponentHealth{Status: status, Message: string(state)}
	})
	s.health.Register("scorer", func(ctx context.Context) observability.ComponentHealth {
		stats := sc.Gate().Stats()
		status := observability.StatusHealthy
		if stats.ScoreCalls > 0 && stats.ScoreErrors == stats.ScoreCalls {
			status = observability.StatusUnhealthy
		}
		return observability.ComponentHealth{Status: status}
	})

	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/tokens", s.handleTokens)
	s.mux.HandleFunc("/api/tokens/", s.handleTokenDetail)
	s.mux.HandleFunc("/api/flagged", s.handleFlagged)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/clear", s.handleClear)
	s.mux.HandleFunc("/api/export/tokens.csv", s.handleExportTokens)
	s.mux.HandleFunc("/api/export/trades.csv", s.handleExportTrades)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", observability.NewPrometheusExporter(sc.Registry(), s.collectGauges))

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.scanner.Feed().State(),
		"stats": s.scanner.Stats(),
		"ts":    time.Now().UTC(),
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.Store().Tokens())
}

// handleTokenDetail serves /api/tokens/{mint}: the full ledger snapshot,
// trade history and last prediction for one token.
func (s *Server) handleTokenDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	mint := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	if mint == "" || strings.Contains(mint, "/") {
		http.NotFound(w, r)
		return
	}

	snap, ok := s.scanner.Ledger().Snapshot(mint)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown mint"})
		return
	}

	detail := map[string]any{
		"record":  snap.Record,
		"metrics": snap.Metrics,
		"trades":  snap.RecentTrades,
	}
	if prediction, ok := s.scanner.Gate().Prediction(mint); ok {
		detail["prediction"] = prediction
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.Gate().Flagged())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.scanner.Start()
	writeJSON(w, http.StatusOK, map[string]any{"state": s.scanner.Feed().State()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.scanner.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"state": s.scanner.Feed().State()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.scanner.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"tokens": s.scanner.Store().Len()})
}

func (s *Server) handleExportTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="tokens.csv"`)
	if err := export.WriteTokens(w, s.scanner.Store().Tokens()); err != nil {
		log.Warn().Err(err).Msg("api: token export failed")
	}
}

func (s *Server) handleExportTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	if err := export.WriteTrades(w, s.scanner.Store().AllTrades()); err != nil {
		log.Warn().Err(err).Msg("api: trade export failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.Check(r.Context())
	code := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// collectGauges refreshes point-in-time gauges from live component state
// before each scrape.
func (s *Server) collectGauges(r *observability.Registry) {
	stats := s.scanner.Stats()

	connected := 0.0
	if stats.Feed.State == feed.StateConnected {
		connected = 1
	}
	r.NewGauge("curvewatch_feed_connected", "Whether the live feed is connected").Set(connected)
	r.NewGauge("curvewatch_tokens_tracked", "Tokens currently in the ledger").Set(float64(stats.Ledger.Tokens))
	r.NewGauge("curvewatch_feed_subscriptions", "Active trade subscriptions").Set(float64(stats.Feed.Subscriptions))
	r.NewGauge("curvewatch_flagged_tokens", "Flagged tokens being tracked").Set(float64(stats.Gate.Flagged))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("api: response encode failed")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
