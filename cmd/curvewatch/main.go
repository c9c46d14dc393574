package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/curvewatch/curvewatch/internal/api"
	"github.com/curvewatch/curvewatch/internal/config"
	"github.com/curvewatch/curvewatch/internal/scanner"
)

func main() {
	// 1. Parse flags and environment.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	noConnect := flag.Bool("no-connect", false, "Start without connecting to the live feed")
	flag.Parse()

	// .env is optional; real deployments use proper environment variables.
	_ = godotenv.Load()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("curvewatch - bonding curve market monitor")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Str("endpoint", cfg.Feed.Endpoint).
		Bool("prediction", cfg.Prediction.Enabled).
		Int("max_tokens", cfg.Dashboard.MaxTokens).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Build the engine.
	engine := scanner.New(cfg, nil)

	// 5. Setup context and shutdown signals.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 6. Start the engine.
	if !*noConnect {
		engine.Start()
	} else {
		log.Info().Msg("Feed connection deferred (start via POST /api/connect)")
	}

	// 7. Start the HTTP server.
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.NewServer(engine).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("HTTP server started")
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
			cancel()
		}
	}()

	// 8. Periodic stats logging.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := engine.Stats()
				log.Info().
					Str("feed", string(stats.Feed.State)).
					Int64("messages", stats.Feed.MessagesRecv).
					Int("tokens", stats.Ledger.Tokens).
					Int64("trades", stats.Ledger.TradesApplied).
					Int64("evictions", stats.Sweeper.Evictions).
					Int("flagged", stats.Gate.Flagged).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("curvewatch - Running")

	// 9. Block until shutdown.
	<-ctx.Done()

	// 10. Graceful shutdown.
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	server.Shutdown(shutdownCtx)
	shutdownCancel()

	engine.Shutdown()

	stats := engine.Stats()
	log.Info().
		Int64("messages", stats.Feed.MessagesRecv).
		Int64("tokens_created", stats.Ledger.TokensCreated).
		Int64("trades", stats.Ledger.TradesApplied).
		Int64("evictions", stats.Sweeper.Evictions).
		Int("flagged", stats.Gate.Flagged).
		Msg("curvewatch - Final Statistics")

	log.Info().Msg("curvewatch - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "curvewatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "curvewatch").
			Str("instance", general.InstanceID).Logger()
	}
}
