package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for curvewatch.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Feed       FeedConfig       `yaml:"feed"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Buffer     BufferConfig     `yaml:"buffer"`
	Eviction   EvictionConfig   `yaml:"eviction"`
	Prediction PredictionConfig `yaml:"prediction"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Server     ServerConfig     `yaml:"server"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type FeedConfig struct {
	Endpoint          string `yaml:"endpoint"`
	ReconnectDelayMs  int    `yaml:"reconnect_delay_ms"`
	PingIntervalS     int    `yaml:"ping_interval_s"`
	HandshakeTimeoutS int    `yaml:"handshake_timeout_s"`
	ReadTimeoutS      int    `yaml:"read_timeout_s"`
}

type LedgerConfig struct {
	MaxRecentTrades int `yaml:"max_recent_trades"` // per-mint trade ring size
}

type BufferConfig struct {
	FlushIntervalMs  int `yaml:"flush_interval_ms"`
	MaxTradesPerMint int `yaml:"max_trades_per_mint"`
}

type EvictionConfig struct {
	IntervalS          int     `yaml:"interval_s"`
	MaxYoungAgeMinutes float64 `yaml:"max_young_age_minutes"`
	MinHoldersToKeep   int     `yaml:"min_holders_to_keep"`
	MinMarketCapToKeep float64 `yaml:"min_market_cap_to_keep"` // in SOL
}

type PredictionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	ScorerURL       string  `yaml:"scorer_url"`
	MinTrades       int     `yaml:"min_trades"`
	WindowMinutes   float64 `yaml:"window_minutes"`
	FlushIntervalMs int     `yaml:"flush_interval_ms"`
	FlagThreshold   float64 `yaml:"flag_threshold"`
	RequestTimeoutS int     `yaml:"request_timeout_s"`
}

type DashboardConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	SolPriceUSD float64 `yaml:"sol_price_usd"` // static SOL/USD rate for USD columns
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "curvewatch-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Feed.Endpoint == "" {
		cfg.Feed.Endpoint = "wss://pumpportal.fun/api/data"
	}
	if cfg.Feed.ReconnectDelayMs == 0 {
		cfg.Feed.ReconnectDelayMs = 5000
	}
	if cfg.Feed.PingIntervalS == 0 {
		cfg.Feed.PingIntervalS = 30
	}
	if cfg.Feed.HandshakeTimeoutS == 0 {
		cfg.Feed.HandshakeTimeoutS = 10
	}
	if cfg.Feed.ReadTimeoutS == 0 {
		cfg.Feed.ReadTimeoutS = 60
	}
	if cfg.Ledger.MaxRecentTrades == 0 {
		cfg.Ledger.MaxRecentTrades = 50
	}
	if cfg.Buffer.FlushIntervalMs == 0 {
		cfg.Buffer.FlushIntervalMs = 500
	}
	if cfg.Buffer.MaxTradesPerMint == 0 {
		cfg.Buffer.MaxTradesPerMint = 50
	}
	if cfg.Eviction.IntervalS == 0 {
		cfg.Eviction.IntervalS = 30
	}
	if cfg.Eviction.MaxYoungAgeMinutes == 0 {
		cfg.Eviction.MaxYoungAgeMinutes = 5
	}
	if cfg.Eviction.MinHoldersToKeep == 0 {
		cfg.Eviction.MinHoldersToKeep = 30
	}
	if cfg.Eviction.MinMarketCapToKeep == 0 {
		cfg.Eviction.MinMarketCapToKeep = 70
	}
	if cfg.Prediction.ScorerURL == "" {
		cfg.Prediction.ScorerURL = "http://localhost:8000/api/predict"
	}
	if cfg.Prediction.MinTrades == 0 {
		cfg.Prediction.MinTrades = 3
	}
	if cfg.Prediction.WindowMinutes == 0 {
		cfg.Prediction.WindowMinutes = 10
	}
	if cfg.Prediction.FlushIntervalMs == 0 {
		cfg.Prediction.FlushIntervalMs = 500
	}
	if cfg.Prediction.FlagThreshold == 0 {
		cfg.Prediction.FlagThreshold = 0.8
	}
	if cfg.Prediction.RequestTimeoutS == 0 {
		cfg.Prediction.RequestTimeoutS = 10
	}
	if cfg.Dashboard.MaxTokens == 0 {
		cfg.Dashboard.MaxTokens = 10000
	}
	if cfg.Dashboard.SolPriceUSD == 0 {
		cfg.Dashboard.SolPriceUSD = 160
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
}

// Validate checks the configuration for values that would break the engine.
func (c *Config) Validate() error {
	if c.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint must not be empty")
	}
	if c.Feed.ReconnectDelayMs < 0 {
		return fmt.Errorf("feed.reconnect_delay_ms must be >= 0")
	}
	if c.Buffer.FlushIntervalMs <= 0 {
		return fmt.Errorf("buffer.flush_interval_ms must be > 0")
	}
	if c.Buffer.MaxTradesPerMint <= 0 {
		return fmt.Errorf("buffer.max_trades_per_mint must be > 0")
	}
	if c.Eviction.IntervalS <= 0 {
		return fmt.Errorf("eviction.interval_s must be > 0")
	}
	if c.Prediction.FlagThreshold <= 0 || c.Prediction.FlagThreshold >= 1 {
		return fmt.Errorf("prediction.flag_threshold must be in (0, 1), got %v", c.Prediction.FlagThreshold)
	}
	if c.Prediction.MinTrades < 1 {
		return fmt.Errorf("prediction.min_trades must be >= 1")
	}
	if c.Dashboard.MaxTokens <= 0 {
		return fmt.Errorf("dashboard.max_tokens must be > 0")
	}
	return nil
}
