// Package config defines the server configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated
// from a TOML file and then optionally overridden by AIVERSE_*
// environment variables. Monetary fields are whole coins.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Economy  EconomyConfig  `toml:"economy"`
	Market   MarketConfig   `toml:"market"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Bots     BotsConfig     `toml:"bots"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// EconomyConfig holds the monetary rules of the world.
type EconomyConfig struct {
	JoinGrant          int64    `toml:"join_grant"`
	FoundingFee        int64    `toml:"founding_fee"`
	UniversalIncome    int64    `toml:"universal_income"`
	PayoutRatio        float64  `toml:"payout_ratio"`
	TickInterval       duration `toml:"tick_interval"`
	PriceMoveThreshold float64  `toml:"price_move_threshold"`
}

// MarketConfig holds exchange and feed parameters.
type MarketConfig struct {
	NewsRetention int `toml:"news_retention"`
}

// SnapshotConfig controls world state persistence.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Path     string   `toml:"path"`
	Interval duration `toml:"interval"`
}

// BotsConfig controls the built-in trading agents.
type BotsConfig struct {
	Enabled       bool     `toml:"enabled"`
	Count         int      `toml:"count"`
	Interval      duration `toml:"interval"`
	SeedCompanies bool     `toml:"seed_companies"`
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML
// decoder can parse duration strings like "30s" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip
// encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration. A server started with
// no config file runs a complete world on these values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: duration{5 * time.Second},
		},
		Economy: EconomyConfig{
			JoinGrant:          1000,
			FoundingFee:        10000,
			UniversalIncome:    1000,
			PayoutRatio:        0.5,
			TickInterval:       duration{60 * time.Second},
			PriceMoveThreshold: 0.05,
		},
		Market: MarketConfig{
			NewsRetention: 500,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Path:     "aiverse.db",
			Interval: duration{60 * time.Second},
		},
		Bots: BotsConfig{
			Enabled:       true,
			Count:         8,
			Interval:      duration{3 * time.Second},
			SeedCompanies: true,
		},
		LogLevel: "info",
	}
}

// Validate reports every problem at once rather than failing on the
// first.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port %d", c.Server.Port))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Economy.JoinGrant < 0 {
		errs = append(errs, "join_grant must not be negative")
	}
	if c.Economy.FoundingFee < 0 {
		errs = append(errs, "founding_fee must not be negative")
	}
	if c.Economy.UniversalIncome < 0 {
		errs = append(errs, "universal_income must not be negative")
	}
	if c.Economy.PayoutRatio < 0 || c.Economy.PayoutRatio > 1 {
		errs = append(errs, fmt.Sprintf("payout_ratio %v outside [0,1]", c.Economy.PayoutRatio))
	}
	if c.Economy.TickInterval.Duration <= 0 {
		errs = append(errs, "tick_interval must be positive")
	}
	if c.Economy.PriceMoveThreshold <= 0 {
		errs = append(errs, "price_move_threshold must be positive")
	}
	if c.Market.NewsRetention <= 0 {
		errs = append(errs, "news_retention must be positive")
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.Path == "" {
			errs = append(errs, "snapshot path required when snapshots are enabled")
		}
		if c.Snapshot.Interval.Duration <= 0 {
			errs = append(errs, "snapshot interval must be positive")
		}
	}
	if c.Bots.Enabled {
		if c.Bots.Count <= 0 {
			errs = append(errs, "bot count must be positive")
		}
		if c.Bots.Interval.Duration <= 0 {
			errs = append(errs, "bot interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
