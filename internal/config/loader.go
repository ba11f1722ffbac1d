package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of
// the built-in defaults, applies AIVERSE_* environment variable
// overrides, and returns the final Config. An empty path skips the
// file and uses defaults plus overrides. The result has NOT been
// validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present, silently ignore if missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known AIVERSE_*
// environment variables when set. Operators can tune a deployment
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "AIVERSE_SERVER_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "AIVERSE_SERVER_SHUTDOWN_TIMEOUT")

	setInt64(&cfg.Economy.JoinGrant, "AIVERSE_ECONOMY_JOIN_GRANT")
	setInt64(&cfg.Economy.FoundingFee, "AIVERSE_ECONOMY_FOUNDING_FEE")
	setInt64(&cfg.Economy.UniversalIncome, "AIVERSE_ECONOMY_UNIVERSAL_INCOME")
	setFloat64(&cfg.Economy.PayoutRatio, "AIVERSE_ECONOMY_PAYOUT_RATIO")
	setDuration(&cfg.Economy.TickInterval, "AIVERSE_ECONOMY_TICK_INTERVAL")
	setFloat64(&cfg.Economy.PriceMoveThreshold, "AIVERSE_ECONOMY_PRICE_MOVE_THRESHOLD")

	setInt(&cfg.Market.NewsRetention, "AIVERSE_MARKET_NEWS_RETENTION")

	setBool(&cfg.Snapshot.Enabled, "AIVERSE_SNAPSHOT_ENABLED")
	setStr(&cfg.Snapshot.Path, "AIVERSE_SNAPSHOT_PATH")
	setDuration(&cfg.Snapshot.Interval, "AIVERSE_SNAPSHOT_INTERVAL")

	setBool(&cfg.Bots.Enabled, "AIVERSE_BOTS_ENABLED")
	setInt(&cfg.Bots.Count, "AIVERSE_BOTS_COUNT")
	setDuration(&cfg.Bots.Interval, "AIVERSE_BOTS_INTERVAL")
	setBool(&cfg.Bots.SeedCompanies, "AIVERSE_BOTS_SEED_COMPANIES")

	setStr(&cfg.LogLevel, "AIVERSE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the
// variable is present and parseable.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
