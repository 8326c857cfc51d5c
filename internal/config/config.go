// Package config defines the service configuration. Fields are populated
// from a TOML file merged over built-in defaults, then overridden by
// ZENGUESS_* environment variables so operators can inject settings at
// deploy time without touching the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds the optional read-through cache settings.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// EngineConfig holds trading semantics: fee rate, the price-impact strategy
// ("none" or "lmsr"), position-limit caps (0 disables), and whether to load
// the development seed dataset into the in-memory store.
type EngineConfig struct {
	FeeRate        float64 `toml:"fee_rate"`
	PriceImpact    string  `toml:"price_impact"`
	LMSRLiquidity  float64 `toml:"lmsr_liquidity"`
	MaxPerMarket   float64 `toml:"max_per_market"`
	MaxPerCategory float64 `toml:"max_per_category"`
	Seed           bool    `toml:"seed"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Redis:  RedisConfig{CacheTTL: duration{30 * time.Second}},
		Engine: EngineConfig{
			FeeRate:       0.02,
			PriceImpact:   "none",
			LMSRLiquidity: 100,
		},
		LogLevel: "info",
	}
}

// Load reads the TOML file at path (skipped when path is empty), merges it
// over the defaults, applies ZENGUESS_* environment overrides, and returns
// the result. The caller should invoke Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate > 0.10 {
		return fmt.Errorf("config: fee_rate %v outside [0, 0.10]", c.Engine.FeeRate)
	}
	switch c.Engine.PriceImpact {
	case "none", "lmsr":
	default:
		return fmt.Errorf("config: unknown price_impact %q", c.Engine.PriceImpact)
	}
	if c.Engine.PriceImpact == "lmsr" && c.Engine.LMSRLiquidity <= 0 {
		return fmt.Errorf("config: lmsr_liquidity must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "ZENGUESS_SERVER_PORT")
	setStr(&cfg.Database.URL, "ZENGUESS_DATABASE_URL")
	setStr(&cfg.Redis.URL, "ZENGUESS_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "ZENGUESS_REDIS_CACHE_TTL")
	setFloat64(&cfg.Engine.FeeRate, "ZENGUESS_ENGINE_FEE_RATE")
	setStr(&cfg.Engine.PriceImpact, "ZENGUESS_ENGINE_PRICE_IMPACT")
	setFloat64(&cfg.Engine.LMSRLiquidity, "ZENGUESS_ENGINE_LMSR_LIQUIDITY")
	setFloat64(&cfg.Engine.MaxPerMarket, "ZENGUESS_ENGINE_MAX_PER_MARKET")
	setFloat64(&cfg.Engine.MaxPerCategory, "ZENGUESS_ENGINE_MAX_PER_CATEGORY")
	setBool(&cfg.Engine.Seed, "ZENGUESS_ENGINE_SEED")
	setStr(&cfg.LogLevel, "ZENGUESS_LOG_LEVEL")
}

// duration wraps time.Duration for TOML decoding of strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
