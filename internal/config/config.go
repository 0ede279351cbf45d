// Package config defines the top-level configuration for the funding daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDINGD_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Markets  []MarketConfig `toml:"markets"`
	Signer   SignerConfig   `toml:"signer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Intake   IntakeConfig   `toml:"intake"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the admission and capping parameters of the engine.
type EngineConfig struct {
	MinUpdateInterval duration `toml:"min_update_interval"`
	// MaxFundingRate caps the per-period rate; 1_000_000 = 100%.
	MaxFundingRate int64 `toml:"max_funding_rate"`
}

// MarketConfig binds a market symbol to a Pyth price feed id.
type MarketConfig struct {
	Symbol string `toml:"symbol"`
	FeedID string `toml:"feed_id"`
}

// SignerConfig holds the key used to sign funding outcomes.
type SignerConfig struct {
	Enabled    bool   `toml:"enabled"`
	PrivateKey string `toml:"private_key"`
	// ChainID scopes signatures to one chain in the EIP-712 domain.
	ChainID int64 `toml:"chain_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	KeyPrefix    string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IntakeConfig controls consumption of observations from the Redis stream.
type IntakeConfig struct {
	Enabled   bool     `toml:"enabled"`
	Stream    string   `toml:"stream"`
	BatchSize int      `toml:"batch_size"`
	Block     duration `toml:"block"`
	LockTTL   duration `toml:"lock_ttl"`
}

// ArchiveConfig controls moving old funding history to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	LockTTL       duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the mutating endpoints. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit caps POST /api/updates per client IP per RateWindow. Zero
	// disables limiting. Requires redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Cooldown throttles repeated rate_clamped and error alerts per market.
	Cooldown duration `toml:"cooldown"`
}

// DefaultMarkets returns the reference markets bound to their Pyth USD feeds.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{
		{Symbol: "BTC", FeedID: "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"},
		{Symbol: "ETH", FeedID: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"},
		{Symbol: "SOL", FeedID: "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"},
		{Symbol: "HYPE", FeedID: "0x4279e31cc369bbcc2faf022b382b080e32a8e689ff20fbc530d2a603eb6cd98b"},
	}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinUpdateInterval: duration{60 * time.Second},
			MaxFundingRate:    10_000,
		},
		Signer: SignerConfig{
			ChainID: 999,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "funding",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 100_000,
			KeyPrefix:    "fundingd",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "funding-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Intake: IntakeConfig{
			Enabled:   true,
			Stream:    "stream:observations",
			BatchSize: 100,
			Block:     duration{2 * time.Second},
			LockTTL:   duration{15 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			LockTTL:       duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"rate_clamped", "config_updated", "error"},
			Cooldown: duration{15 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"worker": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// rateScale is the value of a 100% funding rate.
const rateScale = 1_000_000

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	// Mode
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: worker, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MinUpdateInterval.Duration < 0 {
		errs = append(errs, "engine: min_update_interval must be >= 0")
	}
	if c.Engine.MaxFundingRate < 0 || c.Engine.MaxFundingRate >= rateScale {
		errs = append(errs, fmt.Sprintf("engine: max_funding_rate must be in [0, %d), got %d", rateScale, c.Engine.MaxFundingRate))
	}

	// Markets
	errs = append(errs, c.validateMarkets()...)

	// Signer
	if c.Signer.Enabled {
		key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Signer.PrivateKey)), "0x")
		if b, err := hexutil.Decode("0x" + key); err != nil || len(b) != 32 {
			errs = append(errs, "signer: private_key must be 32 hex-encoded bytes when enabled")
		}
		if c.Signer.ChainID <= 0 {
			errs = append(errs, "signer: chain_id must be positive")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Intake runs in worker and full modes and needs Redis.
	if c.Intake.Enabled && mode != "server" {
		if !c.Redis.Enabled {
			errs = append(errs, "intake: requires redis.enabled")
		}
		if c.Intake.Stream == "" {
			errs = append(errs, "intake: stream must not be empty")
		}
		if c.Intake.BatchSize < 1 {
			errs = append(errs, "intake: batch_size must be >= 1")
		}
		if c.Intake.Block.Duration < time.Millisecond {
			errs = append(errs, "intake: block must be >= 1ms")
		}
		if c.Intake.Block.Duration >= c.Intake.LockTTL.Duration/2 {
			errs = append(errs, "intake: block must be less than half of lock_ttl")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres.enabled and s3.enabled")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "archive: requires redis.enabled for locking")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled && mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if c.Notify.Cooldown.Duration < 0 {
		errs = append(errs, "notify: cooldown must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateMarkets() []string {
	if len(c.Markets) == 0 {
		return []string{"markets: at least one market must be configured"}
	}
	var errs []string
	symbols := make(map[string]bool, len(c.Markets))
	feeds := make(map[string]string, len(c.Markets))
	for i, m := range c.Markets {
		if m.Symbol == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: symbol must not be empty", i))
		} else if symbols[m.Symbol] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate symbol %q", i, m.Symbol))
		}
		symbols[m.Symbol] = true

		id := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(m.FeedID)), "0x")
		if b, err := hexutil.Decode("0x" + id); err != nil || len(b) != 32 {
			errs = append(errs, fmt.Sprintf("markets[%d]: feed_id %q must be 32 hex-encoded bytes", i, m.FeedID))
			continue
		}
		if other, dup := feeds[id]; dup {
			errs = append(errs, fmt.Sprintf("markets[%d]: feed_id already bound to %q", i, other))
		}
		feeds[id] = m.Symbol
	}
	return errs
}
