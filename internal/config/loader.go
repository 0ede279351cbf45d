package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDINGD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDINGD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.MinUpdateInterval, "FUNDINGD_ENGINE_MIN_UPDATE_INTERVAL")
	setInt64(&cfg.Engine.MaxFundingRate, "FUNDINGD_ENGINE_MAX_FUNDING_RATE")

	// ── Markets ──
	setMarkets(&cfg.Markets, "FUNDINGD_MARKETS")

	// ── Signer ──
	setBool(&cfg.Signer.Enabled, "FUNDINGD_SIGNER_ENABLED")
	setStr(&cfg.Signer.PrivateKey, "FUNDINGD_SIGNER_PRIVATE_KEY")
	setInt64(&cfg.Signer.ChainID, "FUNDINGD_SIGNER_CHAIN_ID")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FUNDINGD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FUNDINGD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDINGD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDINGD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDINGD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDINGD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDINGD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDINGD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDINGD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDINGD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDINGD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUNDINGD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUNDINGD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDINGD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDINGD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDINGD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDINGD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDINGD_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "FUNDINGD_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "FUNDINGD_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDINGD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDINGD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDINGD_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDINGD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDINGD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDINGD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDINGD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDINGD_S3_FORCE_PATH_STYLE")

	// ── Intake ──
	setBool(&cfg.Intake.Enabled, "FUNDINGD_INTAKE_ENABLED")
	setStr(&cfg.Intake.Stream, "FUNDINGD_INTAKE_STREAM")
	setInt(&cfg.Intake.BatchSize, "FUNDINGD_INTAKE_BATCH_SIZE")
	setDuration(&cfg.Intake.Block, "FUNDINGD_INTAKE_BLOCK")
	setDuration(&cfg.Intake.LockTTL, "FUNDINGD_INTAKE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FUNDINGD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FUNDINGD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FUNDINGD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.LockTTL, "FUNDINGD_ARCHIVE_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDINGD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDINGD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDINGD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDINGD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUNDINGD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FUNDINGD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDINGD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDINGD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDINGD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDINGD_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "FUNDINGD_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDINGD_MODE")
	setStr(&cfg.LogLevel, "FUNDINGD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setMarkets parses "BTC=0x...,ETH=0x..." into market bindings. The whole
// value is ignored when any entry is malformed.
func setMarkets(dst *[]MarketConfig, key string) {
	var entries []string
	setStringSlice(&entries, key)
	if len(entries) == 0 {
		return
	}
	markets := make([]MarketConfig, 0, len(entries))
	for _, e := range entries {
		sym, id, ok := strings.Cut(e, "=")
		sym, id = strings.TrimSpace(sym), strings.TrimSpace(id)
		if !ok || sym == "" || id == "" {
			return
		}
		markets = append(markets, MarketConfig{Symbol: sym, FeedID: id})
	}
	*dst = markets
}
