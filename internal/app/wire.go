package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/deepak28290/hlhpythoracle/internal/blob/s3"
	"github.com/deepak28290/hlhpythoracle/internal/cache/redis"
	"github.com/deepak28290/hlhpythoracle/internal/config"
	"github.com/deepak28290/hlhpythoracle/internal/crypto"
	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/notify"
	"github.com/deepak28290/hlhpythoracle/internal/server/handler"
	"github.com/deepak28290/hlhpythoracle/internal/store/postgres"
)

// archivePartSize is the multipart chunk size used for archive uploads.
const archivePartSize = 8 << 20

// Dependencies bundles the infrastructure the application modes need. Every
// backend is optional; a nil field means the backend is disabled.
type Dependencies struct {
	// Stores
	StateStore   domain.MarketStateStore
	HistoryStore domain.FundingHistoryStore
	AuditStore   domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Signing and notifications
	Signer   *crypto.Signer
	Notifier *notify.Notifier

	// Checks are reported by the health endpoint, keyed by backend name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	var history *postgres.FundingHistoryStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			AppName:  "fundingd",
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		history = postgres.NewFundingHistoryStore(pool)
		deps.StateStore = postgres.NewMarketStateStore(pool)
		deps.HistoryStore = history
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health

		// The archiver reads history and audits uploads, so it needs Postgres.
		if history != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client, archivePartSize),
				history,
				deps.AuditStore,
			)
		}
	}

	// --- Signer ---
	if cfg.Signer.Enabled {
		signer, err := crypto.NewSigner(cfg.Signer.PrivateKey, cfg.Signer.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
		logger.Info("outcome signing enabled", slog.String("address", signer.Address().Hex()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithCooldown(cfg.Notify.Cooldown.Duration, notify.EventRateClamped, notify.EventError),
	)

	return deps, cleanup, nil
}
