package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/kaspianobot/internal/blob/s3"
	"github.com/alanyoungcy/kaspianobot/internal/cache/redis"
	"github.com/alanyoungcy/kaspianobot/internal/config"
	"github.com/alanyoungcy/kaspianobot/internal/domain"
	"github.com/alanyoungcy/kaspianobot/internal/executor"
	"github.com/alanyoungcy/kaspianobot/internal/notify"
	"github.com/alanyoungcy/kaspianobot/internal/platform/gmail"
	"github.com/alanyoungcy/kaspianobot/internal/platform/telegram"
	"github.com/alanyoungcy/kaspianobot/internal/server/handler"
	"github.com/alanyoungcy/kaspianobot/internal/store/postgres"
)

// Dependencies bundles the external adapters the modes run on. Optional
// backends are nil when disabled in the config.
type Dependencies struct {
	// Adapters
	Mailbox domain.Mailbox    // nil in dispatch mode
	Session *telegram.Session // nil in monitor mode

	// Redis
	Processed   domain.ProcessedOrderSet
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Postgres
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Object storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	Notifier *notify.Notifier

	// HealthChecks feeds GET /api/health.
	HealthChecks map[string]handler.PingFunc
}

// Wire constructs the adapters enabled by cfg. The returned cleanup func
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{HealthChecks: map[string]handler.PingFunc{}}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.LockManager = redis.NewLockManager(rc, "kasbot:")
		deps.SignalBus = redis.NewSignalBus(rc, "kasbot:")
		if cfg.Orders.ProcessedStore == "redis" {
			deps.Processed = redis.NewProcessedSet(rc, cfg.Orders.ProcessedKey)
		}
		deps.HealthChecks["redis"] = rc.Ping
	}
	if deps.Processed == nil {
		deps.Processed = executor.NewMemoryProcessedSet()
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.HealthChecks["postgres"] = pg.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(sc)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AuditStore, s3blob.ArchiverConfig{
			LogPath:  cfg.Recorder.TransactionLogPath,
			Prefix:   cfg.S3.Prefix,
			Interval: cfg.S3.ArchiveInterval.Duration,
		}, logger)
		deps.HealthChecks["s3"] = sc.Health
	}

	// --- Mailbox ---
	if cfg.NeedsMailbox() {
		mb, err := gmail.New(ctx, gmail.Config{
			CredentialsPath: cfg.Gmail.CredentialsPath,
			TokenPath:       cfg.Gmail.TokenPath,
			User:            cfg.Gmail.User,
		})
		if err != nil {
			return fail("gmail", err)
		}
		deps.Mailbox = mb
	}

	// --- Telegram user session ---
	if cfg.NeedsBot() {
		deps.Session = telegram.NewSession(telegram.Config{
			AppID:       cfg.Telegram.AppID,
			AppHash:     cfg.Telegram.AppHash,
			SessionPath: cfg.Telegram.SessionPath,
			BotUsername: cfg.Telegram.BotUsername,
		}, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
