// Package config defines the top-level configuration for the kaspiano bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KASBOT_* environment variables.
type Config struct {
	Gmail    GmailConfig    `toml:"gmail"`
	Telegram TelegramConfig `toml:"telegram"`
	Bot      BotConfig      `toml:"bot"`
	Trading  TradingConfig  `toml:"trading"`
	Recorder RecorderConfig `toml:"recorder"`
	Listing  ListingConfig  `toml:"listing"`
	Orders   OrdersConfig   `toml:"orders"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// GmailConfig holds the mailbox credentials and the intake polling cadence.
type GmailConfig struct {
	CredentialsPath string   `toml:"credentials_path"`
	TokenPath       string   `toml:"token_path"`
	User            string   `toml:"user"`
	Sender          string   `toml:"sender"`
	Labels          []string `toml:"labels"`
	PollInterval    duration `toml:"poll_interval"`
}

// TelegramConfig holds the MTProto user-session credentials.
type TelegramConfig struct {
	AppID       int    `toml:"app_id"`
	AppHash     string `toml:"app_hash"`
	SessionPath string `toml:"session_path"`
	BotUsername string `toml:"bot_username"`
}

// BotConfig holds the fixed waits used while driving the bot UI. The bot has
// no acknowledgment channel, so every step is followed by a delay.
type BotConfig struct {
	StepDelay      duration `toml:"step_delay"`
	ActionDelay    duration `toml:"action_delay"`
	VerifyAttempts int      `toml:"verify_attempts"`
	VerifyInterval duration `toml:"verify_interval"`
}

// TradingConfig holds purchase limits and dispatch cadence.
type TradingConfig struct {
	MaxUnitPriceKAS    float64  `toml:"max_unit_price_kas"`
	MaxTotalPriceKAS   float64  `toml:"max_total_price_kas"`
	DestinationAddress string   `toml:"destination_address"`
	DispatchInterval   duration `toml:"dispatch_interval"`
	PostPurchaseDelay  duration `toml:"post_purchase_delay"`
	DryRun             bool     `toml:"dry_run"`
}

// RecorderConfig holds the paths of the files shared with the listing tool.
type RecorderConfig struct {
	ListingConfigPath  string `toml:"listing_config_path"`
	TransactionLogPath string `toml:"transaction_log_path"`
	Markup             string `toml:"markup"`
}

// ListingConfig describes the downstream listing automation process.
type ListingConfig struct {
	Enabled bool     `toml:"enabled"`
	Command []string `toml:"command"`
	Dir     string   `toml:"dir"`
	Timeout duration `toml:"timeout"`
}

// OrdersConfig selects where processed order ids are remembered.
type OrdersConfig struct {
	// ProcessedStore is "memory" or "redis".
	ProcessedStore string `toml:"processed_store"`
	ProcessedKey   string `toml:"processed_key"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
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
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values the bot has always run
// with: five-second loops, the KSPR bot, a 200 KAS unit cap and a 15000 KAS
// total cap.
func Defaults() Config {
	return Config{
		Gmail: GmailConfig{
			CredentialsPath: "credentials.json",
			TokenPath:       "token.json",
			User:            "me",
			Sender:          "support@kaspiano.com",
			Labels:          []string{"INBOX", "UNREAD"},
			PollInterval:    duration{5 * time.Second},
		},
		Telegram: TelegramConfig{
			SessionPath: "telegram.session.json",
			BotUsername: "@kspr_1_bot",
		},
		Bot: BotConfig{
			StepDelay:      duration{2 * time.Second},
			ActionDelay:    duration{3 * time.Second},
			VerifyAttempts: 3,
			VerifyInterval: duration{5 * time.Second},
		},
		Trading: TradingConfig{
			MaxUnitPriceKAS:   200,
			MaxTotalPriceKAS:  15000,
			DispatchInterval:  duration{5 * time.Second},
			PostPurchaseDelay: duration{5 * time.Second},
		},
		Recorder: RecorderConfig{
			ListingConfigPath:  "listing_config.json",
			TransactionLogPath: "transaction_log.json",
			Markup:             "1.10",
		},
		Listing: ListingConfig{
			Enabled: true,
			Command: []string{"npx", "ts-node", "listing-test.ts"},
			Timeout: duration{2 * time.Minute},
		},
		Orders: OrdersConfig{
			ProcessedStore: "memory",
			ProcessedKey:   "kasbot:processed_orders",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "kasbot-data",
			ForcePathStyle:  true,
			Prefix:          "kasbot",
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "trade_failed", "transfer_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":     true,
	"monitor":  true,
	"dispatch": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsMailbox reports whether the mode polls the inbox.
func (c *Config) NeedsMailbox() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "monitor"
}

// NeedsBot reports whether the mode drives the marketplace bot.
func (c *Config) NeedsBot() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "dispatch"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, dispatch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Gmail
	if c.NeedsMailbox() {
		if c.Gmail.CredentialsPath == "" || c.Gmail.TokenPath == "" {
			errs = append(errs, "gmail: credentials_path and token_path must be set")
		}
		if c.Gmail.PollInterval.Duration <= 0 {
			errs = append(errs, "gmail: poll_interval must be > 0")
		}
	}

	// Telegram + trading, only where the bot is driven.
	if c.NeedsBot() {
		if c.Telegram.AppID <= 0 || c.Telegram.AppHash == "" {
			errs = append(errs, "telegram: app_id and app_hash are required for mode "+c.Mode)
		}
		if c.Telegram.BotUsername == "" {
			errs = append(errs, "telegram: bot_username must not be empty")
		}
		if c.Trading.DestinationAddress == "" {
			errs = append(errs, "trading: destination_address is required for mode "+c.Mode)
		} else if !strings.HasPrefix(c.Trading.DestinationAddress, "kaspa:") {
			errs = append(errs, "trading: destination_address must start with kaspa:")
		}
	}
	if c.Trading.MaxUnitPriceKAS <= 0 {
		errs = append(errs, "trading: max_unit_price_kas must be > 0")
	}
	if c.Trading.MaxTotalPriceKAS <= 0 {
		errs = append(errs, "trading: max_total_price_kas must be > 0")
	}
	if c.Trading.DispatchInterval.Duration <= 0 {
		errs = append(errs, "trading: dispatch_interval must be > 0")
	}
	if c.Bot.VerifyAttempts < 1 {
		errs = append(errs, "bot: verify_attempts must be >= 1")
	}

	// Recorder
	if c.Recorder.ListingConfigPath == "" || c.Recorder.TransactionLogPath == "" {
		errs = append(errs, "recorder: listing_config_path and transaction_log_path must be set")
	}
	if c.Recorder.Markup == "" {
		errs = append(errs, "recorder: markup must not be empty")
	}

	// Listing
	if c.Listing.Enabled && len(c.Listing.Command) == 0 {
		errs = append(errs, "listing: command must not be empty when enabled")
	}

	// Orders
	switch c.Orders.ProcessedStore {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "orders: processed_store \"redis\" requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("orders: unknown processed_store %q (valid: memory, redis)", c.Orders.ProcessedStore))
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

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
