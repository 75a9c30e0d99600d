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
// built-in defaults, applies KASBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KASBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way rather than via the file.
func applyEnvOverrides(cfg *Config) {
	// ── Gmail ──
	setStr(&cfg.Gmail.CredentialsPath, "KASBOT_GMAIL_CREDENTIALS_PATH")
	setStr(&cfg.Gmail.TokenPath, "KASBOT_GMAIL_TOKEN_PATH")
	setStr(&cfg.Gmail.Sender, "KASBOT_GMAIL_SENDER")
	setDuration(&cfg.Gmail.PollInterval, "KASBOT_GMAIL_POLL_INTERVAL")

	// ── Telegram ──
	setInt(&cfg.Telegram.AppID, "KASBOT_TELEGRAM_APP_ID")
	setStr(&cfg.Telegram.AppHash, "KASBOT_TELEGRAM_APP_HASH")
	setStr(&cfg.Telegram.SessionPath, "KASBOT_TELEGRAM_SESSION_PATH")
	setStr(&cfg.Telegram.BotUsername, "KASBOT_TELEGRAM_BOT_USERNAME")

	// ── Bot ──
	setDuration(&cfg.Bot.StepDelay, "KASBOT_BOT_STEP_DELAY")
	setDuration(&cfg.Bot.ActionDelay, "KASBOT_BOT_ACTION_DELAY")
	setInt(&cfg.Bot.VerifyAttempts, "KASBOT_BOT_VERIFY_ATTEMPTS")
	setDuration(&cfg.Bot.VerifyInterval, "KASBOT_BOT_VERIFY_INTERVAL")

	// ── Trading ──
	setFloat64(&cfg.Trading.MaxUnitPriceKAS, "KASBOT_TRADING_MAX_UNIT_PRICE_KAS")
	setFloat64(&cfg.Trading.MaxTotalPriceKAS, "KASBOT_TRADING_MAX_TOTAL_PRICE_KAS")
	setStr(&cfg.Trading.DestinationAddress, "KASBOT_TRADING_DESTINATION_ADDRESS")
	setDuration(&cfg.Trading.DispatchInterval, "KASBOT_TRADING_DISPATCH_INTERVAL")
	setBool(&cfg.Trading.DryRun, "KASBOT_TRADING_DRY_RUN")

	// ── Recorder ──
	setStr(&cfg.Recorder.ListingConfigPath, "KASBOT_RECORDER_LISTING_CONFIG_PATH")
	setStr(&cfg.Recorder.TransactionLogPath, "KASBOT_RECORDER_TRANSACTION_LOG_PATH")
	setStr(&cfg.Recorder.Markup, "KASBOT_RECORDER_MARKUP")

	// ── Listing ──
	setBool(&cfg.Listing.Enabled, "KASBOT_LISTING_ENABLED")
	setStr(&cfg.Listing.Dir, "KASBOT_LISTING_DIR")

	// ── Orders ──
	setStr(&cfg.Orders.ProcessedStore, "KASBOT_ORDERS_PROCESSED_STORE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KASBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KASBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KASBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KASBOT_REDIS_DB")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KASBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KASBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KASBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KASBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KASBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KASBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KASBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KASBOT_POSTGRES_SSL_MODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KASBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KASBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KASBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KASBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KASBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KASBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KASBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KASBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "KASBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "KASBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KASBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KASBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KASBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KASBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KASBOT_MODE")
	setStr(&cfg.LogLevel, "KASBOT_LOG_LEVEL")
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
