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
// built-in defaults, applies BOOKBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BOOKBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Agent ──
	setStr(&cfg.Agent.Name, "BOOKBOT_AGENT_NAME")
	setStr(&cfg.Agent.Service, "BOOKBOT_AGENT_SERVICE")

	// ── Session ──
	setDuration(&cfg.Session.UseAveragesAfter, "BOOKBOT_SESSION_USE_AVERAGES_AFTER")
	setDuration(&cfg.Session.StopTradingNonGoal, "BOOKBOT_SESSION_STOP_TRADING_NONGOAL")
	setDuration(&cfg.Session.TradingDuration, "BOOKBOT_SESSION_TRADING_DURATION")
	setDuration(&cfg.Session.TickInterval, "BOOKBOT_SESSION_TICK_INTERVAL")
	setDuration(&cfg.Session.ReplyDeadline, "BOOKBOT_SESSION_REPLY_DEADLINE")
	setDuration(&cfg.Session.SettleTimeout, "BOOKBOT_SESSION_SETTLE_TIMEOUT")
	setFloat64(&cfg.Session.Margin, "BOOKBOT_SESSION_MARGIN")
	setFloat64(&cfg.Session.SmoothingFactor, "BOOKBOT_SESSION_SMOOTHING_FACTOR")
	setFloat64(&cfg.Session.BatchProbability, "BOOKBOT_SESSION_BATCH_PROBABILITY")
	setFloat64(&cfg.Session.SaleSkipProbability, "BOOKBOT_SESSION_SALE_SKIP_PROBABILITY")
	setBool(&cfg.Session.AutoStart, "BOOKBOT_SESSION_AUTO_START")
	setBool(&cfg.Session.ReserveInventory, "BOOKBOT_SESSION_RESERVE_INVENTORY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BOOKBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOOKBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOOKBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOOKBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOOKBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOOKBOT_REDIS_TLS_ENABLED")

	// ── Environment ──
	setStr(&cfg.Environment.BaseURL, "BOOKBOT_ENVIRONMENT_BASE_URL")
	setDuration(&cfg.Environment.Timeout, "BOOKBOT_ENVIRONMENT_TIMEOUT")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "BOOKBOT_JOURNAL_ENABLED")
	setStr(&cfg.Journal.DSN, "BOOKBOT_JOURNAL_DSN")
	setStr(&cfg.Journal.Host, "BOOKBOT_JOURNAL_HOST")
	setInt(&cfg.Journal.Port, "BOOKBOT_JOURNAL_PORT")
	setStr(&cfg.Journal.Database, "BOOKBOT_JOURNAL_DATABASE")
	setStr(&cfg.Journal.User, "BOOKBOT_JOURNAL_USER")
	setStr(&cfg.Journal.Password, "BOOKBOT_JOURNAL_PASSWORD")
	setStr(&cfg.Journal.SSLMode, "BOOKBOT_JOURNAL_SSLMODE")
	setInt(&cfg.Journal.PoolMaxConns, "BOOKBOT_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "BOOKBOT_JOURNAL_POOL_MIN_CONNS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BOOKBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BOOKBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOOKBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOOKBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOOKBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOOKBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOOKBOT_MODE")
	setStr(&cfg.LogLevel, "BOOKBOT_LOG_LEVEL")
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
