// Package config defines the top-level configuration for the book trading
// agent and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BOOKBOT_* environment
// variables.
type Config struct {
	Agent       AgentConfig       `toml:"agent"`
	Session     SessionConfig     `toml:"session"`
	Redis       RedisConfig       `toml:"redis"`
	Environment EnvironmentConfig `toml:"environment"`
	Journal     JournalConfig     `toml:"journal"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// AgentConfig identifies this agent on the trading network.
type AgentConfig struct {
	// Name is the agent's unique name; peers address messages to it.
	Name string `toml:"name"`
	// Service is the directory service type the agent trades under.
	Service string `toml:"service"`
}

// SessionConfig holds the trading-session timing and pricing parameters.
// Every constant is tunable so tests can run at compressed time scales.
type SessionConfig struct {
	// UseAveragesAfter is the cold-start window during which smoothed market
	// observations are not yet trusted.
	UseAveragesAfter duration `toml:"use_averages_after"`
	// StopTradingNonGoal marks the start of the wind-down phase: non-goal
	// book valuations decay from here to the end of the session.
	StopTradingNonGoal duration `toml:"stop_trading_nongoal"`
	// TradingDuration is the total session length.
	TradingDuration duration `toml:"trading_duration"`
	// TickInterval is how often a purchase round is initiated.
	TickInterval duration `toml:"tick_interval"`
	// ReplyDeadline bounds how long a broadcast collects responses.
	ReplyDeadline duration `toml:"reply_deadline"`
	// SettleTimeout bounds the wait for settlement confirmation.
	SettleTimeout duration `toml:"settle_timeout"`
	// Margin is the spread applied to valuations.
	Margin float64 `toml:"margin"`
	// SmoothingFactor is the EMA alpha in (0, 1].
	SmoothingFactor float64 `toml:"smoothing_factor"`
	// BatchProbability is the chance of widening a purchase request by one
	// extra goal book (granted independently per slot).
	BatchProbability float64 `toml:"batch_probability"`
	// SaleSkipProbability is the chance of passing over a candidate book
	// when sampling the items-plus-money sale alternative.
	SaleSkipProbability float64 `toml:"sale_skip_probability"`
	// AutoStart begins trading at startup instead of waiting for the
	// environment's start-trading request.
	AutoStart bool `toml:"auto_start"`
	// ReserveInventory enables the cross-round reservation ledger that
	// closes the same-book double-commit race. Off by default to match the
	// legacy behavior.
	ReserveInventory bool `toml:"reserve_inventory"`
}

// RedisConfig holds connection parameters for the message bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// EnvironmentConfig holds the settlement-authority endpoint.
type EnvironmentConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// JournalConfig holds PostgreSQL parameters for the settled-trade journal.
// The journal is optional; it is wired only when Enabled is true.
type JournalConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values. The
// session constants match the reference trading environment.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			Name:    "trader-1",
			Service: "book-trader",
		},
		Session: SessionConfig{
			UseAveragesAfter:    duration{10 * time.Second},
			StopTradingNonGoal:  duration{15 * time.Second},
			TradingDuration:     duration{18 * time.Second},
			TickInterval:        duration{2 * time.Second},
			ReplyDeadline:       duration{5 * time.Second},
			SettleTimeout:       duration{5 * time.Second},
			Margin:              0.1,
			SmoothingFactor:     0.5,
			BatchProbability:    0.5,
			SaleSkipProbability: 0.5,
			AutoStart:           false,
			ReserveInventory:    false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Environment: EnvironmentConfig{
			BaseURL: "http://localhost:8080",
			Timeout: duration{5 * time.Second},
		},
		Journal: JournalConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "bookbot",
			User:         "bookbot",
			SSLMode:      "disable",
			PoolMaxConns: 5,
			PoolMinConns: 1,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"session_started", "session_ended", "trade_settled", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, "agent: name must not be empty")
	}
	if strings.TrimSpace(c.Agent.Service) == "" {
		errs = append(errs, "agent: service must not be empty")
	}

	s := c.Session
	if s.UseAveragesAfter.Duration <= 0 {
		errs = append(errs, "session: use_averages_after must be > 0")
	}
	if s.StopTradingNonGoal.Duration <= s.UseAveragesAfter.Duration {
		errs = append(errs, "session: stop_trading_nongoal must exceed use_averages_after")
	}
	if s.TradingDuration.Duration <= s.StopTradingNonGoal.Duration {
		errs = append(errs, "session: trading_duration must exceed stop_trading_nongoal")
	}
	if s.TickInterval.Duration <= 0 {
		errs = append(errs, "session: tick_interval must be > 0")
	}
	if s.ReplyDeadline.Duration <= 0 {
		errs = append(errs, "session: reply_deadline must be > 0")
	}
	if s.Margin < 0 || s.Margin >= 1 {
		errs = append(errs, fmt.Sprintf("session: margin must be in [0, 1), got %g", s.Margin))
	}
	if s.SmoothingFactor <= 0 || s.SmoothingFactor > 1 {
		errs = append(errs, fmt.Sprintf("session: smoothing_factor must be in (0, 1], got %g", s.SmoothingFactor))
	}
	if s.BatchProbability < 0 || s.BatchProbability >= 1 {
		errs = append(errs, fmt.Sprintf("session: batch_probability must be in [0, 1), got %g", s.BatchProbability))
	}
	if s.SaleSkipProbability < 0 || s.SaleSkipProbability >= 1 {
		errs = append(errs, fmt.Sprintf("session: sale_skip_probability must be in [0, 1), got %g", s.SaleSkipProbability))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Mode == "trade" && c.Environment.BaseURL == "" {
		errs = append(errs, "environment: base_url must not be empty for trade mode")
	}

	if c.Journal.Enabled {
		if strings.TrimSpace(c.Journal.DSN) == "" {
			if c.Journal.Host == "" {
				errs = append(errs, "journal: host must not be empty (or set journal.dsn)")
			}
			if c.Journal.Port <= 0 || c.Journal.Port > 65535 {
				errs = append(errs, fmt.Sprintf("journal: port must be 1-65535, got %d", c.Journal.Port))
			}
			if c.Journal.Database == "" {
				errs = append(errs, "journal: database must not be empty")
			}
		}
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must not exceed pool_max_conns")
		}
	}

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
