package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bookbazaar/bookbot/internal/config"
	"github.com/bookbazaar/bookbot/internal/domain"
	"github.com/bookbazaar/bookbot/internal/notify"
	"github.com/bookbazaar/bookbot/internal/platform/environment"
	"github.com/bookbazaar/bookbot/internal/store/postgres"
	"github.com/bookbazaar/bookbot/internal/transport/redisbus"
)

// eventsChannel is the bus channel trading lifecycle events are published on.
// The WebSocket hub mirrors the same channel to dashboard clients.
const eventsChannel = "bb:events"

// Dependencies bundles the infrastructure-level dependencies the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Bus is the Redis-backed message bus. It doubles as the peer
	// directory and the event bus.
	Bus *redisbus.Bus

	// Env talks to the settlement authority.
	Env domain.Settlement

	// Journal persists settled trades. Nil when the journal is disabled.
	Journal domain.TradeJournal

	// Notifier pushes lifecycle events to external channels.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis message bus ---
	bus, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	}, cfg.Agent.Name, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis bus: %w", err)
	}
	closers = append(closers, func() { _ = bus.Close() })
	deps.Bus = bus

	// --- Settlement environment ---
	deps.Env = environment.New(environment.Config{
		BaseURL: cfg.Environment.BaseURL,
		Timeout: cfg.Environment.Timeout.Duration,
	})

	// --- PostgreSQL trade journal (optional) ---
	if cfg.Journal.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			Host:     cfg.Journal.Host,
			Port:     cfg.Journal.Port,
			Database: cfg.Journal.Database,
			User:     cfg.Journal.User,
			Password: cfg.Journal.Password,
			SSLMode:  cfg.Journal.SSLMode,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
		}

		deps.Journal = postgres.NewTradeStore(pgClient.Pool())
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
