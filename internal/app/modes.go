package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bookbazaar/bookbot/internal/server"
	"github.com/bookbazaar/bookbot/internal/server/ws"
	"github.com/bookbazaar/bookbot/internal/trading"
	"github.com/bookbazaar/bookbot/internal/valuation"
)

// TradeMode starts the full trading agent: the message bus receive loop, the
// negotiation coordinator, and the status server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	trader := a.buildTrader()

	events := trading.NewEventPublisher(deps.Bus, eventsChannel, a.logger)
	coord := trading.NewCoordinator(trading.Config{
		Service:       a.cfg.Agent.Service,
		TickInterval:  a.cfg.Session.TickInterval.Duration,
		ReplyDeadline: a.cfg.Session.ReplyDeadline.Duration,
		SettleTimeout: a.cfg.Session.SettleTimeout.Duration,
		AutoStart:     a.cfg.Session.AutoStart,
	}, trader, deps.Bus, deps.Bus, deps.Env, deps.Journal, events, deps.Notifier, a.logger)

	if err := deps.Bus.Start(ctx); err != nil {
		return fmt.Errorf("trade mode: start bus: %w", err)
	}

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startStatusServer(ctx, g, deps, trader)
	}

	return g.Wait()
}

// MonitorMode starts a read-only agent: it serves the status API and mirrors
// bus events to WebSocket clients, but never registers in the directory or
// initiates trades.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	// Event consumer: keeps the subscription alive even when no WebSocket
	// client is connected, so notifications still fire.
	g.Go(func() error {
		ch, err := deps.Bus.Subscribe(ctx, eventsChannel)
		if err != nil {
			return fmt.Errorf("monitor mode: subscribe events: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-ch:
				if !ok {
					return nil
				}
			}
		}
	})

	a.startStatusServer(ctx, g, deps, a.buildTrader())

	return g.Wait()
}

// buildTrader assembles the trader from the session configuration.
func (a *App) buildTrader() *trading.Trader {
	valCfg := valuation.Config{
		UseAveragesAfter:   a.cfg.Session.UseAveragesAfter.Duration,
		StopTradingNonGoal: a.cfg.Session.StopTradingNonGoal.Duration,
		TradingDuration:    a.cfg.Session.TradingDuration.Duration,
		Margin:             a.cfg.Session.Margin,
		SmoothingFactor:    a.cfg.Session.SmoothingFactor,
	}
	propCfg := trading.ProposerConfig{
		BatchProbability:    a.cfg.Session.BatchProbability,
		SaleSkipProbability: a.cfg.Session.SaleSkipProbability,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return trading.NewTrader(a.cfg.Agent.Name, valCfg, propCfg, time.Now, rng, a.cfg.Session.ReserveInventory)
}

// startStatusServer adds the HTTP status server and its WebSocket hub to the
// given errgroup.
func (a *App) startStatusServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, trader *trading.Trader) {
	hub := ws.NewHub(deps.Bus, eventsChannel, a.logger)
	srv := server.New(server.Config{Port: a.cfg.Server.Port}, trader, deps.Journal, hub, a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}
