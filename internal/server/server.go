// Package server exposes the agent's status over HTTP: health and status
// endpoints, the recent-trades listing, and a WebSocket stream of negotiation
// events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
	"github.com/bookbazaar/bookbot/internal/server/ws"
	"github.com/bookbazaar/bookbot/internal/trading"
)

// Config holds the HTTP server parameters.
type Config struct {
	Port int
}

// Server is the agent's status HTTP server.
type Server struct {
	cfg     Config
	trader  *trading.Trader
	journal domain.TradeJournal // optional
	hub     *ws.Hub
	logger  *slog.Logger
}

// New creates a Server reporting on the given trader.
func New(cfg Config, trader *trading.Trader, journal domain.TradeJournal, hub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		trader:  trader,
		journal: journal,
		hub:     hub,
		logger:  logger.With(slog.String("component", "server")),
	}
}

// Run starts the HTTP server and the WebSocket hub, and shuts both down when
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "status server listening", slog.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	go s.hub.Run(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trader.Snapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []domain.SettledTrade{})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.journal.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if trades == nil {
		trades = []domain.SettledTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
