package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookbazaar/bookbot/internal/domain"
)

// TradeStore implements domain.TradeJournal using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records one settled trade. Re-inserting the same ID is silently
// skipped so a retried settlement never duplicates a row.
func (s *TradeStore) Insert(ctx context.Context, t domain.SettledTrade) error {
	const query = `
		INSERT INTO settled_trades (
			id, conversation_id, counterparty, side,
			gave_books, gave_money, got_books, got_money,
			utility, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		t.ID, t.ConversationID, t.Counterparty, t.Side,
		t.GaveBooks, t.GaveMoney, t.GotBooks, t.GotMoney,
		t.Utility, t.SettledAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecent returns up to limit settled trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.SettledTrade, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, conversation_id, counterparty, side,
			gave_books, gave_money, got_books, got_money,
			utility, settled_at
		FROM settled_trades
		ORDER BY settled_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.SettledTrade
	for rows.Next() {
		var t domain.SettledTrade
		if err := rows.Scan(
			&t.ID, &t.ConversationID, &t.Counterparty, &t.Side,
			&t.GaveBooks, &t.GaveMoney, &t.GotBooks, &t.GotMoney,
			&t.Utility, &t.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeStore)(nil)
