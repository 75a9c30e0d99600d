package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id::text, recorded_at, token, quantity,
	price_kas::text, unit_price::text, total_price::text, COALESCE(order_id, ''),
	listing_token, listing_qty, listing_price`

// Insert stores entry. Re-inserting the same entry id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, e domain.TransactionLogEntry) error {
	const query = `
		INSERT INTO trades (
			id, recorded_at, token, quantity,
			price_kas, unit_price, total_price, order_id,
			listing_token, listing_qty, listing_price
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, NULLIF($8, ''),
			$9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, e.Token, e.Quantity,
		e.PriceKAS.String(), e.UnitPrice.String(), e.TotalPrice.String(), e.OrderID,
		e.ListingConfig.Token, e.ListingConfig.Quantity, e.ListingConfig.Price,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", e.ID, err)
	}
	return nil
}

// ListRecent returns entries newest first with optional time filtering.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TransactionLogEntry, error) {
	query, args := pageQuery(`SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`, "recorded_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	entries, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return entries, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TransactionLogEntry, error) {
	var out []domain.TransactionLogEntry
	for rows.Next() {
		var (
			e                     domain.TransactionLogEntry
			priceKAS, unit, total string
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Token, &e.Quantity,
			&priceKAS, &unit, &total, &e.OrderID,
			&e.ListingConfig.Token, &e.ListingConfig.Quantity, &e.ListingConfig.Price,
		); err != nil {
			return nil, err
		}
		var err error
		if e.PriceKAS, err = decimal.NewFromString(priceKAS); err != nil {
			return nil, fmt.Errorf("price_kas %q: %w", priceKAS, err)
		}
		if e.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, fmt.Errorf("unit_price %q: %w", unit, err)
		}
		if e.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("total_price %q: %w", total, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
