package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/selimacar/trendbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Create inserts an execution record.
func (s *TradeStore) Create(ctx context.Context, f domain.TradeFill) error {
	const query = `
		INSERT INTO trade_fills (
			id, order_id, symbol, side, role,
			price, amount, slippage_pct, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OrderID, f.Symbol, string(f.Side), string(f.Role),
		f.Price, f.Amount, f.SlippagePercent, f.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade fill %s: %w", f.ID, err)
	}
	return nil
}

// ListRecent returns fills newest-first with pagination.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeFill, error) {
	query := `SELECT id, order_id, symbol, side, role, price, amount,
		slippage_pct, executed_at FROM trade_fills WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.TradeFill
	for rows.Next() {
		var f domain.TradeFill
		var side, role string
		err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &role,
			&f.Price, &f.Amount, &f.SlippagePercent, &f.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		f.Role = domain.OrderRole(role)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trade fills rows: %w", err)
	}
	return fills, nil
}
