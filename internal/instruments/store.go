// Package instruments resolves trading symbols to provider instrument keys
// using the instrument master loaded into PostgreSQL.
package instruments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finverse/feedrelay/internal/config"
)

// ErrNotFound reports that no instrument matches the symbol.
var ErrNotFound = errors.New("instruments: not found")

// Instrument is one row of the instrument master.
type Instrument struct {
	InstrumentKey  string `json:"instrument_key"`
	TradingSymbol  string `json:"trading_symbol"`
	Name           string `json:"name"`
	Exchange       string `json:"exchange"`
	InstrumentType string `json:"instrument_type"`
}

// Store queries the instrument master.
type Store struct {
	pool *pgxpool.Pool
}

// Connect creates the connection pool and verifies it with a ping. The
// pool bounds come from the connection string.
func Connect(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	pool, err := pgxpool.New(ctx, BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Search returns equity and index instruments whose symbol or name starts
// with q, case-insensitively, ordered by symbol.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]Instrument, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT instrument_key, trading_symbol, name, exchange, instrument_type
		FROM instruments
		WHERE (trading_symbol ILIKE $1 OR name ILIKE $1)
		  AND instrument_type IN ('EQUITY', 'INDEX')
		ORDER BY trading_symbol
		LIMIT $2`,
		q+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search instruments: %w", err)
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.InstrumentKey, &in.TradingSymbol, &in.Name, &in.Exchange, &in.InstrumentType); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search instruments: %w", err)
	}
	return out, nil
}

// Lookup resolves one trading symbol to its instrument, preferring an exact
// symbol match.
func (s *Store) Lookup(ctx context.Context, symbol string) (*Instrument, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, ErrNotFound
	}

	var in Instrument
	err := s.pool.QueryRow(ctx, `
		SELECT instrument_key, trading_symbol, name, exchange, instrument_type
		FROM instruments
		WHERE UPPER(trading_symbol) = UPPER($1)
		  AND instrument_type IN ('EQUITY', 'INDEX')
		ORDER BY exchange
		LIMIT 1`,
		symbol,
	).Scan(&in.InstrumentKey, &in.TradingSymbol, &in.Name, &in.Exchange, &in.InstrumentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup instrument %s: %w", symbol, err)
	}
	return &in, nil
}

// Ping verifies database connectivity, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
