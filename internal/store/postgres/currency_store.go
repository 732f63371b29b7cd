package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// CurrencyStore implements domain.CurrencyStore using PostgreSQL.
type CurrencyStore struct {
	pool *pgxpool.Pool
}

// NewCurrencyStore creates a new CurrencyStore backed by the given pool.
func NewCurrencyStore(pool *pgxpool.Pool) *CurrencyStore {
	return &CurrencyStore{pool: pool}
}

// Get resolves currency metadata. Unknown currencies are returned with zero
// metadata rather than an error: the pipeline treats them as plain ERC-20s.
func (s *CurrencyStore) Get(ctx context.Context, contract string) (domain.Currency, error) {
	contract = strings.ToLower(contract)

	var c domain.Currency
	err := s.pool.QueryRow(ctx, `
		SELECT contract, symbol, decimals, erc20_incompatible
		FROM currencies
		WHERE contract = $1`, contract).
		Scan(&c.Contract, &c.Symbol, &c.Decimals, &c.ERC20Incompatible)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Currency{Contract: contract, Decimals: 18}, nil
		}
		return domain.Currency{}, fmt.Errorf("postgres: get currency %s: %w", contract, err)
	}
	return c, nil
}

// Compile-time interface check.
var _ domain.CurrencyStore = (*CurrencyStore)(nil)
