package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// PaymentSplitStore implements domain.PaymentSplitStore using PostgreSQL.
type PaymentSplitStore struct {
	pool *pgxpool.Pool
}

// NewPaymentSplitStore creates a new PaymentSplitStore backed by the pool.
func NewPaymentSplitStore(pool *pgxpool.Pool) *PaymentSplitStore {
	return &PaymentSplitStore{pool: pool}
}

// Get loads a payment split and its recipient shares.
func (s *PaymentSplitStore) Get(ctx context.Context, address string) (domain.PaymentSplit, error) {
	address = strings.ToLower(address)

	var split domain.PaymentSplit
	err := s.pool.QueryRow(ctx, `
		SELECT address, api_key, is_deployed, last_distribution_time, created_at, updated_at
		FROM payment_splits
		WHERE address = $1`, address).
		Scan(&split.Address, &split.APIKey, &split.IsDeployed,
			&split.LastDistributionTime, &split.CreatedAt, &split.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PaymentSplit{}, domain.ErrNotFound
		}
		return domain.PaymentSplit{}, fmt.Errorf("postgres: get payment split %s: %w", address, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT recipient, amount_bps
		FROM payment_split_recipients
		WHERE payment_split_address = $1
		ORDER BY recipient`, address)
	if err != nil {
		return domain.PaymentSplit{}, fmt.Errorf("postgres: split recipients %s: %w", address, err)
	}
	defer rows.Close()

	for rows.Next() {
		var fee domain.SplitFee
		if err := rows.Scan(&fee.Recipient, &fee.Bps); err != nil {
			return domain.PaymentSplit{}, fmt.Errorf("postgres: scan split recipient: %w", err)
		}
		split.Fees = append(split.Fees, fee)
	}
	return split, rows.Err()
}

// Save persists a payment split and its recipients idempotently.
func (s *PaymentSplitStore) Save(ctx context.Context, split domain.PaymentSplit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save split: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_splits (address, api_key)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING`,
		strings.ToLower(split.Address), split.APIKey)
	if err != nil {
		return fmt.Errorf("postgres: save payment split %s: %w", split.Address, err)
	}

	for _, fee := range split.Fees {
		_, err = tx.Exec(ctx, `
			INSERT INTO payment_split_recipients (payment_split_address, recipient, amount_bps)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			strings.ToLower(split.Address), strings.ToLower(fee.Recipient), fee.Bps)
		if err != nil {
			return fmt.Errorf("postgres: save split recipient %s: %w", fee.Recipient, err)
		}
	}

	return tx.Commit(ctx)
}

// SetDeployed marks a split contract as deployed on chain.
func (s *PaymentSplitStore) SetDeployed(ctx context.Context, address string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payment_splits
		SET is_deployed = TRUE, updated_at = NOW()
		WHERE address = $1 AND NOT is_deployed`,
		strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("postgres: set split deployed %s: %w", address, err)
	}
	return nil
}

// UpdateBalance upserts the accrued balance of a split for one currency.
func (s *PaymentSplitStore) UpdateBalance(ctx context.Context, address, currency string, balance *big.Int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_split_balances (payment_split_address, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_split_address, currency) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = NOW()`,
		strings.ToLower(address), strings.ToLower(currency), balance.String())
	if err != nil {
		return fmt.Errorf("postgres: update split balance %s/%s: %w", address, currency, err)
	}
	return nil
}

// Currencies lists every currency a split has accrued balance in.
func (s *PaymentSplitStore) Currencies(ctx context.Context, address string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT currency
		FROM payment_split_balances
		WHERE payment_split_address = $1`,
		strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("postgres: split currencies %s: %w", address, err)
	}
	defer rows.Close()

	var currencies []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres: scan split currency: %w", err)
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

// List returns all payment splits (recipients not populated).
func (s *PaymentSplitStore) List(ctx context.Context) ([]domain.PaymentSplit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, api_key, is_deployed
		FROM payment_splits`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payment splits: %w", err)
	}
	defer rows.Close()

	var splits []domain.PaymentSplit
	for rows.Next() {
		var split domain.PaymentSplit
		if err := rows.Scan(&split.Address, &split.APIKey, &split.IsDeployed); err != nil {
			return nil, fmt.Errorf("postgres: scan payment split: %w", err)
		}
		splits = append(splits, split)
	}
	return splits, rows.Err()
}

// Compile-time interface check.
var _ domain.PaymentSplitStore = (*PaymentSplitStore)(nil)
