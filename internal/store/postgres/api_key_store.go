package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// APIKeyStore implements domain.APIKeyStore using PostgreSQL.
type APIKeyStore struct {
	pool *pgxpool.Pool
}

// NewAPIKeyStore creates a new APIKeyStore backed by the given pool.
func NewAPIKeyStore(pool *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{pool: pool}
}

const apiKeySelectCols = `key, app_name, orderbook_fee_bps, orderbook_fee_overrides, disabled`

func scanAPIKey(row pgx.Row) (domain.APIKey, error) {
	var (
		k         domain.APIKey
		overrides []byte
	)
	if err := row.Scan(&k.Key, &k.AppName, &k.OrderbookFeeBps, &overrides, &k.Disabled); err != nil {
		return domain.APIKey{}, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &k.OrderbookFeeOverrides); err != nil {
			return domain.APIKey{}, fmt.Errorf("decode fee overrides: %w", err)
		}
	}
	return k, nil
}

// Get resolves one api key.
func (s *APIKeyStore) Get(ctx context.Context, key string) (domain.APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+apiKeySelectCols+` FROM api_keys WHERE key = $1`, key)

	k, err := scanAPIKey(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("postgres: get api key: %w", err)
	}
	return k, nil
}

// List returns every api key.
func (s *APIKeyStore) List(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeySelectCols+` FROM api_keys`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Compile-time interface check.
var _ domain.APIKeyStore = (*APIKeyStore)(nil)
