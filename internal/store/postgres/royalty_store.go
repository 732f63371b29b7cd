package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// RoyaltyStore implements domain.RoyaltyStore using PostgreSQL. Default
// royalty configurations are written by an out-of-scope registry-sync job;
// the intake pipeline only reads them.
type RoyaltyStore struct {
	pool *pgxpool.Pool
}

// NewRoyaltyStore creates a new RoyaltyStore backed by the given pool.
func NewRoyaltyStore(pool *pgxpool.Pool) *RoyaltyStore {
	return &RoyaltyStore{pool: pool}
}

// DefaultRoyalties returns the configured default royalties for a collection.
// Token-level overrides take precedence over the collection-level default.
func (s *RoyaltyStore) DefaultRoyalties(ctx context.Context, contract string, tokenID *big.Int) ([]domain.Royalty, error) {
	var tokenIDStr *string
	if tokenID != nil {
		v := tokenID.String()
		tokenIDStr = &v
	}

	rows, err := s.pool.Query(ctx, `
		SELECT recipient, bps
		FROM collection_royalties
		WHERE contract = $1
		  AND (token_id = $2 OR token_id IS NULL)
		ORDER BY token_id NULLS LAST`,
		strings.ToLower(contract), tokenIDStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: default royalties %s: %w", contract, err)
	}
	defer rows.Close()

	return scanRoyalties(rows)
}

// DefaultRoyaltiesByTokenSet returns the default royalties for the contract a
// token set targets. Token-set ids encode their contract as the second
// segment of the deterministic id.
func (s *RoyaltyStore) DefaultRoyaltiesByTokenSet(ctx context.Context, tokenSetID string) ([]domain.Royalty, error) {
	parts := strings.Split(tokenSetID, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("postgres: malformed token set id %q", tokenSetID)
	}
	contract := parts[1]

	rows, err := s.pool.Query(ctx, `
		SELECT recipient, bps
		FROM collection_royalties
		WHERE contract = $1
		  AND token_id IS NULL`,
		strings.ToLower(contract))
	if err != nil {
		return nil, fmt.Errorf("postgres: default royalties for set %s: %w", tokenSetID, err)
	}
	defer rows.Close()

	return scanRoyalties(rows)
}

func scanRoyalties(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Royalty, error) {
	var royalties []domain.Royalty
	seen := map[string]bool{}
	for rows.Next() {
		var r domain.Royalty
		if err := rows.Scan(&r.Recipient, &r.Bps); err != nil {
			return nil, fmt.Errorf("postgres: scan royalty: %w", err)
		}
		// Token-level rows sort first and win over collection-level ones.
		if seen[r.Recipient] {
			continue
		}
		seen[r.Recipient] = true
		royalties = append(royalties, r)
	}
	return royalties, rows.Err()
}

// Compile-time interface check.
var _ domain.RoyaltyStore = (*RoyaltyStore)(nil)
