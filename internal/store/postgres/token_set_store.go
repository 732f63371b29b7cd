package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// TokenSetStore implements domain.TokenSetStore using PostgreSQL.
type TokenSetStore struct {
	pool *pgxpool.Pool
}

// NewTokenSetStore creates a new TokenSetStore backed by the given pool.
func NewTokenSetStore(pool *pgxpool.Pool) *TokenSetStore {
	return &TokenSetStore{pool: pool}
}

// Save persists the given token sets idempotently: conflicts on the
// deterministic (id, schema_hash) key are ignored, keeping first-writer
// content immutable.
func (s *TokenSetStore) Save(ctx context.Context, sets []domain.TokenSet) error {
	if len(sets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO token_sets (
			id, schema_hash, kind, contract, token_id, merkle_root, criteria, schema
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, schema_hash) DO NOTHING`

	for _, ts := range sets {
		var tokenID *string
		if ts.TokenID != nil {
			v := ts.TokenID.String()
			tokenID = &v
		}
		batch.Queue(query,
			ts.ID, ts.SchemaHash, string(ts.Kind), ts.Contract,
			tokenID, ts.MerkleRoot, ts.Criteria, []byte(ts.Schema),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range sets {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: save token sets: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a token set by its deterministic id.
func (s *TokenSetStore) GetByID(ctx context.Context, id string) (domain.TokenSet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, schema_hash, kind, contract, token_id, merkle_root, criteria, schema
		FROM token_sets
		WHERE id = $1
		LIMIT 1`, id)

	var (
		ts      domain.TokenSet
		kind    string
		tokenID *string
		schema  []byte
	)
	err := row.Scan(&ts.ID, &ts.SchemaHash, &kind, &ts.Contract, &tokenID, &ts.MerkleRoot, &ts.Criteria, &schema)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TokenSet{}, domain.ErrNotFound
		}
		return domain.TokenSet{}, fmt.Errorf("postgres: get token set %s: %w", id, err)
	}

	ts.Kind = domain.TokenSetKind(kind)
	ts.Schema = schema
	if tokenID != nil {
		ts.TokenID, _ = new(big.Int).SetString(*tokenID, 10)
	}
	return ts, nil
}

// Compile-time interface check.
var _ domain.TokenSetStore = (*TokenSetStore)(nil)
