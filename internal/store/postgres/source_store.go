package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// SourceStore implements domain.SourceStore using PostgreSQL.
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore creates a new SourceStore backed by the given pool.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

// DomainHash derives the salt-embeddable attribution hash of a source domain:
// the first 4 bytes of keccak256(domain).
func DomainHash(sourceDomain string) string {
	return hexutil.Encode(ethcrypto.Keccak256([]byte(sourceDomain))[:4])
}

// List returns all known sources.
func (s *SourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, domain_hash, name FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.Domain, &src.DomainHash, &src.Name); err != nil {
			return nil, fmt.Errorf("postgres: scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetOrInsert resolves a source by domain, creating it on first sight.
func (s *SourceStore) GetOrInsert(ctx context.Context, sourceDomain string) (domain.Source, error) {
	sourceDomain = strings.ToLower(sourceDomain)

	const query = `
		INSERT INTO sources (domain, domain_hash, name)
		VALUES ($1, $2, $1)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING id, domain, domain_hash, name`

	var src domain.Source
	err := s.pool.QueryRow(ctx, query, sourceDomain, DomainHash(sourceDomain)).
		Scan(&src.ID, &src.Domain, &src.DomainHash, &src.Name)
	if err != nil {
		return domain.Source{}, fmt.Errorf("postgres: get-or-insert source %s: %w", sourceDomain, err)
	}
	return src, nil
}

// Compile-time interface check.
var _ domain.SourceStore = (*SourceStore)(nil)
