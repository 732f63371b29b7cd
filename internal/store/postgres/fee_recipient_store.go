package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// FeeRecipientStore implements domain.FeeRecipientStore using PostgreSQL.
type FeeRecipientStore struct {
	pool *pgxpool.Pool
}

// NewFeeRecipientStore creates a new FeeRecipientStore backed by the given pool.
func NewFeeRecipientStore(pool *pgxpool.Pool) *FeeRecipientStore {
	return &FeeRecipientStore{pool: pool}
}

// List returns every known fee recipient.
func (s *FeeRecipientStore) List(ctx context.Context) ([]domain.FeeRecipient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, kind, source_id FROM fee_recipients`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.FeeRecipient
	for rows.Next() {
		var (
			r    domain.FeeRecipient
			kind string
		)
		if err := rows.Scan(&r.Address, &kind, &r.SourceID); err != nil {
			return nil, fmt.Errorf("postgres: scan fee recipient: %w", err)
		}
		r.Kind = domain.FeeKind(kind)
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Upsert inserts a fee recipient, updating attribution on conflict.
func (s *FeeRecipientStore) Upsert(ctx context.Context, r domain.FeeRecipient) error {
	const query = `
		INSERT INTO fee_recipients (address, kind, source_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, address) DO UPDATE SET source_id = EXCLUDED.source_id`

	if _, err := s.pool.Exec(ctx, query, r.Address, string(r.Kind), r.SourceID); err != nil {
		return fmt.Errorf("postgres: upsert fee recipient %s: %w", r.Address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FeeRecipientStore = (*FeeRecipientStore)(nil)
