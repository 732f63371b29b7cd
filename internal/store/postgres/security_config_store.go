package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// SecurityConfigStore implements domain.SecurityConfigStore using PostgreSQL.
// Rows mirror the on-chain transfer-security configuration of creator-token
// contracts and are maintained by the event-sync collaborator.
type SecurityConfigStore struct {
	pool *pgxpool.Pool
}

// NewSecurityConfigStore creates a new SecurityConfigStore backed by the pool.
func NewSecurityConfigStore(pool *pgxpool.Pool) *SecurityConfigStore {
	return &SecurityConfigStore{pool: pool}
}

// TransferValidator returns the validator address pinned by a contract.
func (s *SecurityConfigStore) TransferValidator(ctx context.Context, contract string) (string, error) {
	var validator string
	err := s.pool.QueryRow(ctx, `
		SELECT transfer_validator
		FROM contract_security_configs
		WHERE contract = $1`,
		strings.ToLower(contract)).Scan(&validator)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: transfer validator %s: %w", contract, err)
	}
	return strings.ToLower(validator), nil
}

// Compile-time interface check.
var _ domain.SecurityConfigStore = (*SecurityConfigStore)(nil)
