package domain

import (
	"context"
	"math/big"
)

// OrderStore persists canonical orders with idempotent conflict semantics.
type OrderStore interface {
	// LockRawData atomically backfills raw_data into a placeholder row (one
	// created by a discovery path that only knows the hash) and reports
	// whether a row with the given id already exists. A row with non-null
	// raw_data is treated as already ingested.
	LockRawData(ctx context.Context, id string, rawData []byte) (exists bool, err error)

	// GetRawData returns the protocol-native blob stored for an order, or
	// ErrNotFound.
	GetRawData(ctx context.Context, id string) ([]byte, error)

	// UpsertBatch bulk-inserts canonical rows in a single statement with
	// ON CONFLICT DO NOTHING semantics keyed by order hash.
	UpsertBatch(ctx context.Context, orders []Order) error

	// CancelReplacement marks a replaced predecessor order as cancelled.
	// Terminal statuses are never reverted.
	CancelReplacement(ctx context.Context, replacedID, newID string) error

	GetByID(ctx context.Context, id string) (Order, error)
}

// TokenSetStore persists token sets exactly once, keyed by deterministic id.
type TokenSetStore interface {
	Save(ctx context.Context, sets []TokenSet) error
	GetByID(ctx context.Context, id string) (TokenSet, error)
}

// FeeRecipientStore persists known fee-collecting addresses.
type FeeRecipientStore interface {
	List(ctx context.Context) ([]FeeRecipient, error)
	Upsert(ctx context.Context, r FeeRecipient) error
}

// SourceStore persists marketplace attribution sources.
type SourceStore interface {
	List(ctx context.Context) ([]Source, error)
	GetOrInsert(ctx context.Context, domain string) (Source, error)
}

// APIKeyStore resolves per-client intake configuration.
type APIKeyStore interface {
	Get(ctx context.Context, key string) (APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
}

// RoyaltyStore resolves the configured default royalties for a collection or
// token set.
type RoyaltyStore interface {
	DefaultRoyalties(ctx context.Context, contract string, tokenID *big.Int) ([]Royalty, error)
	DefaultRoyaltiesByTokenSet(ctx context.Context, tokenSetID string) ([]Royalty, error)
}

// SecurityConfigStore resolves the pinned transfer-validator configuration of
// a collection, synced from chain by an external collaborator.
type SecurityConfigStore interface {
	// TransferValidator returns the validator address pinned by the contract,
	// or ErrNotFound when the contract carries no such configuration.
	TransferValidator(ctx context.Context, contract string) (string, error)
}

// PaymentSplitStore persists payment splits, their recipients and per-currency
// accrued balances.
type PaymentSplitStore interface {
	Get(ctx context.Context, address string) (PaymentSplit, error)
	Save(ctx context.Context, split PaymentSplit) error
	SetDeployed(ctx context.Context, address string) error
	UpdateBalance(ctx context.Context, address, currency string, balance *big.Int) error
	Currencies(ctx context.Context, address string) ([]string, error)
	List(ctx context.Context) ([]PaymentSplit, error)
}
