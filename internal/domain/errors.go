package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")

	// Fillability classification errors returned by the off-chain check.
	// Orders failing with these are kept since they can become fillable later.
	ErrNoBalance           = errors.New("no-balance")
	ErrNoApproval          = errors.New("no-approval")
	ErrNoBalanceNoApproval = errors.New("no-balance-no-approval")

	// Orderbook fee validation errors. Their messages double as the
	// pipeline's per-order save statuses.
	ErrInvalidFee          = errors.New("invalid-fee")
	ErrMissingOrderbookFee = errors.New("missing-orderbook-fee")
)
