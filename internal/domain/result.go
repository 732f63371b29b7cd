package domain

import "time"

// SaveStatus is the closed per-order outcome taxonomy of the intake pipeline.
type SaveStatus string

const (
	SaveStatusSuccess                 SaveStatus = "success"
	SaveStatusInvalidFormat           SaveStatus = "invalid-format"
	SaveStatusAlreadyExists           SaveStatus = "already-exists"
	SaveStatusZeroPrice               SaveStatus = "zero-price"
	SaveStatusInvalidStartTime        SaveStatus = "invalid-start-time"
	SaveStatusDelayed                 SaveStatus = "delayed"
	SaveStatusExpired                 SaveStatus = "expired"
	SaveStatusFiltered                SaveStatus = "filtered"
	SaveStatusUnsupportedPaymentToken SaveStatus = "unsupported-payment-token"
	SaveStatusNotPartiallyFillable    SaveStatus = "not-partially-fillable"
	SaveStatusUnsupportedZone         SaveStatus = "unsupported-zone"
	SaveStatusInvalid                 SaveStatus = "invalid"
	SaveStatusInvalidSignature        SaveStatus = "invalid-signature"
	SaveStatusNotFillable             SaveStatus = "not-fillable"
	SaveStatusInvalidTokenSet         SaveStatus = "invalid-token-set"
	SaveStatusFeesTooHigh             SaveStatus = "fees-too-high"
	SaveStatusNegativePrice           SaveStatus = "negative-price"
	SaveStatusIncompatibleCurrency    SaveStatus = "incompatible-currency"
	SaveStatusFailedToConvertPrice    SaveStatus = "failed-to-convert-price"
	SaveStatusBidTooLow               SaveStatus = "bid-too-low"
	SaveStatusInvalidFee              SaveStatus = "invalid-fee"
	SaveStatusMissingOrderbookFee     SaveStatus = "missing-orderbook-fee"
)

// SaveResult is the per-order outcome of a pipeline invocation.
type SaveResult struct {
	ID     string
	Status SaveStatus
	// Unfillable is set on success when the order was persisted but is not
	// currently executable by the public (missing balance/approval or a
	// private taker).
	Unfillable bool
	// Delay is set when the order was re-enqueued for later validation.
	Delay time.Duration
}

// IngestMethod identifies the ingestion path an order arrived through.
type IngestMethod string

const (
	IngestMethodWebsocket IngestMethod = "websocket"
	IngestMethodRest      IngestMethod = "rest"
)
