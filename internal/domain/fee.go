package domain

import "time"

// ZeroAddress is the canonical null Ethereum address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// MaxFeeBps is the upper bound for the sum of an order's fee components.
const MaxFeeBps = 10000

// FeeRecipient is a known fee-collecting address, used to classify fee
// breakdown entries as marketplace fees or royalties.
type FeeRecipient struct {
	Address  string
	Kind     FeeKind
	SourceID *int64
}

// SplitFee is one recipient share of a payment split, expressed in the split
// contract's 1e6-denominated units.
type SplitFee struct {
	Recipient string
	Bps       int
}

// PaymentSplit is a deployed-or-virtual on-chain fee-splitting contract,
// created lazily when a single-recipient-fee protocol needs to combine a
// maker fee with the orderbook fee into one payable address. Its deploy and
// distribution lifecycle is driven by a scheduled job, not by order intake.
type PaymentSplit struct {
	Address              string
	APIKey               string
	Fees                 []SplitFee
	IsDeployed           bool
	LastDistributionTime *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Royalty is one configured default royalty share for a collection.
type Royalty struct {
	Recipient string
	Bps       int
}

// Source attributes an order to the marketplace frontend it originated from.
type Source struct {
	ID         int64
	Domain     string
	DomainHash string // first 4 bytes of keccak256(domain), hex-encoded
	Name       string
}

// APIKey carries the per-client intake configuration, including the mandatory
// orderbook fee charged on natively-ingested orders.
type APIKey struct {
	Key             string
	AppName         string
	OrderbookFeeBps int
	// Per order-kind overrides of OrderbookFeeBps.
	OrderbookFeeOverrides map[string]int
	Disabled              bool
}

// OrderbookFee returns the fee bps charged for the given order kind.
func (k APIKey) OrderbookFee(orderKind string) int {
	if bps, ok := k.OrderbookFeeOverrides[orderKind]; ok {
		return bps
	}
	return k.OrderbookFeeBps
}
