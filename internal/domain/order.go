package domain

import (
	"encoding/json"
	"math/big"
	"time"
)

// Side indicates whether an order sells or bids on tokens.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// FillabilityStatus tracks whether an order can currently be executed.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityExpired   FillabilityStatus = "expired"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityCancelled FillabilityStatus = "cancelled"
)

// Terminal reports whether the status is final. A terminal order is never
// re-activated by the intake pipeline.
func (s FillabilityStatus) Terminal() bool {
	switch s {
	case FillabilityExpired, FillabilityFilled, FillabilityCancelled:
		return true
	default:
		return false
	}
}

// ApprovalStatus tracks whether the maker has granted the settlement conduit
// spending rights.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
	ApprovalDisabled   ApprovalStatus = "disabled"
)

// FeeKind classifies a fee breakdown entry.
type FeeKind string

const (
	FeeKindMarketplace FeeKind = "marketplace"
	FeeKindRoyalty     FeeKind = "royalty"
)

// FeeBreakdownEntry is one component of an order's total fee.
type FeeBreakdownEntry struct {
	Kind      FeeKind `json:"kind"`
	Recipient string  `json:"recipient"`
	Bps       int     `json:"bps"`
}

// MissingRoyalty is the shortfall between an order's built-in royalty and the
// registry's configured default, paid on top at fill time.
type MissingRoyalty struct {
	Recipient string `json:"recipient"`
	Bps       int    `json:"bps"`
	Amount    string `json:"amount"`
}

// Order is the canonical persisted representation of an order, uniform across
// all source protocols. ID is the content-derived order hash and is immutable
// once assigned.
type Order struct {
	ID                string
	Kind              string
	Side              Side
	FillabilityStatus FillabilityStatus
	ApprovalStatus    ApprovalStatus

	TokenSetID         string
	TokenSetSchemaHash string

	Maker string
	Taker string // zero address = public order

	// Native-denominated amounts.
	Price *big.Int
	Value *big.Int
	// Original currency-denominated amounts, retained alongside the native
	// ones so both can be served without re-querying the oracle.
	Currency        string
	CurrencyPrice   *big.Int
	CurrencyValue   *big.Int
	NeedsConversion bool

	// Normalized variants include the missing-royalty top-up.
	NormalizedValue         *big.Int
	CurrencyNormalizedValue *big.Int

	QuantityRemaining *big.Int
	ValidFrom         int64
	ValidUntil        int64 // 0 = no expiration
	Nonce             string

	SourceID *int64
	Contract string
	Conduit  string

	FeeBps           int
	FeeBreakdown     []FeeBreakdownEntry
	MissingRoyalties []MissingRoyalty

	Dynamic bool

	// RawData is the protocol-native order blob, opaque to the canonical
	// model. It is set exactly once and never overwritten once non-null.
	RawData json.RawMessage

	OriginatedAt *time.Time
}

// OrderReadStatus is the derived read-side status collapsing fillability and
// approval.
type OrderReadStatus string

const (
	OrderStatusActive    OrderReadStatus = "active"
	OrderStatusInactive  OrderReadStatus = "inactive"
	OrderStatusExpired   OrderReadStatus = "expired"
	OrderStatusCancelled OrderReadStatus = "cancelled"
	OrderStatusFilled    OrderReadStatus = "filled"
)

// Status derives the read-side status from the fillability/approval pair.
func (o Order) Status() OrderReadStatus {
	switch o.FillabilityStatus {
	case FillabilityFilled:
		return OrderStatusFilled
	case FillabilityCancelled:
		return OrderStatusCancelled
	case FillabilityExpired:
		return OrderStatusExpired
	case FillabilityFillable:
		if o.ApprovalStatus == ApprovalApproved {
			return OrderStatusActive
		}
		return OrderStatusInactive
	default:
		return OrderStatusInactive
	}
}

// Public reports whether the order can be filled by anyone.
func (o Order) Public() bool {
	return o.Taker == "" || o.Taker == ZeroAddress
}
