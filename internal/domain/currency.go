package domain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Currency is an ERC-20 payment token (or the chain's native asset, keyed by
// the zero address).
type Currency struct {
	Contract string
	Symbol   string
	Decimals int
	// ERC20Incompatible marks tokens that cannot be moved through standard
	// transferFrom flows (rebasing or fee-on-transfer tokens).
	ERC20Incompatible bool
}

// PriceQuote is an oracle conversion of a currency amount at a point in time.
type PriceQuote struct {
	NativeAmount *big.Int
	USDAmount    decimal.Decimal
}

// PriceOracle converts currency-denominated amounts into native and USD
// amounts at a given timestamp.
type PriceOracle interface {
	Quote(ctx context.Context, currency string, amount *big.Int, timestamp int64) (PriceQuote, error)
}

// CurrencyStore resolves currency metadata.
type CurrencyStore interface {
	Get(ctx context.Context, contract string) (Currency, error)
}
