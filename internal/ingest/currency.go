package ingest

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/mintlake/orderflow/internal/domain"
)

// ErrIncompatibleCurrency marks currencies that cannot settle through
// standard ERC-20 transfer flows.
var ErrIncompatibleCurrency = errors.New("ingest: incompatible currency")

// ErrConvertPrice marks a failed oracle conversion of any monetary field.
var ErrConvertPrice = errors.New("ingest: failed to convert price")

// CurrencyNormalizer converts an order's currency-denominated monetary fields
// into the chain's native asset. The original currency amounts are retained
// on the order so both denominations can be served later without re-quoting.
type CurrencyNormalizer struct {
	oracle        domain.PriceOracle
	currencies    domain.CurrencyStore
	wrappedNative string
}

// NewCurrencyNormalizer creates a CurrencyNormalizer.
func NewCurrencyNormalizer(oracle domain.PriceOracle, currencies domain.CurrencyStore, wrappedNative string) *CurrencyNormalizer {
	return &CurrencyNormalizer{
		oracle:        oracle,
		currencies:    currencies,
		wrappedNative: strings.ToLower(wrappedNative),
	}
}

// IsNative reports whether the currency is the native asset or its wrapped
// form, which convert 1:1 without an oracle.
func (cn *CurrencyNormalizer) IsNative(currency string) bool {
	currency = strings.ToLower(currency)
	return currency == domain.ZeroAddress || currency == cn.wrappedNative
}

// CheckCompatible rejects currencies flagged as unable to move through
// standard transferFrom flows.
func (cn *CurrencyNormalizer) CheckCompatible(ctx context.Context, currency string) error {
	cur, err := cn.currencies.Get(ctx, currency)
	if err != nil {
		return err
	}
	if cur.ERC20Incompatible {
		return ErrIncompatibleCurrency
	}
	return nil
}

// Normalize fills the order's native-denominated fields. For native and
// wrapped-native currencies the currency amounts carry over directly. For any
// other currency each monetary field gets its own independent oracle quote at
// the processing timestamp; a missing native quote for any field fails the
// order.
func (cn *CurrencyNormalizer) Normalize(ctx context.Context, o *domain.Order, timestamp int64) error {
	if cn.IsNative(o.Currency) {
		o.Price = new(big.Int).Set(o.CurrencyPrice)
		o.Value = new(big.Int).Set(o.CurrencyValue)
		o.NormalizedValue = new(big.Int).Set(o.CurrencyNormalizedValue)
		o.NeedsConversion = false
		return nil
	}

	o.NeedsConversion = true

	fields := []struct {
		in  *big.Int
		out **big.Int
	}{
		{o.CurrencyPrice, &o.Price},
		{o.CurrencyValue, &o.Value},
		{o.CurrencyNormalizedValue, &o.NormalizedValue},
	}
	for _, f := range fields {
		quote, err := cn.oracle.Quote(ctx, o.Currency, f.in, timestamp)
		if err != nil || quote.NativeAmount == nil {
			return ErrConvertPrice
		}
		*f.out = quote.NativeAmount
	}
	return nil
}
