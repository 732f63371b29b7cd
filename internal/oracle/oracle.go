package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/mintlake/orderflow/internal/domain"
)

// ErrNoQuote is returned when the price API has no conversion for a currency.
var ErrNoQuote = errors.New("oracle: no quote available")

// rateLimitKey throttles every pipeline instance against the shared upstream
// API quota.
const rateLimitKey = "oracle"

// Oracle implements domain.PriceOracle. Per-unit quotes are cached in Redis
// keyed by currency and timestamp bucket; only cache misses reach the
// upstream API, gated by the distributed rate limiter.
type Oracle struct {
	client     *Client
	cache      domain.QuoteCache
	limiter    domain.RateLimiter
	currencies domain.CurrencyStore
	logger     *slog.Logger
}

// New creates an Oracle.
func New(client *Client, cache domain.QuoteCache, limiter domain.RateLimiter, currencies domain.CurrencyStore, logger *slog.Logger) *Oracle {
	return &Oracle{
		client:     client,
		cache:      cache,
		limiter:    limiter,
		currencies: currencies,
		logger:     logger.With("component", "oracle"),
	}
}

// Quote converts amount (in the currency's smallest unit) into native and USD
// terms at the given timestamp. The native currency converts 1:1 without an
// upstream call.
func (o *Oracle) Quote(ctx context.Context, currency string, amount *big.Int, timestamp int64) (domain.PriceQuote, error) {
	cur, err := o.currencies.Get(ctx, currency)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	nativePerUnit, usdPerUnit, err := o.unitPrices(ctx, cur, timestamp)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cur.Decimals)), nil)

	// nativeAmount = amount * nativePerUnit / 10^decimals
	nativeAmount := new(big.Int).Mul(amount, nativePerUnit)
	nativeAmount.Quo(nativeAmount, unit)

	usdAmount := decimal.NewFromBigInt(amount, 0).
		Div(decimal.NewFromBigInt(unit, 0)).
		Mul(usdPerUnit)

	return domain.PriceQuote{
		NativeAmount: nativeAmount,
		USDAmount:    usdAmount,
	}, nil
}

func (o *Oracle) unitPrices(ctx context.Context, cur domain.Currency, timestamp int64) (*big.Int, decimal.Decimal, error) {
	if cur.Contract == domain.ZeroAddress {
		// One wei of the native currency is one wei.
		unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cur.Decimals)), nil)
		usd, err := o.nativeUSDPrice(ctx, timestamp)
		if err != nil {
			return nil, decimal.Zero, err
		}
		return unit, usd, nil
	}

	native, usdStr, err := o.cache.Get(ctx, cur.Contract, timestamp)
	if err == nil {
		usd, perr := decimal.NewFromString(usdStr)
		if perr == nil {
			return native, usd, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn("quote cache read failed", "currency", cur.Contract, "error", err)
	}

	if err := o.limiter.Wait(ctx, rateLimitKey); err != nil {
		return nil, decimal.Zero, err
	}

	nativeStr, usdStr, err := o.client.UnitPrices(ctx, cur.Contract, timestamp)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if nativeStr == "" || usdStr == "" {
		return nil, decimal.Zero, ErrNoQuote
	}

	native, ok := new(big.Int).SetString(nativeStr, 10)
	if !ok {
		return nil, decimal.Zero, fmt.Errorf("oracle: parse native price %q", nativeStr)
	}
	usd, err := decimal.NewFromString(usdStr)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("oracle: parse usd price %q: %w", usdStr, err)
	}

	if cerr := o.cache.Set(ctx, cur.Contract, timestamp, native, usdStr); cerr != nil {
		o.logger.Warn("quote cache write failed", "currency", cur.Contract, "error", cerr)
	}
	return native, usd, nil
}

// nativeUSDPrice returns the USD price of one whole native token, cached
// under the zero address.
func (o *Oracle) nativeUSDPrice(ctx context.Context, timestamp int64) (decimal.Decimal, error) {
	_, usdStr, err := o.cache.Get(ctx, domain.ZeroAddress, timestamp)
	if err == nil {
		if usd, perr := decimal.NewFromString(usdStr); perr == nil {
			return usd, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn("quote cache read failed", "currency", "native", "error", err)
	}

	if err := o.limiter.Wait(ctx, rateLimitKey); err != nil {
		return decimal.Zero, err
	}

	_, usdStr, err = o.client.UnitPrices(ctx, domain.ZeroAddress, timestamp)
	if err != nil {
		return decimal.Zero, err
	}
	if usdStr == "" {
		return decimal.Zero, ErrNoQuote
	}

	usd, err := decimal.NewFromString(usdStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: parse usd price %q: %w", usdStr, err)
	}

	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if cerr := o.cache.Set(ctx, domain.ZeroAddress, timestamp, one, usdStr); cerr != nil {
		o.logger.Warn("quote cache write failed", "currency", "native", "error", cerr)
	}
	return usd, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Oracle)(nil)
