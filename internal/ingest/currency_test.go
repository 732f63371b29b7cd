package ingest

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/mintlake/orderflow/internal/domain"
)

type fixedOracle struct {
	// rate scales amounts into native units; nil simulates a missing quote.
	rate  *big.Int
	err   error
	calls int
}

func (o *fixedOracle) Quote(ctx context.Context, currency string, amount *big.Int, timestamp int64) (domain.PriceQuote, error) {
	o.calls++
	if o.err != nil {
		return domain.PriceQuote{}, o.err
	}
	if o.rate == nil {
		return domain.PriceQuote{}, nil
	}
	return domain.PriceQuote{NativeAmount: new(big.Int).Mul(amount, o.rate)}, nil
}

type currencyTable struct {
	incompatible map[string]bool
}

func (c *currencyTable) Get(ctx context.Context, contract string) (domain.Currency, error) {
	return domain.Currency{
		Contract:          contract,
		Decimals:          18,
		ERC20Incompatible: c.incompatible[contract],
	}, nil
}

const usdcAddr = "0x7777777777777777777777777777777777777777"

func TestIsNative(t *testing.T) {
	cn := NewCurrencyNormalizer(&fixedOracle{}, &currencyTable{}, testWETH)

	if !cn.IsNative(domain.ZeroAddress) {
		t.Error("zero address should be native")
	}
	if !cn.IsNative(testWETH) {
		t.Error("wrapped native should be native")
	}
	if !cn.IsNative(strings.ToUpper(testWETH)) {
		t.Error("case-insensitive match expected")
	}
	if cn.IsNative(usdcAddr) {
		t.Error("arbitrary token should not be native")
	}
}

func TestCheckCompatible(t *testing.T) {
	table := &currencyTable{incompatible: map[string]bool{usdcAddr: true}}
	cn := NewCurrencyNormalizer(&fixedOracle{}, table, testWETH)

	if err := cn.CheckCompatible(context.Background(), testWETH); err != nil {
		t.Errorf("compatible currency rejected: %v", err)
	}
	if err := cn.CheckCompatible(context.Background(), usdcAddr); !errors.Is(err, ErrIncompatibleCurrency) {
		t.Errorf("err = %v, want ErrIncompatibleCurrency", err)
	}
}

func nativeOrder(currency string) *domain.Order {
	return &domain.Order{
		Currency:                currency,
		CurrencyPrice:           big.NewInt(1_000),
		CurrencyValue:           big.NewInt(950),
		CurrencyNormalizedValue: big.NewInt(900),
	}
}

func TestNormalizeNativeCopiesAmounts(t *testing.T) {
	oracle := &fixedOracle{err: errors.New("must not be called")}
	cn := NewCurrencyNormalizer(oracle, &currencyTable{}, testWETH)

	o := nativeOrder(testWETH)
	if err := cn.Normalize(context.Background(), o, 0); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle called %d times for a native currency", oracle.calls)
	}
	if o.NeedsConversion {
		t.Error("native currency should not need conversion")
	}
	if o.Price.Cmp(o.CurrencyPrice) != 0 ||
		o.Value.Cmp(o.CurrencyValue) != 0 ||
		o.NormalizedValue.Cmp(o.CurrencyNormalizedValue) != 0 {
		t.Errorf("native fields = %s/%s/%s", o.Price, o.Value, o.NormalizedValue)
	}

	// The native fields are copies, not aliases.
	o.Price.SetInt64(0)
	if o.CurrencyPrice.Cmp(big.NewInt(1_000)) != 0 {
		t.Error("currency price mutated through native alias")
	}
}

func TestNormalizeConvertsThroughOracle(t *testing.T) {
	oracle := &fixedOracle{rate: big.NewInt(2)}
	cn := NewCurrencyNormalizer(oracle, &currencyTable{}, testWETH)

	o := nativeOrder(usdcAddr)
	if err := cn.Normalize(context.Background(), o, 0); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !o.NeedsConversion {
		t.Error("foreign currency should need conversion")
	}
	if oracle.calls != 3 {
		t.Errorf("oracle calls = %d, want one per monetary field", oracle.calls)
	}
	if o.Price.Cmp(big.NewInt(2_000)) != 0 ||
		o.Value.Cmp(big.NewInt(1_900)) != 0 ||
		o.NormalizedValue.Cmp(big.NewInt(1_800)) != 0 {
		t.Errorf("converted fields = %s/%s/%s", o.Price, o.Value, o.NormalizedValue)
	}
}

func TestNormalizeFailedQuote(t *testing.T) {
	t.Run("oracle error", func(t *testing.T) {
		cn := NewCurrencyNormalizer(&fixedOracle{err: errors.New("oracle down")}, &currencyTable{}, testWETH)
		if err := cn.Normalize(context.Background(), nativeOrder(usdcAddr), 0); !errors.Is(err, ErrConvertPrice) {
			t.Errorf("err = %v, want ErrConvertPrice", err)
		}
	})

	t.Run("missing native amount", func(t *testing.T) {
		cn := NewCurrencyNormalizer(&fixedOracle{}, &currencyTable{}, testWETH)
		if err := cn.Normalize(context.Background(), nativeOrder(usdcAddr), 0); !errors.Is(err, ErrConvertPrice) {
			t.Errorf("err = %v, want ErrConvertPrice", err)
		}
	})
}
