package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
	"github.com/mintlake/orderflow/internal/registry"
	"github.com/mintlake/orderflow/internal/split"
)

// ErrFeesTooHigh is returned when an order's total fee bps exceeds 10000.
var ErrFeesTooHigh = errors.New("ingest: total fees exceed 10000 bps")

// FeeEngine builds the canonical fee breakdown of an order, validates the
// mandatory orderbook fee, and computes missing-royalty top-ups against the
// configured collection defaults.
type FeeEngine struct {
	recipients *registry.FeeRecipients
	royalties  domain.RoyaltyStore
	splits     *split.Generator

	// orderbookFeeRecipient is the platform address the mandatory intake fee
	// must be payable to.
	orderbookFeeRecipient string
}

// NewFeeEngine creates a FeeEngine.
func NewFeeEngine(recipients *registry.FeeRecipients, royalties domain.RoyaltyStore, splits *split.Generator, orderbookFeeRecipient string) *FeeEngine {
	return &FeeEngine{
		recipients:            recipients,
		royalties:             royalties,
		splits:                splits,
		orderbookFeeRecipient: strings.ToLower(orderbookFeeRecipient),
	}
}

// Breakdown classifies each protocol fee entry and computes its bps relative
// to the order price. An entry is marketplace iff its recipient is registered
// as a marketplace fee collector; everything else is treated as royalty.
func (fe *FeeEngine) Breakdown(ctx context.Context, info *protocol.Info) ([]domain.FeeBreakdownEntry, int, error) {
	if info.Price == nil || info.Price.Sign() <= 0 {
		return nil, 0, fmt.Errorf("ingest: breakdown needs a positive price")
	}

	breakdown := make([]domain.FeeBreakdownEntry, 0, len(info.Fees))
	totalBps := 0
	for _, fee := range info.Fees {
		if fee.Amount == nil || fee.Amount.Sign() == 0 {
			continue
		}

		bps := new(big.Int).Mul(fee.Amount, big.NewInt(10000))
		bps.Quo(bps, info.Price)
		if !bps.IsInt64() {
			return nil, 0, ErrFeesTooHigh
		}

		kind := domain.FeeKindRoyalty
		if _, ok, err := fe.recipients.GetByAddress(ctx, fee.Recipient, domain.FeeKindMarketplace); err != nil {
			return nil, 0, err
		} else if ok {
			kind = domain.FeeKindMarketplace
		}

		entry := domain.FeeBreakdownEntry{
			Kind:      kind,
			Recipient: strings.ToLower(fee.Recipient),
			Bps:       int(bps.Int64()),
		}
		breakdown = append(breakdown, entry)
		totalBps += entry.Bps
	}

	if totalBps > domain.MaxFeeBps {
		return nil, 0, ErrFeesTooHigh
	}
	return breakdown, totalBps, nil
}

// ValidateOrderbookFee checks that the mandatory per-api-key fee is present in
// the breakdown. Protocols limited to a single fee recipient satisfy the
// check through a known payment split address instead of a dedicated entry.
//
// Returns domain.ErrInvalidFee when the fee is present with the wrong bps and
// domain.ErrMissingOrderbookFee when it is absent.
func (fe *FeeEngine) ValidateOrderbookFee(ctx context.Context, orderKind string, breakdown []domain.FeeBreakdownEntry, key domain.APIKey, singleFeeRecipient bool) error {
	required := key.OrderbookFee(orderKind)
	if required <= 0 {
		return nil
	}

	if singleFeeRecipient {
		if len(breakdown) == 0 {
			return domain.ErrMissingOrderbookFee
		}
		known, err := fe.splits.IsKnown(ctx, breakdown[0].Recipient)
		if err != nil {
			return err
		}
		if !known {
			return domain.ErrMissingOrderbookFee
		}
		return nil
	}

	for _, entry := range breakdown {
		if entry.Recipient != fe.orderbookFeeRecipient {
			continue
		}
		if entry.Bps != required {
			return domain.ErrInvalidFee
		}
		return nil
	}
	return domain.ErrMissingOrderbookFee
}

// EnsureSplit derives and persists the payment split combining a maker's own
// fee with the mandatory orderbook fee, for protocols that pay a single
// recipient. Marketplace frontends request this before building such orders.
func (fe *FeeEngine) EnsureSplit(ctx context.Context, key domain.APIKey, orderKind string, makerFees []domain.SplitFee) (domain.PaymentSplit, error) {
	required := key.OrderbookFee(orderKind)

	fees := make([]domain.SplitFee, 0, len(makerFees)+1)
	if required > 0 {
		fees = append(fees, domain.SplitFee{Recipient: fe.orderbookFeeRecipient, Bps: required})
	}
	fees = append(fees, makerFees...)

	return fe.splits.GetOrCreate(ctx, key.Key, fees)
}

// MissingRoyalties computes the shortfall between the order's built-in
// royalty bps and the collection's configured defaults. The shortfall is
// split pro-rata across the payable default recipients with integer floor
// division; residual bps from rounding are discarded.
func (fe *FeeEngine) MissingRoyalties(ctx context.Context, info *protocol.Info, tokenSetID string, breakdown []domain.FeeBreakdownEntry, price *big.Int) ([]domain.MissingRoyalty, *big.Int, error) {
	var (
		defaults []domain.Royalty
		err      error
	)
	if info.TokenID != nil {
		defaults, err = fe.royalties.DefaultRoyalties(ctx, info.Contract, info.TokenID)
	} else {
		defaults, err = fe.royalties.DefaultRoyaltiesByTokenSet(ctx, tokenSetID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: default royalties: %w", err)
	}
	// Zero-bps entries and burn-address recipients carry no payable royalty;
	// they neither receive a top-up nor dilute the others' shares.
	valid := make([]domain.Royalty, 0, len(defaults))
	defaultBps := 0
	for _, r := range defaults {
		if r.Bps <= 0 || strings.EqualFold(r.Recipient, domain.ZeroAddress) {
			continue
		}
		valid = append(valid, r)
		defaultBps += r.Bps
	}
	if defaultBps == 0 {
		return nil, big.NewInt(0), nil
	}

	builtInBps := 0
	for _, entry := range breakdown {
		if entry.Kind == domain.FeeKindRoyalty {
			builtInBps += entry.Bps
		}
	}

	shortfall := defaultBps - builtInBps
	if shortfall <= 0 {
		return nil, big.NewInt(0), nil
	}

	missing := make([]domain.MissingRoyalty, 0, len(valid))
	totalAmount := big.NewInt(0)
	for _, r := range valid {
		share := r.Bps * shortfall / defaultBps
		if share <= 0 {
			continue
		}

		amount := new(big.Int).Mul(price, big.NewInt(int64(share)))
		amount.Quo(amount, big.NewInt(10000))

		missing = append(missing, domain.MissingRoyalty{
			Recipient: strings.ToLower(r.Recipient),
			Bps:       share,
			Amount:    amount.String(),
		})
		totalAmount.Add(totalAmount, amount)
	}
	return missing, totalAmount, nil
}
