package onchain

import (
	"context"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
)

// Checker performs the off-chain fillability check: does the maker currently
// hold the assets the order promises, and has the settlement conduit been
// approved to move them.
type Checker struct {
	provider *Provider
	// wrappedNative is the chain's wrapped native asset; bids in the native
	// asset itself settle through it.
	wrappedNative string
}

// NewChecker creates a Checker over the given provider.
func NewChecker(provider *Provider, wrappedNative string) *Checker {
	return &Checker{provider: provider, wrappedNative: wrappedNative}
}

// Check classifies the maker's live balance/approval state for the order.
// It returns nil when the order is fillable and approved, or one of
// domain.ErrNoBalance, domain.ErrNoApproval, domain.ErrNoBalanceNoApproval
// for states that may recover later. Any other error is unrecoverable.
func (c *Checker) Check(ctx context.Context, ord protocol.Order, conduit string) error {
	info, err := ord.Info()
	if err != nil {
		return err
	}

	if info.Side == domain.SideBuy {
		return c.checkBid(ctx, ord.Maker(), conduit, info)
	}
	return c.checkListing(ctx, ord.Maker(), conduit, info)
}

func (c *Checker) checkBid(ctx context.Context, maker, conduit string, info *protocol.Info) error {
	currency := info.PaymentToken
	if currency == domain.ZeroAddress {
		currency = c.wrappedNative
	}

	balance, err := c.provider.ERC20Balance(ctx, currency, maker)
	if err != nil {
		return err
	}
	allowance, err := c.provider.ERC20Allowance(ctx, currency, maker, conduit)
	if err != nil {
		return err
	}

	hasBalance := balance.Cmp(info.Price) >= 0
	hasApproval := allowance.Cmp(info.Price) >= 0
	return classify(hasBalance, hasApproval)
}

func (c *Checker) checkListing(ctx context.Context, maker, conduit string, info *protocol.Info) error {
	hasBalance := true
	switch {
	case info.TokenKind != domain.TokenSetSingleToken:
		// Criteria listings have no specific token to check; only the
		// approval is verifiable off-chain.
	case info.TokenStandard == protocol.StandardERC1155:
		balance, err := c.provider.ERC1155Balance(ctx, info.Contract, maker, info.TokenID)
		if err != nil {
			return err
		}
		hasBalance = balance.Cmp(info.Amount) >= 0
	default:
		owner, err := c.provider.ERC721Owner(ctx, info.Contract, info.TokenID)
		if err != nil {
			// ownerOf reverts for burned/unminted tokens.
			hasBalance = false
		} else {
			hasBalance = owner == maker
		}
	}

	hasApproval, err := c.provider.NFTApprovedForAll(ctx, info.Contract, maker, conduit)
	if err != nil {
		return err
	}
	return classify(hasBalance, hasApproval)
}

func classify(hasBalance, hasApproval bool) error {
	switch {
	case hasBalance && hasApproval:
		return nil
	case !hasBalance && !hasApproval:
		return domain.ErrNoBalanceNoApproval
	case !hasApproval:
		return domain.ErrNoApproval
	default:
		return domain.ErrNoBalance
	}
}
