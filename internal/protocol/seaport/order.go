package seaport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
)

// Order wraps decoded components together with the chain parameters needed
// for hashing and signature verification.
type Order struct {
	components *Components
	chainID    int64
	exchange   string

	hash string // lazily computed, cached
}

var _ protocol.Order = (*Order)(nil)

// Kind implements protocol.Order.
func (o *Order) Kind() string { return ProtocolKind }

// Hash returns the EIP-712 struct hash of the components, hex-encoded. It is
// the order's canonical identity.
func (o *Order) Hash() string {
	if o.hash == "" {
		h, err := hashComponents(o.components)
		if err != nil {
			// Malformed components are caught by Info/CheckValidity; an
			// empty hash never reaches persistence.
			return ""
		}
		o.hash = hexutil.Encode(h)
	}
	return o.hash
}

func (o *Order) Maker() string      { return strings.ToLower(o.components.Offerer) }
func (o *Order) Zone() string       { return strings.ToLower(o.components.Zone) }
func (o *Order) Salt() string       { return o.components.Salt }
func (o *Order) Counter() string    { return o.components.Counter }
func (o *Order) Signature() string  { return o.components.Signature }
func (o *Order) ClearSignature()    { o.components.Signature = "" }
func (o *Order) StartTime() int64   { return o.components.StartTime }
func (o *Order) EndTime() int64     { return o.components.EndTime }
func (o *Order) ConduitKey() string { return o.components.ConduitKey }

// PartiallyFillable reports whether the order type permits partial fills.
func (o *Order) PartiallyFillable() bool {
	return o.components.OrderType == OrderPartialOpen ||
		o.components.OrderType == OrderPartialRestricted
}

// ZoneGated reports whether the order type routes fills through a zone.
func (o *Order) ZoneGated() bool {
	return o.components.OrderType > OrderPartialOpen
}

func isNFTItem(t int) bool     { return t >= ItemERC721 }
func isPaymentItem(t int) bool { return t == ItemNative || t == ItemERC20 }

func paymentTokenAddress(it Item) string {
	if it.ItemType == ItemNative {
		return domain.ZeroAddress
	}
	return strings.ToLower(it.Token)
}

// Info decodes the components into the canonical order view. It returns an
// error for any structurally unrecognizable order.
func (o *Order) Info() (*protocol.Info, error) {
	c := o.components
	if len(c.Offer) != 1 || len(c.Consideration) == 0 {
		return nil, errors.New("seaport: unrecognized offer/consideration shape")
	}

	offered := c.Offer[0]
	switch {
	case isNFTItem(offered.ItemType):
		return o.sellInfo(offered)
	case isPaymentItem(offered.ItemType):
		return o.buyInfo(offered)
	default:
		return nil, fmt.Errorf("seaport: unrecognized offer item type %d", offered.ItemType)
	}
}

func (o *Order) sellInfo(nft Item) (*protocol.Info, error) {
	c := o.components

	amount, err := parseBig(nft.StartAmount)
	if err != nil {
		return nil, err
	}

	price := new(big.Int)
	var fees []protocol.Fee
	paymentToken := ""
	dynamic := false
	for _, it := range c.Consideration {
		if !isPaymentItem(it.ItemType) {
			return nil, errors.New("seaport: non-payment consideration on sell order")
		}
		token := paymentTokenAddress(it)
		if paymentToken == "" {
			paymentToken = token
		} else if paymentToken != token {
			return nil, errors.New("seaport: mixed payment tokens")
		}

		start, err := parseBig(it.StartAmount)
		if err != nil {
			return nil, err
		}
		end, err := parseBig(it.EndAmount)
		if err != nil {
			return nil, err
		}
		if start.Cmp(end) != 0 {
			dynamic = true
		}
		price.Add(price, start)

		if !strings.EqualFold(it.Recipient, c.Offerer) {
			fees = append(fees, protocol.Fee{
				Recipient: strings.ToLower(it.Recipient),
				Amount:    start,
			})
		}
	}

	info := &protocol.Info{
		Side:         domain.SideSell,
		Contract:     strings.ToLower(nft.Token),
		PaymentToken: paymentToken,
		Amount:       amount,
		Price:        price,
		Fees:         fees,
		Taker:        domain.ZeroAddress,
		IsDynamic:    dynamic,
	}
	if err := tokenCriteria(nft, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (o *Order) buyInfo(payment Item) (*protocol.Info, error) {
	c := o.components

	price, err := parseBig(payment.StartAmount)
	if err != nil {
		return nil, err
	}
	endPrice, err := parseBig(payment.EndAmount)
	if err != nil {
		return nil, err
	}

	nft := c.Consideration[0]
	if !isNFTItem(nft.ItemType) {
		return nil, errors.New("seaport: buy order consideration is not a token")
	}
	amount, err := parseBig(nft.StartAmount)
	if err != nil {
		return nil, err
	}

	var fees []protocol.Fee
	for _, it := range c.Consideration[1:] {
		if !isPaymentItem(it.ItemType) {
			return nil, errors.New("seaport: extra token consideration on buy order")
		}
		feeAmount, err := parseBig(it.StartAmount)
		if err != nil {
			return nil, err
		}
		fees = append(fees, protocol.Fee{
			Recipient: strings.ToLower(it.Recipient),
			Amount:    feeAmount,
		})
	}

	info := &protocol.Info{
		Side:         domain.SideBuy,
		Contract:     strings.ToLower(nft.Token),
		PaymentToken: paymentTokenAddress(payment),
		Amount:       amount,
		Price:        price,
		Fees:         fees,
		Taker:        domain.ZeroAddress,
		IsDynamic:    price.Cmp(endPrice) != 0,
	}
	if err := tokenCriteria(nft, info); err != nil {
		return nil, err
	}
	return info, nil
}

// tokenCriteria maps the NFT item's identifier/criteria onto the canonical
// token-set kind.
func tokenCriteria(nft Item, info *protocol.Info) error {
	switch nft.ItemType {
	case ItemERC721, ItemERC721Criteria:
		info.TokenStandard = protocol.StandardERC721
	case ItemERC1155, ItemERC1155Criteria:
		info.TokenStandard = protocol.StandardERC1155
	}

	switch nft.ItemType {
	case ItemERC721, ItemERC1155:
		tokenID, err := parseBig(nft.IdentifierOrCriteria)
		if err != nil {
			return err
		}
		info.TokenKind = domain.TokenSetSingleToken
		info.TokenID = tokenID
	case ItemERC721Criteria, ItemERC1155Criteria:
		criteria, err := parseBig(nft.IdentifierOrCriteria)
		if err != nil {
			return err
		}
		if criteria.Sign() == 0 {
			// A zero criteria root matches the whole collection.
			info.TokenKind = domain.TokenSetContractWide
		} else {
			info.TokenKind = domain.TokenSetTokenList
			info.MerkleRoot = hexutil.EncodeBig(criteria)
		}
	default:
		return fmt.Errorf("seaport: unrecognized token item type %d", nft.ItemType)
	}
	return nil
}

// CheckValidity performs protocol-internal structural validation.
func (o *Order) CheckValidity() error {
	c := o.components
	if !common.IsHexAddress(c.Offerer) {
		return errors.New("seaport: malformed offerer")
	}
	if c.Zone != "" && !common.IsHexAddress(c.Zone) {
		return errors.New("seaport: malformed zone")
	}
	if c.OrderType < OrderFullOpen || c.OrderType > OrderPartialRestricted {
		return fmt.Errorf("seaport: unrecognized order type %d", c.OrderType)
	}
	if c.EndTime != 0 && c.EndTime <= c.StartTime {
		return errors.New("seaport: end time not after start time")
	}
	if _, err := parseBig(c.Salt); err != nil {
		return err
	}
	if _, err := parseBig(c.Counter); err != nil {
		return err
	}

	info, err := o.Info()
	if err != nil {
		return err
	}
	if info.Amount.Sign() <= 0 {
		return errors.New("seaport: non-positive token amount")
	}
	if !common.IsHexAddress(info.Contract) {
		return errors.New("seaport: malformed token contract")
	}
	return nil
}

// CheckSignature verifies the maker signature over the EIP-712 digest.
func (o *Order) CheckSignature(ctx context.Context, v protocol.SignatureVerifier) error {
	sig := o.components.Signature
	if sig == "" {
		return errors.New("seaport: missing signature")
	}
	sigBytes, err := hexutil.Decode(sig)
	if err != nil {
		return fmt.Errorf("seaport: malformed signature: %w", err)
	}

	structHash, err := hashComponents(o.components)
	if err != nil {
		return err
	}
	digest := signDigest(domainSeparator(o.chainID, o.exchange), structHash)

	return v.VerifyHash(ctx, o.Maker(), digest, sigBytes)
}

// MatchingPrice returns the total price at which the order matches at the
// given timestamp. Dynamic (dutch) orders interpolate linearly between start
// and end amounts.
func (o *Order) MatchingPrice(at int64) *big.Int {
	c := o.components

	interpolate := func(it Item) *big.Int {
		start, err := parseBig(it.StartAmount)
		if err != nil {
			return big.NewInt(0)
		}
		end, err := parseBig(it.EndAmount)
		if err != nil {
			return big.NewInt(0)
		}
		if start.Cmp(end) == 0 || c.EndTime <= c.StartTime {
			return start
		}
		if at <= c.StartTime {
			return start
		}
		if at >= c.EndTime {
			return end
		}
		elapsed := big.NewInt(at - c.StartTime)
		duration := big.NewInt(c.EndTime - c.StartTime)
		diff := new(big.Int).Sub(end, start)
		step := new(big.Int).Mul(diff, elapsed)
		step.Div(step, duration)
		return new(big.Int).Add(start, step)
	}

	price := new(big.Int)
	if len(c.Offer) == 1 && isPaymentItem(c.Offer[0].ItemType) {
		// Buy order: the offered payment is the price.
		return price.Add(price, interpolate(c.Offer[0]))
	}
	for _, it := range c.Consideration {
		if isPaymentItem(it.ItemType) {
			price.Add(price, interpolate(it))
		}
	}
	return price
}

// Raw serializes the components verbatim for persistence.
func (o *Order) Raw() (json.RawMessage, error) {
	return o.components.marshal()
}

// SetPermit attaches delayed-validation permit info to the raw data.
func (o *Order) SetPermit(permitID string, permitIndex int) {
	o.components.PermitID = permitID
	o.components.PermitIndex = permitIndex
}
