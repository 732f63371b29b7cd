// Package ppv2 implements the protocol plug-in for payment-processor style
// orders: flat signed structs, a single marketplace fee recipient, and no
// settlement zones. The single-recipient constraint is what forces the fee
// engine to merge the orderbook fee in through a payment split.
package ppv2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
)

// ProtocolKind is the canonical kind identifier for this protocol.
const ProtocolKind = "payment-processor-v2"

// Order protocols, mirroring the settlement contract's enum.
const (
	SaleERC721          = 0
	SaleERC1155         = 1
	OfferItem           = 2
	OfferCollection     = 3
	OfferTokenSetMerkle = 4
)

// Components is the protocol-native signed order blob.
type Components struct {
	Protocol                int    `json:"protocol"`
	Maker                   string `json:"maker"`
	Beneficiary             string `json:"beneficiary"`
	Marketplace             string `json:"marketplace"`
	PaymentMethod           string `json:"paymentMethod"`
	TokenAddress            string `json:"tokenAddress"`
	TokenID                 string `json:"tokenId"`
	Amount                  string `json:"amount"`
	ItemPrice               string `json:"itemPrice"`
	Expiration              int64  `json:"expiration"`
	MarketplaceFeeNumerator int    `json:"marketplaceFeeNumerator"`
	MaxRoyaltyFeeNumerator  int    `json:"maxRoyaltyFeeNumerator"`
	TokenSetMerkleRoot      string `json:"tokenSetMerkleRoot,omitempty"`
	Nonce                   string `json:"nonce"`
	MasterNonce             string `json:"masterNonce"`
	Signature               string `json:"signature,omitempty"`
}

const componentsType = "Components(" +
	"uint8 protocol,address maker,address beneficiary,address marketplace," +
	"address paymentMethod,address tokenAddress,uint256 tokenId,uint256 amount," +
	"uint256 itemPrice,uint256 expiration,uint256 marketplaceFeeNumerator," +
	"uint256 maxRoyaltyFeeNumerator,bytes32 tokenSetMerkleRoot,uint256 nonce," +
	"uint256 masterNonce)"

var componentsTypeHash = ethcrypto.Keccak256([]byte(componentsType))

// Protocol is the payment-processor plug-in.
type Protocol struct {
	chainID  int64
	exchange string
}

var _ protocol.Protocol = (*Protocol)(nil)

// New creates the plug-in for the given chain.
func New(chainID int64, exchange string) *Protocol {
	return &Protocol{chainID: chainID, exchange: exchange}
}

func (p *Protocol) Kind() string { return ProtocolKind }

// Decode parses a raw components blob into an Order.
func (p *Protocol) Decode(raw json.RawMessage) (protocol.Order, error) {
	var c Components
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("ppv2: decode components: %w", err)
	}
	if c.Maker == "" {
		return nil, errors.New("ppv2: missing maker")
	}
	return &Order{components: &c, chainID: p.chainID, exchange: p.exchange}, nil
}

// DeriveConduit implements protocol.Protocol. The settlement contract moves
// assets directly; there is no conduit indirection.
func (p *Protocol) DeriveConduit(string) (string, error) {
	return strings.ToLower(p.exchange), nil
}

// CancellationZone implements protocol.Protocol. The protocol has no zones.
func (p *Protocol) CancellationZone() string { return "" }

// SingleFeeRecipient implements protocol.Protocol.
func (p *Protocol) SingleFeeRecipient() bool { return true }

// Order is a decoded payment-processor order.
type Order struct {
	components *Components
	chainID    int64
	exchange   string

	hash string
}

var _ protocol.Order = (*Order)(nil)

func (o *Order) Kind() string { return ProtocolKind }

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("ppv2: malformed integer %q", s)
	}
	return v, nil
}

func encUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func (o *Order) structHash() ([]byte, error) {
	c := o.components
	tokenID, err := parseBig(c.TokenID)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(c.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseBig(c.ItemPrice)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig(c.Nonce)
	if err != nil {
		return nil, err
	}
	masterNonce, err := parseBig(c.MasterNonce)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(
		componentsTypeHash,
		encUint(big.NewInt(int64(c.Protocol))),
		encAddress(c.Maker),
		encAddress(c.Beneficiary),
		encAddress(c.Marketplace),
		encAddress(c.PaymentMethod),
		encAddress(c.TokenAddress),
		encUint(tokenID),
		encUint(amount),
		encUint(price),
		encUint(big.NewInt(c.Expiration)),
		encUint(big.NewInt(int64(c.MarketplaceFeeNumerator))),
		encUint(big.NewInt(int64(c.MaxRoyaltyFeeNumerator))),
		common.LeftPadBytes(common.FromHex(c.TokenSetMerkleRoot), 32),
		encUint(nonce),
		encUint(masterNonce),
	), nil
}

// Hash returns the content-derived order identity.
func (o *Order) Hash() string {
	if o.hash == "" {
		h, err := o.structHash()
		if err != nil {
			return ""
		}
		o.hash = hexutil.Encode(h)
	}
	return o.hash
}

func (o *Order) Maker() string      { return strings.ToLower(o.components.Maker) }
func (o *Order) Zone() string       { return "" }
func (o *Order) Salt() string       { return o.components.Nonce }
func (o *Order) Counter() string    { return o.components.MasterNonce }
func (o *Order) Signature() string  { return o.components.Signature }
func (o *Order) ClearSignature()    { o.components.Signature = "" }
func (o *Order) StartTime() int64   { return 0 }
func (o *Order) EndTime() int64     { return o.components.Expiration }
func (o *Order) ConduitKey() string { return "" }
func (o *Order) ZoneGated() bool    { return false }

// PartiallyFillable reports whether the order supports partial fills. Only
// ERC-1155 sales do.
func (o *Order) PartiallyFillable() bool {
	return o.components.Protocol == SaleERC1155
}

// Info decodes the components into the canonical order view.
func (o *Order) Info() (*protocol.Info, error) {
	c := o.components

	amount, err := parseBig(c.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseBig(c.ItemPrice)
	if err != nil {
		return nil, err
	}

	side := domain.SideSell
	if c.Protocol >= OfferItem {
		side = domain.SideBuy
	}

	taker := domain.ZeroAddress
	if side == domain.SideSell && c.Beneficiary != "" &&
		!strings.EqualFold(c.Beneficiary, domain.ZeroAddress) {
		taker = strings.ToLower(c.Beneficiary)
	}

	// The single marketplace fee is expressed as a bps numerator on the item
	// price rather than an item list.
	var fees []protocol.Fee
	if c.MarketplaceFeeNumerator > 0 && c.Marketplace != "" {
		feeAmount := new(big.Int).Mul(price, big.NewInt(int64(c.MarketplaceFeeNumerator)))
		feeAmount.Div(feeAmount, big.NewInt(domain.MaxFeeBps))
		fees = append(fees, protocol.Fee{
			Recipient: strings.ToLower(c.Marketplace),
			Amount:    feeAmount,
		})
	}

	standard := protocol.StandardERC721
	if c.Protocol == SaleERC1155 || amount.Cmp(big.NewInt(1)) > 0 {
		standard = protocol.StandardERC1155
	}

	info := &protocol.Info{
		Side:          side,
		Contract:      strings.ToLower(c.TokenAddress),
		TokenStandard: standard,
		PaymentToken:  strings.ToLower(c.PaymentMethod),
		Amount:        amount,
		Price:         price,
		Fees:          fees,
		Taker:         taker,
	}

	switch c.Protocol {
	case SaleERC721, SaleERC1155, OfferItem:
		tokenID, err := parseBig(c.TokenID)
		if err != nil {
			return nil, err
		}
		info.TokenKind = domain.TokenSetSingleToken
		info.TokenID = tokenID
	case OfferCollection:
		info.TokenKind = domain.TokenSetContractWide
	case OfferTokenSetMerkle:
		root, err := parseBig(c.TokenSetMerkleRoot)
		if err != nil {
			return nil, err
		}
		if root.Sign() == 0 {
			return nil, errors.New("ppv2: token-set offer without merkle root")
		}
		info.TokenKind = domain.TokenSetTokenList
		info.MerkleRoot = hexutil.EncodeBig(root)
	default:
		return nil, fmt.Errorf("ppv2: unrecognized protocol %d", c.Protocol)
	}

	return info, nil
}

// CheckValidity performs protocol-internal structural validation.
func (o *Order) CheckValidity() error {
	c := o.components
	if !common.IsHexAddress(c.Maker) {
		return errors.New("ppv2: malformed maker")
	}
	if !common.IsHexAddress(c.TokenAddress) {
		return errors.New("ppv2: malformed token address")
	}
	if c.MarketplaceFeeNumerator < 0 || c.MarketplaceFeeNumerator > domain.MaxFeeBps {
		return errors.New("ppv2: marketplace fee numerator out of range")
	}
	info, err := o.Info()
	if err != nil {
		return err
	}
	if info.Amount.Sign() <= 0 {
		return errors.New("ppv2: non-positive token amount")
	}
	if c.Protocol == SaleERC721 && info.Amount.Cmp(big.NewInt(1)) != 0 {
		return errors.New("ppv2: erc721 sale amount must be 1")
	}
	return nil
}

// CheckSignature verifies the maker signature over the EIP-712 digest.
func (o *Order) CheckSignature(ctx context.Context, v protocol.SignatureVerifier) error {
	sig := o.components.Signature
	if sig == "" {
		return errors.New("ppv2: missing signature")
	}
	sigBytes, err := hexutil.Decode(sig)
	if err != nil {
		return fmt.Errorf("ppv2: malformed signature: %w", err)
	}

	structHash, err := o.structHash()
	if err != nil {
		return err
	}
	domainSep := ethcrypto.Keccak256(
		ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		ethcrypto.Keccak256([]byte("PaymentProcessor")),
		ethcrypto.Keccak256([]byte("2")),
		encUint(big.NewInt(o.chainID)),
		encAddress(o.exchange),
	)
	digest := ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)

	return v.VerifyHash(ctx, o.Maker(), digest, sigBytes)
}

// MatchingPrice implements protocol.Order. Prices are static.
func (o *Order) MatchingPrice(int64) *big.Int {
	price, err := parseBig(o.components.ItemPrice)
	if err != nil {
		return big.NewInt(0)
	}
	return price
}

// Raw serializes the components verbatim for persistence.
func (o *Order) Raw() (json.RawMessage, error) {
	return json.Marshal(o.components)
}
