package ppv2

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
)

const (
	makerAddr       = "0x2222222222222222222222222222222222222222"
	tokenAddr       = "0x1111111111111111111111111111111111111111"
	marketplaceAddr = "0x4444444444444444444444444444444444444444"
	exchangeAddr    = "0x9a1d00bed7cd04bcda516d721a596eb22aac6834"
)

func newProtocol() *Protocol {
	return New(1, exchangeAddr)
}

// saleComponents is a single ERC-721 sale with a 250 bps marketplace fee.
func saleComponents() *Components {
	return &Components{
		Protocol:                SaleERC721,
		Maker:                   makerAddr,
		Marketplace:             marketplaceAddr,
		PaymentMethod:           domain.ZeroAddress,
		TokenAddress:            tokenAddr,
		TokenID:                 "42",
		Amount:                  "1",
		ItemPrice:               "1000000",
		Expiration:              1_700_003_600,
		MarketplaceFeeNumerator: 250,
		Nonce:                   "1",
		MasterNonce:             "0",
	}
}

func decode(t *testing.T, c *Components) *Order {
	t.Helper()
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal components: %v", err)
	}
	ord, err := newProtocol().Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return ord.(*Order)
}

func TestProtocolShape(t *testing.T) {
	p := newProtocol()

	if p.Kind() != ProtocolKind {
		t.Errorf("kind = %s", p.Kind())
	}
	if !p.SingleFeeRecipient() {
		t.Error("payment processor supports only a single fee recipient")
	}
	if p.CancellationZone() != "" {
		t.Error("protocol has no cancellation zone")
	}

	conduit, err := p.DeriveConduit("ignored")
	if err != nil {
		t.Fatalf("DeriveConduit failed: %v", err)
	}
	if conduit != exchangeAddr {
		t.Errorf("conduit = %s, want the exchange itself", conduit)
	}
}

func TestSaleInfo(t *testing.T) {
	info, err := decode(t, saleComponents()).Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	if info.Side != domain.SideSell {
		t.Errorf("side = %s", info.Side)
	}
	if info.TokenKind != domain.TokenSetSingleToken || info.TokenID.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("token kind/id = %s/%s", info.TokenKind, info.TokenID)
	}
	if info.TokenStandard != protocol.StandardERC721 {
		t.Errorf("standard = %s", info.TokenStandard)
	}
	if info.Price.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("price = %s", info.Price)
	}

	// The bps numerator materializes as one absolute fee entry.
	if len(info.Fees) != 1 {
		t.Fatalf("fees = %+v", info.Fees)
	}
	if info.Fees[0].Recipient != marketplaceAddr || info.Fees[0].Amount.Cmp(big.NewInt(25_000)) != 0 {
		t.Errorf("fee = %+v, want 25000 to marketplace", info.Fees[0])
	}
	if info.Taker != domain.ZeroAddress {
		t.Errorf("taker = %s, want public", info.Taker)
	}
}

func TestPrivateSale(t *testing.T) {
	c := saleComponents()
	c.Beneficiary = "0x6666666666666666666666666666666666666666"

	info, err := decode(t, c).Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Taker != c.Beneficiary {
		t.Errorf("taker = %s, want beneficiary", info.Taker)
	}
}

func TestOfferKinds(t *testing.T) {
	t.Run("item offer", func(t *testing.T) {
		c := saleComponents()
		c.Protocol = OfferItem

		info, err := decode(t, c).Info()
		if err != nil {
			t.Fatalf("Info failed: %v", err)
		}
		if info.Side != domain.SideBuy || info.TokenKind != domain.TokenSetSingleToken {
			t.Errorf("side/kind = %s/%s", info.Side, info.TokenKind)
		}
	})

	t.Run("collection offer", func(t *testing.T) {
		c := saleComponents()
		c.Protocol = OfferCollection

		info, err := decode(t, c).Info()
		if err != nil {
			t.Fatalf("Info failed: %v", err)
		}
		if info.TokenKind != domain.TokenSetContractWide {
			t.Errorf("kind = %s", info.TokenKind)
		}
	})

	t.Run("token set offer", func(t *testing.T) {
		c := saleComponents()
		c.Protocol = OfferTokenSetMerkle
		c.TokenSetMerkleRoot = "0xff00"

		info, err := decode(t, c).Info()
		if err != nil {
			t.Fatalf("Info failed: %v", err)
		}
		if info.TokenKind != domain.TokenSetTokenList || info.MerkleRoot != "0xff00" {
			t.Errorf("kind/root = %s/%s", info.TokenKind, info.MerkleRoot)
		}
	})

	t.Run("token set offer without root", func(t *testing.T) {
		c := saleComponents()
		c.Protocol = OfferTokenSetMerkle

		if _, err := decode(t, c).Info(); err == nil {
			t.Error("missing merkle root should fail")
		}
	})
}

func TestPartiallyFillable(t *testing.T) {
	if decode(t, saleComponents()).PartiallyFillable() {
		t.Error("erc721 sale should not be partially fillable")
	}

	c := saleComponents()
	c.Protocol = SaleERC1155
	c.Amount = "10"
	ord := decode(t, c)
	if !ord.PartiallyFillable() {
		t.Error("erc1155 sale should be partially fillable")
	}

	info, err := ord.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.TokenStandard != protocol.StandardERC1155 {
		t.Errorf("standard = %s", info.TokenStandard)
	}
}

func TestCheckValidity(t *testing.T) {
	if err := decode(t, saleComponents()).CheckValidity(); err != nil {
		t.Fatalf("valid components rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Components)
	}{
		{"malformed token address", func(c *Components) { c.TokenAddress = "nowhere" }},
		{"fee numerator out of range", func(c *Components) { c.MarketplaceFeeNumerator = 10_001 }},
		{"zero amount", func(c *Components) { c.Amount = "0" }},
		{"erc721 multi-unit sale", func(c *Components) { c.Amount = "2" }},
		{"unknown protocol", func(c *Components) { c.Protocol = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := saleComponents()
			tt.mutate(c)
			if err := decode(t, c).CheckValidity(); err == nil {
				t.Error("expected validity error")
			}
		})
	}
}

func TestHashStability(t *testing.T) {
	a := decode(t, saleComponents())
	b := decode(t, saleComponents())

	if len(a.Hash()) != 66 {
		t.Fatalf("hash = %q", a.Hash())
	}
	if a.Hash() != b.Hash() {
		t.Error("identical components hash differently")
	}

	c := saleComponents()
	c.Nonce = "2"
	if decode(t, c).Hash() == a.Hash() {
		t.Error("different nonces must hash differently")
	}

	signed := saleComponents()
	signed.Signature = "0xababab"
	if decode(t, signed).Hash() != a.Hash() {
		t.Error("signature must not change the hash")
	}
}

type recordingVerifier struct {
	signer string
	digest []byte
}

func (v *recordingVerifier) VerifyHash(ctx context.Context, signer string, digest, signature []byte) error {
	v.signer = signer
	v.digest = digest
	return nil
}

func TestCheckSignature(t *testing.T) {
	c := saleComponents()
	c.Signature = "0xababab"

	v := &recordingVerifier{}
	if err := decode(t, c).CheckSignature(context.Background(), v); err != nil {
		t.Fatalf("CheckSignature failed: %v", err)
	}
	if v.signer != makerAddr || len(v.digest) != 32 {
		t.Errorf("signer/digest = %s/%d bytes", v.signer, len(v.digest))
	}

	if err := decode(t, saleComponents()).CheckSignature(context.Background(), v); err == nil {
		t.Error("missing signature should fail")
	}
}
