package seaport

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

const (
	offerItemType = "OfferItem(" +
		"uint8 itemType,address token,uint256 identifierOrCriteria," +
		"uint256 startAmount,uint256 endAmount)"

	considerationItemType = "ConsiderationItem(" +
		"uint8 itemType,address token,uint256 identifierOrCriteria," +
		"uint256 startAmount,uint256 endAmount,address recipient)"

	orderComponentsType = "OrderComponents(" +
		"address offerer,address zone,OfferItem[] offer," +
		"ConsiderationItem[] consideration,uint8 orderType," +
		"uint256 startTime,uint256 endTime,bytes32 zoneHash," +
		"uint256 salt,bytes32 conduitKey,uint256 counter)"
)

var (
	offerItemTypeHash         = ethcrypto.Keccak256([]byte(offerItemType))
	considerationItemTypeHash = ethcrypto.Keccak256([]byte(considerationItemType))

	// Nested struct types are appended in alphabetical order per EIP-712.
	orderComponentsTypeHash = ethcrypto.Keccak256(
		[]byte(orderComponentsType + considerationItemType + offerItemType),
	)

	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
)

// parseBig parses a decimal or 0x-prefixed hex integer string.
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
		return nil, fmt.Errorf("seaport: malformed integer %q", s)
	}
	return v, nil
}

func encUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func encBytes32(hexStr string) []byte {
	return common.LeftPadBytes(common.FromHex(hexStr), 32)
}

func hashOfferItem(it Item) ([]byte, error) {
	identifier, err := parseBig(it.IdentifierOrCriteria)
	if err != nil {
		return nil, err
	}
	start, err := parseBig(it.StartAmount)
	if err != nil {
		return nil, err
	}
	end, err := parseBig(it.EndAmount)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(
		offerItemTypeHash,
		encUint(big.NewInt(int64(it.ItemType))),
		encAddress(it.Token),
		encUint(identifier),
		encUint(start),
		encUint(end),
	), nil
}

func hashConsiderationItem(it Item) ([]byte, error) {
	identifier, err := parseBig(it.IdentifierOrCriteria)
	if err != nil {
		return nil, err
	}
	start, err := parseBig(it.StartAmount)
	if err != nil {
		return nil, err
	}
	end, err := parseBig(it.EndAmount)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(
		considerationItemTypeHash,
		encUint(big.NewInt(int64(it.ItemType))),
		encAddress(it.Token),
		encUint(identifier),
		encUint(start),
		encUint(end),
		encAddress(it.Recipient),
	), nil
}

// hashComponents computes the EIP-712 struct hash of the order components,
// which doubles as the content-derived order identity.
func hashComponents(c *Components) ([]byte, error) {
	var offerHashes []byte
	for _, it := range c.Offer {
		h, err := hashOfferItem(it)
		if err != nil {
			return nil, err
		}
		offerHashes = append(offerHashes, h...)
	}

	var considerationHashes []byte
	for _, it := range c.Consideration {
		h, err := hashConsiderationItem(it)
		if err != nil {
			return nil, err
		}
		considerationHashes = append(considerationHashes, h...)
	}

	salt, err := parseBig(c.Salt)
	if err != nil {
		return nil, err
	}
	counter, err := parseBig(c.Counter)
	if err != nil {
		return nil, err
	}

	return ethcrypto.Keccak256(
		orderComponentsTypeHash,
		encAddress(c.Offerer),
		encAddress(c.Zone),
		ethcrypto.Keccak256(offerHashes),
		ethcrypto.Keccak256(considerationHashes),
		encUint(big.NewInt(int64(c.OrderType))),
		encUint(big.NewInt(c.StartTime)),
		encUint(big.NewInt(c.EndTime)),
		encBytes32(c.ZoneHash),
		encUint(salt),
		encBytes32(c.ConduitKey),
		encUint(counter),
	), nil
}

// domainSeparator computes the EIP-712 domain separator for the exchange
// contract on the given chain.
func domainSeparator(chainID int64, exchange string) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("Seaport")),
		ethcrypto.Keccak256([]byte("1.6")),
		encUint(big.NewInt(chainID)),
		encAddress(exchange),
	)
}

// signDigest computes the final EIP-712 signing digest for a struct hash.
func signDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}
