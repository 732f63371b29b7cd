// Package seaport implements the protocol plug-in for Seaport-style orders:
// zone-gated order types, conduit-based settlement, multi-recipient fees
// expressed as consideration items.
package seaport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mintlake/orderflow/internal/protocol"
)

// ProtocolKind is the canonical kind identifier for this protocol.
const ProtocolKind = "seaport"

// Addresses holds the deployed contract addresses for one chain.
type Addresses struct {
	Exchange          string
	ConduitController string
	// ConduitInitCodeHash is the keccak256 of the conduit creation code,
	// needed to derive conduit addresses via create2.
	ConduitInitCodeHash string
	// CancellationZone is the off-chain-cancellation zone. Orders pinned to
	// it can be replaced/cancelled without an on-chain transaction.
	CancellationZone string
}

// Protocol is the Seaport plug-in.
type Protocol struct {
	chainID   int64
	addresses Addresses
}

var _ protocol.Protocol = (*Protocol)(nil)

// New creates the plug-in for the given chain.
func New(chainID int64, addresses Addresses) *Protocol {
	return &Protocol{chainID: chainID, addresses: addresses}
}

// Kind implements protocol.Protocol.
func (p *Protocol) Kind() string { return ProtocolKind }

// Decode parses a raw components blob into an Order.
func (p *Protocol) Decode(raw json.RawMessage) (protocol.Order, error) {
	var c Components
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("seaport: decode components: %w", err)
	}
	if c.Offerer == "" {
		return nil, errors.New("seaport: missing offerer")
	}
	return &Order{
		components: &c,
		chainID:    p.chainID,
		exchange:   p.addresses.Exchange,
	}, nil
}

// DeriveConduit resolves the settlement proxy for a conduit key via create2
// against the conduit controller.
func (p *Protocol) DeriveConduit(conduitKey string) (string, error) {
	key := common.LeftPadBytes(common.FromHex(conduitKey), 32)

	// A zero conduit key means the exchange moves assets directly.
	zero := true
	for _, b := range key {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return strings.ToLower(p.addresses.Exchange), nil
	}

	initCodeHash := common.FromHex(p.addresses.ConduitInitCodeHash)
	if len(initCodeHash) != 32 {
		return "", errors.New("seaport: missing conduit init code hash")
	}

	var salt [32]byte
	copy(salt[:], key)
	addr := ethcrypto.CreateAddress2(
		common.HexToAddress(p.addresses.ConduitController), salt, initCodeHash,
	)
	return strings.ToLower(addr.Hex()), nil
}

// CancellationZone implements protocol.Protocol.
func (p *Protocol) CancellationZone() string {
	return strings.ToLower(p.addresses.CancellationZone)
}

// SingleFeeRecipient implements protocol.Protocol. Seaport supports arbitrary
// consideration fan-out so no payment split is needed.
func (p *Protocol) SingleFeeRecipient() bool { return false }
