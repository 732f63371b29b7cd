// Package protocol defines the plug-in interface implemented by each
// marketplace protocol the intake pipeline understands. The pipeline is
// written once against these interfaces; protocol modules register concrete
// implementations keyed by kind.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"

	"github.com/mintlake/orderflow/internal/domain"
)

// Fee is one protocol-native fee entry: an absolute amount payable to a
// recipient at fill time.
type Fee struct {
	Recipient string
	Amount    *big.Int
}

// Token standards an order can target.
const (
	StandardERC721  = "erc721"
	StandardERC1155 = "erc1155"
)

// Info is the canonical decoded view of a protocol order.
type Info struct {
	Side          domain.Side
	Contract      string
	TokenStandard string
	TokenKind     domain.TokenSetKind
	TokenID       *big.Int // single-token only
	MerkleRoot    string   // token-list only
	PaymentToken  string
	Amount        *big.Int
	Price         *big.Int
	Fees          []Fee
	Taker         string
	IsDynamic     bool
}

// SignatureVerifier recovers or validates a maker signature over a digest.
// Implementations handle both EOA recovery and contract (EIP-1271) wallets.
type SignatureVerifier interface {
	VerifyHash(ctx context.Context, signer string, digest []byte, signature []byte) error
}

// Order is a decoded protocol-specific signed order.
type Order interface {
	Kind() string
	// Hash is the content-derived order identity, stable across re-submission.
	Hash() string
	Maker() string
	Zone() string
	Salt() string
	Counter() string
	Signature() string
	// ClearSignature drops the attached signature, used when an all-zero
	// placeholder signature was supplied.
	ClearSignature()
	StartTime() int64
	EndTime() int64
	PartiallyFillable() bool
	// ZoneGated reports whether the order type requires zone approval at
	// settlement, making unknown zones unfillable.
	ZoneGated() bool
	ConduitKey() string

	Info() (*Info, error)
	CheckValidity() error
	CheckSignature(ctx context.Context, v SignatureVerifier) error
	// MatchingPrice returns the price at which the order matches at the given
	// timestamp, accounting for dynamic (criteria-priced) orders.
	MatchingPrice(at int64) *big.Int
	// Raw returns the protocol-native blob persisted as the canonical row's
	// raw data.
	Raw() (json.RawMessage, error)
}

// Protocol is one marketplace protocol plug-in.
type Protocol interface {
	Kind() string
	Decode(raw json.RawMessage) (Order, error)
	// DeriveConduit resolves the settlement proxy address the order moves
	// assets through.
	DeriveConduit(conduitKey string) (string, error)
	// CancellationZone is the protocol's off-chain-cancellation zone address,
	// empty when the protocol has no such zone.
	CancellationZone() string
	// SingleFeeRecipient reports whether the protocol supports only a single
	// fee recipient, requiring payment splits to combine fees.
	SingleFeeRecipient() bool
}

// Registry dispatches orders to protocol plug-ins by kind.
type Registry struct {
	byKind map[string]Protocol
}

// NewRegistry creates a Registry over the given protocols.
func NewRegistry(protocols ...Protocol) *Registry {
	r := &Registry{byKind: make(map[string]Protocol, len(protocols))}
	for _, p := range protocols {
		r.byKind[p.Kind()] = p
	}
	return r
}

// Get returns the protocol registered for kind.
func (r *Registry) Get(kind string) (Protocol, error) {
	p, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown kind %q", kind)
	}
	return p, nil
}

// Kinds lists the registered protocol kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

var zeroSigRe = regexp.MustCompile(`^0x0+$`)

// IsZeroSignature reports whether sig is an all-zero-bytes placeholder, which
// is treated as "no signature supplied" rather than an invalid signature.
func IsZeroSignature(sig string) bool {
	return sig != "" && zeroSigRe.MatchString(sig)
}
