// Package split manages payment splits: on-chain fan-out contracts that divide
// incoming fee payments among recipients by share. Splits are generated
// deterministically at intake time for single-fee-recipient protocols and
// deployed lazily by the distribution scheduler once enough value accrues.
package split

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mintlake/orderflow/internal/domain"
)

// totalShareUnits is the denominator the split contract uses for recipient
// shares. Relative fee bps are normalized into these units.
const totalShareUnits = 1_000_000

// Config carries the on-chain parameters needed to derive split addresses.
type Config struct {
	// Deployer is the factory contract performing CREATE2 deployments.
	Deployer string
	// InitCodeHash is the keccak256 of the split contract creation code.
	InitCodeHash string
}

// Generator derives and persists payment splits.
type Generator struct {
	cfg   Config
	store domain.PaymentSplitStore
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config, store domain.PaymentSplitStore) *Generator {
	return &Generator{cfg: cfg, store: store}
}

// Normalize converts relative fee bps into split share units summing exactly
// to 1e6. Shares are floor-divided; any residual units go to the first fee so
// the contract's share total always balances. Recipients are lowercased and
// sorted so equal fee sets produce equal splits.
func Normalize(fees []domain.SplitFee) ([]domain.SplitFee, error) {
	if len(fees) == 0 {
		return nil, fmt.Errorf("split: no fees")
	}

	totalBps := 0
	for _, f := range fees {
		if f.Bps <= 0 {
			return nil, fmt.Errorf("split: non-positive fee bps %d for %s", f.Bps, f.Recipient)
		}
		totalBps += f.Bps
	}

	out := make([]domain.SplitFee, len(fees))
	for i, f := range fees {
		out[i] = domain.SplitFee{
			Recipient: strings.ToLower(f.Recipient),
			Bps:       f.Bps * totalShareUnits / totalBps,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })

	allocated := 0
	for _, f := range out {
		allocated += f.Bps
	}
	out[0].Bps += totalShareUnits - allocated

	return out, nil
}

// Address derives the deterministic CREATE2 address of the split holding the
// given normalized fees. The salt commits to the recipient list and shares.
func (g *Generator) Address(fees []domain.SplitFee) string {
	buf := make([]byte, 0, len(fees)*24)
	for _, f := range fees {
		buf = append(buf, common.HexToAddress(f.Recipient).Bytes()...)
		var share [4]byte
		binary.BigEndian.PutUint32(share[:], uint32(f.Bps))
		buf = append(buf, share[:]...)
	}

	var salt [32]byte
	copy(salt[:], crypto.Keccak256(buf))

	addr := crypto.CreateAddress2(
		common.HexToAddress(g.cfg.Deployer),
		salt,
		common.FromHex(g.cfg.InitCodeHash),
	)
	return strings.ToLower(addr.Hex())
}

// GetOrCreate returns the split holding the given fees, persisting it on
// first sight. The address is derived, never read back from chain, so intake
// can reference splits that are not deployed yet.
func (g *Generator) GetOrCreate(ctx context.Context, apiKey string, fees []domain.SplitFee) (domain.PaymentSplit, error) {
	normalized, err := Normalize(fees)
	if err != nil {
		return domain.PaymentSplit{}, err
	}

	address := g.Address(normalized)

	existing, err := g.store.Get(ctx, address)
	if err == nil {
		return existing, nil
	}
	if err != domain.ErrNotFound {
		return domain.PaymentSplit{}, fmt.Errorf("split: get %s: %w", address, err)
	}

	sp := domain.PaymentSplit{
		Address: address,
		APIKey:  apiKey,
		Fees:    normalized,
	}
	if err := g.store.Save(ctx, sp); err != nil {
		return domain.PaymentSplit{}, fmt.Errorf("split: save %s: %w", address, err)
	}
	return sp, nil
}

// IsKnown reports whether address is a persisted payment split.
func (g *Generator) IsKnown(ctx context.Context, address string) (bool, error) {
	_, err := g.store.Get(ctx, strings.ToLower(address))
	if err == nil {
		return true, nil
	}
	if err == domain.ErrNotFound {
		return false, nil
	}
	return false, fmt.Errorf("split: get %s: %w", address, err)
}
