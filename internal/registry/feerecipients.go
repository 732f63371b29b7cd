// Package registry provides in-memory, periodically refreshed views of slowly
// changing reference data (fee recipients, sources, API keys) so the intake
// pipeline never hits PostgreSQL on its per-order hot path.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mintlake/orderflow/internal/domain"
)

const feeRecipientTTL = 24 * time.Hour

// FeeRecipients is a cached view of every known fee-collecting address,
// keyed by (address, kind). Royalty classification during fee-breakdown
// construction does a lookup per consideration item, so misses must be cheap.
type FeeRecipients struct {
	store domain.FeeRecipientStore

	mu       sync.RWMutex
	byKey    map[string]domain.FeeRecipient
	loadedAt time.Time
}

// NewFeeRecipients creates the registry. Data loads lazily on first use.
func NewFeeRecipients(store domain.FeeRecipientStore) *FeeRecipients {
	return &FeeRecipients{store: store}
}

func feeRecipientKey(address string, kind domain.FeeKind) string {
	return strings.ToLower(address) + ":" + string(kind)
}

func (fr *FeeRecipients) ensure(ctx context.Context) error {
	fr.mu.RLock()
	fresh := fr.byKey != nil && time.Since(fr.loadedAt) < feeRecipientTTL
	fr.mu.RUnlock()
	if fresh {
		return nil
	}
	return fr.ForceReload(ctx)
}

// ForceReload replaces the cached data with the store's current contents.
func (fr *FeeRecipients) ForceReload(ctx context.Context) error {
	recipients, err := fr.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load fee recipients: %w", err)
	}

	byKey := make(map[string]domain.FeeRecipient, len(recipients))
	for _, r := range recipients {
		byKey[feeRecipientKey(r.Address, r.Kind)] = r
	}

	fr.mu.Lock()
	fr.byKey = byKey
	fr.loadedAt = time.Now()
	fr.mu.Unlock()
	return nil
}

// GetByAddress returns the recipient registered under (address, kind), or
// false when the address is not a known fee collector of that kind.
func (fr *FeeRecipients) GetByAddress(ctx context.Context, address string, kind domain.FeeKind) (domain.FeeRecipient, bool, error) {
	if err := fr.ensure(ctx); err != nil {
		return domain.FeeRecipient{}, false, err
	}

	fr.mu.RLock()
	r, ok := fr.byKey[feeRecipientKey(address, kind)]
	fr.mu.RUnlock()
	return r, ok, nil
}

// IsRoyaltyRecipient reports whether the address collects royalties for any
// collection.
func (fr *FeeRecipients) IsRoyaltyRecipient(ctx context.Context, address string) (bool, error) {
	_, ok, err := fr.GetByAddress(ctx, address, domain.FeeKindRoyalty)
	return ok, err
}

// Register records a newly observed fee recipient in both the store and the
// cached view.
func (fr *FeeRecipients) Register(ctx context.Context, r domain.FeeRecipient) error {
	r.Address = strings.ToLower(r.Address)
	if err := fr.store.Upsert(ctx, r); err != nil {
		return fmt.Errorf("registry: register fee recipient: %w", err)
	}

	fr.mu.Lock()
	if fr.byKey == nil {
		fr.byKey = make(map[string]domain.FeeRecipient)
	}
	fr.byKey[feeRecipientKey(r.Address, r.Kind)] = r
	fr.mu.Unlock()
	return nil
}
