package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mintlake/orderflow/internal/domain"
)

const apiKeyTTL = 5 * time.Minute

type cachedKey struct {
	key      domain.APIKey
	found    bool
	cachedAt time.Time
}

// APIKeys is a cached view of per-client intake configuration. Negative
// lookups are cached too, since unknown keys are the common abuse pattern.
type APIKeys struct {
	store domain.APIKeyStore

	mu    sync.RWMutex
	cache map[string]cachedKey
}

// NewAPIKeys creates the registry.
func NewAPIKeys(store domain.APIKeyStore) *APIKeys {
	return &APIKeys{
		store: store,
		cache: make(map[string]cachedKey),
	}
}

// Get resolves an API key, or domain.ErrNotFound for unknown or disabled
// keys.
func (ak *APIKeys) Get(ctx context.Context, key string) (domain.APIKey, error) {
	ak.mu.RLock()
	entry, ok := ak.cache[key]
	ak.mu.RUnlock()

	if !ok || time.Since(entry.cachedAt) >= apiKeyTTL {
		k, err := ak.store.Get(ctx, key)
		switch {
		case err == nil:
			entry = cachedKey{key: k, found: true, cachedAt: time.Now()}
		case errors.Is(err, domain.ErrNotFound):
			entry = cachedKey{found: false, cachedAt: time.Now()}
		default:
			return domain.APIKey{}, fmt.Errorf("registry: get api key: %w", err)
		}

		ak.mu.Lock()
		ak.cache[key] = entry
		ak.mu.Unlock()
	}

	if !entry.found || entry.key.Disabled {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return entry.key, nil
}
