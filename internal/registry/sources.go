package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mintlake/orderflow/internal/domain"
)

const sourceTTL = time.Hour

// Sources is a cached view of marketplace attribution sources. Salt-based
// attribution resolves the first four bytes of an order salt against source
// domain hashes.
type Sources struct {
	store domain.SourceStore

	mu           sync.RWMutex
	byDomain     map[string]domain.Source
	byDomainHash map[string]domain.Source
	loadedAt     time.Time
}

// NewSources creates the registry. Data loads lazily on first use.
func NewSources(store domain.SourceStore) *Sources {
	return &Sources{store: store}
}

func (sr *Sources) ensure(ctx context.Context) error {
	sr.mu.RLock()
	fresh := sr.byDomain != nil && time.Since(sr.loadedAt) < sourceTTL
	sr.mu.RUnlock()
	if fresh {
		return nil
	}
	return sr.ForceReload(ctx)
}

// ForceReload replaces the cached data with the store's current contents.
func (sr *Sources) ForceReload(ctx context.Context) error {
	sources, err := sr.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load sources: %w", err)
	}

	byDomain := make(map[string]domain.Source, len(sources))
	byHash := make(map[string]domain.Source, len(sources))
	for _, s := range sources {
		byDomain[s.Domain] = s
		byHash[strings.ToLower(s.DomainHash)] = s
	}

	sr.mu.Lock()
	sr.byDomain = byDomain
	sr.byDomainHash = byHash
	sr.loadedAt = time.Now()
	sr.mu.Unlock()
	return nil
}

// GetByDomain returns the source registered for a frontend domain, inserting
// it into the store on first sight.
func (sr *Sources) GetByDomain(ctx context.Context, dom string) (domain.Source, error) {
	if err := sr.ensure(ctx); err != nil {
		return domain.Source{}, err
	}

	sr.mu.RLock()
	s, ok := sr.byDomain[dom]
	sr.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := sr.store.GetOrInsert(ctx, dom)
	if err != nil {
		return domain.Source{}, fmt.Errorf("registry: get or insert source %s: %w", dom, err)
	}

	sr.mu.Lock()
	sr.byDomain[s.Domain] = s
	sr.byDomainHash[strings.ToLower(s.DomainHash)] = s
	sr.mu.Unlock()
	return s, nil
}

// GetByDomainHash resolves a 4-byte domain hash ("0x"-prefixed, lowercase
// hex) to a source, or false when no source claims the hash.
func (sr *Sources) GetByDomainHash(ctx context.Context, hash string) (domain.Source, bool, error) {
	if err := sr.ensure(ctx); err != nil {
		return domain.Source{}, false, err
	}

	sr.mu.RLock()
	s, ok := sr.byDomainHash[strings.ToLower(hash)]
	sr.mu.RUnlock()
	return s, ok, nil
}
