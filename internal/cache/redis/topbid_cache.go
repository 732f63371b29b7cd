package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mintlake/orderflow/internal/domain"
)

// TopBidCache implements domain.TopBidCache using plain Redis string keys
// holding decimal native amounts. The values are maintained by read-side
// aggregation jobs outside this service; here they are consumed only.
//
// Key schema:
//
//	topbid:{contract}            - collection-level top bid value
//	topbid:{contract}:{tokenID}  - token-level override, checked first
//	floorask:{contract}          - collection-level floor ask value
type TopBidCache struct {
	rdb *redis.Client
}

// NewTopBidCache creates a TopBidCache backed by the given Client.
func NewTopBidCache(c *Client) *TopBidCache {
	return &TopBidCache{rdb: c.Underlying()}
}

func (tb *TopBidCache) value(ctx context.Context, keys ...string) (*big.Int, error) {
	for _, key := range keys {
		raw, err := tb.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get %s: %w", key, err)
		}

		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("redis: parse %s value %q", key, raw)
		}
		return v, nil
	}
	return nil, domain.ErrNotFound
}

// CollectionTopBid returns the cached top bid for the collection a token
// belongs to, preferring a token-level entry when one exists.
func (tb *TopBidCache) CollectionTopBid(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	contract = strings.ToLower(contract)

	keys := make([]string, 0, 2)
	if tokenID != nil {
		keys = append(keys, "topbid:"+contract+":"+tokenID.String())
	}
	keys = append(keys, "topbid:"+contract)
	return tb.value(ctx, keys...)
}

// CollectionFloorAsk returns the cached floor ask for the collection.
func (tb *TopBidCache) CollectionFloorAsk(ctx context.Context, contract string, _ *big.Int) (*big.Int, error) {
	return tb.value(ctx, "floorask:"+strings.ToLower(contract))
}

// Compile-time interface check.
var _ domain.TopBidCache = (*TopBidCache)(nil)
