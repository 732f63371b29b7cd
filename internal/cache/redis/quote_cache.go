package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mintlake/orderflow/internal/domain"
)

const (
	// quoteBucket groups oracle quote timestamps into five-minute buckets so
	// orders ingested close together share a cache entry.
	quoteBucket = 5 * time.Minute

	quoteTTL = time.Hour
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each entry is
// stored at key "quote:{currency}:{bucket}" with fields "native" (wei per
// currency unit, decimal string) and "usd" (USD per currency unit).
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(currency string, timestamp int64) string {
	bucket := timestamp - timestamp%int64(quoteBucket.Seconds())
	return fmt.Sprintf("quote:%s:%d", strings.ToLower(currency), bucket)
}

// Get returns cached per-unit conversion rates, or domain.ErrNotFound when no
// entry covers the timestamp's bucket.
func (qc *QuoteCache) Get(ctx context.Context, currency string, timestamp int64) (*big.Int, string, error) {
	vals, err := qc.rdb.HMGet(ctx, quoteKey(currency, timestamp), "native", "usd").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", fmt.Errorf("redis: get quote %s: %w", currency, err)
	}
	if len(vals) < 2 || vals[0] == nil || vals[1] == nil {
		return nil, "", domain.ErrNotFound
	}

	nativeStr, _ := vals[0].(string)
	usdStr, _ := vals[1].(string)

	native, ok := new(big.Int).SetString(nativeStr, 10)
	if !ok {
		return nil, "", fmt.Errorf("redis: parse quote native %q", nativeStr)
	}
	return native, usdStr, nil
}

// Set stores per-unit conversion rates with a one-hour TTL.
func (qc *QuoteCache) Set(ctx context.Context, currency string, timestamp int64, nativePerUnit *big.Int, usdPerUnit string) error {
	key := quoteKey(currency, timestamp)

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"native": nativePerUnit.String(),
		"usd":    usdPerUnit,
	})
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", currency, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
