package domain

import (
	"context"
	"encoding/json"
	"math/big"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Job is a unit of deferred work on the queue.
type Job struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// JobQueue provides delayed job enqueueing and batch dequeueing. The intake
// pipeline uses it for self-rescheduling (delayed orders) and for downstream
// order-update triggers.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
	// Dequeue pops up to max due jobs of the given kind. It returns an empty
	// slice when nothing is due.
	Dequeue(ctx context.Context, kind string, max int) ([]Job, error)
}

// TopBidCache serves cached collection-level top bid and floor ask values
// (native-denominated), maintained by out-of-scope read-side jobs.
type TopBidCache interface {
	// CollectionTopBid returns the cached top bid value for the collection a
	// token belongs to, or ErrNotFound when no value is cached.
	CollectionTopBid(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)
	// CollectionFloorAsk returns the cached floor ask value for the
	// collection, or ErrNotFound when no value is cached.
	CollectionFloorAsk(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)
}

// QuoteCache caches oracle quotes keyed by currency and timestamp bucket.
type QuoteCache interface {
	Get(ctx context.Context, currency string, timestamp int64) (nativePerUnit *big.Int, usdPerUnit string, err error)
	Set(ctx context.Context, currency string, timestamp int64, nativePerUnit *big.Int, usdPerUnit string) error
}

// StreamMessage is one entry read from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus announces order and split lifecycle events to downstream
// consumers over durable, ordered streams.
type EventBus interface {
	Publish(ctx context.Context, stream string, payload []byte) error
	// Read returns up to count messages after lastID. Use "0" to read from
	// the beginning or "$" for new messages only. An empty result is not an
	// error.
	Read(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RelayStore is a durable append-only mirror of raw order payloads used for
// audit and replay.
type RelayStore interface {
	Append(ctx context.Context, kind, id string, payload []byte) error
}
