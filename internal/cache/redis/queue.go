package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mintlake/orderflow/internal/domain"
)

// popDueLua atomically pops up to ARGV[2] members whose score is <= ARGV[1]
// from the sorted set at KEYS[1]. Popping and removal happen in one script so
// that concurrent workers never see the same job twice.
const popDueLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
    redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`

// JobQueue implements domain.JobQueue using one Redis sorted set per job kind,
// scored by the job's ready-at time in milliseconds. A zero delay makes the
// job immediately due.
type JobQueue struct {
	rdb    *redis.Client
	popDue *redis.Script
}

// NewJobQueue creates a JobQueue backed by the given Client.
func NewJobQueue(c *Client) *JobQueue {
	return &JobQueue{
		rdb:    c.Underlying(),
		popDue: redis.NewScript(popDueLua),
	}
}

func queueKey(kind string) string {
	return "queue:" + kind
}

// Enqueue schedules a job to become due after the given delay.
func (q *JobQueue) Enqueue(ctx context.Context, job domain.Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.ID, err)
	}

	readyAt := time.Now().Add(delay).UnixMilli()
	err = q.rdb.ZAdd(ctx, queueKey(job.Kind), redis.Z{
		Score:  float64(readyAt),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue pops up to max due jobs of the given kind. It returns an empty
// slice when nothing is due.
func (q *JobQueue) Dequeue(ctx context.Context, kind string, max int) ([]domain.Job, error) {
	now := time.Now().UnixMilli()

	raw, err := q.popDue.Run(ctx, q.rdb, []string{queueKey(kind)}, now, max).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis: dequeue %s: %w", kind, err)
	}

	jobs := make([]domain.Job, 0, len(raw))
	for _, r := range raw {
		var job domain.Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			// A corrupt member has already been removed from the set; skip it
			// rather than wedging the whole queue.
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Compile-time interface check.
var _ domain.JobQueue = (*JobQueue)(nil)
