package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mintlake/orderflow/internal/domain"
)

const (
	// dequeueBatchSize bounds the orders pulled per poll.
	dequeueBatchSize = 50

	// jobTimeout bounds one batch invocation, matching the surrounding
	// job-retry policy.
	jobTimeout = 5 * time.Minute
)

// validateOrderJob is the payload of a validate-order queue job.
type validateOrderJob struct {
	Order   OrderInfo   `json:"order"`
	Options SaveOptions `json:"options"`
}

// NewValidateOrderJob builds the queue job that submits one order for
// validation. Intake surfaces (feed, replay, delayed rescheduling) all
// funnel through this shape.
func NewValidateOrderJob(order OrderInfo, opts SaveOptions) (domain.Job, error) {
	payload, err := json.Marshal(validateOrderJob{Order: order, Options: opts})
	if err != nil {
		return domain.Job{}, err
	}
	return domain.Job{ID: uuid.New().String(), Kind: JobKindValidateOrder, Payload: payload}, nil
}

// ensureSplitJob is the payload of an ensure-split queue job, requested by
// marketplace frontends before building single-fee-recipient orders.
type ensureSplitJob struct {
	APIKey    string            `json:"apiKey"`
	OrderKind string            `json:"orderKind"`
	Fees      []domain.SplitFee `json:"fees"`
}

// Worker pulls intake jobs off the delayed queue and drives the pipeline.
type Worker struct {
	pipeline *Pipeline
	queue    domain.JobQueue
	apiKeys  apiKeyResolver
	interval time.Duration
	logger   *slog.Logger
}

type apiKeyResolver interface {
	Get(ctx context.Context, key string) (domain.APIKey, error)
}

// NewWorker creates a Worker polling at the given interval.
func NewWorker(pipeline *Pipeline, queue domain.JobQueue, apiKeys apiKeyResolver, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		pipeline: pipeline,
		queue:    queue,
		apiKeys:  apiKeys,
		interval: interval,
		logger:   logger.With("component", "ingest_worker"),
	}
}

// Run polls the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick drains one batch of each job kind.
func (w *Worker) tick(ctx context.Context) {
	w.drainValidations(ctx)
	w.drainSplitRequests(ctx)
}

func (w *Worker) drainValidations(ctx context.Context) {
	jobs, err := w.queue.Dequeue(ctx, JobKindValidateOrder, dequeueBatchSize)
	if err != nil {
		w.logger.Error("dequeue failed", "kind", JobKindValidateOrder, "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	// Group by identical save options so each group runs as one batch.
	type group struct {
		opts   SaveOptions
		orders []OrderInfo
	}
	groups := make(map[SaveOptions]*group)
	for _, job := range jobs {
		var vj validateOrderJob
		if err := json.Unmarshal(job.Payload, &vj); err != nil {
			w.logger.Warn("malformed validate-order job", "job", job.ID, "error", err)
			continue
		}
		g, ok := groups[vj.Options]
		if !ok {
			g = &group{opts: vj.Options}
			groups[vj.Options] = g
		}
		g.orders = append(g.orders, vj.Order)
	}

	for _, g := range groups {
		jctx, cancel := context.WithTimeout(ctx, jobTimeout)
		results, err := w.pipeline.Save(jctx, g.orders, g.opts)
		cancel()
		if err != nil {
			w.logger.Error("intake batch failed", "orders", len(g.orders), "error", err)
			continue
		}

		for _, res := range results {
			w.logger.Info("order processed",
				"order", res.ID,
				"status", string(res.Status),
				"unfillable", res.Unfillable,
				"method", string(g.opts.IngestMethod))
		}
	}
}

func (w *Worker) drainSplitRequests(ctx context.Context) {
	jobs, err := w.queue.Dequeue(ctx, JobKindEnsureSplit, dequeueBatchSize)
	if err != nil {
		w.logger.Error("dequeue failed", "kind", JobKindEnsureSplit, "error", err)
		return
	}

	for _, job := range jobs {
		var sj ensureSplitJob
		if err := json.Unmarshal(job.Payload, &sj); err != nil {
			w.logger.Warn("malformed ensure-split job", "job", job.ID, "error", err)
			continue
		}

		key, err := w.apiKeys.Get(ctx, sj.APIKey)
		if err != nil {
			w.logger.Warn("ensure-split for unknown api key", "job", job.ID, "error", err)
			continue
		}

		sp, err := w.pipeline.deps.Fees.EnsureSplit(ctx, key, sj.OrderKind, sj.Fees)
		if err != nil {
			w.logger.Error("ensure-split failed", "job", job.ID, "error", err)
			continue
		}
		w.logger.Info("payment split ensured", "address", sp.Address, "api_key", key.AppName)
	}
}
