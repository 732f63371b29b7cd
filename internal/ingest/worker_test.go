package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/registry"
)

// stagedQueue serves pre-staged jobs per kind on Dequeue, once.
type stagedQueue struct {
	fakeQueue
	staged map[string][]domain.Job
}

func (q *stagedQueue) Dequeue(ctx context.Context, kind string, max int) ([]domain.Job, error) {
	jobs := q.staged[kind]
	delete(q.staged, kind)
	if len(jobs) > max {
		jobs = jobs[:max]
	}
	return jobs, nil
}

func TestWorkerDrainsValidations(t *testing.T) {
	e := newEnv(t)

	a := e.addOrder(1)
	b := e.addOrder(2)

	var jobs []domain.Job
	for _, ord := range []*fakeOrder{a, b} {
		job, err := NewValidateOrderJob(OrderInfo{
			Kind: fakeKind,
			Raw:  json.RawMessage(`{"id":"` + ord.hash + `"}`),
		}, SaveOptions{IngestMethod: domain.IngestMethodWebsocket})
		if err != nil {
			t.Fatalf("NewValidateOrderJob failed: %v", err)
		}
		jobs = append(jobs, job)
	}

	queue := &stagedQueue{staged: map[string][]domain.Job{JobKindValidateOrder: jobs}}
	w := NewWorker(e.pipeline, queue, registry.NewAPIKeys(e.apiKeys), 0, slog.Default())
	w.tick(context.Background())

	if len(e.orders.upserted) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(e.orders.upserted))
	}
}

func TestWorkerSkipsMalformedJobs(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)

	good, err := NewValidateOrderJob(OrderInfo{
		Kind: fakeKind,
		Raw:  json.RawMessage(`{"id":"` + ord.hash + `"}`),
	}, SaveOptions{})
	if err != nil {
		t.Fatalf("NewValidateOrderJob failed: %v", err)
	}
	bad := domain.Job{ID: "bad", Kind: JobKindValidateOrder, Payload: []byte(`{`)}

	queue := &stagedQueue{staged: map[string][]domain.Job{JobKindValidateOrder: {bad, good}}}
	w := NewWorker(e.pipeline, queue, registry.NewAPIKeys(e.apiKeys), 0, slog.Default())
	w.tick(context.Background())

	if len(e.orders.upserted) != 1 {
		t.Fatalf("persisted rows = %d, the well-formed job should still process", len(e.orders.upserted))
	}
}

func TestWorkerEnsuresSplits(t *testing.T) {
	e := newEnv(t)
	e.apiKeys.keys["client"] = domain.APIKey{Key: "client", AppName: "client", OrderbookFeeBps: 250}

	payload, err := json.Marshal(ensureSplitJob{
		APIKey:    "client",
		OrderKind: fakeKind,
		Fees:      []domain.SplitFee{{Recipient: "0xaaa0000000000000000000000000000000000aaa", Bps: 100}},
	})
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}

	queue := &stagedQueue{staged: map[string][]domain.Job{
		JobKindEnsureSplit: {{ID: "j1", Kind: JobKindEnsureSplit, Payload: payload}},
	}}
	w := NewWorker(e.pipeline, queue, registry.NewAPIKeys(e.apiKeys), 0, slog.Default())
	w.tick(context.Background())

	if len(e.splitStore.splits) != 1 {
		t.Fatalf("splits = %d, want 1", len(e.splitStore.splits))
	}
	for _, sp := range e.splitStore.splits {
		if sp.APIKey != "client" {
			t.Errorf("split api key = %s", sp.APIKey)
		}
		total := 0
		for _, f := range sp.Fees {
			total += f.Bps
		}
		if total != 1_000_000 {
			t.Errorf("share total = %d, want 1000000", total)
		}
	}
}
