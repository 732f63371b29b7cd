package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
	"github.com/mintlake/orderflow/internal/registry"
	"github.com/mintlake/orderflow/internal/split"
)

// ---------------------------------------------------------------------------
// Fake protocol
// ---------------------------------------------------------------------------

const fakeKind = "fake"

type fakeOrder struct {
	hash      string
	maker     string
	zone      string
	salt      string
	counter   string
	sig       string
	start     int64
	end       int64
	partial   bool
	zoneGated bool
	conduit   string

	info        *protocol.Info
	matching    *big.Int
	validityErr error
	sigErr      error

	sigCleared bool
	matchedAt  int64
}

func (o *fakeOrder) Kind() string            { return fakeKind }
func (o *fakeOrder) Hash() string            { return o.hash }
func (o *fakeOrder) Maker() string           { return o.maker }
func (o *fakeOrder) Zone() string            { return o.zone }
func (o *fakeOrder) Salt() string            { return o.salt }
func (o *fakeOrder) Counter() string         { return o.counter }
func (o *fakeOrder) Signature() string       { return o.sig }
func (o *fakeOrder) ClearSignature()         { o.sig = ""; o.sigCleared = true }
func (o *fakeOrder) StartTime() int64        { return o.start }
func (o *fakeOrder) EndTime() int64          { return o.end }
func (o *fakeOrder) PartiallyFillable() bool { return o.partial }
func (o *fakeOrder) ZoneGated() bool         { return o.zoneGated }
func (o *fakeOrder) ConduitKey() string      { return o.conduit }

func (o *fakeOrder) Info() (*protocol.Info, error) { return o.info, nil }
func (o *fakeOrder) CheckValidity() error          { return o.validityErr }

func (o *fakeOrder) CheckSignature(ctx context.Context, v protocol.SignatureVerifier) error {
	return o.sigErr
}

func (o *fakeOrder) MatchingPrice(at int64) *big.Int {
	o.matchedAt = at
	if o.matching != nil {
		return o.matching
	}
	return o.info.Price
}

func (o *fakeOrder) Raw() (json.RawMessage, error) {
	return json.RawMessage(`{"id":"` + o.hash + `"}`), nil
}

// fakeProtocol resolves raw blobs of the form {"id":"0x..."} against a fixed
// set of orders.
type fakeProtocol struct {
	orders           map[string]*fakeOrder
	cancellationZone string
	singleFee        bool
	conduitErr       error
}

func (p *fakeProtocol) Kind() string { return fakeKind }

func (p *fakeProtocol) Decode(raw json.RawMessage) (protocol.Order, error) {
	var env struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	ord, ok := p.orders[env.ID]
	if !ok {
		return nil, errors.New("fake: unknown order")
	}
	return ord, nil
}

func (p *fakeProtocol) DeriveConduit(conduitKey string) (string, error) {
	if p.conduitErr != nil {
		return "", p.conduitErr
	}
	return "0x00000000000000000000000000000000000c0001", nil
}

func (p *fakeProtocol) CancellationZone() string { return p.cancellationZone }
func (p *fakeProtocol) SingleFeeRecipient() bool { return p.singleFee }

// ---------------------------------------------------------------------------
// Fake collaborators
// ---------------------------------------------------------------------------

type fakeOrderStore struct {
	mu       sync.Mutex
	raw      map[string]json.RawMessage
	upserted []domain.Order
	canceled [][2]string
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{raw: make(map[string]json.RawMessage)}
}

func (s *fakeOrderStore) LockRawData(ctx context.Context, id string, rawData []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raw[id]; ok {
		return true, nil
	}
	return false, nil
}

func (s *fakeOrderStore) GetRawData(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raw[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return raw, nil
}

func (s *fakeOrderStore) UpsertBatch(ctx context.Context, orders []domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, orders...)
	for _, o := range orders {
		s.raw[o.ID] = o.RawData
	}
	return nil
}

func (s *fakeOrderStore) CancelReplacement(ctx context.Context, replacedID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, [2]string{replacedID, newID})
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

type fakeTokenSetStore struct {
	mu    sync.Mutex
	saved []domain.TokenSet
}

func (s *fakeTokenSetStore) Save(ctx context.Context, sets []domain.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, sets...)
	return nil
}

func (s *fakeTokenSetStore) GetByID(ctx context.Context, id string) (domain.TokenSet, error) {
	return domain.TokenSet{}, domain.ErrNotFound
}

type fakeFeeRecipientStore struct {
	recipients []domain.FeeRecipient
}

func (s *fakeFeeRecipientStore) List(ctx context.Context) ([]domain.FeeRecipient, error) {
	return s.recipients, nil
}

func (s *fakeFeeRecipientStore) Upsert(ctx context.Context, r domain.FeeRecipient) error {
	s.recipients = append(s.recipients, r)
	return nil
}

type fakeRoyaltyStore struct {
	defaults []domain.Royalty
}

func (s *fakeRoyaltyStore) DefaultRoyalties(ctx context.Context, contract string, tokenID *big.Int) ([]domain.Royalty, error) {
	return s.defaults, nil
}

func (s *fakeRoyaltyStore) DefaultRoyaltiesByTokenSet(ctx context.Context, tokenSetID string) ([]domain.Royalty, error) {
	return s.defaults, nil
}

type fakeSplitStore struct {
	mu     sync.Mutex
	splits map[string]domain.PaymentSplit
}

func newFakeSplitStore() *fakeSplitStore {
	return &fakeSplitStore{splits: make(map[string]domain.PaymentSplit)}
}

func (s *fakeSplitStore) Get(ctx context.Context, address string) (domain.PaymentSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.splits[strings.ToLower(address)]
	if !ok {
		return domain.PaymentSplit{}, domain.ErrNotFound
	}
	return sp, nil
}

func (s *fakeSplitStore) Save(ctx context.Context, sp domain.PaymentSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits[strings.ToLower(sp.Address)] = sp
	return nil
}

func (s *fakeSplitStore) SetDeployed(ctx context.Context, address string) error { return nil }
func (s *fakeSplitStore) UpdateBalance(ctx context.Context, address, currency string, balance *big.Int) error {
	return nil
}
func (s *fakeSplitStore) Currencies(ctx context.Context, address string) ([]string, error) {
	return nil, nil
}
func (s *fakeSplitStore) List(ctx context.Context) ([]domain.PaymentSplit, error) { return nil, nil }

type fakeChecker struct {
	err error
}

func (c *fakeChecker) Check(ctx context.Context, ord protocol.Order, conduit string) error {
	return c.err
}

type fakeFilter struct {
	filtered bool
}

func (f *fakeFilter) OperatorFiltered(ctx context.Context, contract string, operators []string) (bool, error) {
	return f.filtered, nil
}

type fakeSecurityCfg struct {
	validator string
}

func (s *fakeSecurityCfg) TransferValidator(ctx context.Context, contract string) (string, error) {
	if s.validator == "" {
		return "", domain.ErrNotFound
	}
	return s.validator, nil
}

type fakeVerifier struct{}

func (fakeVerifier) VerifyHash(ctx context.Context, signer string, digest, signature []byte) error {
	return nil
}

type fakeTopBids struct {
	topBid   *big.Int
	floorAsk *big.Int
}

func (c *fakeTopBids) CollectionTopBid(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	if c.topBid == nil {
		return nil, domain.ErrNotFound
	}
	return c.topBid, nil
}

func (c *fakeTopBids) CollectionFloorAsk(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	if c.floorAsk == nil {
		return nil, domain.ErrNotFound
	}
	return c.floorAsk, nil
}

type enqueued struct {
	job   domain.Job
	delay time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *fakeQueue) Enqueue(ctx context.Context, job domain.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{job: job, delay: delay})
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, kind string, max int) ([]domain.Job, error) {
	return nil, nil
}

func (q *fakeQueue) byKind(kind string) []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []enqueued
	for _, e := range q.jobs {
		if e.job.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeRelay struct {
	mu       sync.Mutex
	appended []string
}

func (r *fakeRelay) Append(ctx context.Context, kind, id string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, id)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	published [][]byte
}

func (e *fakeEvents) Publish(ctx context.Context, stream string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, payload)
	return nil
}

func (e *fakeEvents) Read(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeSourceStore struct {
	sources []domain.Source
	next    int64
}

func (s *fakeSourceStore) List(ctx context.Context) ([]domain.Source, error) {
	return s.sources, nil
}

func (s *fakeSourceStore) GetOrInsert(ctx context.Context, dom string) (domain.Source, error) {
	for _, src := range s.sources {
		if src.Domain == dom {
			return src, nil
		}
	}
	s.next++
	src := domain.Source{ID: 100 + s.next, Domain: dom}
	s.sources = append(s.sources, src)
	return src, nil
}

type fakeAPIKeyStore struct {
	keys map[string]domain.APIKey
}

func (s *fakeAPIKeyStore) Get(ctx context.Context, key string) (domain.APIKey, error) {
	k, ok := s.keys[key]
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *fakeAPIKeyStore) List(ctx context.Context) ([]domain.APIKey, error) { return nil, nil }

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

const (
	testContract = "0x1111111111111111111111111111111111111111"
	testMaker    = "0x2222222222222222222222222222222222222222"
	testWETH     = "0x3333333333333333333333333333333333333333"
	platformAddr = "0x4444444444444444444444444444444444444444"
)

type env struct {
	pipeline *Pipeline
	proto    *fakeProtocol
	orders   *fakeOrderStore
	tokens   *fakeTokenSetStore
	queue    *fakeQueue
	relay    *fakeRelay
	events   *fakeEvents

	checker    *fakeChecker
	topBids    *fakeTopBids
	royalties  *fakeRoyaltyStore
	recipients *fakeFeeRecipientStore
	splitStore *fakeSplitStore
	apiKeys    *fakeAPIKeyStore
	sources    *fakeSourceStore

	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		proto:      &fakeProtocol{orders: make(map[string]*fakeOrder)},
		orders:     newFakeOrderStore(),
		tokens:     &fakeTokenSetStore{},
		queue:      &fakeQueue{},
		relay:      &fakeRelay{},
		events:     &fakeEvents{},
		checker:    &fakeChecker{},
		topBids:    &fakeTopBids{},
		royalties:  &fakeRoyaltyStore{},
		recipients: &fakeFeeRecipientStore{},
		splitStore: newFakeSplitStore(),
		apiKeys:    &fakeAPIKeyStore{keys: make(map[string]domain.APIKey)},
		sources:    &fakeSourceStore{},
		now:        time.Unix(1_700_000_000, 0),
	}

	splits := split.NewGenerator(split.Config{
		Deployer:     "0x5555555555555555555555555555555555555555",
		InitCodeHash: "0x69b9b787acd5ca327b10d4a54112b7c14671a0ec5bbb01e57d475eed26e5b1b0",
	}, e.splitStore)

	fees := NewFeeEngine(registry.NewFeeRecipients(e.recipients), e.royalties, splits, platformAddr)
	currency := NewCurrencyNormalizer(nopOracle{}, nopCurrencies{}, testWETH)

	p := New(Deps{
		Protocols:   protocol.NewRegistry(e.proto),
		Orders:      e.orders,
		TokenSets:   e.tokens,
		Fees:        fees,
		Currency:    currency,
		Checker:     e.checker,
		Verifier:    fakeVerifier{},
		Filter:      &fakeFilter{},
		SecurityCfg: &fakeSecurityCfg{},
		TopBids:     e.topBids,
		Queue:       e.queue,
		Relay:       e.relay,
		Events:      e.events,
		Sources:     registry.NewSources(e.sources),
		APIKeys:     registry.NewAPIKeys(e.apiKeys),
		SupportedBidCurrencies: map[string]bool{
			testWETH: true,
		},
		Logger: slog.Default(),
	})
	p.now = func() time.Time { return e.now }
	e.pipeline = p
	return e
}

// nopOracle fails every quote; tests covering conversions use non-native
// currencies explicitly.
type nopOracle struct{}

func (nopOracle) Quote(ctx context.Context, currency string, amount *big.Int, timestamp int64) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, errors.New("no quote")
}

type nopCurrencies struct{}

func (nopCurrencies) Get(ctx context.Context, contract string) (domain.Currency, error) {
	return domain.Currency{Contract: contract, Decimals: 18}, nil
}

func orderHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

// addOrder registers a valid public sell listing with the fake protocol and
// returns it for per-test tweaking.
func (e *env) addOrder(n int) *fakeOrder {
	ord := &fakeOrder{
		hash:    orderHash(n),
		maker:   testMaker,
		salt:    "0x1",
		counter: "0",
		start:   e.now.Unix() - 60,
		end:     e.now.Unix() + 3600,
		info: &protocol.Info{
			Side:          domain.SideSell,
			Contract:      testContract,
			TokenStandard: protocol.StandardERC721,
			TokenKind:     domain.TokenSetSingleToken,
			TokenID:       big.NewInt(int64(n)),
			PaymentToken:  domain.ZeroAddress,
			Amount:        big.NewInt(1),
			Price:         big.NewInt(1_000_000),
			Taker:         domain.ZeroAddress,
		},
	}
	e.proto.orders[ord.hash] = ord
	return ord
}

func (e *env) save(t *testing.T, opts SaveOptions, hashes ...string) []domain.SaveResult {
	t.Helper()
	infos := make([]OrderInfo, 0, len(hashes))
	for _, h := range hashes {
		infos = append(infos, OrderInfo{
			Kind: fakeKind,
			Raw:  json.RawMessage(`{"id":"` + h + `"}`),
		})
	}
	results, err := e.pipeline.Save(context.Background(), infos, opts)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return results
}

func (e *env) saveOne(t *testing.T, hash string) domain.SaveResult {
	t.Helper()
	results := e.save(t, SaveOptions{}, hash)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSaveSellOrderSuccess(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if res.Unfillable {
		t.Fatal("order should be fillable")
	}
	if res.ID != ord.hash {
		t.Errorf("result id = %s, want %s", res.ID, ord.hash)
	}

	if len(e.orders.upserted) != 1 {
		t.Fatalf("expected 1 persisted order, got %d", len(e.orders.upserted))
	}
	o := e.orders.upserted[0]
	if o.Side != domain.SideSell {
		t.Errorf("side = %s", o.Side)
	}
	if o.FillabilityStatus != domain.FillabilityFillable || o.ApprovalStatus != domain.ApprovalApproved {
		t.Errorf("statuses = %s/%s", o.FillabilityStatus, o.ApprovalStatus)
	}
	// Sellers quote gross: value equals price, and with no missing royalties
	// the normalized value matches too.
	if o.Price.Cmp(big.NewInt(1_000_000)) != 0 ||
		o.Value.Cmp(o.Price) != 0 ||
		o.NormalizedValue.Cmp(o.Price) != 0 {
		t.Errorf("economics = %s/%s/%s", o.Price, o.Value, o.NormalizedValue)
	}
	if o.NeedsConversion {
		t.Error("native currency should not need conversion")
	}
	if want := domain.SingleTokenSetID(testContract, big.NewInt(1)); o.TokenSetID != want {
		t.Errorf("token set = %s, want %s", o.TokenSetID, want)
	}
	if len(e.tokens.saved) != 1 {
		t.Errorf("expected token set save, got %d", len(e.tokens.saved))
	}

	// Fillable public order fires the downstream trigger, the event stream
	// and the audit relay.
	if got := e.queue.byKind(JobKindOrderUpdates); len(got) != 1 {
		t.Errorf("expected 1 order-updates job, got %d", len(got))
	}
	if len(e.events.published) != 1 {
		t.Errorf("expected 1 published event, got %d", len(e.events.published))
	}
	if len(e.relay.appended) != 1 || e.relay.appended[0] != ord.hash {
		t.Errorf("relay appends = %v", e.relay.appended)
	}
}

func TestSaveStatuses(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *env, ord *fakeOrder)
		want  domain.SaveStatus
	}{
		{
			name: "already exists",
			setup: func(e *env, ord *fakeOrder) {
				e.orders.raw[ord.hash] = json.RawMessage(`{}`)
			},
			want: domain.SaveStatusAlreadyExists,
		},
		{
			name: "zero price",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.Price = big.NewInt(0)
			},
			want: domain.SaveStatusZeroPrice,
		},
		{
			name: "start time too far out",
			setup: func(e *env, ord *fakeOrder) {
				ord.start = e.now.Add(8 * 24 * time.Hour).Unix()
			},
			want: domain.SaveStatusInvalidStartTime,
		},
		{
			name: "expired",
			setup: func(e *env, ord *fakeOrder) {
				ord.start = e.now.Unix() - 7200
				ord.end = e.now.Unix() - 3600
			},
			want: domain.SaveStatusExpired,
		},
		{
			name: "unsupported bid currency",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.Side = domain.SideBuy
				ord.info.PaymentToken = "0x9999999999999999999999999999999999999999"
			},
			want: domain.SaveStatusUnsupportedPaymentToken,
		},
		{
			name: "multi-unit without partial fill support",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.Amount = big.NewInt(5)
				ord.partial = false
			},
			want: domain.SaveStatusNotPartiallyFillable,
		},
		{
			name: "zone-gated order outside cancellation zone",
			setup: func(e *env, ord *fakeOrder) {
				e.proto.cancellationZone = "0x7777777777777777777777777777777777777777"
				ord.zoneGated = true
				ord.zone = "0x8888888888888888888888888888888888888888"
			},
			want: domain.SaveStatusUnsupportedZone,
		},
		{
			name: "protocol-level validity failure",
			setup: func(e *env, ord *fakeOrder) {
				ord.validityErr = errors.New("bad counter")
			},
			want: domain.SaveStatusInvalid,
		},
		{
			name: "invalid signature",
			setup: func(e *env, ord *fakeOrder) {
				ord.sig = "0xdead"
				ord.sigErr = errors.New("recovered wrong signer")
			},
			want: domain.SaveStatusInvalidSignature,
		},
		{
			name: "unclassified fillability failure",
			setup: func(e *env, ord *fakeOrder) {
				e.checker.err = errors.New("order already filled")
			},
			want: domain.SaveStatusNotFillable,
		},
		{
			name: "single-token set without token id",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.TokenID = nil
			},
			want: domain.SaveStatusInvalidTokenSet,
		},
		{
			name: "fees exceed the price",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.Fees = []protocol.Fee{
					{Recipient: platformAddr, Amount: big.NewInt(1_100_000)},
				}
			},
			want: domain.SaveStatusFeesTooHigh,
		},
		{
			name: "bid value goes negative after fees",
			setup: func(e *env, ord *fakeOrder) {
				ord.info.Side = domain.SideBuy
				ord.info.PaymentToken = testWETH
				ord.info.Fees = []protocol.Fee{
					{Recipient: platformAddr, Amount: big.NewInt(999_999)},
					{Recipient: testMaker, Amount: big.NewInt(2)},
				}
			},
			want: domain.SaveStatusNegativePrice,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ord := e.addOrder(i + 1)
			tt.setup(e, ord)

			res := e.saveOne(t, ord.hash)
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s", res.Status, tt.want)
			}
			if len(e.orders.upserted) != 0 {
				t.Errorf("rejected order must not persist, got %d rows", len(e.orders.upserted))
			}
		})
	}
}

func TestSaveUnknownKindIsInvalidFormat(t *testing.T) {
	e := newEnv(t)

	results, err := e.pipeline.Save(context.Background(), []OrderInfo{
		{Kind: "no-such-protocol", Raw: json.RawMessage(`{}`)},
	}, SaveOptions{})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(results) != 1 || results[0].Status != domain.SaveStatusInvalidFormat {
		t.Fatalf("results = %+v, want invalid-format", results)
	}
}

func TestSaveDelaysFutureOrder(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.start = e.now.Add(time.Hour).Unix()

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusDelayed {
		t.Fatalf("status = %s, want delayed", res.Status)
	}
	wantDelay := time.Hour + 5*time.Second
	if res.Delay != wantDelay {
		t.Errorf("delay = %s, want %s", res.Delay, wantDelay)
	}

	// The order re-enters validation through a delayed queue job.
	jobs := e.queue.byKind(JobKindValidateOrder)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 rescheduled job, got %d", len(jobs))
	}
	if jobs[0].delay != wantDelay {
		t.Errorf("job delay = %s, want %s", jobs[0].delay, wantDelay)
	}
	var vj validateOrderJob
	if err := json.Unmarshal(jobs[0].job.Payload, &vj); err != nil {
		t.Fatalf("unmarshal rescheduled job: %v", err)
	}
	if vj.Order.Kind != fakeKind {
		t.Errorf("rescheduled kind = %s", vj.Order.Kind)
	}
}

func TestSaveZeroSignatureIsCleared(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.sig = "0x" + strings.Repeat("0", 130)
	ord.sigErr = errors.New("must not be called")

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if !ord.sigCleared {
		t.Error("all-zero signature should have been cleared, not verified")
	}
}

func TestSaveUnfillableClassification(t *testing.T) {
	tests := []struct {
		name            string
		checkErr        error
		wantFillability domain.FillabilityStatus
		wantApproval    domain.ApprovalStatus
	}{
		{"no balance", domain.ErrNoBalance, domain.FillabilityNoBalance, domain.ApprovalApproved},
		{"no approval", domain.ErrNoApproval, domain.FillabilityFillable, domain.ApprovalNoApproval},
		{"neither", domain.ErrNoBalanceNoApproval, domain.FillabilityNoBalance, domain.ApprovalNoApproval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ord := e.addOrder(1)
			e.checker.err = tt.checkErr

			res := e.saveOne(t, ord.hash)
			if res.Status != domain.SaveStatusSuccess {
				t.Fatalf("status = %s, want success", res.Status)
			}
			if !res.Unfillable {
				t.Error("order missing balance/approval must be unfillable")
			}
			if len(e.orders.upserted) != 1 {
				t.Fatal("order should still persist")
			}
			o := e.orders.upserted[0]
			if o.FillabilityStatus != tt.wantFillability || o.ApprovalStatus != tt.wantApproval {
				t.Errorf("statuses = %s/%s, want %s/%s",
					o.FillabilityStatus, o.ApprovalStatus, tt.wantFillability, tt.wantApproval)
			}
			// Unfillable orders never fire downstream triggers.
			if got := e.queue.byKind(JobKindOrderUpdates); len(got) != 0 {
				t.Errorf("unexpected order-updates jobs: %d", len(got))
			}
		})
	}
}

func TestSavePrivateOrderIsUnfillable(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.info.Taker = "0x6666666666666666666666666666666666666666"

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess || !res.Unfillable {
		t.Fatalf("result = %+v, want success+unfillable", res)
	}
}

func TestSaveMissingRoyalties(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	e.royalties.defaults = []domain.Royalty{
		{Recipient: "0xAAA0000000000000000000000000000000000AAA", Bps: 500},
	}

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}

	o := e.orders.upserted[0]
	if len(o.MissingRoyalties) != 1 {
		t.Fatalf("missing royalties = %+v", o.MissingRoyalties)
	}
	mr := o.MissingRoyalties[0]
	if mr.Bps != 500 {
		t.Errorf("missing bps = %d, want 500", mr.Bps)
	}
	if mr.Amount != "50000" { // 5% of 1,000,000
		t.Errorf("missing amount = %s, want 50000", mr.Amount)
	}
	// A listing's normalized value prices in the top-up the seller nets.
	want := big.NewInt(1_050_000)
	if o.NormalizedValue.Cmp(want) != 0 {
		t.Errorf("normalized value = %s, want %s", o.NormalizedValue, want)
	}
}

func TestSaveMissingRoyaltiesProRataFloor(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.info.Price = big.NewInt(10_000)
	// Built-in royalty of 100 bps against a 250+250 default: 400 bps
	// shortfall split pro-rata, floor division.
	ord.info.Fees = []protocol.Fee{
		{Recipient: "0xCCC0000000000000000000000000000000000CCC", Amount: big.NewInt(100)},
	}
	e.royalties.defaults = []domain.Royalty{
		{Recipient: "0xAAA0000000000000000000000000000000000AAA", Bps: 250},
		{Recipient: "0xBBB0000000000000000000000000000000000BBB", Bps: 250},
	}

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	o := e.orders.upserted[0]
	if len(o.MissingRoyalties) != 2 {
		t.Fatalf("missing royalties = %+v", o.MissingRoyalties)
	}
	for _, mr := range o.MissingRoyalties {
		if mr.Bps != 200 {
			t.Errorf("missing bps = %d, want 200", mr.Bps)
		}
		if mr.Amount != "200" {
			t.Errorf("missing amount = %s, want 200", mr.Amount)
		}
	}
}

func TestSaveBuyOrderEconomics(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.info.Side = domain.SideBuy
	ord.info.PaymentToken = testWETH
	ord.info.Fees = []protocol.Fee{
		{Recipient: platformAddr, Amount: big.NewInt(50_000)},
	}

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	o := e.orders.upserted[0]
	// The bidder pays fees out of the offer: the seller nets price minus
	// fees.
	if o.Price.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("price = %s", o.Price)
	}
	if o.Value.Cmp(big.NewInt(950_000)) != 0 {
		t.Errorf("value = %s, want 950000", o.Value)
	}
}

func TestSavePerUnitEconomics(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.info.Amount = big.NewInt(4)
	ord.partial = true
	ord.info.Price = big.NewInt(1_000_000)

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	o := e.orders.upserted[0]
	if o.Price.Cmp(big.NewInt(250_000)) != 0 {
		t.Errorf("per-unit price = %s, want 250000", o.Price)
	}
	if o.QuantityRemaining.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("quantity = %s, want 4", o.QuantityRemaining)
	}
}

func TestSaveDynamicOrderPricesAtMatchingPrice(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	// A descending listing partway through its decay: the start amount is
	// 1,000,000 but the order currently matches at 750,000.
	ord.info.IsDynamic = true
	ord.matching = big.NewInt(750_000)
	e.royalties.defaults = []domain.Royalty{
		{Recipient: "0xAAA0000000000000000000000000000000000AAA", Bps: 100},
	}

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if ord.matchedAt != e.now.Unix() {
		t.Errorf("matched at %d, want %d", ord.matchedAt, e.now.Unix())
	}

	o := e.orders.upserted[0]
	if !o.Dynamic {
		t.Error("order should persist as dynamic")
	}
	if o.Price.Cmp(big.NewInt(750_000)) != 0 || o.Value.Cmp(big.NewInt(750_000)) != 0 {
		t.Errorf("economics = %s/%s, want 750000/750000", o.Price, o.Value)
	}
	// Royalty top-ups derive from the matching price too: 1% of 750,000.
	if len(o.MissingRoyalties) != 1 || o.MissingRoyalties[0].Amount != "7500" {
		t.Errorf("missing royalties = %+v, want one 7500 top-up", o.MissingRoyalties)
	}
	if want := big.NewInt(757_500); o.NormalizedValue.Cmp(want) != 0 {
		t.Errorf("normalized value = %s, want %s", o.NormalizedValue, want)
	}
}

func TestSaveDynamicOrderDecayedToZero(t *testing.T) {
	e := newEnv(t)
	ord := e.addOrder(1)
	ord.info.IsDynamic = true
	ord.matching = big.NewInt(0)

	res := e.saveOne(t, ord.hash)
	if res.Status != domain.SaveStatusZeroPrice {
		t.Errorf("status = %s, want zero-price", res.Status)
	}
	if len(e.orders.upserted) != 0 {
		t.Errorf("rejected order must not persist, got %d rows", len(e.orders.upserted))
	}
}

func TestSaveBidTooLow(t *testing.T) {
	bid := func(e *env, n int) *fakeOrder {
		ord := e.addOrder(n)
		ord.info.Side = domain.SideBuy
		ord.info.PaymentToken = testWETH
		return ord
	}

	t.Run("below cached top bid", func(t *testing.T) {
		e := newEnv(t)
		ord := bid(e, 1)
		e.topBids.topBid = big.NewInt(2_000_000)

		results := e.save(t, SaveOptions{ValidateBidValue: true}, ord.hash)
		if results[0].Status != domain.SaveStatusBidTooLow {
			t.Errorf("status = %s, want bid-too-low", results[0].Status)
		}
	})

	t.Run("below 80 percent of floor ask", func(t *testing.T) {
		e := newEnv(t)
		ord := bid(e, 1)
		// 80% of 2,000,000 = 1,600,000 > the 1,000,000 bid.
		e.topBids.floorAsk = big.NewInt(2_000_000)

		results := e.save(t, SaveOptions{ValidateBidValue: true}, ord.hash)
		if results[0].Status != domain.SaveStatusBidTooLow {
			t.Errorf("status = %s, want bid-too-low", results[0].Status)
		}
	})

	t.Run("no cached values passes", func(t *testing.T) {
		e := newEnv(t)
		ord := bid(e, 1)

		results := e.save(t, SaveOptions{ValidateBidValue: true}, ord.hash)
		if results[0].Status != domain.SaveStatusSuccess {
			t.Errorf("status = %s, want success", results[0].Status)
		}
	})

	t.Run("validation disabled passes", func(t *testing.T) {
		e := newEnv(t)
		ord := bid(e, 1)
		e.topBids.topBid = big.NewInt(2_000_000)

		results := e.save(t, SaveOptions{}, ord.hash)
		if results[0].Status != domain.SaveStatusSuccess {
			t.Errorf("status = %s, want success", results[0].Status)
		}
	})
}

func TestSaveOrderbookFee(t *testing.T) {
	const keyID = "client-key"

	setup := func(e *env) {
		e.apiKeys.keys[keyID] = domain.APIKey{Key: keyID, AppName: "client", OrderbookFeeBps: 250}
		e.recipients.recipients = []domain.FeeRecipient{
			{Address: platformAddr, Kind: domain.FeeKindMarketplace},
		}
	}

	saveWithKey := func(t *testing.T, e *env, hash string) domain.SaveResult {
		t.Helper()
		results, err := e.pipeline.Save(context.Background(), []OrderInfo{{
			Kind:     fakeKind,
			Raw:      json.RawMessage(`{"id":"` + hash + `"}`),
			Metadata: Metadata{APIKey: keyID},
		}}, SaveOptions{})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		return results[0]
	}

	t.Run("missing", func(t *testing.T) {
		e := newEnv(t)
		setup(e)
		ord := e.addOrder(1)

		if res := saveWithKey(t, e, ord.hash); res.Status != domain.SaveStatusMissingOrderbookFee {
			t.Errorf("status = %s, want missing-orderbook-fee", res.Status)
		}
	})

	t.Run("wrong bps", func(t *testing.T) {
		e := newEnv(t)
		setup(e)
		ord := e.addOrder(1)
		ord.info.Fees = []protocol.Fee{
			{Recipient: platformAddr, Amount: big.NewInt(10_000)}, // 100 bps, not 250
		}

		if res := saveWithKey(t, e, ord.hash); res.Status != domain.SaveStatusInvalidFee {
			t.Errorf("status = %s, want invalid-fee", res.Status)
		}
	})

	t.Run("exact", func(t *testing.T) {
		e := newEnv(t)
		setup(e)
		ord := e.addOrder(1)
		ord.info.Fees = []protocol.Fee{
			{Recipient: platformAddr, Amount: big.NewInt(25_000)}, // 250 bps
		}

		if res := saveWithKey(t, e, ord.hash); res.Status != domain.SaveStatusSuccess {
			t.Errorf("status = %s, want success", res.Status)
		}
	})

	t.Run("unknown key intakes without fee", func(t *testing.T) {
		e := newEnv(t)
		ord := e.addOrder(1)

		results, err := e.pipeline.Save(context.Background(), []OrderInfo{{
			Kind:     fakeKind,
			Raw:      json.RawMessage(`{"id":"` + ord.hash + `"}`),
			Metadata: Metadata{APIKey: "never-registered"},
		}}, SaveOptions{})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if results[0].Status != domain.SaveStatusSuccess {
			t.Errorf("status = %s, want success", results[0].Status)
		}
	})
}

func TestSaveReplacement(t *testing.T) {
	const zone = "0x7777777777777777777777777777777777777777"

	e := newEnv(t)
	e.proto.cancellationZone = zone

	pred := e.addOrder(1)
	pred.zone = zone
	if res := e.saveOne(t, pred.hash); res.Status != domain.SaveStatusSuccess {
		t.Fatalf("predecessor status = %s", res.Status)
	}

	repl := e.addOrder(2)
	repl.zone = zone
	repl.salt = pred.hash
	if res := e.saveOne(t, repl.hash); res.Status != domain.SaveStatusSuccess {
		t.Fatalf("replacement status = %s", res.Status)
	}

	if len(e.orders.canceled) != 1 {
		t.Fatalf("cancellations = %v", e.orders.canceled)
	}
	if e.orders.canceled[0] != [2]string{pred.hash, repl.hash} {
		t.Errorf("cancellation = %v, want [%s %s]", e.orders.canceled[0], pred.hash, repl.hash)
	}
}

func TestSaveReplacementRequiresSameMaker(t *testing.T) {
	const zone = "0x7777777777777777777777777777777777777777"

	e := newEnv(t)
	e.proto.cancellationZone = zone

	pred := e.addOrder(1)
	pred.zone = zone
	e.saveOne(t, pred.hash)

	repl := e.addOrder(2)
	repl.zone = zone
	repl.salt = pred.hash
	repl.maker = "0x9999999999999999999999999999999999999999"
	if res := e.saveOne(t, repl.hash); res.Status != domain.SaveStatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}

	if len(e.orders.canceled) != 0 {
		t.Errorf("cross-maker replacement must not cancel, got %v", e.orders.canceled)
	}
}

func TestSaveSourceAttribution(t *testing.T) {
	t.Run("explicit source", func(t *testing.T) {
		e := newEnv(t)
		e.sources.sources = []domain.Source{
			{ID: 7, Domain: "market.example", DomainHash: "0xdeadbeef"},
		}
		ord := e.addOrder(1)

		results, err := e.pipeline.Save(context.Background(), []OrderInfo{{
			Kind:     fakeKind,
			Raw:      json.RawMessage(`{"id":"` + ord.hash + `"}`),
			Metadata: Metadata{Source: "market.example"},
		}}, SaveOptions{})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if results[0].Status != domain.SaveStatusSuccess {
			t.Fatalf("status = %s", results[0].Status)
		}
		o := e.orders.upserted[0]
		if o.SourceID == nil || *o.SourceID != 7 {
			t.Errorf("source id = %v, want 7", o.SourceID)
		}
	})

	t.Run("salt prefix", func(t *testing.T) {
		e := newEnv(t)
		e.sources.sources = []domain.Source{
			{ID: 9, Domain: "market.example", DomainHash: "0xdeadbeef"},
		}
		ord := e.addOrder(1)
		ord.salt = "0xdeadbeef" + strings.Repeat("0", 56)

		if res := e.saveOne(t, ord.hash); res.Status != domain.SaveStatusSuccess {
			t.Fatalf("status = %s", res.Status)
		}
		o := e.orders.upserted[0]
		if o.SourceID == nil || *o.SourceID != 9 {
			t.Errorf("source id = %v, want 9", o.SourceID)
		}
	})

	t.Run("decimal salt", func(t *testing.T) {
		e := newEnv(t)
		e.sources.sources = []domain.Source{
			{ID: 11, Domain: "market.example", DomainHash: "0xdeadbeef"},
		}
		ord := e.addOrder(1)
		// 956397711104 is 0xdeadbeef00; the prefix only surfaces after the
		// salt is normalized to hex.
		ord.salt = "956397711104"

		if res := e.saveOne(t, ord.hash); res.Status != domain.SaveStatusSuccess {
			t.Fatalf("status = %s", res.Status)
		}
		o := e.orders.upserted[0]
		if o.SourceID == nil || *o.SourceID != 11 {
			t.Errorf("source id = %v, want 11", o.SourceID)
		}
	})

	t.Run("short hex salt", func(t *testing.T) {
		e := newEnv(t)
		e.sources.sources = []domain.Source{
			{ID: 13, Domain: "market.example", DomainHash: "0xab12"},
		}
		ord := e.addOrder(1)
		ord.salt = "0xab12"

		if res := e.saveOne(t, ord.hash); res.Status != domain.SaveStatusSuccess {
			t.Fatalf("status = %s", res.Status)
		}
		o := e.orders.upserted[0]
		if o.SourceID == nil || *o.SourceID != 13 {
			t.Errorf("source id = %v, want 13", o.SourceID)
		}
	})

	t.Run("unattributed", func(t *testing.T) {
		e := newEnv(t)
		ord := e.addOrder(1)

		if res := e.saveOne(t, ord.hash); res.Status != domain.SaveStatusSuccess {
			t.Fatalf("status = %s", res.Status)
		}
		if e.orders.upserted[0].SourceID != nil {
			t.Errorf("source id = %v, want nil", e.orders.upserted[0].SourceID)
		}
	})
}

func TestSaveBatchMixedOutcomes(t *testing.T) {
	e := newEnv(t)

	good := e.addOrder(1)
	expired := e.addOrder(2)
	expired.start = e.now.Unix() - 7200
	expired.end = e.now.Unix() - 3600
	dup := e.addOrder(3)
	e.orders.raw[dup.hash] = json.RawMessage(`{}`)

	results := e.save(t, SaveOptions{}, good.hash, expired.hash, dup.hash)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byID := make(map[string]domain.SaveStatus, len(results))
	for _, r := range results {
		byID[r.ID] = r.Status
	}
	if byID[good.hash] != domain.SaveStatusSuccess {
		t.Errorf("good = %s", byID[good.hash])
	}
	if byID[expired.hash] != domain.SaveStatusExpired {
		t.Errorf("expired = %s", byID[expired.hash])
	}
	if byID[dup.hash] != domain.SaveStatusAlreadyExists {
		t.Errorf("dup = %s", byID[dup.hash])
	}
	if len(e.orders.upserted) != 1 {
		t.Errorf("persisted rows = %d, want 1", len(e.orders.upserted))
	}
}

func TestSaveConcurrentBatch(t *testing.T) {
	e := newEnv(t)

	hashes := make([]string, 0, 40)
	for i := 1; i <= 40; i++ {
		hashes = append(hashes, e.addOrder(i).hash)
	}

	results := e.save(t, SaveOptions{}, hashes...)
	if len(results) != 40 {
		t.Fatalf("expected 40 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != domain.SaveStatusSuccess {
			t.Errorf("order %s status = %s", r.ID, r.Status)
		}
	}
	if len(e.orders.upserted) != 40 {
		t.Errorf("persisted rows = %d, want 40", len(e.orders.upserted))
	}
}
