// Package ingest implements the order intake and normalization pipeline: it
// validates protocol-native signed orders against on-chain and off-chain
// state, normalizes their economic terms into the canonical order model, and
// persists them with at-most-once insertion semantics per order hash.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/protocol"
	"github.com/mintlake/orderflow/internal/registry"
)

const (
	// concurrencyLimit caps in-flight validations per batch to bound load on
	// the on-chain provider and price oracle.
	concurrencyLimit = 15

	// futureStartWindow is how far in the future an order may start before it
	// is rejected outright instead of delayed.
	futureStartWindow = 7 * 24 * time.Hour

	// delayEpsilon pads the re-validation schedule of a delayed order past
	// its start time.
	delayEpsilon = 5 * time.Second

	// bidFloorThresholdBps rejects bids below this share of the collection
	// floor ask when no top bid is cached.
	bidFloorThresholdBps = 8000
)

// Job kinds produced and consumed by the pipeline.
const (
	JobKindValidateOrder = "validate-order"
	JobKindOrderUpdates  = "order-updates"
	JobKindEnsureSplit   = "ensure-split"
)

// Metadata carries per-order ingestion context supplied by the intake
// surface.
type Metadata struct {
	Source            string `json:"source,omitempty"`
	APIKey            string `json:"apiKey,omitempty"`
	OriginatedOnChain bool   `json:"originatedOnChain,omitempty"`
	PermitID          string `json:"permitId,omitempty"`
	PermitIndex       int    `json:"permitIndex,omitempty"`

	OriginatedAt *time.Time `json:"originatedAt,omitempty"`
}

// OrderInfo is one raw order submitted for intake.
type OrderInfo struct {
	Kind     string          `json:"kind"`
	Raw      json.RawMessage `json:"raw"`
	Metadata Metadata        `json:"metadata"`
}

// SaveOptions tunes a pipeline invocation.
type SaveOptions struct {
	// ValidateBidValue enforces the minimum-bid-versus-floor heuristic on
	// single-token buy orders.
	ValidateBidValue bool
	IngestMethod     domain.IngestMethod
	IngestDelay      time.Duration
}

// FillabilityChecker classifies an order's live balance/approval state into
// the sentinel errors of the domain package.
type FillabilityChecker interface {
	Check(ctx context.Context, ord protocol.Order, conduit string) error
}

// OperatorFilter reports whether a settlement operator is blacklisted by the
// target contract's marketplace filter.
type OperatorFilter interface {
	OperatorFiltered(ctx context.Context, contract string, operators []string) (bool, error)
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Protocols *protocol.Registry
	Orders    domain.OrderStore
	TokenSets domain.TokenSetStore

	Fees     *FeeEngine
	Currency *CurrencyNormalizer

	Checker     FillabilityChecker
	Verifier    protocol.SignatureVerifier
	Filter      OperatorFilter
	SecurityCfg domain.SecurityConfigStore

	TopBids domain.TopBidCache
	Queue   domain.JobQueue
	Relay   domain.RelayStore
	Events  domain.EventBus

	Sources *registry.Sources
	APIKeys *registry.APIKeys

	// BlockedValidators pins contracts to a disallowed transfer-validator
	// configuration, making their orders filtered.
	BlockedValidators map[string]bool
	// SupportedBidCurrencies whitelists buy-side payment tokens.
	SupportedBidCurrencies map[string]bool

	Logger *slog.Logger
}

// Pipeline is the order intake pipeline. Safe for concurrent use.
type Pipeline struct {
	deps Deps
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		deps: deps,
		now:  time.Now,
	}
}

type processed struct {
	result     domain.SaveResult
	order      *domain.Order
	replacedID string
	rawData    json.RawMessage
}

// Save validates each order independently with bounded fan-out, persists all
// successes in one bulk conflict-tolerant insert, and fires downstream
// signals for fillable public orders. Per-order failures become SaveResult
// statuses; unexpected per-order errors are logged and the order is dropped
// from the results. Batch-level persistence errors propagate to the caller.
func (p *Pipeline) Save(ctx context.Context, infos []OrderInfo, opts SaveOptions) ([]domain.SaveResult, error) {
	var (
		mu  sync.Mutex
		out []processed
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrencyLimit)
	for i := range infos {
		info := infos[i]
		g.Go(func() error {
			res := p.processOne(gctx, info, opts)
			if res == nil {
				return nil
			}
			mu.Lock()
			out = append(out, *res)
			mu.Unlock()
			return nil
		})
	}
	// Per-order errors never propagate through the group.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var batch []domain.Order
	for _, pr := range out {
		if pr.order != nil {
			batch = append(batch, *pr.order)
		}
	}
	if len(batch) > 0 {
		if err := p.deps.Orders.UpsertBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("ingest: persist batch: %w", err)
		}
	}

	results := make([]domain.SaveResult, 0, len(out))
	for _, pr := range out {
		results = append(results, pr.result)

		if pr.replacedID != "" {
			if err := p.deps.Orders.CancelReplacement(ctx, pr.replacedID, pr.result.ID); err != nil {
				p.deps.Logger.Error("replacement cancellation failed",
					"order", pr.result.ID, "replaced", pr.replacedID, "error", err)
			}
		}

		if pr.result.Status == domain.SaveStatusSuccess && !pr.result.Unfillable {
			p.signal(ctx, pr)
		}
	}
	return results, nil
}

// signal fires the downstream order-update trigger and mirrors the raw
// payload to the audit relay. Failures are logged for re-drive, never
// propagated: persistence has already committed.
func (p *Pipeline) signal(ctx context.Context, pr processed) {
	payload, err := json.Marshal(map[string]string{
		"kind": "new-order",
		"id":   pr.result.ID,
	})
	if err == nil {
		job := domain.Job{ID: uuid.New().String(), Kind: JobKindOrderUpdates, Payload: payload}
		if err := p.deps.Queue.Enqueue(ctx, job, 0); err != nil {
			p.deps.Logger.Error("order-update enqueue failed", "order", pr.result.ID, "error", err)
		}
		if err := p.deps.Events.Publish(ctx, "events:orders", payload); err != nil {
			p.deps.Logger.Error("order event publish failed", "order", pr.result.ID, "error", err)
		}
	}

	if pr.order != nil {
		if err := p.deps.Relay.Append(ctx, pr.order.Kind, pr.result.ID, pr.rawData); err != nil {
			p.deps.Logger.Error("relay append failed", "order", pr.result.ID, "error", err)
		}
	}
}

// processOne runs the full validation sequence for a single order. A nil
// return means an unexpected error occurred and the order is dropped from the
// batch so the caller may re-submit it.
func (p *Pipeline) processOne(ctx context.Context, info OrderInfo, opts SaveOptions) (pr *processed) {
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Warn("order validation panicked", "kind", info.Kind, "panic", r)
			pr = nil
		}
	}()

	res, err := p.validate(ctx, info, opts)
	if err != nil {
		p.deps.Logger.Warn("order validation failed unexpectedly",
			"kind", info.Kind, "error", err)
		return nil
	}
	return res
}

func (p *Pipeline) validate(ctx context.Context, info OrderInfo, opts SaveOptions) (*processed, error) {
	now := p.now().Unix()

	proto, err := p.deps.Protocols.Get(info.Kind)
	if err != nil {
		return &processed{result: domain.SaveResult{Status: domain.SaveStatusInvalidFormat}}, nil
	}

	ord, err := proto.Decode(info.Raw)
	if err != nil {
		return &processed{result: domain.SaveResult{Status: domain.SaveStatusInvalidFormat}}, nil
	}
	if info.Metadata.PermitID != "" {
		if pa, ok := ord.(interface{ SetPermit(string, int) }); ok {
			pa.SetPermit(info.Metadata.PermitID, info.Metadata.PermitIndex)
		}
	}

	id := ord.Hash()
	fail := func(status domain.SaveStatus) (*processed, error) {
		return &processed{result: domain.SaveResult{ID: id, Status: status}}, nil
	}

	oi, err := ord.Info()
	if err != nil {
		return fail(domain.SaveStatusInvalidFormat)
	}

	raw, err := ord.Raw()
	if err != nil {
		return fail(domain.SaveStatusInvalidFormat)
	}

	// Idempotency check doubles as raw-data backfill for placeholder rows.
	exists, err := p.deps.Orders.LockRawData(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	if exists {
		return fail(domain.SaveStatusAlreadyExists)
	}

	if oi.Price == nil || oi.Price.Sign() <= 0 {
		return fail(domain.SaveStatusZeroPrice)
	}

	if st := ord.StartTime(); st > now {
		if st > now+int64(futureStartWindow.Seconds()) {
			return fail(domain.SaveStatusInvalidStartTime)
		}
		delay := time.Duration(st-now)*time.Second + delayEpsilon
		if err := p.reschedule(ctx, info, opts, delay); err != nil {
			return nil, err
		}
		return &processed{result: domain.SaveResult{
			ID:     id,
			Status: domain.SaveStatusDelayed,
			Delay:  delay,
		}}, nil
	}

	if et := ord.EndTime(); et != 0 && et <= now {
		return fail(domain.SaveStatusExpired)
	}

	// Dynamic orders price at the current point of their decay curve, not at
	// the start amount. Economics, fee bps and royalty top-ups all derive
	// from this price.
	if oi.IsDynamic {
		mp := ord.MatchingPrice(now)
		if mp == nil || mp.Sign() <= 0 {
			return fail(domain.SaveStatusZeroPrice)
		}
		oi.Price = mp
	}

	conduit, err := proto.DeriveConduit(ord.ConduitKey())
	if err != nil {
		return fail(domain.SaveStatusInvalid)
	}

	filtered, err := p.operatorFiltered(ctx, oi.Contract, conduit)
	if err != nil {
		return nil, err
	}
	if filtered {
		return fail(domain.SaveStatusFiltered)
	}

	if oi.Side == domain.SideBuy && !p.deps.SupportedBidCurrencies[strings.ToLower(oi.PaymentToken)] {
		return fail(domain.SaveStatusUnsupportedPaymentToken)
	}

	if oi.Amount != nil && oi.Amount.Cmp(big.NewInt(1)) > 0 && !ord.PartiallyFillable() {
		return fail(domain.SaveStatusNotPartiallyFillable)
	}

	if ord.ZoneGated() && !strings.EqualFold(ord.Zone(), proto.CancellationZone()) {
		return fail(domain.SaveStatusUnsupportedZone)
	}

	if err := ord.CheckValidity(); err != nil {
		return fail(domain.SaveStatusInvalid)
	}

	if !info.Metadata.OriginatedOnChain {
		if protocol.IsZeroSignature(ord.Signature()) {
			// All-zero bytes mean no signature was supplied.
			ord.ClearSignature()
		}
		if ord.Signature() != "" {
			if err := ord.CheckSignature(ctx, p.deps.Verifier); err != nil {
				return fail(domain.SaveStatusInvalidSignature)
			}
		}
	}

	fillability := domain.FillabilityFillable
	approval := domain.ApprovalApproved
	switch err := p.deps.Checker.Check(ctx, ord, conduit); {
	case err == nil:
	case errors.Is(err, domain.ErrNoBalance):
		fillability = domain.FillabilityNoBalance
	case errors.Is(err, domain.ErrNoApproval):
		approval = domain.ApprovalNoApproval
	case errors.Is(err, domain.ErrNoBalanceNoApproval):
		fillability = domain.FillabilityNoBalance
		approval = domain.ApprovalNoApproval
	default:
		return fail(domain.SaveStatusNotFillable)
	}

	tokenSet, ok := buildTokenSet(oi)
	if !ok {
		return fail(domain.SaveStatusInvalidTokenSet)
	}
	if err := p.deps.TokenSets.Save(ctx, []domain.TokenSet{tokenSet}); err != nil {
		return nil, err
	}

	breakdown, feeBps, err := p.deps.Fees.Breakdown(ctx, oi)
	if errors.Is(err, ErrFeesTooHigh) {
		return fail(domain.SaveStatusFeesTooHigh)
	}
	if err != nil {
		return nil, err
	}

	key, err := p.resolveAPIKey(ctx, info.Metadata.APIKey)
	if err != nil {
		return nil, err
	}
	switch err := p.deps.Fees.ValidateOrderbookFee(ctx, info.Kind, breakdown, key, proto.SingleFeeRecipient()); {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidFee):
		return fail(domain.SaveStatusInvalidFee)
	case errors.Is(err, domain.ErrMissingOrderbookFee):
		return fail(domain.SaveStatusMissingOrderbookFee)
	default:
		return nil, err
	}

	price, value := economics(oi)
	if value.Sign() < 0 {
		return fail(domain.SaveStatusNegativePrice)
	}

	switch err := p.deps.Currency.CheckCompatible(ctx, oi.PaymentToken); {
	case err == nil:
	case errors.Is(err, ErrIncompatibleCurrency):
		return fail(domain.SaveStatusIncompatibleCurrency)
	default:
		return nil, err
	}

	missing, missingAmount, err := p.deps.Fees.MissingRoyalties(ctx, oi, tokenSet.ID, breakdown, price)
	if err != nil {
		return nil, err
	}

	// The normalized value prices in the missing-royalty top-up: a seller
	// nets more, a bidder effectively offers less.
	normalizedValue := new(big.Int).Set(value)
	if oi.Side == domain.SideSell {
		normalizedValue.Add(normalizedValue, missingAmount)
	} else {
		normalizedValue.Sub(normalizedValue, missingAmount)
	}

	o := &domain.Order{
		ID:                      id,
		Kind:                    info.Kind,
		Side:                    oi.Side,
		FillabilityStatus:       fillability,
		ApprovalStatus:          approval,
		TokenSetID:              tokenSet.ID,
		TokenSetSchemaHash:      tokenSet.SchemaHash,
		Maker:                   ord.Maker(),
		Taker:                   strings.ToLower(oi.Taker),
		Currency:                strings.ToLower(oi.PaymentToken),
		CurrencyPrice:           price,
		CurrencyValue:           value,
		CurrencyNormalizedValue: normalizedValue,
		QuantityRemaining:       quantity(oi),
		ValidFrom:               ord.StartTime(),
		ValidUntil:              ord.EndTime(),
		Nonce:                   ord.Counter(),
		Contract:                strings.ToLower(oi.Contract),
		Conduit:                 conduit,
		FeeBps:                  feeBps,
		FeeBreakdown:            breakdown,
		MissingRoyalties:        missing,
		Dynamic:                 oi.IsDynamic,
		RawData:                 raw,
		OriginatedAt:            info.Metadata.OriginatedAt,
	}

	if err := p.deps.Currency.Normalize(ctx, o, now); err != nil {
		if errors.Is(err, ErrConvertPrice) {
			return fail(domain.SaveStatusFailedToConvertPrice)
		}
		return nil, err
	}

	if opts.ValidateBidValue && oi.Side == domain.SideBuy && tokenSet.Kind == domain.TokenSetSingleToken {
		low, err := p.bidTooLow(ctx, oi, o.NormalizedValue)
		if err != nil {
			return nil, err
		}
		if low {
			return fail(domain.SaveStatusBidTooLow)
		}
	}

	replacedID, err := p.replacement(ctx, proto, ord)
	if err != nil {
		return nil, err
	}

	sourceID, err := p.attributeSource(ctx, info.Metadata.Source, ord.Salt())
	if err != nil {
		return nil, err
	}
	o.SourceID = sourceID

	unfillable := fillability != domain.FillabilityFillable ||
		approval != domain.ApprovalApproved ||
		!o.Public()

	return &processed{
		result: domain.SaveResult{
			ID:         id,
			Status:     domain.SaveStatusSuccess,
			Unfillable: unfillable,
		},
		order:      o,
		replacedID: replacedID,
		rawData:    raw,
	}, nil
}

// reschedule re-enqueues the same validation to run once the order's start
// time has passed.
func (p *Pipeline) reschedule(ctx context.Context, info OrderInfo, opts SaveOptions, delay time.Duration) error {
	job, err := NewValidateOrderJob(info, opts)
	if err != nil {
		return fmt.Errorf("ingest: marshal delayed order: %w", err)
	}
	if err := p.deps.Queue.Enqueue(ctx, job, delay); err != nil {
		return fmt.Errorf("ingest: reschedule delayed order: %w", err)
	}
	return nil
}

func (p *Pipeline) operatorFiltered(ctx context.Context, contract, conduit string) (bool, error) {
	filtered, err := p.deps.Filter.OperatorFiltered(ctx, contract, []string{conduit})
	if err != nil {
		return false, err
	}
	if filtered {
		return true, nil
	}

	validator, err := p.deps.SecurityCfg.TransferValidator(ctx, contract)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.deps.BlockedValidators[strings.ToLower(validator)], nil
}

func (p *Pipeline) resolveAPIKey(ctx context.Context, raw string) (domain.APIKey, error) {
	if raw == "" {
		return domain.APIKey{}, nil
	}
	key, err := p.deps.APIKeys.Get(ctx, raw)
	if errors.Is(err, domain.ErrNotFound) {
		// Unknown keys intake without a mandatory fee.
		return domain.APIKey{}, nil
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

func (p *Pipeline) bidTooLow(ctx context.Context, oi *protocol.Info, normalizedValue *big.Int) (bool, error) {
	topBid, err := p.deps.TopBids.CollectionTopBid(ctx, oi.Contract, oi.TokenID)
	if err == nil {
		return normalizedValue.Cmp(topBid) < 0, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	floorAsk, err := p.deps.TopBids.CollectionFloorAsk(ctx, oi.Contract, oi.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	threshold := new(big.Int).Mul(floorAsk, big.NewInt(bidFloorThresholdBps))
	threshold.Quo(threshold, big.NewInt(10000))
	return normalizedValue.Cmp(threshold) < 0, nil
}

var orderHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// replacement resolves off-chain cancellation-zone replacement: an order in
// the cancellation zone whose salt encodes the hash of a previously-placed
// order in the same zone cancels that predecessor on persist.
func (p *Pipeline) replacement(ctx context.Context, proto protocol.Protocol, ord protocol.Order) (string, error) {
	zone := proto.CancellationZone()
	if zone == "" || !strings.EqualFold(ord.Zone(), zone) {
		return "", nil
	}

	salt := strings.ToLower(ord.Salt())
	if !orderHashRe.MatchString(salt) || salt == ord.Hash() {
		return "", nil
	}

	predRaw, err := p.deps.Orders.GetRawData(ctx, salt)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	pred, err := proto.Decode(predRaw)
	if err != nil {
		return "", nil
	}
	// Only same-maker predecessors placed in the cancellation zone qualify.
	if !strings.EqualFold(pred.Zone(), zone) || !strings.EqualFold(pred.Maker(), ord.Maker()) {
		return "", nil
	}
	return salt, nil
}

// attributeSource resolves marketplace attribution: explicit source metadata
// wins, otherwise the first four bytes of the normalized order salt are
// matched against registered source domain hashes.
func (p *Pipeline) attributeSource(ctx context.Context, source, salt string) (*int64, error) {
	if source != "" {
		s, err := p.deps.Sources.GetByDomain(ctx, source)
		if err != nil {
			return nil, err
		}
		return &s.ID, nil
	}

	hash := saltDomainHash(salt)
	if hash == "" {
		return nil, nil
	}
	s, ok, err := p.deps.Sources.GetByDomainHash(ctx, hash)
	if err != nil || !ok {
		return nil, err
	}
	return &s.ID, nil
}

// saltDomainHash reduces an order salt to the 4-byte prefix marketplaces
// embed for attribution. Salts arrive both hex- and decimal-formatted, so
// they are parsed and re-encoded as minimal hex before slicing.
func saltDomainHash(salt string) string {
	salt = strings.TrimSpace(salt)
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(salt, "0x") || strings.HasPrefix(salt, "0X") {
		_, ok = n.SetString(salt[2:], 16)
	} else {
		_, ok = n.SetString(salt, 10)
	}
	if !ok || n.Sign() == 0 {
		return ""
	}

	hash := "0x" + n.Text(16)
	if len(hash) > 10 {
		hash = hash[:10]
	}
	return hash
}

// economics computes the order's per-unit price and value. Sellers quote
// gross, so value equals price; bidders pay fees out of the offer, so the
// seller nets price minus fees.
func economics(oi *protocol.Info) (price, value *big.Int) {
	price = new(big.Int).Set(oi.Price)
	value = new(big.Int).Set(oi.Price)

	if oi.Side == domain.SideBuy {
		for _, fee := range oi.Fees {
			if fee.Amount != nil {
				value.Sub(value, fee.Amount)
			}
		}
	}

	if q := quantity(oi); q.Cmp(big.NewInt(1)) > 0 {
		price.Quo(price, q)
		value.Quo(value, q)
	}
	return price, value
}

func quantity(oi *protocol.Info) *big.Int {
	if oi.Amount == nil || oi.Amount.Sign() == 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Set(oi.Amount)
}

// buildTokenSet maps the decoded token criteria onto a canonical token set.
func buildTokenSet(oi *protocol.Info) (domain.TokenSet, bool) {
	contract := strings.ToLower(oi.Contract)
	ts := domain.TokenSet{Kind: oi.TokenKind, Contract: contract}

	switch oi.TokenKind {
	case domain.TokenSetSingleToken:
		if oi.TokenID == nil {
			return domain.TokenSet{}, false
		}
		ts.ID = domain.SingleTokenSetID(contract, oi.TokenID)
		ts.TokenID = oi.TokenID
	case domain.TokenSetContractWide:
		ts.ID = domain.ContractWideTokenSetID(contract)
	case domain.TokenSetTokenList:
		if oi.MerkleRoot == "" {
			return domain.TokenSet{}, false
		}
		ts.ID = domain.TokenListSetID(contract, oi.MerkleRoot)
		ts.MerkleRoot = oi.MerkleRoot
	case domain.TokenSetDynamic:
		if oi.MerkleRoot == "" {
			return domain.TokenSet{}, false
		}
		ts.ID = domain.DynamicTokenSetID(contract, oi.MerkleRoot)
		ts.Criteria = oi.MerkleRoot
	default:
		return domain.TokenSet{}, false
	}
	return ts, true
}
