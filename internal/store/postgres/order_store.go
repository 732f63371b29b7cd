package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintlake/orderflow/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// LockRawData atomically backfills raw_data into a placeholder row and reports
// whether a row with the given id exists. The conditional update and the
// existence check run as one statement so concurrent submitters cannot both
// observe a missing row.
func (s *OrderStore) LockRawData(ctx context.Context, id string, rawData []byte) (bool, error) {
	const query = `
		WITH x AS (
			UPDATE orders
			SET raw_data = $2, updated_at = NOW()
			WHERE orders.id = $1
			  AND orders.raw_data IS NULL
		)
		SELECT 1 FROM orders WHERE orders.id = $1`

	var one int
	err := s.pool.QueryRow(ctx, query, id, rawData).Scan(&one)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("postgres: lock raw data %s: %w", id, err)
	}
	return true, nil
}

// GetRawData returns the protocol-native blob stored for an order.
func (s *OrderStore) GetRawData(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT raw_data FROM orders WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get raw data %s: %w", id, err)
	}
	if raw == nil {
		return nil, domain.ErrNotFound
	}
	return raw, nil
}

// orderInsertCols lists the columns written by UpsertBatch, in order.
var orderInsertCols = []string{
	"id", "kind", "side", "fillability_status", "approval_status",
	"token_set_id", "token_set_schema_hash", "maker", "taker",
	"price", "value", "currency", "currency_price", "currency_value",
	"needs_conversion", "normalized_value", "currency_normalized_value",
	"quantity_remaining", "valid_from", "valid_until", "nonce",
	"source_id", "contract", "conduit", "fee_bps", "fee_breakdown",
	"missing_royalties", "dynamic", "raw_data", "originated_at",
}

func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// UpsertBatch bulk-inserts canonical rows in a single multi-row statement with
// ON CONFLICT DO NOTHING keyed by order hash. The conflict clause is the sole
// concurrency-correctness mechanism across pipeline instances.
func (s *OrderStore) UpsertBatch(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(orders)*len(orderInsertCols))
	)
	for i, o := range orders {
		feeBreakdown, err := json.Marshal(o.FeeBreakdown)
		if err != nil {
			return fmt.Errorf("postgres: marshal fee breakdown %s: %w", o.ID, err)
		}
		missingRoyalties, err := json.Marshal(o.MissingRoyalties)
		if err != nil {
			return fmt.Errorf("postgres: marshal missing royalties %s: %w", o.ID, err)
		}

		var validUntil *time.Time
		if o.ValidUntil > 0 {
			t := time.Unix(o.ValidUntil, 0)
			validUntil = &t
		}

		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("(")
		for j := range orderInsertCols {
			if j > 0 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", len(args)+j+1)
		}
		placeholders.WriteString(")")

		args = append(args,
			o.ID, o.Kind, string(o.Side),
			string(o.FillabilityStatus), string(o.ApprovalStatus),
			o.TokenSetID, o.TokenSetSchemaHash, o.Maker, o.Taker,
			numeric(o.Price), numeric(o.Value), o.Currency,
			numeric(o.CurrencyPrice), numeric(o.CurrencyValue),
			o.NeedsConversion,
			numeric(o.NormalizedValue), numeric(o.CurrencyNormalizedValue),
			numeric(o.QuantityRemaining),
			time.Unix(o.ValidFrom, 0), validUntil, o.Nonce,
			o.SourceID, o.Contract, o.Conduit, o.FeeBps, feeBreakdown,
			missingRoyalties, o.Dynamic, []byte(o.RawData), o.OriginatedAt,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO orders (%s) VALUES %s ON CONFLICT (id) DO NOTHING`,
		strings.Join(orderInsertCols, ", "), placeholders.String(),
	)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: upsert %d orders: %w", len(orders), err)
	}
	return nil
}

// CancelReplacement marks a replaced predecessor order as cancelled. Terminal
// statuses are left untouched so a filled order is never re-labelled.
func (s *OrderStore) CancelReplacement(ctx context.Context, replacedID, newID string) error {
	const query = `
		UPDATE orders
		SET fillability_status = 'cancelled',
		    replaced_by = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND fillability_status NOT IN ('filled', 'cancelled', 'expired')`

	if _, err := s.pool.Exec(ctx, query, replacedID, newID); err != nil {
		return fmt.Errorf("postgres: cancel replaced order %s: %w", replacedID, err)
	}
	return nil
}

const orderSelectCols = `id, kind, side, fillability_status, approval_status,
	token_set_id, token_set_schema_hash, maker, taker,
	price, value, currency, currency_price, currency_value,
	needs_conversion, normalized_value, currency_normalized_value,
	quantity_remaining, EXTRACT(EPOCH FROM valid_from)::bigint,
	COALESCE(EXTRACT(EPOCH FROM valid_until), 0)::bigint, nonce,
	source_id, contract, conduit, fee_bps, fee_breakdown,
	missing_royalties, dynamic, raw_data, originated_at`

// GetByID retrieves a single canonical order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	var (
		o                                            domain.Order
		side, fillability, approval                  string
		price, value, currencyPrice, currencyValue   *string
		normalizedValue, currencyNormalizedValue     *string
		quantityRemaining                            *string
		feeBreakdown, missingRoyalties               []byte
	)
	err := row.Scan(
		&o.ID, &o.Kind, &side, &fillability, &approval,
		&o.TokenSetID, &o.TokenSetSchemaHash, &o.Maker, &o.Taker,
		&price, &value, &o.Currency, &currencyPrice, &currencyValue,
		&o.NeedsConversion, &normalizedValue, &currencyNormalizedValue,
		&quantityRemaining, &o.ValidFrom, &o.ValidUntil, &o.Nonce,
		&o.SourceID, &o.Contract, &o.Conduit, &o.FeeBps, &feeBreakdown,
		&missingRoyalties, &o.Dynamic, (*[]byte)(&o.RawData), &o.OriginatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}

	o.Side = domain.Side(side)
	o.FillabilityStatus = domain.FillabilityStatus(fillability)
	o.ApprovalStatus = domain.ApprovalStatus(approval)
	o.Price = parseNumeric(price)
	o.Value = parseNumeric(value)
	o.CurrencyPrice = parseNumeric(currencyPrice)
	o.CurrencyValue = parseNumeric(currencyValue)
	o.NormalizedValue = parseNumeric(normalizedValue)
	o.CurrencyNormalizedValue = parseNumeric(currencyNormalizedValue)
	o.QuantityRemaining = parseNumeric(quantityRemaining)

	if len(feeBreakdown) > 0 {
		if err := json.Unmarshal(feeBreakdown, &o.FeeBreakdown); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: decode fee breakdown %s: %w", id, err)
		}
	}
	if len(missingRoyalties) > 0 {
		if err := json.Unmarshal(missingRoyalties, &o.MissingRoyalties); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: decode missing royalties %s: %w", id, err)
		}
	}
	return o, nil
}

func parseNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
