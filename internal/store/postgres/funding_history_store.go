package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// FundingHistoryStore implements domain.FundingHistoryStore using PostgreSQL.
type FundingHistoryStore struct {
	pool *pgxpool.Pool
}

// NewFundingHistoryStore creates a new FundingHistoryStore backed by the
// given connection pool.
func NewFundingHistoryStore(pool *pgxpool.Pool) *FundingHistoryStore {
	return &FundingHistoryStore{pool: pool}
}

const historySelectCols = `id::text, seq, symbol, feed_id, rate,
	cumulative_funding::text, price::text, confidence::text,
	observed_at, timestamp, rate_computed, clamped, signature`

type historyRow struct {
	id, symbol, cum, price, conf, signature string
	seq                                     int64
	feed                                    []byte
	rate                                    int64
	observedAt, ts                          time.Time
	computed, clamped                       bool
}

func (r historyRow) outcome() (domain.FundingOutcome, error) {
	feedID, err := hashFromBytes(r.feed)
	if err != nil {
		return domain.FundingOutcome{}, fmt.Errorf("outcome %s: %w", r.id, err)
	}
	cumulative, err := parseFixed(r.cum)
	if err != nil {
		return domain.FundingOutcome{}, fmt.Errorf("outcome %s cumulative_funding: %w", r.id, err)
	}
	price, err := parseFixed(r.price)
	if err != nil {
		return domain.FundingOutcome{}, fmt.Errorf("outcome %s price: %w", r.id, err)
	}
	conf, err := strconv.ParseUint(r.conf, 10, 64)
	if err != nil {
		return domain.FundingOutcome{}, fmt.Errorf("outcome %s confidence: %w", r.id, err)
	}
	return domain.FundingOutcome{
		Seq:               uint64(r.seq),
		ID:                r.id,
		Symbol:            r.symbol,
		FeedID:            feedID,
		Rate:              r.rate,
		CumulativeFunding: cumulative,
		Price:             price,
		Confidence:        conf,
		ObservedAt:        r.observedAt.UTC(),
		Timestamp:         r.ts.UTC(),
		RateComputed:      r.computed,
		Clamped:           r.clamped,
		Signature:         r.signature,
	}, nil
}

func scanHistoryRows(rows pgx.Rows) ([]domain.FundingOutcome, error) {
	var out []domain.FundingOutcome
	for rows.Next() {
		var r historyRow
		if err := rows.Scan(
			&r.id, &r.seq, &r.symbol, &r.feed, &r.rate,
			&r.cum, &r.price, &r.conf,
			&r.observedAt, &r.ts, &r.computed, &r.clamped, &r.signature,
		); err != nil {
			return nil, err
		}
		o, err := r.outcome()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert records one outcome. Re-inserting the same outcome id is a no-op.
func (s *FundingHistoryStore) Insert(ctx context.Context, o domain.FundingOutcome) error {
	const query = `
		INSERT INTO funding_history (
			id, seq, symbol, feed_id, rate,
			cumulative_funding, price, confidence,
			observed_at, timestamp, rate_computed, clamped, signature
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8::text::numeric,
			$9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		o.ID, int64(o.Seq), o.Symbol, o.FeedID.Bytes(), o.Rate,
		domain.RawString(o.CumulativeFunding), domain.RawString(o.Price),
		strconv.FormatUint(o.Confidence, 10),
		o.ObservedAt, o.Timestamp, o.RateComputed, o.Clamped, o.Signature,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert funding outcome %s: %w", o.ID, err)
	}
	return nil
}

// ListBySymbol returns outcomes for a market, newest first, with pagination
// and optional time filtering.
func (s *FundingHistoryStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.FundingOutcome, error) {
	q := newListQuery(`SELECT ` + historySelectCols + ` FROM funding_history`)
	q.and("symbol", "=", symbol)
	q.window("timestamp", opts)
	q.page("timestamp DESC, seq DESC", opts)

	rows, err := s.pool.Query(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding history: %w", err)
	}
	defer rows.Close()

	out, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding history: %w", err)
	}
	return out, nil
}

// ListBefore returns all outcomes with timestamp strictly before the given
// time, oldest first (for archiving).
func (s *FundingHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.FundingOutcome, error) {
	query := `SELECT ` + historySelectCols + ` FROM funding_history WHERE timestamp < $1 ORDER BY timestamp ASC, seq ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding history before: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// DeleteBefore deletes all outcomes with timestamp before the given time.
// Returns the number deleted.
func (s *FundingHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funding_history WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete funding history before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.FundingHistoryStore = (*FundingHistoryStore)(nil)
