package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// MarketStateStore implements domain.MarketStateStore using PostgreSQL.
// Fixed-point values travel as decimal text and are stored as NUMERIC(78,0).
type MarketStateStore struct {
	pool *pgxpool.Pool
}

// NewMarketStateStore creates a new MarketStateStore backed by the given
// connection pool.
func NewMarketStateStore(pool *pgxpool.Pool) *MarketStateStore {
	return &MarketStateStore{pool: pool}
}

// Save inserts or replaces the stored state of one market. A stored row is
// only replaced by a snapshot that is not older than it.
func (s *MarketStateStore) Save(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO market_state (
			symbol, feed_id, cumulative_funding, last_funding_rate,
			last_update_time, last_price, updated_at
		) VALUES (
			$1, $2, $3::text::numeric, $4,
			$5, $6::text::numeric, NOW()
		)
		ON CONFLICT (symbol) DO UPDATE SET
			feed_id            = EXCLUDED.feed_id,
			cumulative_funding = EXCLUDED.cumulative_funding,
			last_funding_rate  = EXCLUDED.last_funding_rate,
			last_update_time   = EXCLUDED.last_update_time,
			last_price         = EXCLUDED.last_price,
			updated_at         = NOW()
		WHERE market_state.last_update_time <= EXCLUDED.last_update_time`

	_, err := s.pool.Exec(ctx, query,
		snap.Symbol, snap.FeedID.Bytes(),
		domain.RawString(snap.CumulativeFunding), snap.LastFundingRate,
		snap.LastUpdateTime, domain.RawString(snap.LastPrice),
	)
	if err != nil {
		return fmt.Errorf("postgres: save market state %s: %w", snap.Symbol, err)
	}
	return nil
}

// LoadAll returns the stored state of every market, ordered by symbol.
func (s *MarketStateStore) LoadAll(ctx context.Context) ([]domain.MarketSnapshot, error) {
	const query = `
		SELECT symbol, feed_id, cumulative_funding::text, last_funding_rate,
		       last_update_time, last_price::text
		FROM market_state
		ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load market state: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan market state: %w", err)
	}
	return snaps, nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.MarketSnapshot, error) {
	var snaps []domain.MarketSnapshot
	for rows.Next() {
		var (
			symbol, cum, price string
			feed               []byte
			rate               int64
			updated            time.Time
		)
		if err := rows.Scan(&symbol, &feed, &cum, &rate, &updated, &price); err != nil {
			return nil, err
		}
		snap, err := snapshotFromRow(symbol, feed, cum, rate, updated, price)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func snapshotFromRow(symbol string, feed []byte, cum string, rate int64, updated time.Time, price string) (domain.MarketSnapshot, error) {
	feedID, err := hashFromBytes(feed)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s: %w", symbol, err)
	}
	cumulative, err := parseFixed(cum)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s cumulative_funding: %w", symbol, err)
	}
	lastPrice, err := parseFixed(price)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s last_price: %w", symbol, err)
	}
	return domain.MarketSnapshot{
		Symbol:            symbol,
		FeedID:            feedID,
		CumulativeFunding: cumulative,
		LastFundingRate:   rate,
		LastUpdateTime:    updated.UTC(),
		LastPrice:         lastPrice,
	}, nil
}

// parseFixed parses a NUMERIC rendered as text into a 256-bit value.
func parseFixed(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

func hashFromBytes(b []byte) (common.Hash, error) {
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("feed id is %d bytes, want %d", len(b), common.HashLength)
	}
	return common.BytesToHash(b), nil
}

// Compile-time interface check.
var _ domain.MarketStateStore = (*MarketStateStore)(nil)
