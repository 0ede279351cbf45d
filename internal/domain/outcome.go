package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceObservation is a raw oracle price: Mantissa * 10^Exponent.
type PriceObservation struct {
	Mantissa   int64
	Confidence uint64 // carried for observability only
	Exponent   int32
	ObservedAt time.Time
}

// PriceUpdate binds an observation to the feed it was published on.
type PriceUpdate struct {
	FeedID      common.Hash
	Observation PriceObservation
}

// FundingOutcome is emitted once for every admitted update.
type FundingOutcome struct {
	Seq               uint64
	ID                string
	Symbol            string
	FeedID            common.Hash
	Rate              int64
	CumulativeFunding *uint256.Int
	Price             *uint256.Int
	Confidence        uint64
	ObservedAt        time.Time
	Timestamp         time.Time
	RateComputed      bool // false on the first observation of a market
	Clamped           bool
	Signature         string
}

// UpdateResult is the per-entry result of a batch submission.
type UpdateResult struct {
	Outcome *FundingOutcome
	Err     error
}

// OK reports whether the update was admitted.
func (r UpdateResult) OK() bool { return r.Err == nil && r.Outcome != nil }

type fundingOutcomeJSON struct {
	Seq                      uint64 `json:"seq"`
	ID                       string `json:"id"`
	Symbol                   string `json:"symbol"`
	FeedID                   string `json:"feed_id"`
	Rate                     int64  `json:"rate"`
	RatePercent              string `json:"rate_pct"`
	CumulativeFunding        string `json:"cumulative_funding"`
	CumulativeFundingDecimal string `json:"cumulative_funding_decimal"`
	Price                    string `json:"price"`
	PriceDecimal             string `json:"price_decimal"`
	Confidence               uint64 `json:"confidence"`
	ObservedAt               int64  `json:"observed_at"`
	Timestamp                int64  `json:"timestamp"`
	RateComputed             bool   `json:"rate_computed"`
	Clamped                  bool   `json:"clamped"`
	Signature                string `json:"signature,omitempty"`
}

// MarshalJSON renders the outcome for the bus, the archive and the API.
func (o FundingOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(fundingOutcomeJSON{
		Seq:                      o.Seq,
		ID:                       o.ID,
		Symbol:                   o.Symbol,
		FeedID:                   o.FeedID.Hex(),
		Rate:                     o.Rate,
		RatePercent:              RatePercent(o.Rate),
		CumulativeFunding:        RawString(o.CumulativeFunding),
		CumulativeFundingDecimal: FixedString(o.CumulativeFunding, PriceDecimals),
		Price:                    RawString(o.Price),
		PriceDecimal:             FixedString(o.Price, PriceDecimals),
		Confidence:               o.Confidence,
		ObservedAt:               o.ObservedAt.Unix(),
		Timestamp:                o.Timestamp.Unix(),
		RateComputed:             o.RateComputed,
		Clamped:                  o.Clamped,
		Signature:                o.Signature,
	})
}
