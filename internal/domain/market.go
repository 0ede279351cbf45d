package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// PriceDecimals is the fixed-point precision of prices and the cumulative
	// funding index.
	PriceDecimals = 18
	// RateDecimals is the fixed-point precision of funding rates (millionths).
	RateDecimals = 6
)

// EngineParams are the engine-wide admission and capping parameters.
type EngineParams struct {
	MinUpdateInterval time.Duration
	MaxFundingRate    int64 // 1e6 = 100%
}

// MarketSnapshot is a point-in-time copy of one market's funding state.
type MarketSnapshot struct {
	Symbol            string
	FeedID            common.Hash
	CumulativeFunding *uint256.Int // 1e18 = 1.0
	LastFundingRate   int64        // 1e6 = 100%
	LastUpdateTime    time.Time
	LastPrice         *uint256.Int // 1e18 = 1.0, zero until the first observation
}

// HasPrice reports whether the market has seen at least one observation.
func (m MarketSnapshot) HasPrice() bool {
	return m.LastPrice != nil && !m.LastPrice.IsZero()
}

type marketSnapshotJSON struct {
	Symbol                   string `json:"symbol"`
	FeedID                   string `json:"feed_id"`
	CumulativeFunding        string `json:"cumulative_funding"`
	CumulativeFundingDecimal string `json:"cumulative_funding_decimal"`
	LastFundingRate          int64  `json:"last_funding_rate"`
	LastFundingRatePercent   string `json:"last_funding_rate_pct"`
	LastUpdateTime           string `json:"last_update_time"`
	LastPrice                string `json:"last_price"`
	LastPriceDecimal         string `json:"last_price_decimal"`
}

// MarshalJSON renders fixed-point values both raw and as decimals.
func (m MarketSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(marketSnapshotJSON{
		Symbol:                   m.Symbol,
		FeedID:                   m.FeedID.Hex(),
		CumulativeFunding:        RawString(m.CumulativeFunding),
		CumulativeFundingDecimal: FixedString(m.CumulativeFunding, PriceDecimals),
		LastFundingRate:          m.LastFundingRate,
		LastFundingRatePercent:   RatePercent(m.LastFundingRate),
		LastUpdateTime:           m.LastUpdateTime.UTC().Format(time.RFC3339),
		LastPrice:                RawString(m.LastPrice),
		LastPriceDecimal:         FixedString(m.LastPrice, PriceDecimals),
	})
}

// RawString renders a fixed-point value as its raw base-10 integer.
func RawString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// FixedString renders a fixed-point value scaled down by the given number of
// decimals, e.g. 43000e18 with 18 decimals renders as "43000".
func FixedString(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

// RatePercent renders a rate in millionths as a percentage string.
func RatePercent(rate int64) string {
	return decimal.New(rate, -(RateDecimals - 2)).String()
}
