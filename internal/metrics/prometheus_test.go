package metrics

import (
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

func TestRecordResult(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordResult("BTC", nil)
	r.RecordResult("BTC", nil)
	r.RecordResult("BTC", fmt.Errorf("wrapped: %w", domain.ErrTooFrequent))
	r.RecordResult("", domain.ErrUnknownFeed)

	if got := testutil.ToFloat64(r.updates.WithLabelValues("BTC", ResultAccepted)); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.updates.WithLabelValues("BTC", domain.ReasonTooFrequent)); got != 1 {
		t.Errorf("too_frequent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.updates.WithLabelValues("unknown", domain.ReasonUnknownFeed)); got != 1 {
		t.Errorf("unknown_feed = %v, want 1", got)
	}
}

func TestRecordOutcome(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RecordOutcome(domain.FundingOutcome{
		Symbol:            "ETH",
		Rate:              -2_500,
		CumulativeFunding: uint256.NewInt(1_010_000_000_000_000_000),
		Price:             uint256.MustFromDecimal("2300500000000000000000"),
		Clamped:           true,
	})

	if got := testutil.ToFloat64(r.rate.WithLabelValues("ETH")); got != -0.0025 {
		t.Errorf("rate = %v, want -0.0025", got)
	}
	if got := testutil.ToFloat64(r.index.WithLabelValues("ETH")); got != 1.01 {
		t.Errorf("index = %v, want 1.01", got)
	}
	if got := testutil.ToFloat64(r.lastPrice.WithLabelValues("ETH")); got != 2300.5 {
		t.Errorf("price = %v, want 2300.5", got)
	}
	if got := testutil.ToFloat64(r.clamped.WithLabelValues("ETH")); got != 1 {
		t.Errorf("clamped = %v, want 1", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	depth := 3
	r.RegisterQueueDepth(func() int { return depth })

	if n, err := testutil.GatherAndCount(reg, "fundingd_outcome_queue_depth"); err != nil || n != 1 {
		t.Fatalf("GatherAndCount = %d, %v", n, err)
	}
}
