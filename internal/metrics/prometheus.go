// Package metrics exposes funding engine activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// ResultAccepted labels admitted updates; rejections use their reason code.
const ResultAccepted = "accepted"

// Recorder records funding metrics on a Prometheus registerer.
type Recorder struct {
	updates   *prometheus.CounterVec
	clamped   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	rate      *prometheus.GaugeVec
	index     *prometheus.GaugeVec
	lastPrice *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
	reg       prometheus.Registerer
}

// New creates a Recorder whose collectors are registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingd_updates_total",
				Help: "Price updates processed, by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		clamped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingd_rate_clamped_total",
				Help: "Admitted updates whose funding rate hit the cap",
			},
			[]string{"symbol"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingd_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		rate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundingd_funding_rate",
				Help: "Last funding rate per period as a fraction",
			},
			[]string{"symbol"},
		),
		index: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundingd_cumulative_index",
				Help: "Cumulative funding index (1.0 at start)",
			},
			[]string{"symbol"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundingd_last_price",
				Help: "Last admitted price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundingd_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordResult counts one processed update. symbol may be empty when the
// feed could not be resolved.
func (r *Recorder) RecordResult(symbol string, err error) {
	if symbol == "" {
		symbol = "unknown"
	}
	result := ResultAccepted
	if err != nil {
		result = domain.ReasonOf(err)
	}
	r.updates.WithLabelValues(symbol, result).Inc()
}

// RecordOutcome updates the per-market gauges from a committed outcome.
func (r *Recorder) RecordOutcome(o domain.FundingOutcome) {
	r.rate.WithLabelValues(o.Symbol).Set(decimal.New(o.Rate, -domain.RateDecimals).InexactFloat64())
	r.index.WithLabelValues(o.Symbol).Set(fixedFloat(o))
	if o.Price != nil {
		r.lastPrice.WithLabelValues(o.Symbol).Set(decimal.NewFromBigInt(o.Price.ToBig(), -domain.PriceDecimals).InexactFloat64())
	}
	if o.Clamped {
		r.clamped.WithLabelValues(o.Symbol).Inc()
	}
}

func fixedFloat(o domain.FundingOutcome) float64 {
	if o.CumulativeFunding == nil {
		return 0
	}
	return decimal.NewFromBigInt(o.CumulativeFunding.ToBig(), -domain.PriceDecimals).InexactFloat64()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLatency records how long an operation took since start.
func (r *Recorder) RecordLatency(op string, start time.Time) {
	r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RegisterQueueDepth exposes the outcome queue depth reported by fn.
func (r *Recorder) RegisterQueueDepth(fn func() int) {
	promauto.With(r.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fundingd_outcome_queue_depth",
			Help: "Outcomes waiting for delivery to handlers",
		},
		func() float64 { return float64(fn()) },
	)
}
