package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/funding"
	"github.com/deepak28290/hlhpythoracle/internal/metrics"
	"github.com/deepak28290/hlhpythoracle/internal/notify"
)

var (
	btcFeed = common.HexToHash("0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43")
	t0      = time.Unix(1_700_000_000, 0).UTC()
)

// ---- fakes ----

type fakeStates struct {
	saved []domain.MarketSnapshot
	load  []domain.MarketSnapshot
	err   error
}

func (f *fakeStates) Save(_ context.Context, s domain.MarketSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeStates) LoadAll(context.Context) ([]domain.MarketSnapshot, error) {
	return f.load, f.err
}

type fakeHistory struct {
	inserted []domain.FundingOutcome
	symbol   string
}

func (f *fakeHistory) Insert(_ context.Context, o domain.FundingOutcome) error {
	f.inserted = append(f.inserted, o)
	return nil
}

func (f *fakeHistory) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.FundingOutcome, error) {
	f.symbol = symbol
	return f.inserted, nil
}

func (f *fakeHistory) ListBefore(context.Context, time.Time) ([]domain.FundingOutcome, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (f *fakeBus) Publish(_ context.Context, ch string, p []byte) error {
	f.published[ch] = append(f.published[ch], p)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) StreamAppend(_ context.Context, s string, p []byte) error {
	f.streamed[s] = append(f.streamed[s], p)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int, time.Duration) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeSigner struct{}

func (fakeSigner) SignOutcome(o domain.FundingOutcome) (string, error) { return "0xsig", nil }

type fakeNotifier struct{ events []string }

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.events = append(f.events, event)
	return nil
}

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---- helpers ----

func newEngine(t *testing.T) *funding.Engine {
	t.Helper()
	reg, err := funding.NewRegistry([]funding.Binding{{Symbol: "BTC", FeedID: btcFeed}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	e, err := funding.NewEngine(reg, funding.DefaultParams(), t0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func update(feed common.Hash, mantissa int64) domain.PriceUpdate {
	return domain.PriceUpdate{
		FeedID:      feed,
		Observation: domain.PriceObservation{Mantissa: mantissa, Exponent: -8, ObservedAt: t0},
	}
}

// ---- tests ----

func TestSubmitPartialSuccess(t *testing.T) {
	svc := NewFundingService(FundingDeps{
		Engine:  newEngine(t),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Clock:   func() time.Time { return t0.Add(time.Minute) },
	}, discardLogger())

	results := svc.Submit(context.Background(), []domain.PriceUpdate{
		update(btcFeed, 4_300_000_000_000),
		update(common.HexToHash("0x02"), 1),
	})
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].OK() || results[0].Outcome.Symbol != "BTC" {
		t.Fatalf("result 0 = %+v", results[0])
	}
	if !errors.Is(results[1].Err, domain.ErrUnknownFeed) {
		t.Fatalf("result 1 err = %v", results[1].Err)
	}
}

func TestHandleOutcomeFansOut(t *testing.T) {
	states := &fakeStates{}
	history := &fakeHistory{}
	bus := newFakeBus()
	notifier := &fakeNotifier{}
	svc := NewFundingService(FundingDeps{
		Engine:   newEngine(t),
		States:   states,
		History:  history,
		Bus:      bus,
		Signer:   fakeSigner{},
		Notifier: notifier,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}, discardLogger())

	o := domain.FundingOutcome{
		Seq:               3,
		ID:                "id-3",
		Symbol:            "BTC",
		FeedID:            btcFeed,
		Rate:              10_000,
		CumulativeFunding: uint256.NewInt(1_010_000_000_000_000_000),
		Price:             uint256.NewInt(1),
		Timestamp:         t0,
		RateComputed:      true,
		Clamped:           true,
	}
	svc.HandleOutcome(context.Background(), o)

	if len(states.saved) != 1 || states.saved[0].LastFundingRate != 10_000 || !states.saved[0].LastUpdateTime.Equal(t0) {
		t.Fatalf("saved = %+v", states.saved)
	}
	if len(history.inserted) != 1 || history.inserted[0].Signature != "0xsig" {
		t.Fatalf("inserted = %+v", history.inserted)
	}
	if len(bus.published[domain.ChannelFunding]) != 1 || len(bus.streamed[domain.StreamFunding]) != 1 {
		t.Fatalf("bus = %+v", bus)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventRateClamped {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestHandleOutcomeContinuesAfterFailure(t *testing.T) {
	states := &fakeStates{err: errors.New("db down")}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	svc := NewFundingService(FundingDeps{
		Engine:   newEngine(t),
		States:   states,
		History:  history,
		Notifier: notifier,
	}, discardLogger())

	svc.HandleOutcome(context.Background(), domain.FundingOutcome{Symbol: "BTC", CumulativeFunding: uint256.NewInt(1)})

	if len(history.inserted) != 1 {
		t.Fatal("history insert skipped after state failure")
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventError {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestUpdateConfig(t *testing.T) {
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}
	svc := NewFundingService(FundingDeps{Engine: newEngine(t), Audit: audit, Notifier: notifier}, discardLogger())

	next := domain.EngineParams{MinUpdateInterval: 30 * time.Second, MaxFundingRate: 5_000}
	if err := svc.UpdateConfig(context.Background(), next, "ops"); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if svc.Params() != next {
		t.Fatalf("params = %+v", svc.Params())
	}
	if len(audit.events) != 1 || audit.events[0] != "config.updated" {
		t.Fatalf("audit = %v", audit.events)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventConfigUpdated {
		t.Fatalf("events = %v", notifier.events)
	}

	err := svc.UpdateConfig(context.Background(), domain.EngineParams{MaxFundingRate: -1}, "ops")
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if len(audit.events) != 1 {
		t.Fatal("rejected config was audited")
	}
	if svc.Params() != next {
		t.Fatal("rejected config changed params")
	}
}

func TestRestore(t *testing.T) {
	idx := uint256.NewInt(1_000_200_000_000_000_000)
	states := &fakeStates{load: []domain.MarketSnapshot{{
		Symbol:            "BTC",
		FeedID:            btcFeed,
		CumulativeFunding: idx,
		LastFundingRate:   200,
		LastUpdateTime:    t0,
		LastPrice:         uint256.NewInt(5),
	}}}
	svc := NewFundingService(FundingDeps{Engine: newEngine(t), States: states}, discardLogger())

	n, err := svc.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = (%d, %v)", n, err)
	}
	got, err := svc.Index("BTC")
	if err != nil || !got.Eq(idx) {
		t.Fatalf("Index = (%v, %v)", got, err)
	}
	if rate, _ := svc.Rate("BTC"); rate != 200 {
		t.Fatalf("Rate = %d", rate)
	}

	n, err = NewFundingService(FundingDeps{Engine: newEngine(t)}, discardLogger()).Restore(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Restore without store = (%d, %v)", n, err)
	}
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{inserted: []domain.FundingOutcome{{Symbol: "BTC"}}}
	svc := NewFundingService(FundingDeps{Engine: newEngine(t), History: history}, discardLogger())

	out, err := svc.History(context.Background(), "BTC", domain.ListOpts{Limit: 10})
	if err != nil || len(out) != 1 || history.symbol != "BTC" {
		t.Fatalf("History = (%v, %v)", out, err)
	}
	if _, err := svc.History(context.Background(), "DOGE", domain.ListOpts{}); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Fatalf("unknown symbol err = %v", err)
	}

	bare := NewFundingService(FundingDeps{Engine: newEngine(t)}, discardLogger())
	if _, err := bare.History(context.Background(), "BTC", domain.ListOpts{}); !errors.Is(err, ErrHistoryDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
}
