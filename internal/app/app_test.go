package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deepak28290/hlhpythoracle/internal/config"
	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/outcome"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCoreWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Markets = config.DefaultMarkets()
	cfg.Redis.Enabled = false
	cfg.Intake.Enabled = false

	a := New(&cfg, quietLogger())
	defer a.Close()

	deps, cleanup, err := Wire(context.Background(), &cfg, a.base)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if deps.StateStore != nil || deps.SignalBus != nil || deps.Archiver != nil || deps.Signer != nil {
		t.Fatalf("expected every backend disabled, got %+v", deps)
	}
	if len(deps.Checks) != 0 {
		t.Fatalf("checks = %d, want 0", len(deps.Checks))
	}

	c, err := a.buildCore(context.Background(), deps)
	if err != nil {
		t.Fatalf("buildCore: %v", err)
	}
	markets := c.service.Markets()
	if len(markets) != len(cfg.Markets) {
		t.Fatalf("markets = %d, want %d", len(markets), len(cfg.Markets))
	}
	if markets[0].Symbol != "BTC" {
		t.Fatalf("first market = %s, want BTC", markets[0].Symbol)
	}
	if p := c.service.Params(); p.MaxFundingRate != cfg.Engine.MaxFundingRate {
		t.Fatalf("max funding rate = %d, want %d", p.MaxFundingRate, cfg.Engine.MaxFundingRate)
	}
}

func TestBuildCoreRejectsBadFeed(t *testing.T) {
	cfg := config.Defaults()
	cfg.Markets = []config.MarketConfig{{Symbol: "BTC", FeedID: "0x1234"}}

	a := New(&cfg, quietLogger())
	if _, err := a.buildCore(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error for short feed id")
	}
}

func TestWireRejectsBadSignerKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Enabled = false
	cfg.Signer.Enabled = true
	cfg.Signer.PrivateKey = "not-hex"

	if _, _, err := Wire(context.Background(), &cfg, quietLogger()); err == nil {
		t.Fatal("expected signer error")
	}
}

type delivered struct {
	mu      sync.Mutex
	symbols []string
	live    []bool
}

func (d *delivered) handle(ctx context.Context, o domain.FundingOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.symbols = append(d.symbols, o.Symbol)
	d.live = append(d.live, ctx.Err() == nil)
}

func TestSuperviseDeliversOutcomesCommittedDuringShutdown(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, quietLogger())
	c := &core{stream: outcome.NewStream(quietLogger())}
	var d delivered
	c.stream.Subscribe("collect", d.handle)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- a.supervise(ctx, c, func(ctx context.Context, g *errgroup.Group) {
			g.Go(func() error {
				c.stream.Append(domain.FundingOutcome{Symbol: "BTC"})
				close(started)
				<-ctx.Done()
				// A request still in flight when shutdown begins.
				time.Sleep(20 * time.Millisecond)
				c.stream.Append(domain.FundingOutcome{Symbol: "ETH"})
				return nil
			})
		})
	}()

	<-started
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("supervise = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.symbols) != 2 || d.symbols[0] != "BTC" || d.symbols[1] != "ETH" {
		t.Fatalf("delivered %v, want [BTC ETH]", d.symbols)
	}
	for i, ok := range d.live {
		if !ok {
			t.Fatalf("%s was delivered with a cancelled context", d.symbols[i])
		}
	}
}

func TestSuperviseReturnsProducerError(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, quietLogger())
	c := &core{stream: outcome.NewStream(quietLogger())}
	var d delivered
	c.stream.Subscribe("collect", d.handle)

	boom := errors.New("intake failed")
	err := a.supervise(context.Background(), c, func(ctx context.Context, g *errgroup.Group) {
		g.Go(func() error {
			c.stream.Append(domain.FundingOutcome{Symbol: "SOL"})
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("supervise = %v, want %v", err, boom)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.symbols) != 1 || d.symbols[0] != "SOL" {
		t.Fatalf("delivered %v, want [SOL]", d.symbols)
	}
}
