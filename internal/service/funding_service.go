// Package service coordinates the funding engine with persistence,
// publishing, signing, notification and metrics.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/funding"
	"github.com/deepak28290/hlhpythoracle/internal/metrics"
	"github.com/deepak28290/hlhpythoracle/internal/notify"
)

// ErrHistoryDisabled is returned by History when no history store is wired.
var ErrHistoryDisabled = errors.New("funding history not available")

// OutcomeSigner attaches a verifiable signature to an outcome.
type OutcomeSigner interface {
	SignOutcome(o domain.FundingOutcome) (string, error)
}

// Notifier delivers filtered operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// FundingDeps bundles the collaborators of a FundingService. Every field
// except Engine is optional.
type FundingDeps struct {
	Engine   *funding.Engine
	States   domain.MarketStateStore
	History  domain.FundingHistoryStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Signer   OutcomeSigner
	Notifier Notifier
	Metrics  *metrics.Recorder
	Clock    func() time.Time
}

// FundingService is the application-facing API of the funding engine.
type FundingService struct {
	engine   *funding.Engine
	states   domain.MarketStateStore
	history  domain.FundingHistoryStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	signer   OutcomeSigner
	notifier Notifier
	metrics  *metrics.Recorder
	clock    func() time.Time
	logger   *slog.Logger
}

// NewFundingService creates a FundingService from deps.
func NewFundingService(deps FundingDeps, logger *slog.Logger) *FundingService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &FundingService{
		engine:   deps.Engine,
		states:   deps.States,
		history:  deps.History,
		audit:    deps.Audit,
		bus:      deps.Bus,
		signer:   deps.Signer,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    clock,
		logger:   logger.With(slog.String("component", "funding_service")),
	}
}

// Submit runs a batch of price updates through the engine. Results are
// index-aligned with updates.
func (s *FundingService) Submit(ctx context.Context, updates []domain.PriceUpdate) []domain.UpdateResult {
	start := time.Now()
	results := s.engine.BatchProcess(updates, s.clock())

	for i, r := range results {
		symbol := ""
		if r.Outcome != nil {
			symbol = r.Outcome.Symbol
		} else if sym, err := s.engine.ResolveFeed(updates[i].FeedID); err == nil {
			symbol = sym
		}
		if s.metrics != nil {
			s.metrics.RecordResult(symbol, r.Err)
		}
		if r.Err != nil {
			s.logger.DebugContext(ctx, "update rejected",
				slog.String("feed_id", updates[i].FeedID.Hex()),
				slog.String("symbol", symbol),
				slog.String("reason", domain.ReasonOf(r.Err)),
				slog.String("error", r.Err.Error()),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordLatency("submit", start)
	}
	return results
}

// HandleOutcome delivers one committed outcome to every downstream system.
// Failures are logged and counted; engine state is never rolled back.
func (s *FundingService) HandleOutcome(ctx context.Context, o domain.FundingOutcome) {
	start := time.Now()

	if s.signer != nil {
		sig, err := s.signer.SignOutcome(o)
		if err != nil {
			s.fail(ctx, "sign", o, err)
		} else {
			o.Signature = sig
		}
	}

	if s.states != nil {
		if err := s.states.Save(ctx, snapshotOf(o)); err != nil {
			s.fail(ctx, "persist_state", o, err)
		}
	}
	if s.history != nil {
		if err := s.history.Insert(ctx, o); err != nil {
			s.fail(ctx, "persist_history", o, err)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(o)
		if err != nil {
			s.fail(ctx, "encode", o, err)
		} else {
			if err := s.bus.Publish(ctx, domain.ChannelFunding, payload); err != nil {
				s.fail(ctx, "publish", o, err)
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamFunding, payload); err != nil {
				s.fail(ctx, "stream_append", o, err)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordOutcome(o)
		s.metrics.RecordLatency("handle_outcome", start)
	}

	if o.Clamped {
		s.logger.WarnContext(ctx, "funding rate clamped",
			slog.String("symbol", o.Symbol),
			slog.Int64("rate", o.Rate),
			slog.Uint64("seq", o.Seq),
		)
		if s.notifier != nil {
			title, msg := notify.RateClamped(o)
			if err := s.notifier.Notify(ctx, notify.EventRateClamped, title, msg); err != nil {
				s.logger.WarnContext(ctx, "clamp notification failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *FundingService) fail(ctx context.Context, op string, o domain.FundingOutcome, err error) {
	s.logger.ErrorContext(ctx, "outcome handler failed",
		slog.String("op", op),
		slog.String("symbol", o.Symbol),
		slog.Uint64("seq", o.Seq),
		slog.String("error", err.Error()),
	)
	if s.metrics != nil {
		s.metrics.RecordError(op)
	}
	if s.notifier != nil {
		title, msg := notify.Error("outcome "+op, err)
		if nerr := s.notifier.Notify(ctx, notify.EventError, title, msg); nerr != nil {
			s.logger.WarnContext(ctx, "error notification failed", slog.String("error", nerr.Error()))
		}
	}
}

func snapshotOf(o domain.FundingOutcome) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:            o.Symbol,
		FeedID:            o.FeedID,
		CumulativeFunding: o.CumulativeFunding,
		LastFundingRate:   o.Rate,
		LastUpdateTime:    o.Timestamp,
		LastPrice:         o.Price,
	}
}

// UpdateConfig replaces the engine parameters, then audits and announces
// the change. actor identifies who asked for it.
func (s *FundingService) UpdateConfig(ctx context.Context, params domain.EngineParams, actor string) error {
	old := s.engine.Params()
	if err := s.engine.UpdateConfig(params); err != nil {
		return fmt.Errorf("funding_service: update config: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "config.updated", map[string]any{
			"actor":                   actor,
			"old_min_update_interval": old.MinUpdateInterval.String(),
			"min_update_interval":     params.MinUpdateInterval.String(),
			"old_max_funding_rate":    old.MaxFundingRate,
			"max_funding_rate":        params.MaxFundingRate,
		}); err != nil {
			s.logger.WarnContext(ctx, "config audit failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		title, msg := notify.ConfigUpdated(old, params, actor)
		if err := s.notifier.Notify(ctx, notify.EventConfigUpdated, title, msg); err != nil {
			s.logger.WarnContext(ctx, "config notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Restore loads persisted market state into the engine. It is a no-op when
// no state store is wired.
func (s *FundingService) Restore(ctx context.Context) (int, error) {
	if s.states == nil {
		return 0, nil
	}
	snaps, err := s.states.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("funding_service: load state: %w", err)
	}
	n, err := s.engine.Restore(snaps)
	if err != nil {
		return n, fmt.Errorf("funding_service: restore: %w", err)
	}
	s.logger.InfoContext(ctx, "market state restored",
		slog.Int("restored", n),
		slog.Int("stored", len(snaps)),
	)
	return n, nil
}

// Markets returns snapshots of every market ordered by symbol.
func (s *FundingService) Markets() []domain.MarketSnapshot {
	return s.engine.Snapshots()
}

// Market returns the snapshot of one market.
func (s *FundingService) Market(symbol string) (domain.MarketSnapshot, error) {
	return s.engine.GetMarketSnapshot(symbol)
}

// Rate returns the last computed funding rate of a market.
func (s *FundingService) Rate(symbol string) (int64, error) {
	return s.engine.GetRate(symbol)
}

// Index returns the cumulative funding index of a market.
func (s *FundingService) Index(symbol string) (*uint256.Int, error) {
	return s.engine.GetCumulativeIndex(symbol)
}

// Params returns the current engine parameters.
func (s *FundingService) Params() domain.EngineParams {
	return s.engine.Params()
}

// History returns persisted outcomes of a market, newest first.
func (s *FundingService) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.FundingOutcome, error) {
	if _, err := s.engine.GetMarketSnapshot(symbol); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	out, err := s.history.ListBySymbol(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("funding_service: history %s: %w", symbol, err)
	}
	return out, nil
}
