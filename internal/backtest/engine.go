// Package backtest replays historical bars through a strategy, simulating
// order execution against a portfolio and deriving performance statistics.
//
// Runs are single-threaded and deterministic: the same series, strategy, and
// configuration always produce the same equity history and trade log.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"algotrader/internal/domain"
	"algotrader/internal/market"
	"algotrader/internal/strategy"
)

// Outcome describes how a run ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeStrategyFailure Outcome = "strategy_failure"
	OutcomeCancelled       Outcome = "cancelled"
)

// EngineConfig holds the execution and metrics settings of a run.
type EngineConfig struct {
	Execution ExecutionConfig
	Metrics   MetricsConfig
}

// DefaultEngineConfig returns DefaultExecutionConfig and
// DefaultMetricsConfig.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Execution: DefaultExecutionConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// RejectedOrder records a signal that produced no fill.
type RejectedOrder struct {
	Time   time.Time
	Symbol string
	Action domain.Action
	Qty    float64
	Reason string
}

// Result is everything a run produced. On strategy failure or cancellation
// it holds the history up to the last completed timestep.
type Result struct {
	Strategy    string
	Outcome     Outcome
	Err         error
	InitialCash float64
	FinalCash   float64
	Start       time.Time
	End         time.Time
	Timesteps   int // timesteps in the series
	Equity      []domain.EquitySnapshot
	Trades      []domain.TradeRecord
	Positions   []domain.Position
	Rejected    []RejectedOrder
	// Expired holds next-open orders still queued when the series ended.
	Expired []domain.Signal
	Metrics Metrics
}

// Engine runs backtests. An Engine holds only immutable configuration, so
// one Engine may serve many runs; every run owns its own Portfolio.
type Engine struct {
	cfg  EngineConfig
	exec *ExecutionModel
	log  *slog.Logger
}

// NewEngine validates cfg and creates an Engine. A nil logger falls back to
// the default slog logger.
func NewEngine(cfg EngineConfig, log *slog.Logger) (*Engine, error) {
	exec, err := NewExecutionModel(cfg.Execution)
	if err != nil {
		return nil, fmt.Errorf("execution config: %w", err)
	}
	if cfg.Metrics.PeriodsPerYear <= 0 {
		cfg.Metrics.PeriodsPerYear = DefaultMetricsConfig().PeriodsPerYear
	}
	if log == nil {
		log = slog.Default().With("component", "backtest")
	}
	return &Engine{cfg: cfg, exec: exec, log: log}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig { return e.cfg }

// pendingOrder is a signal waiting for its symbol's next open.
type pendingOrder struct {
	signal   domain.Signal
	queuedAt time.Time
}

// run holds the mutable state of one backtest.
type run struct {
	*Engine
	series  *market.Series
	port    *Portfolio
	pending map[string]pendingOrder
	res     *Result
}

// Run replays series through strat starting from initialCash. The strategy
// must already be set up.
//
// A malformed series or invalid cash returns a nil Result and an error. A
// strategy failure returns the partial Result with Outcome
// OutcomeStrategyFailure together with a *StrategyError. Cancelling ctx
// stops the run between timesteps with Outcome OutcomeCancelled.
func (e *Engine) Run(ctx context.Context, series *market.Series, strat strategy.Strategy, initialCash float64) (*Result, error) {
	if series == nil {
		return nil, &DataError{Symbol: "*", Index: -1, Reason: "nil series"}
	}
	if strat == nil {
		return nil, errors.New("backtest: nil strategy")
	}
	if !(initialCash > 0) {
		return nil, fmt.Errorf("backtest: initial cash must be positive, got %v", initialCash)
	}

	timeline := series.Timeline()
	r := &run{
		Engine:  e,
		series:  series,
		port:    NewPortfolio(initialCash, e.cfg.Execution.AllowShort),
		pending: make(map[string]pendingOrder),
		res: &Result{
			Strategy:    strat.Name(),
			Outcome:     OutcomeCompleted,
			InitialCash: initialCash,
			Start:       series.Start(),
			End:         series.End(),
			Timesteps:   len(timeline),
			Equity:      make([]domain.EquitySnapshot, 0, len(timeline)),
		},
	}

	for _, t := range timeline {
		if err := ctx.Err(); err != nil {
			r.res.Outcome = OutcomeCancelled
			r.res.Err = err
			break
		}
		if err := r.step(ctx, strat, t); err != nil {
			r.res.Outcome = OutcomeStrategyFailure
			r.res.Err = err
			e.log.Error("strategy failed, aborting run",
				"strategy", strat.Name(),
				"time", t,
				"err", err,
			)
			break
		}
	}

	r.finish()

	e.log.Info("backtest finished",
		"strategy", strat.Name(),
		"outcome", r.res.Outcome,
		"steps", len(r.res.Equity),
		"trades", len(r.res.Trades),
		"rejected", len(r.res.Rejected),
		"finalEquity", r.res.Metrics.FinalEquity,
	)
	return r.res, r.res.Err
}

// step advances the simulation by one timestep.
func (r *run) step(ctx context.Context, strat strategy.Strategy, t time.Time) error {
	current := make(map[string]domain.Bar)
	for _, sym := range r.series.Symbols() {
		if b, ok := r.series.BarAt(sym, t); ok {
			current[sym] = b
		}
	}

	// Sizing limits see equity at this step's execution prices, not the
	// previous step's closes.
	r.port.Mark(r.refPrices(current))

	// Orders queued on earlier steps fill at this step's open.
	if len(r.pending) > 0 {
		for _, sym := range sortedKeys(r.pending) {
			bar, ok := current[sym]
			if !ok {
				continue
			}
			po := r.pending[sym]
			delete(r.pending, sym)
			r.execute(po.signal, bar)
		}
	}

	snap := r.series.Snapshot(t, r.port.Positions())
	signals, err := generate(ctx, strat, snap)
	if err != nil {
		return &StrategyError{Strategy: strat.Name(), Time: t, Err: err}
	}

	for _, sym := range sortedKeys(signals) {
		sig := signals[sym]
		if sig.Symbol == "" {
			sig.Symbol = sym
		}
		if sig.Action == domain.ActionHold {
			continue
		}
		if reason := r.checkSignal(sym, sig); reason != "" {
			r.reject(t, sig, reason)
			continue
		}

		if r.cfg.Execution.Pricing == PriceNextOpen {
			if prev, ok := r.pending[sym]; ok {
				r.log.Debug("replacing queued order", "symbol", sym, "queuedAt", prev.queuedAt)
			}
			r.pending[sym] = pendingOrder{signal: sig, queuedAt: t}
			continue
		}

		bar, ok := current[sym]
		if !ok {
			r.reject(t, sig, "no bar for symbol at this timestep")
			continue
		}
		r.execute(sig, bar)
	}

	closes := make(map[string]float64, len(current))
	for sym, b := range current {
		closes[sym] = b.Close
	}
	r.res.Equity = append(r.res.Equity, r.port.MarkToMarket(t, closes))
	return nil
}

// refPrices returns the price each current bar executes at.
func (r *run) refPrices(current map[string]domain.Bar) map[string]float64 {
	prices := make(map[string]float64, len(current))
	for sym, b := range current {
		prices[sym] = r.exec.ReferencePrice(b)
	}
	return prices
}

// checkSignal returns a rejection reason, or "" when sig may be routed.
func (r *run) checkSignal(key string, sig domain.Signal) string {
	switch {
	case sig.Symbol != key:
		return fmt.Sprintf("signal for %s returned under key %s", sig.Symbol, key)
	case !r.series.Has(sig.Symbol):
		return "unknown symbol"
	case !sig.Action.Valid():
		return fmt.Sprintf("unknown action %q", sig.Action)
	case sig.Qty < 0:
		return fmt.Sprintf("negative quantity hint %v", sig.Qty)
	}
	return ""
}

// execute routes sig through the execution model into the portfolio.
func (r *run) execute(sig domain.Signal, bar domain.Bar) {
	fill, err := r.exec.Fill(sig, bar, r.port)
	if err != nil {
		var ise *InvalidSignalError
		if errors.As(err, &ise) {
			r.reject(bar.Timestamp, sig, ise.Reason)
			return
		}
		r.reject(bar.Timestamp, sig, err.Error())
		return
	}
	if _, err := r.port.Apply(*fill); err != nil {
		r.reject(bar.Timestamp, sig, err.Error())
	}
}

func (r *run) reject(t time.Time, sig domain.Signal, reason string) {
	r.log.Warn("order rejected",
		"symbol", sig.Symbol,
		"action", sig.Action,
		"qty", sig.Qty,
		"reason", reason,
		"time", t,
	)
	r.res.Rejected = append(r.res.Rejected, RejectedOrder{
		Time:   t,
		Symbol: sig.Symbol,
		Action: sig.Action,
		Qty:    sig.Qty,
		Reason: reason,
	})
}

// finish copies final portfolio state into the result and computes metrics.
func (r *run) finish() {
	for _, sym := range sortedKeys(r.pending) {
		r.res.Expired = append(r.res.Expired, r.pending[sym].signal)
	}
	r.res.FinalCash = r.port.Cash()
	r.res.Positions = r.port.Positions()
	r.res.Trades = r.port.Trades()

	mcfg := r.cfg.Metrics
	mcfg.InitialEquity = r.res.InitialCash
	r.res.Metrics = Summarize(r.res.Equity, r.res.Trades, mcfg)
}

// generate calls the strategy, converting a panic into an error so a faulty
// strategy aborts its run instead of the process.
func generate(ctx context.Context, strat strategy.Strategy, snap *market.Snapshot) (signals map[string]domain.Signal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return strat.GenerateSignals(ctx, snap)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
