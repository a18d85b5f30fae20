package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"algotrader/internal/domain"
	"algotrader/internal/market"
	"algotrader/internal/store"
	"algotrader/internal/strategy"
)

// Request describes a backtest over stored bars.
type Request struct {
	Strategy    string
	Params      strategy.Params
	Symbols     []string
	Market      string
	Start       time.Time
	End         time.Time
	InitialCash float64
}

// Validate checks the request fields that do not depend on stored data.
func (r Request) Validate() error {
	switch {
	case r.Strategy == "":
		return errors.New("strategy is required")
	case len(r.Symbols) == 0:
		return errors.New("at least one symbol is required")
	case r.Start.IsZero() || r.End.IsZero():
		return errors.New("start and end are required")
	case r.End.Before(r.Start):
		return fmt.Errorf("end %s is before start %s", r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly))
	case !(r.InitialCash > 0):
		return fmt.Errorf("initial cash must be positive, got %v", r.InitialCash)
	}
	return nil
}

// Runner replays bars from a BarStore through registered strategies.
type Runner struct {
	bars     store.BarStore
	registry *strategy.Registry
	engine   *Engine
	log      *slog.Logger
}

// NewRunner creates a Runner that reads bars from barStore and looks up
// strategies in registry.
func NewRunner(barStore store.BarStore, registry *strategy.Registry, cfg EngineConfig, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default().With("component", "runner")
	}
	engine, err := NewEngine(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		bars:     barStore,
		registry: registry,
		engine:   engine,
		log:      log,
	}, nil
}

// Engine returns the engine used for runs.
func (r *Runner) Engine() *Engine { return r.engine }

// Strategies lists the registered strategy names.
func (r *Runner) Strategies() []string { return r.registry.List() }

// LoadSeries reads bars for symbols within [start, end] and validates them.
// A symbol with no stored bars is a DataError.
func (r *Runner) LoadSeries(ctx context.Context, symbols []string, mkt string, start, end time.Time) (*market.Series, error) {
	if mkt == "" {
		mkt = string(domain.MarketUS)
	}
	bars := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		got, err := r.bars.ReadBars(ctx, sym, mkt, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if len(got) == 0 {
			return nil, &DataError{Symbol: sym, Index: -1, Reason: fmt.Sprintf("no stored bars between %s and %s", start.Format(time.DateOnly), end.Format(time.DateOnly))}
		}
		r.log.Debug("loaded bars", "symbol", sym, "market", mkt, "count", len(got))
		bars[sym] = got
	}
	return market.NewSeries(bars)
}

// Run loads the requested bars, builds and sets up a fresh strategy
// instance, and runs the engine. Errors follow Engine.Run.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	strat, ok := r.registry.New(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q not found (available: %s)", ErrInvalidRequest, req.Strategy, strings.Join(r.registry.List(), ", "))
	}
	if err := strat.Setup(req.Params); err != nil {
		return nil, fmt.Errorf("%w: setting up %s: %w", ErrInvalidRequest, req.Strategy, err)
	}

	series, err := r.LoadSeries(ctx, req.Symbols, req.Market, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	r.log.Info("starting backtest",
		"strategy", req.Strategy,
		"params", req.Params.Encode(),
		"symbols", series.Symbols(),
		"start", series.Start(),
		"end", series.End(),
		"initialCash", req.InitialCash,
	)
	return r.engine.Run(ctx, series, strat, req.InitialCash)
}

// NewRunSummary converts a run into the summary row persisted by a RunStore.
// res may be a partial result.
func NewRunSummary(req Request, res *Result) domain.RunSummary {
	s := domain.RunSummary{
		Strategy:         res.Strategy,
		Params:           map[string]string(req.Params),
		Symbols:          normalizeSymbols(req.Symbols),
		Start:            res.Start,
		End:              res.End,
		InitialCash:      res.InitialCash,
		FinalEquity:      res.Metrics.FinalEquity,
		Outcome:          string(res.Outcome),
		TotalReturn:      res.Metrics.TotalReturn,
		AnnualizedReturn: res.Metrics.AnnualizedReturn,
		SharpeRatio:      res.Metrics.SharpeRatio,
		MaxDrawdown:      res.Metrics.MaxDrawdown,
		WinRate:          res.Metrics.WinRate,
		ProfitFactor:     res.Metrics.ProfitFactor,
		Timesteps:        res.Timesteps,
		TotalTrades:      len(res.Trades),
		ClosedTrades:     res.Metrics.ClosedTrades,
		Rejected:         len(res.Rejected),
	}
	if s.Params == nil {
		s.Params = map[string]string{}
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}
