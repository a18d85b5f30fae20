// Package api exposes stored backtest runs and on-demand backtests over
// HTTP and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"algotrader/internal/backtest"
	"algotrader/internal/domain"
	"algotrader/internal/store"
	"algotrader/internal/strategy"
	"algotrader/pkg/algotrader"
)

// Service holds the transport-independent logic behind both servers.
type Service struct {
	runs        store.RunStore
	runner      *backtest.Runner
	defaultCash float64
	log         *slog.Logger
}

// NewService creates a Service. runner may be nil, in which case
// RunBacktest is unavailable and the API is read-only.
func NewService(runs store.RunStore, runner *backtest.Runner, defaultCash float64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default().With("component", "api")
	}
	return &Service{runs: runs, runner: runner, defaultCash: defaultCash, log: log}
}

// ListRuns returns persisted runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]algotrader.Run, error) {
	sums, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]algotrader.Run, 0, len(sums))
	for _, sum := range sums {
		out = append(out, runJSON(sum))
	}
	return out, nil
}

// GetRun returns one run or an error wrapping store.ErrNotFound.
func (s *Service) GetRun(ctx context.Context, id string) (algotrader.Run, error) {
	sum, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return algotrader.Run{}, err
	}
	return runJSON(*sum), nil
}

// Trades returns the trade log of a run.
func (s *Service) Trades(ctx context.Context, id string) ([]algotrader.Trade, error) {
	trades, err := s.runs.ListTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]algotrader.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, algotrader.Trade{
			Seq:           t.Seq,
			Symbol:        t.Symbol,
			Timestamp:     t.Timestamp,
			Side:          string(t.Side),
			Qty:           t.Qty,
			Price:         t.Price,
			Commission:    t.Commission,
			RealizedPnL:   t.RealizedPnL,
			Closing:       t.Closing,
			PositionAfter: t.PositionAfter,
			CashAfter:     t.CashAfter,
		})
	}
	return out, nil
}

// Equity returns the equity curve of a run.
func (s *Service) Equity(ctx context.Context, id string) ([]algotrader.EquityPoint, error) {
	points, err := s.runs.ListEquity(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]algotrader.EquityPoint, 0, len(points))
	for _, p := range points {
		out = append(out, algotrader.EquityPoint{
			Timestamp:   p.Timestamp,
			Cash:        p.Cash,
			MarketValue: p.MarketValue,
			TotalEquity: p.TotalEquity,
		})
	}
	return out, nil
}

// Strategies lists the strategies RunBacktest accepts.
func (s *Service) Strategies() []string {
	if s.runner == nil {
		return []string{}
	}
	return s.runner.Strategies()
}

// RunBacktest runs req to completion and persists the result. Runs that end
// in a strategy failure or cancellation are still saved; their Outcome and
// Error fields describe what happened. Requests that never start return an
// error wrapping backtest.ErrInvalidRequest or a *backtest.DataError.
func (s *Service) RunBacktest(ctx context.Context, in algotrader.BacktestRequest) (algotrader.Run, error) {
	if s.runner == nil {
		return algotrader.Run{}, errors.New("backtests are disabled on this server")
	}
	req, err := s.toRequest(in)
	if err != nil {
		return algotrader.Run{}, err
	}

	res, err := s.runner.Run(ctx, req)
	if res == nil {
		return algotrader.Run{}, err
	}
	if err != nil {
		s.log.Warn("backtest ended early", "strategy", req.Strategy, "outcome", res.Outcome, "err", err)
	}

	sum := backtest.NewRunSummary(req, res)
	// The run is stored even when the caller has gone away.
	id, err := s.runs.SaveRun(context.WithoutCancel(ctx), sum, res.Equity, res.Trades)
	if err != nil {
		return algotrader.Run{}, fmt.Errorf("saving run: %w", err)
	}
	s.log.Info("run saved", "id", id, "strategy", req.Strategy, "outcome", res.Outcome)
	return s.GetRun(context.WithoutCancel(ctx), id)
}

func (s *Service) toRequest(in algotrader.BacktestRequest) (backtest.Request, error) {
	start, err := time.Parse(algotrader.DateLayout, in.Start)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("%w: start: %w", backtest.ErrInvalidRequest, err)
	}
	end, err := time.Parse(algotrader.DateLayout, in.End)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("%w: end: %w", backtest.ErrInvalidRequest, err)
	}
	cash := in.InitialCash
	if cash == 0 {
		cash = s.defaultCash
	}
	return backtest.Request{
		Strategy: strings.TrimSpace(in.Strategy),
		Params:   strategy.Params(in.Params),
		Symbols:  in.Symbols,
		Market:   in.Market,
		Start:    start,
		// Bars are stamped within the day, so the end date is inclusive.
		End:         end.AddDate(0, 0, 1).Add(-time.Nanosecond),
		InitialCash: cash,
	}, nil
}

func runJSON(s domain.RunSummary) algotrader.Run {
	return algotrader.Run{
		ID:               s.ID,
		Strategy:         s.Strategy,
		Params:           s.Params,
		Symbols:          s.Symbols,
		Start:            s.Start,
		End:              s.End,
		InitialCash:      s.InitialCash,
		FinalEquity:      optional(s.FinalEquity),
		Outcome:          s.Outcome,
		Error:            s.Error,
		TotalReturn:      optional(s.TotalReturn),
		AnnualizedReturn: optional(s.AnnualizedReturn),
		SharpeRatio:      optional(s.SharpeRatio),
		MaxDrawdown:      optional(s.MaxDrawdown),
		WinRate:          optional(s.WinRate),
		ProfitFactor:     optional(s.ProfitFactor),
		Timesteps:        s.Timesteps,
		TotalTrades:      s.TotalTrades,
		ClosedTrades:     s.ClosedTrades,
		Rejected:         s.Rejected,
		CreatedAt:        s.CreatedAt,
	}
}

// optional maps undefined metrics (NaN or infinite) to null.
func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// errorKind classifies an error for transport status mapping.
type errorKind int

const (
	kindInternal errorKind = iota
	kindNotFound
	kindInvalid
	kindCancelled
)

func classify(err error) errorKind {
	var de *backtest.DataError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return kindNotFound
	case errors.Is(err, backtest.ErrInvalidRequest), errors.As(err, &de):
		return kindInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return kindCancelled
	}
	return kindInternal
}
