package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"algotrader/internal/domain"
	"algotrader/internal/store"
	"algotrader/internal/strategy"
)

func writeTestBars(t *testing.T, ps *store.ParquetStore, bars ...[]domain.Bar) {
	t.Helper()
	for _, b := range bars {
		if err := ps.WriteBars(context.Background(), b); err != nil {
			t.Fatalf("WriteBars: %v", err)
		}
	}
}

func newTestRunner(t *testing.T) (*Runner, *store.ParquetStore) {
	t.Helper()
	ps := store.NewParquetStore(t.TempDir())
	reg := strategy.NewRegistry()
	reg.Register(func() strategy.Strategy { return &buyOnce{} })
	r, err := NewRunner(ps, reg, DefaultEngineConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, ps
}

func TestRunnerRun(t *testing.T) {
	r, ps := newTestRunner(t)
	writeTestBars(t, ps, makeBars("AAPL", 0, 10, 12, 14), makeBars("MSFT", 0, 20, 21, 22))

	req := Request{
		Strategy:    "buy-once",
		Params:      strategy.Params{"qty": "3"},
		Symbols:     []string{"aapl", "MSFT"},
		Start:       day(0),
		End:         day(10),
		InitialCash: 1000,
	}
	res, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Timesteps != 3 || len(res.Trades) != 2 {
		t.Errorf("timesteps/trades = %d/%d, want 3/2", res.Timesteps, len(res.Trades))
	}
	// 3×10 + 3×20 spent, marked at 14 and 22 on the last step.
	wantFinal := 1000 - 90 + 3*14 + 3*22.0
	if !approx(res.Metrics.FinalEquity, wantFinal) {
		t.Errorf("FinalEquity = %v, want %v", res.Metrics.FinalEquity, wantFinal)
	}

	sum := NewRunSummary(req, res)
	if sum.Strategy != "buy-once" || sum.Outcome != "completed" || sum.TotalTrades != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if strings.Join(sum.Symbols, ",") != "AAPL,MSFT" || sum.Params["qty"] != "3" {
		t.Errorf("summary symbols/params = %v/%v", sum.Symbols, sum.Params)
	}
	if sum.Error != "" {
		t.Errorf("summary error = %q, want empty", sum.Error)
	}
}

func TestRunnerErrors(t *testing.T) {
	r, ps := newTestRunner(t)
	writeTestBars(t, ps, makeBars("AAPL", 0, 10, 12))

	base := Request{
		Strategy:    "buy-once",
		Symbols:     []string{"AAPL"},
		Start:       day(0),
		End:         day(5),
		InitialCash: 1000,
	}

	tests := []struct {
		name     string
		mutate   func(*Request)
		wantData bool
	}{
		{"unknown strategy", func(r *Request) { r.Strategy = "nope" }, false},
		{"bad params", func(r *Request) { r.Params = strategy.Params{"qty": "abc"} }, false},
		{"no symbols", func(r *Request) { r.Symbols = nil }, false},
		{"end before start", func(r *Request) { r.Start, r.End = r.End, r.Start }, false},
		{"zero cash", func(r *Request) { r.InitialCash = 0 }, false},
		{"missing bars", func(r *Request) { r.Symbols = []string{"AAPL", "TSLA"} }, true},
		{"empty window", func(r *Request) { r.Start, r.End = day(100), day(200) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			res, err := r.Run(context.Background(), req)
			if err == nil || res != nil {
				t.Fatalf("Run = %v, %v; want nil result and error", res, err)
			}
			var de *DataError
			if got := errors.As(err, &de); got != tt.wantData {
				t.Errorf("errors.As(DataError) = %v, want %v (err: %v)", got, tt.wantData, err)
			}
			if got := errors.Is(err, ErrInvalidRequest); got == tt.wantData {
				t.Errorf("errors.Is(ErrInvalidRequest) = %v, want %v (err: %v)", got, !tt.wantData, err)
			}
		})
	}
}

func TestNewRunSummaryRecordsFailure(t *testing.T) {
	res := &Result{
		Strategy: "faulty",
		Outcome:  OutcomeStrategyFailure,
		Err:      &StrategyError{Strategy: "faulty", Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Err: errors.New("boom")},
		Metrics:  Summarize(nil, nil, DefaultMetricsConfig()),
	}
	sum := NewRunSummary(Request{Symbols: []string{"aapl"}}, res)
	if sum.Outcome != string(OutcomeStrategyFailure) || !strings.Contains(sum.Error, "boom") {
		t.Errorf("summary outcome/error = %q/%q", sum.Outcome, sum.Error)
	}
	if sum.Params == nil {
		t.Error("summary params is nil")
	}
}
