package backtest

import (
	"math"
	"testing"
	"time"

	"algotrader/internal/domain"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPortfolioBuyThenSellRealizesPnL(t *testing.T) {
	p := NewPortfolio(1000, false)

	buy, err := p.Apply(domain.Fill{Symbol: "AAPL", Timestamp: t0, Qty: 10, Price: 50})
	if err != nil {
		t.Fatalf("Apply(buy) returned error: %v", err)
	}
	if buy.Closing || buy.RealizedPnL != 0 {
		t.Errorf("buy record = %+v, want opening trade with no P&L", buy)
	}
	if p.Cash() != 500 {
		t.Errorf("cash after buy = %v, want 500", p.Cash())
	}

	sell, err := p.Apply(domain.Fill{Symbol: "AAPL", Timestamp: t0.AddDate(0, 0, 1), Qty: -10, Price: 60})
	if err != nil {
		t.Fatalf("Apply(sell) returned error: %v", err)
	}
	if !sell.Closing {
		t.Error("sell record not marked closing")
	}
	if sell.RealizedPnL != 100 {
		t.Errorf("realized P&L = %v, want 100", sell.RealizedPnL)
	}
	if p.Cash() != 1100 {
		t.Errorf("cash after sell = %v, want 1100", p.Cash())
	}
	if len(p.Positions()) != 0 {
		t.Errorf("positions after close = %v, want none", p.Positions())
	}

	closing := 0
	for _, tr := range p.Trades() {
		if tr.Closing {
			closing++
			if tr.RealizedPnL <= 0 {
				t.Errorf("closing trade P&L = %v, want positive", tr.RealizedPnL)
			}
		}
	}
	if closing != 1 {
		t.Errorf("closing trades = %d, want 1", closing)
	}
}

func TestPortfolioWeightedAverageCost(t *testing.T) {
	p := NewPortfolio(10000, false)
	mustApply(t, p, domain.Fill{Symbol: "MSFT", Timestamp: t0, Qty: 10, Price: 100})
	mustApply(t, p, domain.Fill{Symbol: "MSFT", Timestamp: t0, Qty: 30, Price: 120})

	pos := p.Position("MSFT")
	if pos.Qty != 40 {
		t.Errorf("qty = %v, want 40", pos.Qty)
	}
	if !approx(pos.AvgCost, 115) {
		t.Errorf("avg cost = %v, want 115", pos.AvgCost)
	}

	// Partial reduction keeps the basis and realizes on the reduced part.
	rec := mustApply(t, p, domain.Fill{Symbol: "MSFT", Timestamp: t0, Qty: -10, Price: 110, Commission: 2})
	if !approx(rec.RealizedPnL, (110-115)*10-2) {
		t.Errorf("realized = %v, want %v", rec.RealizedPnL, (110-115)*10-2)
	}
	if pos := p.Position("MSFT"); pos.Qty != 30 || !approx(pos.AvgCost, 115) {
		t.Errorf("position after reduce = %+v, want qty 30 avg 115", pos)
	}
	wantCash := 10000.0 - 1000 - 3600 + 1100 - 2
	if !approx(p.Cash(), wantCash) {
		t.Errorf("cash = %v, want %v", p.Cash(), wantCash)
	}
}

func TestPortfolioRejectsWithoutMutation(t *testing.T) {
	p := NewPortfolio(100, false)

	tests := []struct {
		name string
		fill domain.Fill
	}{
		{"insufficient cash", domain.Fill{Symbol: "AAPL", Qty: 10, Price: 50}},
		{"short disabled", domain.Fill{Symbol: "AAPL", Qty: -1, Price: 50}},
		{"zero qty", domain.Fill{Symbol: "AAPL", Qty: 0, Price: 50}},
		{"bad price", domain.Fill{Symbol: "AAPL", Qty: 1, Price: 0}},
		{"nan price", domain.Fill{Symbol: "AAPL", Qty: 1, Price: math.NaN()}},
		{"negative commission", domain.Fill{Symbol: "AAPL", Qty: 1, Price: 1, Commission: -1}},
		{"no symbol", domain.Fill{Qty: 1, Price: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Apply(tt.fill); err == nil {
				t.Fatal("Apply returned nil error")
			}
			if p.Cash() != 100 || len(p.Positions()) != 0 || len(p.Trades()) != 0 {
				t.Errorf("portfolio mutated: cash=%v positions=%v trades=%d", p.Cash(), p.Positions(), len(p.Trades()))
			}
		})
	}
}

func TestPortfolioShortAndFlip(t *testing.T) {
	p := NewPortfolio(1000, true)

	mustApply(t, p, domain.Fill{Symbol: "TSLA", Timestamp: t0, Qty: -5, Price: 100})
	if pos := p.Position("TSLA"); pos.Qty != -5 || pos.Side() != domain.PositionSideShort {
		t.Fatalf("position = %+v, want short 5", pos)
	}
	if p.Cash() != 1500 {
		t.Errorf("cash after short = %v, want 1500", p.Cash())
	}

	// Buy 8 at 90: covers 5 (+50) and opens 3 long at 90.
	rec := mustApply(t, p, domain.Fill{Symbol: "TSLA", Timestamp: t0, Qty: 8, Price: 90, Commission: 8})
	wantPnL := (90.0-100)*5*-1 - 8*5.0/8
	if !approx(rec.RealizedPnL, wantPnL) {
		t.Errorf("realized on flip = %v, want %v", rec.RealizedPnL, wantPnL)
	}
	if pos := p.Position("TSLA"); pos.Qty != 3 || pos.AvgCost != 90 {
		t.Errorf("position after flip = %+v, want long 3 @ 90", pos)
	}
	if !approx(p.Cash(), 1500-720-8) {
		t.Errorf("cash after flip = %v, want %v", p.Cash(), 1500-720-8)
	}
}

func TestPortfolioMarkToMarketIdentity(t *testing.T) {
	p := NewPortfolio(1000, false)
	mustApply(t, p, domain.Fill{Symbol: "AAPL", Timestamp: t0, Qty: 2, Price: 100})
	mustApply(t, p, domain.Fill{Symbol: "MSFT", Timestamp: t0, Qty: 3, Price: 50})

	snap := p.MarkToMarket(t0, map[string]float64{"AAPL": 110, "MSFT": 40})
	if !approx(snap.MarketValue, 2*110+3*40) {
		t.Errorf("market value = %v, want %v", snap.MarketValue, 2*110+3*40)
	}
	if !approx(snap.TotalEquity, snap.Cash+snap.MarketValue) {
		t.Errorf("equity %v != cash %v + mv %v", snap.TotalEquity, snap.Cash, snap.MarketValue)
	}

	// MSFT missing from the next marks: its last price is kept, not zero.
	snap = p.MarkToMarket(t0.AddDate(0, 0, 1), map[string]float64{"AAPL": 120})
	if !approx(snap.MarketValue, 2*120+3*40) {
		t.Errorf("market value with missing MSFT = %v, want %v", snap.MarketValue, 2*120+3*40)
	}
	if !approx(p.Equity(), snap.TotalEquity) {
		t.Errorf("Equity() = %v, want %v", p.Equity(), snap.TotalEquity)
	}
}

func mustApply(t *testing.T, p *Portfolio, f domain.Fill) domain.TradeRecord {
	t.Helper()
	rec, err := p.Apply(f)
	if err != nil {
		t.Fatalf("Apply(%+v) returned error: %v", f, err)
	}
	return rec
}
