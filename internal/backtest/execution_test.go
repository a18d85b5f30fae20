package backtest

import (
	"errors"
	"testing"

	"algotrader/internal/domain"
)

func testBar(sym string, open, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    sym,
		Timestamp: t0,
		Open:      open,
		High:      max(open, close),
		Low:       min(open, close),
		Close:     close,
		Volume:    100,
	}
}

func newModel(t *testing.T, mutate func(*ExecutionConfig)) *ExecutionModel {
	t.Helper()
	cfg := DefaultExecutionConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewExecutionModel(cfg)
	if err != nil {
		t.Fatalf("NewExecutionModel returned error: %v", err)
	}
	return m
}

func TestExecutionSellWithoutPositionRejected(t *testing.T) {
	m := newModel(t, nil)
	p := NewPortfolio(1000, false)

	fill, err := m.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionSell}, testBar("AAPL", 10, 10), p)
	if fill != nil {
		t.Fatalf("Fill returned %+v, want nil", fill)
	}
	var ise *InvalidSignalError
	if !errors.As(err, &ise) {
		t.Fatalf("error %v is not *InvalidSignalError", err)
	}
	if p.Cash() != 1000 || len(p.Positions()) != 0 || len(p.Trades()) != 0 {
		t.Error("portfolio changed after a rejected sell")
	}
}

func TestExecutionSizing(t *testing.T) {
	p := NewPortfolio(10000, false)
	mustApply(t, p, domain.Fill{Symbol: "AAPL", Timestamp: t0, Qty: 10, Price: 10})

	tests := []struct {
		name    string
		short   bool
		sig     domain.Signal
		wantQty float64
	}{
		{"buy default qty", false, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy}, 1},
		{"buy with hint", false, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 7}, 7},
		{"sell all by default", false, domain.Signal{Symbol: "AAPL", Action: domain.ActionSell}, -10},
		{"sell hint clamped to holding", false, domain.Signal{Symbol: "AAPL", Action: domain.ActionSell, Qty: 25}, -10},
		{"sell partial", false, domain.Signal{Symbol: "AAPL", Action: domain.ActionSell, Qty: 4}, -4},
		{"sell through zero when shorting", true, domain.Signal{Symbol: "AAPL", Action: domain.ActionSell, Qty: 25}, -25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, func(c *ExecutionConfig) { c.AllowShort = tt.short })
			fill, err := m.Fill(tt.sig, testBar("AAPL", 9, 10), p)
			if err != nil {
				t.Fatalf("Fill returned error: %v", err)
			}
			if fill.Qty != tt.wantQty {
				t.Errorf("qty = %v, want %v", fill.Qty, tt.wantQty)
			}
		})
	}
}

func TestExecutionShortWhenEnabled(t *testing.T) {
	m := newModel(t, func(c *ExecutionConfig) { c.AllowShort = true; c.DefaultQty = 3 })
	p := NewPortfolio(1000, true)

	fill, err := m.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionSell}, testBar("AAPL", 10, 10), p)
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	if fill.Qty != -3 {
		t.Errorf("short qty = %v, want -3", fill.Qty)
	}
}

func TestExecutionPricingPolicies(t *testing.T) {
	p := NewPortfolio(1000, false)
	sig := domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 1}
	bar := testBar("AAPL", 9, 10)

	closeFill, err := newModel(t, nil).Fill(sig, bar, p)
	if err != nil || closeFill.Price != 10 {
		t.Errorf("close policy fill = %+v, %v; want price 10", closeFill, err)
	}

	openFill, err := newModel(t, func(c *ExecutionConfig) { c.Pricing = PriceNextOpen }).Fill(sig, bar, p)
	if err != nil || openFill.Price != 9 {
		t.Errorf("next-open policy fill = %+v, %v; want price 9", openFill, err)
	}
}

func TestExecutionCostsAreDeterministic(t *testing.T) {
	m := newModel(t, func(c *ExecutionConfig) {
		c.Slippage = 0.01
		c.Commission = 0.001
		c.PriceIncrement = 0.01
	})
	p := NewPortfolio(100000, false)
	mustApply(t, p, domain.Fill{Symbol: "AAPL", Timestamp: t0, Qty: 10, Price: 100})

	buy, err := m.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 10}, testBar("AAPL", 100, 100.333), p)
	if err != nil {
		t.Fatalf("Fill(buy) returned error: %v", err)
	}
	// 100.333 * 1.01 = 101.33633 -> 101.34
	if !approx(buy.Price, 101.34) {
		t.Errorf("buy price = %v, want 101.34", buy.Price)
	}
	if !approx(buy.Commission, 10*101.34*0.001) {
		t.Errorf("buy commission = %v, want %v", buy.Commission, 10*101.34*0.001)
	}

	sell, err := m.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionSell}, testBar("AAPL", 100, 100), p)
	if err != nil {
		t.Fatalf("Fill(sell) returned error: %v", err)
	}
	if !approx(sell.Price, 99) {
		t.Errorf("sell price = %v, want 99", sell.Price)
	}

	again, _ := m.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 10}, testBar("AAPL", 100, 100.333), p)
	if *again != *buy {
		t.Errorf("repeated fill %+v differs from %+v", *again, *buy)
	}

	fixed := newModel(t, func(c *ExecutionConfig) { c.Commission = 4.95; c.CommissionMode = CommissionFixed })
	f, err := fixed.Fill(domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 3}, testBar("AAPL", 10, 10), p)
	if err != nil || f.Commission != 4.95 {
		t.Errorf("fixed commission fill = %+v, %v; want commission 4.95", f, err)
	}
}

func TestExecutionRejections(t *testing.T) {
	p := NewPortfolio(100, false)

	tests := []struct {
		name   string
		mutate func(*ExecutionConfig)
		sig    domain.Signal
		bar    domain.Bar
	}{
		{"insufficient cash", nil, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 11}, testBar("AAPL", 10, 10)},
		{"hold", nil, domain.Signal{Symbol: "AAPL", Action: domain.ActionHold}, testBar("AAPL", 10, 10)},
		{"unknown action", nil, domain.Signal{Symbol: "AAPL", Action: "SHORT"}, testBar("AAPL", 10, 10)},
		{"negative hint", nil, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: -1}, testBar("AAPL", 10, 10)},
		{"wrong bar", nil, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy}, testBar("MSFT", 10, 10)},
		{"position limit", func(c *ExecutionConfig) { c.MaxPositionPct = 0.1 }, domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 2}, testBar("AAPL", 10, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, err := newModel(t, tt.mutate).Fill(tt.sig, tt.bar, p)
			if fill != nil || err == nil {
				t.Fatalf("Fill = %+v, %v; want rejection", fill, err)
			}
			var ise *InvalidSignalError
			if !errors.As(err, &ise) {
				t.Errorf("error %T is not *InvalidSignalError", err)
			}
		})
	}
}

func TestExecutionPositionLimitUsesMarkedEquity(t *testing.T) {
	m := newModel(t, func(c *ExecutionConfig) { c.MaxPositionPct = 0.6 })
	p := NewPortfolio(1000, false)
	mustApply(t, p, domain.Fill{Symbol: "AAPL", Timestamp: t0, Qty: 5, Price: 100})
	buy := domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Qty: 20}

	// Valued at cost, equity is 1000 and 25 shares at 20 fit under 600.
	if fill, err := m.Fill(buy, testBar("AAPL", 20, 20), p); fill == nil || err != nil {
		t.Fatalf("Fill at cost-valued equity = %+v, %v; want a fill", fill, err)
	}

	// Marked at 20, equity is 600 and the limit drops to 360.
	p.Mark(map[string]float64{"AAPL": 20})
	if got := p.Equity(); got != 600 {
		t.Fatalf("Equity() = %v, want 600", got)
	}
	fill, err := m.Fill(buy, testBar("AAPL", 20, 20), p)
	var ise *InvalidSignalError
	if fill != nil || !errors.As(err, &ise) {
		t.Errorf("Fill at marked equity = %+v, %v; want position-limit rejection", fill, err)
	}

	// Reducing the position is never limited.
	sell := domain.Signal{Symbol: "AAPL", Action: domain.ActionSell, Qty: 1}
	if fill, err := m.Fill(sell, testBar("AAPL", 20, 20), p); fill == nil || err != nil {
		t.Errorf("reducing Fill = %+v, %v; want a fill", fill, err)
	}
}

func TestParsePolicies(t *testing.T) {
	for in, want := range map[string]PricingPolicy{
		"": PriceClose, "close": PriceClose, "use_current_close": PriceClose,
		"next_open": PriceNextOpen, "USE_NEXT_OPEN": PriceNextOpen,
	} {
		got, err := ParsePricingPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePricingPolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePricingPolicy("vwap"); err == nil {
		t.Error("ParsePricingPolicy(vwap) returned nil error")
	}
	if m, err := ParseCommissionMode("fixed"); err != nil || m != CommissionFixed {
		t.Errorf("ParseCommissionMode(fixed) = %q, %v", m, err)
	}
	if _, err := ParseCommissionMode("tiered"); err == nil {
		t.Error("ParseCommissionMode(tiered) returned nil error")
	}

	bad := DefaultExecutionConfig()
	bad.DefaultQty = 0
	if _, err := NewExecutionModel(bad); err == nil {
		t.Error("NewExecutionModel accepted zero default qty")
	}
}
