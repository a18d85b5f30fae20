package backtest

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"algotrader/internal/domain"
)

// PricingPolicy selects which bar price a signal executes at.
type PricingPolicy string

const (
	// PriceClose fills a signal at the close of the bar the strategy has
	// just seen. The strategy observes that close before deciding, so this
	// policy carries same-bar look-ahead.
	PriceClose PricingPolicy = "close"

	// PriceNextOpen queues a signal and fills it at the open of the
	// symbol's next bar.
	PriceNextOpen PricingPolicy = "next_open"
)

// ParsePricingPolicy accepts "close", "next_open", and their long forms
// "use_current_close" and "use_next_open".
func ParsePricingPolicy(s string) (PricingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "close", "use_current_close":
		return PriceClose, nil
	case "next_open", "use_next_open":
		return PriceNextOpen, nil
	}
	return "", fmt.Errorf("unknown pricing policy %q", s)
}

// CommissionMode selects how commission is computed.
type CommissionMode string

const (
	// CommissionProportional charges Commission × notional.
	CommissionProportional CommissionMode = "proportional"
	// CommissionFixed charges Commission per fill.
	CommissionFixed CommissionMode = "fixed"
)

// ParseCommissionMode parses "proportional" (default) or "fixed".
func ParseCommissionMode(s string) (CommissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proportional", "pct", "percent":
		return CommissionProportional, nil
	case "fixed", "flat":
		return CommissionFixed, nil
	}
	return "", fmt.Errorf("unknown commission mode %q", s)
}

// ExecutionConfig controls how signals become fills.
type ExecutionConfig struct {
	Pricing        PricingPolicy
	Commission     float64
	CommissionMode CommissionMode
	// Slippage is a fraction of price: buys fill at price×(1+Slippage),
	// sells at price×(1−Slippage).
	Slippage   float64
	AllowShort bool
	// DefaultQty sizes BUY signals, and opening shorts, that carry no hint.
	DefaultQty float64
	// PriceIncrement rounds fill prices to the nearest tick when positive.
	PriceIncrement float64
	// MaxPositionPct rejects orders whose resulting position notional
	// exceeds this fraction of equity. Zero disables the check.
	MaxPositionPct float64
}

// DefaultExecutionConfig returns close pricing, no costs, long-only, one
// unit per entry.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Pricing:        PriceClose,
		CommissionMode: CommissionProportional,
		DefaultQty:     1,
	}
}

// Validate checks the configuration for values that cannot produce sane
// fills.
func (c ExecutionConfig) Validate() error {
	if c.Pricing != PriceClose && c.Pricing != PriceNextOpen {
		return fmt.Errorf("invalid pricing policy %q", c.Pricing)
	}
	if c.CommissionMode != CommissionProportional && c.CommissionMode != CommissionFixed {
		return fmt.Errorf("invalid commission mode %q", c.CommissionMode)
	}
	if c.Commission < 0 || c.Slippage < 0 || c.Slippage >= 1 {
		return fmt.Errorf("commission must be >= 0 and slippage in [0, 1)")
	}
	if c.DefaultQty <= 0 {
		return fmt.Errorf("default qty must be positive, got %v", c.DefaultQty)
	}
	if c.PriceIncrement < 0 || c.MaxPositionPct < 0 {
		return fmt.Errorf("price increment and max position pct must be >= 0")
	}
	return nil
}

// ExecutionModel converts signals into fills. It is stateless and
// deterministic: identical inputs always produce identical fills.
type ExecutionModel struct {
	cfg ExecutionConfig
}

// NewExecutionModel validates cfg and returns an ExecutionModel.
func NewExecutionModel(cfg ExecutionConfig) (*ExecutionModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ExecutionModel{cfg: cfg}, nil
}

// Config returns the model's configuration.
func (m *ExecutionModel) Config() ExecutionConfig { return m.cfg }

// ReferencePrice returns the bar price the configured policy executes at.
// Under PriceNextOpen the caller passes the bar after the signal.
func (m *ExecutionModel) ReferencePrice(bar domain.Bar) float64 {
	if m.cfg.Pricing == PriceNextOpen {
		return bar.Open
	}
	return bar.Close
}

// Fill prices sig against bar and checks it against state. It returns a nil
// fill and an *InvalidSignalError when the order cannot be supported.
func (m *ExecutionModel) Fill(sig domain.Signal, bar domain.Bar, state PortfolioState) (*domain.Fill, error) {
	reject := func(format string, args ...any) (*domain.Fill, error) {
		return nil, &InvalidSignalError{
			Time:   bar.Timestamp,
			Symbol: sig.Symbol,
			Action: sig.Action,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	if sig.Symbol != bar.Symbol {
		return reject("bar is for %s", bar.Symbol)
	}
	if sig.Qty < 0 || math.IsNaN(sig.Qty) || math.IsInf(sig.Qty, 0) {
		return reject("invalid quantity hint %v", sig.Qty)
	}

	pos := state.Position(sig.Symbol)

	var qty float64
	switch sig.Action {
	case domain.ActionBuy:
		qty = sig.Qty
		if qty == 0 {
			qty = m.cfg.DefaultQty
		}
	case domain.ActionSell:
		switch {
		case pos.Qty > 0 && !m.cfg.AllowShort:
			qty = pos.Qty
			if sig.Qty > 0 {
				qty = math.Min(sig.Qty, pos.Qty)
			}
		case pos.Qty > 0:
			qty = pos.Qty
			if sig.Qty > 0 {
				qty = sig.Qty
			}
		case !m.cfg.AllowShort:
			return reject("no long position to sell and shorting is disabled")
		default:
			qty = sig.Qty
			if qty == 0 {
				qty = m.cfg.DefaultQty
			}
		}
		qty = -qty
	case domain.ActionHold:
		return reject("hold does not trade")
	default:
		return reject("unknown action %q", sig.Action)
	}

	ref := m.ReferencePrice(bar)
	if !(ref > 0) {
		return reject("no valid price on bar")
	}
	price := m.applySlippage(ref, qty)
	if !(price > 0) {
		return reject("price %v after slippage and rounding is not positive", price)
	}

	fill := &domain.Fill{
		Symbol:     sig.Symbol,
		Timestamp:  bar.Timestamp,
		Qty:        qty,
		Price:      price,
		Commission: m.commission(math.Abs(qty) * price),
	}

	if cash := state.Cash() - fill.Qty*fill.Price - fill.Commission; cash < 0 {
		return reject("insufficient cash: need %.2f, have %.2f", fill.Qty*fill.Price+fill.Commission, state.Cash())
	}

	if m.cfg.MaxPositionPct > 0 {
		after := math.Abs(pos.Qty+qty) * price
		limit := m.cfg.MaxPositionPct * state.Equity()
		if after > limit && math.Abs(pos.Qty+qty) > math.Abs(pos.Qty) {
			return reject("position notional %.2f exceeds %.0f%% of equity", after, m.cfg.MaxPositionPct*100)
		}
	}

	return fill, nil
}

func (m *ExecutionModel) applySlippage(price, qty float64) float64 {
	if qty > 0 {
		price *= 1 + m.cfg.Slippage
	} else {
		price *= 1 - m.cfg.Slippage
	}
	if m.cfg.PriceIncrement <= 0 {
		return price
	}
	inc := decimal.NewFromFloat(m.cfg.PriceIncrement)
	rounded, _ := decimal.NewFromFloat(price).Div(inc).Round(0).Mul(inc).Float64()
	return rounded
}

func (m *ExecutionModel) commission(notional float64) float64 {
	if m.cfg.CommissionMode == CommissionFixed {
		return m.cfg.Commission
	}
	return notional * m.cfg.Commission
}
