// Package builtins provides built-in strategy implementations that ship with
// the algotrader platform.
package builtins

import (
	"context"
	"fmt"

	"algotrader/internal/domain"
	"algotrader/internal/market"
	"algotrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	qty         float64
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		qty:         1,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Setup reads the short, long, and qty parameters.
func (s *SMACross) Setup(p strategy.Params) error {
	var err error
	if s.shortPeriod, err = p.Int("short", s.shortPeriod); err != nil {
		return err
	}
	if s.longPeriod, err = p.Int("long", s.longPeriod); err != nil {
		return err
	}
	if s.qty, err = p.Float("qty", s.qty); err != nil {
		return err
	}
	if s.shortPeriod < 1 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: need 1 <= short < long, got short=%d long=%d", s.shortPeriod, s.longPeriod)
	}
	if s.qty <= 0 {
		return fmt.Errorf("sma-cross: qty must be positive, got %v", s.qty)
	}
	return nil
}

// GenerateSignals detects a crossover between the previous and the current
// bar for every symbol that has a bar at this timestep.
func (s *SMACross) GenerateSignals(_ context.Context, snap *market.Snapshot) (map[string]domain.Signal, error) {
	signals := make(map[string]domain.Signal)
	for _, sym := range snap.Symbols() {
		if _, ok := snap.Current(sym); !ok {
			continue
		}
		closes := snap.Closes(sym, s.longPeriod+1)
		if len(closes) < s.longPeriod+1 {
			continue
		}

		prev, cur := closes[:len(closes)-1], closes[1:]
		prevDiff := sma(prev, s.shortPeriod) - sma(prev, s.longPeriod)
		curDiff := sma(cur, s.shortPeriod) - sma(cur, s.longPeriod)
		pos, held := snap.Position(sym)

		switch {
		case prevDiff <= 0 && curDiff > 0 && !held:
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionBuy, Qty: s.qty, Reason: "sma cross up"}
		case prevDiff >= 0 && curDiff < 0 && held && pos.Qty > 0:
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionSell, Reason: "sma cross down"}
		}
	}
	return signals, nil
}

// sma averages the last n values.
func sma(values []float64, n int) float64 {
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
