package builtins

import (
	"context"
	"fmt"
	"math"

	"algotrader/internal/domain"
	"algotrader/internal/market"
	"algotrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSI)(nil)

// RSI buys oversold symbols and sells held symbols once they are overbought.
// The index uses simple averages of gains and losses over the period.
type RSI struct {
	period     int
	overbought float64
	oversold   float64
	qty        float64
}

// NewRSI creates an RSI strategy with period 14 and 69/30 bands.
func NewRSI() *RSI {
	return &RSI{period: 14, overbought: 69, oversold: 30, qty: 1}
}

// Name returns "rsi".
func (s *RSI) Name() string { return "rsi" }

// Setup reads period, overbought, oversold, and qty.
func (s *RSI) Setup(p strategy.Params) error {
	var err error
	if s.period, err = p.Int("period", s.period); err != nil {
		return err
	}
	if s.overbought, err = p.Float("overbought", s.overbought); err != nil {
		return err
	}
	if s.oversold, err = p.Float("oversold", s.oversold); err != nil {
		return err
	}
	if s.qty, err = p.Float("qty", s.qty); err != nil {
		return err
	}
	switch {
	case s.period < 2:
		return fmt.Errorf("rsi: period must be at least 2, got %d", s.period)
	case s.oversold < 0 || s.overbought > 100 || s.oversold >= s.overbought:
		return fmt.Errorf("rsi: need 0 <= oversold < overbought <= 100, got %v/%v", s.oversold, s.overbought)
	case s.qty <= 0:
		return fmt.Errorf("rsi: qty must be positive, got %v", s.qty)
	}
	return nil
}

// GenerateSignals evaluates the index for every symbol with a bar at this
// timestep and enough history.
func (s *RSI) GenerateSignals(_ context.Context, snap *market.Snapshot) (map[string]domain.Signal, error) {
	signals := make(map[string]domain.Signal)
	for _, sym := range snap.Symbols() {
		if _, ok := snap.Current(sym); !ok {
			continue
		}
		closes := snap.Closes(sym, s.period+1)
		if len(closes) < s.period+1 {
			continue
		}
		v := relativeStrength(closes)
		if math.IsNaN(v) {
			continue
		}
		pos, held := snap.Position(sym)

		switch {
		case v < s.oversold && !held:
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionBuy, Qty: s.qty, Reason: fmt.Sprintf("rsi %.2f < %.0f", v, s.oversold)}
		case v > s.overbought && held && pos.Qty > 0:
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionSell, Reason: fmt.Sprintf("rsi %.2f > %.0f", v, s.overbought)}
		}
	}
	return signals, nil
}

// relativeStrength returns the RSI of closes, using every consecutive
// difference. A window with no losses is 100; a flat window is NaN.
func relativeStrength(closes []float64) float64 {
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	n := float64(len(closes) - 1)
	gain, loss = gain/n, loss/n
	switch {
	case gain == 0 && loss == 0:
		return math.NaN()
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}
