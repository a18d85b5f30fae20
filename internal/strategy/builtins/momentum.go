package builtins

import (
	"context"
	"fmt"
	"strings"

	"algotrader/internal/domain"
	"algotrader/internal/market"
	"algotrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum)(nil)

// Momentum buys symbols whose close has risen more than Threshold over the
// lookback window and sells the whole holding when it has fallen by more
// than Threshold.
type Momentum struct {
	lookback  int
	threshold float64
	qty       float64
	symbols   map[string]bool // nil means every symbol in the snapshot
}

// NewMomentum creates a Momentum strategy with the default parameters
// (20 bars, 5% threshold, 10 units per entry).
func NewMomentum() *Momentum {
	return &Momentum{lookback: 20, threshold: 0.05, qty: 10}
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return "momentum"
}

// Setup reads lookback, threshold, qty, and an optional symbols filter.
func (m *Momentum) Setup(p strategy.Params) error {
	var err error
	if m.lookback, err = p.Int("lookback", m.lookback); err != nil {
		return err
	}
	if m.threshold, err = p.Float("threshold", m.threshold); err != nil {
		return err
	}
	if m.qty, err = p.Float("qty", m.qty); err != nil {
		return err
	}
	if m.lookback < 2 {
		return fmt.Errorf("momentum: lookback must be at least 2, got %d", m.lookback)
	}
	if m.threshold < 0 || m.qty <= 0 {
		return fmt.Errorf("momentum: threshold must be >= 0 and qty > 0")
	}
	if syms := p.Strings("symbols"); len(syms) > 0 {
		m.symbols = make(map[string]bool, len(syms))
		for _, s := range syms {
			m.symbols[strings.ToUpper(s)] = true
		}
	}
	return nil
}

// GenerateSignals computes momentum over the lookback window for every
// symbol with a bar at the current timestep.
func (m *Momentum) GenerateSignals(_ context.Context, snap *market.Snapshot) (map[string]domain.Signal, error) {
	signals := make(map[string]domain.Signal)
	for _, sym := range snap.Symbols() {
		if m.symbols != nil && !m.symbols[sym] {
			continue
		}
		if _, ok := snap.Current(sym); !ok {
			continue
		}
		closes := snap.Closes(sym, m.lookback)
		if len(closes) < m.lookback {
			continue
		}

		first, last := closes[0], closes[len(closes)-1]
		momentum := (last - first) / first
		pos, held := snap.Position(sym)

		switch {
		case momentum > m.threshold && !held:
			signals[sym] = domain.Signal{
				Symbol: sym,
				Action: domain.ActionBuy,
				Qty:    m.qty,
				Reason: fmt.Sprintf("momentum %.4f > %.4f", momentum, m.threshold),
			}
		case momentum < -m.threshold && held && pos.Qty > 0:
			signals[sym] = domain.Signal{
				Symbol: sym,
				Action: domain.ActionSell,
				Reason: fmt.Sprintf("momentum %.4f < %.4f", momentum, -m.threshold),
			}
		}
	}
	return signals, nil
}
