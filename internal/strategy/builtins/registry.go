package builtins

import "algotrader/internal/strategy"

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(func() strategy.Strategy { return NewMomentum() })
	r.Register(func() strategy.Strategy { return NewSMACross(10, 30) })
	r.Register(func() strategy.Strategy { return NewRSI() })
	r.Register(func() strategy.Strategy { return NewMAVolume() })
}
