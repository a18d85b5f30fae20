package config

import (
	"fmt"

	"algotrader/internal/backtest"
)

// EngineConfig converts the backtest section into an engine configuration
// and validates it.
func (b BacktestConfig) EngineConfig() (backtest.EngineConfig, error) {
	pricing, err := backtest.ParsePricingPolicy(b.Pricing)
	if err != nil {
		return backtest.EngineConfig{}, fmt.Errorf("backtest.pricing: %w", err)
	}
	mode, err := backtest.ParseCommissionMode(b.CommissionMode)
	if err != nil {
		return backtest.EngineConfig{}, fmt.Errorf("backtest.commission_mode: %w", err)
	}

	cfg := backtest.EngineConfig{
		Execution: backtest.ExecutionConfig{
			Pricing:        pricing,
			Commission:     b.Commission,
			CommissionMode: mode,
			Slippage:       b.Slippage,
			AllowShort:     b.AllowShort,
			DefaultQty:     b.DefaultQty,
			PriceIncrement: b.PriceIncrement,
			MaxPositionPct: b.MaxPositionPct,
		},
		Metrics: backtest.MetricsConfig{
			RiskFreeRate:   b.RiskFreeRate,
			PeriodsPerYear: b.PeriodsPerYear,
		},
	}
	if err := cfg.Execution.Validate(); err != nil {
		return backtest.EngineConfig{}, fmt.Errorf("backtest: %w", err)
	}
	return cfg, nil
}
