package backtest

import (
	"fmt"
	"math"

	"algotrader/internal/domain"
)

// MetricsConfig parameterises Summarize.
type MetricsConfig struct {
	// RiskFreeRate is annual; it is divided by PeriodsPerYear to get the
	// per-period rate subtracted from mean returns.
	RiskFreeRate   float64
	PeriodsPerYear float64
	// InitialEquity is the base for TotalReturn. When zero, the first
	// equity snapshot is used.
	InitialEquity float64
}

// DefaultMetricsConfig annualises over 252 trading days with a zero
// risk-free rate.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{PeriodsPerYear: 252}
}

// Metrics summarises a finished equity history and trade log. Statistics
// that cannot be computed are NaN; use Defined to test them.
type Metrics struct {
	InitialEquity    float64
	FinalEquity      float64
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	Volatility       float64 // sample stdev of periodic returns
	MaxDrawdown      float64 // positive fraction of the running peak
	WinRate          float64
	ProfitFactor     float64
	AvgTradePnL      float64
	RealizedPnL      float64
	TotalCommission  float64

	Periods      int // equity snapshots
	TotalTrades  int
	ClosedTrades int
	Wins         int
	Losses       int

	// InsufficientData is set when fewer than two equity snapshots exist;
	// every equity-based statistic is then undefined.
	InsufficientData bool
}

// Err returns an error wrapping ErrInsufficientData when the equity history
// was too short to derive equity-based statistics.
func (m Metrics) Err() error {
	if m.InsufficientData {
		return fmt.Errorf("%w: %d equity snapshots, need at least 2", ErrInsufficientData, m.Periods)
	}
	return nil
}

// Defined reports whether a metric value was computable.
func Defined(v float64) bool { return !math.IsNaN(v) }

// Summarize derives performance statistics. It never panics on degenerate
// input: empty or single-point histories yield NaN statistics with
// InsufficientData set.
func Summarize(equity []domain.EquitySnapshot, trades []domain.TradeRecord, cfg MetricsConfig) Metrics {
	nan := math.NaN()
	m := Metrics{
		InitialEquity:    nan,
		FinalEquity:      nan,
		TotalReturn:      nan,
		AnnualizedReturn: nan,
		SharpeRatio:      nan,
		Volatility:       nan,
		MaxDrawdown:      nan,
		WinRate:          nan,
		ProfitFactor:     nan,
		AvgTradePnL:      nan,
		Periods:          len(equity),
		TotalTrades:      len(trades),
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}

	summarizeTrades(&m, trades)

	if len(equity) > 0 {
		m.FinalEquity = equity[len(equity)-1].TotalEquity
		m.InitialEquity = equity[0].TotalEquity
		if cfg.InitialEquity > 0 {
			m.InitialEquity = cfg.InitialEquity
		}
	}
	if len(equity) < 2 {
		m.InsufficientData = true
		return m
	}

	values := make([]float64, len(equity))
	for i, e := range equity {
		values[i] = e.TotalEquity
	}

	if m.InitialEquity > 0 {
		m.TotalReturn = m.FinalEquity/m.InitialEquity - 1
		if growth := 1 + m.TotalReturn; growth >= 0 {
			m.AnnualizedReturn = math.Pow(growth, cfg.PeriodsPerYear/float64(len(values))) - 1
		}
	}

	m.MaxDrawdown = MaxDrawdown(values)

	returns := PeriodicReturns(values)
	if len(returns) >= 2 {
		mean, sd := meanStdev(returns)
		m.Volatility = sd
		if sd > 0 {
			m.SharpeRatio = (mean - cfg.RiskFreeRate/cfg.PeriodsPerYear) / sd * math.Sqrt(cfg.PeriodsPerYear)
		}
	}
	return m
}

func summarizeTrades(m *Metrics, trades []domain.TradeRecord) {
	var grossWin, grossLoss float64
	for _, t := range trades {
		m.TotalCommission += t.Commission
		if !t.Closing {
			continue
		}
		m.ClosedTrades++
		m.RealizedPnL += t.RealizedPnL
		switch {
		case t.RealizedPnL > 0:
			m.Wins++
			grossWin += t.RealizedPnL
		case t.RealizedPnL < 0:
			m.Losses++
			grossLoss -= t.RealizedPnL
		}
	}
	if m.ClosedTrades == 0 {
		return
	}
	m.WinRate = float64(m.Wins) / float64(m.ClosedTrades)
	m.AvgTradePnL = m.RealizedPnL / float64(m.ClosedTrades)
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
}

// PeriodicReturns returns r_t = e_t/e_{t-1} − 1 for consecutive pairs,
// skipping pairs whose base is zero.
func PeriodicReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline as a positive
// fraction of the running peak. It is NaN for an empty curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return math.NaN()
	}
	peak := equity[0]
	var maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// meanStdev returns the mean and the sample (n−1) standard deviation.
func meanStdev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
