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
var _ strategy.Strategy = (*MAVolume)(nil)

// MAVolume is a moving-average crossover confirmed by volume and filtered by
// volatility. It buys a fast-over-slow cross on volume at least 20% above
// its average while volatility is calm, and sells on the opposite cross or
// when volatility exceeds the threshold.
type MAVolume struct {
	fast         int
	slow         int
	volumeWindow int
	volWindow    int
	volThreshold float64
	volumeRatio  float64
	qty          float64
}

// NewMAVolume creates an MAVolume strategy with 9/21 averages, a 14-bar
// volume window, and a 3% threshold on 20-bar return volatility.
func NewMAVolume() *MAVolume {
	return &MAVolume{
		fast:         9,
		slow:         21,
		volumeWindow: 14,
		volWindow:    20,
		volThreshold: 0.03,
		volumeRatio:  1.2,
		qty:          1,
	}
}

// Name returns "ma-volume".
func (s *MAVolume) Name() string { return "ma-volume" }

// Setup reads fast, slow, volume_window, volatility_window,
// volatility_threshold, volume_ratio, and qty.
func (s *MAVolume) Setup(p strategy.Params) error {
	var err error
	ints := []struct {
		key string
		dst *int
	}{{"fast", &s.fast}, {"slow", &s.slow}, {"volume_window", &s.volumeWindow}, {"volatility_window", &s.volWindow}}
	for _, f := range ints {
		if *f.dst, err = p.Int(f.key, *f.dst); err != nil {
			return err
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{{"volatility_threshold", &s.volThreshold}, {"volume_ratio", &s.volumeRatio}, {"qty", &s.qty}}
	for _, f := range floats {
		if *f.dst, err = p.Float(f.key, *f.dst); err != nil {
			return err
		}
	}

	switch {
	case s.fast < 1 || s.slow <= s.fast:
		return fmt.Errorf("ma-volume: need 1 <= fast < slow, got fast=%d slow=%d", s.fast, s.slow)
	case s.volumeWindow < 1 || s.volWindow < 2:
		return fmt.Errorf("ma-volume: volume_window must be >= 1 and volatility_window >= 2")
	case s.volThreshold <= 0 || s.volumeRatio <= 0 || s.qty <= 0:
		return fmt.Errorf("ma-volume: volatility_threshold, volume_ratio and qty must be positive")
	}
	return nil
}

// lookback is the number of bars one evaluation needs.
func (s *MAVolume) lookback() int {
	return max(s.slow+1, s.volumeWindow, s.volWindow+1)
}

// GenerateSignals evaluates every symbol with a bar at this timestep.
func (s *MAVolume) GenerateSignals(_ context.Context, snap *market.Snapshot) (map[string]domain.Signal, error) {
	signals := make(map[string]domain.Signal)
	for _, sym := range snap.Symbols() {
		if _, ok := snap.Current(sym); !ok {
			continue
		}
		if snap.Len(sym) < s.lookback() {
			continue
		}

		closes := snap.Closes(sym, s.slow+1)
		prev, cur := closes[:len(closes)-1], closes[1:]
		prevDiff := sma(prev, s.fast) - sma(prev, s.slow)
		curDiff := sma(cur, s.fast) - sma(cur, s.slow)
		bullish := prevDiff < 0 && curDiff > 0
		bearish := prevDiff > 0 && curDiff < 0

		volumes := snap.Volumes(sym, s.volumeWindow)
		var volSum float64
		for _, v := range volumes {
			volSum += float64(v)
		}
		highVolume := volSum > 0 && float64(volumes[len(volumes)-1])/(volSum/float64(s.volumeWindow)) > s.volumeRatio

		volatility := returnStdev(snap.Closes(sym, s.volWindow+1))
		excessive := volatility > s.volThreshold

		pos, held := snap.Position(sym)
		switch {
		case bullish && highVolume && !excessive && !held:
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionBuy, Qty: s.qty, Reason: "ma cross up on volume"}
		case (bearish || excessive) && held && pos.Qty > 0:
			reason := "ma cross down"
			if !bearish {
				reason = fmt.Sprintf("volatility %.4f > %.4f", volatility, s.volThreshold)
			}
			signals[sym] = domain.Signal{Symbol: sym, Action: domain.ActionSell, Reason: reason}
		}
	}
	return signals, nil
}

// returnStdev is the sample standard deviation of simple returns of closes.
func returnStdev(closes []float64) float64 {
	if len(closes) < 3 {
		return math.NaN()
	}
	rets := make([]float64, 0, len(closes)-1)
	var sum float64
	for i := 1; i < len(closes); i++ {
		r := closes[i]/closes[i-1] - 1
		rets = append(rets, r)
		sum += r
	}
	mean := sum / float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}
