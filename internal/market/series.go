// Package market provides the immutable, validated bar series consumed by the
// backtest engine and the look-ahead-free snapshots handed to strategies.
package market

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"algotrader/internal/domain"
)

// DataError reports malformed input data. It is fatal to a backtest and is
// raised before any simulation starts.
type DataError struct {
	Symbol string
	Index  int // bar index within the symbol, -1 when not applicable
	Reason string
}

func (e *DataError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("data error: %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("data error: %s[%d]: %s", e.Symbol, e.Index, e.Reason)
}

// Series is a per-symbol, time-ordered collection of bars. It is immutable
// after construction and may be shared across concurrent backtest runs.
type Series struct {
	bars     map[string][]domain.Bar
	symbols  []string
	timeline []time.Time
}

// NewSeries validates the given bars and returns a Series holding private
// copies of them. Bars must be in strictly ascending timestamp order per
// symbol.
func NewSeries(bars map[string][]domain.Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, &DataError{Symbol: "*", Index: -1, Reason: "series has no symbols"}
	}

	s := &Series{bars: make(map[string][]domain.Bar, len(bars))}
	seen := make(map[int64]time.Time)

	for sym, in := range bars {
		key := strings.ToUpper(strings.TrimSpace(sym))
		if key == "" {
			return nil, &DataError{Symbol: sym, Index: -1, Reason: "empty symbol"}
		}
		if _, dup := s.bars[key]; dup {
			return nil, &DataError{Symbol: key, Index: -1, Reason: "symbol given more than once"}
		}
		if len(in) == 0 {
			return nil, &DataError{Symbol: key, Index: -1, Reason: "no bars"}
		}

		out := make([]domain.Bar, len(in))
		for i, b := range in {
			if b.Symbol == "" {
				b.Symbol = key
			}
			if !strings.EqualFold(b.Symbol, key) {
				return nil, &DataError{Symbol: key, Index: i, Reason: fmt.Sprintf("bar symbol %q does not match series symbol", b.Symbol)}
			}
			b.Symbol = key
			if err := validateBar(b); err != "" {
				return nil, &DataError{Symbol: key, Index: i, Reason: err}
			}
			if i > 0 && !b.Timestamp.After(out[i-1].Timestamp) {
				reason := "timestamps out of order"
				if b.Timestamp.Equal(out[i-1].Timestamp) {
					reason = "duplicate timestamp " + b.Timestamp.Format(time.RFC3339)
				}
				return nil, &DataError{Symbol: key, Index: i, Reason: reason}
			}
			out[i] = b
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
		s.bars[key] = out
		s.symbols = append(s.symbols, key)
	}

	sort.Strings(s.symbols)

	s.timeline = make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		s.timeline = append(s.timeline, ts)
	}
	sort.Slice(s.timeline, func(i, j int) bool {
		return s.timeline[i].Before(s.timeline[j])
	})

	return s, nil
}

// FromBars groups a flat list of bars by symbol, sorts each group by
// timestamp, and validates the result. Duplicate timestamps are still
// rejected.
func FromBars(bars []domain.Bar) (*Series, error) {
	grouped := make(map[string][]domain.Bar)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		grouped[sym] = append(grouped[sym], b)
	}
	for _, g := range grouped {
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].Timestamp.Before(g[j].Timestamp)
		})
	}
	return NewSeries(grouped)
}

func validateBar(b domain.Bar) string {
	if b.Timestamp.IsZero() {
		return "missing timestamp"
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) || p.v <= 0 {
			return fmt.Sprintf("invalid %s price %v", p.name, p.v)
		}
	}
	if b.Low > b.High {
		return fmt.Sprintf("low %v above high %v", b.Low, b.High)
	}
	if b.Volume < 0 {
		return fmt.Sprintf("negative volume %d", b.Volume)
	}
	return ""
}

// Symbols returns the series symbols in sorted order.
func (s *Series) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Has reports whether symbol is part of the series.
func (s *Series) Has(symbol string) bool {
	_, ok := s.bars[symbol]
	return ok
}

// Bars returns a copy of all bars for symbol.
func (s *Series) Bars(symbol string) []domain.Bar {
	return append([]domain.Bar(nil), s.bars[symbol]...)
}

// Len returns the number of bars held for symbol.
func (s *Series) Len(symbol string) int {
	return len(s.bars[symbol])
}

// Timeline returns the sorted union of timestamps across all symbols.
func (s *Series) Timeline() []time.Time {
	return append([]time.Time(nil), s.timeline...)
}

// Start returns the first timestamp of the series.
func (s *Series) Start() time.Time { return s.timeline[0] }

// End returns the last timestamp of the series.
func (s *Series) End() time.Time { return s.timeline[len(s.timeline)-1] }

// BarAt returns symbol's bar stamped exactly at t.
func (s *Series) BarAt(symbol string, t time.Time) (domain.Bar, bool) {
	bars := s.bars[symbol]
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(t)
	})
	if i < len(bars) && bars[i].Timestamp.Equal(t) {
		return bars[i], true
	}
	return domain.Bar{}, false
}

// barsThrough returns the prefix of symbol's bars with timestamp at or
// before t. It aliases the series storage and must not leave the package.
func (s *Series) barsThrough(symbol string, t time.Time) []domain.Bar {
	bars := s.bars[symbol]
	n := sort.Search(len(bars), func(i int) bool {
		return bars[i].Timestamp.After(t)
	})
	return bars[:n:n]
}
