package market

import (
	"time"

	"algotrader/internal/domain"
)

// Snapshot is the view of the market a strategy receives at one timestep. It
// contains every bar up to and including the timestep and nothing later.
// Every slice it returns is a copy; the underlying Series is shared between
// runs and never exposed.
type Snapshot struct {
	time      time.Time
	bars      map[string][]domain.Bar
	symbols   []string
	positions map[string]domain.Position
}

// Snapshot builds the view of s at t. positions is copied so strategies can
// read but never mutate account state.
func (s *Series) Snapshot(t time.Time, positions []domain.Position) *Snapshot {
	snap := &Snapshot{
		time:      t,
		bars:      make(map[string][]domain.Bar, len(s.symbols)),
		positions: make(map[string]domain.Position, len(positions)),
	}
	for _, sym := range s.symbols {
		bars := s.barsThrough(sym, t)
		if len(bars) == 0 {
			continue
		}
		snap.bars[sym] = bars
		snap.symbols = append(snap.symbols, sym)
	}
	for _, p := range positions {
		if p.Qty != 0 {
			snap.positions[p.Symbol] = p
		}
	}
	return snap
}

// Time returns the current timestep.
func (s *Snapshot) Time() time.Time { return s.time }

// Symbols returns symbols that have at least one bar at or before Time, in
// sorted order.
func (s *Snapshot) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Bars returns a copy of symbol's history through Time.
func (s *Snapshot) Bars(symbol string) []domain.Bar {
	return append([]domain.Bar(nil), s.bars[symbol]...)
}

// Len returns the number of bars for symbol through Time.
func (s *Snapshot) Len(symbol string) int {
	return len(s.bars[symbol])
}

// Latest returns the most recent bar for symbol at or before Time.
func (s *Snapshot) Latest(symbol string) (domain.Bar, bool) {
	bars := s.bars[symbol]
	if len(bars) == 0 {
		return domain.Bar{}, false
	}
	return bars[len(bars)-1], true
}

// Current returns symbol's bar stamped exactly at Time. Symbols without a
// bar at this timestep are not tradable on it.
func (s *Snapshot) Current(symbol string) (domain.Bar, bool) {
	b, ok := s.Latest(symbol)
	if !ok || !b.Timestamp.Equal(s.time) {
		return domain.Bar{}, false
	}
	return b, true
}

// Closes returns the last n closing prices for symbol, oldest first. Fewer
// than n are returned when history is short.
func (s *Snapshot) Closes(symbol string, n int) []float64 {
	bars := s.bars[symbol]
	if n > len(bars) || n <= 0 {
		n = len(bars)
	}
	out := make([]float64, n)
	for i, b := range bars[len(bars)-n:] {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the last n volumes for symbol, oldest first, with the same
// truncation as Closes.
func (s *Snapshot) Volumes(symbol string, n int) []int64 {
	bars := s.bars[symbol]
	if n > len(bars) || n <= 0 {
		n = len(bars)
	}
	out := make([]int64, n)
	for i, b := range bars[len(bars)-n:] {
		out[i] = b.Volume
	}
	return out
}

// Position returns the open position in symbol, if any.
func (s *Snapshot) Position(symbol string) (domain.Position, bool) {
	p, ok := s.positions[symbol]
	return p, ok
}
