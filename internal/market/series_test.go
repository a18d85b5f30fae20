package market

import (
	"errors"
	"math"
	"testing"
	"time"

	"algotrader/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(sym string, d int, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    sym,
		Timestamp: day(d),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1000,
	}
}

func TestNewSeriesTimelineIsUnion(t *testing.T) {
	s, err := NewSeries(map[string][]domain.Bar{
		"AAPL": {bar("AAPL", 2, 10), bar("AAPL", 3, 11), bar("AAPL", 5, 12)},
		"msft": {bar("MSFT", 3, 20), bar("MSFT", 4, 21)},
	})
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}

	got := s.Timeline()
	want := []time.Time{day(2), day(3), day(4), day(5)}
	if len(got) != len(want) {
		t.Fatalf("Timeline() has %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Timeline()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	syms := s.Symbols()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "MSFT" {
		t.Errorf("Symbols() = %v, want [AAPL MSFT]", syms)
	}
	if !s.Start().Equal(day(2)) || !s.End().Equal(day(5)) {
		t.Errorf("Start/End = %v/%v, want %v/%v", s.Start(), s.End(), day(2), day(5))
	}
}

func TestNewSeriesRejectsMalformedData(t *testing.T) {
	bad := bar("AAPL", 3, 10)
	bad.Close = math.NaN()

	tests := []struct {
		name string
		bars map[string][]domain.Bar
	}{
		{"empty", map[string][]domain.Bar{}},
		{"no bars", map[string][]domain.Bar{"AAPL": nil}},
		{"out of order", map[string][]domain.Bar{"AAPL": {bar("AAPL", 3, 10), bar("AAPL", 2, 10)}}},
		{"duplicate", map[string][]domain.Bar{"AAPL": {bar("AAPL", 2, 10), bar("AAPL", 2, 11)}}},
		{"nan close", map[string][]domain.Bar{"AAPL": {bar("AAPL", 2, 10), bad}}},
		{"zero price", map[string][]domain.Bar{"AAPL": {bar("AAPL", 2, 0)}}},
		{"missing timestamp", map[string][]domain.Bar{"AAPL": {{Symbol: "AAPL", Open: 1, High: 1, Low: 1, Close: 1}}}},
		{"symbol mismatch", map[string][]domain.Bar{"AAPL": {bar("MSFT", 2, 10)}}},
		{"blank symbol", map[string][]domain.Bar{" ": {bar("", 2, 10)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries(tt.bars)
			if err == nil {
				t.Fatal("NewSeries returned nil error")
			}
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not *DataError: %v", err, err)
			}
		})
	}
}

func TestNewSeriesCopiesInput(t *testing.T) {
	in := []domain.Bar{bar("AAPL", 2, 10), bar("AAPL", 3, 11)}
	s, err := NewSeries(map[string][]domain.Bar{"AAPL": in})
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}
	in[0].Close = 999

	if got := s.Bars("AAPL")[0].Close; got != 10 {
		t.Errorf("series changed after caller mutation: close = %v, want 10", got)
	}
}

func TestFromBarsSortsAndGroups(t *testing.T) {
	s, err := FromBars([]domain.Bar{
		bar("MSFT", 4, 21), bar("AAPL", 3, 11), bar("AAPL", 2, 10), bar("MSFT", 3, 20),
	})
	if err != nil {
		t.Fatalf("FromBars returned error: %v", err)
	}
	if s.Len("AAPL") != 2 || s.Len("MSFT") != 2 {
		t.Fatalf("Len = %d/%d, want 2/2", s.Len("AAPL"), s.Len("MSFT"))
	}
	if !s.Bars("AAPL")[0].Timestamp.Equal(day(2)) {
		t.Errorf("AAPL bars not sorted: first = %v", s.Bars("AAPL")[0].Timestamp)
	}
}

func TestSnapshotHasNoLookAhead(t *testing.T) {
	s, err := NewSeries(map[string][]domain.Bar{
		"AAPL": {bar("AAPL", 2, 10), bar("AAPL", 3, 11), bar("AAPL", 5, 12)},
		"MSFT": {bar("MSFT", 4, 21)},
	})
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}

	snap := s.Snapshot(day(3), []domain.Position{{Symbol: "AAPL", Qty: 5, AvgCost: 10}})

	if n := len(snap.Bars("AAPL")); n != 2 {
		t.Errorf("AAPL bars at day 3 = %d, want 2", n)
	}
	for _, b := range snap.Bars("AAPL") {
		if b.Timestamp.After(day(3)) {
			t.Errorf("snapshot leaked future bar at %v", b.Timestamp)
		}
	}
	if _, ok := snap.Latest("MSFT"); ok {
		t.Error("MSFT has no bars before day 4 but Latest returned one")
	}
	if syms := snap.Symbols(); len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("Symbols() = %v, want [AAPL]", syms)
	}
	if _, ok := snap.Current("AAPL"); !ok {
		t.Error("AAPL has a bar at day 3 but Current returned none")
	}
	if p, ok := snap.Position("AAPL"); !ok || p.Qty != 5 {
		t.Errorf("Position(AAPL) = %+v, %v; want qty 5", p, ok)
	}

	later := s.Snapshot(day(4), nil)
	if _, ok := later.Current("AAPL"); ok {
		t.Error("AAPL has no bar at day 4 but Current returned one")
	}
	if b, ok := later.Latest("AAPL"); !ok || b.Close != 11 {
		t.Errorf("Latest(AAPL) at day 4 = %+v, want close 11", b)
	}

	closes := later.Closes("AAPL", 5)
	if len(closes) != 2 || closes[0] != 10 || closes[1] != 11 {
		t.Errorf("Closes(AAPL, 5) = %v, want [10 11]", closes)
	}

	// Appending to a snapshot slice must not reach the series storage.
	view := later.Bars("AAPL")
	_ = append(view, bar("AAPL", 9, 99))
	if got := s.Bars("AAPL")[2].Close; got != 12 {
		t.Errorf("series bar overwritten through snapshot: close = %v, want 12", got)
	}
}

func TestSnapshotWritesDoNotReachSeries(t *testing.T) {
	s, err := NewSeries(map[string][]domain.Bar{
		"AAPL": {bar("AAPL", 2, 10), bar("AAPL", 3, 11)},
	})
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}
	snap := s.Snapshot(day(3), nil)

	view := snap.Bars("AAPL")
	for i := range view {
		view[i].Close *= 2
		view[i].Volume = 0
	}

	for i, want := range []float64{10, 11} {
		if got := s.Bars("AAPL")[i].Close; got != want {
			t.Errorf("series bar %d close = %v, want %v", i, got, want)
		}
	}
	if b, _ := snap.Latest("AAPL"); b.Close != 11 {
		t.Errorf("Latest(AAPL) close = %v, want 11", b.Close)
	}
	if n := snap.Len("AAPL"); n != 2 {
		t.Errorf("Len(AAPL) = %d, want 2", n)
	}
	if v := snap.Volumes("AAPL", 1); len(v) != 1 || v[0] != 1000 {
		t.Errorf("Volumes(AAPL, 1) = %v, want [1000]", v)
	}
}
