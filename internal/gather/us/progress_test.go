package us

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"algotrader/internal/store"
)

func TestProgressTrackerMarkEmpty(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := pt.MarkEmpty([]string{"AAAA", "BBBB", "CCCC"}); err != nil {
		t.Fatal(err)
	}
	pt.Close()

	// Reload and verify.
	pt2, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pt2.Close()

	for _, sym := range []string{"AAAA", "BBBB", "CCCC"} {
		if !pt2.IsTriedEmpty(sym) {
			t.Errorf("expected %q to be tried-empty after reload", sym)
		}
	}
	if pt2.IsTriedEmpty("DDDD") {
		t.Error("DDDD should not be tried-empty")
	}
}

func TestProgressTrackerCompleted(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if pt.IsCompleted("2025-02-10") {
		t.Error("should not be completed before marking")
	}

	if err := pt.MarkCompleted("2025-02-10"); err != nil {
		t.Fatal(err)
	}

	if !pt.IsCompleted("2025-02-10") {
		t.Error("should be completed after marking")
	}

	if pt.IsCompleted("2025-02-11") {
		t.Error("different date should not be completed")
	}
}

func TestProgressTrackerResume(t *testing.T) {
	dir := t.TempDir()

	// Simulate partial run: write some entries directly.
	path := filepath.Join(dir, ".tried-empty")
	if err := os.WriteFile(path, []byte("XXXX\nYYYY\nZZZZ\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if !pt.IsTriedEmpty("XXXX") {
		t.Error("XXXX should be loaded from partial run")
	}
	if !pt.IsTriedEmpty("YYYY") {
		t.Error("YYYY should be loaded from partial run")
	}

	// Add more.
	if err := pt.MarkEmpty([]string{"WWWW"}); err != nil {
		t.Fatal(err)
	}
	if !pt.IsTriedEmpty("WWWW") {
		t.Error("WWWW should be tried-empty after marking")
	}
}

func TestProgressTrackerReset(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := pt.MarkEmpty([]string{"AAAA"}); err != nil {
		t.Fatal(err)
	}
	if !pt.IsTriedEmpty("AAAA") {
		t.Fatal("AAAA should be tried-empty")
	}

	if err := pt.Reset(); err != nil {
		t.Fatal(err)
	}

	if pt.IsTriedEmpty("AAAA") {
		t.Error("AAAA should not be tried-empty after reset")
	}

	// .tried-empty file should be gone (or empty).
	path := filepath.Join(dir, ".tried-empty")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(data) > 0 {
		t.Error(".tried-empty file should be empty after reset")
	}

	pt.Close()
}

func TestProgressResetOnNewEndDate(t *testing.T) {
	dataDir := t.TempDir()
	ps := store.NewParquetStore(dataDir)
	fake := &fakeBars{bars: map[string][]marketdata.Bar{
		"AAPL": {alpacaBar(2, 180), alpacaBar(3, 182)},
	}}
	symbols := []string{"AAPL", "NEWCO"}
	day3 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	first := NewDailyBarGatherer(newTestFetcher(fake, 100), ps, symbols, "2024-01-01", FixedEndDate(day3), StateDir(dataDir))
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("Run(day 3) returned error: %v", err)
	}

	// NEWCO lists the next day; the new end date must forget it was empty.
	fake.bars["NEWCO"] = []marketdata.Bar{alpacaBar(4, 10)}
	next := NewDailyBarGatherer(newTestFetcher(fake, 100), ps, symbols, "2024-01-01", FixedEndDate(day3.AddDate(0, 0, 1)), StateDir(dataDir))
	if err := next.Run(context.Background()); err != nil {
		t.Fatalf("Run(day 4) returned error: %v", err)
	}

	if len(fake.calls) != 2 {
		t.Fatalf("GetMultiBars called %d times, want 2", len(fake.calls))
	}
	if !slices.Contains(fake.calls[1], "NEWCO") {
		t.Errorf("second run requested %v, want NEWCO retried", fake.calls[1])
	}

	pt, err := newProgressTracker(StateDir(dataDir))
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()
	if pt.IsTriedEmpty("NEWCO") {
		t.Error("NEWCO still tried-empty after it returned bars")
	}
	if got := pt.LastCompleted(); got != "2024-01-04" {
		t.Errorf("LastCompleted() = %q, want %q", got, "2024-01-04")
	}

	bars, err := ps.ReadBars(context.Background(), "NEWCO", "us", day3.AddDate(0, 0, -7), day3.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("ReadBars returned error: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("stored %d NEWCO bars, want 1", len(bars))
	}
}
