package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"algotrader/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk, and exports
// finished backtest runs next to the bar data.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// EquityRecord is the Parquet schema for one point of a run's equity curve.
type EquityRecord struct {
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"`
	Cash        float64 `parquet:"cash"`
	MarketValue float64 `parquet:"market_value"`
	TotalEquity float64 `parquet:"total_equity"`
}

// TradeLogRecord is the Parquet schema for one entry of a run's trade log.
type TradeLogRecord struct {
	Seq           int64   `parquet:"seq"`
	Symbol        string  `parquet:"symbol"`
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"`
	Side          string  `parquet:"side"`
	Qty           float64 `parquet:"qty"`
	Price         float64 `parquet:"price"`
	Commission    float64 `parquet:"commission"`
	RealizedPnL   float64 `parquet:"realized_pnl"`
	Closing       bool    `parquet:"closing"`
	PositionAfter float64 `parquet:"position_after"`
	CashAfter     float64 `parquet:"cash_after"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes US bars. Use WriteBarsForMarket for other markets.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.WriteBarsForMarket(bars, string(domain.MarketUS))
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory. Each symbol+year combination produces a
// separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing rows with the same timestamp are replaced.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		k := key{symbol: sym, year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     sym,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, time.Date(k.year, 1, 1, 0, 0, 0, 0, time.UTC))

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Missing year files are skipped; bars are returned in time order.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Run export
// ---------------------------------------------------------------------------

// ExportRun writes a run's equity curve and trade log to
//
//	<DataDir>/backtests/<runID>/equity.parquet
//	<DataDir>/backtests/<runID>/trades.parquet
//
// and returns the run directory.
func (s *ParquetStore) ExportRun(runID string, equity []domain.EquitySnapshot, trades []domain.TradeRecord) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	dir := s.runDir(runID)

	eq := make([]EquityRecord, len(equity))
	for i, e := range equity {
		eq[i] = EquityRecord{
			Timestamp:   e.Timestamp.UnixMilli(),
			Cash:        e.Cash,
			MarketValue: e.MarketValue,
			TotalEquity: e.TotalEquity,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "equity.parquet"), eq); err != nil {
		return "", fmt.Errorf("writing equity for run %s: %w", runID, err)
	}

	tr := make([]TradeLogRecord, len(trades))
	for i, t := range trades {
		tr[i] = TradeLogRecord{
			Seq:           int64(t.Seq),
			Symbol:        t.Symbol,
			Timestamp:     t.Timestamp.UnixMilli(),
			Side:          string(t.Side),
			Qty:           t.Qty,
			Price:         t.Price,
			Commission:    t.Commission,
			RealizedPnL:   t.RealizedPnL,
			Closing:       t.Closing,
			PositionAfter: t.PositionAfter,
			CashAfter:     t.CashAfter,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), tr); err != nil {
		return "", fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return dir, nil
}

// ReadEquity reads back an exported equity curve.
func (s *ParquetStore) ReadEquity(runID string) ([]domain.EquitySnapshot, error) {
	records, err := readParquetFile[EquityRecord](filepath.Join(s.runDir(runID), "equity.parquet"))
	if err != nil {
		return nil, err
	}
	out := make([]domain.EquitySnapshot, len(records))
	for i, r := range records {
		out[i] = domain.EquitySnapshot{
			Timestamp:   time.UnixMilli(r.Timestamp).UTC(),
			Cash:        r.Cash,
			MarketValue: r.MarketValue,
			TotalEquity: r.TotalEquity,
		}
	}
	return out, nil
}

// ReadTradeLog reads back an exported trade log.
func (s *ParquetStore) ReadTradeLog(runID string) ([]domain.TradeRecord, error) {
	records, err := readParquetFile[TradeLogRecord](filepath.Join(s.runDir(runID), "trades.parquet"))
	if err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, len(records))
	for i, r := range records {
		out[i] = domain.TradeRecord{
			Seq:           int(r.Seq),
			Symbol:        r.Symbol,
			Timestamp:     time.UnixMilli(r.Timestamp).UTC(),
			Side:          domain.OrderSide(r.Side),
			Qty:           r.Qty,
			Price:         r.Price,
			Commission:    r.Commission,
			RealizedPnL:   r.RealizedPnL,
			Closing:       r.Closing,
			PositionAfter: r.PositionAfter,
			CashAfter:     r.CashAfter,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, t time.Time) string {
	year := fmt.Sprintf("%d", t.Year())
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), year+".parquet")
}

// runDir returns the export directory of a backtest run.
// Layout: <dataDir>/backtests/<runID>
func (s *ParquetStore) runDir(runID string) string {
	return filepath.Join(s.DataDir, "backtests", runID)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
