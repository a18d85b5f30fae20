// Package store defines storage interfaces for historical bars and for the
// journal of backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"algotrader/internal/domain"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Strategy string
	Limit    int
}

// RunStore journals finished backtest runs together with their trade logs
// and equity histories.
type RunStore interface {
	// SaveRun stores a run and returns its ID. A new ID is assigned when
	// summary.ID is empty.
	SaveRun(ctx context.Context, summary domain.RunSummary, equity []domain.EquitySnapshot, trades []domain.TradeRecord) (string, error)

	// GetRun returns a single run summary or ErrNotFound.
	GetRun(ctx context.Context, id string) (*domain.RunSummary, error)

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.RunSummary, error)

	// ListTrades returns the trade log of a run in sequence order.
	ListTrades(ctx context.Context, id string) ([]domain.TradeRecord, error)

	// ListEquity returns the equity history of a run in time order.
	ListEquity(ctx context.Context, id string) ([]domain.EquitySnapshot, error)
}
