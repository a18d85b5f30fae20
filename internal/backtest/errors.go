package backtest

import (
	"errors"
	"fmt"
	"time"

	"algotrader/internal/domain"
	"algotrader/internal/market"
)

// DataError reports a malformed series. It aborts a run before simulation.
type DataError = market.DataError

// ErrInsufficientData marks metrics that could not be computed because the
// equity history or trade log is too short.
var ErrInsufficientData = errors.New("insufficient data")

// ErrInvalidRequest marks a Runner request rejected before any data was
// read: missing fields, an unknown strategy, or parameters the strategy
// refused.
var ErrInvalidRequest = errors.New("invalid backtest request")

// InvalidSignalError describes an order the engine rejected. Rejections are
// recovered locally: the signal produces no fill and the run continues.
type InvalidSignalError struct {
	Time   time.Time
	Symbol string
	Action domain.Action
	Reason string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("rejected %s %s at %s: %s", e.Action, e.Symbol, e.Time.Format(time.RFC3339), e.Reason)
}

// StrategyError wraps a failure raised by a strategy implementation, either
// a returned error or a recovered panic. It aborts the run; partial results
// are kept.
type StrategyError struct {
	Strategy string
	Time     time.Time
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s failed at %s: %v", e.Strategy, e.Time.Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }
