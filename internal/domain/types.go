// Package domain holds the value types shared by the market-data, strategy,
// backtest, and storage layers.
package domain

import (
	"math"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV price record for a symbol at a timestamp.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Action is the instruction carried by a Signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Signal is produced by a strategy for one symbol at one timestep.
type Signal struct {
	Symbol string
	Action Action
	// Qty is an optional sizing hint in units. Zero means the execution
	// model's default sizing applies.
	Qty    float64
	Reason string
}

// PositionSide is derived from the sign of a position's quantity.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// Position is an open holding. Qty is signed: positive long, negative short.
type Position struct {
	Symbol  string
	Qty     float64
	AvgCost float64
}

// Side returns the side implied by the position quantity.
func (p Position) Side() PositionSide {
	switch {
	case p.Qty > 0:
		return PositionSideLong
	case p.Qty < 0:
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// MarketValue values the position at price.
func (p Position) MarketValue(price float64) float64 {
	return p.Qty * price
}

// Fill is a simulated execution. Qty is the signed change in position.
type Fill struct {
	Symbol     string
	Timestamp  time.Time
	Qty        float64
	Price      float64
	Commission float64
}

// Notional returns |Qty| × Price.
func (f Fill) Notional() float64 {
	return math.Abs(f.Qty) * f.Price
}

// OrderSide is the direction of a fill.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Side returns buy for positive quantity deltas and sell otherwise.
func (f Fill) Side() OrderSide {
	if f.Qty > 0 {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TradeRecord is an append-only trade log entry derived from a Fill.
type TradeRecord struct {
	Seq        int
	Symbol     string
	Timestamp  time.Time
	Side       OrderSide
	Qty        float64 // signed, equal to the originating Fill.Qty
	Price      float64
	Commission float64
	// RealizedPnL is non-zero only when the fill reduced or closed a
	// position (Closing is true).
	RealizedPnL   float64
	Closing       bool
	PositionAfter float64
	CashAfter     float64
}

// EquitySnapshot is the marked-to-market account value at one timestep.
type EquitySnapshot struct {
	Timestamp   time.Time
	Cash        float64
	MarketValue float64
	TotalEquity float64
}

// RunSummary is the persisted summary of one backtest run.
type RunSummary struct {
	ID               string
	Strategy         string
	Params           map[string]string
	Symbols          []string
	Start            time.Time
	End              time.Time
	InitialCash      float64
	FinalEquity      float64
	Outcome          string
	Error            string
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	MaxDrawdown      float64
	WinRate          float64
	ProfitFactor     float64
	Timesteps        int
	TotalTrades      int
	ClosedTrades     int
	Rejected         int
	CreatedAt        time.Time
}
