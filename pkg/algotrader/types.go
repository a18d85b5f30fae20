package algotrader

import "time"

// DateLayout is the date format used by request fields.
const DateLayout = "2006-01-02"

// Run is the JSON form of a persisted backtest summary. Metrics that could
// not be computed are null.
type Run struct {
	ID               string            `json:"id"`
	Strategy         string            `json:"strategy"`
	Params           map[string]string `json:"params"`
	Symbols          []string          `json:"symbols"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	InitialCash      float64           `json:"initialCash"`
	FinalEquity      *float64          `json:"finalEquity"`
	Outcome          string            `json:"outcome"`
	Error            string            `json:"error,omitempty"`
	TotalReturn      *float64          `json:"totalReturn"`
	AnnualizedReturn *float64          `json:"annualizedReturn"`
	SharpeRatio      *float64          `json:"sharpeRatio"`
	MaxDrawdown      *float64          `json:"maxDrawdown"`
	WinRate          *float64          `json:"winRate"`
	ProfitFactor     *float64          `json:"profitFactor"`
	Timesteps        int               `json:"timesteps"`
	TotalTrades      int               `json:"totalTrades"`
	ClosedTrades     int               `json:"closedTrades"`
	Rejected         int               `json:"rejected"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// Trade is one entry of a run's trade log.
type Trade struct {
	Seq           int       `json:"seq"`
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	Side          string    `json:"side"`
	Qty           float64   `json:"qty"`
	Price         float64   `json:"price"`
	Commission    float64   `json:"commission"`
	RealizedPnL   float64   `json:"realizedPnl"`
	Closing       bool      `json:"closing"`
	PositionAfter float64   `json:"positionAfter"`
	CashAfter     float64   `json:"cashAfter"`
}

// EquityPoint is one snapshot of a run's equity curve.
type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Cash        float64   `json:"cash"`
	MarketValue float64   `json:"marketValue"`
	TotalEquity float64   `json:"totalEquity"`
}

// BacktestRequest submits a backtest over stored bars. Start and End use
// DateLayout. A zero InitialCash uses the server default.
type BacktestRequest struct {
	Strategy    string            `json:"strategy"`
	Params      map[string]string `json:"params,omitempty"`
	Symbols     []string          `json:"symbols"`
	Market      string            `json:"market,omitempty"`
	Start       string            `json:"start"`
	End         string            `json:"end"`
	InitialCash float64           `json:"initialCash,omitempty"`
}

// RunsResponse wraps a run listing.
type RunsResponse struct {
	Runs []Run `json:"runs"`
}

// TradesResponse wraps a run's trade log.
type TradesResponse struct {
	RunID  string  `json:"runId"`
	Trades []Trade `json:"trades"`
}

// EquityResponse wraps a run's equity curve.
type EquityResponse struct {
	RunID  string        `json:"runId"`
	Equity []EquityPoint `json:"equity"`
}

// StrategiesResponse lists registered strategy names.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
