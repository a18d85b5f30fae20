package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"algotrader/internal/domain"
)

// qtyEpsilon absorbs float residue when a position is closed in pieces.
const qtyEpsilon = 1e-9

// PortfolioState is the read-only view of an account the execution model
// sizes and validates orders against.
type PortfolioState interface {
	Cash() float64
	Position(symbol string) domain.Position
	Equity() float64
}

// Portfolio is the simulated account of a single backtest run: cash, open
// positions, the trade log, and the last marks used for valuation. It is
// owned by exactly one run and is not safe for concurrent use.
type Portfolio struct {
	cash       float64
	allowShort bool
	positions  map[string]*domain.Position
	trades     []domain.TradeRecord
	marks      map[string]float64
}

var _ PortfolioState = (*Portfolio)(nil)

// NewPortfolio creates a Portfolio holding only cash.
func NewPortfolio(cash float64, allowShort bool) *Portfolio {
	return &Portfolio{
		cash:       cash,
		allowShort: allowShort,
		positions:  make(map[string]*domain.Position),
		marks:      make(map[string]float64),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// Equity returns cash plus open positions valued at their last marks.
// Positions never marked are valued at cost.
func (p *Portfolio) Equity() float64 {
	return p.cash + p.marketValue()
}

// marketValue sums positions in symbol order so results do not depend on
// map iteration.
func (p *Portfolio) marketValue() float64 {
	syms := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var mv float64
	for _, sym := range syms {
		pos := p.positions[sym]
		price, ok := p.marks[sym]
		if !ok {
			price = pos.AvgCost
		}
		mv += pos.Qty * price
	}
	return mv
}

// Position returns the position in symbol; a flat position when none is
// open.
func (p *Portfolio) Position(symbol string) domain.Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return domain.Position{Symbol: symbol}
}

// Positions returns copies of all open positions sorted by symbol.
func (p *Portfolio) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the trade log.
func (p *Portfolio) Trades() []domain.TradeRecord {
	return append([]domain.TradeRecord(nil), p.trades...)
}

// Apply books a fill. The new cash balance, position, and trade record are
// computed first and committed together; when the fill is invalid nothing
// changes and an error is returned.
func (p *Portfolio) Apply(f domain.Fill) (domain.TradeRecord, error) {
	switch {
	case f.Symbol == "":
		return domain.TradeRecord{}, fmt.Errorf("apply fill: empty symbol")
	case f.Qty == 0 || math.IsNaN(f.Qty) || math.IsInf(f.Qty, 0):
		return domain.TradeRecord{}, fmt.Errorf("apply fill %s: invalid quantity %v", f.Symbol, f.Qty)
	case !(f.Price > 0) || math.IsInf(f.Price, 0):
		return domain.TradeRecord{}, fmt.Errorf("apply fill %s: invalid price %v", f.Symbol, f.Price)
	case f.Commission < 0 || math.IsNaN(f.Commission):
		return domain.TradeRecord{}, fmt.Errorf("apply fill %s: invalid commission %v", f.Symbol, f.Commission)
	}

	cur := p.Position(f.Symbol)
	next, realized, closing := applyToPosition(cur, f)

	if next.Qty < -qtyEpsilon && !p.allowShort {
		return domain.TradeRecord{}, fmt.Errorf("apply fill %s: would open short position %v with shorting disabled", f.Symbol, next.Qty)
	}

	cash := p.cash - f.Qty*f.Price - f.Commission
	if cash < 0 {
		return domain.TradeRecord{}, fmt.Errorf("apply fill %s: cash would go negative (%.2f)", f.Symbol, cash)
	}

	rec := domain.TradeRecord{
		Seq:           len(p.trades) + 1,
		Symbol:        f.Symbol,
		Timestamp:     f.Timestamp,
		Side:          f.Side(),
		Qty:           f.Qty,
		Price:         f.Price,
		Commission:    f.Commission,
		RealizedPnL:   realized,
		Closing:       closing,
		PositionAfter: next.Qty,
		CashAfter:     cash,
	}

	// Commit.
	p.cash = cash
	if next.Qty == 0 {
		delete(p.positions, f.Symbol)
	} else {
		p.positions[f.Symbol] = &next
	}
	p.trades = append(p.trades, rec)
	return rec, nil
}

// applyToPosition returns the position after f together with the realized
// P&L and whether f reduced an existing position. Commission is charged
// against realized P&L in proportion to the closed share of the fill.
func applyToPosition(cur domain.Position, f domain.Fill) (domain.Position, float64, bool) {
	next := domain.Position{Symbol: f.Symbol}

	// Opening or adding in the same direction: weighted-average cost.
	if cur.Qty == 0 || sameSign(cur.Qty, f.Qty) {
		next.Qty = cur.Qty + f.Qty
		next.AvgCost = (math.Abs(cur.Qty)*cur.AvgCost + math.Abs(f.Qty)*f.Price) / math.Abs(next.Qty)
		return next, 0, false
	}

	reduced := math.Min(math.Abs(cur.Qty), math.Abs(f.Qty))
	direction := 1.0
	if cur.Qty < 0 {
		direction = -1
	}
	closedShare := reduced / math.Abs(f.Qty)
	realized := (f.Price-cur.AvgCost)*reduced*direction - f.Commission*closedShare

	next.Qty = cur.Qty + f.Qty
	switch {
	case math.Abs(next.Qty) <= qtyEpsilon:
		next.Qty = 0
	case sameSign(next.Qty, cur.Qty):
		next.AvgCost = cur.AvgCost
	default:
		// Flipped through zero: the remainder opens at the fill price.
		next.AvgCost = f.Price
	}
	return next, realized, true
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Mark updates the prices Equity values positions at. Non-positive prices
// are ignored.
func (p *Portfolio) Mark(prices map[string]float64) {
	for sym, price := range prices {
		if price > 0 {
			p.marks[sym] = price
		}
	}
}

// MarkToMarket values open positions at prices and returns the resulting
// snapshot. Symbols missing from prices keep their last known mark; they are
// never valued at zero.
func (p *Portfolio) MarkToMarket(t time.Time, prices map[string]float64) domain.EquitySnapshot {
	p.Mark(prices)

	mv := p.marketValue()
	return domain.EquitySnapshot{
		Timestamp:   t,
		Cash:        p.cash,
		MarketValue: mv,
		TotalEquity: p.cash + mv,
	}
}
