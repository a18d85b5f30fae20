// Package report renders backtest results for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"algotrader/internal/backtest"
)

// undefined marks a metric that has no value, such as a Sharpe ratio over
// a flat equity curve.
const undefined = "n/a"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	gainStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

// maxRejections caps the rejection list printed at the end of a report.
const maxRejections = 10

// Render writes a summary of res. name labels the run, typically the
// strategy name with its parameters.
func Render(w io.Writer, name string, res *backtest.Result) error {
	var b strings.Builder
	m := res.Metrics

	b.WriteString(titleStyle.Render("Backtest: "+name) + "\n")
	if !res.Start.IsZero() {
		line(&b, "Period", fmt.Sprintf("%s → %s (%d steps)", res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"), res.Timesteps))
	}
	line(&b, "Outcome", outcome(res))

	b.WriteString("\n" + sectionStyle.Render("Account") + "\n")
	line(&b, "Initial cash", money(res.InitialCash))
	line(&b, "Final equity", money(m.FinalEquity))
	line(&b, "Final cash", money(res.FinalCash))
	line(&b, "Open positions", fmt.Sprintf("%d", len(res.Positions)))

	b.WriteString("\n" + sectionStyle.Render("Performance") + "\n")
	if m.InsufficientData {
		line(&b, "Note", warnStyle.Render("insufficient data: fewer than two equity points"))
	}
	line(&b, "Total return", signedPct(m.TotalReturn))
	line(&b, "Annualized return", signedPct(m.AnnualizedReturn))
	line(&b, "Sharpe ratio", ratio(m.SharpeRatio))
	line(&b, "Volatility", pct(m.Volatility))
	line(&b, "Max drawdown", pct(m.MaxDrawdown))

	b.WriteString("\n" + sectionStyle.Render("Trades") + "\n")
	line(&b, "Trades", humanize.Comma(int64(m.TotalTrades)))
	line(&b, "Closed trades", fmt.Sprintf("%d (%d won, %d lost)", m.ClosedTrades, m.Wins, m.Losses))
	line(&b, "Win rate", pct(m.WinRate))
	line(&b, "Profit factor", ratio(m.ProfitFactor))
	line(&b, "Avg trade P&L", signedMoney(m.AvgTradePnL))
	line(&b, "Realized P&L", signedMoney(m.RealizedPnL))
	line(&b, "Commission", money(m.TotalCommission))

	if len(res.Rejected) > 0 || len(res.Expired) > 0 {
		b.WriteString("\n" + sectionStyle.Render("Rejected orders") + "\n")
		line(&b, "Rejected", humanize.Comma(int64(len(res.Rejected))))
		if len(res.Expired) > 0 {
			line(&b, "Unfilled at end", humanize.Comma(int64(len(res.Expired))))
		}
		for i, r := range res.Rejected {
			if i == maxRejections {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(res.Rejected)-maxRejections)) + "\n")
				break
			}
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s %-4s %-6s %s", r.Time.Format("2006-01-02"), r.Action, r.Symbol, r.Reason)) + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func line(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label) + " " + value + "\n")
}

func outcome(res *backtest.Result) string {
	switch res.Outcome {
	case backtest.OutcomeCompleted:
		return gainStyle.Render(string(res.Outcome))
	case backtest.OutcomeCancelled:
		return warnStyle.Render(string(res.Outcome))
	}
	s := lossStyle.Render(string(res.Outcome))
	if res.Err != nil {
		s += dimStyle.Render(": " + res.Err.Error())
	}
	return s
}

func money(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	cents := int64(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("$%s.%02d", humanize.Comma(cents/100), cents%100)
	if v < 0 && cents > 0 {
		s = "-" + s
	}
	return s
}

func signedMoney(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	return colorize(v, money(v))
}

func pct(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func signedPct(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	return colorize(v, fmt.Sprintf("%+.2f%%", v*100))
}

func ratio(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	return fmt.Sprintf("%.2f", v)
}

func colorize(v float64, s string) string {
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return s
}
