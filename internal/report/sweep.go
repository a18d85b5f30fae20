package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"algotrader/internal/backtest"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// RenderSweep writes one row per parameter combination in grid order. The
// best completed Sharpe ratio is highlighted.
func RenderSweep(w io.Writer, name string, results []backtest.SweepResult) error {
	best := -1
	for i, r := range results {
		if r.Result == nil || r.Result.Outcome != backtest.OutcomeCompleted || !backtest.Defined(r.Result.Metrics.SharpeRatio) {
			continue
		}
		if best < 0 || r.Result.Metrics.SharpeRatio > results[best].Result.Metrics.SharpeRatio {
			best = i
		}
	}

	width := len("PARAMS")
	for _, r := range results {
		width = max(width, len(r.Params.Encode()))
	}
	row := func(cells ...string) string {
		return fmt.Sprintf("%-*s  %10s  %10s  %8s  %8s  %6s  %s", width, cells[0], cells[1], cells[2], cells[3], cells[4], cells[5], cells[6])
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Sweep: %s (%d combinations)", name, len(results))) + "\n")
	b.WriteString(headerStyle.Render(row("PARAMS", "RETURN", "ANNUAL", "SHARPE", "MAX DD", "TRADES", "OUTCOME")) + "\n")
	for i, r := range results {
		params := r.Params.Encode()
		if params == "" {
			params = "-"
		}
		if r.Result == nil {
			msg := "error"
			if r.Err != nil {
				msg = r.Err.Error()
			}
			b.WriteString(lossStyle.Render(row(params, "", "", "", "", "", msg)) + "\n")
			continue
		}
		m := r.Result.Metrics
		line := row(params,
			signedPctPlain(m.TotalReturn),
			signedPctPlain(m.AnnualizedReturn),
			ratio(m.SharpeRatio),
			pct(m.MaxDrawdown),
			fmt.Sprint(m.TotalTrades),
			string(r.Result.Outcome),
		)
		if i == best {
			line = gainStyle.Bold(true).Render(line)
		}
		b.WriteString(line + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func signedPctPlain(v float64) string {
	if !backtest.Defined(v) {
		return undefined
	}
	return fmt.Sprintf("%+.2f%%", v*100)
}
