package main

import (
	"fmt"
	"strings"

	"algotrader/internal/backtest"
	"algotrader/internal/strategy"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, " ") }

func (m *multiFlag) Set(s string) error {
	*m = append(*m, s)
	return nil
}

// parseSweep turns "key=v1,v2" entries into a parameter grid. No entries
// yields a nil grid.
func parseSweep(entries []string) ([]strategy.Params, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	values := make(map[string][]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("want key=v1,v2,..., got %q", e)
		}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				values[k] = append(values[k], item)
			}
		}
	}
	return backtest.Grid(values), nil
}

// checkOutputs rejects output flags that only apply to a single run.
func checkOutputs(sweeping, save, export bool) error {
	if !sweeping {
		return nil
	}
	switch {
	case save && export:
		return fmt.Errorf("-save and -export apply to single runs, not -sweep")
	case save:
		return fmt.Errorf("-save applies to single runs, not -sweep")
	case export:
		return fmt.Errorf("-export applies to single runs, not -sweep")
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, strings.ToUpper(sym))
		}
	}
	return out
}
