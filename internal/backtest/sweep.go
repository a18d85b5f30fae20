package backtest

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"algotrader/internal/market"
	"algotrader/internal/strategy"
)

// SweepResult is one parameter combination of a sweep.
type SweepResult struct {
	Params strategy.Params
	Result *Result // nil when the strategy rejected Params or the run had no result
	Err    error
}

// Grid expands per-key value lists into the cartesian product of parameter
// sets. Keys vary slowest-first in sorted order, so the result order is
// stable. An empty grid yields a single empty set.
func Grid(values map[string][]string) []strategy.Params {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := []strategy.Params{{}}
	for _, k := range keys {
		next := make([]strategy.Params, 0, len(out)*len(values[k]))
		for _, p := range out {
			for _, v := range values[k] {
				np := p.Merge(strategy.Params{k: v})
				next = append(next, np)
			}
		}
		out = next
	}
	return out
}

// Sweep runs factory over series once per grid entry, merged over base.
// Every combination gets its own strategy instance and portfolio; at most
// workers runs execute at once. Results are returned in grid order.
//
// Per-run failures are reported in SweepResult.Err. The returned error is
// non-nil only when ctx is cancelled.
func (e *Engine) Sweep(ctx context.Context, series *market.Series, factory strategy.Factory, base strategy.Params, grid []strategy.Params, initialCash float64, workers int) ([]SweepResult, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]SweepResult, len(grid))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range grid {
		params := base.Merge(p)
		results[i].Params = params
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			strat := factory()
			if err := strat.Setup(params); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := e.Run(gctx, series, strat, initialCash)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
