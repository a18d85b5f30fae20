// Command backtest replays stored daily bars through a strategy and prints a
// performance report. With -sweep it runs every parameter combination in
// parallel and prints a comparison table.
//
// Usage:
//
//	backtest -strategy momentum -symbols AAPL,MSFT -start 2023-01-01 -end 2023-12-31 \
//	    -param lookback=20 -sweep threshold=0.02,0.05,0.1 -save
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"algotrader/internal/backtest"
	"algotrader/internal/config"
	"algotrader/internal/gather/us"
	"algotrader/internal/report"
	"algotrader/internal/store"
	"algotrader/internal/strategy"
	"algotrader/internal/strategy/builtins"
	"algotrader/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $ALGOTRADER_CONFIG or "+config.DefaultPath+")")
	stratName := flag.String("strategy", "momentum", "strategy name")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols")
	mkt := flag.String("market", "us", "market of the stored bars")
	startFlag := flag.String("start", "", "first date YYYY-MM-DD")
	endFlag := flag.String("end", "", "last date YYYY-MM-DD (default today)")
	cash := flag.Float64("cash", 0, "initial cash (default backtest.initial_cash)")
	pricing := flag.String("pricing", "", "fill pricing: close or next_open")
	commission := flag.Float64("commission", 0, "commission rate, or per-fill amount with -commission-mode fixed")
	commissionMode := flag.String("commission-mode", "", "proportional or fixed")
	slippage := flag.Float64("slippage", 0, "slippage as a fraction of price")
	allowShort := flag.Bool("allow-short", false, "allow SELL to open short positions")
	workers := flag.Int("workers", 0, "parallel runs for -sweep (default backtest.sweep_workers)")
	fetch := flag.Bool("fetch", false, "download bars from Alpaca before running")
	save := flag.Bool("save", false, "save the run to the SQLite journal")
	export := flag.Bool("export", false, "export equity and trades as parquet under <data_dir>/backtests/<id>")
	list := flag.Bool("list", false, "list registered strategies and exit")
	var params, sweep multiFlag
	flag.Var(&params, "param", "strategy parameter key=value (repeatable)")
	flag.Var(&sweep, "sweep", "sweep values key=v1,v2,... (repeatable)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	registry := strategy.NewRegistry()
	builtins.Register(registry)
	if *list {
		for _, name := range registry.List() {
			fmt.Println(name)
		}
		return
	}

	// Flags override the config file only when given.
	bt := cfg.Backtest
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cash":
			bt.InitialCash = *cash
		case "pricing":
			bt.Pricing = *pricing
		case "commission":
			bt.Commission = *commission
		case "commission-mode":
			bt.CommissionMode = *commissionMode
		case "slippage":
			bt.Slippage = *slippage
		case "allow-short":
			bt.AllowShort = *allowShort
		case "workers":
			bt.SweepWorkers = *workers
		}
	})
	engineCfg, err := bt.EngineConfig()
	if err != nil {
		log.Fatalf("invalid backtest settings: %v", err)
	}

	baseParams, err := strategy.ParseParams(params)
	if err != nil {
		log.Fatalf("invalid -param: %v", err)
	}
	grid, err := parseSweep(sweep)
	if err != nil {
		log.Fatalf("invalid -sweep: %v", err)
	}
	if err := checkOutputs(len(grid) > 0, *save, *export); err != nil {
		log.Fatalf("%v", err)
	}

	start, err := time.Parse(time.DateOnly, *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if *endFlag != "" {
		if end, err = time.Parse(time.DateOnly, *endFlag); err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	}
	// Bars are stamped within the day, so the end date is inclusive.
	endInclusive := end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	symbols := splitSymbols(*symbolsFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	if *fetch {
		fetcher := us.NewBarFetcher(
			us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
			cfg.Gather.USDaily.BatchSize,
			cfg.Gather.USDaily.RateLimitPerMin,
			logger.With("component", "bar-fetcher"),
		)
		bars, err := fetcher.FetchBars(ctx, symbols, start, endInclusive)
		if err != nil {
			log.Fatalf("fetching bars: %v", err)
		}
		if err := pstore.WriteBarsForMarket(bars, *mkt); err != nil {
			log.Fatalf("storing bars: %v", err)
		}
		slog.Info("bars fetched", "count", len(bars), "symbols", len(symbols))
	}

	runner, err := backtest.NewRunner(pstore, registry, engineCfg, logger.With("component", "runner"))
	if err != nil {
		log.Fatalf("creating runner: %v", err)
	}

	if len(grid) > 0 {
		runSweep(ctx, runner, registry, *stratName, baseParams, grid, symbols, *mkt, start, endInclusive, bt)
		return
	}

	req := backtest.Request{
		Strategy:    *stratName,
		Params:      baseParams,
		Symbols:     symbols,
		Market:      *mkt,
		Start:       start,
		End:         endInclusive,
		InitialCash: bt.InitialCash,
	}
	res, runErr := runner.Run(ctx, req)
	if res == nil {
		log.Fatalf("backtest failed: %v", runErr)
	}

	label := *stratName
	if enc := baseParams.Encode(); enc != "" {
		label += " " + enc
	}
	if err := report.Render(os.Stdout, label, res); err != nil {
		log.Fatalf("rendering report: %v", err)
	}

	runID := ""
	if *save {
		if runID, err = saveRun(ctx, cfg.Storage.SQLitePath, req, res); err != nil {
			log.Fatalf("saving run: %v", err)
		}
		fmt.Printf("\nsaved run %s\n", runID)
	}
	if *export {
		if runID == "" {
			runID = uuid.NewString()
		}
		dir, err := pstore.ExportRun(runID, res.Equity, res.Trades)
		if err != nil {
			log.Fatalf("exporting run: %v", err)
		}
		fmt.Printf("exported to %s\n", dir)
	}

	var se *backtest.StrategyError
	if errors.As(runErr, &se) {
		os.Exit(1)
	}
}

func runSweep(ctx context.Context, runner *backtest.Runner, registry *strategy.Registry, name string, base strategy.Params, grid []strategy.Params, symbols []string, mkt string, start, end time.Time, bt config.BacktestConfig) {
	factory, err := registry.Factory(name)
	if err != nil {
		log.Fatalf("%v", err)
	}
	series, err := runner.LoadSeries(ctx, symbols, mkt, start, end)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}
	results, err := runner.Engine().Sweep(ctx, series, factory, base, grid, bt.InitialCash, bt.SweepWorkers)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	if err := report.RenderSweep(os.Stdout, name, results); err != nil {
		log.Fatalf("rendering sweep: %v", err)
	}
}

// saveRun journals res in the SQLite store at path and returns its ID.
func saveRun(ctx context.Context, path string, req backtest.Request, res *backtest.Result) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating sqlite dir: %w", err)
	}
	runs, err := store.NewSQLiteStore(path)
	if err != nil {
		return "", fmt.Errorf("opening run store: %w", err)
	}
	defer runs.Close()

	// An interrupted run is still journaled.
	return runs.SaveRun(context.WithoutCancel(ctx), backtest.NewRunSummary(req, res), res.Equity, res.Trades)
}
