package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"algotrader/internal/config"
	"algotrader/internal/gather/us"
	"algotrader/internal/store"
	"algotrader/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $ALGOTRADER_CONFIG or "+config.DefaultPath+")")
	symbols := flag.String("symbols", "", "comma-separated symbols (default gather.us_daily.symbols)")
	start := flag.String("start", "", "first date YYYY-MM-DD (default gather.us_daily.start_date)")
	end := flag.String("end", "", "last date YYYY-MM-DD (default latest finished trading day)")
	feed := flag.String("feed", "iex", "market data feed: iex or sip")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	job := cfg.Gather.USDaily
	if *symbols != "" {
		job.Symbols = strings.Split(*symbols, ",")
	}
	if *start != "" {
		job.StartDate = *start
	}
	if job.StartDate == "" {
		log.Fatalf("no start date: set -start or gather.us_daily.start_date")
	}

	endDate := us.CalendarEndDate(us.NewTradingClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL))
	if *end != "" {
		t, err := time.Parse(time.DateOnly, *end)
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
		endDate = us.FixedEndDate(t)
	}

	fetcher := us.NewBarFetcher(
		us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		job.BatchSize,
		job.RateLimitPerMin,
		nil,
	)
	fetcher.SetFeed(*feed)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := us.NewDailyBarGatherer(fetcher, pstore, job.Symbols, job.StartDate, endDate, us.StateDir(cfg.Storage.DataDir))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-alpaca-data", "symbols", len(job.Symbols), "start", job.StartDate, "dataDir", cfg.Storage.DataDir)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
