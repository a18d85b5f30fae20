package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"algotrader/internal/domain"
	"algotrader/internal/gather"
	"algotrader/internal/store"
	"algotrader/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)
var _ BarsClient = (*marketdata.Client)(nil)

// BarsClient is the subset of the Alpaca market-data client used here.
type BarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewMarketDataClient returns an Alpaca market-data client. An empty dataURL
// uses the SDK default endpoint.
func NewMarketDataClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// ---------------------------------------------------------------------------
// BarFetcher
// ---------------------------------------------------------------------------

// BarFetcher downloads split- and dividend-adjusted daily bars in batches,
// pacing requests with a rate limiter and retrying transient failures.
type BarFetcher struct {
	client    BarsClient
	batchSize int
	limiter   *util.RateLimiter
	attempts  int
	baseDelay time.Duration
	feed      marketdata.Feed
	log       *slog.Logger
}

// NewBarFetcher creates a BarFetcher. batchSize is the number of symbols per
// API call and ratePerMin caps the call rate.
func NewBarFetcher(client BarsClient, batchSize, ratePerMin int, log *slog.Logger) *BarFetcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	if log == nil {
		log = slog.Default().With("component", "bar-fetcher")
	}
	return &BarFetcher{
		client:    client,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(ratePerMin),
		attempts:  3,
		baseDelay: time.Second,
		feed:      marketdata.IEX,
		log:       log,
	}
}

// SetFeed selects the data feed ("iex" or "sip").
func (f *BarFetcher) SetFeed(feed string) { f.feed = marketdata.Feed(feed) }

// FetchBars returns daily bars for symbols in [start, end], sorted by symbol
// then time. Symbols without data are simply absent from the result.
func (f *BarFetcher) FetchBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	var all []domain.Bar
	for i := 0; i < len(upper); i += f.batchSize {
		batch := upper[i:min(i+f.batchSize, len(upper))]
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var multi map[string][]marketdata.Bar
		err := util.Retry(ctx, f.attempts, f.baseDelay, func() error {
			var err error
			multi, err = f.client.GetMultiBars(batch, marketdata.GetBarsRequest{
				TimeFrame:  marketdata.OneDay,
				Adjustment: marketdata.All,
				Start:      start,
				End:        end,
				Feed:       f.feed,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("GetMultiBars %v: %w", batch, err)
		}

		got := 0
		for sym, bars := range multi {
			converted := convertBars(sym, bars)
			got += len(converted)
			all = append(all, converted...)
		}
		f.log.Debug("batch fetched", "symbols", len(batch), "bars", got)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Symbol != all[j].Symbol {
			return all[i].Symbol < all[j].Symbol
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// convertBars maps Alpaca bars to domain bars in UTC.
func convertBars(symbol string, in []marketdata.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(in))
	for _, ab := range in {
		out = append(out, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// DailyBarGatherer
// ---------------------------------------------------------------------------

// EndDateFunc resolves the last date to gather.
type EndDateFunc func(ctx context.Context) (time.Time, error)

// DailyBarGatherer fetches daily bars for a configured symbol list and writes
// them to a BarStore. A run is skipped when the same end date already
// completed.
type DailyBarGatherer struct {
	fetcher   *BarFetcher
	store     store.BarStore
	symbols   []string
	startDate string
	endDate   EndDateFunc
	stateDir  string
	log       *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. stateDir holds the
// progress markers, usually <DataDir>/us/daily.
func NewDailyBarGatherer(fetcher *BarFetcher, s store.BarStore, symbols []string, startDate string, endDate EndDateFunc, stateDir string) *DailyBarGatherer {
	return &DailyBarGatherer{
		fetcher:   fetcher,
		store:     s,
		symbols:   symbols,
		startDate: startDate,
		endDate:   endDate,
		stateDir:  stateDir,
		log:       slog.Default().With("gatherer", "us-daily"),
	}
}

// StateDir returns the conventional progress directory under dataDir.
func StateDir(dataDir string) string {
	return filepath.Join(dataDir, string(domain.MarketUS), "daily")
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches bars from startDate through the resolved end date and writes
// them to the store.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse(time.DateOnly, g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	if len(g.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	end, err := g.endDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endStr := end.Format(time.DateOnly)

	tracker, err := newProgressTracker(g.stateDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endStr {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if !tracker.IsTriedEmpty(strings.ToUpper(sym)) {
			remaining = append(remaining, sym)
		}
	}
	g.log.Info("starting us-daily", "endDate", endStr, "symbols", len(remaining))

	runStart := time.Now()
	bars, err := g.fetcher.FetchBars(ctx, remaining, start, end.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return err
	}

	hit := make(map[string]bool)
	for _, b := range bars {
		hit[b.Symbol] = true
	}
	var empty []string
	for _, sym := range remaining {
		if !hit[strings.ToUpper(sym)] {
			empty = append(empty, strings.ToUpper(sym))
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("writing bars: %w", err)
		}
	}
	if err := tracker.MarkEmpty(empty); err != nil {
		return fmt.Errorf("marking empty: %w", err)
	}
	if err := tracker.MarkCompleted(endStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete",
		"bars", len(bars),
		"symbols", len(hit),
		"empty", len(empty),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}
