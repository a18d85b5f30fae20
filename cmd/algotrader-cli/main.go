package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"algotrader/internal/api"
	"algotrader/pkg/algotrader"
)

const version = "0.2.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: algotrader-cli [-server URL] [-grpc ADDR] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies           List strategies the server can run\n")
	fmt.Fprintf(os.Stderr, "  runs [-strategy S]   List saved runs, newest first\n")
	fmt.Fprintf(os.Stderr, "  run <id>             Show one run\n")
	fmt.Fprintf(os.Stderr, "  trades <id>          Show the trade log of a run\n")
	fmt.Fprintf(os.Stderr, "  submit [options]     Run a backtest on the server\n")
	fmt.Fprintf(os.Stderr, "\n")
	flag.PrintDefaults()
}

func main() {
	server := flag.String("server", envOr("ALGOTRADER_SERVER", "http://localhost:8080"), "HTTP API base URL")
	grpcAddr := flag.String("grpc", "", "use the gRPC API at this address for runs, run and submit")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	b := newBackend(*server, *grpcAddr)
	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("algotrader-cli %s\n", version)

	case "strategies":
		names, err := algotrader.NewClient(*server).ListStrategies(ctx)
		if err != nil {
			log.Fatalf("listing strategies: %v", err)
		}
		for _, n := range names {
			fmt.Println(n)
		}

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ExitOnError)
		strat := fs.String("strategy", "", "only runs of this strategy")
		limit := fs.Int("limit", 20, "maximum runs to list (0 = all)")
		fs.Parse(args)
		runs, err := b.listRuns(ctx, *strat, *limit)
		if err != nil {
			log.Fatalf("listing runs: %v", err)
		}
		printRuns(runs)

	case "run":
		if len(args) != 1 {
			log.Fatalf("usage: algotrader-cli run <id>")
		}
		run, err := b.getRun(ctx, args[0])
		if err != nil {
			log.Fatalf("getting run: %v", err)
		}
		printRun(run)

	case "trades":
		if len(args) != 1 {
			log.Fatalf("usage: algotrader-cli trades <id>")
		}
		trades, err := algotrader.NewClient(*server).GetTrades(ctx, args[0])
		if err != nil {
			log.Fatalf("getting trades: %v", err)
		}
		printTrades(trades)

	case "submit":
		fs := flag.NewFlagSet("submit", flag.ExitOnError)
		strat := fs.String("strategy", "momentum", "strategy name")
		symbols := fs.String("symbols", "", "comma-separated symbols")
		start := fs.String("start", "", "first date YYYY-MM-DD")
		end := fs.String("end", "", "last date YYYY-MM-DD")
		cash := fs.Float64("cash", 0, "initial cash (0 = server default)")
		mkt := fs.String("market", "us", "market of the stored bars")
		var params paramFlags
		fs.Var(&params, "param", "strategy parameter key=value (repeatable)")
		fs.Parse(args)

		req := algotrader.BacktestRequest{
			Strategy:    *strat,
			Params:      params.m,
			Symbols:     splitSymbols(*symbols),
			Market:      *mkt,
			Start:       *start,
			End:         *end,
			InitialCash: *cash,
		}
		run, err := b.submit(ctx, req)
		if err != nil {
			log.Fatalf("submitting backtest: %v", err)
		}
		printRun(run)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

// backend routes run queries over HTTP or, when an address is given, gRPC.
type backend struct {
	http *algotrader.Client
	grpc *api.BacktestClient
}

func newBackend(server, grpcAddr string) *backend {
	b := &backend{http: algotrader.NewClient(server)}
	if grpcAddr != "" {
		conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatalf("connecting to %s: %v", grpcAddr, err)
		}
		b.grpc = api.NewBacktestClient(conn)
	}
	return b
}

func (b *backend) listRuns(ctx context.Context, strategy string, limit int) ([]algotrader.Run, error) {
	if b.grpc != nil {
		return b.grpc.ListRuns(ctx, strategy, limit)
	}
	return b.http.ListRuns(ctx, strategy, limit)
}

func (b *backend) getRun(ctx context.Context, id string) (*algotrader.Run, error) {
	if b.grpc != nil {
		return b.grpc.GetRun(ctx, id)
	}
	return b.http.GetRun(ctx, id)
}

func (b *backend) submit(ctx context.Context, req algotrader.BacktestRequest) (*algotrader.Run, error) {
	if b.grpc != nil {
		return b.grpc.RunBacktest(ctx, req)
	}
	return b.http.SubmitBacktest(ctx, req)
}

func printRuns(runs []algotrader.Run) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTRATEGY\tSYMBOLS\tPERIOD\tOUTCOME\tRETURN\tSHARPE\tTRADES\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s..%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID[:min(8, len(r.ID))], r.Strategy, strings.Join(r.Symbols, ","),
			r.Start.Format(algotrader.DateLayout), r.End.Format(algotrader.DateLayout),
			r.Outcome, pct(r.TotalReturn), num(r.SharpeRatio), r.TotalTrades,
			humanize.Time(r.CreatedAt))
	}
	tw.Flush()
}

func printRun(r *algotrader.Run) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", r.ID},
		{"Strategy", r.Strategy},
		{"Params", formatParams(r.Params)},
		{"Symbols", strings.Join(r.Symbols, ", ")},
		{"Period", r.Start.Format(algotrader.DateLayout) + " .. " + r.End.Format(algotrader.DateLayout)},
		{"Outcome", r.Outcome},
		{"Initial cash", "$" + humanize.FormatFloat("#,###.##", r.InitialCash)},
		{"Final equity", money(r.FinalEquity)},
		{"Total return", pct(r.TotalReturn)},
		{"Annualized return", pct(r.AnnualizedReturn)},
		{"Sharpe ratio", num(r.SharpeRatio)},
		{"Max drawdown", pct(r.MaxDrawdown)},
		{"Win rate", pct(r.WinRate)},
		{"Profit factor", num(r.ProfitFactor)},
		{"Trades", fmt.Sprintf("%d (%d closed, %d rejected)", r.TotalTrades, r.ClosedTrades, r.Rejected)},
	}
	if r.Error != "" {
		rows = append(rows, [2]string{"Error", r.Error})
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	tw.Flush()
}

func printTrades(trades []algotrader.Trade) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SEQ\tTIME\tSYMBOL\tSIDE\tQTY\tPRICE\tCOMMISSION\tPNL\tPOSITION\tCASH\t")
	for _, t := range trades {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%g\t%.4f\t%.2f\t%.2f\t%g\t%.2f\t\n",
			t.Seq, t.Timestamp.Format(algotrader.DateLayout), t.Symbol, t.Side, t.Qty, t.Price,
			t.Commission, t.RealizedPnL, t.PositionAfter, t.CashAfter)
	}
	tw.Flush()
}

func pct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *v*100)
}

func num(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func money(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return "$" + humanize.FormatFloat("#,###.##", *v)
}

func formatParams(p map[string]string) string {
	if len(p) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
