// tickexport inspects and exports the per-day shards written by
// tickstored: list available dates, summarize a date, dump a date range
// for a symbol, or export a day to Parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/xtxerr/tickstore/internal/export"
	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/reader"
	"github.com/xtxerr/tickstore/internal/shard"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	dataDir := flag.String("data-dir", "market_data_db", "shard data directory")
	list := flag.Bool("list", false, "list available dates")
	summary := flag.Bool("summary", false, "summarize every available date")
	info := flag.String("info", "", "summarize one date (YYYY-MM-DD)")
	dateRange := flag.String("range", "", "load a date range start:end (YYYY-MM-DD:YYYY-MM-DD)")
	symbol := flag.String("symbol", "", "symbol to load (required for -range and -parquet)")
	parquetOut := flag.String("parquet", "", "export a day's rows as Parquet into this directory (use with -info date or -range with equal ends)")
	compression := flag.String("compression", "zstd", "parquet compression: snappy, zstd, lz4, gzip, none")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.SetFlags(0)

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, false)

	r := reader.New(*dataDir)
	ctx := context.Background()

	switch {
	case *list:
		runList(r)

	case *summary:
		runSummary(ctx, r)

	case *info != "" && *parquetOut == "":
		runInfo(ctx, r, *info)

	case *parquetOut != "":
		date := *info
		if date == "" {
			date = singleRangeDate(*dateRange)
		}
		if date == "" {
			log.Fatal("-parquet needs a date: pass -info <date> or -range <date>:<date>")
		}
		if *symbol == "" {
			log.Fatal("-parquet requires -symbol")
		}
		runExport(ctx, *dataDir, date, *symbol, *parquetOut, *compression)

	case *dateRange != "":
		if *symbol == "" {
			log.Fatal("-range requires -symbol")
		}
		start, end, ok := strings.Cut(*dateRange, ":")
		if !ok {
			log.Fatalf("bad -range %q, want start:end", *dateRange)
		}
		runRange(ctx, r, start, end, *symbol)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runList(r *reader.Reader) {
	dates, err := r.ListAvailableDates()
	if err != nil {
		log.Fatalf("List dates: %v", err)
	}
	if len(dates) == 0 {
		fmt.Println("no shards found")
		return
	}
	for _, d := range dates {
		fmt.Println(d)
	}
}

func runSummary(ctx context.Context, r *reader.Reader) {
	infos, err := r.Summary(ctx)
	if err != nil {
		log.Fatalf("Summary: %v", err)
	}
	if len(infos) == 0 {
		fmt.Println("no shards found")
		return
	}
	for _, info := range infos {
		fmt.Printf("%s  ticks=%d (%d symbols)  depth=%d (%d symbols)\n",
			info.Date, info.TickCount, info.TickSymbols, info.DepthCount, info.DepthSymbols)
	}
}

func runInfo(ctx context.Context, r *reader.Reader, date string) {
	if !shard.ValidDate(date) {
		log.Fatalf("bad date %q, want YYYY-MM-DD", date)
	}
	info, err := r.Info(ctx, date)
	if err != nil {
		log.Fatalf("Info %s: %v", date, err)
	}

	fmt.Printf("date: %s\n", info.Date)
	fmt.Printf("ticks: %d rows, %d symbols", info.TickCount, info.TickSymbols)
	if info.TickCount > 0 {
		fmt.Printf(", %s .. %s",
			info.TickMinTime.UTC().Format("15:04:05.000000"),
			info.TickMaxTime.UTC().Format("15:04:05.000000"))
	}
	fmt.Println()
	fmt.Printf("depth: %d rows, %d symbols", info.DepthCount, info.DepthSymbols)
	if info.DepthCount > 0 {
		fmt.Printf(", %s .. %s",
			info.DepthMinTime.UTC().Format("15:04:05.000000"),
			info.DepthMaxTime.UTC().Format("15:04:05.000000"))
	}
	fmt.Println()
}

func runRange(ctx context.Context, r *reader.Reader, start, end, symbol string) {
	if !shard.ValidDate(start) || !shard.ValidDate(end) {
		log.Fatalf("bad range %s:%s, want YYYY-MM-DD dates", start, end)
	}

	ticks, depths, err := r.LoadRange(ctx, start, end, symbol)
	if err != nil {
		log.Fatalf("Load range: %v", err)
	}

	for _, t := range ticks {
		fmt.Printf("T,%s,%s,%.8g,%.8g,%s\n",
			t.ExchangeTime.UTC().Format("2006-01-02T15:04:05.000000"),
			t.Symbol, t.Price, t.Volume, t.Side)
	}
	fmt.Fprintf(os.Stderr, "%d ticks, %d depth rows\n", len(ticks), len(depths))
}

func runExport(ctx context.Context, dataDir, date, symbol, outDir, compression string) {
	if !shard.ValidDate(date) {
		log.Fatalf("bad date %q, want YYYY-MM-DD", date)
	}

	res, err := export.Day(ctx, dataDir, date, symbol, outDir, export.Options{Compression: compression})
	if err != nil {
		log.Fatalf("Export %s: %v", date, err)
	}

	fmt.Printf("%s: %d rows\n", res.TickPath, res.TickRows)
	fmt.Printf("%s: %d rows\n", res.DepthPath, res.DepthRows)
}

// singleRangeDate returns the date when a -range argument names a single
// day (start == end), else "".
func singleRangeDate(arg string) string {
	start, end, ok := strings.Cut(arg, ":")
	if ok && start == end {
		return start
	}
	return ""
}
