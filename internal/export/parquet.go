// Package export writes a shard day's rows into Parquet files for
// columnar analysis tooling.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/tickstore/internal/reader"
)

// Options configures the Parquet export.
type Options struct {
	// Compression algorithm: snappy, zstd, lz4, gzip, none.
	Compression string
}

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{Compression: "zstd"}
}

// codec returns the parquet-go compression codec.
func codec(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "zstd":
		return &parquet.Zstd
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// tickRow is the ticks relation in Parquet form. Timestamps are carried
// as microseconds since the UTC epoch.
type tickRow struct {
	Symbol         string  `parquet:"symbol,zstd"`
	Price          float64 `parquet:"price"`
	Volume         float64 `parquet:"volume"`
	Side           string  `parquet:"side,zstd"`
	ExchangeTimeUs int64   `parquet:"exchange_time_us"`
	RecvTimeUs     int64   `parquet:"recv_time_us"`
}

// depthRow is the depth relation in Parquet form. Bids and asks keep the
// stored wire encoding.
type depthRow struct {
	Symbol         string `parquet:"symbol,zstd"`
	Bids           string `parquet:"bids,zstd"`
	Asks           string `parquet:"asks,zstd"`
	ExchangeTimeUs int64  `parquet:"exchange_time_us"`
	RecvTimeUs     int64  `parquet:"recv_time_us"`
}

// Result reports how many rows an export wrote.
type Result struct {
	TickRows  int
	DepthRows int
	TickPath  string
	DepthPath string
}

// Day exports one date's rows for symbol into <outDir>/<date>_ticks.parquet
// and <outDir>/<date>_depth.parquet.
func Day(ctx context.Context, dataDir, date, symbol, outDir string, opts Options) (*Result, error) {
	if opts.Compression == "" {
		opts = DefaultOptions()
	}

	r := reader.New(dataDir)
	ticks, depths, err := r.LoadDay(ctx, date, symbol)
	if err != nil {
		return nil, fmt.Errorf("load day %s: %w", date, err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	res := &Result{
		TickPath:  filepath.Join(outDir, fmt.Sprintf("%s_ticks.parquet", date)),
		DepthPath: filepath.Join(outDir, fmt.Sprintf("%s_depth.parquet", date)),
	}

	tickRows := make([]tickRow, len(ticks))
	for i, t := range ticks {
		tickRows[i] = tickRow{
			Symbol:         t.Symbol,
			Price:          t.Price,
			Volume:         t.Volume,
			Side:           t.Side,
			ExchangeTimeUs: t.ExchangeTime.UnixMicro(),
			RecvTimeUs:     t.RecvTime.UnixMicro(),
		}
	}
	if err := writeFile(res.TickPath, tickRows, opts); err != nil {
		return nil, err
	}
	res.TickRows = len(tickRows)

	depthRows := make([]depthRow, len(depths))
	for i, d := range depths {
		depthRows[i] = depthRow{
			Symbol:         d.Symbol,
			Bids:           d.Bids,
			Asks:           d.Asks,
			ExchangeTimeUs: d.ExchangeTime.UnixMicro(),
			RecvTimeUs:     d.RecvTime.UnixMicro(),
		}
	}
	if err := writeFile(res.DepthPath, depthRows, opts); err != nil {
		return nil, err
	}
	res.DepthRows = len(depthRows)

	return res, nil
}

// writeFile writes rows to a Parquet file at path.
func writeFile[T any](path string, rows []T, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := parquet.NewGenericWriter[T](f, parquet.Compression(codec(opts.Compression)))

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			writer.Close()
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer %s: %w", path, err)
	}
	return f.Close()
}
