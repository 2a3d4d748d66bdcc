// Package reader provides read-back access to the persisted shard files
// for backtesting and analysis tooling.
//
// It only needs read access to the shard layout: one DuckDB file per UTC
// date, market_data_<YYYY-MM-DD>.duckdb, with ticks and depth relations.
// Range loads span and concatenate every shard whose date falls in range,
// inclusive, each ordered by exchange_time.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/shard"
)

// TickRow is one row read back from a ticks relation.
type TickRow struct {
	Symbol       string
	Price        float64
	Volume       float64
	Side         string
	ExchangeTime time.Time
	RecvTime     time.Time
}

// DepthRow is one row read back from a depth relation. Bids and asks are
// the stored wire encoding; codec.ParseLevels decodes them.
type DepthRow struct {
	Symbol       string
	Bids         string
	Asks         string
	ExchangeTime time.Time
	RecvTime     time.Time
}

// Reader reads persisted shards from a data directory.
type Reader struct {
	dir string
	log *slog.Logger
}

// New creates a reader over dir.
func New(dir string) *Reader {
	return &Reader{
		dir: dir,
		log: logging.Component("reader"),
	}
}

// ListAvailableDates returns the sorted dates present as shard files.
// File names that do not parse as shard dates are skipped.
func (r *Reader) ListAvailableDates() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shard dir: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, shard.FilePrefix) || !strings.HasSuffix(name, shard.FileExt) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, shard.FilePrefix), shard.FileExt)
		if !shard.ValidDate(date) {
			continue
		}
		dates = append(dates, date)
	}

	sort.Strings(dates)
	return dates, nil
}

// LoadRange loads all rows for symbol across every shard whose date lies
// in [startDate, endDate], concatenated in date order, each shard's rows
// ordered by exchange_time ascending. A failing shard is logged and
// skipped; the rest of the range still loads.
func (r *Reader) LoadRange(ctx context.Context, startDate, endDate, symbol string) ([]TickRow, []DepthRow, error) {
	available, err := r.ListAvailableDates()
	if err != nil {
		return nil, nil, err
	}

	var target []string
	for _, d := range available {
		if d >= startDate && d <= endDate {
			target = append(target, d)
		}
	}
	if len(target) == 0 {
		return nil, nil, nil
	}

	r.log.Info("loading range",
		"start", target[0], "end", target[len(target)-1], "days", len(target))

	var ticks []TickRow
	var depths []DepthRow

	for _, date := range target {
		t, d, err := r.loadDay(ctx, date, symbol)
		if err != nil {
			r.log.Error("shard load failed, skipped", "date", date, "error", err)
			continue
		}
		ticks = append(ticks, t...)
		depths = append(depths, d...)
		r.log.Info("shard loaded", "date", date, "ticks", len(t), "depths", len(d))
	}

	return ticks, depths, nil
}

// LoadDay loads a single date.
func (r *Reader) LoadDay(ctx context.Context, date, symbol string) ([]TickRow, []DepthRow, error) {
	return r.LoadRange(ctx, date, date, symbol)
}

// LoadRecentDays loads the most recent n available dates.
func (r *Reader) LoadRecentDays(ctx context.Context, n int, symbol string) ([]TickRow, []DepthRow, error) {
	available, err := r.ListAvailableDates()
	if err != nil {
		return nil, nil, err
	}
	if len(available) == 0 {
		return nil, nil, nil
	}

	start := available[0]
	if len(available) > n {
		start = available[len(available)-n]
	}
	return r.LoadRange(ctx, start, available[len(available)-1], symbol)
}

func (r *Reader) loadDay(ctx context.Context, date, symbol string) ([]TickRow, []DepthRow, error) {
	s, err := r.openExisting(date)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()

	db := s.DB()

	tickRows, err := db.QueryContext(ctx, `
		SELECT symbol, price, volume, side, exchange_time, recv_time
		FROM ticks
		WHERE symbol = ?
		ORDER BY exchange_time ASC`, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("query ticks %s: %w", date, err)
	}
	defer tickRows.Close()

	var ticks []TickRow
	for tickRows.Next() {
		var t TickRow
		if err := tickRows.Scan(&t.Symbol, &t.Price, &t.Volume, &t.Side, &t.ExchangeTime, &t.RecvTime); err != nil {
			return nil, nil, fmt.Errorf("scan tick row: %w", err)
		}
		ticks = append(ticks, t)
	}
	if err := tickRows.Err(); err != nil {
		return nil, nil, err
	}

	depthRows, err := db.QueryContext(ctx, `
		SELECT symbol, bids, asks, exchange_time, recv_time
		FROM depth
		WHERE symbol = ?
		ORDER BY exchange_time ASC`, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("query depth %s: %w", date, err)
	}
	defer depthRows.Close()

	var depths []DepthRow
	for depthRows.Next() {
		var d DepthRow
		if err := depthRows.Scan(&d.Symbol, &d.Bids, &d.Asks, &d.ExchangeTime, &d.RecvTime); err != nil {
			return nil, nil, fmt.Errorf("scan depth row: %w", err)
		}
		depths = append(depths, d)
	}
	if err := depthRows.Err(); err != nil {
		return nil, nil, err
	}

	return ticks, depths, nil
}

// openExisting opens a shard only if its file is already present, so a
// read never conjures an empty store into the data directory.
func (r *Reader) openExisting(date string) (*shard.Shard, error) {
	path := shard.Path(r.dir, date)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("shard file %s: %w", path, err)
	}
	return shard.Open(r.dir, date)
}

// DateInfo summarizes one shard's contents.
type DateInfo struct {
	Date string

	TickCount   int64
	TickMinTime time.Time
	TickMaxTime time.Time
	TickSymbols int64

	DepthCount   int64
	DepthMinTime time.Time
	DepthMaxTime time.Time
	DepthSymbols int64
}

// Info returns row counts, time bounds, and distinct symbol counts for a
// date's shard.
func (r *Reader) Info(ctx context.Context, date string) (*DateInfo, error) {
	s, err := r.openExisting(date)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	info := &DateInfo{Date: date}
	db := s.DB()

	row := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(MIN(exchange_time), TIMESTAMP '1970-01-01'),
		       COALESCE(MAX(exchange_time), TIMESTAMP '1970-01-01'),
		       COUNT(DISTINCT symbol)
		FROM ticks`)
	if err := row.Scan(&info.TickCount, &info.TickMinTime, &info.TickMaxTime, &info.TickSymbols); err != nil {
		return nil, fmt.Errorf("tick stats %s: %w", date, err)
	}

	row = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(MIN(exchange_time), TIMESTAMP '1970-01-01'),
		       COALESCE(MAX(exchange_time), TIMESTAMP '1970-01-01'),
		       COUNT(DISTINCT symbol)
		FROM depth`)
	if err := row.Scan(&info.DepthCount, &info.DepthMinTime, &info.DepthMaxTime, &info.DepthSymbols); err != nil {
		return nil, fmt.Errorf("depth stats %s: %w", date, err)
	}

	return info, nil
}

// Summary returns the per-date summary for every available shard, in date
// order. A shard that fails to summarize is logged and skipped.
func (r *Reader) Summary(ctx context.Context) ([]DateInfo, error) {
	dates, err := r.ListAvailableDates()
	if err != nil {
		return nil, err
	}

	infos := make([]DateInfo, 0, len(dates))
	for _, date := range dates {
		info, err := r.Info(ctx, date)
		if err != nil {
			r.log.Error("shard summary failed, skipped", "date", date, "error", err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
