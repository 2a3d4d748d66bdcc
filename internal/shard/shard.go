// Package shard manages the per-calendar-day DuckDB stores.
//
// Each UTC date gets one store file, market_data_<YYYY-MM-DD>.duckdb,
// holding two append-only relations, ticks and depth. Duplicate rows on
// (symbol, exchange_time) are suppressed at insert time with a
// NOT EXISTS guard rather than a declared unique constraint. That dedup
// is only safe because exactly one writer owns all shard handles; reuse
// under concurrent writers would race.
package shard

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	// DateLayout is the shard date format.
	DateLayout = "2006-01-02"

	// FilePrefix and FileExt form the shard file name around the date.
	FilePrefix = "market_data_"
	FileExt    = ".duckdb"
)

// Path returns the store file path for a date.
func Path(dir, date string) string {
	return filepath.Join(dir, FilePrefix+date+FileExt)
}

// Shard is one open per-date store.
type Shard struct {
	Date string
	Path string

	db *sql.DB
}

// Open opens (creating if needed) the store for a date and ensures its
// schema exists. Opening an existing file appends to it; shards survive
// process restarts on the same date.
func Open(dir, date string) (*Shard, error) {
	path := Path(dir, date)

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}

	s := &Shard{Date: date, Path: path, db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Shard) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol VARCHAR,
			price DOUBLE,
			volume DOUBLE,
			side VARCHAR,
			exchange_time TIMESTAMP,
			recv_time TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS depth (
			symbol VARCHAR,
			bids VARCHAR,
			asks VARCHAR,
			exchange_time TIMESTAMP,
			recv_time TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_time ON ticks(exchange_time)`,
		`CREATE INDEX IF NOT EXISTS idx_depth_time ON depth(exchange_time)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("shard %s schema: %w", s.Date, err)
		}
	}
	return nil
}

// Begin starts a transaction on the shard.
func (s *Shard) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// DB exposes the underlying handle for read-side queries.
func (s *Shard) DB() *sql.DB {
	return s.db
}

// Close closes the store handle.
func (s *Shard) Close() error {
	return s.db.Close()
}

// TickRow is one ticks relation row ready for insert.
type TickRow struct {
	Symbol       string
	Price        float64
	Volume       float64
	Side         string
	ExchangeTime time.Time
	RecvTime     time.Time
}

// DepthRow is one depth relation row ready for insert. Bids and asks stay
// in their wire encoding.
type DepthRow struct {
	Symbol       string
	Bids         string
	Asks         string
	ExchangeTime time.Time
	RecvTime     time.Time
}

const insertTickSQL = `
	INSERT INTO ticks
	SELECT ?, ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM ticks t
		WHERE t.symbol = ? AND t.exchange_time = ?
	)`

const insertDepthSQL = `
	INSERT INTO depth
	SELECT ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM depth d
		WHERE d.symbol = ? AND d.exchange_time = ?
	)`

// InsertTicks inserts rows within tx, skipping rows whose
// (symbol, exchange_time) already exists. Returns the number of rows
// actually inserted after dedup.
func InsertTicks(tx *sql.Tx, rows []TickRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(insertTickSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare tick insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range rows {
		res, err := stmt.Exec(
			r.Symbol, r.Price, r.Volume, r.Side, r.ExchangeTime, r.RecvTime,
			r.Symbol, r.ExchangeTime,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert tick %s@%s: %w", r.Symbol, r.ExchangeTime, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

// InsertDepth inserts rows within tx with the same dedup rule as
// InsertTicks. Returns the number of rows actually inserted.
func InsertDepth(tx *sql.Tx, rows []DepthRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(insertDepthSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare depth insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range rows {
		res, err := stmt.Exec(
			r.Symbol, r.Bids, r.Asks, r.ExchangeTime, r.RecvTime,
			r.Symbol, r.ExchangeTime,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert depth %s@%s: %w", r.Symbol, r.ExchangeTime, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}
