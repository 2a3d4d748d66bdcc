// Package writer implements the consumer side of the ingestion pipeline:
// it drains the bounded queue into an accumulation buffer, flushes on size
// or time thresholds, and commits each flush to per-day shards with
// date-group transaction isolation and (symbol, exchange_time) dedup.
package writer

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/tickstore/internal/codec"
	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/queue"
	"github.com/xtxerr/tickstore/internal/shard"
)

// Options configures the writer.
type Options struct {
	// BatchSize triggers a flush when the buffer reaches it.
	BatchSize int

	// FlushInterval triggers a flush when this much time has elapsed
	// since the last one. Halved while draining.
	FlushInterval time.Duration

	// PopTimeout bounds each queue wait so time-based triggers still
	// fire on a quiet queue. Halved while draining.
	PopTimeout time.Duration
}

// DefaultOptions returns default writer options.
func DefaultOptions() Options {
	return Options{
		BatchSize:     100_000,
		FlushInterval: 300 * time.Millisecond,
		PopTimeout:    time.Second,
	}
}

// Writer drains the queue and persists batches into date shards.
// Run owns the accumulation buffer and every shard handle exclusively;
// nothing else touches storage.
type Writer struct {
	opts   Options
	queue  *queue.Queue
	shards *shard.Manager
	log    *slog.Logger

	// Owned by the Run goroutine.
	buffer         []codec.Message
	lastFlush      time.Time
	initDate       string
	lastLoggedDate string

	bufLen   atomic.Int64
	draining atomic.Bool
	done     chan struct{}

	// Statistics
	totalWritten    atomic.Int64
	flushes         atomic.Int64
	droppedInvalid  atomic.Int64
	droppedMismatch atomic.Int64
	commitErrors    atomic.Int64
	crossDayFlushes atomic.Int64

	sketchMu    sync.Mutex
	flushSketch *ddsketch.DDSketch
}

// New creates a writer consuming q and persisting through shards.
func New(q *queue.Queue, shards *shard.Manager, opts Options) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultOptions().FlushInterval
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultOptions().PopTimeout
	}

	w := &Writer{
		opts:      opts,
		queue:     q,
		shards:    shards,
		log:       logging.Component("writer"),
		lastFlush: time.Now(),
		done:      make(chan struct{}),
	}

	// Flush-duration quantiles for status reporting. A sketch
	// construction failure just disables the quantile columns.
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		w.flushSketch = sketch
	}

	return w
}

// BeginDrain switches the writer into shutdown-drain mode: thresholds
// shrink and the loop exits once the queue and buffer are both empty.
func (w *Writer) BeginDrain() {
	w.draining.Store(true)
}

// Done is closed when the Run loop has exited after its final flush.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// BufferLen returns the current accumulation buffer length.
func (w *Writer) BufferLen() int {
	return int(w.bufLen.Load())
}

// TotalWritten returns the total rows inserted post-dedup.
func (w *Writer) TotalWritten() int64 {
	return w.totalWritten.Load()
}

// Run is the consumer loop. It returns after a drain completes and the
// final flush has run; shard handles stay open for the coordinator to
// close. Run never returns an error: every failure is contained to a
// line, a row, or a date group.
func (w *Writer) Run() {
	defer close(w.done)

	w.log.Info("writer started",
		"batch_size", w.opts.BatchSize,
		"flush_interval", w.opts.FlushInterval)

	for {
		popTimeout := w.opts.PopTimeout
		flushInterval := w.opts.FlushInterval
		if w.draining.Load() {
			popTimeout /= 2
			flushInterval /= 2
		}

		msg, ok := w.queue.Pop(popTimeout)
		if !ok {
			// Queue empty. Flush a lingering buffer, then exit once a
			// drain finds nothing left on either side.
			if w.draining.Load() {
				if len(w.buffer) > 0 {
					w.flush()
				}
				if w.queue.Len() == 0 && len(w.buffer) == 0 {
					break
				}
			} else if len(w.buffer) > 0 && time.Since(w.lastFlush) >= flushInterval {
				w.flush()
			}
			continue
		}

		if msg.Kind == codec.KindInit {
			w.handleInit(msg.InitRaw)
			continue
		}

		// Data messages are buffered as-is; date dispatch is deferred to
		// flush time so out-of-order arrival does not thrash shard
		// switches.
		w.buffer = append(w.buffer, msg)
		w.bufLen.Store(int64(len(w.buffer)))

		if len(w.buffer) >= w.opts.BatchSize || time.Since(w.lastFlush) >= flushInterval {
			w.flush()
		}
	}

	if len(w.buffer) > 0 {
		w.log.Info("final buffer flush", "messages", len(w.buffer))
		w.flush()
	}

	w.log.Info("writer stopped", "total_written", w.totalWritten.Load())
}

// handleInit pre-opens the shard for the first observed event's date.
// Idempotent, and it does not pin subsequent writes to that date.
func (w *Writer) handleInit(raw string) {
	if w.initDate != "" {
		return
	}

	us := codec.RawToMicros(raw)
	if us <= 0 {
		return
	}

	date := time.UnixMicro(us).UTC().Format(shard.DateLayout)
	if _, err := w.shards.GetOrCreate(date); err != nil {
		w.log.Warn("shard pre-open failed", "date", date, "error", err)
		return
	}
	w.initDate = date
}

// dateGroup collects one flush's messages for a single calendar date.
type dateGroup struct {
	ticks  []codec.Tick
	depths []codec.Depth
}

// flush snapshots and clears the buffer, partitions it by UTC calendar
// date, and commits each date group in its own transaction, ascending.
// A group failure rolls back that group only; the pipeline continues.
func (w *Writer) flush() {
	buf := w.buffer
	w.buffer = nil
	w.bufLen.Store(0)
	w.lastFlush = time.Now()

	if len(buf) == 0 {
		return
	}

	start := time.Now()

	groups, minDate, maxDate := w.partition(buf)
	if len(groups) == 0 {
		return
	}

	if minDate != maxDate {
		w.crossDayFlushes.Add(1)
		w.log.Warn("flush spans multiple dates",
			"min_date", minDate, "max_date", maxDate, "dates", len(groups))
	}

	// YYYY-MM-DD sorts lexically into chronological order.
	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		w.commitGroup(date, groups[date])
	}

	w.flushes.Add(1)
	w.observeFlush(time.Since(start))
}

// partition groups buffered messages by derived UTC date, dropping
// messages with non-positive timestamps or underivable dates.
func (w *Writer) partition(buf []codec.Message) (map[string]*dateGroup, string, string) {
	groups := make(map[string]*dateGroup)
	var minDate, maxDate string

	for _, m := range buf {
		us := m.ExchangeTimeUs()
		if us <= 0 {
			w.droppedInvalid.Add(1)
			w.log.Warn("invalid timestamp, message dropped",
				"kind", m.Kind.String(), "exchange_time_us", us)
			continue
		}

		date := time.UnixMicro(us).UTC().Format(shard.DateLayout)
		if !shard.ValidDate(date) {
			w.droppedInvalid.Add(1)
			w.log.Warn("invalid derived date, message dropped",
				"kind", m.Kind.String(), "date", date)
			continue
		}

		if minDate == "" || date < minDate {
			minDate = date
		}
		if date > maxDate {
			maxDate = date
		}

		g := groups[date]
		if g == nil {
			g = &dateGroup{}
			groups[date] = g
		}

		switch m.Kind {
		case codec.KindTick:
			g.ticks = append(g.ticks, m.Tick)
		case codec.KindDepth:
			g.depths = append(g.depths, m.Depth)
		}
	}

	return groups, minDate, maxDate
}

// commitGroup writes one date group in a single transaction. recv_time is
// assigned here, once per group. Each row's date is re-derived and must
// match the group date; mismatched rows are dropped, never reassigned.
func (w *Writer) commitGroup(date string, g *dateGroup) {
	if len(g.ticks) == 0 && len(g.depths) == 0 {
		return
	}

	if date != w.lastLoggedDate {
		if w.lastLoggedDate != "" {
			w.log.Info("date switch",
				"from", w.lastLoggedDate, "to", date,
				"ticks", len(g.ticks), "depths", len(g.depths))
		} else {
			w.log.Info("writing date",
				"date", date, "ticks", len(g.ticks), "depths", len(g.depths))
		}
		w.lastLoggedDate = date
	}

	s, err := w.shards.GetOrCreate(date)
	if err != nil {
		w.commitErrors.Add(1)
		w.log.Error("shard open failed, group skipped", "date", date, "error", err)
		return
	}

	recvTime := time.Now().UTC()

	tickRows := make([]shard.TickRow, 0, len(g.ticks))
	for _, t := range g.ticks {
		exTime := time.UnixMicro(t.ExchangeTimeUs).UTC()
		if exTime.Format(shard.DateLayout) != date {
			w.droppedMismatch.Add(1)
			w.log.Warn("tick date mismatch, row dropped",
				"symbol", t.Symbol, "row_date", exTime.Format(shard.DateLayout), "group_date", date)
			continue
		}
		tickRows = append(tickRows, shard.TickRow{
			Symbol:       t.Symbol,
			Price:        t.Price,
			Volume:       t.Volume,
			Side:         t.Side,
			ExchangeTime: exTime,
			RecvTime:     recvTime,
		})
	}

	depthRows := make([]shard.DepthRow, 0, len(g.depths))
	for _, d := range g.depths {
		exTime := time.UnixMicro(d.ExchangeTimeUs).UTC()
		if exTime.Format(shard.DateLayout) != date {
			w.droppedMismatch.Add(1)
			w.log.Warn("depth date mismatch, row dropped",
				"symbol", d.Symbol, "row_date", exTime.Format(shard.DateLayout), "group_date", date)
			continue
		}
		depthRows = append(depthRows, shard.DepthRow{
			Symbol:       d.Symbol,
			Bids:         d.Bids,
			Asks:         d.Asks,
			ExchangeTime: exTime,
			RecvTime:     recvTime,
		})
	}

	if len(tickRows) == 0 && len(depthRows) == 0 {
		return
	}

	tx, err := s.Begin()
	if err != nil {
		w.commitErrors.Add(1)
		w.log.Error("begin transaction failed, group skipped", "date", date, "error", err)
		return
	}

	tickCount, err := shard.InsertTicks(tx, tickRows)
	if err == nil {
		var depthCount int64
		depthCount, err = shard.InsertDepth(tx, depthRows)
		if err == nil {
			if err = tx.Commit(); err == nil {
				w.totalWritten.Add(tickCount + depthCount)
				w.log.Debug("group committed",
					"date", date, "ticks", tickCount, "depths", depthCount)
				return
			}
		}
	}

	w.commitErrors.Add(1)
	if rbErr := tx.Rollback(); rbErr != nil {
		w.log.Error("rollback failed, batch lost", "date", date, "error", err, "rollback_error", rbErr)
	} else {
		w.log.Error("group rolled back", "date", date, "error", err)
	}
}

func (w *Writer) observeFlush(d time.Duration) {
	if w.flushSketch == nil {
		return
	}
	// The default DDSketch mapping only accepts positive values.
	ms := float64(d.Microseconds()) / 1000.0
	if ms <= 0 {
		ms = 0.001
	}
	w.sketchMu.Lock()
	defer w.sketchMu.Unlock()
	w.flushSketch.Add(ms)
}

// flushQuantile returns the given flush-duration quantile in milliseconds,
// or 0 when no flushes have been observed.
func (w *Writer) flushQuantile(q float64) float64 {
	if w.flushSketch == nil {
		return 0
	}
	w.sketchMu.Lock()
	defer w.sketchMu.Unlock()
	v, err := w.flushSketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

// Stats holds writer statistics.
type Stats struct {
	TotalWritten    int64
	Flushes         int64
	BufferLen       int
	DroppedInvalid  int64
	DroppedMismatch int64
	CommitErrors    int64
	CrossDayFlushes int64
	FlushP50Ms      float64
	FlushP99Ms      float64
}

// Stats returns a snapshot of writer statistics.
func (w *Writer) Stats() Stats {
	return Stats{
		TotalWritten:    w.totalWritten.Load(),
		Flushes:         w.flushes.Load(),
		BufferLen:       int(w.bufLen.Load()),
		DroppedInvalid:  w.droppedInvalid.Load(),
		DroppedMismatch: w.droppedMismatch.Load(),
		CommitErrors:    w.commitErrors.Load(),
		CrossDayFlushes: w.crossDayFlushes.Load(),
		FlushP50Ms:      w.flushQuantile(0.5),
		FlushP99Ms:      w.flushQuantile(0.99),
	}
}
