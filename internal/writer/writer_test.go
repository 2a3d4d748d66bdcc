package writer

import (
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/tickstore/internal/codec"
	"github.com/xtxerr/tickstore/internal/queue"
	"github.com/xtxerr/tickstore/internal/shard"
)

func testOptions() Options {
	return Options{
		BatchSize:     1000,
		FlushInterval: 50 * time.Millisecond,
		PopTimeout:    20 * time.Millisecond,
	}
}

func tickAt(symbol string, ts time.Time) codec.Message {
	return codec.Message{
		Kind: codec.KindTick,
		Tick: codec.Tick{
			Symbol:         symbol,
			Price:          100.5,
			Volume:         1,
			Side:           "BUY",
			ExchangeTimeUs: ts.UnixMicro(),
		},
	}
}

func depthAt(symbol string, ts time.Time) codec.Message {
	return codec.Message{
		Kind: codec.KindDepth,
		Depth: codec.Depth{
			Symbol:         symbol,
			Bids:           "100@5",
			Asks:           "100.5@3",
			ExchangeTimeUs: ts.UnixMicro(),
		},
	}
}

// runAndDrain feeds msgs through a fresh writer over shards and waits for
// the drain to finish. The writer's stats snapshot comes back for asserts.
func runAndDrain(t *testing.T, shards *shard.Manager, msgs []codec.Message) Stats {
	t.Helper()

	q := queue.New(1024)
	w := New(q, shards, testOptions())
	go w.Run()

	for _, m := range msgs {
		q.Push(m)
	}

	w.BeginDrain()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("writer did not drain in time")
	}

	return w.Stats()
}

func tickCount(t *testing.T, shards *shard.Manager, date string) int64 {
	t.Helper()

	s, err := shards.GetOrCreate(date)
	if err != nil {
		t.Fatalf("open shard %s: %v", date, err)
	}
	var count int64
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM ticks").Scan(&count); err != nil {
		t.Fatalf("count %s: %v", date, err)
	}
	return count
}

func TestFlushPersistsBatch(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	stats := runAndDrain(t, shards, []codec.Message{
		tickAt("ES", ts),
		tickAt("ES", ts.Add(time.Microsecond)),
		depthAt("ES", ts.Add(2*time.Microsecond)),
	})

	if stats.TotalWritten != 3 {
		t.Errorf("total written: expected 3, got %d", stats.TotalWritten)
	}
	if stats.CommitErrors != 0 {
		t.Errorf("commit errors: %d", stats.CommitErrors)
	}
	if got := tickCount(t, shards, "2024-01-15"); got != 2 {
		t.Errorf("tick rows: expected 2, got %d", got)
	}
}

func TestDuplicateRowsAreNoOps(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	msg := tickAt("ES", ts)

	first := runAndDrain(t, shards, []codec.Message{msg})
	if first.TotalWritten != 1 {
		t.Fatalf("first write: expected 1, got %d", first.TotalWritten)
	}

	// The same (symbol, exchange_time) sent again changes nothing.
	second := runAndDrain(t, shards, []codec.Message{msg})
	if second.TotalWritten != 0 {
		t.Errorf("duplicate write: expected 0, got %d", second.TotalWritten)
	}
	if got := tickCount(t, shards, "2024-01-15"); got != 1 {
		t.Errorf("tick rows: expected 1, got %d", got)
	}
}

func TestCrossDayFlushSplitsByDate(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	day1 := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2024, 1, 16, 0, 0, 1, 0, time.UTC)

	stats := runAndDrain(t, shards, []codec.Message{
		tickAt("ES", day2), // arrives out of order
		tickAt("ES", day1),
		tickAt("ES", day1.Add(time.Second)), // still day 2, 00:00:00
	})

	if stats.TotalWritten != 3 {
		t.Errorf("total written: expected 3, got %d", stats.TotalWritten)
	}
	if stats.CrossDayFlushes == 0 {
		t.Error("expected a cross-day flush to be recorded")
	}
	if got := tickCount(t, shards, "2024-01-15"); got != 1 {
		t.Errorf("day 1 rows: expected 1, got %d", got)
	}
	if got := tickCount(t, shards, "2024-01-16"); got != 2 {
		t.Errorf("day 2 rows: expected 2, got %d", got)
	}
}

func TestInvalidTimestampsDropped(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	bad := codec.Message{Kind: codec.KindTick, Tick: codec.Tick{Symbol: "ES"}} // zero sentinel
	negative := codec.Message{Kind: codec.KindTick, Tick: codec.Tick{Symbol: "ES", ExchangeTimeUs: -5}}

	stats := runAndDrain(t, shards, []codec.Message{bad, negative, tickAt("ES", ts)})

	if stats.DroppedInvalid != 2 {
		t.Errorf("dropped invalid: expected 2, got %d", stats.DroppedInvalid)
	}
	if stats.TotalWritten != 1 {
		t.Errorf("total written: expected 1, got %d", stats.TotalWritten)
	}
}

func TestInitPreOpensShard(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	ts := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	raw := fmt.Sprintf("%d", ts.UnixMicro()*10+621355968000000000)

	runAndDrain(t, shards, []codec.Message{{Kind: codec.KindInit, InitRaw: raw}})

	dates := shards.OpenDates()
	if len(dates) != 1 || dates[0] != "2024-01-15" {
		t.Errorf("expected pre-opened 2024-01-15, got %v", dates)
	}
}

func TestInitBadTimestampSkipsPreOpen(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	runAndDrain(t, shards, []codec.Message{{Kind: codec.KindInit, InitRaw: "garbage"}})

	if dates := shards.OpenDates(); len(dates) != 0 {
		t.Errorf("expected no pre-opened shard, got %v", dates)
	}
}

func TestTimeBasedFlushWithoutDrain(t *testing.T) {
	shards, err := shard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer shards.CloseAll()

	q := queue.New(16)
	w := New(q, shards, testOptions())
	go w.Run()

	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	q.Push(tickAt("ES", ts))

	// A single message below the batch size must still flush on time.
	deadline := time.Now().Add(5 * time.Second)
	for w.TotalWritten() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("time-based flush never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.BeginDrain()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("writer did not drain")
	}
}
