package codec

import (
	"fmt"
	"testing"
	"time"
)

// rawFor encodes a UTC time as the sender's raw 100ns tick count.
func rawFor(ts time.Time) string {
	return fmt.Sprintf("%d", ts.UnixMicro()*10+rawTicksAtEpoch)
}

func TestRawToMicros(t *testing.T) {
	// Epoch itself converts to zero.
	if got := RawToMicros("621355968000000000"); got != 0 {
		t.Errorf("epoch: expected 0, got %d", got)
	}

	// One microsecond past the epoch is ten raw ticks.
	if got := RawToMicros("621355968000000010"); got != 1 {
		t.Errorf("epoch+10 ticks: expected 1, got %d", got)
	}

	ts := time.Date(2024, 1, 15, 14, 30, 0, 123456000, time.UTC)
	if got := RawToMicros(rawFor(ts)); got != ts.UnixMicro() {
		t.Errorf("round trip: expected %d, got %d", ts.UnixMicro(), got)
	}

	// Parse failures yield the zero sentinel, never an error.
	for _, raw := range []string{"", "abc", "12.5", "99999999999999999999999"} {
		if got := RawToMicros(raw); got != 0 {
			t.Errorf("RawToMicros(%q): expected 0 sentinel, got %d", raw, got)
		}
	}
}

func TestDecodeTick(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	line := "T,ES,4500.25,2,BUY," + rawFor(ts)

	msg, class := DecodeLine(line)
	if class != ClassData {
		t.Fatalf("expected ClassData, got %v", class)
	}
	if msg.Kind != KindTick {
		t.Fatalf("expected KindTick, got %v", msg.Kind)
	}

	tick := msg.Tick
	if tick.Symbol != "ES" {
		t.Errorf("symbol: expected ES, got %s", tick.Symbol)
	}
	if tick.Price != 4500.25 {
		t.Errorf("price: expected 4500.25, got %g", tick.Price)
	}
	if tick.Volume != 2 {
		t.Errorf("volume: expected 2, got %g", tick.Volume)
	}
	if tick.Side != "BUY" {
		t.Errorf("side: expected BUY, got %s", tick.Side)
	}
	if tick.ExchangeTimeUs != ts.UnixMicro() {
		t.Errorf("time: expected %d, got %d", ts.UnixMicro(), tick.ExchangeTimeUs)
	}
}

func TestDecodeTickDeterministic(t *testing.T) {
	line := "T,NQ,15000.5,1,SELL," + rawFor(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	first, _ := DecodeLine(line)
	second, _ := DecodeLine(line)
	if first != second {
		t.Errorf("same line decoded differently: %+v vs %+v", first, second)
	}
}

func TestDecodeDepth(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 1, 0, time.UTC)
	line := "D,ES,4500.0@10|4499.75@5,4500.25@8," + rawFor(ts)

	msg, class := DecodeLine(line)
	if class != ClassData {
		t.Fatalf("expected ClassData, got %v", class)
	}
	if msg.Kind != KindDepth {
		t.Fatalf("expected KindDepth, got %v", msg.Kind)
	}

	d := msg.Depth
	if d.Symbol != "ES" {
		t.Errorf("symbol: expected ES, got %s", d.Symbol)
	}
	if d.Bids != "4500.0@10|4499.75@5" {
		t.Errorf("bids kept encoded: got %s", d.Bids)
	}
	if d.Asks != "4500.25@8" {
		t.Errorf("asks kept encoded: got %s", d.Asks)
	}
	if d.ExchangeTimeUs != ts.UnixMicro() {
		t.Errorf("time: expected %d, got %d", ts.UnixMicro(), d.ExchangeTimeUs)
	}
}

func TestDecodeClassification(t *testing.T) {
	cases := []struct {
		line  string
		class LineClass
	}{
		{"", ClassEmpty},
		{"H,ES,638412345678901234", ClassHeartbeat},
		{"H", ClassHeartbeat},
		{"T,ES,4500.25,2", ClassMalformed},          // too few tick fields
		{"T,ES,notaprice,2,BUY,123", ClassMalformed}, // bad price
		{"T,ES,4500.25,notavol,BUY,123", ClassMalformed},
		{"D,ES,1@1", ClassMalformed}, // too few depth fields
		{"X,ES,whatever", ClassUnknown},
		{"garbage line with no commas", ClassUnknown},
	}

	for _, c := range cases {
		msg, class := DecodeLine(c.line)
		if class != c.class {
			t.Errorf("DecodeLine(%q): expected class %v, got %v", c.line, c.class, class)
		}
		if class != ClassData && msg != (Message{}) {
			t.Errorf("DecodeLine(%q): non-data class produced message %+v", c.line, msg)
		}
	}
}

func TestDecodeTickBadTimestamp(t *testing.T) {
	// A bad timestamp does not reject the line; it decodes with the zero
	// sentinel and is filtered downstream.
	msg, class := DecodeLine("T,ES,4500.25,2,BUY,notaraw")
	if class != ClassData {
		t.Fatalf("expected ClassData, got %v", class)
	}
	if msg.Tick.ExchangeTimeUs != 0 {
		t.Errorf("expected zero sentinel, got %d", msg.Tick.ExchangeTimeUs)
	}
}

func TestRawTimestampField(t *testing.T) {
	raw := rawFor(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	got, ok := RawTimestampField([]string{"T", "ES", "4500.25", "2", "BUY", raw})
	if !ok || got != raw {
		t.Errorf("tick: expected (%s, true), got (%s, %v)", raw, got, ok)
	}

	got, ok = RawTimestampField([]string{"D", "ES", "1@1", "2@2", raw})
	if !ok || got != raw {
		t.Errorf("depth: expected (%s, true), got (%s, %v)", raw, got, ok)
	}

	if _, ok := RawTimestampField([]string{"H", "ES", raw}); ok {
		t.Error("heartbeat should have no data timestamp")
	}
	if _, ok := RawTimestampField([]string{"T", "ES"}); ok {
		t.Error("short tick should have no timestamp")
	}
	if _, ok := RawTimestampField(nil); ok {
		t.Error("nil parts should have no timestamp")
	}
}

func TestParseLevels(t *testing.T) {
	levels := ParseLevels("4500.0@10|4499.75@5|4499.5@2")
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if levels[0].Price != 4500.0 || levels[0].Volume != 10 {
		t.Errorf("level 0: got %+v", levels[0])
	}
	if levels[2].Price != 4499.5 || levels[2].Volume != 2 {
		t.Errorf("level 2: got %+v", levels[2])
	}
}

func TestParseLevelsSkipsBad(t *testing.T) {
	// Malformed and non-positive entries are skipped, valid ones survive.
	levels := ParseLevels("bad|4500@0|0@5|-1@3|4500@10|nope@x")
	if len(levels) != 1 {
		t.Fatalf("expected 1 level, got %d: %+v", len(levels), levels)
	}
	if levels[0].Price != 4500 || levels[0].Volume != 10 {
		t.Errorf("got %+v", levels[0])
	}
}

func TestParseLevelsSentinels(t *testing.T) {
	if got := ParseLevels(""); got != nil {
		t.Errorf("empty: expected nil, got %+v", got)
	}
	if got := ParseLevels("0@0"); got != nil {
		t.Errorf("0@0: expected nil, got %+v", got)
	}
}

func TestMessageExchangeTimeUs(t *testing.T) {
	tick := Message{Kind: KindTick, Tick: Tick{ExchangeTimeUs: 42}}
	if tick.ExchangeTimeUs() != 42 {
		t.Errorf("tick: got %d", tick.ExchangeTimeUs())
	}
	depth := Message{Kind: KindDepth, Depth: Depth{ExchangeTimeUs: 43}}
	if depth.ExchangeTimeUs() != 43 {
		t.Errorf("depth: got %d", depth.ExchangeTimeUs())
	}
	init := Message{Kind: KindInit, InitRaw: "x"}
	if init.ExchangeTimeUs() != 0 {
		t.Errorf("init: got %d", init.ExchangeTimeUs())
	}
}
