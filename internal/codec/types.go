package codec

// Kind identifies which variant a Message carries.
type Kind uint8

const (
	// KindInit is produced once, from the first valid data line, so the
	// writer can pre-open the first shard.
	KindInit Kind = iota

	// KindTick carries a decoded trade tick.
	KindTick

	// KindDepth carries a decoded order-book depth snapshot.
	KindDepth
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindTick:
		return "tick"
	case KindDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// Tick is one decoded trade tick. Immutable once decoded.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Side   string

	// ExchangeTimeUs is microseconds since the UTC epoch, converted from
	// the sender's raw tick count. Zero means conversion failed.
	ExchangeTimeUs int64
}

// Depth is one decoded order-book snapshot. Bids and Asks keep the wire
// encoding ("price@volume|...", best to worst) until commit time.
type Depth struct {
	Symbol string
	Bids   string
	Asks   string

	ExchangeTimeUs int64
}

// Message is the tagged union carried through the ingestion queue.
// Exactly one payload field is meaningful, selected by Kind.
type Message struct {
	Kind Kind

	// InitRaw is the sender's raw timestamp of the first data line.
	InitRaw string

	Tick  Tick
	Depth Depth
}

// ExchangeTimeUs returns the event timestamp of a data message,
// or zero for an Init message.
func (m Message) ExchangeTimeUs() int64 {
	switch m.Kind {
	case KindTick:
		return m.Tick.ExchangeTimeUs
	case KindDepth:
		return m.Depth.ExchangeTimeUs
	default:
		return 0
	}
}

// Level is one parsed depth level.
type Level struct {
	Price  float64
	Volume float64
}
