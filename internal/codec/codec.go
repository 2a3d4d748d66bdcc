// Package codec decodes the newline-delimited ASCII wire protocol into
// typed events.
//
// One UDP payload carries one or more lines. Each line is comma-separated
// with a one-character type tag in field 0:
//
//	T,<symbol>,<price>,<volume>,<side>,<senderTimeRaw>
//	D,<symbol>,<bidsEncoded>,<asksEncoded>,<senderTimeRaw>
//	H,<symbol>,<localTimeRaw>
//
// Sender timestamps are counts of 100-nanosecond intervals since the
// sender's fixed epoch; they are converted to microseconds since the UTC
// epoch at decode time. Malformed lines are dropped, never propagated.
package codec

import (
	"strconv"
	"strings"
)

// rawTicksAtEpoch is the sender's raw tick count at the UTC epoch
// (1970-01-01). Raw ticks count 100ns intervals from 0001-01-01.
const rawTicksAtEpoch = 621355968000000000

// LineClass classifies a decoded wire line.
type LineClass int

const (
	// ClassData means a Tick or Depth message was produced.
	ClassData LineClass = iota

	// ClassHeartbeat means the line was a heartbeat. Counted, not queued.
	ClassHeartbeat

	// ClassEmpty means the line was blank.
	ClassEmpty

	// ClassMalformed means the line was recognized but invalid and dropped.
	ClassMalformed

	// ClassUnknown means the type tag was not recognized.
	ClassUnknown
)

// RawToMicros converts a sender raw timestamp string to microseconds since
// the UTC epoch. Returns the 0 sentinel on any parse failure; the decode
// path never errors on a bad timestamp.
func RawToMicros(raw string) int64 {
	ticks, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return (ticks - rawTicksAtEpoch) / 10
}

// DecodeLine decodes one wire line. When it returns ClassData the Message
// is a Tick or Depth; for every other class the Message is zero.
func DecodeLine(line string) (Message, LineClass) {
	if line == "" {
		return Message{}, ClassEmpty
	}
	return DecodeFields(strings.Split(line, ","))
}

// DecodeFields decodes an already-split wire line. Callers that also need
// the raw timestamp field (see RawTimestampField) split once and use this.
func DecodeFields(parts []string) (Message, LineClass) {
	if len(parts) == 0 || parts[0] == "" {
		return Message{}, ClassEmpty
	}

	switch parts[0] {
	case "T":
		return decodeTick(parts)
	case "D":
		return decodeDepth(parts)
	case "H":
		return Message{}, ClassHeartbeat
	default:
		return Message{}, ClassUnknown
	}
}

// decodeTick decodes a T line: T,symbol,price,volume,side,senderTimeRaw.
func decodeTick(parts []string) (Message, LineClass) {
	if len(parts) < 6 {
		return Message{}, ClassMalformed
	}

	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Message{}, ClassMalformed
	}

	volume, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Message{}, ClassMalformed
	}

	return Message{
		Kind: KindTick,
		Tick: Tick{
			Symbol:         parts[1],
			Price:          price,
			Volume:         volume,
			Side:           parts[4],
			ExchangeTimeUs: RawToMicros(parts[5]),
		},
	}, ClassData
}

// decodeDepth decodes a D line: D,symbol,bids,asks,senderTimeRaw.
// The bid/ask strings stay encoded until commit.
func decodeDepth(parts []string) (Message, LineClass) {
	if len(parts) < 5 {
		return Message{}, ClassMalformed
	}

	return Message{
		Kind: KindDepth,
		Depth: Depth{
			Symbol:         parts[1],
			Bids:           parts[2],
			Asks:           parts[3],
			ExchangeTimeUs: RawToMicros(parts[4]),
		},
	}, ClassData
}

// RawTimestampField returns the sender raw timestamp field of a data line,
// used for the one-shot Init message before the line itself is decoded.
// ok is false if the line is not a data line or is too short.
func RawTimestampField(parts []string) (string, bool) {
	if len(parts) == 0 {
		return "", false
	}
	switch parts[0] {
	case "T":
		if len(parts) >= 6 {
			return parts[5], true
		}
	case "D":
		if len(parts) >= 5 {
			return parts[4], true
		}
	}
	return "", false
}

// ParseLevels parses an encoded depth string "price@volume|price@volume|..."
// into levels, best to worst. Levels with non-positive price or volume, or
// with a malformed split, are skipped. The all-zero sentinel "0@0" (and the
// empty string) yield nil.
func ParseLevels(encoded string) []Level {
	if encoded == "" || encoded == "0@0" {
		return nil
	}

	var levels []Level
	for _, part := range strings.Split(encoded, "|") {
		priceStr, volumeStr, found := strings.Cut(part, "@")
		if !found {
			continue
		}

		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		volume, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			continue
		}

		if price > 0 && volume > 0 {
			levels = append(levels, Level{Price: price, Volume: volume})
		}
	}
	return levels
}
