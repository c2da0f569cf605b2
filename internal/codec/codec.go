// Package codec implements the binary wire format of the provider's
// market-data feed: decoding inbound data frames into FeedRecords and
// encoding outbound subscription-control frames.
//
// Frame layout (big-endian throughout):
//
//	┌───────────┬─────────────┬──────────┬────────────┬─────────┐
//	│ Magic (1B)│ Version (1B)│ Type (1B)│ Count (2B) │ Body    │
//	└───────────┴─────────────┴──────────┴────────────┴─────────┘
//
// Exactly one schema version (3) is accepted. Anything else is a
// malformed frame; decode is all-or-nothing per frame.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/finverse/feedrelay/internal/model"
)

// ErrMalformedFrame is returned when a frame does not match the expected
// schema. Callers are expected to log and continue with the next frame.
var ErrMalformedFrame = errors.New("malformed frame")

const (
	frameMagic    uint8 = 0xFE
	schemaVersion uint8 = 0x03

	frameData        uint8 = 0x01
	frameSubscribe   uint8 = 0x02
	frameUnsubscribe uint8 = 0x03

	// maxRecords bounds the declared record count of a single frame.
	// Guards against corrupt count fields causing huge allocations.
	maxRecords = 4096
	maxKeyLen  = 256
	maxDepth   = 32

	headerLen = 5
)

// Mode selects the granularity of fields requested from the provider.
type Mode uint8

const (
	// ModeLTPC requests last traded price and change only.
	ModeLTPC Mode = 0x01
	// ModeFull requests the full quote including market depth.
	ModeFull Mode = 0x02
)

// String returns the config-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLTPC:
		return "ltpc"
	case ModeFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(m))
	}
}

// ParseMode converts a config-file spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "ltpc", "":
		return ModeLTPC, nil
	case "full":
		return ModeFull, nil
	default:
		return 0, fmt.Errorf("unknown feed mode %q", s)
	}
}

// Decode parses one data frame into its feed records.
// A frame that fails validation yields zero records and ErrMalformedFrame.
func Decode(data []byte) ([]model.FeedRecord, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedFrame, len(data))
	}
	if data[0] != frameMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%02x", ErrMalformedFrame, data[0])
	}
	if data[1] != schemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedFrame, data[1])
	}
	if data[2] != frameData {
		return nil, fmt.Errorf("%w: unexpected frame type 0x%02x", ErrMalformedFrame, data[2])
	}
	count := int(binary.BigEndian.Uint16(data[3:5]))
	if count > maxRecords {
		return nil, fmt.Errorf("%w: record count %d exceeds limit", ErrMalformedFrame, count)
	}

	records := make([]model.FeedRecord, 0, count)
	off := headerLen
	for i := 0; i < count; i++ {
		rec, n, err := decodeRecord(data[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedFrame, i, err)
		}
		records = append(records, rec)
		off += n
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(data)-off)
	}
	return records, nil
}

// record layout flags
const flagDepth uint8 = 0x01

func decodeRecord(b []byte) (model.FeedRecord, int, error) {
	var rec model.FeedRecord

	if len(b) < 2 {
		return rec, 0, errors.New("truncated key length")
	}
	keyLen := int(binary.BigEndian.Uint16(b[0:2]))
	if keyLen == 0 || keyLen > maxKeyLen {
		return rec, 0, fmt.Errorf("invalid key length %d", keyLen)
	}
	off := 2
	if len(b) < off+keyLen+1 {
		return rec, 0, errors.New("truncated key")
	}
	rec.Key = string(b[off : off+keyLen])
	off += keyLen

	flags := b[off]
	off++

	// ltp, netChg, open, high, low, close, ts
	const fixed = 6*8 + 8
	if len(b) < off+fixed {
		return rec, 0, errors.New("truncated quote fields")
	}
	rec.LTP = readFloat64(b[off:])
	rec.NetChange = readFloat64(b[off+8:])
	rec.OHLC.Open = readFloat64(b[off+16:])
	rec.OHLC.High = readFloat64(b[off+24:])
	rec.OHLC.Low = readFloat64(b[off+32:])
	rec.OHLC.Close = readFloat64(b[off+40:])
	rec.Timestamp = int64(binary.BigEndian.Uint64(b[off+48:]))
	off += fixed

	if flags&flagDepth != 0 {
		if len(b) < off+1 {
			return rec, 0, errors.New("truncated depth count")
		}
		levels := int(b[off])
		off++
		if levels > maxDepth {
			return rec, 0, fmt.Errorf("depth levels %d exceeds limit", levels)
		}
		const levelLen = 8 + 4 + 8 + 4
		if len(b) < off+levels*levelLen {
			return rec, 0, errors.New("truncated depth levels")
		}
		rec.Depth = make([]model.DepthLevel, levels)
		for i := 0; i < levels; i++ {
			rec.Depth[i] = model.DepthLevel{
				BidPrice: readFloat64(b[off:]),
				BidQty:   binary.BigEndian.Uint32(b[off+8:]),
				AskPrice: readFloat64(b[off+12:]),
				AskQty:   binary.BigEndian.Uint32(b[off+20:]),
			}
			off += levelLen
		}
	}

	return rec, off, nil
}

// EncodeSubscribe builds a subscribe control frame for the given keys.
func EncodeSubscribe(keys []string, mode Mode) []byte {
	return encodeControl(frameSubscribe, keys, mode)
}

// EncodeUnsubscribe builds an unsubscribe control frame for the given keys.
func EncodeUnsubscribe(keys []string, mode Mode) []byte {
	return encodeControl(frameUnsubscribe, keys, mode)
}

func encodeControl(frameType uint8, keys []string, mode Mode) []byte {
	size := headerLen + 1
	for _, k := range keys {
		size += 2 + len(k)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, frameMagic, schemaVersion, frameType, 0, 0, uint8(mode))
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(keys)))
	for _, k := range keys {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
	}
	return buf
}

// EncodeData builds a data frame carrying the given records. The relay only
// decodes data frames in production; the encoder exists so tests and feed
// simulators can produce well-formed upstream traffic.
func EncodeData(records []model.FeedRecord) []byte {
	buf := make([]byte, 0, 64*len(records)+headerLen)
	buf = append(buf, frameMagic, schemaVersion, frameData, 0, 0)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(records)))
	for _, rec := range records {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rec.Key)))
		buf = append(buf, rec.Key...)
		var flags uint8
		if len(rec.Depth) > 0 {
			flags |= flagDepth
		}
		buf = append(buf, flags)
		buf = appendFloat64(buf, rec.LTP)
		buf = appendFloat64(buf, rec.NetChange)
		buf = appendFloat64(buf, rec.OHLC.Open)
		buf = appendFloat64(buf, rec.OHLC.High)
		buf = appendFloat64(buf, rec.OHLC.Low)
		buf = appendFloat64(buf, rec.OHLC.Close)
		buf = binary.BigEndian.AppendUint64(buf, uint64(rec.Timestamp))
		if len(rec.Depth) > 0 {
			buf = append(buf, uint8(len(rec.Depth)))
			for _, lvl := range rec.Depth {
				buf = appendFloat64(buf, lvl.BidPrice)
				buf = binary.BigEndian.AppendUint32(buf, lvl.BidQty)
				buf = appendFloat64(buf, lvl.AskPrice)
				buf = binary.BigEndian.AppendUint32(buf, lvl.AskQty)
			}
		}
	}
	return buf
}

// DecodeControl parses a control frame back into its keys and mode.
// Used by tests and feed simulators to verify outbound subscriptions.
func DecodeControl(data []byte) (keys []string, mode Mode, subscribe bool, err error) {
	if len(data) < headerLen+1 {
		return nil, 0, false, fmt.Errorf("%w: short control frame", ErrMalformedFrame)
	}
	if data[0] != frameMagic || data[1] != schemaVersion {
		return nil, 0, false, fmt.Errorf("%w: bad control header", ErrMalformedFrame)
	}
	switch data[2] {
	case frameSubscribe:
		subscribe = true
	case frameUnsubscribe:
		subscribe = false
	default:
		return nil, 0, false, fmt.Errorf("%w: unexpected frame type 0x%02x", ErrMalformedFrame, data[2])
	}
	count := int(binary.BigEndian.Uint16(data[3:5]))
	mode = Mode(data[5])
	off := headerLen + 1
	keys = make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < off+2 {
			return nil, 0, false, fmt.Errorf("%w: truncated control key", ErrMalformedFrame)
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if len(data) < off+n {
			return nil, 0, false, fmt.Errorf("%w: truncated control key", ErrMalformedFrame)
		}
		keys = append(keys, string(data[off:off+n]))
		off += n
	}
	return keys, mode, subscribe, nil
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func appendFloat64(buf []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}
