package mark

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/i5heu/provenance-mark/pkg/resolution"
)

// ReferenceDate is the epoch of the 4 and 6 byte date encodings.
var ReferenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	minCompactYear = 2023
	maxCompactYear = minCompactYear + 0x7f
	maxMillis      = 0xe5940a78a7ff
)

// EncodeDate serializes date at the precision of res.
func EncodeDate(res resolution.Resolution, date time.Time) ([]byte, error) { // A
	date = date.UTC()
	switch res.DateBytesLength() {
	case 2:
		y, m, d := date.Date()
		if y < minCompactYear || y > maxCompactYear {
			return nil, fmt.Errorf("%w: year %d outside [%d, %d]", ErrInvalidDate, y, minCompactYear, maxCompactYear)
		}
		v := uint16(y-minCompactYear)<<9 | uint16(m)<<5 | uint16(d)
		return binary.BigEndian.AppendUint16(nil, v), nil
	case 4:
		secs := date.Unix() - ReferenceDate.Unix()
		if secs < 0 || secs > 0xffffffff {
			return nil, fmt.Errorf("%w: %s not representable in seconds since %s", ErrInvalidDate, date.Format(time.RFC3339), ReferenceDate.Format(time.DateOnly))
		}
		return binary.BigEndian.AppendUint32(nil, uint32(secs)), nil
	default:
		millis := date.UnixMilli() - ReferenceDate.UnixMilli()
		if millis < 0 || millis > maxMillis {
			return nil, fmt.Errorf("%w: %s not representable in milliseconds since %s", ErrInvalidDate, date.Format(time.RFC3339Nano), ReferenceDate.Format(time.DateOnly))
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(millis))
		return buf[2:], nil
	}
}

// DecodeDate is the inverse of EncodeDate.
func DecodeDate(res resolution.Resolution, data []byte) (time.Time, error) { // A
	if len(data) != res.DateBytesLength() {
		return time.Time{}, fmt.Errorf("%w: expected %d date bytes, got %d", ErrInvalidDate, res.DateBytesLength(), len(data))
	}
	switch len(data) {
	case 2:
		v := binary.BigEndian.Uint16(data)
		y := int(v>>9) + minCompactYear
		m := time.Month((v >> 5) & 0x0f)
		d := int(v & 0x1f)
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if t.Year() != y || t.Month() != m || t.Day() != d {
			return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d is not a calendar date", ErrInvalidDate, y, m, d)
		}
		return t, nil
	case 4:
		secs := binary.BigEndian.Uint32(data)
		return time.Unix(ReferenceDate.Unix()+int64(secs), 0).UTC(), nil
	default:
		var buf [8]byte
		copy(buf[2:], data)
		millis := binary.BigEndian.Uint64(buf[:])
		if millis > maxMillis {
			return time.Time{}, fmt.Errorf("%w: %d milliseconds out of range", ErrInvalidDate, millis)
		}
		return time.UnixMilli(ReferenceDate.UnixMilli() + int64(millis)).UTC(), nil
	}
}

// EncodeSeq serializes seq at the width of res.
func EncodeSeq(res resolution.Resolution, seq uint32) ([]byte, error) { // A
	if seq > res.MaxSeq() {
		return nil, fmt.Errorf("%w: %d exceeds %d for %s", ErrInvalidSeq, seq, res.MaxSeq(), res)
	}
	if res.SeqBytesLength() == 2 {
		return binary.BigEndian.AppendUint16(nil, uint16(seq)), nil
	}
	return binary.BigEndian.AppendUint32(nil, seq), nil
}

func decodeSeq(data []byte) uint32 {
	if len(data) == 2 {
		return uint32(binary.BigEndian.Uint16(data))
	}
	return binary.BigEndian.Uint32(data)
}
