// Package resolution defines the provenance mark resolutions. A resolution
// fixes the byte widths used for chain identifiers, keys, sequence numbers
// and dates for the whole lifetime of a chain.
package resolution

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Resolution selects the field widths of a provenance chain.
type Resolution uint8

const (
	Low Resolution = iota
	Medium
	Quartile
	High
)

var ErrUnknownResolution = errors.New("resolution: unknown resolution")

var names = [...]string{
	Low:      "low",
	Medium:   "medium",
	Quartile: "quartile",
	High:     "high",
}

// All returns every defined resolution, lowest first.
func All() []Resolution { // A
	return []Resolution{Low, Medium, Quartile, High}
}

// Valid reports whether r is one of the defined resolutions.
func (r Resolution) Valid() bool { // A
	return r <= High
}

// LinkLength is the byte width of chain identifiers, keys and next keys.
func (r Resolution) LinkLength() int { // A
	switch r {
	case Low:
		return 4
	case Medium:
		return 8
	case Quartile:
		return 16
	case High:
		return 32
	}
	panic(fmt.Sprintf("resolution: link length of unknown resolution %d", uint8(r)))
}

// SeqBytesLength is the byte width of the encoded sequence number.
func (r Resolution) SeqBytesLength() int { // A
	if r == Low {
		return 2
	}
	return 4
}

// DateBytesLength is the byte width of the encoded date.
func (r Resolution) DateBytesLength() int { // A
	switch r {
	case Low:
		return 2
	case Medium:
		return 4
	default:
		return 6
	}
}

// MaxSeq is the largest sequence number a mark of this resolution can carry.
func (r Resolution) MaxSeq() uint32 { // A
	if r == Low {
		return math.MaxUint16
	}
	return math.MaxUint32
}

// FixedLength is the length of a mark message without its info payload.
func (r Resolution) FixedLength() int { // A
	return 3*r.LinkLength() + r.SeqBytesLength() + r.DateBytesLength()
}

func (r Resolution) String() string {
	if !r.Valid() {
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
	return names[r]
}

// Parse accepts a resolution name (case insensitive) or its numeric code.
func Parse(s string) (Resolution, error) { // A
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Resolution(i), nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && Resolution(n).Valid() {
		return Resolution(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResolution, s)
}

func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownResolution, uint8(r))
	}
	return []byte(names[r]), nil
}

func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalJSON accepts both the text form and a bare numeric code.
func (r *Resolution) UnmarshalJSON(data []byte) error {
	var code uint8
	if err := json.Unmarshal(data, &code); err == nil {
		if !Resolution(code).Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownResolution, code)
		}
		*r = Resolution(code)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode resolution: %w", err)
	}
	return r.UnmarshalText([]byte(s))
}
