// Package mark implements the provenance mark value type.
//
// A mark binds a sequence number, a date and optional CBOR metadata to a
// chain identifier. Its hash commits to the key of the following mark, so
// two adjacent marks prove they are consecutive without revealing the
// chain's seed.
package mark

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/i5heu/provenance-mark/pkg/cryptoutil"
	"github.com/i5heu/provenance-mark/pkg/resolution"
)

var (
	ErrInvalidResolution = errors.New("mark: invalid resolution")
	ErrInvalidKey        = errors.New("mark: invalid key length")
	ErrInvalidChainID    = errors.New("mark: invalid chain id length")
	ErrGenesisKey        = errors.New("mark: genesis key must equal chain id")
	ErrInvalidSeq        = errors.New("mark: invalid sequence number")
	ErrInvalidDate       = errors.New("mark: invalid date")
	ErrInvalidInfo       = errors.New("mark: invalid info")
	ErrInvalidMessage    = errors.New("mark: invalid message")
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("mark: cbor enc mode: %v", err))
	}
	return em
}()

// Mark is one link of a provenance chain. The zero value is not a valid
// mark; use New or FromMessage.
type Mark struct {
	res     resolution.Resolution
	key     []byte
	nextKey []byte
	chainID []byte
	hash    []byte

	seqBytes  []byte
	dateBytes []byte
	infoBytes []byte

	seq  uint32
	date time.Time
}

// New builds a mark and validates its structure. info may be nil; any
// other value is encoded as deterministic CBOR. A cbor.RawMessage is used
// as is after a well-formedness check. The stored date is rounded to the
// precision of res.
func New(
	res resolution.Resolution,
	key, nextKey, chainID []byte,
	seq uint32,
	date time.Time,
	info any,
) (Mark, error) { // A
	if !res.Valid() {
		return Mark{}, fmt.Errorf("%w: %d", ErrInvalidResolution, uint8(res))
	}
	n := res.LinkLength()
	if len(key) != n {
		return Mark{}, fmt.Errorf("%w: key has %d bytes, want %d", ErrInvalidKey, len(key), n)
	}
	if len(nextKey) != n {
		return Mark{}, fmt.Errorf("%w: next key has %d bytes, want %d", ErrInvalidKey, len(nextKey), n)
	}
	if len(chainID) != n {
		return Mark{}, fmt.Errorf("%w: has %d bytes, want %d", ErrInvalidChainID, len(chainID), n)
	}
	if seq == 0 && !bytes.Equal(key, chainID) {
		return Mark{}, ErrGenesisKey
	}

	seqBytes, err := EncodeSeq(res, seq)
	if err != nil {
		return Mark{}, err
	}
	dateBytes, err := EncodeDate(res, date)
	if err != nil {
		return Mark{}, err
	}
	normalized, err := DecodeDate(res, dateBytes)
	if err != nil {
		return Mark{}, err
	}
	infoBytes, err := EncodeInfo(info)
	if err != nil {
		return Mark{}, err
	}

	m := Mark{
		res:       res,
		key:       bytes.Clone(key),
		nextKey:   bytes.Clone(nextKey),
		chainID:   bytes.Clone(chainID),
		seqBytes:  seqBytes,
		dateBytes: dateBytes,
		infoBytes: infoBytes,
		seq:       seq,
		date:      normalized,
	}
	m.hash = makeHash(res, m.key, m.nextKey, m.chainID, seqBytes, dateBytes, infoBytes)
	return m, nil
}

// EncodeInfo returns the deterministic CBOR encoding of info, or nil when
// info is nil.
func EncodeInfo(info any) ([]byte, error) { // A
	switch v := info.(type) {
	case nil:
		return nil, nil
	case cbor.RawMessage:
		if len(v) == 0 {
			return nil, nil
		}
		if err := cbor.Wellformed(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInfo, err)
		}
		return bytes.Clone(v), nil
	}
	data, err := encMode.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInfo, err)
	}
	return data, nil
}

func makeHash(
	res resolution.Resolution,
	key, nextKey, chainID, seqBytes, dateBytes, infoBytes []byte,
) []byte {
	return cryptoutil.SHA256Prefix(res.LinkLength(), key, nextKey, chainID, seqBytes, dateBytes, infoBytes)
}

// FromMessage decodes a mark from its message form. The next key is not
// part of the message, so NextKey of the result is nil; adjacency can still
// be checked with Precedes.
func FromMessage(res resolution.Resolution, message []byte) (Mark, error) { // A
	if !res.Valid() {
		return Mark{}, fmt.Errorf("%w: %d", ErrInvalidResolution, uint8(res))
	}
	if len(message) < res.FixedLength() {
		return Mark{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidMessage, len(message), res.FixedLength())
	}

	n := res.LinkLength()
	key := bytes.Clone(message[:n])
	payload := cryptoutil.Obfuscate(key, message[n:])

	off := 0
	take := func(l int) []byte {
		b := payload[off : off+l]
		off += l
		return b
	}
	chainID := take(n)
	hash := take(n)
	seqBytes := take(res.SeqBytesLength())
	dateBytes := take(res.DateBytesLength())
	infoBytes := payload[off:]

	seq := decodeSeq(seqBytes)
	if seq == 0 && !bytes.Equal(key, chainID) {
		return Mark{}, fmt.Errorf("%w: %w", ErrInvalidMessage, ErrGenesisKey)
	}
	date, err := DecodeDate(res, dateBytes)
	if err != nil {
		return Mark{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if len(infoBytes) == 0 {
		infoBytes = nil
	} else if err := cbor.Wellformed(infoBytes); err != nil {
		return Mark{}, fmt.Errorf("%w: %w: %w", ErrInvalidMessage, ErrInvalidInfo, err)
	}

	return Mark{
		res:       res,
		key:       key,
		chainID:   chainID,
		hash:      hash,
		seqBytes:  seqBytes,
		dateBytes: dateBytes,
		infoBytes: infoBytes,
		seq:       seq,
		date:      date,
	}, nil
}

// Message returns key ‖ obfuscated(chainID ‖ hash ‖ seq ‖ date ‖ info).
func (m Mark) Message() []byte { // A
	payload := make([]byte, 0, 2*len(m.chainID)+len(m.seqBytes)+len(m.dateBytes)+len(m.infoBytes))
	payload = append(payload, m.chainID...)
	payload = append(payload, m.hash...)
	payload = append(payload, m.seqBytes...)
	payload = append(payload, m.dateBytes...)
	payload = append(payload, m.infoBytes...)

	out := make([]byte, 0, len(m.key)+len(payload))
	out = append(out, m.key...)
	return append(out, cryptoutil.Obfuscate(m.key, payload)...)
}

// Precedes reports whether next is the mark directly following m in the
// same chain. The check recomputes m's hash with next's key.
func (m Mark) Precedes(next Mark) bool { // A
	if m.res != next.res || len(m.key) == 0 || len(next.key) == 0 {
		return false
	}
	if next.seq == 0 || next.seq != m.seq+1 {
		return false
	}
	if !bytes.Equal(m.chainID, next.chainID) {
		return false
	}
	if next.date.Before(m.date) {
		return false
	}
	if m.nextKey != nil && !bytes.Equal(m.nextKey, next.key) {
		return false
	}
	want := makeHash(m.res, m.key, next.key, m.chainID, m.seqBytes, m.dateBytes, m.infoBytes)
	return bytes.Equal(want, m.hash)
}

// IsGenesis reports whether m is the first mark of its chain.
func (m Mark) IsGenesis() bool {
	return m.seq == 0 && bytes.Equal(m.key, m.chainID)
}

func (m Mark) Resolution() resolution.Resolution { return m.res }
func (m Mark) Seq() uint32                       { return m.seq }
func (m Mark) Date() time.Time                   { return m.date }
func (m Mark) Key() []byte                       { return bytes.Clone(m.key) }
func (m Mark) ChainID() []byte                   { return bytes.Clone(m.chainID) }
func (m Mark) Hash() []byte                      { return bytes.Clone(m.hash) }

// NextKey is the key of the following mark. It is nil for marks decoded
// from a message.
func (m Mark) NextKey() []byte { return bytes.Clone(m.nextKey) }

// Info returns the raw CBOR info payload, or nil.
func (m Mark) Info() cbor.RawMessage { return bytes.Clone(m.infoBytes) }

// HasInfo reports whether the mark carries an info payload.
func (m Mark) HasInfo() bool { return len(m.infoBytes) > 0 }

// DecodeInfo unmarshals the info payload into v.
func (m Mark) DecodeInfo(v any) error { // A
	if len(m.infoBytes) == 0 {
		return fmt.Errorf("%w: mark has no info", ErrInvalidInfo)
	}
	if err := cbor.Unmarshal(m.infoBytes, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInfo, err)
	}
	return nil
}

// Identifier is the hex form of the first four hash bytes.
func (m Mark) Identifier() string {
	if len(m.hash) < 4 {
		return ""
	}
	return hex.EncodeToString(m.hash[:4])
}

// Equal compares the resolution and message of two marks.
func (m Mark) Equal(other Mark) bool {
	return m.res == other.res && bytes.Equal(m.Message(), other.Message())
}

func (m Mark) String() string {
	return "ProvenanceMark(" + m.Identifier() + ")"
}

type wireMark struct {
	_       struct{} `cbor:",toarray"`
	Res     uint8
	Message []byte
}

// MarshalCBOR encodes the mark as [resolution, message].
func (m Mark) MarshalCBOR() ([]byte, error) { // A
	if !m.res.Valid() || len(m.key) == 0 {
		return nil, fmt.Errorf("%w: zero mark", ErrInvalidMessage)
	}
	return encMode.Marshal(wireMark{Res: uint8(m.res), Message: m.Message()})
}

func (m *Mark) UnmarshalCBOR(data []byte) error { // A
	var w wireMark
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	decoded, err := FromMessage(resolution.Resolution(w.Res), w.Message)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
