// Package xoshiro implements the Xoshiro256** generator used as the
// deterministic byte stream of provenance chains.
//
// The byte output is a portability contract: any implementation seeded
// with the same 32 bytes must produce the same sequence. State words are
// read and written little-endian and every output byte is the low byte of
// one 64-bit draw.
package xoshiro

import (
	"encoding/binary"
	"math/bits"
)

// StateSize is the size of the exported state in bytes.
const StateSize = 32

// Xoshiro256StarStar is a deterministic byte stream. The zero value is the
// all-zero state, which only ever produces zeros.
type Xoshiro256StarStar struct {
	s [4]uint64
}

// FromData initializes a stream from 32 bytes of state.
func FromData(data [StateSize]byte) *Xoshiro256StarStar { // A
	x := &Xoshiro256StarStar{}
	for i := range x.s {
		x.s[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return x
}

// Data exports the current state as 32 bytes.
func (x *Xoshiro256StarStar) Data() [StateSize]byte { // A
	var out [StateSize]byte
	for i, w := range x.s {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

// NextUint64 advances the stream by one step.
func (x *Xoshiro256StarStar) NextUint64() uint64 { // A
	s := &x.s
	result := bits.RotateLeft64(s[1]*5, 7) * 9
	t := s[1] << 17

	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]

	s[2] ^= t
	s[3] = bits.RotateLeft64(s[3], 45)

	return result
}

// NextByte returns the low byte of the next 64-bit draw.
func (x *Xoshiro256StarStar) NextByte() byte {
	return byte(x.NextUint64())
}

// NextBytes draws n bytes, one 64-bit step per byte.
func (x *Xoshiro256StarStar) NextBytes(n int) []byte { // A
	out := make([]byte, n)
	for i := range out {
		out[i] = x.NextByte()
	}
	return out
}

// Clone returns an independent copy of the stream.
func (x *Xoshiro256StarStar) Clone() *Xoshiro256StarStar {
	c := *x
	return &c
}

// Peek returns the next n bytes without advancing x.
func (x *Xoshiro256StarStar) Peek(n int) []byte { // A
	return x.Clone().NextBytes(n)
}
