package xoshiro

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func countingData() [StateSize]byte {
	var d [StateSize]byte
	for i := range d {
		d[i] = byte(i + 1)
	}
	return d
}

func TestNextUint64Vector(t *testing.T) { // A
	x := FromData(countingData())

	assert.Equal(t, uint64(0x52bc258ef861cbe8), x.NextUint64())
	assert.Equal(t, uint64(0xbc258ef861cb3280), x.NextUint64())
	assert.Equal(t, uint64(0x2d013c0ee31e1c12), x.NextUint64())
}

func TestNextBytesVector(t *testing.T) { // A
	x := FromData(countingData())

	assert.Equal(t, "e8801207ae4d9eb3", hex.EncodeToString(x.NextBytes(8)))

	data := x.Data()
	assert.Equal(t,
		"0f995213131bec16f3a3ace705b8bfd5d0ddec4e15dcb1b8dafd21c29659e329",
		hex.EncodeToString(data[:]),
	)
}

func TestDataRoundTrip(t *testing.T) { // A
	data := countingData()
	x := FromData(data)
	assert.Equal(t, data, x.Data())

	y := FromData(x.Data())
	assert.Equal(t, x.NextBytes(16), y.NextBytes(16))
}

func TestCloneIsIndependent(t *testing.T) { // A
	x := FromData(countingData())
	c := x.Clone()

	first := c.NextBytes(4)
	assert.Equal(t, countingData(), x.Data(), "clone draw must not move the original")
	assert.Equal(t, first, x.NextBytes(4))
}

func TestPeekDoesNotAdvance(t *testing.T) { // A
	x := FromData(countingData())
	before := x.Data()

	peeked := x.Peek(8)
	require.Equal(t, before, x.Data())
	assert.Equal(t, peeked, x.NextBytes(8))
}

func TestZeroStateIsDegenerate(t *testing.T) { // A
	x := FromData([StateSize]byte{})
	assert.Equal(t, make([]byte, 8), x.NextBytes(8))
}

func TestSplitDrawsMatchSingleDraw(t *testing.T) { // A
	rapid.Check(t, func(t *rapid.T) {
		var data [StateSize]byte
		copy(data[:], rapid.SliceOfN(rapid.Byte(), StateSize, StateSize).Draw(t, "data"))
		a := rapid.IntRange(0, 64).Draw(t, "a")
		b := rapid.IntRange(0, 64).Draw(t, "b")

		whole := FromData(data).NextBytes(a + b)

		x := FromData(data)
		split := append(x.NextBytes(a), FromData(x.Data()).NextBytes(b)...)

		if hex.EncodeToString(whole) != hex.EncodeToString(split) {
			t.Fatalf("split draw %x != whole draw %x", split, whole)
		}
	})
}
