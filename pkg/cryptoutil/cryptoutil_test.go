package cryptoutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestExtendKeyVectors(t *testing.T) { // A
	cases := map[string]string{
		"Wolf": "ce7c1599b0506f5f9091e0fca796a4f3dd05f9432bce80b929ed84d65874ce10",
		"test": "578aa064bafda09ccd91c44698ae25372e142dfbcf3be252bc3d70140c46d25a",
	}
	for in, want := range cases {
		got := ExtendKey([]byte(in))
		assert.Equal(t, want, hex.EncodeToString(got[:]), in)
	}
}

func TestExtendKeyDeterministic(t *testing.T) { // A
	assert.Equal(t, ExtendKey([]byte("same")), ExtendKey([]byte("same")))
	assert.NotEqual(t, ExtendKey([]byte("a")), ExtendKey([]byte("b")))
}

func TestSHA256Concatenates(t *testing.T) { // A
	want := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, want, SHA256([]byte("hello "), []byte("world")))
	assert.Equal(t, want[:4], SHA256Prefix(4, []byte("hello"), []byte(" world")))
}

func TestSHA256PrefixRange(t *testing.T) { // A
	assert.Panics(t, func() { SHA256Prefix(33) })
	assert.Panics(t, func() { SHA256Prefix(-1) })
	assert.Len(t, SHA256Prefix(0), 0)
}

func TestObfuscateEmpty(t *testing.T) { // A
	assert.Equal(t, []byte{}, Obfuscate([]byte("key"), nil))
}

func TestObfuscateInvolution(t *testing.T) { // A
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "key")
		msg := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "msg")

		masked := Obfuscate(key, msg)
		if len(masked) != len(msg) {
			t.Fatalf("length changed: %d != %d", len(masked), len(msg))
		}
		if !bytes.Equal(Obfuscate(key, masked), msg) {
			t.Fatalf("obfuscate twice did not restore message")
		}
	})
}

func TestObfuscateDependsOnKey(t *testing.T) { // A
	msg := bytes.Repeat([]byte{0xaa}, 32)
	assert.NotEqual(t, Obfuscate([]byte("k1"), msg), Obfuscate([]byte("k2"), msg))
	assert.NotEqual(t, msg, Obfuscate([]byte("k1"), msg))
}
