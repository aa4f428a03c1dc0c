// Package cryptoutil holds the hashing, key stretching and obfuscation
// primitives shared by seeds and marks.
package cryptoutil

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the output size of ExtendKey.
const KeySize = 32

// ExtendKey stretches arbitrary input into 32 bytes with HKDF-HMAC-SHA256
// using an empty salt and empty info.
func ExtendKey(data []byte) [KeySize]byte { // A
	var out [KeySize]byte
	r := hkdf.New(sha256.New, data, nil, nil)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		// hkdf only fails past 255*HashSize bytes of output.
		panic(fmt.Sprintf("cryptoutil: hkdf expand: %v", err))
	}
	return out
}

// SHA256 returns the SHA-256 digest of the concatenated parts.
func SHA256(parts ...[]byte) [sha256.Size]byte { // A
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}

// SHA256Prefix returns the first n bytes of the digest of the parts.
func SHA256Prefix(n int, parts ...[]byte) []byte { // A
	if n < 0 || n > sha256.Size {
		panic(fmt.Sprintf("cryptoutil: prefix length %d out of range", n))
	}
	sum := SHA256(parts...)
	out := make([]byte, n)
	copy(out, sum[:n])
	return out
}

// Obfuscate XORs message with a ChaCha20 keystream derived from key. The
// stream key is ExtendKey(key) and the nonce is its last 12 bytes in
// reverse order. Applying Obfuscate twice with the same key is the
// identity.
func Obfuscate(key, message []byte) []byte { // A
	if len(message) == 0 {
		return []byte{}
	}
	extended := ExtendKey(key)

	var nonce [chacha20.NonceSize]byte
	for i := range nonce {
		nonce[i] = extended[KeySize-1-i]
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(extended[:], nonce[:])
	if err != nil {
		panic(fmt.Sprintf("cryptoutil: chacha20: %v", err))
	}
	out := make([]byte, len(message))
	cipher.XORKeyStream(out, message)
	return out
}
