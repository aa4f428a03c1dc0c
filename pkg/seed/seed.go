// Package seed provides the root secret of a provenance chain.
package seed

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/i5heu/provenance-mark/pkg/cryptoutil"
)

// Size is the byte width of a seed.
const Size = 32

var ErrInvalidLength = errors.New("seed: invalid length")

// Seed is an immutable 32-byte chain secret.
type Seed [Size]byte

// FromBytes wraps raw seed bytes.
func FromBytes(b [Size]byte) Seed {
	return Seed(b)
}

// FromSlice copies b into a Seed. b must be exactly Size bytes long.
func FromSlice(b []byte) (Seed, error) { // A
	if len(b) != Size {
		return Seed{}, fmt.Errorf("%w: expected %d, got %d", ErrInvalidLength, Size, len(b))
	}
	var s Seed
	copy(s[:], b)
	return s, nil
}

// NewUsing draws a fresh seed from r.
func NewUsing(r io.Reader) (Seed, error) { // A
	var s Seed
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return Seed{}, fmt.Errorf("read random seed: %w", err)
	}
	return s, nil
}

// New draws a fresh seed from crypto/rand.
func New() (Seed, error) {
	return NewUsing(rand.Reader)
}

// FromPassphrase stretches a passphrase of any length, including the empty
// one, into a seed. The same passphrase always yields the same seed.
func FromPassphrase(passphrase string) Seed {
	return Seed(cryptoutil.ExtendKey([]byte(passphrase)))
}

// Bytes returns the raw seed bytes.
func (s Seed) Bytes() [Size]byte {
	return s
}

func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Seed) String() string {
	return s.Hex()
}

// MarshalJSON encodes the seed as standard base64.
func (s Seed) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s[:]))
}

func (s *Seed) UnmarshalJSON(data []byte) error { // A
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return fmt.Errorf("decode seed base64: %w", err)
	}
	parsed, err := FromSlice(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
