// Package generator produces provenance mark chains.
//
// A Generator owns the state of exactly one chain. Each call to Next
// yields the following mark and advances the chain; the output is fully
// determined by the resolution, the seed and the sequence of calls, so
// independent implementations produce identical marks.
//
// A Generator is not safe for concurrent use. Callers that share one must
// serialize calls to Next themselves.
package generator

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/i5heu/provenance-mark/pkg/mark"
	"github.com/i5heu/provenance-mark/pkg/resolution"
	"github.com/i5heu/provenance-mark/pkg/seed"
	"github.com/i5heu/provenance-mark/pkg/xoshiro"
)

// RngState is the 32 byte state carried between marks.
type RngState [xoshiro.StateSize]byte

var (
	// ErrInvariant marks defects: state that the public constructors can
	// never produce, usually from a corrupted checkpoint.
	ErrInvariant = errors.New("generator: invariant violation")
	// ErrChainExhausted is returned once the sequence number would exceed
	// what the resolution can encode.
	ErrChainExhausted = errors.New("generator: chain exhausted")
)

// Generator holds the mutable state of one provenance chain.
type Generator struct {
	res      resolution.Resolution
	seed     seed.Seed
	chainID  []byte
	nextSeq  uint32
	rngState RngState
}

// NewWithSeed starts a chain from seed. The chain id is the first
// LinkLength bytes of the seed and the stream is initialized from the
// whole seed.
func NewWithSeed(res resolution.Resolution, s seed.Seed) (*Generator, error) { // A
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvariant, resolution.ErrUnknownResolution)
	}
	data := s.Bytes()
	chainID := bytes.Clone(data[:res.LinkLength()])
	return New(res, s, chainID, 0, RngState(data))
}

// NewWithPassphrase starts a chain from a seed stretched out of passphrase.
func NewWithPassphrase(res resolution.Resolution, passphrase string) (*Generator, error) { // A
	return NewWithSeed(res, seed.FromPassphrase(passphrase))
}

// NewUsing starts a chain from a fresh seed read from r.
func NewUsing(res resolution.Resolution, r io.Reader) (*Generator, error) { // A
	s, err := seed.NewUsing(r)
	if err != nil {
		return nil, err
	}
	return NewWithSeed(res, s)
}

// New restores a generator from raw field values, typically a checkpoint.
// A chain id whose length does not match the resolution is reported as
// ErrInvariant.
func New(
	res resolution.Resolution,
	s seed.Seed,
	chainID []byte,
	nextSeq uint32,
	rngState RngState,
) (*Generator, error) { // A
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvariant, resolution.ErrUnknownResolution)
	}
	if len(chainID) != res.LinkLength() {
		return nil, fmt.Errorf("%w: chain id has %d bytes, %s needs %d",
			ErrInvariant, len(chainID), res, res.LinkLength())
	}
	return &Generator{
		res:      res,
		seed:     s,
		chainID:  bytes.Clone(chainID),
		nextSeq:  nextSeq,
		rngState: rngState,
	}, nil
}

// MustNew is New for trusted values. It panics on ErrInvariant.
func MustNew(
	res resolution.Resolution,
	s seed.Seed,
	chainID []byte,
	nextSeq uint32,
	rngState RngState,
) *Generator {
	g, err := New(res, s, chainID, nextSeq, rngState)
	if err != nil {
		panic(err)
	}
	return g
}

// Next produces the following mark of the chain. info may be nil.
//
// The genesis mark uses the chain id as its key and leaves the stream
// untouched. Every later mark draws its key from the stream and persists
// the advanced state. The next key is drawn from a copy of the stream and
// never written back.
//
// Next is atomic: on error neither the sequence number nor the stream
// state change.
func (g *Generator) Next(date time.Time, info any) (mark.Mark, error) { // A
	n := g.res.LinkLength()
	rng := xoshiro.FromData(g.rngState)

	seq := g.nextSeq
	// nextSeq must stay representable after the increment, so a 32 bit
	// chain ends one short of MaxUint32.
	if seq > g.res.MaxSeq() || seq == math.MaxUint32 {
		return mark.Mark{}, fmt.Errorf("%w: no %s mark after sequence %d",
			ErrChainExhausted, g.res, seq-1)
	}

	var key []byte
	state := g.rngState
	if seq == 0 {
		key = bytes.Clone(g.chainID)
	} else {
		key = rng.NextBytes(n)
		state = rng.Data()
	}

	nextKey := rng.Peek(n)

	m, err := mark.New(g.res, key, nextKey, g.chainID, seq, date, info)
	if err != nil {
		if errors.Is(err, mark.ErrInvalidDate) || errors.Is(err, mark.ErrInvalidInfo) {
			return mark.Mark{}, err
		}
		return mark.Mark{}, fmt.Errorf("%w: %w", ErrInvariant, err)
	}

	g.rngState = state
	g.nextSeq = seq + 1
	return m, nil
}

// Resolution of the chain.
func (g *Generator) Resolution() resolution.Resolution { return g.res }

// Seed of the chain.
func (g *Generator) Seed() seed.Seed { return g.seed }

// ChainID returns a copy of the chain identifier.
func (g *Generator) ChainID() []byte { return bytes.Clone(g.chainID) }

// NextSeq is the sequence number the next mark will carry.
func (g *Generator) NextSeq() uint32 { return g.nextSeq }

// RngState is the current stream state.
func (g *Generator) RngState() RngState { return g.rngState }

func (g *Generator) String() string {
	return fmt.Sprintf(
		"ProvenanceMarkGenerator(chainID: %s, res: %s, seed: %s, nextSeq: %d, rngState: %s)",
		hex.EncodeToString(g.chainID),
		g.res,
		g.seed.Hex(),
		g.nextSeq,
		hex.EncodeToString(g.rngState[:]),
	)
}
