package generator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i5heu/provenance-mark/pkg/resolution"
	"github.com/i5heu/provenance-mark/pkg/seed"
)

// Checkpoint is the persisted form of a Generator. The JSON field names
// and the base64 encoding of byte fields are shared with other
// implementations reading the same format.
type Checkpoint struct {
	Resolution resolution.Resolution `json:"res"`
	Seed       seed.Seed             `json:"seed"`
	ChainID    []byte                `json:"chainID"`
	NextSeq    uint32                `json:"nextSeq"`
	RngState   RngState              `json:"rngState"`
}

// Checkpoint snapshots the generator. Restoring it and calling Next gives
// the same mark as calling Next on g.
func (g *Generator) Checkpoint() Checkpoint {
	return Checkpoint{
		Resolution: g.res,
		Seed:       g.seed,
		ChainID:    g.ChainID(),
		NextSeq:    g.nextSeq,
		RngState:   g.rngState,
	}
}

// UnmarshalJSON decodes a checkpoint. Every field is required; a missing
// field would otherwise restart the chain at seq 0 or on the all-zero
// stream.
func (cp *Checkpoint) UnmarshalJSON(data []byte) error { // A
	var fields struct {
		Resolution *resolution.Resolution `json:"res"`
		Seed       *seed.Seed             `json:"seed"`
		ChainID    *[]byte                `json:"chainID"`
		NextSeq    *uint32                `json:"nextSeq"`
		RngState   *RngState              `json:"rngState"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var missing []string
	if fields.Resolution == nil {
		missing = append(missing, "res")
	}
	if fields.Seed == nil {
		missing = append(missing, "seed")
	}
	if fields.ChainID == nil {
		missing = append(missing, "chainID")
	}
	if fields.NextSeq == nil {
		missing = append(missing, "nextSeq")
	}
	if fields.RngState == nil {
		missing = append(missing, "rngState")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: checkpoint missing %s", ErrInvariant, strings.Join(missing, ", "))
	}

	*cp = Checkpoint{
		Resolution: *fields.Resolution,
		Seed:       *fields.Seed,
		ChainID:    *fields.ChainID,
		NextSeq:    *fields.NextSeq,
		RngState:   *fields.RngState,
	}
	return nil
}

// Restore validates a checkpoint and rebuilds its generator.
func Restore(cp Checkpoint) (*Generator, error) {
	return New(cp.Resolution, cp.Seed, cp.ChainID, cp.NextSeq, cp.RngState)
}

// MarshalJSON encodes the generator as its checkpoint.
func (g *Generator) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Checkpoint())
}

// UnmarshalJSON decodes and validates a checkpoint into g.
func (g *Generator) UnmarshalJSON(data []byte) error { // A
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	restored, err := Restore(cp)
	if err != nil {
		return err
	}
	*g = *restored
	return nil
}

// MarshalJSON writes the stream state as base64.
func (s RngState) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s[:]))
}

func (s *RngState) UnmarshalJSON(data []byte) error { // A
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("decode rng state: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return fmt.Errorf("decode rng state base64: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("%w: rng state has %d bytes, want %d", ErrInvariant, len(raw), len(s))
	}
	copy(s[:], raw)
	return nil
}
