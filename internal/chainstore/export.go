package chainstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/i5heu/provenance-mark/pkg/mark"
)

// Export writes all marks of a chain to w as an xz compressed CBOR
// sequence.
func (s *Store) Export(chainID []byte, w io.Writer) (int, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("xz writer: %w", err)
	}

	enc := cbor.NewEncoder(xw)
	count := 0
	err = s.EachMark(chainID, func(m mark.Mark) error {
		count++
		return enc.Encode(m)
	})
	if err != nil {
		_ = xw.Close()
		return 0, fmt.Errorf("export chain %x: %w", chainID, err)
	}
	if err := xw.Close(); err != nil {
		return 0, fmt.Errorf("close xz writer: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"chainID": fmt.Sprintf("%x", chainID),
		"marks":   count,
	}).Info("chain exported")
	return count, nil
}

// ReadExport decodes the marks written by Export.
func ReadExport(r io.Reader) ([]mark.Mark, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}

	dec := cbor.NewDecoder(xr)
	var marks []mark.Mark
	for {
		var m mark.Mark
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			return marks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode exported mark %d: %w", len(marks), err)
		}
		marks = append(marks, m)
	}
}
