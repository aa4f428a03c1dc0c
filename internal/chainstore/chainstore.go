// Package chainstore persists provenance chains in BadgerDB.
//
// For every chain the store keeps the latest generator checkpoint and all
// produced marks. Advancing a chain writes the new mark and the new
// checkpoint in one transaction, so a crash never leaves a mark without
// the state that produced it.
package chainstore

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/provenance-mark/pkg/generator"
	"github.com/i5heu/provenance-mark/pkg/mark"
)

const (
	prefixCheckpoint = "chain:cp:"
	prefixMark       = "chain:mark:"
)

var (
	ErrChainNotFound = errors.New("chainstore: chain not found")
	ErrChainExists   = errors.New("chainstore: chain already exists")
	ErrMarkNotFound  = errors.New("chainstore: mark not found")
)

type StoreConfig struct {
	Paths            []string // only the first path is used
	MinimumFreeSpace uint     // in GB, 0 disables the check
	InMemory         bool
	Logger           *logrus.Logger
}

type Store struct {
	config StoreConfig
	db     *badger.DB
	log    *logrus.Logger
}

func NewStore(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for chainstore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
	}
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	config.Logger.WithFields(logrus.Fields{
		"paths":    config.Paths,
		"inMemory": config.InMemory,
	}).Debug("chainstore opened")

	return &Store{
		config: config,
		db:     db,
		log:    config.Logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func checkpointKey(chainID []byte) []byte {
	return []byte(prefixCheckpoint + hex.EncodeToString(chainID))
}

func markPrefix(chainID []byte) []byte {
	return []byte(prefixMark + hex.EncodeToString(chainID) + ":")
}

// mark keys end in the big-endian sequence number so iteration is ordered
func markKey(chainID []byte, seq uint32) []byte {
	return binary.BigEndian.AppendUint32(markPrefix(chainID), seq)
}

// CreateChain stores the initial checkpoint of g.
func (s *Store) CreateChain(g *generator.Generator) error {
	chainID := g.ChainID()
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("serialize checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(checkpointKey(chainID))
		if err == nil {
			return ErrChainExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(checkpointKey(chainID), data)
	})
	if err != nil {
		return fmt.Errorf("create chain %x: %w", chainID, err)
	}

	s.log.WithFields(logrus.Fields{
		"chainID":    hex.EncodeToString(chainID),
		"resolution": g.Resolution().String(),
		"nextSeq":    g.NextSeq(),
	}).Info("chain created")
	return nil
}

func loadGenerator(txn *badger.Txn, chainID []byte) (*generator.Generator, error) {
	item, err := txn.Get(checkpointKey(chainID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, err
	}

	g := &generator.Generator{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, g)
	})
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	return g, nil
}

// Generator restores the latest checkpoint of a chain.
func (s *Store) Generator(chainID []byte) (*generator.Generator, error) {
	var g *generator.Generator
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		g, err = loadGenerator(txn, chainID)
		return err
	})
	return g, err
}

// HasChain reports whether a checkpoint is stored for chainID.
func (s *Store) HasChain(chainID []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(checkpointKey(chainID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Advance produces the next mark of a chain and persists it together with
// the advanced checkpoint. Callers must not advance the same chain
// concurrently; a conflicting transaction is reported as an error and
// nothing is written.
func (s *Store) Advance(chainID []byte, date time.Time, info any) (mark.Mark, error) {
	var produced mark.Mark

	err := s.db.Update(func(txn *badger.Txn) error {
		g, err := loadGenerator(txn, chainID)
		if err != nil {
			return err
		}

		m, err := g.Next(date, info)
		if err != nil {
			return err
		}

		encoded, err := cbor.Marshal(m)
		if err != nil {
			return fmt.Errorf("serialize mark: %w", err)
		}
		checkpoint, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("serialize checkpoint: %w", err)
		}

		if err := txn.Set(markKey(chainID, m.Seq()), encoded); err != nil {
			return fmt.Errorf("persist mark: %w", err)
		}
		if err := txn.Set(checkpointKey(chainID), checkpoint); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}
		produced = m
		return nil
	})
	if err != nil {
		return mark.Mark{}, err
	}

	s.log.WithFields(logrus.Fields{
		"chainID": hex.EncodeToString(chainID),
		"seq":     produced.Seq(),
		"mark":    produced.Identifier(),
	}).Debug("mark produced")
	return produced, nil
}

// Mark loads a single mark.
func (s *Store) Mark(chainID []byte, seq uint32) (mark.Mark, error) {
	var m mark.Mark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(markKey(chainID, seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMarkNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &m)
		})
	})
	return m, err
}

// Marks loads every mark of a chain ordered by sequence number.
func (s *Store) Marks(chainID []byte) ([]mark.Mark, error) {
	var marks []mark.Mark
	err := s.EachMark(chainID, func(m mark.Mark) error {
		marks = append(marks, m)
		return nil
	})
	return marks, err
}

// EachMark calls fn for every mark of a chain in sequence order and stops
// at the first error.
func (s *Store) EachMark(chainID []byte, fn func(mark.Mark) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(checkpointKey(chainID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrChainNotFound
			}
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := markPrefix(chainID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m mark.Mark
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode mark %x: %w", it.Item().Key(), err)
			}
			if err := fn(m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Chains lists the identifiers of all stored chains.
func (s *Store) Chains() ([][]byte, error) {
	var ids [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixCheckpoint)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := hex.DecodeString(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return fmt.Errorf("malformed checkpoint key %q: %w", it.Item().Key(), err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}
