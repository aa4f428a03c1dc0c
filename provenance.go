// Package provenance manages persistent provenance mark chains.
//
// A Ledger stores any number of chains on disk. Each chain is driven by a
// generator.Generator whose checkpoint is saved after every mark, so a
// chain can be continued after a restart with identical output.
package provenance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/provenance-mark/internal/chainstore"
	"github.com/i5heu/provenance-mark/pkg/generator"
	"github.com/i5heu/provenance-mark/pkg/mark"
	"github.com/i5heu/provenance-mark/pkg/resolution"
	"github.com/i5heu/provenance-mark/pkg/seed"
)

const (
	logKeyChainID    = "chainID"
	logKeyResolution = "resolution"
	logKeySeq        = "seq"
	logKeyMark       = "mark"
	logKeyPath       = "path"
	logKeyCount      = "count"
)

var (
	ErrNotStarted    = errors.New("provenance: ledger not started")
	ErrClosed        = errors.New("provenance: ledger closed")
	ErrChainNotFound = chainstore.ErrChainNotFound
	ErrChainExists   = chainstore.ErrChainExists
)

// ChainOptions selects how the seed of a new chain is obtained. A
// passphrase wins over an explicit seed; with neither, a random seed is
// drawn.
type ChainOptions struct {
	// Resolution of the chain. Nil uses Config.Resolution.
	Resolution *resolution.Resolution
	Passphrase string
	Seed       *seed.Seed
}

// ChainInfo describes a stored chain without exposing its seed.
type ChainInfo struct {
	ChainID    []byte
	Resolution resolution.Resolution
	NextSeq    uint32
}

// ChainIDHex is the hex form of the chain id.
func (c ChainInfo) ChainIDHex() string {
	return hex.EncodeToString(c.ChainID)
}

// Ledger is the persistent home of provenance chains. Marks of one chain
// are produced strictly one at a time; different chains advance
// independently.
type Ledger struct {
	log    *slog.Logger
	config Config
	random io.Reader

	store *chainstore.Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a ledger handle. New does not touch the disk; call Start
// to open the store.
func New(conf Config) (*Ledger, error) { // A
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if !conf.Resolution.Valid() {
		return nil, fmt.Errorf("config: %w", resolution.ErrUnknownResolution)
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger(conf.LogLevel)
	}
	if conf.StoreLogger == nil {
		conf.StoreLogger = defaultStoreLogger(conf.LogLevel)
	}
	random := conf.Random
	if random == nil {
		random = rand.Reader
	}
	return &Ledger{
		log:    conf.Logger,
		config: conf,
		random: random,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Start opens the chain store under Paths[0]/chains. Start is safe to call
// multiple times; only the first call has effect.
func (l *Ledger) Start(ctx context.Context) error { // A
	var startErr error
	l.startOnce.Do(func() {
		if l.closed.Load() {
			startErr = ErrClosed
			return
		}
		dir := filepath.Join(l.config.Paths[0], "chains")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dir, err)
			return
		}

		store, err := chainstore.NewStore(chainstore.StoreConfig{
			Paths:            []string{dir},
			MinimumFreeSpace: l.config.MinimumFreeGB,
			Logger:           l.config.StoreLogger,
		})
		if err != nil {
			startErr = fmt.Errorf("open chain store: %w", err)
			return
		}
		l.store = store
		l.started.Store(true)
		l.log.InfoContext(ctx, "ledger started", logKeyPath, dir)
	})
	if startErr != nil {
		return startErr
	}
	if !l.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// Close releases the store. Close is idempotent.
func (l *Ledger) Close() error { // A
	var closeErr error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		if l.started.Load() && l.store != nil {
			closeErr = l.store.Close()
		}
	})
	return closeErr
}

func (l *Ledger) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// existingChainLock returns the lock of a stored chain. Unknown ids get no
// lock entry. Chains are never removed, so the check cannot go stale.
func (l *Ledger) existingChainLock(chainID []byte) (*sync.Mutex, error) {
	ok, err := l.store.HasChain(chainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChainNotFound
	}
	return l.chainLock(chainID), nil
}

func (l *Ledger) lockCount() int {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	return len(l.locks)
}

func (l *Ledger) chainLock(chainID []byte) *sync.Mutex {
	key := string(chainID)
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}

// CreateChain starts a new chain and stores its initial checkpoint.
func (l *Ledger) CreateChain(ctx context.Context, opts ChainOptions) (ChainInfo, error) { // A
	if err := l.ready(ctx); err != nil {
		return ChainInfo{}, err
	}

	res := l.config.Resolution
	if opts.Resolution != nil {
		res = *opts.Resolution
	}

	var (
		g   *generator.Generator
		err error
	)
	switch {
	case opts.Passphrase != "":
		g, err = generator.NewWithPassphrase(res, opts.Passphrase)
	case opts.Seed != nil:
		g, err = generator.NewWithSeed(res, *opts.Seed)
	default:
		g, err = generator.NewUsing(res, l.random)
	}
	if err != nil {
		return ChainInfo{}, fmt.Errorf("create generator: %w", err)
	}

	mu := l.chainLock(g.ChainID())
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.CreateChain(g); err != nil {
		return ChainInfo{}, err
	}

	info := chainInfo(g)
	l.log.InfoContext(ctx, "chain created",
		logKeyChainID, info.ChainIDHex(),
		logKeyResolution, res.String())
	return info, nil
}

func chainInfo(g *generator.Generator) ChainInfo {
	return ChainInfo{
		ChainID:    g.ChainID(),
		Resolution: g.Resolution(),
		NextSeq:    g.NextSeq(),
	}
}

// NextMark produces and persists the next mark of a chain. The mark and
// the advanced checkpoint are written together; on error the chain is
// left where it was.
func (l *Ledger) NextMark(
	ctx context.Context,
	chainID []byte,
	date time.Time,
	info any,
) (mark.Mark, error) { // A
	if err := l.ready(ctx); err != nil {
		return mark.Mark{}, err
	}

	mu, err := l.existingChainLock(chainID)
	if err != nil {
		return mark.Mark{}, fmt.Errorf("advance chain %x: %w", chainID, err)
	}
	mu.Lock()
	defer mu.Unlock()

	m, err := l.store.Advance(chainID, date, info)
	if err != nil {
		if errors.Is(err, generator.ErrInvariant) {
			l.log.ErrorContext(ctx, "chain state corrupted",
				logKeyChainID, hex.EncodeToString(chainID),
				"error", err)
		}
		return mark.Mark{}, fmt.Errorf("advance chain %x: %w", chainID, err)
	}

	l.log.DebugContext(ctx, "mark produced",
		logKeyChainID, hex.EncodeToString(chainID),
		logKeySeq, m.Seq(),
		logKeyMark, m.Identifier())
	return m, nil
}

// Checkpoint returns the stored generator state of a chain. It contains
// the seed and must be treated as secret.
func (l *Ledger) Checkpoint(ctx context.Context, chainID []byte) (generator.Checkpoint, error) { // A
	if err := l.ready(ctx); err != nil {
		return generator.Checkpoint{}, err
	}
	g, err := l.store.Generator(chainID)
	if err != nil {
		return generator.Checkpoint{}, err
	}
	return g.Checkpoint(), nil
}

// Chain describes one stored chain.
func (l *Ledger) Chain(ctx context.Context, chainID []byte) (ChainInfo, error) {
	if err := l.ready(ctx); err != nil {
		return ChainInfo{}, err
	}
	g, err := l.store.Generator(chainID)
	if err != nil {
		return ChainInfo{}, err
	}
	return chainInfo(g), nil
}

// Chains lists all stored chains.
func (l *Ledger) Chains(ctx context.Context) ([]ChainInfo, error) { // A
	if err := l.ready(ctx); err != nil {
		return nil, err
	}
	ids, err := l.store.Chains()
	if err != nil {
		return nil, err
	}
	infos := make([]ChainInfo, 0, len(ids))
	for _, id := range ids {
		g, err := l.store.Generator(id)
		if err != nil {
			return nil, fmt.Errorf("load chain %x: %w", id, err)
		}
		infos = append(infos, chainInfo(g))
	}
	return infos, nil
}

// Marks returns every stored mark of a chain in sequence order.
func (l *Ledger) Marks(ctx context.Context, chainID []byte) ([]mark.Mark, error) {
	if err := l.ready(ctx); err != nil {
		return nil, err
	}
	return l.store.Marks(chainID)
}

// Export writes the marks of a chain to w as an xz compressed CBOR
// sequence and returns how many were written.
func (l *Ledger) Export(ctx context.Context, chainID []byte, w io.Writer) (int, error) { // A
	if err := l.ready(ctx); err != nil {
		return 0, err
	}

	mu, err := l.existingChainLock(chainID)
	if err != nil {
		return 0, err
	}
	mu.Lock()
	defer mu.Unlock()

	n, err := l.store.Export(chainID, w)
	if err != nil {
		return 0, err
	}
	l.log.InfoContext(ctx, "chain exported",
		logKeyChainID, hex.EncodeToString(chainID),
		logKeyCount, n)
	return n, nil
}

// ReadExport decodes marks written by Export.
func ReadExport(r io.Reader) ([]mark.Mark, error) {
	return chainstore.ReadExport(r)
}
