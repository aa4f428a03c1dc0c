package provenance

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/provenance-mark/pkg/generator"
	"github.com/i5heu/provenance-mark/pkg/logging"
	"github.com/i5heu/provenance-mark/pkg/resolution"
	"github.com/i5heu/provenance-mark/pkg/seed"
)

var testDate = time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

func quietConfig(dir string) Config {
	storeLog := logrus.New()
	storeLog.SetOutput(io.Discard)
	return Config{
		Paths:       []string{dir},
		Resolution:  resolution.Medium,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		StoreLogger: storeLog,
	}
}

func startedLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(quietConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNew(t *testing.T) { // A
	t.Parallel()

	l, err := New(Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.Same(t, logging.Logger, l.log, "info level shares the package logger")
	assert.NotNil(t, l.random)

	l, err = New(Config{Paths: []string{t.TempDir()}, LogLevel: slog.LevelDebug})
	require.NoError(t, err)
	assert.NotSame(t, logging.Logger, l.log)
	assert.True(t, l.log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewValidation(t *testing.T) { // A
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Paths: []string{t.TempDir()}, Resolution: resolution.Resolution(9)})
	assert.True(t, errors.Is(err, resolution.ErrUnknownResolution))
}

func TestOperationsRequireStart(t *testing.T) { // A
	t.Parallel()

	l, err := New(quietConfig(t.TempDir()))
	require.NoError(t, err)

	_, err = l.CreateChain(context.Background(), ChainOptions{Passphrase: "x"})
	assert.True(t, errors.Is(err, ErrNotStarted))

	_, err = l.NextMark(context.Background(), []byte{1}, testDate, nil)
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestStartAndCloseAreIdempotent(t *testing.T) { // A
	t.Parallel()

	l, err := New(quietConfig(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Chains(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCanceledContext(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.CreateChain(ctx, ChainOptions{Passphrase: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCreateChainFromPassphrase(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx := context.Background()

	low := resolution.Low
	info, err := l.CreateChain(ctx, ChainOptions{Resolution: &low, Passphrase: "Wolf"})
	require.NoError(t, err)
	assert.Equal(t, "ce7c1599", info.ChainIDHex())
	assert.Equal(t, resolution.Low, info.Resolution)
	assert.Equal(t, uint32(0), info.NextSeq)

	_, err = l.CreateChain(ctx, ChainOptions{Resolution: &low, Passphrase: "Wolf"})
	assert.True(t, errors.Is(err, ErrChainExists))
}

func TestCreateChainUsesRandomSource(t *testing.T) { // A
	t.Parallel()

	cfg := quietConfig(t.TempDir())
	cfg.Random = bytes.NewReader(bytes.Repeat([]byte{0xab}, seed.Size))
	l, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	info, err := l.CreateChain(context.Background(), ChainOptions{})
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 8), info.ChainID)
	assert.Equal(t, resolution.Medium, info.Resolution)

	_, err = l.CreateChain(context.Background(), ChainOptions{})
	assert.Error(t, err, "exhausted random source must surface")
}

func TestNextMarkMatchesGenerator(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx := context.Background()

	s := seed.FromPassphrase("ledger")
	info, err := l.CreateChain(ctx, ChainOptions{Seed: &s})
	require.NoError(t, err)

	reference, err := generator.NewWithSeed(resolution.Medium, s)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		date := testDate.Add(time.Duration(i) * time.Hour)
		got, err := l.NextMark(ctx, info.ChainID, date, "entry")
		require.NoError(t, err)
		want, err := reference.Next(date, "entry")
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "seq %d", i)
	}

	cp, err := l.Checkpoint(ctx, info.ChainID)
	require.NoError(t, err)
	assert.Equal(t, reference.Checkpoint(), cp)

	chain, err := l.Chain(ctx, info.ChainID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), chain.NextSeq)
}

func TestNextMarkUnknownChain(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx := context.Background()
	for i := byte(0); i < 16; i++ {
		unknown := []byte{i, 2, 3, 4, 5, 6, 7, 8}
		_, err := l.NextMark(ctx, unknown, testDate, nil)
		assert.True(t, errors.Is(err, ErrChainNotFound))
		_, err = l.Export(ctx, unknown, io.Discard)
		assert.True(t, errors.Is(err, ErrChainNotFound))
	}
	assert.Zero(t, l.lockCount(), "unknown chains must not leave lock entries")

	info, err := l.CreateChain(ctx, ChainOptions{Passphrase: "known"})
	require.NoError(t, err)
	_, err = l.NextMark(ctx, info.ChainID, testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, l.lockCount())
}

func TestConcurrentNextMarkSerializesPerChain(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx := context.Background()
	info, err := l.CreateChain(ctx, ChainOptions{Passphrase: "busy"})
	require.NoError(t, err)

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := l.NextMark(ctx, info.ChainID, testDate, nil); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("NextMark: %v", err)
	}

	marks, err := l.Marks(ctx, info.ChainID)
	require.NoError(t, err)
	require.Len(t, marks, workers*perWorker)
	for i := 1; i < len(marks); i++ {
		assert.True(t, marks[i-1].Precedes(marks[i]), "seq %d", i)
	}
}

func TestRestartResumesChain(t *testing.T) { // A
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	l, err := New(quietConfig(dir))
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	info, err := l.CreateChain(ctx, ChainOptions{Passphrase: "restart"})
	require.NoError(t, err)
	first, err := l.NextMark(ctx, info.ChainID, testDate, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = New(quietConfig(dir))
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	defer l.Close()

	second, err := l.NextMark(ctx, info.ChainID, testDate.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.True(t, first.Precedes(second))

	chains, err := l.Chains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, uint32(2), chains[0].NextSeq)
}

func TestExport(t *testing.T) { // A
	t.Parallel()

	l := startedLedger(t)
	ctx := context.Background()
	info, err := l.CreateChain(ctx, ChainOptions{Passphrase: "export"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := l.NextMark(ctx, info.ChainID, testDate, map[string]int{"n": i})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := l.Export(ctx, info.ChainID, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	marks, err := ReadExport(&buf)
	require.NoError(t, err)
	require.Len(t, marks, 4)
	for i := 1; i < len(marks); i++ {
		assert.True(t, marks[i-1].Precedes(marks[i]))
	}
}
