// Package logging provides the colored slog handler used by the ledger and
// the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is the shared info level logger writing to stderr. Components
// configured without their own logger use it.
var Logger *slog.Logger

func init() {
	Logger = New(os.Stderr, slog.LevelInfo)
}

// New returns a tint backed logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger { // A
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  level <= slog.LevelDebug,
		NoColor:    !isTerminal(w),
	})
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
