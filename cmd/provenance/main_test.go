package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	provenance "github.com/i5heu/provenance-mark"
)

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestCLIChainLifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROVENANCE_PATHS", dir)
	t.Setenv("PROVENANCE_LOG_LEVEL", "error")

	out, errOut, code := runCLI(t, "new", "-res", "low", "-passphrase", "Wolf")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Created low chain ce7c1599\n", out)

	out, errOut, code = runCLI(t, "next", "ce7c1599", "-info", "first", "-date", "2024-02-01T10:00:00Z")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "seq=0 date=2024-02-01T00:00:00Z")

	_, errOut, code = runCLI(t, "next", "ce7c1599", "-date", "2024-02-02T10:00:00Z")
	require.Equal(t, 0, code, errOut)

	out, errOut, code = runCLI(t, "show", "ce7c1599")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"nextSeq": 2`)
	assert.Contains(t, out, `"res": "low"`)

	out, errOut, code = runCLI(t, "marks", "ce7c1599")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "first"))

	out, errOut, code = runCLI(t, "chains")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "ce7c1599")

	exportPath := filepath.Join(t.TempDir(), "chain.xz")
	out, errOut, code = runCLI(t, "export", "ce7c1599", exportPath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Exported 2 marks")
}

func TestCLIErrors(t *testing.T) {
	t.Setenv("PROVENANCE_PATHS", t.TempDir())
	t.Setenv("PROVENANCE_LOG_LEVEL", "error")

	_, errOut, code := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage")

	_, errOut, code = runCLI(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command")

	_, errOut, code = runCLI(t, "next", "zz")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid chain id")

	_, errOut, code = runCLI(t, "next", "0102030405060708")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, provenance.ErrChainNotFound.Error())

	_, _, code = runCLI(t, "new", "-res", "ultra")
	assert.Equal(t, 1, code)
}
