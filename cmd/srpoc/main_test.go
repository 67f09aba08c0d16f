package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SRPOC_KERNEL", "")
	t.Setenv("SRPOC_HISTORY", "")
	t.Setenv("SRPOC_SEED", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRoot_MissingKernelIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t,
		"--config", filepath.Join(dir, "absent.yaml"),
		"--kernel", filepath.Join(dir, "no-such-kernel"),
		"--history", filepath.Join(dir, "runs.db"),
		"--seed", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "no-such-kernel")
	assert.Equal(t, "beginning fit", lines[1])
	assert.Equal(t, int64(3), cfg.Regression.Seed)
	assert.FileExists(t, filepath.Join(dir, "runs.db"))
}

func TestRoot_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srpoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample:\n  count: 1\n"), 0644))

	_, err := run(t, "--config", path)
	assert.ErrorContains(t, err, "invalid config")
	assert.ErrorContains(t, err, "sample.count")
}
