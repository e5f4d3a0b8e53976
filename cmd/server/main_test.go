package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		runFlags.framework, runFlags.port, runFlags.logLevel, runFlags.dryRun = "", 0, "", false
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "sai-pipeline "+Version)
}

func TestRunDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8100\nredis:\n  type: memory\n"), 0o600))

	out, err := execute(t, "run", "--config", path, "--env-file", "", "--framework", "chi", "--dry-run")

	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func TestRunRejectsUnknownFramework(t *testing.T) {
	_, err := execute(t, "run", "--env-file", "", "--framework", "gin", "--dry-run")

	assert.ErrorContains(t, err, "WebFramework")
}
