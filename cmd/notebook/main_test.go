package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	out := &bytes.Buffer{}
	Command.SetOut(out)
	Command.SetErr(out)
	Command.SetArgs(args)
	t.Cleanup(func() {
		configFile, logLevel, profileMode = "", "", ""
	})
	err := Command.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestLessonsCommand(t *testing.T) {
	out, err := execute(t, "lessons", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "socket-word-count")
	assert.Contains(t, out, "stream-static-join")
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notebook.yml")
	require.NoError(t, os.WriteFile(file, []byte("data_dir: ../../data\ntrigger: availableNow\nlog:\n  level: warn\n"), 0o644))

	out, err := execute(t, "run", "sql", "--config", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Querying streams with SQL")
	assert.Contains(t, out, "46.75")
}

func TestRunCommandErrors(t *testing.T) {
	_, err := execute(t, "run", "nope", "--log-level", "error")
	assert.ErrorContains(t, err, "unknown lesson")

	_, err = execute(t, "lessons", "--log-level", "loud")
	assert.ErrorContains(t, err, "unknown log level")

	_, err = execute(t, "run")
	assert.Error(t, err)
}
