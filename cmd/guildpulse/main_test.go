package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"guildpulse/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFileStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.DocLogging+".json"), []byte(`{"servers":{}}`), 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["dump"])
	assert.True(t, names["migrate"])
}

func TestDumpPrintsIndentedDocument(t *testing.T) {
	setupFileStore(t)

	out, err := execute(t, "dump", storage.DocLogging)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"servers\": {}\n}\n", out)
}

func TestDumpRejectsUnknownDocument(t *testing.T) {
	setupFileStore(t)

	_, err := execute(t, "dump", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document")
}

func TestMigrateCopiesToBolt(t *testing.T) {
	setupFileStore(t)
	target := filepath.Join(t.TempDir(), "out.db")

	out, err := execute(t, "migrate", "--to", "bolt", "--to-path", target)
	require.NoError(t, err)
	assert.Equal(t, "copied 1 of 4 documents from file to bolt\n", out)

	backend, err := storage.OpenBolt(storage.BoltOptions{Path: target})
	require.NoError(t, err)
	defer backend.Close()
	data, err := backend.Load(context.Background(), storage.DocLogging)
	require.NoError(t, err)
	assert.JSONEq(t, `{"servers":{}}`, string(data))
}

func TestMigrateRejectsSameDriver(t *testing.T) {
	setupFileStore(t)

	_, err := execute(t, "migrate", "--to", "json")
	require.Error(t, err)
}
