package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/4thel00z/docqa/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupWorkspace runs docqa init in a temp dir and returns the config path.
func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := runCLI(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized")

	return dir, filepath.Join(dir, internal.ConfigFilename)
}

func TestInitCmd(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)

	assert.FileExists(t, cfgPath)
	assert.DirExists(t, filepath.Join(dir, "documents"))
	assert.DirExists(t, filepath.Join(dir, internal.StateDirname))

	cfg, err := internal.LoadConfig(internal.Workspace{Root: dir, ConfigPath: cfgPath, Found: true})
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestInitCmdAlreadyInitialized(t *testing.T) {
	setupWorkspace(t)

	_, err := runCLI(t, "init")
	if err == nil {
		t.Error("expected error for already initialized")
	}

	_, err = runCLI(t, "init", "--force")
	assert.NoError(t, err)
}

func TestInitCmdGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	_, err := runCLI(t, "init", "--global")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(home, internal.StateDirname, internal.ConfigFilename))
}

func TestIngestDryRun(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)

	docs := filepath.Join(dir, "documents")
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.txt"), []byte("beta"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.md"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, ".hidden.txt"), []byte("x"), 0644))

	out, err := runCLI(t, "--config", cfgPath, "ingest", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "a.md\nb.txt\n", out)

	out, err = runCLI(t, "--config", cfgPath, "--json", "ingest", "--dry-run")
	require.NoError(t, err)
	var pending []string
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	assert.Equal(t, []string{"a.md", "b.txt"}, pending)
}

func TestIndexStatusBeforeIngest(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "documents", "a.txt"), []byte("alpha"), 0644))

	out, err := runCLI(t, "--config", cfgPath, "--json", "index", "status")
	require.NoError(t, err)

	var st internal.IndexStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.Exists)
	assert.Equal(t, 0, st.Ledger)
	assert.Equal(t, []string{"a.txt"}, st.Pending)

	out, err = runCLI(t, "--config", cfgPath, "index", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not built yet")
	assert.Contains(t, out, "Pending:  1 files")
}

func TestIndexResetRequiresYes(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)
	ledger := filepath.Join(dir, "processed_files.log")
	require.NoError(t, os.WriteFile(ledger, []byte("a.txt\n"), 0644))

	_, err := runCLI(t, "--config", cfgPath, "index", "reset")
	require.Error(t, err)
	assert.FileExists(t, ledger)

	out, err := runCLI(t, "--config", cfgPath, "index", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")
	assert.NoFileExists(t, ledger)
}

func TestRunsEmpty(t *testing.T) {
	_, cfgPath := setupWorkspace(t)

	out, err := runCLI(t, "--config", cfgPath, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No ingestion runs recorded.")
}

func TestAskRequiresQuestion(t *testing.T) {
	_, cfgPath := setupWorkspace(t)

	_, err := runCLI(t, "--config", cfgPath, "ask")
	assert.Error(t, err)
}

func TestPrintIngestResult(t *testing.T) {
	cmd := NewIngestCmd(newApp())
	var out bytes.Buffer
	cmd.SetOut(&out)

	printIngestResult(cmd, internal.IngestResult{
		New:          []string{"a.pdf", "b.txt"},
		Committed:    []string{"b.txt"},
		Failed:       []internal.FileFailure{{Name: "a.pdf", Error: "extraction failed"}},
		Chunks:       3,
		IndexEntries: 10,
	})

	assert.Equal(t, "skipped a.pdf: extraction failed\nIngested 1 of 2 new files (3 chunks, 10 in index).\n", out.String())

	out.Reset()
	printIngestResult(cmd, internal.IngestResult{NoOp: true})
	assert.Equal(t, "Nothing new to ingest.\n", out.String())
}
