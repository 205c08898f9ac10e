package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServiceTest loads the default config for a fresh workspace and writes
// files into its corpus directory.
func newServiceTest(t *testing.T, files map[string]string) *Config {
	t.Helper()
	root := t.TempDir()

	cfg, err := LoadConfig(Workspace{Root: root, ConfigPath: filepath.Join(root, ConfigFilename)})
	require.NoError(t, err)
	cfg.Chunk = ChunkConfig{Size: 60, Overlap: 10}

	for name, content := range files {
		path := filepath.Join(cfg.CorpusPath, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return cfg
}

func newTestService(t *testing.T, cfg *Config, emb Embedder, gen Generator) *Service {
	t.Helper()
	svc, err := NewService(cfg, WithEmbedders(emb, emb), WithGenerator(gen))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestServiceIngestAndAsk(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{
		"hr/policy.txt": "Office hours are 9 to 5.",
		"hr/leave.txt":  "Annual leave is twenty days per year.",
	})
	gen := &stubGenerator{text: "Office hours are 9 to 5."}
	svc := newTestService(t, cfg, newKeywordEmbedder("office", "leave"), gen)

	result, err := svc.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr/leave.txt", "hr/policy.txt"}, result.Committed)
	assert.Equal(t, 2, result.IndexEntries)

	ans := svc.Ask(ctx, "When are office hours?")
	assert.Equal(t, "Office hours are 9 to 5.", ans.Text)
	assert.Equal(t, "policy.txt", ans.Citation)

	again, err := svc.Ingest(ctx)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
}

func TestServiceIngestReloadsLiveAnswerer(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, nil)
	gen := &stubGenerator{text: "Twenty days."}
	svc := newTestService(t, cfg, newKeywordEmbedder("office", "leave"), gen)

	assert.Equal(t, DefaultNotFoundMessage, svc.Ask(ctx, "How much leave?").Text)
	assert.True(t, svc.Answerer(ctx).Available())

	require.NoError(t, os.WriteFile(filepath.Join(cfg.CorpusPath, "leave.txt"), []byte("Annual leave is twenty days."), 0644))
	_, err := svc.Ingest(ctx)
	require.NoError(t, err)

	ans := svc.Ask(ctx, "How much leave?")
	assert.Equal(t, "Twenty days.", ans.Text)
	assert.Equal(t, "leave.txt", ans.Citation)
}

func TestServiceSharesEmbedderAcrossRoles(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{"a.txt": "office"})
	emb := newKeywordEmbedder("office")

	svc, err := NewService(cfg, WithEmbedders(emb, nil), WithGenerator(&stubGenerator{text: "ok"}))
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Ingest(ctx)
	require.NoError(t, err)
	before := emb.Calls()

	assert.Equal(t, "ok", svc.Ask(ctx, "office?").Text)
	assert.Equal(t, before+1, emb.Calls(), "query path reuses the ingestion embedder")
}

func TestServiceStatusAndPending(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{
		"a.txt":      "office",
		"b.md":       "leave",
		".hidden.md": "secret",
	})
	svc := newTestService(t, cfg, newKeywordEmbedder("office", "leave"), &stubGenerator{})

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.md"}, pending)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Equal(t, 0, st.Ledger)
	assert.Len(t, st.Pending, 2)

	_, err = svc.Ingest(ctx)
	require.NoError(t, err)

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 2, st.Sources)
	assert.Equal(t, 2, st.Ledger)
	assert.Equal(t, "keyword-test", st.Model)
	assert.Equal(t, 3, st.Dimension)
	assert.Empty(t, st.Pending)
	assert.Empty(t, st.Error)
}

func TestServiceStatusReportsCorruptIndex(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, nil)
	require.NoError(t, os.MkdirAll(cfg.IndexPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.IndexPath, ManifestFilename), []byte("garbage"), 0644))

	svc := newTestService(t, cfg, newKeywordEmbedder("x"), &stubGenerator{})
	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Contains(t, st.Error, ErrIndexCorrupt.Error())
}

func TestServiceReset(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{"a.txt": "office"})
	svc := newTestService(t, cfg, newKeywordEmbedder("office"), &stubGenerator{text: "yes"})

	_, err := svc.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "yes", svc.Ask(ctx, "office?").Text)

	require.NoError(t, svc.Reset(ctx))
	assert.NoDirExists(t, cfg.IndexPath)
	assert.NoFileExists(t, cfg.LedgerPath)
	assert.Equal(t, DefaultNotFoundMessage, svc.Ask(ctx, "office?").Text)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, pending)

	result, err := svc.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, result.Committed)
}

func TestServiceResetRespectsLock(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, nil)
	svc := newTestService(t, cfg, newKeywordEmbedder("x"), &stubGenerator{})

	lock, err := AcquireIndexLock(cfg.IndexPath)
	require.NoError(t, err)
	defer lock.Release()

	assert.ErrorIs(t, svc.Reset(ctx), ErrIngestionLocked)
}

func TestServiceRecoversFromDeadRunLock(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{"a.txt": "office"})
	svc := newTestService(t, cfg, newKeywordEmbedder("office"), &stubGenerator{text: "yes"})

	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755))
	require.NoError(t, os.WriteFile(LockPath(cfg.IndexPath), []byte("pid 99999999 since 2024-01-01T00:00:00Z"), 0644))

	_, err := svc.Ingest(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, LockPath(cfg.IndexPath))

	require.NoError(t, os.WriteFile(LockPath(cfg.IndexPath), []byte("pid 99999999 since 2024-01-01T00:00:00Z"), 0644))
	require.NoError(t, svc.Reset(ctx))
}

func TestServiceRunsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := newServiceTest(t, map[string]string{"a.txt": "office", "b.bin": "???"})
	svc := newTestService(t, cfg, newKeywordEmbedder("office"), &stubGenerator{})

	_, err := svc.Ingest(ctx)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx)
	require.NoError(t, err)

	runs, err := svc.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunStatusNoop, runs[0].Status)
	assert.Equal(t, RunStatusOK, runs[1].Status)
	require.Len(t, runs[1].Failures, 1)
	assert.Equal(t, "b.bin", runs[1].Failures[0].Name)
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := newServiceTest(t, nil)
	cfg.Chunk.Overlap = cfg.Chunk.Size

	_, err := NewService(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServiceCloseIdempotent(t *testing.T) {
	cfg := newServiceTest(t, nil)
	svc, err := NewService(cfg, WithEmbedders(newKeywordEmbedder("x"), nil), WithGenerator(&stubGenerator{}))
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
