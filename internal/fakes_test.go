package internal

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// keywordEmbedder gives every keyword its own axis, plus a small constant
// axis so no vector is zero.
type keywordEmbedder struct {
	keywords []string
	model    string
	err      error

	mu    sync.Mutex
	calls int
}

func newKeywordEmbedder(keywords ...string) *keywordEmbedder {
	return &keywordEmbedder{keywords: keywords, model: "keyword-test"}
}

func (e *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(e.keywords)+1)
	v[len(e.keywords)] = 0.01
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		v[i] = float32(strings.Count(lower, kw))
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int    { return len(e.keywords) + 1 }
func (e *keywordEmbedder) ModelName() string { return e.model }
func (e *keywordEmbedder) Device() string    { return string(DeviceCPU) }
func (e *keywordEmbedder) Close() error      { return nil }

func (e *keywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubGenerator returns a canned reply and records the prompts it saw.
type stubGenerator struct {
	text string
	err  error

	mu      sync.Mutex
	prompts []string
}

func (g *stubGenerator) Complete(_ context.Context, _, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.text, g.err
}

func (g *stubGenerator) ModelName() string { return "stub" }

func (g *stubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

var errInjected = errors.New("injected failure")

// failingSaveStore fails every Save while failSave is set.
type failingSaveStore struct {
	IndexStore
	failSave bool
}

func (s *failingSaveStore) Save(ctx context.Context, idx *VectorIndex) error {
	if s.failSave {
		return errInjected
	}
	return s.IndexStore.Save(ctx, idx)
}

// memCorpus builds an in-memory corpus from name/content pairs.
func memCorpus(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		if err := util.WriteFile(fs, name, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

func writeMem(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	if err := util.WriteFile(fs, name, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
