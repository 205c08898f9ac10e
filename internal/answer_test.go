package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexWith(t *testing.T, emb Embedder, chunks ...Chunk) IndexStore {
	t.Helper()
	ctx := context.Background()
	store := NewDirIndexStore(filepath.Join(t.TempDir(), "index"), DefaultIndexOptions())

	idx, err := store.Create(emb.ModelName(), emb.Dimension())
	require.NoError(t, err)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	entries := make([]Entry, len(chunks))
	for i := range chunks {
		entries[i] = Entry{Chunk: chunks[i], Vector: vecs[i]}
	}
	require.NoError(t, idx.Append(ctx, entries))
	require.NoError(t, store.Save(ctx, idx))
	return store
}

func newTestAnswerer(t *testing.T, emb Embedder, gen Generator, store IndexStore) *Answerer {
	t.Helper()
	return NewAnswerer(context.Background(), AnswererConfig{
		Embedder:  emb,
		Generator: gen,
		Store:     store,
		K:         2,
		Messages: Messages{
			NotFound:       DefaultNotFoundMessage,
			Unavailable:    DefaultUnavailableMessage,
			CitationPrefix: DefaultCitationPrefix,
		},
	}, InitResult{})
}

func TestAnswerFromIndex(t *testing.T) {
	emb := newKeywordEmbedder("office", "leave")
	store := indexWith(t, emb,
		Chunk{Source: "hr/policy.txt", Seq: 0, Text: "Office hours are 9 to 5."},
		Chunk{Source: "hr/leave.txt", Seq: 0, Text: "Annual leave is twenty days."},
	)
	gen := &stubGenerator{text: "  The office hours are 9 to 5.  "}

	a := newTestAnswerer(t, emb, gen, store)
	require.True(t, a.Available())

	ans := a.Answer(context.Background(), "what are the office hours")

	assert.Contains(t, ans.Text, "9")
	assert.Contains(t, ans.Text, "5")
	assert.Equal(t, "The office hours are 9 to 5.", ans.Text)
	assert.Equal(t, "policy.txt", ans.Citation, "citation is the base name of the top hit")

	require.Equal(t, 1, gen.Calls())
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Office hours are 9 to 5.")
	assert.Contains(t, prompt, "what are the office hours")
	assert.Contains(t, prompt, DefaultNotFoundMessage)
	assert.Less(t, strings.Index(prompt, "policy.txt"), strings.Index(prompt, "leave.txt"), "best passage first")
}

func TestAnswerEmptyIndexNotFound(t *testing.T) {
	emb := newKeywordEmbedder("office")
	gen := &stubGenerator{text: "should not be called"}
	store := NewDirIndexStore(filepath.Join(t.TempDir(), "index"), DefaultIndexOptions())

	a := newTestAnswerer(t, emb, gen, store)
	assert.True(t, a.Available())

	ans := a.Answer(context.Background(), "anything at all?")
	assert.Equal(t, DefaultNotFoundMessage, ans.Text)
	assert.False(t, ans.HasCitation())
	assert.Equal(t, 0, gen.Calls())
	assert.Equal(t, 0, emb.Calls(), "no embedding call without an index")
}

func TestAnswerSavedButEmptyIndex(t *testing.T) {
	emb := newKeywordEmbedder("office")
	gen := &stubGenerator{text: "nope"}
	store := indexWith(t, emb)

	ans := newTestAnswerer(t, emb, gen, store).Answer(context.Background(), "office?")
	assert.Equal(t, DefaultNotFoundMessage, ans.Text)
	assert.Empty(t, ans.Citation)
	assert.Equal(t, 0, gen.Calls())
}

func TestAnswerBlankQuestion(t *testing.T) {
	emb := newKeywordEmbedder("office")
	store := indexWith(t, emb, Chunk{Source: "a.txt", Text: "office"})
	gen := &stubGenerator{text: "x"}

	ans := newTestAnswerer(t, emb, gen, store).Answer(context.Background(), "   ")
	assert.Equal(t, DefaultNotFoundMessage, ans.Text)
	assert.Equal(t, 0, gen.Calls())
}

func TestAnswerGeneratorFailureIsUnavailable(t *testing.T) {
	emb := newKeywordEmbedder("office")
	store := indexWith(t, emb, Chunk{Source: "a.txt", Text: "office hours"})
	gen := &stubGenerator{err: ErrGeneratorUnavailable}

	ans := newTestAnswerer(t, emb, gen, store).Answer(context.Background(), "office?")
	assert.Equal(t, DefaultUnavailableMessage, ans.Text)
	assert.Empty(t, ans.Citation)
}

func TestAnswerEmbeddingFailureIsUnavailable(t *testing.T) {
	emb := newKeywordEmbedder("office")
	store := indexWith(t, emb, Chunk{Source: "a.txt", Text: "office hours"})
	gen := &stubGenerator{text: "x"}
	a := newTestAnswerer(t, emb, gen, store)

	emb.err = ErrEmbeddingUnavailable
	ans := a.Answer(context.Background(), "office?")
	assert.Equal(t, DefaultUnavailableMessage, ans.Text)
	assert.Equal(t, 0, gen.Calls())
}

func TestAnswerEmptyGenerationFallsBackToNotFound(t *testing.T) {
	emb := newKeywordEmbedder("office")
	store := indexWith(t, emb, Chunk{Source: "a.txt", Text: "office hours"})
	gen := &stubGenerator{text: "  \n"}

	ans := newTestAnswerer(t, emb, gen, store).Answer(context.Background(), "office?")
	assert.Equal(t, DefaultNotFoundMessage, ans.Text)
}

func TestAnswererInitFailure(t *testing.T) {
	emb := newKeywordEmbedder("office")
	gen := &stubGenerator{text: "x"}
	store := indexWith(t, emb, Chunk{Source: "a.txt", Text: "office hours"})

	a := NewAnswerer(context.Background(), AnswererConfig{
		Embedder:  emb,
		Generator: gen,
		Store:     store,
	}, InitResult{Err: errors.New("missing api key")})

	assert.False(t, a.Available())
	assert.EqualError(t, a.Status(), "missing api key")

	ans := a.Answer(context.Background(), "office?")
	assert.Equal(t, DefaultUnavailableMessage, ans.Text)
	assert.Equal(t, 0, emb.Calls())
	assert.Equal(t, 0, gen.Calls())
	assert.Error(t, a.Reload(context.Background()))
}

func TestAnswererMissingDependencies(t *testing.T) {
	a := NewAnswerer(context.Background(), AnswererConfig{Generator: &stubGenerator{}}, InitResult{})
	assert.False(t, a.Available())
	assert.ErrorIs(t, a.Status(), ErrEmbeddingUnavailable)

	a = NewAnswerer(context.Background(), AnswererConfig{Embedder: newKeywordEmbedder("x")}, InitResult{})
	assert.ErrorIs(t, a.Status(), ErrGeneratorUnavailable)
}

func TestAnswererModelMismatch(t *testing.T) {
	built := newKeywordEmbedder("office")
	store := indexWith(t, built, Chunk{Source: "a.txt", Text: "office"})

	query := newKeywordEmbedder("office")
	query.model = "another-model"
	a := newTestAnswerer(t, query, &stubGenerator{text: "x"}, store)

	assert.False(t, a.Available())
	assert.ErrorIs(t, a.Status(), ErrModelMismatch)
	assert.Equal(t, DefaultUnavailableMessage, a.Answer(context.Background(), "office?").Text)
}

func TestAnswererCorruptIndex(t *testing.T) {
	emb := newKeywordEmbedder("office")
	store := NewDirIndexStore(t.TempDir(), DefaultIndexOptions())
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(), ManifestFilename), []byte("{"), 0644))

	a := newTestAnswerer(t, emb, &stubGenerator{text: "x"}, store)
	assert.ErrorIs(t, a.Status(), ErrIndexCorrupt)
	assert.Equal(t, DefaultUnavailableMessage, a.Answer(context.Background(), "office?").Text)
}

func TestAnswererReloadPicksUpNewIndex(t *testing.T) {
	ctx := context.Background()
	emb := newKeywordEmbedder("office", "leave")
	gen := &stubGenerator{text: "Twenty days."}
	store := NewDirIndexStore(filepath.Join(t.TempDir(), "index"), DefaultIndexOptions())

	a := newTestAnswerer(t, emb, gen, store)
	assert.Equal(t, DefaultNotFoundMessage, a.Answer(ctx, "leave?").Text)

	idx, err := store.Create(emb.ModelName(), emb.Dimension())
	require.NoError(t, err)
	vec, _ := emb.Embed(ctx, "annual leave")
	require.NoError(t, idx.Append(ctx, []Entry{{Chunk: Chunk{Source: "leave.txt", Text: "annual leave"}, Vector: vec}}))
	require.NoError(t, store.Save(ctx, idx))

	assert.Equal(t, DefaultNotFoundMessage, a.Answer(ctx, "leave?").Text, "old snapshot until reload")

	require.NoError(t, a.Reload(ctx))
	ans := a.Answer(ctx, "leave?")
	assert.Equal(t, "Twenty days.", ans.Text)
	assert.Equal(t, "leave.txt", ans.Citation)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("How long is leave?", []SearchResult{
		{Chunk: Chunk{Source: "docs/leave.pdf", Page: 3, Text: "  Twenty days.  "}, Score: 0.9},
		{Chunk: Chunk{Source: "notes.txt", Text: "Ask HR."}, Score: 0.5},
	}, "NOT FOUND")

	assert.Contains(t, prompt, "[1] leave.pdf, page 3\nTwenty days.\n")
	assert.Contains(t, prompt, "[2] notes.txt\nAsk HR.\n")
	assert.Contains(t, prompt, `"How long is leave?"`)
	assert.Contains(t, prompt, `reply exactly: "NOT FOUND"`)
}

func TestAnswerFormat(t *testing.T) {
	assert.Equal(t, "Yes.\n\nSource: a.pdf", Answer{Text: "Yes.", Citation: "a.pdf"}.Format("Source:"))
	assert.Equal(t, "No idea.", Answer{Text: "No idea."}.Format("Source:"))
}

func TestAnswererReloadClosesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	emb := newKeywordEmbedder("office", "leave")
	opts := IndexOptions{Approximate: true, ExactBelow: 2, Oversample: 50}
	store := NewDirIndexStore(filepath.Join(t.TempDir(), "index"), opts)

	idx, err := store.Create(emb.ModelName(), emb.Dimension())
	require.NoError(t, err)
	office, _ := emb.Embed(ctx, "office hours")
	leave, _ := emb.Embed(ctx, "annual leave")
	require.NoError(t, idx.Append(ctx, []Entry{
		{Chunk: Chunk{Source: "office.txt", Text: "office hours"}, Vector: office},
		{Chunk: Chunk{Source: "leave.txt", Text: "annual leave"}, Vector: leave},
	}))
	require.NoError(t, store.Save(ctx, idx))
	require.NoError(t, idx.Close())

	a := newTestAnswerer(t, emb, &stubGenerator{text: "Twenty days."}, store)
	first := a.snapshot.Load().index
	require.NotNil(t, first)

	require.NoError(t, a.Reload(ctx))
	second := a.snapshot.Load().index
	assert.NotSame(t, first, second)
	assert.False(t, first.UsesForest(), "replaced index is unmapped")

	// a reader that still holds the old index keeps getting exact answers
	hits, err := first.Retrieve(ctx, leave, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "leave.txt", hits[0].Chunk.Source)

	assert.Equal(t, "leave.txt", a.Answer(ctx, "leave?").Citation)
}
