package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

const answerSystemPrompt = "You answer questions about a private document collection. " +
	"Use only the provided context. Never use outside knowledge."

// InitResult carries the outcome of building the answer path's dependencies.
// A non-nil Err puts the Answerer in permanent fallback mode.
type InitResult struct {
	Err error
}

type AnswererConfig struct {
	Embedder  Embedder
	Generator Generator
	Store     IndexStore
	K         int
	Messages  Messages
	Logger    *slog.Logger
}

type indexSnapshot struct {
	index *VectorIndex
	err   error
}

// Answerer answers questions from the index. It never returns an error:
// failures turn into the configured unavailable message.
type Answerer struct {
	embedder  Embedder
	generator Generator
	store     IndexStore
	k         int
	msgs      Messages
	logger    *slog.Logger
	initErr   error
	snapshot  atomic.Pointer[indexSnapshot]
}

func NewAnswerer(ctx context.Context, cfg AnswererConfig, init InitResult) *Answerer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.K <= 0 {
		cfg.K = DefaultRetrieveK
	}
	if cfg.Messages.NotFound == "" {
		cfg.Messages.NotFound = DefaultNotFoundMessage
	}
	if cfg.Messages.Unavailable == "" {
		cfg.Messages.Unavailable = DefaultUnavailableMessage
	}
	if cfg.Messages.CitationPrefix == "" {
		cfg.Messages.CitationPrefix = DefaultCitationPrefix
	}

	a := &Answerer{
		embedder:  cfg.Embedder,
		generator: cfg.Generator,
		store:     cfg.Store,
		k:         cfg.K,
		msgs:      cfg.Messages,
		logger:    cfg.Logger,
		initErr:   init.Err,
	}

	if a.initErr == nil {
		switch {
		case a.embedder == nil:
			a.initErr = fmt.Errorf("%w: no query embedder", ErrEmbeddingUnavailable)
		case a.generator == nil:
			a.initErr = fmt.Errorf("%w: no generator", ErrGeneratorUnavailable)
		case a.store == nil:
			a.initErr = errors.New("no index store")
		}
	}

	if a.initErr != nil {
		a.logger.Error("answering disabled", "error", a.initErr)
		return a
	}

	a.Reload(ctx)
	return a
}

// Reload swaps in the index currently on disk. A missing index answers
// every question with the not-found message.
func (a *Answerer) Reload(ctx context.Context) error {
	if a.initErr != nil {
		return a.initErr
	}

	snap := &indexSnapshot{}
	idx, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, ErrIndexNotFound):
		a.logger.Info("no index yet, answers will report not found", "path", a.store.Path())
	case err != nil:
		snap.err = err
	default:
		if err := idx.CheckModel(a.embedder.ModelName(), a.embedder.Dimension()); err != nil {
			snap.err = err
			_ = idx.Close()
		} else {
			snap.index = idx
		}
	}

	if snap.err != nil {
		a.logger.Error("index unusable, answers will report unavailable", "path", a.store.Path(), "error", snap.err)
	} else if snap.index != nil {
		a.logger.Info("index loaded", "entries", snap.index.Len(), "model", snap.index.Model())
	}

	if old := a.snapshot.Swap(snap); old != nil && old.index != nil {
		// readers still holding old finish on exact scan
		_ = old.index.Close()
	}
	return snap.err
}

func (a *Answerer) Available() bool {
	if a.initErr != nil {
		return false
	}
	snap := a.snapshot.Load()
	return snap != nil && snap.err == nil
}

// Status reports why answering is unavailable, or nil.
func (a *Answerer) Status() error {
	if a.initErr != nil {
		return a.initErr
	}
	if snap := a.snapshot.Load(); snap != nil {
		return snap.err
	}
	return nil
}

func (a *Answerer) Messages() Messages {
	return a.msgs
}

func (a *Answerer) Answer(ctx context.Context, question string) Answer {
	if a.initErr != nil {
		return Answer{Text: a.msgs.Unavailable}
	}

	snap := a.snapshot.Load()
	if snap == nil || snap.err != nil {
		return Answer{Text: a.msgs.Unavailable}
	}

	question = strings.TrimSpace(question)
	if question == "" || snap.index == nil || snap.index.Len() == 0 {
		return Answer{Text: a.msgs.NotFound}
	}

	vec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		a.logger.Warn("embed question", "error", err)
		return Answer{Text: a.msgs.Unavailable}
	}

	hits, err := snap.index.Retrieve(ctx, vec, a.k)
	if err != nil {
		a.logger.Warn("retrieve", "error", err)
		return Answer{Text: a.msgs.Unavailable}
	}
	if len(hits) == 0 {
		return Answer{Text: a.msgs.NotFound}
	}

	text, err := a.generator.Complete(ctx, answerSystemPrompt, BuildPrompt(question, hits, a.msgs.NotFound))
	if err != nil {
		a.logger.Warn("generate answer", "model", a.generator.ModelName(), "error", err)
		return Answer{Text: a.msgs.Unavailable}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = a.msgs.NotFound
	}

	a.logger.Debug("answered", "hits", len(hits), "top", hits[0].Chunk.Source, "score", hits[0].Score)
	return Answer{Text: text, Citation: hits[0].Chunk.SourceName()}
}

// BuildPrompt lays out the retrieved passages followed by the question and
// the instruction to fall back to notFound.
func BuildPrompt(question string, hits []SearchResult, notFound string) string {
	var sb strings.Builder

	sb.WriteString("Context:\n")
	for i, h := range hits {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, h.Chunk.SourceName())
		if h.Chunk.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", h.Chunk.Page)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(h.Chunk.Text))
		sb.WriteString("\n")
	}

	sb.WriteString("\nUsing only the context above, answer the following question concisely and directly: \"")
	sb.WriteString(question)
	sb.WriteString("\"\nIf the context is not sufficient, reply exactly: \"")
	sb.WriteString(notFound)
	sb.WriteString("\"\n")

	return sb.String()
}
