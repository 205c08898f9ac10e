package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Service wires one corpus, its ledger and its index to the ingestion and
// answer paths. Embedders and the generator are built on first use so a
// query never loads the ingestion model and vice versa.
type Service struct {
	cfg    *Config
	logger *slog.Logger
	store  IndexStore

	source    DocumentSource
	extractor Extractor
	runs      RunRecorder
	debug     bool

	ingestEmbedder Embedder
	queryEmbedder  Embedder
	generator      Generator

	ingestOnce  sync.Once
	ingester    *Ingester
	ingesterErr error

	answerOnce sync.Once
	answerer   *Answerer

	// serializes in-process ingestion with Reload
	mu     sync.Mutex
	closed bool
	owned  []interface{ Close() error }
}

type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithEmbedders(ingest, query Embedder) ServiceOption {
	return func(s *Service) {
		s.ingestEmbedder = ingest
		s.queryEmbedder = query
	}
}

func WithGenerator(g Generator) ServiceOption {
	return func(s *Service) { s.generator = g }
}

func WithSource(src DocumentSource) ServiceOption {
	return func(s *Service) { s.source = src }
}

func WithExtractor(x Extractor) ServiceOption {
	return func(s *Service) { s.extractor = x }
}

func WithRunRecorder(r RunRecorder) ServiceOption {
	return func(s *Service) { s.runs = r }
}

func WithIndexStore(store IndexStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithDebug enables backend diagnostics such as llama.cpp logging.
func WithDebug(debug bool) ServiceOption {
	return func(s *Service) { s.debug = debug }
}

func NewService(cfg *Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.store == nil {
		s.store = NewDirIndexStore(cfg.IndexPath, cfg.Retrieval.IndexOptions())
	}
	if s.extractor == nil {
		xcfg := cfg.Extract.ExtractConfig()
		s.extractor = NewExtractors(xcfg)
	}
	if s.runs == nil && cfg.RunsPath != "" {
		runs, err := OpenRunStore(cfg.RunsPath)
		if err != nil {
			s.logger.Warn("run history disabled", "path", cfg.RunsPath, "error", err)
		} else {
			s.runs = runs
			s.owned = append(s.owned, runs)
		}
	}
	if s.runs == nil {
		s.runs = nopRecorder{}
	}

	return s, nil
}

func (s *Service) Config() *Config {
	return s.cfg
}

// Ingest runs one incremental ingestion and refreshes the answerer if one
// is live.
func (s *Service) Ingest(ctx context.Context) (IngestResult, error) {
	ing, err := s.ingesterFor()
	if err != nil {
		return IngestResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := ing.Ingest(ctx)
	if err != nil {
		return result, err
	}

	if len(result.Committed) > 0 && s.answerer != nil {
		_ = s.answerer.Reload(ctx)
	}
	return result, nil
}

// Pending lists corpus files not yet ingested without loading any model.
func (s *Service) Pending(ctx context.Context) ([]string, error) {
	ledger, err := OpenLedger(s.cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	src, err := s.sourceFor()
	if err != nil {
		return nil, err
	}
	listing, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list corpus: %w", err)
	}
	return ledger.Missing(listing), nil
}

func (s *Service) Ask(ctx context.Context, question string) Answer {
	return s.Answerer(ctx).Answer(ctx, question)
}

// Answerer returns the shared answerer, building it on first use.
func (s *Service) Answerer(ctx context.Context) *Answerer {
	s.answerOnce.Do(func() {
		var res InitResult
		query, err := s.queryEmbedderFor()
		if err != nil {
			res.Err = err
		}
		gen, err := s.generatorFor(ctx)
		if err != nil && res.Err == nil {
			res.Err = err
		}

		a := NewAnswerer(ctx, AnswererConfig{
			Embedder:  query,
			Generator: gen,
			Store:     s.store,
			K:         s.cfg.Retrieval.K,
			Messages:  s.cfg.Messages,
			Logger:    s.logger.With("component", "answerer"),
		}, res)

		s.mu.Lock()
		s.answerer = a
		s.mu.Unlock()
	})
	return s.answerer
}

// Reload makes the answerer pick up an index written by another process.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answerer == nil {
		return nil
	}
	return s.answerer.Reload(ctx)
}

type IndexStatus struct {
	Path      string   `json:"path"`
	Exists    bool     `json:"exists"`
	Entries   int      `json:"entries"`
	Model     string   `json:"model,omitempty"`
	Dimension int      `json:"dimension,omitempty"`
	Sources   int      `json:"sources"`
	Ledger    int      `json:"ledger"`
	Pending   []string `json:"pending"`
	Error     string   `json:"error,omitempty"`
}

// Status inspects the index and ledger without loading any model.
func (s *Service) Status(ctx context.Context) (IndexStatus, error) {
	st := IndexStatus{Path: s.store.Path(), Exists: s.store.Exists()}

	ledger, err := OpenLedger(s.cfg.LedgerPath)
	if err != nil {
		return st, err
	}
	st.Ledger = ledger.Len()

	if st.Pending, err = s.Pending(ctx); err != nil {
		return st, err
	}

	if st.Exists {
		idx, err := s.store.Load(ctx)
		if err != nil {
			st.Error = err.Error()
			return st, nil
		}
		defer idx.Close()
		st.Entries = idx.Len()
		st.Model = idx.Model()
		st.Dimension = idx.Dimension()
		st.Sources = len(idx.Sources())
	}
	return st, nil
}

// Reset deletes the index and the ledger so the next run re-ingests the
// whole corpus. It takes the ingestion lock.
func (s *Service) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := AcquireIndexLock(s.store.Path())
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := os.RemoveAll(s.store.Path()); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}
	if err := os.Remove(s.cfg.LedgerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove ledger: %w", err)
	}
	s.logger.Warn("index and ledger reset", "index", s.store.Path(), "ledger", s.cfg.LedgerPath)

	if s.answerer != nil {
		_ = s.answerer.Reload(ctx)
	}
	return nil
}

func (s *Service) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.runs.Recent(ctx, limit)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.owned) - 1; i >= 0; i-- {
		if err := s.owned[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) ingesterFor() (*Ingester, error) {
	s.ingestOnce.Do(func() {
		src, err := s.sourceFor()
		if err != nil {
			s.ingesterErr = err
			return
		}
		emb, err := s.ingestEmbedderFor()
		if err != nil {
			s.ingesterErr = err
			return
		}
		chunker, err := NewChunker(s.cfg.Chunk.Size, s.cfg.Chunk.Overlap)
		if err != nil {
			s.ingesterErr = fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			return
		}

		s.ingester, s.ingesterErr = NewIngester(IngesterConfig{
			Source:     src,
			Extractor:  s.extractor,
			Chunker:    chunker,
			Embedder:   emb,
			Store:      s.store,
			LedgerPath: s.cfg.LedgerPath,
			Runs:       s.runs,
			Workers:    s.cfg.Extract.Workers,
			BatchSize:  s.cfg.Embeddings.Ingest.BatchSize,
			Logger:     s.logger.With("component", "ingest"),
		})
	})
	return s.ingester, s.ingesterErr
}

func (s *Service) sourceFor() (DocumentSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return s.source, nil
	}
	src, err := NewDirSource(s.cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	s.source = src
	return src, nil
}

// ingestEmbedderFor reuses the query embedder when both roles are configured
// identically, and vice versa.
func (s *Service) ingestEmbedderFor() (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ingestEmbedder != nil {
		return s.ingestEmbedder, nil
	}
	if s.queryEmbedder != nil && s.cfg.Embeddings.Ingest == s.cfg.Embeddings.Query {
		s.ingestEmbedder = s.queryEmbedder
		return s.ingestEmbedder, nil
	}

	e, err := NewEmbedder(s.cfg.Embeddings.Ingest, s.debug)
	if err != nil {
		return nil, fmt.Errorf("ingest embedder: %w", err)
	}
	s.ingestEmbedder = e
	s.owned = append(s.owned, e)
	return e, nil
}

func (s *Service) queryEmbedderFor() (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryEmbedder != nil {
		return s.queryEmbedder, nil
	}
	if s.ingestEmbedder != nil && s.cfg.Embeddings.Ingest == s.cfg.Embeddings.Query {
		s.queryEmbedder = s.ingestEmbedder
		return s.queryEmbedder, nil
	}

	e, err := NewEmbedder(s.cfg.Embeddings.Query, s.debug)
	if err != nil {
		return nil, fmt.Errorf("query embedder: %w", err)
	}
	s.queryEmbedder = e
	s.owned = append(s.owned, e)
	return e, nil
}

func (s *Service) generatorFor(ctx context.Context) (Generator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator != nil {
		return s.generator, nil
	}
	g, err := NewGenerator(ctx, s.cfg.Generator)
	if err != nil {
		return nil, err
	}
	s.generator = g
	return g, nil
}
