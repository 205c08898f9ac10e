package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type IngestResult struct {
	RunID string
	// New lists the unledgered files this run considered, in processing order.
	New []string
	// Committed lists the files appended to the ledger by this run.
	Committed    []string
	Failed       []FileFailure
	Chunks       int
	IndexEntries int
	// NoOp is set when there was nothing new to ingest.
	NoOp bool
}

// formatChecker is implemented by extractors that can reject a file by name
// alone, before it is read.
type formatChecker interface {
	Supports(name string) bool
}

type IngesterConfig struct {
	Source     DocumentSource
	Extractor  Extractor
	Chunker    *Chunker
	Embedder   Embedder
	Store      IndexStore
	LedgerPath string
	Runs       RunRecorder
	Workers    int
	BatchSize  int
	Logger     *slog.Logger
}

// Ingester brings the index and ledger up to date with the corpus. Files
// reach the ledger only after the index holding their chunks is saved.
type Ingester struct {
	source     DocumentSource
	extractor  Extractor
	chunker    *Chunker
	embedder   Embedder
	store      IndexStore
	ledgerPath string
	runs       RunRecorder
	workers    int
	batchSize  int
	logger     *slog.Logger
}

func NewIngester(cfg IngesterConfig) (*Ingester, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("ingester: document source is required")
	case cfg.Extractor == nil:
		return nil, errors.New("ingester: extractor is required")
	case cfg.Chunker == nil:
		return nil, errors.New("ingester: chunker is required")
	case cfg.Embedder == nil:
		return nil, errors.New("ingester: embedder is required")
	case cfg.Store == nil:
		return nil, errors.New("ingester: index store is required")
	case cfg.LedgerPath == "":
		return nil, errors.New("ingester: ledger path is required")
	}

	if cfg.Runs == nil {
		cfg.Runs = nopRecorder{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ingester{
		source:     cfg.Source,
		extractor:  cfg.Extractor,
		chunker:    cfg.Chunker,
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		ledgerPath: cfg.LedgerPath,
		runs:       cfg.Runs,
		workers:    cfg.Workers,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
	}, nil
}

// Ingest runs one incremental ingestion. Per-file extraction failures are
// reported in the result; any other failure aborts with the ledger untouched.
func (in *Ingester) Ingest(ctx context.Context) (IngestResult, error) {
	started := time.Now()
	result := IngestResult{RunID: uuid.NewString()}
	log := in.logger.With("run", result.RunID)

	lock, err := AcquireIndexLock(in.store.Path())
	if err != nil {
		return result, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("release index lock", "error", err)
		}
	}()

	err = in.run(ctx, log, &result)
	in.record(log, started, result, err)
	return result, err
}

func (in *Ingester) run(ctx context.Context, log *slog.Logger, result *IngestResult) error {
	ledger, err := OpenLedger(in.ledgerPath)
	if err != nil {
		return err
	}

	listing, err := in.source.List(ctx)
	if err != nil {
		return fmt.Errorf("list corpus: %w", err)
	}

	result.New = ledger.Missing(listing)
	if len(result.New) == 0 {
		result.NoOp = true
		if in.store.Exists() {
			log.Info("index is up to date", "ledger", ledger.Len())
		} else {
			log.Info("no documents to ingest", "corpus", in.source.Root())
		}
		return nil
	}

	log.Info("ingesting new documents", "count", len(result.New))

	docs, err := in.extractAll(ctx, log, result.New)
	if err != nil {
		return err
	}

	var chunks []Chunk
	var toCommit []string
	for _, d := range docs {
		if d.err != nil {
			result.Failed = append(result.Failed, FileFailure{Name: d.name, Error: d.err.Error()})
			continue
		}
		chunks = append(chunks, d.chunks...)
		toCommit = append(toCommit, d.name)
	}
	result.Chunks = len(chunks)

	if len(toCommit) == 0 {
		log.Warn("no document could be extracted", "failed", len(result.Failed))
		return nil
	}

	idx, err := in.openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	entries, err := in.embed(ctx, chunks)
	if err != nil {
		return err
	}

	if err := idx.Append(ctx, entries); err != nil {
		return fmt.Errorf("append to index: %w", err)
	}

	if err := in.store.Save(ctx, idx); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	if err := ledger.Append(toCommit...); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}

	result.Committed = toCommit
	result.IndexEntries = idx.Len()
	log.Info("ingestion complete",
		"committed", len(toCommit),
		"failed", len(result.Failed),
		"chunks", len(chunks),
		"entries", idx.Len(),
	)
	return nil
}

// openIndex loads the existing index or creates an empty one. A corrupt or
// incompatible index is an error and is never replaced here.
func (in *Ingester) openIndex(ctx context.Context) (*VectorIndex, error) {
	model, dim := in.embedder.ModelName(), in.embedder.Dimension()

	if !in.store.Exists() {
		idx, err := in.store.Create(model, dim)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		return idx, nil
	}

	idx, err := in.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if err := idx.CheckModel(model, dim); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func (in *Ingester) embed(ctx context.Context, chunks []Chunk) ([]Entry, error) {
	entries := make([]Entry, 0, len(chunks))

	for start := 0; start < len(chunks); start += in.batchSize {
		end := min(start+in.batchSize, len(chunks))

		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}

		vecs, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingUnavailable, len(vecs), len(texts))
		}

		for i, v := range vecs {
			entries = append(entries, Entry{Chunk: chunks[start+i], Vector: v})
		}
	}

	return entries, nil
}

type extracted struct {
	name   string
	chunks []Chunk
	err    error
}

// extractAll reads, extracts and chunks files on a bounded pool. Results keep
// the order of names. Only context cancellation is returned as an error.
func (in *Ingester) extractAll(ctx context.Context, log *slog.Logger, names []string) ([]extracted, error) {
	results := make([]extracted, len(names))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range min(in.workers, len(names)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = in.extractOne(ctx, log, names[i])
			}
		}()
	}

feed:
	for i := range names {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (in *Ingester) extractOne(ctx context.Context, log *slog.Logger, name string) extracted {
	// the ledger is line oriented
	if strings.ContainsAny(name, "\r\n") {
		log.Warn("skipping document with a line break in its name", "file", name)
		return extracted{name: name, err: fmt.Errorf("%w: %q: %w", ErrExtraction, name, ErrInvalidFilename)}
	}
	if fc, ok := in.extractor.(formatChecker); ok && !fc.Supports(name) {
		log.Warn("skipping document", "file", name, "error", ErrUnsupportedFormat)
		return extracted{name: name, err: fmt.Errorf("%w: %s: %w", ErrExtraction, name, ErrUnsupportedFormat)}
	}

	data, err := in.source.Read(ctx, name)
	if err != nil {
		log.Warn("skipping unreadable document", "file", name, "error", err)
		return extracted{name: name, err: fmt.Errorf("%w: %w", ErrExtraction, err)}
	}

	segments, err := in.extractor.Extract(ctx, name, data)
	if err != nil {
		log.Warn("skipping document", "file", name, "error", err)
		return extracted{name: name, err: err}
	}

	chunks := in.chunker.ChunkDocument(name, segments)
	log.Debug("extracted document", "file", name, "segments", len(segments), "chunks", len(chunks))
	return extracted{name: name, chunks: chunks}
}

func (in *Ingester) record(log *slog.Logger, started time.Time, result IngestResult, runErr error) {
	rec := RunRecord{
		ID:           result.RunID,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Status:       RunStatusOK,
		NewFiles:     len(result.New),
		Committed:    len(result.Committed),
		Chunks:       result.Chunks,
		IndexEntries: result.IndexEntries,
		Failures:     result.Failed,
	}
	switch {
	case runErr != nil:
		rec.Status = RunStatusFailed
		rec.Error = runErr.Error()
	case result.NoOp:
		rec.Status = RunStatusNoop
	}

	// a cancelled run still gets its history row
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := in.runs.Record(ctx, rec); err != nil {
		log.Warn("record ingestion run", "error", err)
	}
}
