package v1

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/4thel00z/docqa/internal"
)

// Client answers questions from a document collection and keeps its index
// up to date.
type Client struct {
	svc *internal.Service
}

// New creates a new Client with the given options. Models are loaded on
// first use.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ws := internal.NewWorkspaceResolver().Resolve(cfg.configPath)
	conf, err := internal.LoadConfig(ws)
	if err != nil {
		return nil, err
	}
	if cfg.corpus != "" {
		abs, err := filepath.Abs(cfg.corpus)
		if err != nil {
			return nil, fmt.Errorf("resolve corpus: %w", err)
		}
		conf.CorpusPath = abs
	}

	var svcOpts []internal.ServiceOption
	if cfg.logger != nil {
		svcOpts = append(svcOpts, internal.WithLogger(cfg.logger))
	}
	if cfg.embedder != nil {
		svcOpts = append(svcOpts, internal.WithEmbedders(cfg.embedder, cfg.embedder))
	}
	if cfg.generator != nil {
		svcOpts = append(svcOpts, internal.WithGenerator(cfg.generator))
	}

	svc, err := internal.NewService(conf, svcOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// Ask answers question from the indexed documents. It never fails: when
// the answer cannot be produced the text carries the configured fallback.
func (c *Client) Ask(ctx context.Context, question string) Answer {
	return Answer(c.svc.Ask(ctx, question))
}

// Ingest indexes documents that were not ingested before.
func (c *Client) Ingest(ctx context.Context) (IngestSummary, error) {
	result, err := c.svc.Ingest(ctx)
	if err != nil {
		return IngestSummary{RunID: result.RunID}, fmt.Errorf("ingest: %w", err)
	}

	s := internal.SummarizeIngest(result)
	failed := make([]FileFailure, len(s.Failed))
	for i, f := range s.Failed {
		failed[i] = FileFailure(f)
	}
	return IngestSummary{
		RunID:        s.RunID,
		NoOp:         s.NoOp,
		New:          s.New,
		Committed:    s.Committed,
		Failed:       failed,
		Chunks:       s.Chunks,
		IndexEntries: s.IndexEntries,
	}, nil
}

// CitationPrefix is the configured label placed before citations.
func (c *Client) CitationPrefix() string {
	return c.svc.Config().Messages.CitationPrefix
}

// Close releases any resources held by the client.
func (c *Client) Close() error {
	return c.svc.Close()
}
