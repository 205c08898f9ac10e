package v1

import "log/slog"

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	corpus     string
	logger     *slog.Logger
	embedder   Embedder
	generator  Generator
}

// WithConfigPath loads docqa.yaml from path instead of searching for it.
func WithConfigPath(path string) Option {
	return func(c *clientConfig) {
		c.configPath = path
	}
}

// WithCorpus overrides the configured document folder.
func WithCorpus(dir string) Option {
	return func(c *clientConfig) {
		c.corpus = dir
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithEmbedder uses e for both ingestion and queries.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

func WithGenerator(g Generator) Option {
	return func(c *clientConfig) {
		c.generator = g
	}
}
