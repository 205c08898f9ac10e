package internal

import "context"

// Embedder maps text to vectors of a fixed dimension. Two embedders are
// only comparable when ModelName and Dimension agree.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Device() string
	Close() error
}

// Generator produces text from a prompt. Implementations sample at
// temperature 0 with a bounded output length.
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
}
