package v1

import "github.com/4thel00z/docqa/internal"

// Answer is the reply to a question. Citation is the base name of the
// document the answer was drawn from, empty when none applies.
type Answer struct {
	Text     string `json:"text"`
	Citation string `json:"citation,omitempty"`
}

// Format renders the answer followed by its citation line.
func (a Answer) Format(citationPrefix string) string {
	return internal.Answer(a).Format(citationPrefix)
}

// FileFailure names a document that was skipped during ingestion.
type FileFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// IngestSummary describes one ingestion run.
type IngestSummary struct {
	RunID        string        `json:"run_id"`
	NoOp         bool          `json:"noop"`
	New          int           `json:"new"`
	Committed    []string      `json:"committed"`
	Failed       []FileFailure `json:"failed"`
	Chunks       int           `json:"chunks"`
	IndexEntries int           `json:"index_entries"`
}

// Embedder turns text into vectors. Supply one with WithEmbedder to bypass
// the configured embedding backend.
type Embedder = internal.Embedder

// Generator produces the answer text from the grounded prompt.
type Generator = internal.Generator
