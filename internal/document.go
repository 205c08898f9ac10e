package internal

import (
	"errors"
	"path/filepath"
)

var (
	ErrExtraction           = errors.New("extraction failed")
	ErrUnsupportedFormat    = errors.New("unsupported document format")
	ErrInvalidFilename      = errors.New("filename contains a line break")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrIndexNotFound        = errors.New("index not found")
	ErrIndexCorrupt         = errors.New("index corrupt")
	ErrModelMismatch        = errors.New("embedding model mismatch")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrGeneratorUnavailable = errors.New("generative model unavailable")
	ErrIngestionLocked      = errors.New("another ingestion run holds the index")
	ErrInvalidConfig        = errors.New("invalid config")
)

// Segment is one piece of extracted text. Page is 1-based when the source
// format has pages and 0 otherwise.
type Segment struct {
	Text string
	Page int
}

type Chunk struct {
	Source string `json:"source"`
	Seq    int    `json:"seq"`
	Page   int    `json:"page,omitempty"`
	Text   string `json:"text"`
}

// SourceName returns the base name of the chunk's source, directory stripped.
func (c Chunk) SourceName() string {
	if c.Source == "" {
		return ""
	}
	return filepath.Base(c.Source)
}

// Answer is what callers of the query path receive. An empty Citation
// means no source could be attached.
type Answer struct {
	Text     string `json:"text"`
	Citation string `json:"citation,omitempty"`
}

func (a Answer) HasCitation() bool {
	return a.Citation != ""
}

// Format renders the answer the way chat front ends display it.
func (a Answer) Format(citationPrefix string) string {
	if !a.HasCitation() {
		return a.Text
	}
	return a.Text + "\n\n" + citationPrefix + " " + a.Citation
}
