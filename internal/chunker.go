package internal

import "fmt"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// Chunker cuts text into fixed-size rune windows. Consecutive windows share
// exactly overlap runes; only the last window may be shorter than size.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the windows of text in source order.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	windows := make([]string, 0, len(runes)/step+1)

	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(runes) {
			windows = append(windows, string(runes[start:]))
			break
		}
		windows = append(windows, string(runes[start:end]))
	}

	return windows
}

// ChunkDocument splits every segment of a document. Sequence numbers run
// across segments so they stay unique per source.
func (c *Chunker) ChunkDocument(source string, segments []Segment) []Chunk {
	var chunks []Chunk
	seq := 0
	for _, seg := range segments {
		for _, w := range c.Split(seg.Text) {
			chunks = append(chunks, Chunk{
				Source: source,
				Seq:    seq,
				Page:   seg.Page,
				Text:   w,
			})
			seq++
		}
	}
	return chunks
}
