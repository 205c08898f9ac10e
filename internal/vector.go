package internal

import "math"

// Entry is one indexed chunk with its vector.
type Entry struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

type SearchResult struct {
	Chunk Chunk
	Score float32 // cosine similarity, higher is better
}

// normalize scales v to unit length in place. Zero vectors are returned
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}
