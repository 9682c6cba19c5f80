// Package rag is the Retrieval Engine and its supporting caches: the
// Chunker, Embedding Cache, Response Cache, hybrid search, and
// Documentation Ingest (spec §4.7-§4.11).
package rag

import (
	"fmt"
)

// Chunk is one overlapping window of a package's documentation text.
type Chunk struct {
	PackageName string
	ChunkIndex  int
	Text        string
	Embedding   []float64 // nil if no embedding was obtained
}

// ChunkText splits text into overlapping windows of chunkSize code units
// with overlap code units shared between consecutive windows, adapted
// from the fixed-window chunker's loop shape but generalized to overlap.
// Produces ⌈(L−overlap)/(chunkSize−overlap)⌉ chunks for length L > overlap,
// and a single chunk for 1 ≤ L ≤ overlap; the final chunk may be shorter.
// Empty input produces zero chunks.
func ChunkText(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("rag: chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("rag: overlap must be in [0, chunkSize)")
	}

	units := []rune(text)
	if len(units) == 0 {
		return nil, nil
	}

	stride := chunkSize - overlap
	var chunks []string
	for start := 0; start < len(units); start += stride {
		end := start + chunkSize
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, string(units[start:end]))
		if end == len(units) {
			break
		}
	}
	return chunks, nil
}
