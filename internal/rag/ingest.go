package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lanregistry/registryproxy/internal/npmdoc"
	"github.com/lanregistry/registryproxy/internal/store"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
	maxIngestUnits      = 5000
)

// Ingester is the Documentation Ingest pipeline (spec §4.11).
type Ingester struct {
	upstreamBaseURL string
	upstream        *upstream.Client
	db              *store.Store
	embedder        Embedder
	chunkSize       int
	chunkOverlap    int
}

// NewIngester builds a Documentation Ingest pipeline.
func NewIngester(upstreamBaseURL string, u *upstream.Client, db *store.Store, embedder Embedder, chunkSize, chunkOverlap int) *Ingester {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap <= 0 {
		chunkOverlap = defaultChunkOverlap
	}
	return &Ingester{
		upstreamBaseURL: upstreamBaseURL,
		upstream:        u,
		db:              db,
		embedder:        embedder,
		chunkSize:       chunkSize,
		chunkOverlap:    chunkOverlap,
	}
}

// IngestResult summarizes one Ingest call for the stats-reporting routes.
type IngestResult struct {
	Chunks  int // number of chunks produced
	Updated int // chunks that obtained an embedding
	Chars   int // code units of source text ingested, post-truncation
}

// Ingest fetches name's documentation, chunks it, embeds each chunk
// best-effort, and atomically replaces the package's prior chunk set.
// Idempotent from the caller's perspective: repeated calls fully replace
// the prior chunks rather than accumulating duplicates.
func (ing *Ingester) Ingest(ctx context.Context, name string) (IngestResult, error) {
	body, status, err := ing.upstream.GetJSON(ctx, ing.upstreamBaseURL+"/"+name, 10*time.Second)
	if err != nil {
		return IngestResult{}, fmt.Errorf("rag: fetching metadata for %s: %w", name, err)
	}
	if status != http.StatusOK {
		return IngestResult{}, fmt.Errorf("rag: metadata fetch for %s returned status %d", name, status)
	}
	doc, err := npmdoc.Decode(body)
	if err != nil {
		return IngestResult{}, fmt.Errorf("rag: decoding metadata for %s: %w", name, err)
	}

	text, ok := npmdoc.Readme(doc)
	if !ok || text == "" {
		text, _ = npmdoc.Description(doc)
	}
	if text == "" {
		return IngestResult{}, nil
	}

	units := []rune(text)
	if len(units) > maxIngestUnits {
		text = string(units[:maxIngestUnits])
		units = units[:maxIngestUnits]
	}

	texts, err := ChunkText(text, ing.chunkSize, ing.chunkOverlap)
	if err != nil {
		return IngestResult{}, fmt.Errorf("rag: chunking %s: %w", name, err)
	}

	entries := make(map[string][]byte, len(texts))
	updated := 0
	for i, t := range texts {
		chunk := Chunk{PackageName: name, ChunkIndex: i, Text: t}
		if embedding, err := ing.embed(ctx, t); err == nil {
			chunk.Embedding = embedding
			updated++
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return IngestResult{}, fmt.Errorf("rag: encoding chunk %d of %s: %w", i, name, err)
		}
		entries[store.ChunkKey(name, i)] = data
	}

	if err := ing.db.ReplacePrefix(store.BucketChunks, store.ChunkPrefix(name), entries); err != nil {
		return IngestResult{}, fmt.Errorf("rag: persisting chunks for %s: %w", name, err)
	}
	return IngestResult{Chunks: len(entries), Updated: updated, Chars: len(units)}, nil
}

// embed obtains a chunk's embedding; absence on backend failure is
// acceptable per spec §4.11 — the chunk stays lexically searchable.
func (ing *Ingester) embed(ctx context.Context, text string) ([]float64, error) {
	if ing.embedder == nil {
		return nil, fmt.Errorf("rag: no embedder configured")
	}
	return ing.embedder.Embed(ctx, text)
}
