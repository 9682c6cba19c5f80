package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lanregistry/registryproxy/internal/store"
)

// Embedder converts text into a dense vector. Injected so this package
// never imports the AI backend package directly — only what it returns.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Engine is the Retrieval Engine (spec §4.10): hybrid vector + lexical
// search over every persisted chunk, across all packages.
type Engine struct {
	db       *store.Store
	embedder Embedder
	cache    *EmbeddingCache
	minSim   float64
	vecW     float64
	lexW     float64
}

// NewEngine builds a Retrieval Engine.
func NewEngine(db *store.Store, embedder Embedder, cache *EmbeddingCache, minSimilarity, vectorWeight, lexicalWeight float64) *Engine {
	return &Engine{db: db, embedder: embedder, cache: cache, minSim: minSimilarity, vecW: vectorWeight, lexW: lexicalWeight}
}

// Result is one ranked chunk from a Search call.
type Result struct {
	Chunk        Chunk
	VectorScore  float64
	LexicalScore float64
	Combined     float64
}

// Search runs the hybrid search process from spec §4.10 over every chunk
// in the store (documentation ingest is LAN-wide, not scoped per query).
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	chunks, err := e.loadAllChunks()
	if err != nil {
		return nil, err
	}

	queryVec, haveEmbedding := e.queryEmbedding(ctx, query)

	byIdentity := make(map[string]*Result)

	if haveEmbedding {
		type scored struct {
			chunk Chunk
			score float64
		}
		var semantic []scored
		for _, c := range chunks {
			if c.Embedding == nil {
				continue
			}
			sim := cosineSimilarity(queryVec, c.Embedding)
			if sim >= e.minSim {
				semantic = append(semantic, scored{c, sim})
			}
		}
		sort.SliceStable(semantic, func(i, j int) bool { return semantic[i].score > semantic[j].score })
		if len(semantic) > 2*topK {
			semantic = semantic[:2*topK]
		}
		for _, s := range semantic {
			key := identity(s.chunk)
			byIdentity[key] = &Result{Chunk: s.chunk, VectorScore: s.score}
		}
	}

	tokens := queryTokens(query)
	if len(tokens) > 0 {
		var lexical []Chunk
		for _, c := range chunks {
			if matchesAny(c.Text, tokens) {
				lexical = append(lexical, c)
			}
		}
		if len(lexical) > 2*topK {
			lexical = lexical[:2*topK]
		}
		for _, c := range lexical {
			key := identity(c)
			if r, ok := byIdentity[key]; ok {
				r.LexicalScore = 1
			} else {
				byIdentity[key] = &Result{Chunk: c, LexicalScore: 1}
			}
		}
	}

	results := make([]Result, 0, len(byIdentity))
	for _, r := range byIdentity {
		r.Combined = e.vecW*r.VectorScore + e.lexW*r.LexicalScore
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Combined != results[j].Combined {
			return results[i].Combined > results[j].Combined
		}
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// queryEmbedding obtains the query's embedding via the Embedding Cache,
// falling back to the injected Embedder on a miss. A nil embedder or a
// backend failure is treated as degraded mode (spec §4.10), not an error.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float64, bool) {
	if v, ok := e.cache.Lookup(query); ok {
		return v, true
	}
	if e.embedder == nil {
		return nil, false
	}
	v, err := e.embedder.Embed(ctx, query)
	if err != nil || v == nil {
		return nil, false
	}
	e.cache.Store(query, v)
	return v, true
}

func (e *Engine) loadAllChunks() ([]Chunk, error) {
	var chunks []Chunk
	err := e.db.ForEach(store.BucketChunks, func(_ string, value []byte) bool {
		var c Chunk
		if json.Unmarshal(value, &c) == nil {
			chunks = append(chunks, c)
		}
		return true
	})
	return chunks, err
}

func identity(c Chunk) string {
	return fmt.Sprintf("%s\x00%d", c.PackageName, c.ChunkIndex)
}

// queryTokens extracts tokens of length > 3 from query, per spec §4.10.
func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func matchesAny(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// cosineSimilarity is Σ aᵢbᵢ / (√Σ aᵢ² · √Σ bᵢ²). A zero denominator or
// mismatched dimensions yield 0, never an error (spec §4.10).
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
