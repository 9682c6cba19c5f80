package rag

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/lanregistry/registryproxy/internal/metrics"
	"github.com/lanregistry/registryproxy/internal/store"
)

// EmbeddingCache is the Embedding Cache (spec §4.8): a content-addressed,
// TTL-bounded store of previously computed embedding vectors. It never
// re-derives content — it only stores bytes it was given.
type EmbeddingCache struct {
	db  *store.Store
	ttl time.Duration
}

// NewEmbeddingCache builds an Embedding Cache with the given entry TTL
// (spec default: 1 hour).
func NewEmbeddingCache(db *store.Store, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{db: db, ttl: ttl}
}

type embeddingEntry struct {
	Embedding []float64 `json:"embedding"`
	CreatedAt time.Time `json:"createdAt"`
}

// TextDigest returns the content-address key for text: a fast
// non-cryptographic hash, since embedding cache keys need only collision
// resistance within one process's lifetime, not cryptographic security.
func TextDigest(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// Lookup returns the cached embedding for text, or ok=false on a miss or
// expired entry.
func (c *EmbeddingCache) Lookup(text string) (embedding []float64, ok bool) {
	data, found, err := c.db.Get(store.BucketEmbeddings, TextDigest(text))
	if err != nil || !found {
		metrics.EmbeddingCacheResult.WithLabelValues("miss").Inc()
		return nil, false
	}
	var entry embeddingEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.EmbeddingCacheResult.WithLabelValues("miss").Inc()
		return nil, false
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		metrics.EmbeddingCacheResult.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCacheResult.WithLabelValues("hit").Inc()
	return entry.Embedding, true
}

// Store upserts text's embedding with a fresh expiry.
func (c *EmbeddingCache) Store(text string, embedding []float64) error {
	entry := embeddingEntry{Embedding: embedding, CreatedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rag: encoding embedding cache entry: %w", err)
	}
	return c.db.Put(store.BucketEmbeddings, TextDigest(text), data)
}
