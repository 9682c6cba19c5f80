package rag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lanregistry/registryproxy/internal/metrics"
	"github.com/lanregistry/registryproxy/internal/store"
)

// ResponseCache is the Response Cache (spec §4.9): analogous to the
// Embedding Cache but the cached value is a free-form answer string, with
// a longer TTL since answers are more expensive to regenerate than
// embeddings and questions repeat across a LAN of developers.
type ResponseCache struct {
	db  *store.Store
	ttl time.Duration
}

// NewResponseCache builds a Response Cache with the given entry TTL
// (spec default: 24 hours).
func NewResponseCache(db *store.Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{db: db, ttl: ttl}
}

type responseEntry struct {
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lookup returns the cached answer for question, or ok=false on a miss or
// expired entry.
func (c *ResponseCache) Lookup(question string) (answer string, ok bool) {
	data, found, err := c.db.Get(store.BucketResponses, TextDigest(question))
	if err != nil || !found {
		metrics.ResponseCacheResult.WithLabelValues("miss").Inc()
		return "", false
	}
	var entry responseEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.ResponseCacheResult.WithLabelValues("miss").Inc()
		return "", false
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		metrics.ResponseCacheResult.WithLabelValues("miss").Inc()
		return "", false
	}
	metrics.ResponseCacheResult.WithLabelValues("hit").Inc()
	return entry.Answer, true
}

// Store upserts question's answer with a fresh expiry.
func (c *ResponseCache) Store(question, answer string) error {
	entry := responseEntry{Answer: answer, CreatedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rag: encoding response cache entry: %w", err)
	}
	return c.db.Put(store.BucketResponses, TextDigest(question), data)
}
