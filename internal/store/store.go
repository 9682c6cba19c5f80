// Package store is the persistence layer: an embedded bbolt database
// holding the five collections from spec §3 (package records, chunks,
// response-cache entries, embedding-cache entries, security events), each
// in its own bucket, with composite (packageName, chunkIndex) keys whose
// byte order matches chunk order. Reads here are not TTL-aware: cache
// expiry is checked by the callers in internal/rag.
//
// The interface mirrors the Put/Get/Delete contract exercised by
// storj-storj's embedded-KV-store test suite (private/kvstore/testsuite),
// extended with ordered whole-bucket iteration, an atomic prefix replace,
// and per-collection counters since spec §6 calls for aggregate stats.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names — one per spec §3 collection. Package metadata documents
// live in the blobstore, not here (see registrycache.metadataKey), so there
// is no metadata bucket.
const (
	BucketPackages       = "packages"
	BucketChunks         = "chunks"
	BucketResponses      = "responses"
	BucketEmbeddings     = "embeddings"
	BucketSecurityEvents = "security_events"
)

var allBuckets = []string{
	BucketPackages,
	BucketChunks,
	BucketResponses,
	BucketEmbeddings,
	BucketSecurityEvents,
}

// Store wraps a bbolt database, providing the collection operations the
// rest of this module needs.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures every
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key in bucket.
func (s *Store) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

// Get reads the value stored under key in bucket. Returns (nil, false) on miss.
func (s *Store) Get(bucket, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Delete removes key from bucket. Deleting a missing key is a no-op.
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// ReplacePrefix atomically deletes every key under prefix in bucket, then
// writes entries, inside a single bolt transaction. Realizes the "replaced
// atomically as a set" requirement for Chunks (spec §3).
func (s *Store) ReplacePrefix(bucket, prefix string, entries map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		c := b.Cursor()
		p := []byte(prefix)
		var keys [][]byte
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		for k, v := range entries {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of keys in bucket.
func (s *Store) Count(bucket string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// ForEach invokes fn for every key/value pair in bucket, in ascending key
// order. Stops early if fn returns false.
func (s *Store) ForEach(bucket string, fn func(key string, value []byte) bool) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			if !fn(string(k), v) {
				return errStopIteration
			}
			return nil
		})
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

var errStopIteration = fmt.Errorf("store: stop iteration")

// NextSequence returns a monotonically increasing integer for bucket,
// used to key the append-only security_events collection in insertion
// (== wall-clock, since writes are serialized by the audit store's mutex)
// order.
func (s *Store) NextSequence(bucket string) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		n, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = n
		return nil
	})
	return seq, err
}

// SequenceKey encodes a sequence number as a fixed-width, lexicographically
// sortable big-endian key.
func SequenceKey(seq uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return string(buf)
}

// ChunkKey builds the composite (packageName, chunkIndex) key described in
// SPEC_FULL.md §4: a null-separated package name followed by a zero-padded
// index, so lexicographic key order matches chunk order.
func ChunkKey(packageName string, chunkIndex int) string {
	return ChunkPrefix(packageName) + fmt.Sprintf("%08d", chunkIndex)
}

// ChunkPrefix returns the prefix shared by every chunk key of packageName.
func ChunkPrefix(packageName string) string {
	return packageName + "\x00"
}
