// Package blobstore abstracts the Package Cache's on-disk layout (spec
// §6: "a single cache directory contains {filename}.tgz tarball files and
// {package}.json rewritten metadata documents") behind a storage
// interface, generalizing the teacher's internal/cache.Store so the same
// registrycache logic runs unmodified against either a local filesystem
// or an S3-compatible bucket.
package blobstore

import (
	"context"
	"io"
)

// Store persists and retrieves opaque blobs by key. Keys are filesystem-
// safe relative paths (a tarball filename, or "meta/<package>.json").
type Store interface {
	// Put writes the full contents of r under key, replacing any existing
	// value. Implementations must make this durable before returning.
	Put(ctx context.Context, key string, r io.Reader) error
	// Open returns a reader for key's contents. Returns an error
	// satisfying os.IsNotExist (or an equivalent not-found condition) on
	// a miss.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat reports key's size and whether it exists.
	Stat(ctx context.Context, key string) (size int64, ok bool, err error)
}
