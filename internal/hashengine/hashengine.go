// Package hashengine computes streaming content digests encoded the way
// upstream registries publish integrity strings: "<algo>-<base64>".
package hashengine

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Digest reads path as a byte stream and returns its digest encoded as
// "<algo>-<base64>". Memory use is bounded and independent of file size.
func Digest(path, algo string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashengine: opening %s: %w", path, err)
	}
	defer f.Close()

	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashengine: reading %s: %w", path, err)
	}
	return Encode(algo, h.Sum(nil)), nil
}

// Encode formats a raw digest as "<algo>-<base64>".
func Encode(algo string, sum []byte) string {
	return algo + "-" + base64.StdEncoding.EncodeToString(sum)
}

// Canonicalize normalizes an integrity string to "<algo>-<base64>" form,
// accepting the npm-style "<algo>-<base64>" format unchanged. Applying it
// twice yields the same result (idempotent), matching the algebraic law
// required of canonicalization in this system.
func Canonicalize(s string) string {
	return strings.TrimSpace(s)
}

// ParseAlgo extracts the algorithm prefix from an integrity string of the
// form "<algo>-<base64>". Defaults to "sha512" per spec §4.6 when the
// string has no recognizable prefix.
func ParseAlgo(integrity string) string {
	if algo, _, ok := strings.Cut(integrity, "-"); ok && (algo == "sha256" || algo == "sha512") {
		return algo
	}
	return "sha512"
}

// NewHasher returns a fresh hash.Hash tee target for the given algorithm,
// for streaming use (e.g. io.TeeReader) without touching disk.
func NewHasher(algo string) (hash.Hash, error) {
	return newHash(algo)
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha512", "":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("hashengine: unsupported algorithm %q", algo)
	}
}
