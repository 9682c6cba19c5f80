// Package npmdoc reads and rewrites the small slice of an upstream
// package metadata document's shape that this system cares about: the
// per-version dist.tarball URL and dist.integrity string. Everything else
// in the document is preserved untouched by decoding into a generic map.
package npmdoc

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Decode parses a metadata document into a generic map, preserving every
// field the upstream registry published.
func Decode(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("npmdoc: decoding metadata: %w", err)
	}
	return doc, nil
}

// RewriteTarballURLs rewrites every versions[v].dist.tarball URL in doc to
// point at scheme://host, preserving the path. Reconstructing the URL
// from its path component on every call (rather than string-substituting
// a previous host) is what makes the rewrite idempotent: rewriting an
// already-rewritten document against the same host is a no-op.
func RewriteTarballURLs(doc map[string]any, scheme, host string) error {
	versions, ok := doc["versions"].(map[string]any)
	if !ok {
		return nil
	}
	for _, v := range versions {
		version, ok := v.(map[string]any)
		if !ok {
			continue
		}
		dist, ok := version["dist"].(map[string]any)
		if !ok {
			continue
		}
		tarball, ok := dist["tarball"].(string)
		if !ok {
			continue
		}
		u, err := url.Parse(tarball)
		if err != nil {
			return fmt.Errorf("npmdoc: parsing tarball url %q: %w", tarball, err)
		}
		u.Scheme = scheme
		u.Host = host
		dist["tarball"] = u.String()
	}
	return nil
}

// Integrity returns versions[version].dist.integrity from doc.
func Integrity(doc map[string]any, version string) (string, bool) {
	versions, ok := doc["versions"].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := versions[version].(map[string]any)
	if !ok {
		return "", false
	}
	dist, ok := v["dist"].(map[string]any)
	if !ok {
		return "", false
	}
	integrity, ok := dist["integrity"].(string)
	return integrity, ok
}

// Description returns the document's top-level "description" field, used
// by Documentation Ingest as a fallback when no README is published.
func Description(doc map[string]any) (string, bool) {
	d, ok := doc["description"].(string)
	return d, ok
}

// Readme returns the document's top-level "readme" field.
func Readme(doc map[string]any) (string, bool) {
	r, ok := doc["readme"].(string)
	return r, ok
}

// LatestVersion returns the document's "dist-tags".latest field, used to
// resolve an unspecified version for precaching.
func LatestVersion(doc map[string]any) (string, bool) {
	tags, ok := doc["dist-tags"].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := tags["latest"].(string)
	return v, ok
}

// HasVersion reports whether doc publishes the given version.
func HasVersion(doc map[string]any, version string) bool {
	versions, ok := doc["versions"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = versions[version].(map[string]any)
	return ok
}
