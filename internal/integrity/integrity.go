// Package integrity is the Integrity Verifier (spec §4.6): it checks a
// downloaded tarball's digest against the upstream-declared integrity
// string, emits exactly one Security event per attempt, and records the
// outcome as a Package record.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lanregistry/registryproxy/internal/audit"
	"github.com/lanregistry/registryproxy/internal/hashengine"
	"github.com/lanregistry/registryproxy/internal/metrics"
	"github.com/lanregistry/registryproxy/internal/npmdoc"
	"github.com/lanregistry/registryproxy/internal/store"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

// Result is the outcome of one verification attempt.
type Result struct {
	Verified  bool
	Threat    bool
	Digest    string
	ElapsedMs int64
	Err       error
}

// Verifier ties the Upstream Client, Hash Engine, Audit Store, and
// persistence layer together. It never panics out: every code path
// returns a Result and writes exactly one Security event.
type Verifier struct {
	upstreamBaseURL string
	upstream        *upstream.Client
	audit           *audit.Store
	store           *store.Store
}

// New builds an Integrity Verifier.
func New(upstreamBaseURL string, u *upstream.Client, a *audit.Store, s *store.Store) *Verifier {
	return &Verifier{upstreamBaseURL: upstreamBaseURL, upstream: u, audit: a, store: s}
}

// Verify runs the 6-step sequence from spec §4.6 against the file at path.
func (v *Verifier) Verify(ctx context.Context, name, version, path string) Result {
	start := time.Now()

	expected, err := v.expectedIntegrity(ctx, name, version)
	if err != nil {
		return v.fail(name, version, fmt.Errorf("fetching upstream integrity: %w", err))
	}
	if expected == "" {
		return v.fail(name, version, fmt.Errorf("no published integrity for %s@%s", name, version))
	}

	algo := hashengine.ParseAlgo(expected)
	digest, err := hashengine.Digest(path, algo)
	if err != nil {
		return v.fail(name, version, fmt.Errorf("computing digest: %w", err))
	}

	if hashengine.Canonicalize(digest) == hashengine.Canonicalize(expected) {
		return v.succeed(name, version, start, digest, path)
	}
	return v.threat(name, version, digest, expected, path)
}

func (v *Verifier) expectedIntegrity(ctx context.Context, name, version string) (string, error) {
	body, status, err := v.upstream.GetJSON(ctx, v.upstreamBaseURL+"/"+name, 10*time.Second)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("upstream metadata status %d", status)
	}
	doc, err := npmdoc.Decode(body)
	if err != nil {
		return "", err
	}
	integrity, _ := npmdoc.Integrity(doc, version)
	return integrity, nil
}

func (v *Verifier) succeed(name, version string, start time.Time, digest, path string) Result {
	elapsed := time.Since(start).Milliseconds()
	v.audit.Record(audit.Event{
		PackageName:    name,
		Version:        version,
		Kind:           audit.KindSuccess,
		ObservedDigest: digest,
	})
	v.saveRecord(name, version, digest, true, hashengine.ParseAlgo(digest), path)
	metrics.VerificationResult.WithLabelValues(string(audit.KindSuccess)).Inc()
	return Result{Verified: true, Digest: digest, ElapsedMs: elapsed}
}

func (v *Verifier) threat(name, version, observed, expected, path string) Result {
	os.Remove(path)
	v.audit.Record(audit.Event{
		PackageName:    name,
		Version:        version,
		Kind:           audit.KindThreatDetected,
		ObservedDigest: observed,
		ExpectedDigest: expected,
	})
	v.saveRecord(name, version, observed, false, hashengine.ParseAlgo(expected), "")
	metrics.VerificationResult.WithLabelValues(string(audit.KindThreatDetected)).Inc()
	return Result{Verified: false, Threat: true}
}

func (v *Verifier) fail(name, version string, cause error) Result {
	v.audit.Record(audit.Event{
		PackageName: name,
		Version:     version,
		Kind:        audit.KindFailure,
		Details:     cause.Error(),
	})
	metrics.VerificationResult.WithLabelValues(string(audit.KindFailure)).Inc()
	return Result{Verified: false, Err: cause}
}

// packageRecord is the Package record from the data model: created when a
// verification succeeds or detects a threat. A failure-kind attempt (no
// upstream integrity, fetch or hashing error) writes no record.
type packageRecord struct {
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	IntegrityString string    `json:"integrityString"`
	CachedPath      string    `json:"cachedPath"`
	Verified        bool      `json:"verified"`
	VerificationAt  time.Time `json:"verificationAt"`
	Algorithm       string    `json:"algorithm"`
}

func (v *Verifier) saveRecord(name, version, integrityString string, verified bool, algo, cachedPath string) {
	rec := packageRecord{
		Name:            name,
		Version:         version,
		IntegrityString: integrityString,
		CachedPath:      cachedPath,
		Verified:        verified,
		VerificationAt:  time.Now(),
		Algorithm:       algo,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	v.store.Put(store.BucketPackages, name+"/"+version, data)
}
