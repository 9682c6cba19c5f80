// Package registrycache is the Package Cache (spec §4.3) and Download
// Coordinator (spec §4.4): a tarball and metadata store in front of the
// upstream registry, with single-flight coordination so concurrent
// requests for the same tarball trigger at most one upstream fetch.
// Storage is delegated to a blobstore.Store, so the same coordination and
// verification logic runs unmodified against either the local filesystem
// or an S3-compatible bucket (spec §6 config: storageBackend).
package registrycache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lanregistry/registryproxy/internal/apierr"
	"github.com/lanregistry/registryproxy/internal/blobstore"
	"github.com/lanregistry/registryproxy/internal/integrity"
	"github.com/lanregistry/registryproxy/internal/metrics"
	"github.com/lanregistry/registryproxy/internal/npmdoc"
	"github.com/lanregistry/registryproxy/internal/stream"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

// Verifier is the Integrity Verifier dependency, injected so this package
// never has to know how verification or audit logging work — only that it
// gets a Result back.
type Verifier interface {
	Verify(ctx context.Context, name, version, path string) integrity.Result
}

// Cache is the Package Cache. One instance per server process.
type Cache struct {
	blobs           blobstore.Store
	stagingDir      string // local scratch space for tee + verify, any backend
	upstreamBaseURL string
	upstream        *upstream.Client
	verifier        Verifier
	coord           *coordinator
}

// New builds a Package Cache backed by blobs, staging downloads under
// stagingDir before they pass verification (the Hash Engine reads a local
// path, so even an S3-backed blobstore needs local scratch space for an
// in-flight download).
func New(blobs blobstore.Store, stagingDir, upstreamBaseURL string, u *upstream.Client, v Verifier) *Cache {
	return &Cache{
		blobs:           blobs,
		stagingDir:      stagingDir,
		upstreamBaseURL: strings.TrimRight(upstreamBaseURL, "/"),
		upstream:        u,
		verifier:        v,
		coord:           newCoordinator(),
	}
}

func metadataKey(name string) string {
	return "meta/" + strings.ReplaceAll(name, "/", "_") + ".json"
}

// ResolveMetadata implements spec §4.3's "Resolve metadata" operation.
func (c *Cache) ResolveMetadata(ctx context.Context, name, scheme, host string) ([]byte, error) {
	body, status, err := c.upstream.GetJSON(ctx, c.upstreamBaseURL+"/"+name, metadataFetchTimeout)
	if err == nil && status == http.StatusOK {
		doc, decErr := npmdoc.Decode(body)
		if decErr == nil {
			if rwErr := npmdoc.RewriteTarballURLs(doc, scheme, host); rwErr == nil {
				rewritten, encErr := json.Marshal(doc)
				if encErr == nil {
					if werr := c.blobs.Put(ctx, metadataKey(name), bytes.NewReader(rewritten)); werr != nil {
						return nil, apierr.New(apierr.KindPersistence, "registrycache.ResolveMetadata", werr)
					}
					return rewritten, nil
				}
			}
		}
	}

	// Upstream unreachable, non-200, or malformed — fall back to a
	// persisted copy, re-rewritten against the current request's host
	// (the server's own advertised address may have changed since the
	// document was last written).
	cached, readErr := c.readBlob(ctx, metadataKey(name))
	if readErr != nil {
		return nil, apierr.ErrUpstreamUnreachableNoCache
	}
	doc, decErr := npmdoc.Decode(cached)
	if decErr != nil {
		return nil, apierr.ErrUpstreamUnreachableNoCache
	}
	if err := npmdoc.RewriteTarballURLs(doc, scheme, host); err != nil {
		return nil, apierr.ErrUpstreamUnreachableNoCache
	}
	rewritten, err := json.Marshal(doc)
	if err != nil {
		return nil, apierr.ErrUpstreamUnreachableNoCache
	}
	_ = c.blobs.Put(ctx, metadataKey(name), bytes.NewReader(rewritten))
	return rewritten, nil
}

func (c *Cache) readBlob(ctx context.Context, key string) ([]byte, error) {
	r, err := c.blobs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ResolveTarball implements spec §4.3's "Resolve tarball" operation and
// the Download Coordinator's single-flight protocol (spec §4.4). w
// receives the tarball bytes; it may be nil for a precache call with no
// live client.
func (c *Cache) ResolveTarball(ctx context.Context, name, filename string, w io.Writer) error {
	for {
		if size, ok, err := c.blobs.Stat(ctx, filename); err == nil && ok {
			metrics.TarballCacheResult.WithLabelValues("hit").Inc()
			return c.streamBlob(ctx, filename, size, w)
		}

		fl, leader := c.coord.join(filename)
		if !leader {
			metrics.DownloadCoordinatorWaits.Inc()
			if err := c.coord.wait(ctx, fl); err != nil && ctx.Err() != nil {
				return err
			}
			// Loop: re-check the cache. If the prior attempt failed, this
			// iteration will itself race to become the new leader.
			continue
		}

		err := c.downloadAndVerify(ctx, name, filename, w)
		c.coord.finish(filename, fl, err)
		if err != nil {
			metrics.TarballCacheResult.WithLabelValues("error").Inc()
		} else {
			metrics.TarballCacheResult.WithLabelValues("miss").Inc()
		}
		return err
	}
}

func (c *Cache) streamBlob(ctx context.Context, key string, _ int64, w io.Writer) error {
	if w == nil {
		return nil
	}
	r, err := c.blobs.Open(ctx, key)
	if err != nil {
		return apierr.New(apierr.KindPersistence, "registrycache.streamBlob", err)
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

func (c *Cache) upstreamTarballURL(name, filename string) string {
	return c.upstreamBaseURL + "/" + name + "/-/" + filename
}

// downloadAndVerify runs spec §4.5's streaming tee followed by §4.6's
// verification sequence. It is only ever invoked while holding the
// Download Coordinator's leadership for filename. The tee target is
// always a local staging file — the Hash Engine verifies against a path —
// which is then handed to the blobstore only once verified.
func (c *Cache) downloadAndVerify(ctx context.Context, name, filename string, w io.Writer) error {
	_, version, ok := ParseFilename(filename)
	if !ok {
		return apierr.New(apierr.KindProtocol, "registrycache.downloadAndVerify", fmt.Errorf("unparseable tarball filename %q", filename))
	}

	resp, err := c.upstream.OpenStream(ctx, c.upstreamTarballURL(name, filename))
	if err != nil {
		return apierr.New(apierr.KindTransport, "registrycache.downloadAndVerify", err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(c.stagingDir, 0o755); err != nil {
		return apierr.New(apierr.KindPersistence, "registrycache.downloadAndVerify", err)
	}
	stagingPath := filepath.Join(c.stagingDir, filename+".part")
	if err := stream.ToClientAndFile(resp.Body, w, stagingPath); err != nil {
		return apierr.New(apierr.KindTransport, "registrycache.downloadAndVerify", err)
	}

	result := c.verifier.Verify(ctx, name, version, stagingPath)
	if result.Threat {
		// The verifier already removed the staging file and recorded the event.
		return apierr.New(apierr.KindIntegrity, "registrycache.downloadAndVerify", fmt.Errorf("integrity mismatch for %s", filename))
	}
	if result.Err != nil {
		os.Remove(stagingPath)
		return apierr.New(apierr.KindIntegrity, "registrycache.downloadAndVerify", result.Err)
	}
	defer os.Remove(stagingPath)

	staged, err := os.Open(stagingPath)
	if err != nil {
		return apierr.New(apierr.KindPersistence, "registrycache.downloadAndVerify", err)
	}
	defer staged.Close()
	if err := c.blobs.Put(ctx, filename, staged); err != nil {
		return apierr.New(apierr.KindPersistence, "registrycache.downloadAndVerify", err)
	}
	return nil
}

// metadataFetchTimeout matches the Upstream Client's own fixed metadata
// budget (spec §4.2: "metadata: 10s").
const metadataFetchTimeout = 10 * time.Second

// PrecacheResult is the outcome of a Precache call.
type PrecacheResult struct {
	Version string
	Size    int64
	Cached  bool // true if the tarball was already cached
}

// Precache implements POST /api/precache: resolve name's version (falling
// back to dist-tags.latest when unset), derive the conventional tarball
// filename, and ensure it is downloaded and verified. Returns
// apierr.ErrNotFound if the version is unpublished.
func (c *Cache) Precache(ctx context.Context, name, version string) (PrecacheResult, error) {
	body, status, err := c.upstream.GetJSON(ctx, c.upstreamBaseURL+"/"+name, metadataFetchTimeout)
	if err != nil {
		return PrecacheResult{}, apierr.New(apierr.KindTransport, "registrycache.Precache", err)
	}
	if status != http.StatusOK {
		return PrecacheResult{}, apierr.ErrNotFound
	}
	doc, err := npmdoc.Decode(body)
	if err != nil {
		return PrecacheResult{}, apierr.New(apierr.KindProtocol, "registrycache.Precache", err)
	}

	if version == "" {
		latest, ok := npmdoc.LatestVersion(doc)
		if !ok {
			return PrecacheResult{}, apierr.ErrNotFound
		}
		version = latest
	}
	if !npmdoc.HasVersion(doc, version) {
		return PrecacheResult{}, apierr.ErrNotFound
	}

	filename := tarballFilename(name, version)
	if size, ok, statErr := c.blobs.Stat(ctx, filename); statErr == nil && ok {
		return PrecacheResult{Version: version, Size: size, Cached: true}, nil
	}

	if err := c.ResolveTarball(ctx, name, filename, nil); err != nil {
		return PrecacheResult{}, err
	}
	size, ok, err := c.blobs.Stat(ctx, filename)
	if err != nil || !ok {
		return PrecacheResult{}, apierr.New(apierr.KindPersistence, "registrycache.Precache", fmt.Errorf("tarball missing immediately after download: %w", err))
	}
	return PrecacheResult{Version: version, Size: size}, nil
}

// tarballFilename builds the conventional "<unscoped-name>-<version>.tgz"
// filename a registry publishes under dist.tarball, stripping any scope
// ("@scope/name" -> "name") the way npm does.
func tarballFilename(name, version string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return base + "-" + version + ".tgz"
}
