// Command registryproxy is the LAN-local package registry proxy: it wires
// together the Package Cache, Retrieval Engine, Documentation Ingest
// pipeline, and Audit Store behind a single HTTP surface (spec §4.12),
// collapsing the teacher's two entrypoints (a plain OCI proxy and a
// self-signed-TLS variant) into one process configured entirely through
// internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lanregistry/registryproxy/internal/ai"
	"github.com/lanregistry/registryproxy/internal/audit"
	"github.com/lanregistry/registryproxy/internal/blobstore"
	"github.com/lanregistry/registryproxy/internal/config"
	"github.com/lanregistry/registryproxy/internal/httpapi"
	"github.com/lanregistry/registryproxy/internal/integrity"
	"github.com/lanregistry/registryproxy/internal/rag"
	"github.com/lanregistry/registryproxy/internal/registrycache"
	"github.com/lanregistry/registryproxy/internal/store"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

func main() {
	// Self-contained healthcheck for scratch containers (no curl/wget available).
	// Usage: registryproxy -healthcheck
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		resp, err := http.Get("http://127.0.0.1:8080/healthz")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "registryproxy:", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if cfg.UpstreamRegistry == "" {
		fmt.Fprintln(os.Stderr, "registryproxy: UPSTREAM_REGISTRY (or upstreamRegistry in config) must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printBanner(cfg)

	db, err := store.Open(cfg.PersistencePath)
	if err != nil {
		slog.Error("failed to open state store", "path", cfg.PersistencePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise blob store", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}

	u := upstream.New()
	auditStore := audit.New(db)
	verifier := integrity.New(cfg.UpstreamRegistry, u, auditStore, db)
	cache := registrycache.New(blobs, stagingDir(cfg), cfg.UpstreamRegistry, u, verifier)

	aiClient := ai.New(u, cfg.EmbeddingBackendURL, cfg.GenerationBackendURL, cfg.EmbeddingModel, cfg.GenerationModel, cfg.BackendTimeout)
	embedCache := rag.NewEmbeddingCache(db, cfg.EmbeddingTTL)
	responseCache := rag.NewResponseCache(db, cfg.ResponseTTL)
	engine := rag.NewEngine(db, aiClient, embedCache, cfg.MinSimilarity, cfg.VectorWeight, cfg.LexicalWeight)
	ingester := rag.NewIngester(cfg.UpstreamRegistry, u, db, aiClient, cfg.ChunkSize, cfg.ChunkOverlap)

	handler := httpapi.New(httpapi.Deps{
		Cache:         cache,
		Engine:        engine,
		Ingester:      ingester,
		ResponseCache: responseCache,
		AI:            aiClient,
		DB:            db,
		Audit:         auditStore,
		VectorEnabled: cfg.EmbeddingBackendURL != "",
	})

	// Wrap with h2c for cleartext HTTP/2 support alongside HTTP/1.1, matching
	// the teacher's rationale: npm/yarn clients and the doc-retrieval UI both
	// speak plain HTTP inside the LAN.
	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(handler, h2s),
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ListenAddr, "upstream", cfg.UpstreamRegistry, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		s3Store, err := blobstore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3ForcePathStyle)
		if err != nil {
			return nil, err
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s3Store, nil
	case "fs":
		return blobstore.NewFSStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}

// stagingDir is where in-flight downloads are teed and verified before
// being committed to the blob store (spec §4.5) — kept local even for an
// S3 backend, since the Hash Engine verifies against a filesystem path.
func stagingDir(cfg config.Config) string {
	if cfg.StorageBackend == "fs" {
		return cfg.FSRoot + "/.staging"
	}
	return os.TempDir() + "/registryproxy-staging"
}

// printBanner writes a colorized startup summary, matching the corpus's
// convention of announcing the active backend and listen address in color
// when stdout is a terminal, plain text otherwise.
func printBanner(cfg config.Config) {
	noColor := !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
	color.NoColor = noColor

	bold := color.New(color.Bold)
	accent := color.New(color.FgCyan)

	bold.Println("registryproxy")
	fmt.Printf("  upstream  %s\n", accent.Sprint(cfg.UpstreamRegistry))
	fmt.Printf("  listen    %s\n", accent.Sprint(cfg.ListenAddr))
	fmt.Printf("  storage   %s\n", accent.Sprint(cfg.StorageBackend))
	if cfg.EmbeddingBackendURL == "" {
		fmt.Printf("  retrieval %s\n", color.YellowString("degraded (no embedding backend configured)"))
	} else {
		fmt.Printf("  retrieval %s\n", accent.Sprint("hybrid vector+lexical"))
	}
}
