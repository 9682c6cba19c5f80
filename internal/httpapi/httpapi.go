// Package httpapi is the HTTP Surface (spec §4.12): it composes the
// Package Cache, Retrieval Engine, Documentation Ingest pipeline, and
// Audit Store into the two route families from spec §6 — the registry
// proxy routes and the JSON API — behind a single mux, generalizing the
// teacher's internal/proxy request-logging and error-mapping idioms.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanregistry/registryproxy/internal/ai"
	"github.com/lanregistry/registryproxy/internal/audit"
	"github.com/lanregistry/registryproxy/internal/rag"
	"github.com/lanregistry/registryproxy/internal/registrycache"
	"github.com/lanregistry/registryproxy/internal/store"
)

// Handler wires every component the HTTP Surface fronts.
type Handler struct {
	cache         *registrycache.Cache
	engine        *rag.Engine
	ingester      *rag.Ingester
	responseCache *rag.ResponseCache
	ai            *ai.Client
	db            *store.Store
	audit         *audit.Store
	vectorEnabled bool

	mux http.Handler
}

// Deps is everything New needs to build the HTTP Surface.
type Deps struct {
	Cache         *registrycache.Cache
	Engine        *rag.Engine
	Ingester      *rag.Ingester
	ResponseCache *rag.ResponseCache
	AI            *ai.Client
	DB            *store.Store
	Audit         *audit.Store
	// VectorEnabled reports whether an embedding backend is configured, for
	// GET /api/vector-stats's vectorOptimizationEnabled flag.
	VectorEnabled bool
}

// New builds the HTTP Surface handler.
func New(d Deps) *Handler {
	h := &Handler{
		cache:         d.Cache,
		engine:        d.Engine,
		ingester:      d.Ingester,
		responseCache: d.ResponseCache,
		ai:            d.AI,
		db:            d.DB,
		audit:         d.Audit,
		vectorEnabled: d.VectorEnabled,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/hybrid-search", h.handleHybridSearch)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /api/vector-stats", h.handleVectorStats)
	mux.HandleFunc("GET /api/security-stats", h.handleSecurityStats)
	mux.HandleFunc("POST /api/rebuild-embeddings/{package...}", h.handleRebuildEmbeddings)
	mux.HandleFunc("POST /api/precache", h.handlePrecache)
	mux.HandleFunc("GET /force-scrape/{package...}", h.handleForceScrape)

	// Catch-all registry proxy routes. Package names (including scoped
	// "@scope/name" forms) may themselves contain slashes, so the two
	// proxy routes from spec §6 are disambiguated downstream by locating
	// the literal "/-/" tarball separator rather than by mux pattern.
	mux.HandleFunc("GET /{rest...}", h.handleProxy)

	h.mux = WithMetrics(WithLogging(mux))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func logError(op string, err error, args ...any) {
	slog.Error(op, append([]any{"error", err}, args...)...)
}
