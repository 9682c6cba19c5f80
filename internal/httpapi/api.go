package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lanregistry/registryproxy/internal/apierr"
	"github.com/lanregistry/registryproxy/internal/rag"
	"github.com/lanregistry/registryproxy/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// chatContextChunks is how many top-ranked chunks are joined into the
// context string handed to the generation backend.
const chatContextChunks = 3

// noDocumentationAnswer is returned, with a null source, whenever retrieval
// has nothing to ground an answer in — an empty question (spec §8: "Empty
// question → retrieval returns empty result; chat returns the 'no
// documentation found' answer") or a question that matched no chunks.
const noDocumentationAnswer = "No documentation found for this question."

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer         string  `json:"answer"`
	Source         *string `json:"source"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
}

// handleChat implements POST /api/chat (spec §6, §7): a response-cache
// hit short-circuits the Retrieval Engine and LLM client entirely;
// generation failures never surface as HTTP errors — they return a
// canned answer with a null source instead.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:         noDocumentationAnswer,
			Source:         nil,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		})
		return
	}

	if cached, ok := h.responseCache.Lookup(req.Question); ok {
		source := "cache"
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:         cached,
			Source:         &source,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		})
		return
	}

	results, err := h.engine.Search(r.Context(), req.Question, chatContextChunks)
	if err != nil {
		logError("httpapi.handleChat", err)
		results = nil
	}

	if len(results) == 0 {
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:         noDocumentationAnswer,
			Source:         nil,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		})
		return
	}

	var contextParts []string
	for _, res := range results {
		contextParts = append(contextParts, res.Chunk.Text)
	}
	top := results[0].Chunk.PackageName
	source := &top

	answer, err := h.ai.Generate(r.Context(), req.Question, strings.Join(contextParts, "\n\n"))
	if err != nil {
		logError("httpapi.handleChat generation", err)
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:         "Sorry, I couldn't generate an answer right now. Please try again later.",
			Source:         nil,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		})
		return
	}

	if err := h.responseCache.Store(req.Question, answer); err != nil {
		logError("httpapi.handleChat cache store", err)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:         answer,
		Source:         source,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	})
}

type hybridSearchRequest struct {
	Query string `json:"query"`
}

type hybridSearchResult struct {
	PackageName  string  `json:"packageName"`
	ChunkIndex   int     `json:"chunkIndex"`
	Text         string  `json:"text"`
	VectorScore  float64 `json:"vectorScore"`
	LexicalScore float64 `json:"lexicalScore"`
	Combined     float64 `json:"combined"`
}

const hybridSearchTopK = 5

// handleHybridSearch implements POST /api/hybrid-search.
func (h *Handler) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	var req hybridSearchRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.engine.Search(r.Context(), req.Query, hybridSearchTopK)
	if err != nil {
		logError("httpapi.handleHybridSearch", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	out := make([]hybridSearchResult, 0, len(results))
	for _, res := range results {
		out = append(out, hybridSearchResult{
			PackageName:  res.Chunk.PackageName,
			ChunkIndex:   res.Chunk.ChunkIndex,
			Text:         res.Chunk.Text,
			VectorScore:  res.VectorScore,
			LexicalScore: res.LexicalScore,
			Combined:     res.Combined,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	TotalChunks      int      `json:"totalChunks"`
	CachedResponses  int      `json:"cachedResponses"`
	EmbeddingsCached int      `json:"embeddingsCached"`
	DistinctPackages int      `json:"distinctPackages"`
	Packages         []string `json:"packages"`
}

// handleStats implements GET /api/stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	packages, totalChunks, _, err := h.scanChunks()
	if err != nil {
		logError("httpapi.handleStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	cachedResponses, err := h.db.Count(store.BucketResponses)
	if err != nil {
		logError("httpapi.handleStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	embeddingsCached, err := h.db.Count(store.BucketEmbeddings)
	if err != nil {
		logError("httpapi.handleStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}

	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	writeJSON(w, http.StatusOK, statsResponse{
		TotalChunks:      totalChunks,
		CachedResponses:  cachedResponses,
		EmbeddingsCached: embeddingsCached,
		DistinctPackages: len(names),
		Packages:         names,
	})
}

type vectorStatsResponse struct {
	TotalChunks                int     `json:"totalChunks"`
	ChunksWithEmbeddings        int     `json:"chunksWithEmbeddings"`
	EmbeddingCoveragePercentage string  `json:"embeddingCoveragePercentage"`
	EmbeddingsCached            int     `json:"embeddingsCached"`
	ResponsesCached             int     `json:"responsesCached"`
	VectorOptimizationEnabled   bool    `json:"vectorOptimizationEnabled"`
}

// handleVectorStats implements GET /api/vector-stats.
func (h *Handler) handleVectorStats(w http.ResponseWriter, r *http.Request) {
	_, totalChunks, withEmbeddings, err := h.scanChunks()
	if err != nil {
		logError("httpapi.handleVectorStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	embeddingsCached, err := h.db.Count(store.BucketEmbeddings)
	if err != nil {
		logError("httpapi.handleVectorStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	responsesCached, err := h.db.Count(store.BucketResponses)
	if err != nil {
		logError("httpapi.handleVectorStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}

	coverage := "0.00"
	if totalChunks > 0 {
		coverage = fmt.Sprintf("%.2f", float64(withEmbeddings)/float64(totalChunks)*100)
	}

	writeJSON(w, http.StatusOK, vectorStatsResponse{
		TotalChunks:                 totalChunks,
		ChunksWithEmbeddings:        withEmbeddings,
		EmbeddingCoveragePercentage: coverage,
		EmbeddingsCached:            embeddingsCached,
		ResponsesCached:             responsesCached,
		VectorOptimizationEnabled:   h.vectorEnabled,
	})
}

// scanChunks reads every persisted chunk once, returning the distinct
// package-name set, the total chunk count, and the count with a non-empty
// embedding. Shared by /api/stats and /api/vector-stats.
func (h *Handler) scanChunks() (map[string]struct{}, int, int, error) {
	packages := make(map[string]struct{})
	total := 0
	withEmbeddings := 0
	err := h.db.ForEach(store.BucketChunks, func(_ string, value []byte) bool {
		var c rag.Chunk
		if json.Unmarshal(value, &c) != nil {
			return true
		}
		total++
		packages[c.PackageName] = struct{}{}
		if len(c.Embedding) > 0 {
			withEmbeddings++
		}
		return true
	})
	return packages, total, withEmbeddings, err
}

// handleSecurityStats implements GET /api/security-stats.
func (h *Handler) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.audit.Stats()
	if err != nil {
		logError("httpapi.handleSecurityStats", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type rebuildEmbeddingsResponse struct {
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// handleRebuildEmbeddings implements POST /api/rebuild-embeddings/{package}.
func (h *Handler) handleRebuildEmbeddings(w http.ResponseWriter, r *http.Request) {
	pkg := r.PathValue("package")
	result, err := h.ingester.Ingest(r.Context(), pkg)
	if err != nil {
		logError("httpapi.handleRebuildEmbeddings", err, "package", pkg)
		http.Error(w, "ingest failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rebuildEmbeddingsResponse{Updated: result.Updated, Total: result.Chunks})
}

type precacheRequest struct {
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
}

type precacheResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Version string `json:"version"`
	Size    int64  `json:"size,omitempty"`
	Cached  bool   `json:"cached,omitempty"`
}

// handlePrecache implements POST /api/precache.
func (h *Handler) handlePrecache(w http.ResponseWriter, r *http.Request) {
	var req precacheRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.PackageName) == "" {
		http.Error(w, "packageName is required", http.StatusBadRequest)
		return
	}

	result, err := h.cache.Precache(r.Context(), req.PackageName, req.Version)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			http.Error(w, "version not found", http.StatusNotFound)
			return
		}
		logError("httpapi.handlePrecache", err, "package", req.PackageName)
		http.Error(w, "precache failed", statusForErr(err))
		return
	}

	if result.Cached {
		writeJSON(w, http.StatusOK, precacheResponse{
			Success: true,
			Message: "already cached",
			Version: result.Version,
			Cached:  true,
		})
		return
	}
	writeJSON(w, http.StatusOK, precacheResponse{
		Success: true,
		Message: "downloaded and verified",
		Version: result.Version,
		Size:    result.Size,
	})
}

type forceScrapeResponse struct {
	Success bool   `json:"success"`
	Chars   int    `json:"chars"`
	Package string `json:"package"`
}

// handleForceScrape implements GET /force-scrape/{package}: a synchronous
// Documentation Ingest run.
func (h *Handler) handleForceScrape(w http.ResponseWriter, r *http.Request) {
	pkg := r.PathValue("package")
	result, err := h.ingester.Ingest(r.Context(), pkg)
	if err != nil {
		logError("httpapi.handleForceScrape", err, "package", pkg)
		writeJSON(w, http.StatusBadGateway, forceScrapeResponse{Success: false, Package: pkg})
		return
	}
	writeJSON(w, http.StatusOK, forceScrapeResponse{Success: true, Chars: result.Chars, Package: pkg})
}
