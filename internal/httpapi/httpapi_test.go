package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanregistry/registryproxy/internal/ai"
	"github.com/lanregistry/registryproxy/internal/audit"
	"github.com/lanregistry/registryproxy/internal/blobstore"
	"github.com/lanregistry/registryproxy/internal/hashengine"
	"github.com/lanregistry/registryproxy/internal/integrity"
	"github.com/lanregistry/registryproxy/internal/rag"
	"github.com/lanregistry/registryproxy/internal/registrycache"
	"github.com/lanregistry/registryproxy/internal/store"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

const testTarballContent = "tarball-bytes-for-leftpad"

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	digest, err := hashengine.NewHasher("sha512")
	require.NoError(t, err)
	digest.Write([]byte(testTarballContent))
	expectedIntegrity := hashengine.Encode("sha512", digest.Sum(nil))

	upstreamMux := http.NewServeMux()
	upstreamMux.HandleFunc("/leftpad/-/leftpad-1.0.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testTarballContent))
	})
	upstreamMux.HandleFunc("/leftpad", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"name": "leftpad",
			"description": "pad a string with another string",
			"readme": "# left-pad\n\nPads the left side of a string with another string to a certain length.",
			"dist-tags": {"latest": "1.0.0"},
			"versions": {
				"1.0.0": {
					"dist": {
						"tarball": "https://upstream.example/leftpad/-/leftpad-1.0.0.tgz",
						"integrity": %q
					}
				}
			}
		}`, expectedIntegrity)
	})
	upstreamSrv := httptest.NewServer(upstreamMux)
	t.Cleanup(upstreamSrv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u := upstream.New()
	auditStore := audit.New(db)
	verifier := integrity.New(upstreamSrv.URL, u, auditStore, db)
	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	cache := registrycache.New(blobs, t.TempDir(), upstreamSrv.URL, u, verifier)

	// No embedding/generation backend configured: exercises degraded,
	// lexical-only retrieval throughout these tests.
	aiClient := ai.New(u, "", "", "", "", time.Second)

	embedCache := rag.NewEmbeddingCache(db, time.Hour)
	responseCache := rag.NewResponseCache(db, 24*time.Hour)
	engine := rag.NewEngine(db, aiClient, embedCache, 0.3, 0.7, 0.3)
	ingester := rag.NewIngester(upstreamSrv.URL, u, db, aiClient, 0, 0)

	return New(Deps{
		Cache:         cache,
		Engine:        engine,
		Ingester:      ingester,
		ResponseCache: responseCache,
		AI:            aiClient,
		DB:            db,
		Audit:         auditStore,
		VectorEnabled: false,
	})
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestProxyMetadataAndTarball(t *testing.T) {
	h := newTestHandler(t)

	metaReq := httptest.NewRequest(http.MethodGet, "/leftpad", nil)
	metaReq.Host = "proxy.lan:8080"
	metaRec := httptest.NewRecorder()
	h.ServeHTTP(metaRec, metaReq)
	require.Equal(t, http.StatusOK, metaRec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(metaRec.Body.Bytes(), &doc))
	versions := doc["versions"].(map[string]any)
	v := versions["1.0.0"].(map[string]any)
	dist := v["dist"].(map[string]any)
	require.Equal(t, "http://proxy.lan:8080/leftpad/-/leftpad-1.0.0.tgz", dist["tarball"])

	tarReq := httptest.NewRequest(http.MethodGet, "/leftpad/-/leftpad-1.0.0.tgz", nil)
	tarRec := httptest.NewRecorder()
	h.ServeHTTP(tarRec, tarReq)
	require.Equal(t, http.StatusOK, tarRec.Code)
	require.Equal(t, "application/octet-stream", tarRec.Header().Get("Content-Type"))
	require.Equal(t, testTarballContent, tarRec.Body.String())
}

func TestForceScrapeAndStats(t *testing.T) {
	h := newTestHandler(t)

	scrapeReq := httptest.NewRequest(http.MethodGet, "/force-scrape/leftpad", nil)
	scrapeRec := httptest.NewRecorder()
	h.ServeHTTP(scrapeRec, scrapeReq)
	require.Equal(t, http.StatusOK, scrapeRec.Code)

	var scrapeResp forceScrapeResponse
	require.NoError(t, json.Unmarshal(scrapeRec.Body.Bytes(), &scrapeResp))
	require.True(t, scrapeResp.Success)
	require.Equal(t, "leftpad", scrapeResp.Package)
	require.Greater(t, scrapeResp.Chars, 0)

	statsReq := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	statsRec := httptest.NewRecorder()
	h.ServeHTTP(statsRec, statsReq)
	require.Equal(t, http.StatusOK, statsRec.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	require.Greater(t, stats.TotalChunks, 0)
	require.Contains(t, stats.Packages, "leftpad")

	searchBody, err := json.Marshal(hybridSearchRequest{Query: "pad a string"})
	require.NoError(t, err)
	searchReq := httptest.NewRequest(http.MethodPost, "/api/hybrid-search", bytes.NewReader(searchBody))
	searchRec := httptest.NewRecorder()
	h.ServeHTTP(searchRec, searchReq)
	require.Equal(t, http.StatusOK, searchRec.Code)

	var results []hybridSearchResult
	require.NoError(t, json.Unmarshal(searchRec.Body.Bytes(), &results))
	require.NotEmpty(t, results)
	require.Equal(t, "leftpad", results[0].PackageName)
}

func TestPrecacheDownloadsThenReportsCached(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(precacheRequest{PackageName: "leftpad"})
	require.NoError(t, err)

	req1 := httptest.NewRequest(http.MethodPost, "/api/precache", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	var resp1 precacheResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &resp1))
	require.True(t, resp1.Success)
	require.Equal(t, "1.0.0", resp1.Version)
	require.False(t, resp1.Cached)
	require.EqualValues(t, len(testTarballContent), resp1.Size)

	req2 := httptest.NewRequest(http.MethodPost, "/api/precache", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp2 precacheResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	require.True(t, resp2.Success)
	require.True(t, resp2.Cached)

	secReq := httptest.NewRequest(http.MethodGet, "/api/security-stats", nil)
	secRec := httptest.NewRecorder()
	h.ServeHTTP(secRec, secReq)
	require.Equal(t, http.StatusOK, secRec.Code)

	var stats audit.Stats
	require.NoError(t, json.Unmarshal(secRec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Successful)
}

func TestPrecacheUnknownVersionReturns404(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(precacheRequest{PackageName: "leftpad", Version: "9.9.9"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/precache", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatFallsBackToCannedAnswerWithoutGenerationBackend(t *testing.T) {
	h := newTestHandler(t)

	scrapeReq := httptest.NewRequest(http.MethodGet, "/force-scrape/leftpad", nil)
	h.ServeHTTP(httptest.NewRecorder(), scrapeReq)

	body, err := json.Marshal(chatRequest{Question: "how do I use left-pad"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Source)
	require.NotEmpty(t, resp.Answer)
	require.NotEqual(t, noDocumentationAnswer, resp.Answer)
}

func TestChatEmptyQuestionReturnsNoDocumentationAnswer(t *testing.T) {
	h := newTestHandler(t)
	body, err := json.Marshal(chatRequest{Question: "  "})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Source)
	require.Equal(t, noDocumentationAnswer, resp.Answer)
}

func TestChatNoMatchingChunksReturnsNoDocumentationAnswer(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(chatRequest{Question: "something entirely unrelated to anything ingested"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Source)
	require.Equal(t, noDocumentationAnswer, resp.Answer)
}
