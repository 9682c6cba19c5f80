package httpapi

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// tarballSep is the conventional npm path separator between a package name
// and its tarball filename: GET /{package}/-/{filename}.
const tarballSep = "/-/"

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("rest")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if idx := strings.Index(rest, tarballSep); idx >= 0 {
		name := rest[:idx]
		filename := rest[idx+len(tarballSep):]
		h.handleTarball(w, r, name, filename)
		return
	}
	h.handleMetadata(w, r, rest)
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request, name string) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	body, err := h.cache.ResolveMetadata(r.Context(), name, scheme, r.Host)
	if err != nil {
		logError("httpapi.handleMetadata", err, "package", name)
		http.Error(w, "upstream unreachable and no cache", statusForErr(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (h *Handler) handleTarball(w http.ResponseWriter, r *http.Request, name, filename string) {
	w.Header().Set("Content-Type", "application/octet-stream")
	rec := &byteCountingWriter{w: w}
	if err := h.cache.ResolveTarball(r.Context(), name, filename, rec); err != nil {
		logError("httpapi.handleTarball", err, "package", name, "filename", filename)
		if rec.count.Load() == 0 {
			http.Error(w, "upstream unreachable and no cache", statusForErr(err))
		}
		// Bytes already flushed to the client: the response has already
		// started with an implicit 200, so the failure can only surface
		// as a truncated body (spec §7: "appears to fail mid-stream").
		return
	}
}

// byteCountingWriter tracks whether any response bytes have reached the
// client yet, so a failure can still be reported with a proper status code
// if it happens before the first byte goes out.
type byteCountingWriter struct {
	w     http.ResponseWriter
	count atomic.Int64
}

func (b *byteCountingWriter) Write(p []byte) (int, error) {
	n, err := b.w.Write(p)
	b.count.Add(int64(n))
	return n, err
}
