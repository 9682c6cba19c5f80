package httpapi

import (
	"errors"
	"net/http"

	"github.com/lanregistry/registryproxy/internal/apierr"
)

// statusForErr maps the error taxonomy from spec §7 to an HTTP status.
func statusForErr(err error) int {
	if errors.Is(err, apierr.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, apierr.ErrUpstreamUnreachableNoCache) {
		return http.StatusBadGateway
	}
	switch {
	case apierr.Is(err, apierr.KindNotFound):
		return http.StatusNotFound
	case apierr.Is(err, apierr.KindTransport):
		return http.StatusBadGateway
	case apierr.Is(err, apierr.KindProtocol):
		return http.StatusBadGateway
	case apierr.Is(err, apierr.KindIntegrity):
		return http.StatusBadGateway
	case apierr.Is(err, apierr.KindPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
