package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"server/internal/gateway"
)

// ServeFile serves one stored object behind a signed URL. The provider fetches
// inputs through this endpoint, so verification failures must be precise:
// expired links get 410 so callers know to re-sign rather than retry.
func (a *App) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := a.Verifier.Verify(key, r.URL.Query()); err != nil {
		switch {
		case errors.Is(err, gateway.ErrExpired):
			a.error(w, http.StatusGone, "expired", "signed url has expired")
		case errors.Is(err, gateway.ErrBadSignature):
			a.error(w, http.StatusForbidden, "forbidden", "signature mismatch")
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "invalid file path")
		}
		return
	}

	data, err := a.Files.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.error(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		a.Logger.Error().Err(err).Str("key", key).Msg("file read failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not read file")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}
