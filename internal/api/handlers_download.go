package api

import (
	"net/http"
	"strings"

	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/provider"
)

// handleDownload downloads a search hit, creating catalog rows as needed.
// A failed download leaves the track with status ERROR and answers 502.
// POST /api/v1/downloads
func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	var body library.DownloadRequest
	if !decodeBody(w, req, &body) {
		return
	}
	t, err := r.library.Download(req.Context(), body)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type redownloadRequest struct {
	Source   provider.ProviderName `json:"source"`
	SourceID string                `json:"source_id"`
	Quality  int                   `json:"quality,omitempty"`
}

// handleRedownload fetches the track linked to (source, source_id) again.
// POST /api/v1/downloads/redownload
func (r *Router) handleRedownload(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	var body redownloadRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if strings.TrimSpace(body.SourceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "source_id is required")
		return
	}
	t, err := r.library.Redownload(req.Context(), body.Source, strings.TrimSpace(body.SourceID), body.Quality)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDownloadHistory returns a page of the download log.
// GET /api/v1/downloads/history
func (r *Router) handleDownloadHistory(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	params := catalog.DownloadListParams{
		Page:   pageQuery(req),
		Source: provider.ProviderName(q.Get("source")),
		Status: q.Get("status"),
		Artist: q.Get("artist"),
	}
	params.Normalize()
	records, total, err := r.catalog.ListDownloads(req.Context(), params)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(records, total, params.Page))
}

// handleDownloadStats returns success and failure totals.
// GET /api/v1/downloads/stats
func (r *Router) handleDownloadStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.catalog.DownloadStats(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
