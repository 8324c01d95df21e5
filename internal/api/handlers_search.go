package api

import (
	"net/http"
	"strings"
)

const maxSearchLimit = 50

func searchArgs(req *http.Request) (string, int) {
	limit := intQuery(req, "limit", 10)
	if limit < 1 || limit > maxSearchLimit {
		limit = 10
	}
	return strings.TrimSpace(req.URL.Query().Get("keyword")), limit
}

// handleSearchArtists searches every provider for artists.
// GET /api/v1/search/artists?keyword=
func (r *Router) handleSearchArtists(w http.ResponseWriter, req *http.Request) {
	if r.searcher == nil {
		unavailable(w, "search")
		return
	}
	keyword, limit := searchArgs(req)
	hits, err := r.searcher.SearchArtists(req.Context(), keyword, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keyword": keyword, "results": nonNil(hits)})
}

// handleSearchTracks searches every provider for tracks.
// GET /api/v1/search/tracks?keyword=
func (r *Router) handleSearchTracks(w http.ResponseWriter, req *http.Request) {
	if r.searcher == nil {
		unavailable(w, "search")
		return
	}
	keyword, limit := searchArgs(req)
	hits, err := r.searcher.SearchTracks(req.Context(), keyword, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keyword": keyword, "results": nonNil(hits)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
