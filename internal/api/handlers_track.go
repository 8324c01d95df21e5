package api

import (
	"net/http"
	"strings"

	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/provider"
)

func trackParams(req *http.Request) catalog.TrackListParams {
	q := req.URL.Query()
	params := catalog.TrackListParams{
		Page:     pageQuery(req),
		ArtistID: q.Get("artist_id"),
		Status:   catalog.Status(strings.ToUpper(q.Get("status"))),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}
	if q.Get("favorite") != "" {
		fav := boolQuery(req, "favorite", false)
		params.Favorite = &fav
	}
	return params
}

func validStatus(s catalog.Status) bool {
	switch s {
	case "", catalog.StatusPending, catalog.StatusDownloaded, catalog.StatusError:
		return true
	}
	return false
}

// handleListTracks returns a filtered page of tracks.
// GET /api/v1/tracks
func (r *Router) handleListTracks(w http.ResponseWriter, req *http.Request) {
	r.listTracks(w, req, trackParams(req))
}

// handleListLocalTracks lists tracks that only exist on disk.
// GET /api/v1/tracks/local
func (r *Router) handleListLocalTracks(w http.ResponseWriter, req *http.Request) {
	params := trackParams(req)
	params.LocalOnly = true
	r.listTracks(w, req, params)
}

func (r *Router) listTracks(w http.ResponseWriter, req *http.Request, params catalog.TrackListParams) {
	if !validStatus(params.Status) {
		writeError(w, http.StatusBadRequest, "invalid request", "unknown status "+string(params.Status))
		return
	}
	params.Validate()
	tracks, total, err := r.catalog.ListTracks(req.Context(), params)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(tracks, total, params.Page))
}

// handleGetTrack returns one track with its sources.
// GET /api/v1/tracks/{id}
func (r *Router) handleGetTrack(w http.ResponseWriter, req *http.Request) {
	t, err := r.catalog.GetTrack(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "track not found", "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleToggleFavorite flips the favorite flag and moves the file.
// POST /api/v1/tracks/{id}/favorite
func (r *Router) handleToggleFavorite(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	t, err := r.library.ToggleFavorite(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTrack removes a track; ?delete_file=true also removes its
// cached file.
// DELETE /api/v1/tracks/{id}
func (r *Router) handleDeleteTrack(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	if err := r.library.DeleteTrack(req.Context(), req.PathValue("id"), boolQuery(req, "delete_file", false)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteSource unlinks one track source.
// DELETE /api/v1/sources/{id}
func (r *Router) handleDeleteSource(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	if err := r.library.DeleteSource(req.Context(), req.PathValue("id")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealTrack heals a single track synchronously.
// POST /api/v1/tracks/{id}/heal
func (r *Router) handleHealTrack(w http.ResponseWriter, req *http.Request) {
	if r.healer == nil {
		unavailable(w, "healer")
		return
	}
	id := req.PathValue("id")
	t, err := r.catalog.GetTrack(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "track not found", "")
		return
	}
	healed, err := r.healer.HealTrack(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"healed": healed})
}

type matchRequest struct {
	Source   provider.ProviderName `json:"source"`
	SourceID string                `json:"source_id"`
}

// handleApplyMatch overwrites a track's metadata from a chosen platform
// hit and links that source.
// POST /api/v1/tracks/{id}/match
func (r *Router) handleApplyMatch(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	var body matchRequest
	if !decodeBody(w, req, &body) {
		return
	}
	t, err := r.library.ApplyMatch(req.Context(), req.PathValue("id"), body.Source, strings.TrimSpace(body.SourceID))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

var _ Library = (*library.Service)(nil)
