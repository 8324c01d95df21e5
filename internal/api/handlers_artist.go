package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/tunevault/internal/catalog"
)

// handleListArtists returns a page of artists.
// GET /api/v1/artists
func (r *Router) handleListArtists(w http.ResponseWriter, req *http.Request) {
	params := catalog.ArtistListParams{
		Page:          pageQuery(req),
		Search:        req.URL.Query().Get("search"),
		MonitoredOnly: boolQuery(req, "monitored", false),
	}
	params.Normalize()
	artists, total, err := r.catalog.ListArtists(req.Context(), params)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(artists, total, params.Page))
}

// lookupArtist loads the artist named by the {id} path value, writing
// 404 when it does not exist.
func (r *Router) lookupArtist(w http.ResponseWriter, req *http.Request) *catalog.Artist {
	a, err := r.catalog.GetArtist(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return nil
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "artist not found", "")
		return nil
	}
	return a
}

// handleGetArtist returns one artist with its platform bindings and, when
// a refresh is underway, a refreshing flag.
// GET /api/v1/artists/{id}
func (r *Router) handleGetArtist(w http.ResponseWriter, req *http.Request) {
	a := r.lookupArtist(w, req)
	if a == nil {
		return
	}
	refreshing := r.refresher != nil && r.refresher.Running(a.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"artist":     a,
		"refreshing": refreshing,
	})
}

// handleDeleteArtist removes an artist and its tracks; ?delete_files=true
// also removes their cached files.
// DELETE /api/v1/artists/{id}
func (r *Router) handleDeleteArtist(w http.ResponseWriter, req *http.Request) {
	if r.library == nil {
		unavailable(w, "library")
		return
	}
	if err := r.library.DeleteArtist(req.Context(), req.PathValue("id"), boolQuery(req, "delete_files", false)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshArtist starts a background refresh. Progress is reported
// on the progress socket.
// POST /api/v1/artists/{id}/refresh
func (r *Router) handleRefreshArtist(w http.ResponseWriter, req *http.Request) {
	if r.refresher == nil {
		unavailable(w, "refresh")
		return
	}
	a := r.lookupArtist(w, req)
	if a == nil {
		return
	}
	if r.refresher.Running(a.Name) {
		writeError(w, http.StatusConflict, "refresh already running", a.Name)
		return
	}

	go func(name string) {
		if _, err := r.refresher.RefreshArtist(r.bg, name); err != nil {
			r.logger.Warn("background refresh failed",
				slog.String("artist", name),
				slog.String("error", err.Error()))
		}
	}(a.Name)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "started",
		"artist_id": a.ID,
	})
}

// handleHealArtist heals every deficient track of an artist.
// POST /api/v1/artists/{id}/heal
func (r *Router) handleHealArtist(w http.ResponseWriter, req *http.Request) {
	if r.healer == nil {
		unavailable(w, "healer")
		return
	}
	a := r.lookupArtist(w, req)
	if a == nil {
		return
	}
	res, err := r.healer.HealArtist(req.Context(), a.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
