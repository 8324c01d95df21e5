package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sydlexius/tunevault/internal/api/middleware"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/healer"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/maintenance"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/scanner"
)

// Library is the set of catalog mutations exposed over HTTP.
type Library interface {
	ToggleFavorite(ctx context.Context, trackID string) (*catalog.Track, error)
	DeleteTrack(ctx context.Context, trackID string, deleteFile bool) error
	DeleteArtist(ctx context.Context, artistID string, deleteFiles bool) error
	DeleteSource(ctx context.Context, sourceID string) error
	Download(ctx context.Context, req library.DownloadRequest) (*catalog.Track, error)
	Redownload(ctx context.Context, source provider.ProviderName, sourceID string, quality int) (*catalog.Track, error)
	ApplyMatch(ctx context.Context, trackID string, source provider.ProviderName, sourceID string) (*catalog.Track, error)
}

// Refresher runs artist refreshes.
type Refresher interface {
	RefreshArtist(ctx context.Context, name string) (int, error)
	Running(name string) bool
}

// Healer repairs track metadata.
type Healer interface {
	HealArtist(ctx context.Context, artistID string) (healer.Result, error)
	HealTrack(ctx context.Context, trackID string) (bool, error)
}

// Searcher queries the providers.
type Searcher interface {
	SearchArtists(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error)
	SearchTracks(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error)
}

// Scanner runs library scans.
type Scanner interface {
	Run(ctx context.Context, incremental bool) (*scanner.Result, error)
	Status() *scanner.Result
}

// RouterDeps bundles all dependencies needed by the HTTP router. Nil
// optional services answer 503.
type RouterDeps struct {
	Catalog     *catalog.Service
	Library     Library
	Scanner     Scanner
	Refresher   Refresher
	Healer      Healer
	Searcher    Searcher
	Maintenance *maintenance.Service
	Progress    http.Handler
	Logger      *slog.Logger
	BasePath    string

	// BaseContext outlives requests and bounds background refreshes and
	// scans. Defaults to context.Background.
	BaseContext context.Context

	// ActionLimit paces the expensive POST endpoints per client IP.
	// Zero disables limiting.
	ActionLimit time.Duration
	ActionBurst int
}

// Router sets up all HTTP routes for the application.
type Router struct {
	catalog     *catalog.Service
	library     Library
	scanner     Scanner
	refresher   Refresher
	healer      Healer
	searcher    Searcher
	maintenance *maintenance.Service
	progress    http.Handler
	logger      *slog.Logger
	basePath    string
	bg          context.Context
	limiter     *middleware.ActionRateLimiter
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	bg := deps.BaseContext
	if bg == nil {
		bg = context.Background()
	}
	r := &Router{
		catalog:     deps.Catalog,
		library:     deps.Library,
		scanner:     deps.Scanner,
		refresher:   deps.Refresher,
		healer:      deps.Healer,
		searcher:    deps.Searcher,
		maintenance: deps.Maintenance,
		progress:    deps.Progress,
		logger:      deps.Logger.With(slog.String("component", "api")),
		basePath:    deps.BasePath,
		bg:          bg,
	}
	if deps.ActionLimit > 0 {
		burst := deps.ActionBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = middleware.NewActionRateLimiter(bg, deps.ActionLimit, burst)
	}
	return r
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath + "/api/v1"

	mux.HandleFunc("GET "+bp+"/health", r.handleHealth)

	// Tracks
	mux.HandleFunc("GET "+bp+"/tracks", r.handleListTracks)
	mux.HandleFunc("GET "+bp+"/tracks/local", r.handleListLocalTracks)
	mux.HandleFunc("GET "+bp+"/tracks/{id}", r.handleGetTrack)
	mux.HandleFunc("POST "+bp+"/tracks/{id}/favorite", r.handleToggleFavorite)
	mux.HandleFunc("DELETE "+bp+"/tracks/{id}", r.handleDeleteTrack)
	mux.HandleFunc("POST "+bp+"/tracks/{id}/heal", r.limit(r.handleHealTrack))
	mux.HandleFunc("POST "+bp+"/tracks/{id}/match", r.limit(r.handleApplyMatch))
	mux.HandleFunc("DELETE "+bp+"/sources/{id}", r.handleDeleteSource)

	// Artists
	mux.HandleFunc("GET "+bp+"/artists", r.handleListArtists)
	mux.HandleFunc("GET "+bp+"/artists/{id}", r.handleGetArtist)
	mux.HandleFunc("DELETE "+bp+"/artists/{id}", r.handleDeleteArtist)
	mux.HandleFunc("POST "+bp+"/artists/{id}/refresh", r.limit(r.handleRefreshArtist))
	mux.HandleFunc("POST "+bp+"/artists/{id}/heal", r.limit(r.handleHealArtist))

	// Downloads
	mux.HandleFunc("POST "+bp+"/downloads", r.limit(r.handleDownload))
	mux.HandleFunc("POST "+bp+"/downloads/redownload", r.limit(r.handleRedownload))
	mux.HandleFunc("GET "+bp+"/downloads/history", r.handleDownloadHistory)
	mux.HandleFunc("GET "+bp+"/downloads/stats", r.handleDownloadStats)

	// Search
	mux.HandleFunc("GET "+bp+"/search/artists", r.handleSearchArtists)
	mux.HandleFunc("GET "+bp+"/search/tracks", r.handleSearchTracks)

	// Scanner
	mux.HandleFunc("POST "+bp+"/scan", r.handleScanRun)
	mux.HandleFunc("GET "+bp+"/scan/status", r.handleScanStatus)

	// Maintenance
	mux.HandleFunc("GET "+bp+"/maintenance/status", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/maintenance/optimize", r.handleMaintenanceOptimize)
	mux.HandleFunc("POST "+bp+"/maintenance/sweep", r.handleMaintenanceSweep)

	if r.progress != nil {
		mux.Handle("GET "+r.basePath+"/ws", r.progress)
	}

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}

// limit applies the per-IP action limiter when one is configured.
func (r *Router) limit(fn http.HandlerFunc) http.HandlerFunc {
	if r.limiter == nil {
		return fn
	}
	h := r.limiter.Middleware(fn)
	return h.ServeHTTP
}
