// Package downloader fetches audio into the cache directory. It reuses
// files already on disk, escalates across platforms when the requested
// quality is unavailable and paces every audio API call through a shared
// token bucket.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sydlexius/tunevault/internal/audioinfo"
	"github.com/sydlexius/tunevault/internal/event"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

// DefaultFetchTimeout bounds one audio body download.
const DefaultFetchTimeout = 300 * time.Second

// minCachedSize is the smallest cached file treated as a finished download.
const minCachedSize = 1024

// searchLimit is how many hits are inspected per platform while escalating.
const searchLimit = 5

// DefaultSources is the escalation order when none is configured.
var DefaultSources = []provider.ProviderName{
	provider.NameNetEase, provider.NameQQMusic, provider.NameKugou, provider.NameKuwo, provider.NameMigu,
}

// ErrDownload reports that no usable audio could be obtained.
type ErrDownload struct {
	Title  string
	Artist string
	Cause  error
}

func (e *ErrDownload) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("downloading %s - %s: %v", e.Artist, e.Title, e.Cause)
	}
	return fmt.Sprintf("downloading %s - %s: no audio source", e.Artist, e.Title)
}

func (e *ErrDownload) Unwrap() error { return e.Cause }

// Resolver searches platforms and resolves audio URLs with a single
// attempt per call. *gdstudio.Client satisfies it.
type Resolver interface {
	Search(ctx context.Context, source provider.ProviderName, keyword string, limit int) ([]provider.TrackInfo, error)
	AudioURL(ctx context.Context, source provider.ProviderName, id string, quality int) (*provider.AudioURL, error)
}

// Config holds the downloader's directories and tuning.
type Config struct {
	CacheDir     string
	FavoritesDir string
	LibraryDir   string
	Sources      []provider.ProviderName
	FetchTimeout time.Duration
	// RetryStep is the linear backoff unit for HTTP 503 responses.
	RetryStep time.Duration
}

// Request identifies what to download.
type Request struct {
	Source   provider.ProviderName
	SourceID string
	Quality  int
	Title    string
	Artist   string
	Album    string
	// Force skips the on-disk lookup and replaces any cached file.
	Force bool
}

// Result describes the file a download produced or found.
type Result struct {
	Path     string                `json:"path"`
	Source   provider.ProviderName `json:"source"`
	SourceID string                `json:"source_id"`
	Bitrate  int                   `json:"bitrate"`
	Format   string                `json:"format"`
	Size     int64                 `json:"size"`
	// Existing is set when the file was already on disk.
	Existing bool `json:"existing"`
	// Library is set when the file lives under the read-only library.
	Library bool `json:"library"`
}

// Quality classifies the result from what the download reported.
func (r *Result) Quality() audioinfo.Quality {
	return audioinfo.Classify(audioinfo.Info{Format: r.Format, Bitrate: r.Bitrate})
}

// Service downloads audio files.
type Service struct {
	resolver Resolver
	bucket   *TokenBucket
	client   *http.Client
	cfg      Config
	logger   *slog.Logger
	eventBus *event.Bus
}

// New creates a downloader. A nil bucket gets the default budget.
func New(resolver Resolver, bucket *TokenBucket, cfg Config, logger *slog.Logger) *Service {
	if bucket == nil {
		bucket = NewTokenBucket(DefaultTokens, DefaultRefillPeriod)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = time.Second
	}
	return &Service{
		resolver: resolver,
		bucket:   bucket,
		// The per-request deadline comes from the context.
		client: &http.Client{},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "downloader")),
	}
}

// SetEventBus sets the event bus for download progress events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Bucket returns the shared token bucket.
func (s *Service) Bucket() *TokenBucket { return s.bucket }

// Download returns a local file for req, fetching it if necessary.
func (s *Service) Download(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Artist) == "" {
		return nil, &provider.ErrValidation{Field: "title", Reason: "title and artist are required"}
	}
	if req.Quality <= 0 {
		req.Quality = provider.QualityLossless
	}

	if !req.Force {
		if res := s.FindExisting(req.Artist, req.Title); res != nil {
			s.logger.Info("audio already on disk", slog.String("path", res.Path))
			s.progress(req, "already downloaded")
			return res, nil
		}
	}

	s.progress(req, "resolving audio url")
	cand, err := s.Resolve(ctx, req)
	if err != nil {
		s.progress(req, "failed: "+err.Error())
		return nil, err
	}

	target := filepath.Join(s.cfg.CacheDir, normalize.CanonicalFilename(req.Artist, req.Title, cand.URL.Format))
	s.progress(req, fmt.Sprintf("downloading %dk %s from %s", cand.URL.Bitrate, cand.URL.Format, cand.Source))
	n, err := s.fetch(ctx, cand.URL.URL, target)
	if err != nil {
		s.progress(req, "failed: "+err.Error())
		return nil, &ErrDownload{Title: req.Title, Artist: req.Artist, Cause: err}
	}
	s.logger.Info("audio downloaded",
		slog.String("path", target),
		slog.String("source", string(cand.Source)),
		slog.Int("bitrate", cand.URL.Bitrate),
		slog.Int64("size", n))
	s.progress(req, "completed")

	return &Result{
		Path:     target,
		Source:   cand.Source,
		SourceID: cand.ID,
		Bitrate:  cand.URL.Bitrate,
		Format:   cand.URL.Format,
		Size:     n,
	}, nil
}

// FindExisting looks for (artist, title) in the library, then under its
// canonical name in the cache and favorites directories.
func (s *Service) FindExisting(artist, title string) *Result {
	if p := s.findInLibrary(artist, title); p != "" {
		return existingResult(p, true)
	}
	for _, dir := range []string{s.cfg.CacheDir, s.cfg.FavoritesDir} {
		if dir == "" {
			continue
		}
		for _, ext := range audioinfo.PreferredExtensions {
			p := filepath.Join(dir, normalize.CanonicalFilename(artist, title, ext))
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() && info.Size() > minCachedSize {
				return existingResult(p, false)
			}
		}
	}
	return nil
}

func existingResult(path string, library bool) *Result {
	r := &Result{
		Path:     path,
		Source:   provider.SourceLocal,
		SourceID: filepath.Base(path),
		Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Existing: true,
		Library:  library,
	}
	if info, err := os.Stat(path); err == nil {
		r.Size = info.Size()
	}
	if r.Format == "flac" || r.Format == "wav" || library {
		r.Bitrate = provider.QualityLossless
	} else {
		r.Bitrate = provider.QualityHigh
	}
	return r
}

func (s *Service) findInLibrary(artist, title string) string {
	if s.cfg.LibraryDir == "" {
		return ""
	}
	prefix := normalize.CanonicalBase(artist, title)
	var found string
	err := filepath.WalkDir(s.cfg.LibraryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.cfg.LibraryDir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), prefix) && audioinfo.IsAudio(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("library search failed", slog.String("error", err.Error()))
	}
	return found
}

// Resolution is the audio URL chosen for a request and where it came from.
type Resolution struct {
	Source provider.ProviderName
	ID     string
	URL    *provider.AudioURL
}

// Resolve finds the best audio URL for req. The originating platform is
// tried first; when it cannot serve at least 320k and more was asked
// for, every configured platform is searched and the highest bitrate
// wins, stopping early at 320k or better.
func (s *Service) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	var best *Resolution
	var lastErr error

	if req.Source != "" && req.Source != provider.SourceLocal && req.SourceID != "" {
		u, err := s.audioURL(ctx, req.Source, req.SourceID, req.Quality)
		if err == nil {
			best = &Resolution{Source: req.Source, ID: req.SourceID, URL: u}
			if u.Bitrate >= provider.QualityHigh || req.Quality < provider.QualityHigh {
				return best, nil
			}
			s.logger.Info("origin quality below target, escalating",
				slog.String("source", string(req.Source)), slog.Int("bitrate", u.Bitrate))
		} else {
			if ctx.Err() != nil {
				return nil, &ErrDownload{Title: req.Title, Artist: req.Artist, Cause: ctx.Err()}
			}
			lastErr = err
			s.logger.Warn("origin url failed", slog.String("source", string(req.Source)), slog.String("error", err.Error()))
		}
	}

	for _, src := range s.escalationOrder(req.Source) {
		if ctx.Err() != nil {
			break
		}
		id, err := s.searchMatch(ctx, src, req)
		if err != nil {
			lastErr = err
			continue
		}
		if id == "" {
			continue
		}
		u, err := s.audioURL(ctx, src, id, req.Quality)
		if err != nil {
			lastErr = err
			continue
		}
		if u.Bitrate >= provider.QualityHigh {
			s.logger.Info("escalation found high quality", slog.String("source", string(src)), slog.Int("bitrate", u.Bitrate))
			return &Resolution{Source: src, ID: id, URL: u}, nil
		}
		if best == nil || u.Bitrate > best.URL.Bitrate {
			best = &Resolution{Source: src, ID: id, URL: u}
		}
	}

	if best != nil {
		return best, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, &ErrDownload{Title: req.Title, Artist: req.Artist, Cause: lastErr}
}

func (s *Service) escalationOrder(origin provider.ProviderName) []provider.ProviderName {
	order := make([]provider.ProviderName, 0, len(s.cfg.Sources)+1)
	for _, src := range s.cfg.Sources {
		if src == origin {
			order = append(order, src)
		}
	}
	for _, src := range s.cfg.Sources {
		if src != origin {
			order = append(order, src)
		}
	}
	return order
}

// searchMatch searches src for the request and picks the first hit whose
// title and artist contain the requested ones, preferring an album match
// when an album is known. Without a containing hit the first result wins.
func (s *Service) searchMatch(ctx context.Context, src provider.ProviderName, req Request) (string, error) {
	if err := s.bucket.Acquire(ctx); err != nil {
		return "", err
	}
	keyword := strings.TrimSpace(req.Title + " " + req.Artist)
	hits, err := s.resolver.Search(ctx, src, keyword, searchLimit)
	if err != nil {
		s.logger.Warn("escalation search failed", slog.String("source", string(src)), slog.String("error", err.Error()))
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	fold := func(s string) string { return strings.ToLower(strings.TrimSpace(normalize.Fold(s))) }
	title, artist, album := fold(req.Title), fold(req.Artist), fold(req.Album)
	for _, h := range hits {
		ht, ha, hal := fold(h.Title), fold(h.Artist), fold(h.Album)
		if !strings.Contains(ht, title) || !strings.Contains(ha, artist) {
			continue
		}
		if album == "" {
			return h.ID, nil
		}
		if hal != "" && (strings.Contains(hal, album) || strings.Contains(album, hal)) {
			return h.ID, nil
		}
	}
	return hits[0].ID, nil
}

// audioURL resolves one URL under the token bucket, retrying HTTP 503
// with linear backoff.
func (s *Service) audioURL(ctx context.Context, src provider.ProviderName, id string, quality int) (*provider.AudioURL, error) {
	var out *provider.AudioURL
	err := retry.Do(ctx, s.linearBackoff(), func(ctx context.Context) error {
		if err := s.bucket.Acquire(ctx); err != nil {
			return err
		}
		u, err := s.resolver.AudioURL(ctx, src, id, quality)
		if err != nil {
			var netErr *provider.ErrNetwork
			if errors.As(err, &netErr) && netErr.StatusCode == http.StatusServiceUnavailable {
				s.logger.Warn("audio api unavailable, retrying", slog.String("source", string(src)))
				return retry.RetryableError(err)
			}
			return err
		}
		out = u
		return nil
	})
	return out, err
}

// linearBackoff waits step, 2*step between three attempts.
func (s *Service) linearBackoff() retry.Backoff {
	var n time.Duration
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return n * s.cfg.RetryStep, false
	})
	return retry.WithMaxRetries(2, next)
}

// fetch streams url into target through a temp file in the cache dir.
func (s *Service) fetch(ctx context.Context, url, target string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", provider.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &provider.ErrNetwork{Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return 0, &provider.ErrNetwork{StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	n, err := filesystem.WriteStreamAtomic(target, s.cfg.CacheDir, resp.Body, 0o644)
	if err != nil {
		return n, err
	}
	if n == 0 {
		_ = os.Remove(target)
		return 0, errors.New("empty response body")
	}
	return n, nil
}

func (s *Service) progress(req Request, msg string) {
	s.eventBus.Publish(event.Event{
		Type: event.DownloadProgress,
		Data: map[string]any{
			"title":   req.Title,
			"artist":  req.Artist,
			"source":  string(req.Source),
			"song_id": req.SourceID,
			"message": msg,
		},
	})
}
