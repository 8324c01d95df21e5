// Package netease implements provider.Provider for NetEase Cloud Music.
package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

const defaultBaseURL = "https://music.163.com"

// codeOK is the only benign envelope code.
const codeOK = 200

// AudioResolver resolves playable URLs. NetEase itself only serves audio
// to authenticated sessions, so resolution is delegated.
type AudioResolver interface {
	AudioURL(ctx context.Context, source provider.ProviderName, id string, quality int) (*provider.AudioURL, error)
}

// Adapter implements provider.Provider for NetEase's web API.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
	retry   provider.RetryPolicy
	audio   AudioResolver
}

// New creates a NetEase adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, audio AudioResolver, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, audio, logger, defaultBaseURL)
}

// NewWithBaseURL creates a NetEase adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, audio AudioResolver, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:  provider.NewHTTPClient(provider.DefaultTimeout),
		limiter: limiter,
		logger:  logger.With(slog.String("provider", string(provider.NameNetEase))),
		baseURL: strings.TrimRight(baseURL, "/"),
		retry:   provider.DefaultRetryPolicy,
		audio:   audio,
	}
}

// SetRetryPolicy overrides the default retry policy.
func (a *Adapter) SetRetryPolicy(p provider.RetryPolicy) { a.retry = p }

// Name returns the provider identifier.
func (a *Adapter) Name() provider.ProviderName { return provider.NameNetEase }

// SearchArtist searches for artists. Hits whose name neither contains nor
// is contained in the keyword (ignoring case and spaces) are dropped.
func (a *Adapter) SearchArtist(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	limit = clampLimit(limit, 10)

	return provider.List(ctx, a.retry, a.logger, "search_artist", func(ctx context.Context) ([]provider.ArtistInfo, error) {
		var resp searchResponse
		if err := a.get(ctx, "/api/cloudsearch/pc", keyword, url.Values{
			"s":      {keyword},
			"type":   {"100"},
			"limit":  {strconv.Itoa(limit)},
			"offset": {"0"},
		}, &resp); err != nil {
			return nil, err
		}

		want := squash(keyword)
		out := make([]provider.ArtistInfo, 0, len(resp.Result.Artists))
		for _, ar := range resp.Result.Artists {
			got := squash(ar.Name)
			if got == "" || !(strings.Contains(got, want) || strings.Contains(want, got)) {
				continue
			}
			avatar := ar.PicURL
			if avatar == "" {
				avatar = ar.Img1v1URL
			}
			out = append(out, provider.ArtistInfo{
				Name:      ar.Name,
				Source:    provider.NameNetEase,
				ID:        strconv.FormatInt(ar.ID, 10),
				Avatar:    avatar,
				SongCount: ar.MusicSize,
			})
		}
		a.logger.Debug("artist search completed",
			slog.String("query", keyword),
			slog.Int("results", len(out)))
		return out, nil
	}), nil
}

// SearchTrack searches for tracks by keyword.
func (a *Adapter) SearchTrack(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	limit = clampLimit(limit, 10)

	return provider.List(ctx, a.retry, a.logger, "search_track", func(ctx context.Context) ([]provider.TrackInfo, error) {
		var resp searchResponse
		if err := a.get(ctx, "/api/cloudsearch/pc", keyword, url.Values{
			"s":      {keyword},
			"type":   {"1"},
			"limit":  {strconv.Itoa(limit)},
			"offset": {"0"},
		}, &resp); err != nil {
			return nil, err
		}
		return convertSongs(resp.Result.Songs), nil
	}), nil
}

// ListArtistTracks lists an artist's tracks, newest first.
func (a *Adapter) ListArtistTracks(ctx context.Context, artistID string, limit int) ([]provider.TrackInfo, error) {
	if artistID == "" {
		return nil, &provider.ErrValidation{Field: "artist_id", Reason: "empty"}
	}
	limit = clampLimit(limit, 1000)

	return provider.List(ctx, a.retry, a.logger, "list_artist_tracks", func(ctx context.Context) ([]provider.TrackInfo, error) {
		var resp songsResponse
		if err := a.get(ctx, "/api/v1/artist/songs", artistID, url.Values{
			"id":     {artistID},
			"limit":  {strconv.Itoa(limit)},
			"offset": {"0"},
			"order":  {"time"},
		}, &resp); err != nil {
			return nil, err
		}
		tracks := convertSongs(resp.Songs)
		a.logger.Debug("artist tracks listed",
			slog.String("artist_id", artistID),
			slog.Int("tracks", len(tracks)))
		return tracks, nil
	}), nil
}

// GetTrackMetadata fetches track detail and lyrics. A lyrics failure does
// not fail the lookup.
func (a *Adapter) GetTrackMetadata(ctx context.Context, trackID string) (*provider.TrackMetadata, error) {
	numericID, err := strconv.ParseInt(trackID, 10, 64)
	if err != nil {
		return nil, &provider.ErrNotFound{Provider: provider.NameNetEase, ID: trackID}
	}

	s, err := provider.One(ctx, a.retry, func(ctx context.Context) (*song, error) {
		var resp songsResponse
		c, _ := json.Marshal([]map[string]int64{{"id": numericID}})
		if err := a.get(ctx, "/api/v3/song/detail", trackID, url.Values{"c": {string(c)}}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Songs) == 0 {
			return nil, &provider.ErrNotFound{Provider: provider.NameNetEase, ID: trackID}
		}
		return &resp.Songs[0], nil
	})
	if err != nil {
		return nil, err
	}

	info := convertSong(*s)
	meta := &provider.TrackMetadata{
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.Album,
		Source:      provider.NameNetEase,
		ID:          trackID,
		CoverURL:    info.CoverURL,
		ReleaseTime: info.ReleaseTime,
	}

	lyrics, err := a.GetLyrics(ctx, trackID)
	if err != nil {
		a.logger.Debug("lyrics unavailable",
			slog.String("track_id", trackID),
			slog.String("error", err.Error()))
	}
	meta.Lyrics = lyrics
	return meta, nil
}

// GetLyrics returns the original-language LRC for a track.
func (a *Adapter) GetLyrics(ctx context.Context, trackID string) (string, error) {
	return provider.One(ctx, a.retry, func(ctx context.Context) (string, error) {
		var resp lyricResponse
		if err := a.get(ctx, "/api/song/lyric", trackID, url.Values{
			"id": {trackID},
			"lv": {"-1"},
		}, &resp); err != nil {
			return "", err
		}
		return resp.Lrc.Lyric, nil
	})
}

// GetAudioURL resolves a download URL through the configured resolver.
func (a *Adapter) GetAudioURL(ctx context.Context, trackID string, quality int) (*provider.AudioURL, error) {
	if a.audio == nil {
		return nil, &provider.ErrNotFound{Provider: provider.NameNetEase, ID: trackID}
	}
	return provider.One(ctx, a.retry, func(ctx context.Context) (*provider.AudioURL, error) {
		if err := a.limiter.Wait(ctx, provider.NameNetEase); err != nil {
			return nil, err
		}
		return a.audio.AudioURL(ctx, provider.NameNetEase, trackID, quality)
	})
}

// get issues one rate-limited GET and decodes the envelope-checked body.
func (a *Adapter) get(ctx context.Context, path, id string, params url.Values, dst interface{ code() (int, string) }) error {
	if err := a.limiter.Wait(ctx, provider.NameNetEase); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", provider.UserAgent)
	req.Header.Set("Referer", "https://music.163.com/")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &provider.ErrNetwork{Provider: provider.NameNetEase, Cause: err}
	}
	body, err := provider.ReadResponse(provider.NameNetEase, id, resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &provider.ErrUpstream{
			Provider: provider.NameNetEase,
			Code:     resp.StatusCode,
			Message:  "malformed response: " + err.Error(),
		}
	}
	if code, msg := dst.code(); code != codeOK {
		return &provider.ErrUpstream{Provider: provider.NameNetEase, Code: code, Message: msg}
	}
	return nil
}

func (e *envelope) code() (int, string) {
	msg := e.Message
	if msg == "" {
		msg = e.Msg
	}
	return e.Code, msg
}

func convertSongs(songs []song) []provider.TrackInfo {
	out := make([]provider.TrackInfo, 0, len(songs))
	for _, s := range songs {
		if s.ID == 0 || s.Name == "" {
			continue
		}
		out = append(out, convertSong(s))
	}
	return out
}

func convertSong(s song) provider.TrackInfo {
	artists := s.Ar
	if len(artists) == 0 {
		artists = s.Artists
	}
	names := make([]string, 0, len(artists))
	for _, ar := range artists {
		if ar.Name != "" {
			names = append(names, ar.Name)
		}
	}

	al := s.Al
	if al == nil {
		al = s.Album
	}
	dur := s.Dt
	if dur == 0 {
		dur = s.Duration
	}

	t := provider.TrackInfo{
		Title:    s.Name,
		Artist:   strings.Join(names, ", "),
		Source:   provider.NameNetEase,
		ID:       strconv.FormatInt(s.ID, 10),
		Duration: int(dur / 1000),
	}
	if al != nil {
		t.Album = al.Name
		t.CoverURL = al.PicURL
	}
	if rt, ok := normalize.ParseEpochMillis(s.PublishTime); ok {
		t.ReleaseTime = &rt
	}
	return t
}

func squash(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
