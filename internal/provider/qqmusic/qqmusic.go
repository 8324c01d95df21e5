// Package qqmusic implements provider.Provider for QQ Music.
//
// Metadata comes from the musicu.fcg gateway, which multiplexes backend
// modules behind one POST endpoint. Lyrics use the legacy cookie-free
// lyric CGI, which returns base64-encoded LRC.
package qqmusic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

const (
	defaultMusicuURL = "https://u.y.qq.com/cgi-bin/musicu.fcg"
	defaultLyricURL  = "https://c.y.qq.com/lyric/fcgi-bin/fcg_query_lyric_new.fcg"

	musicuPath = "/cgi-bin/musicu.fcg"
	lyricPath  = "/lyric/fcgi-bin/fcg_query_lyric_new.fcg"

	coverURLFormat  = "https://y.gtimg.cn/music/photo_new/T002R300x300M000%s.jpg"
	avatarURLFormat = "https://y.gtimg.cn/music/photo_new/T001R300x300M000%s.jpg"

	// emptyAlbumMid marks singles with no album artwork.
	emptyAlbumMid = "00000000000000"
)

// benignCodes are gateway codes that still carry usable data. 2001 is
// returned for unauthenticated sessions on otherwise successful searches.
var benignCodes = map[int]bool{0: true, 2001: true}

// AudioResolver resolves playable URLs on behalf of the adapter.
type AudioResolver interface {
	AudioURL(ctx context.Context, source provider.ProviderName, id string, quality int) (*provider.AudioURL, error)
}

// Adapter implements provider.Provider for QQ Music.
type Adapter struct {
	client    *http.Client
	limiter   *provider.RateLimiterMap
	logger    *slog.Logger
	musicuURL string
	lyricURL  string
	retry     provider.RetryPolicy
	audio     AudioResolver
}

// New creates a QQ Music adapter against the production hosts.
func New(limiter *provider.RateLimiterMap, audio AudioResolver, logger *slog.Logger) *Adapter {
	a := newAdapter(limiter, audio, logger)
	a.musicuURL = defaultMusicuURL
	a.lyricURL = defaultLyricURL
	return a
}

// NewWithBaseURL creates an adapter serving both endpoints from baseURL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, audio AudioResolver, logger *slog.Logger, baseURL string) *Adapter {
	baseURL = strings.TrimRight(baseURL, "/")
	a := newAdapter(limiter, audio, logger)
	a.musicuURL = baseURL + musicuPath
	a.lyricURL = baseURL + lyricPath
	return a
}

func newAdapter(limiter *provider.RateLimiterMap, audio AudioResolver, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:  provider.NewHTTPClient(provider.DefaultTimeout),
		limiter: limiter,
		logger:  logger.With(slog.String("provider", string(provider.NameQQMusic))),
		retry:   provider.DefaultRetryPolicy,
		audio:   audio,
	}
}

// SetRetryPolicy overrides the default retry policy.
func (a *Adapter) SetRetryPolicy(p provider.RetryPolicy) { a.retry = p }

// Name returns the provider identifier.
func (a *Adapter) Name() provider.ProviderName { return provider.NameQQMusic }

// SearchArtist searches singers. When the singer index yields nothing it
// falls back to a song search and collects the singers credited there.
func (a *Adapter) SearchArtist(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	want := strings.ToLower(keyword)

	return provider.List(ctx, a.retry, a.logger, "search_artist", func(ctx context.Context) ([]provider.ArtistInfo, error) {
		data, err := a.search(ctx, keyword, 1, limit)
		if err != nil {
			return nil, err
		}

		var out []provider.ArtistInfo
		for _, s := range data.Body.Singer.List {
			if s.SingerMID == "" || !strings.Contains(strings.ToLower(s.SingerName), want) {
				continue
			}
			out = append(out, provider.ArtistInfo{
				Name:      s.SingerName,
				Source:    provider.NameQQMusic,
				ID:        s.SingerMID,
				Avatar:    avatarURL(s.SingerMID),
				SongCount: s.SongNum,
			})
		}
		if len(out) > 0 {
			return out, nil
		}

		a.logger.Debug("singer search empty, falling back to song search",
			slog.String("query", keyword))
		songs, err := a.search(ctx, keyword, 0, limit)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, song := range songs.Body.Song.List {
			for _, s := range song.Singer {
				if s.Mid == "" || seen[s.Mid] || !strings.Contains(strings.ToLower(s.Name), want) {
					continue
				}
				seen[s.Mid] = true
				out = append(out, provider.ArtistInfo{
					Name:   s.Name,
					Source: provider.NameQQMusic,
					ID:     s.Mid,
					Avatar: avatarURL(s.Mid),
				})
			}
		}
		return out, nil
	}), nil
}

// SearchTrack searches songs by keyword.
func (a *Adapter) SearchTrack(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	return provider.List(ctx, a.retry, a.logger, "search_track", func(ctx context.Context) ([]provider.TrackInfo, error) {
		data, err := a.search(ctx, keyword, 0, limit)
		if err != nil {
			return nil, err
		}
		return a.convertSongs(data.Body.Song.List), nil
	}), nil
}

// ListArtistTracks lists a singer's songs, newest first. The artist id is
// the singer mid.
func (a *Adapter) ListArtistTracks(ctx context.Context, artistID string, limit int) ([]provider.TrackInfo, error) {
	if artistID == "" {
		return nil, &provider.ErrValidation{Field: "artist_id", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 1000
	}
	return provider.List(ctx, a.retry, a.logger, "list_artist_tracks", func(ctx context.Context) ([]provider.TrackInfo, error) {
		var data singerSongsData
		if err := a.call(ctx, artistID, subRequest{
			Module: "musichall.song_list_server",
			Method: "GetSingerSongList",
			Param: map[string]any{
				"singerMid": artistID,
				"begin":     0,
				"num":       limit,
				"order":     1,
			},
		}, &data); err != nil {
			return nil, err
		}
		songs := make([]songInfo, 0, len(data.SongList))
		for _, s := range data.SongList {
			songs = append(songs, s.SongInfo)
		}
		tracks := a.convertSongs(songs)
		a.logger.Debug("artist tracks listed",
			slog.String("artist_id", artistID),
			slog.Int("tracks", len(tracks)))
		return tracks, nil
	}), nil
}

// GetTrackMetadata fetches song detail and lyrics. A lyrics failure does
// not fail the lookup.
func (a *Adapter) GetTrackMetadata(ctx context.Context, trackID string) (*provider.TrackMetadata, error) {
	if trackID == "" {
		return nil, &provider.ErrValidation{Field: "track_id", Reason: "empty"}
	}
	info, err := provider.One(ctx, a.retry, func(ctx context.Context) (*songInfo, error) {
		var data detailData
		if err := a.call(ctx, trackID, subRequest{
			Module: "music.pf_song_detail_svr",
			Method: "get_song_detail_yqq",
			Param:  map[string]any{"song_mid": trackID},
		}, &data); err != nil {
			return nil, err
		}
		if data.TrackInfo.Mid == "" && data.TrackInfo.ID == 0 {
			return nil, &provider.ErrNotFound{Provider: provider.NameQQMusic, ID: trackID}
		}
		return &data.TrackInfo, nil
	})
	if err != nil {
		return nil, err
	}

	t := convertSong(*info)
	meta := &provider.TrackMetadata{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		Source:      provider.NameQQMusic,
		ID:          trackID,
		CoverURL:    t.CoverURL,
		ReleaseTime: t.ReleaseTime,
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

// GetLyrics fetches LRC through the legacy lyric CGI.
func (a *Adapter) GetLyrics(ctx context.Context, trackID string) (string, error) {
	return provider.One(ctx, a.retry, func(ctx context.Context) (string, error) {
		if err := a.limiter.Wait(ctx, provider.NameQQMusic); err != nil {
			return "", err
		}
		params := url.Values{
			"songmid":     {trackID},
			"g_tk":        {"5381"},
			"loginUin":    {"0"},
			"hostUin":     {"0"},
			"format":      {"json"},
			"inCharset":   {"utf8"},
			"outCharset":  {"utf-8"},
			"notice":      {"0"},
			"platform":    {"yqq.json"},
			"needNewCode": {"0"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.lyricURL+"?"+params.Encode(), nil)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", provider.UserAgent)
		req.Header.Set("Referer", "https://y.qq.com/")

		resp, err := a.client.Do(req)
		if err != nil {
			return "", &provider.ErrNetwork{Provider: provider.NameQQMusic, Cause: err}
		}
		body, err := provider.ReadResponse(provider.NameQQMusic, trackID, resp)
		if err != nil {
			return "", err
		}

		var lr legacyLyricResponse
		if err := json.Unmarshal(body, &lr); err != nil {
			return "", &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: resp.StatusCode, Message: "malformed lyric response"}
		}
		if lr.Lyric == "" {
			return "", nil
		}
		raw, err := base64.StdEncoding.DecodeString(lr.Lyric)
		if err != nil {
			return "", &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: lr.RetCode, Message: "lyric is not base64"}
		}
		return string(raw), nil
	})
}

// GetAudioURL resolves a download URL through the configured resolver.
func (a *Adapter) GetAudioURL(ctx context.Context, trackID string, quality int) (*provider.AudioURL, error) {
	if a.audio == nil {
		return nil, &provider.ErrNotFound{Provider: provider.NameQQMusic, ID: trackID}
	}
	return provider.One(ctx, a.retry, func(ctx context.Context) (*provider.AudioURL, error) {
		if err := a.limiter.Wait(ctx, provider.NameQQMusic); err != nil {
			return nil, err
		}
		return a.audio.AudioURL(ctx, provider.NameQQMusic, trackID, quality)
	})
}

// search issues a desktop search. searchType 0 is songs, 1 is singers.
func (a *Adapter) search(ctx context.Context, keyword string, searchType, limit int) (*searchData, error) {
	var data searchData
	err := a.call(ctx, keyword, subRequest{
		Module: "music.search.SearchCgiService",
		Method: "DoSearchForQQMusicDesktop",
		Param: map[string]any{
			"query":        keyword,
			"num_per_page": limit,
			"page_num":     1,
			"search_type":  searchType,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// call POSTs one sub-request to the gateway and decodes its data block.
func (a *Adapter) call(ctx context.Context, id string, sub subRequest, dst any) error {
	if err := a.limiter.Wait(ctx, provider.NameQQMusic); err != nil {
		return err
	}

	payload, err := json.Marshal(musicuRequest{
		Comm: map[string]any{"ct": 24, "cv": 0},
		Req:  sub,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.musicuURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", provider.UserAgent)
	req.Header.Set("Referer", "https://y.qq.com/")

	resp, err := a.client.Do(req)
	if err != nil {
		return &provider.ErrNetwork{Provider: provider.NameQQMusic, Cause: err}
	}
	body, err := provider.ReadResponse(provider.NameQQMusic, id, resp)
	if err != nil {
		return err
	}

	var env musicuResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if !benignCodes[env.Code] {
		return &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: env.Code, Message: sub.Method}
	}
	if !benignCodes[env.Req.Code] {
		return &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: env.Req.Code, Message: sub.Method}
	}
	if len(env.Req.Data) == 0 || string(env.Req.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Req.Data, dst); err != nil {
		return &provider.ErrUpstream{Provider: provider.NameQQMusic, Code: env.Req.Code, Message: "malformed data: " + err.Error()}
	}
	return nil
}

// convertSongs maps gateway songs and drops feed noise: titles starting
// with '#' are posts, and album-less titles over 50 characters are
// activity blurbs rather than tracks.
func (a *Adapter) convertSongs(songs []songInfo) []provider.TrackInfo {
	out := make([]provider.TrackInfo, 0, len(songs))
	for _, s := range songs {
		t := convertSong(s)
		if t.ID == "" || t.Title == "" {
			continue
		}
		if strings.HasPrefix(t.Title, "#") || (t.Album == "" && len([]rune(t.Title)) > 50) {
			a.logger.Debug("dropping noise entry", slog.String("title", t.Title))
			continue
		}
		out = append(out, t)
	}
	return out
}

func convertSong(s songInfo) provider.TrackInfo {
	title := s.Title
	if title == "" {
		title = s.Name
	}
	names := make([]string, 0, len(s.Singer))
	for _, sg := range s.Singer {
		if sg.Name != "" {
			names = append(names, sg.Name)
		}
	}
	t := provider.TrackInfo{
		Title:    title,
		Artist:   strings.Join(names, ", "),
		Album:    s.Album.Name,
		Source:   provider.NameQQMusic,
		ID:       s.Mid,
		CoverURL: coverURL(s.Album.Mid),
		Duration: s.Interval,
	}
	if rt, ok := normalize.ParseDate(s.TimePublic); ok {
		t.ReleaseTime = &rt
	}
	return t
}

func coverURL(albumMid string) string {
	if albumMid == "" || albumMid == emptyAlbumMid {
		return ""
	}
	return fmt.Sprintf(coverURLFormat, albumMid)
}

func avatarURL(singerMid string) string {
	if singerMid == "" {
		return ""
	}
	return fmt.Sprintf(avatarURLFormat, singerMid)
}
