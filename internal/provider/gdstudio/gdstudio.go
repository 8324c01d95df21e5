// Package gdstudio talks to the GDStudio aggregation API, which proxies
// search, lyrics, artwork and audio URLs for several Chinese platforms
// behind a single endpoint. The downloader uses the Client directly;
// platforms with no first-party adapter are exposed through Adapter.
package gdstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sydlexius/tunevault/internal/provider"
)

const defaultBaseURL = "https://music-api.gdstudio.xyz/api.php"

// upstreamSources maps provider names onto the API's source keys.
var upstreamSources = map[provider.ProviderName]string{
	provider.NameQQMusic: "tencent",
	provider.NameNetEase: "netease",
	provider.NameKugou:   "kugou",
	provider.NameKuwo:    "kuwo",
	provider.NameMigu:    "migu",
}

// UpstreamSource returns the API source key for name, or "" if the API
// does not serve that platform.
func UpstreamSource(name provider.ProviderName) string {
	return upstreamSources[name]
}

// Client issues single-attempt requests against the API. Callers own
// pacing and retries.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a Client with the default endpoint.
func New(logger *slog.Logger) *Client {
	return NewWithBaseURL(logger, defaultBaseURL)
}

// NewWithBaseURL creates a Client with a custom endpoint (for testing).
func NewWithBaseURL(logger *slog.Logger, baseURL string) *Client {
	return &Client{
		client:  provider.NewHTTPClient(provider.DefaultTimeout),
		logger:  logger.With(slog.String("provider", "gdstudio")),
		baseURL: baseURL,
	}
}

// Search finds tracks on the given platform.
func (c *Client) Search(ctx context.Context, source provider.ProviderName, keyword string, limit int) ([]provider.TrackInfo, error) {
	src, err := c.source(source)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"types":  {"search"},
		"count":  {strconv.Itoa(limit)},
		"source": {src},
		"pages":  {"1"},
		"name":   {keyword},
	}

	var hits []searchHit
	if err := c.get(ctx, source, keyword, params, &hits); err != nil {
		return nil, err
	}

	out := make([]provider.TrackInfo, 0, len(hits))
	for _, h := range hits {
		id := string(h.ID)
		if id == "" {
			continue
		}
		out = append(out, provider.TrackInfo{
			Title:  h.Name,
			Artist: strings.Join(h.Artist, ", "),
			Album:  h.Album,
			Source: source,
			ID:     id,
		})
	}
	c.logger.Debug("search completed",
		slog.String("source", string(source)),
		slog.String("query", keyword),
		slog.Int("results", len(out)))
	return out, nil
}

// AudioURL resolves a playable URL. An empty URL in the response means
// the platform refused the track at every bitrate and is ErrNotFound.
func (c *Client) AudioURL(ctx context.Context, source provider.ProviderName, id string, quality int) (*provider.AudioURL, error) {
	src, err := c.source(source)
	if err != nil {
		return nil, err
	}
	if quality <= 0 {
		quality = provider.QualityLossless
	}
	params := url.Values{
		"types":  {"url"},
		"source": {src},
		"id":     {id},
		"br":     {strconv.Itoa(quality)},
	}

	var resp urlResponse
	if err := c.get(ctx, source, id, params, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &provider.ErrNotFound{Provider: source, ID: id}
	}

	br := int(resp.Br.float())
	return &provider.AudioURL{
		URL:     resp.URL,
		Bitrate: br,
		Format:  formatFor(resp.URL, br),
		Size:    int64(resp.Size.float()),
	}, nil
}

// Lyrics returns the LRC text for a track, or "" when there is none.
func (c *Client) Lyrics(ctx context.Context, source provider.ProviderName, id string) (string, error) {
	src, err := c.source(source)
	if err != nil {
		return "", err
	}
	params := url.Values{
		"types":  {"lyric"},
		"source": {src},
		"id":     {id},
	}
	var resp lyricResponse
	if err := c.get(ctx, source, id, params, &resp); err != nil {
		return "", err
	}
	return resp.Lyric, nil
}

// PictureURL resolves artwork for a picture id at the given edge size.
func (c *Client) PictureURL(ctx context.Context, source provider.ProviderName, picID string, size int) (string, error) {
	src, err := c.source(source)
	if err != nil {
		return "", err
	}
	if size <= 0 {
		size = 500
	}
	params := url.Values{
		"types":  {"pic"},
		"source": {src},
		"id":     {picID},
		"size":   {strconv.Itoa(size)},
	}
	var resp picResponse
	if err := c.get(ctx, source, picID, params, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) source(name provider.ProviderName) (string, error) {
	src := UpstreamSource(name)
	if src == "" {
		return "", &provider.ErrValidation{Field: "source", Reason: fmt.Sprintf("%s is not served by gdstudio", name)}
	}
	return src, nil
}

func (c *Client) get(ctx context.Context, source provider.ProviderName, id string, params url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", provider.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &provider.ErrNetwork{Provider: source, Cause: err}
	}
	body, err := provider.ReadResponse(source, id, resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &provider.ErrUpstream{Provider: source, Code: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// formatFor picks the container from the URL extension, falling back to
// the reported bitrate.
func formatFor(rawURL string, br int) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	switch {
	case strings.HasSuffix(p, ".flac"):
		return "flac"
	case strings.HasSuffix(p, ".mp3"):
		return "mp3"
	case strings.HasSuffix(p, ".m4a"):
		return "m4a"
	case br > provider.QualityHigh:
		return "flac"
	default:
		return "mp3"
	}
}
