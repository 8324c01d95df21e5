package gdstudio

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sydlexius/tunevault/internal/provider"
)

// Adapter exposes one GDStudio-proxied platform as a provider.Provider.
// The API has no artist or track-detail endpoints, so artist search and
// listing degrade to empty and metadata lookups report ErrNotFound.
type Adapter struct {
	name    provider.ProviderName
	client  *Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	retry   provider.RetryPolicy
}

// NewAdapter wraps client for the given platform.
func NewAdapter(name provider.ProviderName, client *Client, limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return &Adapter{
		name:    name,
		client:  client,
		limiter: limiter,
		logger:  logger.With(slog.String("provider", string(name))),
		retry:   provider.DefaultRetryPolicy,
	}
}

// SetRetryPolicy overrides the default retry policy.
func (a *Adapter) SetRetryPolicy(p provider.RetryPolicy) { a.retry = p }

// Name returns the provider identifier.
func (a *Adapter) Name() provider.ProviderName { return a.name }

// SearchArtist is not served by the API.
func (a *Adapter) SearchArtist(_ context.Context, keyword string, _ int) ([]provider.ArtistInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	return nil, nil
}

// SearchTrack searches the platform through the proxy.
func (a *Adapter) SearchTrack(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	return provider.List(ctx, a.retry, a.logger, "search_track", func(ctx context.Context) ([]provider.TrackInfo, error) {
		if err := a.limiter.Wait(ctx, a.name); err != nil {
			return nil, err
		}
		return a.client.Search(ctx, a.name, keyword, limit)
	}), nil
}

// ListArtistTracks is not served by the API.
func (a *Adapter) ListArtistTracks(context.Context, string, int) ([]provider.TrackInfo, error) {
	return nil, nil
}

// GetTrackMetadata is not served by the API.
func (a *Adapter) GetTrackMetadata(_ context.Context, trackID string) (*provider.TrackMetadata, error) {
	return nil, &provider.ErrNotFound{Provider: a.name, ID: trackID}
}

// GetLyrics fetches lyrics through the proxy.
func (a *Adapter) GetLyrics(ctx context.Context, trackID string) (string, error) {
	return provider.One(ctx, a.retry, func(ctx context.Context) (string, error) {
		if err := a.limiter.Wait(ctx, a.name); err != nil {
			return "", err
		}
		return a.client.Lyrics(ctx, a.name, trackID)
	})
}

// GetAudioURL resolves a download URL through the proxy.
func (a *Adapter) GetAudioURL(ctx context.Context, trackID string, quality int) (*provider.AudioURL, error) {
	return provider.One(ctx, a.retry, func(ctx context.Context) (*provider.AudioURL, error) {
		if err := a.limiter.Wait(ctx, a.name); err != nil {
			return nil, err
		}
		return a.client.AudioURL(ctx, a.name, trackID, quality)
	})
}
