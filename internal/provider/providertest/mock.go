// Package providertest provides a configurable Provider for tests of
// packages built on top of the adapters.
package providertest

import (
	"context"
	"sync"

	"github.com/sydlexius/tunevault/internal/provider"
)

// Mock implements provider.Provider with optional function fields. A nil
// field returns an empty result. Calls are counted per method.
type Mock struct {
	ProviderName provider.ProviderName

	SearchArtistFn     func(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error)
	SearchTrackFn      func(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error)
	ListArtistTracksFn func(ctx context.Context, artistID string, limit int) ([]provider.TrackInfo, error)
	GetTrackMetadataFn func(ctx context.Context, trackID string) (*provider.TrackMetadata, error)
	GetLyricsFn        func(ctx context.Context, trackID string) (string, error)
	GetAudioURLFn      func(ctx context.Context, trackID string, quality int) (*provider.AudioURL, error)

	mu    sync.Mutex
	calls map[string]int
}

// New returns a Mock named name.
func New(name provider.ProviderName) *Mock {
	return &Mock{ProviderName: name}
}

func (m *Mock) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how often method was invoked.
func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Mock) Name() provider.ProviderName { return m.ProviderName }

func (m *Mock) SearchArtist(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error) {
	m.count("SearchArtist")
	if m.SearchArtistFn == nil {
		return nil, nil
	}
	return m.SearchArtistFn(ctx, keyword, limit)
}

func (m *Mock) SearchTrack(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error) {
	m.count("SearchTrack")
	if m.SearchTrackFn == nil {
		return nil, nil
	}
	return m.SearchTrackFn(ctx, keyword, limit)
}

func (m *Mock) ListArtistTracks(ctx context.Context, artistID string, limit int) ([]provider.TrackInfo, error) {
	m.count("ListArtistTracks")
	if m.ListArtistTracksFn == nil {
		return nil, nil
	}
	return m.ListArtistTracksFn(ctx, artistID, limit)
}

func (m *Mock) GetTrackMetadata(ctx context.Context, trackID string) (*provider.TrackMetadata, error) {
	m.count("GetTrackMetadata")
	if m.GetTrackMetadataFn == nil {
		return nil, &provider.ErrNotFound{Provider: m.ProviderName, ID: trackID}
	}
	return m.GetTrackMetadataFn(ctx, trackID)
}

func (m *Mock) GetLyrics(ctx context.Context, trackID string) (string, error) {
	m.count("GetLyrics")
	if m.GetLyricsFn == nil {
		return "", nil
	}
	return m.GetLyricsFn(ctx, trackID)
}

func (m *Mock) GetAudioURL(ctx context.Context, trackID string, quality int) (*provider.AudioURL, error) {
	m.count("GetAudioURL")
	if m.GetAudioURLFn == nil {
		return nil, &provider.ErrNotFound{Provider: m.ProviderName, ID: trackID}
	}
	return m.GetAudioURLFn(ctx, trackID, quality)
}

// Tracks returns a SearchTrackFn or ListArtistTracksFn serving ts for any
// input.
func Tracks(ts ...provider.TrackInfo) func(context.Context, string, int) ([]provider.TrackInfo, error) {
	return func(context.Context, string, int) ([]provider.TrackInfo, error) {
		return ts, nil
	}
}

// Registry registers ms in order.
func Registry(ms ...*Mock) *provider.Registry {
	r := provider.NewRegistry()
	for _, m := range ms {
		r.Register(m)
	}
	return r
}
