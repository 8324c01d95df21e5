package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderName uniquely identifies a streaming platform.
type ProviderName string

// Known provider names.
const (
	NameQQMusic ProviderName = "qqmusic"
	NameNetEase ProviderName = "netease"
	NameKugou   ProviderName = "kugou"
	NameKuwo    ProviderName = "kuwo"
	NameMigu    ProviderName = "migu"

	// SourceLocal tags catalog sources that point at files on disk. It is
	// never registered as an adapter.
	SourceLocal ProviderName = "local"
)

// AllProviderNames returns all known provider names in display order.
func AllProviderNames() []ProviderName {
	return []ProviderName{NameQQMusic, NameNetEase, NameKugou, NameKuwo, NameMigu}
}

// DisplayName returns a human-readable name for the provider.
func (n ProviderName) DisplayName() string {
	switch n {
	case NameQQMusic:
		return "QQ Music"
	case NameNetEase:
		return "NetEase Cloud Music"
	case NameKugou:
		return "Kugou"
	case NameKuwo:
		return "Kuwo"
	case NameMigu:
		return "Migu"
	case SourceLocal:
		return "Local"
	default:
		return string(n)
	}
}

// ParseName validates a user-supplied source name.
func ParseName(s string) (ProviderName, error) {
	n := ProviderName(s)
	for _, known := range AllProviderNames() {
		if n == known {
			return n, nil
		}
	}
	if n == SourceLocal {
		return n, nil
	}
	return "", &ErrValidation{Field: "source", Reason: fmt.Sprintf("unknown source %q", s)}
}

// Audio quality levels accepted by GetAudioURL, in kbps. QualityLossless
// asks for the best the platform can serve.
const (
	QualityStandard = 128
	QualityHigh     = 320
	QualityLossless = 999
)

// ArtistInfo is an artist hit from a provider search.
type ArtistInfo struct {
	Name      string                  `json:"name"`
	Source    ProviderName            `json:"source"`
	ID        string                  `json:"id"`
	Avatar    string                  `json:"avatar,omitempty"`
	SongCount int                     `json:"song_count"`
	ExtraIDs  map[ProviderName]string `json:"extra_ids,omitempty"`
}

// TrackInfo is a track as listed by a provider.
type TrackInfo struct {
	Title       string       `json:"title"`
	Artist      string       `json:"artist"`
	Album       string       `json:"album,omitempty"`
	Source      ProviderName `json:"source"`
	ID          string       `json:"id"`
	CoverURL    string       `json:"cover_url,omitempty"`
	Duration    int          `json:"duration,omitempty"` // seconds
	ReleaseTime *time.Time   `json:"release_time,omitempty"`
}

// TrackMetadata is the full metadata a provider returns for one track.
type TrackMetadata struct {
	Title       string       `json:"title,omitempty"`
	Artist      string       `json:"artist,omitempty"`
	Album       string       `json:"album,omitempty"`
	Source      ProviderName `json:"source"`
	ID          string       `json:"id"`
	CoverURL    string       `json:"cover_url,omitempty"`
	ReleaseTime *time.Time   `json:"release_time,omitempty"`
	Lyrics      string       `json:"lyrics,omitempty"`
}

// AudioURL is a short-lived playable URL and what it is expected to carry.
type AudioURL struct {
	URL     string `json:"url"`
	Bitrate int    `json:"bitrate"` // kbps; lossless sources report >320
	Format  string `json:"format"`  // file extension without dot
	Size    int64  `json:"size,omitempty"`
}

// Provider is the capability set every platform adapter implements.
// Implementations must be safe for concurrent use and must bound every
// call in time. Searches and listings degrade to an empty result once
// retries are exhausted; single-item lookups return an error.
type Provider interface {
	// Name returns the unique provider identifier.
	Name() ProviderName

	SearchArtist(ctx context.Context, keyword string, limit int) ([]ArtistInfo, error)
	SearchTrack(ctx context.Context, keyword string, limit int) ([]TrackInfo, error)
	ListArtistTracks(ctx context.Context, artistID string, limit int) ([]TrackInfo, error)

	// GetTrackMetadata fetches album, cover, release time and, when the
	// platform serves them inline, lyrics.
	GetTrackMetadata(ctx context.Context, trackID string) (*TrackMetadata, error)

	// GetLyrics returns LRC text, or "" when the platform has none.
	GetLyrics(ctx context.Context, trackID string) (string, error)

	// GetAudioURL resolves a download URL at the requested quality.
	// Providers that cannot serve audio return ErrNotFound.
	GetAudioURL(ctx context.Context, trackID string, quality int) (*AudioURL, error)
}

// ErrNetwork is a transport failure, timeout or server-side 5xx. It is
// retriable. StatusCode is zero for transport failures.
type ErrNetwork struct {
	Provider   ProviderName
	StatusCode int
	Cause      error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("provider %s network error: %v", e.Provider, e.Cause)
}

func (e *ErrNetwork) Unwrap() error { return e.Cause }

// ErrRateLimited indicates upstream throttling or a local limiter that
// could not be satisfied before the deadline.
type ErrRateLimited struct {
	Provider   ProviderName
	RetryAfter time.Duration
	Cause      error
}

func (e *ErrRateLimited) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

func (e *ErrRateLimited) Unwrap() error { return e.Cause }

// ErrNotFound indicates the provider has no data for the requested ID.
type ErrNotFound struct {
	Provider ProviderName
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("provider %s: %s not found", e.Provider, e.ID)
}

// ErrUpstream is a well-formed response carrying a non-benign error code.
type ErrUpstream struct {
	Provider ProviderName
	Code     int
	Message  string
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("provider %s returned code %d: %s", e.Provider, e.Code, e.Message)
}

// ErrValidation is a caller input error (unknown source, empty keyword).
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var netErr *ErrNetwork
	var rlErr *ErrRateLimited
	return errors.As(err, &netErr) || errors.As(err, &rlErr)
}
