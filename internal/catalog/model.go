package catalog

import (
	"encoding/json"
	"time"

	"github.com/sydlexius/tunevault/internal/provider"
)

// Status is the download state of a track.
type Status string

// Track statuses.
const (
	StatusPending    Status = "PENDING"
	StatusDownloaded Status = "DOWNLOADED"
	StatusError      Status = "ERROR"
)

// Artist is the display-level entity a user subscribes to. Name is the
// matching identity and is unique.
type Artist struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Avatar          string         `json:"avatar"`
	IsMonitored     bool           `json:"is_monitored"`
	LastRefreshedAt *time.Time     `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Sources         []ArtistSource `json:"sources,omitempty"`
}

// ArtistSource binds an artist to one platform id.
type ArtistSource struct {
	ID        string                `json:"id"`
	ArtistID  string                `json:"artist_id"`
	Source    provider.ProviderName `json:"source"`
	SourceID  string                `json:"source_id"`
	Avatar    string                `json:"avatar,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Track is the logical song entity. Empty Album, Cover and LocalPath are
// stored as NULL.
type Track struct {
	ID           string        `json:"id"`
	ArtistID     string        `json:"artist_id"`
	ArtistName   string        `json:"artist_name,omitempty"`
	Title        string        `json:"title"`
	TitleKey     string        `json:"-"`
	Album        string        `json:"album,omitempty"`
	Cover        string        `json:"cover,omitempty"`
	ReleaseTime  *time.Time    `json:"release_time,omitempty"`
	IsFavorite   bool          `json:"is_favorite"`
	Status       Status        `json:"status"`
	LocalPath    string        `json:"local_path,omitempty"`
	LastEnrichAt *time.Time    `json:"last_enrich_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Sources      []TrackSource `json:"sources,omitempty"`
}

// HasOnlineSource reports whether any preloaded source is a platform link.
func (t *Track) HasOnlineSource() bool {
	for _, s := range t.Sources {
		if s.Source != provider.SourceLocal {
			return true
		}
	}
	return false
}

// SourceFor returns the preloaded source for a platform, or nil.
func (t *Track) SourceFor(name provider.ProviderName) *TrackSource {
	for i := range t.Sources {
		if t.Sources[i].Source == name {
			return &t.Sources[i]
		}
	}
	return nil
}

// TrackSource binds a track to one platform id, or to one physical file
// when Source is provider.SourceLocal.
type TrackSource struct {
	ID        string                `json:"id"`
	TrackID   string                `json:"track_id"`
	Source    provider.ProviderName `json:"source"`
	SourceID  string                `json:"source_id"`
	Cover     string                `json:"cover,omitempty"`
	Duration  int                   `json:"duration,omitempty"`
	URL       string                `json:"url,omitempty"`
	Data      SourceData            `json:"data"`
	CreatedAt time.Time             `json:"created_at"`
}

// SourceData is the free-form payload kept in data_json.
type SourceData struct {
	Quality    string `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Path       string `json:"path,omitempty"`
	Album      string `json:"album,omitempty"`
	Lyrics     string `json:"lyrics,omitempty"`
	// PublishTime is the platform's release date as listed, kept for
	// sorting groups during refresh.
	PublishTime *time.Time `json:"publish_time,omitempty"`
}

func marshalData(d SourceData) string {
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalData(s string) SourceData {
	var d SourceData
	if s == "" || s == "{}" {
		return d
	}
	_ = json.Unmarshal([]byte(s), &d)
	return d
}

// DownloadRecord is one row of the download history.
type DownloadRecord struct {
	ID         string                `json:"id"`
	TrackID    string                `json:"track_id,omitempty"`
	Title      string                `json:"title"`
	Artist     string                `json:"artist"`
	Album      string                `json:"album,omitempty"`
	CoverURL   string                `json:"cover_url,omitempty"`
	Source     provider.ProviderName `json:"source"`
	SourceID   string                `json:"source_id"`
	Status     string                `json:"status"`
	Path       string                `json:"path,omitempty"`
	Error      string                `json:"error,omitempty"`
	Quality    string                `json:"quality,omitempty"`
	Size       int64                 `json:"size"`
	DurationMS int64                 `json:"duration_ms"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Download history statuses.
const (
	DownloadSuccess = "success"
	DownloadFailed  = "failed"
)

// DownloadStats summarizes the download history.
type DownloadStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}
