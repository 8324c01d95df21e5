package catalog

import "github.com/sydlexius/tunevault/internal/provider"

// Page is (page, page_size) pagination. Skip and Limit are the legacy
// offset form; when Limit is set it takes precedence.
type Page struct {
	Page     int
	PageSize int
	Skip     int
	Limit    int
}

// Normalize resolves the legacy form and clamps page sizes.
func (p *Page) Normalize() {
	if p.Limit > 0 {
		p.PageSize = p.Limit
		if p.Skip < 0 {
			p.Skip = 0
		}
		p.Page = p.Skip/p.Limit + 1
		p.Skip, p.Limit = 0, 0
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 500 {
		p.PageSize = 50
	}
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// TrackListParams filters track listings.
type TrackListParams struct {
	Page
	ArtistID  string
	Status    Status
	Search    string
	Favorite  *bool
	LocalOnly bool
	Sort      string
	Order     string
}

// Validate normalizes pagination and sort options.
func (p *TrackListParams) Validate() {
	p.Normalize()
	switch p.Sort {
	case "title", "release_time", "created_at", "album":
		// valid
	default:
		p.Sort = "release_time"
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
}

// ArtistListParams filters artist listings.
type ArtistListParams struct {
	Page
	Search        string
	MonitoredOnly bool
}

// DownloadListParams filters the download history.
type DownloadListParams struct {
	Page
	Source provider.ProviderName
	Status string
	Artist string
}
