package scanner

import (
	"path/filepath"
	"time"
)

// Result summarizes the outcome of a scan pass.
type Result struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"` // "running", "completed", "failed"
	Incremental bool       `json:"incremental"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FilesSeen   int        `json:"files_seen"`
	NewFiles    int        `json:"new_files_found"`
	Skipped     int        `json:"skipped"`
	Removed     int        `json:"removed_files_count"`
	Error       string     `json:"error,omitempty"`
}

// Dirs are the directories a scan walks. Library is read-only: files
// there are ingested but never moved or deleted.
type Dirs struct {
	Cache     string
	Favorites string
	Library   string
}

// List returns the configured directories, cleaned and de-duplicated.
func (d Dirs) List() []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, p := range []string{d.Cache, d.Favorites, d.Library} {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// fileMeta is what a scan learns about one audio file.
type fileMeta struct {
	Title       string
	Artist      string
	Album       string
	ReleaseTime *time.Time
	Cover       []byte
}
