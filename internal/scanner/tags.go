package scanner

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dhowden/tag"

	"github.com/sydlexius/tunevault/internal/normalize"
)

// DefaultArtist names tracks whose file carries no usable artist.
const DefaultArtist = "Unknown Artist"

// rawDateKeys are the raw tag names that may carry a full release date,
// in preference order. ID3v2.4, ID3v2.3, Vorbis and MP4 respectively.
var rawDateKeys = []string{"TDRC", "TYER", "date", "\xa9day"}

// readTags extracts embedded metadata with dhowden/tag. Files without
// tags yield an empty fileMeta and no error.
func readTags(path string) (fileMeta, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from a directory walk
	if err != nil {
		return fileMeta{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	m, err := tag.ReadFrom(f)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return fileMeta{}, nil
	}
	if err != nil {
		return fileMeta{}, fmt.Errorf("reading tags of %s: %w", path, err)
	}

	meta := fileMeta{
		Title:  strings.TrimSpace(m.Title()),
		Artist: strings.TrimSpace(m.Artist()),
		Album:  strings.TrimSpace(m.Album()),
	}
	meta.ReleaseTime = tagDate(m)
	if p := m.Picture(); p != nil && len(p.Data) > 0 {
		meta.Cover = p.Data
	}
	return meta, nil
}

func tagDate(m tag.Metadata) *time.Time {
	raw := m.Raw()
	for _, k := range rawDateKeys {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if t, ok := normalize.ParseDate(s); ok && normalize.ValidYear(t) {
			return &t
		}
	}
	if y := m.Year(); y > 0 {
		t := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		if normalize.ValidYear(t) {
			return &t
		}
	}
	return nil
}

// applyFilenameFallback fills title and artist from an "Artist - Title"
// filename when the tags leave them blank or carry a placeholder artist.
func applyFilenameFallback(meta *fileMeta, path string) {
	fa, ft := normalize.SplitFilename(path)
	if meta.Title == "" {
		meta.Title = ft
	}
	if isPlaceholderArtist(meta.Artist) {
		switch {
		case fa != "":
			meta.Artist = fa
		case strings.Contains(meta.Title, " - "):
			a, t, _ := strings.Cut(meta.Title, " - ")
			meta.Artist, meta.Title = strings.TrimSpace(a), strings.TrimSpace(t)
		default:
			meta.Artist = DefaultArtist
		}
	}
}

func isPlaceholderArtist(a string) bool {
	switch strings.ToLower(strings.TrimSpace(a)) {
	case "", "unknown", "unknown artist":
		return true
	}
	return false
}
