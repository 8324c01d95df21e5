// Package tagger writes and reads embedded tags (title, artist, album,
// date, cover and lyrics) through TagLib, which maps the common keys onto
// ID3v2 frames, Vorbis comments and MP4 atoms as appropriate.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.senan.xyz/taglib"
	"golang.org/x/sync/semaphore"

	"github.com/sydlexius/tunevault/internal/audioinfo"
)

// DefaultWorkers is the number of concurrent disk operations.
const DefaultWorkers = 4

// ErrUnsupported is returned for files outside the managed formats.
var ErrUnsupported = errors.New("unsupported audio format")

// Bundle is the metadata to embed. Empty fields leave the existing tag
// untouched.
type Bundle struct {
	Title  string
	Artist string
	Album  string
	Date   *time.Time
	Cover  []byte
	Lyrics string
}

// Empty reports whether the bundle would write nothing.
func (b Bundle) Empty() bool {
	return b.Title == "" && b.Artist == "" && b.Album == "" && b.Date == nil &&
		len(b.Cover) == 0 && b.Lyrics == ""
}

// Tags is what Read extracts from a file.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Date   string
	Lyrics string
}

// Tagger bounds concurrent tag I/O.
type Tagger struct {
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New creates a Tagger running at most workers operations at once.
func New(workers int, logger *slog.Logger) *Tagger {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Tagger{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger.With(slog.String("component", "tagger")),
	}
}

// Write embeds b into the file at path.
func (t *Tagger) Write(ctx context.Context, path string, b Bundle) error {
	if !audioinfo.IsAudio(path) {
		return fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	if b.Empty() {
		return nil
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	if tags := tagMap(b); len(tags) > 0 {
		if err := taglib.WriteTags(path, tags, 0); err != nil {
			return fmt.Errorf("writing tags: %w", err)
		}
	}
	if len(b.Cover) > 0 {
		if err := taglib.WriteImage(path, b.Cover); err != nil {
			return fmt.Errorf("writing cover: %w", err)
		}
	}
	t.logger.Debug("tags written",
		slog.String("path", path),
		slog.Bool("cover", len(b.Cover) > 0),
		slog.Bool("lyrics", b.Lyrics != ""))
	return nil
}

// Read returns the basic tags of the file at path.
func (t *Tagger) Read(ctx context.Context, path string) (Tags, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return Tags{}, err
	}
	defer t.sem.Release(1)

	raw, err := taglib.ReadTags(path)
	if err != nil {
		return Tags{}, fmt.Errorf("reading tags: %w", err)
	}
	return Tags{
		Title:  first(raw, taglib.Title),
		Artist: first(raw, taglib.Artist),
		Album:  first(raw, taglib.Album),
		Date:   first(raw, taglib.Date),
		Lyrics: first(raw, taglib.Lyrics),
	}, nil
}

// ReadCover returns the first embedded picture, or nil.
func (t *Tagger) ReadCover(ctx context.Context, path string) ([]byte, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	img, err := taglib.ReadImage(path)
	if err != nil {
		return nil, fmt.Errorf("reading cover: %w", err)
	}
	return img, nil
}

func tagMap(b Bundle) map[string][]string {
	tags := make(map[string][]string)
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			tags[key] = []string{v}
		}
	}
	set(taglib.Title, b.Title)
	set(taglib.Artist, b.Artist)
	set(taglib.Album, b.Album)
	if b.Date != nil {
		set(taglib.Date, b.Date.Format("2006-01-02"))
	}
	set(taglib.Lyrics, b.Lyrics)
	return tags
}

func first(tags map[string][]string, key string) string {
	if v := tags[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
