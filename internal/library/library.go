// Package library implements the user-facing catalog operations: favorites
// with their file moves, deletes, downloads from search, redownloads and
// applying a chosen metadata match.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sydlexius/tunevault/internal/audioinfo"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/covers"
	"github.com/sydlexius/tunevault/internal/downloader"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/scanner"
	"github.com/sydlexius/tunevault/internal/tagger"
)

// ErrNotFound is returned when the addressed track, artist or source does
// not exist.
var ErrNotFound = errors.New("not found")

// Downloader fetches audio files.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (*downloader.Result, error)
}

// MetadataSource fetches one platform's metadata for a track.
type MetadataSource interface {
	TrackMetadata(ctx context.Context, source provider.ProviderName, id string) (*provider.TrackMetadata, error)
}

// Healer heals a single track.
type Healer interface {
	HealTrack(ctx context.Context, trackID string) (bool, error)
}

// Service runs library operations.
type Service struct {
	catalog    *catalog.Service
	downloader Downloader
	meta       MetadataSource
	healer     Healer
	tagger     *tagger.Tagger
	covers     *covers.Store
	dirs       scanner.Dirs
	logger     *slog.Logger

	probe func(path string) (audioinfo.Info, audioinfo.Quality)
}

// Deps bundles the collaborators of a Service. Nil Healer, Tagger and
// Covers disable healing and tag embedding.
type Deps struct {
	Catalog    *catalog.Service
	Downloader Downloader
	Metadata   MetadataSource
	Healer     Healer
	Tagger     *tagger.Tagger
	Covers     *covers.Store
	Dirs       scanner.Dirs
}

// New creates a library service.
func New(d Deps, logger *slog.Logger) *Service {
	return &Service{
		catalog:    d.Catalog,
		downloader: d.Downloader,
		meta:       d.Metadata,
		healer:     d.Healer,
		tagger:     d.Tagger,
		covers:     d.Covers,
		dirs:       d.Dirs,
		logger:     logger.With(slog.String("component", "library")),
		probe:      audioinfo.ProbeQuality,
	}
}

func (s *Service) track(ctx context.Context, id string) (*catalog.Track, error) {
	t, err := s.catalog.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// inLibrary reports whether path is under the read-only library.
func (s *Service) inLibrary(path string) bool {
	return filesystem.IsWithin(path, s.dirs.Library)
}

// removable reports whether the service may delete or move path.
func (s *Service) removable(path string) bool {
	return path != "" && !s.inLibrary(path) &&
		(filesystem.IsWithin(path, s.dirs.Cache) || filesystem.IsWithin(path, s.dirs.Favorites))
}

// ToggleFavorite flips the favorite flag. A file in the cache moves to
// favorites on favorite and back on unfavorite; library files never move.
func (s *Service) ToggleFavorite(ctx context.Context, trackID string) (*catalog.Track, error) {
	t, err := s.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	t.IsFavorite = !t.IsFavorite

	from, to := s.dirs.Cache, s.dirs.Favorites
	if !t.IsFavorite {
		from, to = to, from
	}
	if t.LocalPath != "" && !s.inLibrary(t.LocalPath) && filesystem.IsWithin(t.LocalPath, from) &&
		filesystem.FileExists(t.LocalPath) && to != "" {
		rel, err := filepath.Rel(from, t.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("locating %s: %w", t.LocalPath, err)
		}
		dst := filepath.Join(to, rel)
		if err := filesystem.MoveFile(t.LocalPath, dst); err != nil {
			return nil, fmt.Errorf("moving favorite: %w", err)
		}
		if err := s.repointLocal(ctx, t, t.LocalPath, dst); err != nil {
			return nil, err
		}
		s.logger.Info("favorite moved", slog.String("from", t.LocalPath), slog.String("to", dst))
		t.LocalPath = dst
	}
	if err := s.catalog.UpdateTrack(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// repointLocal updates the local source that tracked oldPath.
func (s *Service) repointLocal(ctx context.Context, t *catalog.Track, oldPath, newPath string) error {
	for i := range t.Sources {
		src := &t.Sources[i]
		if src.Source != provider.SourceLocal || (src.Data.Path != oldPath && src.Data.Path != "") {
			continue
		}
		src.Data.Path = newPath
		if err := s.catalog.UpdateTrackSource(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTrack removes a track and, when deleteFile is set, its file
// outside the library.
func (s *Service) DeleteTrack(ctx context.Context, trackID string, deleteFile bool) error {
	t, err := s.track(ctx, trackID)
	if err != nil {
		return err
	}
	if deleteFile {
		s.removeFiles(t)
	}
	return s.catalog.DeleteTrack(ctx, t.ID)
}

// DeleteArtist removes an artist with all tracks and sources.
func (s *Service) DeleteArtist(ctx context.Context, artistID string, deleteFiles bool) error {
	a, err := s.catalog.GetArtist(ctx, artistID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("artist %s: %w", artistID, ErrNotFound)
	}
	if deleteFiles {
		tracks, err := s.catalog.ListArtistTracks(ctx, a.ID)
		if err != nil {
			return err
		}
		for i := range tracks {
			s.removeFiles(&tracks[i])
		}
	}
	s.logger.Info("deleting artist", slog.String("artist", a.Name))
	return s.catalog.DeleteArtist(ctx, a.ID)
}

func (s *Service) removeFiles(t *catalog.Track) {
	paths := map[string]bool{t.LocalPath: true}
	for _, src := range t.Sources {
		if src.Source == provider.SourceLocal {
			paths[src.Data.Path] = true
		}
	}
	for p := range paths {
		if !s.removable(p) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

// DeleteSource removes one track source. Removing the local source that
// backs the track's file clears local_path, so a later scan relinks the
// file if it is still on disk.
func (s *Service) DeleteSource(ctx context.Context, sourceID string) error {
	src, err := s.catalog.GetTrackSourceByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	return s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		if err := tx.DeleteTrackSource(ctx, src.ID); err != nil {
			return err
		}
		if src.Source != provider.SourceLocal {
			return nil
		}
		t, err := tx.GetTrack(ctx, src.TrackID)
		if err != nil || t == nil {
			return err
		}
		if src.Data.Path != "" && src.Data.Path != t.LocalPath {
			return nil
		}
		t.LocalPath = ""
		for _, other := range t.Sources {
			if other.Source == provider.SourceLocal && filesystem.FileExists(other.Data.Path) {
				t.LocalPath = other.Data.Path
				break
			}
		}
		if t.LocalPath == "" {
			t.Status = catalog.StatusPending
		}
		return tx.UpdateTrack(ctx, t)
	})
}

// localSource builds the local link for a downloaded file.
func (s *Service) localSource(trackID, path string) *catalog.TrackSource {
	info, q := s.probe(path)
	return &catalog.TrackSource{
		TrackID:  trackID,
		Source:   provider.SourceLocal,
		SourceID: filepath.Base(path),
		Duration: int(info.Duration / time.Second),
		Data: catalog.SourceData{
			Quality:    string(q),
			Format:     info.Format,
			Bitrate:    info.Bitrate,
			SampleRate: info.SampleRate,
			BitDepth:   info.BitDepth,
			Size:       info.Size,
			Path:       path,
		},
	}
}

// embed writes basic tags and the cover into path. Lyrics are left to the
// healer.
func (s *Service) embed(ctx context.Context, t *catalog.Track, path string) {
	if s.tagger == nil || s.inLibrary(path) {
		return
	}
	b := tagger.Bundle{
		Title:  t.Title,
		Artist: t.ArtistName,
		Album:  t.Album,
	}
	if normalize.ValidDate(t.ReleaseTime) {
		b.Date = t.ReleaseTime
	}
	if t.Cover != "" && s.covers != nil {
		if data, err := s.covers.Load(ctx, t.Cover); err == nil {
			b.Cover = data
		} else {
			s.logger.Debug("cover unavailable for embedding", slog.String("cover", t.Cover), slog.String("error", err.Error()))
		}
	}
	if err := s.tagger.Write(ctx, path, b); err != nil {
		s.logger.Warn("embedding tags failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (s *Service) heal(ctx context.Context, trackID string) {
	if s.healer == nil {
		return
	}
	if _, err := s.healer.HealTrack(ctx, trackID); err != nil {
		s.logger.Warn("healing downloaded track", slog.String("track_id", trackID), slog.String("error", err.Error()))
	}
}
