package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/downloader"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

// DownloadRequest is a search hit the user asked to download.
type DownloadRequest struct {
	Source      provider.ProviderName `json:"source"`
	SourceID    string                `json:"source_id"`
	Title       string                `json:"title"`
	Artist      string                `json:"artist"`
	Album       string                `json:"album,omitempty"`
	CoverURL    string                `json:"cover_url,omitempty"`
	ReleaseTime *time.Time            `json:"release_time,omitempty"`
	Quality     int                   `json:"quality,omitempty"`
}

func (r DownloadRequest) validate() error {
	if _, err := provider.ParseName(string(r.Source)); err != nil || r.Source == provider.SourceLocal {
		return &provider.ErrValidation{Field: "source", Reason: fmt.Sprintf("unknown source %q", r.Source)}
	}
	if strings.TrimSpace(r.SourceID) == "" {
		return &provider.ErrValidation{Field: "source_id", Reason: "required"}
	}
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Artist) == "" {
		return &provider.ErrValidation{Field: "title", Reason: "title and artist are required"}
	}
	return nil
}

// Download creates the artist, track and source of a search hit as
// needed, downloads the audio, links the file and heals the track.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*catalog.Track, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	t, err := s.ensureTrack(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.fetchInto(ctx, t, req.Source, req.SourceID, req.Quality, false); err != nil {
		return t, err
	}
	return s.catalog.GetTrack(ctx, t.ID)
}

// ensureTrack finds or creates the catalog rows for req.
func (s *Service) ensureTrack(ctx context.Context, req DownloadRequest) (*catalog.Track, error) {
	var t *catalog.Track
	err := s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		var err error
		t, err = tx.GetTrackBySource(ctx, req.Source, req.SourceID)
		if err != nil || t != nil {
			return err
		}

		artist, _, err := tx.GetOrCreateArtist(ctx, normalize.PrimaryArtist(req.Artist))
		if err != nil {
			return err
		}
		t, err = tx.GetTrackByKey(ctx, artist.ID, normalize.Key(req.Title))
		if err != nil {
			return err
		}
		if t == nil {
			t = &catalog.Track{
				ArtistID: artist.ID,
				Title:    strings.TrimSpace(req.Title),
				Album:    req.Album,
				Cover:    req.CoverURL,
				Status:   catalog.StatusPending,
			}
			if normalize.ValidDate(req.ReleaseTime) {
				t.ReleaseTime = req.ReleaseTime
			}
			if err := tx.CreateTrack(ctx, t); err != nil {
				return err
			}
		}
		_, err = tx.AddTrackSource(ctx, &catalog.TrackSource{
			TrackID:  t.ID,
			Source:   req.Source,
			SourceID: req.SourceID,
			Cover:    req.CoverURL,
			Data:     catalog.SourceData{Album: req.Album, PublishTime: req.ReleaseTime},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("preparing download: %w", err)
	}
	return s.catalog.GetTrack(ctx, t.ID)
}

// Redownload fetches the track linked to (source, sourceID) again,
// replacing its local file. The previous file is deleted when the new one
// lands elsewhere.
func (s *Service) Redownload(ctx context.Context, source provider.ProviderName, sourceID string, quality int) (*catalog.Track, error) {
	t, err := s.catalog.GetTrackBySource(ctx, source, sourceID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("source %s/%s: %w", source, sourceID, ErrNotFound)
	}
	if err := s.fetchInto(ctx, t, source, sourceID, quality, true); err != nil {
		return t, err
	}
	return s.catalog.GetTrack(ctx, t.ID)
}

// fetchInto downloads audio for t, links the file, records history and
// heals. On failure the track is marked ERROR.
func (s *Service) fetchInto(ctx context.Context, t *catalog.Track, source provider.ProviderName, sourceID string, quality int, force bool) error {
	start := time.Now()
	old := t.LocalPath
	res, err := s.downloader.Download(ctx, downloader.Request{
		Source:   source,
		SourceID: sourceID,
		Quality:  quality,
		Title:    t.Title,
		Artist:   t.ArtistName,
		Album:    t.Album,
		Force:    force,
	})
	rec := &catalog.DownloadRecord{
		TrackID:    t.ID,
		Title:      t.Title,
		Artist:     t.ArtistName,
		Album:      t.Album,
		CoverURL:   t.Cover,
		Source:     source,
		SourceID:   sourceID,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Status = catalog.DownloadFailed
		rec.Error = err.Error()
		s.record(ctx, rec)
		if ctx.Err() == nil {
			t.Status = catalog.StatusError
			if uerr := s.catalog.UpdateTrack(ctx, t); uerr != nil {
				s.logger.Warn("marking track failed", slog.String("track_id", t.ID), slog.String("error", uerr.Error()))
			}
		}
		return err
	}

	path := res.Path
	if t.IsFavorite && !res.Library && filesystem.IsWithin(path, s.dirs.Cache) && s.dirs.Favorites != "" {
		dst := filepath.Join(s.dirs.Favorites, filepath.Base(path))
		if force && dst == old {
			_ = os.Remove(old)
		}
		if err := filesystem.MoveFile(path, dst); err != nil {
			s.logger.Warn("moving download to favorites", slog.String("error", err.Error()))
		} else {
			path = dst
		}
	}

	if !res.Existing {
		s.embed(ctx, t, path)
	}

	err = s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		if force {
			if _, err := tx.DeleteLocalSources(ctx, t.ID); err != nil {
				return err
			}
		}
		if existing, err := tx.GetTrackSource(ctx, provider.SourceLocal, filepath.Base(path)); err != nil {
			return err
		} else if existing == nil || existing.TrackID == t.ID {
			if existing != nil {
				if err := tx.DeleteTrackSource(ctx, existing.ID); err != nil {
					return err
				}
			}
			if _, err := tx.AddTrackSource(ctx, s.localSource(t.ID, path)); err != nil {
				return err
			}
		}
		t.LocalPath = path
		t.Status = catalog.StatusDownloaded
		return tx.UpdateTrack(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("linking download: %w", err)
	}

	if force && old != "" && old != path && s.removable(old) {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing replaced file", slog.String("path", old), slog.String("error", err.Error()))
		}
	}

	rec.Status = catalog.DownloadSuccess
	rec.Path = path
	rec.Size = res.Size
	rec.Quality = string(res.Quality())
	rec.DurationMS = time.Since(start).Milliseconds()
	s.record(ctx, rec)

	s.heal(ctx, t.ID)
	return nil
}

func (s *Service) record(ctx context.Context, rec *catalog.DownloadRecord) {
	if err := s.catalog.RecordDownload(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("recording download", slog.String("error", err.Error()))
	}
}

// ApplyMatch links (source, sourceID) to a track, overwrites its album,
// cover and release date with that platform's metadata and re-embeds the
// tags.
func (s *Service) ApplyMatch(ctx context.Context, trackID string, source provider.ProviderName, sourceID string) (*catalog.Track, error) {
	if _, err := provider.ParseName(string(source)); err != nil || source == provider.SourceLocal {
		return nil, &provider.ErrValidation{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}
	t, err := s.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	meta, err := s.meta.TrackMetadata(ctx, source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("fetching %s metadata: %w", source, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("metadata %s/%s: %w", source, sourceID, ErrNotFound)
	}

	err = s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		owner, err := tx.GetTrackBySource(ctx, source, sourceID)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != t.ID {
			return fmt.Errorf("%s/%s is linked to %q: %w", source, sourceID, owner.Title, catalog.ErrConflict)
		}
		if owner == nil {
			// One link per platform: the chosen match replaces the old one.
			if prev := t.SourceFor(source); prev != nil {
				if err := tx.DeleteTrackSource(ctx, prev.ID); err != nil {
					return err
				}
			}
			if _, err := tx.AddTrackSource(ctx, &catalog.TrackSource{
				TrackID:  t.ID,
				Source:   source,
				SourceID: sourceID,
				Cover:    meta.CoverURL,
				Data:     catalog.SourceData{Album: meta.Album, Lyrics: meta.Lyrics, PublishTime: meta.ReleaseTime},
			}); err != nil {
				return err
			}
		}
		if meta.Album != "" {
			t.Album = meta.Album
		}
		if meta.CoverURL != "" {
			t.Cover = meta.CoverURL
		}
		if normalize.ValidDate(meta.ReleaseTime) {
			t.ReleaseTime = meta.ReleaseTime
		}
		return tx.UpdateTrack(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	if t.LocalPath != "" && filesystem.FileExists(t.LocalPath) {
		s.embed(ctx, t, t.LocalPath)
	}
	s.logger.Info("match applied",
		slog.String("track", t.Title),
		slog.String("source", string(source)),
		slog.String("source_id", sourceID))
	return s.catalog.GetTrack(ctx, t.ID)
}
