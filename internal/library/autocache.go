package library

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/provider"
)

// CacheArtist downloads up to limit PENDING tracks of an artist that were
// added after since and have an online source, newest release first.
// Failures are recorded in the history and skipped. It returns how many
// tracks were downloaded.
func (s *Service) CacheArtist(ctx context.Context, artistID string, since time.Time, limit int) (int, error) {
	tracks, err := s.catalog.ListArtistTracks(ctx, artistID)
	if err != nil {
		return 0, fmt.Errorf("listing tracks: %w", err)
	}
	var pending []*catalog.Track
	for i := range tracks {
		t := &tracks[i]
		if t.Status == catalog.StatusPending && t.LocalPath == "" && t.HasOnlineSource() && !t.CreatedAt.Before(since) {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		ri, rj := pending[i].ReleaseTime, pending[j].ReleaseTime
		if ri == nil || rj == nil {
			return ri != nil
		}
		return ri.After(*rj)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	done := 0
	for _, t := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		src := onlineSource(t)
		if err := s.fetchInto(ctx, t, src.Source, src.SourceID, 0, false); err != nil {
			s.logger.Warn("auto-cache download failed",
				slog.String("track", t.Title),
				slog.String("source", string(src.Source)),
				slog.String("error", err.Error()))
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.Info("auto-cache complete", slog.String("artist_id", artistID), slog.Int("downloaded", done))
	}
	return done, nil
}

func onlineSource(t *catalog.Track) *catalog.TrackSource {
	for i := range t.Sources {
		if t.Sources[i].Source != provider.SourceLocal {
			return &t.Sources[i]
		}
	}
	return nil
}
