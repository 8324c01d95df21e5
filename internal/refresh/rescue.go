package refresh

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

const rescueParallelism = 4

// rescue links local-only tracks of the artist to a matching platform
// track and returns how many were linked.
func (r *run) rescue(ctx context.Context) (int, error) {
	tracks, err := r.catalog.ListArtistTracks(ctx, r.artist.ID)
	if err != nil {
		return 0, err
	}
	var orphans []*catalog.Track
	for i := range tracks {
		if tracks[i].LocalPath != "" && !tracks[i].HasOnlineSource() {
			orphans = append(orphans, &tracks[i])
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	results := make([]bool, len(orphans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rescueParallelism)
	for i, t := range orphans {
		g.Go(func() error {
			linked, err := r.rescueOne(gctx, t)
			if err != nil {
				return err
			}
			results[i] = linked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *run) rescueOne(ctx context.Context, t *catalog.Track) (bool, error) {
	r.correctTitle(ctx, t)

	hit := r.findMatch(ctx, t.Title)
	if hit == nil {
		if stripped := normalize.StripBrackets(t.Title); stripped != "" && stripped != t.Title {
			hit = r.findMatch(ctx, stripped)
			// The stripped query widens the search; the match rule still
			// applies to the stored title.
			if hit != nil && !RescueMatch(t.Title, hit.Title) {
				hit = nil
			}
		}
	}
	if hit == nil {
		return false, nil
	}

	inserted, err := r.catalog.AddTrackSource(ctx, sourceFor(t.ID, *hit))
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	fillFromGroup(t, &trackGroup{members: []provider.TrackInfo{*hit}})
	if err := r.catalog.UpdateTrack(ctx, t); err != nil {
		return false, err
	}
	r.logger.Info("local track linked",
		slog.String("title", t.Title),
		slog.String("source", string(hit.Source)),
		slog.String("source_id", hit.ID))
	return true, nil
}

// correctTitle renames t to the title embedded in its file when the two
// differ. A rename that would collide with another track is skipped.
func (r *run) correctTitle(ctx context.Context, t *catalog.Track) {
	if r.tags == nil {
		return
	}
	tags, err := r.tags.Read(ctx, t.LocalPath)
	if err != nil {
		return
	}
	embedded := strings.TrimSpace(tags.Title)
	if embedded == "" || embedded == t.Title {
		return
	}
	old := t.Title
	t.Title = embedded
	if err := r.catalog.UpdateTrack(ctx, t); err != nil {
		t.Title = old
		if !errors.Is(err, catalog.ErrConflict) {
			r.logger.Warn("title correction failed", slog.String("title", old), slog.String("error", err.Error()))
		}
		return
	}
	r.logger.Debug("title corrected from tags", slog.String("from", old), slog.String("to", embedded))
}

func (r *run) findMatch(ctx context.Context, title string) *provider.TrackInfo {
	hits, err := r.agg.SearchTracks(ctx, title+" "+r.artist.Name, 10)
	if err != nil {
		return nil
	}
	for i := range hits {
		if aggregator.Valid(hits[i]) && sameArtist(hits[i].Artist, r.artist.Name) && RescueMatch(title, hits[i].Title) {
			return &hits[i]
		}
	}
	return nil
}

// RescueMatch reports whether a remote title may be linked to a local
// one. Titles match when their bracket-free normal forms are equal or one
// contains the other. A local variant (instrumental, live, demo) never
// matches a remote title without a variant marker; a plain local title may
// match a remote variant, which is usually a live cut of the same song.
func RescueMatch(local, remote string) bool {
	if normalize.IsVariant(local) && !normalize.IsVariant(remote) {
		return false
	}
	if normalize.IsInstrumental(local) && !normalize.IsInstrumental(remote) {
		return false
	}
	l := normalize.Norm(normalize.StripBrackets(local))
	rm := normalize.Norm(normalize.StripBrackets(remote))
	if l == "" || rm == "" {
		return false
	}
	return l == rm || strings.Contains(l, rm) || strings.Contains(rm, l)
}
