package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sydlexius/tunevault/internal/apicache"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

// Candidate scoring weights for BestMetadata.
const (
	scoreExact    = 50
	scoreContains = 10
	scoreCover    = 5
)

// BestMetadata searches every provider for (title, artist), picks the
// best-scoring hit, fetches its full metadata and cross-fills missing
// cover, album and release time from other hits with the same
// normalized title. Results are memoized in the API cache.
func (a *Aggregator) BestMetadata(ctx context.Context, title, artist string) (*provider.TrackMetadata, error) {
	title, artist = strings.TrimSpace(title), strings.TrimSpace(artist)
	if title == "" {
		return nil, &provider.ErrValidation{Field: "title", Reason: "empty"}
	}
	key := apicache.Key(cacheNamespace, "best_metadata_for", title, artist)
	return apicache.Memoize(ctx, a.cache, key,
		func(m *provider.TrackMetadata) bool { return m == nil },
		func(ctx context.Context) (*provider.TrackMetadata, error) {
			return a.bestMetadata(ctx, title, artist)
		})
}

func lowerFold(s string) string {
	return strings.ToLower(strings.TrimSpace(normalize.Fold(s)))
}

// score rates a hit against the wanted pair. Hits with no title relation
// score zero regardless of artwork.
func score(hit provider.TrackInfo, title, artist string) int {
	ht, ha := lowerFold(hit.Title), lowerFold(hit.Artist)
	t, ar := lowerFold(title), lowerFold(artist)
	s := 0
	if ht == t {
		s += scoreExact
	}
	if strings.Contains(ht, t) {
		s += scoreContains
	}
	if s == 0 {
		return 0
	}
	if ar != "" {
		if ha == ar {
			s += scoreExact
		}
		if strings.Contains(ha, ar) {
			s += scoreContains
		}
	}
	if hit.CoverURL != "" {
		s += scoreCover
	}
	return s
}

func (a *Aggregator) bestMetadata(ctx context.Context, title, artist string) (*provider.TrackMetadata, error) {
	keyword := strings.TrimSpace(title + " " + artist)
	var hits []provider.TrackInfo
	// Noise hits only qualify when the wanted title is noise itself.
	wantNoisy := noisy(title)
	for _, r := range a.searchEach(ctx, keyword, metadataSearchLimit) {
		for _, h := range r {
			if wantNoisy || !noisy(strings.TrimSpace(h.Title)) {
				hits = append(hits, h)
			}
		}
	}

	var best *provider.TrackInfo
	bestScore := 0
	for i := range hits {
		// Ties keep the earlier hit, which comes from the preferred provider.
		if s := score(hits[i], title, artist); s > bestScore {
			best, bestScore = &hits[i], s
		}
	}
	if best == nil {
		a.logger.Info("no metadata match", slog.String("title", title), slog.String("artist", artist))
		return nil, ErrNoMetadata
	}

	meta := &provider.TrackMetadata{
		Title:       best.Title,
		Artist:      best.Artist,
		Album:       best.Album,
		Source:      best.Source,
		ID:          best.ID,
		CoverURL:    best.CoverURL,
		ReleaseTime: best.ReleaseTime,
	}
	if p := a.registry.Get(best.Source); p != nil {
		full, err := p.GetTrackMetadata(ctx, best.ID)
		if err != nil {
			a.logger.Warn("full metadata failed",
				slog.String("provider", string(best.Source)),
				slog.String("id", best.ID),
				slog.String("error", err.Error()))
		} else if full != nil {
			meta.Lyrics = full.Lyrics
			fillMissing(meta, full.CoverURL, full.Album, full.ReleaseTime)
		}
	}

	want := normalize.Key(title)
	for _, h := range hits {
		if meta.CoverURL != "" && meta.Album != "" && normalize.ValidDate(meta.ReleaseTime) {
			break
		}
		if normalize.Key(h.Title) != want || !sameArtist(h.Artist, artist) {
			continue
		}
		fillMissing(meta, h.CoverURL, h.Album, h.ReleaseTime)
	}

	a.logger.Debug("best metadata",
		slog.String("title", title),
		slog.String("source", string(meta.Source)),
		slog.Int("score", bestScore))
	return meta, nil
}

func sameArtist(got, want string) bool {
	if want == "" {
		return true
	}
	return normalize.SameArtist(got, want) || lowerFold(got) == lowerFold(want)
}

func fillMissing(meta *provider.TrackMetadata, cover, album string, release *time.Time) {
	if meta.CoverURL == "" && cover != "" {
		meta.CoverURL = cover
	}
	if meta.Album == "" && album != "" {
		meta.Album = album
	}
	if !normalize.ValidDate(meta.ReleaseTime) && normalize.ValidDate(release) {
		meta.ReleaseTime = release
	}
}

// LyricsRef points at a track on one platform.
type LyricsRef struct {
	Source provider.ProviderName
	ID     string
}

// FetchLyrics returns valid LRC lyrics for a track, or "" when none is
// found. Known platform ids in refs are tried first, in provider
// preference order; then a search for (title, artist) is tried on every
// provider. Non-empty results are memoized.
func (a *Aggregator) FetchLyrics(ctx context.Context, title, artist string, refs ...LyricsRef) (string, error) {
	title, artist = strings.TrimSpace(title), strings.TrimSpace(artist)
	if title == "" {
		return "", &provider.ErrValidation{Field: "title", Reason: "empty"}
	}
	key := apicache.Key(cacheNamespace, "fetch_lyrics", title, artist)
	return apicache.Memoize(ctx, a.cache, key,
		func(s string) bool { return s == "" },
		func(ctx context.Context) (string, error) {
			return a.fetchLyrics(ctx, title, artist, refs), nil
		})
}

func (a *Aggregator) fetchLyrics(ctx context.Context, title, artist string, refs []LyricsRef) string {
	tried := make(map[LyricsRef]bool)
	try := func(ref LyricsRef) string {
		if tried[ref] || ref.ID == "" {
			return ""
		}
		tried[ref] = true
		p := a.registry.Get(ref.Source)
		if p == nil {
			return ""
		}
		lrc, err := p.GetLyrics(ctx, ref.ID)
		if err != nil {
			a.logger.Debug("lyrics lookup failed",
				slog.String("provider", string(ref.Source)),
				slog.String("id", ref.ID),
				slog.String("error", err.Error()))
			return ""
		}
		if ValidLyrics(lrc) {
			return lrc
		}
		return ""
	}

	ordered := append([]LyricsRef(nil), refs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return a.Rank(ordered[i].Source) < a.Rank(ordered[j].Source)
	})
	for _, ref := range ordered {
		if lrc := try(ref); lrc != "" {
			return lrc
		}
	}

	want := normalize.Key(title)
	keyword := strings.TrimSpace(title + " " + artist)
	for _, hits := range a.searchEach(ctx, keyword, lyricsSearchLimit) {
		for _, h := range hits {
			if ctx.Err() != nil {
				return ""
			}
			if normalize.Key(h.Title) != want || !sameArtist(h.Artist, artist) {
				continue
			}
			if lrc := try(LyricsRef{Source: h.Source, ID: h.ID}); lrc != "" {
				return lrc
			}
		}
	}
	return ""
}
