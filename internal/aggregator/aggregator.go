// Package aggregator fans requests out to every registered provider and
// merges what comes back: ranked artist hits, track searches, the best
// metadata for a (title, artist) pair and lyrics. Adapter failures are
// logged and never returned; a fully failed fan-out is an empty result.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/tunevault/internal/apicache"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

// ErrNoMetadata is returned when no provider has usable metadata.
var ErrNoMetadata = errors.New("no usable metadata")

const cacheNamespace = "aggregator"

// Result limits for internal searches.
const (
	metadataSearchLimit = 5
	lyricsSearchLimit   = 3
)

// Aggregator is safe for concurrent use.
type Aggregator struct {
	registry *provider.Registry
	order    []provider.ProviderName
	cache    *apicache.Cache
	logger   *slog.Logger
}

// New creates an aggregator over the registry. order lists the metadata
// providers by preference; its first entry is the primary. An empty
// order uses every registered provider in registration order.
func New(registry *provider.Registry, order []provider.ProviderName, cache *apicache.Cache, logger *slog.Logger) *Aggregator {
	if len(order) == 0 {
		for _, p := range registry.All() {
			order = append(order, p.Name())
		}
	}
	return &Aggregator{
		registry: registry,
		order:    order,
		cache:    cache,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// Primary returns the provider preferred for metadata quality.
func (a *Aggregator) Primary() provider.ProviderName {
	if len(a.order) == 0 {
		return ""
	}
	return a.order[0]
}

// Provider returns a registered adapter, or nil.
func (a *Aggregator) Provider(name provider.ProviderName) provider.Provider {
	return a.registry.Get(name)
}

func (a *Aggregator) providers() []provider.Provider {
	return a.registry.Select(a.order)
}

// Rank is the preference position of a provider; unknown providers rank last.
func (a *Aggregator) Rank(name provider.ProviderName) int {
	for i, n := range a.order {
		if n == name {
			return i
		}
	}
	return len(a.order)
}

// fanOut runs fn against every metadata provider in parallel and returns
// the per-provider results in provider order. Errors are logged.
func fanOut[T any](ctx context.Context, a *Aggregator, op string, fn func(ctx context.Context, p provider.Provider) ([]T, error)) [][]T {
	ps := a.providers()
	results := make([][]T, len(ps))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range ps {
		g.Go(func() error {
			v, err := fn(gctx, p)
			if err != nil {
				a.logger.Warn("provider failed",
					slog.String("op", op),
					slog.String("provider", string(p.Name())),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SearchArtists searches all providers, merges same-named artists and
// ranks them against keyword.
func (a *Aggregator) SearchArtists(ctx context.Context, keyword string, limit int) ([]provider.ArtistInfo, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	per := fanOut(ctx, a, "search_artist", func(ctx context.Context, p provider.Provider) ([]provider.ArtistInfo, error) {
		return p.SearchArtist(ctx, keyword, limit)
	})
	var all []provider.ArtistInfo
	for _, r := range per {
		all = append(all, r...)
	}
	merged := a.mergeArtists(all, keyword)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	a.logger.Debug("artist search", slog.String("keyword", keyword), slog.Int("raw", len(all)), slog.Int("merged", len(merged)))
	return merged, nil
}

type scoredArtist struct {
	info  provider.ArtistInfo
	score float64
	first int
}

// mergeArtists groups candidates by lowercase trimmed name, keeps one
// record per group (the primary provider's when present) and ranks the
// groups.
func (a *Aggregator) mergeArtists(all []provider.ArtistInfo, keyword string) []provider.ArtistInfo {
	groups := make(map[string][]provider.ArtistInfo)
	var keys []string
	for _, it := range all {
		k := normalize.MatchKey(it.Name)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], it)
	}

	kw := normalize.MatchKey(keyword)
	scored := make([]scoredArtist, 0, len(keys))
	for idx, k := range keys {
		group := groups[k]
		base := group[0]
		for _, it := range group {
			if a.Rank(it.Source) < a.Rank(base.Source) {
				base = it
			}
		}
		base.ExtraIDs = make(map[provider.ProviderName]string, len(group))
		for _, it := range group {
			if _, ok := base.ExtraIDs[it.Source]; !ok {
				base.ExtraIDs[it.Source] = it.ID
			}
			if base.Avatar == "" && it.Avatar != "" {
				base.Avatar = it.Avatar
			}
			if it.SongCount > base.SongCount {
				base.SongCount = it.SongCount
			}
		}

		var score float64
		switch name := normalize.MatchKey(base.Name); {
		case name == kw:
			score += 100
		case strings.Contains(name, kw):
			score += 50
		}
		if base.SongCount > 0 {
			score += math.Log(float64(base.SongCount + 1))
		}
		if base.Avatar != "" {
			score += 10
		}
		scored = append(scored, scoredArtist{info: base, score: score, first: idx})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		ri, rj := a.Rank(scored[i].info.Source), a.Rank(scored[j].info.Source)
		if ri != rj {
			return ri < rj
		}
		return scored[i].first < scored[j].first
	})
	out := make([]provider.ArtistInfo, len(scored))
	for i, s := range scored {
		out[i] = s.info
	}
	return out
}

// SearchTracks searches all providers once, retrying once when nothing
// came back. Hits are ordered by provider preference.
func (a *Aggregator) SearchTracks(ctx context.Context, keyword string, limit int) ([]provider.TrackInfo, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	var all []provider.TrackInfo
	for attempt := 0; attempt < 2 && len(all) == 0; attempt++ {
		if ctx.Err() != nil {
			break
		}
		for _, r := range a.searchEach(ctx, keyword, limit) {
			all = append(all, r...)
		}
	}
	return all, nil
}

func (a *Aggregator) searchEach(ctx context.Context, keyword string, limit int) [][]provider.TrackInfo {
	return fanOut(ctx, a, "search_track", func(ctx context.Context, p provider.Provider) ([]provider.TrackInfo, error) {
		return p.SearchTrack(ctx, keyword, limit)
	})
}

// ListArtistTracks lists every bound platform id of an artist in
// parallel and applies the validity filter.
func (a *Aggregator) ListArtistTracks(ctx context.Context, ids map[provider.ProviderName]string, limit int) []provider.TrackInfo {
	type job struct {
		p  provider.Provider
		id string
	}
	var jobs []job
	for _, p := range a.providers() {
		if id, ok := ids[p.Name()]; ok && id != "" {
			jobs = append(jobs, job{p: p, id: id})
		}
	}
	results := make([][]provider.TrackInfo, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			v, err := j.p.ListArtistTracks(gctx, j.id, limit)
			if err != nil {
				a.logger.Warn("listing artist tracks failed",
					slog.String("provider", string(j.p.Name())),
					slog.String("artist_id", j.id),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()

	var all []provider.TrackInfo
	raw := 0
	for _, r := range results {
		raw += len(r)
		all = append(all, Filter(r)...)
	}
	a.logger.Info("artist tracks listed", slog.Int("raw", raw), slog.Int("valid", len(all)))
	return all
}

// TrackMetadata fetches one platform's full metadata for a track.
func (a *Aggregator) TrackMetadata(ctx context.Context, source provider.ProviderName, id string) (*provider.TrackMetadata, error) {
	p := a.registry.Get(source)
	if p == nil {
		return nil, &provider.ErrValidation{Field: "source", Reason: "no adapter for " + string(source)}
	}
	return p.GetTrackMetadata(ctx, id)
}
