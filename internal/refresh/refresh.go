// Package refresh rebuilds one artist's catalog from every bound platform:
// it ingests new local files, lists platform tracks, groups renditions,
// links orphaned local files and heals what is still incomplete.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/event"
	"github.com/sydlexius/tunevault/internal/healer"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/scanner"
	"github.com/sydlexius/tunevault/internal/tagger"
)

// DefaultListLimit caps how many tracks are listed per platform.
const DefaultListLimit = 1000

// Scanner ingests local files before matching.
type Scanner interface {
	Scan(ctx context.Context, incremental bool) (*scanner.Result, error)
}

// Healer fills metadata gaps after matching.
type Healer interface {
	HealArtist(ctx context.Context, artistID string) (healer.Result, error)
}

// TagReader reads embedded titles of local files.
type TagReader interface {
	Read(ctx context.Context, path string) (tagger.Tags, error)
}

// Service runs artist refreshes. At most one refresh per artist name runs
// at a time.
type Service struct {
	catalog   *catalog.Service
	agg       *aggregator.Aggregator
	scanner   Scanner
	healer    Healer
	tags      TagReader
	listLimit int
	logger    *slog.Logger
	eventBus  *event.Bus
	now       func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// New creates a refresh service. scan, heal and tags may be nil to skip
// the corresponding phase.
func New(cat *catalog.Service, agg *aggregator.Aggregator, scan Scanner, heal Healer, tags TagReader, logger *slog.Logger) *Service {
	return &Service{
		catalog:   cat,
		agg:       agg,
		scanner:   scan,
		healer:    heal,
		tags:      tags,
		listLimit: DefaultListLimit,
		logger:    logger.With(slog.String("component", "refresh")),
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]bool),
	}
}

// SetEventBus sets the event bus used for progress reporting.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Running reports whether a refresh for name is in flight.
func (s *Service) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[strings.TrimSpace(name)]
}

func (s *Service) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.TrimSpace(name)
	if s.running[k] {
		return false
	}
	s.running[k] = true
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, strings.TrimSpace(name))
}

// RefreshArtist refreshes the artist called name and returns how many
// tracks were added. A missing artist, or one already being refreshed,
// returns 0 without error.
func (s *Service) RefreshArtist(ctx context.Context, name string) (int, error) {
	name = strings.TrimSpace(name)
	if !s.acquire(name) {
		s.logger.Info("refresh already running", slog.String("artist", name))
		return 0, nil
	}
	defer s.release(name)

	artist, err := s.catalog.GetArtistByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if artist == nil {
		return 0, nil
	}

	start := time.Now()
	r := &run{Service: s, artist: artist}
	added, err := r.execute(ctx)
	if err != nil {
		s.eventBus.Progress(artist.ID, artist.Name, event.StateFailed, 100, err.Error(), -1)
		s.logger.Error("refresh failed",
			slog.String("artist", artist.Name),
			slog.String("error", err.Error()))
		return added, err
	}
	s.logger.Info("refresh complete",
		slog.String("artist", artist.Name),
		slog.Int("new_tracks", added),
		slog.Duration("duration", time.Since(start)))
	return added, nil
}

// RefreshMonitored refreshes every monitored artist in turn and returns
// the total of new tracks. Per-artist failures are logged and skipped.
func (s *Service) RefreshMonitored(ctx context.Context) (int, error) {
	params := catalog.ArtistListParams{MonitoredOnly: true}
	params.PageSize = 200
	total := 0
	for page := 1; ; page++ {
		params.Page.Page = page
		artists, count, err := s.catalog.ListArtists(ctx, params)
		if err != nil {
			return total, err
		}
		for _, a := range artists {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			n, err := s.RefreshArtist(ctx, a.Name)
			if err != nil {
				continue
			}
			total += n
		}
		if page*params.PageSize >= count || len(artists) == 0 {
			return total, nil
		}
	}
}

// run holds the state of one artist refresh.
type run struct {
	*Service
	artist *catalog.Artist
}

func (r *run) progress(state string, pct int, msg string, songCount int) {
	r.eventBus.Progress(r.artist.ID, r.artist.Name, state, pct, msg, songCount)
}

func (r *run) execute(ctx context.Context) (int, error) {
	r.progress(event.StateScanning, 5, "scanning local files", -1)
	if r.scanner != nil {
		if _, err := r.scanner.Scan(ctx, true); err != nil && !errors.Is(err, scanner.ErrScanRunning) {
			r.logger.Warn("pre-refresh scan failed", slog.String("error", err.Error()))
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	listed, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}
	listed = r.reverseLookup(ctx, listed)
	groups := r.group(listed)

	added, err := r.match(ctx, groups)
	if err != nil {
		return 0, err
	}

	r.progress(event.StateRescue, 75, "linking local files", -1)
	rescued, err := r.rescue(ctx)
	if err != nil {
		return added, err
	}
	r.logger.Debug("orphans rescued", slog.String("artist", r.artist.Name), slog.Int("count", rescued))

	if r.healer != nil {
		r.progress(event.StateHealing, 85, "filling metadata", -1)
		if _, err := r.healer.HealArtist(ctx, r.artist.ID); err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			r.logger.Warn("heal failed", slog.String("artist", r.artist.Name), slog.String("error", err.Error()))
		}
	}

	now := r.now()
	r.artist.LastRefreshedAt = &now
	if err := r.catalog.UpdateArtist(ctx, r.artist); err != nil {
		return added, err
	}

	tracks, err := r.catalog.ListArtistTracks(ctx, r.artist.ID)
	if err != nil {
		return added, err
	}
	r.progress(event.StateComplete, 100, fmt.Sprintf("%d new tracks", added), len(tracks))
	r.eventBus.Publish(event.Event{Type: event.RefreshList, Data: map[string]any{
		"artistId":   r.artist.ID,
		"artistName": r.artist.Name,
		"newTracks":  added,
	}})
	return added, nil
}

// stateSource is the short platform label used in fetching states.
func stateSource(name provider.ProviderName) string {
	if name == provider.NameQQMusic {
		return "qq"
	}
	return string(name)
}

// fetch lists every bound platform and backfills the artist avatar.
func (r *run) fetch(ctx context.Context) ([]provider.TrackInfo, error) {
	sources, err := r.catalog.ListArtistSources(ctx, r.artist.ID)
	if err != nil {
		return nil, err
	}
	ids := make(map[provider.ProviderName]string, len(sources))
	for i, src := range sources {
		ids[src.Source] = src.SourceID
		r.progress(event.FetchingState(stateSource(src.Source)), 15+20*i/max(len(sources), 1),
			"listing "+src.Source.DisplayName(), -1)
	}
	listed := r.agg.ListArtistTracks(ctx, ids, r.listLimit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.artist.Avatar == "" {
		avatar := ""
		for _, src := range sources {
			if src.Avatar != "" {
				avatar = src.Avatar
				break
			}
		}
		for i := 0; avatar == "" && i < len(listed); i++ {
			avatar = listed[i].CoverURL
		}
		if avatar != "" {
			r.artist.Avatar = avatar
			if err := r.catalog.UpdateArtist(ctx, r.artist); err != nil {
				return nil, err
			}
		}
	}
	return listed, nil
}

// reverseLookup adds the original of every instrumental whose original is
// missing from the listing.
func (r *run) reverseLookup(ctx context.Context, listed []provider.TrackInfo) []provider.TrackInfo {
	present := make(map[string]bool, len(listed))
	for _, t := range listed {
		present[normalize.Key(t.Title)] = true
	}
	var added []provider.TrackInfo
	for _, t := range listed {
		origKey, ok := normalize.OriginalKeyOf(t.Title)
		if !ok || present[origKey] {
			continue
		}
		present[origKey] = true
		title := normalize.OriginalTitle(t.Title)
		if title == "" {
			continue
		}
		hits, err := r.agg.SearchTracks(ctx, title+" "+r.artist.Name, 10)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if normalize.Key(h.Title) == origKey && sameArtist(h.Artist, r.artist.Name) && aggregator.Valid(h) {
				r.logger.Debug("original found for instrumental",
					slog.String("instrumental", t.Title),
					slog.String("original", h.Title),
					slog.String("source", string(h.Source)))
				added = append(added, h)
				break
			}
		}
	}
	return append(listed, added...)
}

func sameArtist(got, want string) bool {
	if normalize.SameArtist(got, want) {
		return true
	}
	g, w := normalize.Norm(got), normalize.Norm(want)
	return w != "" && strings.Contains(g, w)
}

// trackGroup is every listing of one logical track, canonical first.
type trackGroup struct {
	key     string
	members []provider.TrackInfo
	latest  *time.Time
}

// group buckets listings by normalized title and orders groups by most
// recent publish date. Within a group the canonical record comes first:
// plain renditions before variants, then by provider preference.
func (r *run) group(listed []provider.TrackInfo) []*trackGroup {
	byKey := make(map[string]*trackGroup)
	var groups []*trackGroup
	for _, t := range listed {
		k := normalize.Key(t.Title)
		if k == "" {
			continue
		}
		g, ok := byKey[k]
		if !ok {
			g = &trackGroup{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, t)
		if normalize.ValidDate(t.ReleaseTime) && (g.latest == nil || t.ReleaseTime.After(*g.latest)) {
			g.latest = t.ReleaseTime
		}
	}
	for _, g := range groups {
		sort.SliceStable(g.members, func(i, j int) bool {
			vi, vj := normalize.IsVariant(g.members[i].Title), normalize.IsVariant(g.members[j].Title)
			if vi != vj {
				return !vi
			}
			return r.agg.Rank(g.members[i].Source) < r.agg.Rank(g.members[j].Source)
		})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].latest, groups[j].latest
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return groups
}

// match upserts every group into the catalog in one transaction and
// returns how many tracks were created.
func (r *run) match(ctx context.Context, groups []*trackGroup) (int, error) {
	existing, err := r.catalog.ListArtistTracks(ctx, r.artist.ID)
	if err != nil {
		return 0, err
	}
	byKey := make(map[string]*catalog.Track, len(existing))
	for i := range existing {
		byKey[existing[i].TitleKey] = &existing[i]
	}

	var added int
	err = r.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		batch := tx.NewBatch()
		for i, g := range groups {
			if i%25 == 0 {
				r.progress(event.StateMatching, 40+30*i/len(groups), fmt.Sprintf("%d/%d", i, len(groups)), -1)
			}
			t, ok := byKey[g.key]
			if !ok {
				t = newTrack(r.artist.ID, g)
				if err := batch.AddTrack(ctx, t); err != nil {
					return err
				}
				byKey[g.key] = t
				added++
			} else if fillFromGroup(t, g) {
				if err := tx.UpdateTrack(ctx, t); err != nil {
					return err
				}
			}
			for _, m := range g.members {
				if _, err := batch.AddSource(ctx, sourceFor(t.ID, m)); err != nil {
					return err
				}
			}
		}
		if err := batch.Flush(ctx); err != nil {
			return err
		}
		r.logger.Info("tracks matched",
			slog.String("artist", r.artist.Name),
			slog.Int("groups", len(groups)),
			slog.Int("new_tracks", batch.TracksInserted),
			slog.Int("new_sources", batch.SourcesInserted))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("matching tracks: %w", err)
	}
	r.progress(event.StateMatching, 70, fmt.Sprintf("%d/%d", len(groups), len(groups)), -1)
	return added, nil
}

func newTrack(artistID string, g *trackGroup) *catalog.Track {
	t := &catalog.Track{
		ArtistID: artistID,
		Title:    strings.TrimSpace(g.members[0].Title),
		Status:   catalog.StatusPending,
	}
	fillFromGroup(t, g)
	return t
}

// fillFromGroup fills empty album, cover and release time from the
// group's members in preference order.
func fillFromGroup(t *catalog.Track, g *trackGroup) bool {
	changed := false
	for _, m := range g.members {
		if t.Album == "" && m.Album != "" {
			t.Album = m.Album
			changed = true
		}
		if t.Cover == "" && m.CoverURL != "" {
			t.Cover = m.CoverURL
			changed = true
		}
		if !normalize.ValidDate(t.ReleaseTime) && normalize.ValidDate(m.ReleaseTime) {
			rt := *m.ReleaseTime
			t.ReleaseTime = &rt
			changed = true
		}
	}
	return changed
}

func sourceFor(trackID string, m provider.TrackInfo) *catalog.TrackSource {
	return &catalog.TrackSource{
		TrackID:  trackID,
		Source:   m.Source,
		SourceID: m.ID,
		Cover:    m.CoverURL,
		Duration: m.Duration,
		Data: catalog.SourceData{
			Album:       m.Album,
			PublishTime: m.ReleaseTime,
		},
	}
}
