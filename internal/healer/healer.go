// Package healer repairs catalog tracks that lack a cover, an album or a
// usable release date, and owns fetching and embedding lyrics.
package healer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/covers"
	"github.com/sydlexius/tunevault/internal/event"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/tagger"
)

// DefaultParallelism is the number of tracks healed at once.
const DefaultParallelism = 5

// Metadata is the aggregator surface the healer depends on.
type Metadata interface {
	BestMetadata(ctx context.Context, title, artist string) (*provider.TrackMetadata, error)
	FetchLyrics(ctx context.Context, title, artist string, refs ...aggregator.LyricsRef) (string, error)
}

// Config tunes the healer.
type Config struct {
	Parallelism     int
	GenericPatterns []string
	// Order ranks platforms; the first linked one holds fetched lyrics.
	Order []provider.ProviderName
}

// Result summarizes one heal pass.
type Result struct {
	Checked int `json:"checked"`
	Healed  int `json:"healed"`
	Failed  int `json:"failed"`
}

// Service heals tracks.
type Service struct {
	catalog  *catalog.Service
	meta     Metadata
	covers   *covers.Store
	tagger   *tagger.Tagger
	cfg      Config
	logger   *slog.Logger
	eventBus *event.Bus
	now      func() time.Time
}

// New creates a healer. Zero config fields take their defaults.
func New(cat *catalog.Service, meta Metadata, coverStore *covers.Store, tg *tagger.Tagger, cfg Config, logger *slog.Logger) *Service {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.GenericPatterns == nil {
		cfg.GenericPatterns = covers.DefaultGenericPatterns
	}
	return &Service{
		catalog: cat,
		meta:    meta,
		covers:  coverStore,
		tagger:  tg,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "healer")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetEventBus sets the event bus used to announce healed tracks.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Deficient reports whether t is missing a real cover, an album or a
// valid release date.
func (s *Service) Deficient(t *catalog.Track) bool {
	return t.Cover == "" || covers.IsGeneric(t.Cover, s.cfg.GenericPatterns) ||
		t.Album == "" || !normalize.ValidDate(t.ReleaseTime)
}

// needsLyrics reports whether a downloaded track linked to a platform has
// no stored lyrics yet.
func needsLyrics(t *catalog.Track) bool {
	if t.LocalPath == "" || !t.HasOnlineSource() {
		return false
	}
	for _, src := range t.Sources {
		if src.Data.Lyrics != "" {
			return false
		}
	}
	return true
}

func (s *Service) eligible(t *catalog.Track) bool {
	return s.Deficient(t) || needsLyrics(t)
}

// HealArtist heals every eligible track of an artist. A cancelled context
// stops scheduling and is returned; tracks already healed stay healed.
func (s *Service) HealArtist(ctx context.Context, artistID string) (Result, error) {
	tracks, err := s.catalog.ListArtistTracks(ctx, artistID)
	if err != nil {
		return Result{}, fmt.Errorf("listing tracks: %w", err)
	}
	byKey := make(map[string]*catalog.Track, len(tracks))
	for i := range tracks {
		byKey[tracks[i].TitleKey] = &tracks[i]
	}
	return s.heal(ctx, tracks, func(_ context.Context, _, key string) *catalog.Track {
		return byKey[key]
	})
}

// HealTrack heals a single track regardless of its artist's other
// tracks. It reports whether anything changed.
func (s *Service) HealTrack(ctx context.Context, trackID string) (bool, error) {
	t, err := s.catalog.GetTrack(ctx, trackID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}
	res, err := s.heal(ctx, []catalog.Track{*t}, s.lookupOriginal)
	return res.Healed > 0, err
}

func (s *Service) lookupOriginal(ctx context.Context, artistID, key string) *catalog.Track {
	t, err := s.catalog.GetTrackByKey(ctx, artistID, key)
	if err != nil {
		s.logger.Warn("original lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	return t
}

type originalFunc func(ctx context.Context, artistID, key string) *catalog.Track

func (s *Service) heal(ctx context.Context, tracks []catalog.Track, original originalFunc) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
		wg  sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(s.cfg.Parallelism))

	// Originals first so an instrumental can borrow a date healed in the
	// same pass.
	ordered := make([]*catalog.Track, 0, len(tracks))
	var variants []*catalog.Track
	for i := range tracks {
		t := &tracks[i]
		if !s.eligible(t) {
			continue
		}
		if _, ok := normalize.OriginalKeyOf(t.Title); ok {
			variants = append(variants, t)
			continue
		}
		ordered = append(ordered, t)
	}

	run := func(batch []*catalog.Track) error {
		for _, t := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				healed, err := s.healOne(ctx, t, original)
				mu.Lock()
				defer mu.Unlock()
				res.Checked++
				switch {
				case err != nil:
					res.Failed++
					if !errors.Is(err, context.Canceled) {
						s.logger.Warn("healing track failed",
							slog.String("track_id", t.ID),
							slog.String("title", t.Title),
							slog.String("error", err.Error()))
					}
				case healed:
					res.Healed++
				}
			}()
		}
		wg.Wait()
		return nil
	}

	if err := run(ordered); err != nil {
		wg.Wait()
		return res, err
	}
	if err := run(variants); err != nil {
		wg.Wait()
		return res, err
	}
	s.logger.Info("heal pass finished",
		slog.Int("checked", res.Checked),
		slog.Int("healed", res.Healed),
		slog.Int("failed", res.Failed))
	return res, ctx.Err()
}

// healOne applies the best available metadata to t, fetches lyrics,
// embeds what changed into the file and stamps last_enrich_at.
func (s *Service) healOne(ctx context.Context, t *catalog.Track, original originalFunc) (bool, error) {
	var ch changes
	if s.Deficient(t) {
		if meta := s.bestMetadata(ctx, t); meta != nil {
			ch = s.apply(t, meta)
		}
		if key, ok := normalize.OriginalKeyOf(t.Title); ok && !normalize.ValidDate(t.ReleaseTime) {
			if orig := original(ctx, t.ArtistID, key); orig != nil && normalize.ValidDate(orig.ReleaseTime) {
				rt := *orig.ReleaseTime
				t.ReleaseTime = &rt
				ch.date = true
			}
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	lyrics, err := s.lyrics(ctx, t)
	if err != nil {
		return false, err
	}

	if t.LocalPath != "" && (ch.any() || lyrics != "") {
		s.embed(ctx, t, ch, lyrics)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	now := s.now()
	t.LastEnrichAt = &now
	if err := s.catalog.UpdateTrack(ctx, t); err != nil {
		return false, fmt.Errorf("saving healed track: %w", err)
	}

	healed := ch.any() || lyrics != ""
	if healed {
		s.eventBus.Publish(event.Event{
			Type: event.TrackHealed,
			Data: map[string]any{
				"track_id": t.ID,
				"title":    t.Title,
				"cover":    ch.cover,
				"album":    ch.album,
				"date":     ch.date,
				"lyrics":   lyrics != "",
			},
		})
	}
	return healed, nil
}

// bestMetadata asks the aggregator for t, retrying with a cleaned title
// when the stored one yields nothing.
func (s *Service) bestMetadata(ctx context.Context, t *catalog.Track) *provider.TrackMetadata {
	meta, err := s.meta.BestMetadata(ctx, t.Title, t.ArtistName)
	if err == nil && meta != nil {
		return meta
	}
	if err != nil && !errors.Is(err, aggregator.ErrNoMetadata) {
		s.logger.Debug("metadata lookup failed", slog.String("title", t.Title), slog.String("error", err.Error()))
	}
	cleaned := normalize.CleanSearchTitle(t.Title)
	if cleaned == "" || cleaned == t.Title {
		return nil
	}
	meta, err = s.meta.BestMetadata(ctx, cleaned, t.ArtistName)
	if err != nil {
		return nil
	}
	return meta
}

type changes struct {
	cover, album, date bool
}

func (c changes) any() bool { return c.cover || c.album || c.date }

// apply merges meta into t. Covers replace only missing or generic ones,
// albums only missing ones, and dates follow AcceptDate.
func (s *Service) apply(t *catalog.Track, meta *provider.TrackMetadata) changes {
	var ch changes
	if meta.CoverURL != "" && meta.CoverURL != t.Cover &&
		(t.Cover == "" || covers.IsGeneric(t.Cover, s.cfg.GenericPatterns)) &&
		!covers.IsGeneric(meta.CoverURL, s.cfg.GenericPatterns) {
		t.Cover = meta.CoverURL
		ch.cover = true
	}
	if t.Album == "" && meta.Album != "" {
		t.Album = meta.Album
		ch.album = true
	}
	if meta.ReleaseTime != nil && normalize.AcceptDate(t.ReleaseTime, *meta.ReleaseTime) {
		rt := *meta.ReleaseTime
		t.ReleaseTime = &rt
		ch.date = true
	}
	return ch
}

// lyrics fetches lyrics for a track that has none stored and saves them on
// its primary platform source. It returns "" when nothing new was stored.
func (s *Service) lyrics(ctx context.Context, t *catalog.Track) (string, error) {
	if !needsLyrics(t) {
		return "", nil
	}
	var refs []aggregator.LyricsRef
	for _, src := range t.Sources {
		if src.Source != provider.SourceLocal {
			refs = append(refs, aggregator.LyricsRef{Source: src.Source, ID: src.SourceID})
		}
	}
	lrc, err := s.meta.FetchLyrics(ctx, t.Title, t.ArtistName, refs...)
	if err != nil {
		s.logger.Debug("lyrics lookup failed", slog.String("title", t.Title), slog.String("error", err.Error()))
		return "", nil
	}
	if lrc == "" {
		return "", nil
	}
	src := s.primarySource(t)
	if src == nil {
		return "", nil
	}
	src.Data.Lyrics = lrc
	if err := s.catalog.UpdateTrackSource(ctx, src); err != nil {
		return "", fmt.Errorf("storing lyrics: %w", err)
	}
	return lrc, nil
}

// primarySource picks the linked platform ranked highest in the
// configured order, falling back to the first linked platform.
func (s *Service) primarySource(t *catalog.Track) *catalog.TrackSource {
	for _, name := range s.cfg.Order {
		if src := t.SourceFor(name); src != nil {
			return src
		}
	}
	for i := range t.Sources {
		if t.Sources[i].Source != provider.SourceLocal {
			return &t.Sources[i]
		}
	}
	return nil
}

// embed writes the changed fields into the track's file. Failures are
// logged; the catalog update proceeds regardless.
func (s *Service) embed(ctx context.Context, t *catalog.Track, ch changes, lyrics string) {
	if s.tagger == nil || !filesystem.FileExists(t.LocalPath) {
		return
	}
	var b tagger.Bundle
	if ch.album {
		b.Album = t.Album
	}
	if ch.date {
		b.Date = t.ReleaseTime
	}
	b.Lyrics = lyrics
	if ch.cover && s.covers != nil {
		data, err := s.covers.Load(ctx, t.Cover)
		if err != nil {
			s.logger.Warn("cover fetch failed", slog.String("cover", t.Cover), slog.String("error", err.Error()))
		} else {
			b.Cover = data
		}
	}
	if err := s.tagger.Write(ctx, t.LocalPath, b); err != nil {
		s.logger.Warn("embedding tags failed", slog.String("path", t.LocalPath), slog.String("error", err.Error()))
	}
}
