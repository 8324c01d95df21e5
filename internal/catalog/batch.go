package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/sydlexius/tunevault/internal/provider"
)

// BatchSize is the most rows a Batch holds before flushing.
const BatchSize = 50

type sourceKey struct {
	source   provider.ProviderName
	sourceID string
}

type platformKey struct {
	trackID string
	source  provider.ProviderName
}

// Batch buffers track and source inserts and writes them as multi-row
// INSERTs of at most BatchSize rows. It is meant for a tx-scoped Service;
// the caller commits once at the end of the phase.
type Batch struct {
	svc       *Service
	tracks    []*Track
	sources   []*TrackSource
	seen      map[sourceKey]bool
	platforms map[platformKey]bool
	keys      map[string]bool // artist_id + title_key of queued tracks

	TracksInserted  int
	SourcesInserted int
}

// NewBatch creates a batch writing through svc.
func (s *Service) NewBatch() *Batch {
	return &Batch{
		svc:       s,
		seen:      make(map[sourceKey]bool),
		platforms: make(map[platformKey]bool),
		keys:      make(map[string]bool),
	}
}

// AddTrack queues a new track. Its ID and TitleKey are assigned
// immediately so sources can reference it before the flush.
func (b *Batch) AddTrack(ctx context.Context, t *Track) error {
	prepareTrack(t, b.svc.now())
	k := t.ArtistID + "\x00" + t.TitleKey
	if b.keys[k] {
		return fmt.Errorf("queueing track %q: %w", t.Title, ErrConflict)
	}
	b.keys[k] = true
	b.tracks = append(b.tracks, t)
	return b.maybeFlush(ctx)
}

// AddSource queues a source link unless it already exists in the store
// or in the batch. It reports whether the link was queued.
func (b *Batch) AddSource(ctx context.Context, src *TrackSource) (bool, error) {
	k := sourceKey{src.Source, src.SourceID}
	if b.seen[k] {
		return false, nil
	}
	exists, err := b.svc.SourceExists(ctx, src.Source, src.SourceID)
	if err != nil || exists {
		return false, err
	}
	if src.Source != provider.SourceLocal {
		pk := platformKey{src.TrackID, src.Source}
		if b.platforms[pk] {
			return false, nil
		}
		taken, err := b.svc.HasPlatformSource(ctx, src.TrackID, src.Source)
		if err != nil || taken {
			return false, err
		}
		b.platforms[pk] = true
	}
	b.seen[k] = true
	prepareSource(src, b.svc)
	b.sources = append(b.sources, src)
	return true, b.maybeFlush(ctx)
}

func (b *Batch) maybeFlush(ctx context.Context) error {
	if len(b.tracks)+len(b.sources) >= BatchSize {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes every queued row. Tracks go first so source foreign keys
// resolve.
func (b *Batch) Flush(ctx context.Context) error {
	if len(b.tracks) > 0 {
		args := make([]any, 0, len(b.tracks)*13)
		for _, t := range b.tracks {
			args = append(args, trackArgs(t)...)
		}
		query := `INSERT INTO tracks (id, artist_id, title, title_key, album, cover, release_time,
			is_favorite, status, local_path, last_enrich_at, created_at, updated_at) VALUES ` +
			placeholders(len(b.tracks), 13)
		if _, err := b.svc.db.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("flushing tracks: %w", ErrConflict)
			}
			return fmt.Errorf("flushing tracks: %w", err)
		}
		b.TracksInserted += len(b.tracks)
		b.tracks = b.tracks[:0]
	}
	if len(b.sources) > 0 {
		args := make([]any, 0, len(b.sources)*9)
		for _, src := range b.sources {
			args = append(args, sourceArgs(src)...)
		}
		query := `INSERT INTO track_sources (id, track_id, source, source_id, cover, duration, url,
			data_json, created_at) VALUES ` + placeholders(len(b.sources), 9)
		if _, err := b.svc.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("flushing track sources: %w", err)
		}
		b.SourcesInserted += len(b.sources)
		b.sources = b.sources[:0]
	}
	return nil
}

func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = row
	}
	return strings.Join(parts, ", ")
}
