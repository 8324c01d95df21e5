package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

const trackColumns = `t.id, t.artist_id, t.title, t.title_key, t.album, t.cover, t.release_time,
	t.is_favorite, t.status, t.local_path, t.last_enrich_at, t.created_at, t.updated_at, a.name`

const trackFrom = ` FROM tracks t JOIN artists a ON a.id = t.artist_id`

// CreateTrack inserts a track. TitleKey is derived from Title, and an
// existing track with the same key under the artist yields ErrConflict.
func (s *Service) CreateTrack(ctx context.Context, t *Track) error {
	prepareTrack(t, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, artist_id, title, title_key, album, cover, release_time,
			is_favorite, status, local_path, last_enrich_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trackArgs(t)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("creating track %q: %w", t.Title, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating track: %w", err)
	}
	return nil
}

func prepareTrack(t *Track, now time.Time) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.TitleKey = normalize.Key(t.Title)
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CreatedAt = now
	t.UpdatedAt = now
}

func trackArgs(t *Track) []any {
	return []any{
		t.ID, t.ArtistID, t.Title, t.TitleKey, nullString(t.Album), nullString(t.Cover),
		formatNullableTime(t.ReleaseTime), boolToInt(t.IsFavorite), string(t.Status),
		nullString(t.LocalPath), formatNullableTime(t.LastEnrichAt),
		formatNullableTime(&t.CreatedAt), formatNullableTime(&t.UpdatedAt),
	}
}

// GetTrack retrieves a track by id with its sources. It returns nil when
// absent.
func (s *Service) GetTrack(ctx context.Context, id string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+trackFrom+` WHERE t.id = ?`, id)
	return s.finishTrack(ctx, row, "getting track")
}

// GetTrackByKey finds the track under an artist whose normalized title
// equals key.
func (s *Service) GetTrackByKey(ctx context.Context, artistID, key string) (*Track, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+trackFrom+` WHERE t.artist_id = ? AND t.title_key = ?`, artistID, key)
	return s.finishTrack(ctx, row, "getting track by key")
}

// GetTrackBySource finds the track linked to a platform id.
func (s *Service) GetTrackBySource(ctx context.Context, source provider.ProviderName, sourceID string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+trackFrom+`
		JOIN track_sources ts ON ts.track_id = t.id
		WHERE ts.source = ? AND ts.source_id = ?`, string(source), sourceID)
	return s.finishTrack(ctx, row, "getting track by source")
}

// GetTrackByPath finds the track whose local file is path.
func (s *Service) GetTrackByPath(ctx context.Context, path string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+trackFrom+` WHERE t.local_path = ?`, path)
	return s.finishTrack(ctx, row, "getting track by path")
}

func (s *Service) finishTrack(ctx context.Context, row *sql.Row, op string) (*Track, error) {
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.Sources, err = s.ListTrackSources(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTrack writes every mutable field. Renaming a track onto a key
// already taken under the same artist yields ErrConflict.
func (s *Service) UpdateTrack(ctx context.Context, t *Track) error {
	t.TitleKey = normalize.Key(t.Title)
	t.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET title = ?, title_key = ?, album = ?, cover = ?, release_time = ?,
			is_favorite = ?, status = ?, local_path = ?, last_enrich_at = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.TitleKey, nullString(t.Album), nullString(t.Cover), formatNullableTime(t.ReleaseTime),
		boolToInt(t.IsFavorite), string(t.Status), nullString(t.LocalPath),
		formatNullableTime(t.LastEnrichAt), formatNullableTime(&t.UpdatedAt), t.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("renaming track to %q: %w", t.Title, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("updating track: %w", err)
	}
	return nil
}

// DeleteTrack removes a track; its sources cascade.
func (s *Service) DeleteTrack(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting track: %w", err)
	}
	return nil
}

// ListTracks returns a filtered page of tracks, without sources, and the
// total count.
func (s *Service) ListTracks(ctx context.Context, params TrackListParams) ([]Track, int, error) {
	params.Validate()
	where, args := buildTrackWhere(params)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+trackFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting tracks: %w", err)
	}

	order := "t." + params.Sort
	if params.Order == "desc" {
		order += " DESC"
	} else {
		order += " ASC"
	}
	args = append(args, params.PageSize, params.Offset())
	query := `SELECT ` + trackColumns + trackFrom + where + //nolint:gosec // G202: order is from validated params
		` ORDER BY ` + order + `, t.title ASC LIMIT ? OFFSET ?`

	tracks, err := s.queryTracks(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tracks, total, nil
}

func buildTrackWhere(p TrackListParams) (string, []any) {
	var conditions []string
	var args []any
	if p.ArtistID != "" {
		conditions = append(conditions, "t.artist_id = ?")
		args = append(args, p.ArtistID)
	}
	if p.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(p.Status))
	}
	if p.Search != "" {
		conditions = append(conditions, "(t.title LIKE ? OR a.name LIKE ? OR t.album LIKE ?)")
		like := "%" + p.Search + "%"
		args = append(args, like, like, like)
	}
	if p.Favorite != nil {
		conditions = append(conditions, "t.is_favorite = ?")
		args = append(args, boolToInt(*p.Favorite))
	}
	if p.LocalOnly {
		conditions = append(conditions, `t.local_path IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM track_sources ts WHERE ts.track_id = t.id AND ts.source <> 'local')`)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListArtistTracks returns every track of an artist with sources eagerly
// loaded in a single extra query.
func (s *Service) ListArtistTracks(ctx context.Context, artistID string) ([]Track, error) {
	tracks, err := s.queryTracks(ctx,
		`SELECT `+trackColumns+trackFrom+` WHERE t.artist_id = ? ORDER BY t.title`, artistID)
	if err != nil {
		return nil, err
	}
	if err := s.preloadSources(ctx, tracks, `
		SELECT `+trackSourceColumns+` FROM track_sources ts
		JOIN tracks t ON t.id = ts.track_id
		WHERE t.artist_id = ? ORDER BY ts.created_at, ts.rowid`, artistID); err != nil {
		return nil, err
	}
	return tracks, nil
}

// ListTracksWithLocalPath returns every track that claims a local file,
// with sources loaded.
func (s *Service) ListTracksWithLocalPath(ctx context.Context) ([]Track, error) {
	tracks, err := s.queryTracks(ctx,
		`SELECT `+trackColumns+trackFrom+` WHERE t.local_path IS NOT NULL ORDER BY t.local_path`)
	if err != nil {
		return nil, err
	}
	if err := s.preloadSources(ctx, tracks, `
		SELECT `+trackSourceColumns+` FROM track_sources ts
		JOIN tracks t ON t.id = ts.track_id
		WHERE t.local_path IS NOT NULL ORDER BY ts.created_at, ts.rowid`); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (s *Service) queryTracks(ctx context.Context, query string, args ...any) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		tracks = append(tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating track rows: %w", err)
	}
	return tracks, nil
}

func (s *Service) preloadSources(ctx context.Context, tracks []Track, query string, args ...any) error {
	if len(tracks) == 0 {
		return nil
	}
	index := make(map[string]int, len(tracks))
	for i := range tracks {
		index[tracks[i].ID] = i
	}
	sources, err := s.queryTrackSources(ctx, query, args...)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if i, ok := index[src.TrackID]; ok {
			tracks[i].Sources = append(tracks[i].Sources, src)
		}
	}
	return nil
}

func scanTrack(row interface{ Scan(...any) error }) (*Track, error) {
	var t Track
	var album, cover, releaseTime, localPath, lastEnrich sql.NullString
	var favorite int
	var status, createdAt, updatedAt string
	err := row.Scan(
		&t.ID, &t.ArtistID, &t.Title, &t.TitleKey, &album, &cover, &releaseTime,
		&favorite, &status, &localPath, &lastEnrich, &createdAt, &updatedAt, &t.ArtistName,
	)
	if err != nil {
		return nil, err
	}
	t.Album = album.String
	t.Cover = cover.String
	t.ReleaseTime = parseNullableTime(releaseTime)
	t.IsFavorite = favorite == 1
	t.Status = Status(status)
	t.LocalPath = localPath.String
	t.LastEnrichAt = parseNullableTime(lastEnrich)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
