package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sydlexius/tunevault/internal/provider"
)

const trackSourceColumns = `ts.id, ts.track_id, ts.source, ts.source_id, ts.cover, ts.duration,
	ts.url, ts.data_json, ts.created_at`

// SourceExists reports whether (source, sourceID) is linked to any track.
func (s *Service) SourceExists(ctx context.Context, source provider.ProviderName, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM track_sources WHERE source = ? AND source_id = ?`,
		string(source), sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking track source: %w", err)
	}
	return n > 0, nil
}

// HasPlatformSource reports whether the track already carries a link to
// the given platform.
func (s *Service) HasPlatformSource(ctx context.Context, trackID string, source provider.ProviderName) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM track_sources WHERE track_id = ? AND source = ?`,
		trackID, string(source)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking platform source: %w", err)
	}
	return n > 0, nil
}

// AddTrackSource links a source to a track after checking for an existing
// link, so a unique violation never aborts the enclosing transaction. It
// reports whether a row was inserted. Non-local sources are limited to one
// per platform per track.
func (s *Service) AddTrackSource(ctx context.Context, src *TrackSource) (bool, error) {
	exists, err := s.SourceExists(ctx, src.Source, src.SourceID)
	if err != nil || exists {
		return false, err
	}
	if src.Source != provider.SourceLocal {
		taken, err := s.HasPlatformSource(ctx, src.TrackID, src.Source)
		if err != nil || taken {
			return false, err
		}
	}
	prepareSource(src, s)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO track_sources (id, track_id, source, source_id, cover, duration, url, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sourceArgs(src)...); err != nil {
		return false, fmt.Errorf("creating track source: %w", err)
	}
	return true, nil
}

func prepareSource(src *TrackSource, s *Service) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}
}

func sourceArgs(src *TrackSource) []any {
	return []any{
		src.ID, src.TrackID, string(src.Source), src.SourceID, src.Cover, src.Duration,
		src.URL, marshalData(src.Data), formatNullableTime(&src.CreatedAt),
	}
}

// GetTrackSource returns the link for (source, sourceID), or nil.
func (s *Service) GetTrackSource(ctx context.Context, source provider.ProviderName, sourceID string) (*TrackSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackSourceColumns+` FROM track_sources ts WHERE ts.source = ? AND ts.source_id = ?`,
		string(source), sourceID)
	src, err := scanTrackSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting track source: %w", err)
	}
	return src, nil
}

// GetTrackSourceByID returns a link by its row id, or nil.
func (s *Service) GetTrackSourceByID(ctx context.Context, id string) (*TrackSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackSourceColumns+` FROM track_sources ts WHERE ts.id = ?`, id)
	src, err := scanTrackSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting track source: %w", err)
	}
	return src, nil
}

// ListTrackSources returns a track's links in insertion order.
func (s *Service) ListTrackSources(ctx context.Context, trackID string) ([]TrackSource, error) {
	return s.queryTrackSources(ctx,
		`SELECT `+trackSourceColumns+` FROM track_sources ts WHERE ts.track_id = ? ORDER BY ts.created_at, ts.rowid`, trackID)
}

// UpdateTrackSource rewrites cover, duration, url and data of a link.
func (s *Service) UpdateTrackSource(ctx context.Context, src *TrackSource) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE track_sources SET cover = ?, duration = ?, url = ?, data_json = ? WHERE id = ?
	`, src.Cover, src.Duration, src.URL, marshalData(src.Data), src.ID)
	if err != nil {
		return fmt.Errorf("updating track source: %w", err)
	}
	return nil
}

// DeleteTrackSource removes one link.
func (s *Service) DeleteTrackSource(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM track_sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting track source: %w", err)
	}
	return nil
}

// DeleteLocalSources removes every local link of a track and returns how
// many were removed.
func (s *Service) DeleteLocalSources(ctx context.Context, trackID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM track_sources WHERE track_id = ? AND source = ?`, trackID, string(provider.SourceLocal))
	if err != nil {
		return 0, fmt.Errorf("deleting local sources: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LocalSourceIndex maps every local source_id to its data path, for O(1)
// skip checks during incremental scans.
func (s *Service) LocalSourceIndex(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, data_json FROM track_sources WHERE source = ?`, string(provider.SourceLocal))
	if err != nil {
		return nil, fmt.Errorf("listing local sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	index := make(map[string]string)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning local source: %w", err)
		}
		index[id] = unmarshalData(data).Path
	}
	return index, rows.Err()
}

func (s *Service) queryTrackSources(ctx context.Context, query string, args ...any) ([]TrackSource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing track sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []TrackSource
	for rows.Next() {
		src, err := scanTrackSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track source: %w", err)
		}
		out = append(out, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating track sources: %w", err)
	}
	return out, nil
}

func scanTrackSource(row interface{ Scan(...any) error }) (*TrackSource, error) {
	var src TrackSource
	var source, data, createdAt string
	err := row.Scan(&src.ID, &src.TrackID, &source, &src.SourceID, &src.Cover, &src.Duration,
		&src.URL, &data, &createdAt)
	if err != nil {
		return nil, err
	}
	src.Source = provider.ProviderName(source)
	src.Data = unmarshalData(data)
	src.CreatedAt = parseTime(createdAt)
	return &src, nil
}
