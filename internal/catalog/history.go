package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sydlexius/tunevault/internal/provider"
)

const downloadColumns = `id, track_id, title, artist, album, cover_url, source, source_id,
	status, path, error, quality, size, duration_ms, created_at`

// RecordDownload appends one attempt to the download history.
func (s *Service) RecordDownload(ctx context.Context, r *DownloadRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_history (`+downloadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, nullString(r.TrackID), r.Title, r.Artist, r.Album, r.CoverURL, string(r.Source), r.SourceID,
		r.Status, r.Path, r.Error, r.Quality, r.Size, r.DurationMS, formatNullableTime(&r.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording download: %w", err)
	}
	return nil
}

// ListDownloads returns a page of history, newest first, and the total.
func (s *Service) ListDownloads(ctx context.Context, params DownloadListParams) ([]DownloadRecord, int, error) {
	params.Normalize()

	var conditions []string
	var args []any
	if params.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, string(params.Source))
	}
	if params.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, params.Status)
	}
	if params.Artist != "" {
		conditions = append(conditions, "artist LIKE ?")
		args = append(args, "%"+params.Artist+"%")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting downloads: %w", err)
	}

	args = append(args, params.PageSize, params.Offset())
	rows, err := s.db.QueryContext(ctx, `SELECT `+downloadColumns+` FROM download_history`+where+
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing downloads: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []DownloadRecord
	for rows.Next() {
		var r DownloadRecord
		var trackID *string
		var source, createdAt string
		if err := rows.Scan(&r.ID, &trackID, &r.Title, &r.Artist, &r.Album, &r.CoverURL, &source, &r.SourceID,
			&r.Status, &r.Path, &r.Error, &r.Quality, &r.Size, &r.DurationMS, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scanning download row: %w", err)
		}
		if trackID != nil {
			r.TrackID = *trackID
		}
		r.Source = provider.ProviderName(source)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating download rows: %w", err)
	}
	return out, total, nil
}

// DownloadStats counts history rows by outcome.
func (s *Service) DownloadStats(ctx context.Context) (DownloadStats, error) {
	var st DownloadStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM download_history`).Scan(&st.Total, &st.Success, &st.Failed)
	if err != nil {
		return st, fmt.Errorf("counting download stats: %w", err)
	}
	return st, nil
}
