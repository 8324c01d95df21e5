package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sydlexius/tunevault/internal/provider"
)

const artistColumns = `id, name, avatar, is_monitored, last_refreshed_at, created_at, updated_at`

const artistSourceColumns = `id, artist_id, source, source_id, avatar, created_at`

// GetOrCreateArtist returns the artist with the given name, creating it if
// absent. The lookup and insert run under a process-wide lock so concurrent
// add-artist requests never produce duplicate rows. A tx-scoped Service
// skips the lock: its transaction holds the store's only connection.
func (s *Service) GetOrCreateArtist(ctx context.Context, name string) (*Artist, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, &provider.ErrValidation{Field: "name", Reason: "empty"}
	}

	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	existing, err := s.GetArtistByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	a := &Artist{Name: name}
	if err := s.CreateArtist(ctx, a); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// CreateArtist inserts a new artist.
func (s *Service) CreateArtist(ctx context.Context, a *Artist) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artists (id, name, avatar, is_monitored, last_refreshed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Name, a.Avatar, boolToInt(a.IsMonitored), formatNullableTime(a.LastRefreshedAt),
		formatNullableTime(&now), formatNullableTime(&now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("creating artist %q: %w", a.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating artist: %w", err)
	}
	return nil
}

// GetArtist retrieves an artist by id with its sources. It returns nil
// when absent.
func (s *Service) GetArtist(ctx context.Context, id string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artistColumns+` FROM artists WHERE id = ?`, id)
	return s.finishArtist(ctx, row, "getting artist by id")
}

// GetArtistByName retrieves an artist by exact name. It returns nil when
// absent.
func (s *Service) GetArtistByName(ctx context.Context, name string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artistColumns+` FROM artists WHERE name = ?`, name)
	return s.finishArtist(ctx, row, "getting artist by name")
}

// GetArtistBySource retrieves the artist bound to a platform id.
func (s *Service) GetArtistBySource(ctx context.Context, source provider.ProviderName, sourceID string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("a.", artistColumns)+` FROM artists a
		JOIN artist_sources src ON src.artist_id = a.id
		WHERE src.source = ? AND src.source_id = ?`, string(source), sourceID)
	return s.finishArtist(ctx, row, "getting artist by source")
}

func (s *Service) finishArtist(ctx context.Context, row *sql.Row, op string) (*Artist, error) {
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.Sources, err = s.ListArtistSources(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArtists returns a page of artists ordered by name, and the total.
func (s *Service) ListArtists(ctx context.Context, params ArtistListParams) ([]Artist, int, error) {
	params.Normalize()

	var conditions []string
	var args []any
	if params.Search != "" {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+params.Search+"%")
	}
	if params.MonitoredOnly {
		conditions = append(conditions, "is_monitored = 1")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artists"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting artists: %w", err)
	}

	args = append(args, params.PageSize, params.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artistColumns+` FROM artists`+where+` ORDER BY name ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing artists: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning artist row: %w", err)
		}
		artists = append(artists, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating artist rows: %w", err)
	}
	return artists, total, nil
}

// UpdateArtist writes avatar, monitoring flag and refresh stamp.
func (s *Service) UpdateArtist(ctx context.Context, a *Artist) error {
	a.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE artists SET avatar = ?, is_monitored = ?, last_refreshed_at = ?, updated_at = ?
		WHERE id = ?
	`, a.Avatar, boolToInt(a.IsMonitored), formatNullableTime(a.LastRefreshedAt),
		formatNullableTime(&a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("updating artist: %w", err)
	}
	return nil
}

// DeleteArtist removes an artist; tracks and sources cascade.
func (s *Service) DeleteArtist(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting artist: %w", err)
	}
	return nil
}

// AddArtistSource binds a platform id to an artist. It is a no-op when the
// pair is already bound to the same artist and ErrConflict when it belongs
// to another.
func (s *Service) AddArtistSource(ctx context.Context, src *ArtistSource) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT artist_id FROM artist_sources WHERE source = ? AND source_id = ?`,
		string(src.Source), src.SourceID).Scan(&owner)
	switch {
	case err == nil && owner == src.ArtistID:
		return nil
	case err == nil:
		return fmt.Errorf("artist source %s/%s bound to %s: %w", src.Source, src.SourceID, owner, ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking artist source: %w", err)
	}

	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	src.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artist_sources (id, artist_id, source, source_id, avatar, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, src.ID, src.ArtistID, string(src.Source), src.SourceID, src.Avatar, formatNullableTime(&src.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating artist source: %w", err)
	}
	return nil
}

// ListArtistSources returns an artist's platform bindings.
func (s *Service) ListArtistSources(ctx context.Context, artistID string) ([]ArtistSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artistSourceColumns+` FROM artist_sources WHERE artist_id = ? ORDER BY created_at, source`, artistID)
	if err != nil {
		return nil, fmt.Errorf("listing artist sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ArtistSource
	for rows.Next() {
		var src ArtistSource
		var source, createdAt string
		if err := rows.Scan(&src.ID, &src.ArtistID, &source, &src.SourceID, &src.Avatar, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning artist source: %w", err)
		}
		src.Source = provider.ProviderName(source)
		src.CreatedAt = parseTime(createdAt)
		out = append(out, src)
	}
	return out, rows.Err()
}

func scanArtist(row interface{ Scan(...any) error }) (*Artist, error) {
	var a Artist
	var monitored int
	var lastRefreshed sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Name, &a.Avatar, &monitored, &lastRefreshed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.IsMonitored = monitored == 1
	a.LastRefreshedAt = parseNullableTime(lastRefreshed)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// prefixed qualifies every column in a comma-separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
