package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/provider"
)

// MonitorSeed is an artist subscribed to on one platform.
type MonitorSeed struct {
	Source   provider.ProviderName
	SourceID string
	Name     string
}

// SeedMonitored creates every seeded artist with its platform binding and
// marks it monitored. A binding already owned by another artist is
// logged and skipped. It returns how many artists were newly created.
func (s *Service) SeedMonitored(ctx context.Context, seeds []MonitorSeed) (int, error) {
	created := 0
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" || strings.TrimSpace(seed.SourceID) == "" {
			continue
		}
		isNew := false
		err := s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
			a, fresh, err := tx.GetOrCreateArtist(ctx, name)
			if err != nil {
				return err
			}
			isNew = fresh
			if err := tx.AddArtistSource(ctx, &catalog.ArtistSource{
				ArtistID: a.ID,
				Source:   seed.Source,
				SourceID: strings.TrimSpace(seed.SourceID),
			}); err != nil {
				return err
			}
			if a.IsMonitored {
				return nil
			}
			a.IsMonitored = true
			return tx.UpdateArtist(ctx, a)
		})
		switch {
		case err == nil:
			if isNew {
				created++
			}
		case errors.Is(err, catalog.ErrConflict):
			s.logger.Warn("monitored source already bound",
				slog.String("artist", name),
				slog.String("source", string(seed.Source)),
				slog.String("source_id", seed.SourceID))
		case err != nil:
			return created, fmt.Errorf("seeding %s: %w", name, err)
		}
	}
	return created, nil
}

// CacheMonitored runs CacheArtist for every monitored artist and returns
// the total of files downloaded.
func (s *Service) CacheMonitored(ctx context.Context, since time.Time, limit int) (int, error) {
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
			n, err := s.CacheArtist(ctx, a.ID, since, limit)
			if err != nil {
				s.logger.Warn("auto-cache failed",
					slog.String("artist", a.Name),
					slog.String("error", err.Error()))
				continue
			}
			total += n
		}
		if page*params.PageSize >= count || len(artists) == 0 {
			return total, nil
		}
	}
}
