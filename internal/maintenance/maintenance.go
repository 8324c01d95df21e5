// Package maintenance runs periodic housekeeping: the cache retention
// sweep, expired API cache purging and SQLite optimization.
package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sydlexius/tunevault/internal/apicache"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/database"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
)

// Status holds maintenance status information.
type Status struct {
	DBFileSize     int64      `json:"db_file_size"`
	WALFileSize    int64      `json:"wal_file_size"`
	PageCount      int64      `json:"page_count"`
	PageSize       int64      `json:"page_size"`
	SchemaVersion  int64      `json:"schema_version"`
	Integrity      string     `json:"integrity,omitempty"`
	RetentionDays  int        `json:"retention_days"`
	LastOptimizeAt *time.Time `json:"last_optimize_at,omitempty"`
	LastSweepAt    *time.Time `json:"last_sweep_at,omitempty"`
}

// Config selects what the sweep may touch.
type Config struct {
	// RetentionDays is the age, by release time, after which cached
	// files are deleted. Zero disables the sweep.
	RetentionDays int
	CacheDir      string
	LibraryDir    string
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Checked int   `json:"checked"`
	Removed int   `json:"removed"`
	Freed   int64 `json:"freed_bytes"`
}

// Service provides maintenance operations.
type Service struct {
	db      *sql.DB
	dbPath  string
	catalog *catalog.Service
	cache   *apicache.Cache
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	lastOptimize *time.Time
	lastSweep    *time.Time
}

// NewService creates a maintenance service. cache may be nil.
func NewService(db *sql.DB, dbPath string, cat *catalog.Service, cache *apicache.Cache, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		dbPath:  dbPath,
		catalog: cat,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "maintenance")),
		now:     time.Now,
	}
}

// Status returns current database and sweep status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{RetentionDays: s.cfg.RetentionDays}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		s.logger.Warn("reading page_count", slog.String("error", err.Error()))
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		s.logger.Warn("reading page_size", slog.String("error", err.Error()))
	}
	if v, err := database.SchemaVersion(ctx, s.db); err != nil {
		s.logger.Warn("reading schema version", slog.String("error", err.Error()))
	} else {
		st.SchemaVersion = v
	}
	if res, err := database.QuickCheck(ctx, s.db); err != nil {
		s.logger.Warn("integrity check", slog.String("error", err.Error()))
	} else {
		st.Integrity = res
	}

	s.mu.Lock()
	st.LastOptimizeAt = s.lastOptimize
	st.LastSweepAt = s.lastSweep
	s.mu.Unlock()
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	now := s.now().UTC()
	s.mu.Lock()
	s.lastOptimize = &now
	s.mu.Unlock()
	s.logger.Info("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// SweepCache deletes cached files of non-favorite tracks released more
// than RetentionDays ago. Their tracks lose the local link and return to
// PENDING. Files outside the cache directory are never touched.
func (s *Service) SweepCache(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.cfg.RetentionDays <= 0 || s.cfg.CacheDir == "" {
		return res, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)

	tracks, err := s.catalog.ListTracksWithLocalPath(ctx)
	if err != nil {
		return res, fmt.Errorf("listing local tracks: %w", err)
	}
	for i := range tracks {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		t := &tracks[i]
		res.Checked++
		if !s.expired(t, cutoff) {
			continue
		}

		var size int64
		if info, err := os.Stat(t.LocalPath); err == nil {
			size = info.Size()
		}
		if err := os.Remove(t.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing expired file", slog.String("path", t.LocalPath), slog.String("error", err.Error()))
			continue
		}
		path := t.LocalPath
		err := s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
			if _, err := tx.DeleteLocalSources(ctx, t.ID); err != nil {
				return err
			}
			t.LocalPath = ""
			t.Status = catalog.StatusPending
			return tx.UpdateTrack(ctx, t)
		})
		if err != nil {
			return res, fmt.Errorf("unlinking %s: %w", path, err)
		}
		res.Removed++
		res.Freed += size
		s.logger.Info("expired cache file removed",
			slog.String("path", path),
			slog.String("track", t.Title))
	}

	now := s.now().UTC()
	s.mu.Lock()
	s.lastSweep = &now
	s.mu.Unlock()
	return res, nil
}

func (s *Service) expired(t *catalog.Track, cutoff time.Time) bool {
	if t.IsFavorite || t.LocalPath == "" {
		return false
	}
	if !filesystem.IsWithin(t.LocalPath, s.cfg.CacheDir) || filesystem.IsWithin(t.LocalPath, s.cfg.LibraryDir) {
		return false
	}
	return normalize.ValidDate(t.ReleaseTime) && t.ReleaseTime.Before(cutoff)
}

// RunOnce performs one full maintenance pass. Individual failures are
// logged and the pass continues.
func (s *Service) RunOnce(ctx context.Context) {
	if res, err := s.SweepCache(ctx); err != nil {
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
	} else if res.Removed > 0 {
		s.logger.Info("retention sweep complete",
			slog.Int("checked", res.Checked),
			slog.Int("removed", res.Removed),
			slog.Int64("freed_bytes", res.Freed))
	}
	if s.cache != nil {
		if n, err := s.cache.Purge(ctx); err != nil {
			s.logger.Error("api cache purge failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Info("api cache purged", slog.Int("removed", n))
		}
	}
	if err := s.Optimize(ctx); err != nil {
		s.logger.Error("scheduled optimize failed", slog.String("error", err.Error()))
	}
}

// StartScheduler runs RunOnce on a fixed interval until the context is
// canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started", slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
