package scanner

import (
	"context"
	"crypto/md5" //nolint:gosec // short non-cryptographic disambiguator
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/tunevault/internal/audioinfo"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/covers"
	"github.com/sydlexius/tunevault/internal/event"
	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/normalize"
	"github.com/sydlexius/tunevault/internal/provider"
)

// ErrScanRunning is returned when a scan is requested while one is active.
var ErrScanRunning = errors.New("scan already in progress")

// progressEvery is how often, in files, a scan_progress event goes out.
const progressEvery = 25

// Service reconciles the catalog with the audio files on disk.
type Service struct {
	catalog  *catalog.Service
	covers   *covers.Store
	dirs     Dirs
	logger   *slog.Logger
	eventBus *event.Bus

	// Swappable for tests.
	readTags func(path string) (fileMeta, error)
	probe    func(path string) (audioinfo.Info, audioinfo.Quality)

	mu          sync.Mutex
	currentScan *Result
}

// NewService creates a scanner service.
func NewService(cat *catalog.Service, coverStore *covers.Store, dirs Dirs, logger *slog.Logger) *Service {
	return &Service{
		catalog:  cat,
		covers:   coverStore,
		dirs:     dirs,
		logger:   logger.With(slog.String("component", "scanner")),
		readTags: readTags,
		probe:    audioinfo.ProbeQuality,
	}
}

// SetEventBus sets the event bus for publishing scan events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Dirs returns the directories the scanner walks.
func (s *Service) Dirs() Dirs { return s.dirs }

// Run starts a scan in the background. Only one scan runs at a time.
// Returns a snapshot of the initial result.
func (s *Service) Run(ctx context.Context, incremental bool) (*Result, error) {
	result, err := s.begin(incremental)
	if err != nil {
		return nil, err
	}
	snapshot := *result
	go s.execute(context.WithoutCancel(ctx), result)
	return &snapshot, nil
}

// Scan runs a scan and waits for it to finish.
func (s *Service) Scan(ctx context.Context, incremental bool) (*Result, error) {
	result, err := s.begin(incremental)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, result)
	snapshot := s.Status()
	if snapshot.Status == "failed" {
		return snapshot, errors.New(snapshot.Error)
	}
	return snapshot, nil
}

// Status returns a snapshot of the current or most recent scan result.
func (s *Service) Status() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentScan == nil {
		return nil
	}
	snapshot := *s.currentScan
	return &snapshot
}

func (s *Service) begin(incremental bool) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentScan != nil && s.currentScan.Status == "running" {
		return nil, ErrScanRunning
	}
	result := &Result{
		ID:          uuid.New().String(),
		Status:      "running",
		Incremental: incremental,
		StartedAt:   time.Now().UTC(),
	}
	s.currentScan = result
	return result, nil
}

func (s *Service) fail(result *Result, err error) {
	s.mu.Lock()
	result.Status = "failed"
	result.Error = err.Error()
	s.mu.Unlock()
	s.logger.Error("scan failed", slog.String("scan_id", result.ID), slog.String("error", err.Error()))
}

func (s *Service) execute(ctx context.Context, result *Result) {
	defer func() {
		s.mu.Lock()
		now := time.Now().UTC()
		result.CompletedAt = &now
		if result.Status == "running" {
			result.Status = "completed"
		}
		snapshot := *result
		s.mu.Unlock()

		s.logger.Info("scan finished",
			slog.String("scan_id", snapshot.ID),
			slog.String("status", snapshot.Status),
			slog.Int("files", snapshot.FilesSeen),
			slog.Int("new", snapshot.NewFiles),
			slog.Int("removed", snapshot.Removed))
		s.eventBus.Publish(event.Event{
			Type: event.ScanCompleted,
			Data: map[string]any{
				"scan_id":             snapshot.ID,
				"status":              snapshot.Status,
				"incremental":         snapshot.Incremental,
				"new_files_found":     snapshot.NewFiles,
				"removed_files_count": snapshot.Removed,
			},
		})
	}()

	if !result.Incremental {
		removed, err := s.Prune(ctx)
		if err != nil {
			s.fail(result, err)
			return
		}
		s.mu.Lock()
		result.Removed = removed
		s.mu.Unlock()
	}

	files, err := s.collect(ctx)
	if err != nil {
		s.fail(result, err)
		return
	}
	s.mu.Lock()
	result.FilesSeen = len(files)
	s.mu.Unlock()

	index, err := s.catalog.LocalSourceIndex(ctx)
	if err != nil {
		s.fail(result, err)
		return
	}
	linked := make(map[string]bool, len(index))
	for _, p := range index {
		if p != "" {
			linked[p] = true
		}
	}

	// File I/O happens before the transaction so the store's single
	// connection is held only for the writes.
	var pending []candidate
	for i, path := range files {
		if ctx.Err() != nil {
			s.fail(result, fmt.Errorf("scan canceled: %w", ctx.Err()))
			return
		}
		name := filepath.Base(path)
		_, indexed := index[name]
		if linked[path] || (result.Incremental && indexed) {
			s.mu.Lock()
			result.Skipped++
			s.mu.Unlock()
			continue
		}
		pending = append(pending, s.inspect(path))
		if (i+1)%progressEvery == 0 {
			s.eventBus.Publish(event.Event{
				Type: event.ScanProgress,
				Data: map[string]any{"scan_id": result.ID, "scanned": i + 1, "total": len(files)},
			})
		}
	}

	var added int
	err = s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		artists := make(map[string]*catalog.Artist)
		for _, c := range pending {
			ok, err := s.ingest(ctx, tx, c, index, artists)
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", c.path, err)
			}
			if ok {
				added++
			}
		}
		return nil
	})
	if err != nil {
		s.fail(result, err)
		return
	}
	s.mu.Lock()
	result.NewFiles = added
	s.mu.Unlock()
}

// collect walks every configured directory for managed audio files.
// Hidden directories are skipped; missing directories are not an error.
func (s *Service) collect(ctx context.Context) ([]string, error) {
	var files []string
	for _, root := range s.dirs.List() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == root {
					return fs.SkipDir
				}
				s.logger.Warn("walking scan directory", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && audioinfo.IsAudio(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return files, nil
}

type candidate struct {
	path     string
	name     string
	meta     fileMeta
	coverURL string
	info     audioinfo.Info
	quality  audioinfo.Quality
}

func (s *Service) inspect(path string) candidate {
	c := candidate{path: path, name: filepath.Base(path)}
	meta, err := s.readTags(path)
	if err != nil {
		s.logger.Warn("unreadable tags, using filename", slog.String("path", path), slog.String("error", err.Error()))
	}
	applyFilenameFallback(&meta, path)
	c.meta = meta
	if len(meta.Cover) > 0 && s.covers != nil {
		if c.coverURL, err = s.covers.Save(meta.Cover); err != nil {
			s.logger.Warn("embedded cover not saved", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	c.info, c.quality = s.probe(path)
	return c
}

func (s *Service) ingest(ctx context.Context, tx *catalog.Service, c candidate, index map[string]string, artists map[string]*catalog.Artist) (bool, error) {
	a := artists[c.meta.Artist]
	if a == nil {
		var err error
		a, _, err = tx.GetOrCreateArtist(ctx, c.meta.Artist)
		if err != nil {
			return false, err
		}
		artists[c.meta.Artist] = a
	}

	t, err := tx.GetTrackByKey(ctx, a.ID, normalize.Key(c.meta.Title))
	if err != nil {
		return false, err
	}
	if t == nil {
		t = &catalog.Track{
			ArtistID:    a.ID,
			Title:       c.meta.Title,
			Album:       c.meta.Album,
			Cover:       c.coverURL,
			ReleaseTime: c.meta.ReleaseTime,
			Status:      catalog.StatusDownloaded,
			LocalPath:   c.path,
		}
		if err := tx.CreateTrack(ctx, t); err != nil {
			return false, err
		}
	} else if mergeLocal(t, c) {
		if err := tx.UpdateTrack(ctx, t); err != nil {
			return false, err
		}
	}

	sourceID := c.name
	if p, ok := index[sourceID]; ok && p != c.path {
		sourceID = c.name + "_" + pathHash(c.path)
	}
	src := &catalog.TrackSource{
		TrackID:  t.ID,
		Source:   provider.SourceLocal,
		SourceID: sourceID,
		Cover:    c.coverURL,
		Duration: int(c.info.Duration.Seconds()),
		URL:      c.path,
		Data: catalog.SourceData{
			Quality:    string(c.quality),
			Format:     c.info.Format,
			Bitrate:    c.info.Bitrate,
			SampleRate: c.info.SampleRate,
			BitDepth:   c.info.BitDepth,
			Size:       c.info.Size,
			Path:       c.path,
			Album:      c.meta.Album,
		},
	}
	inserted, err := tx.AddTrackSource(ctx, src)
	if err != nil {
		return false, err
	}
	if inserted {
		index[sourceID] = c.path
	} else {
		s.logger.Warn("local source id already taken", slog.String("source_id", sourceID), slog.String("path", c.path))
	}
	return inserted, nil
}

// mergeLocal folds what the file knows into an existing track and reports
// whether anything changed.
func mergeLocal(t *catalog.Track, c candidate) bool {
	changed := false
	if t.Album == "" && c.meta.Album != "" {
		t.Album = c.meta.Album
		changed = true
	}
	if c.coverURL != "" && t.Cover != c.coverURL && !strings.HasPrefix(t.Cover, covers.URLPrefix) {
		t.Cover = c.coverURL
		changed = true
	}
	if c.meta.ReleaseTime != nil && !normalize.ValidDate(t.ReleaseTime) {
		t.ReleaseTime = c.meta.ReleaseTime
		changed = true
	}
	if t.LocalPath == "" || !filesystem.FileExists(t.LocalPath) {
		t.LocalPath = c.path
		changed = true
	}
	if t.Status != catalog.StatusDownloaded {
		t.Status = catalog.StatusDownloaded
		changed = true
	}
	return changed
}

// Prune drops local links whose files are gone. A track left with no
// file is repointed at a surviving local copy, reset to PENDING when it
// still has platform links, or deleted.
func (s *Service) Prune(ctx context.Context) (int, error) {
	tracks, err := s.catalog.ListTracksWithLocalPath(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = s.catalog.WithTx(ctx, func(tx *catalog.Service) error {
		for i := range tracks {
			t := &tracks[i]
			var survivors, online int
			var fallback string
			for _, src := range t.Sources {
				if src.Source != provider.SourceLocal {
					online++
					continue
				}
				path := src.Data.Path
				if path == "" {
					path = src.URL
				}
				if path != "" && filesystem.FileExists(path) {
					survivors++
					if fallback == "" {
						fallback = path
					}
					continue
				}
				if err := tx.DeleteTrackSource(ctx, src.ID); err != nil {
					return err
				}
				removed++
			}

			if filesystem.FileExists(t.LocalPath) {
				continue
			}
			s.logger.Info("pruning missing file", slog.String("track_id", t.ID), slog.String("path", t.LocalPath))
			switch {
			case survivors > 0:
				t.LocalPath = fallback
				t.Status = catalog.StatusDownloaded
				if err := tx.UpdateTrack(ctx, t); err != nil {
					return err
				}
			case online > 0:
				t.LocalPath = ""
				t.Status = catalog.StatusPending
				if err := tx.UpdateTrack(ctx, t); err != nil {
					return err
				}
			default:
				if err := tx.DeleteTrack(ctx, t.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning local sources: %w", err)
	}
	return removed, nil
}

func pathHash(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:6]
}
