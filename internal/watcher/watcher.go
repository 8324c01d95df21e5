// Package watcher triggers incremental scans when audio files appear in
// or disappear from the cache and favorites directories.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/tunevault/internal/audioinfo"
)

// Defaults for the watcher loop.
const (
	DefaultDebounce     = 5 * time.Second
	DefaultPollInterval = time.Minute
)

// Service watches directory trees for audio file changes. Directories
// where fsnotify does not deliver events are polled instead.
type Service struct {
	scanFn       func(ctx context.Context) error
	dirs         []string
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
	probeCache   *ProbeCache

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching map[string]bool

	// dir root -> set of audio file paths seen at the last poll
	pollSnapshots map[string]map[string]struct{}
}

// NewService creates a watcher over dirs. scanFn runs once per debounced
// burst of changes. A nil probeCache watches every directory.
func NewService(scanFn func(ctx context.Context) error, dirs []string, logger *slog.Logger, probeCache *ProbeCache) *Service {
	return &Service{
		scanFn:        scanFn,
		dirs:          dirs,
		logger:        logger.With(slog.String("component", "fs-watcher")),
		debounce:      DefaultDebounce,
		pollInterval:  DefaultPollInterval,
		probeCache:    probeCache,
		watching:      make(map[string]bool),
		pollSnapshots: make(map[string]map[string]struct{}),
	}
}

// SetDebounce overrides the debounce interval.
func (s *Service) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// SetPollInterval overrides the poll interval for unsupported directories.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Start blocks until ctx is canceled. If fsnotify is unavailable every
// directory is polled.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, running poll-only", slog.String("error", err.Error()))
	} else {
		defer w.Close() //nolint:errcheck
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}
	s.setup()
	s.logger.Info("filesystem watcher starting", slog.Int("dirs", len(s.dirs)))

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	scanPending := false
	schedule := func() {
		if !debounceTimer.Stop() {
			select {
			case <-debounceTimer.C:
			default:
			}
		}
		debounceTimer.Reset(s.debounce)
		scanPending = true
	}

	// Nil channels never receive when fsnotify is unavailable.
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	if w != nil {
		eventCh = w.Events
		errCh = w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if s.handleFSEvent(ev) {
				schedule()
			}

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", slog.String("error", err.Error()))

		case <-debounceTimer.C:
			if scanPending {
				scanPending = false
				s.logger.Info("debounce elapsed, triggering scan")
				if err := s.scanFn(ctx); err != nil {
					s.logger.Error("scan triggered by fs watcher failed", slog.String("error", err.Error()))
				}
			}

		case <-pollTicker.C:
			if s.pollDirectories() {
				schedule()
			}
		}
	}
}

// setup watches every supported directory tree and snapshots the rest.
func (s *Service) setup() {
	for _, dir := range s.dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			s.logger.Warn("directory not watchable", slog.String("path", dir))
			continue
		}
		supported := true
		if s.probeCache != nil {
			if ok, probed := s.probeCache.Get(dir); probed && !ok {
				supported = false
			}
		}
		s.mu.Lock()
		w := s.watcher
		s.mu.Unlock()
		if supported && w != nil {
			s.watchTree(dir)
			continue
		}
		snap := readAudioSnapshot(dir)
		s.mu.Lock()
		s.pollSnapshots[dir] = snap
		s.mu.Unlock()
		s.logger.Info("polling directory", slog.String("path", dir), slog.Int("files", len(snap)))
	}
}

// watchTree adds a watch on root and every directory below it. fsnotify
// watches are not recursive.
func (s *Service) watchTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}
		if d.IsDir() {
			s.addWatch(path)
		}
		return nil
	})
}

func (s *Service) addWatch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching[path] || s.watcher == nil {
		return
	}
	if err := s.watcher.Add(path); err != nil {
		s.logger.Error("failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	s.watching[path] = true
	s.logger.Debug("watching directory", slog.String("path", path))
}

// handleFSEvent reports whether ev should trigger a scan.
func (s *Service) handleFSEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			s.watchTree(ev.Name)
			// Files moved in together with the directory produce no events.
			return len(readAudioSnapshot(ev.Name)) > 0
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		s.mu.Lock()
		if s.watching[ev.Name] {
			delete(s.watching, ev.Name)
		}
		s.mu.Unlock()
	}

	if !audioinfo.IsAudio(ev.Name) {
		return false
	}
	s.logger.Debug("audio file changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
	return true
}

// pollDirectories compares the audio files of every polled directory
// against the previous snapshot and reports whether anything changed.
func (s *Service) pollDirectories() bool {
	s.mu.Lock()
	roots := make([]string, 0, len(s.pollSnapshots))
	for p := range s.pollSnapshots {
		roots = append(roots, p)
	}
	s.mu.Unlock()

	changed := false
	for _, root := range roots {
		s.mu.Lock()
		oldSnap := s.pollSnapshots[root]
		s.mu.Unlock()

		newSnap := readAudioSnapshot(root)
		if newSnap == nil {
			continue
		}
		if diff := snapshotDiff(oldSnap, newSnap); diff > 0 {
			s.logger.Info("poll: audio files changed", slog.String("path", root), slog.Int("changes", diff))
			changed = true
		}

		s.mu.Lock()
		s.pollSnapshots[root] = newSnap
		s.mu.Unlock()
	}
	return changed
}

func snapshotDiff(old, cur map[string]struct{}) int {
	n := 0
	for p := range cur {
		if _, ok := old[p]; !ok {
			n++
		}
	}
	for p := range old {
		if _, ok := cur[p]; !ok {
			n++
		}
	}
	return n
}

// readAudioSnapshot returns the audio files under root, or nil when root
// cannot be read.
func readAudioSnapshot(root string) map[string]struct{} {
	if _, err := os.Stat(root); err != nil {
		return nil
	}
	snap := make(map[string]struct{})
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}
		if d.Type().IsRegular() && audioinfo.IsAudio(path) {
			snap[path] = struct{}{}
		}
		return nil
	})
	return snap
}
