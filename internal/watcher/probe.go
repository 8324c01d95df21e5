package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds how long a probe waits for its own event.
const DefaultProbeTimeout = 2 * time.Second

// ProbeCache remembers which directories deliver fsnotify events.
// Network mounts often accept watches but never report changes, so the
// watcher polls them instead.
type ProbeCache struct {
	timeout time.Duration

	mu      sync.RWMutex
	results map[string]bool
}

// NewProbeCache creates an empty cache that probes with
// DefaultProbeTimeout.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{timeout: DefaultProbeTimeout, results: make(map[string]bool)}
}

// SetTimeout changes the per-directory probe timeout.
func (pc *ProbeCache) SetTimeout(d time.Duration) {
	if d > 0 {
		pc.timeout = d
	}
}

// Get reports the recorded result for path. probed is false when path
// was never probed.
func (pc *ProbeCache) Get(path string) (supported, probed bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	supported, probed = pc.results[path]
	return supported, probed
}

// Set records a result for path.
func (pc *ProbeCache) Set(path string, supported bool) {
	pc.mu.Lock()
	pc.results[path] = supported
	pc.mu.Unlock()
}

// ProbeFSNotify reports whether a Create event for a scratch directory
// made inside path arrives within timeout.
func ProbeFSNotify(path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return probe(ctx, path)
}

func probe(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(path); err != nil {
		return false
	}

	scratch := filepath.Join(path, ".tunevault_probe_"+uuid.NewString())
	if err := os.Mkdir(scratch, 0o750); err != nil { //nolint:gosec // G301: removed below
		return false
	}
	defer os.Remove(scratch) //nolint:errcheck

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && ev.Name == scratch {
				return true
			}
		case <-w.Errors:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// ProbeAll probes dirs concurrently and records each result. A missing
// directory is recorded as unsupported. Cancelling ctx stops probes in
// flight; their directories are recorded as unsupported.
func (pc *ProbeCache) ProbeAll(ctx context.Context, dirs []string, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				pc.Set(dir, false)
				logger.Warn("directory not accessible for probe", slog.String("path", dir))
				return nil
			}
			pctx, cancel := context.WithTimeout(gctx, pc.timeout)
			defer cancel()
			supported := probe(pctx, dir)
			pc.Set(dir, supported)
			logger.Info("fsnotify probe result", slog.String("path", dir), slog.Bool("supported", supported))
			return nil
		})
	}
	_ = g.Wait()
}
