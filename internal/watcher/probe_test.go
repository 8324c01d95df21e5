package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeFSNotify_LocalDir(t *testing.T) {
	dir := t.TempDir()
	if !ProbeFSNotify(dir, 2*time.Second) {
		t.Error("expected fsnotify to be supported on local temp dir")
	}
}

func TestProbeFSNotify_NonexistentDir(t *testing.T) {
	if ProbeFSNotify("/nonexistent/path/that/does/not/exist", 500*time.Millisecond) {
		t.Error("expected fsnotify to report unsupported for nonexistent dir")
	}
}

func TestProbeFSNotify_Timeout(t *testing.T) {
	// Only verifies the probe returns.
	_ = ProbeFSNotify(t.TempDir(), time.Nanosecond)
}

func TestProbeCache_GetSet(t *testing.T) {
	pc := NewProbeCache()
	if _, ok := pc.Get("/some/path"); ok {
		t.Error("expected ok=false for unprobed path")
	}

	pc.Set("/some/path", true)
	if supported, ok := pc.Get("/some/path"); !ok || !supported {
		t.Errorf("Get = %v, %v; want true, true", supported, ok)
	}
	pc.Set("/other/path", false)
	if supported, ok := pc.Get("/other/path"); !ok || supported {
		t.Errorf("Get = %v, %v; want false, true", supported, ok)
	}
}

func TestProbeAll(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	pc := NewProbeCache()
	pc.ProbeAll(context.Background(), []string{dir, missing}, testLogger())

	if supported, ok := pc.Get(dir); !ok || !supported {
		t.Errorf("temp dir probe = %v, %v; want true, true", supported, ok)
	}
	if supported, ok := pc.Get(missing); !ok || supported {
		t.Errorf("missing dir probe = %v, %v; want false, true", supported, ok)
	}
}

func TestProbeAll_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pc := NewProbeCache()
	pc.ProbeAll(ctx, []string{dir}, testLogger())
	if supported, ok := pc.Get(dir); !ok || supported {
		t.Errorf("probe under cancelled ctx = %v, %v; want false, true", supported, ok)
	}
}

func TestProbeCache_SetTimeout(t *testing.T) {
	pc := NewProbeCache()
	pc.SetTimeout(0)
	if pc.timeout != DefaultProbeTimeout {
		t.Errorf("timeout = %v, want %v", pc.timeout, DefaultProbeTimeout)
	}
	pc.SetTimeout(time.Second)
	if pc.timeout != time.Second {
		t.Errorf("timeout = %v, want 1s", pc.timeout)
	}
}
