package downloader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/tunevault/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockResolver serves canned search hits and URLs keyed by source.
type mockResolver struct {
	mu       sync.Mutex
	searchFn func(source provider.ProviderName, keyword string) ([]provider.TrackInfo, error)
	urlFn    func(source provider.ProviderName, id string, quality int) (*provider.AudioURL, error)
	searches []provider.ProviderName
	urlCalls int
}

func (m *mockResolver) Search(_ context.Context, source provider.ProviderName, keyword string, _ int) ([]provider.TrackInfo, error) {
	m.mu.Lock()
	m.searches = append(m.searches, source)
	m.mu.Unlock()
	if m.searchFn == nil {
		return nil, nil
	}
	return m.searchFn(source, keyword)
}

func (m *mockResolver) AudioURL(_ context.Context, source provider.ProviderName, id string, quality int) (*provider.AudioURL, error) {
	m.mu.Lock()
	m.urlCalls++
	m.mu.Unlock()
	return m.urlFn(source, id, quality)
}

func audioServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.flac" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, res Resolver) (*Service, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		CacheDir:     filepath.Join(root, "cache"),
		FavoritesDir: filepath.Join(root, "favorites"),
		LibraryDir:   filepath.Join(root, "library"),
		RetryStep:    time.Millisecond,
	}
	return New(res, NewTokenBucket(100, time.Hour), cfg, testLogger()), cfg
}

func TestDownload_OriginHighQuality(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 4096)
	srv := audioServer(t, body)
	res := &mockResolver{
		urlFn: func(source provider.ProviderName, id string, _ int) (*provider.AudioURL, error) {
			return &provider.AudioURL{URL: srv.URL + "/a.flac", Bitrate: 999, Format: "flac"}, nil
		},
	}
	svc, cfg := newTestService(t, res)

	got, err := svc.Download(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "186016", Title: "稻香", Artist: "周杰伦",
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(cfg.CacheDir, "周杰伦 - 稻香.flac")
	if got.Path != want {
		t.Errorf("Path = %q, want %q", got.Path, want)
	}
	if got.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", got.Size, len(body))
	}
	if got.Quality() != "SQ" {
		t.Errorf("Quality() = %q, want SQ", got.Quality())
	}
	if len(res.searches) != 0 {
		t.Errorf("searched %v, want no escalation", res.searches)
	}
}

func TestDownload_PhysicalFirst(t *testing.T) {
	res := &mockResolver{
		urlFn: func(provider.ProviderName, string, int) (*provider.AudioURL, error) {
			t.Fatal("resolver should not be called")
			return nil, nil
		},
	}
	svc, cfg := newTestService(t, res)
	path := filepath.Join(cfg.LibraryDir, "Jay", "周杰伦 - 稻香 (remaster).flac")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("lib"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Download(context.Background(), Request{Source: provider.NameNetEase, SourceID: "1", Title: "稻香", Artist: "周杰伦"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got.Path != path || !got.Existing || !got.Library {
		t.Errorf("result = %+v, want existing library file %s", got, path)
	}
}

func TestFindExisting_IgnoresTinyCacheFiles(t *testing.T) {
	svc, cfg := newTestService(t, &mockResolver{})
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(cfg.CacheDir, "周杰伦 - 稻香.mp3")
	if err := os.WriteFile(p, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := svc.FindExisting("周杰伦", "稻香"); got != nil {
		t.Errorf("FindExisting = %+v, want nil for a partial file", got)
	}

	if err := os.WriteFile(p, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	got := svc.FindExisting("周杰伦", "稻香")
	if got == nil || got.Path != p || got.Bitrate != provider.QualityHigh {
		t.Errorf("FindExisting = %+v, want %s at 320k", got, p)
	}
}

func TestFindExisting_AllAudioExtensions(t *testing.T) {
	tests := []struct {
		ext     string
		bitrate int
	}{
		{"m4a", provider.QualityHigh},
		{"wav", provider.QualityLossless},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			svc, cfg := newTestService(t, &mockResolver{})
			if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
				t.Fatal(err)
			}
			p := filepath.Join(cfg.CacheDir, "周杰伦 - 稻香."+tt.ext)
			if err := os.WriteFile(p, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
				t.Fatal(err)
			}
			got := svc.FindExisting("周杰伦", "稻香")
			if got == nil || got.Path != p || got.Format != tt.ext || got.Bitrate != tt.bitrate {
				t.Errorf("FindExisting = %+v, want %s at %d", got, p, tt.bitrate)
			}
		})
	}
}

func TestResolve_EscalatesAndStopsAt320(t *testing.T) {
	res := &mockResolver{
		searchFn: func(source provider.ProviderName, _ string) ([]provider.TrackInfo, error) {
			return []provider.TrackInfo{{Title: "稻香", Artist: "周杰伦", ID: string(source) + "-id", Source: source}}, nil
		},
		urlFn: func(source provider.ProviderName, id string, _ int) (*provider.AudioURL, error) {
			switch source {
			case provider.NameQQMusic:
				if id == "origin" {
					return &provider.AudioURL{URL: "u1", Bitrate: 128, Format: "mp3"}, nil
				}
				return &provider.AudioURL{URL: "u2", Bitrate: 128, Format: "mp3"}, nil
			case provider.NameNetEase:
				return &provider.AudioURL{URL: "u3", Bitrate: 192, Format: "mp3"}, nil
			case provider.NameKugou:
				return &provider.AudioURL{URL: "u4", Bitrate: 320, Format: "mp3"}, nil
			}
			return nil, &provider.ErrNotFound{Provider: source, ID: id}
		},
	}
	svc, _ := newTestService(t, res)

	got, err := svc.Resolve(context.Background(), Request{
		Source: provider.NameQQMusic, SourceID: "origin", Quality: 999, Title: "稻香", Artist: "周杰伦",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Source != provider.NameKugou || got.URL.Bitrate != 320 {
		t.Errorf("Resolve = %s %dk, want kugou 320k", got.Source, got.URL.Bitrate)
	}
	wantOrder := []provider.ProviderName{provider.NameQQMusic, provider.NameNetEase, provider.NameKugou}
	if len(res.searches) != len(wantOrder) {
		t.Fatalf("searched %v, want %v", res.searches, wantOrder)
	}
	for i, s := range wantOrder {
		if res.searches[i] != s {
			t.Errorf("search[%d] = %s, want %s", i, res.searches[i], s)
		}
	}
}

func TestResolve_KeepsBestBelowTarget(t *testing.T) {
	res := &mockResolver{
		searchFn: func(source provider.ProviderName, _ string) ([]provider.TrackInfo, error) {
			if source == provider.NameKuwo {
				return []provider.TrackInfo{{Title: "稻香", Artist: "周杰伦", ID: "kw"}}, nil
			}
			return nil, nil
		},
		urlFn: func(source provider.ProviderName, id string, _ int) (*provider.AudioURL, error) {
			if id == "kw" {
				return &provider.AudioURL{URL: "kw", Bitrate: 192}, nil
			}
			return &provider.AudioURL{URL: "origin", Bitrate: 128}, nil
		},
	}
	svc, _ := newTestService(t, res)
	got, err := svc.Resolve(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "1", Quality: 999, Title: "稻香", Artist: "周杰伦",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "kw" || got.URL.Bitrate != 192 {
		t.Errorf("Resolve = %s/%dk, want kw/192k", got.ID, got.URL.Bitrate)
	}
}

func TestResolve_LowQualityRequestNoEscalation(t *testing.T) {
	res := &mockResolver{
		urlFn: func(provider.ProviderName, string, int) (*provider.AudioURL, error) {
			return &provider.AudioURL{URL: "u", Bitrate: 128}, nil
		},
	}
	svc, _ := newTestService(t, res)
	if _, err := svc.Resolve(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "1", Quality: 128, Title: "稻香", Artist: "周杰伦",
	}); err != nil {
		t.Fatal(err)
	}
	if len(res.searches) != 0 {
		t.Errorf("searched %v, want none", res.searches)
	}
}

func TestResolve_Retries503Linearly(t *testing.T) {
	calls := 0
	res := &mockResolver{
		urlFn: func(source provider.ProviderName, _ string, _ int) (*provider.AudioURL, error) {
			calls++
			if calls < 3 {
				return nil, &provider.ErrNetwork{Provider: source, StatusCode: http.StatusServiceUnavailable, Cause: errors.New("503")}
			}
			return &provider.AudioURL{URL: "u", Bitrate: 999}, nil
		},
	}
	svc, _ := newTestService(t, res)
	got, err := svc.Resolve(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "1", Title: "稻香", Artist: "周杰伦",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 3 || got.URL.Bitrate != 999 {
		t.Errorf("calls = %d, bitrate = %d, want 3 and 999", calls, got.URL.Bitrate)
	}
}

func TestResolve_ExhaustedIsErrDownload(t *testing.T) {
	res := &mockResolver{
		urlFn: func(source provider.ProviderName, id string, _ int) (*provider.AudioURL, error) {
			return nil, &provider.ErrNotFound{Provider: source, ID: id}
		},
	}
	svc, _ := newTestService(t, res)
	_, err := svc.Resolve(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "1", Title: "稻香", Artist: "周杰伦",
	})
	var dlErr *ErrDownload
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want ErrDownload", err)
	}
	var nf *provider.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want wrapped ErrNotFound", err)
	}
}

func TestDownload_FetchFailureLeavesNoFile(t *testing.T) {
	srv := audioServer(t, nil)
	res := &mockResolver{
		urlFn: func(provider.ProviderName, string, int) (*provider.AudioURL, error) {
			return &provider.AudioURL{URL: srv.URL + "/missing.flac", Bitrate: 999, Format: "flac"}, nil
		},
	}
	svc, cfg := newTestService(t, res)
	_, err := svc.Download(context.Background(), Request{
		Source: provider.NameNetEase, SourceID: "1", Title: "稻香", Artist: "周杰伦",
	})
	var dlErr *ErrDownload
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want ErrDownload", err)
	}
	entries, _ := os.ReadDir(cfg.CacheDir)
	if len(entries) != 0 {
		t.Errorf("cache dir has %d entries, want 0", len(entries))
	}
}

func TestDownload_RequiresTitleAndArtist(t *testing.T) {
	svc, _ := newTestService(t, &mockResolver{})
	_, err := svc.Download(context.Background(), Request{Title: "稻香"})
	var vErr *provider.ErrValidation
	if !errors.As(err, &vErr) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
