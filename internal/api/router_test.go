package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/database"
	"github.com/sydlexius/tunevault/internal/downloader"
	"github.com/sydlexius/tunevault/internal/healer"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/scanner"
)

type mockLibrary struct {
	toggleFn     func(id string) (*catalog.Track, error)
	deleteFn     func(id string, deleteFile bool) error
	downloadFn   func(req library.DownloadRequest) (*catalog.Track, error)
	redownloadFn func(source provider.ProviderName, id string, quality int) (*catalog.Track, error)
	matchFn      func(trackID string, source provider.ProviderName, id string) (*catalog.Track, error)
}

func (m *mockLibrary) ToggleFavorite(_ context.Context, id string) (*catalog.Track, error) {
	return m.toggleFn(id)
}

func (m *mockLibrary) DeleteTrack(_ context.Context, id string, deleteFile bool) error {
	return m.deleteFn(id, deleteFile)
}

func (m *mockLibrary) DeleteArtist(_ context.Context, id string, deleteFiles bool) error {
	return m.deleteFn(id, deleteFiles)
}

func (m *mockLibrary) DeleteSource(_ context.Context, id string) error {
	return m.deleteFn(id, false)
}

func (m *mockLibrary) Download(_ context.Context, req library.DownloadRequest) (*catalog.Track, error) {
	return m.downloadFn(req)
}

func (m *mockLibrary) Redownload(_ context.Context, source provider.ProviderName, id string, quality int) (*catalog.Track, error) {
	return m.redownloadFn(source, id, quality)
}

func (m *mockLibrary) ApplyMatch(_ context.Context, trackID string, source provider.ProviderName, id string) (*catalog.Track, error) {
	return m.matchFn(trackID, source, id)
}

type mockRefresher struct {
	mu      sync.Mutex
	running map[string]bool
	done    chan string
}

func (m *mockRefresher) RefreshArtist(_ context.Context, name string) (int, error) {
	m.done <- name
	return 1, nil
}

func (m *mockRefresher) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[name]
}

type mockHealer struct {
	artistFn func(id string) (healer.Result, error)
}

func (m *mockHealer) HealArtist(_ context.Context, id string) (healer.Result, error) {
	return m.artistFn(id)
}

func (m *mockHealer) HealTrack(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type mockSearcher struct {
	artistsFn func(keyword string, limit int) ([]provider.ArtistInfo, error)
}

func (m *mockSearcher) SearchArtists(_ context.Context, keyword string, limit int) ([]provider.ArtistInfo, error) {
	return m.artistsFn(keyword, limit)
}

func (m *mockSearcher) SearchTracks(_ context.Context, _ string, _ int) ([]provider.TrackInfo, error) {
	return nil, nil
}

type mockScanner struct {
	runFn func(incremental bool) (*scanner.Result, error)
}

func (m *mockScanner) Run(_ context.Context, incremental bool) (*scanner.Result, error) {
	return m.runFn(incremental)
}

func (m *mockScanner) Status() *scanner.Result { return nil }

type testServer struct {
	handler http.Handler
	cat     *catalog.Service
	lib     *mockLibrary
	refresh *mockRefresher
	heal    *mockHealer
	search  *mockSearcher
	scan    *mockScanner
}

func testRouter(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ts := &testServer{
		cat:     catalog.NewService(db),
		lib:     &mockLibrary{},
		refresh: &mockRefresher{running: map[string]bool{}, done: make(chan string, 1)},
		heal:    &mockHealer{},
		search:  &mockSearcher{},
		scan:    &mockScanner{},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ts.handler = NewRouter(RouterDeps{
		Catalog:   ts.cat,
		Library:   ts.lib,
		Scanner:   ts.scan,
		Refresher: ts.refresh,
		Healer:    ts.heal,
		Searcher:  ts.search,
		Logger:    logger,
	}).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func addArtist(t *testing.T, cat *catalog.Service, name string) *catalog.Artist {
	t.Helper()
	a, _, err := cat.GetOrCreateArtist(context.Background(), name)
	if err != nil {
		t.Fatalf("creating artist: %v", err)
	}
	return a
}

func addTrack(t *testing.T, cat *catalog.Service, artistID, title string, status catalog.Status) *catalog.Track {
	t.Helper()
	tr := &catalog.Track{ArtistID: artistID, Title: title, Status: status}
	if err := cat.CreateTrack(context.Background(), tr); err != nil {
		t.Fatalf("creating track: %v", err)
	}
	return tr
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestListTracks_Filters(t *testing.T) {
	ts := testRouter(t)
	a := addArtist(t, ts.cat, "周杰伦")
	addTrack(t, ts.cat, a.ID, "稻香", catalog.StatusDownloaded)
	addTrack(t, ts.cat, a.ID, "晴天", catalog.StatusPending)
	addTrack(t, ts.cat, a.ID, "七里香", catalog.StatusPending)

	w := ts.do(t, http.MethodGet, "/api/v1/tracks?status=pending&page_size=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body listResponse[catalog.Track]
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if len(body.Items) != 1 {
		t.Errorf("items = %d, want 1", len(body.Items))
	}
	if body.PageSize != 1 {
		t.Errorf("page_size = %d, want 1", body.PageSize)
	}
}

func TestListTracks_InvalidStatus(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/tracks?status=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeError(t, w).Error; got != "invalid request" {
		t.Errorf("error = %q, want %q", got, "invalid request")
	}
}

func TestListTracks_EmptyIsArray(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/tracks/local", "")
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("body = %s, want empty items array", w.Body.String())
	}
}

func TestGetTrack_NotFound(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/tracks/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &provider.ErrValidation{Field: "source", Reason: "unknown"}, http.StatusBadRequest},
		{"not found", fmtWrap(library.ErrNotFound), http.StatusNotFound},
		{"conflict", fmtWrap(catalog.ErrConflict), http.StatusConflict},
		{"download", &downloader.ErrDownload{Title: "稻香", Artist: "周杰伦"}, http.StatusBadGateway},
		{"network", &provider.ErrNetwork{Provider: provider.NameNetEase, Cause: errors.New("timeout")}, http.StatusBadGateway},
		{"no metadata", aggregator.ErrNoMetadata, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := testRouter(t)
			ts.lib.toggleFn = func(string) (*catalog.Track, error) { return nil, tt.err }
			w := ts.do(t, http.MethodPost, "/api/v1/tracks/x/favorite", "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			body := decodeError(t, w)
			if body.Error == "" {
				t.Error("error envelope missing error field")
			}
			if tt.want == http.StatusInternalServerError && body.Detail != "" {
				t.Errorf("detail = %q, want internal errors hidden", body.Detail)
			}
		})
	}
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}

func TestDeleteTrack_PassesDeleteFile(t *testing.T) {
	ts := testRouter(t)
	var gotID string
	var gotDelete bool
	ts.lib.deleteFn = func(id string, deleteFile bool) error {
		gotID, gotDelete = id, deleteFile
		return nil
	}
	w := ts.do(t, http.MethodDelete, "/api/v1/tracks/t1?delete_file=true", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != "t1" || !gotDelete {
		t.Errorf("DeleteTrack(%q, %v), want (t1, true)", gotID, gotDelete)
	}
}

func TestDownload(t *testing.T) {
	ts := testRouter(t)
	var got library.DownloadRequest
	ts.lib.downloadFn = func(req library.DownloadRequest) (*catalog.Track, error) {
		got = req
		return &catalog.Track{ID: "t1", Title: req.Title, Status: catalog.StatusDownloaded}, nil
	}
	w := ts.do(t, http.MethodPost, "/api/v1/downloads",
		`{"source":"qqmusic","source_id":"003OUlho2HcRHC","title":"稻香","artist":"周杰伦","quality":999}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if got.Source != provider.NameQQMusic || got.SourceID != "003OUlho2HcRHC" || got.Quality != 999 {
		t.Errorf("request = %+v", got)
	}
}

func TestDownload_UnknownFieldRejected(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodPost, "/api/v1/downloads", `{"source":"qqmusic","bogus":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRedownload_RequiresSourceID(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodPost, "/api/v1/downloads/redownload", `{"source":"netease"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestApplyMatch(t *testing.T) {
	ts := testRouter(t)
	ts.lib.matchFn = func(trackID string, source provider.ProviderName, id string) (*catalog.Track, error) {
		if trackID != "t1" || source != provider.NameNetEase || id != "186016" {
			t.Errorf("ApplyMatch(%q, %q, %q)", trackID, source, id)
		}
		return &catalog.Track{ID: trackID, Album: "魔杰座"}, nil
	}
	w := ts.do(t, http.MethodPost, "/api/v1/tracks/t1/match", `{"source":"netease","source_id":"186016"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestRefreshArtist_StartsInBackground(t *testing.T) {
	ts := testRouter(t)
	a := addArtist(t, ts.cat, "林俊杰")

	w := ts.do(t, http.MethodPost, "/api/v1/artists/"+a.ID+"/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	select {
	case name := <-ts.refresh.done:
		if name != "林俊杰" {
			t.Errorf("refreshed %q, want %q", name, "林俊杰")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not started")
	}
}

func TestRefreshArtist_AlreadyRunning(t *testing.T) {
	ts := testRouter(t)
	a := addArtist(t, ts.cat, "林俊杰")
	ts.refresh.running["林俊杰"] = true

	w := ts.do(t, http.MethodPost, "/api/v1/artists/"+a.ID+"/refresh", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRefreshArtist_Missing(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodPost, "/api/v1/artists/nope/refresh", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHealArtist(t *testing.T) {
	ts := testRouter(t)
	a := addArtist(t, ts.cat, "陈奕迅")
	ts.heal.artistFn = func(id string) (healer.Result, error) {
		return healer.Result{Checked: 3, Healed: 2}, nil
	}
	w := ts.do(t, http.MethodPost, "/api/v1/artists/"+a.ID+"/heal", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var res healer.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Healed != 2 {
		t.Errorf("healed = %d, want 2", res.Healed)
	}
}

func TestSearchArtists_EmptyKeyword(t *testing.T) {
	ts := testRouter(t)
	ts.search.artistsFn = func(keyword string, _ int) ([]provider.ArtistInfo, error) {
		if keyword == "" {
			return nil, &provider.ErrValidation{Field: "keyword", Reason: "empty"}
		}
		return []provider.ArtistInfo{{Name: keyword}}, nil
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/search/artists?keyword=+", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty keyword status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/search/artists?keyword=Eason", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestScanRun(t *testing.T) {
	ts := testRouter(t)
	var incremental bool
	ts.scan.runFn = func(inc bool) (*scanner.Result, error) {
		incremental = inc
		return &scanner.Result{ID: "s1", Status: "running"}, nil
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/scan?full=true", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if incremental {
		t.Error("full=true should run a full scan")
	}

	ts.scan.runFn = func(bool) (*scanner.Result, error) { return nil, scanner.ErrScanRunning }
	if w := ts.do(t, http.MethodPost, "/api/v1/scan", ""); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestScanStatus_Idle(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/scan/status", "")
	if !strings.Contains(w.Body.String(), "idle") {
		t.Errorf("body = %s, want idle", w.Body.String())
	}
}

func TestMaintenance_Unavailable(t *testing.T) {
	ts := testRouter(t)
	w := ts.do(t, http.MethodGet, "/api/v1/maintenance/status", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestActionLimit(t *testing.T) {
	ts := testRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.lib.matchFn = func(string, provider.ProviderName, string) (*catalog.Track, error) {
		return &catalog.Track{}, nil
	}
	h := NewRouter(RouterDeps{
		Catalog:     ts.cat,
		Library:     ts.lib,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		BaseContext: ctx,
		ActionLimit: time.Minute,
		ActionBurst: 1,
	}).Handler()

	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tracks/t1/match", strings.NewReader(`{"source":"netease","source_id":"1"}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}
