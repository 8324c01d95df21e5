package qqmusic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sydlexius/tunevault/internal/provider"
)

var fastRetry = provider.RetryPolicy{Attempts: 5, Base: time.Millisecond, Max: 2 * time.Millisecond}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

// newTestServer routes gateway calls by module and method. singerFixture
// selects the response for singer searches.
func newTestServer(t *testing.T, singerFixture string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case musicuPath:
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var req musicuRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			switch req.Req.Method {
			case "DoSearchForQQMusicDesktop":
				if fmt.Sprint(req.Req.Param["search_type"]) == "1" {
					w.Write(loadFixture(t, singerFixture))
					return
				}
				w.Write(loadFixture(t, "search_songs.json"))
			case "GetSingerSongList":
				w.Write(loadFixture(t, "singer_songs.json"))
			case "get_song_detail_yqq":
				if req.Req.Param["song_mid"] != "0039MnYb0qxYhV" {
					w.Write([]byte(`{"code":0,"req_1":{"code":0,"data":{"track_info":{}}}}`))
					return
				}
				w.Write(loadFixture(t, "song_detail.json"))
			default:
				w.Write([]byte(`{"code":500001}`))
			}
		case lyricPath:
			if r.Header.Get("Referer") != "https://y.qq.com/" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write(loadFixture(t, "lyric_legacy.json"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a := NewWithBaseURL(provider.NewRateLimiterMap(), nil, logger, baseURL)
	a.SetRetryPolicy(fastRetry)
	return a
}

func TestSearchTrack_FiltersNoise(t *testing.T) {
	srv := newTestServer(t, "search_singers.json")
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	got, err := a.SearchTrack(context.Background(), "周杰伦", 10)
	if err != nil {
		t.Fatalf("SearchTrack: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 ('#' title dropped)", len(got))
	}
	first := got[0]
	if first.ID != "0039MnYb0qxYhV" || first.Duration != 269 {
		t.Errorf("first = %+v", first)
	}
	if first.CoverURL != "https://y.gtimg.cn/music/photo_new/T002R300x300M000000MkMni19ClKG.jpg" {
		t.Errorf("CoverURL = %q", first.CoverURL)
	}
	if first.ReleaseTime == nil || first.ReleaseTime.Year() != 2003 {
		t.Errorf("ReleaseTime = %v", first.ReleaseTime)
	}
	if got[1].CoverURL != "" {
		t.Errorf("placeholder album mid should give no cover, got %q", got[1].CoverURL)
	}
	if got[1].Artist != "周杰伦, 杨瑞代" {
		t.Errorf("Artist = %q", got[1].Artist)
	}
}

func TestSearchArtist_BenignCode(t *testing.T) {
	srv := newTestServer(t, "search_singers.json")
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	got, err := a.SearchArtist(context.Background(), "周杰伦", 10)
	if err != nil {
		t.Fatalf("SearchArtist: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "0025NhlN2yWrP4" || got[0].SongCount != 1234 {
		t.Errorf("artist = %+v", got[0])
	}
	if !strings.HasSuffix(got[0].Avatar, "T001R300x300M0000025NhlN2yWrP4.jpg") {
		t.Errorf("Avatar = %q", got[0].Avatar)
	}
}

func TestSearchArtist_FallsBackToSongs(t *testing.T) {
	srv := newTestServer(t, "search_songs.json")
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	got, err := a.SearchArtist(context.Background(), "周杰伦", 10)
	if err != nil {
		t.Fatalf("SearchArtist: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 deduplicated singer", len(got))
	}
	if got[0].Name != "周杰伦" || got[0].ID != "0025NhlN2yWrP4" {
		t.Errorf("artist = %+v", got[0])
	}
}

func TestListArtistTracks(t *testing.T) {
	srv := newTestServer(t, "search_singers.json")
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	got, err := a.ListArtistTracks(context.Background(), "0025NhlN2yWrP4", 100)
	if err != nil {
		t.Fatalf("ListArtistTracks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (long album-less blurb dropped)", len(got))
	}
	if got[0].Title != "圣诞星" || got[1].Title != "晴天" {
		t.Errorf("titles = %q, %q", got[0].Title, got[1].Title)
	}
}

func TestGetTrackMetadata(t *testing.T) {
	srv := newTestServer(t, "search_singers.json")
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	meta, err := a.GetTrackMetadata(context.Background(), "0039MnYb0qxYhV")
	if err != nil {
		t.Fatalf("GetTrackMetadata: %v", err)
	}
	if meta.Album != "叶惠美" || meta.Source != provider.NameQQMusic {
		t.Errorf("meta = %+v", meta)
	}
	if !strings.Contains(meta.Lyrics, "故事的小黄花") {
		t.Errorf("Lyrics = %q, want decoded LRC", meta.Lyrics)
	}

	_, err = a.GetTrackMetadata(context.Background(), "missing")
	var nf *provider.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":0,"req_1":{"code":104003,"data":null}}`))
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.GetTrackMetadata(context.Background(), "0039MnYb0qxYhV")
	var up *provider.ErrUpstream
	if !errors.As(err, &up) || up.Code != 104003 {
		t.Errorf("err = %v, want ErrUpstream 104003", err)
	}
}

func TestCoverURL(t *testing.T) {
	tests := []struct {
		mid  string
		want string
	}{
		{"", ""},
		{emptyAlbumMid, ""},
		{"abc", "https://y.gtimg.cn/music/photo_new/T002R300x300M000abc.jpg"},
	}
	for _, tt := range tests {
		if got := coverURL(tt.mid); got != tt.want {
			t.Errorf("coverURL(%q) = %q, want %q", tt.mid, got, tt.want)
		}
	}
}
