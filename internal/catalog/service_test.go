package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/tunevault/internal/database"
	"github.com/sydlexius/tunevault/internal/provider"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustArtist(t *testing.T, svc *Service, name string) *Artist {
	t.Helper()
	a, _, err := svc.GetOrCreateArtist(context.Background(), name)
	if err != nil {
		t.Fatalf("GetOrCreateArtist(%q): %v", name, err)
	}
	return a
}

func mustTrack(t *testing.T, svc *Service, artistID, title string) *Track {
	t.Helper()
	tr := &Track{ArtistID: artistID, Title: title}
	if err := svc.CreateTrack(context.Background(), tr); err != nil {
		t.Fatalf("CreateTrack(%q): %v", title, err)
	}
	return tr
}

func TestGetOrCreateArtist_Concurrent(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := svc.GetOrCreateArtist(ctx, "周杰伦")
			errs[i] = err
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("id[%d] = %q, want %q", i, ids[i], ids[0])
		}
	}
	_, total, err := svc.ListArtists(ctx, ArtistListParams{})
	if err != nil {
		t.Fatalf("ListArtists: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestGetOrCreateArtist_Empty(t *testing.T) {
	svc := NewService(setupTestDB(t))
	_, _, err := svc.GetOrCreateArtist(context.Background(), "  ")
	var vErr *provider.ErrValidation
	if !errors.As(err, &vErr) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestArtistSources(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	jay := mustArtist(t, svc, "周杰伦")
	jj := mustArtist(t, svc, "林俊杰")

	src := &ArtistSource{ArtistID: jay.ID, Source: provider.NameQQMusic, SourceID: "0025NhlN2yWrP4"}
	if err := svc.AddArtistSource(ctx, src); err != nil {
		t.Fatalf("AddArtistSource: %v", err)
	}
	if err := svc.AddArtistSource(ctx, &ArtistSource{ArtistID: jay.ID, Source: provider.NameQQMusic, SourceID: "0025NhlN2yWrP4"}); err != nil {
		t.Errorf("re-adding same binding: %v", err)
	}
	err := svc.AddArtistSource(ctx, &ArtistSource{ArtistID: jj.ID, Source: provider.NameQQMusic, SourceID: "0025NhlN2yWrP4"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	got, err := svc.GetArtistBySource(ctx, provider.NameQQMusic, "0025NhlN2yWrP4")
	if err != nil {
		t.Fatalf("GetArtistBySource: %v", err)
	}
	if got == nil || got.ID != jay.ID || len(got.Sources) != 1 {
		t.Errorf("GetArtistBySource = %+v", got)
	}
}

func TestCreateTrack_KeyConflict(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")

	mustTrack(t, svc, a.ID, "稻香")
	err := svc.CreateTrack(ctx, &Track{ArtistID: a.ID, Title: "稻香 (Live)"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Live variant err = %v, want ErrConflict", err)
	}
	if err := svc.CreateTrack(ctx, &Track{ArtistID: a.ID, Title: "稻香 (伴奏)"}); err != nil {
		t.Errorf("instrumental variant: %v", err)
	}

	got, err := svc.GetTrackByKey(ctx, a.ID, "稻香")
	if err != nil {
		t.Fatalf("GetTrackByKey: %v", err)
	}
	if got == nil || got.Title != "稻香" || got.ArtistName != "周杰伦" {
		t.Errorf("GetTrackByKey = %+v", got)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
}

func TestGetTrack_Missing(t *testing.T) {
	svc := NewService(setupTestDB(t))
	got, err := svc.GetTrack(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetTrack = %v, %v; want nil, nil", got, err)
	}
}

func TestUpdateTrack_NullableFields(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")
	tr := mustTrack(t, svc, a.ID, "晴天")

	rt := time.Date(2003, 7, 31, 0, 0, 0, 0, time.UTC)
	tr.Album = "叶惠美"
	tr.ReleaseTime = &rt
	tr.LocalPath = "/cache/周杰伦 - 晴天.flac"
	tr.Status = StatusDownloaded
	if err := svc.UpdateTrack(ctx, tr); err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}

	got, _ := svc.GetTrackByPath(ctx, tr.LocalPath)
	if got == nil {
		t.Fatal("GetTrackByPath returned nil")
	}
	if got.Album != "叶惠美" || got.ReleaseTime == nil || got.ReleaseTime.Year() != 2003 {
		t.Errorf("track = %+v", got)
	}

	got.LocalPath = ""
	got.Status = StatusPending
	if err := svc.UpdateTrack(ctx, got); err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}
	if again, _ := svc.GetTrackByPath(ctx, tr.LocalPath); again != nil {
		t.Errorf("local_path should be NULL, found %+v", again)
	}
}

func TestAddTrackSource_Guards(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")
	t1 := mustTrack(t, svc, a.ID, "晴天")
	t2 := mustTrack(t, svc, a.ID, "七里香")

	add := func(trackID string, src provider.ProviderName, id string) bool {
		t.Helper()
		ok, err := svc.AddTrackSource(ctx, &TrackSource{TrackID: trackID, Source: src, SourceID: id})
		if err != nil {
			t.Fatalf("AddTrackSource(%s, %s): %v", src, id, err)
		}
		return ok
	}

	if !add(t1.ID, provider.NameQQMusic, "0039MnYb0qxYhV") {
		t.Error("first qq link should insert")
	}
	if add(t2.ID, provider.NameQQMusic, "0039MnYb0qxYhV") {
		t.Error("same (source, source_id) on another track must be refused")
	}
	if add(t1.ID, provider.NameQQMusic, "other") {
		t.Error("second qq link on one track must be refused")
	}
	if !add(t1.ID, provider.SourceLocal, "晴天.flac") || !add(t1.ID, provider.SourceLocal, "晴天.mp3") {
		t.Error("multiple local links should insert")
	}

	srcs, err := svc.ListTrackSources(ctx, t1.ID)
	if err != nil {
		t.Fatalf("ListTrackSources: %v", err)
	}
	if len(srcs) != 3 {
		t.Errorf("len(sources) = %d, want 3", len(srcs))
	}

	n, err := svc.DeleteLocalSources(ctx, t1.ID)
	if err != nil || n != 2 {
		t.Errorf("DeleteLocalSources = %d, %v; want 2", n, err)
	}
}

func TestDeleteArtistCascades(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")
	tr := mustTrack(t, svc, a.ID, "晴天")
	if _, err := svc.AddTrackSource(ctx, &TrackSource{TrackID: tr.ID, Source: provider.NameNetEase, SourceID: "186016"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteArtist(ctx, a.ID); err != nil {
		t.Fatalf("DeleteArtist: %v", err)
	}
	exists, err := svc.SourceExists(ctx, provider.NameNetEase, "186016")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("track source should cascade with its artist")
	}
}

func TestListTracks_PaginationShim(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")
	for i := 0; i < 7; i++ {
		mustTrack(t, svc, a.ID, fmt.Sprintf("Song %02d", i))
	}

	page, total, err := svc.ListTracks(ctx, TrackListParams{Page: Page{Page: 2, PageSize: 3}, Sort: "title", Order: "asc"})
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	if total != 7 || len(page) != 3 || page[0].Title != "Song 03" {
		t.Errorf("page 2 = %d rows starting %q, total %d", len(page), page[0].Title, total)
	}

	legacy, _, err := svc.ListTracks(ctx, TrackListParams{Page: Page{Skip: 3, Limit: 3}, Sort: "title", Order: "asc"})
	if err != nil {
		t.Fatalf("ListTracks legacy: %v", err)
	}
	if len(legacy) != 3 || legacy[0].Title != page[0].Title {
		t.Errorf("skip/limit page starts %q, want %q", legacy[0].Title, page[0].Title)
	}
}

func TestListTracks_LocalOnly(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")

	orphan := mustTrack(t, svc, a.ID, "姑娘")
	orphan.LocalPath = "/cache/周杰伦 - 姑娘.flac"
	_ = svc.UpdateTrack(ctx, orphan)

	linked := mustTrack(t, svc, a.ID, "晴天")
	linked.LocalPath = "/cache/周杰伦 - 晴天.flac"
	_ = svc.UpdateTrack(ctx, linked)
	_, _ = svc.AddTrackSource(ctx, &TrackSource{TrackID: linked.ID, Source: provider.NameQQMusic, SourceID: "1"})

	got, total, err := svc.ListTracks(ctx, TrackListParams{LocalOnly: true})
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	if total != 1 || got[0].ID != orphan.ID {
		t.Errorf("local-only = %+v (total %d), want only %q", got, total, orphan.Title)
	}
}

func TestListArtistTracks_Preloads(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")
	t1 := mustTrack(t, svc, a.ID, "晴天")
	mustTrack(t, svc, a.ID, "七里香")
	_, _ = svc.AddTrackSource(ctx, &TrackSource{TrackID: t1.ID, Source: provider.NameQQMusic, SourceID: "q1"})
	_, _ = svc.AddTrackSource(ctx, &TrackSource{TrackID: t1.ID, Source: provider.NameNetEase, SourceID: "n1",
		Data: SourceData{Lyrics: "[00:01.00]x"}})

	tracks, err := svc.ListArtistTracks(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListArtistTracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("len = %d, want 2", len(tracks))
	}
	var qing *Track
	for i := range tracks {
		if tracks[i].ID == t1.ID {
			qing = &tracks[i]
		}
	}
	if qing == nil || len(qing.Sources) != 2 {
		t.Fatalf("preloaded sources = %+v", qing)
	}
	if ne := qing.SourceFor(provider.NameNetEase); ne == nil || ne.Data.Lyrics == "" {
		t.Errorf("data_json not round-tripped: %+v", ne)
	}
	if !qing.HasOnlineSource() {
		t.Error("HasOnlineSource = false, want true")
	}
}

func TestBatch_FlushesAtLimit(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")

	err := svc.WithTx(ctx, func(tx *Service) error {
		b := tx.NewBatch()
		for i := 0; i < 30; i++ {
			tr := &Track{ArtistID: a.ID, Title: fmt.Sprintf("Track %d", i)}
			if err := b.AddTrack(ctx, tr); err != nil {
				return err
			}
			if _, err := b.AddSource(ctx, &TrackSource{TrackID: tr.ID, Source: provider.NameQQMusic, SourceID: fmt.Sprintf("q%d", i)}); err != nil {
				return err
			}
		}
		if b.TracksInserted == 0 {
			t.Error("expected an automatic flush before 60 queued rows")
		}
		if dup, err := b.AddSource(ctx, &TrackSource{TrackID: "x", Source: provider.NameQQMusic, SourceID: "q29"}); err != nil || dup {
			t.Errorf("duplicate queue = %v, %v", dup, err)
		}
		return b.Flush(ctx)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	tracks, err := svc.ListArtistTracks(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 30 {
		t.Errorf("len = %d, want 30", len(tracks))
	}
	for _, tr := range tracks {
		if len(tr.Sources) != 1 {
			t.Errorf("%s has %d sources, want 1", tr.Title, len(tr.Sources))
		}
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()
	a := mustArtist(t, svc, "周杰伦")

	boom := errors.New("boom")
	err := svc.WithTx(ctx, func(tx *Service) error {
		if err := tx.CreateTrack(ctx, &Track{ArtistID: a.ID, Title: "晴天"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got, _ := svc.GetTrackByKey(ctx, a.ID, "晴天"); got != nil {
		t.Error("track survived rollback")
	}
}

func TestDownloadHistory(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	records := []DownloadRecord{
		{Title: "晴天", Artist: "周杰伦", Source: provider.NameNetEase, SourceID: "1", Status: DownloadSuccess, Quality: "SQ"},
		{Title: "七里香", Artist: "周杰伦", Source: provider.NameQQMusic, SourceID: "2", Status: DownloadFailed, Error: "no url"},
		{Title: "江南", Artist: "林俊杰", Source: provider.NameNetEase, SourceID: "3", Status: DownloadSuccess},
	}
	for i := range records {
		if err := svc.RecordDownload(ctx, &records[i]); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
	}

	stats, err := svc.DownloadStats(ctx)
	if err != nil {
		t.Fatalf("DownloadStats: %v", err)
	}
	if stats != (DownloadStats{Total: 3, Success: 2, Failed: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	got, total, err := svc.ListDownloads(ctx, DownloadListParams{Source: provider.NameNetEase})
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("netease rows = %d (total %d), want 2", len(got), total)
	}
	got, _, _ = svc.ListDownloads(ctx, DownloadListParams{Artist: "周杰伦", Status: DownloadFailed})
	if len(got) != 1 || got[0].Error != "no url" {
		t.Errorf("filtered = %+v", got)
	}
}

func TestPageNormalize(t *testing.T) {
	p := Page{Skip: 100, Limit: 25}
	p.Normalize()
	if p.Page != 5 || p.PageSize != 25 {
		t.Errorf("Normalize = %+v, want page 5 size 25", p)
	}
	q := Page{PageSize: 10000}
	q.Normalize()
	if q.Page != 1 || q.PageSize != 50 {
		t.Errorf("Normalize = %+v, want page 1 size 50", q)
	}
}
