package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// stubProvider satisfies Provider for registry tests.
type stubProvider struct {
	name ProviderName
}

func (s *stubProvider) Name() ProviderName { return s.name }
func (s *stubProvider) SearchArtist(context.Context, string, int) ([]ArtistInfo, error) {
	return nil, nil
}
func (s *stubProvider) SearchTrack(context.Context, string, int) ([]TrackInfo, error) {
	return nil, nil
}
func (s *stubProvider) ListArtistTracks(context.Context, string, int) ([]TrackInfo, error) {
	return nil, nil
}
func (s *stubProvider) GetTrackMetadata(context.Context, string) (*TrackMetadata, error) {
	return nil, nil
}
func (s *stubProvider) GetLyrics(context.Context, string) (string, error) { return "", nil }
func (s *stubProvider) GetAudioURL(context.Context, string, int) (*AudioURL, error) {
	return nil, nil
}

var fastRetry = RetryPolicy{Attempts: 5, Base: time.Millisecond, Max: 2 * time.Millisecond}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{name: NameNetEase})
	reg.Register(&stubProvider{name: NameQQMusic})
	reg.Register(&stubProvider{name: NameNetEase})

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("len(All) = %d, want 2", len(all))
	}
	if all[0].Name() != NameNetEase || all[1].Name() != NameQQMusic {
		t.Errorf("order = %s, %s", all[0].Name(), all[1].Name())
	}
}

func TestRegistrySelectSkipsMissing(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{name: NameQQMusic})

	got := reg.Select([]ProviderName{NameNetEase, NameQQMusic, NameQQMusic})
	if len(got) != 1 || got[0].Name() != NameQQMusic {
		t.Errorf("Select = %v", got)
	}
	if reg.Get(NameMigu) != nil {
		t.Error("expected nil for unregistered provider")
	}
}

func TestParseName(t *testing.T) {
	if n, err := ParseName("netease"); err != nil || n != NameNetEase {
		t.Errorf("ParseName(netease) = %q, %v", n, err)
	}
	_, err := ParseName("spotify")
	var vErr *ErrValidation
	if !errors.As(err, &vErr) {
		t.Errorf("ParseName(spotify) err = %v, want ErrValidation", err)
	}
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), func(context.Context) error {
		calls++
		return &ErrNotFound{Provider: NameNetEase, ID: "1"}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var nf *ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), func(context.Context) error {
		calls++
		return &ErrNetwork{Provider: NameNetEase, Cause: errors.New("timeout")}
	})
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
	var netErr *ErrNetwork
	if !errors.As(err, &netErr) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestRetryPolicy_RecoversAfterTransient(t *testing.T) {
	calls := 0
	v, err := One(context.Background(), fastRetry, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &ErrNetwork{Provider: NameQQMusic, Cause: errors.New("reset")}
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("One = %q, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestList_EmptyOnExhaustion(t *testing.T) {
	got := List(context.Background(), fastRetry, quietLogger(), "search", func(context.Context) ([]TrackInfo, error) {
		return nil, &ErrNetwork{Provider: NameQQMusic, Cause: errors.New("down")}
	})
	if got != nil {
		t.Errorf("List = %v, want nil", got)
	}
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusOK, func(err error) bool { return err == nil }},
		{http.StatusNotFound, func(err error) bool { var e *ErrNotFound; return errors.As(err, &e) }},
		{http.StatusTooManyRequests, func(err error) bool { var e *ErrRateLimited; return errors.As(err, &e) }},
		{http.StatusServiceUnavailable, func(err error) bool { return IsRetryable(err) }},
		{http.StatusForbidden, func(err error) bool { var e *ErrUpstream; return errors.As(err, &e) }},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{}`))
		}))
		resp, err := http.Get(srv.URL) //nolint:noctx
		if err != nil {
			srv.Close()
			t.Fatal(err)
		}
		_, err = ReadResponse(NameNetEase, "x", resp)
		if !tt.check(err) {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
		srv.Close()
	}
}

func TestRateLimiterMapWaitCanceled(t *testing.T) {
	m := NewRateLimiterMap()
	m.SetLimit(NameNetEase, 0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Wait(ctx, NameNetEase); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	err := m.Wait(ctx, NameNetEase)
	var rl *ErrRateLimited
	if !errors.As(err, &rl) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}
