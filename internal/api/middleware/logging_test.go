package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestScrubQuery(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"", ""},
		{"page=2&page_size=50", "page=2&page_size=50"},
		{"keyword=稻香&api_key=abc", "keyword=稻香&api_key=REDACTED"},
		{"Token=xyz&flag", "Token=REDACTED&flag"},
	}
	for _, tt := range tests {
		if got := scrubQuery(tt.raw); got != tt.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLogging_RecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tracks/x?token=secret", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-1" {
		t.Errorf("request id = %q, want %q", got, "req-1")
	}
	out := buf.String()
	for _, want := range []string{"status=404", "level=WARN", "request_id=req-1", "token=REDACTED"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "secret") {
		t.Error("query secret leaked into the log")
	}
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(w.Header().Get(RequestIDHeader)) != 36 {
		t.Errorf("generated request id = %q, want a uuid", w.Header().Get(RequestIDHeader))
	}
}
