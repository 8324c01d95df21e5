// Package covers stores album artwork content-addressed by md5 under
// {uploads}/covers and fetches remote artwork for embedding.
package covers

import (
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sydlexius/tunevault/internal/filesystem"
	"github.com/sydlexius/tunevault/internal/provider"
)

// URLPrefix is the public path under which stored covers are served.
const URLPrefix = "/uploads/covers/"

// maxCoverBytes bounds remote downloads.
const maxCoverBytes = 10 << 20

// Store saves and loads cover images.
type Store struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// NewStore creates a store rooted at {uploadsDir}/covers.
func NewStore(uploadsDir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    filepath.Join(uploadsDir, "covers"),
		client: provider.NewHTTPClient(provider.DefaultTimeout),
		logger: logger.With(slog.String("component", "covers")),
	}
}

// Dir returns the directory covers are written to.
func (s *Store) Dir() string { return s.dir }

// Save writes data as {md5}.{jpg|png} and returns its public URL. Saving
// the same bytes twice is a no-op.
func (s *Store) Save(data []byte) (string, error) {
	data, format, err := Normalize(data)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data) //nolint:gosec
	name := hex.EncodeToString(sum[:]) + extension(format)
	target := filepath.Join(s.dir, name)

	if !filesystem.FileExists(target) {
		if err := filesystem.WriteFileAtomic(target, data, 0o644); err != nil {
			return "", fmt.Errorf("writing cover: %w", err)
		}
		s.logger.Debug("stored cover", slog.String("file", name), slog.String("format", format))
	}
	return URLPrefix + name, nil
}

// Path maps a stored cover URL to its file, or "" for remote URLs.
func (s *Store) Path(ref string) string {
	if !strings.HasPrefix(ref, URLPrefix) {
		return ""
	}
	name := filepath.Base(strings.TrimPrefix(ref, URLPrefix))
	if name == "." || name == "/" {
		return ""
	}
	return filepath.Join(s.dir, name)
}

// Load returns the bytes behind ref, reading stored covers from disk and
// fetching anything else over HTTP.
func (s *Store) Load(ctx context.Context, ref string) ([]byte, error) {
	if p := s.Path(ref); p != "" {
		data, err := os.ReadFile(p) //nolint:gosec // G304: confined to the cover dir
		if err != nil {
			return nil, fmt.Errorf("reading stored cover: %w", err)
		}
		return data, nil
	}
	return s.Fetch(ctx, ref)
}

// Fetch downloads a remote image and normalizes it for embedding.
func (s *Store) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, &provider.ErrValidation{Field: "cover", Reason: "not an http url"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", provider.UserAgent)

	resp, err := s.client.Do(req) //nolint:gosec // URL comes from a provider response
	if err != nil {
		return nil, fmt.Errorf("fetching cover: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching cover: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, fmt.Errorf("reading cover: %w", err)
	}
	out, _, err := Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("cover from %s: %w", rawURL, err)
	}
	return out, nil
}

// DefaultGenericPatterns match stub artwork that should be replaced as
// soon as a real cover is available.
var DefaultGenericPatterns = []string{
	"M0000000000000", // QQ placeholder album mid
	"default",
	"placeholder",
	"nocover",
}

// IsGeneric reports whether ref is a placeholder according to patterns,
// compared case-insensitively.
func IsGeneric(ref string, patterns []string) bool {
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
