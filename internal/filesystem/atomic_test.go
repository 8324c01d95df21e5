package filesystem

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "covers", "a.jpg")

	if err := WriteFileAtomic(target, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading target: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q, want %q", got, "data")
	}
	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestWriteFileAtomic_Overwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "entry.json")
	for _, v := range []string{"one", "two"} {
		if err := WriteFileAtomic(target, []byte(v), 0o644); err != nil {
			t.Fatalf("WriteFileAtomic(%q): %v", v, err)
		}
	}
	got, _ := os.ReadFile(target)
	if string(got) != "two" {
		t.Errorf("content = %q, want %q", got, "two")
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, errors.New("connection reset")
	}
	r.n--
	p[0] = 'x'
	return 1, nil
}

func TestWriteStreamAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "song.flac")

	n, err := WriteStreamAtomic(target, filepath.Join(dir, "tmp"), strings.NewReader("audio"), 0o644)
	if err != nil {
		t.Fatalf("WriteStreamAtomic: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	if !FileExists(target) {
		t.Fatal("target missing")
	}
}

func TestWriteStreamAtomic_RemovesPartial(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	target := filepath.Join(dir, "song.flac")

	_, err := WriteStreamAtomic(target, tmp, io.MultiReader(&failingReader{n: 3}), 0o644)
	if err == nil {
		t.Fatal("expected error")
	}
	if FileExists(target) {
		t.Error("target created despite failure")
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("partial files left: %d", len(entries))
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cache", "a.mp3")
	dst := filepath.Join(dir, "favorites", "a.mp3")
	if err := WriteFileAtomic(src, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if FileExists(src) || !FileExists(dst) {
		t.Error("file not moved")
	}

	if err := WriteFileAtomic(src, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := MoveFile(src, dst); !errors.Is(err, ErrExists) {
		t.Errorf("MoveFile onto existing = %v, want ErrExists", err)
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/music/library/a.flac", "/music/library", true},
		{"/music/library/sub/a.flac", "/music/library", true},
		{"/music/cache/a.flac", "/music/library", false},
		{"/music/library2/a.flac", "/music/library", false},
		{"", "/music", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.path, tt.dir); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}
