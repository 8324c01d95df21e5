// Package filesystem provides crash-safe writes and moves for files the
// engine owns: cached audio, stored covers and cache entries.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrExists is returned by MoveFile when the destination is already taken.
var ErrExists = errors.New("destination already exists")

// WriteFileAtomic writes data next to target and renames it into place, so
// readers never observe a partially written file.
func WriteFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: application data directory
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := renameSafe(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp to target: %w", err)
	}
	return nil
}

// WriteStreamAtomic copies r into a temp file inside tmpDir and renames it
// to target once the copy completes. The temp file is removed on any
// failure. It returns the number of bytes written.
func WriteStreamAtomic(target, tmpDir string, r io.Reader, perm os.FileMode) (int64, error) {
	if tmpDir == "" {
		tmpDir = filepath.Dir(target)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil { //nolint:gosec // G301: application data directory
		return 0, fmt.Errorf("creating temp directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	f, err := os.CreateTemp(tmpDir, ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		cleanup()
		return n, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return n, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return n, fmt.Errorf("setting permissions: %w", err)
	}
	if err := renameSafe(tmpPath, target); err != nil {
		cleanup()
		return n, fmt.Errorf("renaming temp to target: %w", err)
	}
	return n, nil
}

// MoveFile moves src to dst, creating dst's directory. It refuses to
// overwrite an existing destination. Rename is tried first; across
// devices it falls back to copy and delete.
func MoveFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("moving to %s: %w", dst, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec // G301
		return fmt.Errorf("creating destination directory: %w", err)
	}
	return renameSafe(src, dst)
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsWithin reports whether path lies inside dir after cleaning both.
func IsWithin(path, dir string) bool {
	if path == "" || dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && (len(rel) < 3 || rel[:3] != ".."+string(filepath.Separator))
}

// renameSafe attempts os.Rename first, then falls back to copy+delete.
func renameSafe(oldPath, newPath string) error {
	err := os.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if copyErr := copyFile(oldPath, newPath); copyErr != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("copy fallback: %w (rename error: %w)", copyErr, err)
	}
	_ = os.Remove(oldPath)
	return nil
}

// copyFile copies a file using io.Copy and flushes with fsync.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is from trusted internal path
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst) //nolint:gosec // G304: dst is from trusted internal path
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
