package normalize

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxNameRunes = 100

var (
	unsafeChars   = regexp.MustCompile(`[<>:"/\\|?*]`)
	leadingNumber = regexp.MustCompile(`^\d+[\s.\-_]*`)
)

// SanitizeFilename replaces characters that are illegal on common
// filesystems with "_", collapses whitespace and caps the length.
func SanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name
}

// CanonicalBase is "{artist} - {title}" with both parts sanitized.
func CanonicalBase(artist, title string) string {
	return SanitizeFilename(artist) + " - " + SanitizeFilename(title)
}

// CanonicalFilename builds the on-disk name for an audio file. ext may be
// given with or without the leading dot.
func CanonicalFilename(artist, title, ext string) string {
	return CanonicalBase(artist, title) + "." + strings.TrimPrefix(strings.ToLower(ext), ".")
}

// SplitFilename parses "Artist - Title.ext" and returns the parts. When the
// separator is missing the whole stem is the title.
func SplitFilename(path string) (artist, title string) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if a, t, ok := strings.Cut(stem, " - "); ok {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", strings.TrimSpace(stem)
}

// CleanSearchTitle turns a messy filename stem into a search query:
// leading track numbers are dropped, underscores become spaces and
// bracketed annotations are removed.
func CleanSearchTitle(title string) string {
	t := leadingNumber.ReplaceAllString(strings.TrimSpace(title), "")
	t = strings.ReplaceAll(t, "_", " ")
	return StripBrackets(t)
}
