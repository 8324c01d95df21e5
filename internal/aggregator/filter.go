package aggregator

import (
	"strings"
	"unicode/utf8"

	"github.com/sydlexius/tunevault/internal/provider"
)

// noiseKeywords mark clips, ringtones and covers that never enter the
// catalog. Instrumental markers are deliberately absent.
var noiseKeywords = []string{"片段", "铃声", "试听", "DJ版", "Remix", "Cover", "翻唱"}

// maxBareTitleRunes is the longest title accepted without an album.
// Longer album-less titles are activity-feed posts, not songs.
const maxBareTitleRunes = 50

// Valid reports whether a listed track may enter the catalog.
func Valid(t provider.TrackInfo) bool {
	title := strings.TrimSpace(t.Title)
	if title == "" || noisy(title) {
		return false
	}
	if strings.TrimSpace(t.Album) == "" && utf8.RuneCountInString(title) > maxBareTitleRunes {
		return false
	}
	return true
}

// noisy reports whether title is a hashtag post, clip, ringtone or cover.
func noisy(title string) bool {
	if strings.HasPrefix(title, "#") {
		return true
	}
	for _, kw := range noiseKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// Filter keeps the valid tracks of ts.
func Filter(ts []provider.TrackInfo) []provider.TrackInfo {
	out := ts[:0:0]
	for _, t := range ts {
		if Valid(t) {
			out = append(out, t)
		}
	}
	return out
}

var lyricPlaceholders = []string{"纯音乐", "暂无歌词", "无歌词", "没有歌词", "no lyrics"}

// minLyricsRunes and minTimedLines gate what counts as real lyrics.
const (
	minLyricsRunes = 30
	minTimedLines  = 3
)

// ValidLyrics accepts LRC text that is long enough, carries no
// placeholder and has at least three timestamped lines with text.
func ValidLyrics(lrc string) bool {
	if utf8.RuneCountInString(lrc) < minLyricsRunes {
		return false
	}
	lower := strings.ToLower(lrc)
	for _, p := range lyricPlaceholders {
		if strings.Contains(lower, p) {
			return false
		}
	}
	timed := 0
	for _, line := range strings.Split(lrc, "\n") {
		i := strings.LastIndex(line, "]")
		if i < 0 || !strings.HasPrefix(strings.TrimSpace(line), "[") {
			continue
		}
		if strings.TrimSpace(line[i+1:]) != "" {
			timed++
		}
	}
	return timed >= minTimedLines
}
