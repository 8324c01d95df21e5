// Package normalize holds the pure string functions used to derive dedup
// keys and to compare track titles across providers. Every title
// comparison in the engine goes through Key; ad-hoc string handling of
// titles elsewhere is a bug.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// InstSuffix marks a key derived from an instrumental title.
const InstSuffix = "_inst"

// instrumentalMarker flags a title as an instrumental variant. "inst" only
// counts as a whole word so "Against." or "Instinct" stay originals.
var instrumentalMarker = regexp.MustCompile(`(?i)instrumental|\binst\b|karaoke|off vocal|伴奏`)

// reverseLookupMarker is removed from an instrumental title to recover
// the original title it was cut from. Bracketed markers may carry a
// version suffix ("(伴奏版)", "(Instrumental Ver.)").
var reverseLookupMarker = regexp.MustCompile(`(?i)[(\[]\s*(?:伴奏|instrumental|karaoke|off vocal|inst\.?)\s*(?:ver(?:sion)?\.?|版)?\s*[)\]]` +
	`|(?:instrumental|karaoke|off vocal|伴奏|\binst\b\.?)(?:\s*(?:ver(?:sion)?\b\.?|版))?`)

// trailingSeparator is what remains of "Title - Instrumental" once the
// marker is gone.
var trailingSeparator = regexp.MustCompile(`[\s\-–—:_/]+$`)

// variantMarkers flag non-original renditions other than instrumentals.
var variantMarkers = []string{"demo", "(live)", " live"}

var (
	bracketed   = regexp.MustCompile(`[(\[{【（].*?[)\]}】）]`)
	emptyParens = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	spaceRun    = regexp.MustCompile(`\s+`)

	// Collaborator separators. Space-delimited first so "AC/DC" survives.
	spacedSeparators = []string{" & ", " / "}
	strictSeparator  = regexp.MustCompile(`(?i)(,|，|、|\bfeat(\.|\s|$)|\bft\.|\bvs(\.|\s|$))`)
)

var bracketReplacer = strings.NewReplacer("【", "[", "】", "]", "〔", "[", "〕", "]")

// Fold converts full-width forms to their ASCII equivalents and maps CJK
// lenticular brackets onto square brackets.
func Fold(s string) string {
	return bracketReplacer.Replace(width.Fold.String(s))
}

// Norm is the plain normalization form: spaces stripped, full-width
// brackets replaced and the result lowercased.
func Norm(s string) string {
	s = Fold(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// IsInstrumental reports whether title carries an instrumental marker.
func IsInstrumental(title string) bool {
	return instrumentalMarker.MatchString(Fold(title))
}

// IsVariant reports whether title is any non-original rendition.
func IsVariant(title string) bool {
	t := strings.ToLower(Fold(title))
	for _, m := range variantMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return IsInstrumental(title)
}

// StripBrackets removes every bracketed segment from s and trims the rest.
func StripBrackets(s string) string {
	out := strings.TrimSpace(bracketed.ReplaceAllString(Fold(s), ""))
	return spaceRun.ReplaceAllString(out, " ")
}

// Key is the variant-preserving normalization (norm'). Bracketed
// annotations such as "(Live)" are dropped so renditions group together,
// but instrumental titles keep a distinct "_inst" suffix on the key of the
// title with its instrumental marker removed, bracketed or not.
func Key(title string) string {
	inst := IsInstrumental(title)
	src := title
	if inst {
		src = OriginalTitle(title)
	}
	base := Norm(StripBrackets(src))
	if base == "" {
		base = Norm(title)
	}
	if inst {
		return base + InstSuffix
	}
	return base
}

// OriginalKeyOf returns the key of the original recording title was cut
// from, and false when title is not an instrumental.
func OriginalKeyOf(title string) (string, bool) {
	if !IsInstrumental(title) {
		return "", false
	}
	orig := OriginalTitle(title)
	if orig == "" {
		return "", false
	}
	return Key(orig), true
}

// OriginalTitle strips instrumental markers from title for a reverse
// lookup, e.g. "我不要原谅你 (伴奏)" and "Fly Away - Instrumental" become
// "我不要原谅你" and "Fly Away".
func OriginalTitle(title string) string {
	t := reverseLookupMarker.ReplaceAllString(Fold(title), "")
	t = emptyParens.ReplaceAllString(t, "")
	t = trailingSeparator.ReplaceAllString(strings.TrimSpace(t), "")
	return strings.TrimSpace(spaceRun.ReplaceAllString(t, " "))
}

// PrimaryArtist keeps the first credited artist of a collaboration string.
func PrimaryArtist(artist string) string {
	a := strings.TrimSpace(Fold(artist))
	for _, sep := range spacedSeparators {
		if i := strings.Index(a, sep); i > 0 {
			a = a[:i]
		}
	}
	if loc := strictSeparator.FindStringIndex(a); loc != nil && loc[0] > 0 {
		a = a[:loc[0]]
	}
	return strings.TrimSpace(a)
}

// DedupKey identifies one logical track across providers.
func DedupKey(title, artist string) string {
	return Key(title) + "_" + Norm(PrimaryArtist(artist))
}

// SameArtist compares two artist strings by their primary credit.
func SameArtist(a, b string) bool {
	return Norm(PrimaryArtist(a)) == Norm(PrimaryArtist(b))
}

// MatchKey is the lowercase trimmed name used to group artist candidates.
func MatchKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
