package normalize

import (
	"testing"
	"time"
)

func TestNorm(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"稻香", "稻香"},
		{"稻香 （Live）", "稻香(live)"},
		{"Hello World", "helloworld"},
		{"【MV】Song", "[mv]song"},
		{"  Ｆｕｌｌ Width ", "fullwidth"},
	}
	for _, tt := range tests {
		if got := Norm(tt.in); got != tt.want {
			t.Errorf("Norm(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyVariants(t *testing.T) {
	if Key("稻香 (Live)") != Key("稻香") {
		t.Errorf("live and original keys differ: %q vs %q", Key("稻香 (Live)"), Key("稻香"))
	}
	if Key("稻香 (伴奏)") == Key("稻香") {
		t.Errorf("instrumental key %q must differ from original", Key("稻香 (伴奏)"))
	}
	if got, want := Key("我不要原谅你 (伴奏)"), "我不要原谅你_inst"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if got, want := Key("Song (Instrumental)"), "song_inst"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if got, want := Key("（伴奏）"), "(伴奏)_inst"; got != want {
		t.Errorf("Key of bracket-only title = %q, want %q", got, want)
	}
}

func TestOriginalKeyOf(t *testing.T) {
	tests := []struct {
		title, original string
	}{
		{"姑娘 (伴奏)", "姑娘"},
		{"我不要原谅你 伴奏", "我不要原谅你"},
		{"我不要原谅你（伴奏版）", "我不要原谅你"},
		{"Fly Away - Instrumental", "Fly Away"},
		{"Fly Away (Instrumental Ver.)", "Fly Away"},
		{"Song Inst.", "Song"},
	}
	for _, tt := range tests {
		got, ok := OriginalKeyOf(tt.title)
		if !ok || got != Key(tt.original) {
			t.Errorf("OriginalKeyOf(%q) = %q, %v; want %q, true", tt.title, got, ok, Key(tt.original))
		}
		if want := Key(tt.original) + InstSuffix; Key(tt.title) != want {
			t.Errorf("Key(%q) = %q, want %q", tt.title, Key(tt.title), want)
		}
	}
	if _, ok := OriginalKeyOf("姑娘"); ok {
		t.Error("OriginalKeyOf reported an instrumental for an original title")
	}
}

func TestOriginalTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"我不要原谅你 (伴奏)", "我不要原谅你"},
		{"我不要原谅你（伴奏）", "我不要原谅你"},
		{"Song (Instrumental)", "Song"},
		{"Song (inst)", "Song"},
		{"Song Inst.", "Song"},
		{"Against The Wind (伴奏)", "Against The Wind"},
		{"Fly Away - Instrumental", "Fly Away"},
		{"我不要原谅你 伴奏", "我不要原谅你"},
		{"我不要原谅你 - 伴奏版", "我不要原谅你"},
		{"Song", "Song"},
	}
	for _, tt := range tests {
		if got := OriginalTitle(tt.in); got != tt.want {
			t.Errorf("OriginalTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrimaryArtist(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AC/DC", "AC/DC"},
		{"周杰伦 & 方文山", "周杰伦"},
		{"Simon / Garfunkel", "Simon"},
		{"周杰伦,杨瑞代", "周杰伦"},
		{"周杰伦、费玉清", "周杰伦"},
		{"Artist feat. Guest", "Artist"},
		{"Artist ft. Guest", "Artist"},
		{"Artist vs Other", "Artist"},
		{"周杰伦 feat.费玉清", "周杰伦"},
		{"Artist vs.Other", "Artist"},
		{"Feather", "Feather"},
	}
	for _, tt := range tests {
		if got := PrimaryArtist(tt.in); got != tt.want {
			t.Errorf("PrimaryArtist(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDedupKey(t *testing.T) {
	a := DedupKey("稻香", "周杰伦")
	b := DedupKey("稻香 (Live)", "周杰伦 & 蔡依林")
	if a != b {
		t.Errorf("DedupKey mismatch: %q vs %q", a, b)
	}
	if DedupKey("Back In Black", "AC/DC") == DedupKey("Back In Black", "AC") {
		t.Error("AC/DC collapsed to AC")
	}
}

func TestIsInstrumentalAndVariant(t *testing.T) {
	if !IsInstrumental("Song (Off Vocal)") {
		t.Error("off vocal not detected")
	}
	if IsInstrumental("Instinct") {
		t.Error("Instinct flagged as instrumental")
	}
	if !IsInstrumental("Song (Inst.)") {
		t.Error("inst. not detected")
	}
	if got := Key("Against."); got != "against." {
		t.Errorf("Key(Against.) = %q, want against.", got)
	}
	if !IsVariant("姑娘 (Live)") {
		t.Error("live not detected as variant")
	}
	if IsVariant("姑娘") {
		t.Error("plain title flagged as variant")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in       string
		wantYear int
		ok       bool
	}{
		{"2008", 2008, true},
		{"2008-10-15", 2008, true},
		{"1224000000", 2008, true},
		{"20081015", 2008, true},
		{"1224000000000", 2008, true},
		{"2008-10-15T00:00:00Z", 2008, true},
		{"", 0, false},
		{"0", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Year() != tt.wantYear {
			t.Errorf("ParseDate(%q) year = %d, want %d", tt.in, got.Year(), tt.wantYear)
		}
	}
}

func TestAcceptDate(t *testing.T) {
	d := func(s string) time.Time {
		v, _ := time.Parse("2006-01-02", s)
		return v
	}
	cur := d("2008-10-15")
	placeholder := d("2026-01-01")

	if AcceptDate(nil, d("1970-01-01")) {
		t.Error("accepted 1970 with empty current")
	}
	if AcceptDate(nil, d("2026-02-01")) {
		t.Error("accepted 2026 with empty current")
	}
	if !AcceptDate(nil, cur) {
		t.Error("rejected valid date with empty current")
	}
	if !AcceptDate(&placeholder, cur) {
		t.Error("rejected valid date over placeholder")
	}
	next := cur.Add(12 * time.Hour)
	if AcceptDate(&cur, next) {
		t.Error("accepted date within one day")
	}
	if !AcceptDate(&cur, d("2008-11-01")) {
		t.Error("rejected date differing by weeks")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got, want := SanitizeFilename(`AC/DC: "Live"?`), "AC_DC_ _Live__"; got != want {
		t.Errorf("SanitizeFilename = %q, want %q", got, want)
	}
	long := ""
	for i := 0; i < 120; i++ {
		long += "歌"
	}
	if got := []rune(SanitizeFilename(long)); len(got) != 100 {
		t.Errorf("rune length = %d, want 100", len(got))
	}
	if got, want := CanonicalFilename("周杰伦", "稻香", ".FLAC"), "周杰伦 - 稻香.flac"; got != want {
		t.Errorf("CanonicalFilename = %q, want %q", got, want)
	}
}

func TestSplitFilename(t *testing.T) {
	a, title := SplitFilename("/cache/周杰伦 - 稻香.flac")
	if a != "周杰伦" || title != "稻香" {
		t.Errorf("SplitFilename = %q, %q", a, title)
	}
	a, title = SplitFilename("/cache/稻香.mp3")
	if a != "" || title != "稻香" {
		t.Errorf("SplitFilename without artist = %q, %q", a, title)
	}
}

func TestCleanSearchTitle(t *testing.T) {
	if got, want := CleanSearchTitle("03. my_song (remaster)"), "my song"; got != want {
		t.Errorf("CleanSearchTitle = %q, want %q", got, want)
	}
}
