package gdstudio

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexID accepts both string and numeric JSON identifiers. Tencent ids are
// alphanumeric mids while NetEase ids are numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(b)
	return nil
}

// searchHit is one element of a types=search response.
type searchHit struct {
	ID      flexID   `json:"id"`
	Name    string   `json:"name"`
	Artist  []string `json:"artist"`
	Album   string   `json:"album"`
	PicID   flexID   `json:"pic_id"`
	URLID   flexID   `json:"url_id"`
	LyricID flexID   `json:"lyric_id"`
	Source  string   `json:"source"`
}

// urlResponse carries br and size as numbers or numeric strings depending
// on the upstream source.
type urlResponse struct {
	URL  string `json:"url"`
	Br   flexID `json:"br"`
	Size flexID `json:"size"`
}

func (f flexID) float() float64 {
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0
	}
	return v
}

type lyricResponse struct {
	Lyric  string `json:"lyric"`
	TLyric string `json:"tlyric"`
}

type picResponse struct {
	URL string `json:"url"`
}
