package qqmusic

import "encoding/json"

// musicuRequest is the body POSTed to musicu.fcg. Every call is wrapped in
// a single named sub-request.
type musicuRequest struct {
	Comm map[string]any `json:"comm"`
	Req  subRequest     `json:"req_1"`
}

type subRequest struct {
	Module string         `json:"module"`
	Method string         `json:"method"`
	Param  map[string]any `json:"param"`
}

type musicuResponse struct {
	Code int         `json:"code"`
	Req  subResponse `json:"req_1"`
}

type subResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type singerRef struct {
	ID   int64  `json:"id"`
	Mid  string `json:"mid"`
	Name string `json:"name"`
}

type albumRef struct {
	ID   int64  `json:"id"`
	Mid  string `json:"mid"`
	Name string `json:"name"`
}

// songInfo is the track shape shared by search, singer listing and detail.
type songInfo struct {
	ID         int64       `json:"id"`
	Mid        string      `json:"mid"`
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	Singer     []singerRef `json:"singer"`
	Album      albumRef    `json:"album"`
	Interval   int         `json:"interval"`
	TimePublic string      `json:"time_public"`
}

type singerHit struct {
	SingerMID  string `json:"singerMID"`
	SingerName string `json:"singerName"`
	SongNum    int    `json:"songNum"`
	SingerPic  string `json:"singerPic"`
}

type searchData struct {
	Body struct {
		Song struct {
			List []songInfo `json:"list"`
		} `json:"song"`
		Singer struct {
			List []singerHit `json:"list"`
		} `json:"singer"`
	} `json:"body"`
}

type singerSongsData struct {
	TotalNum int `json:"totalNum"`
	SongList []struct {
		SongInfo songInfo `json:"songInfo"`
	} `json:"songList"`
}

type detailData struct {
	TrackInfo songInfo `json:"track_info"`
}

type legacyLyricResponse struct {
	RetCode int    `json:"retcode"`
	Code    int    `json:"code"`
	Lyric   string `json:"lyric"`
}
