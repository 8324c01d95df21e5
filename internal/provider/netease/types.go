package netease

// envelope carries the status code every NetEase response embeds.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

type artistRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type albumRef struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PicURL string `json:"picUrl"`
}

// song is shared by cloudsearch, artist/songs and song/detail. Older
// endpoints use artists/album instead of ar/al.
type song struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Ar          []artistRef `json:"ar"`
	Artists     []artistRef `json:"artists"`
	Al          *albumRef   `json:"al"`
	Album       *albumRef   `json:"album"`
	Dt          int64       `json:"dt"`
	Duration    int64       `json:"duration"`
	PublishTime int64       `json:"publishTime"`
}

type artist struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PicURL    string `json:"picUrl"`
	Img1v1URL string `json:"img1v1Url"`
	MusicSize int    `json:"musicSize"`
}

type searchResponse struct {
	envelope
	Result struct {
		Songs   []song   `json:"songs"`
		Artists []artist `json:"artists"`
	} `json:"result"`
}

type songsResponse struct {
	envelope
	Songs []song `json:"songs"`
}

type lyricResponse struct {
	envelope
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
}
