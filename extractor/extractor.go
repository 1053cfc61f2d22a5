package extractor

import (
	"fmt"
	"sort"
	"strings"
)

// Result kinds. A single video carries formats, a playlist carries
// entries, an url result defers to another extractor round.
const (
	TypeVideo    = "video"
	TypePlaylist = "playlist"
	TypeURL      = "url"
)

type Subtitle struct {
	URL  string `json:"url,omitempty"`
	Ext  string `json:"ext,omitempty"`
	Data string `json:"data,omitempty"`
}

type Format struct {
	FormatID       string            `json:"format_id"`
	URL            string            `json:"url"`
	Ext            string            `json:"ext,omitempty"`
	Protocol       string            `json:"protocol,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	FPS            float64           `json:"fps,omitempty"`
	TBR            float64           `json:"tbr,omitempty"`
	ABR            float64           `json:"abr,omitempty"`
	VBR            float64           `json:"vbr,omitempty"`
	VCodec         string            `json:"vcodec,omitempty"`
	ACodec         string            `json:"acodec,omitempty"`
	ASR            int               `json:"asr,omitempty"`
	Filesize       int64             `json:"filesize,omitempty"`
	FilesizeApprox int64             `json:"filesize_approx,omitempty"`
	Language       string            `json:"language,omitempty"`
	Preference     int               `json:"preference,omitempty"`
	Headers        map[string]string `json:"http_headers,omitempty"`
}

type Info struct {
	Type          string                `json:"_type,omitempty"`
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	Uploader      string                `json:"uploader,omitempty"`
	UploaderID    string                `json:"uploader_id,omitempty"`
	UploaderURL   string                `json:"uploader_url,omitempty"`
	Channel       string                `json:"channel,omitempty"`
	ChannelID     string                `json:"channel_id,omitempty"`
	ChannelURL    string                `json:"channel_url,omitempty"`
	ViewCount     int64                 `json:"view_count,omitempty"`
	LikeCount     int64                 `json:"like_count,omitempty"`
	DislikeCount  int64                 `json:"dislike_count,omitempty"`
	Timestamp     int64                 `json:"timestamp,omitempty"`
	ReleaseTime   int64                 `json:"release_timestamp,omitempty"`
	Duration      float64               `json:"duration,omitempty"`
	IsLive        bool                  `json:"is_live,omitempty"`
	LiveStatus    string                `json:"live_status,omitempty"`
	Thumbnail     string                `json:"thumbnail,omitempty"`
	Tags          []string              `json:"tags,omitempty"`
	Categories    []string              `json:"categories,omitempty"`
	AgeLimit      int                   `json:"age_limit,omitempty"`
	Series        string                `json:"series,omitempty"`
	SeasonNumber  int                   `json:"season_number,omitempty"`
	Episode       string                `json:"episode,omitempty"`
	EpisodeNumber int                   `json:"episode_number,omitempty"`
	Chapter       string                `json:"chapter,omitempty"`
	URL           string                `json:"url,omitempty"`
	WebpageURL    string                `json:"webpage_url,omitempty"`
	Extractor     string                `json:"extractor,omitempty"`
	Formats       []Format              `json:"formats,omitempty"`
	Subtitles     map[string][]Subtitle `json:"subtitles,omitempty"`
	Entries       []*Info               `json:"entries,omitempty"`
	// Filepath is set by the downloader once the media is on disk, for
	// the post-processing steps that follow.
	Filepath string `json:"filepath,omitempty"`
}

// Extractor turns one recognized URL into an Info tree. Implementations
// hold no per-request state, the ctx carries everything mutable.
type Extractor interface {
	Extract(ctx *Ctx, url string) (*Info, error)
}

func (i *Info) Kind() string {
	if i.Type != "" {
		return i.Type
	}
	return TypeVideo
}

// URLResult builds an entry that re-enters dispatch, the way site
// pages can hand a video off to another platform.
func URLResult(url string) *Info {
	return &Info{Type: TypeURL, URL: url}
}

func PlaylistResult(id, title string, entries []*Info) *Info {
	return &Info{Type: TypePlaylist, ID: id, Title: title, Entries: entries}
}

// GeoRestrictedError carries the countries a blocked stream may still
// play from, so a caller can suggest a proxy location.
type GeoRestrictedError struct {
	Msg       string
	Countries []string
}

func (e *GeoRestrictedError) Error() string {
	if len(e.Countries) > 0 {
		return fmt.Sprintf("%s (available from %s)", e.Msg, strings.Join(e.Countries, ", "))
	}
	return e.Msg
}

// SortFormats orders formats worst first, best last. Callers that want
// "best" take the final element.
func SortFormats(formats []Format) {
	sort.SliceStable(formats, func(i, j int) bool {
		fi, fj := &formats[i], &formats[j]
		if fi.Preference != fj.Preference {
			return fi.Preference < fj.Preference
		}
		iv, jv := fi.VCodec != "none", fj.VCodec != "none"
		if iv != jv {
			return !iv
		}
		if fi.Height != fj.Height {
			return fi.Height < fj.Height
		}
		ib, jb := fi.TBR, fj.TBR
		if ib == 0 {
			ib = fi.VBR + fi.ABR
		}
		if jb == 0 {
			jb = fj.VBR + fj.ABR
		}
		if ib != jb {
			return ib < jb
		}
		return fi.FPS < fj.FPS
	})
}
