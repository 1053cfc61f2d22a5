package peertube

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const Version = "2023.07.10"

// Accepts both the peertube:host:id shorthand other extractors hand
// over and plain embed/watch urls.
var (
	urlPattern = regexp.MustCompile(
		`^peertube:(?P<host>[^:]+):(?P<id>[\w-]+)$`)
	watchPattern = regexp.MustCompile(
		`https?://(?P<host>[^/]+)/(?:videos/(?:watch|embed)|w)/(?P<id>[\w-]+)`)
)

func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{{
		Name:    "peertube",
		Version: Version,
		Pattern: urlPattern,
		Factory: func() extractor.Extractor { return &PeerTube{} },
	}}
}

type PeerTube struct{}

func matchURL(rawurl string) (host, id string, ok bool) {
	for _, pattern := range []*regexp.Regexp{urlPattern, watchPattern} {
		if groups := extractor.NamedGroups(pattern, rawurl); groups != nil {
			return groups["host"], groups["id"], true
		}
	}
	return "", "", false
}

func (p *PeerTube) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	host, videoID, ok := matchURL(rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}

	apiURL := fmt.Sprintf("%s/api/v1/videos/%s", ctx.GetAPIHost("https://"+host), videoID)
	video, err := ctx.GetJSONRetry(apiURL, nil, 3)
	if err != nil {
		return nil, err
	}

	var formats []extractor.Format
	video.Get("files").ForEach(func(_, file gjson.Result) bool {
		f := fileFormat(file)
		if f.URL != "" {
			formats = append(formats, f)
		}
		return true
	})
	video.Get("streamingPlaylists").ForEach(func(_, playlist gjson.Result) bool {
		playlist.Get("files").ForEach(func(_, file gjson.Result) bool {
			f := fileFormat(file)
			if f.URL != "" {
				formats = append(formats, f)
			}
			return true
		})
		if len(formats) > 0 {
			return true
		}
		murl := playlist.Get("playlistUrl").String()
		hlsFormats, err := ctx.ParseM3U8Formats(murl, nil, "hls")
		if err != nil {
			log.WithField("url", murl).Warnf("hls manifest failed: %v", err)
			return true
		}
		formats = append(formats, hlsFormats...)
		return true
	})
	extractor.SortFormats(formats)

	info := &extractor.Info{
		ID:           video.Get("uuid").String(),
		Title:        video.Get("name").String(),
		Description:  video.Get("description").String(),
		Timestamp:    extractor.ParseISO8601(video.Get("publishedAt").String()),
		Duration:     video.Get("duration").Float(),
		Uploader:     video.Get("account.displayName").String(),
		UploaderID:   video.Get("account.id").String(),
		UploaderURL:  video.Get("account.url").String(),
		Channel:      video.Get("channel.displayName").String(),
		ChannelID:    video.Get("channel.name").String(),
		ChannelURL:   video.Get("channel.url").String(),
		ViewCount:    video.Get("views").Int(),
		LikeCount:    video.Get("likes").Int(),
		DislikeCount: video.Get("dislikes").Int(),
		IsLive:       video.Get("isLive").Bool(),
		WebpageURL:   fmt.Sprintf("https://%s/videos/watch/%s", host, videoID),
		Formats:      formats,
	}
	if info.ID == "" {
		info.ID = videoID
	}
	if thumb := video.Get("thumbnailPath").String(); thumb != "" {
		info.Thumbnail = "https://" + host + thumb
	}
	if label := video.Get("category.label").String(); label != "" {
		info.Categories = []string{label}
	}
	video.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		info.Tags = append(info.Tags, tag.String())
		return true
	})
	return info, nil
}

func fileFormat(file gjson.Result) extractor.Format {
	fileURL := file.Get("fileUrl").String()
	if fileURL == "" {
		fileURL = file.Get("fileDownloadUrl").String()
	}
	height := int(file.Get("resolution.id").Int())
	f := extractor.Format{
		FormatID: file.Get("resolution.label").String(),
		URL:      fileURL,
		Height:   height,
		FPS:      file.Get("fps").Float(),
		Filesize: file.Get("size").Int(),
		Ext:      "mp4",
	}
	if f.FormatID == "" && height > 0 {
		f.FormatID = strconv.Itoa(height) + "p"
	}
	if height == 0 {
		f.VCodec = "none"
	}
	return f
}
