package bittube

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/probe"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	Version = "2021.11.28"

	defaultBase    = "https://bittube.tv"
	defaultWebseed = "https://webseed1.bittube.tv"
)

var (
	postPattern = regexp.MustCompile(
		`https?://(?:www\.)?bittube\.tv/post/(?P<id>[0-9a-f-]+)`)
	profilePattern = regexp.MustCompile(
		`https?://(?:www\.)?bittube\.tv/profile/(?P<id>\w+)`)
)

func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:    "bittube",
			Version: Version,
			Pattern: postPattern,
			Factory: func() extractor.Extractor { return &BitTube{} },
		},
		{
			Name:    "bittubeuser",
			Version: Version,
			Pattern: profilePattern,
			Factory: func() extractor.Extractor { return &BitTubeUser{} },
		},
	}
}

// BitTube talks to the JSON api behind the site. Every media url is
// tokenized, the token comes from its own endpoint and is cached for
// the lifetime of the extractor.
type BitTube struct {
	session    sync.Once
	magicToken string
}

// The api rejects requests without a session cookie, a bare request
// against the front page sets one.
func (b *BitTube) ensureSession(ctx *extractor.Ctx) {
	b.session.Do(func() {
		base := ctx.GetAPIHost(defaultBase)
		if jar := ctx.Client.Jar; jar != nil {
			if u, err := url.Parse(base); err == nil && len(jar.Cookies(u)) > 0 {
				return
			}
		}
		if _, err := ctx.HttpHead(base+"/", nil); err != nil {
			log.Debugf("session bootstrap failed: %v", err)
		}
	})
}

func (b *BitTube) callAPI(ctx *extractor.Ctx, endpoint string, data interface{}) (gjson.Result, error) {
	b.ensureSession(ctx)
	headers := map[string]string{
		"Content-Type":     "application/json;charset=UTF-8",
		"X-Requested-With": "XMLHttpRequest",
	}
	result, err := ctx.PostJSON(ctx.GetAPIHost(defaultBase)+"/api/"+endpoint, headers, data)
	if err != nil {
		return gjson.Result{}, err
	}
	if s := result.Get("success"); s.Exists() && !s.Bool() {
		return gjson.Result{}, errors.Errorf("%s: %s", endpoint, result.Get("mssg").String())
	}
	return result, nil
}

func (b *BitTube) getMagicToken(ctx *extractor.Ctx) string {
	if b.magicToken == "" {
		result, err := b.callAPI(ctx, "generate-magic-token", map[string]interface{}{})
		if err != nil {
			log.Warnf("unable to obtain magic token: %v", err)
			return ""
		}
		b.magicToken = result.String()
	}
	return b.magicToken
}

func (b *BitTube) mediaURL(ctx *extractor.Ctx, src string) string {
	if src == "" {
		return ""
	}
	return ctx.GetAPIHost(defaultWebseed) + "/mediaServer/static/posts/" +
		src + "?token=" + b.getMagicToken(ctx)
}

// singleFormat attaches the only format a post has. A head request
// fills in size and type, playlist entries skip it to keep listing a
// profile from hammering the webseed.
func (b *BitTube) singleFormat(ctx *extractor.Ctx, entry *extractor.Info, mediaURL string, details bool) {
	ext := probe.DetermineExt(mediaURL, "unknown_video")
	format := extractor.Format{URL: mediaURL, Ext: strings.ToLower(ext)}
	switch {
	case ext == "m3u8":
		format.Ext = "mp4"
	case details:
		res, err := ctx.HttpHead(mediaURL, nil)
		if err != nil {
			log.WithField("id", entry.ID).Warnf("media error: %v", err)
			break
		}
		if ext == "unknown_video" {
			ctype := res.Header.Get("Content-Type")
			if i := strings.LastIndex(ctype, "/"); i >= 0 {
				format.Ext = ctype[i+1:]
			}
		}
		if size, err := strconv.ParseInt(res.Header.Get("Content-Length"), 10, 64); err == nil {
			format.Filesize = size
		}
	}
	entry.Formats = []extractor.Format{format}
}

func (b *BitTube) entryFromResult(ctx *extractor.Ctx, result gjson.Result, fromPlaylist bool) *extractor.Info {
	mediaURL := ""
	isLive := false
	if result.Get("streamactive").Bool() {
		token, err := b.callAPI(ctx, "livestream/obtaintokenurl", map[string]interface{}{
			"channel": result.Get("streamchannel").Value(),
			"feed":    result.Get("streamfeed").Value(),
		})
		if err != nil {
			log.WithField("id", result.Get("post_id").String()).
				Warnf("unable to obtain token url: %v", err)
		} else {
			mediaURL = token.Get("url").String()
		}
		isLive = mediaURL != ""
	}
	if mediaURL == "" {
		mediaURL = b.mediaURL(ctx, result.Get("imgSrc").String())
	}

	username := result.Get("username").String()
	entry := &extractor.Info{
		ID:          result.Get("post_id").String(),
		Title:       result.Get("title").String(),
		Description: extractor.CleanHTML(result.Get("description").String()),
		IsLive:      isLive,
		Thumbnail:   b.mediaURL(ctx, result.Get("thumbSrc").String()),
		Duration:    result.Get("mediaDuration").Float() * 60,
		Uploader:    username,
		Channel:     result.Get("fullname").String(),
		ChannelID:   username,
		ChannelURL:  defaultBase + "/profile/" + username,
		Timestamp:   result.Get("post_time").Int() / 1000,
		ViewCount:   result.Get("views").Int(),
		LikeCount:   result.Get("likes_count").Int(),
	}
	b.singleFormat(ctx, entry, mediaURL, !fromPlaylist)
	return entry
}

func (b *BitTube) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	videoID, ok := extractor.MatchID(postPattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	result, err := b.callAPI(ctx, "get-post", map[string]interface{}{"post_id": videoID})
	if err != nil {
		return nil, err
	}
	return b.entryFromResult(ctx, result, false), nil
}

// BitTubeUser lists a profile as a playlist, metadata first, then the
// posts in pages of thirty.
type BitTubeUser struct {
	BitTube
}

func (b *BitTubeUser) pagedProfileEntries(ctx *extractor.Ctx, userID int64) []*extractor.Info {
	const pageSize = 30
	var entries []*extractor.Info
	maxPages := extractor.MaxPages(ctx, 10)
	for page := 0; page < maxPages; page++ {
		result, err := b.callAPI(ctx, "get-user-posts", map[string]interface{}{
			"user":   userID,
			"limit":  pageSize,
			"offset": page * pageSize,
		})
		if err != nil {
			log.WithField("page", page).Warnf("unable to list posts: %v", err)
			break
		}
		items := result.Get("items").Array()
		for _, item := range items {
			entries = append(entries, b.entryFromResult(ctx, item, true))
		}
		if len(items) < pageSize {
			break
		}
	}
	return entries
}

func (b *BitTubeUser) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	username, ok := extractor.MatchID(profilePattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	result, err := b.callAPI(ctx, "get-user-details", map[string]interface{}{"username": username})
	if err != nil {
		return nil, err
	}
	details := result.Get("details")
	playlist := extractor.PlaylistResult(username, details.Get("fullname").String(),
		b.pagedProfileEntries(ctx, details.Get("id").Int()))
	playlist.Description = details.Get("bio").String()
	return playlist, nil
}
