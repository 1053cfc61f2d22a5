package brighteon

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

const Version = "2022.10.13"

const baseURL = "https://www.brighteon.com"

// pageFetchers bounds how many playlist pages load at once.
const pageFetchers = 4

var (
	urlPattern = regexp.MustCompile(
		`https?://(?:www\.)?brighteon\.com/(?:(?P<taxonomy>browse|channels|categories|watch)/)?(?P<id>[a-zA-Z0-9-]+)`)
	tvPattern    = regexp.MustCompile(`https?://(?:www\.)?brighteon\.tv/?`)
	radioPattern = regexp.MustCompile(`https?://(?:www\.)?brighteonradio\.com/?`)
	embedPattern = regexp.MustCompile(
		`<iframe[^>]+src="(https?://(?:[a-z][\da-z]+\.)?brighteon\.com/embed/[\da-zA-Z-]+)[^"]*"`)
	iframePattern   = regexp.MustCompile(`<iframe[^>]+src="(https?://[\w./-]+)"`)
	playerJsPattern = regexp.MustCompile(`<script[^>]+src="([^"]+/Player\w*\.js)"`)
	streamVarPattern = regexp.MustCompile(`(?m)^\s*var\s+[^'"/]+['"](https?://[^'"]+/index\.m3u8)['"]`)
)

// Descriptors lists the three brighteon properties: the video site,
// the tv livestream and the radio stream.
func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:    "brighteon",
			Version: Version,
			Pattern: urlPattern,
			Factory: func() extractor.Extractor { return &Brighteon{MpegTS: true} },
			Embeds:  extractEmbeds,
		},
		{
			Name:    "brighteontv",
			Version: Version,
			Pattern: tvPattern,
			Factory: func() extractor.Extractor { return &BrighteonTV{} },
		},
		{
			Name:    "brighteonradio",
			Version: Version,
			Pattern: radioPattern,
			Factory: func() extractor.Extractor { return &BrighteonRadio{} },
		},
	}
}

func extractEmbeds(webpage string) []string {
	var urls []string
	for _, m := range embedPattern.FindAllStringSubmatch(webpage, -1) {
		urls = append(urls, m[1])
	}
	return urls
}

// Brighteon covers brighteon.com video, channel, category and browse
// pages. MpegTS mirrors the site offering every hls rendition as a
// plain .ts file too.
type Brighteon struct {
	MpegTS bool
}

// nextData pulls the __NEXT_DATA__ blob every brighteon page embeds.
func nextData(ctx *extractor.Ctx, pageURL string) (gjson.Result, error) {
	doc, err := ctx.GetDocument(pageURL, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	raw := doc.Find("script#__NEXT_DATA__").Text()
	if raw == "" {
		return gjson.Result{}, errors.New("could not extract json metadata")
	}
	return gjson.Parse(raw), nil
}

func pageProps(data gjson.Result) gjson.Result {
	return data.Get("props.initialProps.pageProps")
}

// jsonAPI mirrors a page url onto the /api-v3 endpoint.
func jsonAPI(ctx *extractor.Ctx, pageURL string) (gjson.Result, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return gjson.Result{}, err
	}
	path := strings.TrimSuffix(parsed.Path, "/")
	if strings.HasPrefix(path, "/channels/") && strings.HasSuffix(path, "/videos") {
		path = strings.TrimSuffix(path, "videos")
	}
	if strings.HasPrefix(path, "/categories/") && !strings.HasSuffix(path, "/videos") {
		path += "/videos"
	}
	parsed.Path = "/api-v3" + path
	return ctx.GetJSON(parsed.String(), nil)
}

// renameFormats applies the site's naming scheme: hls-720p, mpeg-720p,
// audio variants keyed by language.
func renameFormats(formats []extractor.Format, prefix string) {
	for i := range formats {
		f := &formats[i]
		var suffix string
		switch {
		case f.VCodec == "none" && f.Language != "":
			suffix = "audio-" + f.Language
		case f.VCodec == "none":
			suffix = "audio"
		case f.Height > 0:
			suffix = fmt.Sprintf("%dp", f.Height)
		default:
			suffix = strings.TrimPrefix(f.FormatID, prefix+"-")
		}
		f.FormatID = prefix + "-" + suffix
	}
}

// fixupFPS matches the site's fixed ladder: 30fps at 540p and up, 15
// below.
func fixupFPS(formats []extractor.Format) {
	for i := range formats {
		if formats[i].Height > 0 {
			if formats[i].Height >= 540 {
				formats[i].FPS = 30
			} else {
				formats[i].FPS = 15
			}
		}
	}
}

func (b *Brighteon) downloadFormats(ctx *extractor.Ctx, sources gjson.Result, mpegTS bool) []extractor.Format {
	var formats []extractor.Format
	sources.ForEach(func(_, source gjson.Result) bool {
		src := source.Get("src").String()
		if src == "" {
			return true
		}
		switch {
		case strings.HasSuffix(src, ".m3u8"):
			hlsFormats, err := ctx.ParseM3U8Formats(src, nil, "hls")
			if err != nil {
				log.WithField("url", src).Warnf("hls manifest failed: %v", err)
				return true
			}
			renameFormats(hlsFormats, "hls")
			if mpegTS {
				// every hls rendition also exists as a progressive ts
				for _, f := range hlsFormats {
					mpg := f
					mpg.URL = strings.Replace(f.URL, ".m3u8", ".ts", 1)
					mpg.Protocol = "https"
					mpg.Ext = "ts"
					formats = append(formats, mpg)
				}
				renameFormats(formats[len(formats)-len(hlsFormats):], "mpeg")
			}
			formats = append(formats, hlsFormats...)
		case strings.HasSuffix(src, ".mpd"):
			log.WithField("url", src).Debug("skipping dash manifest")
		default:
			log.Warnf("unknown media format %q", source.Get("type").String())
		}
		return true
	})
	return formats
}

func (b *Brighteon) entryFromInfo(ctx *extractor.Ctx, video, channel gjson.Result, fromPlaylist bool) *extractor.Info {
	videoID := video.Get("id").String()
	pageURL := baseURL + "/" + videoID
	duration := extractor.ParseDuration(video.Get("duration").String())

	if fromPlaylist {
		entry := extractor.URLResult(pageURL)
		entry.ID = videoID
		entry.Title = video.Get("name").String()
		entry.Duration = duration
		return entry
	}

	formats := b.downloadFormats(ctx, video.Get("source"), b.MpegTS)
	if audio := video.Get("audio").String(); audio != "" {
		formats = append(formats, extractor.Format{
			FormatID: "audio",
			URL:      audio,
			VCodec:   "none",
			ACodec:   "aac",
			Ext:      "mp3",
			TBR:      192,
		})
	}
	fixupFPS(formats)
	extractor.EstimateFilesizes(formats, duration)
	extractor.SortFormats(formats)

	uploader := channel.Get("name").String()
	if uploader == "" {
		uploader = video.Get("channelName").String()
	}
	uploaderID := channel.Get("id").String()
	if uploaderID == "" {
		uploaderID = video.Get("channelId").String()
	}
	shortURL := channel.Get("shortUrl").String()
	if shortURL == "" {
		shortURL = video.Get("channelShortUrl").String()
	}

	info := &extractor.Info{
		ID:          videoID,
		Title:       video.Get("name").String(),
		Description: extractor.CleanHTML(video.Get("description").String()),
		Timestamp:   extractor.ParseISO8601(video.Get("createdAt").String()),
		Duration:    duration,
		Uploader:    uploader,
		UploaderID:  uploaderID,
		Thumbnail:   video.Get("thumbnail").String(),
		WebpageURL:  pageURL,
		Formats:     formats,
	}
	if shortURL != "" {
		info.UploaderURL = baseURL + "/channels/" + shortURL
	}
	video.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		info.Tags = append(info.Tags, tag.String())
		return true
	})
	return info
}

func (b *Brighteon) pagedEntries(ctx *extractor.Ctx, pageID, pageURL string, startPage string, useJSONAPI bool) (*extractor.Info, error) {
	loadPage := func(page string) (gjson.Result, error) {
		pagedURL := setQuery(pageURL, "page", page)
		if useJSONAPI {
			return jsonAPI(ctx, pagedURL)
		}
		data, err := nextData(ctx, pagedURL)
		if err != nil {
			return gjson.Result{}, err
		}
		props := pageProps(data)
		if d := props.Get("data"); d.Exists() {
			return d, nil
		}
		return props, nil
	}

	first := startPage
	if first == "" {
		first = "1"
	}
	data, err := loadPage(first)
	if err != nil {
		return nil, err
	}
	if !data.Get("videos").Exists() {
		return nil, errors.Errorf("unsupported url %s", pageURL)
	}
	channel := data.Get("channel")

	maxPages := int(data.Get("pagination.pages").Int())
	if maxPages == 0 {
		maxPages = int(data.Get("pages").Int())
	}
	if limit := extractor.MaxPages(ctx, 10); maxPages == 0 || maxPages > limit {
		maxPages = limit
	}

	var entries []*extractor.Info
	appendVideos := func(videos gjson.Result) int {
		count := 0
		videos.ForEach(func(_, video gjson.Result) bool {
			entries = append(entries, b.entryFromInfo(ctx, video, channel, true))
			count++
			return true
		})
		return count
	}
	total := appendVideos(data.Get("videos"))

	// an explicit ?page= pins the playlist to that single page
	if startPage == "" && total > 0 && maxPages > 1 {
		type pageResult struct {
			videos gjson.Result
			err    error
		}
		results := make([]pageResult, maxPages+1)
		sem := semaphore.NewWeighted(pageFetchers)
		var wg sync.WaitGroup
		for page := 2; page <= maxPages; page++ {
			if err := sem.Acquire(context.Background(), 1); err != nil {
				break
			}
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				defer sem.Release(1)
				pageData, err := loadPage(fmt.Sprintf("%d", page))
				results[page] = pageResult{videos: pageData.Get("videos"), err: err}
			}(page)
		}
		wg.Wait()
		for page := 2; page <= maxPages; page++ {
			if err := results[page].err; err != nil {
				log.WithField("page", page).Warnf("page fetch failed: %v", err)
				break
			}
			if appendVideos(results[page].videos) == 0 {
				break
			}
		}
	}

	playlistID := channel.Get("id").String()
	if playlistID == "" {
		playlistID = data.Get("id").String()
	}
	if playlistID == "" {
		playlistID = pageID
	}
	playlistTitle := channel.Get("name").String()
	if playlistTitle == "" {
		playlistTitle = data.Get("name").String()
	}
	if playlistTitle == "" {
		playlistTitle = pageID
	}
	return extractor.PlaylistResult(playlistID, playlistTitle, entries), nil
}

func (b *Brighteon) playlistEntries(playlist gjson.Result, pageURL string) *extractor.Info {
	var entries []*extractor.Info
	idx := 0
	playlist.Get("videosInPlaylist").ForEach(func(_, video gjson.Result) bool {
		idx++
		entry := extractor.URLResult(setQuery(pageURL, "index", fmt.Sprintf("%d", idx)))
		entry.Title = video.Get("videoName").String()
		entry.Duration = extractor.ParseDuration(video.Get("duration").String())
		entries = append(entries, entry)
		return true
	})
	return extractor.PlaylistResult(
		playlist.Get("playlistId").String(),
		playlist.Get("playlistName").String(),
		entries,
	)
}

func (b *Brighteon) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	groups := extractor.NamedGroups(urlPattern, rawurl)
	if groups == nil {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	taxonomy, videoID := groups["taxonomy"], groups["id"]
	parsed, _ := url.Parse(rawurl)
	query := parsed.Query()

	switch taxonomy {
	case "channels", "categories", "browse":
		return b.pagedEntries(ctx, videoID, rawurl, query.Get("page"), taxonomy != "browse")
	}

	data, err := nextData(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	props := pageProps(data)

	playlist := props.Get("playlist")
	if playlist.Exists() && len(playlist.Map()) > 0 && query.Get("index") == "" {
		return b.playlistEntries(playlist, rawurl), nil
	}

	video := props.Get("video")
	if video.Exists() && len(video.Map()) > 0 {
		return b.entryFromInfo(ctx, video, props.Get("channel"), false), nil
	}

	return nil, errors.Errorf("unsupported url %s", rawurl)
}

func setQuery(rawurl, key, value string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// BrighteonTV handles the round-the-clock livestream pages.
type BrighteonTV struct{}

func (b *BrighteonTV) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	body, err := ctx.HttpGet(rawurl, nil)
	if err != nil {
		return nil, err
	}
	webpage := string(body)
	doc, err := extractor.DocumentFromHTML(webpage, rawurl)
	if err != nil {
		return nil, err
	}
	description := extractor.OGSearch(doc, "description")
	keywords := extractor.MetaContent(doc, "keywords")

	m := iframePattern.FindStringSubmatch(webpage)
	if m == nil {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	data, err := nextData(ctx, m[1])
	if err != nil {
		return nil, err
	}
	stream := pageProps(data).Get("stream")
	if !stream.Exists() {
		return nil, errors.New("no stream info")
	}
	inner := Brighteon{}
	info := inner.entryFromInfo(ctx, stream, gjson.Result{}, false)
	info.Description = description
	info.IsLive = true
	info.Tags = nil
	for _, tag := range strings.Split(keywords, ", ") {
		if tag != "" {
			info.Tags = append(info.Tags, tag)
		}
	}
	info.WebpageURL = rawurl
	return info, nil
}

// BrighteonRadio digs the stream url out of the player script.
type BrighteonRadio struct{}

func (b *BrighteonRadio) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	body, err := ctx.HttpGet(rawurl, nil)
	if err != nil {
		return nil, err
	}
	webpage := string(body)
	m := playerJsPattern.FindStringSubmatch(webpage)
	if m == nil {
		return nil, errors.New("cannot find js player")
	}
	playerJs, err := ctx.HttpGet(extractor.JoinURL("https://www.brighteonradio.com", m[1]), nil)
	if err != nil {
		return nil, err
	}
	sm := streamVarPattern.FindSubmatch(playerJs)
	if sm == nil {
		return nil, errors.New("cannot find stream url")
	}
	formats, err := ctx.ParseM3U8Formats(string(sm[1]), nil, "hls")
	if err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Width = 0
		formats[i].Height = 0
		formats[i].VCodec = "none"
	}
	extractor.SortFormats(formats)

	doc, err := extractor.DocumentFromHTML(webpage, rawurl)
	if err != nil {
		return nil, err
	}
	title := extractor.OGSearch(doc, "title")
	if title == "" {
		title = "Brighteon Radio"
	}
	var tags []string
	for _, tag := range strings.Split(extractor.MetaContent(doc, "keywords"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return &extractor.Info{
		ID:          "BrighteonRadio",
		Title:       title,
		Description: extractor.OGSearch(doc, "description"),
		Tags:        tags,
		IsLive:      true,
		WebpageURL:  rawurl,
		Formats:     formats,
	}, nil
}
