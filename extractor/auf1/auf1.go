package auf1

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const Version = "2023.07.10"

var (
	urlPattern = regexp.MustCompile(
		`(?:https?:)?//(?:www\.)?auf1\.tv/(?P<category>[^/]+/)?(?P<id>[^/]+)`)
	radioPattern = regexp.MustCompile(
		`https?://(?:www\.)?auf1\.radio(?:/(?P<category>[^/]+/)?(?P<id>[^/]+))?/?`)
	embedPattern = regexp.MustCompile(`^https?://([^/]+)/videos/embed/([^?]+)`)
)

func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:    "auf1",
			Version: Version,
			Pattern: urlPattern,
			Factory: func() extractor.Extractor { return &Auf1{} },
		},
		{
			Name:    "auf1radio",
			Version: Version,
			Pattern: radioPattern,
			Factory: func() extractor.Extractor { return &Auf1Radio{} },
		},
	}
}

// Auf1 prefers the json api and falls back to scraping the nuxt
// payload when the api is down, which happens a lot.
type Auf1 struct{}

// peertubeURL converts an embed link into the peertube:host:id
// shorthand the peertube extractor accepts.
func peertubeURL(rawurl string) string {
	m := embedPattern.FindStringSubmatch(rawurl)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("peertube:%s:%s", m[1], m[2])
}

func sparseInfo(metadata gjson.Result) *extractor.Info {
	desc := metadata.Get("text").String()
	if desc == "" {
		desc = metadata.Get("preview_text").String()
	}
	info := &extractor.Info{
		ID:          metadata.Get("public_id").String(),
		Title:       metadata.Get("title").String(),
		Description: extractor.CleanHTML(desc),
		Duration:    extractor.ParseDuration(metadata.Get("duration").String()),
		Timestamp:   extractor.ParseISO8601(metadata.Get("published_at").String()),
		Thumbnail:   metadata.Get("thumbnail_url").String(),
	}
	if info.ID == "" {
		info.ID = "unknown"
	}
	if videoURL := metadata.Get("videoUrl").String(); videoURL != "" {
		info.Formats = []extractor.Format{{FormatID: "source", URL: videoURL}}
	}
	return info
}

func playlistFromEntries(videos gjson.Result, id, title, description string) *extractor.Info {
	var entries []*extractor.Info
	videos.ForEach(func(_, item gjson.Result) bool {
		publicID := item.Get("public_id").String()
		if publicID == "" {
			return true
		}
		category := item.Get("show.public_id").String()
		if category == "" {
			category = "video"
		}
		entry := sparseInfo(item)
		entry.Type = extractor.TypeURL
		entry.URL = fmt.Sprintf("https://auf1.tv/%s/%s/", category, publicID)
		entry.Formats = nil
		entries = append(entries, entry)
		return true
	})
	playlist := extractor.PlaylistResult(id, title, entries)
	playlist.Description = description
	return playlist
}

// payloadMetadata scrapes the page for its payload.js and decodes the
// state object embedded there.
func (a *Auf1) payloadMetadata(ctx *extractor.Ctx, pageURL string) (gjson.Result, error) {
	webpage, err := ctx.HttpGet(pageURL, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	m := payloadHrefPattern.FindSubmatch(webpage)
	if m == nil {
		return gjson.Result{}, errors.New("payload url not found")
	}
	payload, err := ctx.HttpGet(extractor.JoinURL(pageURL, string(m[1])), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	fm := payloadPattern.FindStringSubmatch(string(payload))
	if fm == nil {
		return gjson.Result{}, errors.New("failed parsing payload.js")
	}

	names := strings.Split(fm[1], ",")
	values := jsTokens(fm[3])
	vars := make(map[string]string, len(names))
	for i, name := range names {
		if i < len(values) {
			vars[strings.TrimSpace(name)] = values[i]
		}
	}

	jsonStr := stripControl(jsToJSON(fm[2], vars))
	if !gjson.Valid(jsonStr) {
		return gjson.Result{}, errors.New("failed parsing payload.js")
	}
	data := gjson.Parse(jsonStr).Get("data")
	var last gjson.Result
	data.ForEach(func(_, v gjson.Result) bool {
		last = v
		return true
	})
	if !last.Exists() {
		return gjson.Result{}, errors.New("no metadata in payload.js")
	}
	return last, nil
}

func (a *Auf1) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	groups := extractor.NamedGroups(urlPattern, rawurl)
	if groups == nil {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	category, pageID := groups["category"], groups["id"]
	api := ctx.GetAPIHost("https://auf1.tv")

	// single video
	if category != "" {
		metadata, err := ctx.GetJSONRetry(api+"/api/getContent/"+pageID, nil, 4)
		if err != nil {
			log.WithField("id", pageID).Warnf("json api failed: %v", err)
			metadata, err = a.payloadMetadata(ctx, rawurl)
			if err != nil {
				return nil, err
			}
		}
		ptURL := peertubeURL(metadata.Get("videoUrl").String())
		if ptURL == "" {
			ptURL = peertubeURL(metadata.Get("videoUrls.peertube").String())
		}
		if ptURL != "" {
			return extractor.URLResult(ptURL), nil
		}
		return sparseInfo(metadata), nil
	}

	// every video on the site
	if pageID == "videos" {
		videos, err := ctx.GetJSONRetry(api+"/api/getVideos", nil, 4)
		if err != nil {
			return nil, err
		}
		return playlistFromEntries(videos, "all_videos", "AUF1.TV - Alle Videos", ""), nil
	}

	// show playlist
	show, err := ctx.GetJSONRetry(api+"/api/getShow/"+pageID, nil, 4)
	if err != nil {
		log.WithField("id", pageID).Warnf("json api failed: %v", err)
		show, err = a.payloadMetadata(ctx, rawurl)
		if err != nil {
			return nil, err
		}
	}
	return playlistFromEntries(
		show.Get("contents"),
		pageID,
		show.Get("name").String(),
		extractor.CleanHTML(show.Get("description").String()),
	), nil
}

// Auf1Radio serves the same shows as mp3.
type Auf1Radio struct{}

func mp3Formats(audioURL string, duration float64) []extractor.Format {
	if audioURL == "" {
		return nil
	}
	f := extractor.Format{FormatID: "audio", URL: audioURL}
	if strings.HasSuffix(audioURL, ".mp3") {
		f.FormatID = "mp3"
		f.Ext = "mp3"
		f.ACodec = "mp3"
		f.VCodec = "none"
		f.ASR = 48000
		f.TBR = 64
		f.ABR = 64
		if duration > 0 {
			f.FilesizeApprox = int64(duration * 8000)
		}
	}
	return []extractor.Format{f}
}

func radioEntry(info gjson.Result, mediaID, audioURL string) *extractor.Info {
	id := info.Get("content_public_id").String()
	if id == "" {
		id = mediaID
	}
	duration := info.Get("duration").Float()
	entry := &extractor.Info{
		ID:          id,
		Title:       info.Get("title").String(),
		Description: info.Get("summary").String(),
		Duration:    duration,
		Timestamp:   extractor.ParseISO8601(info.Get("created_at").String()),
		Formats:     mp3Formats(audioURL, duration),
	}
	if thumb := info.Get("thumbnail").String(); thumb != "" {
		entry.Thumbnail = "https://auf1.tv/images/" + thumb
	}
	return entry
}

func (a *Auf1Radio) playlistEntries(ctx *extractor.Ctx, playlistID string) (*extractor.Info, error) {
	api := ctx.GetAPIHost("https://auf1.radio")
	endpoint := "getShow/"
	if playlistID == "all" {
		endpoint = ""
	}
	fetch := func(page int) (gjson.Result, error) {
		return ctx.GetJSONRetry(
			fmt.Sprintf("%s/api/%s%s?page=%d", api, endpoint, playlistID, page), nil, 3)
	}

	first, err := fetch(1)
	if err != nil {
		return nil, err
	}
	lastPage := int(first.Get("last_page").Int())
	if limit := extractor.MaxPages(ctx, 10); lastPage == 0 || lastPage > limit {
		lastPage = limit
	}
	title := playlistID
	if playlistID != "all" {
		if name := first.Get("data.0.show_name").String(); name != "" {
			title = name
		}
	}

	var entries []*extractor.Info
	appendPage := func(info gjson.Result) int {
		count := 0
		info.Get("data").ForEach(func(_, media gjson.Result) bool {
			audioURL := media.Get("audio_url").String()
			if file := media.Get("audiofile").String(); file != "" {
				audioURL = "https://auf1.radio/storage/" + file
			}
			entries = append(entries, radioEntry(media, playlistID, audioURL))
			count++
			return true
		})
		return count
	}

	for page := 1; page <= lastPage; page++ {
		info := first
		if page > 1 {
			info, err = fetch(page)
			if err != nil {
				log.WithField("page", page).Warnf("page fetch failed: %v", err)
				break
			}
		}
		if appendPage(info) == 0 {
			break
		}
	}
	return extractor.PlaylistResult(playlistID, title, entries), nil
}

func (a *Auf1Radio) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	groups := extractor.NamedGroups(radioPattern, rawurl)
	if groups == nil {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	category, pageID := groups["category"], groups["id"]

	if category != "" {
		api := ctx.GetAPIHost("https://auf1.radio")
		info, err := ctx.GetJSONRetry(api+"/api/get/"+pageID, nil, 3)
		if err != nil {
			return nil, err
		}
		if len(info.Map()) == 0 {
			return nil, errors.New("not available")
		}
		return radioEntry(info, pageID, info.Get("audio_url").String()), nil
	}

	if pageID == "" {
		pageID = "all"
	}
	return a.playlistEntries(ctx, pageID)
}
