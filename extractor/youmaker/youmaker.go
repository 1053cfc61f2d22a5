package youmaker

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
)

const Version = "2022.01.05"

const requestLimit = 50

var (
	urlPattern = regexp.MustCompile(
		`https?://(?:[a-z][a-z0-9]+\.)?youmaker\.com/(?:v|video|embed|channel|playlist)/(?P<id>[0-9a-zA-Z-]+)`)
	embedPattern = regexp.MustCompile(
		`<(?:iframe|script|video)[^>]+src="(?:https?:)?//(?:[a-z][a-z0-9]+\.)?youmaker\.com/(?:embed/|assets/|player/)+([0-9a-zA-Z-]+)[^"]*"`)

	videoPathPattern    = regexp.MustCompile(`^/(?:v|video|embed)/(?P<uid>[a-zA-Z0-9-]+)`)
	playlistPathPattern = regexp.MustCompile(`^(?:/channel/[a-zA-Z0-9-]+)?/playlists?/(?P<uid>[a-zA-Z0-9-]+)`)
	channelPathPattern  = regexp.MustCompile(`^/channel/(?P<uid>[a-zA-Z0-9-]+)/?$`)
)

func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{{
		Name:    "youmaker",
		Version: Version,
		Pattern: urlPattern,
		Factory: func() extractor.Extractor { return New() },
		Embeds:  extractEmbeds,
	}}
}

func extractEmbeds(webpage string) []string {
	var urls []string
	for _, m := range embedPattern.FindAllStringSubmatch(webpage, -1) {
		urls = append(urls, "https://youmaker.com/v/"+m[1])
	}
	return urls
}

type category struct {
	name   string
	parent int64
}

// Youmaker talks to the /v1/api endpoints. The categories and per-video
// metadata fetched while paging a channel are kept around so resolving
// the entries does not refetch them.
type Youmaker struct {
	protocol   string
	categories map[int64]category
	cache      map[string]*simplejson.Json
}

func New() *Youmaker {
	return &Youmaker{
		protocol: "https",
		cache:    map[string]*simplejson.Json{},
	}
}

func (y *Youmaker) fixURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return y.protocol + ":" + u
	}
	return u
}

func (y *Youmaker) baseURL() string { return y.fixURL("//www.youmaker.com") }

// the asset host occasionally moves, currently it is buried in the
// player js
func (y *Youmaker) assetURL() string { return y.fixURL("//vs.youmaker.com/assets") }

func (y *Youmaker) liveURL(videoID, endpoint string) string {
	return y.fixURL("//live.youmaker.com/" + videoID + "/" + endpoint)
}

// tryServerURLs lists playlist url candidates, some metadata points at
// the wrong vs/vs1 server.
func tryServerURLs(u string) []string {
	if u == "" {
		return nil
	}
	candidates := []string{u}
	for _, pair := range [][2]string{
		{"//vs.youmaker.com/", "//vs1.youmaker.com/"},
		{"//vs1.youmaker.com/", "//vs.youmaker.com/"},
	} {
		if other := strings.ReplaceAll(u, pair[0], pair[1]); other != u {
			candidates = append(candidates, other)
		}
	}
	return candidates
}

// callAPI wraps the {"status": ..., "data": ...} envelope every
// endpoint answers with. A non-fatal call logs the failure and returns
// nil data instead of an error.
func (y *Youmaker) callAPI(ctx *extractor.Ctx, path string, query url.Values, what string, fatal bool) (*simplejson.Json, error) {
	apiURL := ctx.GetAPIHost(y.baseURL()) + "/v1/api/" + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}
	js, err := ctx.GetSimpleJSON(apiURL, nil)
	if err != nil {
		if fatal {
			return nil, errors.Wrap(err, what)
		}
		log.Warnf("%s: %v", what, err)
		return nil, nil
	}
	status, serr := js.Get("status").String()
	if status != "ok" {
		if serr != nil {
			return nil, errors.Errorf("%s - bad json response", what)
		}
		if fatal {
			return nil, errors.Errorf("%s - %s", what, status)
		}
		log.Warnf("%s - %s", what, status)
		return nil, nil
	}
	return js.Get("data"), nil
}

func (y *Youmaker) loadCategories(ctx *extractor.Ctx) map[int64]category {
	if y.categories != nil {
		return y.categories
	}
	y.categories = map[int64]category{}
	data, err := y.callAPI(ctx, "video/category/list", nil, "categories", false)
	if err != nil || data == nil {
		return y.categories
	}
	items, _ := data.Array()
	for i := range items {
		item := data.GetIndex(i)
		y.categories[item.Get("category_id").MustInt64()] = category{
			name:   item.Get("category_name").MustString(),
			parent: item.Get("parent_category_id").MustInt64(),
		}
	}
	return y.categories
}

// categoriesByID walks the tree up to the root, child last.
func (y *Youmaker) categoriesByID(ctx *extractor.Ctx, cid int64) []string {
	if cid == 0 {
		return nil
	}
	categories := y.loadCategories(ctx)
	var names []string
	for {
		item, ok := categories[cid]
		if !ok || contains(names, item.name) {
			break
		}
		names = append([]string{item.name}, names...)
		cid = item.parent
	}
	return names
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (y *Youmaker) subtitles(ctx *extractor.Ctx, systemID string) map[string][]extractor.Subtitle {
	if systemID == "" {
		return nil
	}
	data, err := y.callAPI(ctx, "video/subtitle",
		url.Values{"systemid": {systemID}}, "subtitle info", false)
	if err != nil || data == nil {
		return nil
	}
	subtitles := map[string][]extractor.Subtitle{}
	items, _ := data.Array()
	for i := range items {
		item := data.GetIndex(i)
		lang := item.Get("language_code").MustString()
		subURL := item.Get("url").MustString()
		if lang == "" || subURL == "" {
			continue
		}
		subtitles[lang] = append(subtitles[lang], extractor.Subtitle{
			URL: y.assetURL() + "/" + subURL,
		})
	}
	if len(subtitles) == 0 {
		return nil
	}
	return subtitles
}

func (y *Youmaker) handleFormats(ctx *extractor.Ctx, playlistURL, videoUID string) []extractor.Format {
	var formats []extractor.Format
	for count, candidate := range tryServerURLs(playlistURL) {
		if count > 0 {
			log.WithField("id", videoUID).
				Warnf("missing m3u8 info, trying alternative server (%d)", count)
		}
		hlsFormats, err := ctx.ParseM3U8Formats(y.fixURL(candidate), nil, "hls")
		if err != nil {
			log.WithField("url", candidate).Debugf("m3u8 fetch failed: %v", err)
			continue
		}
		if len(hlsFormats) > 0 {
			formats = hlsFormats
			break
		}
	}

	// some playlists announce the same rendition twice
	seen := make(map[string]bool, len(formats))
	deduped := formats[:0]
	for _, f := range formats {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		deduped = append(deduped, f)
	}
	formats = deduped

	extractor.SortFormats(formats)
	for i := range formats {
		if formats[i].Height > 0 {
			formats[i].FormatID = fmt.Sprintf("%dp", formats[i].Height)
		}
	}
	return formats
}

func (y *Youmaker) videoEntry(ctx *extractor.Ctx, info *simplejson.Json) (*extractor.Info, error) {
	videoUID, err := info.Get("video_uid").String()
	if err != nil {
		return nil, errors.New("video_uid not found in video metadata")
	}
	title, err := info.Get("title").String()
	if err != nil {
		return nil, errors.New("title not found in video metadata")
	}

	videoInfo := info.Get("data")
	var tags []string
	if tagStr := info.Get("tag").MustString(); tagStr != "" {
		for _, tag := range strings.Split(strings.Trim(tagStr, "[]"), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	playlistURL := videoInfo.GetPath("videoAssets", "Stream").MustString()
	isLive := false
	var releaseTime int64
	if info.Get("live").MustBool() && playlistURL == "" {
		status, err := ctx.GetJSON(y.liveURL(videoUID, "status"), nil)
		if err != nil {
			return nil, errors.New("this live event was not scheduled yet")
		}
		isLive = true
		playlistURL = y.liveURL(videoUID, "playlist.m3u8")
		releaseTime = extractor.ParseISO8601(status.Get("data.start_time").String())
	}

	formats := y.handleFormats(ctx, playlistURL, videoUID)
	duration := videoInfo.Get("duration").MustFloat64()
	extractor.EstimateFilesizes(formats, duration)

	if isLive && len(formats) == 0 {
		return nil, errors.New("this live event has not started yet")
	}

	entry := &extractor.Info{
		ID:          videoUID,
		Title:       title,
		Description: info.Get("description").MustString(),
		Formats:     formats,
		IsLive:      isLive,
		Timestamp:   extractor.ParseISO8601(info.Get("uploaded_at").MustString()),
		ReleaseTime: releaseTime,
		Uploader:    info.Get("uploaded_by").MustString(),
		Duration:    duration,
		Categories:  y.categoriesByID(ctx, info.Get("category_id").MustInt64()),
		Tags:        tags,
		Channel:     info.Get("channel_name").MustString(),
		ChannelID:   info.Get("channel_uid").MustString(),
		Thumbnail:   info.Get("thumbmail_path").MustString(),
		ViewCount:   info.Get("click").MustInt64(),
		WebpageURL:  y.baseURL() + "/video/" + videoUID,
		Subtitles:   y.subtitles(ctx, info.Get("system_id").MustString()),
	}
	if entry.ChannelID != "" {
		entry.ChannelURL = y.baseURL() + "/channel/" + entry.ChannelID
	}
	return entry, nil
}

func (y *Youmaker) videoEntryByID(ctx *extractor.Ctx, uid string) (*extractor.Info, error) {
	info := y.cache[uid]
	if info == nil {
		var err error
		info, err = y.callAPI(ctx, "video/metadata/"+uid, nil, "video metadata", true)
		if err != nil {
			return nil, err
		}
	}
	return y.videoEntry(ctx, info)
}

func (y *Youmaker) pagedPlaylistEntries(ctx *extractor.Ctx, uid string) ([]*extractor.Info, error) {
	var entries []*extractor.Info
	maxPages := extractor.MaxPages(ctx, 10)
	for page := 0; page < maxPages; page++ {
		offset := page * requestLimit
		what := fmt.Sprintf("playlist entries %d-%d", offset+1, offset+requestLimit)
		data, err := y.callAPI(ctx, "playlist/video", url.Values{
			"playlist_uid": {uid},
			"offset":       {strconv.Itoa(offset)},
			"limit":        {strconv.Itoa(requestLimit)},
		}, what, page == 0)
		if err != nil {
			return nil, err
		}
		if data == nil {
			break
		}
		items, err := data.Array()
		if err != nil {
			return nil, errors.New("unexpected playlist entries")
		}
		for i := range items {
			item := data.GetIndex(i)
			videoUID := item.Get("video_uid").MustString()
			entry := extractor.URLResult(y.baseURL() + "/video/" + videoUID)
			entry.ID = videoUID
			entry.Title = item.Get("video_title").MustString()
			entries = append(entries, entry)
		}
		if len(items) < requestLimit {
			break
		}
	}
	return entries, nil
}

func (y *Youmaker) pagedChannelEntries(ctx *extractor.Ctx, uid string) ([]*extractor.Info, error) {
	var entries []*extractor.Info
	maxPages := extractor.MaxPages(ctx, 10)
	for page := 0; page < maxPages; page++ {
		offset := page * requestLimit
		what := fmt.Sprintf("channel entries %d-%d", offset+1, offset+requestLimit)
		data, err := y.callAPI(ctx, "video/channel/"+uid, url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(requestLimit)},
		}, what, page == 0)
		if err != nil {
			return nil, err
		}
		if data == nil {
			break
		}
		items, err := data.Array()
		if err != nil {
			return nil, errors.New("unexpected channel entries")
		}
		for i := range items {
			item := data.GetIndex(i)
			videoUID := item.Get("video_uid").MustString()
			y.cache[videoUID] = item
			entry := extractor.URLResult(y.baseURL() + "/video/" + videoUID)
			entry.ID = videoUID
			entry.Title = item.Get("title").MustString()
			entries = append(entries, entry)
		}
		if len(items) < requestLimit {
			break
		}
	}
	return entries, nil
}

func (y *Youmaker) playlistByID(ctx *extractor.Ctx, uid string) (*extractor.Info, error) {
	y.loadCategories(ctx)
	info, err := y.callAPI(ctx, "playlist/"+uid, nil, "playlist metadata", true)
	if err != nil {
		return nil, err
	}
	playlistUID, err := info.Get("playlist_uid").String()
	if err != nil {
		return nil, errors.New("playlist_uid not found in playlist metadata")
	}
	entries, err := y.pagedPlaylistEntries(ctx, playlistUID)
	if err != nil {
		return nil, err
	}
	return extractor.PlaylistResult(playlistUID, info.Get("name").MustString(), entries), nil
}

func (y *Youmaker) channelByID(ctx *extractor.Ctx, uid string) (*extractor.Info, error) {
	y.loadCategories(ctx)
	info, err := y.callAPI(ctx, "video/channel/metadata/"+uid, nil, "channel metadata", true)
	if err != nil {
		return nil, err
	}
	channelUID, err := info.Get("channel_uid").String()
	if err != nil {
		return nil, errors.New("channel_uid not found in channel metadata")
	}
	entries, err := y.pagedChannelEntries(ctx, channelUID)
	if err != nil {
		return nil, err
	}
	playlist := extractor.PlaylistResult(channelUID, info.Get("name").MustString(), entries)
	playlist.Description = info.Get("description").MustString()
	return playlist, nil
}

func (y *Youmaker) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "" {
		y.protocol = parsed.Scheme
	}

	if m := extractor.NamedGroups(videoPathPattern, parsed.Path); m != nil {
		return y.videoEntryByID(ctx, m["uid"])
	}
	if m := extractor.NamedGroups(playlistPathPattern, parsed.Path); m != nil {
		return y.playlistByID(ctx, m["uid"])
	}
	if m := extractor.NamedGroups(channelPathPattern, parsed.Path); m != nil {
		return y.channelByID(ctx, m["uid"])
	}
	return nil, errors.Errorf("unsupported url %s", rawurl)
}
