package dtube

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/probe"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const Version = "2022.10.28"

var (
	videoPattern = regexp.MustCompile(
		`https?://(?:www\.)?d\.tube/(?:#!/)?v/(?P<id>[0-9a-z.-]+/[\w-]+)`)
	userPattern = regexp.MustCompile(
		`https?://(?:www\.)?d\.tube/(?:#!/)?c/(?P<id>[0-9a-z.-]+)`)
	queryPattern = regexp.MustCompile(
		`https?://(?:www\.)?d\.tube/(?:#!/)?(?P<id>hotvideos|trendingvideos|newvideos)`)
	searchPattern = regexp.MustCompile(
		`https?://(?:www\.)?d\.tube/(?:#!/)?[st]/(?P<id>[^?]+)`)

	gatewayPathPattern = regexp.MustCompile(`.*/(?:btfs|ipfs)$`)
	videoHashPattern   = regexp.MustCompile(`^video(\d*)hash$`)
)

// The content id alone does not say which gateway still has the file,
// every candidate gets probed until one answers.
func defaultGateways() map[string][]string {
	return map[string][]string{
		"ipfs": {"https://player.d.tube/ipfs", "https://ipfs.d.tube/ipfs", "https://ipfs.io/ipfs"},
		"btfs": {"https://player.d.tube/btfs", "https://btfs.d.tube/btfs"},
		"sia":  {"https://siasky.net"},
	}
}

var providerOrder = []string{"ipfs", "btfs", "sia"}

// redirectTemplates maps the hosted-elsewhere markers to real urls.
// Fixed order keeps dispatch deterministic when a video lists several.
var redirectTemplates = []struct{ provider, template string }{
	{"vimeo", "https://vimeo.com/%s"},
	{"twitch", "https://www.twitch.tv/%s"},
	{"youtube", "%s"},
	{"facebook", "https://www.facebook.com/video.php?v=%s"},
	{"dailymotion", "https://www.dailymotion.com/video/%s"},
}

func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:    "dtube",
			Version: Version,
			Pattern: videoPattern,
			Factory: func() extractor.Extractor { return &DTube{} },
		},
		{
			Name:    "dtubeuser",
			Version: Version,
			Pattern: userPattern,
			Factory: func() extractor.Extractor { return &DTubeUser{} },
		},
		{
			Name:    "dtubequery",
			Version: Version,
			Pattern: queryPattern,
			Factory: func() extractor.Extractor { return &DTubeQuery{} },
		},
		{
			Name:    "dtubesearch",
			Version: Version,
			Pattern: searchPattern,
			Factory: func() extractor.Extractor { return &DTubeSearch{} },
		},
	}
}

type providerFiles struct {
	gateway string
	vid     map[string]string
}

func parseFiles(files gjson.Result) map[string]providerFiles {
	out := map[string]providerFiles{}
	files.ForEach(func(k, v gjson.Result) bool {
		pf := providerFiles{gateway: v.Get("gw").String(), vid: map[string]string{}}
		v.Get("vid").ForEach(func(res, cid gjson.Result) bool {
			pf.vid[res.String()] = cid.String()
			return true
		})
		out[k.String()] = pf
		return true
	})
	return out
}

// fallbackFiles recovers the table from the legacy videoNNNhash keys.
func fallbackFiles(info gjson.Result) map[string]providerFiles {
	out := map[string]providerFiles{}
	for _, provider := range []string{"ipfs", "btfs"} {
		info.Get(provider).ForEach(func(k, v gjson.Result) bool {
			m := videoHashPattern.FindStringSubmatch(k.String())
			if m == nil {
				return true
			}
			resolution := m[1]
			if resolution == "" {
				resolution = "src"
			}
			pf, ok := out[provider]
			if !ok {
				pf = providerFiles{vid: map[string]string{}}
			}
			pf.vid[resolution] = v.String()
			out[provider] = pf
			return true
		})
	}
	return out
}

func buildFormats(ctx *extractor.Ctx, files map[string]providerFiles) []extractor.Format {
	var provider string
	for _, name := range providerOrder {
		if pf, ok := files[name]; ok && len(pf.vid) > 0 {
			provider = name
			break
		}
	}
	if provider == "" {
		return nil
	}
	pf := files[provider]

	gateway := strings.TrimRight(pf.gateway, "/")
	if gateway != "" && !gatewayPathPattern.MatchString(gateway) {
		gateway += "/" + provider
	}
	loop := make([]string, 0, 4)
	if gateway != "" {
		loop = append(loop, gateway)
	}
	for _, gw := range defaultGateways()[provider] {
		if gw != gateway {
			loop = append(loop, gw)
		}
	}

	ids := make([]string, 0, len(pf.vid))
	for id := range pf.vid {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var formats []extractor.Format
	for _, formatID := range ids {
		contentID := pf.vid[formatID]
		found := false
		// dead gateways stay removed for the remaining formats
		for len(loop) > 0 {
			gw := loop[0]
			log.Debugf("checking media via gateway %q", gw)
			probed, _ := probe.Media(ctx, gw+"/"+contentID, nil)
			if probed.Filesize > 0 {
				probed.FormatID = formatID
				formats = append(formats, probed)
				found = true
				break
			}
			loop = loop[1:]
		}
		if !found && len(loop) == 0 {
			break
		}
	}
	extractor.SortFormats(formats)
	return formats
}

func avalonAPI(ctx *extractor.Ctx, endpoint string) (gjson.Result, error) {
	api := ctx.GetAPIHost("https://avalon.d.tube")
	return ctx.GetJSON(api+"/"+endpoint, nil)
}

// steemitAPI rebuilds an avalon-shaped result from the blockchain
// record that predates the avalon backend.
func steemitAPI(ctx *extractor.Ctx, videoID string) (gjson.Result, error) {
	api := ctx.GetAPIHost("https://api.steemit.com")
	request := map[string]interface{}{
		"id":      0,
		"jsonrpc": "2.0",
		"method":  "call",
		"params":  []interface{}{"condenser_api", "get_state", []string{"/dtube/@" + videoID}},
	}
	result, err := ctx.PostJSON(api+"/", nil, request)
	if err != nil {
		return gjson.Result{}, err
	}
	content := result.Get("result").Get("content").Map()[videoID]
	metadata := gjson.Parse(content.Get("json_metadata").String())
	if !metadata.Get("video").Exists() {
		return gjson.Result{}, errors.New("steemit metadata not available")
	}

	tags := map[string]int{}
	metadata.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		tags[tag.String()] = 0
		return true
	})
	synthesized, err := json.Marshal(map[string]interface{}{
		"_id":    videoID,
		"author": content.Get("author").String(),
		"link":   content.Get("permlink").String(),
		"json":   json.RawMessage(metadata.Get("video").Raw),
		"ts":     extractor.ParseISO8601(content.Get("last_update").String()) * 1000,
		"tags":   tags,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(synthesized), nil
}

func entryFromAvalon(ctx *extractor.Ctx, result gjson.Result, fromPlaylist bool) *extractor.Info {
	videoID := result.Get("author").String() + "/" + result.Get("link").String()
	info := result.Get("json")

	redirectURL := ""
	for _, rt := range redirectTemplates {
		if value := info.Get("files." + rt.provider); value.Exists() {
			redirectURL = fmt.Sprintf(rt.template, value.String())
			break
		}
	}
	if redirectURL == "" {
		redirectURL = info.Get("url").String()
	}

	var tags []string
	if tagsResult := result.Get("tags"); tagsResult.IsObject() {
		tagsResult.ForEach(func(k, _ gjson.Result) bool {
			tags = append(tags, k.String())
			return true
		})
	} else if s := tagsResult.String(); s != "" {
		tags = append(tags, s)
	}

	description := info.Get("desc").String()
	if description == "" {
		description = info.Get("description").String()
	}
	duration := info.Get("duration").Float()
	if duration == 0 {
		duration = extractor.ParseDuration(info.Get("dur").String())
	}

	entry := &extractor.Info{
		ID:          videoID,
		Title:       info.Get("title").String(),
		Description: description,
		Thumbnail:   info.Get("thumbnailUrl").String(),
		Tags:        tags,
		Duration:    duration,
		Timestamp:   result.Get("ts").Int() / 1000,
		UploaderID:  result.Get("author").String(),
	}

	if fromPlaylist || redirectURL != "" {
		entry.Type = extractor.TypeURL
		entry.URL = redirectURL
		if entry.URL == "" {
			entry.URL = "https://d.tube/v/" + videoID
		}
		return entry
	}

	var files map[string]providerFiles
	if filesResult := info.Get("files"); filesResult.Exists() {
		files = parseFiles(filesResult)
	} else {
		files = fallbackFiles(info)
	}
	entry.Formats = buildFormats(ctx, files)
	entry.WebpageURL = "https://d.tube/v/" + videoID
	return entry
}

// DTube resolves single videos, probing the distributed gateways for a
// copy that still exists.
type DTube struct{}

func (d *DTube) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	videoID, ok := extractor.MatchID(videoPattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	result, err := avalonAPI(ctx, "content/"+videoID)
	if err != nil || !result.Get("json").Exists() {
		if err != nil {
			log.WithField("id", videoID).Warnf("unable to download avalon metadata: %v", err)
		}
		result, err = steemitAPI(ctx, videoID)
		if err != nil {
			return nil, err
		}
	}
	return entryFromAvalon(ctx, result, false), nil
}

func iterEntries(ctx *extractor.Ctx, endpoint string) []*extractor.Info {
	const pageSize = 50
	var entries []*extractor.Info
	lastID := ""
	maxPages := extractor.MaxPages(ctx, 10)
	for page := 1; page <= maxPages; page++ {
		ep := endpoint
		if lastID != "" {
			ep = endpoint + "/" + lastID
		}
		result, err := avalonAPI(ctx, ep)
		if err != nil {
			log.WithField("page", page).Warnf("unable to download avalon metadata: %v", err)
			break
		}
		items := result.Array()
		start := 0
		if lastID != "" && len(items) > 0 && items[0].Get("_id").String() == lastID {
			start = 1
		}
		for _, item := range items[start:] {
			entries = append(entries, entryFromAvalon(ctx, item, true))
		}
		if len(items) < pageSize {
			break
		}
		lastID = items[len(items)-1].Get("_id").String()
	}
	return entries
}

// DTubeUser lists a channel via the avalon blog endpoint, which pages
// by the id of the last seen entry rather than an offset.
type DTubeUser struct{}

func (d *DTubeUser) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	userID, ok := extractor.MatchID(userPattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	entries := iterEntries(ctx, "blog/"+userID)
	return extractor.PlaylistResult(userID, userID, entries), nil
}

// DTubeQuery serves the hot, trending and new front page feeds.
type DTubeQuery struct{}

func (d *DTubeQuery) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	queryID, ok := extractor.MatchID(queryPattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	entries := iterEntries(ctx, strings.TrimSuffix(queryID, "videos"))
	return extractor.PlaylistResult(queryID, queryID, entries), nil
}

// DTubeSearch queries the elasticsearch index, /t/ urls restrict the
// match to tags from the last year.
type DTubeSearch struct{}

func unquotePlus(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func (d *DTubeSearch) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	quoted, ok := extractor.MatchID(searchPattern, rawurl)
	if !ok {
		return nil, errors.Errorf("unsupported url %s", rawurl)
	}
	term := unquotePlus(quoted)

	const pageSize = 30
	values := url.Values{}
	if strings.Contains(rawurl, "/t/") {
		cutoff := time.Now().Add(-52 * 7 * 24 * time.Hour).UnixMilli()
		values.Set("q", fmt.Sprintf("(NOT pa:*) AND ts:>=%d AND tags:%s", cutoff, term))
		values.Set("sort", "ups:desc")
	} else {
		values.Set("q", "(NOT pa:*) AND "+term)
	}
	values.Set("size", strconv.Itoa(pageSize))

	api := ctx.GetAPIHost("https://search.d.tube")
	var entries []*extractor.Info
	maxPages := extractor.MaxPages(ctx, 10)
	for page := 0; page < maxPages; page++ {
		values.Set("from", strconv.Itoa(page*pageSize))
		result, err := ctx.GetJSON(api+"/avalon.contents/_search?"+values.Encode(), nil)
		if err != nil {
			log.WithField("term", term).Warnf("search failed: %v", err)
			break
		}
		hits := result.Get("hits.hits").Array()
		for _, hit := range hits {
			entries = append(entries, entryFromAvalon(ctx, hit.Get("_source"), true))
		}
		if len(hits) < pageSize {
			break
		}
	}
	return extractor.PlaylistResult(quoted, term, entries), nil
}
