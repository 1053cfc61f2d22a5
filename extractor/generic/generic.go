package generic

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/probe"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var directTypePattern = regexp.MustCompile(`^(?:video|audio)/`)

var hlsTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

// Generic is the last resort handler behind every registered site:
// direct media urls, pages with structured data, and pages embedding
// a site some other descriptor knows how to read.
type Generic struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Generic {
	return &Generic{reg: reg}
}

// Suitable accepts any web url, which is why this descriptor must sit
// at the lowest precedence.
func Suitable(rawurl string) bool {
	return strings.HasPrefix(rawurl, "http://") || strings.HasPrefix(rawurl, "https://")
}

// Descriptor wires the fallback into a registry that is still being
// built; resolve breaks the cycle by running at dispatch time.
func Descriptor(resolve func() *registry.Registry) registry.Descriptor {
	return registry.Descriptor{
		Name:     "generic",
		Suitable: Suitable,
		Factory:  func() extractor.Extractor { return New(resolve()) },
	}
}

func urlBasename(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	if u.Path == "" || u.Path == "/" {
		return u.Host
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// jsonLDVideo digs a VideoObject out of the structured data blocks,
// including ones nested under @graph.
func jsonLDVideo(doc *goquery.Document) gjson.Result {
	var video gjson.Result
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(
		func(_ int, sel *goquery.Selection) bool {
			data := gjson.Parse(sel.Text())
			candidates := []gjson.Result{data}
			if data.IsArray() {
				candidates = data.Array()
			} else if graph := data.Get("@graph"); graph.IsArray() {
				candidates = graph.Array()
			}
			for _, item := range candidates {
				if item.Get("@type").String() == "VideoObject" {
					video = item
					return false
				}
			}
			return true
		})
	return video
}

func iframeSources(doc *goquery.Document) []string {
	base := ""
	if doc.Url != nil {
		base = doc.Url.String()
	}
	var sources []string
	doc.Find("iframe[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		if base != "" {
			src = extractor.JoinURL(base, src)
		}
		sources = append(sources, src)
	})
	return dedupe(sources)
}

func (g *Generic) pageMeta(doc *goquery.Document, info *extractor.Info) {
	if title := extractor.OGSearch(doc, "title"); title != "" {
		info.Title = title
	} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		info.Title = title
	}
	if desc := extractor.OGSearch(doc, "description"); desc != "" {
		info.Description = desc
	} else {
		info.Description = extractor.MetaContent(doc, "description")
	}
	info.Thumbnail = extractor.OGSearch(doc, "image")
}

// claimed filters urls down to the ones some registered descriptor
// dispatches, skipping the fallback itself.
func (g *Generic) claimed(urls []string) []string {
	if g.reg == nil {
		return nil
	}
	var out []string
	for _, u := range urls {
		if d, ok := g.reg.Dispatch(u); ok && d.Name != "generic" {
			out = append(out, u)
		}
	}
	return out
}

func urlResults(urls []string, id string, meta func(*extractor.Info)) *extractor.Info {
	if len(urls) == 1 {
		entry := extractor.URLResult(urls[0])
		meta(entry)
		return entry
	}
	entries := make([]*extractor.Info, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, extractor.URLResult(u))
	}
	playlist := extractor.PlaylistResult(id, "", entries)
	meta(playlist)
	return playlist
}

// fetchDocument loads the page through the response cache: the
// fallback tends to see a url again when a claimed embed re-enters it.
func fetchDocument(ctx *extractor.Ctx, rawurl string) (*goquery.Document, error) {
	data, err := ctx.CachedGet(rawurl, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	doc.Url, _ = url.Parse(rawurl)
	return doc, nil
}

func (g *Generic) directMedia(ctx *extractor.Ctx, rawurl, videoID string) (*extractor.Info, bool, error) {
	res, err := ctx.HttpHead(rawurl, nil)
	if err != nil {
		return nil, false, nil
	}
	ctype := strings.ToLower(res.Header.Get("Content-Type"))
	if i := strings.Index(ctype, ";"); i >= 0 {
		ctype = strings.TrimSpace(ctype[:i])
	}
	switch {
	case hlsTypes[ctype] || strings.HasSuffix(strings.ToLower(res.Request.URL.Path), ".m3u8"):
		formats, err := ctx.ParseM3U8Formats(rawurl, nil, "hls")
		if err != nil {
			return nil, false, err
		}
		return &extractor.Info{ID: videoID, Title: videoID, Formats: formats}, true, nil
	case directTypePattern.MatchString(ctype):
		log.WithField("url", rawurl).Debug("direct media url")
		format, duration := probe.Media(ctx, rawurl, nil)
		if format.FormatID == "" {
			format.FormatID = "direct"
		}
		return &extractor.Info{
			ID:       videoID,
			Title:    videoID,
			Duration: duration,
			Formats:  []extractor.Format{format},
		}, true, nil
	}
	return nil, false, nil
}

func (g *Generic) Extract(ctx *extractor.Ctx, rawurl string) (*extractor.Info, error) {
	videoID := urlBasename(rawurl)

	if info, ok, err := g.directMedia(ctx, rawurl, videoID); err != nil {
		return nil, err
	} else if ok {
		return info, nil
	}

	doc, err := fetchDocument(ctx, rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "fetch page")
	}
	webpage, err := doc.Html()
	if err != nil {
		return nil, err
	}

	// registered sites know their own embed markup best
	if g.reg != nil {
		var found []string
		for _, d := range g.reg.All() {
			if d.Embeds == nil {
				continue
			}
			if embeds := d.Embeds(webpage); len(embeds) > 0 {
				log.WithField("site", d.Name).Debugf("found %d embeds", len(embeds))
				found = append(found, embeds...)
			}
		}
		if found = dedupe(found); len(found) > 0 {
			return urlResults(found, videoID, func(info *extractor.Info) {
				g.pageMeta(doc, info)
			}), nil
		}
	}

	if ld := jsonLDVideo(doc); ld.Exists() {
		info := &extractor.Info{
			ID:          videoID,
			Title:       ld.Get("name").String(),
			Description: ld.Get("description").String(),
			Thumbnail:   ld.Get("thumbnailUrl").String(),
			Timestamp:   extractor.ParseISO8601(ld.Get("uploadDate").String()),
			Duration:    extractor.ParseISO8601Duration(ld.Get("duration").String()),
		}
		if info.Title == "" {
			g.pageMeta(doc, info)
		}
		if contentURL := ld.Get("contentUrl").String(); contentURL != "" {
			format, _ := probe.Media(ctx, contentURL, nil)
			if format.FormatID == "" {
				format.FormatID = "direct"
			}
			info.Formats = []extractor.Format{format}
			return info, nil
		}
		if embedURL := ld.Get("embedUrl").String(); embedURL != "" {
			if claimed := g.claimed([]string{embedURL}); len(claimed) == 1 {
				entry := extractor.URLResult(claimed[0])
				entry.Title = info.Title
				return entry, nil
			}
		}
	}

	for _, prop := range []string{"video:secure_url", "video:url", "video"} {
		if videoURL := extractor.OGSearch(doc, prop); videoURL != "" {
			if claimed := g.claimed([]string{videoURL}); len(claimed) == 1 {
				return urlResults(claimed, videoID, func(info *extractor.Info) {
					g.pageMeta(doc, info)
				}), nil
			}
			format, duration := probe.Media(ctx, videoURL, nil)
			if format.FormatID == "" {
				format.FormatID = "direct"
			}
			info := &extractor.Info{ID: videoID, Duration: duration,
				Formats: []extractor.Format{format}}
			g.pageMeta(doc, info)
			if info.Title == "" {
				info.Title = videoID
			}
			return info, nil
		}
	}

	if claimed := g.claimed(iframeSources(doc)); len(claimed) > 0 {
		return urlResults(claimed, videoID, func(info *extractor.Info) {
			g.pageMeta(doc, info)
		}), nil
	}

	return nil, errors.Errorf("no media found on %s", rawurl)
}
