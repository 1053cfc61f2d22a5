package extractor

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	m3u8Parser "github.com/etherlabsio/go-m3u8/m3u8"
	"github.com/pkg/errors"
)

// resolveSegUrl handles the three url shapes found in playlists:
// absolute, host-relative and path-relative.
func resolveSegUrl(parsedurl *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	hostUrl := parsedurl.Scheme + "://" + parsedurl.Host
	if strings.HasPrefix(ref, "/") {
		return hostUrl + ref
	}
	return hostUrl + path.Dir(parsedurl.Path) + "/" + ref
}

func splitCodecs(codecs string) (vcodec, acodec string) {
	vcodec, acodec = "none", "none"
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		base := c
		if idx := strings.Index(c, "."); idx > 0 {
			base = c[:idx]
		}
		switch base {
		case "avc1", "avc3", "hvc1", "hev1", "vp09", "vp9", "vp8", "av01":
			vcodec = c
		case "mp4a", "opus", "vorbis", "ac-3", "ec-3", "mp3":
			acodec = c
		}
	}
	return
}

// ParseM3U8Formats expands an HLS url into one format per variant
// stream. A media playlist (no variants) collapses to a single entry
// named after the prefix alone.
func (c *Ctx) ParseM3U8Formats(murl string, header map[string]string, prefix string) ([]Format, error) {
	body, err := c.HttpGet(murl, header)
	if err != nil {
		return nil, err
	}
	playlist, err := m3u8Parser.ReadString(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse m3u8")
	}
	parsedurl, err := url.Parse(murl)
	if err != nil {
		return nil, err
	}

	formats := make([]Format, 0, 4)
	for _, _item := range playlist.Items {
		item, ok := _item.(*m3u8Parser.PlaylistItem)
		if !ok {
			continue
		}
		format := Format{
			URL:      resolveSegUrl(parsedurl, item.URI),
			Ext:      "mp4",
			Protocol: "hls",
			Headers:  header,
		}
		if item.Width != nil {
			format.Width = *item.Width
		}
		if item.Height != nil {
			format.Height = *item.Height
		}
		if item.Bandwidth > 0 {
			format.TBR = float64(item.Bandwidth) / 1000
		}
		if item.AverageBandwidth != nil {
			format.TBR = float64(*item.AverageBandwidth) / 1000
		}
		if item.FrameRate != nil {
			format.FPS = *item.FrameRate
		}
		if item.Codecs != nil {
			format.VCodec, format.ACodec = splitCodecs(*item.Codecs)
		}
		name := ""
		if item.Name != nil {
			name = *item.Name
		}
		switch {
		case name != "":
			format.FormatID = prefix + "-" + name
		case format.Height > 0:
			format.FormatID = prefix + "-" + strconv.Itoa(format.Height) + "p"
		case format.TBR > 0:
			format.FormatID = prefix + "-" + strconv.Itoa(int(format.TBR))
		default:
			format.FormatID = prefix
		}
		formats = append(formats, format)
	}
	if len(formats) == 0 {
		// media playlist, a single rendition
		formats = append(formats, Format{
			FormatID: prefix,
			URL:      murl,
			Ext:      "mp4",
			Protocol: "hls",
			Headers:  header,
		})
	}
	SortFormats(formats)
	return formats, nil
}

// M3U8Duration sums the segment durations of a media playlist. Sites
// whose API reports no runtime (servustv lives in that camp) get it
// from the manifest instead. A playlist without an ENDLIST marker is
// still running, its length so far is not a duration.
func (c *Ctx) M3U8Duration(murl string, header map[string]string) float64 {
	body, err := c.HttpGet(murl, header)
	if err != nil {
		return 0
	}
	if !strings.Contains(string(body), "#EXT-X-ENDLIST") {
		return 0
	}
	playlist, err := m3u8Parser.ReadString(string(body))
	if err != nil {
		return 0
	}
	total := 0.0
	for _, _item := range playlist.Items {
		if item, ok := _item.(*m3u8Parser.SegmentItem); ok {
			total += item.Duration
		}
	}
	return total
}
