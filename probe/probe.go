package probe

import (
	"fmt"
	"os/exec"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/utils"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	probeOnce      sync.Once
	probeAvailable bool

	profileNumRe  = regexp.MustCompile(`Profile\s+(\d+)`)
	frameRateRe   = regexp.MustCompile(`(\d+)(?:/(\d+))?`)
	contentTypeRe = regexp.MustCompile(`^(?:audio|video|image)/(?:[a-z]+[-.])*([a-zA-Z1-9]{2,})(?:$|;)`)
)

// Available reports whether ffprobe can be found, checked once.
func Available() bool {
	probeOnce.Do(func() {
		_, err := exec.LookPath("ffprobe")
		probeAvailable = err == nil
	})
	return probeAvailable
}

type profileTuple struct {
	profile    int
	constraint int
	level      int
}

// codecName builds an RFC 6381 style codec tag from one ffprobe
// stream. Unknown profiles fall back to the bare codec name.
func codecName(stream gjson.Result) string {
	formats := map[string]string{"h264": "avc1", "aac": "mp4a", "mpeg4": "mp4v"}
	profiles := map[string]profileTuple{
		"Simple Profile":       {0x14, 0, 3},
		"Baseline":             {0x42, 0, 0},
		"Constrained Baseline": {0x42, 0x40, 0},
		"LC":                   {0x28, 0, 2},
		"HE-AAC":               {0x28, 0, 5},
		"Main":                 {0x4D, 0x40, 0},
		"High":                 {0x64, 0, 0},
	}

	cname := stream.Get("codec_name").String()
	if cname == "" {
		cname = "none"
	}
	fmtName, ok := formats[cname]
	if !ok {
		fmtName = cname
	}
	profileName := stream.Get("profile").String()
	var profile, constraint, level int
	known := false
	if m := profileNumRe.FindStringSubmatch(profileName); m != nil {
		profile, _ = strconv.Atoi(m[1])
		known = true
	} else if p, ok := profiles[profileName]; ok {
		profile, constraint, level = p.profile, p.constraint, p.level
		known = true
	}
	if l := int(stream.Get("level").Int()); l != 0 {
		level = l
	}
	if !known || level < 0 {
		return cname
	}
	if fmtName == "avc1" {
		return fmt.Sprintf("%s.%02x%02x%02x", fmtName, profile, constraint, level)
	}
	return fmt.Sprintf("%s.%d.%d", fmtName, profile, level)
}

// determineBitrate returns kbit/s from a stream or format node.
func determineBitrate(info gjson.Result) float64 {
	for _, path := range []string{"tags.variant_bitrate", "bit_rate"} {
		v := info.Get(path)
		if !v.Exists() {
			continue
		}
		if n, err := strconv.ParseFloat(v.String(), 64); err == nil && n > 0 {
			return n / 1000
		}
	}
	return 0
}

func parseFPS(vStream gjson.Result) float64 {
	raw := vStream.Get("r_frame_rate").String()
	m := frameRateRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	nom, _ := strconv.ParseFloat(m[1], 64)
	den := 1.0
	if m[2] != "" {
		den, _ = strconv.ParseFloat(m[2], 64)
	}
	if den == 0 {
		return 0
	}
	return float64(int(nom/den + 0.5))
}

// parseStreams condenses an ffprobe metadata object into one format:
// the best video stream, the best audio stream, container ext and the
// bitrate totals.
func parseStreams(metadata gjson.Result) extractor.Format {
	streams := metadata.Get("streams").Array()
	sort.SliceStable(streams, func(i, j int) bool {
		hi, hj := streams[i].Get("height").Int(), streams[j].Get("height").Int()
		if hi != hj {
			return hi > hj
		}
		return determineBitrate(streams[i]) > determineBitrate(streams[j])
	})
	var vStream, aStream gjson.Result
	for _, stream := range streams {
		switch stream.Get("codec_type").String() {
		case "video":
			if !vStream.Exists() {
				vStream = stream
			}
		case "audio":
			if !aStream.Exists() {
				aStream = stream
			}
		}
	}

	hasVideo := vStream.Exists()
	extensionMap := map[string]string{
		"matroska": "webm",
		"asf":      "wmv",
		"hls":      "mp4",
		"dash":     "mp4",
		"mp4":      "mp4",
		"m4a":      "m4a",
		"mpegts":   "ts",
		"mpeg":     "mpg",
		"jpeg":     "jpg",
	}
	if !hasVideo {
		extensionMap["hls"] = "m4a"
		extensionMap["dash"] = "m4a"
		extensionMap["mp4"] = ""
	}
	formatName := strings.ReplaceAll(metadata.Get("format.format_name").String(), "_pipe", "")
	extensions := strings.Split(formatName, ",")
	extension := extensions[0]
	for _, ext := range extensions {
		if candidate := extensionMap[ext]; candidate != "" {
			extension = candidate
			break
		}
	}

	abr := determineBitrate(aStream)
	vbr := determineBitrate(vStream)
	tbr := determineBitrate(metadata.Get("format"))
	if tbr == 0 {
		switch {
		case abr > 0 && vbr > 0:
			tbr = abr + vbr
		case !hasVideo && abr > 0:
			tbr = abr
		case !aStream.Exists() && vbr > 0:
			tbr = vbr
		}
	}

	format := extractor.Format{
		Ext:    extension,
		ACodec: codecName(aStream),
		VCodec: codecName(vStream),
		FPS:    parseFPS(vStream),
		TBR:    tbr,
		VBR:    vbr,
		ABR:    abr,
		Height: int(vStream.Get("height").Int()),
		Width:  int(vStream.Get("width").Int()),
	}
	if name := metadata.Get("format.format_name").String(); name != "hls" && name != "dash" {
		format.Filesize = metadata.Get("format.size").Int()
	}
	return format
}

// FFProbeMedia inspects a media url with ffprobe.
func FFProbeMedia(mediaURL string, headers map[string]string, timeoutSec float64) (extractor.Format, float64, error) {
	args := []string{
		"-hide_banner",
		"-show_error", "-show_format", "-show_streams",
		"-print_format", "json",
		"-fflags", "+ignidx",
		"-timeout", strconv.Itoa(int(timeoutSec * 1e6)),
	}
	if len(headers) > 0 {
		lines := make([]string, 0, len(headers))
		for k, v := range headers {
			lines = append(lines, k+": "+v)
		}
		sort.Strings(lines)
		args = append(args, "-headers", strings.Join(lines, "\r\n")+"\r\n")
	}
	args = append(args, mediaURL)
	out, err := utils.ExecOutput("ffprobe", args...)
	if err != nil {
		return extractor.Format{}, 0, err
	}
	metadata := gjson.ParseBytes(out)
	if errMsg := metadata.Get("error.string").String(); errMsg != "" {
		return extractor.Format{}, 0, fmt.Errorf("ffprobe failed: %s", errMsg)
	}
	format := parseStreams(metadata)
	format.URL = mediaURL
	duration := metadata.Get("format.duration").Float()
	return format, duration, nil
}

// DetermineExt guesses an extension from the url path.
func DetermineExt(mediaURL string, defaultExt string) string {
	trimmed := mediaURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.TrimPrefix(path.Ext(trimmed), ".")
	if ext == "" || len(ext) > 5 {
		return defaultExt
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return defaultExt
		}
	}
	return ext
}

// HeadProbeMedia checks a media url with a HEAD request, pulling ext
// and filesize out of the response headers.
func HeadProbeMedia(ctx *extractor.Ctx, mediaURL string, headers map[string]string) extractor.Format {
	format := extractor.Format{
		URL: mediaURL,
		Ext: DetermineExt(mediaURL, "unknown_video"),
	}
	res, err := ctx.HttpHead(mediaURL, headers)
	if err != nil {
		log.WithField("url", mediaURL).Debugf("head probe failed: %v", err)
		return format
	}
	ctype := res.Header.Get("Content-Type")
	if m := contentTypeRe.FindStringSubmatch(ctype); m != nil && format.Ext == "unknown_video" {
		format.Ext = strings.ToLower(m[1])
	}
	if size, err := strconv.ParseInt(res.Header.Get("Content-Length"), 10, 64); err == nil {
		format.Filesize = size
	}
	return format
}

// Media probes with ffprobe when installed, a HEAD request otherwise.
// The returned duration is zero for the HEAD path.
func Media(ctx *extractor.Ctx, mediaURL string, headers map[string]string) (extractor.Format, float64) {
	if Available() {
		format, duration, err := FFProbeMedia(mediaURL, headers, 2.0)
		if err == nil {
			return format, duration
		}
		log.WithField("url", mediaURL).Debugf("ffprobe failed, falling back to head probe: %v", err)
	}
	return HeadProbeMedia(ctx, mediaURL, headers), 0
}
