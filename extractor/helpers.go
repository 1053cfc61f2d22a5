package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MatchID pulls the "id" capture group out of a site's url pattern.
func MatchID(pattern *regexp.Regexp, rawurl string) (string, bool) {
	groups := NamedGroups(pattern, rawurl)
	id, ok := groups["id"]
	return id, ok
}

func NamedGroups(pattern *regexp.Regexp, s string) map[string]string {
	match := pattern.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	groups := make(map[string]string, 4)
	for i, name := range pattern.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}
	return groups
}

// EstimateFilesize derives an approximate byte size from total bitrate
// (kbit/s) and duration, for sites that report neither.
func EstimateFilesize(tbr float64, duration float64) int64 {
	if tbr <= 0 || duration <= 0 {
		return 0
	}
	return int64(128 * tbr * duration)
}

// EstimateFilesizes fills in FilesizeApprox for every format that has a
// bitrate but no size yet.
func EstimateFilesizes(formats []Format, duration float64) {
	if duration <= 0 {
		return
	}
	for i := range formats {
		f := &formats[i]
		if f.Filesize != 0 || f.FilesizeApprox != 0 {
			continue
		}
		f.FilesizeApprox = EstimateFilesize(f.TBR, duration)
	}
}

func ParseISO8601(s string) int64 {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func JoinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

var isoDurationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISO8601Duration reads the PT4M13S shape structured data uses.
func ParseISO8601Duration(s string) float64 {
	m := isoDurationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	factors := []float64{365 * 86400, 7 * 86400, 86400, 3600, 60, 1}
	total := 0.0
	found := false
	for i, factor := range factors {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0
		}
		total += n * factor
		found = true
	}
	if !found {
		return 0
	}
	return total
}
