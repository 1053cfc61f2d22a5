package extractor

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentFromHTML parses already fetched markup, keeping the source
// url around for link resolution.
func DocumentFromHTML(html string, rawurl string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	doc.Url, _ = url.Parse(rawurl)
	return doc, nil
}

// OGSearch reads an Open Graph property from the page head.
func OGSearch(doc *goquery.Document, prop string) string {
	content, _ := doc.Find(`meta[property="og:` + prop + `"]`).Attr("content")
	if content == "" {
		content, _ = doc.Find(`meta[name="og:` + prop + `"]`).Attr("content")
	}
	return strings.TrimSpace(content)
}

func MetaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(`meta[name="` + name + `"]`).Attr("content")
	return strings.TrimSpace(content)
}

// CleanHTML flattens markup into plain text.
func CleanHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

// ParseDuration understands "HH:MM:SS", "MM:SS" and bare seconds.
func ParseDuration(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0.0
	for _, part := range parts {
		n := 0.0
		if part != "" {
			var err error
			n, err = strconv.ParseFloat(part, 64)
			if err != nil {
				return 0
			}
		}
		total = total*60 + n
	}
	return total
}
