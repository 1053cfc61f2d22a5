package extractor

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
)

func TestEstimateFilesize(t *testing.T) {
	tests := []struct {
		name     string
		tbr      float64
		duration float64
		want     int64
	}{
		{"both", 192, 120, 2949120},
		{"no tbr", 0, 120, 0},
		{"no duration", 192, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateFilesize(tt.tbr, tt.duration); got != tt.want {
				t.Errorf("EstimateFilesize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchID(t *testing.T) {
	pattern := regexp.MustCompile(`https?://(?:www\.)?example\.org/watch/(?P<id>[\w-]+)`)
	tests := []struct {
		name   string
		url    string
		want   string
		wantOk bool
	}{
		{"plain", "https://example.org/watch/abc-123", "abc-123", true},
		{"www", "https://www.example.org/watch/xyz", "xyz", true},
		{"miss", "https://example.org/about", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchID(pattern, tt.url)
			if got != tt.want || ok != tt.wantOk {
				t.Errorf("MatchID() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestSplitCodecs(t *testing.T) {
	tests := []struct {
		name   string
		codecs string
		wantV  string
		wantA  string
	}{
		{"avc+aac", "avc1.64001f,mp4a.40.2", "avc1.64001f", "mp4a.40.2"},
		{"audio only", "mp4a.40.2", "none", "mp4a.40.2"},
		{"video only", "avc1.4d401e", "avc1.4d401e", "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotV, gotA := splitCodecs(tt.codecs)
			if gotV != tt.wantV || gotA != tt.wantA {
				t.Errorf("splitCodecs() = %v, %v, want %v, %v", gotV, gotA, tt.wantV, tt.wantA)
			}
		})
	}
}

func TestSortFormats(t *testing.T) {
	formats := []Format{
		{FormatID: "hls-1080p", Height: 1080, TBR: 4000, VCodec: "avc1"},
		{FormatID: "audio", TBR: 128, VCodec: "none", ACodec: "mp4a"},
		{FormatID: "hls-480p", Height: 480, TBR: 1200, VCodec: "avc1"},
		{FormatID: "hls-720p", Height: 720, TBR: 2500, VCodec: "avc1"},
	}
	SortFormats(formats)
	if formats[0].FormatID != "audio" {
		t.Errorf("worst format = %v, want audio", formats[0].FormatID)
	}
	if formats[len(formats)-1].FormatID != "hls-1080p" {
		t.Errorf("best format = %v, want hls-1080p", formats[len(formats)-1].FormatID)
	}
}

func TestResolveSegUrl(t *testing.T) {
	base, _ := url.Parse("https://cdn.example.org/live/master.m3u8")
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"absolute", "https://other.example.org/seg.ts", "https://other.example.org/seg.ts"},
		{"host relative", "/hls/seg.ts", "https://cdn.example.org/hls/seg.ts"},
		{"path relative", "seg.ts", "https://cdn.example.org/live/seg.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveSegUrl(base, tt.ref); got != tt.want {
				t.Errorf("resolveSegUrl() = %v, want %v", got, tt.want)
			}
		})
	}
}

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2149280,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
720p/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=836280,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
360p/index.m3u8
`

func TestParseM3U8Formats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	}))
	defer ts.Close()

	ctx := NewCtx(nil)
	formats, err := ctx.ParseM3U8Formats(ts.URL+"/master.m3u8", nil, "hls")
	if err != nil {
		t.Fatalf("ParseM3U8Formats() error = %v", err)
	}
	if len(formats) != 2 {
		t.Fatalf("got %d formats, want 2", len(formats))
	}
	best := formats[len(formats)-1]
	if best.FormatID != "hls-720p" {
		t.Errorf("best FormatID = %v, want hls-720p", best.FormatID)
	}
	if best.Height != 720 || best.Width != 1280 {
		t.Errorf("best resolution = %dx%d, want 1280x720", best.Width, best.Height)
	}
	if best.VCodec != "avc1.64001f" || best.ACodec != "mp4a.40.2" {
		t.Errorf("best codecs = %v/%v", best.VCodec, best.ACodec)
	}
	if best.URL != ts.URL+"/720p/index.m3u8" {
		t.Errorf("best URL = %v", best.URL)
	}
}

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:5.960,
seg0.ts
#EXTINF:5.960,
seg1.ts
#EXTINF:3.480,
seg2.ts
#EXT-X-ENDLIST
`

func TestM3U8Duration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaPlaylist))
	}))
	defer ts.Close()

	ctx := NewCtx(nil)
	got := ctx.M3U8Duration(ts.URL+"/index.m3u8", nil)
	want := 15.4
	if got < want-0.01 || got > want+0.01 {
		t.Errorf("M3U8Duration() = %v, want %v", got, want)
	}
}
