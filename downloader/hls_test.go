package downloader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/plugdl/plugdl/extractor"
)

func TestResolveSegURL(t *testing.T) {
	base, _ := url.Parse("https://cdn.test/hls/live/media.m3u8")
	tests := []struct {
		ref  string
		want string
	}{
		{"https://other.test/seg0.ts", "https://other.test/seg0.ts"},
		{"/root/seg1.ts", "https://cdn.test/root/seg1.ts"},
		{"seg2.ts", "https://cdn.test/hls/live/seg2.ts"},
	}
	for _, tt := range tests {
		if got := resolveSegURL(base, tt.ref); got != tt.want {
			t.Errorf("resolveSegURL(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

// hlsSite serves a master playlist, a media playlist with mixed url
// shapes and three segments carrying distinct payloads.
func hlsSite(t *testing.T) (*httptest.Server, []string) {
	t.Helper()
	payloads := []string{"segment-zero|", "segment-one|", "segment-two|"}
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/media.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
/hls/media.m3u8
`)
	})
	mux.HandleFunc("/hls/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.0,
seg0.ts
#EXTINF:4.0,
/hls/seg1.ts
#EXTINF:4.0,
`+ts.URL+`/hls/seg2.ts
#EXT-X-ENDLIST
`)
	})
	for i, payload := range payloads {
		i, payload := i, payload
		mux.HandleFunc("/hls/seg"+strconv.Itoa(i)+".ts", func(w http.ResponseWriter, r *http.Request) {
			if i == 0 {
				// later segments finish first, order must still hold
				time.Sleep(30 * time.Millisecond)
			}
			io.WriteString(w, payload)
		})
	}
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, payloads
}

func TestPlaylistSegments(t *testing.T) {
	ts, _ := hlsSite(t)
	segs, err := playlistSegments(ts.Client(), ts.URL+"/hls/media.m3u8", nil, 0)
	if err != nil {
		t.Fatalf("playlistSegments() error: %v", err)
	}
	want := []string{
		ts.URL + "/hls/seg0.ts",
		ts.URL + "/hls/seg1.ts",
		ts.URL + "/hls/seg2.ts",
	}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segs[%d] = %q, want %q", i, segs[i], want[i])
		}
	}
}

func TestPlaylistSegmentsFollowsMaster(t *testing.T) {
	ts, _ := hlsSite(t)
	segs, err := playlistSegments(ts.Client(), ts.URL+"/hls/master.m3u8", nil, 0)
	if err != nil {
		t.Fatalf("playlistSegments() error: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3 from the 720p variant", len(segs))
	}
}

func TestDownloadHLS(t *testing.T) {
	ts, payloads := hlsSite(t)
	out := filepath.Join(t.TempDir(), "stream.ts")
	err := Download(context.Background(),
		extractor.Format{URL: ts.URL + "/hls/media.m3u8", Protocol: "hls"},
		Options{OutPath: out, Concurrency: 2, Client: ts.Client()})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := strings.Join(payloads, ""); string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestDownloadHLSFromMaster(t *testing.T) {
	ts, payloads := hlsSite(t)
	out := filepath.Join(t.TempDir(), "stream.ts")
	err := Download(context.Background(),
		extractor.Format{URL: ts.URL + "/hls/master.m3u8"},
		Options{OutPath: out, Client: ts.Client()})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := os.ReadFile(out)
	if want := strings.Join(payloads, ""); string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestDownloadHLSSegmentFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hls/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXTINF:4.0,
good.ts
#EXTINF:4.0,
bad.ts
#EXT-X-ENDLIST
`)
	})
	mux.HandleFunc("/hls/good.ts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data")
	})
	mux.HandleFunc("/hls/bad.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out := filepath.Join(t.TempDir(), "stream.ts")
	err := Download(context.Background(),
		extractor.Format{URL: ts.URL + "/hls/media.m3u8", Protocol: "hls"},
		Options{OutPath: out, Client: ts.Client()})
	if err == nil {
		t.Fatal("Download() expected error when a segment cannot be fetched")
	}
	if !strings.Contains(err.Error(), "segment 1") {
		t.Errorf("error = %v, want segment 1 mentioned", err)
	}
}

func TestDownloadHLSEmptyPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hls/empty.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-ENDLIST\n")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	err := Download(context.Background(),
		extractor.Format{URL: ts.URL + "/hls/empty.m3u8", Protocol: "hls"},
		Options{OutPath: filepath.Join(t.TempDir(), "x.ts"), Client: ts.Client()})
	if err == nil || !strings.Contains(err.Error(), "no segments") {
		t.Errorf("Download() error = %v, want no segments", err)
	}
}
