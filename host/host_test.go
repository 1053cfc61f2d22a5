package host

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/registry"
)

type stubExtractor struct {
	fn func(ctx *extractor.Ctx, url string) (*extractor.Info, error)
}

func (s *stubExtractor) Extract(ctx *extractor.Ctx, url string) (*extractor.Info, error) {
	return s.fn(ctx, url)
}

func stubDescriptor(name, host string,
	fn func(ctx *extractor.Ctx, url string) (*extractor.Info, error)) registry.Descriptor {
	return registry.Descriptor{
		Name:     name,
		Suitable: func(url string) bool { return strings.Contains(url, host) },
		Factory:  func() extractor.Extractor { return &stubExtractor{fn: fn} },
	}
}

func newRegistry(t *testing.T, descriptors ...registry.Descriptor) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, d := range descriptors {
		if err := reg.Add(d); err != nil {
			t.Fatalf("Add(%s) error: %v", d.Name, err)
		}
	}
	reg.Freeze()
	return reg
}

func TestSelectFormat(t *testing.T) {
	formats := []extractor.Format{
		{FormatID: "hls-240p", Height: 240, VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "audio-de", VCodec: "none", ACodec: "mp4a"},
		{FormatID: "hls-720p", Height: 720, VCodec: "avc1", ACodec: "mp4a"},
	}
	tests := []struct {
		selector string
		want     string
		wantErr  bool
	}{
		{"", "hls-720p", false},
		{"best", "hls-720p", false},
		{"worst", "hls-240p", false},
		{"bestaudio", "audio-de", false},
		{"hls-240p", "hls-240p", false},
		{"hls-1080p", "", true},
	}
	for _, tt := range tests {
		got, err := SelectFormat(formats, tt.selector)
		if (err != nil) != tt.wantErr {
			t.Errorf("SelectFormat(%q) error = %v, wantErr %v", tt.selector, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.FormatID != tt.want {
			t.Errorf("SelectFormat(%q) = %q, want %q", tt.selector, got.FormatID, tt.want)
		}
	}
	if _, err := SelectFormat(nil, "best"); err == nil {
		t.Error("SelectFormat(nil) should fail")
	}
	videoOnly := []extractor.Format{{FormatID: "v", VCodec: "avc1"}}
	if _, err := SelectFormat(videoOnly, "bestaudio"); err == nil {
		t.Error("bestaudio with no audio format should fail")
	}
}

func TestExtractUnsupported(t *testing.T) {
	p := New(newRegistry(t), Options{})
	_, err := p.Extract("https://nowhere.example/v/1")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Extract() error = %v, want ErrUnsupported", err)
	}
}

func TestExtractURLHandoff(t *testing.T) {
	reg := newRegistry(t,
		stubDescriptor("outer", "outer.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			entry := extractor.URLResult("https://inner.example/v/9")
			entry.Title = "Carried over"
			return entry, nil
		}),
		stubDescriptor("inner", "inner.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return &extractor.Info{ID: "v9"}, nil
		}),
	)
	p := New(reg, Options{})
	info, err := p.Extract("https://outer.example/post/1")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if info.ID != "v9" {
		t.Errorf("ID = %q, want v9", info.ID)
	}
	if info.Title != "Carried over" {
		t.Errorf("Title = %q, want the outer title carried over", info.Title)
	}
	if info.Extractor != "inner" {
		t.Errorf("Extractor = %q, want inner", info.Extractor)
	}
}

func TestExtractLoopGuard(t *testing.T) {
	reg := newRegistry(t,
		stubDescriptor("loop", "loop.example", func(_ *extractor.Ctx, url string) (*extractor.Info, error) {
			return extractor.URLResult(url), nil
		}),
	)
	p := New(reg, Options{})
	_, err := p.Extract("https://loop.example/v/1")
	if err == nil || !strings.Contains(err.Error(), "extraction loop") {
		t.Errorf("Extract() error = %v, want loop guard", err)
	}
}

func TestExtractCaches(t *testing.T) {
	calls := 0
	reg := newRegistry(t,
		stubDescriptor("counted", "counted.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			calls++
			return &extractor.Info{ID: "c1", Formats: []extractor.Format{{FormatID: "f"}}}, nil
		}),
	)
	p := New(reg, Options{})
	for i := 0; i < 3; i++ {
		if _, err := p.Extract("https://counted.example/v/1"); err != nil {
			t.Fatalf("Extract() error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("extractor ran %d times, want 1 (cached)", calls)
	}
}

func TestDumpJSON(t *testing.T) {
	reg := newRegistry(t,
		stubDescriptor("site", "site.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return &extractor.Info{ID: "j1", Title: "Dump me"}, nil
		}),
	)
	p := New(reg, Options{DumpJSON: true})
	var buf bytes.Buffer
	p.jsonOut = &buf

	if err := p.ProcessURL("https://site.example/v/1"); err != nil {
		t.Fatalf("ProcessURL() error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"id": "j1"`) || !strings.Contains(out, `"title": "Dump me"`) {
		t.Errorf("dump = %q, want pretty json with id and title", out)
	}
}

func TestRunCountsFailures(t *testing.T) {
	reg := newRegistry(t,
		stubDescriptor("ok", "ok.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return &extractor.Info{ID: "ok"}, nil
		}),
	)
	p := New(reg, Options{DumpJSON: true})
	p.jsonOut = io.Discard

	failed := p.Run([]string{
		"https://ok.example/v/1",
		"https://unclaimed.example/v/2",
	})
	if failed != 1 {
		t.Errorf("Run() = %d failures, want 1", failed)
	}
}

func TestProcessURLDownloads(t *testing.T) {
	const body = "media-bytes"
	mux := http.NewServeMux()
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	dir := t.TempDir()
	reg := newRegistry(t,
		stubDescriptor("site", "site.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return &extractor.Info{
				ID:    "v1",
				Title: "A clip",
				Formats: []extractor.Format{
					{FormatID: "http-1", URL: ts.URL + "/clip.mp4", Ext: "mp4"},
				},
			}, nil
		}),
	)
	p := New(reg, Options{
		OutputTemplate: filepath.Join(dir, "%(id)s.%(ext)s"),
		PostProcessors: []string{"metadata"},
	})

	if err := p.ProcessURL("https://site.example/v/1"); err != nil {
		t.Fatalf("ProcessURL() error: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "v1.mp4"))
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if string(got) != body {
		t.Errorf("file content = %q, want %q", got, body)
	}
	if _, err := os.Stat(filepath.Join(dir, "v1.info.json")); err != nil {
		t.Errorf("metadata sidecar missing: %v", err)
	}
}

func TestProcessPlaylistEntries(t *testing.T) {
	const body = "entry-bytes"
	mux := http.NewServeMux()
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	entryInfo := func(id string) *extractor.Info {
		return &extractor.Info{
			ID: id,
			Formats: []extractor.Format{
				{FormatID: "http-1", URL: ts.URL + "/clip.mp4", Ext: "mp4"},
			},
		}
	}
	dir := t.TempDir()
	reg := newRegistry(t,
		stubDescriptor("channel", "channel.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return extractor.PlaylistResult("chan", "A channel", []*extractor.Info{
				entryInfo("e1"),
				extractor.URLResult("https://video.example/v/e2"),
			}), nil
		}),
		stubDescriptor("video", "video.example", func(_ *extractor.Ctx, _ string) (*extractor.Info, error) {
			return entryInfo("e2"), nil
		}),
	)
	p := New(reg, Options{OutputTemplate: filepath.Join(dir, "%(id)s.%(ext)s")})

	if err := p.ProcessURL("https://channel.example/c/1"); err != nil {
		t.Fatalf("ProcessURL() error: %v", err)
	}
	for _, name := range []string{"e1.mp4", "e2.mp4"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("playlist entry %s missing: %v", name, err)
		}
	}
}
