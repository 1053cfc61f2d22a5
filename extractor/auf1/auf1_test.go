package auf1

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/plugdl/plugdl/extractor"
)

func TestURLPattern(t *testing.T) {
	tests := []struct {
		url          string
		wantCategory string
		wantID       string
	}{
		{"https://auf1.tv/nachrichten-auf1/ampelkoalition-eine-abrissbirne-fuer-deutschland/",
			"nachrichten-auf1/", "ampelkoalition-eine-abrissbirne-fuer-deutschland"},
		{"https://auf1.tv/nachrichten-auf1/", "", "nachrichten-auf1"},
		{"https://auf1.tv/videos", "", "videos"},
		{"//www.auf1.tv/stefan-magnet-auf1/heiko-schoening/", "stefan-magnet-auf1/", "heiko-schoening"},
	}
	for _, tt := range tests {
		groups := extractor.NamedGroups(urlPattern, tt.url)
		if groups == nil {
			t.Errorf("no match for %q", tt.url)
			continue
		}
		if groups["category"] != tt.wantCategory || groups["id"] != tt.wantID {
			t.Errorf("groups(%q) = %v/%v, want %v/%v",
				tt.url, groups["category"], groups["id"], tt.wantCategory, tt.wantID)
		}
	}
	if urlPattern.MatchString("https://example.com/nachrichten/") {
		t.Error("foreign host should not match")
	}
}

func TestPeertubeURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://videos.auf1.tv/videos/embed/rKjpWNnocoARnj4pQMRKXQ",
			"peertube:videos.auf1.tv:rKjpWNnocoARnj4pQMRKXQ"},
		{"https://videos.auf1.tv/videos/embed/abc?start=10s", "peertube:videos.auf1.tv:abc"},
		{"https://cdn.auf1.tv/video.mp4", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := peertubeURL(tt.url); got != tt.want {
			t.Errorf("peertubeURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestJSTokens(t *testing.T) {
	tests := []struct {
		name   string
		values string
		want   []string
	}{
		{"mixed", `"hello world",25408,true,bareword`,
			[]string{`"hello world"`, `25408`, `true`, `"bareword"`}},
		{"quoted number stays number", `"123"`, []string{`123`}},
		{"null and empty string", `null,""`, []string{`null`, `""`}},
		{"comma inside quotes", `"a, b",c`, []string{`"a, b"`, `"c"`}},
		{"escaped quote", `"say \"hi\""`, []string{`"say \"hi\""`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jsTokens(tt.values); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("jsTokens(%q) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestJSToJSON(t *testing.T) {
	vars := map[string]string{
		"a": `"Hello"`,
		"b": `818`,
	}
	got := jsToJSON(`{title:a,duration:b,flag:!0,other:c,list:[1,2,],nested:{x:null,},}`, vars)
	want := `{"title":"Hello","duration":818,"flag":0,"other":"c","list":[1,2],"nested":{"x":null}}`
	if got != want {
		t.Errorf("jsToJSON() = %v, want %v", got, want)
	}
}

const testPayloadJS = `__NUXT_JSONP__("/nachrichten-auf1/test", (function(a,b,c,d,e){return {data:{content:{public_id:a,title:b,videoUrl:c,published_at:d,duration:818,active:!0}},fetch:{},mutations:[]}}("rKjpWNnocoARnj4pQMRKXQ","Ampelkoalition: Eine Abrissbirne?","https://videos.auf1.tv/videos/embed/rKjpWNnocoARnj4pQMRKXQ","2021-12-02T12:08:25.000Z",1)));`

func TestPayloadMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/nachrichten-auf1/test/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
<link rel="preload" href="/_nuxt/static/123/nachrichten-auf1/test/payload.js" as="script">
</head></html>`)
	})
	mux.HandleFunc("/_nuxt/static/123/nachrichten-auf1/test/payload.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testPayloadJS)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	metadata, err := (&Auf1{}).payloadMetadata(extractor.NewCtx(nil), ts.URL+"/nachrichten-auf1/test/")
	if err != nil {
		t.Fatalf("payloadMetadata() error = %v", err)
	}
	if got := metadata.Get("public_id").String(); got != "rKjpWNnocoARnj4pQMRKXQ" {
		t.Errorf("public_id = %v", got)
	}
	if got := metadata.Get("title").String(); got != "Ampelkoalition: Eine Abrissbirne?" {
		t.Errorf("title = %v", got)
	}
	if got := metadata.Get("videoUrl").String(); got != "https://videos.auf1.tv/videos/embed/rKjpWNnocoARnj4pQMRKXQ" {
		t.Errorf("videoUrl = %v", got)
	}
	if got := metadata.Get("duration").Int(); got != 818 {
		t.Errorf("duration = %v", got)
	}
}

func TestExtractVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getContent/ampelkoalition", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"public_id": "ampelkoalition",
			"videoUrl": "https://videos.auf1.tv/videos/embed/rKjpWNnocoARnj4pQMRKXQ"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1{}).Extract(ctx, "https://auf1.tv/nachrichten-auf1/ampelkoalition/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.Kind() != extractor.TypeURL {
		t.Fatalf("Kind() = %v, want url", info.Kind())
	}
	if info.URL != "peertube:videos.auf1.tv:rKjpWNnocoARnj4pQMRKXQ" {
		t.Errorf("URL = %v", info.URL)
	}
}

func TestExtractVideoSparse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getContent/direct", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"public_id": "direct", "title": "Direct Video",
			"text": "<p>Beschreibung</p>",
			"published_at": "2022-12-15T16:23:31Z",
			"duration": 1825,
			"videoUrl": "https://cdn.auf1.tv/media/direct.mp4"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1{}).Extract(ctx, "https://auf1.tv/show/direct/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.Kind() != extractor.TypeVideo {
		t.Fatalf("Kind() = %v, want video", info.Kind())
	}
	if info.Title != "Direct Video" || info.Description != "Beschreibung" {
		t.Errorf("meta = %v / %v", info.Title, info.Description)
	}
	if info.Duration != 1825 {
		t.Errorf("Duration = %v", info.Duration)
	}
	if len(info.Formats) != 1 || info.Formats[0].URL != "https://cdn.auf1.tv/media/direct.mp4" {
		t.Errorf("Formats = %+v", info.Formats)
	}
}

func TestExtractShow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getShow/nachrichten-auf1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "Nachrichten AUF1", "description": "<p>Die Abendnachrichten</p>",
			"contents": [
				{"public_id": "v1", "title": "Folge 1", "show": {"public_id": "nachrichten-auf1"}},
				{"title": "broken entry without id"},
				{"public_id": "v2", "title": "Folge 2"}
			]}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1{}).Extract(ctx, "https://auf1.tv/nachrichten-auf1/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.ID != "nachrichten-auf1" || info.Title != "Nachrichten AUF1" {
		t.Errorf("playlist meta = %v / %v", info.ID, info.Title)
	}
	if info.Description != "Die Abendnachrichten" {
		t.Errorf("Description = %v", info.Description)
	}
	if len(info.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(info.Entries))
	}
	if info.Entries[0].URL != "https://auf1.tv/nachrichten-auf1/v1/" {
		t.Errorf("entry 0 url = %v", info.Entries[0].URL)
	}
	if info.Entries[1].URL != "https://auf1.tv/video/v2/" {
		t.Errorf("entry 1 url = %v", info.Entries[1].URL)
	}
}

func TestExtractAllVideos(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getVideos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"public_id": "v1", "title": "A"}, {"public_id": "v2", "title": "B"}]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1{}).Extract(ctx, "https://auf1.tv/videos")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.ID != "all_videos" || info.Title != "AUF1.TV - Alle Videos" {
		t.Errorf("playlist meta = %v / %v", info.ID, info.Title)
	}
	if len(info.Entries) != 2 {
		t.Errorf("got %d entries, want 2", len(info.Entries))
	}
}

func TestRadioEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/get/worte-der-hoffnung", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"content_public_id": "worte-der-hoffnung",
			"title": "Worte der Hoffnung",
			"summary": "Ein Sammelband, der Mut macht",
			"duration": 70,
			"created_at": "2022-11-27T09:00:05Z",
			"thumbnail": "hoffnung.jpg",
			"audio_url": "https://auf1.radio/storage/worte.mp3"
		}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1Radio{}).Extract(ctx, "https://auf1.radio/nachrichten-auf1/worte-der-hoffnung/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.ID != "worte-der-hoffnung" || info.Title != "Worte der Hoffnung" {
		t.Errorf("meta = %v / %v", info.ID, info.Title)
	}
	if info.Timestamp != 1669539605 {
		t.Errorf("Timestamp = %v, want 1669539605", info.Timestamp)
	}
	if info.Thumbnail != "https://auf1.tv/images/hoffnung.jpg" {
		t.Errorf("Thumbnail = %v", info.Thumbnail)
	}
	if len(info.Formats) != 1 {
		t.Fatalf("got %d formats, want 1", len(info.Formats))
	}
	f := info.Formats[0]
	if f.Ext != "mp3" || f.VCodec != "none" || f.ASR != 48000 || f.TBR != 64 {
		t.Errorf("format = %+v", f)
	}
	if f.FilesizeApprox != 70*8000 {
		t.Errorf("FilesizeApprox = %v, want %v", f.FilesizeApprox, 70*8000)
	}
}

func TestRadioPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/all", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"last_page": 2, "per_page": 2, "total": 3, "data": [
				{"content_public_id": "m1", "title": "A", "duration": 60, "audiofile": "a.mp3"},
				{"content_public_id": "m2", "title": "B", "audiofile": "b.mp3"}
			]}`)
		case "2":
			fmt.Fprint(w, `{"last_page": 2, "per_page": 2, "total": 3, "data": [
				{"content_public_id": "m3", "title": "C", "audiofile": "c.mp3"}
			]}`)
		default:
			http.NotFound(w, r)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1Radio{}).Extract(ctx, "https://auf1.radio/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.ID != "all" || info.Title != "all" {
		t.Errorf("playlist meta = %v / %v", info.ID, info.Title)
	}
	if len(info.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(info.Entries))
	}
	first := info.Entries[0]
	if first.Formats[0].URL != "https://auf1.radio/storage/a.mp3" {
		t.Errorf("audio url = %v", first.Formats[0].URL)
	}
	if first.Formats[0].FilesizeApprox != 60*8000 {
		t.Errorf("FilesizeApprox = %v", first.Formats[0].FilesizeApprox)
	}
}

func TestRadioShowTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getShow/nachrichten-auf1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"last_page": 1, "data": [
			{"content_public_id": "m1", "title": "A", "show_name": "Nachrichten AUF1", "audiofile": "a.mp3"}
		]}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&Auf1Radio{}).Extract(ctx, "https://auf1.radio/nachrichten-auf1")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.Title != "Nachrichten AUF1" {
		t.Errorf("Title = %v, want show name", info.Title)
	}
}
