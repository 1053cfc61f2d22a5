package peertube

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plugdl/plugdl/extractor"
)

func TestMatchURL(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantID   string
		wantOK   bool
	}{
		{"peertube:videos.auf1.tv:rKjpWNnocoARnj4pQMRKXQ", "videos.auf1.tv", "rKjpWNnocoARnj4pQMRKXQ", true},
		{"https://videos.auf1.tv/videos/watch/dVk8Q3VNMLi7b7uhyuSSp6", "videos.auf1.tv", "dVk8Q3VNMLi7b7uhyuSSp6", true},
		{"https://framatube.org/w/9c9de5e8-0a1e-484a-b099-e80766180a6d", "framatube.org", "9c9de5e8-0a1e-484a-b099-e80766180a6d", true},
		{"https://videos.auf1.tv/videos/embed/abc123", "videos.auf1.tv", "abc123", true},
		{"https://example.com/video/1", "", "", false},
	}
	for _, tt := range tests {
		host, id, ok := matchURL(tt.url)
		if ok != tt.wantOK || host != tt.wantHost || id != tt.wantID {
			t.Errorf("matchURL(%q) = (%v, %v, %v), want (%v, %v, %v)",
				tt.url, host, id, ok, tt.wantHost, tt.wantID, tt.wantOK)
		}
	}
}

func TestExtract(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/videos/rKjpWNnocoARnj4pQMRKXQ", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"uuid": "8ebc2806-2a3b-4ada-b8c4-47ff3e3e971d",
			"name": "Ampelkoalition: Eine Abrissbirne?",
			"description": "Die neue Regierung.",
			"publishedAt": "2021-12-02T12:08:25.000Z",
			"duration": 818,
			"views": 101,
			"likes": 12,
			"dislikes": 1,
			"account": {"id": 25408, "displayName": "AUF1.TV", "url": "https://videos.auf1.tv/accounts/auf1.tv"},
			"channel": {"name": "auf1.tv", "displayName": "AUF1.TV", "url": "https://videos.auf1.tv/video-channels/auf1.tv"},
			"category": {"id": 11, "label": "News & Politics"},
			"tags": ["nachrichten"],
			"thumbnailPath": "/static/thumbnails/8ebc2806.jpg",
			"files": [
				{"resolution": {"id": 720, "label": "720p"}, "fileUrl": "https://videos.auf1.tv/static/webseed/720.mp4", "size": 123456789, "fps": 25},
				{"resolution": {"id": 360, "label": "360p"}, "fileUrl": "https://videos.auf1.tv/static/webseed/360.mp4", "size": 23456789, "fps": 25}
			]
		}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	ctx := extractor.NewCtx(map[string]interface{}{"ApiHostUrl": ts.URL})

	info, err := (&PeerTube{}).Extract(ctx, "peertube:videos.auf1.tv:rKjpWNnocoARnj4pQMRKXQ")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if info.ID != "8ebc2806-2a3b-4ada-b8c4-47ff3e3e971d" {
		t.Errorf("ID = %v", info.ID)
	}
	if info.Title != "Ampelkoalition: Eine Abrissbirne?" {
		t.Errorf("Title = %v", info.Title)
	}
	if info.Timestamp != 1638446905 {
		t.Errorf("Timestamp = %v, want 1638446905", info.Timestamp)
	}
	if info.Uploader != "AUF1.TV" || info.UploaderID != "25408" {
		t.Errorf("uploader = %v/%v", info.Uploader, info.UploaderID)
	}
	if info.ChannelURL != "https://videos.auf1.tv/video-channels/auf1.tv" {
		t.Errorf("ChannelURL = %v", info.ChannelURL)
	}
	if info.ViewCount != 101 || info.LikeCount != 12 || info.DislikeCount != 1 {
		t.Errorf("counts = %v/%v/%v", info.ViewCount, info.LikeCount, info.DislikeCount)
	}
	if want := []string{"News & Politics"}; len(info.Categories) != 1 || info.Categories[0] != want[0] {
		t.Errorf("Categories = %v, want %v", info.Categories, want)
	}
	if info.Thumbnail != "https://videos.auf1.tv/static/thumbnails/8ebc2806.jpg" {
		t.Errorf("Thumbnail = %v", info.Thumbnail)
	}

	if len(info.Formats) != 2 {
		t.Fatalf("got %d formats, want 2", len(info.Formats))
	}
	best := info.Formats[len(info.Formats)-1]
	if best.FormatID != "720p" || best.Height != 720 || best.Filesize != 123456789 {
		t.Errorf("best = %+v", best)
	}
}

func TestExtractUnsupported(t *testing.T) {
	if _, err := (&PeerTube{}).Extract(extractor.NewCtx(nil), "https://example.com/x"); err == nil {
		t.Error("unsupported url should error")
	}
}
