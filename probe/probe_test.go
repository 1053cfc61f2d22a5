package probe

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestCodecName(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"h264 high", `{"codec_name":"h264","profile":"High","level":31}`, "avc1.64001f"},
		{"h264 main", `{"codec_name":"h264","profile":"Main","level":30}`, "avc1.4d401e"},
		{"h264 baseline", `{"codec_name":"h264","profile":"Constrained Baseline","level":30}`, "avc1.42401e"},
		{"aac lc", `{"codec_name":"aac","profile":"LC"}`, "mp4a.40.2"},
		{"aac he", `{"codec_name":"aac","profile":"HE-AAC"}`, "mp4a.40.5"},
		{"unknown profile", `{"codec_name":"h264","profile":"Exotic"}`, "h264"},
		{"negative level", `{"codec_name":"h264","profile":"High","level":-99}`, "h264"},
		{"numbered profile", `{"codec_name":"mpeg4","profile":"Profile 0","level":1}`, "mp4v.0.1"},
		{"missing", `{}`, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codecName(gjson.Parse(tt.stream)); got != tt.want {
				t.Errorf("codecName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetermineBitrate(t *testing.T) {
	tests := []struct {
		name string
		info string
		want float64
	}{
		{"variant", `{"tags":{"variant_bitrate":"2149280"},"bit_rate":"99"}`, 2149.28},
		{"bitrate", `{"bit_rate":"192000"}`, 192},
		{"none", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineBitrate(gjson.Parse(tt.info)); got != tt.want {
				t.Errorf("determineBitrate() = %v, want %v", got, tt.want)
			}
		})
	}
}

const probeMetadata = `{
	"streams": [
		{"index":0,"codec_type":"video","codec_name":"h264","profile":"High","level":31,"width":1280,"height":720,"r_frame_rate":"30000/1001","bit_rate":"2000000"},
		{"index":1,"codec_type":"audio","codec_name":"aac","profile":"LC","sample_rate":"44100","bit_rate":"128000"}
	],
	"format": {"format_name":"mpegts","duration":"61.5","size":"16384000"}
}`

func TestParseStreams(t *testing.T) {
	format := parseStreams(gjson.Parse(probeMetadata))
	if format.Ext != "ts" {
		t.Errorf("Ext = %v, want ts", format.Ext)
	}
	if format.VCodec != "avc1.64001f" {
		t.Errorf("VCodec = %v", format.VCodec)
	}
	if format.ACodec != "mp4a.40.2" {
		t.Errorf("ACodec = %v", format.ACodec)
	}
	if format.Width != 1280 || format.Height != 720 {
		t.Errorf("resolution = %dx%d", format.Width, format.Height)
	}
	if format.FPS != 30 {
		t.Errorf("FPS = %v, want 30", format.FPS)
	}
	if format.TBR != 2128 {
		t.Errorf("TBR = %v, want 2128", format.TBR)
	}
	if format.Filesize != 16384000 {
		t.Errorf("Filesize = %v", format.Filesize)
	}
}

func TestParseStreamsHLSNoSize(t *testing.T) {
	metadata := `{
		"streams": [{"index":0,"codec_type":"video","codec_name":"h264","profile":"High","level":31,"height":720}],
		"format": {"format_name":"hls","size":"12345"}
	}`
	format := parseStreams(gjson.Parse(metadata))
	if format.Filesize != 0 {
		t.Errorf("Filesize = %v, want 0 for hls", format.Filesize)
	}
	if format.Ext != "mp4" {
		t.Errorf("Ext = %v, want mp4", format.Ext)
	}
}

func TestDetermineExt(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"mp4", "https://cdn.example.org/v/file.mp4?token=1", "mp4"},
		{"none", "https://cdn.example.org/v/file", "unknown_video"},
		{"query only", "https://cdn.example.org/v?x=file.mp4", "unknown_video"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExt(tt.url, "unknown_video"); got != tt.want {
				t.Errorf("DetermineExt() = %v, want %v", got, tt.want)
			}
		})
	}
}
