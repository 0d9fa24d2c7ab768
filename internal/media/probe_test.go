package media

import (
	"math"
	"testing"
)

const sampleProbe = `{
  "streams": [
    {"codec_type": "audio", "duration": "12.5"},
    {"codec_type": "video", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "duration": "12.480000"}
  ],
  "format": {"duration": "12.520000"}
}`

func TestParseProbe(t *testing.T) {
	md, err := parseProbe(sampleProbe)
	if err != nil {
		t.Fatal(err)
	}
	if md.Width != 1920 || md.Height != 1080 {
		t.Errorf("geometry = %dx%d", md.Width, md.Height)
	}
	if math.Abs(md.FPS-29.97) > 0.01 {
		t.Errorf("fps = %.4f", md.FPS)
	}
	if math.Abs(md.Duration-12.48) > 0.001 {
		t.Errorf("duration = %.4f", md.Duration)
	}
}

func TestParseProbeFallsBackToFormatDuration(t *testing.T) {
	probe := `{
  "streams": [{"codec_type": "video", "width": 640, "height": 360, "r_frame_rate": "25/1"}],
  "format": {"duration": "8.000000"}
}`
	md, err := parseProbe(probe)
	if err != nil {
		t.Fatal(err)
	}
	if md.Duration != 8 {
		t.Errorf("duration = %.4f, want 8", md.Duration)
	}
}

func TestParseProbeNoVideoStream(t *testing.T) {
	probe := `{"streams": [{"codec_type": "audio"}], "format": {"duration": "3.0"}}`
	if _, err := parseProbe(probe); err == nil {
		t.Error("expected error for audio-only file")
	}
}

func TestParseProbeFPSFallback(t *testing.T) {
	probe := `{
  "streams": [{"codec_type": "video", "width": 640, "height": 360,
    "r_frame_rate": "0/0", "avg_frame_rate": "24/1", "duration": "5.0"}],
  "format": {}
}`
	md, err := parseProbe(probe)
	if err != nil {
		t.Fatal(err)
	}
	if md.FPS != 24 {
		t.Errorf("fps = %.2f, want avg_frame_rate fallback 24", md.FPS)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(`{"format": {"duration": "42.125000"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if d != 42.125 {
		t.Errorf("duration = %v", d)
	}
	if _, err := parseDuration(`{"format": {}}`); err == nil {
		t.Error("expected error for missing duration")
	}
}

func TestParseRational(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"0/0", 0},
		{"garbage", 0},
		{"1/0", 0},
	}
	for _, c := range cases {
		if got := parseRational(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("parseRational(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
