package tts

import (
	"testing"
	"time"
)

const sampleVTT = `WEBVTT

00:00:00.100 --> 00:00:00.550
The

00:00:00.550 --> 00:00:01.000
ocean

00:00:01.000 --> 00:00:01.800
covers
`

func TestParseVTT(t *testing.T) {
	sm := ParseVTT(sampleVTT)
	if len(sm.Boundaries) != 3 {
		t.Fatalf("boundaries = %d, want 3", len(sm.Boundaries))
	}
	first := sm.Boundaries[0]
	if first.Text != "The" {
		t.Errorf("first text = %q", first.Text)
	}
	if first.Offset != 100*time.Millisecond {
		t.Errorf("first offset = %v", first.Offset)
	}
	if first.Duration != 450*time.Millisecond {
		t.Errorf("first duration = %v", first.Duration)
	}
	if sm.End() != 1800*time.Millisecond {
		t.Errorf("end = %v", sm.End())
	}
}

func TestParseVTTSkipsMalformedCues(t *testing.T) {
	content := `WEBVTT

garbage --> more garbage
text

00:00:02.000 --> 00:00:01.000
backwards

00:00:03.000 --> 00:00:04.000
valid
`
	sm := ParseVTT(content)
	if len(sm.Boundaries) != 1 {
		t.Fatalf("boundaries = %d, want only the valid cue", len(sm.Boundaries))
	}
	if sm.Boundaries[0].Text != "valid" {
		t.Errorf("text = %q", sm.Boundaries[0].Text)
	}
}

func TestParseVTTMultilineCue(t *testing.T) {
	content := "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nline one\nline two\n"
	sm := ParseVTT(content)
	if len(sm.Boundaries) != 1 {
		t.Fatalf("boundaries = %d", len(sm.Boundaries))
	}
	if sm.Boundaries[0].Text != "line one line two" {
		t.Errorf("text = %q", sm.Boundaries[0].Text)
	}
}

func TestParseVTTShortTimestamps(t *testing.T) {
	content := "WEBVTT\n\n01:02.500 --> 01:03.000\nword\n"
	sm := ParseVTT(content)
	if len(sm.Boundaries) != 1 {
		t.Fatalf("boundaries = %d", len(sm.Boundaries))
	}
	want := time.Minute + 2*time.Second + 500*time.Millisecond
	if sm.Boundaries[0].Offset != want {
		t.Errorf("offset = %v, want %v", sm.Boundaries[0].Offset, want)
	}
}

func TestSubMakerEndEmpty(t *testing.T) {
	var sm SubMaker
	if sm.End() != 0 {
		t.Errorf("empty End = %v", sm.End())
	}
}

func TestFormatSignedPercent(t *testing.T) {
	cases := []struct {
		factor float64
		want   string
	}{
		{1.0, "+0%"},
		{1.25, "+25%"},
		{0.8, "-20%"},
		{2.0, "+100%"},
		{0, "+0%"}, // unset factor means natural speed
	}
	for _, c := range cases {
		if got := formatSignedPercent(c.factor); got != c.want {
			t.Errorf("formatSignedPercent(%v) = %q, want %q", c.factor, got, c.want)
		}
	}
}
