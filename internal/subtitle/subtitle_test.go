package subtitle

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"clipforge/internal/tts"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestParseCommaAndDotDecimals(t *testing.T) {
	srt := `1
00:00:00,500 --> 00:00:02,000
First cue

2
00:00:02.500 --> 00:00:04.000
Second cue
`
	entries, err := Parse(strings.NewReader(srt))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Start != 0.5 || entries[0].End != 2.0 {
		t.Errorf("first timing = %v..%v", entries[0].Start, entries[0].End)
	}
	if entries[1].Start != 2.5 {
		t.Errorf("second start = %v", entries[1].Start)
	}
}

func TestParseMissingTrailingBlankLine(t *testing.T) {
	srt := "1\n00:00:00,000 --> 00:00:01,000\nNo trailing newline"
	entries, err := Parse(strings.NewReader(srt))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "No trailing newline" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(strings.NewReader("not a counter\nsome text\n")); err == nil {
		t.Error("expected error for non-numeric counter line")
	}
	if _, err := Parse(strings.NewReader("1\nbad --> worse\ntext\n")); err == nil {
		t.Error("expected error for bad timing line")
	}
}

func TestFormatRoundTripStable(t *testing.T) {
	entries := []Entry{
		{Start: 0.5, End: 2.0, Text: "First cue"},
		{Start: 2.5, End: 4.125, Text: "Second cue\nwith two lines"},
	}
	first := Format(entries)

	reparsed, err := Parse(strings.NewReader(first))
	if err != nil {
		t.Fatal(err)
	}
	second := Format(reparsed)
	if first != second {
		t.Errorf("round trip changed bytes:\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}
	if !strings.Contains(first, "00:00:02,500 --> 00:00:04,125") {
		t.Errorf("timing format wrong:\n%s", first)
	}
	if !strings.HasSuffix(first, "\n") {
		t.Error("output does not end with a newline")
	}
}

func TestSplitPhrases(t *testing.T) {
	got := SplitPhrases("Hello, world. How are you? Fine; thanks!\nNew line tail")
	want := []string{"Hello,", "world.", "How are you?", "Fine;", "thanks!", "New line tail"}
	if len(got) != len(want) {
		t.Fatalf("phrases = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phrase[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitPhrasesCJK(t *testing.T) {
	got := SplitPhrases("海洋覆盖地球，它仍未被探索。")
	if len(got) != 2 {
		t.Fatalf("phrases = %q", got)
	}
}

func boundaries(words ...string) *tts.SubMaker {
	sm := &tts.SubMaker{}
	offset := time.Duration(0)
	for _, w := range words {
		d := 400 * time.Millisecond
		sm.Boundaries = append(sm.Boundaries, tts.WordBoundary{
			Offset: offset, Duration: d, Text: w,
		})
		offset += d
	}
	return sm
}

func TestAlign(t *testing.T) {
	script := "The ocean covers the planet, it remains unexplored."
	sm := boundaries("The", "ocean", "covers", "the", "planet", "it", "remains", "unexplored")

	entries, err := Align(script, sm)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Text != "The ocean covers the planet," {
		t.Errorf("first text = %q", entries[0].Text)
	}
	if entries[1].Text != "it remains unexplored." {
		t.Errorf("second text = %q", entries[1].Text)
	}
	if entries[0].Start != 0 || entries[0].End != 2.0 {
		t.Errorf("first timing = %v..%v", entries[0].Start, entries[0].End)
	}
	// Entries must come out sorted by start time.
	for i := 1; i < len(entries); i++ {
		if entries[i].Start < entries[i-1].Start {
			t.Error("entries not sorted by start")
		}
	}
}

func TestAlignDivergentText(t *testing.T) {
	sm := boundaries("completely", "different", "words")
	if _, err := Align("The ocean covers the planet.", sm); err == nil {
		t.Error("expected alignment failure for divergent boundaries")
	}
}

func TestBuildSoftFailures(t *testing.T) {
	b := &Builder{Log: quietLog()}
	out := filepath.Join(t.TempDir(), "subtitle.srt")

	// Nil SubMaker means user-supplied audio: skip without error.
	path, err := b.Build("Some script.", nil, out)
	if err != nil || path != "" {
		t.Errorf("nil submaker: path=%q err=%v", path, err)
	}

	// Divergent boundaries soft-fail too.
	path, err = b.Build("Some script.", boundaries("other", "words"), out)
	if err != nil || path != "" {
		t.Errorf("bad alignment: path=%q err=%v", path, err)
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Error("srt file written despite soft failure")
	}
}

func TestBuildWritesValidSRT(t *testing.T) {
	b := &Builder{Log: quietLog()}
	out := filepath.Join(t.TempDir(), "subtitle.srt")

	path, err := b.Build("The ocean covers the planet.",
		boundaries("The", "ocean", "covers", "the", "planet"), out)
	if err != nil {
		t.Fatal(err)
	}
	if path != out {
		t.Fatalf("path = %q", path)
	}
	entries, err := ParseFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "The ocean covers the planet." {
		t.Errorf("entries = %+v", entries)
	}
}
