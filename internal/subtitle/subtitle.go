package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"clipforge/internal/tts"
)

// Entry is one subtitle cue. Start and End are seconds.
type Entry struct {
	Start float64
	End   float64
	Text  string
}

// Parse reads SRT from r. It accepts comma or dot as the millisecond
// separator and a missing blank-line terminator at EOF.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	var cur *Entry
	var textLines []string

	flush := func() {
		if cur != nil && len(textLines) > 0 {
			cur.Text = strings.Join(textLines, "\n")
			entries = append(entries, *cur)
		}
		cur = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			start, err1 := parseTimestamp(strings.TrimSpace(parts[0]))
			end, err2 := parseTimestamp(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return nil, errors.Errorf("bad timing line %q", line)
			}
			cur = &Entry{Start: start, End: end}
		case cur == nil:
			// Sequence counter; ignored on input, regenerated on output.
			if _, err := strconv.Atoi(line); err != nil {
				return nil, errors.Errorf("unexpected line %q", line)
			}
		default:
			textLines = append(textLines, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseFile reads and parses one SRT file.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Format renders entries as standard SRT with comma decimals. The output
// is stable: parsing it and formatting again yields identical bytes.
func Format(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n")
		sb.WriteString(formatTimestamp(e.Start))
		sb.WriteString(" --> ")
		sb.WriteString(formatTimestamp(e.End))
		sb.WriteString("\n")
		sb.WriteString(e.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseTimestamp(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", ".")
	var h, m int
	var sec float64
	if n, _ := fmt.Sscanf(s, "%d:%d:%f", &h, &m, &sec); n != 3 {
		return 0, errors.Errorf("bad timestamp %q", s)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}

func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Builder aligns TTS word boundaries with the script text to produce
// phrase-level subtitles.
type Builder struct {
	Log *logrus.Logger
}

// Build writes an SRT file aligned from the sub maker. It returns "" (and
// no error the pipeline treats as fatal) when subtitles cannot be built:
// missing boundaries, alignment failure, or an empty result.
func (b *Builder) Build(scriptText string, sm *tts.SubMaker, outPath string) (string, error) {
	if sm == nil || len(sm.Boundaries) == 0 {
		b.Log.Info("[subtitle] no word boundaries, skipping subtitles")
		return "", nil
	}
	entries, err := Align(scriptText, sm)
	if err != nil {
		b.Log.Warnf("[subtitle] alignment failed: %v", err)
		return "", nil
	}
	if len(entries) == 0 {
		return "", nil
	}
	if err := os.WriteFile(outPath, []byte(Format(entries)), 0o644); err != nil {
		return "", errors.Wrap(err, "write srt")
	}

	// Validate by reparsing; a malformed or empty file is a soft failure.
	reparsed, err := ParseFile(outPath)
	if err != nil || len(reparsed) == 0 {
		b.Log.Warnf("[subtitle] validation failed, discarding: %v", err)
		os.Remove(outPath)
		return "", nil
	}
	b.Log.Infof("[subtitle] wrote %d entries: %s", len(reparsed), outPath)
	return outPath, nil
}

// Align matches boundary words to script phrases split at sentence and
// comma breaks. It fails when the engine's words do not cover the script.
func Align(scriptText string, sm *tts.SubMaker) ([]Entry, error) {
	phrases := SplitPhrases(scriptText)
	if len(phrases) == 0 {
		return nil, errors.New("script has no phrases")
	}

	var entries []Entry
	bi := 0
	for _, phrase := range phrases {
		want := normalize(phrase)
		if want == "" {
			continue
		}
		start := -1.0
		var end float64
		var got strings.Builder
		for bi < len(sm.Boundaries) {
			wb := sm.Boundaries[bi]
			frag := normalize(wb.Text)
			bi++
			if frag == "" {
				continue
			}
			if start < 0 {
				start = wb.Offset.Seconds()
			}
			end = (wb.Offset + wb.Duration).Seconds()
			got.WriteString(frag)
			if len(got.String()) >= len(want) {
				break
			}
		}
		if got.String() != want {
			return nil, errors.Errorf("boundary text diverged at %q", phrase)
		}
		if start < 0 || end <= start {
			return nil, errors.Errorf("no timing for phrase %q", phrase)
		}
		entries = append(entries, Entry{Start: start, End: end, Text: phrase})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	return entries, nil
}

// phraseBreaks end a subtitle cue. Commas break as well as sentence ends.
var phraseBreaks = map[rune]bool{
	'.': true, '!': true, '?': true, ',': true, ';': true,
	'。': true, '！': true, '？': true, '，': true, '；': true,
}

// SplitPhrases cuts narration into display-sized phrases at sentence and
// comma boundaries, keeping the punctuation with the preceding phrase.
func SplitPhrases(s string) []string {
	var phrases []string
	var cur strings.Builder
	for _, r := range s {
		if r == '\n' {
			r = ' '
		}
		cur.WriteRune(r)
		if phraseBreaks[r] {
			if p := strings.TrimSpace(cur.String()); p != "" {
				phrases = append(phrases, p)
			}
			cur.Reset()
		}
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		phrases = append(phrases, p)
	}
	return phrases
}

// normalize lowercases and strips everything but letters and digits so
// that punctuation and spacing differences never break alignment.
func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
