package tts

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"clipforge/internal/media"
	"clipforge/internal/storage"
)

// WordBoundary is one timed word or phrase emitted by the speech engine.
type WordBoundary struct {
	Offset   time.Duration
	Duration time.Duration
	Text     string
}

// SubMaker carries the word timings of one synthesis run. It is opaque to
// everything but the subtitle builder.
type SubMaker struct {
	Boundaries []WordBoundary
}

// End returns the end time of the last boundary.
func (s *SubMaker) End() time.Duration {
	if len(s.Boundaries) == 0 {
		return 0
	}
	last := s.Boundaries[len(s.Boundaries)-1]
	return last.Offset + last.Duration
}

// Request describes one synthesis call.
type Request struct {
	Text       string
	Voice      string
	Rate       float64 // [0.5, 2.0], 1.0 = natural
	Volume     float64 // [0.1, 3.0], 1.0 = natural
	OutputPath string
}

// Engine converts text to an MP3 plus word boundaries. A nil SubMaker is
// legal (user-supplied audio); the subtitle stage must tolerate it.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (*SubMaker, float64, error)
}

// EdgeEngine shells out to an edge-tts compatible CLI. The CLI writes the
// MP3 and a VTT cue file whose cues become the SubMaker boundaries.
type EdgeEngine struct {
	Command string
	Log     *logrus.Logger
}

const synthAttempts = 3

// Synthesize runs the TTS binary with retries and probes the result.
// The returned duration is the ceiling of the measured one; zero is an error.
func (e *EdgeEngine) Synthesize(ctx context.Context, req Request) (*SubMaker, float64, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, 0, errors.New("empty text")
	}
	vttPath := strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath)) + ".vtt"

	var lastErr error
	for attempt := 1; attempt <= synthAttempts; attempt++ {
		cmd := exec.CommandContext(ctx, e.Command,
			"--voice", req.Voice,
			"--rate", formatSignedPercent(req.Rate),
			"--volume", formatSignedPercent(req.Volume),
			"--text", req.Text,
			"--write-media", req.OutputPath,
			"--write-subtitles", vttPath,
		)
		cmd.Stderr = os.Stderr
		lastErr = cmd.Run()
		if lastErr == nil && storage.FileNonEmpty(req.OutputPath) {
			break
		}
		if lastErr == nil {
			lastErr = errors.New("tts produced no output file")
		}
		e.Log.Warnf("[audio] tts attempt %d failed: %v", attempt, lastErr)
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	if lastErr != nil || !storage.FileNonEmpty(req.OutputPath) {
		return nil, 0, errors.Wrap(lastErr, "tts failed")
	}

	dur, err := media.Duration(req.OutputPath)
	if err != nil {
		return nil, 0, errors.Wrap(err, "probe narration duration")
	}
	if dur <= 0 {
		return nil, 0, errors.New("narration duration is zero")
	}

	sm, err := loadVTT(vttPath)
	if err != nil {
		// Boundaries are only needed for subtitles; synthesis itself succeeded.
		e.Log.Warnf("[audio] no word boundaries available: %v", err)
		sm = nil
	}
	os.Remove(vttPath)
	return sm, math.Ceil(dur), nil
}

// formatSignedPercent maps a 1.0-centered factor to edge-tts' "+N%" form.
func formatSignedPercent(factor float64) string {
	if factor == 0 {
		factor = 1
	}
	pct := int(math.Round((factor - 1) * 100))
	return fmt.Sprintf("%+d%%", pct)
}

// FileEngine serves a user-supplied narration file verbatim. No SubMaker.
type FileEngine struct {
	Path string
}

// Synthesize copies the source audio into place and probes its duration.
func (f *FileEngine) Synthesize(ctx context.Context, req Request) (*SubMaker, float64, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "read narration file")
	}
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return nil, 0, errors.Wrap(err, "copy narration file")
	}
	dur, err := media.Duration(req.OutputPath)
	if err != nil {
		return nil, 0, errors.Wrap(err, "probe narration duration")
	}
	if dur <= 0 {
		return nil, 0, errors.New("narration duration is zero")
	}
	return nil, math.Ceil(dur), nil
}

func loadVTT(path string) (*SubMaker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sm := ParseVTT(string(data))
	if len(sm.Boundaries) == 0 {
		return nil, errors.New("subtitle file held no cues")
	}
	return sm, nil
}

// ParseVTT extracts cues from WEBVTT output. Malformed lines are skipped;
// the caller decides whether an empty result matters.
func ParseVTT(content string) *SubMaker {
	sm := &SubMaker{}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.Contains(line, "-->") {
			continue
		}
		parts := strings.SplitN(line, "-->", 2)
		start, err1 := parseVTTTime(strings.TrimSpace(parts[0]))
		end, err2 := parseVTTTime(strings.TrimSpace(strings.Fields(strings.TrimSpace(parts[1]))[0]))
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		var text []string
		for i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if next == "" || strings.Contains(next, "-->") {
				break
			}
			text = append(text, next)
			i++
		}
		if len(text) == 0 {
			continue
		}
		sm.Boundaries = append(sm.Boundaries, WordBoundary{
			Offset:   start,
			Duration: end - start,
			Text:     strings.Join(text, " "),
		})
	}
	return sm
}

// parseVTTTime accepts HH:MM:SS.mmm or MM:SS.mmm.
func parseVTTTime(s string) (time.Duration, error) {
	var h, m int
	var sec float64
	if n, _ := fmt.Sscanf(s, "%d:%d:%f", &h, &m, &sec); n == 3 {
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(sec*float64(time.Second)), nil
	}
	if n, _ := fmt.Sscanf(s, "%d:%f", &m, &sec); n == 2 {
		return time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), nil
	}
	return 0, errors.Errorf("bad timestamp %q", s)
}
