package video

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"clipforge/internal/config"
	"clipforge/internal/media"
)

// Source is one validated input file with its probed geometry.
type Source struct {
	Path     string
	Duration float64
	Width    int
	Height   int
}

// Clip is a [start, end) interval of a source, at most maxClipDuration long.
type Clip struct {
	SourcePath string
	StartTime  float64
	EndTime    float64
	Width      int
	Height     int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 { return c.EndTime - c.StartTime }

// ComposeRequest drives one composition run.
type ComposeRequest struct {
	OutputPath      string
	InputPaths      []string
	AudioPath       string
	Aspect          config.Aspect
	ConcatMode      config.ConcatMode
	TransitionMode  config.TransitionMode
	MaxClipDuration int
	Threads         int
	WorkDir         string // task directory; temp clips and the manifest live here
	Progress        func(fraction float64)
}

// Composer slices, rescales, transitions and concatenates stock clips to
// cover the narration. The render is two-phase: per-clip encodes first,
// then a single concat pass, so no full-length composition is ever held
// in memory.
type Composer struct {
	Log        *logrus.Logger
	MuxTimeout time.Duration
}

// Compose writes the combined video and returns its path.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	audioDur, err := media.Duration(req.AudioPath)
	if err != nil {
		return "", errors.Wrap(err, "probe narration")
	}
	w, h := req.Aspect.Resolution()

	if len(req.InputPaths) == 0 {
		c.Log.Warn("[compose] no inputs, rendering blank video")
		if err := c.renderBlank(ctx, req.OutputPath, w, h, audioDur); err != nil {
			return "", err
		}
		return req.OutputPath, nil
	}

	sources := c.probeSources(req.InputPaths)
	clips := PlanSlices(sources, req.MaxClipDuration, req.ConcatMode)
	if len(clips) == 0 {
		return "", errors.New("no clips could be sliced from inputs")
	}
	if req.ConcatMode == config.ConcatRandom {
		rand.Shuffle(len(clips), func(i, j int) { clips[i], clips[j] = clips[j], clips[i] })
	}
	clips = CoverSlices(clips, audioDur)

	rendered, renderedDurs := c.encodeClips(ctx, req, clips, w, h)
	if len(rendered) == 0 {
		return "", errors.New("all clip encodes failed")
	}

	order := PlanLoop(renderedDurs, audioDur)
	ordered := make([]string, len(order))
	for i, idx := range order {
		ordered[i] = rendered[idx]
	}

	if req.TransitionMode != config.TransitionNone {
		err = c.concatFilter(ctx, ordered, req.OutputPath, req.Threads)
	} else {
		err = c.concatDemuxer(ctx, ordered, req.WorkDir, req.OutputPath)
	}
	if err != nil {
		return "", err
	}

	for _, p := range rendered {
		os.Remove(p)
	}
	os.Remove(filepath.Join(req.WorkDir, "concat_list.txt"))
	return req.OutputPath, nil
}

func (c *Composer) probeSources(paths []string) []Source {
	var sources []Source
	for _, p := range paths {
		md, err := media.Probe(p)
		if err != nil {
			c.Log.Warnf("[compose] skipping unreadable input %s: %v", p, err)
			continue
		}
		sources = append(sources, Source{
			Path: p, Duration: md.Duration, Width: md.Width, Height: md.Height,
		})
	}
	return sources
}

// encodeClips renders each slice to temp-clip-<i>.mp4. Failed encodes are
// skipped; the caller fails only when none survive.
func (c *Composer) encodeClips(ctx context.Context, req ComposeRequest, clips []Clip, w, h int) ([]string, []float64) {
	var rendered []string
	var durs []float64
	for i, clip := range clips {
		tempPath := filepath.Join(req.WorkDir, fmt.Sprintf("temp-clip-%d.mp4", i))
		mode := resolveTransition(req.TransitionMode)
		if err := c.encodeClip(ctx, clip, tempPath, w, h, mode, req.Threads); err != nil {
			c.Log.Warnf("[compose] clip %d encode failed, skipping: %v", i, err)
			continue
		}
		rendered = append(rendered, tempPath)
		durs = append(durs, clip.Duration())
		if req.Progress != nil {
			req.Progress(float64(i+1) / float64(len(clips)))
		}
	}
	return rendered, durs
}

// encodeClip decodes one slice, rescales it to the target frame, applies
// the transition and writes a muted H.264 temp clip.
func (c *Composer) encodeClip(ctx context.Context, clip Clip, outPath string, w, h int, mode config.TransitionMode, threads int) error {
	in := ffmpeg.Input(clip.SourcePath, ffmpeg.KwArgs{
		"ss": fmt.Sprintf("%.3f", clip.StartTime),
		"t":  fmt.Sprintf("%.3f", clip.Duration()),
	})
	stream := in
	for _, step := range ScaleSteps(clip.Width, clip.Height, w, h) {
		stream = stream.Filter(step.Name, ffmpeg.Args(step.Args))
	}

	dur := clip.Duration()
	switch mode {
	case config.TransitionFadeIn:
		stream = stream.Filter("fade", ffmpeg.Args{"t=in", "st=0", "d=1"})
	case config.TransitionFadeOut:
		stream = stream.Filter("fade", ffmpeg.Args{"t=out", fmt.Sprintf("st=%.3f", maxFloat(dur-1, 0)), "d=1"})
	case config.TransitionSlideIn, config.TransitionSlideOut:
		base := ffmpeg.Input(
			fmt.Sprintf("color=c=black:s=%dx%d:d=%.3f", w, h, dur),
			ffmpeg.KwArgs{"f": "lavfi"},
		)
		xExpr, yExpr := SlideExprs(mode, randomSide(), w, h, dur)
		stream = ffmpeg.Filter([]*ffmpeg.Stream{base, stream}, "overlay",
			ffmpeg.Args{"x=" + xExpr, "y=" + yExpr, "shortest=1"})
	}

	cmd := stream.Output(outPath, clipEncodeArgs(threads)).
		OverWriteOutput().Compile()
	return runCmd(ctx, cmd, "", c.MuxTimeout)
}

func clipEncodeArgs(threads int) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c:v":     "libx264",
		"preset":  "ultrafast",
		"crf":     "23",
		"pix_fmt": "yuv420p",
		"an":      "",
		"threads": threads,
	}
}

// ConcatFiles joins finished videos through a concat manifest, re-encoding
// once so mismatched segment encodes still join cleanly.
func (c *Composer) ConcatFiles(ctx context.Context, paths []string, workDir, outPath string) error {
	return c.concatDemuxer(ctx, paths, workDir, outPath)
}

// concatDemuxer joins temp clips losslessly via a concat manifest.
func (c *Composer) concatDemuxer(ctx context.Context, paths []string, workDir, outPath string) error {
	manifest := BuildConcatManifest(paths)
	if manifest == "" {
		return errors.New("concat manifest is empty")
	}
	listPath := filepath.Join(workDir, "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(manifest), 0o644); err != nil {
		return errors.Wrap(err, "write concat manifest")
	}

	cmd := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outPath, ffmpeg.KwArgs{
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			"preset":  "ultrafast",
			"crf":     "23",
			"c:a":     "aac",
		}).
		OverWriteOutput().Compile()
	return runCmd(ctx, cmd, "", c.MuxTimeout)
}

// concatFilter joins temp clips through an in-memory concat filter so
// per-clip transitions survive the join.
func (c *Composer) concatFilter(ctx context.Context, paths []string, outPath string, threads int) error {
	streams := make([]*ffmpeg.Stream, len(paths))
	for i, p := range paths {
		streams[i] = ffmpeg.Input(p)
	}
	joined := ffmpeg.Filter(streams, "concat",
		ffmpeg.Args{fmt.Sprintf("n=%d", len(streams)), "v=1", "a=0"})

	cmd := joined.Output(outPath, clipEncodeArgs(threads)).
		OverWriteOutput().Compile()
	return runCmd(ctx, cmd, "", c.MuxTimeout)
}

// renderBlank writes a solid black video of exactly the narration length.
func (c *Composer) renderBlank(ctx context.Context, outPath string, w, h int, duration float64) error {
	cmd := ffmpeg.Input(
		fmt.Sprintf("color=c=black:s=%dx%d:d=%.3f", w, h, duration),
		ffmpeg.KwArgs{"f": "lavfi"},
	).Output(outPath, ffmpeg.KwArgs{
		"c:v":     "libx264",
		"preset":  "ultrafast",
		"crf":     "23",
		"pix_fmt": "yuv420p",
		"t":       fmt.Sprintf("%.3f", duration),
	}).OverWriteOutput().Compile()
	return runCmd(ctx, cmd, "", c.MuxTimeout)
}

// PlanSlices cuts non-overlapping slices of exactly maxClip seconds from
// each source, dropping the remainder. Sequential mode keeps only the
// first slice per source.
func PlanSlices(sources []Source, maxClip int, mode config.ConcatMode) []Clip {
	step := float64(maxClip)
	var clips []Clip
	for _, s := range sources {
		for start := 0.0; start+step <= s.Duration+1e-9; start += step {
			clips = append(clips, Clip{
				SourcePath: s.Path,
				StartTime:  start,
				EndTime:    start + step,
				Width:      s.Width,
				Height:     s.Height,
			})
			if mode == config.ConcatSequential {
				break
			}
		}
	}
	return clips
}

// CoverSlices keeps the shortest prefix of clips whose total duration
// covers the narration, so a short narration never encodes unused
// slices. The full list is kept when even it falls short.
func CoverSlices(clips []Clip, audioDuration float64) []Clip {
	var total float64
	for i, c := range clips {
		total += c.Duration()
		if total >= audioDuration {
			return clips[:i+1]
		}
	}
	return clips
}

// PlanLoop returns the playback order over the rendered clips: clips in
// sequence until the accumulated duration covers the narration, cycling
// from the start when the pool falls short.
func PlanLoop(durations []float64, audioDuration float64) []int {
	if len(durations) == 0 {
		return nil
	}
	order := []int{0}
	total := durations[0]
	for i := 1 % len(durations); total < audioDuration; i = (i + 1) % len(durations) {
		order = append(order, i)
		total += durations[i]
	}
	return order
}

// FilterStep is one named ffmpeg filter with its positional args.
type FilterStep struct {
	Name string
	Args []string
}

// ScaleSteps produces the rescale chain for one slice:
//   - matching ratio: plain resize
//   - portrait target: crop-to-fill, centered
//   - other targets: fit inside and pad with black bars
func ScaleSteps(srcW, srcH, dstW, dstH int) []FilterStep {
	if srcW <= 0 || srcH <= 0 {
		return []FilterStep{{Name: "scale", Args: []string{fmt.Sprintf("%d:%d", dstW, dstH)}}}
	}
	srcRatio := float64(srcW) / float64(srcH)
	dstRatio := float64(dstW) / float64(dstH)

	if almostEqual(srcRatio, dstRatio) {
		return []FilterStep{{Name: "scale", Args: []string{fmt.Sprintf("%d:%d", dstW, dstH)}}}
	}

	if dstW < dstH { // portrait target: crop to fill
		if srcRatio > dstRatio {
			// Wider source: match height, crop sides.
			scaledW := even(int(float64(dstH) * srcRatio))
			return []FilterStep{
				{Name: "scale", Args: []string{fmt.Sprintf("%d:%d", scaledW, dstH)}},
				{Name: "crop", Args: []string{fmt.Sprintf("%d:%d", dstW, dstH)}},
			}
		}
		// Taller source: match width, crop top/bottom.
		scaledH := even(int(float64(dstW) / srcRatio))
		return []FilterStep{
			{Name: "scale", Args: []string{fmt.Sprintf("%d:%d", dstW, scaledH)}},
			{Name: "crop", Args: []string{fmt.Sprintf("%d:%d", dstW, dstH)}},
		}
	}

	// Landscape and square targets: letterbox.
	return []FilterStep{
		{Name: "scale", Args: []string{
			fmt.Sprintf("%d:%d:force_original_aspect_ratio=decrease", dstW, dstH)}},
		{Name: "pad", Args: []string{
			fmt.Sprintf("%d:%d:(ow-iw)/2:(oh-ih)/2:black", dstW, dstH)}},
	}
}

// SlideExprs returns overlay x/y expressions animating the clip on or off
// screen over one second.
func SlideExprs(mode config.TransitionMode, side string, w, h int, dur float64) (string, string) {
	if mode == config.TransitionSlideIn {
		switch side {
		case "left":
			return fmt.Sprintf("'min(0,-%d+%d*t)'", w, w), "0"
		case "right":
			return fmt.Sprintf("'max(0,%d-%d*t)'", w, w), "0"
		case "top":
			return "0", fmt.Sprintf("'min(0,-%d+%d*t)'", h, h)
		default: // bottom
			return "0", fmt.Sprintf("'max(0,%d-%d*t)'", h, h)
		}
	}
	// slide_out: hold in place, then leave during the final second.
	start := maxFloat(dur-1, 0)
	switch side {
	case "left":
		return fmt.Sprintf("'if(lt(t,%.3f),0,-%d*(t-%.3f))'", start, w, start), "0"
	case "right":
		return fmt.Sprintf("'if(lt(t,%.3f),0,%d*(t-%.3f))'", start, w, start), "0"
	case "top":
		return "0", fmt.Sprintf("'if(lt(t,%.3f),0,-%d*(t-%.3f))'", start, h, start)
	default:
		return "0", fmt.Sprintf("'if(lt(t,%.3f),0,%d*(t-%.3f))'", start, h, start)
	}
}

// BuildConcatManifest renders the demuxer list: one quoted file line per
// clip, forward slashes only.
func BuildConcatManifest(paths []string) string {
	var lines []string
	for _, p := range paths {
		p = strings.ReplaceAll(p, "\\", "/")
		p = strings.ReplaceAll(p, "'", `'\''`)
		lines = append(lines, fmt.Sprintf("file '%s'", p))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

var transitionPool = []config.TransitionMode{
	config.TransitionFadeIn, config.TransitionFadeOut,
	config.TransitionSlideIn, config.TransitionSlideOut,
}

func resolveTransition(mode config.TransitionMode) config.TransitionMode {
	if mode == config.TransitionShuffle {
		return transitionPool[rand.Intn(len(transitionPool))]
	}
	return mode
}

var slideSides = []string{"left", "right", "top", "bottom"}

func randomSide() string { return slideSides[rand.Intn(len(slideSides))] }

func even(n int) int {
	if n%2 != 0 {
		return n - 1
	}
	return n
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 0.01 && d > -0.01
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// runCmd executes a compiled ffmpeg command with a hard timeout so a hung
// encoder never wedges the pipeline.
func runCmd(ctx context.Context, cmd *exec.Cmd, dir string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start ffmpeg")
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return errors.Wrap(ctx.Err(), "ffmpeg timed out")
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "ffmpeg: %s", tail(stderr.String(), 400))
		}
		return nil
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
