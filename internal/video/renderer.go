package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"clipforge/internal/config"
	"clipforge/internal/storage"
)

// RenderRequest drives one final mux: narration, optional BGM, optional
// burned-in subtitles and optional title card over the combined video.
type RenderRequest struct {
	TaskDir      string
	VideoPath    string
	AudioPath    string
	OutputPath   string
	SubtitlePath string // empty disables burn-in
	TitleText    string // empty disables the title card
	FontPath     string
	Aspect       config.Aspect
	Params       config.VideoParams
	BgmPath      string // empty disables BGM
}

// Renderer performs the final single-pass mux. All filter-referenced files
// (subtitles, fonts, title card) are addressed relative to the task
// directory because the subtitles filter cannot cope with Windows drive
// colons in absolute paths.
type Renderer struct {
	Log        *logrus.Logger
	MuxTimeout time.Duration
}

// Render writes the final video and returns its path.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	withTitle := false
	if req.TitleText != "" {
		if err := r.prepareTitle(req); err != nil {
			r.Log.Warnf("[render] title card failed, continuing without: %v", err)
		} else {
			withTitle = true
		}
	}
	if req.SubtitlePath != "" {
		if err := copyFile(req.FontPath, filepath.Join(req.TaskDir, storage.FontTTF)); err != nil {
			return "", errors.Wrap(err, "stage font")
		}
	}
	video := videoGraph(req, withTitle)

	narration := ffmpeg.Input(req.AudioPath).
		Filter("volume", ffmpeg.Args{fmt.Sprintf("%.2f", req.Params.VoiceVolume)})
	audio := narration
	if req.BgmPath != "" {
		bgm := ffmpeg.Input(req.BgmPath, ffmpeg.KwArgs{"stream_loop": -1}).
			Filter("volume", ffmpeg.Args{fmt.Sprintf("%.2f", req.Params.BgmVolume)})
		audio = ffmpeg.Filter([]*ffmpeg.Stream{narration, bgm}, "amix",
			ffmpeg.Args{"inputs=2", "duration=first", "dropout_transition=0"})
	}

	cmd := ffmpeg.Output([]*ffmpeg.Stream{video, audio}, req.OutputPath, ffmpeg.KwArgs{
		"c:v":      "libx264",
		"preset":   "ultrafast",
		"crf":      "23",
		"pix_fmt":  "yuv420p",
		"c:a":      "aac",
		"b:a":      "192k",
		"shortest": "",
	}).OverWriteOutput().Compile()

	if err := runCmd(ctx, cmd, req.TaskDir, r.MuxTimeout); err != nil {
		return "", errors.Wrap(err, "final mux")
	}
	return req.OutputPath, nil
}

// videoGraph chains the video filters: subtitles burn in first, then
// the title card lands on top of the subtitled frame.
func videoGraph(req RenderRequest, withTitle bool) *ffmpeg.Stream {
	video := ffmpeg.Input(req.VideoPath)
	if req.SubtitlePath != "" {
		video = video.Filter("subtitles", ffmpeg.Args{
			storage.SubtitleSRT,
			"fontsdir=.",
			"force_style='" + ForceStyle(req.Aspect, req.Params) + "'",
		})
	}
	if withTitle {
		title := ffmpeg.Input(filepath.Join(req.TaskDir, storage.TitlePNG))
		video = ffmpeg.Filter([]*ffmpeg.Stream{video, title}, "overlay", ffmpeg.Args{"0", "0"})
	}
	return video
}

func (r *Renderer) prepareTitle(req RenderRequest) error {
	w, h := req.Aspect.Resolution()
	return RenderTitle(req.TitleText, req.FontPath,
		filepath.Join(req.TaskDir, storage.TitlePNG), w, h)
}

// ForceStyle renders the libass force_style string for burned-in
// subtitles. Portrait frames get the smaller face and a higher bottom
// margin so text clears platform UI chrome.
func ForceStyle(aspect config.Aspect, p config.VideoParams) string {
	fontSize := 20
	marginV := 20
	if aspect.IsPortrait() {
		fontSize = 16
		marginV = 70
	}
	if p.FontSize > 0 {
		fontSize = p.FontSize
	}

	alignment := 2 // bottom center
	switch p.SubtitlePosition {
	case config.PositionTop:
		alignment = 8
	case config.PositionCenter:
		alignment = 5
	case config.PositionCustom:
		// Custom keeps bottom alignment; the margin moves the block up as
		// a percentage of the frame height.
		_, frameH := aspect.Resolution()
		marginV = int(float64(frameH) * (1 - p.CustomPosition/100) * 0.1)
	}

	parts := []string{
		fmt.Sprintf("FontSize=%d", fontSize),
		"FontName=" + fontName(p),
		"PrimaryColour=" + assColor(p.TextForeColor, "FFFFFF"),
		"OutlineColour=" + assColor(p.StrokeColor, "000000"),
		fmt.Sprintf("Outline=%s", trimFloat(strokeWidth(p))),
		fmt.Sprintf("Alignment=%d", alignment),
		fmt.Sprintf("MarginV=%d", marginV),
	}
	return strings.Join(parts, ",")
}

func fontName(p config.VideoParams) string {
	if p.FontName != "" {
		return strings.TrimSuffix(p.FontName, filepath.Ext(p.FontName))
	}
	return "Arial"
}

func strokeWidth(p config.VideoParams) float64 {
	if p.StrokeWidth > 0 {
		return p.StrokeWidth
	}
	return 2
}

// assColor converts "#RRGGBB" to the libass &HBBGGRR& form.
func assColor(hex, fallback string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		hex = fallback
	}
	return "&H" + strings.ToUpper(hex[4:6]+hex[2:4]+hex[0:2]) + "&"
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.1f", f)
	return strings.TrimSuffix(s, ".0")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
