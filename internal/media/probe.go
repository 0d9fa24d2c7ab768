package media

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Metadata describes the video stream of a media file.
type Metadata struct {
	Duration float64
	Width    int
	Height   int
	FPS      float64
}

// Probe runs ffprobe on path and extracts the video stream metadata.
func Probe(path string) (*Metadata, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", path)
	}
	return parseProbe(out)
}

// Duration probes the container duration in seconds. Works for audio-only
// files as well.
func Duration(path string) (float64, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, errors.Wrapf(err, "probe %s", path)
	}
	return parseDuration(out)
}

func parseProbe(probeJSON string) (*Metadata, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(probeJSON), &data); err != nil {
		return nil, errors.Wrap(err, "parse probe output")
	}

	streams, _ := data["streams"].([]interface{})
	var videoStream map[string]interface{}
	for _, s := range streams {
		m, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		if m["codec_type"] == "video" {
			videoStream = m
			break
		}
	}
	if videoStream == nil {
		return nil, errors.New("no video stream found")
	}

	md := &Metadata{}
	if w, ok := videoStream["width"].(float64); ok {
		md.Width = int(w)
	}
	if h, ok := videoStream["height"].(float64); ok {
		md.Height = int(h)
	}
	if s, ok := videoStream["r_frame_rate"].(string); ok {
		md.FPS = parseRational(s)
	}
	if md.FPS == 0 {
		if s, ok := videoStream["avg_frame_rate"].(string); ok {
			md.FPS = parseRational(s)
		}
	}

	// Stream duration first, container duration as fallback.
	if s, ok := videoStream["duration"].(string); ok {
		md.Duration, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	if md.Duration == 0 {
		if d, err := parseDuration(probeJSON); err == nil {
			md.Duration = d
		}
	}
	if md.Duration == 0 {
		return nil, errors.New("could not determine duration")
	}
	return md, nil
}

func parseDuration(probeJSON string) (float64, error) {
	var data struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(probeJSON), &data); err != nil {
		return 0, errors.Wrap(err, "parse probe output")
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(data.Format.Duration), 64)
	if err != nil {
		return 0, errors.New("no format duration in probe output")
	}
	return d, nil
}

func parseRational(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
