package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Aspect selects the target frame geometry of the final render.
type Aspect string

const (
	AspectPortrait  Aspect = "portrait"  // 9:16
	AspectLandscape Aspect = "landscape" // 16:9
	AspectSquare    Aspect = "square"    // 1:1
)

// Resolution returns the output width and height for the aspect.
func (a Aspect) Resolution() (int, int) {
	switch a {
	case AspectPortrait:
		return 1080, 1920
	case AspectLandscape:
		return 1920, 1080
	case AspectSquare:
		return 1080, 1080
	}
	return 0, 0
}

// Valid reports whether the aspect is one of the supported values.
func (a Aspect) Valid() bool {
	w, _ := a.Resolution()
	return w != 0
}

// IsPortrait reports whether the target is taller than wide.
func (a Aspect) IsPortrait() bool { return a == AspectPortrait }

// ConcatMode controls the ordering of material slices.
type ConcatMode string

const (
	ConcatSequential ConcatMode = "sequential"
	ConcatRandom     ConcatMode = "random"
)

func (m ConcatMode) Valid() bool {
	return m == ConcatSequential || m == ConcatRandom
}

// TransitionMode is the per-slice effect applied during composition.
type TransitionMode string

const (
	TransitionNone     TransitionMode = "none"
	TransitionFadeIn   TransitionMode = "fade_in"
	TransitionFadeOut  TransitionMode = "fade_out"
	TransitionSlideIn  TransitionMode = "slide_in"
	TransitionSlideOut TransitionMode = "slide_out"
	TransitionShuffle  TransitionMode = "shuffle"
)

func (m TransitionMode) Valid() bool {
	switch m {
	case TransitionNone, TransitionFadeIn, TransitionFadeOut,
		TransitionSlideIn, TransitionSlideOut, TransitionShuffle:
		return true
	}
	return false
}

// VideoSource names the stock-footage backend.
type VideoSource string

const (
	SourcePexels  VideoSource = "pexels"
	SourcePixabay VideoSource = "pixabay"
	SourceLocal   VideoSource = "local"
)

func (s VideoSource) Valid() bool {
	return s == SourcePexels || s == SourcePixabay || s == SourceLocal
}

// BgmType selects the background music behaviour of the final render.
type BgmType string

const (
	BgmNone   BgmType = "none"
	BgmRandom BgmType = "random"
	BgmCustom BgmType = "custom"
)

// SubtitlePosition anchors burned-in subtitles vertically.
type SubtitlePosition string

const (
	PositionTop    SubtitlePosition = "top"
	PositionCenter SubtitlePosition = "center"
	PositionBottom SubtitlePosition = "bottom"
	PositionCustom SubtitlePosition = "custom"
)

// VideoParams is the immutable configuration for one pipeline run.
type VideoParams struct {
	VideoSubject string `yaml:"video_subject" json:"video_subject"`
	VideoScript  string `yaml:"video_script" json:"video_script"`

	VideoTerms    []string `yaml:"video_terms" json:"video_terms"`
	VideoLanguage string   `yaml:"video_language" json:"video_language"`

	VideoAspect         Aspect         `yaml:"video_aspect" json:"video_aspect"`
	VideoSource         VideoSource    `yaml:"video_source" json:"video_source"`
	VideoConcatMode     ConcatMode     `yaml:"video_concat_mode" json:"video_concat_mode"`
	VideoTransitionMode TransitionMode `yaml:"video_transition_mode" json:"video_transition_mode"`
	VideoClipDuration   int            `yaml:"video_clip_duration" json:"video_clip_duration"`
	VideoCount          int            `yaml:"video_count" json:"video_count"`

	VoiceName   string  `yaml:"voice_name" json:"voice_name"`
	VoiceRate   float64 `yaml:"voice_rate" json:"voice_rate"`
	VoiceVolume float64 `yaml:"voice_volume" json:"voice_volume"`
	AudioFile   string  `yaml:"audio_file" json:"audio_file"` // user-supplied narration, bypasses TTS

	BgmType   BgmType `yaml:"bgm_type" json:"bgm_type"`
	BgmFile   string  `yaml:"bgm_file" json:"bgm_file"`
	BgmVolume float64 `yaml:"bgm_volume" json:"bgm_volume"`

	SubtitleEnabled  bool             `yaml:"subtitle_enabled" json:"subtitle_enabled"`
	SubtitleProvider string           `yaml:"subtitle_provider" json:"subtitle_provider"`
	SubtitlePosition SubtitlePosition `yaml:"subtitle_position" json:"subtitle_position"`
	CustomPosition   float64          `yaml:"custom_position" json:"custom_position"`

	FontName      string  `yaml:"font_name" json:"font_name"`
	FontSize      int     `yaml:"font_size" json:"font_size"`
	TextForeColor string  `yaml:"text_fore_color" json:"text_fore_color"`
	StrokeColor   string  `yaml:"stroke_color" json:"stroke_color"`
	StrokeWidth   float64 `yaml:"stroke_width" json:"stroke_width"`

	NThreads        int `yaml:"n_threads" json:"n_threads"`
	ParagraphNumber int `yaml:"paragraph_number" json:"paragraph_number"`
}

// Normalize fills zero-valued fields with working defaults.
func (p *VideoParams) Normalize() {
	if p.VideoAspect == "" {
		p.VideoAspect = AspectPortrait
	}
	if p.VideoSource == "" {
		p.VideoSource = SourcePexels
	}
	if p.VideoConcatMode == "" {
		p.VideoConcatMode = ConcatRandom
	}
	if p.VideoTransitionMode == "" {
		p.VideoTransitionMode = TransitionNone
	}
	if p.VideoClipDuration <= 0 {
		p.VideoClipDuration = 5
	}
	if p.VideoCount <= 0 {
		p.VideoCount = 1
	}
	if p.VoiceRate == 0 {
		p.VoiceRate = 1.0
	}
	if p.VoiceVolume == 0 {
		p.VoiceVolume = 1.0
	}
	if p.BgmType == "" {
		p.BgmType = BgmNone
	}
	if p.BgmVolume == 0 {
		p.BgmVolume = 0.2
	}
	if p.SubtitleProvider == "" {
		p.SubtitleProvider = "edge"
	}
	if p.SubtitlePosition == "" {
		p.SubtitlePosition = PositionBottom
	}
	if p.NThreads <= 0 {
		p.NThreads = 2
	}
	if p.ParagraphNumber <= 0 {
		p.ParagraphNumber = 1
	}
	if p.VideoLanguage == "" {
		p.VideoLanguage = "en-US"
	}
}

// Validate rejects parameter sets the pipeline cannot run.
func (p *VideoParams) Validate() error {
	if p.VideoSubject == "" && p.VideoScript == "" {
		return errors.New("video_subject and video_script are both empty")
	}
	if !p.VideoAspect.Valid() {
		return errors.Errorf("unsupported video_aspect %q", p.VideoAspect)
	}
	if !p.VideoSource.Valid() {
		return errors.Errorf("unsupported video_source %q", p.VideoSource)
	}
	if !p.VideoConcatMode.Valid() {
		return errors.Errorf("unsupported video_concat_mode %q", p.VideoConcatMode)
	}
	if !p.VideoTransitionMode.Valid() {
		return errors.Errorf("unsupported video_transition_mode %q", p.VideoTransitionMode)
	}
	if p.VoiceRate < 0.5 || p.VoiceRate > 2.0 {
		return errors.Errorf("voice_rate %.2f out of range [0.5, 2.0]", p.VoiceRate)
	}
	if p.VoiceVolume < 0.1 || p.VoiceVolume > 3.0 {
		return errors.Errorf("voice_volume %.2f out of range [0.1, 3.0]", p.VoiceVolume)
	}
	if p.BgmType == BgmCustom && p.BgmFile == "" {
		return errors.New("bgm_type is custom but bgm_file is empty")
	}
	if p.BgmVolume < 0 || p.BgmVolume > 1 {
		return errors.Errorf("bgm_volume %.2f out of range [0, 1]", p.BgmVolume)
	}
	return nil
}

// LLMProvider describes one OpenAI-compatible chat completion endpoint.
type LLMProvider struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// LLMConfig groups the text-generation endpoints and their timeouts.
type LLMConfig struct {
	Providers      []LLMProvider `yaml:"providers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RaceTimeout    time.Duration `yaml:"race_timeout"`
}

// TTSConfig configures the speech synthesis engine.
type TTSConfig struct {
	Command      string `yaml:"command"` // edge-tts compatible binary
	DefaultVoice string `yaml:"default_voice"`
}

// MaterialConfig configures stock footage search and download.
type MaterialConfig struct {
	PexelsAPIKey    string        `yaml:"pexels_api_key"`
	PixabayAPIKey   string        `yaml:"pixabay_api_key"`
	LocalDir        string        `yaml:"local_dir"`
	SearchTimeout   time.Duration `yaml:"search_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	MaxWorkers      int           `yaml:"max_workers"`
}

// RenderConfig configures the ffmpeg-facing stages.
type RenderConfig struct {
	FontFile   string        `yaml:"font_file"`
	MuxTimeout time.Duration `yaml:"mux_timeout"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full application configuration snapshot.
type Config struct {
	StorageRoot string         `yaml:"storage_root"`
	LLM         LLMConfig      `yaml:"llm"`
	TTS         TTSConfig      `yaml:"tts"`
	Material    MaterialConfig `yaml:"material"`
	Render      RenderConfig   `yaml:"render"`
	Log         LogConfig      `yaml:"log"`
}

// Load reads config.yaml, applies env var overrides for secrets, and
// fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.applyEnv()
	cfg.normalize()
	return &cfg, nil
}

// Defaults returns a configuration with no file loaded, suitable for tests
// and for running with env-only secrets.
func Defaults() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PEXELS_API_KEY"); v != "" {
		c.Material.PexelsAPIKey = v
	}
	if v := os.Getenv("PIXABAY_API_KEY"); v != "" {
		c.Material.PixabayAPIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		for i := range c.LLM.Providers {
			if c.LLM.Providers[i].APIKey == "" {
				c.LLM.Providers[i].APIKey = v
			}
		}
	}
}

func (c *Config) normalize() {
	if c.StorageRoot == "" {
		c.StorageRoot = "storage"
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 30 * time.Second
	}
	if c.LLM.RaceTimeout == 0 {
		c.LLM.RaceTimeout = 60 * time.Second
	}
	if c.TTS.Command == "" {
		c.TTS.Command = "edge-tts"
	}
	if c.TTS.DefaultVoice == "" {
		c.TTS.DefaultVoice = "en-US-GuyNeural"
	}
	if c.Material.SearchTimeout == 0 {
		c.Material.SearchTimeout = 20 * time.Second
	}
	if c.Material.DownloadTimeout == 0 {
		c.Material.DownloadTimeout = 60 * time.Second
	}
	if c.Material.MaxWorkers <= 0 {
		c.Material.MaxWorkers = 5
	}
	if c.Render.MuxTimeout == 0 {
		c.Render.MuxTimeout = 300 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
