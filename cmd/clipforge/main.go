package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"clipforge/internal/config"
	"clipforge/internal/llm"
	"clipforge/internal/material"
	"clipforge/internal/pipeline"
	"clipforge/internal/script"
	"clipforge/internal/storage"
	"clipforge/internal/subtitle"
	"clipforge/internal/taskstate"
	"clipforge/internal/tts"
	"clipforge/internal/upload"
	"clipforge/internal/video"
)

var (
	configPath string
	verbose    bool
)

func main() {
	// Missing .env is fine; secrets may come from the environment proper.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "clipforge",
		Short:         "Automated short and long form video generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newGenerateCmd(), newLongformCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runFlags maps CLI flags onto the per-run video parameters.
type runFlags struct {
	params config.VideoParams
	terms  []string
	taskID string
	stopAt string
	upload bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	p := &f.params
	cmd.Flags().StringVar(&p.VideoSubject, "subject", "", "video subject")
	cmd.Flags().StringVar(&p.VideoScript, "script", "", "narration script, skips generation")
	cmd.Flags().StringSliceVar(&f.terms, "terms", nil, "search terms, skips extraction")
	cmd.Flags().StringVar(&p.VideoLanguage, "language", "", "script language, e.g. en-US")
	cmd.Flags().StringVar((*string)(&p.VideoAspect), "aspect", "portrait", "portrait, landscape or square")
	cmd.Flags().StringVar((*string)(&p.VideoSource), "source", "pexels", "pexels, pixabay or local")
	cmd.Flags().StringVar((*string)(&p.VideoConcatMode), "concat-mode", "random", "random or sequential")
	cmd.Flags().StringVar((*string)(&p.VideoTransitionMode), "transition", "none", "none, fade_in, fade_out, slide_in, slide_out or shuffle")
	cmd.Flags().IntVar(&p.VideoClipDuration, "clip-duration", 5, "max seconds per clip slice")
	cmd.Flags().IntVar(&p.VideoCount, "count", 1, "number of videos to produce")
	cmd.Flags().StringVar(&p.VoiceName, "voice", "", "TTS voice name")
	cmd.Flags().Float64Var(&p.VoiceRate, "voice-rate", 1.0, "speech rate factor")
	cmd.Flags().Float64Var(&p.VoiceVolume, "voice-volume", 1.0, "narration volume factor")
	cmd.Flags().StringVar(&p.AudioFile, "audio-file", "", "use this narration file instead of TTS")
	cmd.Flags().StringVar((*string)(&p.BgmType), "bgm-type", "none", "none, random or custom")
	cmd.Flags().StringVar(&p.BgmFile, "bgm-file", "", "custom background music file")
	cmd.Flags().Float64Var(&p.BgmVolume, "bgm-volume", 0.2, "background music volume")
	cmd.Flags().BoolVar(&p.SubtitleEnabled, "subtitle", true, "burn in subtitles")
	cmd.Flags().StringVar((*string)(&p.SubtitlePosition), "subtitle-position", "bottom", "top, center, bottom or custom")
	cmd.Flags().Float64Var(&p.CustomPosition, "custom-position", 70, "custom subtitle position, percent from top")
	cmd.Flags().StringVar(&p.FontName, "font", "", "subtitle font name")
	cmd.Flags().IntVar(&p.FontSize, "font-size", 0, "subtitle font size, 0 = per-aspect default")
	cmd.Flags().IntVar(&p.NThreads, "threads", 2, "ffmpeg encoder threads")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "reuse a task id to resume its artifacts")
	cmd.Flags().StringVar(&f.stopAt, "stop-at", "", "finish early after: script, terms, audio, subtitle or materials")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "upload finals to YouTube")
}

func newGenerateCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate short videos from a subject or script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &flags, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newLongformCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "longform",
		Short: "Generate one long video from a multi-paragraph script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &flags, true)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.params.ParagraphNumber, "paragraphs", 3, "paragraphs to generate")
	return cmd
}

func run(cmd *cobra.Command, flags *runFlags, longform bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	flags.params.VideoTerms = flags.terms
	if flags.params.VoiceName == "" {
		flags.params.VoiceName = cfg.TTS.DefaultVoice
	}
	taskID := flags.taskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	log.Infof("starting task %s", taskID)

	p, err := buildPipeline(cfg, flags.params.VideoSource, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var res *pipeline.Result
	if longform {
		res, err = p.StartLongform(ctx, taskID, flags.params, pipeline.StopAt(flags.stopAt))
	} else {
		res, err = p.Start(ctx, taskID, flags.params, pipeline.StopAt(flags.stopAt))
	}
	if err != nil {
		return err
	}

	for _, f := range res.Finals {
		log.Infof("final video: %s", f)
	}
	if flags.upload {
		return uploadFinals(ctx, log, flags.params, res)
	}
	return nil
}

func uploadFinals(ctx context.Context, log *logrus.Logger, params config.VideoParams, res *pipeline.Result) error {
	up := &upload.Uploader{Log: log}
	for _, f := range res.Finals {
		url, err := up.Upload(ctx, f, upload.Metadata{
			Title:       params.VideoSubject,
			Description: res.Script,
			Tags:        res.Terms,
			Language:    params.VideoLanguage,
		})
		if err != nil {
			return err
		}
		log.Infof("uploaded %s -> %s", f, url)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load("config.yaml")
	}
	return config.Defaults(), nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.Log.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// buildPipeline wires the stage services for one run.
func buildPipeline(cfg *config.Config, source config.VideoSource, log *logrus.Logger) (*pipeline.Pipeline, error) {
	layout, err := storage.NewLayout(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}

	var providers []llm.Provider
	for _, pc := range cfg.LLM.Providers {
		providers = append(providers, llm.NewChatProvider(pc, cfg.LLM.RequestTimeout))
	}
	gen := script.NewGenerator(providers, cfg.LLM.RaceTimeout, log)

	var searcher material.SearchProvider
	switch source {
	case config.SourcePixabay:
		searcher = material.NewPixabay(cfg.Material.PixabayAPIKey, cfg.Material.SearchTimeout)
	case config.SourceLocal:
		searcher = nil // the acquirer reads the local directory directly
	default:
		searcher = material.NewPexels(cfg.Material.PexelsAPIKey, cfg.Material.SearchTimeout)
	}

	return &pipeline.Pipeline{
		Registry: taskstate.NewRegistry(),
		Layout:   layout,
		Script:   gen,
		Speech:   &tts.EdgeEngine{Command: cfg.TTS.Command, Log: log},
		Subtitle: &subtitle.Builder{Log: log},
		Material: material.NewAcquirer(searcher, gen, layout, cfg.Material, log),
		Compose:  &video.Composer{Log: log, MuxTimeout: cfg.Render.MuxTimeout},
		Render:   &video.Renderer{Log: log, MuxTimeout: cfg.Render.MuxTimeout},
		FontFile: cfg.Render.FontFile,
		Log:      log,
	}, nil
}
