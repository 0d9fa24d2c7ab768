package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"clipforge/internal/config"
	"clipforge/internal/material"
	"clipforge/internal/storage"
	"clipforge/internal/taskstate"
	"clipforge/internal/tts"
	"clipforge/internal/video"
)

// StopAt names the checkpoint after which a run finishes early. The zero
// value runs the full pipeline.
type StopAt string

const (
	StopScript    StopAt = "script"
	StopTerms     StopAt = "terms"
	StopAudio     StopAt = "audio"
	StopSubtitle  StopAt = "subtitle"
	StopMaterials StopAt = "materials"
	StopVideo     StopAt = "video" // same as a full run
	StopFinal     StopAt = ""
)

// Progress checkpoints per stage. The final stage splits 50..100 evenly
// across the requested video count.
const (
	progScriptStart   = 5
	progScriptDone    = 10
	progTermsStart    = 12
	progTermsDone     = 15
	progAudioStart    = 20
	progAudioDone     = 30
	progSubtitleDone  = 40
	progMaterialsDone = 50
	progFinalDone     = 100
	defaultTermCount  = 5
)

// ScriptService produces narration text and search terms.
type ScriptService interface {
	Generate(ctx context.Context, subject, language string, paragraphs int) (string, error)
	ExtractTerms(ctx context.Context, subject, scriptText string, amount int) []string
}

// SubtitleService aligns a script against word boundaries and writes SRT.
// An empty path with nil error means subtitles were skipped.
type SubtitleService interface {
	Build(scriptText string, sm *tts.SubMaker, outPath string) (string, error)
}

// MaterialService downloads enough validated stock clips to cover the
// narration.
type MaterialService interface {
	Acquire(ctx context.Context, req material.Request) ([]string, error)
}

// ComposeService turns materials into a silent combined video and merges
// finished videos.
type ComposeService interface {
	Compose(ctx context.Context, req video.ComposeRequest) (string, error)
	ConcatFiles(ctx context.Context, paths []string, workDir, outPath string) error
}

// RenderService muxes narration, BGM, subtitles and the title card.
type RenderService interface {
	Render(ctx context.Context, req video.RenderRequest) (string, error)
}

// Result lists the artifacts of one finished run.
type Result struct {
	Script       string
	Terms        []string
	AudioPath    string
	SubtitlePath string
	Materials    []string
	Combined     []string
	Finals       []string
}

// Pipeline wires the seven stages together and mirrors their lifecycle
// into the task registry.
type Pipeline struct {
	Registry *taskstate.Registry
	Layout   *storage.Layout
	Script   ScriptService
	Speech   tts.Engine
	Subtitle SubtitleService
	Material MaterialService
	Compose  ComposeService
	Render   RenderService
	FontFile string
	Log      *logrus.Logger
}

// scriptFile is the persisted output of the text stages, reused when a
// task is restarted with the same id.
type scriptFile struct {
	Script      string             `json:"script"`
	SearchTerms []string           `json:"search_terms"`
	Params      config.VideoParams `json:"params"`
}

// Start runs the full pipeline for one task. A non-empty stopAt finishes
// the run early with the task marked complete at that checkpoint.
func (p *Pipeline) Start(ctx context.Context, taskID string, params config.VideoParams, stopAt StopAt) (*Result, error) {
	p.Registry.Create(taskID)
	params.Normalize()
	if err := params.Validate(); err != nil {
		return p.fail(taskID, stageErr(validateStage(params), KindInput, err))
	}
	taskDir, err := p.Layout.TaskDir(taskID)
	if err != nil {
		return p.fail(taskID, stageErr("validate", KindResource, err))
	}

	res := &Result{}

	// Script and terms from a previous run short-circuit the LLM stages.
	if cached, ok := p.loadScriptFile(taskID); ok {
		p.Log.Infof("[task %s] reusing persisted script", taskID)
		if params.VideoScript == "" {
			params.VideoScript = cached.Script
		}
		if len(params.VideoTerms) == 0 {
			params.VideoTerms = cached.SearchTerms
		}
	}

	// Stage 1: script.
	p.Registry.SetProgress(taskID, progScriptStart)
	res.Script, err = p.runScript(ctx, params)
	if err != nil {
		return p.fail(taskID, err)
	}
	p.Registry.SetArtifact(taskID, "script", res.Script)
	p.Registry.SetProgress(taskID, progScriptDone)
	if stopAt == StopScript {
		return p.finishEarly(taskID, res)
	}

	// Stage 2: search terms.
	p.Registry.SetProgress(taskID, progTermsStart)
	res.Terms = p.runTerms(ctx, params, res.Script)
	p.persistScriptFile(taskID, scriptFile{Script: res.Script, SearchTerms: res.Terms, Params: params})
	p.Registry.SetProgress(taskID, progTermsDone)
	if stopAt == StopTerms {
		return p.finishEarly(taskID, res)
	}

	// Stage 3: narration audio.
	p.Registry.SetProgress(taskID, progAudioStart)
	sm, audioDur, err := p.runAudio(ctx, taskID, params, res.Script)
	if err != nil {
		return p.fail(taskID, err)
	}
	res.AudioPath = p.Layout.TaskPath(taskID, storage.AudioMP3)
	p.Registry.SetArtifact(taskID, "audio", res.AudioPath)
	p.Registry.SetProgress(taskID, progAudioDone)
	if stopAt == StopAudio {
		return p.finishEarly(taskID, res)
	}

	// Stage 4: subtitles. Soft-fails to none.
	res.SubtitlePath = p.runSubtitle(taskID, params, res.Script, sm)
	p.Registry.SetProgress(taskID, progSubtitleDone)
	if stopAt == StopSubtitle {
		return p.finishEarly(taskID, res)
	}

	// Stage 5: materials.
	res.Materials, err = p.Material.Acquire(ctx, material.Request{
		TaskID:          taskID,
		Terms:           res.Terms,
		Source:          params.VideoSource,
		Aspect:          params.VideoAspect,
		ConcatMode:      params.VideoConcatMode,
		AudioDuration:   audioDur,
		MaxClipDuration: params.VideoClipDuration,
	})
	if err != nil {
		return p.fail(taskID, stageErr("materials", KindProvider, err))
	}
	p.Registry.SetProgress(taskID, progMaterialsDone)
	if stopAt == StopMaterials {
		return p.finishEarly(taskID, res)
	}

	// Stage 6: compose and render, one pass per requested video.
	if err := p.runFinals(ctx, taskID, taskDir, params, res); err != nil {
		return p.fail(taskID, err)
	}

	p.Registry.SetProgress(taskID, progFinalDone)
	p.Registry.Complete(taskID)
	return res, nil
}

func (p *Pipeline) runScript(ctx context.Context, params config.VideoParams) (string, error) {
	if s := strings.TrimSpace(params.VideoScript); s != "" {
		return s, nil
	}
	s, err := p.Script.Generate(ctx, params.VideoSubject, params.VideoLanguage, params.ParagraphNumber)
	if err != nil {
		return "", stageErr("script", KindProvider, err)
	}
	if strings.TrimSpace(s) == "" {
		return "", stageErr("script", KindProvider, errors.New("failed to generate video script"))
	}
	return s, nil
}

func (p *Pipeline) runTerms(ctx context.Context, params config.VideoParams, scriptText string) []string {
	if len(params.VideoTerms) > 0 {
		return params.VideoTerms
	}
	return p.Script.ExtractTerms(ctx, params.VideoSubject, scriptText, defaultTermCount)
}

func (p *Pipeline) runAudio(ctx context.Context, taskID string, params config.VideoParams, scriptText string) (*tts.SubMaker, float64, error) {
	engine := p.Speech
	if params.AudioFile != "" {
		engine = &tts.FileEngine{Path: params.AudioFile}
	}
	sm, dur, err := engine.Synthesize(ctx, tts.Request{
		Text:       scriptText,
		Voice:      params.VoiceName,
		Rate:       params.VoiceRate,
		Volume:     params.VoiceVolume,
		OutputPath: p.Layout.TaskPath(taskID, storage.AudioMP3),
	})
	if err != nil {
		return nil, 0, stageErr("audio", KindProvider, err)
	}
	return sm, dur, nil
}

func (p *Pipeline) runSubtitle(taskID string, params config.VideoParams, scriptText string, sm *tts.SubMaker) string {
	if !params.SubtitleEnabled {
		return ""
	}
	outPath := p.Layout.TaskPath(taskID, storage.SubtitleSRT)
	path, err := p.Subtitle.Build(scriptText, sm, outPath)
	if err != nil {
		p.Log.Warnf("[task %s] subtitle build failed, continuing without: %v", taskID, err)
		return ""
	}
	if path != "" {
		p.Registry.SetArtifact(taskID, "subtitle", path)
	}
	return path
}

// runFinals composes and renders video_count deliverables. Each iteration
// owns an equal share of the 50..100 progress band, split between its
// compose and render halves.
func (p *Pipeline) runFinals(ctx context.Context, taskID, taskDir string, params config.VideoParams, res *Result) error {
	count := params.VideoCount
	span := float64(progFinalDone-progMaterialsDone) / float64(count)

	bgmPath, err := video.SelectBGM(ctx, params.BgmType, params.BgmFile, p.Layout)
	if err != nil {
		p.Log.Warnf("[task %s] bgm selection failed, continuing without: %v", taskID, err)
		bgmPath = ""
	}

	for k := 1; k <= count; k++ {
		base := float64(progMaterialsDone) + float64(k-1)*span

		combined, err := p.Compose.Compose(ctx, video.ComposeRequest{
			OutputPath:      p.Layout.CombinedVideo(taskID, k),
			InputPaths:      res.Materials,
			AudioPath:       res.AudioPath,
			Aspect:          params.VideoAspect,
			ConcatMode:      params.VideoConcatMode,
			TransitionMode:  params.VideoTransitionMode,
			MaxClipDuration: params.VideoClipDuration,
			Threads:         params.NThreads,
			WorkDir:         taskDir,
			Progress: func(f float64) {
				p.Registry.SetProgress(taskID, bandProgress(base, span, f/2))
			},
		})
		if err != nil {
			return stageErr("video", KindEncoding, err)
		}
		res.Combined = append(res.Combined, combined)
		p.Registry.SetProgress(taskID, bandProgress(base, span, 0.5))

		final, err := p.Render.Render(ctx, video.RenderRequest{
			TaskDir:      taskDir,
			VideoPath:    combined,
			AudioPath:    res.AudioPath,
			OutputPath:   p.Layout.FinalVideo(taskID, k),
			SubtitlePath: res.SubtitlePath,
			TitleText:    params.VideoSubject,
			FontPath:     p.FontFile,
			Aspect:       params.VideoAspect,
			Params:       params,
			BgmPath:      bgmPath,
		})
		if err != nil {
			return stageErr("video", KindEncoding, err)
		}
		res.Finals = append(res.Finals, final)
		p.Registry.SetArtifact(taskID, fmt.Sprintf("final-%d", k), final)
		p.Registry.SetProgress(taskID, bandProgress(base, span, 1))
	}
	return nil
}

// validateStage names the stage blamed for a parameter failure. With
// neither subject nor script the run cannot produce a narration, so
// that failure belongs to the script stage.
func validateStage(params config.VideoParams) string {
	if strings.TrimSpace(params.VideoSubject) == "" && strings.TrimSpace(params.VideoScript) == "" {
		return "script"
	}
	return "validate"
}

// bandProgress converts a position inside one stage band to a rounded
// percentage checkpoint.
func bandProgress(base, span, fraction float64) int {
	return int(math.Round(base + span*fraction))
}

func (p *Pipeline) finishEarly(taskID string, res *Result) (*Result, error) {
	p.Registry.Complete(taskID)
	return res, nil
}

func (p *Pipeline) fail(taskID string, err error) (*Result, error) {
	p.Log.Errorf("[task %s] %v", taskID, err)
	p.Registry.Fail(taskID, err.Error())
	return nil, err
}

func (p *Pipeline) persistScriptFile(taskID string, sf scriptFile) {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return
	}
	path := p.Layout.TaskPath(taskID, storage.ScriptJSON)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.Log.Warnf("[task %s] could not persist script.json: %v", taskID, err)
	}
}

func (p *Pipeline) loadScriptFile(taskID string) (scriptFile, bool) {
	var sf scriptFile
	data, err := os.ReadFile(p.Layout.TaskPath(taskID, storage.ScriptJSON))
	if err != nil {
		return sf, false
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, false
	}
	return sf, sf.Script != ""
}
