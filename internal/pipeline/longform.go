package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"clipforge/internal/config"
	"clipforge/internal/material"
	"clipforge/internal/storage"
	"clipforge/internal/video"
)

// StartLongform produces one long video from a multi-paragraph script.
// Each paragraph becomes a segment with its own narration, subtitles and
// materials; segment renders are merged into a single deliverable. All
// segment artifacts live in seg-k subdirectories of the task directory.
func (p *Pipeline) StartLongform(ctx context.Context, taskID string, params config.VideoParams, stopAt StopAt) (*Result, error) {
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

	res.Terms = p.runTerms(ctx, params, res.Script)
	p.persistScriptFile(taskID, scriptFile{Script: res.Script, SearchTerms: res.Terms, Params: params})
	p.Registry.SetProgress(taskID, progTermsDone)
	if stopAt == StopTerms {
		return p.finishEarly(taskID, res)
	}

	segments := SplitSegments(res.Script)
	if len(segments) == 0 {
		return p.fail(taskID, stageErr("script", KindInput, fmt.Errorf("script has no paragraphs")))
	}

	bgmPath, err := video.SelectBGM(ctx, params.BgmType, params.BgmFile, p.Layout)
	if err != nil {
		p.Log.Warnf("[task %s] bgm selection failed, continuing without: %v", taskID, err)
		bgmPath = ""
	}

	// Segments share the 15..95 band evenly; the merge takes the rest.
	span := 80.0 / float64(len(segments))
	var segFinals []string
	for i, segText := range segments {
		base := float64(progTermsDone) + float64(i)*span
		final, err := p.runSegment(ctx, taskID, i+1, segText, params, bgmPath, base, span, res)
		if err != nil {
			return p.fail(taskID, err)
		}
		segFinals = append(segFinals, final)
		p.Registry.SetProgress(taskID, bandProgress(base, span, 1))
	}

	merged := p.Layout.FinalVideo(taskID, 1)
	if err := p.Compose.ConcatFiles(ctx, segFinals, taskDir, merged); err != nil {
		return p.fail(taskID, stageErr("video", KindEncoding, err))
	}
	res.Finals = []string{merged}
	p.Registry.SetArtifact(taskID, "final-1", merged)
	p.Registry.SetProgress(taskID, progFinalDone)
	p.Registry.Complete(taskID)
	return res, nil
}

// runSegment executes the audio-to-render flow for one paragraph and
// returns the segment video path.
func (p *Pipeline) runSegment(ctx context.Context, taskID string, k int, segText string, params config.VideoParams, bgmPath string, base, span float64, res *Result) (string, error) {
	segID := path.Join(taskID, fmt.Sprintf("seg-%d", k))
	segDir, err := p.Layout.TaskDir(segID)
	if err != nil {
		return "", stageErr("audio", KindResource, err)
	}

	sm, audioDur, err := p.runAudio(ctx, segID, params, segText)
	if err != nil {
		return "", err
	}
	audioPath := p.Layout.TaskPath(segID, storage.AudioMP3)
	res.AudioPath = audioPath
	p.Registry.SetProgress(taskID, bandProgress(base, span, 0.2))

	subtitlePath := p.runSubtitle(segID, params, segText, sm)
	p.Registry.SetProgress(taskID, bandProgress(base, span, 0.3))

	materials, err := p.Material.Acquire(ctx, material.Request{
		TaskID:          segID,
		Terms:           res.Terms,
		Source:          params.VideoSource,
		Aspect:          params.VideoAspect,
		ConcatMode:      params.VideoConcatMode,
		AudioDuration:   audioDur,
		MaxClipDuration: params.VideoClipDuration,
	})
	if err != nil {
		return "", stageErr("materials", KindProvider, err)
	}
	res.Materials = append(res.Materials, materials...)
	p.Registry.SetProgress(taskID, bandProgress(base, span, 0.5))

	combined, err := p.Compose.Compose(ctx, video.ComposeRequest{
		OutputPath:      p.Layout.CombinedVideo(segID, 1),
		InputPaths:      materials,
		AudioPath:       audioPath,
		Aspect:          params.VideoAspect,
		ConcatMode:      params.VideoConcatMode,
		TransitionMode:  params.VideoTransitionMode,
		MaxClipDuration: params.VideoClipDuration,
		Threads:         params.NThreads,
		WorkDir:         segDir,
		Progress: func(f float64) {
			p.Registry.SetProgress(taskID, bandProgress(base, span, 0.5+f*0.3))
		},
	})
	if err != nil {
		return "", stageErr("video", KindEncoding, err)
	}
	res.Combined = append(res.Combined, combined)

	// The subject card only opens the video.
	title := ""
	if k == 1 {
		title = params.VideoSubject
	}
	final, err := p.Render.Render(ctx, video.RenderRequest{
		TaskDir:      segDir,
		VideoPath:    combined,
		AudioPath:    audioPath,
		OutputPath:   p.Layout.FinalVideo(segID, 1),
		SubtitlePath: subtitlePath,
		TitleText:    title,
		FontPath:     p.FontFile,
		Aspect:       params.VideoAspect,
		Params:       params,
		BgmPath:      bgmPath,
	})
	if err != nil {
		return "", stageErr("video", KindEncoding, err)
	}
	return final, nil
}

// SplitSegments breaks a script into paragraph segments at blank lines.
func SplitSegments(script string) []string {
	var segments []string
	for _, block := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			segments = append(segments, block)
		}
	}
	return segments
}
