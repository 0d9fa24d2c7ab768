package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"clipforge/internal/config"
	"clipforge/internal/material"
	"clipforge/internal/storage"
	"clipforge/internal/taskstate"
	"clipforge/internal/tts"
	"clipforge/internal/video"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type stubScript struct {
	script string
	err    error
	calls  int
}

func (s *stubScript) Generate(ctx context.Context, subject, language string, paragraphs int) (string, error) {
	s.calls++
	return s.script, s.err
}

func (s *stubScript) ExtractTerms(ctx context.Context, subject, scriptText string, amount int) []string {
	return []string{"ocean", "waves"}
}

type stubSpeech struct {
	dur float64
	sm  *tts.SubMaker
	err error
}

func (s *stubSpeech) Synthesize(ctx context.Context, req tts.Request) (*tts.SubMaker, float64, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	if err := os.WriteFile(req.OutputPath, []byte("mp3"), 0o644); err != nil {
		return nil, 0, err
	}
	return s.sm, s.dur, nil
}

type stubSubtitle struct{ skip bool }

func (s *stubSubtitle) Build(scriptText string, sm *tts.SubMaker, outPath string) (string, error) {
	if s.skip {
		return "", nil
	}
	if err := os.WriteFile(outPath, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

type stubMaterial struct {
	paths []string
	err   error
}

func (s *stubMaterial) Acquire(ctx context.Context, req material.Request) ([]string, error) {
	return s.paths, s.err
}

type stubCompose struct {
	composeCalls int
	concatCalls  int
	err          error
}

func (s *stubCompose) Compose(ctx context.Context, req video.ComposeRequest) (string, error) {
	s.composeCalls++
	if s.err != nil {
		return "", s.err
	}
	if req.Progress != nil {
		req.Progress(1.0)
	}
	if err := os.WriteFile(req.OutputPath, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

func (s *stubCompose) ConcatFiles(ctx context.Context, paths []string, workDir, outPath string) error {
	s.concatCalls++
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

type stubRender struct{ calls int }

func (s *stubRender) Render(ctx context.Context, req video.RenderRequest) (string, error) {
	s.calls++
	if err := os.WriteFile(req.OutputPath, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

type fixture struct {
	p        *Pipeline
	script   *stubScript
	compose  *stubCompose
	render   *stubRender
	registry *taskstate.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout, err := storage.NewLayout(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatal(err)
	}
	scriptSvc := &stubScript{script: "First paragraph.\n\nSecond paragraph."}
	compose := &stubCompose{}
	render := &stubRender{}
	registry := taskstate.NewRegistry()
	return &fixture{
		p: &Pipeline{
			Registry: registry,
			Layout:   layout,
			Script:   scriptSvc,
			Speech:   &stubSpeech{dur: 10},
			Subtitle: &stubSubtitle{},
			Material: &stubMaterial{paths: []string{"clip-1.mp4", "clip-2.mp4"}},
			Compose:  compose,
			Render:   render,
			FontFile: "font.ttf",
			Log:      quietLog(),
		},
		script:   scriptSvc,
		compose:  compose,
		render:   render,
		registry: registry,
	}
}

func params() config.VideoParams {
	p := config.VideoParams{VideoSubject: "ocean life", SubtitleEnabled: true}
	p.Normalize()
	return p
}

func TestStartHappyPath(t *testing.T) {
	f := newFixture(t)
	res, err := f.p.Start(context.Background(), "t1", params(), StopFinal)
	if err != nil {
		t.Fatal(err)
	}

	if res.Script == "" || len(res.Terms) != 2 {
		t.Errorf("script=%q terms=%v", res.Script, res.Terms)
	}
	if len(res.Finals) != 1 {
		t.Fatalf("finals = %v", res.Finals)
	}
	if !storage.FileNonEmpty(res.Finals[0]) {
		t.Error("final video not written")
	}

	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateComplete {
		t.Errorf("state = %q", task.State)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %d", task.Progress)
	}
	if task.Artifacts["final-1"] != res.Finals[0] {
		t.Errorf("artifacts = %v", task.Artifacts)
	}

	// The text stages persist their output for restarts.
	if !storage.FileNonEmpty(f.p.Layout.TaskPath("t1", storage.ScriptJSON)) {
		t.Error("script.json not persisted")
	}
}

func TestStartMultipleVideos(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.VideoCount = 3

	res, err := f.p.Start(context.Background(), "t1", p, StopFinal)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Finals) != 3 || len(res.Combined) != 3 {
		t.Errorf("finals=%v combined=%v", res.Finals, res.Combined)
	}
	if f.compose.composeCalls != 3 || f.render.calls != 3 {
		t.Errorf("compose=%d render=%d", f.compose.composeCalls, f.render.calls)
	}
	for i, name := range []string{"final-1.mp4", "final-2.mp4", "final-3.mp4"} {
		if filepath.Base(res.Finals[i]) != name {
			t.Errorf("final[%d] = %q", i, res.Finals[i])
		}
	}
}

func TestStartFailsWhenScriptEmpty(t *testing.T) {
	f := newFixture(t)
	f.script.script = ""

	_, err := f.p.Start(context.Background(), "t1", params(), StopFinal)
	if err == nil {
		t.Fatal("expected failure for empty generated script")
	}
	if !strings.Contains(err.Error(), "script") {
		t.Errorf("error = %v, want the script stage named", err)
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateFailed {
		t.Errorf("state = %q", task.State)
	}
}

func TestStartFailsWithoutSubjectOrScript(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.VideoSubject = ""

	_, err := f.p.Start(context.Background(), "t1", p, StopFinal)
	if err == nil {
		t.Fatal("expected failure with neither subject nor script")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != "script" {
		t.Errorf("error = %v, want the script stage blamed", err)
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateFailed || !strings.Contains(task.Message, "script") {
		t.Errorf("state=%q message=%q", task.State, task.Message)
	}
	if len(task.Artifacts) != 0 {
		t.Errorf("artifacts = %v, want none", task.Artifacts)
	}
}

func TestStartComposeFailureNamesVideoStage(t *testing.T) {
	f := newFixture(t)
	f.compose.err = errors.New("encoder crashed")

	_, err := f.p.Start(context.Background(), "t1", params(), StopFinal)
	if err == nil {
		t.Fatal("expected compose failure to abort the task")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != "video" || se.Kind != KindEncoding {
		t.Errorf("error = %v, want the video stage with encoding kind", err)
	}
	task, _ := f.registry.Get("t1")
	if !strings.Contains(task.Message, "video") {
		t.Errorf("message = %q", task.Message)
	}
}

func TestBandProgressCheckpoints(t *testing.T) {
	// Three deliverables split the 50..100 band into thirds; stage-exit
	// checkpoints land on 67, 83 and 100.
	span := 50.0 / 3
	want := []int{67, 83, 100}
	for k := 0; k < 3; k++ {
		if got := bandProgress(50+float64(k)*span, span, 1); got != want[k] {
			t.Errorf("checkpoint %d = %d, want %d", k+1, got, want[k])
		}
	}
}

func TestStartFailsOnInvalidParams(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.VoiceRate = 9

	if _, err := f.p.Start(context.Background(), "t1", p, StopFinal); err == nil {
		t.Fatal("expected validation failure")
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateFailed {
		t.Errorf("state = %q", task.State)
	}
}

func TestStartStopAtTerms(t *testing.T) {
	f := newFixture(t)
	res, err := f.p.Start(context.Background(), "t1", params(), StopTerms)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Terms) == 0 {
		t.Error("terms missing")
	}
	if res.AudioPath != "" || len(res.Finals) != 0 {
		t.Errorf("later stages ran: %+v", res)
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateComplete {
		t.Errorf("state = %q", task.State)
	}
	if f.compose.composeCalls != 0 {
		t.Error("composer ran despite stop-at")
	}
}

func TestStartMaterialFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.p.Material = &stubMaterial{err: errors.New("no stock candidates found")}

	if _, err := f.p.Start(context.Background(), "t1", params(), StopFinal); err == nil {
		t.Fatal("expected material failure to abort the task")
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateFailed {
		t.Errorf("state = %q", task.State)
	}
	if !strings.Contains(task.Message, "materials") {
		t.Errorf("message = %q", task.Message)
	}
}

func TestStartSubtitleSoftFailure(t *testing.T) {
	f := newFixture(t)
	f.p.Subtitle = &stubSubtitle{skip: true}

	res, err := f.p.Start(context.Background(), "t1", params(), StopFinal)
	if err != nil {
		t.Fatal(err)
	}
	if res.SubtitlePath != "" {
		t.Errorf("subtitle path = %q, want empty", res.SubtitlePath)
	}
	if len(res.Finals) != 1 {
		t.Error("render did not run without subtitles")
	}
}

func TestStartReusesPersistedScript(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Start(context.Background(), "t1", params(), StopTerms); err != nil {
		t.Fatal(err)
	}
	if f.script.calls != 1 {
		t.Fatalf("generate calls = %d", f.script.calls)
	}

	// Restart with the same id: the persisted script short-circuits the LLM.
	if _, err := f.p.Start(context.Background(), "t1", params(), StopTerms); err != nil {
		t.Fatal(err)
	}
	if f.script.calls != 1 {
		t.Errorf("generate calls after restart = %d, want still 1", f.script.calls)
	}
}

func TestStartUserScriptSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.VideoScript = "A user-written narration."

	res, err := f.p.Start(context.Background(), "t1", p, StopScript)
	if err != nil {
		t.Fatal(err)
	}
	if res.Script != "A user-written narration." {
		t.Errorf("script = %q", res.Script)
	}
	if f.script.calls != 0 {
		t.Errorf("generate calls = %d, want 0", f.script.calls)
	}
	task, _ := f.registry.Get("t1")
	if task.Artifacts["script"] != res.Script {
		t.Errorf("script artifact = %q", task.Artifacts["script"])
	}
	if task.State != taskstate.StateComplete || task.Progress != 100 {
		t.Errorf("state=%q progress=%d", task.State, task.Progress)
	}
}

func TestStageErrorCarriesKindAndStage(t *testing.T) {
	err := stageErr("audio", KindProvider, errors.New("engine down"))
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatal("not a StageError")
	}
	if se.Stage != "audio" || se.Kind != KindProvider {
		t.Errorf("stage=%q kind=%q", se.Stage, se.Kind)
	}
	if !strings.Contains(err.Error(), "audio") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSplitSegments(t *testing.T) {
	got := SplitSegments("First paragraph.\n\nSecond paragraph.\r\n\r\nThird.")
	if len(got) != 3 {
		t.Fatalf("segments = %q", got)
	}
	if got[0] != "First paragraph." || got[2] != "Third." {
		t.Errorf("segments = %q", got)
	}
	if len(SplitSegments("  \n\n  ")) != 0 {
		t.Error("blank script produced segments")
	}
}

func TestStartLongform(t *testing.T) {
	f := newFixture(t)
	res, err := f.p.StartLongform(context.Background(), "t1", params(), StopFinal)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Finals) != 1 {
		t.Fatalf("finals = %v", res.Finals)
	}
	if !storage.FileNonEmpty(res.Finals[0]) {
		t.Error("merged video not written")
	}
	// Two paragraphs means two segment renders plus one merge.
	if f.render.calls != 2 {
		t.Errorf("render calls = %d, want 2", f.render.calls)
	}
	if f.compose.concatCalls != 1 {
		t.Errorf("concat calls = %d, want 1", f.compose.concatCalls)
	}
	task, _ := f.registry.Get("t1")
	if task.State != taskstate.StateComplete || task.Progress != 100 {
		t.Errorf("state=%q progress=%d", task.State, task.Progress)
	}
}
