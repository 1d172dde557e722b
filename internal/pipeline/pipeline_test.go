package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/config"
	"github.com/iabetor/streamvoice/internal/proc/proctest"
	"github.com/iabetor/streamvoice/internal/script"
	"github.com/iabetor/streamvoice/internal/tts"
	"github.com/iabetor/streamvoice/internal/worker"
)

// stubEngine 写出一段极短的静音 WAV。fail 为 true 或文本超过 max 时返回空结果。
type stubEngine struct {
	kind tts.Kind
	max  int
	fail bool

	mu    sync.Mutex
	texts []string
}

func (e *stubEngine) Describe() tts.Descriptor {
	return tts.Descriptor{Name: e.kind, MaxTextLength: e.max}
}

func (e *stubEngine) MaxTextLength() int { return e.max }

func (e *stubEngine) Voices(ctx context.Context) []string { return nil }

func (e *stubEngine) Synthesize(ctx context.Context, req tts.Request) tts.Result {
	e.mu.Lock()
	e.texts = append(e.texts, req.Text)
	e.mu.Unlock()
	if e.fail || (e.max > 0 && utf8.RuneCountInString(req.Text) > e.max) {
		return nil
	}
	wav, err := audio.Silence(0.01, audio.SpeechFormat)
	if err != nil {
		return nil
	}
	f, err := audio.WriteTemp(string(e.kind), wav)
	if err != nil {
		return nil
	}
	return tts.Result{f}
}

func (e *stubEngine) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

type testEnv struct {
	p         *Pipeline
	runner    *proctest.Runner
	renderDir string
}

func newTestPipeline(t *testing.T, engines ...tts.Engine) *testEnv {
	t.Helper()
	t.Setenv("TMPDIR", t.TempDir())

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Audio.RenderDir = filepath.Join(t.TempDir(), "rendered")
	gap := 0.0
	cfg.Audio.GapSeconds = &gap

	runner := &proctest.Runner{}
	player := audio.NewPlayer("", audio.WithRunner(runner), audio.WithPlatform("linux"), audio.WithInProcessFallback(nil))

	p, err := New(cfg, WithEngines(engines...), WithPlayer(player))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return &testEnv{p: p, runner: runner, renderDir: cfg.Audio.RenderDir}
}

// playedPaths 返回传给 paplay 的文件路径。
func (e *testEnv) playedPaths() []string {
	var paths []string
	for _, c := range e.runner.Calls {
		if c.Name == "paplay" && len(c.Args) > 0 {
			paths = append(paths, c.Args[len(c.Args)-1])
		}
	}
	return paths
}

func TestSpeak_FallsBackAndDeletesTransientAudio(t *testing.T) {
	voicevox := &stubEngine{kind: tts.KindVoicevox, max: 1000, fail: true}
	system := &stubEngine{kind: tts.KindSystem, max: 2000}
	env := newTestPipeline(t, voicevox, system)
	ctx := context.Background()

	if err := env.p.Speak(ctx, SpeakRequest{Text: "こんにちは"}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if len(voicevox.Texts()) != 1 || len(system.Texts()) != 1 {
		t.Errorf("expected one attempt per engine, got voicevox=%v system=%v", voicevox.Texts(), system.Texts())
	}
	played := env.playedPaths()
	if len(played) != 1 {
		t.Fatalf("expected one playback, got %v", played)
	}
	if _, err := os.Stat(played[0]); !os.IsNotExist(err) {
		t.Error("transient audio should be deleted after playback")
	}

	counts, err := env.p.SynthesisCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["system_tts"] != 1 || counts["voicevox"] != 0 {
		t.Errorf("unexpected synthesis counts: %v", counts)
	}
	if env.p.State().Current() != StateIdle {
		t.Errorf("state after Speak: got %s, want Idle", env.p.State().Current())
	}
}

func TestSpeak_SplitsTextLongerThanPreferredEngineLimit(t *testing.T) {
	voicevox := &stubEngine{kind: tts.KindVoicevox, max: 10}
	env := newTestPipeline(t, voicevox)

	if err := env.p.Speak(context.Background(), SpeakRequest{Text: "One. Two. Three. Four."}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	want := []string{"One. Two.", "Three.", "Four."}
	if got := voicevox.Texts(); !reflect.DeepEqual(got, want) {
		t.Errorf("chunks: got %q, want %q", got, want)
	}
	if n := len(env.playedPaths()); n != 3 {
		t.Errorf("expected 3 playbacks, got %d", n)
	}
}

func TestSpeak_SplitsToSmallestFallbackLimit(t *testing.T) {
	google := &stubEngine{kind: tts.KindGoogle, max: 5000}
	voicevox := &stubEngine{kind: tts.KindVoicevox, max: 1000}
	system := &stubEngine{kind: tts.KindSystem, max: 2000}
	env := newTestPipeline(t, google, voicevox, system)
	env.p.Manager().SetAPIKey("")

	text := strings.Repeat("テストの文です。", 300)
	if err := env.p.Speak(context.Background(), SpeakRequest{Text: text, Engine: tts.KindGoogle}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if len(google.Texts()) != 0 {
		t.Error("google should be skipped without an API key")
	}
	chunks := voicevox.Texts()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for voicevox, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 1000 {
			t.Errorf("chunk has %d runes, exceeds voicevox limit", n)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks must preserve the text")
	}
	if len(system.Texts()) != 0 {
		t.Errorf("system_tts should not be needed, got %d calls", len(system.Texts()))
	}
	if n := len(env.playedPaths()); n != 3 {
		t.Errorf("expected 3 playbacks, got %d", n)
	}
}

func TestSpeak_StateTransitions(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindVoicevox, max: 100})

	var (
		mu          sync.Mutex
		transitions []string
	)
	env.p.State().SetOnChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"→"+to.String())
		mu.Unlock()
	})

	if err := env.p.Speak(context.Background(), SpeakRequest{Text: "テスト"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Idle→Synthesizing", "Synthesizing→Speaking", "Speaking→Idle"}
	if !reflect.DeepEqual(transitions, want) {
		t.Errorf("transitions: got %v, want %v", transitions, want)
	}
}

func TestSpeak_Errors(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindSystem, max: 100, fail: true})
	ctx := context.Background()

	if err := env.p.Speak(ctx, SpeakRequest{Text: "   "}); !errors.Is(err, tts.ErrInvalidRequest) {
		t.Errorf("blank text: expected ErrInvalidRequest, got %v", err)
	}

	err := env.p.Speak(ctx, SpeakRequest{Text: "だめ"})
	var fe *tts.FallbackError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FallbackError, got %v", err)
	}
	if !errors.Is(err, tts.ErrAllEnginesFailed) {
		t.Error("fallback error should wrap ErrAllEnginesFailed")
	}
	if len(env.playedPaths()) != 0 {
		t.Error("nothing should be played when every engine fails")
	}
	if env.p.State().Current() != StateIdle {
		t.Errorf("state after failure: got %s, want Idle", env.p.State().Current())
	}
}

func TestSpeakAsync_ReportsCompletion(t *testing.T) {
	system := &stubEngine{kind: tts.KindSystem, max: 100}
	env := newTestPipeline(t, system)

	done := make(chan worker.Result, 1)
	id, err := env.p.SpeakAsync(SpeakRequest{Text: "非同期"}, func(r worker.Result) { done <- r })
	if err != nil {
		t.Fatalf("SpeakAsync failed: %v", err)
	}

	select {
	case r := <-done:
		if r.Err != nil {
			t.Errorf("task failed: %v", r.Err)
		}
		if r.TaskID != id {
			t.Errorf("task id: got %s, want %s", r.TaskID, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async speak")
	}
	if got := system.Texts(); len(got) != 1 || got[0] != "非同期" {
		t.Errorf("unexpected synthesized texts: %q", got)
	}
}

func TestWait_PlaysSilence(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindSystem, max: 100})

	if err := env.p.Wait(context.Background(), 0.1); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n := len(env.playedPaths()); n != 1 {
		t.Errorf("expected one playback, got %d", n)
	}
	if err := env.p.Wait(context.Background(), -1); !errors.Is(err, tts.ErrInvalidRequest) {
		t.Errorf("negative wait: expected ErrInvalidRequest, got %v", err)
	}
}

func TestRenderScript_PersistsAndPlayScriptKeepsFiles(t *testing.T) {
	voicevox := &stubEngine{kind: tts.KindVoicevox, max: 100}
	system := &stubEngine{kind: tts.KindSystem, max: 100}
	env := newTestPipeline(t, voicevox, system)
	ctx := context.Background()

	lines, err := env.p.RenderScript(ctx, "ep1", []ScriptLine{
		{Speaker: "ずんだもん", Text: "始めるのだ。", Voice: "ずんだもん(ノーマル)"},
		{Wait: 0.2},
		{Speaker: "ナレーター", Text: "おしまい。", Engine: "system_tts"},
	})
	if err != nil {
		t.Fatalf("RenderScript failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].Kind != script.KindSpeech || lines[0].Engine != "voicevox" || lines[0].LineNo != 1 {
		t.Errorf("unexpected first line: %+v", lines[0])
	}
	if lines[1].Kind != script.KindWait || lines[1].WaitSeconds != 0.2 {
		t.Errorf("unexpected wait line: %+v", lines[1])
	}
	if lines[2].Engine != "system_tts" {
		t.Errorf("explicit engine not honored: %+v", lines[2])
	}
	for _, l := range lines {
		if filepath.Dir(l.AudioPath) != env.renderDir {
			t.Errorf("audio should be stored in render dir, got %s", l.AudioPath)
		}
	}

	if err := env.p.PlayScript(ctx, "ep1"); err != nil {
		t.Fatalf("PlayScript failed: %v", err)
	}
	played := env.playedPaths()
	if len(played) != 3 {
		t.Fatalf("expected 3 playbacks, got %v", played)
	}
	for i, l := range lines {
		if played[i] != l.AudioPath {
			t.Errorf("playback %d: got %s, want %s", i, played[i], l.AudioPath)
		}
		if _, err := os.Stat(l.AudioPath); err != nil {
			t.Errorf("rendered audio must survive playback: %v", err)
		}
	}

	scripts, err := env.p.Scripts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 || scripts[0] != (script.Summary{ID: "ep1", Lines: 3}) {
		t.Errorf("Scripts: got %+v", scripts)
	}
}

func TestRenderScript_RerenderReplacesScript(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindVoicevox, max: 100})
	ctx := context.Background()

	first, err := env.p.RenderScript(ctx, "ep1", []ScriptLine{{Text: "一"}, {Text: "二"}, {Text: "三"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.p.RenderScript(ctx, "ep1", []ScriptLine{{Text: "新しい一"}}); err != nil {
		t.Fatal(err)
	}

	scripts, _ := env.p.Scripts(ctx)
	if len(scripts) != 1 || scripts[0].Lines != 1 {
		t.Errorf("expected a single line after re-render, got %+v", scripts)
	}
	for _, l := range first {
		if _, err := os.Stat(l.AudioPath); !os.IsNotExist(err) {
			t.Errorf("old audio %s should be removed", l.AudioPath)
		}
	}

	n, err := env.p.DeleteScript(ctx, "ep1")
	if err != nil || n != 1 {
		t.Errorf("DeleteScript: got %d, %v", n, err)
	}
	if err := env.p.PlayScript(ctx, "ep1"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("expected ErrScriptNotFound, got %v", err)
	}
}

func TestRenderScript_FailureRemovesRenderedFiles(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindVoicevox, max: 100})
	ctx := context.Background()

	_, err := env.p.RenderScript(ctx, "ep1", []ScriptLine{{Text: "大丈夫"}, {Speaker: "空"}})
	if !errors.Is(err, tts.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	entries, _ := os.ReadDir(env.renderDir)
	if len(entries) != 0 {
		t.Errorf("render dir should be empty after failure, got %d files", len(entries))
	}
	if scripts, _ := env.p.Scripts(ctx); len(scripts) != 0 {
		t.Errorf("nothing should be saved, got %+v", scripts)
	}

	if _, err := env.p.RenderScript(ctx, "ep1", []ScriptLine{{Text: "x", Engine: "piper"}}); err == nil {
		t.Error("expected error for unknown engine")
	}
	if _, err := env.p.RenderScript(ctx, " ", []ScriptLine{{Text: "x"}}); err == nil {
		t.Error("expected error for blank script id")
	}
}

func TestWithoutDatabase_ScriptOperationsUnavailable(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	p, err := New(config.Default(), WithEngines(&stubEngine{kind: tts.KindSystem}), WithoutDatabase(),
		WithPlayer(audio.NewPlayer("", audio.WithRunner(&proctest.Runner{}), audio.WithPlatform("linux"))))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	ctx := context.Background()

	if _, err := p.RenderScript(ctx, "ep1", []ScriptLine{{Text: "x"}}); !errors.Is(err, ErrNoStore) {
		t.Errorf("RenderScript: expected ErrNoStore, got %v", err)
	}
	if err := p.PlayScript(ctx, "ep1"); !errors.Is(err, ErrNoStore) {
		t.Errorf("PlayScript: expected ErrNoStore, got %v", err)
	}
	if counts, err := p.SynthesisCounts(ctx); err != nil || len(counts) != 0 {
		t.Errorf("SynthesisCounts: got %v, %v", counts, err)
	}
}

func TestApplyConfig_UpdatesManagerAndPlayer(t *testing.T) {
	env := newTestPipeline(t,
		&stubEngine{kind: tts.KindVoicevox, max: 100},
		&stubEngine{kind: tts.KindSystem, max: 100},
	)
	if env.p.Manager().Current() != tts.KindVoicevox {
		t.Fatalf("initial default: got %s", env.p.Manager().Current())
	}

	cfg := config.Default()
	cfg.TTS.DefaultEngine = "system_tts"
	cfg.TTS.Priority = []string{"system_tts", "voicevox"}
	cfg.Audio.OutputDevice = "alsa_output.hdmi"
	env.p.ApplyConfig(cfg)

	if env.p.Manager().Current() != tts.KindSystem {
		t.Errorf("default engine: got %s, want system_tts", env.p.Manager().Current())
	}
	if got := env.p.Manager().CandidateOrder(""); len(got) == 0 || got[0] != tts.KindSystem {
		t.Errorf("candidate order not updated: %v", got)
	}
	if env.p.Player().Device() != "alsa_output.hdmi" {
		t.Errorf("device: got %s", env.p.Player().Device())
	}
}

func TestClose_StopsRunner(t *testing.T) {
	env := newTestPipeline(t, &stubEngine{kind: tts.KindSystem, max: 100})
	if err := env.p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := env.p.SpeakAsync(SpeakRequest{Text: "x"}, nil); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("expected worker.ErrClosed after Close, got %v", err)
	}
	if err := env.p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
