// Package pipeline 把引擎管理器、播放器、任务执行器和台词存储组装在一起。
// 每个进程只创建一个 Pipeline，并显式传给命令行或 UI 使用。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/config"
	"github.com/iabetor/streamvoice/internal/database"
	"github.com/iabetor/streamvoice/internal/logger"
	"github.com/iabetor/streamvoice/internal/script"
	"github.com/iabetor/streamvoice/internal/tts"
	"github.com/iabetor/streamvoice/internal/worker"
)

var (
	// ErrNoStore 表示未启用数据库，无法使用剧本功能。
	ErrNoStore = errors.New("未启用台词存储")
	// ErrScriptNotFound 表示剧本不存在或没有台词。
	ErrScriptNotFound = errors.New("剧本不存在")
)

// SpeakRequest 是一次朗读请求。
type SpeakRequest struct {
	Text  string
	Voice string
	// Engine 为空时使用默认引擎。
	Engine tts.Kind
	// Speed 为 0 时使用配置中的语速。
	Speed  float64
	APIKey string
}

// ScriptLine 是待渲染的一句台词。Text 为空且 Wait > 0 时是一段静音。
type ScriptLine struct {
	Speaker string  `yaml:"speaker"`
	Text    string  `yaml:"text"`
	Voice   string  `yaml:"voice"`
	Engine  string  `yaml:"engine"`
	Wait    float64 `yaml:"wait"`
}

// Option 修改 New 的默认组装方式。
type Option func(*options)

type options struct {
	engines      []tts.Engine
	player       *audio.Player
	skipDatabase bool
	queueSize    int
}

// WithEngines 使用给定的引擎代替按配置创建的引擎。
func WithEngines(engines ...tts.Engine) Option {
	return func(o *options) { o.engines = engines }
}

// WithPlayer 使用给定的播放器。
func WithPlayer(p *audio.Player) Option {
	return func(o *options) { o.player = p }
}

// WithoutDatabase 不打开数据库，剧本功能不可用。
func WithoutDatabase() Option {
	return func(o *options) { o.skipDatabase = true }
}

// WithQueueSize 设置后台任务队列容量。
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// Pipeline 是语音合成与播放的入口。
type Pipeline struct {
	manager *tts.Manager
	player  *audio.Player
	runner  *worker.Runner
	db      *database.DB
	store   *script.Store
	state   *StateMachine

	mu        sync.RWMutex
	speed     float64
	gap       time.Duration
	renderDir string

	closeOnce sync.Once
	closeErr  error
}

// New 按配置创建 Pipeline。cfg 为 nil 时使用默认配置。
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{queueSize: 16}
	for _, opt := range opts {
		opt(o)
	}

	engines := o.engines
	if len(engines) == 0 {
		var err error
		if engines, err = buildEngines(cfg); err != nil {
			return nil, err
		}
	}

	manager, err := tts.NewManager(tts.ManagerConfig{
		Engines:  engines,
		Priority: tts.ParsePriority(cfg.TTS.Priority),
		Default:  parseDefault(cfg.TTS.DefaultEngine),
		APIKey:   cfg.TTS.Google.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化引擎管理器失败: %w", err)
	}

	player := o.player
	if player == nil {
		player = audio.NewPlayer(cfg.Audio.OutputDevice)
	}

	p := &Pipeline{
		manager: manager,
		player:  player,
		state:   NewStateMachine(),
	}
	p.applySettings(cfg)

	if !o.skipDatabase {
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("初始化数据库失败: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
		p.db = db
		p.store = script.NewStore(db)
	}

	p.runner = worker.New(o.queueSize)
	p.runner.Start()

	logger.Infof("[pipeline] 已初始化 (设备=%s, 间隔=%v, 剧本存储=%v)", player.Device(), p.gap, p.store != nil)
	return p, nil
}

// buildEngines 按配置创建所有引擎。Edge 只在启用时注册。
func buildEngines(cfg *config.Config) ([]tts.Engine, error) {
	google, err := tts.NewGoogleEngine(tts.GoogleConfig{
		BaseURL:           cfg.TTS.Google.BaseURL,
		Model:             cfg.TTS.Google.Model,
		DefaultVoice:      cfg.TTS.Google.Voice,
		RequestsPerMinute: cfg.TTS.Google.RequestsPerMinute,
		Timeout:           time.Duration(cfg.TTS.Google.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	engines := []tts.Engine{
		google,
		tts.NewAivisEngine(tts.LocalConfig{
			BaseURL:      cfg.TTS.Avis.BaseURL,
			DefaultVoice: cfg.TTS.Avis.Voice,
		}),
		tts.NewVoicevoxEngine(tts.LocalConfig{
			BaseURL:      cfg.TTS.Voicevox.BaseURL,
			DefaultVoice: cfg.TTS.Voicevox.Voice,
		}),
		tts.NewSystemEngine(tts.SystemConfig{Voice: cfg.TTS.System.Voice}),
	}
	if cfg.TTS.Edge.Enabled {
		engines = append(engines, tts.NewEdgeEngine(cfg.TTS.Edge.Voice))
	}
	return engines, nil
}

func parseDefault(name string) tts.Kind {
	kind, err := tts.ParseKind(name)
	if err != nil {
		logger.Warnf("[pipeline] 默认引擎配置无效: %v", err)
		return ""
	}
	return kind
}

func (p *Pipeline) applySettings(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = cfg.TTS.Speed
	p.gap = time.Duration(cfg.Audio.Gap() * float64(time.Second))
	p.renderDir = cfg.Audio.RenderDir
}

func (p *Pipeline) settings() (speed float64, gap time.Duration, renderDir string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed, p.gap, p.renderDir
}

// Manager 返回引擎管理器。
func (p *Pipeline) Manager() *tts.Manager { return p.manager }

// Player 返回播放器。
func (p *Pipeline) Player() *audio.Player { return p.player }

// State 返回状态机，UI 可以注册状态变化回调。
func (p *Pipeline) State() *StateMachine { return p.state }

// Speak 合成并播放一段文本，阻塞直到播放结束。
// 超出回退链中最小长度上限的文本按句子切分，逐段合成播放。
func (p *Pipeline) Speak(ctx context.Context, req SpeakRequest) error {
	speed, gap, _ := p.settings()
	if req.Speed == 0 {
		req.Speed = speed
	}

	chunks := splitText(req.Text, p.chunkLimit(req.Engine))
	if len(chunks) == 0 {
		return fmt.Errorf("%w: 文本为空", tts.ErrInvalidRequest)
	}
	if len(chunks) > 1 {
		logger.Infof("[pipeline] 文本较长，分 %d 段合成", len(chunks))
	}

	defer p.state.ForceIdle()
	for i, chunk := range chunks {
		p.state.Transition(StateSynthesizing)
		res, used, err := p.manager.Synthesize(ctx, tts.Request{
			Text:   chunk,
			Voice:  req.Voice,
			Speed:  req.Speed,
			Engine: req.Engine,
			APIKey: req.APIKey,
		})
		if err != nil {
			return err
		}
		p.recordSynthesis(ctx, used)

		p.state.Transition(StateSpeaking)
		if err := p.player.PlayMany(ctx, res, gap); err != nil {
			return fmt.Errorf("播放失败: %w", err)
		}

		if gap > 0 && i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
	}
	return nil
}

// chunkLimit 返回切分长文本使用的字符上限：候选引擎中最小的 MaxTextLength，
// 保证任何一个回退引擎都能接受每个片段。
func (p *Pipeline) chunkLimit(engine tts.Kind) int {
	if engine == "" {
		engine = p.manager.Current()
	}
	limit := 0
	for _, kind := range p.manager.CandidateOrder(engine) {
		d, ok := p.manager.Describe(kind)
		if !ok || d.MaxTextLength <= 0 {
			continue
		}
		if limit == 0 || d.MaxTextLength < limit {
			limit = d.MaxTextLength
		}
	}
	return limit
}

// SpeakAsync 把朗读任务提交到后台执行器，立即返回任务 ID。
// done 可为 nil，否则在任务结束、被中断或执行器停止时调用一次。
func (p *Pipeline) SpeakAsync(req SpeakRequest, done func(worker.Result)) (string, error) {
	return p.runner.Submit("speak", func(ctx context.Context) error {
		return p.Speak(ctx, req)
	}, done)
}

// Wait 播放一段静音。
func (p *Pipeline) Wait(ctx context.Context, seconds float64) error {
	res, err := p.manager.SynthesizeSilence(seconds)
	if err != nil {
		return err
	}
	p.state.Transition(StateSpeaking)
	defer p.state.ForceIdle()
	return p.player.PlayMany(ctx, res, 0)
}

// Interrupt 停止当前朗读并清空后台队列。
func (p *Pipeline) Interrupt() {
	p.runner.Interrupt()
}

// Pending 返回后台队列中等待执行的任务数。
func (p *Pipeline) Pending() int {
	return p.runner.Len()
}

// RenderScript 逐句合成剧本并保存为持久音频文件，已有的同名剧本会被整体替换。
// 任一句失败时已渲染的文件会被删除，数据库保持不变。
func (p *Pipeline) RenderScript(ctx context.Context, scriptID string, lines []ScriptLine) ([]script.Line, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	scriptID = strings.TrimSpace(scriptID)
	if scriptID == "" {
		return nil, fmt.Errorf("剧本 ID 为空")
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("剧本 %s 没有台词", scriptID)
	}

	speed, _, renderDir := p.settings()
	if !p.state.Transition(StateRendering) {
		logger.Warnf("[pipeline] 当前状态 %s，仍继续渲染 %s", p.state.Current(), scriptID)
	}
	defer p.state.ForceIdle()

	rendered := make([]script.Line, 0, len(lines))
	cleanup := func() {
		for _, l := range rendered {
			if err := os.Remove(l.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warnf("[pipeline] 删除渲染文件失败: %v", err)
			}
		}
	}

	for i, in := range lines {
		line, err := p.renderLine(ctx, in, speed, renderDir)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("渲染第 %d 句失败: %w", i+1, err)
		}
		line.ScriptID = scriptID
		line.LineNo = i + 1
		rendered = append(rendered, line)
	}

	if err := p.store.Save(ctx, rendered); err != nil {
		cleanup()
		return nil, err
	}
	if _, err := p.store.Trim(ctx, scriptID, len(rendered)); err != nil {
		logger.Warnf("[pipeline] 清理多余台词失败: %v", err)
	}
	logger.Infof("[pipeline] 剧本 %s 渲染完成 (%d 句)", scriptID, len(rendered))
	return rendered, nil
}

func (p *Pipeline) renderLine(ctx context.Context, in ScriptLine, speed float64, renderDir string) (script.Line, error) {
	line := script.Line{Speaker: in.Speaker, Text: strings.TrimSpace(in.Text), Voice: in.Voice}

	var (
		res tts.Result
		err error
	)
	switch {
	case line.Text == "" && in.Wait > 0:
		line.Kind = script.KindWait
		line.WaitSeconds = in.Wait
		res, err = p.manager.SynthesizeSilence(in.Wait)
	case line.Text == "":
		return line, fmt.Errorf("%w: 台词既没有文本也没有等待时长", tts.ErrInvalidRequest)
	default:
		line.Kind = script.KindSpeech
		var engine tts.Kind
		if in.Engine != "" {
			if engine, err = tts.ParseKind(in.Engine); err != nil {
				return line, err
			}
		}
		var used tts.Kind
		res, used, err = p.manager.Synthesize(ctx, tts.Request{
			Text:   line.Text,
			Voice:  in.Voice,
			Speed:  speed,
			Engine: engine,
		})
		if err == nil {
			line.Engine = string(used)
			p.recordSynthesis(ctx, used)
		}
	}
	if err != nil {
		return line, err
	}

	// 各引擎每次只产出一个文件，多余的直接丢弃
	for _, extra := range res[1:] {
		logger.Warnf("[pipeline] 丢弃多余的音频片段 %s", extra.Path)
		_ = audio.Discard(extra)
	}
	f, err := audio.Persist(res[0], renderDir, uuid.New().String()+".wav")
	if err != nil {
		_ = audio.Discard(res[0])
		return line, fmt.Errorf("%w: %w", tts.ErrResource, err)
	}
	line.AudioPath = f.Path
	return line, nil
}

// PlayScript 按行号顺序播放已渲染的剧本。剧本音频是持久文件，播放后保留。
func (p *Pipeline) PlayScript(ctx context.Context, scriptID string) error {
	if p.store == nil {
		return ErrNoStore
	}
	lines, err := p.store.List(ctx, scriptID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, scriptID)
	}

	files := make([]audio.File, len(lines))
	for i, l := range lines {
		files[i] = l.File()
	}

	_, gap, _ := p.settings()
	p.state.Transition(StateSpeaking)
	defer p.state.ForceIdle()
	logger.Infof("[pipeline] 播放剧本 %s (%d 句)", scriptID, len(files))
	return p.player.PlayMany(ctx, files, gap)
}

// Scripts 返回所有已渲染的剧本。
func (p *Pipeline) Scripts(ctx context.Context) ([]script.Summary, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	return p.store.Scripts(ctx)
}

// DeleteScript 删除剧本及其音频文件。
func (p *Pipeline) DeleteScript(ctx context.Context, scriptID string) (int, error) {
	if p.store == nil {
		return 0, ErrNoStore
	}
	return p.store.Delete(ctx, scriptID)
}

// SynthesisCounts 返回今天各引擎的合成次数，未启用数据库时返回空表。
func (p *Pipeline) SynthesisCounts(ctx context.Context) (map[string]int, error) {
	if p.store == nil {
		return map[string]int{}, nil
	}
	return p.store.SynthesisCounts(ctx, time.Now())
}

func (p *Pipeline) recordSynthesis(ctx context.Context, kind tts.Kind) {
	if p.store == nil || kind == "" {
		return
	}
	if err := p.store.RecordSynthesis(ctx, string(kind)); err != nil {
		logger.Warnf("[pipeline] %v", err)
	}
}

// ApplyConfig 把新配置应用到运行中的管理器和播放器。
// 引擎地址等构造参数不会热更新，需要重启。
func (p *Pipeline) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.manager.SetPriority(tts.ParsePriority(cfg.TTS.Priority))
	if kind := parseDefault(cfg.TTS.DefaultEngine); kind != "" {
		if err := p.manager.SetDefault(kind); err != nil {
			logger.Warnf("[pipeline] %v", err)
		}
	}
	p.manager.SetAPIKey(cfg.TTS.Google.APIKey)
	p.player.SetDevice(cfg.Audio.OutputDevice)
	p.applySettings(cfg)
	logger.Info("[pipeline] 配置已更新")
}

// Close 停止后台执行器并关闭数据库，可重复调用。
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.runner.Stop()
		if p.db != nil {
			p.closeErr = p.db.Close()
		}
		logger.Info("[pipeline] 已关闭")
	})
	return p.closeErr
}
