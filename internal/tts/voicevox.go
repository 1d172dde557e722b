package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/logger"
)

const (
	// DefaultVoicevoxURL 是 VOICEVOX 引擎的默认地址。
	DefaultVoicevoxURL = "http://127.0.0.1:50021"
	// DefaultAivisURL 是 AivisSpeech 引擎的默认地址。
	DefaultAivisURL = "http://127.0.0.1:10101"

	probeTimeout     = 3 * time.Second
	synthesisTimeout = 60 * time.Second
)

// maxAudioBytes 限制单次合成读取的响应大小，超出视为合成失败。
var maxAudioBytes int64 = 64 << 20

// VoicevoxEngine 通过 VOICEVOX 兼容的 HTTP 接口合成语音。
// VOICEVOX 与 AivisSpeech 使用同一协议，只是地址和话者表不同。
type VoicevoxEngine struct {
	desc         Descriptor
	baseURL      string
	defaultVoice string
	table        []SpeakerEntry
	defaultID    int
	client       *http.Client
	probeTimeout time.Duration

	mu     sync.RWMutex
	roster []Speaker // 最近一次可用性探测获取的话者列表
}

// LocalConfig 是本地引擎的配置。
type LocalConfig struct {
	BaseURL      string
	DefaultVoice string
	// ProbeTimeout 为 0 时使用 3 秒。
	ProbeTimeout time.Duration
}

// NewVoicevoxEngine 创建 VOICEVOX 引擎。
func NewVoicevoxEngine(cfg LocalConfig) *VoicevoxEngine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultVoicevoxURL
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "ずんだもん(ノーマル)"
	}
	return newLocalEngine(Descriptor{
		Name:          KindVoicevox,
		Cost:          CostFree,
		Quality:       QualityHigh,
		MaxTextLength: 1000,
		Description:   "VOICEVOX 本地神经网络语音引擎",
	}, cfg, voicevoxSpeakers, voicevoxDefaultID)
}

// NewAivisEngine 创建 AivisSpeech 引擎。
func NewAivisEngine(cfg LocalConfig) *VoicevoxEngine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAivisURL
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "Anneli(ノーマル)"
	}
	return newLocalEngine(Descriptor{
		Name:          KindAivis,
		Cost:          CostFree,
		Quality:       QualityHigh,
		MaxTextLength: 1000,
		Description:   "AivisSpeech 本地神经网络语音引擎",
	}, cfg, aivisSpeakers, aivisDefaultID)
}

func newLocalEngine(desc Descriptor, cfg LocalConfig, table []SpeakerEntry, defaultID int) *VoicevoxEngine {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = probeTimeout
	}
	return &VoicevoxEngine{
		desc:         desc,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultVoice: cfg.DefaultVoice,
		table:        table,
		defaultID:    defaultID,
		client:       &http.Client{},
		probeTimeout: timeout,
	}
}

// Describe 实现 Engine。
func (e *VoicevoxEngine) Describe() Descriptor { return e.desc }

// MaxTextLength 实现 Engine。
func (e *VoicevoxEngine) MaxTextLength() int { return e.desc.MaxTextLength }

// CheckAvailability 获取 /speakers 并缓存话者列表。超时约 3 秒，可在每次合成前调用。
func (e *VoicevoxEngine) CheckAvailability(ctx context.Context) bool {
	roster, err := e.fetchSpeakers(ctx)
	if err != nil {
		logFailure(e.desc.Name, ErrEngineUnavailable, err.Error())
		return false
	}

	e.mu.Lock()
	e.roster = roster
	e.mu.Unlock()

	logger.Debugf("[tts] %s: 可用，共 %d 个话者", e.desc.Name, len(roster))
	return true
}

func (e *VoicevoxEngine) fetchSpeakers(ctx context.Context) ([]Speaker, error) {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/speakers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/speakers 返回状态码 %d", resp.StatusCode)
	}

	var roster []Speaker
	if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
		return nil, fmt.Errorf("解析 /speakers 响应失败: %w", err)
	}
	return roster, nil
}

// Roster 返回最近一次探测缓存的话者列表。
func (e *VoicevoxEngine) Roster() []Speaker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roster
}

// ResolveSpeaker 把语音标识解析为话者 ID，并返回命中的层级。
func (e *VoicevoxEngine) ResolveSpeaker(voice string) (int, Tier) {
	id, tier := resolveSpeaker(voice, e.Roster(), e.table, e.defaultID)
	switch tier {
	case TierLive:
		logger.Debugf("[tts] %s: 话者 %q -> %d (在线列表)", e.desc.Name, voice, id)
	case TierTable:
		logger.Infof("[tts] %s: 在线列表中没有话者 %q，使用内置表 ID %d", e.desc.Name, voice, id)
	default:
		logger.Warnf("[tts] %s: 无法解析话者 %q，使用默认 ID %d", e.desc.Name, voice, id)
	}
	return id, tier
}

// Voices 实现 Engine。优先使用在线列表，失败时返回内置表。
func (e *VoicevoxEngine) Voices(ctx context.Context) []string {
	if e.CheckAvailability(ctx) {
		if voices := rosterVoices(e.Roster()); len(voices) > 0 {
			return voices
		}
	}
	return tableVoices(e.table)
}

// Synthesize 实现 Engine：audio_query -> 写入语速 -> synthesis -> 临时 WAV。
func (e *VoicevoxEngine) Synthesize(ctx context.Context, req Request) Result {
	if !checkText(e.desc, req.Text) {
		return nil
	}

	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}
	speakerID, _ := e.ResolveSpeaker(voice)

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	logger.Debugf("[tts] %s: 正在合成 %d 个字符，speaker=%d speed=%.2f",
		e.desc.Name, len([]rune(req.Text)), speakerID, req.speed())

	query, err := e.audioQuery(ctx, req.Text, speakerID)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, "audio_query: "+err.Error())
		return nil
	}
	query["speedScale"] = req.speed()

	wav, err := e.synthesis(ctx, query, speakerID)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, "synthesis: "+err.Error())
		return nil
	}

	f, err := audio.WriteTemp(string(e.desc.Name), wav)
	if err != nil {
		logFailure(e.desc.Name, ErrResource, err.Error())
		return nil
	}
	logger.Infof("[tts] %s: 合成完成 (%s)", e.desc.Name, humanize.Bytes(uint64(len(wav))))
	return Result{f}
}

// audioQuery 调用 POST /audio_query，返回可修改的查询文档。
func (e *VoicevoxEngine) audioQuery(ctx context.Context, text string, speakerID int) (map[string]any, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speakerID))

	body, err := e.post(ctx, "/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var query map[string]any
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("解析查询文档失败: %w", err)
	}
	if query == nil {
		return nil, fmt.Errorf("查询文档为空")
	}
	return query, nil
}

// synthesis 调用 POST /synthesis，返回 WAV 数据。
func (e *VoicevoxEngine) synthesis(ctx context.Context, query map[string]any, speakerID int) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("序列化查询文档失败: %w", err)
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speakerID))
	wav, err := e.post(ctx, "/synthesis?"+params.Encode(), payload)
	if err != nil {
		return nil, err
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("未收到音频数据")
	}
	return wav, nil
}

func (e *VoicevoxEngine) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("状态码 %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

// readBody 读取最多 maxAudioBytes 字节，超出时返回错误而不是截断。
func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if int64(len(data)) > maxAudioBytes {
		return nil, fmt.Errorf("%w: 响应超过 %d 字节", ErrSynthesisFailed, maxAudioBytes)
	}
	return data, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
