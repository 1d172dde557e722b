package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"golang.org/x/time/rate"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/logger"
)

const (
	// DefaultGoogleURL 是 Gemini API 的默认地址。
	DefaultGoogleURL = "https://generativelanguage.googleapis.com"
	// DefaultGoogleModel 是默认的语音生成模型。
	DefaultGoogleModel = "gemini-2.5-flash-preview-tts"
	// DefaultGoogleVoice 是默认的预置语音。
	DefaultGoogleVoice = "Kore"
)

// googleVoices 是 Gemini TTS 的预置语音。
var googleVoices = []string{
	"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Leda", "Orus", "Aoede",
	"Callirrhoe", "Autonoe", "Enceladus", "Iapetus", "Umbriel", "Algieba",
	"Despina", "Erinome", "Algenib", "Rasalgethi", "Laomedeia", "Achernar",
	"Alnilam", "Schedar", "Gacrux", "Pulcherrima", "Achird", "Zubenelgenubi",
	"Vindemiatrix", "Sadachbia", "Sadaltager", "Sulafat",
}

// GoogleConfig 是 Gemini 语音引擎的配置。API Key 不在这里，每次调用时传入。
type GoogleConfig struct {
	BaseURL      string
	Model        string
	DefaultVoice string
	// RequestsPerMinute 限制请求频率，0 表示不限制。
	RequestsPerMinute int
	Timeout           time.Duration
}

// GoogleEngine 使用 Gemini generateContent 接口生成语音。
type GoogleEngine struct {
	desc         Descriptor
	endpoint     string
	defaultVoice string
	client       *http.Client
	limiter      *rate.Limiter
}

// NewGoogleEngine 创建 Gemini 语音引擎。只有地址无法解析时返回错误。
func NewGoogleEngine(cfg GoogleConfig) (*GoogleEngine, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGoogleModel
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultGoogleVoice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = synthesisTimeout
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("[tts] 无效的 Gemini 地址 %q", cfg.BaseURL)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	logger.Infof("[tts] Gemini 语音引擎已初始化 (model=%s, voice=%s)", cfg.Model, cfg.DefaultVoice)

	return &GoogleEngine{
		desc: Descriptor{
			Name:          KindGoogle,
			Cost:          CostPaid,
			Quality:       QualityHigh,
			MaxTextLength: 5000,
			Description:   "Google Gemini 云端生成式语音",
		},
		endpoint:     base.String() + "/v1beta/models/" + url.PathEscape(cfg.Model) + ":generateContent",
		defaultVoice: cfg.DefaultVoice,
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      limiter,
	}, nil
}

// Describe 实现 Engine。
func (e *GoogleEngine) Describe() Descriptor { return e.desc }

// MaxTextLength 实现 Engine。
func (e *GoogleEngine) MaxTextLength() int { return e.desc.MaxTextLength }

// Voices 实现 Engine。
func (e *GoogleEngine) Voices(context.Context) []string {
	return append([]string(nil), googleVoices...)
}

type googleRequest struct {
	Contents         []googleContent `json:"contents"`
	GenerationConfig googleGenConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inlineData,omitempty"`
}

type googleInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type googleGenConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	SpeechConfig       googleSpeechConfig `json:"speechConfig"`
}

type googleSpeechConfig struct {
	VoiceConfig googleVoiceConfig `json:"voiceConfig"`
}

type googleVoiceConfig struct {
	PrebuiltVoiceConfig struct {
		VoiceName string `json:"voiceName"`
	} `json:"prebuiltVoiceConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// resolveVoice 只接受 Gemini 的预置语音名，其他引擎的标识回退到默认语音。
func (e *GoogleEngine) resolveVoice(voice string) string {
	if voice == "" {
		return e.defaultVoice
	}
	for _, v := range googleVoices {
		if strings.EqualFold(v, voice) {
			return v
		}
	}
	logger.Warnf("[tts] google: 未知语音 %q，使用默认语音 %s", voice, e.defaultVoice)
	return e.defaultVoice
}

// Synthesize 实现 Engine。req.APIKey 为空时直接返回空结果。
func (e *GoogleEngine) Synthesize(ctx context.Context, req Request) Result {
	if req.APIKey == "" {
		logFailure(e.desc.Name, ErrConfiguration, "缺少 API Key")
		return nil
	}
	if !checkText(e.desc, req.Text) {
		return nil
	}
	if s := req.speed(); s != 1.0 {
		logger.Debugf("[tts] google: 不支持语速调节，忽略 speed=%.2f", s)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, "等待限流: "+err.Error())
		return nil
	}

	voice := e.resolveVoice(req.Voice)
	logger.Debugf("[tts] google: 正在合成 %d 个字符，语音=%s", len([]rune(req.Text)), voice)

	body := googleRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: req.Text}}}},
		GenerationConfig: googleGenConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voice

	resp, err := e.generate(ctx, req.APIKey, body)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, err.Error())
		return nil
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		logFailure(e.desc.Name, ErrContentBlocked, resp.PromptFeedback.BlockReason)
		return nil
	}

	part, finishReason := firstAudioPart(resp)
	if part == nil {
		if isBlockedFinish(finishReason) {
			logFailure(e.desc.Name, ErrContentBlocked, "finishReason="+finishReason)
		} else {
			logFailure(e.desc.Name, ErrSynthesisFailed, "响应中没有音频")
		}
		return nil
	}

	wav, err := inlineAudioToWAV(part)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, err.Error())
		return nil
	}

	f, err := audio.WriteTemp(string(e.desc.Name), wav)
	if err != nil {
		logFailure(e.desc.Name, ErrResource, err.Error())
		return nil
	}
	logger.Infof("[tts] google: 合成完成 (%s)", part.MimeType)
	return Result{f}
}

func (e *GoogleEngine) generate(ctx context.Context, apiKey string, body googleRequest) (*googleResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := readBody(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("状态码 %d: %s", httpResp.StatusCode, truncate(string(data), 200))
	}

	var resp googleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &resp, nil
}

// firstAudioPart 扫描所有候选的 parts，返回第一个 audio/* 内联数据。
func firstAudioPart(resp *googleResponse) (*googleInlineData, string) {
	finishReason := ""
	for _, c := range resp.Candidates {
		if finishReason == "" {
			finishReason = c.FinishReason
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && strings.HasPrefix(strings.ToLower(p.InlineData.MimeType), "audio/") {
				return p.InlineData, finishReason
			}
		}
	}
	return nil, finishReason
}

func isBlockedFinish(reason string) bool {
	switch reason {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return true
	}
	return false
}

// inlineAudioToWAV 解码 base64 音频并转换为 WAV。
// audio/L16、audio/pcm 按 16-bit 单声道 PCM 处理（采样率取自 rate 参数，默认 24kHz）；
// audio/wav 原样使用；audio/mpeg 用 go-mp3 解码。
func inlineAudioToWAV(part *googleInlineData) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(part.Data)
	if err != nil {
		return nil, fmt.Errorf("Base64 解码失败: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("音频数据为空")
	}

	mime := strings.ToLower(part.MimeType)
	switch {
	case strings.Contains(mime, "wav"):
		if _, _, err := audio.DecodeWAV(raw); err != nil {
			return nil, err
		}
		return raw, nil
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return mp3ToWAV(raw)
	default:
		f := audio.SpeechFormat
		if r := mimeParam(mime, "rate"); r != "" {
			if n, err := strconv.Atoi(r); err == nil && n > 0 {
				f.SampleRate = n
			}
		}
		// 丢弃不完整的尾部采样
		raw = raw[:len(raw)/2*2]
		return audio.WrapPCM(raw, f), nil
	}
}

// mimeParam 读取 "audio/L16;codec=pcm;rate=24000" 中的参数。
func mimeParam(mime, key string) string {
	for _, p := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// mp3ToWAV 把 MP3 解码为单声道 16-bit WAV。
func mp3ToWAV(data []byte) ([]byte, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("MP3 解码失败: %w", err)
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("读取 PCM 数据失败: %w", err)
	}
	mono := audio.DownmixStereo(pcm)
	if len(mono) == 0 {
		return nil, fmt.Errorf("MP3 解码结果为空")
	}
	return audio.WrapPCM(mono, audio.Format{
		SampleRate:    decoder.SampleRate(),
		Channels:      1,
		BitsPerSample: 16,
	}), nil
}
