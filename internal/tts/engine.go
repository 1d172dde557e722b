package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/iabetor/streamvoice/internal/audio"
)

// Kind 标识一种语音合成后端。
type Kind string

const (
	KindGoogle   Kind = "google"     // Gemini 云端语音
	KindAivis    Kind = "avis"       // AivisSpeech 本地引擎
	KindVoicevox Kind = "voicevox"   // VOICEVOX 本地引擎
	KindSystem   Kind = "system_tts" // 操作系统自带 TTS
	KindEdge     Kind = "edge"       // 微软 Edge 在线语音
)

// Kinds 列出所有已知的引擎类型。
var Kinds = []Kind{KindGoogle, KindAivis, KindVoicevox, KindSystem, KindEdge}

// ParseKind 把配置中的引擎名解析为 Kind，大小写不敏感。
func ParseKind(s string) (Kind, error) {
	name := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Kinds {
		if k == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("未知的 TTS 引擎: %q", s)
}

// CostTier 描述引擎的调用成本。
type CostTier string

const (
	CostFree CostTier = "free"
	CostPaid CostTier = "paid"
)

// QualityTier 描述引擎的音质档次。
type QualityTier string

const (
	QualityHigh   QualityTier = "high"
	QualityMedium QualityTier = "medium"
	QualityLow    QualityTier = "low"
)

// Descriptor 是引擎的静态描述，构造后只读。
type Descriptor struct {
	Name          Kind
	Cost          CostTier
	Quality       QualityTier
	MaxTextLength int // 以字符（rune）计
	Description   string
}

// Request 是一次合成请求。
type Request struct {
	Text string
	// Voice 只对 Engine 指定的引擎有意义，其他候选引擎使用各自的默认语音。
	Voice string
	// Speed 是语速倍率，0 表示 1.0。
	Speed float64
	// Engine 是首选引擎，为空时使用默认引擎。
	Engine Kind
	// APIKey 只会传给云端引擎。
	APIKey string
}

func (r Request) speed() float64 {
	if r.Speed <= 0 {
		return 1.0
	}
	return r.Speed
}

// Result 是按顺序排列的音频文件，为空表示该引擎合成失败。
type Result []audio.File

// Empty 返回结果是否为空。
func (r Result) Empty() bool {
	return len(r) == 0
}

// Engine 定义语音合成后端接口。
// Synthesize 对可预期的失败（网络、进程、空音频、配置缺失）只记录日志并返回空结果，
// 不返回错误，以便 Manager 继续尝试下一个引擎。
type Engine interface {
	Describe() Descriptor
	MaxTextLength() int
	// Voices 返回该引擎可用的语音标识，获取失败时返回内置列表。
	Voices(ctx context.Context) []string
	Synthesize(ctx context.Context, req Request) Result
}

// AvailabilityChecker 是可探测可用性的引擎（可选实现）。
// 未实现该接口的引擎视为始终可用。
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) bool
}

// checkText 校验文本非空且不超过引擎上限，失败时记录日志。
func checkText(d Descriptor, text string) bool {
	n := len([]rune(strings.TrimSpace(text)))
	if n == 0 {
		logFailure(d.Name, ErrSynthesisFailed, "文本为空")
		return false
	}
	if d.MaxTextLength > 0 && n > d.MaxTextLength {
		logFailure(d.Name, ErrTextTooLong, fmt.Sprintf("%d 字符，上限 %d", n, d.MaxTextLength))
		return false
	}
	return true
}
