package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/streamvoice/internal/logger"
)

// 合成失败的分类。除 ErrAllEnginesFailed 外，这些错误只用于日志分类，
// 引擎内部处理后以空 Result 返回，不会跨越 Engine 接口。
var (
	ErrEngineUnavailable = errors.New("引擎不可用")
	ErrSynthesisFailed   = errors.New("合成失败")
	ErrProcessFailed     = errors.New("子进程失败")
	ErrResource          = errors.New("临时文件操作失败")
	ErrConfiguration     = errors.New("配置缺失")
	ErrContentBlocked    = errors.New("内容被安全策略拦截")
	ErrTextTooLong       = errors.New("文本超出长度上限")

	// ErrAllEnginesFailed 表示回退链上所有引擎都没有产出音频。
	ErrAllEnginesFailed = errors.New("所有语音引擎均未能生成音频")
	// ErrInvalidRequest 表示请求本身不合法（空文本、负语速等）。
	ErrInvalidRequest = errors.New("无效的合成请求")
)

// logFailure 按分类记录一次引擎内部失败。
func logFailure(kind Kind, class error, detail string) {
	if detail == "" {
		logger.Warnf("[tts] %s: %v", kind, class)
		return
	}
	logger.Warnf("[tts] %s: %v: %s", kind, class, detail)
}

// Outcome 描述回退链中一个候选引擎的结果。
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeNoAPIKey    Outcome = "no_api_key"
	OutcomeFailed      Outcome = "failed"
)

func (o Outcome) label() string {
	switch o {
	case OutcomeSucceeded:
		return "成功"
	case OutcomeUnavailable:
		return "不可用，已跳过"
	case OutcomeNoAPIKey:
		return "未配置 API Key，已跳过"
	default:
		return "未产出音频"
	}
}

// Attempt 记录回退链中的一次尝试。
type Attempt struct {
	Engine  Kind
	Outcome Outcome
}

// FallbackError 汇总一次回退合成中所有失败的候选引擎。
type FallbackError struct {
	Attempts []Attempt
	Cause    error // 通常为 nil；ctx 被取消时为 ctx.Err()
}

func (e *FallbackError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllEnginesFailed.Error() + "（没有可用的候选引擎）"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Engine, a.Outcome.label())
	}
	msg := fmt.Sprintf("%s（%s）", ErrAllEnginesFailed, strings.Join(parts, "；"))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 支持 errors.Is(err, ErrAllEnginesFailed) 以及底层 ctx 错误。
func (e *FallbackError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrAllEnginesFailed, e.Cause}
	}
	return []error{ErrAllEnginesFailed}
}
