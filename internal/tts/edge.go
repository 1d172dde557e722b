package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/logger"
)

// DefaultEdgeVoice 是 Edge TTS 的默认语音。
const DefaultEdgeVoice = "ja-JP-NanamiNeural"

// edgeVoices 是常用的 Edge 神经网络语音。
var edgeVoices = []string{
	"ja-JP-NanamiNeural",
	"ja-JP-KeitaNeural",
	"zh-CN-XiaoxiaoNeural",
	"zh-CN-YunxiNeural",
	"en-US-AriaNeural",
	"en-US-GuyNeural",
}

// mp3Fetcher 获取一段文本的 MP3 音频，测试中可替换。
type mp3Fetcher func(ctx context.Context, text, voice string) ([]byte, error)

// EdgeEngine 使用微软 Edge TTS 实现语音合成，
// 通过 edge-tts-go 获取 MP3 音频，再用 go-mp3 解码并写成 WAV。
// 与云端引擎一样没有可用性探测，网络失败表现为空结果。
type EdgeEngine struct {
	desc  Descriptor
	voice string
	fetch mp3Fetcher
}

// NewEdgeEngine 创建指定语音的 Edge TTS 引擎。
func NewEdgeEngine(voice string) *EdgeEngine {
	if voice == "" {
		voice = DefaultEdgeVoice
	}
	return &EdgeEngine{
		desc: Descriptor{
			Name:          KindEdge,
			Cost:          CostFree,
			Quality:       QualityMedium,
			MaxTextLength: 3000,
			Description:   "微软 Edge 在线神经网络语音",
		},
		voice: voice,
		fetch: streamEdge,
	}
}

// Describe 实现 Engine。
func (e *EdgeEngine) Describe() Descriptor { return e.desc }

// MaxTextLength 实现 Engine。
func (e *EdgeEngine) MaxTextLength() int { return e.desc.MaxTextLength }

// Voices 实现 Engine。
func (e *EdgeEngine) Voices(context.Context) []string {
	return append([]string(nil), edgeVoices...)
}

// Synthesize 实现 Engine。
func (e *EdgeEngine) Synthesize(ctx context.Context, req Request) Result {
	if !checkText(e.desc, req.Text) {
		return nil
	}
	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}
	if s := req.speed(); s != 1.0 {
		logger.Debugf("[tts] edge: 不支持语速调节，忽略 speed=%.2f", s)
	}

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	logger.Debugf("[tts] edge: 正在合成 %d 个字符，语音=%s", len([]rune(req.Text)), voice)

	mp3Data, err := e.fetch(ctx, req.Text, voice)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, err.Error())
		return nil
	}
	logger.Debugf("[tts] edge: 收到 %s MP3 数据", humanize.Bytes(uint64(len(mp3Data))))

	wav, err := mp3ToWAV(mp3Data)
	if err != nil {
		logFailure(e.desc.Name, ErrSynthesisFailed, err.Error())
		return nil
	}

	f, err := audio.WriteTemp(string(e.desc.Name), wav)
	if err != nil {
		logFailure(e.desc.Name, ErrResource, err.Error())
		return nil
	}
	logger.Infof("[tts] edge: 合成完成 (%s)", humanize.Bytes(uint64(len(wav))))
	return Result{f}
}

// streamEdge 通过 Stream() 收集所有 type=="audio" 的数据块。
func streamEdge(ctx context.Context, text, voice string) ([]byte, error) {
	comm, err := edge.NewCommunicate(text, edge.WithVoice(voice))
	if err != nil {
		return nil, fmt.Errorf("创建实例失败: %w", err)
	}

	ch, err := comm.Stream()
	if err != nil {
		return nil, fmt.Errorf("开始流式合成失败: %w", err)
	}

	var buf bytes.Buffer
	for msg := range ch {
		if ctx.Err() != nil {
			// 排空 channel，避免发送方阻塞
			go func() {
				for range ch {
				}
			}()
			return nil, ctx.Err()
		}
		if msgType, ok := msg["type"].(string); ok && msgType == "audio" {
			if data, ok := msg["data"].([]byte); ok {
				buf.Write(data)
			}
		}
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("未收到音频数据")
	}
	return buf.Bytes(), nil
}
