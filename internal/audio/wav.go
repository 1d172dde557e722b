package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// WAV 格式常量。
const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// 语音合成常用的 PCM 格式：24kHz / 16-bit / 单声道。
const (
	SpeechSampleRate    = 24000
	SpeechChannels      = 1
	SpeechBitsPerSample = 16
)

// ErrInvalidWAV 表示数据不是可解析的 PCM WAV。
var ErrInvalidWAV = errors.New("无效的 WAV 数据")

// Format 描述 PCM 音频格式。
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// SpeechFormat 是云端语音接口返回的 PCM 格式。
var SpeechFormat = Format{
	SampleRate:    SpeechSampleRate,
	Channels:      SpeechChannels,
	BitsPerSample: SpeechBitsPerSample,
}

// BlockAlign 返回每帧字节数。
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// WrapPCM 给原始 PCM 数据加上 44 字节的 WAV 头。
func WrapPCM(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	byteRate := f.SampleRate * f.BlockAlign()

	out := make([]byte, wavHeaderSize, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitsPerSample))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	return append(out, pcm...)
}

// DecodeWAV 解析 WAV 数据，返回格式和 PCM 负载。
// 会跳过 fmt/data 以外的块（如 LIST）。
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrInvalidWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			// 一些编码器写入的 data 大小不准确，截断到文件末尾
			if id != "data" {
				return Format{}, nil, fmt.Errorf("%w: 块 %q 越界", ErrInvalidWAV, id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("%w: fmt 块过短", ErrInvalidWAV)
			}
			if binary.LittleEndian.Uint16(data[body:body+2]) != wavFormatPCM {
				return Format{}, nil, fmt.Errorf("%w: 仅支持 PCM", ErrInvalidWAV)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("%w: data 块出现在 fmt 之前", ErrInvalidWAV)
			}
			return f, data[body:end], nil
		}

		// 块按偶数字节对齐
		pos = end + size%2
	}
	return Format{}, nil, fmt.Errorf("%w: 缺少 data 块", ErrInvalidWAV)
}

// ReadWAV 读取并解析 WAV 文件。
func ReadWAV(path string) (Format, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Format{}, nil, fmt.Errorf("读取 WAV 文件失败: %w", err)
	}
	return DecodeWAV(data)
}

// SilenceSamples 返回给定时长的采样点数，四舍五入到最近的整数。
func SilenceSamples(seconds float64, sampleRate int) int {
	return int(math.Round(float64(sampleRate) * seconds))
}

// Silence 生成给定时长的静音 WAV。
func Silence(seconds float64, f Format) ([]byte, error) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil, fmt.Errorf("无效的静音时长: %v", seconds)
	}
	n := SilenceSamples(seconds, f.SampleRate)
	return WrapPCM(make([]byte, n*f.BlockAlign()), f), nil
}
