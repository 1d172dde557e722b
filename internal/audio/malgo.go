package audio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/iabetor/streamvoice/internal/logger"
)

// playWithMalgo 在进程内解码 WAV 并通过默认扬声器播放，作为命令行播放器都不可用时的兜底。
func playWithMalgo(ctx context.Context, path string) error {
	format, pcm, err := ReadWAV(path)
	if err != nil {
		return err
	}
	if format.BitsPerSample != 16 {
		return fmt.Errorf("malgo 仅支持 16-bit PCM，当前为 %d-bit", format.BitsPerSample)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("初始化播放上下文失败: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	return playPCM(ctx, mctx, pcm, format.SampleRate, format.Channels)
}

// playPCM 通过 malgo 播放 16-bit PCM，阻塞直到播放完成或 ctx 被取消。
func playPCM(ctx context.Context, mctx *malgo.AllocatedContext, pcmBytes []byte, sampleRate, channels int) error {
	if len(pcmBytes) == 0 {
		return nil
	}

	pos := 0
	done := make(chan struct{})

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = 512
	deviceConfig.Periods = 2

	callbacks := malgo.DeviceCallbacks{
		Data: func(outputSamples, _ []byte, frameCount uint32) {
			bytesNeeded := int(frameCount) * channels * 2
			if pos >= len(pcmBytes) {
				for i := range outputSamples[:bytesNeeded] {
					outputSamples[i] = 0
				}
				select {
				case done <- struct{}{}:
				default:
				}
				return
			}

			end := pos + bytesNeeded
			if end > len(pcmBytes) {
				end = len(pcmBytes)
			}
			copy(outputSamples, pcmBytes[pos:end])
			for i := end - pos; i < bytesNeeded; i++ {
				outputSamples[i] = 0
			}
			pos = end
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("初始化播放设备失败: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("启动播放设备失败: %w", err)
	}
	defer device.Stop()

	select {
	case <-ctx.Done():
		logger.Info("[player] malgo 播放被取消")
		return ctx.Err()
	case <-done:
		logger.Debugf("[player] malgo 播放完成")
		return nil
	}
}
