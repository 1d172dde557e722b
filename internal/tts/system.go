package tts

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/logger"
	"github.com/iabetor/streamvoice/internal/proc"
)

// systemTimeout 是单次系统 TTS 进程的超时。
const systemTimeout = 60 * time.Second

// SystemConfig 是系统 TTS 引擎的配置。
type SystemConfig struct {
	// Voice 是平台语音名，为空时使用系统默认语音。
	Voice  string
	Runner proc.Runner
	// GOOS 为空时使用 runtime.GOOS，测试中用于模拟其他平台。
	GOOS string
}

// SystemEngine 调用操作系统自带的 TTS 生成 WAV 文件。
// Windows 使用 System.Speech，macOS 使用 say，Linux 依次尝试 espeak-ng、espeak、pico2wave。
// 它没有可用性探测，作为回退链的最后一环总会被尝试。
type SystemEngine struct {
	desc   Descriptor
	voice  string
	runner proc.Runner
	goos   string
}

// NewSystemEngine 创建系统 TTS 引擎。
func NewSystemEngine(cfg SystemConfig) *SystemEngine {
	if cfg.Runner == nil {
		cfg.Runner = proc.NewExecRunner(systemTimeout)
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	return &SystemEngine{
		desc: Descriptor{
			Name:          KindSystem,
			Cost:          CostFree,
			Quality:       QualityLow,
			MaxTextLength: 2000,
			Description:   "操作系统自带语音合成",
		},
		voice:  cfg.Voice,
		runner: cfg.Runner,
		goos:   cfg.GOOS,
	}
}

// Describe 实现 Engine。
func (e *SystemEngine) Describe() Descriptor { return e.desc }

// MaxTextLength 实现 Engine。
func (e *SystemEngine) MaxTextLength() int { return e.desc.MaxTextLength }

// Synthesize 实现 Engine。进程非零退出、输出文件为空或不存在都视为失败。
func (e *SystemEngine) Synthesize(ctx context.Context, req Request) Result {
	if !checkText(e.desc, req.Text) {
		return nil
	}

	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}

	path, err := audio.TempPath(string(e.desc.Name))
	if err != nil {
		logFailure(e.desc.Name, ErrResource, err.Error())
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, systemTimeout)
	defer cancel()

	logger.Debugf("[tts] %s: 正在合成 %d 个字符 (%s)", e.desc.Name, len([]rune(req.Text)), e.goos)

	switch e.goos {
	case "windows":
		err = e.speakWindows(ctx, req.Text, voice, req.speed(), path)
	case "darwin":
		err = e.speakDarwin(ctx, req.Text, voice, req.speed(), path)
	case "linux":
		err = e.speakLinux(ctx, req.Text, voice, req.speed(), path)
	default:
		err = fmt.Errorf("不支持的平台 %s", e.goos)
	}

	if err != nil {
		os.Remove(path)
		logFailure(e.desc.Name, ErrProcessFailed, err.Error())
		return nil
	}
	if !audio.NonEmpty(path) {
		os.Remove(path)
		logFailure(e.desc.Name, ErrProcessFailed, "输出文件为空或不存在")
		return nil
	}

	logger.Infof("[tts] %s: 合成完成", e.desc.Name)
	return Result{audio.Transient(path)}
}

// windowsRate 把语速倍率映射到 SpeechSynthesizer.Rate（-10..10）。
func windowsRate(speed float64) int {
	r := int(math.Round((speed - 1) * 10))
	return max(-10, min(10, r))
}

// wordsPerMinute 把语速倍率映射到每分钟词数。
func wordsPerMinute(base int, speed float64) int {
	return max(1, int(math.Round(float64(base)*speed)))
}

func psLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (e *SystemEngine) speakWindows(ctx context.Context, text, voice string, speed float64, path string) error {
	var b strings.Builder
	b.WriteString("Add-Type -AssemblyName System.Speech\n")
	b.WriteString("$s = New-Object System.Speech.Synthesis.SpeechSynthesizer\n")
	fmt.Fprintf(&b, "$s.Rate = %d\n", windowsRate(speed))
	if voice != "" {
		fmt.Fprintf(&b, "$s.SelectVoice(%s)\n", psLiteral(voice))
	}
	fmt.Fprintf(&b, "$s.SetOutputToWaveFile(%s)\n", psLiteral(path))
	fmt.Fprintf(&b, "$s.Speak(%s)\n", psLiteral(text))
	b.WriteString("$s.Dispose()")

	_, err := e.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", b.String())
	return err
}

func (e *SystemEngine) speakDarwin(ctx context.Context, text, voice string, speed float64, path string) error {
	args := []string{
		"-o", path,
		"--file-format=WAVE",
		"--data-format=LEI16@22050",
		"-r", strconv.Itoa(wordsPerMinute(175, speed)),
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, "--", text)
	_, err := e.runner.Run(ctx, "say", args...)
	return err
}

// linuxSpeaker 描述一个 Linux 命令行 TTS 候选。
type linuxSpeaker struct {
	name string
	args func(text, voice string, speed float64, path string) []string
}

func espeakArgs(text, voice string, speed float64, path string) []string {
	args := []string{"-w", path, "-s", strconv.Itoa(wordsPerMinute(175, speed))}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return append(args, "--", text)
}

var linuxSpeakers = []linuxSpeaker{
	{name: "espeak-ng", args: espeakArgs},
	{name: "espeak", args: espeakArgs},
	{
		// pico2wave 不支持语速调节
		name: "pico2wave",
		args: func(text, voice string, _ float64, path string) []string {
			args := []string{"-w", path}
			if voice != "" {
				args = append(args, "-l", voice)
			}
			return append(args, "--", text)
		},
	},
}

func (e *SystemEngine) speakLinux(ctx context.Context, text, voice string, speed float64, path string) error {
	for _, s := range linuxSpeakers {
		_, err := e.runner.Run(ctx, s.name, s.args(text, voice, speed, path)...)
		if err == nil {
			logger.Debugf("[tts] %s: 使用 %s", e.desc.Name, s.name)
			return nil
		}
		if proc.IsNotFound(err) {
			logger.Debugf("[tts] %s: 未找到 %s，尝试下一个", e.desc.Name, s.name)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: 没有可用的语音合成程序 (espeak-ng/espeak/pico2wave)", proc.ErrNotFound)
}

// Voices 实现 Engine。枚举失败时返回空列表。
func (e *SystemEngine) Voices(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		out []byte
		err error
	)
	switch e.goos {
	case "windows":
		out, err = e.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
			"Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).GetInstalledVoices() | ForEach-Object { $_.VoiceInfo.Name }")
		if err == nil {
			return nonEmptyLines(string(out))
		}
	case "darwin":
		out, err = e.runner.Run(ctx, "say", "-v", "?")
		if err == nil {
			return parseSayVoices(string(out))
		}
	case "linux":
		for _, name := range []string{"espeak-ng", "espeak"} {
			out, err = e.runner.Run(ctx, name, "--voices")
			if err == nil {
				return parseEspeakVoices(string(out))
			}
			if !proc.IsNotFound(err) {
				break
			}
		}
	default:
		err = fmt.Errorf("不支持的平台 %s", e.goos)
	}
	logger.Warnf("[tts] %s: 获取语音列表失败: %v", e.desc.Name, err)
	return nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseSayVoices 解析 `say -v ?` 的输出，例如
// "Bad News            en_US    # The light you see..."。
func parseSayVoices(out string) []string {
	var voices []string
	for _, line := range nonEmptyLines(out) {
		left, _, _ := strings.Cut(line, "#")
		fields := strings.Fields(left)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, strings.Join(fields[:len(fields)-1], " "))
	}
	return voices
}

// parseEspeakVoices 解析 `espeak --voices` 的输出，返回可传给 -v 的语言名。
func parseEspeakVoices(out string) []string {
	var voices []string
	for i, line := range nonEmptyLines(out) {
		if i == 0 && strings.HasPrefix(line, "Pty") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, fields[1])
	}
	return voices
}
