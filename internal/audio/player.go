package audio

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/streamvoice/internal/logger"
	"github.com/iabetor/streamvoice/internal/proc"
)

// ErrNoPlayer 表示当前平台上没有任何可用的播放方式。
var ErrNoPlayer = errors.New("没有可用的音频播放器")

// Player 通过平台命令播放音频文件，并负责删除播放过的临时文件。
type Player struct {
	runner proc.Runner
	goos   string

	mu     sync.RWMutex
	device string

	// inProcess 在所有命令行播放器都失败时使用（仅 Linux），默认为 malgo。
	inProcess func(ctx context.Context, path string) error
}

// PlayerOption 配置 Player。
type PlayerOption func(*Player)

// WithRunner 替换命令执行器。
func WithRunner(r proc.Runner) PlayerOption {
	return func(p *Player) { p.runner = r }
}

// WithPlatform 覆盖平台判断，测试时用于模拟其他系统。
func WithPlatform(goos string) PlayerOption {
	return func(p *Player) { p.goos = goos }
}

// WithInProcessFallback 替换进程内兜底播放实现，传 nil 表示禁用。
func WithInProcessFallback(fn func(ctx context.Context, path string) error) PlayerOption {
	return func(p *Player) { p.inProcess = fn }
}

// NewPlayer 创建播放器。device 为空时使用默认设备。
func NewPlayer(device string, opts ...PlayerOption) *Player {
	p := &Player{
		runner:    proc.NewExecRunner(5 * time.Minute),
		goos:      runtime.GOOS,
		device:    normalizeDevice(device),
		inProcess: playWithMalgo,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizeDevice(device string) string {
	device = strings.TrimSpace(device)
	if device == "" {
		return DefaultDeviceID
	}
	return device
}

// SetDevice 切换输出设备。
func (p *Player) SetDevice(device string) {
	p.mu.Lock()
	p.device = normalizeDevice(device)
	p.mu.Unlock()
}

// Device 返回当前输出设备 ID。
func (p *Player) Device() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.device
}

// PlayOne 播放单个文件，阻塞直到播放结束。不会删除文件。
func (p *Player) PlayOne(ctx context.Context, f File) error {
	if f.Path == "" {
		return fmt.Errorf("音频路径为空")
	}
	device := p.Device()
	logger.Debugf("[player] 播放 %s (device=%s)", f.Path, device)

	switch p.goos {
	case "windows":
		return p.playWindows(ctx, f.Path, device)
	case "darwin":
		return p.playDarwin(ctx, f.Path, device)
	case "linux":
		return p.playLinux(ctx, f.Path, device)
	default:
		return fmt.Errorf("%w: 不支持的平台 %s", ErrNoPlayer, p.goos)
	}
}

// PlayMany 按顺序播放多个文件，片段之间间隔 gap。
// 每个临时文件在尝试播放一次后删除，持久文件保持不变。
// ctx 取消时剩余的临时文件不再播放，直接删除。
func (p *Player) PlayMany(ctx context.Context, files []File, gap time.Duration) error {
	var errs []error
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			p.discardAll(files[i:])
			return errors.Join(append(errs, err)...)
		}

		if err := p.PlayOne(ctx, f); err != nil {
			logger.Warnf("[player] 第 %d/%d 段播放失败: %v", i+1, len(files), err)
			errs = append(errs, err)
		}
		if err := Discard(f); err != nil {
			logger.Warnf("[player] %v", err)
		}

		if gap > 0 && i < len(files)-1 {
			select {
			case <-ctx.Done():
				p.discardAll(files[i+1:])
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(gap):
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Player) discardAll(files []File) {
	for _, f := range files {
		if err := Discard(f); err != nil {
			logger.Warnf("[player] %v", err)
		}
	}
}

func (p *Player) warnDeviceUnsupported(player, device string) {
	if device != DefaultDeviceID {
		logger.Warnf("[player] %s 不支持选择输出设备 %q，改用默认设备", player, device)
	}
}

// psQuote 把字符串转义为 PowerShell 单引号字面量。
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p *Player) playWindows(ctx context.Context, path, device string) error {
	p.warnDeviceUnsupported("SoundPlayer", device)

	native := fmt.Sprintf("(New-Object Media.SoundPlayer %s).PlaySync()", psQuote(path))
	_, err := p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", native)
	if err == nil {
		return nil
	}
	logger.Warnf("[player] SoundPlayer 播放失败，改用 MediaPlayer: %v", err)

	media := fmt.Sprintf(`Add-Type -AssemblyName presentationCore
$p = New-Object System.Windows.Media.MediaPlayer
$p.Open([uri]%s)
$p.Play()
$n = 0
while (-not $p.NaturalDuration.HasTimeSpan -and $n -lt 50) { Start-Sleep -Milliseconds 100; $n++ }
if ($p.NaturalDuration.HasTimeSpan) { Start-Sleep -Milliseconds ([int]$p.NaturalDuration.TimeSpan.TotalMilliseconds) }
$p.Close()`, psQuote(path))
	if _, fbErr := p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", media); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}

func (p *Player) playDarwin(ctx context.Context, path, device string) error {
	p.warnDeviceUnsupported("afplay", device)
	_, err := p.runner.Run(ctx, "afplay", path)
	return err
}

// linuxPlayer 描述一个 Linux 命令行播放器候选。
type linuxPlayer struct {
	name string
	args func(path, device string) []string
	// supportsDevice 为 false 时忽略设备选择。
	supportsDevice bool
}

var linuxPlayers = []linuxPlayer{
	{
		name: "paplay",
		args: func(path, device string) []string {
			if device != DefaultDeviceID {
				return []string{"--device=" + device, path}
			}
			return []string{path}
		},
		supportsDevice: true,
	},
	{
		name: "aplay",
		args: func(path, device string) []string {
			if device != DefaultDeviceID {
				return []string{"-q", "-D", device, path}
			}
			return []string{"-q", path}
		},
		supportsDevice: true,
	},
	{
		name: "ffplay",
		args: func(path, _ string) []string {
			return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}
		},
	},
	{
		name: "mpv",
		args: func(path, _ string) []string {
			return []string{"--no-video", "--really-quiet", path}
		},
	},
}

func (p *Player) playLinux(ctx context.Context, path, device string) error {
	var errs []error
	for _, lp := range linuxPlayers {
		if !lp.supportsDevice {
			p.warnDeviceUnsupported(lp.name, device)
		}
		_, err := p.runner.Run(ctx, lp.name, lp.args(path, device)...)
		if err == nil {
			return nil
		}
		if proc.IsNotFound(err) {
			logger.Debugf("[player] 未找到 %s，尝试下一个播放器", lp.name)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warnf("[player] %s 播放失败: %v", lp.name, err)
		errs = append(errs, err)
	}

	if p.inProcess != nil {
		p.warnDeviceUnsupported("malgo", device)
		err := p.inProcess(ctx, path)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoPlayer
	}
	return fmt.Errorf("%w: %w", ErrNoPlayer, errors.Join(errs...))
}
