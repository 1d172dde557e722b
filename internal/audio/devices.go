package audio

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/iabetor/streamvoice/internal/logger"
)

// DefaultDeviceID 是合成的默认输出设备 ID，任何平台都存在。
const DefaultDeviceID = "default"

// Device 描述一个音频输出设备。
type Device struct {
	Name string // 显示名称
	ID   string // 平台相关的设备 ID
}

// DefaultDevice 返回合成的默认设备。
func DefaultDevice() Device {
	return Device{Name: DefaultDeviceID, ID: DefaultDeviceID}
}

// ListOutputDevices 枚举当前平台的输出设备。
// 枚举失败只记录日志；结果总是以默认设备开头，并按 ID 去重。
func (p *Player) ListOutputDevices(ctx context.Context) []Device {
	var found []Device
	var err error

	switch p.goos {
	case "windows":
		found, err = p.listWindowsDevices(ctx)
	case "darwin":
		found, err = p.listDarwinDevices(ctx)
	case "linux":
		found, err = p.listLinuxDevices(ctx)
	default:
		logger.Warnf("[audio] 不支持在 %s 上枚举输出设备", p.goos)
	}
	if err != nil {
		logger.Warnf("[audio] 枚举输出设备失败: %v", err)
	}

	devices := []Device{DefaultDevice()}
	seen := map[string]bool{DefaultDeviceID: true}
	for _, d := range found {
		if d.ID == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		if d.Name == "" {
			d.Name = d.ID
		}
		devices = append(devices, d)
	}

	logger.Debugf("[audio] 共发现 %d 个输出设备", len(devices))
	return devices
}

const windowsDeviceScript = `Get-CimInstance Win32_SoundDevice | ForEach-Object { $_.Name + '|' + $_.DeviceID }`

func (p *Player) listWindowsDevices(ctx context.Context) ([]Device, error) {
	out, err := p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", windowsDeviceScript)
	if err != nil {
		return nil, err
	}
	return parseWindowsDevices(string(out)), nil
}

// parseWindowsDevices 解析 "名称|设备ID" 形式的每行输出。
func parseWindowsDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		name, id, ok := strings.Cut(line, "|")
		if !ok || strings.TrimSpace(id) == "" {
			continue
		}
		devices = append(devices, Device{Name: strings.TrimSpace(name), ID: strings.TrimSpace(id)})
	}
	return devices
}

func (p *Player) listDarwinDevices(ctx context.Context) ([]Device, error) {
	out, err := p.runner.Run(ctx, "system_profiler", "SPAudioDataType", "-json")
	if err != nil {
		return nil, err
	}
	return parseDarwinDevices(out)
}

type darwinAudioReport struct {
	SPAudioDataType []struct {
		Items []map[string]any `json:"_items"`
	} `json:"SPAudioDataType"`
}

// parseDarwinDevices 解析 system_profiler 的 JSON 输出，只保留带输出通道的设备。
// afplay 无法按 ID 选择设备，这里用设备名作为 ID。
func parseDarwinDevices(out []byte) ([]Device, error) {
	var report darwinAudioReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, err
	}
	var devices []Device
	for _, group := range report.SPAudioDataType {
		for _, item := range group.Items {
			name, _ := item["_name"].(string)
			if name == "" {
				continue
			}
			if _, ok := item["coreaudio_device_output"]; !ok {
				continue
			}
			devices = append(devices, Device{Name: name, ID: name})
		}
	}
	return devices, nil
}

func (p *Player) listLinuxDevices(ctx context.Context) ([]Device, error) {
	out, err := p.runner.Run(ctx, "pactl", "list", "short", "sinks")
	if err == nil {
		return parsePactlSinks(string(out)), nil
	}
	logger.Debugf("[audio] pactl 枚举失败，尝试 aplay: %v", err)

	out, aplayErr := p.runner.Run(ctx, "aplay", "-l")
	if aplayErr != nil {
		return nil, aplayErr
	}
	return parseAplayDevices(string(out)), nil
}

// parsePactlSinks 解析 `pactl list short sinks`：序号\t名称\t驱动\t格式\t状态。
func parsePactlSinks(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		devices = append(devices, Device{Name: fields[1], ID: fields[1]})
	}
	return devices
}

var aplayCardRe = regexp.MustCompile(`^card (\d+): [^\[]*\[([^\]]*)\], device (\d+): [^\[]*\[([^\]]*)\]`)

// parseAplayDevices 解析 `aplay -l`，设备 ID 为 ALSA 的 hw:卡,设备 形式。
func parseAplayDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		m := aplayCardRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		devices = append(devices, Device{
			Name: m[2] + " - " + m[4],
			ID:   "hw:" + m[1] + "," + m[3],
		})
	}
	return devices
}
