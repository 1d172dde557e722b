package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/iabetor/streamvoice/internal/logger"
)

// File 是一个音频文件句柄。
// Transient 为 true 的文件由合成流程创建，播放器播放一次后删除；
// 持久文件（预渲染的台词）永远不会被播放器删除。
type File struct {
	Path      string
	Transient bool
}

// Transient 创建临时音频句柄。
func Transient(path string) File {
	return File{Path: path, Transient: true}
}

// Persistent 创建持久音频句柄。
func Persistent(path string) File {
	return File{Path: path}
}

// WriteTemp 把音频数据写入系统临时目录，返回临时句柄。
// 写入失败时会清理已创建的文件。
func WriteTemp(prefix string, data []byte) (File, error) {
	f, err := os.CreateTemp("", "streamvoice-"+prefix+"-*.wav")
	if err != nil {
		return File{}, fmt.Errorf("创建临时文件失败: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return File{}, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return File{}, fmt.Errorf("关闭临时文件失败: %w", err)
	}

	logger.Debugf("[audio] 已写入临时音频 %s (%s)", path, humanize.Bytes(uint64(len(data))))
	return Transient(path), nil
}

// TempPath 预留一个临时 WAV 路径，供外部进程写入。
func TempPath(prefix string) (string, error) {
	f, err := os.CreateTemp("", "streamvoice-"+prefix+"-*.wav")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

// NonEmpty 检查文件存在且大小非零。
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Discard 删除临时句柄对应的文件，持久句柄不做任何处理。
func Discard(f File) error {
	if !f.Transient || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除临时音频 %s 失败: %w", f.Path, err)
	}
	return nil
}

// Persist 把临时文件移动到 dir 下的 name，返回持久句柄。
// 跨文件系统时 rename 会失败，此时退化为复制后删除。
func Persist(f File, dir, name string) (File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return File{}, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
	}
	dst := filepath.Join(dir, name)

	if err := os.Rename(f.Path, dst); err != nil {
		data, readErr := os.ReadFile(f.Path)
		if readErr != nil {
			return File{}, fmt.Errorf("移动音频文件失败: %w", err)
		}
		if writeErr := os.WriteFile(dst, data, 0644); writeErr != nil {
			return File{}, fmt.Errorf("复制音频文件失败: %w", writeErr)
		}
		if f.Transient {
			_ = os.Remove(f.Path)
		}
	}
	return Persistent(dst), nil
}
