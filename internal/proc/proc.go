// Package proc 封装外部命令的执行：统一超时、退出码和 stderr 采集。
// 系统 TTS 和播放器都通过 Runner 调用平台命令，测试中可替换为假实现。
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout 是调用方未设置截止时间时使用的超时。
const DefaultTimeout = 60 * time.Second

// ErrNotFound 表示可执行文件不存在。
var ErrNotFound = errors.New("可执行文件不存在")

// Error 描述一次失败的命令执行。
type Error struct {
	Name     string
	ExitCode int // -1 表示进程未正常退出（超时、被杀死等）
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr != "" {
		return fmt.Sprintf("%s 执行失败 (exit=%d): %v, stderr: %s", e.Name, e.ExitCode, e.Err, stderr)
	}
	return fmt.Sprintf("%s 执行失败 (exit=%d): %v", e.Name, e.ExitCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner 执行外部命令。
type Runner interface {
	// Run 运行命令并返回 stdout。失败时返回 *Error 或包装了 ErrNotFound 的错误。
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath 查找可执行文件，找不到时返回 ErrNotFound。
	LookPath(name string) (string, error)
}

// ExecRunner 是基于 os/exec 的 Runner 实现。
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner 创建带默认超时的 ExecRunner。
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// Run 实现 Runner。
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	pe := &Error{Name: name, ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		pe.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		pe.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return nil, pe
}

// LookPath 实现 Runner。
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return path, nil
}

// IsNotFound 判断错误是否表示可执行文件不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
