// Package proctest 提供用于测试的 proc.Runner 假实现。
package proctest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/iabetor/streamvoice/internal/proc"
)

// Call 记录一次命令调用。
type Call struct {
	Name string
	Args []string
}

// String 返回便于断言的命令行形式。
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner 按 Handler 返回结果，并记录所有调用。
// Missing 中的命令在 Run 和 LookPath 时都返回 proc.ErrNotFound。
type Runner struct {
	mu      sync.Mutex
	Calls   []Call
	Missing map[string]bool
	Handler func(name string, args []string) ([]byte, error)
}

// Run 实现 proc.Runner。
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	missing := r.Missing[name]
	handler := r.Handler
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if missing {
		return nil, fmt.Errorf("%s: %w", name, proc.ErrNotFound)
	}
	if handler == nil {
		return nil, nil
	}
	return handler(name, args)
}

// LookPath 实现 proc.Runner。
func (r *Runner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Missing[name] {
		return "", fmt.Errorf("%s: %w", name, proc.ErrNotFound)
	}
	return "/usr/bin/" + name, nil
}

// Names 返回按顺序调用过的命令名。
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		names[i] = c.Name
	}
	return names
}

// Fail 构造一个非零退出的 *proc.Error。
func Fail(name string, code int, stderr string) error {
	return &proc.Error{Name: name, ExitCode: code, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
}
