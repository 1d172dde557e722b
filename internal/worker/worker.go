// Package worker 提供进程内唯一的长生命周期任务执行器。
// UI 等调用方通过 Submit 提交合成/播放任务，完成后经回调收到结果，
// 不需要为每次调用单独创建协程或事件循环。
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/streamvoice/internal/logger"
)

var (
	// ErrQueueFull 表示队列已满。
	ErrQueueFull = errors.New("任务队列已满")
	// ErrClosed 表示执行器已停止。
	ErrClosed = errors.New("任务执行器已停止")
)

// Func 是任务体，ctx 在 Interrupt 或 Stop 时被取消。
type Func func(ctx context.Context) error

// Result 是任务的执行结果。
type Result struct {
	TaskID   string
	Name     string
	Err      error
	Duration time.Duration
}

// task 是队列中的一项。
type task struct {
	id   string
	name string
	fn   Func
	done func(Result)
}

// Runner 是带容量上限、单协程串行执行的任务队列。
type Runner struct {
	mu            sync.Mutex
	tasks         []*task
	capacity      int
	closed        bool
	started       bool
	cancelCurrent context.CancelFunc

	wg        sync.WaitGroup
	stopCh    chan struct{}
	enqueueCh chan struct{}
}

// New 创建执行器，capacity <= 0 时使用 16。
func New(capacity int) *Runner {
	if capacity <= 0 {
		capacity = 16
	}
	return &Runner{
		tasks:     make([]*task, 0, capacity),
		capacity:  capacity,
		stopCh:    make(chan struct{}),
		enqueueCh: make(chan struct{}, 1),
	}
}

// Start 启动工作协程，重复调用无效。
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.loop()
}

// Submit 提交任务，返回任务 ID。done 可为 nil，否则在任务结束（含被取消）后调用一次。
func (r *Runner) Submit(name string, fn Func, done func(Result)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	if len(r.tasks) >= r.capacity {
		return "", ErrQueueFull
	}

	t := &task{id: uuid.New().String(), name: name, fn: fn, done: done}
	r.tasks = append(r.tasks, t)
	logger.Debugf("[worker] 任务已入队 %s (%s)，队列长度 %d", t.id, name, len(r.tasks))

	select {
	case r.enqueueCh <- struct{}{}:
	default:
	}
	return t.id, nil
}

// Len 返回排队中的任务数（不含正在执行的任务）。
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Interrupt 取消当前任务并清空队列，被清除的任务以 context.Canceled 回调。
func (r *Runner) Interrupt() {
	r.mu.Lock()
	if r.cancelCurrent != nil {
		r.cancelCurrent()
	}
	cleared := r.tasks
	r.tasks = make([]*task, 0, r.capacity)
	r.mu.Unlock()

	for _, t := range cleared {
		t.finish(context.Canceled, 0)
	}
	logger.Infof("[worker] 已中断，清除 %d 个排队任务", len(cleared))
}

// Stop 停止执行器：取消当前任务，排队中的任务以 ErrClosed 回调，并等待工作协程退出。
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancelCurrent != nil {
		r.cancelCurrent()
	}
	pending := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	for _, t := range pending {
		t.finish(ErrClosed, 0)
	}
}

// dequeueHook 在任务出队后、开始执行前调用，测试用。
var dequeueHook func(*Runner)

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		if t, ctx := r.dequeue(); t != nil {
			if dequeueHook != nil {
				dequeueHook(r)
			}
			r.process(ctx, t)
			continue
		}
		select {
		case <-r.stopCh:
			return
		case <-r.enqueueCh:
		}
	}
}

// dequeue 取出队首任务，并在同一把锁内登记它的取消函数，
// 出队后立即到来的 Interrupt 或 Stop 也能取消该任务。
func (r *Runner) dequeue() (*task, context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.tasks) == 0 {
		return nil, nil
	}
	t := r.tasks[0]
	r.tasks = r.tasks[1:]
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelCurrent = cancel
	return t, ctx
}

func (r *Runner) process(ctx context.Context, t *task) {
	defer func() {
		r.mu.Lock()
		if r.cancelCurrent != nil {
			r.cancelCurrent()
			r.cancelCurrent = nil
		}
		r.mu.Unlock()
	}()

	start := time.Now()
	err := t.run(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		logger.Debugf("[worker] 任务完成 %s (%s)，耗时 %v", t.id, t.name, elapsed)
	case errors.Is(err, context.Canceled):
		logger.Infof("[worker] 任务已取消 %s (%s)", t.id, t.name)
	default:
		logger.Warnf("[worker] 任务失败 %s (%s): %v", t.id, t.name, err)
	}
	t.finish(err, elapsed)
}

// run 执行任务体，panic 转为错误，避免工作协程退出。
func (t *task) run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("任务 panic: " + toString(p))
		}
	}()
	return t.fn(ctx)
}

func (t *task) finish(err error, elapsed time.Duration) {
	if t.done != nil {
		t.done(Result{TaskID: t.id, Name: t.name, Err: err, Duration: elapsed})
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "unknown"
	}
}
