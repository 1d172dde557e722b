package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iabetor/streamvoice/internal/logger"
)

// reloadDebounce 合并编辑器保存时产生的多次写事件。
const reloadDebounce = 500 * time.Millisecond

// Watcher 监听配置文件变化，重新加载后通过回调通知调用方。
// 加载失败时回调收到 nil 配置和错误，当前配置保持不变。
type Watcher struct {
	path     string
	onReload func(*Config, error)
	fsw      *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config
	timer   *time.Timer
	reloads atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher 加载配置并开始监听。
// 监听的是所在目录，这样编辑器以"写临时文件再重命名"方式保存时也能收到事件。
func NewWatcher(path string, onReload func(*Config, error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("加载初始配置失败: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}

	w := &Watcher{
		path:     abs,
		onReload: onReload,
		fsw:      fsw,
		current:  cfg,
		done:     make(chan struct{}),
	}
	go w.watch()

	logger.Infof("[config] 正在监听配置文件 %s", abs)
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("[config] 文件监听错误: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	count := w.reloads.Add(1)
	logger.Infof("[config] 重新加载配置 %s (第 %d 次)", w.path, count)

	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("[config] 重新加载配置失败: %v", err)
		if w.onReload != nil {
			w.onReload(nil, err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(cfg, nil)
	}
}

// Snapshot 返回当前配置。
func (w *Watcher) Snapshot() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ReloadCount 返回已重新加载的次数。
func (w *Watcher) ReloadCount() uint32 {
	return w.reloads.Load()
}

// Close 停止监听。
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}
