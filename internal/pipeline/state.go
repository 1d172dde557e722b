package pipeline

import (
	"sync"

	"github.com/iabetor/streamvoice/internal/logger"
)

// State 表示流水线当前在做什么，供 UI 显示。
type State int

const (
	// StateIdle 表示空闲。
	StateIdle State = iota
	// StateSynthesizing 表示正在沿回退链合成语音。
	StateSynthesizing
	// StateSpeaking 表示正在播放音频。
	StateSpeaking
	// StateRendering 表示正在预渲染剧本台词。
	StateRendering
)

var stateNames = [...]string{
	"Idle",
	"Synthesizing",
	"Speaking",
	"Rendering",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// StateMachine 管理线程安全的状态转换。
type StateMachine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State)
}

// NewStateMachine 创建一个初始状态为 Idle 的状态机。
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
	}
}

// SetOnChange 注册状态变化时的回调函数。
func (sm *StateMachine) SetOnChange(fn func(from, to State)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// Current 返回当前状态。
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition 尝试切换状态。只有合法的转换才会生效：
//
//	Idle         → Synthesizing （开始合成）
//	Idle         → Rendering    （开始预渲染剧本）
//	Idle         → Speaking     （直接播放已渲染的剧本）
//	Synthesizing → Speaking     （合成完成，开始播放）
//	Speaking     → Synthesizing （长文本的下一段）
//
// 任何状态都可以转换到 Idle（完成、出错或被打断）。
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransition(sm.current, to) {
		logger.Debugf("[state] 非法转换 %s → %s", sm.current, to)
		return false
	}

	from := sm.current
	sm.current = to
	logger.Debugf("[state] %s → %s", from, to)

	if sm.onChange != nil {
		sm.onChange(from, to)
	}
	return true
}

// ForceIdle 无条件重置状态为 Idle。
func (sm *StateMachine) ForceIdle() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	sm.current = StateIdle
	if from != StateIdle {
		logger.Debugf("[state] 强制重置 %s → Idle", from)
		if sm.onChange != nil {
			sm.onChange(from, StateIdle)
		}
	}
}

// validTransition 检查状态转换是否合法。
func validTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateSynthesizing || to == StateRendering || to == StateSpeaking
	case StateSynthesizing:
		return to == StateSpeaking
	case StateSpeaking:
		return to == StateSynthesizing
	}
	return false
}
