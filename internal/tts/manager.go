package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/logger"
)

// DefaultPriority 是默认的回退顺序。
var DefaultPriority = []Kind{KindGoogle, KindAivis, KindVoicevox, KindSystem}

// ManagerConfig 是 Manager 的构造参数。
type ManagerConfig struct {
	Engines  []Engine
	Priority []Kind
	// Default 是请求未指定引擎时的首选引擎。
	Default Kind
	// APIKey 只会传给 google 引擎。
	APIKey string
}

// Manager 按优先级依次尝试各个引擎，直到某个引擎产出音频。
// 同一次调用中候选引擎严格串行尝试，不会并发。
type Manager struct {
	mu          sync.RWMutex
	engines     map[Kind]Engine
	names       []Kind // 注册顺序
	priority    []Kind
	defaultKind Kind
	apiKey      string
}

// NewManager 创建引擎管理器。重复注册的引擎以后者为准。
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("[manager] 至少需要注册一个语音引擎")
	}

	m := &Manager{engines: make(map[Kind]Engine, len(cfg.Engines))}
	for _, e := range cfg.Engines {
		name := e.Describe().Name
		if _, dup := m.engines[name]; !dup {
			m.names = append(m.names, name)
		}
		m.engines[name] = e
	}

	priority := cfg.Priority
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	m.priority = dedupKinds(priority)
	m.apiKey = strings.TrimSpace(cfg.APIKey)
	m.defaultKind = m.pickDefault(cfg.Default)

	logger.Infof("[manager] 已注册引擎 %v，优先级 %v，默认引擎 %s", m.names, m.priority, m.defaultKind)
	return m, nil
}

// pickDefault 返回可用的默认引擎：指定的引擎未注册时取优先级中第一个已注册的引擎。
func (m *Manager) pickDefault(kind Kind) Kind {
	if _, ok := m.engines[kind]; ok {
		return kind
	}
	fallback := m.names[0]
	for _, k := range m.priority {
		if _, ok := m.engines[k]; ok {
			fallback = k
			break
		}
	}
	if kind != "" {
		logger.Warnf("[manager] 默认引擎 %q 未注册，改用 %s", kind, fallback)
	}
	return fallback
}

func dedupKinds(kinds []Kind) []Kind {
	seen := make(map[Kind]bool, len(kinds))
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// ParsePriority 解析配置中的优先级列表，丢弃无法识别的条目和重复条目。
func ParsePriority(names []string) []Kind {
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			logger.Warnf("[manager] 忽略优先级条目: %v", err)
			continue
		}
		kinds = append(kinds, k)
	}
	return dedupKinds(kinds)
}

// CandidateOrder 返回一次合成的候选顺序：
// 首选引擎（若已注册）在前，随后是去重后的优先级列表，最后补上 system_tts。
func (m *Manager) CandidateOrder(preferred Kind) []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.candidateOrder(preferred)
}

func (m *Manager) candidateOrder(preferred Kind) []Kind {
	seen := make(map[Kind]bool, len(m.engines))
	order := make([]Kind, 0, len(m.engines))
	add := func(k Kind) {
		if _, ok := m.engines[k]; !ok || seen[k] {
			return
		}
		seen[k] = true
		order = append(order, k)
	}

	add(preferred)
	for _, k := range m.priority {
		add(k)
	}
	add(KindSystem)
	return order
}

// Synthesize 按回退链合成语音，返回非空 Result 和产出它的引擎。
// 所有候选引擎都失败时返回 *FallbackError。
func (m *Manager) Synthesize(ctx context.Context, req Request) (Result, Kind, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, "", fmt.Errorf("%w: 文本为空", ErrInvalidRequest)
	}
	if req.Speed < 0 {
		return nil, "", fmt.Errorf("%w: 语速必须大于 0 (got %.2f)", ErrInvalidRequest, req.Speed)
	}

	m.mu.RLock()
	preferred := req.Engine
	if preferred == "" {
		preferred = m.defaultKind
	} else if _, ok := m.engines[preferred]; !ok {
		logger.Warnf("[manager] 首选引擎 %q 未注册，按优先级回退", preferred)
	}
	candidates := m.candidateOrder(preferred)
	configKey := m.apiKey
	m.mu.RUnlock()

	logger.Debugf("[manager] 候选顺序: %v", candidates)

	fe := &FallbackError{}
	for _, kind := range candidates {
		if err := ctx.Err(); err != nil {
			fe.Cause = err
			break
		}
		eng := m.engine(kind)
		if eng == nil {
			continue
		}

		r := req
		r.Engine = kind
		r.APIKey = ""
		// 语音标识只对首选引擎有效
		if kind != preferred {
			r.Voice = ""
		}
		if kind == KindGoogle {
			r.APIKey = strings.TrimSpace(req.APIKey)
			if r.APIKey == "" {
				r.APIKey = configKey
			}
			if r.APIKey == "" {
				logger.Infof("[manager] %s: 未配置 API Key，跳过", kind)
				fe.Attempts = append(fe.Attempts, Attempt{Engine: kind, Outcome: OutcomeNoAPIKey})
				continue
			}
		}

		if checker, ok := eng.(AvailabilityChecker); ok && !checker.CheckAvailability(ctx) {
			logger.Infof("[manager] %s: 不可用，跳过", kind)
			fe.Attempts = append(fe.Attempts, Attempt{Engine: kind, Outcome: OutcomeUnavailable})
			continue
		}

		res := eng.Synthesize(ctx, r)
		if res.Empty() {
			logger.Warnf("[manager] %s: 未产出音频，尝试下一个引擎", kind)
			fe.Attempts = append(fe.Attempts, Attempt{Engine: kind, Outcome: OutcomeFailed})
			continue
		}

		logger.Infof("[manager] 使用 %s 合成成功 (%d 个文件)", kind, len(res))
		return res, kind, nil
	}

	logger.Errorf("[manager] %v", fe)
	return nil, "", fe
}

// SynthesizeSilence 生成一段静音（"等待"台词），返回临时 WAV。
func (m *Manager) SynthesizeSilence(seconds float64) (Result, error) {
	wav, err := audio.Silence(seconds, audio.SpeechFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	f, err := audio.WriteTemp("wait", wav)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	logger.Debugf("[manager] 已生成 %.2f 秒静音", seconds)
	return Result{f}, nil
}

func (m *Manager) engine(kind Kind) Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[kind]
}

// Describe 返回引擎描述。
func (m *Manager) Describe(kind Kind) (Descriptor, bool) {
	eng := m.engine(kind)
	if eng == nil {
		return Descriptor{}, false
	}
	return eng.Describe(), true
}

// EngineNames 按注册顺序返回所有引擎名。
func (m *Manager) EngineNames() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Kind(nil), m.names...)
}

// Voices 返回指定引擎的语音列表。
func (m *Manager) Voices(ctx context.Context, kind Kind) ([]string, error) {
	eng := m.engine(kind)
	if eng == nil {
		return nil, fmt.Errorf("[manager] 引擎 %q 未注册", kind)
	}
	return eng.Voices(ctx), nil
}

// CheckAllAvailability 并发探测所有支持探测的引擎，其余引擎视为可用。
func (m *Manager) CheckAllAvailability(ctx context.Context) map[Kind]bool {
	names := m.EngineNames()
	result := make(map[Kind]bool, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range names {
		eng := m.engine(kind)
		checker, ok := eng.(AvailabilityChecker)
		if !ok {
			mu.Lock()
			result[kind] = true
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			ok := checker.CheckAvailability(gctx)
			mu.Lock()
			result[kind] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// Current 返回当前默认引擎。
func (m *Manager) Current() Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultKind
}

// SetPriority 替换优先级列表。
func (m *Manager) SetPriority(priority []Kind) {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	m.mu.Lock()
	m.priority = dedupKinds(priority)
	m.mu.Unlock()
	logger.Infof("[manager] 优先级已更新: %v", priority)
}

// SetDefault 修改默认引擎，引擎未注册时返回错误。
func (m *Manager) SetDefault(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[kind]; !ok {
		return fmt.Errorf("[manager] 引擎 %q 未注册", kind)
	}
	m.defaultKind = kind
	logger.Infof("[manager] 默认引擎已切换为 %s", kind)
	return nil
}

// SetAPIKey 修改传给 google 引擎的 API Key。
func (m *Manager) SetAPIKey(key string) {
	m.mu.Lock()
	m.apiKey = strings.TrimSpace(key)
	m.mu.Unlock()
}
