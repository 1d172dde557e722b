package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// DefaultPath 是默认的配置文件路径。
const DefaultPath = "configs/streamvoice.yaml"

// Config 是 StreamVoice 的顶层配置结构。
type Config struct {
	TTS      TTSConfig      `yaml:"tts"`
	Audio    AudioConfig    `yaml:"audio"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// TTSConfig 语音合成配置。
type TTSConfig struct {
	// DefaultEngine 是请求未指定引擎时的首选引擎。
	DefaultEngine string `yaml:"default_engine"`

	// Priority 是回退顺序，system_tts 不在列表中时会自动追加到末尾。
	Priority []string `yaml:"priority"`

	// Speed 是默认语速倍率。
	Speed float64 `yaml:"speed"`

	Google   GoogleConfig `yaml:"google"`
	Voicevox LocalConfig  `yaml:"voicevox"`
	Avis     LocalConfig  `yaml:"avis"`
	System   SystemConfig `yaml:"system"`
	Edge     EdgeConfig   `yaml:"edge"`
}

// GoogleConfig Gemini 云端语音配置。
type GoogleConfig struct {
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url"`
	Voice             string `yaml:"voice"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// LocalConfig VOICEVOX / AivisSpeech 本地引擎配置。
type LocalConfig struct {
	BaseURL string `yaml:"base_url"`

	// Voice 形如 "ずんだもん(ノーマル)"。
	Voice string `yaml:"voice"`
}

// SystemConfig 系统 TTS 配置。
type SystemConfig struct {
	Voice string `yaml:"voice"`
}

// EdgeConfig Edge TTS 配置。Enabled 为 false 时不注册该引擎。
type EdgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Voice   string `yaml:"voice"`
}

// AudioConfig 播放配置。
type AudioConfig struct {
	OutputDevice string `yaml:"output_device"`

	// GapSeconds 是连续播放时片段之间的间隔。
	GapSeconds *float64 `yaml:"gap_seconds"`

	// RenderDir 保存预渲染的台词音频。
	RenderDir string `yaml:"render_dir"`
}

// Gap 返回片段间隔秒数。
func (a AudioConfig) Gap() float64 {
	if a.GapSeconds == nil {
		return 0
	}
	return *a.GapSeconds
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load 读取并解析 YAML 配置文件，展开环境变量并填充默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML 配置内容。
func Parse(data []byte) (*Config, error) {
	// 展开环境变量，如 ${STREAMVOICE_GOOGLE_API_KEY}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，用于没有配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.TTS.DefaultEngine == "" {
		cfg.TTS.DefaultEngine = "voicevox"
	}
	if len(cfg.TTS.Priority) == 0 {
		cfg.TTS.Priority = []string{"google", "avis", "voicevox", "system_tts"}
	}
	if cfg.TTS.Speed == 0 {
		cfg.TTS.Speed = 1.0
	}
	if cfg.TTS.Voicevox.BaseURL == "" {
		cfg.TTS.Voicevox.BaseURL = "http://127.0.0.1:50021"
	}
	if cfg.TTS.Avis.BaseURL == "" {
		cfg.TTS.Avis.BaseURL = "http://127.0.0.1:10101"
	}
	if cfg.TTS.Google.Model == "" {
		cfg.TTS.Google.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.TTS.Google.Voice == "" {
		cfg.TTS.Google.Voice = "Kore"
	}
	if cfg.TTS.Google.RequestsPerMinute == 0 {
		cfg.TTS.Google.RequestsPerMinute = 10
	}
	if cfg.TTS.Google.TimeoutSeconds == 0 {
		cfg.TTS.Google.TimeoutSeconds = 60
	}

	if cfg.Audio.OutputDevice == "" {
		cfg.Audio.OutputDevice = "default"
	}
	if cfg.Audio.GapSeconds == nil {
		gap := 0.5
		cfg.Audio.GapSeconds = &gap
	}
	if cfg.Audio.RenderDir == "" {
		cfg.Audio.RenderDir = "~/.streamvoice/rendered"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "~/.streamvoice/streamvoice.db"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Go 不会自动展开 ~
	cfg.Audio.RenderDir = expandHome(cfg.Audio.RenderDir)
	cfg.Database.Path = expandHome(cfg.Database.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	// 去除 API Key 两端可能的空白（环境变量展开后常见）
	cfg.TTS.Google.APIKey = strings.TrimSpace(cfg.TTS.Google.APIKey)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// Validate 检查配置取值是否合法。
func (c *Config) Validate() error {
	if c.TTS.Speed <= 0 {
		return fmt.Errorf("tts.speed 必须大于 0 (got %v)", c.TTS.Speed)
	}
	if c.Audio.Gap() < 0 {
		return fmt.Errorf("audio.gap_seconds 不能为负数 (got %v)", c.Audio.Gap())
	}
	if c.TTS.Google.RequestsPerMinute < 0 {
		return fmt.Errorf("tts.google.requests_per_minute 不能为负数")
	}
	if c.TTS.Google.TimeoutSeconds < 0 {
		return fmt.Errorf("tts.google.timeout_seconds 不能为负数")
	}
	return nil
}
