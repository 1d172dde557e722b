// Package main 是 StreamVoice 的命令行入口。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iabetor/streamvoice/internal/config"
	"github.com/iabetor/streamvoice/internal/logger"
	"github.com/iabetor/streamvoice/internal/pipeline"
)

var (
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "streamvoice",
		Short:         "带回退链的语音合成与播放工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", fmt.Sprintf("配置文件路径 (默认 %s)", config.DefaultPath))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "覆盖配置中的日志级别")

	rootCmd.AddCommand(
		sayCmd,
		waitCmd,
		enginesCmd,
		voicesCmd,
		devicesCmd,
		renderCmd,
		playScriptCmd,
		scriptsCmd,
		listenCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 读取配置。未指定 --config 且默认路径不存在时使用默认配置。
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.DefaultPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func initLogger(cfg *config.Config) error {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logger.Init(logger.Config{
		Level:      level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
}

// setup 加载配置、初始化日志并创建 Pipeline。
func setup(opts ...pipeline.Option) (*pipeline.Pipeline, *config.Config, string, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, "", err
	}
	if err := initLogger(cfg); err != nil {
		return nil, nil, "", err
	}
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return nil, nil, "", err
	}
	return p, cfg, path, nil
}

// signalContext 返回在收到 SIGINT/SIGTERM 时取消的 context。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Infof("[main] 收到信号 %v，正在停止...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
