package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestInit_WritesToFile(t *testing.T) {
	prevZ := Z
	defer SetLogger(prevZ)

	logFile := filepath.Join(t.TempDir(), "logs", "streamvoice.log")
	if err := Init(Config{Level: "debug", File: logFile}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Infof("[test] hello %s", "file")
	Sync()
	fileWriter = nil

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log output in file")
	}
}

func TestSetLogger_NilUsesNop(t *testing.T) {
	prevZ := Z
	defer SetLogger(prevZ)

	SetLogger(nil)
	if L == nil || Z == nil {
		t.Fatal("expected non-nil loggers after SetLogger(nil)")
	}
	Warn("discarded")
}
