package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.Info().Str("bridge_id", "7").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["bridge_id"] != "7" {
		t.Errorf("bridge_id = %v, want 7", entry["bridge_id"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn not written: %q", buf.String())
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "console")
	logger.Info().Msg("plain")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("console output looks like JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "plain") {
		t.Errorf("message missing: %q", buf.String())
	}
}

func TestGormLevel(t *testing.T) {
	tests := []struct {
		in   zerolog.Level
		want gormlogger.LogLevel
	}{
		{zerolog.TraceLevel, gormlogger.Info},
		{zerolog.DebugLevel, gormlogger.Info},
		{zerolog.InfoLevel, gormlogger.Warn},
		{zerolog.WarnLevel, gormlogger.Warn},
		{zerolog.ErrorLevel, gormlogger.Error},
		{zerolog.Disabled, gormlogger.Silent},
	}
	for _, tt := range tests {
		if got := gormLevel(tt.in); got != tt.want {
			t.Errorf("gormLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGormLogger_NotNil(t *testing.T) {
	if GormLogger() == nil {
		t.Fatal("GormLogger() returned nil")
	}
}
