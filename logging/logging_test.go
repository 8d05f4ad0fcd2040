package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestComponentJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := initialize(Config{Level: "debug", JSON: true}, &buf); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer initialize(Config{}, os.Stderr)

	Gate().Info("Login successful", "username", "alice")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Output is not JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "gate" {
		t.Errorf("Expected component=gate, got %v", line["component"])
	}
	if line["username"] != "alice" {
		t.Errorf("Expected username=alice, got %v", line["username"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	initialize(Config{Level: "warn"}, &buf)
	defer initialize(Config{}, os.Stderr)

	Storage().Info("hidden")
	Storage().Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info line should have been filtered")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Warn line missing")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.log")
	var console bytes.Buffer
	if err := initialize(Config{File: path}, &console); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	HTTP().Error("request failed")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	initialize(Config{}, os.Stderr)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file not written: %v", err)
	}
	if !strings.Contains(string(data), "request failed") {
		t.Errorf("Log file missing line: %q", data)
	}
	if !strings.Contains(console.String(), "request failed") {
		t.Error("Console missing line")
	}
}
