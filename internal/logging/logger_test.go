package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintfWritesLevelledJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.Printf("registered plugin grade %s\n", "BlueGreenRatio")
	l.Warnf("scene %s excluded", "S2A_55LBK")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["level"] != "info" || first["message"] != "registered plugin grade BlueGreenRatio" {
		t.Fatalf("unexpected entry: %v", first)
	}
	if _, ok := first["time"]; !ok {
		t.Fatalf("expected timestamp in %v", first)
	}
	if !strings.Contains(lines[1], `"level":"warn"`) {
		t.Fatalf("expected warn level, got %s", lines[1])
	}
}

func TestNewAppendsToProjectLog(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Errorf("export %s failed", "reef_Moore-Reef_Primary_rgb")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".reefcomp", "logs", "reefcomp.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "reef_Moore-Reef_Primary_rgb failed") {
		t.Fatalf("expected entry in log, got %q", data)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Printf("ignored")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
