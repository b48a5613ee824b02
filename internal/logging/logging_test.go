package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStderrWhenNoFile(t *testing.T) {
	if w := Writer(Options{}); w != os.Stderr {
		t.Errorf("expected stderr writer, got %T", w)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskvault.log")

	logger := New("[engine] ", Options{File: path})
	logger.Printf("sync complete")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "[engine] ") || !strings.Contains(line, "sync complete") {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestDefaults(t *testing.T) {
	o := Options{File: "x"}.withDefaults()
	if o.MaxSizeMB != 10 || o.MaxBackups != 3 || o.MaxAgeDays != 28 {
		t.Errorf("defaults = %+v", o)
	}
}
