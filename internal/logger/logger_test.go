package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
		"":        INFO,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel accepted an unknown level")
	}
}

func TestModuleTagAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)
	m := l.Module("Scheduler")

	m.Debug("hidden %d", 1)
	m.Info("tick %d skipped", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, "[INFO] [Scheduler] tick 7 skipped") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSilentWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("Main", "boom")
	if buf.Len() != 0 {
		t.Fatalf("silent logger wrote %q", buf.String())
	}
}

func TestColorPrefix(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Warn("Camera", "slow")
	if !strings.Contains(buf.String(), levelColors[WARN]+"[WARN]"+resetColor) {
		t.Fatalf("missing color codes: %q", buf.String())
	}
}

func TestZeroModuleWithoutGlobalIsSafe(t *testing.T) {
	var m Module
	m.Info("no logger installed")
}
