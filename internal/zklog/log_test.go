package zklog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func TestModuleAttribute(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, slog.LevelDebug).Module("etable").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	if entry["module"] != "etable" {
		t.Fatalf("module = %v, want etable", entry["module"])
	}
	if entry["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", entry["msg"])
	}
}

func TestWithChainsContext(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug).Module("allocator").With("cellFamily", "u64")
	l.Info("reserved")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["module"] != "allocator" || entry["cellFamily"] != "u64" {
		t.Fatalf("context lost: %v", entry)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelInfo)
	l.Debug("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("debug line leaked through an info-level handler: %s", buf.String())
	}
	l.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn line must pass an info-level handler")
	}
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
		"":       slog.LevelInfo,
		"bogus":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromEnv(in); got != want {
			t.Fatalf("levelFromEnv(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDefaultIsStable(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must return the same logger")
	}
}
