package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleLoggerLevels(t *testing.T) {
	b := &bytes.Buffer{}
	l := NewConsoleLogger(&TextPrinter{Writer: b}, func(int) {})
	l.SetLevel(INFO)

	l.Debug("Debug %q", "llamas")
	l.Info("Info %q", "llamas")
	l.Warn("Warn %q", "llamas")
	l.Error("Error %q", "llamas")

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")

	if len(lines) != 3 {
		t.Fatalf("bad number of lines, got %d: %q", len(lines), lines)
	}

	if !strings.HasSuffix(lines[0], `Info "llamas"`) {
		t.Fatalf("line 0 bad, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], `Warn "llamas"`) {
		t.Fatalf("line 1 bad, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], `Error "llamas"`) {
		t.Fatalf("line 2 bad, got %q", lines[2])
	}
}

func TestConsoleLoggerFatalExits(t *testing.T) {
	b := &bytes.Buffer{}
	var exitCode int
	l := NewConsoleLogger(&TextPrinter{Writer: b}, func(code int) { exitCode = code })

	l.Fatal("boom %q", "llamas")

	if got, want := exitCode, 1; got != want {
		t.Fatalf("exitCode = %d, want %d", got, want)
	}
	if !strings.Contains(b.String(), `boom "llamas"`) {
		t.Fatalf("output missing message: %q", b.String())
	}
}

func TestConsoleLoggerWithFields(t *testing.T) {
	b := &bytes.Buffer{}
	l := NewConsoleLogger(&TextPrinter{Writer: b}, func(int) {})
	l.SetLevel(INFO)

	l.WithFields(StringField("session", "abc123")).Info("hello")

	if !strings.Contains(b.String(), "session=abc123") {
		t.Fatalf("output missing field: %q", b.String())
	}
}

func TestJSONPrinter(t *testing.T) {
	b := &bytes.Buffer{}
	l := NewConsoleLogger(NewJSONPrinter(b), func(int) {})
	l.SetLevel(DEBUG)

	l.Info("hello %s", "world")

	if !strings.Contains(b.String(), `"msg":"hello world"`) {
		t.Fatalf("JSON output missing msg field: %q", b.String())
	}
}
