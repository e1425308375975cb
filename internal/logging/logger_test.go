package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"eventdedup/internal/config"
)

func TestNewWritesFileSinkWithServiceAttr(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "service.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "debug", Format: "json", Path: path},
	}, "eventdedup")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("event suppressed", "decision", "suppressed")
	closeFn()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `"service":"eventdedup"`) || !strings.Contains(text, `"decision":"suppressed"`) {
		t.Fatalf("unexpected log line %q", text)
	}
}

func TestNewRequiresSink(t *testing.T) {
	t.Parallel()

	if _, _, err := New(config.LogConfig{}, ""); err == nil {
		t.Fatalf("expected error without sinks")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel(" WARN ")
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("unexpected level %v err=%v", level, err)
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestColorLineWriterHighlightsDecision(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	writer := &colorLineWriter{dst: &out}
	line := "level=INFO msg=\"event rejected\" decision=rejected\n"
	n, err := writer.Write([]byte(line))
	if err != nil || n != len(line) {
		t.Fatalf("write n=%d err=%v", n, err)
	}
	got := out.String()
	if !strings.HasPrefix(got, ansiBlue) {
		t.Fatalf("expected info color prefix, got %q", got)
	}
	if !strings.Contains(got, ansiRed+"decision=rejected"+ansiReset+ansiBlue) {
		t.Fatalf("expected highlighted decision, got %q", got)
	}
}

func TestTeeHandlerRespectsLevels(t *testing.T) {
	t.Parallel()

	var debugBuf, errorBuf bytes.Buffer
	tee := teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	if !tee.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("tee must be enabled when any sink is")
	}
	logger := slog.New(tee).With("key", "dev/x")
	logger.Info("event accepted")

	if !strings.Contains(debugBuf.String(), "key=dev/x") {
		t.Fatalf("debug sink missing record: %q", debugBuf.String())
	}
	if errorBuf.Len() != 0 {
		t.Fatalf("error sink must skip info record: %q", errorBuf.String())
	}
}
