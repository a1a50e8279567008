package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("frame pool created", "width", 800)

	out := buf.String()
	if !strings.Contains(out, `msg="frame pool created"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=capture") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "width=800") {
		t.Fatalf("expected width field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)
	L("snapshot").Debug("copied", "cropped", true)

	out := buf.String()
	if !strings.Contains(out, `"component":"snapshot"`) {
		t.Fatalf("expected json component field, got: %s", out)
	}
	if !strings.Contains(out, `"cropped":true`) {
		t.Fatalf("expected json cropped field, got: %s", out)
	}
}

func TestRecorderCapturesLoggerAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := &recordingHandler{
		base: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}

	rec := NewRecorder("warn", 4)
	detach := Attach(rec)
	t.Cleanup(detach)

	logger := slog.New(handler).With(
		slog.String(KeyComponent, "capture"),
		slog.String(KeyTest, "alpha"),
	)
	logger.Info("not recorded")
	logger.Warn("session close failed", KeyError, errors.New("boom"))

	entries := rec.Drain()
	if len(entries) != 1 {
		t.Fatalf("expected 1 recorded entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "capture" {
		t.Fatalf("expected component from logger attrs, got %q", e.Component)
	}
	if got := e.Fields[KeyTest]; got != "alpha" {
		t.Fatalf("expected test field, got %#v", got)
	}
	if got := e.Fields[KeyError]; got != "boom" {
		t.Fatalf("expected error field, got %#v", got)
	}
	if !strings.Contains(buf.String(), "not recorded") {
		t.Fatalf("base handler should still receive info records: %s", buf.String())
	}
}

func TestRecorderSeesRecordsBelowOutputLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := &recordingHandler{
		base: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	rec := NewRecorder("warn", 4)
	detach := Attach(rec)
	defer detach()

	slog.New(handler).Warn("teardown")

	if len(rec.Drain()) != 1 {
		t.Fatal("expected warn record to be recorded even though output level is error")
	}
	if buf.Len() != 0 {
		t.Fatalf("warn record should not reach error-level output: %s", buf.String())
	}
}

func TestRecorderCapacity(t *testing.T) {
	handler := &recordingHandler{base: slog.NewTextHandler(&bytes.Buffer{}, nil)}
	rec := NewRecorder("info", 2)
	detach := Attach(rec)
	defer detach()

	logger := slog.New(handler)
	for i := 0; i < 5; i++ {
		logger.Info("entry", "i", i)
	}
	if got := len(rec.Drain()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
	if got := rec.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped, got %d", got)
	}
}

func TestDetachRestoresPrevious(t *testing.T) {
	outer := NewRecorder("info", 4)
	inner := NewRecorder("info", 4)
	detachOuter := Attach(outer)
	defer detachOuter()

	detachInner := Attach(inner)
	detachInner()

	handler := &recordingHandler{base: slog.NewTextHandler(&bytes.Buffer{}, nil)}
	slog.New(handler).Info("after detach")

	if len(inner.Drain()) != 0 {
		t.Fatal("detached recorder should not receive entries")
	}
	if len(outer.Drain()) != 1 {
		t.Fatal("outer recorder should be active again")
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func TestRunLogStartsFreshPerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wgctest.log")

	for _, run := range []string{"run1\n", "run2\n", "run3\n"} {
		l, err := OpenRunLog(path, WithKeep(1))
		if err != nil {
			t.Fatalf("OpenRunLog: %v", err)
		}
		if _, err := l.Write([]byte(run)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	if got := readFile(t, path); got != "run3\n" {
		t.Fatalf("current log = %q, want only the last run", got)
	}
	if got := readFile(t, path+".1"); got != "run2\n" {
		t.Fatalf("previous log = %q, want run2", got)
	}
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Fatalf("expected run1 to be dropped, stat err = %v", err)
	}
}

func TestRunLogRotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wgctest.log")
	l, err := OpenRunLog(path, WithKeep(2))
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	defer l.Close()
	l.maxSize = 16

	for i := 0; i < 4; i++ {
		if _, err := l.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	files := l.Files()
	want := []string{path, path + ".1", path + ".2"}
	if len(files) != len(want) {
		t.Fatalf("Files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("Files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected no third backup, stat err = %v", err)
	}
}

func TestRunLogWriteAfterClose(t *testing.T) {
	l, err := OpenRunLog(filepath.Join(t.TempDir(), "wgctest.log"))
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	l.Close()
	if _, err := l.Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Write after Close = %v, want os.ErrClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}
