package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestPerformerFiles_WithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "performers")
	cfg := Config{File: FileConfig{Dir: dir}}
	out, errF, err := cfg.PerformerFiles("queue-worker-1")
	if err != nil {
		t.Fatalf("PerformerFiles error: %v", err)
	}
	if out == nil || errF == nil {
		t.Fatalf("expected both files when Dir is set")
	}
	_, _ = out.WriteString("hello-out\n")
	_, _ = errF.WriteString("hello-err\n")
	_ = out.Close()
	_ = errF.Close()

	for _, p := range []string{"queue-worker-1.stdout.log", "queue-worker-1.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
}

func TestPerformerFiles_Appends(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	for i := 0; i < 2; i++ {
		out, errF, err := cfg.PerformerFiles("w")
		if err != nil {
			t.Fatalf("PerformerFiles: %v", err)
		}
		_, _ = out.WriteString("line\n")
		_ = out.Close()
		_ = errF.Close()
	}
	b, err := os.ReadFile(filepath.Join(dir, "w.stdout.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(b), "line\n"); got != 2 {
		t.Fatalf("expected 2 appended lines, got %d", got)
	}
}

func TestPerformerFiles_NoDir(t *testing.T) {
	out, errF, err := Config{}.PerformerFiles("w")
	if err != nil || out != nil || errF != nil {
		t.Fatalf("expected nil files and nil error, got %v %v %v", out, errF, err)
	}
}

func TestWriter_Rotating(t *testing.T) {
	p := filepath.Join(t.TempDir(), "orchestral.log")
	w := Config{File: FileConfig{Path: p}}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: %+v", l)
	}
	if (Config{}).Writer() != os.Stderr {
		t.Fatalf("expected stderr without a path")
	}
}

func TestNewSloggerTo_Formats(t *testing.T) {
	var buf bytes.Buffer
	Config{Slog: SlogConfig{Format: "json", Level: "debug"}}.NewSloggerTo(&buf).Debug("hello", "performer", "w-1")
	if !strings.Contains(buf.String(), `"performer":"w-1"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
	if strings.Contains(buf.String(), `"time"`) {
		t.Fatalf("timestamps should be dropped by default: %q", buf.String())
	}

	buf.Reset()
	Config{Slog: SlogConfig{Color: true}}.NewSloggerTo(&buf).Warn("careful")
	if !strings.Contains(buf.String(), "33mWARN") {
		t.Fatalf("expected colored level, got %q", buf.String())
	}

	buf.Reset()
	Config{Slog: SlogConfig{Level: "error"}}.NewSloggerTo(&buf).Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at error level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
