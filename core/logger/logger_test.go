package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
)

func TestSettingsFromDefaults(t *testing.T) {
	s := settingsFrom(nil)
	if s.format != formatJSON || s.level != slog.LevelInfo || s.profile != "prod" {
		t.Fatalf("settings = %+v", s)
	}
	if s.sampleNum != 1 || s.sampleDen != 50 || s.stacks {
		t.Fatalf("settings = %+v", s)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{
		Level:       "WARNING",
		Profile:     "Dev",
		KeysOrder:   "ts, event,,level",
		DebugSample: "0",
		Stacks:      "warn",
		Dir:         " logs ",
		ErrorsFile:  "errors.log",
	}}
	s := settingsFrom(cfg)
	if s.format != formatKV {
		t.Fatalf("dev profile should default to kv, got %s", s.format)
	}
	if s.level != slog.LevelWarn {
		t.Fatalf("level = %s", s.level)
	}
	if strings.Join(s.keyOrder, ",") != "ts,event,level" {
		t.Fatalf("key order = %v", s.keyOrder)
	}
	if s.sampleNum != 0 || s.sampleDen != 0 {
		t.Fatal("debug_sample 0 should disable sampling")
	}
	if !s.stacks || s.stackLevel != slog.LevelWarn {
		t.Fatalf("stacks = %v %s", s.stacks, s.stackLevel)
	}
	if s.dir != "logs" || s.errorsFile != "errors.log" {
		t.Fatalf("sinks = %q %q", s.dir, s.errorsFile)
	}

	cfg.Logging.Format = "json"
	cfg.Logging.DebugSample = "bogus/"
	s = settingsFrom(cfg)
	if s.format != formatJSON || s.sampleNum != 0 {
		t.Fatalf("settings = %+v", s)
	}
}

func TestHandlerRoutesWarningsToErrorSink(t *testing.T) {
	main, errs := &bytes.Buffer{}, &bytes.Buffer{}
	mw := newAsyncWriter([]io.Writer{main}, 1024)
	ew := newAsyncWriter([]io.Writer{errs}, 1024)
	log := slog.New(newStructuredHandler(handlerConfig{
		level:      slog.LevelDebug,
		writer:     mw,
		errWriter:  ew,
		format:     formatKV,
		stacks:     true,
		stackLevel: slog.LevelError,
	}))

	LogEvent(Background(), log, slog.LevelInfo, "tenant.started")
	LogEvent(Background(), log, slog.LevelWarn, "gate.check")
	LogEvent(Background(), log, slog.LevelError, "db.down")
	for _, w := range []*asyncWriter{mw, ew} {
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	if n := strings.Count(main.String(), "\n"); n != 3 {
		t.Fatalf("main sink got %d lines", n)
	}
	lines := strings.Split(strings.TrimSpace(errs.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "event=gate.check") {
		t.Fatalf("error sink = %q", errs.String())
	}
	if strings.Contains(lines[0], "stack=") {
		t.Fatal("warn line should carry no stack")
	}
	if !strings.Contains(lines[1], "stack=") || !strings.Contains(lines[1], "logger_test.go") {
		t.Fatalf("error line lacks the caller stack: %s", lines[1])
	}
}

func TestShortFunc(t *testing.T) {
	if got := shortFunc("github.com/m3rciful/pocketsaas/internal/app.(*App).Run"); got != "app.(*App).Run" {
		t.Fatalf("shortFunc = %q", got)
	}
}
