package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/pocketsaas/core/buildinfo"
	coreconfig "github.com/m3rciful/pocketsaas/core/config"
)

const (
	defaultSampleNum = 1
	defaultSampleDen = 50
	writerBufSize    = 64 * 1024
)

var (
	initOnce   sync.Once
	shutdownMu sync.Mutex
	shutdowned bool

	writers    []*asyncWriter
	logClosers []io.Closer

	levelVar slog.LevelVar

	debugSampler  = newKeyedSampler(defaultSampleNum, defaultSampleDen)
	traceOverride bool

	// L is the root logger. Prefer the context-first helpers below.
	L *slog.Logger
)

// settings is the logging section of the config after defaults.
type settings struct {
	format     logFormat
	level      slog.Level
	keyOrder   []string
	sampleNum  int
	sampleDen  int
	stacks     bool
	stackLevel slog.Level
	profile    string
	dir        string
	botFile    string
	errorsFile string
}

func settingsFrom(cfg *coreconfig.Config) settings {
	s := settings{
		format:    formatJSON,
		level:     slog.LevelInfo,
		keyOrder:  append([]string(nil), defaultKeyOrder...),
		sampleNum: defaultSampleNum,
		sampleDen: defaultSampleDen,
		profile:   "prod",
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	s.format = parseFormat(lc.Format, s.profile)
	s.level = parseLevel(lc.Level)
	if order := parseKeyOrder(lc.KeysOrder); order != nil {
		s.keyOrder = order
	}
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		num, den := parseRatioSpec(spec)
		switch {
		case num == 0 && den == 0:
			s.sampleNum, s.sampleDen = 0, 0
		case num > 0 && den > 0:
			s.sampleNum, s.sampleDen = num, den
		}
	}
	s.stacks, s.stackLevel = parseStacks(lc.Stacks)
	s.dir = strings.TrimSpace(lc.Dir)
	s.botFile = strings.TrimSpace(lc.BotFile)
	s.errorsFile = strings.TrimSpace(lc.ErrorsFile)
	return s
}

func parseFormat(raw, profile string) logFormat {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	if profile == "debug" || profile == "dev" {
		return formatKV
	}
	return formatJSON
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// parseKeyOrder returns nil for "" and "default".
func parseKeyOrder(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return nil
	}
	var order []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			order = append(order, p)
		}
	}
	return order
}

// parseStacks reads "off", "error" or "warn": the lowest level that gets a
// stack field.
func parseStacks(raw string) (bool, slog.Level) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error", "on", "true":
		return true, slog.LevelError
	case "warn", "warning":
		return true, slog.LevelWarn
	}
	return false, slog.LevelError
}

// InitLogger configures the global structured logger. It may be called only once.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		s := settingsFrom(cfg)
		levelVar.Set(s.level)
		debugSampler.Set(s.sampleNum, s.sampleDen)
		traceOverride = detectTraceFlag()

		sinks := []io.Writer{os.Stdout}
		if f := openSink(s.dir, s.botFile); f != nil {
			sinks = append(sinks, f)
			logClosers = append(logClosers, f)
		}
		mainWriter := newAsyncWriter(sinks, writerBufSize)
		writers = append(writers, mainWriter)

		var errWriter *asyncWriter
		if f := openSink(s.dir, s.errorsFile); f != nil {
			logClosers = append(logClosers, f)
			errWriter = newAsyncWriter([]io.Writer{f}, writerBufSize)
			writers = append(writers, errWriter)
		}

		handler := newStructuredHandler(handlerConfig{
			level:      &levelVar,
			writer:     mainWriter,
			errWriter:  errWriter,
			format:     s.format,
			keyOrder:   s.keyOrder,
			stacks:     s.stacks,
			stackLevel: s.stackLevel,
		})

		L = slog.New(handler)
		slog.SetDefault(L)
		logStartup(s)
	})
	return nil
}

// openSink opens dir/name for appending. Failures are reported on stderr and
// leave the sink out; logging to stdout continues.
func openSink(dir, name string) *os.File {
	if dir == "" || name == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: failed to create log dir %s: %v", dir, err)
		return nil
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: failed to open log file %s: %v", path, err)
		return nil
	}
	return f
}

func logStartup(s settings) {
	L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
		slog.String("component", "app"),
		slog.String("event", "startup"),
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", s.profile),
		slog.String("level", s.level.String()),
	)
}

// Shutdown flushes buffered log output and closes opened sinks.
func Shutdown() error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if shutdowned {
		return nil
	}
	shutdowned = true

	var errs []error
	for _, w := range writers {
		if err := w.Flush(); err != nil && !errors.Is(err, errNoSinks) {
			errs = append(errs, err)
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range logClosers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Background is the root context for logs emitted outside any update.
func Background() context.Context {
	return context.Background()
}

// LogEvent writes one record with the event attribute first. A nil logg
// falls back to the context logger, then to L; before InitLogger it is a
// no-op.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		logg = L
	}
	if logg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to name, or nil before InitLogger.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return L
	}
	return L.With("component", trimmed)
}

// Event logs through the component logger.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	logg := Component(component)
	if logg == nil {
		logg = FromContext(ctx)
		if logg != nil && strings.TrimSpace(component) != "" {
			logg = logg.With("component", strings.TrimSpace(component))
		}
	}
	LogEvent(ctx, logg, level, event, attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

func detectTraceFlag() bool {
	return isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug event for key
// should be logged. Each key, typically a bot or a campaign, is sampled on
// its own. TRACE=1 lets everything through.
func ShouldSampleDebug(key string) bool {
	if traceOverride {
		return true
	}
	return debugSampler.Allow(key)
}
