package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
	maxStackFrames   = 8
)

type handlerConfig struct {
	level  slog.Leveler
	writer *asyncWriter
	// errWriter additionally receives every WARN and ERROR line.
	errWriter  *asyncWriter
	format     logFormat
	keyOrder   []string
	stacks     bool
	stackLevel slog.Level
}

// structuredHandler is the slog.Handler behind every logger in the process.
// A record becomes a flat field map which is then encoded as KV or JSON.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	fields := h.fields(ctx, r)

	var line []byte
	if h.cfg.format == formatJSON {
		var err error
		if line, err = encodeJSON(fields, h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = encodeKV(fields, h.cfg.keyOrder)
	}
	line = append(line, '\n')

	err := h.cfg.writer.Write(line)
	if h.cfg.errWriter != nil && r.Level >= slog.LevelWarn {
		err = errors.Join(err, h.cfg.errWriter.Write(line))
	}
	return err
}

// fields flattens the record, the handler's attrs and the update context
// into one map. Attrs win over context values; empty values are dropped.
func (h *structuredHandler) fields(ctx context.Context, r slog.Record) map[string]any {
	ts := r.Time.UTC()
	fields := map[string]any{
		"ts":    ts.Truncate(time.Millisecond).Format(timeFormatMillis),
		"level": r.Level.String(),
	}
	jsonOut := h.cfg.format == formatJSON
	if jsonOut {
		fields["ts_unix_nano"] = ts.UnixNano()
	}

	for _, a := range h.attrs {
		h.put(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(fields, a)
		return true
	})
	if ctx != nil {
		addContextFields(ctx, fields)
	}

	if rid, _ := fields["rid"].(string); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if _, set := fields["rid_full"]; jsonOut && !set {
				fields["rid_full"] = rid
			}
			fields["rid"] = compact
		}
	}
	if s, ok := fields["event"].(string); !ok || s == "" {
		fields["event"] = firstNonEmpty(r.Message, "unknown")
	}
	if s, ok := fields["component"].(string); !ok || s == "" {
		fields["component"] = "app"
	}
	if s, ok := fields["status"].(string); ok {
		fields["status"] = normalizeStatus(s)
	}
	if h.cfg.stacks && r.Level >= h.cfg.stackLevel {
		fields["stack"] = callerStack(maxStackFrames)
	}

	for k, v := range fields {
		if v == nil || v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// put stores attr under its dotted group path.
func (h *structuredHandler) put(fields map[string]any, attr slog.Attr) {
	walkAttr(strings.Join(h.groups, "."), attr, func(key string, v slog.Value) {
		if key == "" {
			return
		}
		key, val, ok := plainValue(key, v)
		if !ok {
			return
		}
		if s, isStr := val.(string); isStr && isErrorKey(key) {
			val = RedactTokens(s)
		}
		fields[key] = val
	})
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func walkAttr(prefix string, attr slog.Attr, fn func(string, slog.Value)) {
	key := attr.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	v := attr.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		fn(key, v)
		return
	}
	for _, child := range v.Group() {
		walkAttr(key, child, fn)
	}
}

// plainValue converts v to a JSON friendly value. Durations are written in
// milliseconds under a "_ms" key.
func plainValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func isErrorKey(key string) bool {
	switch key {
	case "err", "error", "cause":
		return true
	}
	return strings.HasSuffix(key, ".err")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func addContextFields(ctx context.Context, fields map[string]any) {
	setDefault(fields, "rid", RIDFrom(ctx))
	setDefault(fields, "tenant_id", TenantIDFrom(ctx))
	setDefault(fields, "user_id", UserIDFrom(ctx))
	setDefault(fields, "update_id", UpdateIDFrom(ctx))
	setDefault(fields, "chat_id", ChatIDFrom(ctx))
	setDefault(fields, "handler", HandlerFrom(ctx))
}

// setDefault stores v unless it is zero or key is already set.
func setDefault[T comparable](fields map[string]any, key string, v T) {
	var zero T
	if v == zero {
		return
	}
	if _, ok := fields[key]; !ok {
		fields[key] = v
	}
}

// callerStack renders the frames above the logging call as
// "pkg.Func file.go:12" joined by " < ". Frames inside slog and the
// logger itself are skipped.
func callerStack(limit int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var parts []string
	for len(parts) < limit {
		fr, more := frames.Next()
		if fr.Function != "" && !internalFrame(fr) {
			parts = append(parts, fmt.Sprintf("%s %s:%d", shortFunc(fr.Function), filepath.Base(fr.File), fr.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(parts, " < ")
}

func internalFrame(fr runtime.Frame) bool {
	if strings.HasPrefix(fr.Function, "log/slog.") || strings.HasPrefix(fr.Function, "runtime.") {
		return true
	}
	return strings.HasSuffix(filepath.Dir(fr.File), "/core/logger") && !strings.HasSuffix(fr.File, "_test.go")
}

// shortFunc trims the import path, keeping "pkg.Func".
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		return fn[i+1:]
	}
	return fn
}
