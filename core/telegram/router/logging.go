package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/pocketsaas/core/logger"
	tghelpers "github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summary emits the single handler.handled line of an update.
type summary struct {
	handler string
	start   time.Time
	extras  []slog.Attr
}

func newSummary(handler string, start time.Time, extras ...slog.Attr) summary {
	return summary{handler: handler, start: start, extras: extras}
}

func (s summary) run(c tele.Context, fn tele.HandlerFunc) error {
	tghelpers.WithHandler(c, s.handler)
	err := fn(c)
	s.log(c, logger.Status(err), err)
	return err
}

// skip records an update nobody handled.
func (s summary) skip(c tele.Context) {
	s.log(c, "skip", nil)
}

func (s summary) log(c tele.Context, status string, err error) {
	ctx := tghelpers.WithHandler(c, s.handler)
	rc := middleware.Counters(c)

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", s.handler),
		slog.Int("messages", rc.Messages),
		slog.Bool("kb", rc.Keyboard),
		slog.Bool("media", rc.Media),
		slog.Duration("duration", time.Since(s.start)),
	}
	level := slog.LevelInfo
	if err != nil && status == "fail" {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(logger.RedactTokens(err.Error()), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	attrs = append(attrs, s.extras...)
	logger.LogEvent(ctx, nil, level, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

// errorCode gives failures a stable label: a Bot API error code, a Code()
// from the error itself, or UNKNOWN_ERROR.
func errorCode(err error) string {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return fmt.Sprintf("TG_%d", apiErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	var c interface{ Code() string }
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	return "UNKNOWN_ERROR"
}
