package sender

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

func (d *Dispatcher) execute(c call) error {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	bounded, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	attempt := 1
	for ; ; attempt++ {
		if err = c.run(); err == nil {
			attrs := append(c.attrs(), slog.Duration("elapsed", time.Since(start)))
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempts", attempt))
			}
			logger.Debug(ctx, component, "send.success", attrs...)
			return nil
		}
		if attempt == attempts {
			break
		}
		delay, retry := d.backoff(bounded, err, attempt)
		if !retry {
			break
		}
		logger.Debug(ctx, component, "send.retry",
			append(c.attrs(),
				slog.Int("attempts", attempt),
				slog.Duration("backoff", delay),
				slog.String("error_kind", Classify(err)),
			)...)
		if waitErr := wait(bounded, delay); waitErr != nil {
			err = errors.Join(err, waitErr)
			break
		}
	}

	d.failed.Add(1)
	kind := Classify(err)
	attrs := append(c.attrs(),
		slog.String("status", "fail"),
		slog.String("err", errorMessage(err)),
		slog.String("error_kind", kind),
		slog.Int("attempts", attempt),
		slog.Duration("elapsed", time.Since(start)),
	)
	// Blocked recipients are routine during broadcasts.
	if kind == kindBlocked {
		logger.Debug(ctx, component, "send.fail", attrs...)
	} else {
		logger.Warn(ctx, component, "send.fail", attrs...)
	}
	return err
}

// backoff reports how long to wait before retrying err. Flood waits use the
// advertised interval and are skipped when it would outlast ctx.
func (d *Dispatcher) backoff(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		delay := time.Duration(flood.RetryAfter) * time.Second
		if delay <= 0 {
			delay = d.opts.RetryBackoff
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return 0, false
		}
		return delay, true
	}
	if !netutil.ShouldRetry(err) {
		return 0, false
	}
	return d.opts.RetryBackoff * time.Duration(attempt), true
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c call) attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("op", c.action)}
	if c.endpoint != "" {
		attrs = append(attrs, slog.String("method", c.endpoint))
	}
	return attrs
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return logger.RedactTokens(err.Error())
}
