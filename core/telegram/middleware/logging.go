package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/pocketsaas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates remembers recently logged updates so a receipt is logged
// once. Update ids are per bot, so the bot is part of the key.
type seenUpdates struct {
	mu        sync.Mutex
	keep      time.Duration
	at        map[updateKey]time.Time
	lastSweep time.Time
}

type updateKey struct {
	bot string
	id  int
}

var receipts = &seenUpdates{keep: 10 * time.Second, at: make(map[updateKey]time.Time)}

// mark records the update and reports whether it was already recorded.
func (s *seenUpdates) mark(bot string, id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) >= s.keep {
		for k, ts := range s.at {
			if now.Sub(ts) > s.keep {
				delete(s.at, k)
			}
		}
		s.lastSweep = now
	}
	key := updateKey{bot: bot, id: id}
	if ts, ok := s.at[key]; ok && now.Sub(ts) <= s.keep {
		return true
	}
	s.at[key] = now
	return false
}

// LoggerMiddleware stores the update's logging context and logs one receipt
// line per update. When the middleware runs twice on one update (global
// chain plus route wrapper) the second pass keeps the stored context, so
// fields added in between, such as the tenant id, survive.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if _, ok := tghelpers.ContextFrom(c); ok {
			return next(c)
		}

		upd := c.Update()
		now := time.Now()
		c.Set("update_start", now)
		ctx := tghelpers.BuildContext(c)

		bot := tghelpers.BotName(c)
		if logger.ShouldSampleDebug(bot) && !receipts.mark(bot, upd.ID, now) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if bot != "" {
				attrs = append(attrs, slog.String("bot", bot))
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user := c.Sender(); user != nil {
				if user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if user.LanguageCode != "" {
					attrs = append(attrs, slog.String("lang", user.LanguageCode))
				}
			}

			switch {
			case upd.Callback != nil:
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(callbacks.Data(upd.Callback), 128)))
			case upd.Message != nil:
				if t := c.Text(); t != "" {
					attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(logger.RedactTokens(t), 256)))
				}
			}
			logger.LogEvent(ctx, nil, slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

// Scope rewrites the stored logging context for every update, e.g. to add
// the tenant id. Install it after LoggerMiddleware.
func Scope(fn func(ctx context.Context) context.Context) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if fn != nil {
				tghelpers.Scope(c, fn)
			}
			return next(c)
		}
	}
}
