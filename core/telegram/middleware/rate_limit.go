package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/pocketsaas/core/logger"
	tghelpers "github.com/m3rciful/pocketsaas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// maxTrackedUsers bounds the limiter table of a long-running bot.
const maxTrackedUsers = 4096

// RateLimitOptions configures RateLimitMiddleware. Exclude holds update
// kinds ("message", "callback") that bypass the limit.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// userLimiters hands out one token bucket per user.
type userLimiters struct {
	mu    sync.Mutex
	every rate.Limit
	users map[int64]*rate.Limiter
}

func (l *userLimiters) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.users[userID]
	if !ok {
		if len(l.users) >= maxTrackedUsers {
			l.evictIdle(now)
		}
		lim = rate.NewLimiter(l.every, 1)
		l.users[userID] = lim
	}
	return lim.AllowN(now, 1)
}

// evictIdle drops users whose bucket refilled; they would pass anyway.
func (l *userLimiters) evictIdle(now time.Time) {
	for id, lim := range l.users {
		if lim.TokensAt(now) >= 1 {
			delete(l.users, id)
		}
	}
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	}
	return "other"
}

// RateLimitMiddleware drops updates arriving from the same user faster than
// one per Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	limiters := &userLimiters{
		every: rate.Every(opts.Interval),
		users: make(map[int64]*rate.Limiter),
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if limiters.allow(user.ID, time.Now()) {
				return next(c)
			}
			logger.Debug(tghelpers.BuildContext(c), "tg", "rate_limit",
				slog.String("kind", kind),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
