package telegram

import (
	"context"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared middleware chain for bots. scope, when
// set, enriches every update's logging context.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc, scope func(context.Context) context.Context) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}
	if scope != nil {
		mws = append(mws, Middleware{Name: "scope", Use: middleware.Scope(scope)})
	}

	if cfg != nil && cfg.RateLimit.Interval() > 0 {
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval:  cfg.RateLimit.Interval(),
				Exclude:   cfg.RateLimit.Excluded(),
				OnLimited: onLimited,
			}),
		})
	}

	return append(mws, Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware})
}
