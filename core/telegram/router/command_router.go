package router

import (
	"context"
	"log/slog"

	"github.com/m3rciful/pocketsaas/core/logger"
	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	IsAdmin       func(c tele.Context) bool
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOnly := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		IsAdmin:  opts.IsAdmin,
		OnReject: opts.OnAdminReject,
	})

	table := reg.Commands()
	routes := make([]tg.Route, 0, len(table))
	for cmd, def := range table {
		name := normalizeHandlerName(cmd)
		inner := def.Handler
		if def.AdminOnly {
			inner = adminOnly(inner)
		}
		h := func(c tele.Context) error {
			return newSummary(name, timeNow()).run(c, inner)
		}
		wrapped := middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
		for _, endpoint := range def.Endpoints(cmd) {
			routes = append(routes, tg.Route{Endpoint: endpoint, Handler: wrapped})
		}
	}

	logger.Debug(context.Background(), "tg.wire", "routes.complete",
		slog.Int("commands", len(table)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}
