package router

import (
	"time"

	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

var timeNow = time.Now

// FSM defines the minimal interface for an FSM manager.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// MessageOptions controls fallback behaviour for messages nobody expects.
type MessageOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// mediaEndpoints are the message kinds routed to an active dialogue besides
// plain text.
var mediaEndpoints = []string{
	tele.OnPhoto,
	tele.OnVideo,
	tele.OnDocument,
	tele.OnAnimation,
	tele.OnVideoNote,
}

// MessageRoutes builds handlers for text and media messages. A user with an
// active dialogue state gets the state's handler; otherwise text is matched
// against command aliases, then the registry fallback.
func MessageRoutes(fsmMgr FSM, reg *tg.Registry, opts MessageOptions) []tg.Route {
	inDialogue := func(c tele.Context) bool {
		return fsmMgr != nil && c.Sender() != nil && fsmMgr.InProgress(c.Sender().ID)
	}

	textHandler := func(c tele.Context) error {
		start := timeNow()
		if inDialogue(c) {
			return newSummary("fsm", start).run(c, fsmMgr.ManagerHandler)
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return newSummary(normalizeHandlerName(key), start).run(c, cmd.Handler)
			}
			if fb := reg.TextFallback(); fb != nil {
				return newSummary("fallback", start).run(c, fb)
			}
		}

		if opts.UnknownText != nil {
			return newSummary("unknown_text", start).run(c, opts.UnknownText)
		}

		newSummary("unknown_text", start).skip(c)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := timeNow()
		if inDialogue(c) {
			return newSummary("fsm_media", start).run(c, fsmMgr.ManagerHandler)
		}
		if opts.UnknownMedia != nil {
			return newSummary("unexpected_media", start).run(c, opts.UnknownMedia)
		}
		newSummary("unexpected_media", start).skip(c)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	routes := []tg.Route{{Endpoint: tele.OnText, Handler: wrap(textHandler)}}
	for _, ep := range mediaEndpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: wrap(mediaHandler)})
	}
	return routes
}
