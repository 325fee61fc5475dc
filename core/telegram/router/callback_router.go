package router

import (
	"log/slog"
	"strings"

	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Decoder turns raw callback data into a registry key and a payload that
// handlers read with callbacks.Payload.
type Decoder func(data string) (key string, payload any, err error)

// CallbackOptions customises decoding and fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
	// Decode defaults to splitting "<key>|<payload>".
	Decode Decoder
}

func pipeDecoder(data string) (string, any, error) {
	key, payload, _ := strings.Cut(data, "|")
	return strings.TrimSpace(key), payload, nil
}

// CallbackRoute returns a handler that routes callbacks through the registry.
// Undecodable data and unregistered keys both go to the not-found handler.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	decode := opts.Decode
	if decode == nil {
		decode = pipeDecoder
	}
	handler := func(c tele.Context) error {
		start := timeNow()
		if c.Callback() == nil {
			return nil
		}

		key, payload, err := decode(callbacks.Data(c.Callback()))
		if err == nil {
			callbacks.SetPayload(c, payload)
		}
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		cbHandler, ok := reg.GetCallback(key)
		if err != nil || !ok || cbHandler == nil {
			fallback := reg.CallbackNotFound()
			if opts.NotFound != nil {
				fallback = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
			return newSummary(name, start, extras...).run(c, func(c tele.Context) error {
				if fallback != nil {
					return fallback(c)
				}
				return c.Respond()
			})
		}

		return newSummary(name, start, extras...).run(c, func(c tele.Context) error {
			defer func() { _ = c.Respond() }()
			return cbHandler(c)
		})
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
