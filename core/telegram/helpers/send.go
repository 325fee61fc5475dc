package helpers

import (
	"errors"
	"log/slog"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const dispatcherKey = "sender_dispatcher"

// UseDispatcher routes helper sends of one bot through d.
func UseDispatcher(d *sender.Dispatcher) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if d != nil {
				c.Set(dispatcherKey, d)
			}
			return next(c)
		}
	}
}

// DispatcherFrom returns the dispatcher installed by UseDispatcher.
func DispatcherFrom(c tele.Context) *sender.Dispatcher {
	if c == nil {
		return nil
	}
	d, _ := c.Get(dispatcherKey).(*sender.Dispatcher)
	return d
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := DispatcherFrom(c)
	if disp == nil {
		return run()
	}

	ctx := BuildContext(c)
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendText sends raw text (no parse mode) to the current recipient.
func SendText(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return sendAsync(c, "send.text", "sendMessage", func() error {
		return c.Send(text, opts)
	})
}

// SendHTML sends a message with HTML parse mode and optional reply markup.
func SendHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return sendAsync(c, "send.html", "sendMessage", func() error {
		return c.Send(text, opts)
	})
}

// EditOrSendHTML edits the callback's message (HTML) or sends a new one.
// It runs inline so a following send cannot overtake it.
func EditOrSendHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return c.EditOrSend(text, opts)
}

// Alert answers the pending callback with a popup. Outside callbacks it
// sends text instead.
func Alert(c tele.Context, text string) error {
	if c.Callback() == nil {
		return SendText(c, text)
	}
	return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}
