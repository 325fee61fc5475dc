package middleware

import tele "gopkg.in/telebot.v4"

const countersKey = "reply_counters"

// ReplyCounters describes what a handler sent back for one update.
type ReplyCounters struct {
	Messages int
	Keyboard bool
	Media    bool
}

// countingContext records every successful reply made through the context.
type countingContext struct {
	tele.Context
	rc *ReplyCounters
}

func (c countingContext) record(what any, opts []any, err error) error {
	if err != nil {
		return err
	}
	c.rc.Messages++
	c.rc.Keyboard = c.rc.Keyboard || hasKeyboard(opts)
	c.rc.Media = c.rc.Media || isMedia(what)
	return nil
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.record(what, opts, c.Context.Send(what, opts...))
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.record(what, opts, c.Context.Reply(what, opts...))
}

func (c countingContext) Edit(what any, opts ...any) error {
	return c.record(what, opts, c.Context.Edit(what, opts...))
}

func (c countingContext) EditOrSend(what any, opts ...any) error {
	return c.record(what, opts, c.Context.EditOrSend(what, opts...))
}

func (c countingContext) EditOrReply(what any, opts ...any) error {
	return c.record(what, opts, c.Context.EditOrReply(what, opts...))
}

func hasKeyboard(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func isMedia(what any) bool {
	switch what.(type) {
	case *tele.Photo, *tele.Video, *tele.Document, *tele.Animation, *tele.Audio, *tele.Voice, *tele.VideoNote:
		return true
	}
	return false
}

// MessageMetricsMiddleware counts replies so the handler summary can report
// them.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		rc := &ReplyCounters{}
		c.Set(countersKey, rc)
		return next(countingContext{Context: c, rc: rc})
	}
}

// Counters returns the replies recorded for the update so far.
func Counters(c tele.Context) ReplyCounters {
	if rc, ok := c.Get(countersKey).(*ReplyCounters); ok && rc != nil {
		return *rc
	}
	return ReplyCounters{}
}
