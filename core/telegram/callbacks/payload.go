// Package callbacks carries decoded callback payloads from the router to
// handlers.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const payloadKey = "cb_payload"

// Data returns the raw callback data with telebot's "\f" marker removed.
func Data(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	if cb.Unique != "" {
		raw = strings.TrimPrefix(raw, cb.Unique)
		raw = strings.TrimPrefix(raw, "|")
		if raw == "" {
			return cb.Unique
		}
		return cb.Unique + "|" + raw
	}
	return raw
}

// SetPayload stores the decoded payload for the current update.
func SetPayload(c tele.Context, v any) {
	c.Set(payloadKey, v)
}

// Payload returns the decoded payload as T.
func Payload[T any](c tele.Context) (T, bool) {
	v, ok := c.Get(payloadKey).(T)
	return v, ok
}
