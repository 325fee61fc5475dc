package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	// IsAdmin decides per update; a nil IsAdmin rejects everyone.
	IsAdmin  func(c tele.Context) bool
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets through only updates for which IsAdmin holds.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || opts.IsAdmin == nil || !opts.IsAdmin(c) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}

// AdminIDs returns an IsAdmin check matching any of ids.
func AdminIDs(ids ...int64) func(c tele.Context) bool {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(c tele.Context) bool {
		_, ok := set[c.Sender().ID]
		return ok
	}
}
