// Package commands describes slash commands registered on a bot.
package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command is one slash command. Admin-only and hidden commands stay out of
// the menu shown to regular users.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// Listed reports whether the command belongs in the public command menu.
func (c Command) Listed() bool {
	return !c.Hidden && !c.AdminOnly
}

// Matches reports whether name is one of the aliases. The leading slash is
// optional on both sides.
func (c Command) Matches(name string) bool {
	name = strings.TrimPrefix(name, "/")
	for _, alias := range c.Aliases {
		if strings.TrimPrefix(alias, "/") == name {
			return true
		}
	}
	return false
}

// Endpoints returns key followed by every alias, each with a leading slash.
func (c Command) Endpoints(key string) []string {
	out := make([]string, 0, 1+len(c.Aliases))
	out = append(out, key)
	for _, alias := range c.Aliases {
		if alias = strings.TrimSpace(alias); alias == "" {
			continue
		}
		if !strings.HasPrefix(alias, "/") {
			alias = "/" + alias
		}
		if alias != key {
			out = append(out, alias)
		}
	}
	return out
}
