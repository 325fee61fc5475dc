package parentbot

import (
	"context"
	"errors"

	"github.com/m3rciful/pocketsaas/core/logger"
	tg "github.com/m3rciful/pocketsaas/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// TokenChecker validates bot tokens with a getMe call.
type TokenChecker struct {
	// URL overrides the Bot API endpoint; empty means the public API.
	URL string
}

// BotUsername implements tenant.TokenValidator.
func (v TokenChecker) BotUsername(_ context.Context, token string) (string, error) {
	b, err := tele.NewBot(tele.Settings{
		URL:    v.URL,
		Token:  token,
		Client: tg.BuildHTTPClient(),
	})
	if err != nil {
		return "", errors.New(logger.RedactTokens(err.Error()))
	}
	if b.Me == nil {
		return "", errors.New("getMe returned no bot")
	}
	return b.Me.Username, nil
}
