package childbot

import (
	"context"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/m3rciful/pocketsaas/core/telegram/keyboard"
	"github.com/m3rciful/pocketsaas/core/telegram/sender"
	"github.com/m3rciful/pocketsaas/internal/funnel"
	"github.com/m3rciful/pocketsaas/internal/i18n"

	tele "gopkg.in/telebot.v4"
)

// captionLimit is Telegram's maximum photo caption length.
const captionLimit = 1024

// Transport renders funnel views through one tenant bot.
type Transport struct {
	bot    *tele.Bot
	disp   *sender.Dispatcher
	assets string
}

// NewTransport returns a Transport. disp may be nil; assetsDir may be empty
// to send text only.
func NewTransport(bot *tele.Bot, disp *sender.Dispatcher, assetsDir string) *Transport {
	return &Transport{bot: bot, disp: disp, assets: assetsDir}
}

// IsMember implements funnel.Transport. Users who left or were banned are
// not members.
func (t *Transport) IsMember(_ context.Context, channelID, userID int64) (bool, error) {
	m, err := t.bot.ChatMemberOf(&tele.Chat{ID: channelID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	switch m.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	}
	return true, nil
}

// Show implements funnel.Transport. A screen picture from the assets
// directory is sent with the text as caption when one exists.
func (t *Transport) Show(ctx context.Context, userID int64, v funnel.View) error {
	var what any = v.Text
	endpoint := "sendMessage"
	if path := t.asset(v.Lang, v.Screen); path != "" && utf8.RuneCountInString(v.Text) <= captionLimit {
		what = &tele.Photo{File: tele.FromDisk(path), Caption: v.Text}
		endpoint = "sendPhoto"
	}
	opts := &tele.SendOptions{ReplyMarkup: Markup(v.Rows), DisableWebPagePreview: true}
	run := func() error {
		_, err := t.bot.Send(tele.ChatID(userID), what, opts)
		return err
	}
	if t.disp == nil {
		return run()
	}
	return t.disp.Do(ctx, "funnel.show."+string(v.Screen), endpoint, run)
}

func (t *Transport) asset(lang string, screen funnel.Screen) string {
	if t.assets == "" {
		return ""
	}
	for _, l := range []string{lang, i18n.Fallback} {
		if l == "" {
			continue
		}
		path := filepath.Join(t.assets, l, string(screen)+".jpg")
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

// Markup converts funnel buttons into an inline keyboard.
func Markup(rows [][]funnel.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, URL: b.URL, WebApp: b.WebApp, Data: b.Data})
		}
		out = append(out, r)
	}
	return keyboard.InlineButtonsRows(out...)
}
