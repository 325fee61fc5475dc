package childbot

import (
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/funnel"

	tele "gopkg.in/telebot.v4"
)

func funnelUser(c tele.Context) funnel.User {
	u := c.Sender()
	return funnel.User{ID: u.ID, Username: u.Username}
}

func (b *bot) onStart(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return err
	}
	_, err = b.opts.Machine.Start(helpers.BuildContext(c), t, funnelUser(c), b.tr)
	return err
}

func (b *bot) onLangCommand(c tele.Context) error {
	return b.tr.Show(helpers.BuildContext(c), c.Sender().ID, b.opts.Machine.LanguageView())
}

func (b *bot) onLang(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	ctx := helpers.BuildContext(c)
	if err := b.opts.Machine.SetLang(ctx, b.tenantID, c.Sender().ID, cmd.Arg); err != nil {
		return helpers.Alert(c, b.texts.User(b.lang(c), "unknown_command"))
	}
	_ = c.Respond(&tele.CallbackResponse{Text: b.texts.User(cmd.Arg, "lang_changed")})
	return b.advance(c)
}

func (b *bot) onInstruction(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return err
	}
	return b.opts.Machine.Instruction(helpers.BuildContext(c), t, c.Sender().ID, b.tr)
}

func (b *bot) onMenu(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return err
	}
	_, err = b.opts.Machine.MainMenu(helpers.BuildContext(c), t, funnelUser(c), b.tr)
	return err
}

func (b *bot) onSignal(c tele.Context) error {
	return b.advance(c)
}

// onSubscribed re-checks the channel after the user claims to have joined.
func (b *bot) onSubscribed(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return err
	}
	if !b.opts.Machine.Subscribed(helpers.BuildContext(c), t, c.Sender().ID, b.tr) {
		return helpers.Alert(c, b.texts.User(b.lang(c), "not_subscribed"))
	}
	return b.advance(c)
}

// advance moves the user on; a user with nothing left to pass gets the
// main menu.
func (b *bot) advance(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return err
	}
	ctx := helpers.BuildContext(c)
	screen, err := b.opts.Machine.Advance(ctx, t, funnelUser(c), b.tr)
	if err != nil || screen != "" {
		return err
	}
	_, err = b.opts.Machine.MainMenu(ctx, t, funnelUser(c), b.tr)
	return err
}
