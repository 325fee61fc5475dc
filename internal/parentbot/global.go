package parentbot

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/core/telegram/format"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/core/telegram/keyboard"
	"github.com/m3rciful/pocketsaas/core/telegram/state"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/model"

	tele "gopkg.in/telebot.v4"
)

func (b *Bot) btn(key string, cmd callback.Command) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: b.texts.Admin(key), Data: callback.Format(cmd)}
}

func (b *Bot) backToMenu() []keyboard.InlineBtn {
	return []keyboard.InlineBtn{b.btn("btn_back", callback.Command{Kind: callback.KindGlobalMenu})}
}

// escapedUsername is the tenant bot's username ready for an HTML message,
// "-" when unknown.
func escapedUsername(t model.Tenant) string {
	return format.EscapeHTML(format.Deref(t.BotUsername, "-"))
}

// menu is the global admin panel. It also closes any open dialogue.
func (b *Bot) menu(c tele.Context) error {
	b.fsm.SetState(c.Sender().ID, state.StateIdle)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{b.btn("btn_global_bc", callback.Command{Kind: callback.KindBroadcastGlobal})},
		[]keyboard.InlineBtn{b.btn("btn_tenant_bc", callback.Command{Kind: callback.KindBroadcastTenants})},
		[]keyboard.InlineBtn{b.btn("btn_clients", callback.Command{Kind: callback.KindClients})},
		[]keyboard.InlineBtn{b.btn("btn_jobs", callback.Command{Kind: callback.KindBroadcastJobs})},
	)
	return helpers.EditOrSendHTML(c, b.texts.Admin("ga_menu"), markup)
}

func (b *Bot) globalBroadcast(c tele.Context) error {
	return b.dialog.Begin(c, model.Segment{Filter: model.FilterAll})
}

// tenantPicker lists every tenant as a campaign target.
func (b *Bot) tenantPicker(c tele.Context) error {
	ts, err := b.opts.Tenants.List(helpers.BuildContext(c))
	if err != nil {
		return b.fail(c, "tenants.list", err)
	}
	if len(ts) == 0 {
		return helpers.EditOrSendHTML(c, b.texts.Admin("clients_empty"), keyboard.InlineButtonsRows(b.backToMenu()))
	}
	rows := make([][]keyboard.InlineBtn, 0, len(ts)+1)
	for _, t := range ts {
		rows = append(rows, []keyboard.InlineBtn{{
			Text: tenantLabel(t),
			Data: callback.Format(callback.Command{Kind: callback.KindBroadcastTenant, ID: t.ID}),
		}})
	}
	rows = append(rows, b.backToMenu())
	return helpers.EditOrSendHTML(c, b.texts.Admin("tenants_choose"), keyboard.InlineButtonsRows(rows...))
}

func (b *Bot) tenantBroadcast(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	t, err := b.opts.Tenants.Get(helpers.BuildContext(c), cmd.ID)
	if errors.Is(err, model.ErrNotFound) {
		_ = helpers.Alert(c, b.texts.Admin("clients_empty"))
		return b.tenantPicker(c)
	}
	if err != nil {
		return b.fail(c, "tenants.get", err)
	}
	return b.dialog.Begin(c, model.Segment{TenantID: t.ID, Filter: model.FilterAll})
}

func tenantLabel(t model.Tenant) string {
	label := "#" + strconv.FormatInt(t.ID, 10) + " " + format.Username(format.Deref(t.BotUsername, ""))
	if !t.IsActive {
		label += " ⏸"
	}
	return label
}

func (b *Bot) clients(c tele.Context) error {
	ts, err := b.opts.Tenants.List(helpers.BuildContext(c))
	if err != nil {
		return b.fail(c, "clients.list", err)
	}
	if len(ts) == 0 {
		return helpers.EditOrSendHTML(c, b.texts.Admin("clients_empty"), keyboard.InlineButtonsRows(b.backToMenu()))
	}
	btns := make([]keyboard.InlineBtn, 0, len(ts))
	for _, t := range ts {
		btns = append(btns, keyboard.InlineBtn{
			Text: tenantLabel(t),
			Data: callback.Format(callback.Command{Kind: callback.KindClientShow, ID: t.ID}),
		})
	}
	markup := keyboard.InlineButtonsNPerRow(btns, 1)
	markup.InlineKeyboard = append(markup.InlineKeyboard, []tele.InlineButton{b.backToMenu()[0].Inline()})
	return helpers.EditOrSendHTML(c, b.texts.Admin("clients_header", i18n.Vars{"count": len(ts)}), markup)
}

func (b *Bot) clientCard(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	t, err := b.opts.Tenants.Get(helpers.BuildContext(c), cmd.ID)
	if errors.Is(err, model.ErrNotFound) {
		_ = helpers.Alert(c, b.texts.Admin("clients_empty"))
		return b.clients(c)
	}
	if err != nil {
		return b.fail(c, "clients.get", err)
	}
	active := b.texts.Admin("off")
	if t.IsActive {
		active = b.texts.Admin("on")
	}
	text := b.texts.Admin("client_card", i18n.Vars{
		"id":       t.ID,
		"owner":    b.ownerName(c, t.OwnerTelegramID),
		"owner_id": t.OwnerTelegramID,
		"username": escapedUsername(t),
		"active":   active,
		"code":     format.EscapeHTML(t.PostbackCode()),
	})
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{b.btn("btn_delete", callback.Command{Kind: callback.KindClientDelete, ID: t.ID})},
		[]keyboard.InlineBtn{b.btn("btn_back", callback.Command{Kind: callback.KindClients})},
	)
	return helpers.EditOrSendHTML(c, text, markup)
}

// ownerName looks the owner up on the platform. It is best effort: the
// owner may have blocked the bot.
func (b *Bot) ownerName(c tele.Context, ownerID int64) string {
	chat, err := b.api.ChatByID(ownerID)
	if err != nil {
		logger.Debug(helpers.BuildContext(c), component, "owner.lookup",
			slog.Int64("user_id", ownerID),
			slog.String("err", err.Error()),
		)
		return "-"
	}
	if chat.Username != "" {
		return format.Username(chat.Username)
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	return format.EscapeHTML(format.Or(name, "-"))
}

func (b *Bot) deleteClient(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	ctx := helpers.BuildContext(c)
	if err := b.opts.Tenants.Delete(ctx, cmd.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return b.fail(c, "clients.delete", err)
	}
	logger.Info(ctx, component, "client.deleted",
		slog.Int64("tenant_id", cmd.ID),
		slog.Int64("user_id", c.Sender().ID),
	)
	markup := keyboard.InlineButtonsRows([]keyboard.InlineBtn{b.btn("btn_back", callback.Command{Kind: callback.KindClients})})
	return helpers.EditOrSendHTML(c, b.texts.Admin("client_deleted"), markup)
}
