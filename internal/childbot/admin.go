package childbot

import (
	"errors"
	"fmt"
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
	"github.com/m3rciful/pocketsaas/internal/store"
	"github.com/m3rciful/pocketsaas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

// RecentEventsShown is how many conversions the events screen lists.
const RecentEventsShown = 5

// PageSize is the number of users per admin list page.
const PageSize = 5

const (
	stateSearch state.State = "adm.search"
	stateLink   state.State = "adm.link"

	tempLinkField = "link_field"
)

var linkOrder = []string{
	callback.LinkRef,
	callback.LinkDeposit,
	callback.LinkSupport,
	callback.LinkChannelID,
	callback.LinkChannelURL,
	callback.LinkMiniApp,
	callback.LinkSecret,
}

func (b *bot) adminHandlers() map[callback.Kind]tele.HandlerFunc {
	return map[callback.Kind]tele.HandlerFunc{
		callback.KindAdminMenu:        b.adminMenu,
		callback.KindAdminUsers:       b.users,
		callback.KindAdminUsersSearch: b.searchPrompt,
		callback.KindAdminUserShow:    b.userCard,
		callback.KindAdminUserReg:     func(c tele.Context) error { return b.toggleUser(c, store.AccessRegistered) },
		callback.KindAdminUserDep:     func(c tele.Context) error { return b.toggleUser(c, store.AccessDeposited) },
		callback.KindAdminUserDelete:  b.deleteUser,
		callback.KindAdminParams:      b.params,
		callback.KindAdminToggleSub:   b.toggleSubscription,
		callback.KindAdminToggleDep:   b.toggleDeposit,
		callback.KindAdminLinks:       b.links,
		callback.KindAdminLinkSet:     b.linkPrompt,
		callback.KindAdminEvents:      b.events,
		callback.KindAdminStats:       b.stats,
	}
}

// bindAdminStates routes free text of operators in the search and link
// dialogues. The handlers re-check the operator since state survives a
// lost admin right.
func (b *bot) bindAdminStates() {
	guard := b.guard()
	b.fsm.Handle(stateSearch, guard(b.onSearch))
	b.fsm.Handle(stateLink, guard(b.onLink))
}

func (b *bot) btn(key string, kind callback.Kind) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: b.texts.Admin(key), Data: callback.Of(kind)}
}

func (b *bot) backTo(kind callback.Kind) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{b.btn("btn_back", kind)})
}

func (b *bot) onOff(v bool) string {
	if v {
		return b.texts.Admin("on")
	}
	return b.texts.Admin("off")
}

func (b *bot) fail(c tele.Context, op string, err error) error {
	logger.Error(helpers.BuildContext(c), component, op,
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
	return helpers.Alert(c, b.texts.Admin("error_generic"))
}

func (b *bot) adminMenu(c tele.Context) error {
	b.fsm.SetState(c.Sender().ID, state.StateIdle)
	kb := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{b.btn("btn_users", callback.KindAdminUsers), b.btn("btn_stats", callback.KindAdminStats)},
		[]keyboard.InlineBtn{b.btn("btn_params", callback.KindAdminParams), b.btn("btn_links", callback.KindAdminLinks)},
		[]keyboard.InlineBtn{b.btn("btn_events", callback.KindAdminEvents)},
		[]keyboard.InlineBtn{b.btn("btn_broadcast", callback.KindBroadcastMenu), b.btn("btn_jobs", callback.KindBroadcastJobs)},
	)
	return helpers.EditOrSendHTML(c, b.texts.Admin("menu"), kb)
}

func (b *bot) userButton(ua model.UserAccess) keyboard.InlineBtn {
	label := strconv.FormatInt(ua.UserID, 10)
	if ua.Username != nil && *ua.Username != "" {
		label += " @" + *ua.Username
	}
	label += " " + b.onOff(ua.IsRegistered) + b.onOff(ua.HasDeposit)
	return keyboard.InlineBtn{
		Text: label,
		Data: callback.Format(callback.Command{Kind: callback.KindAdminUserShow, ID: ua.UserID}),
	}
}

// users renders one page of the tenant's users, newest ids last.
func (b *bot) users(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	page := max(cmd.Page, 0)
	ctx := helpers.BuildContext(c)
	list, total, err := b.opts.Users.ListAccess(ctx, b.tenantID, PageSize, page*PageSize)
	if err != nil {
		return b.fail(c, "users.list", err)
	}
	pages := max((total+PageSize-1)/PageSize, 1)
	if page >= pages && total > 0 {
		page = pages - 1
		if list, _, err = b.opts.Users.ListAccess(ctx, b.tenantID, PageSize, page*PageSize); err != nil {
			return b.fail(c, "users.list", err)
		}
	}

	var rows [][]keyboard.InlineBtn
	for _, ua := range list {
		rows = append(rows, []keyboard.InlineBtn{b.userButton(ua)})
	}
	var nav []keyboard.InlineBtn
	if page > 0 {
		nav = append(nav, keyboard.InlineBtn{
			Text: b.texts.Admin("btn_prev"),
			Data: callback.Format(callback.Command{Kind: callback.KindAdminUsers, Page: page - 1}),
		})
	}
	if page+1 < pages {
		nav = append(nav, keyboard.InlineBtn{
			Text: b.texts.Admin("btn_next"),
			Data: callback.Format(callback.Command{Kind: callback.KindAdminUsers, Page: page + 1}),
		})
	}
	rows = append(rows, nav,
		[]keyboard.InlineBtn{b.btn("btn_search", callback.KindAdminUsersSearch)},
		[]keyboard.InlineBtn{b.btn("btn_back", callback.KindAdminMenu)},
	)

	text := b.texts.Admin("users_empty")
	if total > 0 {
		text = b.texts.Admin("users_header", i18n.Vars{"total": total, "page": page + 1, "pages": pages})
	}
	return helpers.EditOrSendHTML(c, text, keyboard.InlineButtonsRows(rows...))
}

func (b *bot) searchPrompt(c tele.Context) error {
	b.fsm.SetState(c.Sender().ID, stateSearch)
	return helpers.EditOrSendHTML(c, b.texts.Admin("search_prompt"), b.backTo(callback.KindAdminUsers))
}

// onSearch matches the operator's text against user ids and trader ids.
func (b *bot) onSearch(c tele.Context) error {
	query := strings.TrimSpace(c.Text())
	if query == "" {
		return helpers.SendHTML(c, b.texts.Admin("search_prompt"), b.backTo(callback.KindAdminUsers))
	}
	found, err := b.opts.Users.SearchAccess(helpers.BuildContext(c), b.tenantID, query)
	if err != nil {
		return b.fail(c, "users.search", err)
	}
	b.fsm.SetState(c.Sender().ID, state.StateIdle)
	switch len(found) {
	case 0:
		return helpers.SendHTML(c, b.texts.Admin("search_empty"), b.backTo(callback.KindAdminUsers))
	case 1:
		return b.renderCard(c, found[0], helpers.SendHTML)
	}
	var rows [][]keyboard.InlineBtn
	for _, ua := range found {
		rows = append(rows, []keyboard.InlineBtn{b.userButton(ua)})
	}
	rows = append(rows, []keyboard.InlineBtn{b.btn("btn_back", callback.KindAdminUsers)})
	return helpers.SendHTML(c, fmt.Sprintf("🔎 %s", format.EscapeHTML(query)), keyboard.InlineButtonsRows(rows...))
}

func (b *bot) userCard(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	ua, err := b.opts.Users.GetAccess(helpers.BuildContext(c), b.tenantID, cmd.ID)
	if errors.Is(err, model.ErrNotFound) {
		_ = helpers.Alert(c, b.texts.Admin("search_empty"))
		return b.users(c)
	}
	if err != nil {
		return b.fail(c, "user.show", err)
	}
	return b.renderCard(c, ua, helpers.EditOrSendHTML)
}

func (b *bot) renderCard(c tele.Context, ua model.UserAccess, send func(tele.Context, string, ...*tele.ReplyMarkup) error) error {
	text := b.texts.Admin("user_card", i18n.Vars{
		"user_id":    ua.UserID,
		"username":   format.Username(format.Deref(ua.Username, "")),
		"registered": b.onOff(ua.IsRegistered),
		"deposited":  b.onOff(ua.HasDeposit),
		"click_id":   format.EscapeHTML(format.Deref(ua.ClickID, "-")),
		"trader_id":  format.EscapeHTML(format.Deref(ua.TraderID, "-")),
		"total":      format.Amount(ua.TotalDeposits),
	})
	cmd := func(kind callback.Kind) string {
		return callback.Format(callback.Command{Kind: kind, ID: ua.UserID})
	}
	kb := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{
			Text: b.texts.Admin("btn_toggle_reg", i18n.Vars{"state": b.onOff(ua.IsRegistered)}),
			Data: cmd(callback.KindAdminUserReg),
		}},
		[]keyboard.InlineBtn{{
			Text: b.texts.Admin("btn_toggle_dep", i18n.Vars{"state": b.onOff(ua.HasDeposit)}),
			Data: cmd(callback.KindAdminUserDep),
		}},
		[]keyboard.InlineBtn{{Text: b.texts.Admin("btn_delete"), Data: cmd(callback.KindAdminUserDelete)}},
		[]keyboard.InlineBtn{b.btn("btn_back", callback.KindAdminUsers)},
	)
	return send(c, text, kb)
}

func (b *bot) toggleUser(c tele.Context, flag store.AccessFlag) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	ua, err := b.opts.Users.ToggleAccessFlag(helpers.BuildContext(c), b.tenantID, cmd.ID, flag)
	if err != nil {
		return b.fail(c, "user.toggle", err)
	}
	logger.Info(helpers.BuildContext(c), component, "user.toggle",
		slog.Int64("target", cmd.ID),
		slog.String("flag", string(flag)),
	)
	return b.renderCard(c, ua, helpers.EditOrSendHTML)
}

// deleteUser removes the access row and the welcome marker, so a returning
// user starts the funnel from the beginning.
func (b *bot) deleteUser(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	ctx := helpers.BuildContext(c)
	if err := b.opts.Users.DeleteAccess(ctx, b.tenantID, cmd.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return b.fail(c, "user.delete", err)
	}
	if err := b.opts.Machine.Forget(ctx, b.tenantID, cmd.ID); err != nil {
		logger.Warn(ctx, component, "welcome.forget", slog.String("err", err.Error()))
	}
	logger.Info(ctx, component, "user.deleted", slog.Int64("target", cmd.ID))
	return helpers.EditOrSendHTML(c, b.texts.Admin("user_deleted"), b.backTo(callback.KindAdminUsers))
}

func (b *bot) params(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return b.fail(c, "params", err)
	}
	sub := b.texts.Admin("param_sub", i18n.Vars{"state": b.onOff(t.CheckSubscription)})
	dep := b.texts.Admin("param_dep", i18n.Vars{"state": b.onOff(t.CheckDeposit)})
	kb := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: sub, Data: callback.Of(callback.KindAdminToggleSub)}},
		[]keyboard.InlineBtn{{Text: dep, Data: callback.Of(callback.KindAdminToggleDep)}},
		[]keyboard.InlineBtn{b.btn("btn_back", callback.KindAdminMenu)},
	)
	return helpers.EditOrSendHTML(c, "<b>"+b.texts.Admin("params_header")+"</b>", kb)
}

func (b *bot) toggleSubscription(c tele.Context) error {
	if _, err := b.opts.Tenants.ToggleSubscriptionCheck(helpers.BuildContext(c), b.tenantID); err != nil {
		return b.fail(c, "params.sub", err)
	}
	return b.params(c)
}

func (b *bot) toggleDeposit(c tele.Context) error {
	if _, err := b.opts.Tenants.ToggleDepositCheck(helpers.BuildContext(c), b.tenantID); err != nil {
		return b.fail(c, "params.dep", err)
	}
	return b.params(c)
}

func (b *bot) linksText(t model.Tenant) string {
	chanID := "-"
	if t.GateChannelID != nil {
		chanID = strconv.FormatInt(*t.GateChannelID, 10)
	}
	esc := func(s *string) string { return format.EscapeHTML(format.Deref(s, "-")) }
	return "<b>" + b.texts.Admin("links_header") + "</b>\n\n" + b.texts.Admin("links_body", i18n.Vars{
		"ref":     esc(t.RefLink),
		"dep":     esc(t.DepositLink),
		"support": esc(t.SupportURL),
		"chanid":  chanID,
		"chanurl": esc(t.GateChannelURL),
		"app":     esc(t.MiniAppURL),
		"secret":  esc(t.PBSecret),
	})
}

func (b *bot) linksKeyboard() *tele.ReplyMarkup {
	var btns []keyboard.InlineBtn
	for _, f := range linkOrder {
		btns = append(btns, keyboard.InlineBtn{
			Text: b.texts.Admin("btn_link_" + f),
			Data: callback.Format(callback.Command{Kind: callback.KindAdminLinkSet, Arg: f}),
		})
	}
	btns = append(btns, b.btn("btn_back", callback.KindAdminMenu))
	return keyboard.InlineButtonsNPerRow(btns, 2)
}

func (b *bot) links(c tele.Context) error {
	b.fsm.SetState(c.Sender().ID, state.StateIdle)
	t, err := b.tenant(c)
	if err != nil {
		return b.fail(c, "links", err)
	}
	return helpers.EditOrSendHTML(c, b.linksText(t), b.linksKeyboard())
}

func (b *bot) linkPrompt(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	op := c.Sender().ID
	b.fsm.SetState(op, stateLink)
	b.fsm.SetTemp(op, tempLinkField, cmd.Arg)
	text := b.texts.Admin("link_prompt", i18n.Vars{"field": b.texts.Admin("btn_link_" + cmd.Arg)})
	return helpers.EditOrSendHTML(c, text, keyboard.InlineButtonsRows([]keyboard.InlineBtn{b.btn("btn_cancel", callback.KindAdminLinks)}))
}

// linkRejects maps input errors to the hint that keeps the dialogue open.
var linkRejects = []struct {
	err error
	key string
}{
	{tenant.ErrBadChannelID, "link_bad_channel"},
	{tenant.ErrBadMiniAppURL, "link_bad_app"},
	{tenant.ErrBadSecret, "link_bad_secret"},
	{tenant.ErrSecretTaken, "link_secret_taken"},
}

// onLink stores the value typed for the field chosen in linkPrompt. Input
// rejected by the directory keeps the dialogue open.
func (b *bot) onLink(c tele.Context) error {
	op := c.Sender().ID
	field, ok := state.Temp[string](b.fsm, op, tempLinkField)
	if !ok {
		b.fsm.SetState(op, state.StateIdle)
		return b.links(c)
	}
	ctx := helpers.BuildContext(c)
	err := b.opts.Tenants.SetLink(ctx, b.tenantID, field, c.Text())
	for _, r := range linkRejects {
		if errors.Is(err, r.err) {
			return helpers.SendHTML(c, b.texts.Admin(r.key),
				keyboard.InlineButtonsRows([]keyboard.InlineBtn{b.btn("btn_cancel", callback.KindAdminLinks)}))
		}
	}
	if err != nil {
		b.fsm.SetState(op, state.StateIdle)
		return b.fail(c, "links.set", err)
	}
	b.fsm.SetState(op, state.StateIdle)
	t, err := b.tenant(c)
	if err != nil {
		return b.fail(c, "links", err)
	}
	return helpers.SendHTML(c, b.texts.Admin("link_saved")+"\n\n"+b.linksText(t), b.linksKeyboard())
}

func (b *bot) events(c tele.Context) error {
	t, err := b.tenant(c)
	if err != nil {
		return b.fail(c, "events", err)
	}
	urls := tenant.PostbackURLs(t, b.opts.PostbackBase)
	text := "<b>" + b.texts.Admin("events_header") + "</b>\n\n" + b.texts.Admin("events_body", i18n.Vars{
		"reg": format.EscapeHTML(urls[model.EventRegistration]),
		"ftd": format.EscapeHTML(urls[model.EventFirstDeposit]),
		"rd":  format.EscapeHTML(urls[model.EventRepeatDeposit]),
	})
	recent, err := b.opts.Users.RecentEvents(helpers.BuildContext(c), b.tenantID, RecentEventsShown)
	if err != nil {
		return b.fail(c, "events", err)
	}
	text += "\n\n<b>" + b.texts.Admin("events_recent") + "</b>\n" + b.eventLines(recent)
	return helpers.EditOrSendHTML(c, text, b.backTo(callback.KindAdminMenu))
}

func (b *bot) eventLines(events []model.Event) string {
	if len(events) == 0 {
		return b.texts.Admin("events_none")
	}
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "%s <b>%s</b>", ev.CreatedAt.In(b.opts.Broadcast.Location).Format("02.01 15:04"), ev.Kind)
		if ev.UserID != nil {
			fmt.Fprintf(&sb, " · <code>%d</code>", *ev.UserID)
		}
		if ev.TraderID != nil {
			sb.WriteString(" · " + format.EscapeHTML(*ev.TraderID))
		}
		if ev.Amount != nil {
			sb.WriteString(" · " + format.Amount(*ev.Amount))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (b *bot) stats(c tele.Context) error {
	st, err := b.opts.Users.TenantStats(helpers.BuildContext(c), b.tenantID)
	if err != nil {
		return b.fail(c, "stats", err)
	}
	text := "<b>" + b.texts.Admin("stats_header") + "</b>\n\n" + b.texts.Admin("stats_body", i18n.Vars{
		"total_users":  st.TotalUsers,
		"subs":         st.TotalUsers,
		"regs":         st.Registered,
		"deps":         st.Deposited,
		"total_amount": format.Amount(st.DepositSum),
		"count":        st.DepositCount,
	})
	return helpers.EditOrSendHTML(c, text, b.backTo(callback.KindAdminMenu))
}
