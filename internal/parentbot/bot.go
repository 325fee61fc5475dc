// Package parentbot is the onboarding bot: operators submit their bot
// token here, and global admins run platform-wide campaigns and manage
// clients.
package parentbot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	"github.com/m3rciful/pocketsaas/core/logger"
	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/commands"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"
	"github.com/m3rciful/pocketsaas/core/telegram/router"
	"github.com/m3rciful/pocketsaas/core/telegram/state"
	"github.com/m3rciful/pocketsaas/internal/adminui"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

const component = "parent"

// Tenants is the tenant directory as the parent bot uses it.
type Tenants interface {
	Register(ctx context.Context, ownerID int64, token string) (model.Tenant, error)
	ByOwner(ctx context.Context, ownerID int64) (model.Tenant, error)
	Get(ctx context.Context, id int64) (model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
	Delete(ctx context.Context, id int64) error
}

// Recipients resolves campaign audiences.
type Recipients interface {
	SegmentUserIDs(ctx context.Context, seg model.Segment) ([]int64, error)
}

// Options configures the parent bot.
type Options struct {
	Config     *coreconfig.Config
	Tenants    Tenants
	Recipients Recipients
	Texts      *i18n.Catalog
	// PrivateChannelID gates /start and token submission; zero disables
	// the gate.
	PrivateChannelID int64
	GlobalAdmins     []int64
	PostbackBase     string
	Broadcast        broadcast.Config
	SweepEvery       time.Duration
}

// Bot is the parent bot. api and deliver are bound when the bot starts.
type Bot struct {
	opts   Options
	texts  *i18n.Catalog
	reg    *tg.Registry
	fsm    state.Manager
	orch   *broadcast.Orchestrator
	dialog *adminui.Dialog
	admins func(c tele.Context) bool

	api     *tele.Bot
	deliver *adminui.Deliverer
}

// New builds the parent bot and registers its handlers.
func New(opts Options) (*Bot, error) {
	b := &Bot{
		opts:   opts,
		texts:  opts.Texts,
		reg:    tg.NewRegistry(),
		fsm:    state.NewMemoryManager(),
		admins: middleware.AdminIDs(opts.GlobalAdmins...),
	}
	cfg := opts.Broadcast
	cfg.OnJobDone = b.reportJob
	b.orch = broadcast.New(broadcast.RecipientsFunc(opts.Recipients.SegmentUserIDs), b, cfg)
	b.dialog = adminui.NewDialog(adminui.Options{
		Orchestrator: b.orch,
		FSM:          b.fsm,
		Texts:        b.texts,
		MenuData:     callback.Of(callback.KindGlobalMenu),
		OnFinish:     b.menu,
	})
	if err := b.register(); err != nil {
		b.orch.Close()
		return nil, err
	}
	return b, nil
}

// Run serves the parent bot until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	return tg.RunTelegram(ctx, tg.RunOptions{
		Config:      b.opts.Config,
		Name:        "parent",
		Registry:    b.reg,
		Middlewares: tg.DefaultMiddlewares(b.opts.Config, nil, nil),
		Routes:      b.routes(),
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			b.bind(rt)
			go adminui.SweepIdle(ctx, b.orch, b.opts.SweepEvery)
			return nil
		},
		OnStop: func(context.Context, tg.Runtime) error {
			b.orch.Close()
			return nil
		},
	})
}

func (b *Bot) bind(rt tg.Runtime) {
	b.api = rt.Bot
	b.deliver = adminui.NewDeliverer(rt.Bot, rt.Dispatcher)
}

// Deliver implements broadcast.Deliverer. Global and picked-tenant
// campaigns both go out through the parent bot.
func (b *Bot) Deliver(ctx context.Context, chatID int64, p broadcast.Post) error {
	return b.deliver.Deliver(ctx, chatID, p)
}

func (b *Bot) reportJob(ctx context.Context, job broadcast.Job, res broadcast.Result, err error) {
	adminui.JobReporter(b.api, b.texts)(ctx, job, res, err)
}

func (b *Bot) register() error {
	b.reg.RegisterCommand("/start", commands.Command{Handler: b.onStart, Description: "Connect your bot"})
	b.reg.RegisterCommand("/stas", commands.Command{Handler: b.menu, Description: "Global admin", AdminOnly: true, Hidden: true})
	b.reg.SetTextFallback(b.onText)

	guard := b.guard()
	handlers := map[callback.Kind]tele.HandlerFunc{
		callback.KindGlobalMenu:       b.menu,
		callback.KindBroadcastGlobal:  b.globalBroadcast,
		callback.KindBroadcastTenants: b.tenantPicker,
		callback.KindBroadcastTenant:  b.tenantBroadcast,
		callback.KindClients:          b.clients,
		callback.KindClientShow:       b.clientCard,
		callback.KindClientDelete:     b.deleteClient,
	}
	for kind, h := range handlers {
		if err := b.reg.RegisterCallback(kind.String(), guard(h)); err != nil {
			return err
		}
	}
	return b.dialog.Register(b.reg, guard)
}

func (b *Bot) guard() tele.MiddlewareFunc {
	return middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		IsAdmin:  b.admins,
		OnReject: b.rejectAdmin,
	})
}

func (b *Bot) routes() []tg.Route {
	routes := router.CommandRoutes(b.reg, router.CommandRouteOptions{
		IsAdmin:       b.admins,
		OnAdminReject: b.rejectAdmin,
	})
	routes = append(routes, router.CallbackRoute(b.reg, router.CallbackOptions{
		NotFound: func(c tele.Context) error { return helpers.Alert(c, b.texts.Admin("unknown_command")) },
		Decode:   callback.Decode,
	}))
	return append(routes, router.MessageRoutes(b.fsm, b.reg, router.MessageOptions{})...)
}

func (b *Bot) rejectAdmin(c tele.Context) error {
	return helpers.Alert(c, b.texts.Admin("no_admin"))
}

func (b *Bot) fail(c tele.Context, op string, err error) error {
	logger.Error(helpers.BuildContext(c), component, op,
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
	return helpers.Alert(c, b.texts.Admin("error_generic"))
}

// member reports whether the sender belongs to the private channel.
// Lookup failures let the user through.
func (b *Bot) member(c tele.Context) bool {
	if b.opts.PrivateChannelID == 0 {
		return true
	}
	m, err := b.api.ChatMemberOf(&tele.Chat{ID: b.opts.PrivateChannelID}, c.Sender())
	if err != nil {
		logger.Warn(helpers.BuildContext(c), component, "gate.check",
			slog.String("status", "fail_open"),
			slog.String("err", err.Error()),
		)
		return true
	}
	return m.Role != tele.Left && m.Role != tele.Kicked
}

func (b *Bot) onStart(c tele.Context) error {
	if !b.member(c) {
		return helpers.SendHTML(c, b.texts.Admin("parent_not_member"))
	}
	t, err := b.opts.Tenants.ByOwner(helpers.BuildContext(c), c.Sender().ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return helpers.SendHTML(c, b.texts.Admin("parent_welcome"))
	case err != nil:
		return b.fail(c, "start", err)
	}
	return helpers.SendHTML(c, b.texts.Admin("parent_tenant_exists", i18n.Vars{
		"username": escapedUsername(t),
		"code":     t.PostbackCode(),
	}))
}

// onText takes a bot token from an operator; anything else gets a hint.
func (b *Bot) onText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	if !tenant.LooksLikeToken(text) {
		return helpers.SendHTML(c, b.texts.Admin("parent_hint"))
	}
	if !b.member(c) {
		return helpers.SendHTML(c, b.texts.Admin("parent_not_member"))
	}
	t, err := b.opts.Tenants.Register(helpers.BuildContext(c), c.Sender().ID, text)
	switch {
	case errors.Is(err, tenant.ErrTokenRejected):
		return helpers.SendHTML(c, b.texts.Admin("parent_token_invalid"))
	case err != nil:
		return b.fail(c, "token", err)
	}
	return helpers.SendHTML(c, b.texts.Admin("parent_token_saved", i18n.Vars{
		"username": escapedUsername(t),
		"code":     t.PostbackCode(),
		"postback": strings.TrimRight(b.opts.PostbackBase, "/"),
	}))
}
