// Package childbot runs one operator bot per tenant: the end-user funnel
// and the operator's /admin panel.
package childbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	"github.com/m3rciful/pocketsaas/core/logger"
	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/commands"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/core/telegram/middleware"
	"github.com/m3rciful/pocketsaas/core/telegram/router"
	"github.com/m3rciful/pocketsaas/core/telegram/sender"
	"github.com/m3rciful/pocketsaas/core/telegram/state"
	"github.com/m3rciful/pocketsaas/internal/adminui"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/funnel"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/store"

	tele "gopkg.in/telebot.v4"
)

const component = "child"

// Users is the access ledger as the admin panel sees it.
type Users interface {
	ListAccess(ctx context.Context, tenantID int64, limit, offset int) ([]model.UserAccess, int, error)
	SearchAccess(ctx context.Context, tenantID int64, query string) ([]model.UserAccess, error)
	GetAccess(ctx context.Context, tenantID, userID int64) (model.UserAccess, error)
	ToggleAccessFlag(ctx context.Context, tenantID, userID int64, flag store.AccessFlag) (model.UserAccess, error)
	DeleteAccess(ctx context.Context, tenantID, userID int64) error
	TenantStats(ctx context.Context, tenantID int64) (model.Stats, error)
	RecentEvents(ctx context.Context, tenantID int64, limit int) ([]model.Event, error)
	SegmentUserIDs(ctx context.Context, seg model.Segment) ([]int64, error)
}

// Tenants reads and edits the tenant a bot serves.
type Tenants interface {
	Get(ctx context.Context, id int64) (model.Tenant, error)
	ToggleSubscriptionCheck(ctx context.Context, id int64) (bool, error)
	ToggleDepositCheck(ctx context.Context, id int64) (bool, error)
	SetLink(ctx context.Context, id int64, field, raw string) error
}

// Options configures every child bot of the process.
type Options struct {
	Config  *coreconfig.Config
	Machine *funnel.Machine
	Users   Users
	Tenants Tenants
	// GlobalAdmins may open any tenant's panel besides its owner.
	GlobalAdmins []int64
	// PostbackBase is the public base URL shown on the postback screen.
	PostbackBase string
	AssetsDir    string
	Broadcast    broadcast.Config
	SweepEvery   time.Duration
}

// Service starts tenant bots. Run matches supervisor.RunFunc. Campaign
// schedules are kept per tenant across bot restarts until Close.
type Service struct {
	opts Options

	mu        sync.Mutex
	campaigns map[int64]*campaigns
}

// New returns a Service.
func New(opts Options) *Service {
	return &Service{opts: opts, campaigns: make(map[int64]*campaigns)}
}

// Close cancels every scheduled campaign and waits for running ones. Call it
// once no tenant bot runs any more.
func (s *Service) Close() {
	s.mu.Lock()
	all := s.campaigns
	s.campaigns = make(map[int64]*campaigns)
	s.mu.Unlock()
	for _, c := range all {
		c.orch.Close()
	}
}

func (s *Service) campaignsOf(tenantID int64) *campaigns {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[tenantID]
	if !ok {
		c = newCampaigns(tenantID, broadcast.RecipientsFunc(s.opts.Users.SegmentUserIDs), s.opts.Broadcast)
		s.campaigns[tenantID] = c
	}
	return c
}

// Run serves t's bot until ctx is done.
func (s *Service) Run(ctx context.Context, t model.Tenant) error {
	b, err := s.newBot(t)
	if err != nil {
		return err
	}
	scope := func(ctx context.Context) context.Context { return logger.WithTenant(ctx, t.ID) }
	return tg.RunTelegram(ctx, tg.RunOptions{
		Config:            s.opts.Config,
		Token:             t.BotToken,
		Name:              fmt.Sprintf("tenant-%d", t.ID),
		Registry:          b.reg,
		DispatcherOptions: sender.Options{Workers: 1},
		Middlewares:       tg.DefaultMiddlewares(s.opts.Config, nil, scope),
		Routes:            b.routes(),
		OnStart:           b.start,
		OnStop:            b.stop,
	})
}

// bot is one running tenant bot. api, tr and deliver are set in start, before
// the first update is handled.
type bot struct {
	opts     Options
	tenantID int64
	texts    *i18n.Catalog

	reg       *tg.Registry
	fsm       state.Manager
	campaigns *campaigns
	orch      *broadcast.Orchestrator
	dialog    *adminui.Dialog
	admins func(c tele.Context) bool

	api     *tele.Bot
	tr      *Transport
	deliver *adminui.Deliverer
}

func (s *Service) newBot(t model.Tenant) (*bot, error) {
	b := &bot{
		opts:     s.opts,
		tenantID: t.ID,
		texts:    s.opts.Machine.Texts(),
		reg:      tg.NewRegistry(),
		fsm:      state.NewMemoryManager(),
	}
	ids := append([]int64{t.OwnerTelegramID}, s.opts.GlobalAdmins...)
	b.admins = middleware.AdminIDs(ids...)

	b.campaigns = s.campaignsOf(t.ID)
	b.orch = b.campaigns.orch
	b.dialog = adminui.NewDialog(adminui.Options{
		Orchestrator: b.orch,
		FSM:          b.fsm,
		Texts:        b.texts,
		MenuData:     callback.Of(callback.KindAdminMenu),
		Scope:        func(tele.Context) (int64, error) { return b.tenantID, nil },
		OnFinish:     b.adminMenu,
	})
	if err := b.register(); err != nil {
		return nil, fmt.Errorf("childbot: tenant %d: %w", t.ID, err)
	}
	return b, nil
}

func (b *bot) bind(rt tg.Runtime) {
	b.api = rt.Bot
	b.tr = NewTransport(rt.Bot, rt.Dispatcher, b.opts.AssetsDir)
	b.deliver = adminui.NewDeliverer(rt.Bot, rt.Dispatcher)
	b.campaigns.attach(b)
}

func (b *bot) start(ctx context.Context, rt tg.Runtime) error {
	b.bind(rt)
	go adminui.SweepIdle(ctx, b.orch, b.opts.SweepEvery)
	logger.Info(ctx, component, "started",
		slog.Int64("tenant_id", b.tenantID),
		slog.String("username", rt.Bot.Me.Username),
	)
	return nil
}

// stop leaves scheduled campaigns pending for the next bot of the tenant.
func (b *bot) stop(ctx context.Context, _ tg.Runtime) error {
	b.campaigns.detach(b)
	logger.Info(ctx, component, "stopped",
		slog.Int64("tenant_id", b.tenantID),
		slog.Int("jobs_pending", len(b.orch.Jobs())),
	)
	return nil
}

func (b *bot) register() error {
	b.reg.RegisterCommand("/start", commands.Command{Handler: b.onStart, Description: "Start"})
	b.reg.RegisterCommand("/lang", commands.Command{Handler: b.onLangCommand, Description: "Language", Aliases: []string{"language"}})
	b.reg.RegisterCommand("/admin", commands.Command{Handler: b.adminMenu, Description: "Admin panel", AdminOnly: true})

	user := map[callback.Kind]tele.HandlerFunc{
		callback.KindLang:            b.onLang,
		callback.KindMenuLang:        b.onLangCommand,
		callback.KindMenuInstruction: b.onInstruction,
		callback.KindMenuBack:        b.onMenu,
		callback.KindMenuSignal:      b.onSignal,
		callback.KindSubscribed:      b.onSubscribed,
	}
	for kind, h := range user {
		if err := b.reg.RegisterCallback(kind.String(), h); err != nil {
			return err
		}
	}

	guard := b.guard()
	for kind, h := range b.adminHandlers() {
		if err := b.reg.RegisterCallback(kind.String(), guard(h)); err != nil {
			return err
		}
	}
	b.bindAdminStates()
	return b.dialog.Register(b.reg, guard)
}

func (b *bot) guard() tele.MiddlewareFunc {
	return middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		IsAdmin:  b.admins,
		OnReject: b.rejectAdmin,
	})
}

func (b *bot) routes() []tg.Route {
	routes := router.CommandRoutes(b.reg, router.CommandRouteOptions{
		IsAdmin:       b.admins,
		OnAdminReject: b.rejectAdmin,
	})
	routes = append(routes, router.CallbackRoute(b.reg, router.CallbackOptions{
		NotFound: b.unknownCallback,
		Decode:   callback.Decode,
	}))
	return append(routes, router.MessageRoutes(b.fsm, b.reg, router.MessageOptions{
		UnknownText: b.unknownText,
	})...)
}

func (b *bot) rejectAdmin(c tele.Context) error {
	return helpers.Alert(c, b.texts.Admin("no_admin"))
}

func (b *bot) unknownCallback(c tele.Context) error {
	return helpers.Alert(c, b.texts.User(b.lang(c), "unknown_command"))
}

func (b *bot) unknownText(c tele.Context) error {
	return helpers.SendText(c, b.texts.User(b.lang(c), "unknown_command"))
}

func (b *bot) tenant(c tele.Context) (model.Tenant, error) {
	return b.opts.Tenants.Get(helpers.BuildContext(c), b.tenantID)
}

func (b *bot) lang(c tele.Context) string {
	if c.Sender() == nil {
		return i18n.Fallback
	}
	lang, _, _ := b.opts.Machine.Lang(helpers.BuildContext(c), b.tenantID, c.Sender().ID)
	return lang
}
