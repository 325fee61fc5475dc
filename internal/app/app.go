// Package app wires the parent bot, the child bot supervisor and the
// conversion intake into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/pocketsaas/core/bootstrap"
	"github.com/m3rciful/pocketsaas/core/cmd"
	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/childbot"
	"github.com/m3rciful/pocketsaas/internal/config"
	"github.com/m3rciful/pocketsaas/internal/funnel"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/ledger"
	"github.com/m3rciful/pocketsaas/internal/parentbot"
	"github.com/m3rciful/pocketsaas/internal/postback"
	"github.com/m3rciful/pocketsaas/internal/store"
	"github.com/m3rciful/pocketsaas/internal/supervisor"
	"github.com/m3rciful/pocketsaas/internal/tenant"
	"github.com/m3rciful/pocketsaas/migrations"
)

const (
	component  = "app"
	sweepEvery = time.Minute
)

// App is the running service.
type App struct {
	cfg        *config.Config
	db         *sqlx.DB
	redis      *redis.Client
	parent     *parentbot.Bot
	supervisor *supervisor.Supervisor
	children   *childbot.Service
	intake     http.Handler
}

// Bootstrap implements cmd.Options.Bootstrap: logger, database and schema
// first, then the application graph.
func Bootstrap(ctx context.Context, carrier cmd.ConfigCarrier) (cmd.App, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     &cfg.Config,
		Database:   cfg.Database,
		Migrations: migrations.Files,
	})
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

// New builds the application on an open database.
func New(cfg *config.Config, db *sqlx.DB) (*App, error) {
	texts, err := i18n.Load(cfg.Funnel.DefaultLang)
	if err != nil {
		return nil, fmt.Errorf("app: texts: %w", err)
	}
	a := &App{cfg: cfg, db: db}

	welcome, err := a.welcomeStore()
	if err != nil {
		return nil, err
	}

	st := store.New(db)
	led := ledger.New(st)
	dir := tenant.New(st, parentbot.TokenChecker{}, cfg.Funnel.DefaultSupportURL)
	machine := funnel.New(led, st, welcome, texts, funnel.Settings{
		DefaultLang:       cfg.Funnel.DefaultLang,
		DefaultSupportURL: cfg.Funnel.DefaultSupportURL,
		MiniAppURL:        cfg.Funnel.MiniAppURL,
	})
	bc := broadcast.Config{
		Location:     cfg.Broadcast.Location(),
		SendInterval: cfg.Broadcast.SendInterval(),
		IdleTimeout:  cfg.Broadcast.IdleTimeout(),
	}

	children := childbot.New(childbot.Options{
		Config:       &cfg.Config,
		Machine:      machine,
		Users:        st,
		Tenants:      dir,
		GlobalAdmins: cfg.Parent.GAAdminIDs,
		PostbackBase: cfg.Postback.BaseURL,
		AssetsDir:    cfg.Funnel.AssetsDir,
		Broadcast:    bc,
		SweepEvery:   sweepEvery,
	})
	a.children = children
	a.supervisor = supervisor.New(dir, children.Run, cfg.Supervisor.PollInterval())

	notifier := childbot.NewNotifier(machine, cfg.Funnel.AssetsDir)
	a.intake = postback.NewEngine(postback.New(dir, led, notifier))

	a.parent, err = parentbot.New(parentbot.Options{
		Config:           &cfg.Config,
		Tenants:          dir,
		Recipients:       st,
		Texts:            texts,
		PrivateChannelID: cfg.Parent.PrivateChannelID,
		GlobalAdmins:     cfg.Parent.GAAdminIDs,
		PostbackBase:     cfg.Postback.BaseURL,
		Broadcast:        bc,
		SweepEvery:       sweepEvery,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: parent bot: %w", err)
	}
	return a, nil
}

// welcomeStore uses redis when configured so markers survive restarts.
func (a *App) welcomeStore() (funnel.WelcomeStore, error) {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		return funnel.NewMemoryWelcomeStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: redis %s: %w", rc.Addr, err)
	}
	logger.Info(ctx, component, "redis.connected", slog.String("addr", rc.Addr))
	a.redis = client
	return funnel.NewRedisWelcomeStore(client, rc.WelcomeTTL()), nil
}

// Run serves until ctx is done or one part fails; either way every part is
// stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return part("parent", a.parent.Run(ctx)) })
	g.Go(func() error {
		// Supervisor.Run returns after every tenant bot stopped.
		defer a.children.Close()
		return part("supervisor", a.supervisor.Run(ctx))
	})
	g.Go(func() error { return part("postback", postback.Serve(ctx, a.cfg.Postback.Listen, a.intake)) })
	return g.Wait()
}

// part turns a clean stop into an error so the group shuts the others down.
func part(name string, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %s: %w", name, err)
	}
	return context.Canceled
}

func (a *App) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
