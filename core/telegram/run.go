package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	"github.com/m3rciful/pocketsaas/core/logger"
	tghelpers "github.com/m3rciful/pocketsaas/core/telegram/helpers"
	tgsender "github.com/m3rciful/pocketsaas/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const component = "tg"

// Middleware is a named bot.Use middleware.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds Handler to Endpoint as tele.Bot.Handle does.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

type RunOptions struct {
	Config *coreconfig.Config
	// Token overrides Config.Telegram.Token. Bots started with an override
	// always long poll, so several of them can share one process.
	Token string
	// Name labels the bot in logs; default "main".
	Name     string
	Registry *Registry

	DispatcherOptions tgsender.Options

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool
	DisableCommandMenu    bool

	// OnStart runs after the routes are installed and before polling.
	// OnStop runs after polling ended, with a context that is not cancelled.
	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is what the lifecycle hooks get to work with.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot described by opts and serves updates until ctx
// is done. A cancelled ctx is a clean stop and yields nil.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config")
	}
	if opts.Name == "" {
		opts.Name = "main"
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	started := time.Now()
	bot, err := newBot(ctx, opts)
	if err != nil {
		return fmt.Errorf("telegram: bot %s: %w", opts.Name, err)
	}
	rt := Runtime{Bot: bot, Dispatcher: tgsender.NewDispatcher(opts.DispatcherOptions), Registry: opts.Registry}
	defer rt.Dispatcher.Close()

	modeAttrs := []slog.Attr{slog.String("bot", opts.Name), slog.Duration("duration", time.Since(started))}
	if wh, ok := bot.Poller.(*tele.Webhook); ok {
		modeAttrs = append(modeAttrs, slog.String("mode", RunModeWebhook), slog.String("listen", wh.Listen))
	} else {
		modeAttrs = append(modeAttrs, slog.String("mode", RunModeLongpoll))
		if !opts.DisableWebhookCleanup {
			// A webhook left registered makes getUpdates fail with 409.
			if err := bot.RemoveWebhook(); err != nil {
				logger.Warn(ctx, component, "webhook.remove", slog.String("bot", opts.Name), slog.String("status", "fail"), slog.Any("err", err))
			}
		}
	}
	logger.Info(ctx, component, "mode", modeAttrs...)

	install(ctx, bot, rt, opts)
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, bot)
	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	logger.Info(ctx, component, "stopped", slog.String("bot", opts.Name))
	if stopErr != nil {
		return stopErr
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func newBot(ctx context.Context, opts RunOptions) (*tele.Bot, error) {
	cfg := opts.Config
	token, mode := cfg.Telegram.Token, cfg.Telegram.RunMode
	if opts.Token != "" {
		token, mode = opts.Token, RunModeLongpoll
	}
	return tele.NewBot(tele.Settings{
		Token: token,
		Poller: BuildPoller(PollerOptions{
			RunMode:                mode,
			LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
			Webhook: WebhookOptions{
				Listen:      cfg.Webhook.Listen,
				Port:        cfg.Webhook.Port,
				URL:         cfg.Webhook.URL,
				SecretToken: cfg.Webhook.Secret,
			},
		}),
		Client: NewHTTPClient(ClientOptions{PollTimeout: pollTimeout(cfg.Telegram.LongPollTimeoutSeconds)}),
		OnError: func(err error, c tele.Context) {
			errCtx := ctx
			if c != nil {
				errCtx = tghelpers.BuildContext(c)
			}
			logger.Warn(errCtx, component, "handler.error", slog.String("bot", opts.Name), slog.Any("err", err))
		},
	})
}

// install registers the context middlewares, then opts.Middlewares, the
// routes and the command menu.
func install(ctx context.Context, bot *tele.Bot, rt Runtime, opts RunOptions) {
	bot.Use(tghelpers.UseBotName(opts.Name), tghelpers.UseDispatcher(rt.Dispatcher))
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
	if !opts.DisableCommandMenu {
		InitBotCommands(ctx, bot, rt.Registry)
	}
}

// serve polls until ctx is done or the poller gives up on its own.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	}
}

func pollTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultLongPollTimeout
	}
	return time.Duration(seconds) * time.Second
}

// NewOfflineBot returns a bot that only sends: it never polls and skips the
// getMe handshake.
func NewOfflineBot(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  BuildHTTPClient(),
	})
}
