// Package cmd is the shared main: it reads .env files and the config, runs
// the bootstrap and then the app until SIGINT or SIGTERM.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3rciful/pocketsaas/core/buildinfo"
	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	"github.com/m3rciful/pocketsaas/core/logger"
)

// ConfigCarrier is any app config that embeds the core one.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// App runs until ctx is done.
type App interface {
	Run(ctx context.Context) error
}

type Options struct {
	// ConfigEnvVar names the variable holding the config path; default
	// CONFIG_PATH.
	ConfigEnvVar      string
	DefaultConfigPath string
	// EnvFiles are loaded before the config is read; default ".env".
	// Missing files are ignored and variables already set win.
	EnvFiles []string

	LoadConfig func(path string) (ConfigCarrier, error)
	// Bootstrap receives the signal context, so an interrupt also cancels
	// a slow start.
	Bootstrap func(ctx context.Context, cfg ConfigCarrier) (App, error)

	ShutdownLogger func() error
}

func Run(opts Options) error {
	if opts.LoadConfig == nil || opts.Bootstrap == nil {
		return errors.New("cmd: LoadConfig and Bootstrap are required")
	}
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return err
	}
	path, err := configPath(opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}

	log.Printf("loading config: %s", path)
	cfg, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: config %s: %w", path, err)
	}
	if cfg.CoreConfig() == nil {
		return errors.New("cmd: config has no core section")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown: %v", err)
		}
	}()

	started := time.Now()
	app, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	logger.Info(ctx, "app", "ready",
		slog.String("version", buildinfo.String()),
		slog.Duration("startup_duration", time.Since(started)),
	)

	err = app.Run(ctx)
	logger.Info(context.Background(), "app", "shutdown", slog.String("status", logger.Status(err)))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadEnvFiles(files []string) error {
	if files == nil {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cmd: load %s: %w", f, err)
		}
	}
	return nil
}

func configPath(envVar, fallback string) (string, error) {
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	if p := os.Getenv(envVar); p != "" {
		return p, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("cmd: set %s or DefaultConfigPath", envVar)
}
