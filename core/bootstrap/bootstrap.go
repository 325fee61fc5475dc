// Package bootstrap brings up the infrastructure every run needs before the
// bots start: the logger, the database pool and the schema.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	coredatabase "github.com/m3rciful/pocketsaas/core/database"
	"github.com/m3rciful/pocketsaas/core/logger"
)

// Options select the config and schema. The function fields replace a
// step, mostly in tests; nil keeps the default.
type Options struct {
	Config     *coreconfig.Config
	Database   coredatabase.Config
	Migrations fs.FS

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config, fs.FS) error
}

// Result holds what the later stages need.
type Result struct {
	DB *sqlx.DB
}

// Run initializes the logger, applies migrations when Options.Migrations is
// set, then opens the pool. RunMigrations is what waits for the database to
// come up.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	initLogger, connect, migrate := opts.LoggerInit, opts.Connect, opts.Migrate
	if initLogger == nil {
		initLogger = logger.InitLogger
	}
	if connect == nil {
		connect = coredatabase.Connect
	}
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}

	if err := initLogger(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger: %w", err)
	}
	if opts.Migrations != nil {
		if err := migrate(ctx, opts.Database, opts.Migrations); err != nil {
			return nil, fmt.Errorf("bootstrap: migrations: %w", err)
		}
	}
	db, err := connect(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database: %w", err)
	}
	return &Result{DB: db}, nil
}

