package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/pocketsaas/core/logger"
)

const (
	component      = "db"
	connectTimeout = 5 * time.Second
	maxIdleTime    = 5 * time.Minute
	pingEvery      = 2 * time.Second
)

// Connect opens the pool and pings it once.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URLString())
	attrs := []slog.Attr{
		slog.String("target", cfg.Target()),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Error(ctx, component, "db.connect", append(attrs, slog.String("status", "fail"), slog.Any("err", err))...)
		return nil, fmt.Errorf("db connect %s: %w", cfg.Target(), err)
	}

	if n := cfg.MaxConnections; n > 0 {
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}
	db.SetConnMaxIdleTime(maxIdleTime)

	logger.Info(ctx, component, "db.connect", append(attrs, slog.String("status", "ok"), slog.Int("pool_open", cfg.MaxConnections))...)
	return db, nil
}

// WaitForPostgres pings dsn every couple of seconds until it answers,
// timeout passes or ctx is done.
func WaitForPostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	tick := time.NewTicker(pingEvery)
	defer tick.Stop()
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		logger.Debug(ctx, component, "db.wait", slog.Int("attempts", attempt), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready after %d attempts: %w", attempt, err)
		case <-tick.C:
		}
	}
}
