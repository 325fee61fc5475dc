package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/m3rciful/pocketsaas/core/logger"
)

const (
	migrateComponent = "db.migrate"
	readyTimeout     = 30 * time.Second
	previewFiles     = 6
)

// RunMigrations waits for the database, then applies every up migration at
// the root of files.
func RunMigrations(ctx context.Context, cfg Config, files fs.FS) error {
	dsn := cfg.URLString()
	if err := WaitForPostgres(ctx, dsn, readyTimeout); err != nil {
		logger.Error(ctx, migrateComponent, "db.wait", slog.String("status", "fail"), slog.Any("err", err))
		return err
	}

	names := listMigrationFiles(files)
	preview, truncated := logger.SummarizeStrings(names, previewFiles)
	logger.Debug(ctx, migrateComponent, "resolve",
		slog.Int("count", len(names)),
		slog.String("files", preview),
		slog.Bool("truncated", truncated),
	)

	src, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		logger.Error(ctx, migrateComponent, "init", slog.String("status", "fail"), slog.Any("err", err))
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	from := currentVersion(m)
	start := time.Now()
	err = m.Up()
	took := time.Since(start)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error(ctx, migrateComponent, "apply",
			slog.String("status", "fail"),
			slog.Uint64("from_ver", from),
			slog.Duration("duration", took),
			slog.Any("err", err),
		)
		return fmt.Errorf("migrate up from %d: %w", from, err)
	}

	to := currentVersion(m)
	logger.Info(ctx, migrateComponent, "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("count", len(selectApplied(names, from, to))),
		slog.Duration("duration", took),
	)
	return nil
}

// currentVersion is 0 on an empty database.
func currentVersion(m *migrate.Migrate) uint64 {
	v, _, err := m.Version()
	if err != nil {
		return 0
	}
	return uint64(v)
}

func listMigrationFiles(files fs.FS) []string {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

// selectApplied returns the files with a version in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		prefix, _, _ := strings.Cut(f, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err == nil && v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
