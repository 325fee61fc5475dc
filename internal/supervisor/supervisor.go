// Package supervisor keeps one child bot running per active tenant.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/model"
)

const component = "supervisor"

// DefaultInterval is the tenant poll period.
const DefaultInterval = 5 * time.Second

// Tenants lists tenants that should have a running bot.
type Tenants interface {
	Active(ctx context.Context) ([]model.Tenant, error)
}

// RunFunc runs one tenant's bot until ctx is cancelled.
type RunFunc func(ctx context.Context, t model.Tenant) error

type task struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Supervisor reconciles running tasks with the tenant table.
type Supervisor struct {
	tenants  Tenants
	run      RunFunc
	interval time.Duration

	mu    sync.Mutex
	tasks map[int64]*task
	wg    sync.WaitGroup
}

// New returns a Supervisor polling every interval (DefaultInterval when
// zero).
func New(tenants Tenants, run RunFunc, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{
		tenants:  tenants,
		run:      run,
		interval: interval,
		tasks:    make(map[int64]*task),
	}
}

// Run reconciles at once and then on every tick. When ctx is done every task
// is cancelled and awaited before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	logger.Info(ctx, component, "start", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, component, "tick", slog.String("status", "fail"), slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.stopAll()
			logger.Info(ctx, component, "stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile starts missing tasks, restarts finished ones or those whose token
// changed, and cancels tasks of tenants that are gone or inactive.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	list, err := s.tenants.Active(ctx)
	if err != nil {
		return err
	}
	want := make(map[int64]model.Tenant, len(list))
	for _, t := range list {
		if !t.IsActive || t.BotToken == "" {
			continue
		}
		want[t.ID] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for id, tk := range s.tasks {
		t, ok := want[id]
		switch {
		case !ok:
			logger.Info(ctx, component, "task.stop", slog.Int64("tenant_id", id), slog.String("reason", "inactive"))
			tk.cancel()
			delete(s.tasks, id)
		case tk.finished():
			delete(s.tasks, id)
		case tk.token != t.BotToken:
			logger.Info(ctx, component, "task.stop", slog.Int64("tenant_id", id), slog.String("reason", "token_changed"))
			tk.cancel()
			delete(s.tasks, id)
		}
	}

	for id, t := range want {
		if _, ok := s.tasks[id]; ok {
			continue
		}
		s.startLocked(ctx, t)
	}
	return nil
}

func (s *Supervisor) startLocked(parent context.Context, t model.Tenant) {
	ctx, cancel := context.WithCancel(logger.WithTenant(context.WithoutCancel(parent), t.ID))
	tk := &task{token: t.BotToken, cancel: cancel, done: make(chan struct{})}
	s.tasks[t.ID] = tk
	s.wg.Add(1)
	logger.Info(ctx, component, "task.start")

	go func() {
		defer s.wg.Done()
		defer close(tk.done)
		defer cancel()
		err := s.run(ctx, t)
		if err == nil || errors.Is(err, context.Canceled) {
			logger.Info(ctx, component, "task.exit", slog.String("status", logger.Status(ctx.Err())))
			return
		}
		logger.Warn(ctx, component, "task.exit", slog.String("status", logger.Status(err)), slog.String("err", err.Error()))
	}()
}

// Running lists tenant ids with a live task.
func (s *Supervisor) Running() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.tasks))
	for id, tk := range s.tasks {
		if !tk.finished() {
			out = append(out, id)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	for id, tk := range s.tasks {
		tk.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
