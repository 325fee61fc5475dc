package childbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/adminui"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
)

var errBotOffline = errors.New("childbot: tenant bot is not running")

// campaigns owns a tenant's broadcast orchestrator. It lives as long as the
// Service, so scheduled jobs survive bot restarts; a job sends through the
// bot attached when it fires.
type campaigns struct {
	tenantID int64
	orch     *broadcast.Orchestrator

	mu  sync.RWMutex
	cur *bot
}

func newCampaigns(tenantID int64, recipients broadcast.Recipients, cfg broadcast.Config) *campaigns {
	c := &campaigns{tenantID: tenantID}
	cfg.OnJobDone = c.report
	c.orch = broadcast.New(recipients, c, cfg)
	return c
}

func (c *campaigns) attach(b *bot) {
	c.mu.Lock()
	c.cur = b
	c.mu.Unlock()
}

// detach clears b unless a newer bot already took its place.
func (c *campaigns) detach(b *bot) {
	c.mu.Lock()
	if c.cur == b {
		c.cur = nil
	}
	c.mu.Unlock()
}

func (c *campaigns) current() *bot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Deliver implements broadcast.Deliverer.
func (c *campaigns) Deliver(ctx context.Context, chatID int64, p broadcast.Post) error {
	b := c.current()
	if b == nil || b.deliver == nil {
		return errBotOffline
	}
	return b.deliver.Deliver(ctx, chatID, p)
}

func (c *campaigns) report(ctx context.Context, job broadcast.Job, res broadcast.Result, err error) {
	b := c.current()
	if b == nil || b.api == nil {
		logger.Warn(ctx, component, "job.report",
			slog.String("status", "skip"),
			slog.Int64("tenant_id", c.tenantID),
			slog.String("job_id", job.ID),
			slog.String("err", errBotOffline.Error()),
		)
		return
	}
	adminui.JobReporter(b.api, b.texts)(ctx, job, res, err)
}
