// Package postback serves the partner conversion callbacks
// (/pb/{code}/reg|ftd|rd) and pushes the converted user forward in the
// funnel once the ledger write has committed.
//
// Every response is HTTP 200 with a {"status": ..., "reason": ...} body;
// partners treat any 2xx as accepted.
package postback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/ledger"
	"github.com/m3rciful/pocketsaas/internal/model"
)

const component = "postback"

// Failure reasons reported in the response body.
const (
	ReasonTenantNotFound = "tenant_not_found"
	ReasonDBError        = "db_error"
	ReasonMissingParam   = "missing_param"
	ReasonBadAmount      = "bad_amount"
	ReasonUnknownKind    = "unknown_kind"
)

// Tenants resolves a postback code.
type Tenants interface {
	Resolve(ctx context.Context, code string) (model.Tenant, error)
}

// Recorder persists a conversion and returns the resolved user, if any.
type Recorder interface {
	RecordConversion(ctx context.Context, c ledger.Conversion) (*int64, error)
}

// Notifier pushes the user's next funnel screen.
type Notifier interface {
	Notify(ctx context.Context, t model.Tenant, userID int64, kind model.EventKind) error
}

// Handler implements the intake routes.
type Handler struct {
	tenants  Tenants
	recorder Recorder
	notifier Notifier
}

// New builds a Handler. notifier may be nil.
func New(tenants Tenants, recorder Recorder, notifier Notifier) *Handler {
	return &Handler{tenants: tenants, recorder: recorder, notifier: notifier}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.health)
	r.GET("/pb/:code/:kind", h.conversion)
	r.POST("/pb/:code/:kind", h.conversion)
}

// NewEngine returns a gin engine with recovery, request logging and the
// intake routes.
func NewEngine(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.Register(r)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func fail(c *gin.Context, reason string) {
	c.JSON(http.StatusOK, gin.H{"status": "error", "reason": reason})
}

func (h *Handler) conversion(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := model.ParseEventKind(c.Param("kind"))
	if !ok {
		logger.Warn(ctx, component, "conversion.reject",
			slog.String("reason", ReasonUnknownKind),
			slog.String("kind", logger.SanitizeLimit(c.Param("kind"), 16)),
		)
		fail(c, ReasonUnknownKind)
		return
	}

	t, err := h.tenants.Resolve(ctx, c.Param("code"))
	if err != nil {
		reason := ReasonTenantNotFound
		if !errors.Is(err, model.ErrNotFound) {
			reason = ReasonDBError
		}
		logger.Warn(ctx, component, "conversion.reject",
			slog.String("reason", reason),
			slog.String("kind", string(kind)),
			slog.String("err", err.Error()),
		)
		fail(c, reason)
		return
	}
	ctx = logger.WithTenant(ctx, t.ID)

	clickID, okClick := param(c, "click_id")
	traderID, okTrader := param(c, "trader_id")
	if !okClick || !okTrader {
		logger.Warn(ctx, component, "conversion.reject",
			slog.String("reason", ReasonMissingParam),
			slog.String("kind", string(kind)),
		)
		fail(c, ReasonMissingParam)
		return
	}

	conv := ledger.Conversion{
		TenantID: t.ID,
		ClickID:  clickID,
		Kind:     kind,
		TraderID: traderID,
		RawQS:    rawQuery(c),
	}
	if kind.IsDeposit() {
		raw, ok := param(c, "sumdep")
		if !ok {
			logger.Warn(ctx, component, "conversion.reject",
				slog.String("reason", ReasonMissingParam),
				slog.String("kind", string(kind)),
				slog.String("param", "sumdep"),
			)
			fail(c, ReasonMissingParam)
			return
		}
		amount, err := parseAmount(raw)
		if err != nil {
			logger.Warn(ctx, component, "conversion.reject",
				slog.String("reason", ReasonBadAmount),
				slog.String("kind", string(kind)),
				slog.String("sumdep", logger.SanitizeLimit(raw, 32)),
			)
			fail(c, ReasonBadAmount)
			return
		}
		conv.Amount = &amount
	}

	userID, err := h.recorder.RecordConversion(ctx, conv)
	if err != nil {
		logger.Error(ctx, component, "conversion.store",
			slog.String("status", "fail"),
			slog.String("kind", string(kind)),
			slog.String("err", err.Error()),
		)
		fail(c, ReasonDBError)
		return
	}

	if userID != nil && h.notifier != nil {
		if err := h.notifier.Notify(ctx, t, *userID, kind); err != nil {
			logger.Warn(ctx, component, "notify.fail",
				slog.Int64("user_id", *userID),
				slog.String("kind", string(kind)),
				slog.String("err", err.Error()),
			)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// param reads key from the query string, then from a form body.
func param(c *gin.Context, key string) (string, bool) {
	if v, ok := c.GetQuery(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := c.GetPostForm(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

// rawQuery is the query string, followed by the form body for POSTs.
func rawQuery(c *gin.Context) string {
	raw := c.Request.URL.RawQuery
	if c.Request.Method != http.MethodPost {
		return raw
	}
	if err := c.Request.ParseForm(); err != nil {
		return raw
	}
	body := c.Request.PostForm.Encode()
	switch {
	case body == "":
		return raw
	case raw == "":
		return body
	}
	return raw + "&" + body
}

// requestLogger logs one line per request. The route pattern is logged
// instead of the path so tenant secrets stay out of the logs.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Event(c.Request.Context(), component, level, "http.request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("http_code", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
