// Package ledger keeps per-tenant user funnel flags and the conversion log
// reconciled.
//
// Stored flags and the event log are two sources of truth. Effective access
// is their union, and every read heals the stored flags toward it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/model"
)

const component = "ledger"

// Store is the persistence the ledger needs.
type Store interface {
	GetAccess(ctx context.Context, tenantID, userID int64) (model.UserAccess, error)
	GetAccessByClickID(ctx context.Context, tenantID int64, clickID string) (model.UserAccess, error)
	InsertAccess(ctx context.Context, ua model.UserAccess) (model.UserAccess, error)
	UpdateAccessIdentity(ctx context.Context, tenantID, userID int64, username, clickID *string) error
	RaiseAccessFlags(ctx context.Context, tenantID, userID int64, registered, deposited bool) error
	EventFlags(ctx context.Context, tenantID, userID int64) (registered, deposited bool, err error)
	CommitConversion(ctx context.Context, w model.ConversionWrite) error
}

// Access is the effective funnel state of a user.
type Access struct {
	Registered bool
	Deposited  bool
}

// Conversion is one partner notification.
type Conversion struct {
	TenantID int64
	ClickID  string
	Kind     model.EventKind
	TraderID string
	Amount   *float64
	RawQS    string
}

// Ledger implements the access ledger operations.
type Ledger struct {
	store Store
}

// New returns a Ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// CleanUsername drops empty names and names that look like bot accounts.
func CleanUsername(name string) *string {
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if name == "" {
		return nil
	}
	if strings.HasSuffix(strings.ToLower(name), "bot") {
		return nil
	}
	return &name
}

// GetOrCreate returns the (tenant, user) row, creating it on first sight
// with click_id set to the user id. Concurrent creators converge on one row.
func (l *Ledger) GetOrCreate(ctx context.Context, tenantID, userID int64, username string) (model.UserAccess, error) {
	name := CleanUsername(username)

	ua, err := l.store.GetAccess(ctx, tenantID, userID)
	switch {
	case err == nil:
		return l.reconcileIdentity(ctx, ua, name)
	case !errors.Is(err, model.ErrNotFound):
		return model.UserAccess{}, fmt.Errorf("ledger: get access: %w", err)
	}

	click := strconv.FormatInt(userID, 10)
	created, err := l.store.InsertAccess(ctx, model.UserAccess{
		TenantID: tenantID,
		UserID:   userID,
		ClickID:  &click,
		Username: name,
	})
	if err == nil {
		logger.Debug(ctx, component, "access.created",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("user_id", userID),
		)
		return created, nil
	}
	if !errors.Is(err, model.ErrConflict) {
		return model.UserAccess{}, fmt.Errorf("ledger: create access: %w", err)
	}

	// Lost the race to a concurrent creator: read the winner's row.
	ua, err = l.store.GetAccess(ctx, tenantID, userID)
	if err != nil {
		return model.UserAccess{}, fmt.Errorf("ledger: reread access: %w", err)
	}
	logger.Debug(ctx, component, "access.conflict_reread",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("user_id", userID),
	)
	return l.reconcileIdentity(ctx, ua, name)
}

func (l *Ledger) reconcileIdentity(ctx context.Context, ua model.UserAccess, name *string) (model.UserAccess, error) {
	var click *string
	if ua.ClickID == nil {
		c := strconv.FormatInt(ua.UserID, 10)
		click = &c
	}
	nameChanged := name != nil && (ua.Username == nil || *ua.Username != *name)
	if !nameChanged && click == nil {
		return ua, nil
	}
	if err := l.store.UpdateAccessIdentity(ctx, ua.TenantID, ua.UserID, name, click); err != nil {
		return model.UserAccess{}, fmt.Errorf("ledger: update identity: %w", err)
	}
	if nameChanged {
		ua.Username = name
	}
	if click != nil {
		ua.ClickID = click
	}
	return ua, nil
}

// EffectiveAccess ORs stored flags with the event log. When they disagree
// the stored flags are raised; a failed heal is logged and not returned.
func (l *Ledger) EffectiveAccess(ctx context.Context, tenantID, userID int64, username string) (Access, error) {
	ua, err := l.GetOrCreate(ctx, tenantID, userID, username)
	if err != nil {
		return Access{}, err
	}
	regEvent, depEvent, err := l.store.EventFlags(ctx, tenantID, userID)
	if err != nil {
		return Access{}, fmt.Errorf("ledger: event flags: %w", err)
	}
	acc := Access{
		Registered: ua.IsRegistered || regEvent,
		Deposited:  ua.HasDeposit || depEvent,
	}
	if acc.Registered != ua.IsRegistered || acc.Deposited != ua.HasDeposit {
		if err := l.store.RaiseAccessFlags(ctx, tenantID, userID, acc.Registered, acc.Deposited); err != nil {
			logger.Warn(ctx, component, "access.heal",
				slog.String("status", "fail"),
				slog.Int64("tenant_id", tenantID),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		} else {
			logger.Info(ctx, component, "access.heal",
				slog.String("status", "ok"),
				slog.Int64("tenant_id", tenantID),
				slog.Int64("user_id", userID),
				slog.Bool("registered", acc.Registered),
				slog.Bool("deposited", acc.Deposited),
			)
		}
	}
	return acc, nil
}

// RecordConversion resolves the click id, raises the user's flags and
// appends the event. The event is appended even when no user resolves; then
// no access row is touched and the returned user id is nil.
//
// Repeated notifications are recorded again: there is no external event id
// to deduplicate on.
func (l *Ledger) RecordConversion(ctx context.Context, c Conversion) (*int64, error) {
	if _, ok := model.ParseEventKind(string(c.Kind)); !ok {
		return nil, fmt.Errorf("ledger: unknown conversion kind %q", c.Kind)
	}
	clickID := strings.TrimSpace(c.ClickID)

	var (
		userID *int64
		upsert bool
	)
	if n, err := strconv.ParseInt(clickID, 10, 64); err == nil && n > 0 {
		userID = &n
		upsert = true
	} else if clickID != "" {
		ua, err := l.store.GetAccessByClickID(ctx, c.TenantID, clickID)
		switch {
		case err == nil:
			userID = &ua.UserID
		case errors.Is(err, model.ErrNotFound):
		default:
			return nil, fmt.Errorf("ledger: resolve click: %w", err)
		}
	}

	ev := model.Event{
		TenantID: c.TenantID,
		UserID:   userID,
		ClickID:  optional(clickID),
		TraderID: optional(c.TraderID),
		Kind:     c.Kind,
		RawQS:    optional(c.RawQS),
	}
	if c.Kind.IsDeposit() {
		ev.Amount = c.Amount
	}
	err := l.store.CommitConversion(ctx, model.ConversionWrite{Event: ev, UpsertAccess: upsert})
	if upsert && errors.Is(err, model.ErrConflict) {
		// Another user of the tenant holds this number as a literal click
		// id, so no row can be created for it. Keep the event alone.
		logger.Warn(ctx, component, "conversion.click_conflict",
			slog.Int64("tenant_id", c.TenantID),
			slog.String("click_id", logger.SanitizeLimit(clickID, 64)),
		)
		userID, ev.UserID = nil, nil
		err = l.store.CommitConversion(ctx, model.ConversionWrite{Event: ev})
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: commit conversion: %w", err)
	}

	attrs := []slog.Attr{
		slog.Int64("tenant_id", c.TenantID),
		slog.String("kind", string(c.Kind)),
		slog.String("click_id", logger.SanitizeLimit(clickID, 64)),
		slog.String("trader_id", logger.SanitizeLimit(c.TraderID, 64)),
	}
	if userID == nil {
		logger.Warn(ctx, component, "conversion.unresolved", append(attrs, slog.String("status", "skip"))...)
		return nil, nil
	}
	logger.Info(ctx, component, "conversion.recorded", append(attrs,
		slog.String("status", "ok"),
		slog.Int64("user_id", *userID),
	)...)
	return userID, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
