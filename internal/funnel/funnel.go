// Package funnel decides which screen a user sees next on the way to the
// gated feature: language, channel subscription, registration, deposit and
// finally the one-time access screen.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/ledger"
	"github.com/m3rciful/pocketsaas/internal/model"
)

const component = "funnel"

// Gate is the first unmet funnel requirement.
type Gate int

const (
	GateLanguage Gate = iota
	GateSubscription
	GateRegistration
	GateDeposit
	GateGranted
)

func (g Gate) String() string {
	switch g {
	case GateLanguage:
		return "language"
	case GateSubscription:
		return "subscription"
	case GateRegistration:
		return "registration"
	case GateDeposit:
		return "deposit"
	case GateGranted:
		return "granted"
	}
	return "unknown"
}

// User identifies the chat user being evaluated.
type User struct {
	ID       int64
	Username string
}

// Transport is the chat side of the funnel.
type Transport interface {
	// IsMember reports whether userID currently belongs to channelID.
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
	// Show delivers v to userID.
	Show(ctx context.Context, userID int64, v View) error
}

// Access is the ledger surface the funnel reads.
type Access interface {
	GetOrCreate(ctx context.Context, tenantID, userID int64, username string) (model.UserAccess, error)
	EffectiveAccess(ctx context.Context, tenantID, userID int64, username string) (ledger.Access, error)
}

// Langs stores per-user language choices. UserLang returns
// model.ErrNotFound when the user has not chosen yet.
type Langs interface {
	UserLang(ctx context.Context, tenantID, userID int64) (string, error)
	SetUserLang(ctx context.Context, tenantID, userID int64, lang string) error
}

// Settings are process-wide funnel defaults.
type Settings struct {
	DefaultLang       string
	DefaultSupportURL string
	MiniAppURL        string
}

// Machine evaluates and renders the funnel. It holds no per-tenant state and
// is shared by every child bot.
type Machine struct {
	access   Access
	langs    Langs
	welcome  WelcomeStore
	texts    *i18n.Catalog
	settings Settings
}

// New builds a Machine.
func New(access Access, langs Langs, welcome WelcomeStore, texts *i18n.Catalog, settings Settings) *Machine {
	if settings.DefaultLang == "" {
		settings.DefaultLang = i18n.Fallback
	}
	return &Machine{access: access, langs: langs, welcome: welcome, texts: texts, settings: settings}
}

// Texts exposes the catalog the machine renders with.
func (m *Machine) Texts() *i18n.Catalog { return m.texts }

// Lang returns the user's language and whether it was chosen explicitly.
func (m *Machine) Lang(ctx context.Context, tenantID, userID int64) (string, bool, error) {
	lang, err := m.langs.UserLang(ctx, tenantID, userID)
	switch {
	case err == nil:
		return lang, true, nil
	case errors.Is(err, model.ErrNotFound):
		return m.settings.DefaultLang, false, nil
	default:
		return m.settings.DefaultLang, false, fmt.Errorf("funnel: user lang: %w", err)
	}
}

// SetLang stores a language choice. Unsupported codes are rejected.
func (m *Machine) SetLang(ctx context.Context, tenantID, userID int64, lang string) error {
	if !m.texts.Supported(lang) {
		return fmt.Errorf("funnel: unsupported language %q", lang)
	}
	if err := m.langs.SetUserLang(ctx, tenantID, userID, lang); err != nil {
		return fmt.Errorf("funnel: set lang: %w", err)
	}
	return nil
}

// Subscribed checks channel membership. A tenant without the check or
// without a channel passes; lookup failures pass as well.
func (m *Machine) Subscribed(ctx context.Context, t model.Tenant, userID int64, tr Transport) bool {
	if !t.CheckSubscription || t.GateChannelID == nil || *t.GateChannelID == 0 {
		return true
	}
	ok, err := tr.IsMember(ctx, *t.GateChannelID, userID)
	if err != nil {
		logger.Warn(ctx, component, "subscription.check",
			slog.String("status", "fail_open"),
			slog.Int64("tenant_id", t.ID),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return true
	}
	return ok
}

// Evaluate returns the first unmet gate and the user's language.
func (m *Machine) Evaluate(ctx context.Context, t model.Tenant, u User, tr Transport) (Gate, string, error) {
	lang, chosen, err := m.Lang(ctx, t.ID, u.ID)
	if err != nil {
		return GateLanguage, lang, err
	}
	if !chosen {
		return GateLanguage, lang, nil
	}
	if !m.Subscribed(ctx, t, u.ID, tr) {
		return GateSubscription, lang, nil
	}
	acc, err := m.access.EffectiveAccess(ctx, t.ID, u.ID, u.Username)
	if err != nil {
		return GateRegistration, lang, fmt.Errorf("funnel: effective access: %w", err)
	}
	if !acc.Registered {
		return GateRegistration, lang, nil
	}
	if t.CheckDeposit && !acc.Deposited {
		return GateDeposit, lang, nil
	}
	return GateGranted, lang, nil
}

// Advance pushes the user to the next screen. Once access is granted the
// access screen is shown a single time; later calls return an empty screen
// and send nothing.
func (m *Machine) Advance(ctx context.Context, t model.Tenant, u User, tr Transport) (Screen, error) {
	gate, lang, err := m.Evaluate(ctx, t, u, tr)
	if err != nil {
		return "", err
	}
	var v View
	switch gate {
	case GateLanguage:
		v = m.LanguageView()
	case GateSubscription:
		v = m.subscribeView(t, lang)
	case GateRegistration:
		v = m.registerView(t, lang, u.ID)
	case GateDeposit:
		v = m.depositView(t, lang)
	case GateGranted:
		first, err := m.welcome.MarkShown(ctx, t.ID, u.ID)
		if err != nil {
			return "", fmt.Errorf("funnel: welcome marker: %w", err)
		}
		if !first {
			logger.Debug(ctx, component, "advance.noop",
				slog.Int64("tenant_id", t.ID),
				slog.Int64("user_id", u.ID),
			)
			return "", nil
		}
		v = m.accessView(t, lang)
	}
	logger.Debug(ctx, component, "advance",
		slog.Int64("tenant_id", t.ID),
		slog.Int64("user_id", u.ID),
		slog.String("gate", gate.String()),
	)
	if err := tr.Show(ctx, u.ID, v); err != nil {
		if gate == GateGranted {
			m.unmark(ctx, t.ID, u.ID)
		}
		return v.Screen, fmt.Errorf("funnel: show %s: %w", v.Screen, err)
	}
	return v.Screen, nil
}

// unmark lets an access screen that never arrived be shown again.
func (m *Machine) unmark(ctx context.Context, tenantID, userID int64) {
	if err := m.welcome.Forget(ctx, tenantID, userID); err != nil {
		logger.Warn(ctx, component, "welcome.forget",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}
}

// Start handles the start command: the access row is created, then the
// funnel advances. A user who already saw the access screen gets the main
// menu instead of nothing.
func (m *Machine) Start(ctx context.Context, t model.Tenant, u User, tr Transport) (Screen, error) {
	if _, err := m.access.GetOrCreate(ctx, t.ID, u.ID, u.Username); err != nil {
		return "", fmt.Errorf("funnel: start: %w", err)
	}
	screen, err := m.Advance(ctx, t, u, tr)
	if err != nil || screen != "" {
		return screen, err
	}
	return m.MainMenu(ctx, t, u, tr)
}

// MainMenu renders the menu. The signal button opens the mini app only
// while every gate is passed.
func (m *Machine) MainMenu(ctx context.Context, t model.Tenant, u User, tr Transport) (Screen, error) {
	gate, lang, err := m.Evaluate(ctx, t, u, tr)
	if err != nil {
		return "", err
	}
	v := m.MenuView(t, lang, gate == GateGranted)
	if err := tr.Show(ctx, u.ID, v); err != nil {
		return v.Screen, fmt.Errorf("funnel: show menu: %w", err)
	}
	return v.Screen, nil
}

// Instruction sends the how-to screen.
func (m *Machine) Instruction(ctx context.Context, t model.Tenant, userID int64, tr Transport) error {
	lang, _, err := m.Lang(ctx, t.ID, userID)
	if err != nil {
		logger.Warn(ctx, component, "lang.lookup", slog.String("err", err.Error()))
	}
	return tr.Show(ctx, userID, m.InstructionView(lang))
}

// Notify pushes a user forward after a conversion landed. A registration
// leads to the deposit screen when the tenant checks deposits, otherwise to
// the access screen. Deposits always lead to the access screen, repeat
// deposits included. The access screen marks the welcome as shown.
func (m *Machine) Notify(ctx context.Context, t model.Tenant, userID int64, kind model.EventKind, tr Transport) error {
	lang, _, err := m.Lang(ctx, t.ID, userID)
	if err != nil {
		logger.Warn(ctx, component, "lang.lookup", slog.String("err", err.Error()))
	}
	var v View
	marked := false
	if kind == model.EventRegistration && t.CheckDeposit {
		v = m.depositView(t, lang)
	} else {
		v = m.accessView(t, lang)
		first, err := m.welcome.MarkShown(ctx, t.ID, userID)
		if err != nil {
			logger.Warn(ctx, component, "welcome.mark",
				slog.Int64("tenant_id", t.ID),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
		marked = first
	}
	if err := tr.Show(ctx, userID, v); err != nil {
		if marked {
			m.unmark(ctx, t.ID, userID)
		}
		logger.Warn(ctx, component, "notify",
			slog.String("status", "fail"),
			slog.Int64("tenant_id", t.ID),
			slog.Int64("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("funnel: notify: %w", err)
	}
	logger.Info(ctx, component, "notify",
		slog.String("status", "ok"),
		slog.Int64("tenant_id", t.ID),
		slog.Int64("user_id", userID),
		slog.String("kind", string(kind)),
		slog.String("screen", string(v.Screen)),
	)
	return nil
}

// Forget clears the welcome marker, used when an operator deletes a user.
func (m *Machine) Forget(ctx context.Context, tenantID, userID int64) error {
	return m.welcome.Forget(ctx, tenantID, userID)
}
