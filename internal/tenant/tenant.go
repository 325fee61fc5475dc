// Package tenant is the registry of operator bots and their funnel
// settings.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/store"
)

const component = "tenants"

var (
	// ErrBadToken is returned for text that does not look like a bot token.
	ErrBadToken = errors.New("tenant: malformed bot token")
	// ErrTokenRejected is returned when the chat platform refuses the token.
	ErrTokenRejected = errors.New("tenant: bot token rejected")
	// ErrBadChannelID is returned for a non-numeric gating channel id.
	ErrBadChannelID = errors.New("tenant: channel id must be an integer")
	// ErrUnknownField is returned for link fields outside the editable set.
	ErrUnknownField = errors.New("tenant: unknown link field")
	// ErrBadMiniAppURL is returned for a mini app link that is not https.
	ErrBadMiniAppURL = errors.New("tenant: mini app link must be an https URL")
	// ErrBadSecret is returned for a postback secret outside [A-Za-z0-9_-]{6,64}
	// or one that reads as a short tenant code.
	ErrBadSecret = errors.New("tenant: malformed postback secret")
	// ErrSecretTaken is returned when another tenant uses the secret.
	ErrSecretTaken = errors.New("tenant: postback secret already in use")
)

var (
	tokenRe  = regexp.MustCompile(`^\d+:[A-Za-z0-9_\-]{20,}$`)
	secretRe = regexp.MustCompile(`^[A-Za-z0-9_\-]{6,64}$`)
)

// LooksLikeToken reports whether s has the shape of a bot token.
func LooksLikeToken(s string) bool {
	return tokenRe.MatchString(strings.TrimSpace(s))
}

// Store is the persistence the directory needs.
type Store interface {
	UpsertTenant(ctx context.Context, ownerID int64, token string, username, supportURL *string) (model.Tenant, error)
	TenantByID(ctx context.Context, id int64) (model.Tenant, error)
	TenantByOwner(ctx context.Context, ownerID int64) (model.Tenant, error)
	TenantBySecret(ctx context.Context, secret string) (model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]model.Tenant, error)
	DeleteTenant(ctx context.Context, id int64) error
	ToggleTenantFlag(ctx context.Context, id int64, flag store.TenantFlag) (bool, error)
	SetTenantLink(ctx context.Context, id int64, link store.TenantLink, value *string) error
	SetGateChannelID(ctx context.Context, id int64, channelID *int64) error
}

// TokenValidator asks the chat platform who owns a token.
type TokenValidator interface {
	BotUsername(ctx context.Context, token string) (string, error)
}

// Directory implements tenant registration, lookup and settings.
type Directory struct {
	store             Store
	validator         TokenValidator
	defaultSupportURL string
}

// New returns a Directory.
func New(st Store, validator TokenValidator, defaultSupportURL string) *Directory {
	return &Directory{store: st, validator: validator, defaultSupportURL: defaultSupportURL}
}

// Register validates token and stores it as the owner's tenant. An owner
// has one tenant; a new token replaces the old one and reactivates it.
func (d *Directory) Register(ctx context.Context, ownerID int64, token string) (model.Tenant, error) {
	token = strings.TrimSpace(token)
	if !LooksLikeToken(token) {
		return model.Tenant{}, ErrBadToken
	}
	username, err := d.validator.BotUsername(ctx, token)
	if err != nil {
		logger.Warn(ctx, component, "token.rejected",
			slog.Int64("user_id", ownerID),
			slog.String("err", err.Error()),
		)
		return model.Tenant{}, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	var name *string
	if username != "" {
		name = &username
	}
	var support *string
	if d.defaultSupportURL != "" {
		support = &d.defaultSupportURL
	}
	t, err := d.store.UpsertTenant(ctx, ownerID, token, name, support)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("tenant: register: %w", err)
	}
	logger.Info(ctx, component, "tenant.registered",
		slog.Int64("tenant_id", t.ID),
		slog.Int64("user_id", ownerID),
		slog.String("bot", username),
	)
	return t, nil
}

// Resolve maps a postback code to its tenant: a stored secret first, then
// the tn<id> fallback code.
func (d *Directory) Resolve(ctx context.Context, code string) (model.Tenant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.Tenant{}, model.ErrNotFound
	}
	t, err := d.store.TenantBySecret(ctx, code)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Tenant{}, err
	}
	id, ok := model.ParseFallbackCode(code)
	if !ok {
		return model.Tenant{}, model.ErrNotFound
	}
	return d.store.TenantByID(ctx, id)
}

func (d *Directory) Get(ctx context.Context, id int64) (model.Tenant, error) {
	return d.store.TenantByID(ctx, id)
}

func (d *Directory) ByOwner(ctx context.Context, ownerID int64) (model.Tenant, error) {
	return d.store.TenantByOwner(ctx, ownerID)
}

func (d *Directory) List(ctx context.Context) ([]model.Tenant, error) {
	return d.store.ListTenants(ctx)
}

// Active lists tenants that should have a running bot.
func (d *Directory) Active(ctx context.Context) ([]model.Tenant, error) {
	return d.store.ListActiveTenants(ctx)
}

// Delete removes a tenant with all its users, languages and events.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	if err := d.store.DeleteTenant(ctx, id); err != nil {
		return err
	}
	logger.Info(ctx, component, "tenant.deleted", slog.Int64("tenant_id", id))
	return nil
}

// ToggleSubscriptionCheck flips check_subscription and returns the new value.
func (d *Directory) ToggleSubscriptionCheck(ctx context.Context, id int64) (bool, error) {
	return d.store.ToggleTenantFlag(ctx, id, store.FlagCheckSubscription)
}

// ToggleDepositCheck flips check_deposit and returns the new value.
func (d *Directory) ToggleDepositCheck(ctx context.Context, id int64) (bool, error) {
	return d.store.ToggleTenantFlag(ctx, id, store.FlagCheckDeposit)
}

var linkColumns = map[string]store.TenantLink{
	callback.LinkRef:        store.LinkRef,
	callback.LinkDeposit:    store.LinkDeposit,
	callback.LinkSupport:    store.LinkSupport,
	callback.LinkChannelURL: store.LinkGateChannel,
	callback.LinkMiniApp:    store.LinkMiniApp,
	callback.LinkSecret:     store.LinkSecret,
}

// SetLink updates one editable field from operator input. "-" or an empty
// value clears it.
func (d *Directory) SetLink(ctx context.Context, id int64, field, raw string) error {
	raw = strings.TrimSpace(raw)
	unset := raw == "" || raw == "-"

	if field == callback.LinkChannelID {
		if unset {
			return d.store.SetGateChannelID(ctx, id, nil)
		}
		ch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ErrBadChannelID
		}
		return d.store.SetGateChannelID(ctx, id, &ch)
	}

	col, ok := linkColumns[field]
	if !ok {
		return ErrUnknownField
	}
	var value *string
	if !unset {
		if err := checkLink(field, raw); err != nil {
			return err
		}
		value = &raw
	}
	err := d.store.SetTenantLink(ctx, id, col, value)
	if field == callback.LinkSecret && errors.Is(err, model.ErrConflict) {
		return ErrSecretTaken
	}
	if err != nil {
		return err
	}
	logger.Info(ctx, component, "tenant.link_set",
		slog.Int64("tenant_id", id),
		slog.String("field", field),
		slog.Bool("cleared", unset),
	)
	return nil
}

func checkLink(field, raw string) error {
	switch field {
	case callback.LinkMiniApp:
		if u, err := url.Parse(raw); err != nil || u.Scheme != "https" || u.Host == "" {
			return ErrBadMiniAppURL
		}
	case callback.LinkSecret:
		if _, short := model.ParseFallbackCode(raw); short || !secretRe.MatchString(raw) {
			return ErrBadSecret
		}
	}
	return nil
}

// PostbackURLs builds the partner-facing URLs of a tenant, with the
// {click_id}, {trader_id} and {sumdep} macros in place.
func PostbackURLs(t model.Tenant, base string) map[model.EventKind]string {
	base = strings.TrimRight(base, "/")
	code := url.PathEscape(t.PostbackCode())
	out := make(map[model.EventKind]string, 3)
	out[model.EventRegistration] = fmt.Sprintf("%s/pb/%s/reg?click_id={click_id}&trader_id={trader_id}", base, code)
	out[model.EventFirstDeposit] = fmt.Sprintf("%s/pb/%s/ftd?click_id={click_id}&trader_id={trader_id}&sumdep={sumdep}", base, code)
	out[model.EventRepeatDeposit] = fmt.Sprintf("%s/pb/%s/rd?click_id={click_id}&trader_id={trader_id}&sumdep={sumdep}", base, code)
	return out
}
