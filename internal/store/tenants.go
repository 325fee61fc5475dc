package store

import (
	"context"
	"fmt"

	"github.com/m3rciful/pocketsaas/internal/model"
)

const tenantColumns = `id, owner_telegram_id, bot_token, bot_username, gate_channel_id, gate_channel_url,
	ref_link, deposit_link, miniapp_url, support_url, pb_secret,
	check_subscription, check_deposit, is_active, created_at`

// TenantFlag names a boolean tenant setting that operators may toggle.
type TenantFlag string

const (
	FlagCheckSubscription TenantFlag = "check_subscription"
	FlagCheckDeposit      TenantFlag = "check_deposit"
	FlagActive            TenantFlag = "is_active"
)

// TenantLink names a nullable text setting that operators may edit.
type TenantLink string

const (
	LinkRef         TenantLink = "ref_link"
	LinkDeposit     TenantLink = "deposit_link"
	LinkSupport     TenantLink = "support_url"
	LinkGateChannel TenantLink = "gate_channel_url"
	LinkMiniApp     TenantLink = "miniapp_url"
	LinkSecret      TenantLink = "pb_secret"
)

var (
	tenantFlags = map[TenantFlag]struct{}{
		FlagCheckSubscription: {},
		FlagCheckDeposit:      {},
		FlagActive:            {},
	}
	tenantLinks = map[TenantLink]struct{}{
		LinkRef:         {},
		LinkDeposit:     {},
		LinkSupport:     {},
		LinkGateChannel: {},
		LinkMiniApp:     {},
		LinkSecret:      {},
	}
)

// UpsertTenant inserts the owner's tenant or refreshes its credentials.
// supportURL is only applied when the tenant has none yet.
func (s *Store) UpsertTenant(ctx context.Context, ownerID int64, token string, username *string, supportURL *string) (model.Tenant, error) {
	const q = `
INSERT INTO tenants (owner_telegram_id, bot_token, bot_username, support_url, is_active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (owner_telegram_id) DO UPDATE SET
	bot_token    = EXCLUDED.bot_token,
	bot_username = EXCLUDED.bot_username,
	support_url  = COALESCE(tenants.support_url, EXCLUDED.support_url),
	is_active    = TRUE
RETURNING ` + tenantColumns
	var t model.Tenant
	if err := s.db.GetContext(ctx, &t, q, ownerID, token, username, supportURL); err != nil {
		return model.Tenant{}, fmt.Errorf("store: upsert tenant: %w", mapErr(err))
	}
	return t, nil
}

// TenantByID loads one tenant.
func (s *Store) TenantByID(ctx context.Context, id int64) (model.Tenant, error) {
	var t model.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("store: tenant %d: %w", id, mapErr(err))
	}
	return t, nil
}

// TenantByOwner loads the tenant owned by a Telegram user.
func (s *Store) TenantByOwner(ctx context.Context, ownerID int64) (model.Tenant, error) {
	var t model.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE owner_telegram_id = $1`, ownerID)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("store: tenant by owner: %w", mapErr(err))
	}
	return t, nil
}

// TenantBySecret loads the tenant whose postback secret equals secret.
func (s *Store) TenantBySecret(ctx context.Context, secret string) (model.Tenant, error) {
	var t model.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE pb_secret = $1`, secret)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("store: tenant by secret: %w", mapErr(err))
	}
	return t, nil
}

// ListTenants returns every tenant ordered by id.
func (s *Store) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	if err := s.db.SelectContext(ctx, &out, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", mapErr(err))
	}
	return out, nil
}

// ListActiveTenants returns active tenants that have a bot token.
func (s *Store) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE is_active AND bot_token <> '' ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("store: list active tenants: %w", mapErr(err))
	}
	return out, nil
}

// DeleteTenant removes a tenant. Dependent rows go with it through
// ON DELETE CASCADE.
func (s *Store) DeleteTenant(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete tenant: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: delete tenant %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// ToggleTenantFlag flips a boolean setting and returns the new value.
func (s *Store) ToggleTenantFlag(ctx context.Context, id int64, flag TenantFlag) (bool, error) {
	if _, ok := tenantFlags[flag]; !ok {
		return false, fmt.Errorf("store: unknown tenant flag %q", flag)
	}
	var v bool
	q := fmt.Sprintf(`UPDATE tenants SET %[1]s = NOT %[1]s WHERE id = $1 RETURNING %[1]s`, flag)
	if err := s.db.GetContext(ctx, &v, q, id); err != nil {
		return false, fmt.Errorf("store: toggle %s: %w", flag, mapErr(err))
	}
	return v, nil
}

// SetTenantLink stores or clears (nil) a text setting.
func (s *Store) SetTenantLink(ctx context.Context, id int64, link TenantLink, value *string) error {
	if _, ok := tenantLinks[link]; !ok {
		return fmt.Errorf("store: unknown tenant link %q", link)
	}
	q := fmt.Sprintf(`UPDATE tenants SET %s = $2 WHERE id = $1`, link)
	res, err := s.db.ExecContext(ctx, q, id, value)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", link, mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set %s: %w", link, model.ErrNotFound)
	}
	return nil
}

// SetGateChannelID stores or clears the gating channel id.
func (s *Store) SetGateChannelID(ctx context.Context, id int64, channelID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET gate_channel_id = $2 WHERE id = $1`, id, channelID)
	if err != nil {
		return fmt.Errorf("store: set gate channel: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set gate channel: %w", model.ErrNotFound)
	}
	return nil
}
