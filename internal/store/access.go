package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/pocketsaas/internal/model"
)

const accessColumns = `id, tenant_id, user_id, is_registered, has_deposit, click_id, trader_id,
	total_deposits, username, created_at, updated_at`

// AccessFlag names a funnel flag an operator may toggle by hand.
type AccessFlag string

const (
	AccessRegistered AccessFlag = "is_registered"
	AccessDeposited  AccessFlag = "has_deposit"
)

// GetAccess loads the (tenant, user) row.
func (s *Store) GetAccess(ctx context.Context, tenantID, userID int64) (model.UserAccess, error) {
	var ua model.UserAccess
	q := `SELECT ` + accessColumns + ` FROM user_access WHERE tenant_id = $1 AND user_id = $2`
	if err := s.db.GetContext(ctx, &ua, q, tenantID, userID); err != nil {
		return model.UserAccess{}, fmt.Errorf("store: access: %w", mapErr(err))
	}
	return ua, nil
}

// GetAccessByClickID loads the row whose click_id matches exactly.
func (s *Store) GetAccessByClickID(ctx context.Context, tenantID int64, clickID string) (model.UserAccess, error) {
	var ua model.UserAccess
	q := `SELECT ` + accessColumns + ` FROM user_access WHERE tenant_id = $1 AND click_id = $2`
	if err := s.db.GetContext(ctx, &ua, q, tenantID, clickID); err != nil {
		return model.UserAccess{}, fmt.Errorf("store: access by click: %w", mapErr(err))
	}
	return ua, nil
}

// InsertAccess creates a row. A concurrent creator for the same key makes
// it fail with model.ErrConflict.
func (s *Store) InsertAccess(ctx context.Context, ua model.UserAccess) (model.UserAccess, error) {
	const q = `
INSERT INTO user_access (tenant_id, user_id, click_id, username)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, user_id) DO NOTHING
RETURNING ` + accessColumns
	var out model.UserAccess
	err := s.db.GetContext(ctx, &out, q, ua.TenantID, ua.UserID, ua.ClickID, ua.Username)
	if err != nil {
		err = mapErr(err)
		if errors.Is(err, model.ErrNotFound) {
			// DO NOTHING returned no row: someone else won the insert.
			return model.UserAccess{}, fmt.Errorf("store: insert access: %w", model.ErrConflict)
		}
		return model.UserAccess{}, fmt.Errorf("store: insert access: %w", err)
	}
	return out, nil
}

// UpdateAccessIdentity refreshes the cached username and fills a missing
// click_id. Nil arguments leave the column untouched.
func (s *Store) UpdateAccessIdentity(ctx context.Context, tenantID, userID int64, username, clickID *string) error {
	const q = `
UPDATE user_access SET
	username   = COALESCE($3, username),
	click_id   = COALESCE(click_id, $4),
	updated_at = now()
WHERE tenant_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, q, tenantID, userID, username, clickID); err != nil {
		return fmt.Errorf("store: update identity: %w", mapErr(err))
	}
	return nil
}

// RaiseAccessFlags sets the funnel flags to true where requested. It never
// lowers a flag.
func (s *Store) RaiseAccessFlags(ctx context.Context, tenantID, userID int64, registered, deposited bool) error {
	const q = `
UPDATE user_access SET
	is_registered = is_registered OR $3,
	has_deposit   = has_deposit OR $4,
	updated_at    = now()
WHERE tenant_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, q, tenantID, userID, registered, deposited); err != nil {
		return fmt.Errorf("store: raise flags: %w", mapErr(err))
	}
	return nil
}

// ToggleAccessFlag flips one flag by operator action and returns the row.
func (s *Store) ToggleAccessFlag(ctx context.Context, tenantID, userID int64, flag AccessFlag) (model.UserAccess, error) {
	if flag != AccessRegistered && flag != AccessDeposited {
		return model.UserAccess{}, fmt.Errorf("store: unknown access flag %q", flag)
	}
	q := fmt.Sprintf(`UPDATE user_access SET %[1]s = NOT %[1]s, updated_at = now()
WHERE tenant_id = $1 AND user_id = $2 RETURNING `+accessColumns, flag)
	var ua model.UserAccess
	if err := s.db.GetContext(ctx, &ua, q, tenantID, userID); err != nil {
		return model.UserAccess{}, fmt.Errorf("store: toggle %s: %w", flag, mapErr(err))
	}
	return ua, nil
}

// DeleteAccess removes one user row and its language choice. Events stay.
func (s *Store) DeleteAccess(ctx context.Context, tenantID, userID int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM user_access WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
		if err != nil {
			return fmt.Errorf("store: delete access: %w", mapErr(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: delete access: %w", model.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_langs WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID); err != nil {
			return fmt.Errorf("store: delete lang: %w", mapErr(err))
		}
		return nil
	})
}

// ListAccess returns one page of a tenant's users ordered by user id.
func (s *Store) ListAccess(ctx context.Context, tenantID int64, limit, offset int) ([]model.UserAccess, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM user_access WHERE tenant_id = $1`, tenantID); err != nil {
		return nil, 0, fmt.Errorf("store: count access: %w", mapErr(err))
	}
	var out []model.UserAccess
	q := `SELECT ` + accessColumns + ` FROM user_access WHERE tenant_id = $1 ORDER BY user_id LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &out, q, tenantID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("store: list access: %w", mapErr(err))
	}
	return out, total, nil
}

// SearchAccess matches a Telegram user id or a trader id.
func (s *Store) SearchAccess(ctx context.Context, tenantID int64, query string) ([]model.UserAccess, error) {
	var uid *int64
	if n, err := strconv.ParseInt(query, 10, 64); err == nil {
		uid = &n
	}
	q := `SELECT ` + accessColumns + ` FROM user_access
WHERE tenant_id = $1 AND (user_id = $2 OR trader_id = $3)
ORDER BY user_id LIMIT 20`
	var out []model.UserAccess
	if err := s.db.SelectContext(ctx, &out, q, tenantID, uid, query); err != nil {
		return nil, fmt.Errorf("store: search access: %w", mapErr(err))
	}
	return out, nil
}
