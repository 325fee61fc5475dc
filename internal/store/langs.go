package store

import (
	"context"
	"fmt"

	"github.com/m3rciful/pocketsaas/internal/model"
)

// UserLang returns the stored language or model.ErrNotFound.
func (s *Store) UserLang(ctx context.Context, tenantID, userID int64) (string, error) {
	var lang string
	err := s.db.GetContext(ctx, &lang, `SELECT lang FROM user_langs WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return "", fmt.Errorf("store: user lang: %w", mapErr(err))
	}
	return lang, nil
}

// SetUserLang creates or overwrites the language choice.
func (s *Store) SetUserLang(ctx context.Context, tenantID, userID int64, lang string) error {
	const q = `
INSERT INTO user_langs (tenant_id, user_id, lang) VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, user_id) DO UPDATE SET lang = EXCLUDED.lang`
	if _, err := s.db.ExecContext(ctx, q, tenantID, userID, lang); err != nil {
		return fmt.Errorf("store: set user lang: %w", mapErr(err))
	}
	return nil
}

// TenantStats aggregates users and deposit events of a tenant.
func (s *Store) TenantStats(ctx context.Context, tenantID int64) (model.Stats, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM user_access WHERE tenant_id = $1)                      AS total_users,
	(SELECT COUNT(*) FROM user_access WHERE tenant_id = $1 AND is_registered)    AS registered,
	(SELECT COUNT(*) FROM user_access WHERE tenant_id = $1 AND has_deposit)      AS deposited,
	(SELECT COALESCE(SUM(amount), 0) FROM events
		WHERE tenant_id = $1 AND kind IN ('ftd', 'rd'))                          AS deposit_sum,
	(SELECT COUNT(*) FROM events WHERE tenant_id = $1 AND kind IN ('ftd', 'rd')) AS deposit_count`
	var st model.Stats
	if err := s.db.GetContext(ctx, &st, q, tenantID); err != nil {
		return model.Stats{}, fmt.Errorf("store: stats: %w", mapErr(err))
	}
	return st, nil
}
