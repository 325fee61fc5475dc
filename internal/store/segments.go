package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/m3rciful/pocketsaas/internal/model"
)

// Registered and deposited use the effective flags: a stored flag or a
// matching event is enough.
const (
	effectiveRegistered = `(ua.is_registered OR EXISTS (
	SELECT 1 FROM events e
	WHERE e.tenant_id = ua.tenant_id AND e.user_id = ua.user_id AND e.kind = 'reg'))`
	effectiveDeposited = `(ua.has_deposit OR EXISTS (
	SELECT 1 FROM events e
	WHERE e.tenant_id = ua.tenant_id AND e.user_id = ua.user_id AND e.kind IN ('ftd', 'rd')))`
)

// SegmentUserIDs resolves a campaign audience to distinct user ids. Global
// segments span every active tenant.
func (s *Store) SegmentUserIDs(ctx context.Context, seg model.Segment) ([]int64, error) {
	tenantIDs, err := s.segmentTenants(ctx, seg)
	if err != nil {
		return nil, err
	}
	if len(tenantIDs) == 0 {
		return nil, nil
	}

	args := []any{pq.Array(tenantIDs)}
	var where string
	from := `user_access ua`
	switch seg.Filter {
	case model.FilterAll, "":
	case model.FilterRegistered:
		where = ` AND ` + effectiveRegistered
	case model.FilterDeposited:
		where = ` AND ` + effectiveDeposited
	case model.FilterLanguage:
		from = `user_access ua JOIN user_langs ul ON ul.tenant_id = ua.tenant_id AND ul.user_id = ua.user_id`
		where = ` AND ul.lang = $2`
		args = append(args, seg.Lang)
	default:
		return nil, fmt.Errorf("store: unknown segment filter %q", seg.Filter)
	}

	q := `SELECT DISTINCT ua.user_id FROM ` + from + ` WHERE ua.tenant_id = ANY($1)` + where + ` ORDER BY ua.user_id`
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("store: segment %s: %w", seg, mapErr(err))
	}
	return ids, nil
}

func (s *Store) segmentTenants(ctx context.Context, seg model.Segment) ([]int64, error) {
	if !seg.Global() {
		return []int64{seg.TenantID}, nil
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM tenants WHERE is_active ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: active tenant ids: %w", mapErr(err))
	}
	return ids, nil
}
