package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/pocketsaas/internal/model"
)

// EventFlags reports whether a registration and any deposit event exist
// for the user.
func (s *Store) EventFlags(ctx context.Context, tenantID, userID int64) (registered, deposited bool, err error) {
	const q = `
SELECT
	COALESCE(bool_or(kind = 'reg'), FALSE)          AS registered,
	COALESCE(bool_or(kind IN ('ftd', 'rd')), FALSE) AS deposited
FROM events
WHERE tenant_id = $1 AND user_id = $2`
	var row struct {
		Registered bool `db:"registered"`
		Deposited  bool `db:"deposited"`
	}
	if err := s.db.GetContext(ctx, &row, q, tenantID, userID); err != nil {
		return false, false, fmt.Errorf("store: event flags: %w", mapErr(err))
	}
	return row.Registered, row.Deposited, nil
}

// CommitConversion raises the user's flags and appends the event in one
// transaction. An event without a user only appends the log row.
func (s *Store) CommitConversion(ctx context.Context, w model.ConversionWrite) error {
	ev := w.Event
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if ev.UserID != nil {
			if w.UpsertAccess {
				const ins = `
INSERT INTO user_access (tenant_id, user_id, click_id)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, user_id) DO NOTHING`
				if _, err := tx.ExecContext(ctx, ins, ev.TenantID, *ev.UserID, ev.ClickID); err != nil {
					return fmt.Errorf("store: conversion upsert: %w", mapErr(err))
				}
			}
			var amount float64
			if ev.Kind.IsDeposit() && ev.Amount != nil {
				amount = *ev.Amount
			}
			const upd = `
UPDATE user_access SET
	is_registered  = is_registered OR $3,
	has_deposit    = has_deposit OR $4,
	total_deposits = total_deposits + $5,
	trader_id      = COALESCE($6, trader_id),
	updated_at     = now()
WHERE tenant_id = $1 AND user_id = $2`
			_, err := tx.ExecContext(ctx, upd,
				ev.TenantID, *ev.UserID,
				ev.Kind == model.EventRegistration, ev.Kind.IsDeposit(),
				amount, ev.TraderID,
			)
			if err != nil {
				return fmt.Errorf("store: conversion flags: %w", mapErr(err))
			}
		}
		const appendEvent = `
INSERT INTO events (tenant_id, user_id, click_id, trader_id, kind, amount, raw_qs)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.ExecContext(ctx, appendEvent,
			ev.TenantID, ev.UserID, ev.ClickID, ev.TraderID, string(ev.Kind), ev.Amount, ev.RawQS,
		)
		if err != nil {
			return fmt.Errorf("store: append event: %w", mapErr(err))
		}
		return nil
	})
}

// RecentEvents returns the newest events of a tenant.
func (s *Store) RecentEvents(ctx context.Context, tenantID int64, limit int) ([]model.Event, error) {
	const q = `
SELECT id, tenant_id, user_id, click_id, trader_id, kind, amount, raw_qs, created_at
FROM events WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`
	var out []model.Event
	if err := s.db.SelectContext(ctx, &out, q, tenantID, limit); err != nil {
		return nil, fmt.Errorf("store: recent events: %w", mapErr(err))
	}
	return out, nil
}
