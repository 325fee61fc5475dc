// Package model holds the persisted entities shared by the tenant, ledger,
// funnel and broadcast packages.
package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Tenant is one operator's bot instance and its funnel settings.
type Tenant struct {
	ID                int64     `db:"id"`
	OwnerTelegramID   int64     `db:"owner_telegram_id"`
	BotToken          string    `db:"bot_token"`
	BotUsername       *string   `db:"bot_username"`
	GateChannelID     *int64    `db:"gate_channel_id"`
	GateChannelURL    *string   `db:"gate_channel_url"`
	RefLink           *string   `db:"ref_link"`
	DepositLink       *string   `db:"deposit_link"`
	MiniAppURL        *string   `db:"miniapp_url"`
	SupportURL        *string   `db:"support_url"`
	PBSecret          *string   `db:"pb_secret"`
	CheckSubscription bool      `db:"check_subscription"`
	CheckDeposit      bool      `db:"check_deposit"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
}

// PostbackCode returns the code used in /pb/{code}/... routes.
func (t Tenant) PostbackCode() string {
	if t.PBSecret != nil && strings.TrimSpace(*t.PBSecret) != "" {
		return *t.PBSecret
	}
	return FallbackCode(t.ID)
}

// FallbackCode derives the short code for tenants without a secret.
func FallbackCode(id int64) string {
	return "tn" + strconv.FormatInt(id, 10)
}

// ParseFallbackCode reverses FallbackCode.
func ParseFallbackCode(code string) (int64, bool) {
	rest, ok := strings.CutPrefix(code, "tn")
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// UserAccess is the funnel state of one user inside one tenant.
type UserAccess struct {
	ID            int64     `db:"id"`
	TenantID      int64     `db:"tenant_id"`
	UserID        int64     `db:"user_id"`
	IsRegistered  bool      `db:"is_registered"`
	HasDeposit    bool      `db:"has_deposit"`
	ClickID       *string   `db:"click_id"`
	TraderID      *string   `db:"trader_id"`
	TotalDeposits float64   `db:"total_deposits"`
	Username      *string   `db:"username"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// EventKind is the conversion kind reported by the partner system.
type EventKind string

const (
	EventRegistration  EventKind = "reg"
	EventFirstDeposit  EventKind = "ftd"
	EventRepeatDeposit EventKind = "rd"
)

// ParseEventKind validates a route segment.
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventRegistration, EventFirstDeposit, EventRepeatDeposit:
		return EventKind(s), true
	}
	return "", false
}

// IsDeposit reports whether the kind carries an amount.
func (k EventKind) IsDeposit() bool {
	return k == EventFirstDeposit || k == EventRepeatDeposit
}

// Event is one append-only conversion log row.
type Event struct {
	ID        int64     `db:"id"`
	TenantID  int64     `db:"tenant_id"`
	UserID    *int64    `db:"user_id"`
	ClickID   *string   `db:"click_id"`
	TraderID  *string   `db:"trader_id"`
	Kind      EventKind `db:"kind"`
	Amount    *float64  `db:"amount"`
	RawQS     *string   `db:"raw_qs"`
	CreatedAt time.Time `db:"created_at"`
}

// Stats aggregates one tenant's funnel numbers.
type Stats struct {
	TotalUsers   int     `db:"total_users"`
	Registered   int     `db:"registered"`
	Deposited    int     `db:"deposited"`
	DepositSum   float64 `db:"deposit_sum"`
	DepositCount int     `db:"deposit_count"`
}

// ConversionWrite is what one recorded conversion persists atomically.
// When UpsertAccess is set, the access row for Event.UserID is created if
// missing before its flags are raised.
type ConversionWrite struct {
	Event        Event
	UpsertAccess bool
}
