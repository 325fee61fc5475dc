package store

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/pocketsaas/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(sqlx.NewDb(db, "postgres")), mock
}

func ptr[T any](v T) *T { return &v }

func TestSegmentUserIDsTenantRegistered(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT DISTINCT ua.user_id FROM user_access ua WHERE ua.tenant_id = ANY\(\$1\) AND \(ua.is_registered OR EXISTS`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3).AddRow(9))

	ids, err := s.SegmentUserIDs(t.Context(), model.Segment{TenantID: 4, Filter: model.FilterRegistered})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 9 {
		t.Fatalf("ids = %v, want [3 9]", ids)
	}
}

func TestSegmentUserIDsGlobalLanguage(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM tenants WHERE is_active`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectQuery(`JOIN user_langs ul ON .* WHERE ua.tenant_id = ANY\(\$1\) AND ul.lang = \$2`).
		WithArgs(sqlmock.AnyArg(), "en").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(11))

	ids, err := s.SegmentUserIDs(t.Context(), model.Segment{Filter: model.FilterLanguage, Lang: "en"})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(ids) != 1 || ids[0] != 11 {
		t.Fatalf("ids = %v, want [11]", ids)
	}
}

func TestSegmentUserIDsNoActiveTenants(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM tenants WHERE is_active`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := s.SegmentUserIDs(t.Context(), model.Segment{})
	if err != nil || ids != nil {
		t.Fatalf("ids = %v, err = %v, want nothing", ids, err)
	}
}

func TestCommitConversionWritesAccessAndEvent(t *testing.T) {
	s, mock := newMockStore(t)
	ev := model.Event{
		TenantID: 1,
		UserID:   ptr(int64(77)),
		ClickID:  ptr("77"),
		TraderID: ptr("X1"),
		Kind:     model.EventFirstDeposit,
		Amount:   ptr(50.0),
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_access \(tenant_id, user_id, click_id\)`).
		WithArgs(1, 77, "77").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_access SET`).
		WithArgs(1, 77, false, true, 50.0, "X1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(1, 77, "77", "X1", "ftd", 50.0, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.CommitConversion(t.Context(), model.ConversionWrite{Event: ev, UpsertAccess: true}); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCommitConversionEventOnly(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(2, nil, "lost", nil, "reg", nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := model.Event{TenantID: 2, ClickID: ptr("lost"), Kind: model.EventRegistration}
	if err := s.CommitConversion(t.Context(), model.ConversionWrite{Event: ev}); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCommitConversionRollsBackOnEventFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_access`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_access SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	ev := model.Event{TenantID: 1, UserID: ptr(int64(5)), ClickID: ptr("5"), Kind: model.EventRegistration}
	err := s.CommitConversion(t.Context(), model.ConversionWrite{Event: ev, UpsertAccess: true})
	if err == nil {
		t.Fatal("commit succeeded despite the failed event insert")
	}
}

func TestCommitConversionClickConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_access`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_access_tenant_click_key"})
	mock.ExpectRollback()

	ev := model.Event{TenantID: 1, UserID: ptr(int64(500)), ClickID: ptr("500"), Kind: model.EventRegistration}
	err := s.CommitConversion(t.Context(), model.ConversionWrite{Event: ev, UpsertAccess: true})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

var accessRowColumns = []string{
	"id", "tenant_id", "user_id", "is_registered", "has_deposit", "click_id", "trader_id",
	"total_deposits", "username", "created_at", "updated_at",
}

func TestInsertAccess(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO user_access \(tenant_id, user_id, click_id, username\)`).
		WithArgs(1, 42, "42", "alice").
		WillReturnRows(sqlmock.NewRows(accessRowColumns).
			AddRow(8, 1, 42, false, false, "42", nil, 0.0, "alice", at, at))

	ua, err := s.InsertAccess(t.Context(), model.UserAccess{TenantID: 1, UserID: 42, ClickID: ptr("42"), Username: ptr("alice")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ua.ID != 8 || ua.ClickID == nil || *ua.ClickID != "42" || ua.TraderID != nil {
		t.Fatalf("row = %+v", ua)
	}
}

func TestInsertAccessConflicts(t *testing.T) {
	cases := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
	}{
		{"row exists", func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`ON CONFLICT \(tenant_id, user_id\) DO NOTHING`).
				WillReturnRows(sqlmock.NewRows(accessRowColumns))
		}},
		{"click id taken", func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`ON CONFLICT \(tenant_id, user_id\) DO NOTHING`).
				WillReturnError(&pq.Error{Code: "23505", Constraint: "user_access_tenant_click_key"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tc.expect(mock)
			_, err := s.InsertAccess(t.Context(), model.UserAccess{TenantID: 1, UserID: 42, ClickID: ptr("42")})
			if !errors.Is(err, model.ErrConflict) {
				t.Fatalf("err = %v, want ErrConflict", err)
			}
		})
	}
}
