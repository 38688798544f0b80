package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/engagehub/maintenance-core/internal/domain/gdpr"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAppendLedgerCommitsEntryAndBalanceTogether(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(500)))
	mock.ExpectQuery(`INSERT INTO ledger_entries`).
		WithArgs(int64(7), int64(-200), string(ledger.KindWithdraw), int64(0), int64(0), "hold", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(`UPDATE users SET balance = balance \+ \$2`).
		WithArgs(int64(7), int64(-200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := s.AppendLedgerAndAdjustBalance(context.Background(), ledger.Entry{
		UserID: 7, Amount: -200, Kind: ledger.KindWithdraw, Note: "hold",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID != 42 {
		t.Fatalf("entry id = %d", e.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendLedgerRollsBackOnOverdraw(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectRollback()

	_, err := s.AppendLedgerAndAdjustBalance(context.Background(), ledger.Entry{
		UserID: 7, Amount: -200, Kind: ledger.KindWithdraw,
	})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendLedgerUnknownUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.AppendLedgerAndAdjustBalance(context.Background(), ledger.Entry{UserID: 9, Amount: 10, Kind: ledger.KindEarn})
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestVerifyBalanceMismatchIsFatal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT u.balance, COALESCE\(SUM\(l.amount\), 0\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "sum"}).AddRow(int64(500), int64(480)))

	err := s.VerifyBalance(context.Background(), 7)
	if !apperrors.IsKind(err, apperrors.KindFatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
}

func TestTransitionWithdrawalConflictOnLostRace(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE withdrawal_requests`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, user_id, amount, status, suspicious, requested_at, processed_at, locked_until FROM withdrawal_requests WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "amount", "status", "suspicious", "requested_at", "processed_at", "locked_until",
		}).AddRow(int64(3), int64(7), int64(100), string(withdrawal.StatusLocked), true, now, nil, nil))

	_, err := s.TransitionWithdrawal(context.Background(), 3,
		withdrawal.StatusPending, withdrawal.StatusApproved,
		storage.WithdrawalChange{ProcessedAt: now})
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestTransitionWithdrawalNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE withdrawal_requests`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, user_id, amount, status, suspicious, requested_at, processed_at, locked_until FROM withdrawal_requests WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.TransitionWithdrawal(context.Background(), 404,
		withdrawal.StatusPending, withdrawal.StatusCancelled, storage.WithdrawalChange{})
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCreateWithdrawalWithHoldRollsBackWhenDebitFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO withdrawal_requests`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectRollback()

	_, err := s.CreateWithdrawalWithHold(context.Background(),
		withdrawal.Request{UserID: 7, Amount: 500},
		ledger.Entry{UserID: 7, Amount: -500, Kind: ledger.KindWithdraw, Note: "withdrawal hold"})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithdrawalWithHoldConflictBooksNothing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO withdrawal_requests`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.CreateWithdrawalWithHold(context.Background(),
		withdrawal.Request{UserID: 7, Amount: 50},
		ledger.Entry{UserID: 7, Amount: -50, Kind: ledger.KindWithdraw, Note: "withdrawal hold"})
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCancelWithdrawalWithRefundCommitsBothTogether(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE withdrawal_requests`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "amount", "status", "suspicious", "requested_at", "processed_at", "locked_until",
		}).AddRow(int64(3), int64(7), int64(100), string(withdrawal.StatusCancelled), false, now, now, nil))
	mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(0)))
	mock.ExpectQuery(`INSERT INTO ledger_entries`).
		WithArgs(int64(7), int64(100), string(ledger.KindEarn), int64(0), int64(0), "refund of cancelled request", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(88)))
	mock.ExpectExec(`UPDATE users SET balance = balance \+ \$2`).
		WithArgs(int64(7), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r, err := s.CancelWithdrawalWithRefund(context.Background(), 3, now,
		ledger.Entry{UserID: 7, Amount: 100, Kind: ledger.KindEarn, Note: "refund of cancelled request"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Status != withdrawal.StatusCancelled {
		t.Fatalf("status = %s", r.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPurgeGDPRRequestsAnchorsOnProcessedAt(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM gdpr_requests WHERE status = \$1 AND processed_at < \$2`).
		WithArgs(string(gdpr.StatusCompleted), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeGDPRRequestsBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged = %d, want 3", n)
	}
}
