// Package postgres implements the storage capabilities on PostgreSQL. Every
// conditional transition is predicated inside the UPDATE itself, so a row
// moved by a concurrent actor loses cleanly as a conflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/engagehub/maintenance-core/internal/domain/badge"
	"github.com/engagehub/maintenance-core/internal/domain/forensics"
	"github.com/engagehub/maintenance-core/internal/domain/gdpr"
	"github.com/engagehub/maintenance-core/internal/domain/leaderboard"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	"github.com/engagehub/maintenance-core/internal/domain/task"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func stampIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	u.CreatedAt = stampIfZero(u.CreatedAt)
	u.UpdatedAt = stampIfZero(u.UpdatedAt)
	if u.Status == "" {
		u.Status = user.StatusActive
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, avatar_url, session_blob, auth_secret,
			balance, admin, status, daily_streak, last_daily_reward, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, u.Username, u.Email, u.FullName, u.AvatarURL, u.SessionBlob, u.AuthSecret,
		u.Balance, u.Admin, u.Status, u.DailyStreak, nullTime(u.LastDailyReward), u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, avatar_url, session_blob, auth_secret,
			balance, admin, status, daily_streak, last_daily_reward, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, apperrors.NotFound("user_not_found", "no such user")
	}
	return u, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var lastReward sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.AvatarURL, &u.SessionBlob,
		&u.AuthSecret, &u.Balance, &u.Admin, &u.Status, &u.DailyStreak, &lastReward,
		&u.CreatedAt, &u.UpdatedAt)
	u.LastDailyReward = fromNull(lastReward)
	return u, err
}

func (s *Store) ListAdmins(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, avatar_url, session_blob, auth_secret,
			balance, admin, status, daily_streak, last_daily_reward, created_at, updated_at
		FROM users
		WHERE admin
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) SuspendUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, user.StatusSuspended)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	return nil
}

func (s *Store) AnonymizeUser(ctx context.Context, id int64, repl user.Anonymized) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, full_name = $4,
			avatar_url = '', session_blob = '', auth_secret = '', updated_at = NOW()
		WHERE id = $1
	`, id, repl.Username, repl.Email, repl.FullName)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	return nil
}

func (s *Store) CreateReferral(ctx context.Context, r user.Referral) (user.Referral, error) {
	r.AppliedAt = stampIfZero(r.AppliedAt)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO referrals (referrer_id, referred_id, applied_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, r.ReferrerID, r.ReferredID, r.AppliedAt).Scan(&r.ID)
	if err != nil {
		return user.Referral{}, err
	}
	return r, nil
}

func (s *Store) CountReferrals(ctx context.Context, referrerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referrals WHERE referrer_id = $1
	`, referrerID).Scan(&n)
	return n, err
}

func (s *Store) ClearReferralLinks(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE referrals
		SET referrer_id = CASE WHEN referrer_id = $1 THEN NULL ELSE referrer_id END,
			referred_id = CASE WHEN referred_id = $1 THEN NULL ELSE referred_id END
		WHERE referrer_id = $1 OR referred_id = $1
	`, userID)
	return err
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	o.CreatedAt = stampIfZero(o.CreatedAt)
	if o.Status == "" {
		o.Status = order.StatusActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (owner_id, kind, target_url, target_count, completed_count,
			unit_cost, comment_text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, o.OwnerID, o.Kind, o.TargetURL, o.TargetCount, o.CompletedCount,
		o.UnitCost, o.CommentText, o.Status, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		return order.Order{}, err
	}
	return o, nil
}

const orderColumns = `id, owner_id, kind, target_url, target_count, completed_count,
	unit_cost, comment_text, status, created_at`

func scanOrder(row rowScanner) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.OwnerID, &o.Kind, &o.TargetURL, &o.TargetCount,
		&o.CompletedCount, &o.UnitCost, &o.CommentText, &o.Status, &o.CreatedAt)
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, id int64) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, apperrors.NotFound("order_not_found", "no such order")
	}
	return o, err
}

func (s *Store) ActiveOrders(ctx context.Context) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY id`, order.StatusActive)
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY id`, userID)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...interface{}) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *Store) CancelOrder(ctx context.Context, id int64) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE orders SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING `+orderColumns+`
	`, id, order.StatusCancelled, order.StatusActive)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetOrder(ctx, id); getErr != nil {
			return order.Order{}, getErr
		}
		return order.Order{}, apperrors.Conflict("order_not_active", "order is not active")
	}
	return o, err
}

// --- TaskStore --------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	t.CreatedAt = stampIfZero(t.CreatedAt)
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (order_id, assignee_id, status, assigned_at, expires_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, t.OrderID, t.AssigneeID, t.Status, nullTime(t.AssignedAt), nullTime(t.ExpiresAt),
		nullTime(t.CompletedAt), t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

const taskColumns = `id, order_id, assignee_id, status, assigned_at, expires_at, completed_at, created_at`

func scanTask(row rowScanner) (task.Task, error) {
	var t task.Task
	var assigned, expires, completed sql.NullTime
	err := row.Scan(&t.ID, &t.OrderID, &t.AssigneeID, &t.Status, &assigned, &expires, &completed, &t.CreatedAt)
	t.AssignedAt = fromNull(assigned)
	t.ExpiresAt = fromNull(expires)
	t.CompletedAt = fromNull(completed)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, apperrors.NotFound("task_not_found", "no such task")
	}
	return t, err
}

func (s *Store) ExpireAssignedTasksBefore(ctx context.Context, cutoff time.Time, batch int) ([]task.Task, error) {
	return s.queryTasks(ctx, `
		UPDATE tasks SET status = $1
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = $2 AND expires_at < $3
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		task.StatusExpired, task.StatusAssigned, cutoff, batch)
}

func (s *Store) FailInFlightTasksForOrder(ctx context.Context, orderID int64) ([]task.Task, error) {
	return s.queryTasks(ctx, `
		UPDATE tasks SET status = $1
		WHERE order_id = $2 AND status IN ($3, $4)
		RETURNING `+taskColumns,
		task.StatusFailed, orderID, task.StatusAssigned, task.StatusInProgress)
}

func (s *Store) CompleteTask(ctx context.Context, id int64, completedAt time.Time) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+taskColumns,
		id, task.StatusCompleted, completedAt, task.StatusAssigned, task.StatusInProgress)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return task.Task{}, getErr
		}
		return task.Task{}, apperrors.Conflict("task_not_in_flight", "task cannot be completed from its current state")
	}
	return t, err
}

func (s *Store) CompletedTaskCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE assignee_id = $1 AND status = $2
	`, userID, task.StatusCompleted).Scan(&n)
	return n, err
}

func (s *Store) CompletionsSince(ctx context.Context, userID int64, since time.Time) ([]task.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE assignee_id = $1 AND status = $2 AND completed_at >= $3
		ORDER BY id
	`, userID, task.StatusCompleted, since)
}

func (s *Store) UsersWithCompletionsSince(ctx context.Context, since time.Time) ([]storage.CompletionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assignee_id, COUNT(*) FROM tasks
		WHERE status = $1 AND completed_at >= $2
		GROUP BY assignee_id
		ORDER BY assignee_id
	`, task.StatusCompleted, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.CompletionStat
	for rows.Next() {
		var stat storage.CompletionStat
		if err := rows.Scan(&stat.UserID, &stat.Completed); err != nil {
			return nil, err
		}
		result = append(result, stat)
	}
	return result, rows.Err()
}

func (s *Store) ListTasksByUser(ctx context.Context, userID int64) ([]task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE assignee_id = $1 ORDER BY id`, userID)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) AppendLedgerAndAdjustBalance(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer tx.Rollback()

	e, err = appendEntryTx(ctx, tx, e)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// appendEntryTx books the entry and moves the balance inside the caller's
// transaction, under a row-level lock on the user.
func appendEntryTx(ctx context.Context, tx *sqlx.Tx, e ledger.Entry) (ledger.Entry, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT balance FROM users WHERE id = $1 FOR UPDATE
	`, e.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, apperrors.NotFound("user_not_found", "no such user")
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	if balance+e.Amount < 0 {
		return ledger.Entry{}, apperrors.Validation("insufficient_balance", "balance would go negative")
	}

	e.CreatedAt = stampIfZero(e.CreatedAt)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, ref_task, ref_order, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.UserID, e.Amount, e.Kind, e.RefTask, e.RefOrder, e.Note, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1
	`, e.UserID, e.Amount); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

const entryColumns = `id, user_id, amount, kind, ref_task, ref_order, note, created_at`

func (s *Store) EntriesByUser(ctx context.Context, userID int64) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.RefTask, &e.RefOrder, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) EarnSumSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE user_id = $1 AND kind = $2 AND created_at >= $3
	`, userID, ledger.KindEarn, since).Scan(&sum)
	return sum, err
}

func (s *Store) TotalByKind(ctx context.Context, userID int64, kind ledger.Kind) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE user_id = $1 AND kind = $2
	`, userID, kind).Scan(&sum)
	return sum, err
}

func (s *Store) EarningsInWindow(ctx context.Context, since time.Time) ([]ledger.UserEarnings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(amount), MIN(created_at) FROM ledger_entries
		WHERE kind = $1 AND created_at >= $2
		GROUP BY user_id
		ORDER BY user_id
	`, ledger.KindEarn, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.UserEarnings
	for rows.Next() {
		var e ledger.UserEarnings
		if err := rows.Scan(&e.UserID, &e.Total, &e.FirstEarn); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) VerifyBalance(ctx context.Context, userID int64) error {
	var balance, sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT u.balance, COALESCE(SUM(l.amount), 0)
		FROM users u
		LEFT JOIN ledger_entries l ON l.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.balance
	`, userID).Scan(&balance, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	if err != nil {
		return err
	}
	if balance != sum {
		return apperrors.Fatal("ledger_mismatch", nil)
	}
	return nil
}

func (s *Store) RewriteNotes(ctx context.Context, userID int64, note string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries SET note = $2 WHERE user_id = $1
	`, userID, note)
	return err
}

// --- WithdrawalStore --------------------------------------------------------

const withdrawalColumns = `id, user_id, amount, status, suspicious, requested_at, processed_at, locked_until`

func scanWithdrawal(row rowScanner) (withdrawal.Request, error) {
	var r withdrawal.Request
	var processed, locked sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.Amount, &r.Status, &r.Suspicious, &r.RequestedAt, &processed, &locked)
	r.ProcessedAt = fromNull(processed)
	r.LockedUntil = fromNull(locked)
	return r, err
}

func (s *Store) CreateWithdrawal(ctx context.Context, r withdrawal.Request) (withdrawal.Request, error) {
	r.RequestedAt = stampIfZero(r.RequestedAt)
	if r.Status == "" {
		r.Status = withdrawal.StatusPending
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests (user_id, amount, status, suspicious, requested_at, processed_at, locked_until)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE user_id = $1 AND status IN ($8, $9)
		)
		RETURNING id
	`, r.UserID, r.Amount, r.Status, r.Suspicious, r.RequestedAt,
		nullTime(r.ProcessedAt), nullTime(r.LockedUntil),
		withdrawal.StatusPending, withdrawal.StatusLocked)
	if err := row.Scan(&r.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawal.Request{}, apperrors.Conflict("withdrawal_open", "user already has an open withdrawal")
		}
		return withdrawal.Request{}, err
	}
	return r, nil
}

func (s *Store) CreateWithdrawalWithHold(ctx context.Context, r withdrawal.Request, hold ledger.Entry) (withdrawal.Request, error) {
	r.RequestedAt = stampIfZero(r.RequestedAt)
	if r.Status == "" {
		r.Status = withdrawal.StatusPending
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return withdrawal.Request{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests (user_id, amount, status, suspicious, requested_at, processed_at, locked_until)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE user_id = $1 AND status IN ($8, $9)
		)
		RETURNING id
	`, r.UserID, r.Amount, r.Status, r.Suspicious, r.RequestedAt,
		nullTime(r.ProcessedAt), nullTime(r.LockedUntil),
		withdrawal.StatusPending, withdrawal.StatusLocked)
	if err := row.Scan(&r.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawal.Request{}, apperrors.Conflict("withdrawal_open", "user already has an open withdrawal")
		}
		return withdrawal.Request{}, err
	}
	if _, err := appendEntryTx(ctx, tx, hold); err != nil {
		return withdrawal.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return withdrawal.Request{}, err
	}
	return r, nil
}

func (s *Store) CancelWithdrawalWithRefund(ctx context.Context, id int64, processedAt time.Time, refund ledger.Entry) (withdrawal.Request, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return withdrawal.Request{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $3, processed_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, withdrawal.StatusPending, withdrawal.StatusCancelled, nullTime(processedAt))
	r, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		if _, getErr := s.GetWithdrawal(ctx, id); getErr != nil {
			return withdrawal.Request{}, getErr
		}
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_state", "withdrawal is not in the expected state")
	}
	if err != nil {
		return withdrawal.Request{}, err
	}
	if _, err := appendEntryTx(ctx, tx, refund); err != nil {
		return withdrawal.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return withdrawal.Request{}, err
	}
	return r, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id int64) (withdrawal.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	r, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return withdrawal.Request{}, apperrors.NotFound("withdrawal_not_found", "no such withdrawal")
	}
	return r, err
}

func (s *Store) HasOpenWithdrawal(ctx context.Context, userID int64) (bool, error) {
	var open bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE user_id = $1 AND status IN ($2, $3)
		)
	`, userID, withdrawal.StatusPending, withdrawal.StatusLocked).Scan(&open)
	return open, err
}

func (s *Store) CountWithdrawalsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawal_requests
		WHERE user_id = $1 AND requested_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (s *Store) PendingWithdrawalsRequestedBefore(ctx context.Context, cutoff time.Time) ([]withdrawal.Request, error) {
	return s.queryWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE status = $1 AND NOT suspicious AND requested_at <= $2
		ORDER BY id
	`, withdrawal.StatusPending, cutoff)
}

func (s *Store) PendingWithdrawalsByUser(ctx context.Context, userID int64) ([]withdrawal.Request, error) {
	return s.queryWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE user_id = $1 AND status = $2
		ORDER BY id
	`, userID, withdrawal.StatusPending)
}

func (s *Store) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]withdrawal.Request, error) {
	return s.queryWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY id
	`, userID)
}

func (s *Store) queryWithdrawals(ctx context.Context, query string, args ...interface{}) ([]withdrawal.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []withdrawal.Request
	for rows.Next() {
		r, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id int64, from, to withdrawal.Status, change storage.WithdrawalChange) (withdrawal.Request, error) {
	var suspicious interface{}
	if change.Suspicious != nil {
		suspicious = *change.Suspicious
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $3,
			processed_at = COALESCE($4, processed_at),
			locked_until = COALESCE($5, locked_until),
			suspicious = COALESCE($6, suspicious)
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, from, to, nullTime(change.ProcessedAt), nullTime(change.LockedUntil), suspicious)
	r, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetWithdrawal(ctx, id); getErr != nil {
			return withdrawal.Request{}, getErr
		}
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_state", "withdrawal is not in the expected state")
	}
	return r, err
}

// --- ForensicsStore ---------------------------------------------------------

func (s *Store) AppendDeviceIPLog(ctx context.Context, rec forensics.DeviceIPLog) (forensics.DeviceIPLog, error) {
	rec.CreatedAt = stampIfZero(rec.CreatedAt)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO device_ip_logs (user_id, action, device_fingerprint, ip, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.UserID, rec.Action, rec.DeviceFingerprint, rec.IP, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return forensics.DeviceIPLog{}, err
	}
	return rec, nil
}

func (s *Store) HasSuspiciousLogSince(ctx context.Context, userID int64, since time.Time) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM device_ip_logs
			WHERE user_id = $1 AND action LIKE $2 AND created_at >= $3
		)
	`, userID, forensics.SuspiciousPrefix+"%", since).Scan(&found)
	return found, err
}

func (s *Store) DistinctIPsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ip) FROM device_ip_logs
		WHERE user_id = $1 AND ip <> '' AND created_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (s *Store) DistinctDevicesSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT device_fingerprint) FROM device_ip_logs
		WHERE user_id = $1 AND device_fingerprint <> '' AND created_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (s *Store) ListDeviceIPLogsByUser(ctx context.Context, userID int64) ([]forensics.DeviceIPLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, device_fingerprint, ip, created_at
		FROM device_ip_logs
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []forensics.DeviceIPLog
	for rows.Next() {
		var rec forensics.DeviceIPLog
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &rec.DeviceFingerprint, &rec.IP, &rec.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) TruncateLoggedIPs(ctx context.Context, userID int64) error {
	// IPv4 loses its last octet, IPv6 its last group.
	_, err := s.db.ExecContext(ctx, `
		UPDATE device_ip_logs
		SET ip = CASE
			WHEN ip LIKE '%.%' THEN regexp_replace(ip, '\.[0-9]+$', '.0')
			WHEN ip LIKE '%:%' THEN regexp_replace(ip, ':[0-9a-fA-F]*$', ':0')
			ELSE ip
		END
		WHERE user_id = $1 AND ip <> ''
	`, userID)
	return err
}

func (s *Store) PurgeDeviceIPLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM device_ip_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- BadgeStore -------------------------------------------------------------

func (s *Store) AwardBadgeIfMissing(ctx context.Context, ub badge.UserBadge) (bool, error) {
	ub.AwardedAt = stampIfZero(ub.AwardedAt)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, awarded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, ub.UserID, ub.BadgeID, ub.AwardedAt)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) BadgesByUser(ctx context.Context, userID int64) ([]badge.UserBadge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, badge_id, awarded_at FROM user_badges
		WHERE user_id = $1
		ORDER BY badge_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []badge.UserBadge
	for rows.Next() {
		var ub badge.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.AwardedAt); err != nil {
			return nil, err
		}
		result = append(result, ub)
	}
	return result, rows.Err()
}

// --- LeaderboardStore -------------------------------------------------------

func (s *Store) ReplaceLeaderboard(ctx context.Context, period leaderboard.Period, entries []leaderboard.Entry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM leaderboard_entries WHERE period = $1
	`, period); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leaderboard_entries (period, user_id, score, rank)
			VALUES ($1, $2, $3, $4)
		`, period, e.UserID, e.Score, e.Rank); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Leaderboard(ctx context.Context, period leaderboard.Period) ([]leaderboard.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period, user_id, score, rank FROM leaderboard_entries
		WHERE period = $1
		ORDER BY rank
	`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.Period, &e.UserID, &e.Score, &e.Rank); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- GDPRStore --------------------------------------------------------------

func (s *Store) CreateGDPRRequest(ctx context.Context, r gdpr.Request) (gdpr.Request, error) {
	r.CreatedAt = stampIfZero(r.CreatedAt)
	if r.Status == "" {
		r.Status = gdpr.StatusPending
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO gdpr_requests (user_id, kind, status, detail, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.UserID, r.Kind, r.Status, r.Detail, r.CreatedAt, nullTime(r.ProcessedAt)).Scan(&r.ID)
	if err != nil {
		return gdpr.Request{}, err
	}
	return r, nil
}

func (s *Store) ListGDPRRequests(ctx context.Context, status gdpr.Status) ([]gdpr.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, status, detail, created_at, processed_at
		FROM gdpr_requests
		WHERE status = $1
		ORDER BY id
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []gdpr.Request
	for rows.Next() {
		var r gdpr.Request
		var processed sql.NullTime
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.Status, &r.Detail, &r.CreatedAt, &processed); err != nil {
			return nil, err
		}
		r.ProcessedAt = fromNull(processed)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) MarkGDPRRequest(ctx context.Context, id int64, status gdpr.Status, processedAt time.Time, detail string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE gdpr_requests
		SET status = $2, processed_at = $3, detail = $4
		WHERE id = $1 AND status = $5
	`, id, status, processedAt, detail, gdpr.StatusPending)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM gdpr_requests WHERE id = $1)
		`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperrors.NotFound("gdpr_request_not_found", "no such request")
		}
		return apperrors.Conflict("gdpr_request_terminal", "request already processed")
	}
	return nil
}

func (s *Store) PurgeGDPRRequestsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM gdpr_requests WHERE status = $1 AND processed_at < $2
	`, gdpr.StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- NudgeStore -------------------------------------------------------------

func (s *Store) LastNudgeAt(ctx context.Context, userID int64, kind string) (time.Time, bool, error) {
	var last time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM nudge_log
		WHERE user_id = $1 AND kind = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`, userID, kind).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return last, true, nil
}

func (s *Store) RecordNudge(ctx context.Context, rec notification.NudgeRecord) (notification.NudgeRecord, error) {
	rec.SentAt = stampIfZero(rec.SentAt)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO nudge_log (user_id, kind, sent_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, rec.UserID, rec.Kind, rec.SentAt).Scan(&rec.ID)
	if err != nil {
		return notification.NudgeRecord{}, err
	}
	return rec, nil
}

func (s *Store) PurgeNudgesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM nudge_log WHERE sent_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
