// Package storage defines the persistence capabilities the maintenance core
// consumes. Implementations expose semantic operations, not SQL; every
// conditional transition is predicated on the expected prior status inside
// the operation itself so job handlers stay idempotent.
package storage

import (
	"context"
	"time"

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
)

// CompletionStat counts a user's completed tasks inside a query window.
type CompletionStat struct {
	UserID    int64
	Completed int
}

// WithdrawalChange carries the mutable fields a withdrawal transition may
// set. Zero values leave the stored field untouched; Suspicious is a pointer
// so false can be written explicitly.
type WithdrawalChange struct {
	ProcessedAt time.Time
	LockedUntil time.Time
	Suspicious  *bool
}

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	ListAdmins(ctx context.Context) ([]user.User, error)
	SuspendUser(ctx context.Context, id int64) error
	// AnonymizeUser overwrites the PII fields with the given placeholders and
	// clears session blobs, avatar and auth secrets.
	AnonymizeUser(ctx context.Context, id int64, repl user.Anonymized) error

	CreateReferral(ctx context.Context, r user.Referral) (user.Referral, error)
	CountReferrals(ctx context.Context, referrerID int64) (int, error)
	// ClearReferralLinks nulls the user out of referral rows in both
	// directions without deleting the rows.
	ClearReferralLinks(ctx context.Context, userID int64) error
}

// OrderStore persists engagement orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id int64) (order.Order, error)
	ActiveOrders(ctx context.Context) ([]order.Order, error)
	// CancelOrder transitions active -> cancelled; any other prior status is
	// a conflict.
	CancelOrder(ctx context.Context, id int64) (order.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]order.Order, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id int64) (task.Task, error)
	// ExpireAssignedTasksBefore flips at most batch assigned tasks whose
	// deadline passed to expired and returns them.
	ExpireAssignedTasksBefore(ctx context.Context, cutoff time.Time, batch int) ([]task.Task, error)
	// FailInFlightTasksForOrder flips every assigned or in-progress task of
	// the order to failed and returns them.
	FailInFlightTasksForOrder(ctx context.Context, orderID int64) ([]task.Task, error)
	// CompleteTask transitions assigned|in_progress -> completed; a task
	// already in a terminal state is a conflict.
	CompleteTask(ctx context.Context, id int64, completedAt time.Time) (task.Task, error)
	CompletedTaskCount(ctx context.Context, userID int64) (int, error)
	CompletionsSince(ctx context.Context, userID int64, since time.Time) ([]task.Task, error)
	UsersWithCompletionsSince(ctx context.Context, since time.Time) ([]CompletionStat, error)
	ListTasksByUser(ctx context.Context, userID int64) ([]task.Task, error)
}

// LedgerStore persists the append-only balance trail.
type LedgerStore interface {
	// AppendLedgerAndAdjustBalance books the entry and moves the user's
	// balance in one atomic step under a row-level lock on the user. A
	// resulting negative balance is a validation failure and nothing is
	// written.
	AppendLedgerAndAdjustBalance(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	EntriesByUser(ctx context.Context, userID int64) ([]ledger.Entry, error)
	EarnSumSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	TotalByKind(ctx context.Context, userID int64, kind ledger.Kind) (int64, error)
	EarningsInWindow(ctx context.Context, since time.Time) ([]ledger.UserEarnings, error)
	// VerifyBalance recomputes the entry sum and compares it to the stored
	// balance; a mismatch is a fatal invariant violation.
	VerifyBalance(ctx context.Context, userID int64) error
	// RewriteNotes replaces the note of every entry of the user, stripping
	// identifying strings during anonymization. Amounts and kinds stand.
	RewriteNotes(ctx context.Context, userID int64, note string) error
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	// CreateWithdrawal inserts the request; a second non-terminal request for
	// the same user is a conflict.
	CreateWithdrawal(ctx context.Context, r withdrawal.Request) (withdrawal.Request, error)
	// CreateWithdrawalWithHold inserts the request and books the hold entry
	// against the user's balance in one atomic step. An open request is a
	// conflict and an overdraw is a validation failure; neither outcome
	// leaves a request or an entry behind.
	CreateWithdrawalWithHold(ctx context.Context, r withdrawal.Request, hold ledger.Entry) (withdrawal.Request, error)
	// CancelWithdrawalWithRefund transitions pending -> cancelled and books
	// the compensating refund entry in the same atomic step.
	CancelWithdrawalWithRefund(ctx context.Context, id int64, processedAt time.Time, refund ledger.Entry) (withdrawal.Request, error)
	GetWithdrawal(ctx context.Context, id int64) (withdrawal.Request, error)
	HasOpenWithdrawal(ctx context.Context, userID int64) (bool, error)
	CountWithdrawalsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	PendingWithdrawalsRequestedBefore(ctx context.Context, cutoff time.Time) ([]withdrawal.Request, error)
	PendingWithdrawalsByUser(ctx context.Context, userID int64) ([]withdrawal.Request, error)
	// TransitionWithdrawal moves the request from -> to and applies change;
	// a request not in the expected prior state is a conflict.
	TransitionWithdrawal(ctx context.Context, id int64, from, to withdrawal.Status, change WithdrawalChange) (withdrawal.Request, error)
	ListWithdrawalsByUser(ctx context.Context, userID int64) ([]withdrawal.Request, error)
}

// ForensicsStore persists the device/IP trail.
type ForensicsStore interface {
	AppendDeviceIPLog(ctx context.Context, rec forensics.DeviceIPLog) (forensics.DeviceIPLog, error)
	HasSuspiciousLogSince(ctx context.Context, userID int64, since time.Time) (bool, error)
	DistinctIPsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	DistinctDevicesSince(ctx context.Context, userID int64, since time.Time) (int, error)
	ListDeviceIPLogsByUser(ctx context.Context, userID int64) ([]forensics.DeviceIPLog, error)
	// TruncateLoggedIPs blanks the last octet of every logged IP of the user.
	TruncateLoggedIPs(ctx context.Context, userID int64) error
	PurgeDeviceIPLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// BadgeStore persists badge awards. Definitions live in the rules table.
type BadgeStore interface {
	// AwardBadgeIfMissing inserts the award unless the (user, badge) pair
	// already exists; re-awarding reports false with no error.
	AwardBadgeIfMissing(ctx context.Context, ub badge.UserBadge) (bool, error)
	BadgesByUser(ctx context.Context, userID int64) ([]badge.UserBadge, error)
}

// LeaderboardStore persists the per-period rankings.
type LeaderboardStore interface {
	// ReplaceLeaderboard swaps the full entry set for the period atomically.
	ReplaceLeaderboard(ctx context.Context, period leaderboard.Period, entries []leaderboard.Entry) error
	Leaderboard(ctx context.Context, period leaderboard.Period) ([]leaderboard.Entry, error)
}

// GDPRStore persists data-subject requests.
type GDPRStore interface {
	CreateGDPRRequest(ctx context.Context, r gdpr.Request) (gdpr.Request, error)
	ListGDPRRequests(ctx context.Context, status gdpr.Status) ([]gdpr.Request, error)
	MarkGDPRRequest(ctx context.Context, id int64, status gdpr.Status, processedAt time.Time, detail string) error
	PurgeGDPRRequestsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// NudgeStore persists wellness nudge traces.
type NudgeStore interface {
	LastNudgeAt(ctx context.Context, userID int64, kind string) (time.Time, bool, error)
	RecordNudge(ctx context.Context, rec notification.NudgeRecord) (notification.NudgeRecord, error)
	PurgeNudgesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store aggregates every capability; concrete stores implement all of them.
type Store interface {
	UserStore
	OrderStore
	TaskStore
	LedgerStore
	WithdrawalStore
	ForensicsStore
	BadgeStore
	LeaderboardStore
	GDPRStore
	NudgeStore
}
