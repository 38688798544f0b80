// Package ledger holds the append-only balance trail. For every user, the
// sum of entry amounts equals the live balance at every commit boundary.
// Entries are never mutated or deleted; corrections append compensating
// entries.
package ledger

import "time"

// Kind classifies a balance change.
type Kind string

const (
	KindEarn        Kind = "earn"
	KindSpend       Kind = "spend"
	KindWithdraw    Kind = "withdraw"
	KindAdminAdjust Kind = "admin_adjust"
)

// Entry is one immutable balance change. RefTask and RefOrder are zero when
// the entry is not tied to a task or order.
type Entry struct {
	ID        int64
	UserID    int64
	Amount    int64
	Kind      Kind
	RefTask   int64
	RefOrder  int64
	Note      string
	CreatedAt time.Time
}

// UserEarnings summarises a user's earn entries inside a window; the
// leaderboard rebuild ranks by Total with FirstEarn as tie-break.
type UserEarnings struct {
	UserID    int64
	Total     int64
	FirstEarn time.Time
}
