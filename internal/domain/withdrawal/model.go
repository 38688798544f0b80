// Package withdrawal holds withdrawal request records. The amount is debited
// from the live balance when the request is created; settlement only flips
// status and, on approval, the hold entry already booked stands.
package withdrawal

import "time"

// Status is the request lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Request is a user's ask to cash out Amount coins. At most one non-terminal
// request exists per user.
type Request struct {
	ID          int64
	UserID      int64
	Amount      int64
	Status      Status
	Suspicious  bool
	RequestedAt time.Time
	ProcessedAt time.Time
	LockedUntil time.Time
}
