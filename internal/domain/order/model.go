// Package order holds engagement order records. Orders are created by the
// external order service; the core reads active orders and owns the
// transition to cancelled when the target disappears.
package order

import "time"

// Kind is the engagement action an order requests.
type Kind string

const (
	KindLike    Kind = "like"
	KindFollow  Kind = "follow"
	KindComment Kind = "comment"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Order is a request for TargetCount engagements against TargetURL.
// UnitCost is the coin price the owner paid per slot; the liveness job uses
// it to compute the refund for outstanding slots on cancellation.
type Order struct {
	ID             int64
	OwnerID        int64
	Kind           Kind
	TargetURL      string
	TargetCount    int
	CompletedCount int
	UnitCost       int64
	CommentText    string
	Status         Status
	CreatedAt      time.Time
}

// OutstandingSlots returns the slot count not yet completed.
func (o Order) OutstandingSlots() int {
	if o.CompletedCount >= o.TargetCount {
		return 0
	}
	return o.TargetCount - o.CompletedCount
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
