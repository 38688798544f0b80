// Package task holds task records, the assignable slices of an order. The
// core owns the transitions into expired and failed; assignment and
// completion belong to the external task service.
package task

import "time"

// Status is the task lifecycle state. The lifecycle is monotonic through
// pending -> assigned -> (completed | expired | failed).
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusFailed
}

// InFlight reports whether the task is currently held by an assignee.
func (s Status) InFlight() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Task is one unit of work derived from an order.
type Task struct {
	ID          int64
	OrderID     int64
	AssigneeID  int64
	Status      Status
	AssignedAt  time.Time
	ExpiresAt   time.Time
	CompletedAt time.Time
	CreatedAt   time.Time
}
