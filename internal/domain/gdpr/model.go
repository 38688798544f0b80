// Package gdpr holds data-subject request records. Access requests produce a
// machine-readable export; delete requests anonymize PII while retaining the
// financial audit trail.
package gdpr

import "time"

// Kind is the request type.
type Kind string

const (
	KindAccess Kind = "access"
	KindDelete Kind = "delete"
)

// Status is the request lifecycle state. Failed requests are not retried
// automatically.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is one data-subject request. Detail records the failure cause for
// operator review; it is never surfaced to the subject.
type Request struct {
	ID          int64
	UserID      int64
	Kind        Kind
	Status      Status
	Detail      string
	CreatedAt   time.Time
	ProcessedAt time.Time
}
