// Package notification defines the transient intents the core emits.
// Delivery is the transport layer's problem; the core only enqueues.
package notification

import "time"

// Priority orders delivery urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Intent kinds the core emits.
const (
	KindTaskExpired         = "task_expired"
	KindTaskFailed          = "task_failed"
	KindOrderCancelled      = "order_cancelled"
	KindSecurityAlert       = "security_alert"
	KindWithdrawalPending   = "withdrawal_pending"
	KindWithdrawalLocked    = "withdrawal_locked"
	KindWithdrawalApproved  = "withdrawal_approved"
	KindWithdrawalCancelled = "withdrawal_cancelled"
	KindMentalHealth        = "mental_health"
	KindBadgeEarned         = "badge_earned"
	KindGDPRDataReady       = "gdpr_data_ready"
)

// Intent is one notification request. Payload carries kind-specific context.
type Intent struct {
	UserID   int64
	Kind     string
	Priority Priority
	Title    string
	Body     string
	Payload  map[string]string
}

// NudgeRecord is the persisted trace of a wellness nudge, kept so the
// suppression window survives restarts. Purged after 30 days.
type NudgeRecord struct {
	ID     int64
	UserID int64
	Kind   string
	SentAt time.Time
}
