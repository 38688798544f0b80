// Package user holds the platform user record as seen by the maintenance
// core. Identity fields are created and mutated elsewhere; the core reads
// them and, for data-deletion requests, overwrites the PII subset.
package user

import "time"

// Status is the account lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// User is a platform member. Balance is mutated only through the ledger.
type User struct {
	ID              int64
	Username        string
	Email           string
	FullName        string
	AvatarURL       string
	SessionBlob     string
	AuthSecret      string
	Balance         int64
	Admin           bool
	Status          Status
	DailyStreak     int
	LastDailyReward time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Anonymized carries the opaque placeholder values written over a user's PII
// fields during a data-deletion request.
type Anonymized struct {
	Username string
	Email    string
	FullName string
}

// Referral links a referring user to the user they brought in.
type Referral struct {
	ID         int64
	ReferrerID int64
	ReferredID int64
	AppliedAt  time.Time
}
