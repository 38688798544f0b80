// Package badge holds badge definitions and awards. A (user, badge) pair is
// unique; double awarding is a silent no-op at the store.
package badge

import "time"

// Category groups badges for display.
type Category string

const (
	CategoryTasks       Category = "tasks"
	CategoryEarnings    Category = "earnings"
	CategoryStreak      Category = "streak"
	CategoryReferral    Category = "referral"
	CategoryLeaderboard Category = "leaderboard"
)

// Badge is a definition; PredicateID names the pure predicate in the rules
// table that decides whether a user holds it.
type Badge struct {
	ID          int64
	Name        string
	Category    Category
	PredicateID string
}

// UserBadge is an award.
type UserBadge struct {
	UserID    int64
	BadgeID   int64
	AwardedAt time.Time
}
