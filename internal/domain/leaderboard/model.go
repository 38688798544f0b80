// Package leaderboard holds the per-period ranking rows. The table for a
// period is rebuilt atomically; there is no partial update path.
package leaderboard

import "time"

// Period selects the ranking window.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Window returns the look-back duration for the period.
func (p Period) Window() time.Duration {
	if p == PeriodMonthly {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// Entry is one ranked row. Rank is 1-indexed by descending score.
type Entry struct {
	Period Period
	UserID int64
	Score  int64
	Rank   int
}
